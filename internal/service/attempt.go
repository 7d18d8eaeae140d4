package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// attemptMarkers reads the integrity markers a running attempt leaves in
// Redis: the violation counter and the finalized result.
func attemptMarkers(ctx context.Context, rdb *redis.Client, examKey string, studentID int) (int, bool, error) {
	pipe := rdb.Pipeline()
	violations := pipe.Get(ctx, config.CacheKey.StudentViolationsKey(examKey, studentID))
	finalized := pipe.Exists(ctx, config.CacheKey.StudentFinalizedKey(examKey, studentID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, false, fmt.Errorf("read attempt markers: %w", err)
	}
	count, _ := violations.Int()
	return count, finalized.Val() > 0, nil
}

// checkAttemptOpen refuses an attempt that must never run again: one that
// was graded, or one that reached the violation threshold. violations is
// the higher of the live counter and the persisted one.
func checkAttemptOpen(rec *model.SessionRecord, violations int, finalized bool, threshold int) error {
	if threshold < 1 {
		threshold = proctor.DefaultViolationThreshold
	}
	switch {
	case rec.Status == model.SessionStatusCompleted || finalized:
		return ErrSessionCompleted
	case rec.Locked || max(violations, rec.ViolationCount) >= threshold:
		return proctor.ErrAttemptLocked
	}
	return nil
}
