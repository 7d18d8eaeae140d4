package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

var (
	ErrExamNotAvailable  = errors.New("exam is not available for joining")
	ErrInvalidEntryToken = errors.New("invalid entry token")
	ErrNoLiveSession     = errors.New("no live session for this exam")
)

type liveKey struct {
	examID    uuid.UUID
	studentID int
}

// ExamSessionService joins students to exams and owns the live session
// controllers. A controller outlives the socket that drives it so a
// reconnecting candidate resumes the same attempt.
type ExamSessionService struct {
	exams    ExamStore
	sessions SessionStore
	gateway  proctor.Gateway
	rdb      *redis.Client
	opts     proctor.Options
	log      zerolog.Logger

	mu   sync.Mutex
	live map[liveKey]*proctor.Controller
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	exams ExamStore,
	sessions SessionStore,
	gateway proctor.Gateway,
	rdb *redis.Client,
	opts proctor.Options,
	log zerolog.Logger,
) *ExamSessionService {
	return &ExamSessionService{
		exams:    exams,
		sessions: sessions,
		gateway:  gateway,
		rdb:      rdb,
		opts:     opts,
		log:      log.With().Str("component", "exam_session_service").Logger(),
		live:     make(map[liveKey]*proctor.Controller),
	}
}

// JoinExam validates the entry token and creates the session row for the
// student. Joining again returns the existing row.
func (s *ExamSessionService) JoinExam(ctx context.Context, examID uuid.UUID, studentID int, entryToken string) (*model.SessionRecord, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotAvailable
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	if exam.Status != model.ExamStatusPublished && exam.Status != model.ExamStatusInProgress {
		return nil, ErrExamNotAvailable
	}
	if exam.EntryToken != entryToken {
		return nil, ErrInvalidEntryToken
	}

	rec, err := s.sessions.Upsert(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if rec.Status == model.SessionStatusCompleted {
		return rec, ErrSessionCompleted
	}
	if rec.Locked {
		return rec, proctor.ErrAttemptLocked
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.StudentExamSessionStartKey(examID.String(), studentID), rec.StartedAt.Unix(), 0)
	pipe.Set(ctx, config.CacheKey.StudentActiveExamKey(studentID), examID.String(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		// The gateway falls back to the session row.
		s.log.Warn().Err(err).Int("student_id", studentID).Msg("Failed to cache session start")
	}

	if err := publishMonitorEvent(ctx, s.rdb, examID, MonitorEvent{Type: MonitorEventJoined, StudentID: studentID}); err != nil {
		s.log.Warn().Err(err).Msg("Monitor publish failed")
	}
	return rec, nil
}

// VerifyActiveSession checks that a student has an IN_PROGRESS session for
// the exam that is neither graded nor locked.
func (s *ExamSessionService) VerifyActiveSession(ctx context.Context, examID uuid.UUID, studentID int) error {
	sess, err := s.sessions.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoSession
		}
		return fmt.Errorf("no active session: %w", err)
	}
	if sess.Status == model.SessionStatusCompleted {
		return ErrSessionCompleted
	}

	violations, finalized, err := attemptMarkers(ctx, s.rdb, examID.String(), studentID)
	if err != nil {
		return err
	}
	return checkAttemptOpen(sess, violations, finalized, s.opts.ViolationThreshold)
}

// Acquire returns the live controller of the attempt, creating one when
// none exists or the previous one was aborted before the exam began.
func (s *ExamSessionService) Acquire(examID uuid.UUID, studentID int) *proctor.Controller {
	key := liveKey{examID: examID, studentID: studentID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.live[key]; ok {
		if c.State() != model.StateAborted {
			return c
		}
		go c.Close(context.Background())
	}

	c := proctor.NewController(examID, studentID, proctor.Dependencies{
		Gateway: s.gateway,
		Log:     s.log,
	}, s.opts)
	s.live[key] = c
	return c
}

// Lookup returns the live controller of the attempt, if any.
func (s *ExamSessionService) Lookup(examID uuid.UUID, studentID int) (*proctor.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.live[liveKey{examID: examID, studentID: studentID}]
	return c, ok
}

// GetExamState returns the live session view used to resume after a reload.
func (s *ExamSessionService) GetExamState(examID uuid.UUID, studentID int) (*proctor.Snapshot, error) {
	c, ok := s.Lookup(examID, studentID)
	if !ok {
		return nil, ErrNoLiveSession
	}
	snap := c.Snapshot()
	return &snap, nil
}

// Release drops the controller of a finished attempt.
func (s *ExamSessionService) Release(ctx context.Context, examID uuid.UUID, studentID int) {
	key := liveKey{examID: examID, studentID: studentID}

	s.mu.Lock()
	c, ok := s.live[key]
	if !ok || !c.Done() {
		s.mu.Unlock()
		return
	}
	delete(s.live, key)
	s.mu.Unlock()

	c.Close(ctx)
}

// LiveByState counts held controllers per session state.
func (s *ExamSessionService) LiveByState() map[model.SessionState]int {
	s.mu.Lock()
	all := make([]*proctor.Controller, 0, len(s.live))
	for _, c := range s.live {
		all = append(all, c)
	}
	s.mu.Unlock()

	out := make(map[model.SessionState]int)
	for _, c := range all {
		out[c.State()]++
	}
	return out
}

// Sweep closes and drops every finished controller. It returns how many were removed.
func (s *ExamSessionService) Sweep(ctx context.Context) int {
	s.mu.Lock()
	var done []*proctor.Controller
	for key, c := range s.live {
		if c.Done() {
			done = append(done, c)
			delete(s.live, key)
		}
	}
	s.mu.Unlock()

	for _, c := range done {
		c.Close(ctx)
	}
	return len(done)
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (s *ExamSessionService) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				s.log.Debug().Int("count", n).Msg("Swept finished sessions")
			}
		}
	}
}

// Shutdown closes every live controller, flushing their pending responses.
func (s *ExamSessionService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	all := make([]*proctor.Controller, 0, len(s.live))
	for key, c := range s.live {
		all = append(all, c)
		delete(s.live, key)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range all {
		wg.Add(1)
		go func(c *proctor.Controller) {
			defer wg.Done()
			c.Close(ctx)
		}(c)
	}
	wg.Wait()
	s.log.Info().Int("count", len(all)).Msg("Live sessions closed")
}
