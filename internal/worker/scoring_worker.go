package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// ScoringWorker writes finalized scores to exam_sessions and clears the
// live Redis state of graded attempts.
type ScoringWorker struct {
	pool  *pgxpool.Pool
	rdb   *redis.Client
	batch *batcher[service.ScoreJob]
}

func NewScoringWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ScoringWorker {
	w := &ScoringWorker{pool: pool, rdb: rdb}
	w.batch = newBatcher[service.ScoreJob](rdb, config.WorkerKey.PersistScoresQueue,
		log.With().Str("component", "scoring_worker").Logger())
	w.batch.bulk = w.bulkUpdateScores
	w.batch.single = w.persistSingle
	w.batch.persisted = w.clearLiveState
	return w
}

func (w *ScoringWorker) Start(ctx context.Context) {
	w.batch.Run(ctx)
}

func parseScoreExam(j service.ScoreJob) (uuid.UUID, error) {
	id, err := uuid.Parse(j.ExamID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: exam id %q", errMalformed, j.ExamID)
	}
	return id, nil
}

// bulkUpdateScores completes every session of the batch with one
// UNNEST-driven UPDATE. Completed sessions are never rescored.
func (w *ScoringWorker) bulkUpdateScores(ctx context.Context, jobs []service.ScoreJob) error {
	n := len(jobs)
	examIDs := make([]uuid.UUID, 0, n)
	students := make([]int, 0, n)
	scores := make([]float64, 0, n)

	for _, j := range jobs {
		examID, err := parseScoreExam(j)
		if err != nil {
			return err
		}
		examIDs = append(examIDs, examID)
		students = append(students, j.StudentID)
		scores = append(scores, j.Score)
	}

	_, err := w.pool.Exec(ctx, `
		UPDATE exam_sessions AS s
		SET status = 'COMPLETED',
		    final_score = t.score,
		    finished_at = $4
		FROM UNNEST($1::uuid[], $2::int[], $3::float8[]) AS t (exam_id, student_id, score)
		WHERE s.exam_id = t.exam_id
		  AND s.student_id = t.student_id
		  AND s.status <> 'COMPLETED'`,
		examIDs, students, scores, time.Now())
	return err
}

func (w *ScoringWorker) persistSingle(ctx context.Context, j service.ScoreJob) error {
	examID, err := parseScoreExam(j)
	if err != nil {
		return err
	}
	_, err = w.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = 'COMPLETED', final_score = $1, finished_at = NOW()
		 WHERE exam_id = $2 AND student_id = $3 AND status <> 'COMPLETED'`,
		j.Score, examID, j.StudentID,
	)
	return err
}

// clearLiveState drops the answer, bookmark and violation buffers of
// graded attempts. The finalized result stays until it expires so a late
// finalize call still replays it.
func (w *ScoringWorker) clearLiveState(ctx context.Context, jobs []service.ScoreJob) {
	pipe := w.rdb.Pipeline()
	for _, j := range jobs {
		pipe.Del(ctx,
			config.CacheKey.StudentAnswersKey(j.ExamID, j.StudentID),
			config.CacheKey.StudentBookmarksKey(j.ExamID, j.StudentID),
			config.CacheKey.StudentViolationsKey(j.ExamID, j.StudentID),
			config.CacheKey.StudentExamSessionStartKey(j.ExamID, j.StudentID),
			config.CacheKey.StudentProgressKey(j.ExamID, j.StudentID),
			config.CacheKey.StudentActiveExamKey(j.StudentID),
		)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.batch.log.Warn().Err(err).Int("count", len(jobs)).Msg("Failed to clear live state of graded attempts")
	}
}
