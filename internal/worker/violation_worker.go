package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// ViolationWorker batches persist_violations_queue into exam_violations and
// keeps the violation count of each session row current.
type ViolationWorker struct {
	pool     *pgxpool.Pool
	sessions *repository.ExamSessionRepository
	batch    *batcher[model.ViolationRecord]
}

func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, sessions *repository.ExamSessionRepository, log zerolog.Logger) *ViolationWorker {
	w := &ViolationWorker{pool: pool, sessions: sessions}
	w.batch = newBatcher[model.ViolationRecord](rdb, config.WorkerKey.PersistViolationsQueue,
		log.With().Str("component", "violation_worker").Logger())
	w.batch.bulk = w.bulkInsert
	w.batch.single = w.insertOne
	return w
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.batch.Run(ctx)
}

// bulkInsert COPYs the event rows, then raises the session counters. The
// event rows are the record; a failed counter update is only logged since
// the monitor falls back to the events.
func (w *ViolationWorker) bulkInsert(ctx context.Context, recs []model.ViolationRecord) error {
	rows := make([][]interface{}, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []interface{}{r.ExamID, r.SessionID, r.StudentID, r.Count, r.Locked, r.RecordedAt})
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"exam_violations"},
		[]string{"exam_id", "session_id", "student_id", "count", "locked", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return err
	}

	if err := w.updateSessions(ctx, recs); err != nil {
		w.batch.log.Warn().Err(err).Msg("Session violation count update failed")
	}
	return nil
}

// updateSessions raises violation_count and sets locked on the session rows.
func (w *ViolationWorker) updateSessions(ctx context.Context, recs []model.ViolationRecord) error {
	n := len(recs)
	examIDs := make([]uuid.UUID, 0, n)
	students := make([]int, 0, n)
	counts := make([]int, 0, n)
	locks := make([]bool, 0, n)
	for _, r := range recs {
		examIDs = append(examIDs, r.ExamID)
		students = append(students, r.StudentID)
		counts = append(counts, r.Count)
		locks = append(locks, r.Locked)
	}

	_, err := w.pool.Exec(ctx, `
		UPDATE exam_sessions AS s
		SET violation_count = GREATEST(s.violation_count, t.count),
		    locked = s.locked OR t.locked
		FROM (
			SELECT exam_id, student_id, MAX(count) AS count, BOOL_OR(locked) AS locked
			FROM UNNEST($1::uuid[], $2::int[], $3::int[], $4::bool[])
			     AS u (exam_id, student_id, count, locked)
			GROUP BY exam_id, student_id
		) AS t
		WHERE s.exam_id = t.exam_id AND s.student_id = t.student_id`,
		examIDs, students, counts, locks)
	return err
}

func (w *ViolationWorker) insertOne(ctx context.Context, r model.ViolationRecord) error {
	_, err := w.pool.Exec(ctx,
		`INSERT INTO exam_violations (exam_id, session_id, student_id, count, locked, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ExamID, r.SessionID, r.StudentID, r.Count, r.Locked, r.RecordedAt,
	)
	if err != nil {
		return err
	}
	if err := w.sessions.RecordViolations(ctx, r.ExamID, r.StudentID, r.Count, r.Locked); err != nil {
		w.batch.log.Warn().Err(err).Int("student_id", r.StudentID).Msg("Session violation count update failed")
	}
	return nil
}
