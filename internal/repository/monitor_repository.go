package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// MonitorStudent is one in-progress candidate on the proctor dashboard.
type MonitorStudent struct {
	StudentID int    `json:"student_id"`
	Name      string `json:"name"`
	NISN      string `json:"nisn"`
	Locked    bool   `json:"locked"`
}

// MonitorRepository provides data access for live exam monitoring.
// It combines PostgreSQL (session rows) and Redis (live answer and violation counts).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// GetInProgressStudents returns every candidate with an active session for the exam.
func (r *MonitorRepository) GetInProgressStudents(ctx context.Context, examID uuid.UUID) ([]MonitorStudent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.name, s.nisn, es.locked
		 FROM exam_sessions es
		 JOIN students s ON s.id = es.student_id
		 WHERE es.exam_id = $1 AND es.status = 'IN_PROGRESS'
		 ORDER BY s.name`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []MonitorStudent
	for rows.Next() {
		var st MonitorStudent
		if err := rows.Scan(&st.StudentID, &st.Name, &st.NISN, &st.Locked); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// GetLiveCounts reads answered and violation counts from Redis for the
// given students, pipelined in one round trip.
func (r *MonitorRepository) GetLiveCounts(ctx context.Context, examID uuid.UUID, studentIDs []int) (answered, violations map[int]int64, err error) {
	answered = make(map[int]int64, len(studentIDs))
	violations = make(map[int]int64, len(studentIDs))
	if len(studentIDs) == 0 {
		return answered, violations, nil
	}

	pipe := r.rdb.Pipeline()
	answerCmds := make([]*redis.IntCmd, len(studentIDs))
	violationCmds := make([]*redis.StringCmd, len(studentIDs))
	for i, sid := range studentIDs {
		answerCmds[i] = pipe.HLen(ctx, config.CacheKey.StudentAnswersKey(examID.String(), sid))
		violationCmds[i] = pipe.Get(ctx, config.CacheKey.StudentViolationsKey(examID.String(), sid))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, err
	}

	for i, sid := range studentIDs {
		answered[sid] = answerCmds[i].Val()
		if n, err := violationCmds[i].Int64(); err == nil {
			violations[sid] = n
		}
	}
	return answered, violations, nil
}

// GetViolationCounts returns the persisted violation count of each candidate.
// Used when Redis has been flushed.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, examID uuid.UUID) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, MAX(count)
		 FROM exam_violations
		 WHERE exam_id = $1
		 GROUP BY student_id`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var sid int
		var count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		counts[sid] = count
	}
	return counts, rows.Err()
}
