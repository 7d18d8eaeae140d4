package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamResult combines student data with their session outcome.
type ExamResult struct {
	StudentID      int                 `json:"student_id"`
	Name           string              `json:"name"`
	NISN           string              `json:"nisn"`
	FinalScore     *float64            `json:"score"`
	Status         model.SessionStatus `json:"status"`
	ViolationCount int                 `json:"violation_count"`
	Locked         bool                `json:"locked"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     *time.Time          `json:"finished_at"`
}

// ExamSessionRepository handles persisted exam session rows.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

const sessionColumns = `id, exam_id, student_id, started_at, finished_at, status,
	final_score, violation_count, locked`

// GetByExamAndStudent retrieves the session row of one exam attempt.
func (r *ExamSessionRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.SessionRecord, error) {
	s := &model.SessionRecord{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&s.ID, &s.ExamID, &s.StudentID, &s.StartedAt, &s.FinishedAt, &s.Status,
		&s.FinalScore, &s.ViolationCount, &s.Locked)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Upsert returns the session row for the attempt, creating it on first join.
// The row ID is the result identifier of the attempt.
func (r *ExamSessionRepository) Upsert(ctx context.Context, examID uuid.UUID, studentID int) (*model.SessionRecord, error) {
	s := &model.SessionRecord{}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, student_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_id, student_id) DO UPDATE SET exam_id = EXCLUDED.exam_id
		 RETURNING `+sessionColumns,
		examID, studentID, model.SessionStatusInProgress,
	).Scan(&s.ID, &s.ExamID, &s.StudentID, &s.StartedAt, &s.FinishedAt, &s.Status,
		&s.FinalScore, &s.ViolationCount, &s.Locked)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// RecordViolations stores the highest violation count seen for a session.
func (r *ExamSessionRepository) RecordViolations(ctx context.Context, examID uuid.UUID, studentID, count int, locked bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET violation_count = GREATEST(violation_count, $1), locked = locked OR $2
		 WHERE exam_id = $3 AND student_id = $4`,
		count, locked, examID, studentID)
	return err
}

// ListByExam retrieves every candidate's session outcome for an exam.
func (r *ExamSessionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]ExamResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.name, s.nisn, es.final_score, es.status,
		        es.violation_count, es.locked, es.started_at, es.finished_at
		 FROM exam_sessions es
		 JOIN students s ON es.student_id = s.id
		 WHERE es.exam_id = $1
		 ORDER BY s.name`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ExamResult
	for rows.Next() {
		var res ExamResult
		if err := rows.Scan(&res.StudentID, &res.Name, &res.NISN, &res.FinalScore, &res.Status,
			&res.ViolationCount, &res.Locked, &res.StartedAt, &res.FinishedAt); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
