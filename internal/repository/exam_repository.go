package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamRepository handles exam and subject sequence data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, title, scheduled_start, scheduled_end,
	duration_minutes, entry_token, status, created_at, updated_at`

func scanExam(row pgx.Row, e *model.Exam) error {
	return row.Scan(&e.ID, &e.Title, &e.ScheduledStart, &e.ScheduledEnd,
		&e.DurationMinutes, &e.EntryToken, &e.Status, &e.CreatedAt, &e.UpdatedAt)
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	if err := scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id), e); err != nil {
		return nil, err
	}
	return e, nil
}

// ListPublished returns all exams with PUBLISHED status.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams WHERE status = $1
		 ORDER BY created_at DESC`, model.ExamStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := scanExam(rows, &e); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// ListSubjects returns the ordered subject sequence of an exam, each with
// the IDs of its questions in order.
func (r *ExamRepository) ListSubjects(ctx context.Context, examID uuid.UUID) ([]model.Subject, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.name, s.position, s.phase, s.budget_seconds,
		        COALESCE(array_agg(q.id ORDER BY q.order_num) FILTER (WHERE q.id IS NOT NULL), '{}')
		 FROM exam_subjects s
		 LEFT JOIN questions q ON q.exam_id = s.exam_id AND q.subject = s.name
		 WHERE s.exam_id = $1
		 GROUP BY s.exam_id, s.position, s.name, s.phase, s.budget_seconds
		 ORDER BY s.position`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []model.Subject
	for rows.Next() {
		var s model.Subject
		if err := rows.Scan(&s.Name, &s.Position, &s.Phase, &s.BudgetSeconds, &s.QuestionIDs); err != nil {
			return nil, err
		}
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, scheduled_start, scheduled_end, duration_minutes, entry_token, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.ScheduledStart, e.ScheduledEnd, e.DurationMinutes, e.EntryToken, e.Status,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// CreateSubject appends a subject to an exam's sequence.
func (r *ExamRepository) CreateSubject(ctx context.Context, examID uuid.UUID, s model.Subject) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_subjects (exam_id, position, name, phase, budget_seconds)
		 VALUES ($1, $2, $3, $4, $5)`,
		examID, s.Position, s.Name, s.Phase, s.BudgetSeconds)
	return err
}

// UpdateStatus updates an exam's status.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}
