package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByExam retrieves every question of an exam, ordered by subject
// position then order_num. Used to build the answer key.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	return r.list(ctx,
		`SELECT q.id, q.exam_id, q.subject, q.question_text, q.options, q.correct_option, q.order_num
		 FROM questions q
		 JOIN exam_subjects s ON s.exam_id = q.exam_id AND s.name = q.subject
		 WHERE q.exam_id = $1
		 ORDER BY s.position, q.order_num`, examID)
}

// ListBySubject retrieves the ordered questions of one subject.
func (r *QuestionRepository) ListBySubject(ctx context.Context, examID uuid.UUID, subject string) ([]model.Question, error) {
	return r.list(ctx,
		`SELECT id, exam_id, subject, question_text, options, correct_option, order_num
		 FROM questions
		 WHERE exam_id = $1 AND subject = $2
		 ORDER BY order_num`, examID, subject)
}

func (r *QuestionRepository) list(ctx context.Context, query string, args ...any) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Subject, &q.QuestionText, &q.Options, &q.CorrectOption, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (exam_id, subject, question_text, options, correct_option, order_num)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		q.ExamID, q.Subject, q.QuestionText, q.Options, q.CorrectOption, q.OrderNum,
	).Scan(&q.ID)
}
