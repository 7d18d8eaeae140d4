package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ReviewRepository handles proctor review requests.
type ReviewRepository struct {
	pool *pgxpool.Pool
}

// NewReviewRepository creates a new ReviewRepository.
func NewReviewRepository(pool *pgxpool.Pool) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

// Create stores a review request.
func (r *ReviewRepository) Create(ctx context.Context, req model.ReviewRequest) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO proctor_reviews (exam_id, session_id, student_id, note, status, requested_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		req.ExamID, req.SessionID, req.StudentID, req.Note, model.ReviewStatusPending, req.RequestedAt,
	).Scan(&id)
	return id, err
}

// ListByExam returns the reviews of an exam with the given status, oldest first.
func (r *ReviewRepository) ListByExam(ctx context.Context, examID uuid.UUID, status model.ReviewStatus) ([]model.ProctorReview, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, session_id, student_id, note, status, requested_at
		 FROM proctor_reviews
		 WHERE exam_id = $1 AND status = $2
		 ORDER BY requested_at`, examID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []model.ProctorReview
	for rows.Next() {
		var rv model.ProctorReview
		if err := rows.Scan(&rv.ID, &rv.ExamID, &rv.SessionID, &rv.StudentID, &rv.Note, &rv.Status, &rv.RequestedAt); err != nil {
			return nil, err
		}
		reviews = append(reviews, rv)
	}
	return reviews, rows.Err()
}

// UpdateStatus resolves a review. It reports false if no row matched.
func (r *ReviewRepository) UpdateStatus(ctx context.Context, examID uuid.UUID, id int64, status model.ReviewStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE proctor_reviews SET status = $1 WHERE id = $2 AND exam_id = $3`,
		status, id, examID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
