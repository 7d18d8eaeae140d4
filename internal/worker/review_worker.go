package worker

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// ReviewWorker stores queued proctor review requests one row at a time so
// each stored request is logged with its id.
type ReviewWorker struct {
	reviews *repository.ReviewRepository
	batch   *batcher[model.ReviewRequest]
}

func NewReviewWorker(reviews *repository.ReviewRepository, rdb *redis.Client, log zerolog.Logger) *ReviewWorker {
	w := &ReviewWorker{reviews: reviews}
	w.batch = newBatcher[model.ReviewRequest](rdb, config.WorkerKey.PersistReviewsQueue,
		log.With().Str("component", "review_worker").Logger())
	w.batch.single = w.store
	return w
}

func (w *ReviewWorker) Start(ctx context.Context) {
	w.batch.Run(ctx)
}

func (w *ReviewWorker) store(ctx context.Context, req model.ReviewRequest) error {
	id, err := w.reviews.Create(ctx, req)
	if err != nil {
		return err
	}
	w.batch.log.Info().
		Int64("review_id", id).
		Int("student_id", req.StudentID).
		Str("exam_id", req.ExamID.String()).
		Msg("Proctor review stored")
	return nil
}
