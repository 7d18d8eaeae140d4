package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// AutosaveWorker consumes persist_answers_queue and UPSERTs responses to PostgreSQL.
type AutosaveWorker struct {
	pool  *pgxpool.Pool
	batch *batcher[service.AnswerJob]
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	w := &AutosaveWorker{pool: pool}
	w.batch = newBatcher[service.AnswerJob](rdb, config.WorkerKey.PersistAnswersQueue,
		log.With().Str("component", "autosave_worker").Logger())
	w.batch.bulk = w.bulkUpsert
	w.batch.single = w.upsertOne
	return w
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.batch.Run(ctx)
}

type answerKey struct {
	exam     uuid.UUID
	student  int
	question uuid.UUID
}

// latestAnswers keeps the last job per question. A newer write for the same
// question always lands later in the queue, so last write wins.
func latestAnswers(jobs []service.AnswerJob) (keys []answerKey, latest map[answerKey]service.AnswerJob, err error) {
	latest = make(map[answerKey]service.AnswerJob, len(jobs))
	for _, j := range jobs {
		k, err := parseAnswerKey(j)
		if err != nil {
			return nil, nil, err
		}
		if _, seen := latest[k]; !seen {
			keys = append(keys, k)
		}
		latest[k] = j
	}
	return keys, latest, nil
}

func parseAnswerKey(j service.AnswerJob) (answerKey, error) {
	examID, err := uuid.Parse(j.ExamID)
	if err != nil {
		return answerKey{}, fmt.Errorf("%w: exam id %q", errMalformed, j.ExamID)
	}
	questionID, err := uuid.Parse(j.QID)
	if err != nil {
		return answerKey{}, fmt.Errorf("%w: question id %q", errMalformed, j.QID)
	}
	return answerKey{exam: examID, student: j.StudentID, question: questionID}, nil
}

func (w *AutosaveWorker) bulkUpsert(ctx context.Context, jobs []service.AnswerJob) error {
	keys, latest, err := latestAnswers(jobs)
	if err != nil {
		// The per-item path drops the bad job.
		return err
	}

	n := len(keys)
	examIDs := make([]uuid.UUID, 0, n)
	students := make([]int, 0, n)
	questions := make([]uuid.UUID, 0, n)
	answers := make([]*string, 0, n)
	bookmarks := make([]bool, 0, n)
	for _, k := range keys {
		j := latest[k]
		examIDs = append(examIDs, k.exam)
		students = append(students, k.student)
		questions = append(questions, k.question)
		answers = append(answers, j.Answer)
		bookmarks = append(bookmarks, j.Bookmarked)
	}

	_, err = w.pool.Exec(ctx, `
		INSERT INTO student_answers (exam_id, student_id, question_id, answer, bookmarked)
		SELECT * FROM UNNEST($1::uuid[], $2::int[], $3::uuid[], $4::text[], $5::bool[])
		ON CONFLICT (exam_id, student_id, question_id) DO UPDATE
		SET answer = EXCLUDED.answer, bookmarked = EXCLUDED.bookmarked, updated_at = NOW()`,
		examIDs, students, questions, answers, bookmarks)
	return err
}

func (w *AutosaveWorker) upsertOne(ctx context.Context, j service.AnswerJob) error {
	k, err := parseAnswerKey(j)
	if err != nil {
		return err
	}
	_, err = w.pool.Exec(ctx,
		`INSERT INTO student_answers (exam_id, student_id, question_id, answer, bookmarked)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (exam_id, student_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, bookmarked = EXCLUDED.bookmarked, updated_at = NOW()`,
		k.exam, k.student, k.question, j.Answer, j.Bookmarked,
	)
	return err
}
