package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Domain Errors
var (
	ErrNoQuestions      = errors.New("exam has no questions, cannot publish")
	ErrNoSubjects       = errors.New("exam has no subjects, cannot publish")
	ErrExamNotDraft     = errors.New("exam status is not DRAFT")
	ErrExamNotPublished = errors.New("exam status is not PUBLISHED")
	ErrUnknownSubject   = errors.New("subject is not part of this exam")
)

// ExamService handles exam content and its Redis caches: the subject
// outline, one student-facing payload per subject and the answer key.
type ExamService struct {
	exams     ExamStore
	questions QuestionStore
	rdb       *redis.Client
	log       zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(exams ExamStore, questions QuestionStore, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams:     exams,
		questions: questions,
		rdb:       rdb,
		log:       log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.exams.GetByID(ctx, id)
}

// Publish changes exam status to PUBLISHED and caches outline, payloads and
// answer key in Redis.
func (s *ExamService) Publish(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	if err := s.exams.UpdateStatus(ctx, examID, model.ExamStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam published")
	return nil
}

// RefreshCache re-caches a published exam after its questions changed.
func (s *ExamService) RefreshCache(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}
	if exam.Status != model.ExamStatusPublished && exam.Status != model.ExamStatusInProgress {
		return ErrExamNotPublished
	}
	return s.WarmExamCache(ctx, exam)
}

// WarmExamCache loads an exam's subjects and questions from PostgreSQL into Redis.
// Used by Publish, RefreshCache and PrewarmAllCaches.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	subjects, err := s.exams.ListSubjects(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list subjects: %w", err)
	}
	if len(subjects) == 0 {
		return ErrNoSubjects
	}

	questions, err := s.questions.ListByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	outlineJSON, err := json.Marshal(model.ExamOutline{
		ExamID:   exam.ID,
		Title:    exam.Title,
		Subjects: subjects,
	})
	if err != nil {
		return fmt.Errorf("marshal outline: %w", err)
	}

	bySubject := make(map[string][]model.QuestionForStudent, len(subjects))
	answerKey := make(map[string]interface{}, len(questions))
	for _, q := range questions {
		bySubject[q.Subject] = append(bySubject[q.Subject], q.ForStudent())
		answerKey[q.ID.String()] = q.CorrectOption
	}

	examKey := exam.ID.String()
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ExamOutlineKey(examKey), outlineJSON, 0)
	for _, sub := range subjects {
		payloadJSON, err := json.Marshal(model.SubjectPayload{
			ExamID:    exam.ID,
			Subject:   sub.Name,
			Questions: bySubject[sub.Name],
		})
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		pipe.Set(ctx, config.CacheKey.SubjectPayloadKey(examKey, sub.Name), payloadJSON, 0)
	}
	pipe.Del(ctx, config.CacheKey.ExamAnswerKey(examKey))
	pipe.HSet(ctx, config.CacheKey.ExamAnswerKey(examKey), answerKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", examKey).
		Int("subjects", len(subjects)).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.exams.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(exams)).Msg("Prewarming published exams...")

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// GetOutline returns the exam's subject sequence. A cache miss falls back
// to PostgreSQL and writes the result back to Redis.
func (s *ExamService) GetOutline(ctx context.Context, examID uuid.UUID) (*model.ExamOutline, error) {
	key := config.CacheKey.ExamOutlineKey(examID.String())
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var outline model.ExamOutline
		if err := json.Unmarshal(data, &outline); err != nil {
			return nil, fmt.Errorf("unmarshal outline: %w", err)
		}
		return &outline, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get outline: %w", err)
	}

	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	subjects, err := s.exams.ListSubjects(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}

	outline := &model.ExamOutline{ExamID: exam.ID, Title: exam.Title, Subjects: subjects}
	if data, err := json.Marshal(outline); err == nil {
		// Self-heal
		_ = s.rdb.Set(ctx, key, data, 0).Err()
	}
	return outline, nil
}

// GetSubjectQuestions returns the ordered questions of one subject without
// their correct options. A cache miss falls back to PostgreSQL and
// self-heals the subject payload.
func (s *ExamService) GetSubjectQuestions(ctx context.Context, examID uuid.UUID, subject string) ([]model.Question, error) {
	key := config.CacheKey.SubjectPayloadKey(examID.String(), subject)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var payload model.SubjectPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		questions := make([]model.Question, len(payload.Questions))
		for i, q := range payload.Questions {
			questions[i] = model.Question{
				ID:           q.ID,
				ExamID:       examID,
				Subject:      subject,
				QuestionText: q.QuestionText,
				Options:      q.Options,
				OrderNum:     q.OrderNum,
			}
		}
		return questions, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get payload: %w", err)
	}

	questions, err := s.questions.ListBySubject(ctx, examID, subject)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}

	payload := model.SubjectPayload{ExamID: examID, Subject: subject}
	for i := range questions {
		payload.Questions = append(payload.Questions, questions[i].ForStudent())
		questions[i].CorrectOption = ""
	}
	if data, err := json.Marshal(payload); err == nil {
		_ = s.rdb.Set(ctx, key, data, 0).Err()
	}
	return questions, nil
}

// GetAnswerKey retrieves the answer key for grading, rebuilding it from
// PostgreSQL when Redis has lost it.
func (s *ExamService) GetAnswerKey(ctx context.Context, examID uuid.UUID) (map[string]string, error) {
	key := config.CacheKey.ExamAnswerKey(examID.String())
	result, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if len(result) > 0 {
		return result, nil
	}

	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	result = make(map[string]string, len(questions))
	fields := make(map[string]interface{}, len(questions))
	for _, q := range questions {
		result[q.ID.String()] = q.CorrectOption
		fields[q.ID.String()] = q.CorrectOption
	}
	_ = s.rdb.HSet(ctx, key, fields).Err()
	return result, nil
}
