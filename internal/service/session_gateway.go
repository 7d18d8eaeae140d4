package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

var (
	ErrNoSession        = errors.New("student has not joined this exam")
	ErrSessionCompleted = errors.New("exam session is already completed")
)

// finalizedTTL bounds how long a finalized result stays replayable.
const finalizedTTL = 24 * time.Hour

const (
	progressSubjectField = "subject"
	progressPhaseField   = "phase_started_at"
)

// AnswerJob is the persist_answers_queue payload.
type AnswerJob struct {
	StudentID  int     `json:"student_id"`
	ExamID     string  `json:"exam_id"`
	QID        string  `json:"q_id"`
	Answer     *string `json:"answer"`
	Bookmarked bool    `json:"bookmarked"`
}

// ScoreJob is the persist_scores_queue payload. Score is a percentage.
type ScoreJob struct {
	StudentID int     `json:"student_id"`
	ExamID    string  `json:"exam_id"`
	Score     float64 `json:"score"`
	Correct   int     `json:"correct"`
	Total     int     `json:"total"`
}

// SessionGateway is the remote side of a proctored session: Redis is the
// fast lane, the persistence queues carry everything to PostgreSQL.
type SessionGateway struct {
	exams     *ExamService
	sessions  SessionStore
	rdb       *redis.Client
	threshold int
	log       zerolog.Logger
}

var _ proctor.Gateway = (*SessionGateway)(nil)

// NewSessionGateway creates a new SessionGateway. threshold is the
// violation count that locks an attempt for good.
func NewSessionGateway(exams *ExamService, sessions SessionStore, rdb *redis.Client, threshold int, log zerolog.Logger) *SessionGateway {
	return &SessionGateway{
		exams:     exams,
		sessions:  sessions,
		rdb:       rdb,
		threshold: threshold,
		log:       log.With().Str("component", "session_gateway").Logger(),
	}
}

// FetchStatus returns the subject sequence, the session row ID as result ID
// and the progress the attempt made so far. Graded and locked attempts are
// refused so a new controller can never reopen them.
func (g *SessionGateway) FetchStatus(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamOutline, error) {
	rec, err := g.sessions.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	progress, finalized, err := g.loadProgress(ctx, examID, rec)
	if err != nil {
		return nil, err
	}
	if err := checkAttemptOpen(rec, progress.Violations, finalized, g.threshold); err != nil {
		return nil, err
	}

	outline, err := g.exams.GetOutline(ctx, examID)
	if err != nil {
		return nil, err
	}

	out := *outline
	resultID := rec.ID
	out.ResultID = &resultID
	out.Progress = progress
	return &out, nil
}

// RecordProgress stores the active subject and the start of its phase.
func (g *SessionGateway) RecordProgress(ctx context.Context, examID uuid.UUID, studentID int, p model.PhaseProgress) error {
	key := config.CacheKey.StudentProgressKey(examID.String(), studentID)
	err := g.rdb.HSet(ctx, key,
		progressSubjectField, p.SubjectIndex,
		progressPhaseField, p.PhaseStartedAt.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	return nil
}

// loadProgress reads everything a running attempt keeps in Redis. The start
// time falls back to the session row and heals the cache.
func (g *SessionGateway) loadProgress(ctx context.Context, examID uuid.UUID, rec *model.SessionRecord) (*model.AttemptProgress, bool, error) {
	examKey := examID.String()
	studentID := rec.StudentID
	startKey := config.CacheKey.StudentExamSessionStartKey(examKey, studentID)

	pipe := g.rdb.Pipeline()
	startCmd := pipe.Get(ctx, startKey)
	phaseCmd := pipe.HGetAll(ctx, config.CacheKey.StudentProgressKey(examKey, studentID))
	violationsCmd := pipe.Get(ctx, config.CacheKey.StudentViolationsKey(examKey, studentID))
	answersCmd := pipe.HGetAll(ctx, config.CacheKey.StudentAnswersKey(examKey, studentID))
	bookmarksCmd := pipe.SMembers(ctx, config.CacheKey.StudentBookmarksKey(examKey, studentID))
	finalizedCmd := pipe.Exists(ctx, config.CacheKey.StudentFinalizedKey(examKey, studentID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("load progress: %w", err)
	}

	p := &model.AttemptProgress{StartedAt: rec.StartedAt}
	if unix, err := startCmd.Int64(); err == nil {
		p.StartedAt = time.Unix(unix, 0)
	} else if !rec.StartedAt.IsZero() {
		_ = g.rdb.Set(ctx, startKey, rec.StartedAt.Unix(), 0).Err()
	}

	phase := phaseCmd.Val()
	if v, err := strconv.Atoi(phase[progressSubjectField]); err == nil && v > 0 {
		p.SubjectIndex = v
	}
	if ms, err := strconv.ParseInt(phase[progressPhaseField], 10, 64); err == nil && ms > 0 {
		p.PhaseStartedAt = time.UnixMilli(ms)
	}

	p.Violations, _ = violationsCmd.Int()
	p.Violations = max(p.Violations, rec.ViolationCount)

	for qid, answer := range answersCmd.Val() {
		id, err := uuid.Parse(qid)
		if err != nil {
			continue
		}
		if p.Answers == nil {
			p.Answers = make(map[uuid.UUID]string)
		}
		p.Answers[id] = answer
	}
	for _, qid := range bookmarksCmd.Val() {
		if id, err := uuid.Parse(qid); err == nil {
			p.Bookmarks = append(p.Bookmarks, id)
		}
	}
	return p, finalizedCmd.Val() > 0, nil
}

// FetchQuestions returns one subject's questions, answers stripped.
func (g *SessionGateway) FetchQuestions(ctx context.Context, examID uuid.UUID, subject string) ([]model.Question, error) {
	return g.exams.GetSubjectQuestions(ctx, examID, subject)
}

// PersistResponse writes the response to the student's Redis hashes and
// queues it for the autosave worker. A nil answer clears the field.
func (g *SessionGateway) PersistResponse(ctx context.Context, rec model.ResponseRecord) error {
	examKey := rec.ExamID.String()
	qid := rec.QuestionID.String()
	answersKey := config.CacheKey.StudentAnswersKey(examKey, rec.StudentID)
	bookmarksKey := config.CacheKey.StudentBookmarksKey(examKey, rec.StudentID)

	job, err := json.Marshal(AnswerJob{
		StudentID:  rec.StudentID,
		ExamID:     examKey,
		QID:        qid,
		Answer:     rec.Answer,
		Bookmarked: rec.Bookmarked,
	})
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	pipe := g.rdb.TxPipeline()
	if rec.Answer != nil {
		pipe.HSet(ctx, answersKey, qid, *rec.Answer)
	} else {
		pipe.HDel(ctx, answersKey, qid)
	}
	if rec.Bookmarked {
		pipe.SAdd(ctx, bookmarksKey, qid)
	} else {
		pipe.SRem(ctx, bookmarksKey, qid)
	}
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, job)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persist response: %w", err)
	}
	return nil
}

// LogViolation updates the live violation counter, queues the record and
// notifies the exam monitor.
func (g *SessionGateway) LogViolation(ctx context.Context, rec model.ViolationRecord) error {
	examKey := rec.ExamID.String()
	job, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}

	pipe := g.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.StudentViolationsKey(examKey, rec.StudentID), rec.Count, 0)
	pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("log violation: %w", err)
	}

	g.publish(ctx, rec.ExamID, MonitorEvent{
		Type:      MonitorEventViolation,
		StudentID: rec.StudentID,
		Count:     rec.Count,
		Locked:    rec.Locked,
	})
	return nil
}

// Finalize grades the student's Redis answers against the answer key and
// queues the score. Repeat calls return the first result.
func (g *SessionGateway) Finalize(ctx context.Context, examID uuid.UUID, studentID int) (*model.FinalizeResult, error) {
	examKey := examID.String()
	finalizedKey := config.CacheKey.StudentFinalizedKey(examKey, studentID)

	if res, err := g.storedResult(ctx, finalizedKey); err != nil || res != nil {
		return res, err
	}

	rec, err := g.sessions.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	answerKey, err := g.exams.GetAnswerKey(ctx, examID)
	if err != nil {
		return nil, err
	}
	answers, err := g.rdb.HGetAll(ctx, config.CacheKey.StudentAnswersKey(examKey, studentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get student answers: %w", err)
	}

	correct := 0
	for qID, want := range answerKey {
		if got, ok := answers[qID]; ok && got == want {
			correct++
		}
	}
	result := &model.FinalizeResult{
		Score:          correct,
		TotalQuestions: len(answerKey),
		ResultID:       rec.ID,
	}

	stored, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	won, err := g.rdb.SetNX(ctx, finalizedKey, stored, finalizedTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("store result: %w", err)
	}
	if !won {
		// A concurrent finalize got there first.
		return g.storedResult(ctx, finalizedKey)
	}

	var score float64
	if result.TotalQuestions > 0 {
		score = float64(correct) / float64(result.TotalQuestions) * 100
	}
	job, _ := json.Marshal(ScoreJob{
		StudentID: studentID,
		ExamID:    examKey,
		Score:     score,
		Correct:   correct,
		Total:     result.TotalQuestions,
	})
	if err := g.rdb.RPush(ctx, config.WorkerKey.PersistScoresQueue, job).Err(); err != nil {
		g.rdb.Del(ctx, finalizedKey)
		return nil, fmt.Errorf("queue score: %w", err)
	}

	g.log.Info().
		Int("student_id", studentID).
		Str("exam_id", examKey).
		Int("correct", correct).
		Int("total", result.TotalQuestions).
		Msg("Exam finalized and graded")

	g.publish(ctx, examID, MonitorEvent{
		Type:      MonitorEventSubmitted,
		StudentID: studentID,
		Score:     &score,
	})
	return result, nil
}

// RequestReview queues a proctor review request and notifies the monitor.
func (g *SessionGateway) RequestReview(ctx context.Context, req model.ReviewRequest) error {
	job, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal review: %w", err)
	}
	if err := g.rdb.RPush(ctx, config.WorkerKey.PersistReviewsQueue, job).Err(); err != nil {
		return fmt.Errorf("queue review: %w", err)
	}

	g.publish(ctx, req.ExamID, MonitorEvent{
		Type:      MonitorEventReviewRequested,
		StudentID: req.StudentID,
		Note:      req.Note,
	})
	return nil
}

func (g *SessionGateway) storedResult(ctx context.Context, key string) (*model.FinalizeResult, error) {
	data, err := g.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get finalized result: %w", err)
	}
	var res model.FinalizeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal finalized result: %w", err)
	}
	return &res, nil
}

func (g *SessionGateway) publish(ctx context.Context, examID uuid.UUID, ev MonitorEvent) {
	if err := publishMonitorEvent(ctx, g.rdb, examID, ev); err != nil {
		g.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("Monitor publish failed")
	}
}
