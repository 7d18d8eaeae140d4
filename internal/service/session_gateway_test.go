package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

const testStudent = 42

func newTestGateway(t *testing.T) (*SessionGateway, *fixture, *redis.Client) {
	t.Helper()
	_, client := newTestRedis(t)
	fx := newFixture(model.ExamStatusPublished)
	exams := NewExamService(fx.exams, fx.questions, client, testLogger())
	require.NoError(t, exams.WarmExamCache(context.Background(), fx.exam))
	return NewSessionGateway(exams, fx.sessions, client, proctor.DefaultViolationThreshold, testLogger()), fx, client
}

func subscribeMonitor(t *testing.T, client *redis.Client, examID uuid.UUID) *redis.PubSub {
	t.Helper()
	ctx := context.Background()
	pubsub := client.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
	t.Cleanup(func() { _ = pubsub.Close() })
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)
	return pubsub
}

func nextMonitorEvent(t *testing.T, pubsub *redis.PubSub) MonitorEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var ev MonitorEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
	return ev
}

func TestFetchStatusRequiresJoinedSession(t *testing.T) {
	gw, fx, _ := newTestGateway(t)
	ctx := context.Background()

	_, err := gw.FetchStatus(ctx, fx.exam.ID, testStudent)
	assert.ErrorIs(t, err, ErrNoSession)

	rec, err := fx.sessions.Upsert(ctx, fx.exam.ID, testStudent)
	require.NoError(t, err)

	outline, err := gw.FetchStatus(ctx, fx.exam.ID, testStudent)
	require.NoError(t, err)
	require.NotNil(t, outline.ResultID)
	assert.Equal(t, rec.ID, *outline.ResultID)
	assert.Len(t, outline.Subjects, 2)
}

func TestFetchStatusRejectsCompletedSession(t *testing.T) {
	gw, fx, _ := newTestGateway(t)
	ctx := context.Background()

	_, err := fx.sessions.Upsert(ctx, fx.exam.ID, testStudent)
	require.NoError(t, err)
	fx.sessions.records[liveKey{fx.exam.ID, testStudent}].Status = model.SessionStatusCompleted

	_, err = gw.FetchStatus(ctx, fx.exam.ID, testStudent)
	assert.ErrorIs(t, err, ErrSessionCompleted)
}

func TestFetchStatusRefusesLockedAttempt(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		mark func(t *testing.T, fx *fixture, client *redis.Client)
		want error
	}{
		{
			name: "locked row",
			mark: func(t *testing.T, fx *fixture, _ *redis.Client) {
				fx.sessions.records[liveKey{fx.exam.ID, testStudent}].Locked = true
			},
			want: proctor.ErrAttemptLocked,
		},
		{
			name: "violation counter at threshold",
			mark: func(t *testing.T, fx *fixture, client *redis.Client) {
				key := config.CacheKey.StudentViolationsKey(fx.exam.ID.String(), testStudent)
				require.NoError(t, client.Set(ctx, key, 3, 0).Err())
			},
			want: proctor.ErrAttemptLocked,
		},
		{
			name: "persisted violation count at threshold",
			mark: func(t *testing.T, fx *fixture, _ *redis.Client) {
				fx.sessions.records[liveKey{fx.exam.ID, testStudent}].ViolationCount = 3
			},
			want: proctor.ErrAttemptLocked,
		},
		{
			name: "finalized result",
			mark: func(t *testing.T, fx *fixture, client *redis.Client) {
				key := config.CacheKey.StudentFinalizedKey(fx.exam.ID.String(), testStudent)
				require.NoError(t, client.Set(ctx, key, "{}", 0).Err())
			},
			want: ErrSessionCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, fx, client := newTestGateway(t)
			_, err := fx.sessions.Upsert(ctx, fx.exam.ID, testStudent)
			require.NoError(t, err)
			tt.mark(t, fx, client)

			_, err = gw.FetchStatus(ctx, fx.exam.ID, testStudent)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchStatusCarriesProgress(t *testing.T) {
	gw, fx, client := newTestGateway(t)
	ctx := context.Background()
	examKey := fx.exam.ID.String()
	qid := fx.questions.questions[0].ID

	rec, err := fx.sessions.Upsert(ctx, fx.exam.ID, testStudent)
	require.NoError(t, err)

	outline, err := gw.FetchStatus(ctx, fx.exam.ID, testStudent)
	require.NoError(t, err)
	require.NotNil(t, outline.Progress)
	assert.True(t, rec.StartedAt.Equal(outline.Progress.StartedAt))
	assert.False(t, outline.Progress.Resumed())

	// The start key is healed from the session row.
	cached, err := client.Get(ctx, config.CacheKey.StudentExamSessionStartKey(examKey, testStudent)).Int64()
	require.NoError(t, err)
	assert.Equal(t, rec.StartedAt.Unix(), cached)

	answer := "C"
	require.NoError(t, gw.PersistResponse(ctx, model.ResponseRecord{
		ExamID: fx.exam.ID, StudentID: testStudent, QuestionID: qid, Answer: &answer, Bookmarked: true,
	}))
	require.NoError(t, client.Set(ctx, config.CacheKey.StudentViolationsKey(examKey, testStudent), 2, 0).Err())
	phaseStart := time.Now().Add(-4 * time.Minute).Truncate(time.Millisecond)
	require.NoError(t, gw.RecordProgress(ctx, fx.exam.ID, testStudent, model.PhaseProgress{
		SubjectIndex:   1,
		PhaseStartedAt: phaseStart,
	}))

	outline, err = gw.FetchStatus(ctx, fx.exam.ID, testStudent)
	require.NoError(t, err)
	p := outline.Progress
	require.NotNil(t, p)
	assert.True(t, p.Resumed())
	assert.Equal(t, 1, p.SubjectIndex)
	assert.True(t, phaseStart.Equal(p.PhaseStartedAt))
	assert.Equal(t, 2, p.Violations)
	assert.Equal(t, map[uuid.UUID]string{qid: "C"}, p.Answers)
	assert.Equal(t, []uuid.UUID{qid}, p.Bookmarks)
}

func TestPersistResponseWritesHashesAndQueue(t *testing.T) {
	gw, fx, client := newTestGateway(t)
	ctx := context.Background()
	qid := fx.questions.questions[0].ID
	examKey := fx.exam.ID.String()
	answer := "C"

	require.NoError(t, gw.PersistResponse(ctx, model.ResponseRecord{
		ExamID: fx.exam.ID, StudentID: testStudent, QuestionID: qid, Answer: &answer, Bookmarked: true,
	}))

	got, err := client.HGet(ctx, config.CacheKey.StudentAnswersKey(examKey, testStudent), qid.String()).Result()
	require.NoError(t, err)
	assert.Equal(t, "C", got)
	assert.True(t, client.SIsMember(ctx, config.CacheKey.StudentBookmarksKey(examKey, testStudent), qid.String()).Val())

	raw, err := client.LIndex(ctx, config.WorkerKey.PersistAnswersQueue, 0).Result()
	require.NoError(t, err)
	var job AnswerJob
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	assert.Equal(t, testStudent, job.StudentID)
	assert.Equal(t, qid.String(), job.QID)
	require.NotNil(t, job.Answer)
	assert.Equal(t, "C", *job.Answer)
	assert.True(t, job.Bookmarked)

	// Clearing removes the answer and the bookmark.
	require.NoError(t, gw.PersistResponse(ctx, model.ResponseRecord{
		ExamID: fx.exam.ID, StudentID: testStudent, QuestionID: qid,
	}))
	assert.False(t, client.HExists(ctx, config.CacheKey.StudentAnswersKey(examKey, testStudent), qid.String()).Val())
	assert.False(t, client.SIsMember(ctx, config.CacheKey.StudentBookmarksKey(examKey, testStudent), qid.String()).Val())
	assert.EqualValues(t, 2, client.LLen(ctx, config.WorkerKey.PersistAnswersQueue).Val())
}

func TestLogViolationUpdatesCounterAndNotifiesMonitor(t *testing.T) {
	gw, fx, client := newTestGateway(t)
	ctx := context.Background()
	pubsub := subscribeMonitor(t, client, fx.exam.ID)

	require.NoError(t, gw.LogViolation(ctx, model.ViolationRecord{
		ExamID:     fx.exam.ID,
		SessionID:  uuid.New(),
		StudentID:  testStudent,
		Count:      3,
		Locked:     true,
		RecordedAt: time.Now(),
	}))

	n, err := client.Get(ctx, config.CacheKey.StudentViolationsKey(fx.exam.ID.String(), testStudent)).Int()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.EqualValues(t, 1, client.LLen(ctx, config.WorkerKey.PersistViolationsQueue).Val())

	ev := nextMonitorEvent(t, pubsub)
	assert.Equal(t, MonitorEventViolation, ev.Type)
	assert.Equal(t, testStudent, ev.StudentID)
	assert.Equal(t, 3, ev.Count)
	assert.True(t, ev.Locked)
}

func TestFinalizeGradesOnceAndReplays(t *testing.T) {
	gw, fx, client := newTestGateway(t)
	ctx := context.Background()
	rec, err := fx.sessions.Upsert(ctx, fx.exam.ID, testStudent)
	require.NoError(t, err)

	right, wrong := "B", "A"
	qs := fx.questions.questions
	for i, ans := range []*string{&right, &right, &wrong} {
		require.NoError(t, gw.PersistResponse(ctx, model.ResponseRecord{
			ExamID: fx.exam.ID, StudentID: testStudent, QuestionID: qs[i].ID, Answer: ans,
		}))
	}

	res, err := gw.Finalize(ctx, fx.exam.ID, testStudent)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Score)
	assert.Equal(t, 4, res.TotalQuestions)
	assert.Equal(t, rec.ID, res.ResultID)

	raw, err := client.LIndex(ctx, config.WorkerKey.PersistScoresQueue, 0).Result()
	require.NoError(t, err)
	var job ScoreJob
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	assert.InDelta(t, 50.0, job.Score, 0.001)

	// A late answer does not change the stored result.
	require.NoError(t, gw.PersistResponse(ctx, model.ResponseRecord{
		ExamID: fx.exam.ID, StudentID: testStudent, QuestionID: qs[3].ID, Answer: &right,
	}))
	again, err := gw.Finalize(ctx, fx.exam.ID, testStudent)
	require.NoError(t, err)
	assert.Equal(t, *res, *again)
	assert.EqualValues(t, 1, client.LLen(ctx, config.WorkerKey.PersistScoresQueue).Val())
}

func TestFinalizeWithoutSession(t *testing.T) {
	gw, fx, _ := newTestGateway(t)
	_, err := gw.Finalize(context.Background(), fx.exam.ID, testStudent)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRequestReviewQueuesAndNotifies(t *testing.T) {
	gw, fx, client := newTestGateway(t)
	ctx := context.Background()
	pubsub := subscribeMonitor(t, client, fx.exam.ID)

	require.NoError(t, gw.RequestReview(ctx, model.ReviewRequest{
		ExamID:      fx.exam.ID,
		SessionID:   uuid.New(),
		StudentID:   testStudent,
		Note:        "layar berkedip",
		RequestedAt: time.Now(),
	}))

	raw, err := client.LIndex(ctx, config.WorkerKey.PersistReviewsQueue, 0).Result()
	require.NoError(t, err)
	var req model.ReviewRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	assert.Equal(t, "layar berkedip", req.Note)

	ev := nextMonitorEvent(t, pubsub)
	assert.Equal(t, MonitorEventReviewRequested, ev.Type)
	assert.Equal(t, "layar berkedip", ev.Note)
}

func TestFetchQuestionsServesSubjectPayload(t *testing.T) {
	gw, fx, _ := newTestGateway(t)

	qs, err := gw.FetchQuestions(context.Background(), fx.exam.ID, "Fisika")
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, fx.questions.questions[2].ID, qs[0].ID)
	assert.Empty(t, qs[0].CorrectOption)
}
