package service

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func exists(t *testing.T, client *redis.Client, key string) bool {
	t.Helper()
	n, err := client.Exists(context.Background(), key).Result()
	require.NoError(t, err)
	return n == 1
}

func testLogger() zerolog.Logger { return zerolog.Nop() }

type fakeExamStore struct {
	mu       sync.Mutex
	exams    map[uuid.UUID]*model.Exam
	subjects map[uuid.UUID][]model.Subject
	statuses []model.ExamStatus
}

func (f *fakeExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *e
	return &out, nil
}

func (f *fakeExamStore) ListPublished(context.Context) ([]model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Exam
	for _, e := range f.exams {
		if e.Status == model.ExamStatusPublished {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeExamStore) ListSubjects(_ context.Context, examID uuid.UUID) ([]model.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Subject(nil), f.subjects[examID]...), nil
}

func (f *fakeExamStore) UpdateStatus(_ context.Context, id uuid.UUID, status model.ExamStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.exams[id]; ok {
		e.Status = status
	}
	f.statuses = append(f.statuses, status)
	return nil
}

type fakeQuestionStore struct {
	mu        sync.Mutex
	questions []model.Question
	calls     int
}

func (f *fakeQuestionStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out []model.Question
	for _, q := range f.questions {
		if q.ExamID == examID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeQuestionStore) ListBySubject(_ context.Context, examID uuid.UUID, subject string) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out []model.Question
	for _, q := range f.questions {
		if q.ExamID == examID && q.Subject == subject {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeQuestionStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSessionStore struct {
	mu      sync.Mutex
	records map[liveKey]*model.SessionRecord
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{records: make(map[liveKey]*model.SessionRecord)}
}

func (f *fakeSessionStore) GetByExamAndStudent(_ context.Context, examID uuid.UUID, studentID int) (*model.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[liveKey{examID, studentID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *rec
	return &out, nil
}

func (f *fakeSessionStore) Upsert(_ context.Context, examID uuid.UUID, studentID int) (*model.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := liveKey{examID, studentID}
	rec, ok := f.records[key]
	if !ok {
		rec = &model.SessionRecord{
			ID:        uuid.New(),
			ExamID:    examID,
			StudentID: studentID,
			StartedAt: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
			Status:    model.SessionStatusInProgress,
		}
		f.records[key] = rec
	}
	out := *rec
	return &out, nil
}

// fixture is a published exam with two subjects of two questions each.
type fixture struct {
	exam      *model.Exam
	exams     *fakeExamStore
	questions *fakeQuestionStore
	sessions  *fakeSessionStore
}

func newFixture(status model.ExamStatus) *fixture {
	exam := &model.Exam{ID: uuid.New(), Title: "Tryout UTBK", EntryToken: "ABCD12", Status: status}
	subjects := []model.Subject{
		{Name: "Matematika", Position: 1, Phase: "TPS", BudgetSeconds: 600},
		{Name: "Fisika", Position: 2, Phase: "TPS", BudgetSeconds: 0},
	}

	var questions []model.Question
	for si := range subjects {
		for i := 0; i < 2; i++ {
			q := model.Question{
				ID:            uuid.New(),
				ExamID:        exam.ID,
				Subject:       subjects[si].Name,
				QuestionText:  subjects[si].Name + " soal",
				Options:       []string{"A", "B", "C", "D"},
				CorrectOption: "B",
				OrderNum:      i + 1,
			}
			questions = append(questions, q)
			subjects[si].QuestionIDs = append(subjects[si].QuestionIDs, q.ID)
		}
	}

	return &fixture{
		exam: exam,
		exams: &fakeExamStore{
			exams:    map[uuid.UUID]*model.Exam{exam.ID: exam},
			subjects: map[uuid.UUID][]model.Subject{exam.ID: subjects},
		},
		questions: &fakeQuestionStore{questions: questions},
		sessions:  newFakeSessionStore(),
	}
}
