package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var errOffline = errors.New("network unreachable")

// fakeClock only moves when told to. Its tickers never fire on their own;
// tests call Tick explicitly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fakeClock) NewTicker(time.Duration) Ticker {
	return &fakeTicker{c: make(chan time.Time)}
}

type fakeTicker struct{ c chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               {}

// fakeGateway records every call. Errors are injected per endpoint.
type fakeGateway struct {
	mu sync.Mutex

	outline   *model.ExamOutline
	questions map[string][]model.Question
	progress  *model.AttemptProgress

	statusErr   error
	fetchErr    error
	persistErr  func(rec model.ResponseRecord) error
	logErr      error
	finalizeErr error
	reviewErr   error

	// finalizeGate, when set, blocks Finalize until closed.
	finalizeGate chan struct{}

	fetchCalls    []string
	persisted     []model.ResponseRecord
	persistCalls  int
	violations    []model.ViolationRecord
	finalizeCalls int
	reviews       []model.ReviewRequest
	recorded      []model.PhaseProgress
	onPersist     func()
}

func newFakeGateway(subjects ...model.Subject) *fakeGateway {
	resultID := uuid.New()
	g := &fakeGateway{
		outline: &model.ExamOutline{
			ExamID:   uuid.New(),
			Title:    "Tryout",
			Subjects: subjects,
			ResultID: &resultID,
		},
		questions: make(map[string][]model.Question),
	}
	for _, s := range subjects {
		qs := make([]model.Question, len(s.QuestionIDs))
		for i, id := range s.QuestionIDs {
			qs[i] = model.Question{
				ID:            id,
				Subject:       s.Name,
				QuestionText:  fmt.Sprintf("%s question %d", s.Name, i+1),
				Options:       []string{"A", "B", "C", "D"},
				CorrectOption: "A",
				OrderNum:      i + 1,
			}
		}
		g.questions[s.Name] = qs
	}
	return g
}

func (g *fakeGateway) FetchStatus(_ context.Context, _ uuid.UUID, _ int) (*model.ExamOutline, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	out := *g.outline
	out.Progress = g.progress
	return &out, nil
}

func (g *fakeGateway) FetchQuestions(_ context.Context, _ uuid.UUID, subject string) ([]model.Question, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls = append(g.fetchCalls, subject)
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return g.questions[subject], nil
}

func (g *fakeGateway) PersistResponse(_ context.Context, rec model.ResponseRecord) error {
	g.mu.Lock()
	g.persistCalls++
	hook := g.onPersist
	fail := g.persistErr
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail != nil {
		if err := fail(rec); err != nil {
			return err
		}
	}

	g.mu.Lock()
	g.persisted = append(g.persisted, rec)
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) LogViolation(_ context.Context, rec model.ViolationRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.violations = append(g.violations, rec)
	return g.logErr
}

func (g *fakeGateway) Finalize(_ context.Context, _ uuid.UUID, _ int) (*model.FinalizeResult, error) {
	g.mu.Lock()
	g.finalizeCalls++
	gate := g.finalizeGate
	g.mu.Unlock()

	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finalizeErr != nil {
		return nil, g.finalizeErr
	}
	total := 0
	for _, qs := range g.questions {
		total += len(qs)
	}
	return &model.FinalizeResult{Score: len(g.persisted), TotalQuestions: total, ResultID: *g.outline.ResultID}, nil
}

func (g *fakeGateway) RequestReview(_ context.Context, req model.ReviewRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reviews = append(g.reviews, req)
	return g.reviewErr
}

func (g *fakeGateway) RecordProgress(_ context.Context, _ uuid.UUID, _ int, p model.PhaseProgress) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recorded = append(g.recorded, p)
	return nil
}

func (g *fakeGateway) lastProgress() (model.PhaseProgress, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.recorded) == 0 {
		return model.PhaseProgress{}, false
	}
	return g.recorded[len(g.recorded)-1], true
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *fakeGateway) counts() (finalize, persist int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finalizeCalls, g.persistCalls
}

func (g *fakeGateway) violationCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.violations)
}

func (g *fakeGateway) reviewCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.reviews)
}

// fakeFullscreen lets a test flip the platform full-screen state.
type fakeFullscreen struct {
	mu      sync.Mutex
	handler func(bool)
	enters  int
	exits   int
}

func (f *fakeFullscreen) OnChange(fn func(bool)) func() {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.handler = nil
		f.mu.Unlock()
	}
}

func (f *fakeFullscreen) Enter() error {
	f.mu.Lock()
	f.enters++
	f.mu.Unlock()
	return nil
}

func (f *fakeFullscreen) Exit() error {
	f.mu.Lock()
	f.exits++
	f.mu.Unlock()
	return nil
}

func (f *fakeFullscreen) exitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exits
}

func (f *fakeFullscreen) set(in bool) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(in)
	}
}

func (f *fakeFullscreen) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

// recorder collects events in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) find(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func subject(name, phase string, budget, questions int) model.Subject {
	ids := make([]uuid.UUID, questions)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return model.Subject{Name: name, Phase: phase, BudgetSeconds: budget, QuestionIDs: ids}
}

func goodPreflight() model.PreflightReport {
	return model.PreflightReport{
		DeviceClass:         "laptop",
		FullscreenSupported: true,
		ViewportWidth:       1366,
		ViewportHeight:      768,
	}
}

func testOptions(clock Clock) Options {
	return Options{
		ViolationThreshold: 3,
		SyncInterval:       time.Hour,
		PersistTimeout:     time.Second,
		SubmitFlushTimeout: time.Second,
		FinalizeTimeout:    time.Second,
		FetchTimeout:       time.Second,
		FetchAttempts:      2,
		FetchBackoff:       0,
		Clock:              clock,
	}
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }
