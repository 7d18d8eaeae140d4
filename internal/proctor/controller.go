package proctor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/observability"
)

// Options tunes a Controller. Zero values fall back to DefaultOptions.
type Options struct {
	ViolationThreshold int
	SyncInterval       time.Duration
	PersistTimeout     time.Duration
	SubmitFlushTimeout time.Duration
	FinalizeTimeout    time.Duration
	FetchTimeout       time.Duration
	FetchAttempts      int
	FetchBackoff       time.Duration
	TaskQueueSize      int
	AllowedDevices     []string
	Clock              Clock
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		ViolationThreshold: DefaultViolationThreshold,
		SyncInterval:       15 * time.Second,
		PersistTimeout:     5 * time.Second,
		SubmitFlushTimeout: 20 * time.Second,
		FinalizeTimeout:    15 * time.Second,
		FetchTimeout:       10 * time.Second,
		FetchAttempts:      3,
		FetchBackoff:       500 * time.Millisecond,
		TaskQueueSize:      64,
		AllowedDevices:     []string{"desktop", "laptop"},
		Clock:              SystemClock(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ViolationThreshold < 1 {
		o.ViolationThreshold = d.ViolationThreshold
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = d.SyncInterval
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = d.PersistTimeout
	}
	if o.SubmitFlushTimeout <= 0 {
		o.SubmitFlushTimeout = d.SubmitFlushTimeout
	}
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = d.FinalizeTimeout
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = d.FetchTimeout
	}
	if o.FetchAttempts < 1 {
		o.FetchAttempts = d.FetchAttempts
	}
	if o.FetchBackoff < 0 {
		o.FetchBackoff = 0
	}
	if o.TaskQueueSize < 1 {
		o.TaskQueueSize = d.TaskQueueSize
	}
	if len(o.AllowedDevices) == 0 {
		o.AllowedDevices = d.AllowedDevices
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	return o
}

// Dependencies are the collaborators a Controller talks to. Fullscreen and
// Sink may be replaced later with Attach.
type Dependencies struct {
	Gateway    Gateway
	Fullscreen FullscreenMonitor
	Sink       EventSink
	Log        zerolog.Logger
}

// Snapshot is a point-in-time view of a session, used for state recovery.
type Snapshot struct {
	Session          model.ExamSession        `json:"session"`
	QuestionIndex    int                      `json:"question_index"`
	QuestionCount    int                      `json:"question_count"`
	RemainingSeconds int                      `json:"remaining_seconds"`
	Answered         int                      `json:"answered"`
	Unsynced         int                      `json:"unsynced"`
	Tier             Tier                     `json:"tier"`
	Outcome          *model.SubmissionOutcome `json:"outcome,omitempty"`
}

// Controller is the session state machine. All state is guarded by mu;
// network calls and event delivery happen after mu is released.
type Controller struct {
	examID    uuid.UUID
	studentID int
	sessionID uuid.UUID
	opts      Options
	gateway   Gateway
	log       zerolog.Logger

	phase     *PhaseClock
	store     *ResponseStore
	tracker   *ViolationTracker
	submitter *SubmissionCoordinator
	tasks     *TaskQueue

	mu          sync.Mutex
	state       model.SessionState
	starting    bool
	outline     *model.ExamOutline
	nav         *SubjectNavigator
	phaseStart  time.Time
	questions   map[int][]model.Question
	loading     map[int]bool
	restored    map[uuid.UUID]model.Response
	reason      model.SubmitReason
	outcome     *model.SubmissionOutcome
	fullscreen  FullscreenMonitor
	unsubscribe func()
	sink        EventSink
	counted     bool
	closed      bool
	stopSync    chan struct{}

	wg sync.WaitGroup
}

// NewController binds a controller to one exam attempt. It does no I/O.
func NewController(examID uuid.UUID, studentID int, deps Dependencies, opts Options) *Controller {
	opts = opts.withDefaults()
	sessionID := uuid.New()
	log := deps.Log.With().
		Str("component", "session").
		Str("session_id", sessionID.String()).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Logger()

	store := NewResponseStore(deps.Gateway, examID, studentID, opts.PersistTimeout, log)
	c := &Controller{
		examID:     examID,
		studentID:  studentID,
		sessionID:  sessionID,
		opts:       opts,
		gateway:    deps.Gateway,
		log:        log,
		phase:      NewPhaseClock(opts.Clock),
		store:      store,
		tracker:    NewViolationTracker(opts.ViolationThreshold),
		submitter:  NewSubmissionCoordinator(store, deps.Gateway, examID, studentID, opts.SubmitFlushTimeout, opts.FinalizeTimeout, log),
		tasks:      NewTaskQueue(opts.TaskQueueSize, opts.PersistTimeout, log),
		state:      model.StateInitializing,
		questions:  make(map[int][]model.Question),
		loading:    make(map[int]bool),
		fullscreen: deps.Fullscreen,
		sink:       deps.Sink,
	}
	c.phase.OnTimeout(c.onPhaseTimeout)
	return c
}

// SessionID identifies this attempt.
func (c *Controller) SessionID() uuid.UUID { return c.sessionID }

// ExamID is the exam the controller is bound to.
func (c *Controller) ExamID() uuid.UUID { return c.examID }

// StudentID is the candidate the controller is bound to.
func (c *Controller) StudentID() int { return c.studentID }

// State returns the current state.
func (c *Controller) State() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start runs preflight, fetches the session status and the first subject,
// then enters Active. A preflight failure aborts the session. A status or
// question fetch failure leaves it Initializing so the host can retry.
//
// An attempt that already ran on an earlier controller resumes where it
// was: same subject, same phase deadline, its violation count and its
// stored answers.
func (c *Controller) Start(ctx context.Context, report model.PreflightReport) error {
	c.mu.Lock()
	switch {
	case c.state == model.StateAborted || c.closed:
		c.mu.Unlock()
		return ErrSessionClosed
	case c.state != model.StateInitializing || c.starting:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.starting = true
	c.mu.Unlock()

	if err := CheckPreflight(report, c.opts.AllowedDevices); err != nil {
		c.mu.Lock()
		c.starting = false
		c.state = model.StateAborted
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("device_class", report.DeviceClass).Msg("Preflight failed")
		return err
	}

	outline, err := c.gateway.FetchStatus(ctx, c.examID, c.studentID)
	if err == nil && len(outline.Subjects) == 0 {
		err = ErrNoSubjects
	}
	var progress *model.AttemptProgress
	subject := 0
	if err == nil && outline.Progress != nil {
		progress = outline.Progress
		err = c.tracker.Restore(progress.Violations)
		if progress.SubjectIndex > 0 && progress.SubjectIndex < len(outline.Subjects) {
			subject = progress.SubjectIndex
		}
	}
	var first []model.Question
	if err == nil {
		first, err = c.fetchQuestions(ctx, outline.Subjects[subject].Name)
	}
	if err != nil {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		return fmt.Errorf("start session: %w", err)
	}

	c.mu.Lock()
	c.starting = false
	if c.state != model.StateInitializing || c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	c.outline = outline
	c.nav = NewSubjectNavigator(outline.Subjects)
	c.nav.ResumeAt(subject)
	c.restored = restoredResponses(progress)
	c.questions[subject] = first
	c.nav.SetQuestionCount(subject, len(first))
	c.restoreLocked(subject)
	c.state = model.StateActive
	c.counted = true
	stop := make(chan struct{})
	c.stopSync = stop
	c.wg.Add(1)

	phase := c.nav.PhaseStart(subject)
	budget := c.nav.PhaseBudget(subject)
	now := c.opts.Clock.Now()
	c.phaseStart = now
	if progress.Resumed() {
		c.phaseStart = progress.PhaseStartedAt
		if c.phaseStart.IsZero() && phase == 0 {
			c.phaseStart = progress.StartedAt
		}
		if c.phaseStart.IsZero() || c.phaseStart.After(now) {
			c.phaseStart = now
		}
	}
	started := c.phaseStart
	c.recordProgressLocked()
	deadline := started.Add(budget)
	events := []Event{
		c.questionsLoadedLocked(subject),
		{Kind: EventPhaseStarted, State: model.StateActive, Subject: subject, Deadline: &deadline},
	}
	monitor := c.fullscreen
	sink := c.sink
	c.mu.Unlock()

	c.submitter.SetResultID(outline.ResultID)
	observability.ActiveSessions().Inc()

	c.subscribe(monitor)
	go c.syncLoop(stop)

	c.log.Info().
		Int("subjects", len(outline.Subjects)).
		Int("subject", subject).
		Bool("resumed", progress.Resumed()).
		Time("deadline", deadline).
		Msg("Session started")
	dispatch(sink, events)

	// A resumed phase whose deadline already passed times out right away.
	c.mu.Lock()
	live := c.state == model.StateActive || c.state == model.StateWarning
	if live && c.nav.PhaseStart(c.nav.SubjectIndex()) == phase {
		c.phase.StartAt(phase, started, budget)
	}
	c.mu.Unlock()
	return nil
}

// Abort cancels a session that has not reached Active yet.
func (c *Controller) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case model.StateInitializing:
		c.state = model.StateAborted
		return nil
	case model.StateAborted:
		return nil
	default:
		return ErrAlreadyStarted
	}
}

// Answer records option as the answer to question i of the active subject.
func (c *Controller) Answer(i int, option string) (model.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, key, err := c.questionLocked(i)
	if err != nil {
		return model.Response{}, err
	}
	if !q.HasOption(option) {
		return model.Response{}, ErrInvalidOption
	}
	return c.store.Set(key, q.ID, model.ResponsePatch{Answer: &option}), nil
}

// ClearAnswer explicitly blanks question i of the active subject.
func (c *Controller) ClearAnswer(i int) (model.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, key, err := c.questionLocked(i)
	if err != nil {
		return model.Response{}, err
	}
	return c.store.Set(key, q.ID, model.ResponsePatch{ClearAnswer: true}), nil
}

// Bookmark flags or unflags question i of the active subject.
func (c *Controller) Bookmark(i int, on bool) (model.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, key, err := c.questionLocked(i)
	if err != nil {
		return model.Response{}, err
	}
	return c.store.Set(key, q.ID, model.ResponsePatch{Bookmarked: &on}), nil
}

// Next moves to the following question and returns the new index.
func (c *Controller) Next() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.inputLocked(); err != nil {
		return 0, err
	}
	c.nav.Next()
	return c.nav.QuestionIndex(), nil
}

// Previous moves to the preceding question and returns the new index.
func (c *Controller) Previous() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.inputLocked(); err != nil {
		return 0, err
	}
	c.nav.Previous()
	return c.nav.QuestionIndex(), nil
}

// Goto jumps to question i of the active subject.
func (c *Controller) Goto(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.inputLocked(); err != nil {
		return err
	}
	return c.nav.Goto(i)
}

// AdvanceSubject commits the move to the next subject once confirmed. When
// the move ends a phase, the clock restarts with the new phase budget. The
// new subject's questions are fetched before returning; a fetch error is
// returned alongside the committed result and can be recovered with
// LoadQuestions.
func (c *Controller) AdvanceSubject(ctx context.Context, confirmed bool) (AdvanceResult, error) {
	return c.advance(ctx, -1, confirmed)
}

// AdvanceSubjectFrom is AdvanceSubject for a candidate who confirmed while
// looking at subject from. If a phase timeout already moved the session on,
// it returns ErrSubjectMoved instead of skipping the subject the candidate
// has not seen.
func (c *Controller) AdvanceSubjectFrom(ctx context.Context, from int, confirmed bool) (AdvanceResult, error) {
	if from < 0 {
		return AdvanceResult{}, ErrSubjectOutOfRange
	}
	return c.advance(ctx, from, confirmed)
}

func (c *Controller) advance(ctx context.Context, from int, confirmed bool) (AdvanceResult, error) {
	c.mu.Lock()
	if err := c.inputLocked(); err != nil {
		c.mu.Unlock()
		return AdvanceResult{}, err
	}
	if from >= 0 && from != c.nav.SubjectIndex() {
		c.mu.Unlock()
		return AdvanceResult{}, ErrSubjectMoved
	}
	res := c.nav.AdvanceSubject(confirmed)
	if res.Kind != AdvanceAdvanced {
		c.mu.Unlock()
		return res, nil
	}
	events := c.advancedLocked(res)
	sink := c.sink
	c.mu.Unlock()

	dispatch(sink, events)

	if err := c.loadSubject(ctx, res.To); err != nil {
		return res, fmt.Errorf("load questions: %w", err)
	}
	return res, nil
}

// LoadQuestions fetches the active subject's questions if they are missing.
func (c *Controller) LoadQuestions(ctx context.Context) error {
	c.mu.Lock()
	if c.nav == nil {
		c.mu.Unlock()
		return ErrNotActive
	}
	idx := c.nav.SubjectIndex()
	c.mu.Unlock()
	return c.loadSubject(ctx, idx)
}

// Questions returns the loaded questions of the active subject, without
// the answer key.
func (c *Controller) Questions() (int, []model.QuestionForStudent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nav == nil {
		return 0, nil, false
	}
	idx := c.nav.SubjectIndex()
	qs, ok := c.questions[idx]
	if !ok {
		return idx, nil, false
	}
	return idx, forStudent(qs), true
}

// Acknowledge asks the platform to re-enter full-screen. The warning clears
// only when the platform confirms the return.
func (c *Controller) Acknowledge() error {
	c.mu.Lock()
	if c.state != model.StateWarning {
		c.mu.Unlock()
		return ErrNotWarning
	}
	monitor := c.fullscreen
	c.mu.Unlock()

	if monitor == nil {
		return nil
	}
	if err := monitor.Enter(); err != nil {
		c.log.Warn().Err(err).Msg("Full-screen request failed")
		return fmt.Errorf("enter full-screen: %w", err)
	}
	return nil
}

// Submit ends the session on the candidate's request. Only USER_EXIT and
// USER_CONFIRM are accepted. Calling it while a submission is already
// running returns that submission's outcome.
func (c *Controller) Submit(ctx context.Context, reason model.SubmitReason) (model.SubmissionOutcome, error) {
	if reason != model.ReasonUserExit && reason != model.ReasonUserConfirm {
		return model.SubmissionOutcome{}, ErrInvalidReason
	}

	c.mu.Lock()
	switch c.state {
	case model.StateActive:
		events := c.enterSubmittingLocked(reason)
		sink := c.sink
		c.mu.Unlock()
		dispatch(sink, events)
		return c.finish(ctx, reason), nil
	case model.StateSubmitting:
		joined := c.reason
		c.mu.Unlock()
		return c.finish(ctx, joined), nil
	case model.StateCompleted:
		out := *c.outcome
		c.mu.Unlock()
		return out, nil
	case model.StateWarning:
		c.mu.Unlock()
		return model.SubmissionOutcome{}, ErrInputBlocked
	default:
		c.mu.Unlock()
		return model.SubmissionOutcome{}, ErrNotActive
	}
}

// RetrySubmit re-runs a submission that ended in HARD_FAILURE.
func (c *Controller) RetrySubmit(ctx context.Context) (model.SubmissionOutcome, error) {
	c.mu.Lock()
	if c.state != model.StateCompleted || c.outcome == nil || c.outcome.Kind != model.OutcomeHardFailure {
		c.mu.Unlock()
		return model.SubmissionOutcome{}, ErrNoRetry
	}
	events := c.enterSubmittingLocked(c.outcome.Reason)
	c.outcome = nil
	sink := c.sink
	c.mu.Unlock()
	dispatch(sink, events)

	out, err := c.submitter.Retry(ctx)
	if err != nil {
		// The coordinator still holds the previous outcome.
		out, _ = c.submitter.Outcome()
	}
	c.complete(out)
	return out, nil
}

// RequestReview queues a manual proctor review once the violation threshold
// was reached. The lock outlives the Locked state, so a review can also be
// requested while the locked attempt is submitting or after it completed.
// It does not wait for the request to be recorded.
func (c *Controller) RequestReview(note string) error {
	c.mu.Lock()
	if !c.tracker.Locked() {
		c.mu.Unlock()
		return ErrNotLocked
	}
	req := model.ReviewRequest{
		ExamID:      c.examID,
		SessionID:   c.sessionID,
		StudentID:   c.studentID,
		Note:        note,
		RequestedAt: c.opts.Clock.Now(),
	}
	c.mu.Unlock()

	if !c.tasks.Enqueue("review_request", func(ctx context.Context) error {
		return c.gateway.RequestReview(ctx, req)
	}, nil) {
		return ErrSessionClosed
	}
	c.log.Info().Msg("Proctor review requested")
	return nil
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	vs := c.tracker.State()
	snap := Snapshot{
		Session: model.ExamSession{
			SessionID:      c.sessionID,
			ExamID:         c.examID,
			StudentID:      c.studentID,
			State:          c.state,
			ViolationCount: vs.Count,
			Locked:         vs.Tier == TierLocked,
		},
		RemainingSeconds: int(c.phase.Remaining().Round(time.Second) / time.Second),
		Answered:         c.store.Answered(),
		Unsynced:         c.store.Unsynced(),
		Tier:             vs.Tier,
	}
	if c.outline != nil {
		snap.Session.ResultID = c.outline.ResultID
		snap.Session.Subjects = c.outline.Subjects
	}
	if c.nav != nil {
		snap.Session.ActiveSubjectIndex = c.nav.SubjectIndex()
		snap.Session.PhaseDeadline = c.phase.Deadline()
		snap.QuestionIndex = c.nav.QuestionIndex()
		snap.QuestionCount = c.nav.QuestionCount(c.nav.SubjectIndex())
	}
	if c.outcome != nil {
		out := *c.outcome
		snap.Outcome = &out
	}
	return snap
}

// Responses returns a copy of the buffered responses.
func (c *Controller) Responses() map[model.ResponseKey]model.Response {
	return c.store.Snapshot()
}

// Violations returns the recorded full-screen exits.
func (c *Controller) Violations() []model.ViolationEvent {
	return c.tracker.Events()
}

// Attach replaces the full-screen monitor and event sink, typically after
// the candidate reconnects. A live session asks the new monitor to enter
// full-screen.
func (c *Controller) Attach(monitor FullscreenMonitor, sink EventSink) {
	c.mu.Lock()
	old := c.unsubscribe
	c.unsubscribe = nil
	c.fullscreen = monitor
	c.sink = sink
	live := c.state == model.StateActive || c.state == model.StateWarning
	c.mu.Unlock()

	if old != nil {
		old()
	}
	if live {
		c.subscribe(monitor)
	}
}

// Detach drops the monitor and sink if they are still the attached ones.
func (c *Controller) Detach(monitor FullscreenMonitor) {
	c.mu.Lock()
	if c.fullscreen != monitor {
		c.mu.Unlock()
		return
	}
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.fullscreen = nil
	c.sink = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Done reports whether the session reached a terminal state.
func (c *Controller) Done() bool {
	return c.State().Terminal()
}

// Close releases timers and background goroutines. Responses still pending
// get one last flush. Close is safe to call more than once.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.stopSyncLocked()
	c.releaseLocked()
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	c.phase.Stop()

	if c.store.Unsynced() > 0 {
		report := c.store.FlushAll(ctx)
		c.log.Info().Int("synced", len(report.Synced)).Int("failed", len(report.Failed)).Msg("Final flush on close")
	}
	c.tasks.Close(ctx)
	c.wg.Wait()
}

func (c *Controller) subscribe(monitor FullscreenMonitor) {
	if monitor == nil {
		return
	}
	unsub := monitor.OnChange(func(in bool) {
		c.onFullscreenChange(monitor, in)
	})

	c.mu.Lock()
	if c.fullscreen != monitor || c.closed {
		c.mu.Unlock()
		unsub()
		return
	}
	c.unsubscribe = unsub
	c.mu.Unlock()

	if err := monitor.Enter(); err != nil {
		c.log.Warn().Err(err).Msg("Full-screen request failed")
	}
}

func (c *Controller) onFullscreenChange(monitor FullscreenMonitor, in bool) {
	c.mu.Lock()
	if monitor != c.fullscreen || c.closed {
		c.mu.Unlock()
		return
	}

	var events []Event
	if in {
		if c.state == model.StateWarning {
			c.state = model.StateActive
			events = append(events, Event{Kind: EventWarningCleared, State: c.state})
		}
		sink := c.sink
		c.mu.Unlock()
		dispatch(sink, events)
		return
	}

	if c.state != model.StateActive && c.state != model.StateWarning {
		c.mu.Unlock()
		return
	}
	ev, effects, ok := c.tracker.RecordExit(c.opts.Clock.Now())
	if !ok {
		c.mu.Unlock()
		return
	}

	locked := false
	for _, eff := range effects {
		switch e := eff.(type) {
		case WarningEffect:
			c.state = model.StateWarning
			events = append(events, Event{Kind: EventWarning, State: c.state, Count: e.Count, Remaining: e.Remaining})
		case LockEffect:
			c.state = model.StateLocked
			c.reason = model.ReasonViolation
			locked = true
			events = append(events, Event{Kind: EventLocked, State: c.state, Count: e.Count})
		}
	}
	tier := c.tracker.State().Tier
	sink := c.sink
	if locked {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	observability.Violations().WithLabelValues(string(tier)).Inc()
	c.logViolation(ev, locked)
	c.log.Warn().Int("count", ev.Sequence).Bool("locked", locked).Msg("Full-screen exit recorded")
	dispatch(sink, events)

	if locked {
		go func() {
			defer c.wg.Done()
			c.submitLocked()
		}()
	}
}

// submitLocked drives the automatic Locked to Submitting transition.
func (c *Controller) submitLocked() {
	c.mu.Lock()
	if c.state != model.StateLocked {
		c.mu.Unlock()
		return
	}
	events := c.enterSubmittingLocked(model.ReasonViolation)
	sink := c.sink
	c.mu.Unlock()

	dispatch(sink, events)
	c.finish(context.Background(), model.ReasonViolation)
}

func (c *Controller) logViolation(ev model.ViolationEvent, locked bool) {
	rec := model.ViolationRecord{
		ExamID:     c.examID,
		SessionID:  c.sessionID,
		StudentID:  c.studentID,
		Count:      ev.Sequence,
		Locked:     locked,
		RecordedAt: ev.Timestamp,
	}
	seq := ev.Sequence
	c.tasks.Enqueue("violation_log", func(ctx context.Context) error {
		return c.gateway.LogViolation(ctx, rec)
	}, func(error) {
		c.tracker.MarkReported(seq)
	})
}

// onPhaseTimeout ends phase. A timeout that arrives after the candidate
// already left that phase is ignored.
func (c *Controller) onPhaseTimeout(phase int) {
	c.mu.Lock()
	if c.closed || (c.state != model.StateActive && c.state != model.StateWarning) {
		c.mu.Unlock()
		return
	}
	if current := c.nav.PhaseStart(c.nav.SubjectIndex()); current != phase {
		c.mu.Unlock()
		c.log.Debug().Int("phase", phase).Int("current", current).Msg("Ignoring timeout of a finished phase")
		return
	}

	if next, ok := c.nav.NextPhaseStart(); ok {
		res, _ := c.nav.ForceAdvance(next)
		events := c.advancedLocked(res)
		sink := c.sink
		c.wg.Add(1)
		c.mu.Unlock()

		c.log.Info().Int("from", res.From).Int("to", res.To).Msg("Phase time expired, advancing")
		dispatch(sink, events)

		go func() {
			defer c.wg.Done()
			if err := c.loadSubject(context.Background(), res.To); err != nil {
				c.log.Error().Err(err).Int("subject", res.To).Msg("Failed to load questions after phase timeout")
			}
		}()
		return
	}

	events := c.enterSubmittingLocked(model.ReasonTimeout)
	sink := c.sink
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Info().Msg("Exam time expired, submitting")
	dispatch(sink, events)

	go func() {
		defer c.wg.Done()
		c.finish(context.Background(), model.ReasonTimeout)
	}()
}

func (c *Controller) enterSubmittingLocked(reason model.SubmitReason) []Event {
	c.state = model.StateSubmitting
	c.reason = reason
	return []Event{{Kind: EventSubmitting, State: c.state, Reason: reason}}
}

// finish runs the coordinator and completes the session. Every caller gets
// the same outcome; only the first one moves the state.
func (c *Controller) finish(ctx context.Context, reason model.SubmitReason) model.SubmissionOutcome {
	out := c.submitter.Submit(ctx, reason)
	c.complete(out)
	return out
}

func (c *Controller) complete(out model.SubmissionOutcome) {
	c.mu.Lock()
	if c.state != model.StateSubmitting {
		c.mu.Unlock()
		return
	}
	c.state = model.StateCompleted
	c.outcome = &out
	c.stopSyncLocked()
	c.releaseLocked()
	sink := c.sink
	monitor := c.fullscreen
	c.mu.Unlock()

	c.phase.Stop()
	if monitor != nil {
		if err := monitor.Exit(); err != nil {
			c.log.Warn().Err(err).Msg("Full-screen release failed")
		}
	}
	c.log.Info().
		Str("reason", string(out.Reason)).
		Str("outcome", string(out.Kind)).
		Msg("Session completed")
	dispatch(sink, []Event{{Kind: EventCompleted, State: model.StateCompleted, Outcome: &out, Reason: out.Reason}})
}

func (c *Controller) releaseLocked() {
	if c.counted {
		c.counted = false
		observability.ActiveSessions().Dec()
	}
}

func (c *Controller) stopSyncLocked() {
	if c.stopSync != nil {
		close(c.stopSync)
		c.stopSync = nil
	}
}

func (c *Controller) syncLoop(stop <-chan struct{}) {
	defer c.wg.Done()

	ticker := c.opts.Clock.NewTicker(c.opts.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if c.store.Unsynced() == 0 {
				continue
			}
			report := c.store.FlushAll(context.Background())
			c.log.Debug().
				Int("synced", len(report.Synced)).
				Int("failed", len(report.Failed)).
				Msg("Background sync")
		}
	}
}

// advancedLocked finishes a committed subject move. A move into a new phase
// restarts the clock here, under mu, so the clock always counts the phase
// the navigator is in.
func (c *Controller) advancedLocked(res AdvanceResult) []Event {
	adv := res
	events := []Event{{Kind: EventSubjectAdvanced, State: c.state, Subject: res.To, Advance: &adv}}
	if qs, ok := c.questions[res.To]; ok {
		events = append(events, Event{Kind: EventQuestionsLoaded, State: c.state, Subject: res.To, Questions: forStudent(qs)})
	}
	if res.PhaseEnded {
		c.phaseStart = c.opts.Clock.Now()
		c.phase.StartAt(res.To, c.phaseStart, c.nav.PhaseBudget(res.To))
		events = append(events, c.phaseStarted(res.To, c.state))
	}
	c.recordProgressLocked()
	return events
}

// recordProgressLocked queues the active subject and its phase start.
// Queueing under mu keeps the writes in the order the moves happened.
func (c *Controller) recordProgressLocked() {
	p := model.PhaseProgress{SubjectIndex: c.nav.SubjectIndex(), PhaseStartedAt: c.phaseStart}
	c.tasks.Enqueue("progress", func(ctx context.Context) error {
		return c.gateway.RecordProgress(ctx, c.examID, c.studentID, p)
	}, nil)
}

// restoreLocked loads the stored responses of subject idx into the store.
func (c *Controller) restoreLocked(idx int) {
	if len(c.restored) == 0 {
		return
	}
	for i, q := range c.questions[idx] {
		if r, ok := c.restored[q.ID]; ok {
			c.store.Restore(model.ResponseKey{Subject: idx, Question: i}, r)
		}
	}
}

func restoredResponses(p *model.AttemptProgress) map[uuid.UUID]model.Response {
	if p == nil || (len(p.Answers) == 0 && len(p.Bookmarks) == 0) {
		return nil
	}
	out := make(map[uuid.UUID]model.Response, len(p.Answers))
	for id, answer := range p.Answers {
		a := answer
		out[id] = model.Response{QuestionID: id, Answer: &a}
	}
	for _, id := range p.Bookmarks {
		r := out[id]
		r.QuestionID = id
		r.Bookmarked = true
		out[id] = r
	}
	return out
}

func (c *Controller) phaseStarted(subject int, state model.SessionState) Event {
	deadline := c.phase.Deadline()
	return Event{Kind: EventPhaseStarted, State: state, Subject: subject, Deadline: &deadline}
}

func (c *Controller) questionsLoadedLocked(idx int) Event {
	return Event{Kind: EventQuestionsLoaded, State: c.state, Subject: idx, Questions: forStudent(c.questions[idx])}
}

func (c *Controller) loadSubject(ctx context.Context, idx int) error {
	c.mu.Lock()
	if _, ok := c.questions[idx]; ok || c.loading[idx] {
		c.mu.Unlock()
		return nil
	}
	c.loading[idx] = true
	name := c.outline.Subjects[idx].Name
	c.mu.Unlock()

	qs, err := c.fetchQuestions(ctx, name)

	c.mu.Lock()
	delete(c.loading, idx)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.questions[idx] = qs
	c.nav.SetQuestionCount(idx, len(qs))
	c.restoreLocked(idx)
	events := []Event{c.questionsLoadedLocked(idx)}
	sink := c.sink
	c.mu.Unlock()

	dispatch(sink, events)
	return nil
}

func (c *Controller) fetchQuestions(ctx context.Context, subject string) ([]model.Question, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.FetchAttempts; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
		qs, err := c.gateway.FetchQuestions(fetchCtx, c.examID, subject)
		cancel()
		if err == nil {
			return qs, nil
		}
		lastErr = err
		c.log.Warn().Err(err).Str("subject", subject).Int("attempt", attempt).Msg("Question fetch failed")

		if attempt == c.opts.FetchAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.opts.FetchBackoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

func (c *Controller) inputLocked() error {
	switch c.state {
	case model.StateActive:
		return nil
	case model.StateWarning:
		return ErrInputBlocked
	default:
		return ErrNotActive
	}
}

func (c *Controller) questionLocked(i int) (model.Question, model.ResponseKey, error) {
	if err := c.inputLocked(); err != nil {
		return model.Question{}, model.ResponseKey{}, err
	}
	subject := c.nav.SubjectIndex()
	qs, ok := c.questions[subject]
	if !ok {
		return model.Question{}, model.ResponseKey{}, ErrQuestionsNotReady
	}
	if i < 0 || i >= len(qs) {
		return model.Question{}, model.ResponseKey{}, ErrSubjectOutOfRange
	}
	return qs[i], model.ResponseKey{Subject: subject, Question: i}, nil
}

func forStudent(qs []model.Question) []model.QuestionForStudent {
	out := make([]model.QuestionForStudent, len(qs))
	for i, q := range qs {
		out[i] = q.ForStudent()
	}
	return out
}
