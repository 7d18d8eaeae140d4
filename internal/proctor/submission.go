package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/observability"
)

// SubmissionCoordinator runs the terminal sequence: flush, then finalize.
// It produces one outcome per session; concurrent callers share the call in
// flight and later callers get the cached outcome.
type SubmissionCoordinator struct {
	store           *ResponseStore
	finalizer       Finalizer
	examID          uuid.UUID
	studentID       int
	flushTimeout    time.Duration
	finalizeTimeout time.Duration
	log             zerolog.Logger

	mu       sync.Mutex
	resultID *uuid.UUID
	reason   model.SubmitReason
	inflight chan struct{}
	outcome  *model.SubmissionOutcome
}

// NewSubmissionCoordinator wires the coordinator to its store and endpoint.
func NewSubmissionCoordinator(store *ResponseStore, finalizer Finalizer, examID uuid.UUID, studentID int, flushTimeout, finalizeTimeout time.Duration, log zerolog.Logger) *SubmissionCoordinator {
	return &SubmissionCoordinator{
		store:           store,
		finalizer:       finalizer,
		examID:          examID,
		studentID:       studentID,
		flushTimeout:    flushTimeout,
		finalizeTimeout: finalizeTimeout,
		log:             log.With().Str("component", "submission").Logger(),
	}
}

// SetResultID records the result identifier learned at session creation.
func (c *SubmissionCoordinator) SetResultID(id *uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != nil {
		v := *id
		c.resultID = &v
	}
}

// Outcome returns the cached outcome, if any.
func (c *SubmissionCoordinator) Outcome() (model.SubmissionOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome == nil {
		return model.SubmissionOutcome{}, false
	}
	return *c.outcome, true
}

// InFlight reports whether a submission is currently running.
func (c *SubmissionCoordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}

// Submit flushes the responses and finalizes the attempt. The call is not
// cancellable once started: ctx only carries values.
func (c *SubmissionCoordinator) Submit(ctx context.Context, reason model.SubmitReason) model.SubmissionOutcome {
	c.mu.Lock()
	if c.outcome != nil {
		out := *c.outcome
		c.mu.Unlock()
		return out
	}
	if c.inflight != nil {
		return c.waitLocked()
	}
	c.reason = reason
	c.inflight = make(chan struct{})
	c.mu.Unlock()

	return c.run(context.WithoutCancel(ctx), reason)
}

// Retry re-runs the terminal sequence after a HARD_FAILURE. Any other
// cached outcome is final.
func (c *SubmissionCoordinator) Retry(ctx context.Context) (model.SubmissionOutcome, error) {
	c.mu.Lock()
	if c.inflight != nil {
		return c.waitLocked(), nil
	}
	if c.outcome == nil || c.outcome.Kind != model.OutcomeHardFailure {
		c.mu.Unlock()
		return model.SubmissionOutcome{}, ErrNoRetry
	}
	reason := c.reason
	c.outcome = nil
	c.inflight = make(chan struct{})
	c.mu.Unlock()

	return c.run(context.WithoutCancel(ctx), reason), nil
}

// waitLocked releases c.mu and blocks until the running call resolves.
func (c *SubmissionCoordinator) waitLocked() model.SubmissionOutcome {
	ch := c.inflight
	c.mu.Unlock()
	<-ch

	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.outcome
}

func (c *SubmissionCoordinator) run(ctx context.Context, reason model.SubmitReason) model.SubmissionOutcome {
	start := time.Now()

	flushCtx, cancel := context.WithTimeout(ctx, c.flushTimeout)
	report := c.store.FlushAll(flushCtx)
	cancel()
	if !report.Complete() {
		c.log.Warn().
			Str("reason", string(reason)).
			Int("failed", len(report.Failed)).
			Int("superseded", len(report.Superseded)).
			Msg("Submitting with unsynced responses")
	}

	finCtx, cancel := context.WithTimeout(ctx, c.finalizeTimeout)
	res, err := c.finalizer.Finalize(finCtx, c.examID, c.studentID)
	cancel()

	c.mu.Lock()
	known := c.resultID
	c.mu.Unlock()

	out := model.SubmissionOutcome{Reason: reason}
	switch {
	case err == nil:
		score, total := res.Score, res.TotalQuestions
		out.Kind = model.OutcomeSuccess
		out.Score = &score
		out.Total = &total
		if res.ResultID != uuid.Nil {
			id := res.ResultID
			out.ResultID = &id
		} else {
			out.ResultID = known
		}
	case reason == model.ReasonViolation:
		out.Kind = model.OutcomePartialFailure
		out.ResultID = known
		c.log.Warn().Err(err).Msg("Finalize failed after lock, degrading to partial outcome")
	default:
		out.Kind = model.OutcomeHardFailure
		out.ResultID = known
		c.log.Error().Err(err).Str("reason", string(reason)).Msg("Finalize failed")
	}

	observability.Submissions().WithLabelValues(string(reason), string(out.Kind)).Inc()
	observability.SubmitLatency().Observe(time.Since(start).Seconds())

	c.mu.Lock()
	c.outcome = &out
	close(c.inflight)
	c.inflight = nil
	c.mu.Unlock()

	return out
}
