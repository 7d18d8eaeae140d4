package proctor

import (
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// DefaultViolationThreshold is the number of full-screen exits that locks a session.
const DefaultViolationThreshold = 3

// Tier is the escalation level of a session.
type Tier string

const (
	TierClear  Tier = "CLEAR"
	TierWarned Tier = "WARNED"
	TierLocked Tier = "LOCKED"
)

// ViolationState is the tagged escalation state. Count is the number of
// exits recorded so far.
type ViolationState struct {
	Tier  Tier `json:"tier"`
	Count int  `json:"count"`
}

// Effect is an action the caller must perform after a transition.
type Effect interface {
	effect()
}

// WarningEffect asks the host to show a blocking warning. Remaining is the
// number of further exits tolerated before the lock.
type WarningEffect struct {
	Count     int
	Remaining int
}

// LockEffect reports that the threshold was reached.
type LockEffect struct {
	Count int
}

func (WarningEffect) effect() {}
func (LockEffect) effect()    {}

// Transition applies one full-screen exit to s. A locked state is returned
// unchanged with no effects.
func Transition(s ViolationState, threshold int) (ViolationState, []Effect) {
	if threshold < 1 {
		threshold = 1
	}
	if s.Tier == TierLocked {
		return s, nil
	}

	next := ViolationState{Count: s.Count + 1}
	if next.Count >= threshold {
		next.Tier = TierLocked
		return next, []Effect{LockEffect{Count: next.Count}}
	}
	next.Tier = TierWarned
	return next, []Effect{WarningEffect{Count: next.Count, Remaining: threshold - next.Count}}
}

// ViolationTracker counts exits and is the only authority on the lock.
// Escalation is decided from the in-memory count; logging is tracked per
// event through MarkReported and never gates a transition.
type ViolationTracker struct {
	threshold int

	mu     sync.Mutex
	state  ViolationState
	events []model.ViolationEvent
}

// NewViolationTracker returns a tracker in the CLEAR tier.
func NewViolationTracker(threshold int) *ViolationTracker {
	if threshold < 1 {
		threshold = DefaultViolationThreshold
	}
	return &ViolationTracker{
		threshold: threshold,
		state:     ViolationState{Tier: TierClear},
	}
}

// Threshold returns the configured lock threshold.
func (t *ViolationTracker) Threshold() int { return t.threshold }

// RecordExit counts one exit observed at ts. When the tracker is already
// locked it returns ok=false and no effects.
func (t *ViolationTracker) RecordExit(ts time.Time) (model.ViolationEvent, []Effect, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next, effects := Transition(t.state, t.threshold)
	if len(effects) == 0 {
		return model.ViolationEvent{}, nil, false
	}
	t.state = next

	ev := model.ViolationEvent{Sequence: next.Count, Timestamp: ts}
	t.events = append(t.events, ev)
	return ev, effects, true
}

// Restore seeds the count of an attempt resumed on a new controller. The
// restored events carry no timestamp and count as reported. A count at or
// past the threshold is refused.
func (t *ViolationTracker) Restore(count int) error {
	if count <= 0 {
		return nil
	}
	if count >= t.threshold {
		return ErrAttemptLocked
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if count <= t.state.Count {
		return nil
	}
	for seq := t.state.Count + 1; seq <= count; seq++ {
		t.events = append(t.events, model.ViolationEvent{Sequence: seq, Reported: true})
	}
	t.state = ViolationState{Tier: TierWarned, Count: count}
	return nil
}

// MarkReported flips Reported on the event with the given sequence number.
func (t *ViolationTracker) MarkReported(seq int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seq >= 1 && seq <= len(t.events) {
		t.events[seq-1].Reported = true
	}
}

// State returns the current escalation state.
func (t *ViolationTracker) State() ViolationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Locked reports whether the threshold has been reached.
func (t *ViolationTracker) Locked() bool {
	return t.State().Tier == TierLocked
}

// Events returns a copy of the recorded events in sequence order.
func (t *ViolationTracker) Events() []model.ViolationEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]model.ViolationEvent, len(t.events))
	copy(out, t.events)
	return out
}
