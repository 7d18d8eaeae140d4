package proctor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionAtThreshold(t *testing.T) {
	s := ViolationState{Tier: TierClear}

	s, effects := Transition(s, 3)
	assert.Equal(t, ViolationState{Tier: TierWarned, Count: 1}, s)
	assert.Equal(t, []Effect{WarningEffect{Count: 1, Remaining: 2}}, effects)

	s, effects = Transition(s, 3)
	assert.Equal(t, ViolationState{Tier: TierWarned, Count: 2}, s)
	assert.Equal(t, []Effect{WarningEffect{Count: 2, Remaining: 1}}, effects)

	s, effects = Transition(s, 3)
	assert.Equal(t, ViolationState{Tier: TierLocked, Count: 3}, s)
	assert.Equal(t, []Effect{LockEffect{Count: 3}}, effects)

	locked := s
	s, effects = Transition(s, 3)
	assert.Equal(t, locked, s)
	assert.Empty(t, effects)
}

func TestTransitionThresholdOneLocksImmediately(t *testing.T) {
	s, effects := Transition(ViolationState{Tier: TierClear}, 1)
	assert.Equal(t, TierLocked, s.Tier)
	assert.Equal(t, []Effect{LockEffect{Count: 1}}, effects)
}

func TestTrackerLockIsIdempotent(t *testing.T) {
	tr := NewViolationTracker(3)
	now := time.Now()

	locks := 0
	for i := 0; i < 6; i++ {
		_, effects, _ := tr.RecordExit(now)
		for _, e := range effects {
			if _, ok := e.(LockEffect); ok {
				locks++
			}
		}
	}

	assert.Equal(t, 1, locks)
	assert.True(t, tr.Locked())
	assert.Equal(t, 3, tr.State().Count)
	assert.Len(t, tr.Events(), 3)
}

func TestTrackerMarkReported(t *testing.T) {
	tr := NewViolationTracker(3)
	ev, _, ok := tr.RecordExit(time.Now())
	require.True(t, ok)
	_, _, _ = tr.RecordExit(time.Now())

	tr.MarkReported(ev.Sequence)
	tr.MarkReported(42)

	events := tr.Events()
	require.Len(t, events, 2)
	assert.True(t, events[0].Reported)
	assert.False(t, events[1].Reported)
	assert.Equal(t, 2, events[1].Sequence)
}

func TestTrackerRestoreCarriesCount(t *testing.T) {
	tr := NewViolationTracker(3)
	require.NoError(t, tr.Restore(2))
	assert.Equal(t, ViolationState{Tier: TierWarned, Count: 2}, tr.State())
	require.Len(t, tr.Events(), 2)
	assert.True(t, tr.Events()[1].Reported)

	// Restoring again is a no-op.
	require.NoError(t, tr.Restore(1))
	assert.Equal(t, 2, tr.State().Count)

	ev, effects, ok := tr.RecordExit(time.Now())
	require.True(t, ok)
	assert.Equal(t, 3, ev.Sequence)
	assert.Equal(t, []Effect{LockEffect{Count: 3}}, effects)
	tr.MarkReported(3)
	assert.True(t, tr.Events()[2].Reported)
}

func TestTrackerRestoreRefusesLockedCount(t *testing.T) {
	tr := NewViolationTracker(3)
	assert.ErrorIs(t, tr.Restore(3), ErrAttemptLocked)
	assert.Equal(t, TierClear, tr.State().Tier)
}
