package proctor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseClockFiresOnceAfterSuspend(t *testing.T) {
	clock := newFakeClock()
	pc := NewPhaseClock(clock)
	var fired atomic.Int32
	pc.OnTimeout(func(int) { fired.Add(1) })

	pc.Start(0, 5*time.Second)
	defer pc.Stop()

	clock.Advance(2 * time.Second)
	assert.False(t, pc.Tick())
	assert.Equal(t, 3*time.Second, pc.Remaining())

	// Host suspended: no ticks for far longer than the budget.
	clock.Advance(40 * time.Second)
	assert.True(t, pc.Tick())
	assert.False(t, pc.Tick())
	clock.Advance(time.Second)
	assert.False(t, pc.Tick())

	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, time.Duration(0), pc.Remaining())
	assert.Equal(t, 5*time.Second, pc.Elapsed())
	assert.True(t, pc.Expired())
}

func TestPhaseClockBudgetMeasuredFromStart(t *testing.T) {
	clock := newFakeClock()
	pc := NewPhaseClock(clock)
	var fired atomic.Int32
	pc.OnTimeout(func(int) { fired.Add(1) })

	// Preflight delay before Start must not count.
	clock.Advance(time.Minute)
	pc.Start(0, 5*time.Second)
	defer pc.Stop()

	assert.Equal(t, 5*time.Second, pc.Remaining())
	assert.Equal(t, clock.Now().Add(5*time.Second), pc.Deadline())

	clock.Advance(4 * time.Second)
	assert.False(t, pc.Tick())
	clock.Advance(time.Second)
	assert.True(t, pc.Tick())
	assert.Equal(t, int32(1), fired.Load())
}

func TestPhaseClockRestartGetsFreshTimeout(t *testing.T) {
	clock := newFakeClock()
	pc := NewPhaseClock(clock)
	var fired atomic.Int32
	pc.OnTimeout(func(int) { fired.Add(1) })

	pc.Start(0, time.Second)
	clock.Advance(time.Second)
	require.True(t, pc.Tick())

	pc.Start(0, 2*time.Second)
	defer pc.Stop()
	assert.False(t, pc.Expired())
	assert.Equal(t, 2*time.Second, pc.Remaining())

	clock.Advance(2 * time.Second)
	assert.True(t, pc.Tick())
	assert.Equal(t, int32(2), fired.Load())
}

func TestPhaseClockStopDoesNotFire(t *testing.T) {
	clock := newFakeClock()
	pc := NewPhaseClock(clock)
	var fired atomic.Int32
	pc.OnTimeout(func(int) { fired.Add(1) })

	pc.Start(0, time.Second)
	pc.Stop()
	clock.Advance(time.Hour)

	assert.False(t, pc.Tick())
	assert.Equal(t, int32(0), fired.Load())
}

func TestPhaseClockZeroBudgetExpiresImmediately(t *testing.T) {
	pc := NewPhaseClock(newFakeClock())
	var fired atomic.Int32
	pc.OnTimeout(func(int) { fired.Add(1) })

	pc.Start(0, 0)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, time.Duration(0), pc.Remaining())
}

func TestPhaseClockReportsPhaseOfCountdown(t *testing.T) {
	clock := newFakeClock()
	pc := NewPhaseClock(clock)
	var got []int
	pc.OnTimeout(func(phase int) { got = append(got, phase) })

	pc.Start(0, time.Second)
	clock.Advance(time.Second)
	require.True(t, pc.Tick())

	pc.Start(3, time.Second)
	defer pc.Stop()
	assert.Equal(t, 3, pc.Phase())
	clock.Advance(time.Second)
	require.True(t, pc.Tick())

	assert.Equal(t, []int{0, 3}, got)
}

func TestPhaseClockStartAtKeepsOriginalDeadline(t *testing.T) {
	clock := newFakeClock()
	pc := NewPhaseClock(clock)
	var fired atomic.Int32
	pc.OnTimeout(func(int) { fired.Add(1) })

	began := clock.Now()
	clock.Advance(4 * time.Minute)
	pc.StartAt(2, began, 10*time.Minute)
	defer pc.Stop()

	assert.Equal(t, 6*time.Minute, pc.Remaining())
	assert.Equal(t, began.Add(10*time.Minute), pc.Deadline())
	assert.True(t, began.Equal(pc.StartedAt()))
	assert.Equal(t, int32(0), fired.Load())
}

func TestPhaseClockStartAtPastDeadlineFires(t *testing.T) {
	clock := newFakeClock()
	pc := NewPhaseClock(clock)
	var fired atomic.Int32
	pc.OnTimeout(func(int) { fired.Add(1) })

	began := clock.Now()
	clock.Advance(time.Hour)
	pc.StartAt(0, began, 10*time.Minute)

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, pc.Expired())
	assert.Equal(t, time.Duration(0), pc.Remaining())
}
