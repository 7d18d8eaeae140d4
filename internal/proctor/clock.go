package proctor

import (
	"sync"
	"time"
)

// TickInterval is the PhaseClock cadence.
const TickInterval = time.Second

// Clock abstracts wall-clock time so the session can be driven in tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker the session uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type systemClock struct{}

// SystemClock returns the real wall clock.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }

// PhaseClock counts down one phase budget. Remaining time is always derived
// from the deadline and the current wall clock, so missed or delayed ticks
// (a suspended host) cannot grant extra time. The timeout callback fires at
// most once per Start and carries the phase the countdown was started for,
// so a subscriber can tell a late firing from the current phase.
type PhaseClock struct {
	clock Clock

	mu        sync.Mutex
	phase     int
	startedAt time.Time
	deadline  time.Time
	budget    time.Duration
	running   bool
	fired     bool
	onTimeout func(phase int)
	ticker    Ticker
	done      chan struct{}
}

// NewPhaseClock creates a stopped clock.
func NewPhaseClock(clock Clock) *PhaseClock {
	if clock == nil {
		clock = SystemClock()
	}
	return &PhaseClock{clock: clock}
}

// OnTimeout sets the single timeout subscriber.
func (c *PhaseClock) OnTimeout(fn func(phase int)) {
	c.mu.Lock()
	c.onTimeout = fn
	c.mu.Unlock()
}

// Start begins the countdown of phase measured from now. A running
// countdown is replaced, which is how a new phase gets its own budget.
func (c *PhaseClock) Start(phase int, budget time.Duration) {
	c.StartAt(phase, c.clock.Now(), budget)
}

// StartAt resumes the countdown of a phase that began at startedAt. A
// deadline already in the past fires the timeout right away on the clock's
// goroutine, so StartAt never calls the subscriber itself.
func (c *PhaseClock) StartAt(phase int, startedAt time.Time, budget time.Duration) {
	c.mu.Lock()
	c.stopLocked()

	now := c.clock.Now()
	if startedAt.IsZero() || startedAt.After(now) {
		startedAt = now
	}
	c.phase = phase
	c.startedAt = startedAt
	c.budget = budget
	c.deadline = startedAt.Add(budget)
	c.running = true
	c.fired = false

	ticker := c.clock.NewTicker(TickInterval)
	done := make(chan struct{})
	c.ticker = ticker
	c.done = done
	expired := !now.Before(c.deadline)
	c.mu.Unlock()

	go c.loop(ticker, done, expired)
}

func (c *PhaseClock) loop(ticker Ticker, done <-chan struct{}, expired bool) {
	if expired && c.Tick() {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			if c.Tick() {
				return
			}
		}
	}
}

// Tick reconciles the countdown against the wall clock and fires the
// timeout if the deadline has passed. It reports whether it fired.
func (c *PhaseClock) Tick() bool {
	c.mu.Lock()
	if !c.running || c.fired {
		c.mu.Unlock()
		return false
	}
	if c.clock.Now().Before(c.deadline) {
		c.mu.Unlock()
		return false
	}

	c.fired = true
	c.stopLocked()
	cb := c.onTimeout
	phase := c.phase
	c.mu.Unlock()

	if cb != nil {
		cb(phase)
	}
	return true
}

// Remaining is never negative.
func (c *PhaseClock) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired || c.deadline.IsZero() {
		return 0
	}
	left := c.deadline.Sub(c.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// Elapsed is the wall-clock time since Start, capped at the budget.
func (c *PhaseClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt.IsZero() {
		return 0
	}
	elapsed := c.clock.Now().Sub(c.startedAt)
	if elapsed > c.budget {
		return c.budget
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Phase is the phase of the current countdown.
func (c *PhaseClock) Phase() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// StartedAt is when the current phase began.
func (c *PhaseClock) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// Deadline is the absolute end of the current phase.
func (c *PhaseClock) Deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

// Expired reports whether the current countdown has fired.
func (c *PhaseClock) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Stop halts ticking without firing the timeout.
func (c *PhaseClock) Stop() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
}

func (c *PhaseClock) stopLocked() {
	c.running = false
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
}
