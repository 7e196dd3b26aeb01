// Package clock is the time source for policy timestamps, validation run
// durations and history records. Tests swap it for a MockClock.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock reads the current time.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// MockClock returns a fixed instant that only moves when told to, or by
// Step on every read.
type MockClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewMockClock returns a clock pinned at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// NewStepClock returns a clock starting at t that advances by step after
// every Now, so elapsed times measured against it are deterministic.
func NewStepClock(t time.Time, step time.Duration) *MockClock {
	return &MockClock{now: t, step: step}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Set moves the clock to t.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type holder struct{ Clock }

var active atomic.Pointer[holder]

func init() {
	active.Store(&holder{RealClock{}})
}

// SetDefault swaps the package clock and returns a func restoring the
// previous one.
func SetDefault(c Clock) (restore func()) {
	prev := active.Swap(&holder{c})
	return func() { active.Store(prev) }
}

// Now reads the package clock.
func Now() time.Time {
	return active.Load().Now()
}

// Since is Now().Sub(t) on the package clock.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}
