package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a StepClock.
var Epoch = time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)

// StepClock is a deterministic wall clock for tests.
//
// Each call to Now returns the current instant and then advances by Step,
// so consecutive timestamps are strictly increasing and reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStepClock creates a clock starting at Epoch that advances one second
// per call.
func NewStepClock() *StepClock {
	return &StepClock{now: Epoch, step: time.Second}
}

// NewStepClockAt creates a clock starting at start that advances by step.
// A zero step freezes the clock.
func NewStepClockAt(start time.Time, step time.Duration) *StepClock {
	return &StepClock{now: start, step: step}
}

// Now returns the current instant and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the next instant without advancing.
func (c *StepClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset moves the clock back to start.
//
// Used for test reuse so the same scenario produces identical timestamps.
func (c *StepClock) Reset(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = start
}
