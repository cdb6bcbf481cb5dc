package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant returned by a new StepClock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// StepClock is a deterministic wall clock for tests.
//
// Each call to Now returns the previous instant plus the step, starting at
// Epoch. Unlike span.SystemClock, StepClock can be reset for test reuse, so
// the same scenario produces byte-identical timestamps on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	step  time.Duration
	ticks int64
}

// NewStepClock creates a clock that advances by step on every call.
// A non-positive step defaults to one millisecond.
func NewStepClock(step time.Duration) *StepClock {
	if step <= 0 {
		step = time.Millisecond
	}
	return &StepClock{step: step}
}

// Now returns the next instant. The first call returns Epoch.
//
// Implements span.Clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.ticks) * c.step)
	c.ticks++
	return t
}

// Ticks returns how many times Now has been called.
func (c *StepClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock so the next call to Now returns Epoch.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
