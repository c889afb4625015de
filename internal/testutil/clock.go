package testutil

import (
	"sync"
	"time"
)

// TickingClock starts at a fixed instant and moves forward by its step on every
// call to Now, so journal entries written in sequence get distinct timestamps.
type TickingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewTickingClock creates a clock at start that advances step per reading.
func NewTickingClock(start time.Time, step time.Duration) *TickingClock {
	return &TickingClock{now: start, step: step}
}

// FixedClock never advances: every reading is 2024-03-01 12:00:00 UTC.
func FixedClock() *TickingClock {
	return NewTickingClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), 0)
}

func (c *TickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}
