package dispatch

import "sync/atomic"

// Clock is a monotonic logical clock for navigation events.
//
// Every event is stamped with a strictly increasing seq so log lines from
// overlapping links can be ordered without wall-clock timestamps.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
