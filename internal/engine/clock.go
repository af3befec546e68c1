package engine

import "sync/atomic"

// Clock counts frames. Sequence numbers never come from wall time, so two
// runs of the same input number their frames the same way.
type Clock struct {
	frames atomic.Int64
}

// NewClock returns a clock that has counted no frames.
func NewClock() *Clock {
	return &Clock{}
}

// Next counts one frame and returns its sequence number, starting at 1.
func (c *Clock) Next() int64 {
	return c.frames.Add(1)
}

// Current is the number of frames counted so far.
func (c *Clock) Current() int64 {
	return c.frames.Load()
}
