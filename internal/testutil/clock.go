package testutil

import (
	"sync"
	"time"
)

// Epoch is the wall time a FrameClock starts at.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// FrameClock is a manually advanced frame time source for tests.
//
// Each Tick moves time forward by exactly one frame interval, so a scenario
// replayed with the same rate sees identical timestamps. Now can be passed to
// engine.WithTimeSource.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FrameClock struct {
	mu      sync.Mutex
	step    time.Duration
	elapsed time.Duration
	frames  int64
}

// NewFrameClock creates a clock that advances 1/hz seconds per Tick.
// A non-positive hz uses 60.
func NewFrameClock(hz float64) *FrameClock {
	if hz <= 0 {
		hz = 60
	}
	return &FrameClock{step: time.Duration(float64(time.Second) / hz)}
}

// Tick advances one frame and returns the elapsed time in milliseconds.
func (c *FrameClock) Tick() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	c.elapsed += c.step
	return ms(c.elapsed)
}

// Advance moves time forward by d without counting a frame.
func (c *FrameClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elapsed += d
}

// Ms returns the elapsed time in milliseconds.
func (c *FrameClock) Ms() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ms(c.elapsed)
}

// Now returns Epoch plus the elapsed time.
func (c *FrameClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Epoch.Add(c.elapsed)
}

// Frames returns the number of Tick calls since creation or Reset.
func (c *FrameClock) Frames() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Reset returns the clock to zero.
func (c *FrameClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elapsed = 0
	c.frames = 0
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
