package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// DefaultFrameRate is used when no rate is configured.
const DefaultFrameRate = 60

// Ticker is a frame consumer driven by the host. Sessions implement it.
type Ticker interface {
	Tick(ctx context.Context, nowMs float64) error
	Ended() bool
}

// RateSource is implemented by tickers that select the host frame rate.
type RateSource interface {
	FrameRate() float64
}

// Host drives attached tickers from a time.Ticker and runs tasks submitted
// from other goroutines between frames.
//
// Thread-safety model:
//   - Submit(): safe from any goroutine
//   - Run(), Step(), Attach(): host goroutine only
type Host struct {
	queue   *taskQueue
	clock   *Clock
	rate    float64
	now     func() time.Time
	start   time.Time
	tickers []Ticker
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithFrameRate sets the initial frame rate in Hz.
func WithFrameRate(hz float64) HostOption {
	return func(h *Host) {
		if hz > 0 {
			h.rate = hz
		}
	}
}

// WithTimeSource replaces time.Now for frame timestamps.
func WithTimeSource(now func() time.Time) HostOption {
	return func(h *Host) { h.now = now }
}

// NewHost creates a host with no tickers.
func NewHost(opts ...HostOption) *Host {
	h := &Host{
		queue: newTaskQueue(),
		clock: NewClock(),
		rate:  DefaultFrameRate,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.start = h.now()
	return h
}

// Submit queues a task to run on the host goroutine before the next frame.
// Returns false once the host has stopped.
func (h *Host) Submit(t Task) bool {
	return h.queue.Enqueue(t)
}

// Attach adds a ticker. Call before Run or from a submitted task.
func (h *Host) Attach(t Ticker) {
	h.tickers = append(h.tickers, t)
}

// Tickers returns the number of attached tickers.
func (h *Host) Tickers() int { return len(h.tickers) }

// Frames returns the number of frames stepped so far.
func (h *Host) Frames() int64 { return h.clock.Current() }

// FrameRate returns the current frame rate.
func (h *Host) FrameRate() float64 { return h.rate }

// Step runs pending tasks, then ticks every attached ticker once at nowMs and
// detaches those that have ended.
func (h *Host) Step(ctx context.Context, nowMs float64) {
	h.drain(ctx)
	seq := h.clock.Next()
	for _, t := range h.tickers {
		if t.Ended() {
			continue
		}
		if err := t.Tick(ctx, nowMs); err != nil {
			slog.Error("tick failed", "seq", seq, "error", err)
		}
	}
	h.tickers = slices.DeleteFunc(h.tickers, Ticker.Ended)
}

func (h *Host) drain(ctx context.Context) {
	for {
		task, ok := h.queue.TryDequeue()
		if !ok {
			return
		}
		if err := task(ctx); err != nil {
			slog.Warn("task failed", "error", err)
		}
	}
}

// Run steps the host at the frame rate until ctx is cancelled or Stop is
// called. Must be called from exactly one goroutine.
func (h *Host) Run(ctx context.Context) error {
	slog.Info("host starting", "frame_rate", h.rate)
	tk := time.NewTicker(interval(h.rate))
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("host stopping: context cancelled", "frames", h.Frames())
			h.queue.Close()
			return ctx.Err()

		case <-h.queue.Wait():
			h.drain(ctx)
			if h.queue.Closed() {
				slog.Info("host stopping: stopped", "frames", h.Frames())
				return nil
			}

		case <-tk.C:
			h.Step(ctx, h.elapsedMs())
			if r := h.requestedRate(); r > 0 && r != h.rate {
				slog.Info("frame rate changed", "from", h.rate, "to", r)
				h.rate = r
				tk.Reset(interval(r))
			}
		}
	}
}

// Stop makes Run return after draining queued tasks.
func (h *Host) Stop() {
	h.queue.Close()
}

func (h *Host) elapsedMs() float64 {
	return float64(h.now().Sub(h.start)) / float64(time.Millisecond)
}

// requestedRate is the rate of the first attached RateSource, or 0.
func (h *Host) requestedRate() float64 {
	for _, t := range h.tickers {
		if rs, ok := t.(RateSource); ok {
			return rs.FrameRate()
		}
	}
	return 0
}

func interval(hz float64) time.Duration {
	if hz <= 0 {
		panic(fmt.Sprintf("engine: invalid frame rate %v", hz))
	}
	return time.Duration(float64(time.Second) / hz)
}
