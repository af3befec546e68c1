package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicker struct {
	times  []float64
	endAt  int
	err    error
	rate   float64
	ticked atomic.Int64
}

func (f *fakeTicker) Tick(_ context.Context, now float64) error {
	f.times = append(f.times, now)
	f.ticked.Add(1)
	return f.err
}

func (f *fakeTicker) Ended() bool { return f.endAt > 0 && len(f.times) >= f.endAt }

type rateTicker struct {
	fakeTicker
}

func (r *rateTicker) FrameRate() float64 { return r.rate }

func TestHost_StepTicksAndDetachesEnded(t *testing.T) {
	h := NewHost()
	a := &fakeTicker{endAt: 2}
	b := &fakeTicker{err: errors.New("boom")}
	h.Attach(a)
	h.Attach(b)

	h.Step(context.Background(), 0)
	assert.Equal(t, 2, h.Tickers())
	h.Step(context.Background(), 16)
	assert.Equal(t, 1, h.Tickers(), "ended ticker detached")
	h.Step(context.Background(), 32)

	assert.Equal(t, []float64{0, 16}, a.times)
	assert.Equal(t, []float64{0, 16, 32}, b.times, "tick errors do not stop the loop")
	assert.Equal(t, int64(3), h.Frames())
}

func TestHost_TasksRunBeforeTick(t *testing.T) {
	h := NewHost()
	var order []string
	h.Attach(&fakeTicker{})
	require.True(t, h.Submit(func(context.Context) error {
		order = append(order, "task")
		return errors.New("ignored")
	}))
	require.True(t, h.Submit(func(context.Context) error {
		h.Attach(tickerFunc(func() { order = append(order, "tick") }))
		return nil
	}))

	h.Step(context.Background(), 0)
	assert.Equal(t, []string{"task", "tick"}, order)
}

type tickerFunc func()

func (f tickerFunc) Tick(context.Context, float64) error { f(); return nil }
func (f tickerFunc) Ended() bool                         { return false }

func TestHost_RunUntilCancelled(t *testing.T) {
	h := NewHost(WithFrameRate(500))
	ft := &fakeTicker{}
	h.Attach(ft)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	require.Eventually(t, func() bool { return ft.ticked.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, h.Submit(func(context.Context) error { return nil }), "stopped host rejects tasks")
}

func TestHost_StopDrainsAndReturns(t *testing.T) {
	h := NewHost(WithFrameRate(1))
	ran := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- h.Run(context.Background()) }()

	h.Submit(func(context.Context) error {
		close(ran)
		return nil
	})
	<-ran
	h.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestHost_AdoptsRequestedFrameRate(t *testing.T) {
	h := NewHost(WithFrameRate(500))
	rt := &rateTicker{fakeTicker{rate: 400}}
	h.Attach(rt)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return rt.ticked.Load() >= 2 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 400.0, h.FrameRate())
}

func TestHost_TimeSource(t *testing.T) {
	base := time.Unix(0, 0)
	now := base
	h := NewHost(WithTimeSource(func() time.Time { return now }))
	now = base.Add(1500 * time.Millisecond)
	assert.Equal(t, 1500.0, h.elapsedMs())
}
