package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/wem-technology/ios-webxr-sub000/internal/metrics"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

// FrameCallback receives the predicted display time in milliseconds and the
// frame for the current tick. The frame is only valid during the call.
type FrameCallback func(timeMs float64, f *Frame)

type callback struct {
	handle    int
	fn        FrameCallback
	cancelled bool
}

// RequestAnimationFrame queues fn for the next tick and returns a non-zero
// handle. Callbacks registered while a tick is dispatching run at the
// following tick. Returns 0 once the session has ended.
func (s *Session) RequestAnimationFrame(fn FrameCallback) int {
	if s.state == Ended {
		return 0
	}
	s.nextHandle++
	s.pending = append(s.pending, &callback{handle: s.nextHandle, fn: fn})
	return s.nextHandle
}

// CancelAnimationFrame cancels a queued callback. A callback already in the
// batch being dispatched is skipped when its turn comes.
func (s *Session) CancelAnimationFrame(handle int) {
	if i := slices.IndexFunc(s.pending, func(cb *callback) bool { return cb.handle == handle }); i >= 0 {
		s.pending[i].cancelled = true
		s.pending = slices.Delete(s.pending, i, i+1)
		return
	}
	for _, cb := range s.inFlight {
		if cb.handle == handle {
			cb.cancelled = true
			return
		}
	}
}

// Tick runs one frame. now is the host time in milliseconds; it is clamped so
// predicted display times never go backwards.
//
// Order: pending render state, device pose sync, views, a new active Frame,
// anchors, hit-test sources, input sources and their events, then the frame
// callbacks queued before this tick. The Frame is inactive when Tick returns.
// Callback panics are logged and counted; they never abort the tick.
func (s *Session) Tick(ctx context.Context, now float64) error {
	if s.state == Ended {
		return xrerr.New(xrerr.InvalidState, "session.tick", "session has ended")
	}
	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.TicksTotal.WithLabelValues(s.mode).Inc()
	s.state = Running

	if s.ticked && now < s.lastTime {
		now = s.lastTime
	}
	var dt float64
	if s.ticked {
		dt = now - s.lastTime
	}
	s.lastTime, s.ticked = now, true

	s.applyPendingRenderState()
	if err := s.device.Sync(dt); err != nil {
		slog.Warn("device sync failed", "session_id", s.id, "error", err)
	}
	s.trackVelocity(dt)
	s.updateViews()

	f := &Frame{
		session:    s,
		seq:        s.clock.Next(),
		time:       now,
		active:     true,
		hitResults: make(map[*HitTestSource][]HitTestResult),
	}
	s.frame = f
	defer func() { f.active = false }()

	slog.Debug("tick", "session_id", s.id, "seq", f.seq, "time_ms", now)

	s.updateAnchors(f)
	s.updateHitTests(ctx, f)

	events, added, removed := s.device.UpdateInputs()
	if len(added) > 0 || len(removed) > 0 {
		s.emit(Event{Type: EventInputSourcesChange, Frame: f, Added: added, Removed: removed})
	}
	for _, ev := range events {
		s.emit(Event{Type: ev.Type, Frame: f, Source: ev.Source, Button: ev.Button})
	}

	s.inFlight, s.pending = s.pending, nil
	for _, cb := range s.inFlight {
		if cb.cancelled {
			continue
		}
		s.guard("frame callback", slog.Int("handle", cb.handle), func() { cb.fn(now, f) })
	}
	s.inFlight = nil
	return nil
}

// guard runs fn, converting a panic into a logged and counted failure.
func (s *Session) guard(what string, attr slog.Attr, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CallbackFailures.Inc()
			slog.Error(what+" failed",
				"session_id", s.id,
				attr,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	fn()
}

// trackVelocity derives the viewer's world-space velocity from the previous
// tick's pose.
func (s *Session) trackVelocity(dtMs float64) {
	cur := s.device.Viewer().Global()
	s.linearVelocity, s.angularVelocity = nil, nil
	if s.hasLastViewer && dtMs > 0 {
		lin, ang := velocity(s.lastViewer, cur, dtMs/1000)
		s.linearVelocity, s.angularVelocity = &lin, &ang
	}
	s.lastViewer, s.hasLastViewer = cur, true
}

func velocity(prev, cur xmath.Mat4, dtSec float64) (xmath.Vec3, xmath.Vec3) {
	lin := xmath.Translation(cur).Sub(xmath.Translation(prev)).Mul(1 / dtSec)

	delta := xmath.Rotation(cur).Mul(xmath.Rotation(prev).Conjugate()).Normalize()
	if delta.W < 0 {
		delta = delta.Scale(-1)
	}
	angle := 2 * math.Acos(min(delta.W, 1))
	var ang xmath.Vec3
	if n := delta.V.Len(); n > xmath.Epsilon {
		ang = delta.V.Mul(angle / n / dtSec)
	}
	return lin, ang
}
