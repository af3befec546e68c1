package session

import (
	"context"
	"log/slog"
	"slices"

	"github.com/wem-technology/ios-webxr-sub000/internal/device"
	"github.com/wem-technology/ios-webxr-sub000/internal/metrics"
	"github.com/wem-technology/ios-webxr-sub000/internal/space"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

// HitTestSource casts a ray every tick from a space.
type HitTestSource struct {
	session   *Session
	space     space.Space
	offsetRay xmath.Ray
	cancelled bool
}

// HitTestResult is a surface hit in global coordinates.
type HitTestResult struct {
	Transform xmath.Mat4
	// PlaneID identifies a tracked surface; empty for estimated hits.
	PlaneID   string
	Estimated bool
}

// PoseIn returns the hit pose relative to base.
func (r HitTestResult) PoseIn(base space.Space) (*Pose, error) {
	if !base.Valid() {
		return nil, xrerr.New(xrerr.InvalidState, "hitTestResult.pose", "base space has been removed")
	}
	m := xmath.Compose(xmath.Invert(base.Global()), r.Transform)
	return &Pose{Transform: xmath.TransformFromMatrix(m), Matrix: m}, nil
}

func (h *HitTestSource) Space() space.Space   { return h.space }
func (h *HitTestSource) OffsetRay() xmath.Ray { return h.offsetRay }
func (h *HitTestSource) Cancelled() bool      { return h.cancelled }

// Cancel removes the source. Frames after the cancel return no results.
func (h *HitTestSource) Cancel() {
	if h.cancelled {
		return
	}
	h.cancelled = true
	h.session.hitSources = slices.DeleteFunc(h.session.hitSources, func(x *HitTestSource) bool { return x == h })
}

// RequestHitTestSource registers a ray cast from sp every tick. A zero
// offsetRay casts along the space's -Z axis.
//
// Fails InvalidState once the session has ended and NotSupported when the
// hit-test feature was not enabled or neither a synthetic environment nor a
// native bridge is attached.
func (s *Session) RequestHitTestSource(sp space.Space, offsetRay xmath.Ray) (*HitTestSource, error) {
	const op = "session.requestHitTestSource"
	if s.state == Ended {
		return nil, xrerr.New(xrerr.InvalidState, op, "session has ended")
	}
	if !s.Has(FeatureHitTest) {
		return nil, xrerr.New(xrerr.NotSupported, op, "hit-test feature was not enabled")
	}
	if s.device.Environment() == nil && s.nativeRaycaster() == nil {
		return nil, xrerr.New(xrerr.NotSupported, op, "no environment model or native raycast available")
	}
	if !sp.Valid() {
		return nil, xrerr.New(xrerr.InvalidState, op, "space has been removed")
	}
	h := &HitTestSource{
		session:   s,
		space:     sp,
		offsetRay: xmath.NewRay(offsetRay.Origin, offsetRay.Direction),
	}
	s.hitSources = append(s.hitSources, h)
	return h, nil
}

// nativeRaycaster returns the bridge when this session's hits come from
// native tracking.
func (s *Session) nativeRaycaster() device.NativeBridge {
	if s.mode != device.ModeImmersiveAR {
		return nil
	}
	return s.device.Bridge()
}

// updateHitTests stores this frame's results for every source. The native
// bridge is queried once per tick through the screen centre; the synthetic
// environment is cast per source along its world ray.
func (s *Session) updateHitTests(ctx context.Context, f *Frame) {
	if len(s.hitSources) == 0 {
		return
	}
	if b := s.nativeRaycaster(); b != nil {
		results := s.nativeHits(ctx, b)
		for _, h := range s.hitSources {
			f.hitResults[h] = results
		}
		return
	}
	e := s.device.Environment()
	if e == nil {
		return
	}
	for _, h := range s.hitSources {
		if !h.space.Valid() {
			continue
		}
		metrics.HitTestQueries.WithLabelValues("synthetic").Inc()
		ray := h.offsetRay.Transform(h.space.Global())
		var results []HitTestResult
		for _, hit := range e.Raycast(ray) {
			results = append(results, HitTestResult{
				Transform: hit.Transform,
				PlaneID:   hit.PlaneID,
				Estimated: hit.Estimated,
			})
		}
		f.hitResults[h] = results
	}
}

func (s *Session) nativeHits(ctx context.Context, b device.NativeBridge) []HitTestResult {
	metrics.HitTestQueries.WithLabelValues("native").Inc()
	hits, err := b.Raycast(ctx, 0.5, 0.5)
	if err != nil {
		slog.Warn("native raycast failed", "session_id", s.id, "error", err)
		return nil
	}
	results := make([]HitTestResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, HitTestResult{
			Transform: hit.Transform,
			PlaneID:   hit.UUID,
			Estimated: hit.UUID == "",
		})
	}
	return results
}

// GetHitTestResults returns the results computed for src in this frame.
func (f *Frame) GetHitTestResults(src *HitTestSource) ([]HitTestResult, error) {
	const op = "frame.getHitTestResults"
	if err := f.check(op); err != nil {
		return nil, err
	}
	if src.session != f.session {
		return nil, xrerr.New(xrerr.InvalidState, op, "hit-test source belongs to another session")
	}
	return slices.Clone(f.hitResults[src]), nil
}
