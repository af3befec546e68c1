package bridge

import (
	"context"
	"image"

	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// FloorHeight is how far the tracking world origin is placed below the
// device at session start, so that y = 0 is the floor.
const FloorHeight = 1.6

// Projection clip planes for the camera matrix.
const (
	ProjectionNear = 0.01
	ProjectionFar  = 1000
)

// TrackedFrame is one update from a world tracker.
type TrackedFrame struct {
	// Timestamp in seconds.
	Timestamp float64
	// View is the world-to-camera matrix for the portrait orientation.
	View xmath.Mat4
	// FovY is the camera's vertical field of view in radians.
	FovY float64
	// LightIntensity is the ambient estimate in lumens; zero when unknown.
	LightIntensity float64
	// Image is the captured camera image, or nil.
	Image image.Image
}

// RaycastTarget selects which surfaces a tracker raycast considers.
type RaycastTarget int

const (
	ExistingPlaneGeometry RaycastTarget = iota
	EstimatedPlane
)

// TrackerHit is a tracker raycast result in world coordinates. AnchorID is
// set when the hit belongs to a tracked surface.
type TrackerHit struct {
	WorldTransform xmath.Mat4
	AnchorID       string
}

// Tracker is a world-tracking source.
type Tracker interface {
	// Start resets tracking with the world origin moved by originOffset and
	// streams updates until ctx is done or Pause is called.
	Start(ctx context.Context, originOffset xmath.Mat4) (<-chan TrackedFrame, error)
	Pause()
	// Raycast casts through a normalized screen point.
	Raycast(x, y float64, target RaycastTarget) []TrackerHit
}
