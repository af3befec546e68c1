package env

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

func downRay(x, z float64) xmath.Ray {
	return xmath.NewRay(xmath.Vec3{x, 1.6, z}, xmath.Vec3{0, -1, 0})
}

func TestRaycastExisting_InsideExtent(t *testing.T) {
	e := DefaultRoom("floor-1")

	hits := e.RaycastExisting(downRay(0.5, -0.5))
	require.Len(t, hits, 1)
	assert.Equal(t, "floor-1", hits[0].PlaneID)
	assert.InDelta(t, 1.6, hits[0].Distance, 1e-12)
	assert.Equal(t, xmath.Vec3{0.5, 0, -0.5}, xmath.Translation(hits[0].Transform))
	assert.False(t, hits[0].Estimated)
}

func TestRaycast_FallsBackToEstimated(t *testing.T) {
	e := DefaultRoom("floor-1")

	assert.Empty(t, e.RaycastExisting(downRay(5, 0)))

	hits := e.Raycast(downRay(5, 0))
	require.Len(t, hits, 1)
	assert.True(t, hits[0].Estimated)
	assert.Empty(t, hits[0].PlaneID)
}

func TestRaycast_MissesParallelAndBehind(t *testing.T) {
	e := DefaultRoom("floor-1")

	assert.Empty(t, e.Raycast(xmath.NewRay(xmath.Vec3{0, 1, 0}, xmath.Vec3{1, 0, 0})))
	assert.Empty(t, e.Raycast(xmath.NewRay(xmath.Vec3{0, 1, 0}, xmath.Vec3{0, 1, 0})))
}

func TestRaycast_SortedByDistance(t *testing.T) {
	wall := Plane{
		ID:          "wall",
		Pose:        xmath.Transform{Position: xmath.Vec3{0, 1, -2}, Orientation: xmath.NewQuat(math.Sin(math.Pi/4), 0, 0, math.Cos(math.Pi/4))},
		HalfExtentX: 3,
		HalfExtentZ: 3,
	}
	e := New(wall, Plane{ID: "floor", Pose: xmath.IdentityTransform(), HalfExtentX: 10, HalfExtentZ: 10})

	ray := xmath.NewRay(xmath.Vec3{0, 1, 0}, xmath.Vec3{0, -1, -1})
	hits := e.RaycastExisting(ray)
	require.Len(t, hits, 2)
	assert.Equal(t, "floor", hits[0].PlaneID)
	assert.Equal(t, "wall", hits[1].PlaneID)
	assert.Less(t, hits[0].Distance, hits[1].Distance)
}
