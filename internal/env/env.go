// Package env is the synthetic environment used when no native raycast
// provider is present, and by the simulated world tracker.
package env

import (
	"math"
	"sort"

	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// Plane is a detected surface. Its local +Y axis is the surface normal; the
// bounded extent lies in local X and Z.
type Plane struct {
	ID          string
	Pose        xmath.Transform
	HalfExtentX float64
	HalfExtentZ float64
}

// Normal returns the world-space normal.
func (p Plane) Normal() xmath.Vec3 {
	return p.Pose.Orientation.Normalize().Rotate(xmath.Vec3{0, 1, 0}).Normalize()
}

// Hit is a raycast result.
type Hit struct {
	Transform xmath.Mat4
	Distance  float64
	PlaneID   string
	Estimated bool
}

// Environment is a set of planes.
type Environment struct {
	planes []Plane
}

// New creates an environment.
func New(planes ...Plane) *Environment {
	return &Environment{planes: append([]Plane(nil), planes...)}
}

// DefaultRoom is a 4 m square floor at y = 0.
func DefaultRoom(floorID string) *Environment {
	return New(Plane{
		ID:          floorID,
		Pose:        xmath.IdentityTransform(),
		HalfExtentX: 2,
		HalfExtentZ: 2,
	})
}

// Planes returns a copy of the planes.
func (e *Environment) Planes() []Plane {
	return append([]Plane(nil), e.planes...)
}

// AddPlane appends a plane.
func (e *Environment) AddPlane(p Plane) {
	e.planes = append(e.planes, p)
}

// RaycastExisting intersects the ray with plane geometry, honoring extents.
func (e *Environment) RaycastExisting(ray xmath.Ray) []Hit {
	return e.raycast(ray, false)
}

// RaycastEstimated intersects the ray with every plane extended infinitely.
func (e *Environment) RaycastEstimated(ray xmath.Ray) []Hit {
	return e.raycast(ray, true)
}

// Raycast returns existing-geometry hits, falling back to estimated planes
// when there are none.
func (e *Environment) Raycast(ray xmath.Ray) []Hit {
	if hits := e.RaycastExisting(ray); len(hits) > 0 {
		return hits
	}
	return e.RaycastEstimated(ray)
}

func (e *Environment) raycast(ray xmath.Ray, estimated bool) []Hit {
	var hits []Hit
	for _, p := range e.planes {
		n := p.Normal()
		denom := n.Dot(ray.Direction)
		if math.Abs(denom) < xmath.Epsilon {
			continue
		}
		t := p.Pose.Position.Sub(ray.Origin).Dot(n) / denom
		if t < 0 {
			continue
		}
		point := ray.At(t)
		if !estimated {
			local := xmath.TransformPoint(xmath.Invert(p.Pose.Matrix()), point)
			if math.Abs(local[0]) > p.HalfExtentX || math.Abs(local[2]) > p.HalfExtentZ {
				continue
			}
		}
		h := Hit{
			Transform: xmath.FromRotationTranslation(p.Pose.Orientation, point),
			Distance:  t,
			Estimated: estimated,
		}
		if !estimated {
			h.PlaneID = p.ID
		}
		hits = append(hits, h)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return hits
}
