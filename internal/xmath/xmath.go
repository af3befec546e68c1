// Package xmath is the rigid-transform kernel shared by the spatial graph,
// the input model, the recorder and the sensor bridge.
//
// All matrices are column-major 4x4 (mgl64 layout), which is also the layout
// of every 16-element array crossing the bridge or the anchor store.
package xmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

type (
	Mat4 = mgl64.Mat4
	Vec3 = mgl64.Vec3
	Vec4 = mgl64.Vec4
	Quat = mgl64.Quat
)

// Epsilon is the tolerance used by the approximate comparisons in this package.
const Epsilon = 1e-6

// Identity returns the identity matrix.
func Identity() Mat4 {
	return mgl64.Ident4()
}

// QuatIdentity returns the identity rotation.
func QuatIdentity() Quat {
	return mgl64.QuatIdent()
}

// NewQuat builds a quaternion from x, y, z, w components.
func NewQuat(x, y, z, w float64) Quat {
	return Quat{W: w, V: Vec3{x, y, z}}
}

// AxisAngle returns the rotation of angle radians about axis.
func AxisAngle(angle float64, axis Vec3) Quat {
	return mgl64.QuatRotate(angle, axis.Normalize())
}

// QuatXYZW returns the components in x, y, z, w order.
func QuatXYZW(q Quat) [4]float64 {
	return [4]float64{q.V[0], q.V[1], q.V[2], q.W}
}

// FromTranslation returns a pure translation matrix.
func FromTranslation(t Vec3) Mat4 {
	return mgl64.Translate3D(t[0], t[1], t[2])
}

// FromRotation returns a pure rotation matrix.
func FromRotation(q Quat) Mat4 {
	return q.Normalize().Mat4()
}

// FromRotationTranslation composes T(t)·R(q).
func FromRotationTranslation(q Quat, t Vec3) Mat4 {
	m := q.Normalize().Mat4()
	m[12], m[13], m[14] = t[0], t[1], t[2]
	return m
}

// Compose returns a·b.
func Compose(a, b Mat4) Mat4 {
	return a.Mul4(b)
}

// Invert inverts a rigid transform (rotation + translation) exactly.
func Invert(m Mat4) Mat4 {
	r := m.Mat3().Transpose()
	t := Vec3{m[12], m[13], m[14]}
	nt := r.Mul3x1(t).Mul(-1)
	out := r.Mat4()
	out[12], out[13], out[14] = nt[0], nt[1], nt[2]
	return out
}

// InvertGeneral inverts an arbitrary matrix, used for projection matrices.
func InvertGeneral(m Mat4) Mat4 {
	return m.Inv()
}

// Translation extracts the translation column.
func Translation(m Mat4) Vec3 {
	return Vec3{m[12], m[13], m[14]}
}

// Rotation extracts the rotation of a rigid matrix.
func Rotation(m Mat4) Quat {
	return QuatFromMatrix(m)
}

// Decompose splits a rigid matrix into translation and rotation.
func Decompose(m Mat4) (Vec3, Quat) {
	return Translation(m), QuatFromMatrix(m)
}

// QuatFromMatrix extracts a unit quaternion from the rotation part of m using
// the trace method, branching on the largest diagonal element when the trace
// is not positive.
func QuatFromMatrix(m Mat4) Quat {
	m00, m11, m22 := m[0], m[5], m[10]
	trace := m00 + m11 + m22

	var x, y, z, w float64
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		w = 0.25 / s
		x = (m[6] - m[9]) * s
		y = (m[8] - m[2]) * s
		z = (m[1] - m[4]) * s
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		w = (m[6] - m[9]) / s
		x = 0.25 * s
		y = (m[4] + m[1]) / s
		z = (m[8] + m[2]) / s
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		w = (m[8] - m[2]) / s
		x = (m[4] + m[1]) / s
		y = 0.25 * s
		z = (m[9] + m[6]) / s
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		w = (m[1] - m[4]) / s
		x = (m[8] + m[2]) / s
		y = (m[9] + m[6]) / s
		z = 0.25 * s
	}
	return NewQuat(x, y, z, w).Normalize()
}

// LerpVec3 interpolates linearly between a and b.
func LerpVec3(a, b Vec3, alpha float64) Vec3 {
	return a.Add(b.Sub(a).Mul(alpha))
}

// Lerp interpolates scalars.
func Lerp(a, b, alpha float64) float64 {
	return a + (b-a)*alpha
}

// Slerp interpolates rotations along the shortest arc.
func Slerp(a, b Quat, alpha float64) Quat {
	if a.Dot(b) < 0 {
		b = b.Scale(-1)
	}
	if alpha <= 0 {
		return a.Normalize()
	}
	if alpha >= 1 {
		return b.Normalize()
	}
	return mgl64.QuatSlerp(a, b, alpha).Normalize()
}

// TransformPoint applies m to a point (w=1).
func TransformPoint(m Mat4, p Vec3) Vec3 {
	return m.Mul4x1(p.Vec4(1)).Vec3()
}

// TransformDirection applies the linear part of m to a direction (w=0).
func TransformDirection(m Mat4, d Vec3) Vec3 {
	return m.Mul4x1(d.Vec4(0)).Vec3()
}

// Perspective builds a right-handed projection for a vertical field of view
// in radians.
func Perspective(fovY, aspect, near, far float64) Mat4 {
	return mgl64.Perspective(fovY, aspect, near, far)
}

// FovYFromProjection recovers the vertical field of view 2·atan(1/P[5]).
// The second result is false when the value is not finite.
func FovYFromProjection(p Mat4) (float64, bool) {
	f := p[5]
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	fov := 2 * math.Atan(1/f)
	if math.IsNaN(fov) || math.IsInf(fov, 0) {
		return 0, false
	}
	return fov, true
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return mgl64.DegToRad(deg)
}

// ToArray returns the 16 column-major elements of m.
func ToArray(m Mat4) [16]float64 {
	return [16]float64(m)
}

// ToSlice returns the 16 column-major elements of m as a slice.
func ToSlice(m Mat4) []float64 {
	out := make([]float64, 16)
	copy(out, m[:])
	return out
}

// FromSlice builds a matrix from 16 column-major elements.
func FromSlice(s []float64) (Mat4, bool) {
	if len(s) != 16 {
		return Mat4{}, false
	}
	var m Mat4
	copy(m[:], s)
	return m, true
}

// ApproxEqual compares two matrices element-wise within eps.
func ApproxEqual(a, b Mat4, eps float64) bool {
	return a.ApproxEqualThreshold(b, eps)
}

// QuatApproxEqual compares rotations, treating q and -q as equal.
func QuatApproxEqual(a, b Quat, eps float64) bool {
	if a.Dot(b) < 0 {
		b = b.Scale(-1)
	}
	return a.ApproxEqualThreshold(b, eps)
}
