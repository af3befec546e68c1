package xmath

// Transform is a rigid pose: position plus unit orientation.
type Transform struct {
	Position    Vec3
	Orientation Quat
}

// IdentityTransform returns the origin pose.
func IdentityTransform() Transform {
	return Transform{Orientation: QuatIdentity()}
}

// TransformFromMatrix decomposes a rigid matrix.
func TransformFromMatrix(m Mat4) Transform {
	p, q := Decompose(m)
	return Transform{Position: p, Orientation: q}
}

// Matrix returns T(position)·R(orientation).
func (t Transform) Matrix() Mat4 {
	q := t.Orientation
	if q.Len() == 0 {
		q = QuatIdentity()
	}
	return FromRotationTranslation(q, t.Position)
}

// Inverse returns the inverse pose.
func (t Transform) Inverse() Transform {
	return TransformFromMatrix(Invert(t.Matrix()))
}

// Mul composes t·o.
func (t Transform) Mul(o Transform) Transform {
	return TransformFromMatrix(Compose(t.Matrix(), o.Matrix()))
}

// Interpolate lerps position and slerps orientation.
func Interpolate(a, b Transform, alpha float64) Transform {
	return Transform{
		Position:    LerpVec3(a.Position, b.Position, alpha),
		Orientation: Slerp(a.Orientation, b.Orientation, alpha),
	}
}

// MirrorX reflects a pose across the YZ plane: x is negated and the
// rotation becomes (qx, -qy, -qz, qw).
func MirrorX(t Transform) Transform {
	q := t.Orientation
	return Transform{
		Position:    Vec3{-t.Position[0], t.Position[1], t.Position[2]},
		Orientation: NewQuat(q.V[0], -q.V[1], -q.V[2], q.W),
	}
}

// Ray is an origin and a unit direction.
type Ray struct {
	Origin    Vec3
	Direction Vec3
}

// DefaultRay points down -Z from the origin.
func DefaultRay() Ray {
	return Ray{Direction: Vec3{0, 0, -1}}
}

// NewRay normalizes the direction; a zero direction falls back to -Z.
func NewRay(origin, direction Vec3) Ray {
	if direction.Len() == 0 {
		direction = Vec3{0, 0, -1}
	}
	return Ray{Origin: origin, Direction: direction.Normalize()}
}

// Transform maps the ray through m.
func (r Ray) Transform(m Mat4) Ray {
	return NewRay(TransformPoint(m, r.Origin), TransformDirection(m, r.Direction))
}

// At returns origin + t·direction.
func (r Ray) At(t float64) Vec3 {
	return r.Origin.Add(r.Direction.Mul(t))
}

// Matrix returns a pose at the ray origin whose -Z axis follows the ray.
func (r Ray) Matrix() Mat4 {
	return FromRotationTranslation(RotationBetween(Vec3{0, 0, -1}, r.Direction), r.Origin)
}

// RotationBetween returns the shortest rotation taking unit vector a to b.
func RotationBetween(a, b Vec3) Quat {
	a, b = a.Normalize(), b.Normalize()
	d := a.Dot(b)
	if d >= 1-Epsilon {
		return QuatIdentity()
	}
	if d <= -1+Epsilon {
		axis := Vec3{1, 0, 0}.Cross(a)
		if axis.Len() < Epsilon {
			axis = Vec3{0, 1, 0}.Cross(a)
		}
		axis = axis.Normalize()
		return NewQuat(axis[0], axis[1], axis[2], 0)
	}
	c := a.Cross(b)
	return NewQuat(c[0], c[1], c[2], 1+d).Normalize()
}
