package space

import (
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

// Space is a non-owning handle to a node in a Graph.
// The zero value is invalid.
type Space struct {
	graph *Graph
	id    ID
}

// ID returns the node index.
func (s Space) ID() ID { return s.id }

// Graph returns the owning graph.
func (s Space) Graph() *Graph { return s.graph }

// Valid reports whether the handle refers to a live node.
func (s Space) Valid() bool {
	return s.graph != nil && s.graph.check(s, "") == nil
}

// Parent returns the parent handle. The root is its own parent; an invalid
// handle has the zero Space as parent.
func (s Space) Parent() Space {
	if !s.Valid() {
		return Space{}
	}
	return Space{graph: s.graph, id: s.graph.nodes[s.id].parent}
}

// Offset returns the local offset relative to the parent, or the zero
// matrix for an invalid handle.
func (s Space) Offset() xmath.Mat4 {
	if !s.Valid() {
		return xmath.Mat4{}
	}
	return s.graph.nodes[s.id].offset
}

// SetOffset replaces the local offset.
func (s Space) SetOffset(m xmath.Mat4) error {
	if err := s.graph.check(s, "space.setOffset"); err != nil {
		return err
	}
	if s.id == RootID {
		return xrerr.New(xrerr.InvalidState, "space.setOffset", "the global root is fixed")
	}
	s.graph.nodes[s.id].offset = m
	return nil
}

// SetTransform replaces the local offset from a pose.
func (s Space) SetTransform(t xmath.Transform) error {
	return s.SetOffset(t.Matrix())
}

// Translate post-multiplies the local offset by a translation.
func (s Space) Translate(v xmath.Vec3) error {
	return s.SetOffset(xmath.Compose(s.Offset(), xmath.FromTranslation(v)))
}

// Rotate post-multiplies the local offset by a rotation.
func (s Space) Rotate(q xmath.Quat) error {
	return s.SetOffset(xmath.Compose(s.Offset(), xmath.FromRotation(q)))
}

// SetEmulated marks the node as driven by emulation rather than tracking.
func (s Space) SetEmulated(v bool) {
	if s.Valid() {
		s.graph.nodes[s.id].emulated = v
	}
}

// Emulated reports whether this node or any ancestor is emulated.
func (s Space) Emulated() bool {
	return s.Valid() && s.graph.chainEmulated(s.id)
}

// Global returns the transform from this space to the global root, or the
// zero matrix for an invalid handle.
func (s Space) Global() xmath.Mat4 {
	if !s.Valid() {
		return xmath.Mat4{}
	}
	return s.graph.global(s.id)
}

// RelativeTo returns the pose of s expressed in base:
// inverse(global(base))·global(s).
func (s Space) RelativeTo(base Space) (xmath.Mat4, error) {
	if err := s.graph.check(s, "space.relativeTo"); err != nil {
		return xmath.Mat4{}, err
	}
	if err := s.graph.check(base, "space.relativeTo"); err != nil {
		return xmath.Mat4{}, err
	}
	return xmath.Compose(xmath.Invert(base.Global()), s.Global()), nil
}
