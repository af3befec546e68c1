package space

import (
	"fmt"
	"slices"

	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// Kind is a reference space type.
type Kind string

const (
	Viewer       Kind = "viewer"
	Local        Kind = "local"
	LocalFloor   Kind = "local-floor"
	BoundedFloor Kind = "bounded-floor"
	Unbounded    Kind = "unbounded"
)

// ParseKind validates a reference space type name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Viewer, Local, LocalFloor, BoundedFloor, Unbounded:
		return k, nil
	}
	return "", fmt.Errorf("unknown reference space type %q", s)
}

// ReferenceSpace is a Space with a semantic kind. Spatial kinds (everything
// but viewer) notify reset listeners when recentered.
type ReferenceSpace struct {
	Space
	kind     Kind
	onReset  []func(*ReferenceSpace)
	children []*ReferenceSpace
}

// NewReferenceSpace wraps an existing space.
func NewReferenceSpace(s Space, kind Kind) *ReferenceSpace {
	return &ReferenceSpace{Space: s, kind: kind}
}

// Kind returns the reference space type.
func (r *ReferenceSpace) Kind() Kind { return r.kind }

// Derive creates a child reference space of the same kind whose origin is
// offset by originOffset. The child starts with the parent's reset
// listeners, which are called with the child when it recenters.
func (r *ReferenceSpace) Derive(originOffset xmath.Mat4) (*ReferenceSpace, error) {
	child, err := r.graph.Create(r.Space, originOffset)
	if err != nil {
		return nil, err
	}
	d := &ReferenceSpace{Space: child, kind: r.kind, onReset: slices.Clone(r.onReset)}
	r.children = append(r.children, d)
	return d, nil
}

// OnReset registers a listener for recenter notifications.
func (r *ReferenceSpace) OnReset(fn func(*ReferenceSpace)) {
	r.onReset = append(r.onReset, fn)
}

// Recenter notifies this space and every space derived from it. Returns the
// number of notifications delivered; viewer spaces never reset.
func (r *ReferenceSpace) Recenter() int {
	if r.kind == Viewer {
		return 0
	}
	n := 0
	for _, fn := range r.onReset {
		fn(r)
		n++
	}
	for _, c := range r.children {
		n += c.Recenter()
	}
	return n
}
