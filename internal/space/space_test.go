package space

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

func TestGlobal_ChainComposition(t *testing.T) {
	g := NewGraph()
	a, err := g.Create(g.Root(), xmath.FromTranslation(xmath.Vec3{1, 0, 0}))
	require.NoError(t, err)
	b, err := g.Create(a, xmath.FromTranslation(xmath.Vec3{0, 2, 0}))
	require.NoError(t, err)

	want := xmath.FromTranslation(xmath.Vec3{1, 2, 0})
	assert.True(t, xmath.ApproxEqual(want, b.Global(), 1e-12))
}

func TestGlobal_ReflectsAncestorChangeWithoutCaching(t *testing.T) {
	g := NewGraph()
	a, _ := g.Create(g.Root(), xmath.Identity())
	b, _ := g.Create(a, xmath.FromTranslation(xmath.Vec3{0, 0, -1}))

	_ = b.Global()
	require.NoError(t, a.Translate(xmath.Vec3{5, 0, 0}))

	assert.Equal(t, xmath.Vec3{5, 0, -1}, xmath.Translation(b.Global()))
}

func TestRelativeTo(t *testing.T) {
	g := NewGraph()
	q := xmath.NewQuat(0, math.Sin(math.Pi/4), 0, math.Cos(math.Pi/4))
	base, _ := g.Create(g.Root(), xmath.FromRotationTranslation(q, xmath.Vec3{0, 1, 0}))
	target, _ := g.Create(g.Root(), xmath.FromTranslation(xmath.Vec3{3, 1, 0}))

	rel, err := target.RelativeTo(base)
	require.NoError(t, err)

	// global(base)·rel must give back global(target).
	assert.True(t, xmath.ApproxEqual(target.Global(), xmath.Compose(base.Global(), rel), 1e-9))

	self, err := base.RelativeTo(base)
	require.NoError(t, err)
	assert.True(t, xmath.ApproxEqual(xmath.Identity(), self, 1e-9))
}

func TestRemove_FailsWithChildren(t *testing.T) {
	g := NewGraph()
	a, _ := g.Create(g.Root(), xmath.Identity())
	b, _ := g.Create(a, xmath.Identity())

	err := g.Remove(a)
	assert.True(t, xrerr.IsInvalidState(err))

	require.NoError(t, g.Remove(b))
	require.NoError(t, g.Remove(a))
	assert.False(t, a.Valid())
	assert.Equal(t, 1, g.Len())

	_, err = g.Create(a, xmath.Identity())
	assert.True(t, xrerr.IsInvalidState(err))
}

func TestRemove_Root(t *testing.T) {
	g := NewGraph()
	assert.True(t, xrerr.IsInvalidState(g.Remove(g.Root())))
}

func TestCreate_ReusesFreedSlots(t *testing.T) {
	g := NewGraph()
	a, _ := g.Create(g.Root(), xmath.Identity())
	require.NoError(t, g.Remove(a))

	b, err := g.Create(g.Root(), xmath.FromTranslation(xmath.Vec3{1, 1, 1}))
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID())
	assert.Equal(t, xmath.Vec3{1, 1, 1}, xmath.Translation(b.Global()))
}

func TestReparent(t *testing.T) {
	g := NewGraph()
	a, _ := g.Create(g.Root(), xmath.FromTranslation(xmath.Vec3{1, 0, 0}))
	b, _ := g.Create(g.Root(), xmath.FromTranslation(xmath.Vec3{0, 1, 0}))
	c, _ := g.Create(a, xmath.FromTranslation(xmath.Vec3{0, 0, 1}))

	require.NoError(t, g.Reparent(c, b))
	assert.Equal(t, xmath.Vec3{0, 1, 1}, xmath.Translation(c.Global()))

	// a has no children left and can be removed.
	require.NoError(t, g.Remove(a))

	err := g.Reparent(b, c)
	assert.True(t, xrerr.IsInvalidState(err), "cycle must be rejected")
}

func TestCrossGraphRejected(t *testing.T) {
	g1, g2 := NewGraph(), NewGraph()
	a, _ := g1.Create(g1.Root(), xmath.Identity())

	_, err := g2.Create(a, xmath.Identity())
	assert.True(t, xrerr.IsInvalidState(err))

	_, err = a.RelativeTo(g2.Root())
	assert.True(t, xrerr.IsInvalidState(err))
}

func TestEmulated_Inherited(t *testing.T) {
	g := NewGraph()
	a, _ := g.Create(g.Root(), xmath.Identity())
	b, _ := g.Create(a, xmath.Identity())

	assert.False(t, b.Emulated())
	a.SetEmulated(true)
	assert.True(t, b.Emulated())
}

func TestReferenceSpace_DeriveAndRecenter(t *testing.T) {
	g := NewGraph()
	local := NewReferenceSpace(g.Root(), Local)
	derived, err := local.Derive(xmath.FromTranslation(xmath.Vec3{0, 0, -2}))
	require.NoError(t, err)
	assert.Equal(t, Local, derived.Kind())
	assert.Equal(t, xmath.Vec3{0, 0, -2}, xmath.Translation(derived.Global()))

	var resets []Kind
	local.OnReset(func(r *ReferenceSpace) { resets = append(resets, r.Kind()) })
	derived.OnReset(func(r *ReferenceSpace) { resets = append(resets, r.Kind()) })

	assert.Equal(t, 2, local.Recenter())
	assert.Len(t, resets, 2)

	viewer := NewReferenceSpace(g.Root(), Viewer)
	viewer.OnReset(func(*ReferenceSpace) { t.Fatal("viewer must not reset") })
	assert.Equal(t, 0, viewer.Recenter())
}

func TestReferenceSpace_DeriveInheritsResetListeners(t *testing.T) {
	g := NewGraph()
	local := NewReferenceSpace(g.Root(), Local)
	var got []*ReferenceSpace
	local.OnReset(func(r *ReferenceSpace) { got = append(got, r) })

	derived, err := local.Derive(xmath.FromTranslation(xmath.Vec3{1, 0, 0}))
	require.NoError(t, err)
	nested, err := derived.Derive(xmath.FromTranslation(xmath.Vec3{0, 1, 0}))
	require.NoError(t, err)

	assert.Equal(t, 3, local.Recenter())
	require.Len(t, got, 3)
	assert.Same(t, local, got[0])
	assert.Same(t, derived, got[1])
	assert.Same(t, nested, got[2])
}

func TestSpace_ZeroValue(t *testing.T) {
	var s Space
	assert.False(t, s.Valid())
	assert.Equal(t, Space{}, s.Parent())
	assert.Equal(t, xmath.Mat4{}, s.Offset())
	assert.Equal(t, xmath.Mat4{}, s.Global())
	assert.False(t, s.Emulated())
	s.SetEmulated(true)
	assert.Error(t, s.SetOffset(xmath.Identity()))

	g := NewGraph()
	_, err := s.RelativeTo(g.Root())
	assert.Error(t, err)
	_, err = g.Root().RelativeTo(s)
	assert.Error(t, err)
}

func TestSpace_RemovedHandle(t *testing.T) {
	g := NewGraph()
	a, err := g.Create(g.Root(), xmath.FromTranslation(xmath.Vec3{1, 0, 0}))
	require.NoError(t, err)
	require.NoError(t, g.Remove(a))

	assert.False(t, a.Valid())
	assert.Equal(t, Space{}, a.Parent())
	assert.Equal(t, xmath.Mat4{}, a.Global())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("local-floor")
	require.NoError(t, err)
	assert.Equal(t, LocalFloor, k)

	_, err = ParseKind("stage")
	assert.Error(t, err)
}
