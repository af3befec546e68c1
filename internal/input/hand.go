package input

import (
	"fmt"
	"math"

	"github.com/wem-technology/ios-webxr-sub000/internal/space"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// JointNames lists the 25 hand joints in canonical order.
var JointNames = []string{
	"wrist",
	"thumb-metacarpal", "thumb-phalanx-proximal", "thumb-phalanx-distal", "thumb-tip",
	"index-finger-metacarpal", "index-finger-phalanx-proximal", "index-finger-phalanx-intermediate",
	"index-finger-phalanx-distal", "index-finger-tip",
	"middle-finger-metacarpal", "middle-finger-phalanx-proximal", "middle-finger-phalanx-intermediate",
	"middle-finger-phalanx-distal", "middle-finger-tip",
	"ring-finger-metacarpal", "ring-finger-phalanx-proximal", "ring-finger-phalanx-intermediate",
	"ring-finger-phalanx-distal", "ring-finger-tip",
	"pinky-finger-metacarpal", "pinky-finger-phalanx-proximal", "pinky-finger-phalanx-intermediate",
	"pinky-finger-phalanx-distal", "pinky-finger-tip",
}

// PinchButton drives the blend between the point and pinch poses.
const PinchButton = "pinch"

// HandLayout is the gamepad of a tracked hand.
var HandLayout = Layout{
	Buttons: []ButtonSpec{{ID: PinchButton, Type: Analog, EventTrigger: "select"}},
}

// JointPose is a joint offset relative to the wrist plus its radius.
type JointPose struct {
	Transform xmath.Transform
	Radius    float64
}

// HandPose is one joint table in JointNames order.
type HandPose []JointPose

type finger struct {
	base    xmath.Vec3
	splay   float64
	lengths []float64
	radii   []float64
}

// Left-hand geometry, palm facing -Y, fingers along -Z, thumb toward +X.
var fingers = []finger{
	{base: xmath.Vec3{0.025, -0.01, -0.025}, splay: -0.7, lengths: []float64{0.035, 0.032, 0.025}, radii: []float64{0.019, 0.012, 0.01, 0.008}},
	{base: xmath.Vec3{0.02, 0, -0.02}, splay: -0.1, lengths: []float64{0.065, 0.04, 0.025, 0.022}, radii: []float64{0.021, 0.011, 0.009, 0.008, 0.007}},
	{base: xmath.Vec3{0.005, 0, -0.02}, splay: 0, lengths: []float64{0.064, 0.045, 0.028, 0.024}, radii: []float64{0.021, 0.011, 0.009, 0.008, 0.007}},
	{base: xmath.Vec3{-0.01, 0, -0.02}, splay: 0.08, lengths: []float64{0.06, 0.042, 0.027, 0.023}, radii: []float64{0.019, 0.01, 0.008, 0.007, 0.006}},
	{base: xmath.Vec3{-0.022, -0.002, -0.02}, splay: 0.18, lengths: []float64{0.055, 0.033, 0.02, 0.021}, radii: []float64{0.018, 0.009, 0.008, 0.007, 0.006}},
}

const wristRadius = 0.022

var (
	pointCurls = [][]float64{
		{0.3, 0.6, 0.5},
		{0, 0, 0, 0},
		{0.1, 1.4, 1.6, 1.2},
		{0.1, 1.4, 1.6, 1.2},
		{0.1, 1.4, 1.6, 1.2},
	}
	pinchCurls = [][]float64{
		{0.6, 0.5, 0.4},
		{0.1, 0.7, 0.7, 0.5},
		{0.1, 1.4, 1.6, 1.2},
		{0.1, 1.4, 1.6, 1.2},
		{0.1, 1.4, 1.6, 1.2},
	}
)

func rotX(a float64) xmath.Mat4 {
	return xmath.FromRotation(xmath.NewQuat(math.Sin(a/2), 0, 0, math.Cos(a/2)))
}

func rotY(a float64) xmath.Mat4 {
	return xmath.FromRotation(xmath.NewQuat(0, math.Sin(a/2), 0, math.Cos(a/2)))
}

// buildPose runs forward kinematics over the finger chains. Positive curl
// bends a segment toward the palm.
func buildPose(curls [][]float64) HandPose {
	pose := HandPose{{Transform: xmath.IdentityTransform(), Radius: wristRadius}}
	for fi, f := range fingers {
		m := xmath.Compose(xmath.FromTranslation(f.base), rotY(f.splay))
		for si := 0; si <= len(f.lengths); si++ {
			if si < len(f.lengths) {
				m = xmath.Compose(m, rotX(-curls[fi][si]))
			}
			pose = append(pose, JointPose{Transform: xmath.TransformFromMatrix(m), Radius: f.radii[si]})
			if si < len(f.lengths) {
				m = xmath.Compose(m, xmath.FromTranslation(xmath.Vec3{0, 0, -f.lengths[si]}))
			}
		}
	}
	return pose
}

// Mirror reflects a left-hand table into a right-hand one.
func (p HandPose) Mirror() HandPose {
	out := make(HandPose, len(p))
	for i, j := range p {
		out[i] = JointPose{Transform: xmath.MirrorX(j.Transform), Radius: j.Radius}
	}
	return out
}

// PointPose returns the canonical pointing pose for a hand.
func PointPose(h Handedness) HandPose {
	p := buildPose(pointCurls)
	if h == HandRight {
		return p.Mirror()
	}
	return p
}

// PinchPose returns the canonical pinching pose for a hand.
func PinchPose(h Handedness) HandPose {
	p := buildPose(pinchCurls)
	if h == HandRight {
		return p.Mirror()
	}
	return p
}

// BlendPose interpolates two tables: positions and radii lerp, rotations slerp.
func BlendPose(a, b HandPose, w float64) HandPose {
	out := make(HandPose, len(a))
	for i := range a {
		out[i] = JointPose{
			Transform: xmath.Interpolate(a[i].Transform, b[i].Transform, w),
			Radius:    xmath.Lerp(a[i].Radius, b[i].Radius, w),
		}
	}
	return out
}

// Hand is the articulated part of a hand input source.
type Hand struct {
	spaces []space.Space
	point  HandPose
	pinch  HandPose
	radii  []float64
	weight float64
	fixed  HandPose
}

// Joints returns the joint names in canonical order.
func (h *Hand) Joints() []string { return JointNames }

// Weight returns the current pinch blend weight.
func (h *Hand) Weight() float64 { return h.weight }

// JointSpace returns the space of a named joint.
func (h *Hand) JointSpace(name string) (space.Space, bool) {
	for i, n := range JointNames {
		if n == name {
			return h.spaces[i], true
		}
	}
	return space.Space{}, false
}

// JointRadius returns the current radius of a named joint.
func (h *Hand) JointRadius(name string) (float64, bool) {
	for i, n := range JointNames {
		if n == name {
			return h.radii[i], true
		}
	}
	return 0, false
}

// SetPoses replaces the point and pinch tables.
func (h *Hand) SetPoses(point, pinch HandPose) error {
	if len(point) != len(JointNames) || len(pinch) != len(JointNames) {
		return fmt.Errorf("hand pose tables need %d joints", len(JointNames))
	}
	h.point, h.pinch = point, pinch
	h.apply()
	return nil
}

func (h *Hand) update(gp *Gamepad) {
	if gp != nil {
		if b, ok := gp.Button(PinchButton); ok {
			h.weight = b.Value()
		}
	}
	h.apply()
}

// SetJointPoses pins every joint to the given table, bypassing the pinch
// blend. A nil table restores blending.
func (h *Hand) SetJointPoses(p HandPose) error {
	if p != nil && len(p) != len(JointNames) {
		return fmt.Errorf("hand pose table needs %d joints", len(JointNames))
	}
	h.fixed = p
	h.apply()
	return nil
}

func (h *Hand) apply() {
	pose := h.fixed
	if pose == nil {
		pose = BlendPose(h.point, h.pinch, h.weight)
	}
	for i, j := range pose {
		_ = h.spaces[i].SetTransform(j.Transform)
		h.radii[i] = j.Radius
	}
}

// NewHand creates a hand source. The grip space is the wrist; every joint
// space hangs off it.
func NewHand(g *space.Graph, parent space.Space, handedness Handedness, profiles []string) (*Source, error) {
	grip, err := g.Create(parent, xmath.Identity())
	if err != nil {
		return nil, fmt.Errorf("create wrist space: %w", err)
	}
	ray, err := g.Create(grip, xmath.Identity())
	if err != nil {
		return nil, fmt.Errorf("create target ray space: %w", err)
	}
	h := &Hand{
		point: PointPose(handedness),
		pinch: PinchPose(handedness),
		radii: make([]float64, len(JointNames)),
	}
	for range JointNames {
		s, err := g.Create(grip, xmath.Identity())
		if err != nil {
			return nil, fmt.Errorf("create joint space: %w", err)
		}
		h.spaces = append(h.spaces, s)
	}
	h.apply()

	if len(profiles) == 0 {
		profiles = []string{"generic-hand-select", "generic-hand"}
	}
	return &Source{
		handedness:     handedness,
		targetRayMode:  TrackedPointer,
		profiles:       normalizeProfiles(profiles),
		gripSpace:      grip,
		targetRaySpace: ray,
		gamepad:        NewGamepad(HandLayout),
		hand:           h,
	}, nil
}
