package session

import (
	"fmt"

	"github.com/wem-technology/ios-webxr-sub000/internal/device"
	"github.com/wem-technology/ios-webxr-sub000/internal/input"
	"github.com/wem-technology/ios-webxr-sub000/internal/space"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

// Eye identifies a view.
type Eye string

const (
	EyeNone  Eye = "none"
	EyeLeft  Eye = "left"
	EyeRight Eye = "right"
)

// Viewport is a pixel rectangle of the base layer.
type Viewport struct {
	X, Y, Width, Height int
}

// Pose is a rigid transform relative to a base space.
type Pose struct {
	Transform xmath.Transform
	Matrix    xmath.Mat4
	// Emulated is set when the position comes from emulation rather than
	// live tracking.
	Emulated        bool
	LinearVelocity  *xmath.Vec3
	AngularVelocity *xmath.Vec3
}

// View is one eye's pose and projection.
type View struct {
	Eye        Eye
	Projection xmath.Mat4
	Transform  xmath.Transform
	Viewport   Viewport
}

// ViewerPose is the viewer pose plus its views.
type ViewerPose struct {
	Pose
	Views []View
}

// JointPose is a hand joint pose with its radius in meters.
type JointPose struct {
	Pose
	Radius float64
}

type view struct {
	eye        Eye
	space      space.Space
	projection xmath.Mat4
	viewport   Viewport
}

// updateViews recomputes eyes and projections from the render state: one
// view for inline sessions or monoscopic devices, otherwise two views sharing
// the framebuffer side by side.
func (s *Session) updateViews() {
	w, h := s.device.Resolution()
	near, far := s.renderState.DepthNear, s.renderState.DepthFar

	if !s.Immersive() {
		s.views = []view{{
			eye:        EyeNone,
			space:      s.device.Viewer(),
			projection: xmath.Perspective(s.renderState.InlineVerticalFieldOfView, float64(w)/float64(h), near, far),
			viewport:   Viewport{Width: w, Height: h},
		}}
		return
	}

	eyes := s.device.Eyes()
	fov := s.device.FovY()
	if len(eyes) == 1 {
		s.views = []view{{
			eye:        EyeNone,
			space:      eyes[0],
			projection: xmath.Perspective(fov, float64(w)/float64(h), near, far),
			viewport:   Viewport{Width: w, Height: h},
		}}
		return
	}
	half := w / 2
	proj := xmath.Perspective(fov, float64(half)/float64(h), near, far)
	s.views = []view{
		{eye: EyeLeft, space: eyes[0], projection: proj, viewport: Viewport{Width: half, Height: h}},
		{eye: EyeRight, space: eyes[1], projection: proj, viewport: Viewport{X: half, Width: half, Height: h}},
	}
}

// Frame is the transient snapshot handed to frame callbacks. All queries fail
// InvalidState once the tick that created it has finished.
type Frame struct {
	session    *Session
	seq        int64
	time       float64
	active     bool
	anchors    []*Anchor
	hitResults map[*HitTestSource][]HitTestResult
}

func (f *Frame) Session() *Session { return f.session }
func (f *Frame) Seq() int64        { return f.seq }
func (f *Frame) Active() bool      { return f.active }

// PredictedDisplayTime is the frame time in milliseconds.
func (f *Frame) PredictedDisplayTime() float64 { return f.time }

func (f *Frame) check(op string) error {
	if !f.active {
		return xrerr.New(xrerr.InvalidState, op, "frame is not active")
	}
	return nil
}

// GetPose returns the pose of sp relative to base.
func (f *Frame) GetPose(sp, base space.Space) (*Pose, error) {
	if err := f.check("frame.getPose"); err != nil {
		return nil, err
	}
	m, err := sp.RelativeTo(base)
	if err != nil {
		return nil, err
	}
	return &Pose{
		Transform: xmath.TransformFromMatrix(m),
		Matrix:    m,
		Emulated:  sp.Emulated(),
	}, nil
}

// GetViewerPose returns the viewer pose and per-eye views relative to ref.
func (f *Frame) GetViewerPose(ref *space.ReferenceSpace) (*ViewerPose, error) {
	const op = "frame.getViewerPose"
	if err := f.check(op); err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, xrerr.New(xrerr.InvalidState, op, "reference space is required")
	}
	s := f.session
	viewer := s.device.Viewer()
	m, err := viewer.RelativeTo(ref.Space)
	if err != nil {
		return nil, err
	}
	vp := &ViewerPose{Pose: Pose{
		Transform: xmath.TransformFromMatrix(m),
		Matrix:    m,
		Emulated:  viewer.Emulated(),
	}}
	if s.linearVelocity != nil {
		toRef := xmath.Invert(ref.Global())
		lin := xmath.TransformDirection(toRef, *s.linearVelocity)
		ang := xmath.TransformDirection(toRef, *s.angularVelocity)
		vp.LinearVelocity, vp.AngularVelocity = &lin, &ang
	}
	for _, v := range s.views {
		vm, err := v.space.RelativeTo(ref.Space)
		if err != nil {
			return nil, err
		}
		vp.Views = append(vp.Views, View{
			Eye:        v.eye,
			Projection: v.projection,
			Transform:  xmath.TransformFromMatrix(vm),
			Viewport:   v.viewport,
		})
	}
	return vp, nil
}

// GetJointPose returns a hand joint's pose relative to base.
func (f *Frame) GetJointPose(src *input.Source, joint string, base space.Space) (*JointPose, error) {
	const op = "frame.getJointPose"
	if err := f.check(op); err != nil {
		return nil, err
	}
	hand := src.Hand()
	if hand == nil {
		return nil, xrerr.New(xrerr.NotSupported, op, "input source has no hand")
	}
	js, ok := hand.JointSpace(joint)
	if !ok {
		return nil, xrerr.New(xrerr.NotSupported, op, fmt.Sprintf("unknown joint %q", joint))
	}
	pose, err := f.GetPose(js, base)
	if err != nil {
		return nil, err
	}
	radius, _ := hand.JointRadius(joint)
	return &JointPose{Pose: *pose, Radius: radius}, nil
}

// Views returns the eyes rendered this frame.
func (f *Frame) Views() ([]Eye, error) {
	if err := f.check("frame.views"); err != nil {
		return nil, err
	}
	eyes := make([]Eye, len(f.session.views))
	for i, v := range f.session.views {
		eyes[i] = v.eye
	}
	return eyes, nil
}

// Image returns the passthrough image delivered this tick, if any.
func (f *Frame) Image() (*device.Image, error) {
	if err := f.check("frame.image"); err != nil {
		return nil, err
	}
	return f.session.device.Image(), nil
}

// LightIntensity returns the ambient light estimate in lumens.
func (f *Frame) LightIntensity() (float64, error) {
	if err := f.check("frame.lightIntensity"); err != nil {
		return 0, err
	}
	return f.session.device.LightIntensity(), nil
}
