package session

import (
	"context"
	"errors"
	"maps"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wem-technology/ios-webxr-sub000/internal/device"
	"github.com/wem-technology/ios-webxr-sub000/internal/ident"
	"github.com/wem-technology/ios-webxr-sub000/internal/input"
	"github.com/wem-technology/ios-webxr-sub000/internal/space"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

type stubBridge struct {
	access device.Access
	err    error
	hits   []device.RaycastHit
	stops  int
	casts  int
}

func (b *stubBridge) RequestSession(context.Context, device.SessionOptions) (device.Access, error) {
	return b.access, b.err
}

func (b *stubBridge) Stop(context.Context) error {
	b.stops++
	return nil
}

func (b *stubBridge) Raycast(context.Context, float64, float64) ([]device.RaycastHit, error) {
	b.casts++
	return b.hits, nil
}

func grantedBridge() *stubBridge {
	return &stubBridge{access: device.Access{WorldAccess: true, WebXRAccess: true}}
}

type memStore struct {
	saved map[string]xmath.Mat4
	saves int
	fail  error
}

func (m *memStore) LoadAnchors(context.Context) (map[string]xmath.Mat4, error) {
	return maps.Clone(m.saved), nil
}

func (m *memStore) SaveAnchors(_ context.Context, a map[string]xmath.Mat4) error {
	if m.fail != nil {
		return m.fail
	}
	m.saves++
	m.saved = maps.Clone(a)
	return nil
}

func vrConfig() device.Config {
	trigger := input.Layout{Buttons: []input.ButtonSpec{{ID: "trigger", EventTrigger: "select"}}}
	cfg := device.DefaultConfig()
	cfg.Name = "test-vr"
	cfg.SessionModes = []string{device.ModeInline, device.ModeImmersiveVR}
	cfg.Stereo = true
	cfg.IPD = 0.064
	cfg.Width, cfg.Height = 2000, 1000
	cfg.FrameRates = []float64{72, 90}
	cfg.NominalFrameRate = 72
	cfg.PrimaryInputMode = device.InputController
	cfg.Controllers = []input.ControllerSpec{
		{Handedness: input.HandLeft, Layout: trigger},
		{Handedness: input.HandRight, Layout: trigger},
	}
	return cfg
}

func newDevice(t *testing.T, cfg device.Config, opts ...device.Option) *device.Device {
	t.Helper()
	d, err := device.New(cfg, opts...)
	require.NoError(t, err)
	return d
}

func request(t *testing.T, d *device.Device, mode string, opts Options) *Session {
	t.Helper()
	s, err := Request(context.Background(), d, mode, opts)
	require.NoError(t, err)
	return s
}

func tick(t *testing.T, s *Session, now float64) {
	t.Helper()
	require.NoError(t, s.Tick(context.Background(), now))
}

func TestRequest_UnsupportedModeAndFeature(t *testing.T) {
	d := newDevice(t, device.DefaultConfig())

	_, err := Request(context.Background(), d, device.ModeImmersiveVR, Options{})
	assert.True(t, xrerr.IsNotSupported(err))

	_, err = Request(context.Background(), d, device.ModeInline, Options{RequiredFeatures: []string{"hand-tracking"}})
	assert.True(t, xrerr.IsNotSupported(err))
}

func TestRequest_FeatureResolution(t *testing.T) {
	d := newDevice(t, vrConfig())
	s := request(t, d, device.ModeImmersiveVR, Options{
		RequiredFeatures: []string{"local-floor"},
		OptionalFeatures: []string{"hand-tracking", FeatureAnchors, "local"},
	})
	assert.Equal(t, []string{"viewer", "local", "local-floor", FeatureAnchors}, s.EnabledFeatures())
	assert.Equal(t, Created, s.State())

	inline := request(t, newDevice(t, vrConfig()), device.ModeInline, Options{})
	assert.Equal(t, []string{"viewer"}, inline.EnabledFeatures())
}

func TestRequest_ImmersiveClaimsDevice(t *testing.T) {
	d := newDevice(t, vrConfig())
	s := request(t, d, device.ModeImmersiveVR, Options{})

	_, err := Request(context.Background(), d, device.ModeImmersiveVR, Options{})
	assert.True(t, xrerr.IsInvalidState(err))

	// Inline sessions do not need the claim.
	request(t, d, device.ModeInline, Options{})

	require.NoError(t, s.End(context.Background()))
	request(t, d, device.ModeImmersiveVR, Options{})
}

func TestRequest_ImmersiveARNeedsBridge(t *testing.T) {
	_, err := Request(context.Background(), newDevice(t, device.DefaultConfig()), device.ModeImmersiveAR, Options{})
	require.Error(t, err)
	assert.True(t, xrerr.IsNotSupported(err))
	assert.Contains(t, err.Error(), "bridge not found")

	denied := &stubBridge{access: device.Access{WorldAccess: false, WebXRAccess: true}}
	d := newDevice(t, device.DefaultConfig(), device.WithBridge(denied))
	_, err = Request(context.Background(), d, device.ModeImmersiveAR, Options{})
	assert.True(t, xrerr.IsNotSupported(err))
	assert.False(t, d.SessionLive(), "failed request releases the device")

	lost := &stubBridge{err: errors.New("socket closed")}
	d = newDevice(t, device.DefaultConfig(), device.WithBridge(lost))
	_, err = Request(context.Background(), d, device.ModeImmersiveAR, Options{})
	assert.True(t, xrerr.IsBridgeUnavailable(err))

	ok := grantedBridge()
	ok.access.CameraAccess = true
	s := request(t, newDevice(t, device.DefaultConfig(), device.WithBridge(ok)), device.ModeImmersiveAR, Options{CameraAccess: true})
	assert.True(t, s.Access().CameraAccess)
	assert.Equal(t, "alpha-blend", s.EnvironmentBlendMode())
}

func TestEnd_OnceWithHooks(t *testing.T) {
	b := grantedBridge()
	s := request(t, newDevice(t, device.DefaultConfig(), device.WithBridge(b)), device.ModeImmersiveAR, Options{})
	ends := 0
	s.On(EventEnd, func(Event) { ends++ })

	require.NoError(t, s.End(context.Background()))
	err := s.End(context.Background())
	assert.True(t, xrerr.IsInvalidState(err))

	assert.Equal(t, 1, ends)
	assert.Equal(t, 1, b.stops)
	assert.Equal(t, Ended, s.State())
	assert.Zero(t, s.RequestAnimationFrame(func(float64, *Frame) {}))
	assert.True(t, xrerr.IsInvalidState(s.Tick(context.Background(), 0)))
}

func TestRenderState_AppliedNextTick(t *testing.T) {
	s := request(t, newDevice(t, vrConfig()), device.ModeInline, Options{})
	var seen []float64

	near := 0.5
	s.RequestAnimationFrame(func(float64, *Frame) {
		require.NoError(t, s.UpdateRenderState(RenderStateInit{DepthNear: &near}))
		seen = append(seen, s.RenderState().DepthNear)
	})
	tick(t, s, 0)

	s.RequestAnimationFrame(func(float64, *Frame) {
		seen = append(seen, s.RenderState().DepthNear)
	})
	tick(t, s, 16)

	assert.Equal(t, []float64{0.1, 0.5}, seen)
}

func TestRenderState_BaseLayerHookOnce(t *testing.T) {
	s := request(t, newDevice(t, vrConfig()), device.ModeImmersiveVR, Options{})
	changes := 0
	s.On(EventBaseLayerChange, func(Event) { changes++ })

	require.NoError(t, s.UpdateRenderState(RenderStateInit{BaseLayer: &Layer{Name: "a"}}))
	require.NoError(t, s.UpdateRenderState(RenderStateInit{BaseLayer: &Layer{Name: "b"}}))
	tick(t, s, 0)
	tick(t, s, 16)

	assert.Equal(t, 1, changes)
	assert.Equal(t, "b", s.RenderState().BaseLayer.Name)

	fov := 1.0
	err := s.UpdateRenderState(RenderStateInit{InlineVerticalFieldOfView: &fov})
	assert.True(t, xrerr.IsInvalidState(err))
}

func TestCallbacks_RegisteredDuringTickRunNextTick(t *testing.T) {
	s := request(t, newDevice(t, vrConfig()), device.ModeInline, Options{})
	var order []string

	s.RequestAnimationFrame(func(float64, *Frame) {
		order = append(order, "a")
		s.RequestAnimationFrame(func(float64, *Frame) { order = append(order, "b") })
	})
	tick(t, s, 0)
	assert.Equal(t, []string{"a"}, order)

	tick(t, s, 16)
	assert.Equal(t, []string{"a", "b"}, order)

	tick(t, s, 32)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestCallbacks_CancelInFlight(t *testing.T) {
	s := request(t, newDevice(t, vrConfig()), device.ModeInline, Options{})
	var ran []string

	var x int
	s.RequestAnimationFrame(func(float64, *Frame) {
		ran = append(ran, "y")
		s.CancelAnimationFrame(x)
	})
	x = s.RequestAnimationFrame(func(float64, *Frame) { ran = append(ran, "x") })
	tick(t, s, 0)

	assert.Equal(t, []string{"y"}, ran)
}

func TestCallbacks_CancelPending(t *testing.T) {
	s := request(t, newDevice(t, vrConfig()), device.ModeInline, Options{})
	ran := false
	h := s.RequestAnimationFrame(func(float64, *Frame) { ran = true })
	s.CancelAnimationFrame(h)
	tick(t, s, 0)
	assert.False(t, ran)
}

func TestCallbacks_PanicDoesNotAbortTick(t *testing.T) {
	s := request(t, newDevice(t, vrConfig()), device.ModeInline, Options{})
	second := false
	s.RequestAnimationFrame(func(float64, *Frame) { panic("boom") })
	s.RequestAnimationFrame(func(float64, *Frame) { second = true })

	tick(t, s, 0)
	assert.True(t, second)
}

func TestFrame_InactiveAfterTick(t *testing.T) {
	s := request(t, newDevice(t, vrConfig()), device.ModeInline, Options{})
	ref, err := s.RequestReferenceSpace(space.Viewer)
	require.NoError(t, err)

	var kept *Frame
	var times []float64
	s.RequestAnimationFrame(func(now float64, f *Frame) {
		kept = f
		times = append(times, now, f.PredictedDisplayTime())
		_, err := f.GetViewerPose(ref)
		assert.NoError(t, err)
	})
	tick(t, s, 5)

	require.NotNil(t, kept)
	assert.Equal(t, []float64{5, 5}, times)
	assert.False(t, kept.Active())
	_, err = kept.GetViewerPose(ref)
	assert.True(t, xrerr.IsInvalidState(err))
	_, err = kept.TrackedAnchors()
	assert.True(t, xrerr.IsInvalidState(err))
	_, err = kept.CreateAnchor(xmath.IdentityTransform(), ref.Space)
	assert.True(t, xrerr.IsInvalidState(err))
}

func TestFrame_SeqAndTimeMonotonic(t *testing.T) {
	s := request(t, newDevice(t, vrConfig()), device.ModeInline, Options{})
	var seqs []int64
	var times []float64
	record := func(now float64, f *Frame) {
		seqs = append(seqs, f.Seq())
		times = append(times, now)
	}
	s.RequestAnimationFrame(record)
	tick(t, s, 100)
	s.RequestAnimationFrame(record)
	tick(t, s, 50)

	assert.Equal(t, []int64{1, 2}, seqs)
	assert.Equal(t, []float64{100, 100}, times)
}

func TestViews_InlineMono(t *testing.T) {
	s := request(t, newDevice(t, vrConfig()), device.ModeInline, Options{})
	ref, err := s.RequestReferenceSpace(space.Viewer)
	require.NoError(t, err)

	var pose *ViewerPose
	s.RequestAnimationFrame(func(_ float64, f *Frame) { pose, _ = f.GetViewerPose(ref) })
	tick(t, s, 0)

	require.NotNil(t, pose)
	require.Len(t, pose.Views, 1)
	assert.Equal(t, EyeNone, pose.Views[0].Eye)
	want := xmath.Perspective(s.RenderState().InlineVerticalFieldOfView, 2, 0.1, 1000)
	assert.True(t, xmath.ApproxEqual(want, pose.Views[0].Projection, 1e-12))
}

func TestViews_StereoImmersive(t *testing.T) {
	d := newDevice(t, vrConfig())
	s := request(t, d, device.ModeImmersiveVR, Options{})
	ref, err := s.RequestReferenceSpace(space.Viewer)
	require.NoError(t, err)

	var pose *ViewerPose
	s.RequestAnimationFrame(func(_ float64, f *Frame) { pose, _ = f.GetViewerPose(ref) })
	tick(t, s, 0)

	require.NotNil(t, pose)
	require.Len(t, pose.Views, 2)
	assert.Equal(t, EyeLeft, pose.Views[0].Eye)
	assert.Equal(t, EyeRight, pose.Views[1].Eye)
	assert.InDelta(t, -0.032, pose.Views[0].Transform.Position[0], 1e-12)
	assert.InDelta(t, 0.032, pose.Views[1].Transform.Position[0], 1e-12)
	assert.Equal(t, Viewport{X: 1000, Width: 1000, Height: 1000}, pose.Views[1].Viewport)

	want := xmath.Perspective(d.FovY(), 1, 0.1, 1000)
	assert.True(t, xmath.ApproxEqual(want, pose.Views[0].Projection, 1e-12))
}

func TestViewerPose_Velocity(t *testing.T) {
	d := newDevice(t, vrConfig())
	s := request(t, d, device.ModeInline, Options{OptionalFeatures: []string{"local-floor"}})
	ref, err := s.RequestReferenceSpace(space.LocalFloor)
	require.NoError(t, err)

	tick(t, s, 0)
	require.NoError(t, d.SetPose(xmath.Transform{Position: xmath.Vec3{0, 1.6, -1}, Orientation: xmath.QuatIdentity()}))

	var pose *ViewerPose
	s.RequestAnimationFrame(func(_ float64, f *Frame) { pose, _ = f.GetViewerPose(ref) })
	tick(t, s, 1000)

	require.NotNil(t, pose)
	assert.True(t, pose.Emulated)
	require.NotNil(t, pose.LinearVelocity)
	assert.InDelta(t, -1, pose.LinearVelocity[2], 1e-9)
	assert.InDelta(t, 0, pose.AngularVelocity.Len(), 1e-9)
	assert.InDelta(t, 1.6, pose.Transform.Position[1], 1e-12)
}

func TestReferenceSpace_RequiresFeature(t *testing.T) {
	s := request(t, newDevice(t, vrConfig()), device.ModeInline, Options{})
	_, err := s.RequestReferenceSpace(space.LocalFloor)
	assert.True(t, xrerr.IsNotSupported(err))

	vr := request(t, newDevice(t, vrConfig()), device.ModeImmersiveVR, Options{})
	local, err := vr.RequestReferenceSpace(space.Local)
	require.NoError(t, err)
	assert.InDelta(t, 1.6, xmath.Translation(local.Global())[1], 1e-12)

	_, err = vr.RequestReferenceSpace(space.Viewer)
	require.NoError(t, err)
	derived, err := local.Derive(xmath.FromTranslation(xmath.Vec3{1, 0, 0}))
	require.NoError(t, err)

	var reset []*space.ReferenceSpace
	vr.On(EventReset, func(e Event) { reset = append(reset, e.ReferenceSpace) })
	assert.Equal(t, 2, vr.Recenter())
	require.Len(t, reset, 2)
	assert.Same(t, local, reset[0])
	assert.Same(t, derived, reset[1], "derived spaces get their own reset event")
}

func TestUpdateTargetFrameRate(t *testing.T) {
	s := request(t, newDevice(t, vrConfig()), device.ModeImmersiveVR, Options{})
	changes := 0
	s.On(EventFrameRateChange, func(Event) { changes++ })

	assert.Equal(t, 72.0, s.FrameRate())
	require.NoError(t, s.UpdateTargetFrameRate(90))
	assert.Equal(t, 90.0, s.FrameRate())
	assert.True(t, xrerr.IsNotSupported(s.UpdateTargetFrameRate(60)))
	assert.Equal(t, 1, changes)
}

func TestInputEvents(t *testing.T) {
	d := newDevice(t, vrConfig())
	s := request(t, d, device.ModeImmersiveVR, Options{})

	var changes []Event
	var selects []Event
	s.On(EventInputSourcesChange, func(e Event) { changes = append(changes, e) })
	s.On("select", func(e Event) {
		selects = append(selects, e)
		assert.True(t, e.Frame.Active())
	})

	tick(t, s, 0)
	require.Len(t, changes, 1)
	assert.Len(t, changes[0].Added, 2)
	assert.Len(t, s.InputSources(), 2)

	left, ok := d.Controller(input.HandLeft)
	require.True(t, ok)
	require.NoError(t, left.Gamepad().SetButtonValue("trigger", 1))
	tick(t, s, 16)

	assert.Len(t, changes, 1, "no membership change")
	require.Len(t, selects, 1)
	assert.Same(t, left, selects[0].Source)
	assert.Equal(t, "trigger", selects[0].Button)
}

func TestOn_RemoveListener(t *testing.T) {
	s := request(t, newDevice(t, vrConfig()), device.ModeImmersiveVR, Options{})
	n := 0
	off := s.On(EventInputSourcesChange, func(Event) { n++ })
	off()
	tick(t, s, 0)
	assert.Zero(t, n)
}

func TestRequest_LoadsPersistentAnchors(t *testing.T) {
	store := &memStore{saved: map[string]xmath.Mat4{"a": xmath.Identity()}}
	s := request(t, newDevice(t, vrConfig()), device.ModeImmersiveVR, Options{
		RequiredFeatures: []string{FeatureAnchors},
		AnchorStore:      store,
		IDs:              ident.NewFixedGenerator("session-1"),
	})
	assert.Equal(t, "session-1", s.ID())
	assert.Equal(t, []string{"a"}, s.PersistentAnchors())
}
