package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"

	"github.com/wem-technology/ios-webxr-sub000/internal/device"
	"github.com/wem-technology/ios-webxr-sub000/internal/env"
	"github.com/wem-technology/ios-webxr-sub000/internal/input"
	"github.com/wem-technology/ios-webxr-sub000/internal/profile"
	"github.com/wem-technology/ios-webxr-sub000/internal/recorder"
	"github.com/wem-technology/ios-webxr-sub000/internal/session"
	"github.com/wem-technology/ios-webxr-sub000/internal/space"
	"github.com/wem-technology/ios-webxr-sub000/internal/store"
	"github.com/wem-technology/ios-webxr-sub000/internal/testutil"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

// FloorID is the plane id of the harness room floor.
const FloorID = "floor"

// sessionEvents are the session events recorded in the trace.
var sessionEvents = []string{
	session.EventInputSourcesChange,
	session.EventEnd,
	session.EventFrameRateChange,
	session.EventBaseLayerChange,
	session.EventReset,
	"select", "selectstart", "selectend",
	"squeeze", "squeezestart", "squeezeend",
}

// frameOp runs inside the frame callback of the next tick.
type frameOp func(f *session.Frame) error

// Harness runs one scenario against a fresh device and session. Ticks come
// from a FrameClock and ids from a sequential generator, so a scenario always
// produces the same trace.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	device   *device.Device
	session  *session.Session
	clock    *testutil.FrameClock
	recorder *recorder.Recorder
	logger   *slog.Logger
	result   *Result

	ticks int64
	ops   []frameOp
	last  FinalState

	refs       map[space.Kind]*space.ReferenceSpace
	anchors    map[string]*session.Anchor
	persisted  map[string]string
	hitSources map[string]*session.HitTestSource
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store, a device built from
// the scenario's profile in a 4 m room and a session in the scenario's mode.
// Steps run in order. A failing step is recorded in the trace and, unless
// it failed with the expected error code, in the result errors; later steps
// still run. Assertions are evaluated after the last step.
//
// The returned error is reserved for setup failures: the store, the profile
// or the device could not be created.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	compiler, err := profile.NewCompiler()
	if err != nil {
		return nil, fmt.Errorf("failed to create profile compiler: %w", err)
	}
	cfg, err := compiler.Resolve(scenario.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	bridge := &scriptedBridge{}
	dev, err := device.New(cfg,
		device.WithBridge(bridge),
		device.WithEnvironment(env.DefaultRoom(FloorID)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	bridge.device = dev

	h := &Harness{
		scenario:   scenario,
		store:      st,
		device:     dev,
		clock:      testutil.NewFrameClock(scenario.TickRate),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:     NewResult(),
		refs:       make(map[space.Kind]*space.ReferenceSpace),
		anchors:    make(map[string]*session.Anchor),
		persisted:  make(map[string]string),
		hitSources: make(map[string]*session.HitTestSource),
	}
	h.last = FinalState{Session: "none", Viewer: position(dev.Viewer().Global())}
	if scenario.Record {
		h.recorder = recorder.New(dev.Root())
	}

	ctx := context.Background()
	mode := scenario.Mode
	if mode == "" {
		mode = defaultMode(cfg)
	}
	sess, err := session.Request(ctx, dev, mode, session.Options{
		RequiredFeatures: scenario.Features,
		CameraAccess:     scenario.CameraAccess,
		AnchorStore:      st,
		IDs:              testutil.NewSequentialIDs("id"),
	})
	if err != nil {
		h.result.AddError(fmt.Sprintf("session request: %v", err))
		return h.result, nil
	}
	h.session = sess
	h.listen()

	for i, step := range scenario.Steps {
		h.runStep(ctx, i, step)
	}
	h.finish(ctx)

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// defaultMode is the first immersive mode the device supports, or inline.
func defaultMode(cfg device.Config) string {
	for _, m := range cfg.SessionModes {
		if m != device.ModeInline {
			return m
		}
	}
	return device.ModeInline
}

func (h *Harness) listen() {
	for _, name := range sessionEvents {
		h.session.On(name, func(ev session.Event) {
			h.trace(TraceEvent{Type: TraceSession, Name: name, Detail: eventDetail(ev)})
		})
	}
}

func eventDetail(ev session.Event) map[string]any {
	switch {
	case ev.Source != nil:
		return map[string]any{
			"source": string(ev.Source.Handedness()),
			"button": ev.Button,
		}
	case ev.Type == session.EventInputSourcesChange:
		return map[string]any{
			"added":   len(ev.Added),
			"removed": len(ev.Removed),
		}
	case ev.ReferenceSpace != nil:
		return map[string]any{"space": string(ev.ReferenceSpace.Kind())}
	}
	return nil
}

func (h *Harness) trace(ev TraceEvent) {
	ev.Tick = h.ticks
	h.result.Trace = append(h.result.Trace, ev)
}

// runStep executes one step and checks its outcome against ExpectError.
func (h *Harness) runStep(ctx context.Context, index int, step Step) {
	kind := step.Kind()
	err := h.execute(ctx, step)
	h.logger.Info("step completed", "step", index, "kind", kind, "error", err)

	if err != nil {
		h.trace(TraceEvent{
			Type:   TraceError,
			Name:   kind,
			Detail: map[string]any{"step": index, "code": string(xrerr.CodeOf(err))},
		})
	}
	switch {
	case step.ExpectError == "" && err != nil:
		h.result.AddError(fmt.Sprintf("steps[%d] (%s): %v", index, kind, err))
	case step.ExpectError != "" && err == nil:
		h.result.AddError(fmt.Sprintf("steps[%d] (%s): expected error %s, got success", index, kind, step.ExpectError))
	case step.ExpectError != "" && string(xrerr.CodeOf(err)) != step.ExpectError:
		h.result.AddError(fmt.Sprintf("steps[%d] (%s): expected error %s, got %v", index, kind, step.ExpectError, err))
	}
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	s, dev := h.session, h.device
	switch {
	case step.Tick > 0:
		for range step.Tick {
			if err := h.tick(ctx); err != nil {
				return err
			}
		}
		return nil

	case step.Pose != nil:
		return dev.SetPose(step.Pose.transform())

	case step.LivePose != nil:
		w, ht := dev.Resolution()
		t := step.LivePose.transform()
		dev.Mailbox().PutFrame(device.LiveFrame{
			Timestamp:       h.clock.Ms(),
			CameraTransform: t.Matrix(),
			Projection:      xmath.Perspective(dev.FovY(), float64(w)/float64(ht), 0.01, 1000),
		})
		return nil

	case step.Button != nil:
		src, err := h.source(step.Button)
		if err != nil {
			return err
		}
		return src.Gamepad().SetButtonValue(step.Button.ID, step.Button.Value)

	case step.Axis != nil:
		src, err := h.source(step.Axis)
		if err != nil {
			return err
		}
		return src.Gamepad().SetAxis(step.Axis.ID, step.Axis.Value)

	case step.Touch != nil:
		return dev.Touch(step.Touch.X, step.Touch.Y, step.Touch.Down)

	case step.InputMode != "":
		dev.SetPrimaryInputMode(step.InputMode)
		return nil

	case step.CreateAnchor != nil:
		return h.createAnchor(ctx, step.CreateAnchor)

	case step.DeleteAnchor != "":
		a, ok := h.anchors[step.DeleteAnchor]
		if !ok {
			return fmt.Errorf("unknown anchor %q", step.DeleteAnchor)
		}
		a.Delete()
		return nil

	case step.PersistAnchor != "":
		a, ok := h.anchors[step.PersistAnchor]
		if !ok {
			return fmt.Errorf("unknown anchor %q", step.PersistAnchor)
		}
		id, err := a.RequestPersistentHandle(ctx)
		if err != nil {
			return err
		}
		h.persisted[step.PersistAnchor] = id
		h.trace(TraceEvent{Type: TraceAnchor, Name: step.PersistAnchor, Detail: map[string]any{"status": "persisted", "id": id}})
		return nil

	case step.RestoreAnchor != "":
		return h.restoreAnchor(step.RestoreAnchor)

	case step.ForgetAnchor != "":
		return s.DeletePersistentAnchor(ctx, h.persistentID(step.ForgetAnchor))

	case step.HitTest != nil:
		return h.requestHitTest(step.HitTest)

	case step.CancelHitTest != "":
		src, ok := h.hitSources[step.CancelHitTest]
		if !ok {
			return fmt.Errorf("unknown hit-test source %q", step.CancelHitTest)
		}
		src.Cancel()
		delete(h.hitSources, step.CancelHitTest)
		return nil

	case step.RenderState != nil:
		init := session.RenderStateInit{
			DepthNear: step.RenderState.DepthNear,
			DepthFar:  step.RenderState.DepthFar,
		}
		if step.RenderState.Layer != "" {
			init.BaseLayer = &session.Layer{Name: step.RenderState.Layer, FramebufferScale: 1}
		}
		return s.UpdateRenderState(init)

	case step.FrameRate != 0:
		return s.UpdateTargetFrameRate(step.FrameRate)

	case step.Recenter:
		for _, kind := range []space.Kind{space.Local, space.LocalFloor} {
			if s.Has(string(kind)) {
				if _, err := h.referenceSpace(string(kind)); err != nil {
					return err
				}
			}
		}
		s.Recenter()
		return nil

	case step.End:
		return s.End(ctx)
	}
	return fmt.Errorf("step has no action")
}

func (p *PoseStep) transform() xmath.Transform {
	t := xmath.IdentityTransform()
	t.Position = xmath.Vec3{p.Position[0], p.Position[1], p.Position[2]}
	if len(p.Orientation) == 4 {
		t.Orientation = xmath.NewQuat(p.Orientation[0], p.Orientation[1], p.Orientation[2], p.Orientation[3]).Normalize()
	}
	return t
}

func (h *Harness) source(in *InputStep) (*input.Source, error) {
	hand, err := input.ParseHandedness(in.Hand)
	if err != nil {
		return nil, err
	}
	var (
		src *input.Source
		ok  bool
	)
	switch in.Source {
	case "", device.InputController:
		src, ok = h.device.Controller(hand)
	case device.InputHand:
		src, ok = h.device.Hand(hand)
	default:
		return nil, fmt.Errorf("unknown input source %q", in.Source)
	}
	if !ok {
		return nil, xrerr.New(xrerr.NotSupported, "harness.input", fmt.Sprintf("no %s %s on %s", in.Hand, in.Source, h.device.Config().Name))
	}
	return src, nil
}

// referenceSpace returns the session's reference space of kind, creating it
// on first use.
func (h *Harness) referenceSpace(kind string) (*space.ReferenceSpace, error) {
	k, err := space.ParseKind(kind)
	if err != nil {
		return nil, xrerr.Wrap(xrerr.NotSupported, "harness.referenceSpace", err)
	}
	if ref, ok := h.refs[k]; ok {
		return ref, nil
	}
	ref, err := h.session.RequestReferenceSpace(k)
	if err != nil {
		return nil, err
	}
	h.refs[k] = ref
	return ref, nil
}

// createAnchor creates the anchor inside the next frame callback and runs
// that tick. The anchor resolves one tick later.
func (h *Harness) createAnchor(ctx context.Context, step *AnchorStep) error {
	kind := step.Space
	if kind == "" {
		kind = string(space.Local)
	}
	ref, err := h.referenceSpace(kind)
	if err != nil {
		return err
	}
	pose := xmath.IdentityTransform()
	pose.Position = xmath.Vec3{step.Position[0], step.Position[1], step.Position[2]}

	h.ops = append(h.ops, func(f *session.Frame) error {
		pending, err := f.CreateAnchor(pose, ref.Space)
		if err != nil {
			return err
		}
		h.watchAnchor(step.Name, "", pending)
		return nil
	})
	return h.tick(ctx)
}

func (h *Harness) restoreAnchor(name string) error {
	id := h.persistentID(name)
	pending, err := h.session.RestorePersistentAnchor(id)
	if err != nil {
		return err
	}
	h.watchAnchor(name, id, pending)
	return nil
}

// persistentID maps an anchor name to the id it was persisted under. Names
// that were never persisted in this run are taken as ids.
func (h *Harness) persistentID(name string) string {
	if id, ok := h.persisted[name]; ok {
		return id
	}
	return name
}

func (h *Harness) watchAnchor(name, persistentID string, pending *session.Pending[*session.Anchor]) {
	pending.Then(func(a *session.Anchor, err error) {
		detail := map[string]any{"status": "tracked"}
		if persistentID != "" {
			detail["id"] = persistentID
		}
		if err != nil {
			detail = map[string]any{"status": "rejected", "code": string(xrerr.CodeOf(err))}
		} else {
			h.anchors[name] = a
		}
		h.trace(TraceEvent{Type: TraceAnchor, Name: name, Detail: detail})
	})
}

func (h *Harness) requestHitTest(step *HitTestStep) error {
	kind := step.Space
	if kind == "" {
		kind = string(space.Viewer)
	}
	ref, err := h.referenceSpace(kind)
	if err != nil {
		return err
	}
	dir := xmath.Vec3{0, 0, -1}
	if step.Direction != nil {
		dir = xmath.Vec3{step.Direction[0], step.Direction[1], step.Direction[2]}
	}
	origin := xmath.Vec3{step.Origin[0], step.Origin[1], step.Origin[2]}
	src, err := h.session.RequestHitTestSource(ref.Space, xmath.NewRay(origin, dir))
	if err != nil {
		return err
	}
	if old, ok := h.hitSources[step.Name]; ok {
		old.Cancel()
	}
	h.hitSources[step.Name] = src
	return nil
}

// tick runs one session tick. Queued frame ops run first in the frame
// callback, then the frame is snapshotted into the trace.
func (h *Harness) tick(ctx context.Context) error {
	ops := h.ops
	h.ops = nil
	var opErr error
	h.session.RequestAnimationFrame(func(timeMs float64, f *session.Frame) {
		for _, op := range ops {
			if err := op(f); err != nil && opErr == nil {
				opErr = err
			}
		}
		h.snapshot(timeMs, f)
	})

	h.ticks++
	now := h.clock.Tick()
	if err := h.session.Tick(ctx, now); err != nil {
		h.ticks--
		return err
	}
	if h.recorder != nil {
		if err := h.recorder.Capture(now, h.device.Viewer(), h.device.InputSources()); err != nil {
			return fmt.Errorf("record tick %d: %w", h.ticks, err)
		}
	}
	return opErr
}

func (h *Harness) snapshot(timeMs float64, f *session.Frame) {
	state := FinalState{Session: h.session.State().String()}
	if pose, err := f.GetPose(h.device.Viewer(), h.device.Root()); err == nil {
		state.Viewer = position(pose.Matrix)
	}
	if anchors, err := f.TrackedAnchors(); err == nil {
		state.TrackedAnchors = len(anchors)
	}
	detail := map[string]any{
		"viewer":  state.Viewer,
		"anchors": state.TrackedAnchors,
	}
	if len(h.hitSources) > 0 {
		state.Hits = make(map[string]int, len(h.hitSources))
		for name, src := range h.hitSources {
			results, err := f.GetHitTestResults(src)
			if err != nil {
				continue
			}
			state.Hits[name] = len(results)
		}
		detail["hits"] = state.Hits
	}
	h.last = state
	h.trace(TraceEvent{Type: TraceFrame, TimeMs: timeMs, Detail: detail})
}

// finish fills the final state once every step has run.
func (h *Harness) finish(ctx context.Context) {
	state := h.last
	state.Session = h.session.State().String()
	ids, err := h.store.AnchorIDs(ctx)
	if err != nil {
		h.result.AddError(fmt.Sprintf("list persisted anchors: %v", err))
	}
	sort.Strings(ids)
	state.Persisted = ids
	h.result.State = state
	if h.recorder != nil {
		h.result.Recording = h.recorder.Recording()
	}
}

// position is the translation of m rounded to 0.1 mm with negative zero
// folded into zero, so traces are stable across platforms.
func position(m xmath.Mat4) Vec {
	t := xmath.Translation(m)
	var v Vec
	for i := range v {
		r := math.Round(t[i]*1e4) / 1e4
		if r == 0 {
			r = 0
		}
		v[i] = r
	}
	return v
}

// scriptedBridge stands in for the sensor bridge in immersive-ar scenarios.
// It grants every request and answers raycasts against the device's room.
type scriptedBridge struct {
	device *device.Device
}

func (b *scriptedBridge) RequestSession(ctx context.Context, opts device.SessionOptions) (device.Access, error) {
	return device.Access{CameraAccess: opts.CameraAccess, WorldAccess: true, WebXRAccess: true}, nil
}

func (b *scriptedBridge) Stop(ctx context.Context) error { return nil }

func (b *scriptedBridge) Raycast(ctx context.Context, x, y float64) ([]device.RaycastHit, error) {
	room := b.device.Environment()
	if room == nil {
		return nil, nil
	}
	ray := b.device.ScreenRay(x, y).Transform(b.device.Viewer().Global())
	var hits []device.RaycastHit
	for _, hit := range room.Raycast(ray) {
		rh := device.RaycastHit{Transform: hit.Transform}
		if !hit.Estimated {
			rh.UUID = hit.PlaneID
		}
		hits = append(hits, rh)
	}
	return hits, nil
}
