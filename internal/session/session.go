// Package session implements the XR session: lifecycle, render state, the
// per-tick frame scheduler, reference spaces, anchors and hit testing.
//
// A Session is single-threaded. Every method, including Tick, must be called
// from the goroutine that drives the host frame loop. The only cross-goroutine
// handoff is the device mailbox written by the sensor bridge.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/wem-technology/ios-webxr-sub000/internal/device"
	"github.com/wem-technology/ios-webxr-sub000/internal/engine"
	"github.com/wem-technology/ios-webxr-sub000/internal/ident"
	"github.com/wem-technology/ios-webxr-sub000/internal/input"
	"github.com/wem-technology/ios-webxr-sub000/internal/space"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

// State is the session lifecycle: Created until the first tick, then Running
// until End.
type State int

const (
	Created State = iota
	Running
	Ended
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Ended:
		return "ended"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Feature names.
const (
	FeatureAnchors = "anchors"
	FeatureHitTest = "hit-test"
)

// Session event types. Button edges are delivered with the trigger name as
// the type ("select", "selectstart", "squeezeend", ...).
const (
	EventInputSourcesChange = "inputsourceschange"
	EventEnd                = "end"
	EventFrameRateChange    = "frameratechange"
	EventBaseLayerChange    = "baselayerchange"
	EventReset              = "reset"
)

// Event is delivered to listeners registered with On.
type Event struct {
	Type           string
	Session        *Session
	Frame          *Frame
	Source         *input.Source
	Button         string
	Added          []*input.Source
	Removed        []*input.Source
	ReferenceSpace *space.ReferenceSpace
}

// Layer is the render target bound through the render state.
type Layer struct {
	Name             string
	FramebufferScale float64
}

// RenderState is the per-session render configuration.
type RenderState struct {
	DepthNear float64
	DepthFar  float64
	// InlineVerticalFieldOfView is in radians; zero for immersive sessions.
	InlineVerticalFieldOfView float64
	BaseLayer                 *Layer
}

// RenderStateInit holds the fields to change. Nil fields keep their value.
type RenderStateInit struct {
	DepthNear                 *float64
	DepthFar                  *float64
	InlineVerticalFieldOfView *float64
	BaseLayer                 *Layer
}

// Options configures a session request.
type Options struct {
	RequiredFeatures []string
	OptionalFeatures []string
	// CameraAccess asks the native bridge for passthrough images.
	CameraAccess bool
	// AnchorStore backs persistent anchors. Nil disables persistence.
	AnchorStore AnchorStore
	// IDs generates session and persistent anchor ids. Defaults to UUIDv7.
	IDs ident.Generator
}

type listener struct {
	fn      func(Event)
	removed bool
}

// Session is one XR session on a Device.
type Session struct {
	id       string
	mode     string
	device   *device.Device
	state    State
	features []string
	access   device.Access

	renderState   RenderState
	pendingRender *RenderState
	layerChanged  bool

	nextHandle int
	pending    []*callback
	inFlight   []*callback
	listeners  map[string][]*listener

	clock     *engine.Clock
	frameRate float64
	lastTime  float64
	ticked    bool
	views     []view
	frame     *Frame

	lastViewer      xmath.Mat4
	hasLastViewer   bool
	linearVelocity  *xmath.Vec3
	angularVelocity *xmath.Vec3

	refSpaces []*space.ReferenceSpace

	anchors    []*Anchor
	persistent map[string]xmath.Mat4
	restoring  map[string]bool
	store      AnchorStore
	ids        ident.Generator

	hitSources []*HitTestSource
}

// Request starts a session of the given mode on dev.
//
// Unsupported modes and unsupported required features fail NotSupported.
// Immersive sessions claim the device; a second live immersive session fails
// InvalidState. immersive-ar goes through the native bridge, which must be
// present and grant world access.
func Request(ctx context.Context, dev *device.Device, mode string, opts Options) (*Session, error) {
	const op = "session.request"
	cfg := dev.Config()
	if !cfg.SupportsMode(mode) {
		return nil, xrerr.New(xrerr.NotSupported, op, fmt.Sprintf("session mode %q is not supported by %s", mode, cfg.Name))
	}
	for _, f := range opts.RequiredFeatures {
		if !cfg.SupportsFeature(f) {
			return nil, xrerr.New(xrerr.NotSupported, op, fmt.Sprintf("required feature %q is not supported", f))
		}
	}

	ids := opts.IDs
	if ids == nil {
		ids = ident.UUIDv7Generator{}
	}
	s := &Session{
		id:         ids.Generate(),
		mode:       mode,
		device:     dev,
		features:   resolveFeatures(cfg, mode, opts),
		listeners:  make(map[string][]*listener),
		clock:      engine.NewClock(),
		frameRate:  cfg.FrameRate(),
		persistent: make(map[string]xmath.Mat4),
		restoring:  make(map[string]bool),
		store:      opts.AnchorStore,
		ids:        ids,
		renderState: RenderState{
			DepthNear: 0.1,
			DepthFar:  1000,
		},
	}
	if mode == device.ModeInline {
		s.renderState.InlineVerticalFieldOfView = math.Pi / 2
	}

	if s.Immersive() {
		if err := dev.BeginSession(); err != nil {
			return nil, err
		}
	}
	if mode == device.ModeImmersiveAR {
		access, err := requestNative(ctx, dev, mode, opts.CameraAccess, s.features)
		if err != nil {
			dev.EndSession(ctx)
			return nil, err
		}
		s.access = access
	}

	if s.store != nil && s.Has(FeatureAnchors) {
		stored, err := s.store.LoadAnchors(ctx)
		if err != nil {
			slog.Warn("failed to load persistent anchors", "session_id", s.id, "error", err)
		}
		for id, m := range stored {
			s.persistent[id] = m
		}
	}

	slog.Info("session started",
		"session_id", s.id,
		"mode", mode,
		"features", s.features,
		"persistent_anchors", len(s.persistent),
	)
	return s, nil
}

func requestNative(ctx context.Context, dev *device.Device, mode string, camera bool, features []string) (device.Access, error) {
	const op = "session.request"
	b := dev.Bridge()
	if b == nil {
		return device.Access{}, xrerr.New(xrerr.NotSupported, op, "native sensor bridge not found")
	}
	access, err := b.RequestSession(ctx, device.SessionOptions{
		Mode:         mode,
		CameraAccess: camera,
		Features:     features,
	})
	if err != nil {
		if xrerr.CodeOf(err) != "" {
			return device.Access{}, err
		}
		return device.Access{}, xrerr.Wrap(xrerr.BridgeUnavailable, op, err)
	}
	if !access.WorldAccess || !access.WebXRAccess {
		return device.Access{}, xrerr.New(xrerr.NotSupported, op, "world tracking permission denied")
	}
	return access, nil
}

// resolveFeatures returns viewer (plus local for immersive modes), the
// required features and every supported optional feature, deduplicated in
// that order.
func resolveFeatures(cfg device.Config, mode string, opts Options) []string {
	out := []string{string(space.Viewer)}
	if mode != device.ModeInline {
		out = append(out, string(space.Local))
	}
	add := func(f string) {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	for _, f := range opts.RequiredFeatures {
		add(f)
	}
	for _, f := range opts.OptionalFeatures {
		if cfg.SupportsFeature(f) {
			add(f)
		}
	}
	return out
}

func (s *Session) ID() string             { return s.id }
func (s *Session) Mode() string           { return s.mode }
func (s *Session) State() State           { return s.state }
func (s *Session) Device() *device.Device { return s.device }
func (s *Session) Access() device.Access  { return s.access }
func (s *Session) FrameRate() float64     { return s.frameRate }
func (s *Session) Ended() bool            { return s.state == Ended }

// Immersive reports whether the session is immersive-vr or immersive-ar.
func (s *Session) Immersive() bool { return s.mode != device.ModeInline }

// EnabledFeatures returns the granted features.
func (s *Session) EnabledFeatures() []string {
	return append([]string(nil), s.features...)
}

// Has reports whether a feature was granted.
func (s *Session) Has(feature string) bool {
	return slices.Contains(s.features, feature)
}

// EnvironmentBlendMode returns the device's blend mode for this session.
func (s *Session) EnvironmentBlendMode() string {
	if m, ok := s.device.Config().BlendModes[s.mode]; ok {
		return m
	}
	return "opaque"
}

// InputSources returns the device's active input sources.
func (s *Session) InputSources() []*input.Source {
	return s.device.InputSources()
}

// RenderState returns the active render state.
func (s *Session) RenderState() RenderState { return s.renderState }

// UpdateRenderState stages changes that become active at the next tick.
// Several updates before a tick merge.
func (s *Session) UpdateRenderState(init RenderStateInit) error {
	const op = "session.updateRenderState"
	if s.state == Ended {
		return xrerr.New(xrerr.InvalidState, op, "session has ended")
	}
	if init.InlineVerticalFieldOfView != nil && s.Immersive() {
		return xrerr.New(xrerr.InvalidState, op, "inline field of view cannot be set on an immersive session")
	}
	if s.pendingRender == nil {
		next := s.renderState
		s.pendingRender = &next
	}
	p := s.pendingRender
	if init.DepthNear != nil {
		p.DepthNear = *init.DepthNear
	}
	if init.DepthFar != nil {
		p.DepthFar = *init.DepthFar
	}
	if init.InlineVerticalFieldOfView != nil {
		p.InlineVerticalFieldOfView = min(max(*init.InlineVerticalFieldOfView, 1e-4), math.Pi-1e-4)
	}
	if init.BaseLayer != nil {
		p.BaseLayer = init.BaseLayer
		s.layerChanged = true
	}
	return nil
}

func (s *Session) applyPendingRenderState() {
	if s.pendingRender == nil {
		return
	}
	s.renderState = *s.pendingRender
	s.pendingRender = nil
	if s.layerChanged {
		s.layerChanged = false
		s.emit(Event{Type: EventBaseLayerChange})
	}
}

// SupportedFrameRates returns the device's frame rates.
func (s *Session) SupportedFrameRates() []float64 {
	return append([]float64(nil), s.device.Config().FrameRates...)
}

// UpdateTargetFrameRate selects one of the supported frame rates.
func (s *Session) UpdateTargetFrameRate(rate float64) error {
	const op = "session.updateTargetFrameRate"
	if s.state == Ended {
		return xrerr.New(xrerr.InvalidState, op, "session has ended")
	}
	if !slices.Contains(s.device.Config().FrameRates, rate) {
		return xrerr.New(xrerr.NotSupported, op, fmt.Sprintf("frame rate %v is not supported", rate))
	}
	if rate != s.frameRate {
		s.frameRate = rate
		s.emit(Event{Type: EventFrameRateChange})
	}
	return nil
}

// RequestReferenceSpace creates a reference space of the given kind. viewer
// is always available; other kinds need the matching feature.
func (s *Session) RequestReferenceSpace(kind space.Kind) (*space.ReferenceSpace, error) {
	const op = "session.requestReferenceSpace"
	if s.state == Ended {
		return nil, xrerr.New(xrerr.InvalidState, op, "session has ended")
	}
	if !s.Has(string(kind)) {
		return nil, xrerr.New(xrerr.NotSupported, op, fmt.Sprintf("reference space %q was not enabled", kind))
	}

	g := s.device.Graph()
	parent, offset := g.Root(), xmath.Identity()
	switch kind {
	case space.Viewer:
		parent = s.device.Viewer()
	case space.Local:
		// Eye level above the floor origin.
		offset = xmath.FromTranslation(xmath.Vec3{0, s.device.Config().FloorHeight, 0})
	}
	sp, err := g.Create(parent, offset)
	if err != nil {
		return nil, err
	}
	ref := space.NewReferenceSpace(sp, kind)
	ref.OnReset(func(r *space.ReferenceSpace) {
		s.emit(Event{Type: EventReset, ReferenceSpace: r})
	})
	s.refSpaces = append(s.refSpaces, ref)
	return ref, nil
}

// Recenter resets every spatial reference space created by this session and
// returns the number of reset notifications delivered.
func (s *Session) Recenter() int {
	n := 0
	for _, r := range s.refSpaces {
		n += r.Recenter()
	}
	return n
}

// On registers a listener for an event type and returns a function that
// removes it.
func (s *Session) On(eventType string, fn func(Event)) func() {
	l := &listener{fn: fn}
	s.listeners[eventType] = append(s.listeners[eventType], l)
	return func() {
		l.removed = true
		s.listeners[eventType] = slices.DeleteFunc(s.listeners[eventType], func(x *listener) bool { return x == l })
	}
}

func (s *Session) emit(ev Event) {
	ev.Session = s
	for _, l := range slices.Clone(s.listeners[ev.Type]) {
		if l.removed {
			continue
		}
		s.guard("event listener", slog.String("event", ev.Type), func() { l.fn(ev) })
	}
}

// End stops the session. Pending frame callbacks are cancelled, pending
// anchor requests rejected and hit-test sources dropped; an immersive session
// releases the device, which stops the native bridge. A second call fails
// InvalidState.
func (s *Session) End(ctx context.Context) error {
	if s.state == Ended {
		return xrerr.New(xrerr.InvalidState, "session.end", "session has already ended")
	}
	s.state = Ended

	for _, cb := range s.pending {
		cb.cancelled = true
	}
	for _, cb := range s.inFlight {
		cb.cancelled = true
	}
	s.pending = nil

	ended := xrerr.New(xrerr.InvalidState, "session.end", "session ended")
	for _, a := range s.anchors {
		a.settle(ended)
	}
	s.anchors = nil
	for _, h := range s.hitSources {
		h.cancelled = true
	}
	s.hitSources = nil

	if s.Immersive() {
		s.device.EndSession(ctx)
	}
	slog.Info("session ended", "session_id", s.id, "mode", s.mode, "ticks", s.clock.Current())
	s.emit(Event{Type: EventEnd})
	return nil
}
