// Package device emulates the XR device: viewer and eye spaces, the fixed set
// of input sources, the live pose slot fed by the sensor bridge and the
// optional action player.
//
// Per tick the device is driven by exactly one of live bridge data or
// playback, never both.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"

	"github.com/wem-technology/ios-webxr-sub000/internal/env"
	"github.com/wem-technology/ios-webxr-sub000/internal/input"
	"github.com/wem-technology/ios-webxr-sub000/internal/recorder"
	"github.com/wem-technology/ios-webxr-sub000/internal/space"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

// SessionOptions is what a session asks of the native bridge.
type SessionOptions struct {
	Mode         string
	CameraAccess bool
	Features     []string
}

// Access is the bridge's answer to a session request.
type Access struct {
	CameraAccess bool `json:"cameraAccess"`
	WorldAccess  bool `json:"worldAccess"`
	WebXRAccess  bool `json:"webXRAccess"`
}

// RaycastHit is a native raycast result. UUID is set for tracked surfaces.
type RaycastHit struct {
	Transform xmath.Mat4
	UUID      string
}

// NativeBridge is the device-side view of the sensor bridge.
type NativeBridge interface {
	RequestSession(ctx context.Context, opts SessionOptions) (Access, error)
	Stop(ctx context.Context) error
	// Raycast casts through a normalized screen point.
	Raycast(ctx context.Context, x, y float64) ([]RaycastHit, error)
}

// InputEvent is a button edge attributed to its source.
type InputEvent struct {
	Source *input.Source
	Button string
	Type   string
}

// Option configures a Device.
type Option func(*Device)

// WithBridge attaches a native sensor bridge.
func WithBridge(b NativeBridge) Option {
	return func(d *Device) { d.bridge = b }
}

// WithEnvironment attaches a synthetic environment for hit testing.
func WithEnvironment(e *env.Environment) Option {
	return func(d *Device) { d.env = e }
}

// Device is the emulated headset or handheld.
type Device struct {
	cfg    Config
	graph  *space.Graph
	viewer space.Space
	eyes   []space.Space

	fovY   float64
	ipd    float64
	stereo bool

	controllers []*input.Source
	hands       []*input.Source
	screen      *input.Source
	primary     string
	active      []*input.Source
	releasing   map[*input.Source]bool

	mailbox        *Mailbox
	bridge         NativeBridge
	env            *env.Environment
	lightIntensity float64
	image          *Image

	player      *recorder.Player
	playStarted bool
	playback    map[int]*input.Source

	sessionLive bool
}

// New builds a device from a validated config.
func New(cfg Config, opts ...Option) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := space.NewGraph()
	viewer, err := g.Create(g.Root(), xmath.FromTranslation(xmath.Vec3{0, cfg.FloorHeight, 0}))
	if err != nil {
		return nil, err
	}
	viewer.SetEmulated(true)

	d := &Device{
		cfg:            cfg,
		graph:          g,
		viewer:         viewer,
		fovY:           cfg.FovY,
		ipd:            cfg.IPD,
		stereo:         cfg.Stereo,
		releasing:      make(map[*input.Source]bool),
		mailbox:        NewMailbox(),
		lightIntensity: 1000,
		playback:       make(map[int]*input.Source),
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, spec := range cfg.Controllers {
		src, err := input.NewController(g, g.Root(), spec)
		if err != nil {
			return nil, fmt.Errorf("controller %s: %w", spec.Handedness, err)
		}
		d.controllers = append(d.controllers, src)
	}
	if cfg.Hands {
		for _, h := range []input.Handedness{input.HandLeft, input.HandRight} {
			src, err := input.NewHand(g, g.Root(), h, nil)
			if err != nil {
				return nil, fmt.Errorf("hand %s: %w", h, err)
			}
			d.hands = append(d.hands, src)
		}
	}
	if d.screen, err = input.NewScreenSource(g, viewer); err != nil {
		return nil, fmt.Errorf("screen source: %w", err)
	}
	if err := d.rebuildEyes(); err != nil {
		return nil, err
	}
	d.SetPrimaryInputMode(cfg.PrimaryInputMode)
	return d, nil
}

func (d *Device) Config() Config                { return d.cfg }
func (d *Device) Graph() *space.Graph           { return d.graph }
func (d *Device) Root() space.Space             { return d.graph.Root() }
func (d *Device) Viewer() space.Space           { return d.viewer }
func (d *Device) Mailbox() *Mailbox             { return d.mailbox }
func (d *Device) Bridge() NativeBridge          { return d.bridge }
func (d *Device) Environment() *env.Environment { return d.env }
func (d *Device) FovY() float64                 { return d.fovY }
func (d *Device) IPD() float64                  { return d.ipd }
func (d *Device) Stereo() bool                  { return d.stereo }
func (d *Device) LightIntensity() float64       { return d.lightIntensity }
func (d *Device) PrimaryInputMode() string      { return d.primary }
func (d *Device) Screen() *input.Source         { return d.screen }

// Resolution returns the full framebuffer size.
func (d *Device) Resolution() (int, int) { return d.cfg.Width, d.cfg.Height }

// Image returns the passthrough image delivered in the current tick, if any.
func (d *Device) Image() *Image { return d.image }

// Eyes returns the per-eye spaces: left then right when stereo, otherwise
// the single viewer-aligned eye.
func (d *Device) Eyes() []space.Space {
	return append([]space.Space(nil), d.eyes...)
}

// SetBridge attaches or replaces the native bridge.
func (d *Device) SetBridge(b NativeBridge) { d.bridge = b }

// SetEnvironment attaches or replaces the synthetic environment.
func (d *Device) SetEnvironment(e *env.Environment) { d.env = e }

// SetFovY sets the vertical field of view in radians.
func (d *Device) SetFovY(v float64) error {
	if v <= 0 || v >= math.Pi {
		return xrerr.New(xrerr.OutOfRange, "device.setFovY", fmt.Sprintf("fov %v outside (0, pi)", v))
	}
	d.fovY = v
	return nil
}

// SetIPD changes the interpupillary distance and repositions the eyes.
func (d *Device) SetIPD(v float64) error {
	if v < 0 {
		return xrerr.New(xrerr.OutOfRange, "device.setIPD", "ipd must be non-negative")
	}
	d.ipd = v
	return d.rebuildEyes()
}

// SetStereo toggles stereo rendering and repositions the eyes.
func (d *Device) SetStereo(v bool) error {
	d.stereo = v
	return d.rebuildEyes()
}

func (d *Device) rebuildEyes() error {
	want := 1
	if d.stereo {
		want = 2
	}
	for len(d.eyes) < want {
		s, err := d.graph.Create(d.viewer, xmath.Identity())
		if err != nil {
			return err
		}
		d.eyes = append(d.eyes, s)
	}
	for len(d.eyes) > want {
		last := d.eyes[len(d.eyes)-1]
		if err := d.graph.Remove(last); err != nil {
			return err
		}
		d.eyes = d.eyes[:len(d.eyes)-1]
	}
	if !d.stereo {
		return d.eyes[0].SetOffset(xmath.Identity())
	}
	half := d.ipd / 2
	if err := d.eyes[0].SetOffset(xmath.FromTranslation(xmath.Vec3{-half, 0, 0})); err != nil {
		return err
	}
	return d.eyes[1].SetOffset(xmath.FromTranslation(xmath.Vec3{half, 0, 0}))
}

// SetPose drives the viewer manually and marks it emulated.
func (d *Device) SetPose(t xmath.Transform) error {
	d.viewer.SetEmulated(true)
	return d.viewer.SetTransform(t)
}

// Controller returns the controller of the given hand.
func (d *Device) Controller(h input.Handedness) (*input.Source, bool) {
	for _, c := range d.controllers {
		if c.Handedness() == h {
			return c, true
		}
	}
	return nil, false
}

// Hand returns the hand source of the given side.
func (d *Device) Hand(h input.Handedness) (*input.Source, bool) {
	for _, s := range d.hands {
		if s.Handedness() == h {
			return s, true
		}
	}
	return nil, false
}

// SetPrimaryInputMode connects either the controllers or the hands. Screen
// mode connects nothing until the screen is touched.
func (d *Device) SetPrimaryInputMode(mode string) {
	d.primary = mode
	for _, c := range d.controllers {
		c.SetConnected(mode == InputController)
	}
	for _, h := range d.hands {
		h.SetConnected(mode == InputHand)
	}
}

// Touch presses or releases the screen at a normalized point. The screen
// source is connected while touched and disconnected one tick after release
// so its end event is still delivered.
func (d *Device) Touch(x, y float64, down bool) error {
	if x < 0 || x > 1 || y < 0 || y > 1 {
		return xrerr.New(xrerr.OutOfRange, "device.touch", fmt.Sprintf("point (%v, %v) outside the screen", x, y))
	}
	if down {
		if err := d.screen.SetTargetRayPose(xmath.TransformFromMatrix(d.ScreenRay(x, y).Matrix())); err != nil {
			return err
		}
		d.screen.SetConnected(true)
		delete(d.releasing, d.screen)
		return d.screen.Gamepad().SetButtonValue("select", 1)
	}
	if !d.screen.Connected() {
		return nil
	}
	d.releasing[d.screen] = true
	return d.screen.Gamepad().SetButtonValue("select", 0)
}

// ScreenRay returns the viewer-space ray through a normalized screen point.
func (d *Device) ScreenRay(x, y float64) xmath.Ray {
	w, h := d.Resolution()
	aspect := float64(w) / float64(h)
	t := math.Tan(d.fovY / 2)
	ndcX, ndcY := 2*x-1, 1-2*y
	return xmath.NewRay(xmath.Vec3{}, xmath.Vec3{ndcX * t * aspect, ndcY * t, -1})
}

// BeginSession claims the device for a live session.
func (d *Device) BeginSession() error {
	if d.sessionLive {
		return xrerr.New(xrerr.InvalidState, "device.beginSession", "device already has a live session")
	}
	d.sessionLive = true
	return nil
}

// EndSession releases the device and stops the bridge. Called exactly once
// per live session.
func (d *Device) EndSession(ctx context.Context) {
	if !d.sessionLive {
		return
	}
	d.sessionLive = false
	d.image = nil
	if d.bridge != nil {
		if err := d.bridge.Stop(ctx); err != nil {
			slog.Warn("bridge stop failed", "error", err)
		}
	}
}

// SessionLive reports whether a live session holds the device.
func (d *Device) SessionLive() bool { return d.sessionLive }

// Sync pulls this tick's pose: from playback when the player is active,
// otherwise from the live slot. dtMs advances the player before it is
// sampled, except on the first tick after Play, which shows the first frame.
func (d *Device) Sync(dtMs float64) error {
	d.image = nil
	if d.Playing() {
		if d.playStarted {
			d.player.Advance(dtMs)
		}
		d.playStarted = true
	}
	if d.Playing() {
		// Live data is dropped while replaying.
		d.mailbox.Take()
		return d.applyPlayback()
	}
	if len(d.playback) > 0 {
		d.endPlayback()
	}

	frame, fresh, img := d.mailbox.Take()
	if fresh {
		d.viewer.SetEmulated(false)
		if err := d.viewer.SetOffset(frame.CameraTransform); err != nil {
			return err
		}
		if fov, ok := xmath.FovYFromProjection(frame.Projection); ok {
			d.fovY = fov
		}
		if frame.LightIntensity > 0 {
			d.lightIntensity = frame.LightIntensity
		}
	}
	d.image = img
	return nil
}

// UpdateInputs advances every connected source and recomputes the active
// set. Returns the button edges plus the sources that joined and left.
func (d *Device) UpdateInputs() (events []InputEvent, added, removed []*input.Source) {
	for _, src := range d.allSources() {
		if !src.Connected() {
			continue
		}
		for _, ev := range src.Update() {
			events = append(events, InputEvent{Source: src, Button: ev.Button, Type: ev.Type})
		}
	}
	for src := range d.releasing {
		src.SetConnected(false)
		delete(d.releasing, src)
	}

	next := d.InputSources()
	for _, src := range next {
		if !slices.Contains(d.active, src) {
			added = append(added, src)
		}
	}
	// Playback sources may already be gone from allSources, so diff against
	// the previous active list.
	for _, src := range d.active {
		if !slices.Contains(next, src) {
			removed = append(removed, src)
		}
	}
	d.active = next
	return events, added, removed
}

// InputSources returns the connected sources in a stable order.
func (d *Device) InputSources() []*input.Source {
	var out []*input.Source
	for _, src := range d.allSources() {
		if src.Connected() {
			out = append(out, src)
		}
	}
	return out
}

func (d *Device) allSources() []*input.Source {
	out := make([]*input.Source, 0, len(d.controllers)+len(d.hands)+1+len(d.playback))
	out = append(out, d.controllers...)
	out = append(out, d.hands...)
	out = append(out, d.screen)
	for _, i := range slices.Sorted(maps.Keys(d.playback)) {
		out = append(out, d.playback[i])
	}
	return out
}
