// Package bridge is the native sensor bridge: it owns the world-tracking
// session, turns tracked updates into camera pose and projection payloads,
// encodes throttled passthrough images and answers raycasts.
//
// Updates flow two ways. The device mailbox receives every update for the
// in-process scheduler. A connected page receives them through its data
// callback, one at a time: a new update is skipped until the page sends
// frameDone for the previous one.
package bridge

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wem-technology/ios-webxr-sub000/internal/device"
	"github.com/wem-technology/ios-webxr-sub000/internal/metrics"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

// SendFunc delivers a reply to the page.
type SendFunc func(Reply)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMailbox sets the device mailbox that receives every update.
func WithMailbox(m *device.Mailbox) Option {
	return func(c *Coordinator) { c.mailbox = m }
}

// WithViewport sets the page viewport in pixels.
func WithViewport(w, h int) Option {
	return func(c *Coordinator) { c.viewportW, c.viewportH = w, h }
}

// WithVideoFrameSkip sets the image throttle.
func WithVideoFrameSkip(n int) Option {
	return func(c *Coordinator) { c.processor = NewFrameProcessor(n) }
}

// WithActiveHook is called with true when tracking starts and false when it
// stops.
func WithActiveHook(fn func(bool)) Option {
	return func(c *Coordinator) { c.onActive = fn }
}

// Coordinator drives a Tracker for one session at a time. It implements
// device.NativeBridge.
type Coordinator struct {
	tracker   Tracker
	processor *FrameProcessor
	mailbox   *device.Mailbox
	viewportW int
	viewportH int
	onActive  func(bool)

	mu           sync.Mutex
	running      bool
	cameraAccess bool
	send         SendFunc
	dataCallback string
	pendingImage *device.Image
	cancel       context.CancelFunc
	done         chan struct{}

	inFlight atomic.Bool
	encoding atomic.Bool
	encoders sync.WaitGroup
}

var _ device.NativeBridge = (*Coordinator)(nil)

// NewCoordinator creates a coordinator for tracker. The default viewport is
// the bridge device's screen.
func NewCoordinator(tracker Tracker, opts ...Option) *Coordinator {
	c := &Coordinator{
		tracker:   tracker,
		processor: NewFrameProcessor(DefaultVideoFrameSkip),
		viewportW: 1170,
		viewportH: 2532,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Running reports whether a tracking session is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// CameraAccess reports whether the active session requested camera images.
func (c *Coordinator) CameraAccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cameraAccess
}

// InitAR returns the device identifier.
func (c *Coordinator) InitAR() string { return DeviceID }

// RequestSession starts tracking for the in-process device.
func (c *Coordinator) RequestSession(ctx context.Context, opts device.SessionOptions) (device.Access, error) {
	return c.startSession(ctx, opts.CameraAccess, nil, "")
}

// Stop ends tracking without asking the page to reload.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopSession(false)
	return nil
}

// Close stops tracking, asks a connected page to reload and waits for any
// image encode in progress.
func (c *Coordinator) Close() {
	c.stopSession(true)
	c.encoders.Wait()
}

// Raycast casts through a normalized screen point: tracked plane geometry
// first, estimated planes when that finds nothing.
func (c *Coordinator) Raycast(ctx context.Context, x, y float64) ([]device.RaycastHit, error) {
	if !c.Running() {
		return nil, xrerr.New(xrerr.BridgeUnavailable, "bridge.raycast", "tracking session is not running")
	}
	hits := c.raycast(x, y)
	out := make([]device.RaycastHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, device.RaycastHit{Transform: h.WorldTransform, UUID: h.AnchorID})
	}
	return out, nil
}

func (c *Coordinator) raycast(x, y float64) []TrackerHit {
	if hits := c.tracker.Raycast(x, y, ExistingPlaneGeometry); len(hits) > 0 {
		return hits
	}
	return c.tracker.Raycast(x, y, EstimatedPlane)
}

// HandleMessage runs one page message. Replies go through send.
func (c *Coordinator) HandleMessage(ctx context.Context, m Message, send SendFunc) error {
	if m.ErrorMessage != "" {
		slog.Warn("page reported error", "message", m.ErrorMessage)
		metrics.BridgeMessages.WithLabelValues("page_error", "ok").Inc()
		return nil
	}

	err := c.dispatch(ctx, m, send)
	result := "ok"
	if err != nil {
		result = "error"
		if m.Callback != "" {
			send(Reply{Type: ReplyError, Callback: m.Callback, Data: err.Error()})
		}
	}
	metrics.BridgeMessages.WithLabelValues(m.Type, result).Inc()
	return err
}

func (c *Coordinator) dispatch(ctx context.Context, m Message, send SendFunc) error {
	switch m.Type {
	case MsgInitAR:
		if m.Callback != "" {
			send(Reply{Type: ReplyCallback, Callback: m.Callback, Data: c.InitAR()})
		}
	case MsgRequestSession:
		cameraAccess := m.Options != nil && m.Options.ComputerVisionData
		access, err := c.startSession(ctx, cameraAccess, send, m.DataCallback)
		if err != nil {
			return err
		}
		if m.Callback != "" {
			send(Reply{Type: ReplyCallback, Callback: m.Callback, Data: access})
		}
	case MsgStopAR:
		c.stopSession(false)
	case MsgHitTest:
		if m.X == nil || m.Y == nil {
			return xrerr.New(xrerr.OutOfRange, "bridge.hitTest", "x and y are required")
		}
		hits := c.raycast(*m.X, *m.Y)
		payload := make([]HitPayload, 0, len(hits))
		for _, h := range hits {
			payload = append(payload, HitPayload{WorldTransform: xmath.ToArray(h.WorldTransform), UUID: h.AnchorID})
		}
		send(Reply{Type: ReplyCallback, Callback: m.Callback, Data: payload})
	case MsgFrameDone:
		c.inFlight.Store(false)
	}
	return nil
}

// startSession (re)starts tracking with the world origin moved FloorHeight
// below the device.
func (c *Coordinator) startSession(ctx context.Context, cameraAccess bool, send SendFunc, dataCallback string) (device.Access, error) {
	c.stopSession(false)

	frames, err := c.tracker.Start(context.Background(), xmath.FromTranslation(xmath.Vec3{0, -FloorHeight, 0}))
	if err != nil {
		return device.Access{}, xrerr.Wrap(xrerr.BridgeUnavailable, "bridge.requestSession", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.running = true
	c.cameraAccess = cameraAccess
	c.send = send
	c.dataCallback = dataCallback
	c.pendingImage = nil
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()
	c.inFlight.Store(false)

	go c.run(loopCtx, frames, done)

	slog.Info("tracking session started", "camera_access", cameraAccess, "page", send != nil)
	if c.onActive != nil {
		c.onActive(true)
	}
	return device.Access{CameraAccess: cameraAccess, WorldAccess: true, WebXRAccess: true}, nil
}

// stopSession pauses tracking. With notify, a connected page is asked to
// reload.
func (c *Coordinator) stopSession(notify bool) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cameraAccess = false
	send := c.send
	c.send = nil
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	cancel()
	c.tracker.Pause()
	<-done
	c.inFlight.Store(false)

	slog.Info("tracking session stopped")
	if c.onActive != nil {
		c.onActive(false)
	}
	if notify && send != nil {
		send(Reply{Type: ReplyReload})
	}
}

func (c *Coordinator) run(ctx context.Context, frames <-chan TrackedFrame, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			c.handleFrame(f)
		}
	}
}

// handleFrame builds and publishes one update. The mailbox always gets it;
// the page gets it only when its previous update was acknowledged.
func (c *Coordinator) handleFrame(f TrackedFrame) {
	c.mu.Lock()
	running, cameraAccess := c.running, c.cameraAccess
	send, dataCallback := c.send, c.dataCallback
	c.mu.Unlock()
	if !running {
		return
	}

	data := c.buildFrame(f)
	if c.processor.ShouldProcess(cameraAccess) && f.Image != nil {
		c.encodeAsync(f.Image)
	}
	deliver := send != nil && c.inFlight.CompareAndSwap(false, true)
	if c.mailbox != nil {
		c.mailbox.PutFrame(data.LiveFrame())
	}
	if send == nil {
		metrics.BridgeFrames.WithLabelValues("delivered").Inc()
		return
	}
	if !deliver {
		metrics.BridgeFrames.WithLabelValues("skipped").Inc()
		return
	}
	if img := c.takePendingImage(); img != nil {
		data.VideoData = img.Data
		data.VideoWidth = img.Width
		data.VideoHeight = img.Height
		data.VideoUpdated = true
	}
	send(Reply{Type: ReplyData, Callback: dataCallback, Data: data})
	metrics.BridgeFrames.WithLabelValues("delivered").Inc()
}

// buildFrame computes the pose payload. The camera transform is the inverse
// of the view matrix.
func (c *Coordinator) buildFrame(f TrackedFrame) FrameData {
	aspect := float64(c.viewportW) / float64(c.viewportH)
	proj := xmath.Perspective(f.FovY, aspect, ProjectionNear, ProjectionFar)
	light := f.LightIntensity
	if light <= 0 {
		light = DefaultLightIntensity
	}
	return FrameData{
		Timestamp:        f.Timestamp * 1000,
		LightIntensity:   light,
		CameraTransform:  xmath.ToArray(xmath.InvertGeneral(f.View)),
		CameraView:       xmath.ToArray(f.View),
		ProjectionCamera: xmath.ToArray(proj),
	}
}

// encodeAsync encodes img off the update loop. At most one encode runs at a
// time; an update that lands while one is running keeps no image.
func (c *Coordinator) encodeAsync(img image.Image) {
	if c.encoding.Swap(true) {
		metrics.ImageEncodes.WithLabelValues("busy").Inc()
		return
	}
	c.encoders.Add(1)
	go func() {
		defer c.encoders.Done()
		defer c.encoding.Store(false)

		out, err := c.processor.Encode(img, c.viewportW, c.viewportH)
		if err != nil {
			metrics.ImageEncodes.WithLabelValues("error").Inc()
			slog.Warn("image encode failed", "error", err)
			return
		}
		metrics.ImageEncodes.WithLabelValues("ok").Inc()
		if c.mailbox != nil {
			c.mailbox.PutImage(out)
		}
		c.mu.Lock()
		c.pendingImage = &out
		c.mu.Unlock()
	}()
}

func (c *Coordinator) takePendingImage() *device.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	img := c.pendingImage
	c.pendingImage = nil
	return img
}
