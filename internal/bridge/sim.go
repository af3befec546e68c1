package bridge

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/wem-technology/ios-webxr-sub000/internal/env"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// SimFloorID is the stable id of the simulated floor plane.
const SimFloorID = "5F1C0D2A-0000-4000-8000-00000000F100"

// SimConfig scripts the simulated tracker.
type SimConfig struct {
	// Rate is the update frequency in Hz.
	Rate float64
	// OrbitRadius and OrbitPeriod describe the device's circular path around
	// its start position.
	OrbitRadius float64
	OrbitPeriod time.Duration
	FovY        float64
	// Aspect is viewport width over height.
	Aspect         float64
	ImageWidth     int
	ImageHeight    int
	LightIntensity float64
}

// DefaultSimConfig is a slow 0.5 m orbit at 60 Hz with a portrait camera.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Rate:           60,
		OrbitRadius:    0.5,
		OrbitPeriod:    10 * time.Second,
		FovY:           xmath.DegToRad(60),
		Aspect:         1170.0 / 2532.0,
		ImageWidth:     360,
		ImageHeight:    640,
		LightIntensity: 800,
	}
}

// SimTracker is a scripted world tracker for headless runs. The device
// starts 1.6 m above a 4 m floor plane and circles its start position
// while facing -Z.
type SimTracker struct {
	cfg   SimConfig
	world *env.Environment

	mu      sync.Mutex
	origin  xmath.Mat4
	camera  xmath.Mat4
	elapsed time.Duration
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSimTracker creates a tracker over a floor plane with SimFloorID.
func NewSimTracker(cfg SimConfig) *SimTracker {
	if cfg.Rate <= 0 {
		cfg.Rate = 60
	}
	return &SimTracker{
		cfg:    cfg,
		world:  env.DefaultRoom(SimFloorID),
		origin: xmath.Identity(),
		camera: xmath.Identity(),
	}
}

// Start begins streaming. A second Start restarts tracking.
func (s *SimTracker) Start(ctx context.Context, originOffset xmath.Mat4) (<-chan TrackedFrame, error) {
	s.Pause()

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return nil, errors.New("sim tracker: context already done")
	}
	s.origin = originOffset
	s.elapsed = 0
	s.camera = s.cameraAt(0)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	out := make(chan TrackedFrame, 1)
	go s.run(ctx, out, done)
	return out, nil
}

// Pause stops the stream and waits for it to close.
func (s *SimTracker) Pause() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *SimTracker) run(ctx context.Context, out chan<- TrackedFrame, done chan struct{}) {
	defer close(done)
	defer close(out)

	interval := time.Duration(float64(time.Second) / s.cfg.Rate)
	tk := time.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			f := s.Step(interval)
			select {
			case out <- f:
			case <-ctx.Done():
				return
			default:
				// Consumer is behind; the newest update wins next time.
			}
		}
	}
}

// Step advances the script by d and returns the resulting update. Run
// calls it on every tick; tests call it directly.
func (s *SimTracker) Step(d time.Duration) TrackedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed += d
	s.camera = s.cameraAt(s.elapsed)
	return TrackedFrame{
		Timestamp:      s.elapsed.Seconds(),
		View:           xmath.Invert(s.camera),
		FovY:           s.cfg.FovY,
		LightIntensity: s.cfg.LightIntensity,
		Image:          s.image(),
	}
}

// cameraAt is the camera-to-world matrix at t, in the shifted world.
func (s *SimTracker) cameraAt(t time.Duration) xmath.Mat4 {
	var angle float64
	if s.cfg.OrbitPeriod > 0 {
		angle = 2 * math.Pi * t.Seconds() / s.cfg.OrbitPeriod.Seconds()
	}
	r := s.cfg.OrbitRadius
	// Device pose relative to its start point.
	local := xmath.FromTranslation(xmath.Vec3{r * math.Sin(angle), 0, r * (1 - math.Cos(angle))})
	// The world origin sits originOffset from the start point.
	return xmath.Compose(xmath.Invert(s.origin), local)
}

// image draws a gradient that shifts with the orbit so successive frames
// differ.
func (s *SimTracker) image() image.Image {
	w, h := s.cfg.ImageWidth, s.cfg.ImageHeight
	if w <= 0 || h <= 0 {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shift := uint8(int(s.elapsed.Milliseconds()/16) % 256)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x*255/w) + shift,
				G: uint8(y * 255 / h),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

// Camera returns the current camera-to-world matrix.
func (s *SimTracker) Camera() xmath.Mat4 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

// Raycast casts from the current camera through a normalized screen point
// against the floor plane.
func (s *SimTracker) Raycast(x, y float64, target RaycastTarget) []TrackerHit {
	s.mu.Lock()
	camera := s.camera
	s.mu.Unlock()

	t := math.Tan(s.cfg.FovY / 2)
	aspect := s.cfg.Aspect
	if aspect <= 0 {
		aspect = 1
	}
	local := xmath.NewRay(xmath.Vec3{}, xmath.Vec3{(2*x - 1) * t * aspect, (1 - 2*y) * t, -1})
	ray := local.Transform(camera)

	var hits []env.Hit
	switch target {
	case ExistingPlaneGeometry:
		hits = s.world.RaycastExisting(ray)
	case EstimatedPlane:
		hits = s.world.RaycastEstimated(ray)
	}
	out := make([]TrackerHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, TrackerHit{WorldTransform: h.Transform, AnchorID: h.PlaneID})
	}
	return out
}
