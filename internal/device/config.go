package device

import (
	"fmt"
	"slices"

	"github.com/wem-technology/ios-webxr-sub000/internal/input"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// Session modes.
const (
	ModeInline       = "inline"
	ModeImmersiveVR  = "immersive-vr"
	ModeImmersiveAR  = "immersive-ar"
	InputController  = "controller"
	InputHand        = "hand"
	InputScreen      = "screen"
	defaultFrameRate = 60
)

// Config describes a device's capabilities. Profiles compile into it.
type Config struct {
	Name             string
	SessionModes     []string
	Features         []string
	FrameRates       []float64
	NominalFrameRate float64
	// FovY is the vertical field of view in radians.
	FovY             float64
	IPD              float64
	Stereo           bool
	Width            int
	Height           int
	FloorHeight      float64
	PrimaryInputMode string
	Controllers      []input.ControllerSpec
	Hands            bool
	BlendModes       map[string]string
}

// DefaultConfig is the handheld ARKit bridge device: monoscopic, screen
// input, 60 Hz.
func DefaultConfig() Config {
	return Config{
		Name:         "arkit-bridge",
		SessionModes: []string{ModeInline, ModeImmersiveAR},
		Features: []string{
			"viewer", "local", "local-floor", "bounded-floor", "unbounded",
			"dom-overlay", "anchors", "hit-test",
		},
		FrameRates:       []float64{60},
		NominalFrameRate: 60,
		FovY:             xmath.DegToRad(60),
		IPD:              0,
		Stereo:           false,
		Width:            1170,
		Height:           2532,
		FloorHeight:      1.6,
		PrimaryInputMode: InputScreen,
		BlendModes: map[string]string{
			ModeImmersiveAR: "alpha-blend",
			ModeInline:      "opaque",
		},
	}
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	if len(c.SessionModes) == 0 {
		return fmt.Errorf("device %q: no session modes", c.Name)
	}
	for _, m := range c.SessionModes {
		switch m {
		case ModeInline, ModeImmersiveVR, ModeImmersiveAR:
		default:
			return fmt.Errorf("device %q: unknown session mode %q", c.Name, m)
		}
	}
	if c.FovY <= 0 || c.FovY >= 3.14159 {
		return fmt.Errorf("device %q: fov must be in (0, pi)", c.Name)
	}
	if c.IPD < 0 {
		return fmt.Errorf("device %q: ipd must be non-negative", c.Name)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("device %q: resolution must be positive", c.Name)
	}
	switch c.PrimaryInputMode {
	case InputController, InputHand, InputScreen:
	default:
		return fmt.Errorf("device %q: unknown primary input mode %q", c.Name, c.PrimaryInputMode)
	}
	if c.PrimaryInputMode == InputHand && !c.Hands {
		return fmt.Errorf("device %q: primary input is hand but hands are not supported", c.Name)
	}
	if c.PrimaryInputMode == InputController && len(c.Controllers) == 0 {
		return fmt.Errorf("device %q: primary input is controller but none are declared", c.Name)
	}
	if c.NominalFrameRate > 0 && len(c.FrameRates) > 0 && !slices.Contains(c.FrameRates, c.NominalFrameRate) {
		return fmt.Errorf("device %q: nominal frame rate %v not in supported rates", c.Name, c.NominalFrameRate)
	}
	return nil
}

// SupportsMode reports whether the device accepts a session mode.
func (c Config) SupportsMode(mode string) bool {
	return slices.Contains(c.SessionModes, mode)
}

// SupportsFeature reports whether the device offers a feature.
func (c Config) SupportsFeature(f string) bool {
	return slices.Contains(c.Features, f)
}

// FrameRate returns the nominal frame rate, defaulting to 60.
func (c Config) FrameRate() float64 {
	if c.NominalFrameRate > 0 {
		return c.NominalFrameRate
	}
	return defaultFrameRate
}
