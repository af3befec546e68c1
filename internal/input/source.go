// Package input models XR input sources: gamepads with per-tick edge
// detection, tracked controllers and articulated hands.
package input

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/wem-technology/ios-webxr-sub000/internal/space"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// Handedness of an input source.
type Handedness string

const (
	HandNone  Handedness = "none"
	HandLeft  Handedness = "left"
	HandRight Handedness = "right"
)

// ParseHandedness validates a handedness name.
func ParseHandedness(s string) (Handedness, error) {
	switch h := Handedness(s); h {
	case HandNone, HandLeft, HandRight:
		return h, nil
	}
	return "", fmt.Errorf("unknown handedness %q", s)
}

// TargetRayMode describes how the target ray is produced.
type TargetRayMode string

const (
	Gaze             TargetRayMode = "gaze"
	TrackedPointer   TargetRayMode = "tracked-pointer"
	Screen           TargetRayMode = "screen"
	TransientPointer TargetRayMode = "transient-pointer"
)

// NormalizeProfile canonicalizes an input profile id: trimmed, NFC, lower case.
func NormalizeProfile(p string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(p)))
}

// Source is an input source as seen by a session.
type Source struct {
	handedness     Handedness
	targetRayMode  TargetRayMode
	profiles       []string
	gripSpace      space.Space
	targetRaySpace space.Space
	gamepad        *Gamepad
	hand           *Hand
	connected      bool
}

func (s *Source) Handedness() Handedness       { return s.handedness }
func (s *Source) TargetRayMode() TargetRayMode { return s.targetRayMode }
func (s *Source) Profiles() []string           { return append([]string(nil), s.profiles...) }
func (s *Source) TargetRaySpace() space.Space  { return s.targetRaySpace }
func (s *Source) Gamepad() *Gamepad            { return s.gamepad }
func (s *Source) Hand() *Hand                  { return s.hand }
func (s *Source) Connected() bool              { return s.connected }

// GripSpace returns the grip space; false for sources without one.
func (s *Source) GripSpace() (space.Space, bool) {
	return s.gripSpace, s.gripSpace.Valid()
}

// SetConnected toggles membership in the active input set.
func (s *Source) SetConnected(v bool) { s.connected = v }

// SetGripPose sets the grip space offset relative to its parent.
func (s *Source) SetGripPose(t xmath.Transform) error {
	if !s.gripSpace.Valid() {
		return s.targetRaySpace.SetTransform(t)
	}
	return s.gripSpace.SetTransform(t)
}

// SetTargetRayPose sets the target ray offset relative to its parent.
func (s *Source) SetTargetRayPose(t xmath.Transform) error {
	return s.targetRaySpace.SetTransform(t)
}

// Update advances the gamepad and, for hands, re-poses the joints.
func (s *Source) Update() []ButtonEvent {
	var events []ButtonEvent
	if s.gamepad != nil {
		events = s.gamepad.Update()
	}
	if s.hand != nil {
		s.hand.update(s.gamepad)
	}
	return events
}

// Key identifies a source within a device.
func (s *Source) Key() string {
	kind := "controller"
	if s.hand != nil {
		kind = "hand"
	}
	return fmt.Sprintf("%s/%s/%s", kind, s.handedness, s.targetRayMode)
}

func normalizeProfiles(profiles []string) []string {
	out := make([]string, 0, len(profiles))
	for _, p := range profiles {
		if p = NormalizeProfile(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ControllerSpec declares a tracked controller.
type ControllerSpec struct {
	Handedness Handedness
	Profiles   []string
	Layout     Layout
}

// NewController creates a tracked-pointer controller whose grip space hangs
// off parent and whose target ray space hangs off the grip.
func NewController(g *space.Graph, parent space.Space, spec ControllerSpec) (*Source, error) {
	grip, err := g.Create(parent, xmath.Identity())
	if err != nil {
		return nil, fmt.Errorf("create grip space: %w", err)
	}
	ray, err := g.Create(grip, xmath.Identity())
	if err != nil {
		return nil, fmt.Errorf("create target ray space: %w", err)
	}
	if spec.Layout.Mapping == "" {
		spec.Layout.Mapping = StandardMapping
	}
	return &Source{
		handedness:     spec.Handedness,
		targetRayMode:  TrackedPointer,
		profiles:       normalizeProfiles(spec.Profiles),
		gripSpace:      grip,
		targetRaySpace: ray,
		gamepad:        NewGamepad(spec.Layout),
	}, nil
}

// ScreenLayout is the single select button of a screen touch source.
var ScreenLayout = Layout{
	Buttons: []ButtonSpec{{ID: "select", Type: Binary, EventTrigger: "select"}},
}

// NewScreenSource creates a transient screen-tap source whose target ray
// hangs off the viewer.
func NewScreenSource(g *space.Graph, viewer space.Space) (*Source, error) {
	ray, err := g.Create(viewer, xmath.Identity())
	if err != nil {
		return nil, fmt.Errorf("create target ray space: %w", err)
	}
	return &Source{
		handedness:     HandNone,
		targetRayMode:  Screen,
		profiles:       []string{"generic-touchscreen"},
		targetRaySpace: ray,
		gamepad:        NewGamepad(ScreenLayout),
	}, nil
}
