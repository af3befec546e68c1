package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/wem-technology/ios-webxr-sub000/internal/device"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

// Scenario is a scripted XR session: a device profile, a session request,
// a list of steps and the assertions checked after the last step.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Profile is a built-in profile name or a path to a .cue file. Empty uses
	// the default profile.
	Profile string `yaml:"profile,omitempty"`

	// Mode is the session mode. Defaults to the first immersive mode the
	// profile supports.
	Mode string `yaml:"mode,omitempty"`

	// Features are required session features.
	Features []string `yaml:"features,omitempty"`

	// TickRate is the frame clock rate in Hz. Defaults to 60.
	TickRate float64 `yaml:"tick_rate,omitempty"`

	// Record captures an action recording of the run.
	Record bool `yaml:"record,omitempty"`

	// CameraAccess asks the bridge for passthrough images (immersive-ar).
	CameraAccess bool `yaml:"camera_access,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Vec is a YAML 3-vector.
type Vec [3]float64

// PoseStep sets the viewer pose. Orientation is x, y, z, w; omitted means
// identity.
type PoseStep struct {
	Position    Vec       `yaml:"position"`
	Orientation []float64 `yaml:"orientation,omitempty"`
}

// InputStep sets one gamepad control on a controller or hand.
type InputStep struct {
	// Hand is left or right.
	Hand string `yaml:"hand"`

	// Source is controller (default) or hand.
	Source string  `yaml:"source,omitempty"`
	ID     string  `yaml:"id"`
	Value  float64 `yaml:"value"`
}

// TouchStep presses or releases the screen.
type TouchStep struct {
	X    float64 `yaml:"x"`
	Y    float64 `yaml:"y"`
	Down bool    `yaml:"down"`
}

// AnchorStep creates a named anchor at a position in a reference space.
type AnchorStep struct {
	Name     string `yaml:"name"`
	Position Vec    `yaml:"position"`

	// Space is a reference space kind. Defaults to local.
	Space string `yaml:"space,omitempty"`
}

// HitTestStep requests a named hit-test source.
type HitTestStep struct {
	Name string `yaml:"name"`

	// Space is a reference space kind. Defaults to viewer.
	Space  string `yaml:"space,omitempty"`
	Origin Vec    `yaml:"origin,omitempty"`

	// Direction defaults to straight ahead (0, 0, -1).
	Direction *Vec `yaml:"direction,omitempty"`
}

// RenderStep stages render-state changes.
type RenderStep struct {
	DepthNear *float64 `yaml:"depth_near,omitempty"`
	DepthFar  *float64 `yaml:"depth_far,omitempty"`
	Layer     string   `yaml:"layer,omitempty"`
}

// Step is one scenario action. Exactly one action field must be set.
type Step struct {
	Tick          int          `yaml:"tick,omitempty"`
	Pose          *PoseStep    `yaml:"pose,omitempty"`
	LivePose      *PoseStep    `yaml:"live_pose,omitempty"`
	Button        *InputStep   `yaml:"button,omitempty"`
	Axis          *InputStep   `yaml:"axis,omitempty"`
	Touch         *TouchStep   `yaml:"touch,omitempty"`
	InputMode     string       `yaml:"input_mode,omitempty"`
	CreateAnchor  *AnchorStep  `yaml:"create_anchor,omitempty"`
	DeleteAnchor  string       `yaml:"delete_anchor,omitempty"`
	PersistAnchor string       `yaml:"persist_anchor,omitempty"`
	RestoreAnchor string       `yaml:"restore_anchor,omitempty"`
	ForgetAnchor  string       `yaml:"forget_anchor,omitempty"`
	HitTest       *HitTestStep `yaml:"hit_test,omitempty"`
	CancelHitTest string       `yaml:"cancel_hit_test,omitempty"`
	RenderState   *RenderStep  `yaml:"render_state,omitempty"`
	FrameRate     float64      `yaml:"frame_rate,omitempty"`
	Recenter      bool         `yaml:"recenter,omitempty"`
	End           bool         `yaml:"end,omitempty"`

	// ExpectError is the error code this step must fail with, such as
	// INVALID_STATE. Empty means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Kind names the step's action.
func (s Step) Kind() string {
	kinds := s.kinds()
	if len(kinds) == 1 {
		return kinds[0]
	}
	return ""
}

func (s Step) kinds() []string {
	var k []string
	add := func(set bool, name string) {
		if set {
			k = append(k, name)
		}
	}
	add(s.Tick != 0, "tick")
	add(s.Pose != nil, "pose")
	add(s.LivePose != nil, "live_pose")
	add(s.Button != nil, "button")
	add(s.Axis != nil, "axis")
	add(s.Touch != nil, "touch")
	add(s.InputMode != "", "input_mode")
	add(s.CreateAnchor != nil, "create_anchor")
	add(s.DeleteAnchor != "", "delete_anchor")
	add(s.PersistAnchor != "", "persist_anchor")
	add(s.RestoreAnchor != "", "restore_anchor")
	add(s.ForgetAnchor != "", "forget_anchor")
	add(s.HitTest != nil, "hit_test")
	add(s.CancelHitTest != "", "cancel_hit_test")
	add(s.RenderState != nil, "render_state")
	add(s.FrameRate != 0, "frame_rate")
	add(s.Recenter, "recenter")
	add(s.End, "end")
	return k
}

// Assertion checks the trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event is the event name (event_count).
	Event string `yaml:"event,omitempty"`

	// Events is the expected order (event_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number (event_count, anchors_tracked,
	// hit_count, persisted_anchors).
	Count int `yaml:"count"`

	// Source is the hit-test source name (hit_count).
	Source string `yaml:"source,omitempty"`

	// Position and Tolerance check the last viewer position
	// (viewer_position). Tolerance defaults to 1e-6.
	Position  Vec     `yaml:"position,omitempty"`
	Tolerance float64 `yaml:"tolerance,omitempty"`

	// State is the expected session state (session_state).
	State string `yaml:"state,omitempty"`
}

// Assertion types.
const (
	AssertEventCount       = "event_count"
	AssertEventOrder       = "event_order"
	AssertAnchorsTracked   = "anchors_tracked"
	AssertHitCount         = "hit_count"
	AssertViewerPosition   = "viewer_position"
	AssertSessionState     = "session_state"
	AssertPersistedAnchors = "persisted_anchors"
)

var errorCodes = []xrerr.Code{
	xrerr.InvalidState,
	xrerr.NotSupported,
	xrerr.OutOfRange,
	xrerr.TransientIO,
	xrerr.BridgeUnavailable,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Mode {
	case "", device.ModeInline, device.ModeImmersiveVR, device.ModeImmersiveAR:
	default:
		return fmt.Errorf("unknown session mode %q", s.Mode)
	}
	if s.TickRate < 0 {
		return fmt.Errorf("tick_rate must be positive")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	kinds := s.kinds()
	switch len(kinds) {
	case 0:
		return fmt.Errorf("steps[%d]: no action", index)
	case 1:
	default:
		return fmt.Errorf("steps[%d]: one action per step, got %v", index, kinds)
	}
	if s.Tick < 0 {
		return fmt.Errorf("steps[%d]: tick must be positive", index)
	}
	if s.ExpectError != "" && !slices.Contains(errorCodes, xrerr.Code(s.ExpectError)) {
		return fmt.Errorf("steps[%d]: unknown error code %q", index, s.ExpectError)
	}
	for _, p := range []*PoseStep{s.Pose, s.LivePose} {
		if p != nil && len(p.Orientation) != 0 && len(p.Orientation) != 4 {
			return fmt.Errorf("steps[%d]: orientation needs 4 components, got %d", index, len(p.Orientation))
		}
	}
	switch s.InputMode {
	case "", device.InputController, device.InputHand, device.InputScreen:
	default:
		return fmt.Errorf("steps[%d]: unknown input mode %q", index, s.InputMode)
	}
	for _, in := range []*InputStep{s.Button, s.Axis} {
		if in != nil && (in.Hand == "" || in.ID == "") {
			return fmt.Errorf("steps[%d]: hand and id are required", index)
		}
	}
	if s.CreateAnchor != nil && s.CreateAnchor.Name == "" {
		return fmt.Errorf("steps[%d]: create_anchor: name is required", index)
	}
	if s.HitTest != nil && s.HitTest.Name == "" {
		return fmt.Errorf("steps[%d]: hit_test: name is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertHitCount:
		if a.Source == "" {
			return fmt.Errorf("assertions[%d]: source is required for hit_count", index)
		}
	case AssertSessionState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for session_state", index)
		}
	case AssertAnchorsTracked, AssertViewerPosition, AssertPersistedAnchors:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
