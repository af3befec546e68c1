package harness

import "github.com/wem-technology/ios-webxr-sub000/internal/recorder"

// Trace event types.
const (
	TraceFrame   = "frame"
	TraceSession = "event"
	TraceAnchor  = "anchor"
	TraceError   = "error"
)

// TraceEvent is one entry in a scenario trace. Tick is the number of ticks
// run when the entry was recorded; entries from before the first tick have
// tick 0.
type TraceEvent struct {
	Tick   int64          `json:"tick"`
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	TimeMs float64        `json:"time_ms,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	// Trace lists frames, session events, anchor outcomes and step errors in
	// the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// State is the final state used by state assertions.
	State FinalState `json:"state"`

	// Recording is the captured action recording when the scenario asked for
	// one.
	Recording *recorder.Recording `json:"-"`
}

// FinalState is the session state after the last step.
type FinalState struct {
	Session        string         `json:"session"`
	Viewer         Vec            `json:"viewer"`
	TrackedAnchors int            `json:"tracked_anchors"`
	Hits           map[string]int `json:"hits,omitempty"`
	Persisted      []string       `json:"persisted,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Events returns the names of session events in trace order.
func (r *Result) Events() []string {
	var names []string
	for _, ev := range r.Trace {
		if ev.Type == TraceSession {
			names = append(names, ev.Name)
		}
	}
	return names
}
