package harness

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/wem-technology/ios-webxr-sub000/internal/store"
)

// DefaultTolerance is the viewer_position tolerance when none is given.
const DefaultTolerance = 1e-6

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nSession events:\n")
		for _, ev := range e.Trace {
			if ev.Type == TraceSession {
				fmt.Fprintf(&buf, "  [tick %d] %s %v\n", ev.Tick, ev.Name, ev.Detail)
			}
		}
	}
	return buf.String()
}

// assertEventCount checks that the event was emitted exactly Count times.
func assertEventCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == TraceSession && ev.Name == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s events", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertEventOrder checks that the events were first emitted in the given
// order. Other events may come between them.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if ev.Type != TraceSession {
			continue
		}
		if _, seen := positions[ev.Name]; !seen {
			positions[ev.Name] = i + 1
		}
	}

	for _, name := range a.Events {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("all events present: %v", a.Events),
				Actual:   fmt.Sprintf("missing event: %s", name),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Events); i++ {
		prev, curr := a.Events[i-1], a.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertCount(typ, what string, want, got int) error {
	if want == got {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%d %s", want, what),
		Actual:   fmt.Sprintf("%d %s", got, what),
	}
}

// assertViewerPosition checks the viewer position in the last frame.
func assertViewerPosition(state FinalState, a Assertion) error {
	tol := a.Tolerance
	if tol == 0 {
		tol = DefaultTolerance
	}
	for i := range a.Position {
		if math.Abs(state.Viewer[i]-a.Position[i]) > tol {
			return &AssertionError{
				Type:     AssertViewerPosition,
				Expected: fmt.Sprintf("viewer at %v (±%g)", a.Position, tol),
				Actual:   fmt.Sprintf("viewer at %v", state.Viewer),
			}
		}
	}
	return nil
}

// assertPersistedAnchors counts the anchors in the store.
func assertPersistedAnchors(ctx context.Context, st *store.Store, a Assertion) error {
	ids, err := st.AnchorIDs(ctx)
	if err != nil {
		return &AssertionError{
			Type:     AssertPersistedAnchors,
			Expected: fmt.Sprintf("%d persisted anchors", a.Count),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	return assertCount(AssertPersistedAnchors, "persisted anchors", a.Count, len(ids))
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store access for persisted_anchors assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertEventCount:
			err = assertEventCount(result.Trace, a)
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, a)
		case AssertAnchorsTracked:
			err = assertCount(a.Type, "tracked anchors", a.Count, result.State.TrackedAnchors)
		case AssertHitCount:
			err = assertCount(a.Type, "hits for "+a.Source, a.Count, result.State.Hits[a.Source])
		case AssertViewerPosition:
			err = assertViewerPosition(result.State, a)
		case AssertSessionState:
			if result.State.Session != a.State {
				err = &AssertionError{
					Type:     a.Type,
					Expected: fmt.Sprintf("session %s", a.State),
					Actual:   fmt.Sprintf("session %s", result.State.Session),
				}
			}
		case AssertPersistedAnchors:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: persisted_anchors requires store context", i)
			} else {
				err = assertPersistedAnchors(actx.Ctx, actx.Store, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
