package input

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/wem-technology/ios-webxr-sub000/internal/metrics"
	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

// StandardMapping is the xr-standard gamepad layout name.
const StandardMapping = "xr-standard"

// Layout declares the controls of a gamepad.
type Layout struct {
	Mapping string
	Buttons []ButtonSpec
	Axes    []string
}

// ButtonEvent is an edge produced by a button during Update.
type ButtonEvent struct {
	Button string
	Type   string
}

// Gamepad holds buttons and axes in layout order.
type Gamepad struct {
	mapping string
	buttons []*Button
	axisIDs []string
	axes    []float64
}

// NewGamepad builds a gamepad with every control at rest.
func NewGamepad(layout Layout) *Gamepad {
	g := &Gamepad{
		mapping: layout.Mapping,
		axisIDs: append([]string(nil), layout.Axes...),
		axes:    make([]float64, len(layout.Axes)),
	}
	for _, spec := range layout.Buttons {
		g.buttons = append(g.buttons, NewButton(spec))
	}
	return g
}

// Mapping returns the layout name.
func (g *Gamepad) Mapping() string { return g.mapping }

// Buttons returns the buttons in layout order.
func (g *Gamepad) Buttons() []*Button { return g.buttons }

// Axes returns a copy of the axis values in layout order.
func (g *Gamepad) Axes() []float64 {
	return append([]float64(nil), g.axes...)
}

// Button looks up a button by id.
func (g *Gamepad) Button(id string) (*Button, bool) {
	for _, b := range g.buttons {
		if b.ID() == id {
			return b, true
		}
	}
	return nil, false
}

// SetButtonValue stages a value for the named button. Out-of-range values are
// logged, counted and dropped; the returned error lets callers that care see
// the rejection.
func (g *Gamepad) SetButtonValue(id string, v float64) error {
	b, ok := g.Button(id)
	if !ok {
		return fmt.Errorf("unknown button %q", id)
	}
	if err := b.SetValue(v); err != nil {
		slog.Warn("dropping gamepad button update", "button", id, "value", v, "error", err)
		metrics.InputRejected.WithLabelValues("button").Inc()
		return err
	}
	return nil
}

// SetButtonTouched sets the touch flag for the named button.
func (g *Gamepad) SetButtonTouched(id string, touched bool) error {
	b, ok := g.Button(id)
	if !ok {
		return fmt.Errorf("unknown button %q", id)
	}
	b.SetTouched(touched)
	return nil
}

// SetAxis sets an axis value in [-1, 1] immediately.
func (g *Gamepad) SetAxis(id string, v float64) error {
	for i, a := range g.axisIDs {
		if a != id {
			continue
		}
		if math.IsNaN(v) || v < -1 || v > 1 {
			err := xrerr.New(xrerr.OutOfRange, "gamepad.setAxis",
				fmt.Sprintf("axis %q accepts [-1, 1], got %v", id, v))
			slog.Warn("dropping gamepad axis update", "axis", id, "value", v)
			metrics.InputRejected.WithLabelValues("axis").Inc()
			return err
		}
		g.axes[i] = v
		return nil
	}
	return fmt.Errorf("unknown axis %q", id)
}

// SetAxisIndex sets an axis by position, used by playback.
func (g *Gamepad) SetAxisIndex(i int, v float64) {
	if i >= 0 && i < len(g.axes) {
		g.axes[i] = math.Max(-1, math.Min(1, v))
	}
}

// SetButtonIndex stages a value by position, used by playback. Interpolated
// values on binary buttons snap to the nearest endpoint.
func (g *Gamepad) SetButtonIndex(i int, v float64) {
	if i < 0 || i >= len(g.buttons) {
		return
	}
	b := g.buttons[i]
	if b.Type() == Binary {
		v = math.Round(v)
	}
	if err := b.SetValue(v); err != nil {
		metrics.InputRejected.WithLabelValues("button").Inc()
	}
}

// Update advances every button by one tick and collects the edges.
func (g *Gamepad) Update() []ButtonEvent {
	var events []ButtonEvent
	for _, b := range g.buttons {
		for _, name := range b.Update() {
			events = append(events, ButtonEvent{Button: b.ID(), Type: name})
		}
	}
	return events
}
