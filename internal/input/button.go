package input

import (
	"fmt"
	"math"

	"github.com/wem-technology/ios-webxr-sub000/internal/xrerr"
)

// ButtonType controls which values a button accepts.
type ButtonType string

const (
	// Analog buttons accept any value in [0, 1].
	Analog ButtonType = "analog"
	// Binary buttons accept exactly 0 or 1.
	Binary ButtonType = "binary"
	// Manual buttons accept [0, 1] and are driven directly by the host.
	Manual ButtonType = "manual"
)

// ParseButtonType validates a button type name.
func ParseButtonType(s string) (ButtonType, error) {
	switch t := ButtonType(s); t {
	case Analog, Binary, Manual:
		return t, nil
	}
	return "", fmt.Errorf("unknown button type %q", s)
}

// ButtonSpec declares a button in a gamepad layout.
type ButtonSpec struct {
	ID           string
	Type         ButtonType
	EventTrigger string
}

// Button is one gamepad button. New values are staged in a pending slot and
// become visible at the next Update.
type Button struct {
	spec           ButtonSpec
	pressed        bool
	touched        bool
	value          float64
	lastFrameValue float64
	pendingValue   float64
	hasPending     bool
}

// NewButton creates a released button.
func NewButton(spec ButtonSpec) *Button {
	if spec.Type == "" {
		spec.Type = Analog
	}
	return &Button{spec: spec}
}

func (b *Button) ID() string              { return b.spec.ID }
func (b *Button) Type() ButtonType        { return b.spec.Type }
func (b *Button) EventTrigger() string    { return b.spec.EventTrigger }
func (b *Button) Pressed() bool           { return b.pressed }
func (b *Button) Touched() bool           { return b.touched || b.pressed }
func (b *Button) Value() float64          { return b.value }
func (b *Button) LastFrameValue() float64 { return b.lastFrameValue }

// Pending returns the staged value, if any.
func (b *Button) Pending() (float64, bool) {
	return b.pendingValue, b.hasPending
}

// SetValue stages v for the next Update. Values outside the button's domain
// are rejected and nothing is staged.
func (b *Button) SetValue(v float64) error {
	if err := b.validate(v); err != nil {
		return err
	}
	b.pendingValue = v
	b.hasPending = true
	return nil
}

// SetTouched sets the touch state immediately.
func (b *Button) SetTouched(v bool) {
	b.touched = v
}

func (b *Button) validate(v float64) error {
	switch b.spec.Type {
	case Binary:
		if v != 0 && v != 1 {
			return xrerr.New(xrerr.OutOfRange, "button.setValue",
				fmt.Sprintf("binary button %q accepts 0 or 1, got %v", b.spec.ID, v))
		}
	default:
		if math.IsNaN(v) || v < 0 || v > 1 {
			return xrerr.New(xrerr.OutOfRange, "button.setValue",
				fmt.Sprintf("button %q accepts [0, 1], got %v", b.spec.ID, v))
		}
	}
	return nil
}

// Update advances the button by one tick: lastFrameValue takes the previous
// value, the pending value (if any) is applied and cleared, then edges are
// detected. Returns the event names to dispatch, in order.
func (b *Button) Update() []string {
	b.lastFrameValue = b.value
	if b.hasPending {
		b.value = b.pendingValue
		b.pendingValue = 0
		b.hasPending = false
	}
	b.pressed = b.value > 0

	trigger := b.spec.EventTrigger
	if trigger == "" {
		return nil
	}
	switch {
	case b.lastFrameValue == 0 && b.value > 0:
		return []string{trigger, trigger + "start"}
	case b.lastFrameValue > 0 && b.value == 0:
		return []string{trigger + "end"}
	}
	return nil
}
