package device

import (
	"fmt"
	"log/slog"

	"github.com/wem-technology/ios-webxr-sub000/internal/input"
	"github.com/wem-technology/ios-webxr-sub000/internal/recorder"
	"github.com/wem-technology/ios-webxr-sub000/internal/space"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// Play starts replaying a recording. Live bridge data is ignored until
// playback ends. Recorded poses are expressed relative to the global root.
func (d *Device) Play(rec *recorder.Recording) error {
	p := recorder.NewPlayer(rec)
	if err := p.Play(); err != nil {
		return err
	}
	if len(d.playback) > 0 {
		d.endPlayback()
	}
	d.player = p
	d.playStarted = false
	slog.Info("playback started", "frames", len(rec.Frames), "duration_ms", rec.Duration())
	return nil
}

// StopPlayback halts the player; live data resumes at the next Sync.
func (d *Device) StopPlayback() {
	if d.player != nil {
		d.player.Stop()
	}
}

// Player returns the current player, if any.
func (d *Device) Player() *recorder.Player { return d.player }

// Playing reports whether playback drives the device.
func (d *Device) Playing() bool {
	return d.player != nil && d.player.Playing()
}

func (d *Device) applyPlayback() error {
	frame, ok := d.player.Sample()
	if !ok {
		return nil
	}
	d.viewer.SetEmulated(true)
	if err := d.viewer.SetTransform(frame.Head); err != nil {
		return err
	}

	for _, c := range d.controllers {
		c.SetConnected(false)
	}
	for _, h := range d.hands {
		h.SetConnected(false)
	}
	d.screen.SetConnected(false)

	present := make(map[int]bool, len(frame.Inputs))
	for _, rec := range frame.Inputs {
		src, err := d.playbackSource(rec.Index)
		if err != nil {
			return err
		}
		schema, _ := d.player.Recording().SchemaFor(rec.Index)
		if err := applyInputRecord(src, schema, rec); err != nil {
			return fmt.Errorf("playback input %d: %w", rec.Index, err)
		}
		src.SetConnected(true)
		present[rec.Index] = true
	}
	for i, src := range d.playback {
		if !present[i] {
			src.SetConnected(false)
		}
	}
	return nil
}

func (d *Device) endPlayback() {
	for _, src := range d.playback {
		src.SetConnected(false)
	}
	d.playback = make(map[int]*input.Source)
	d.SetPrimaryInputMode(d.primary)
	slog.Info("playback ended")
}

// playbackSource builds a source from the recorded schema on first use.
func (d *Device) playbackSource(index int) (*input.Source, error) {
	if src, ok := d.playback[index]; ok {
		return src, nil
	}
	schema, ok := d.player.Recording().SchemaFor(index)
	if !ok {
		return nil, fmt.Errorf("input %d has no schema", index)
	}
	h, err := input.ParseHandedness(schema.Handedness)
	if err != nil {
		h = input.HandNone
	}

	var src *input.Source
	switch {
	case schema.HasHand:
		src, err = input.NewHand(d.graph, d.graph.Root(), h, schema.Profiles)
	case input.TargetRayMode(schema.TargetRayMode) == input.Screen:
		src, err = input.NewScreenSource(d.graph, d.viewer)
	default:
		src, err = input.NewController(d.graph, d.graph.Root(), input.ControllerSpec{
			Handedness: h,
			Profiles:   schema.Profiles,
			Layout:     layoutFromSchema(schema),
		})
	}
	if err != nil {
		return nil, err
	}
	d.playback[index] = src
	return src, nil
}

func layoutFromSchema(s recorder.InputSchema) input.Layout {
	l := input.Layout{Mapping: s.Mapping}
	for i := 0; i < s.NumButtons; i++ {
		spec := input.ButtonSpec{ID: fmt.Sprintf("button-%d", i), Type: input.Analog}
		switch i {
		case 0:
			spec.EventTrigger = "select"
		case 1:
			spec.EventTrigger = "squeeze"
		}
		l.Buttons = append(l.Buttons, spec)
	}
	for i := 0; i < s.NumAxes; i++ {
		l.Axes = append(l.Axes, fmt.Sprintf("axis-%d", i))
	}
	return l
}

// setGlobal sets a space's local offset so its global transform equals want.
func setGlobal(s space.Space, want xmath.Mat4) error {
	return s.SetOffset(xmath.Compose(xmath.Invert(s.Parent().Global()), want))
}

func applyInputRecord(src *input.Source, schema recorder.InputSchema, rec recorder.InputRecord) error {
	grip, hasGrip := src.GripSpace()
	if schema.HasGrip && hasGrip && rec.Grip != nil {
		if err := setGlobal(grip, rec.Grip.Matrix()); err != nil {
			return err
		}
	}
	if err := setGlobal(src.TargetRaySpace(), rec.TargetRay.Matrix()); err != nil {
		return err
	}
	if h := src.Hand(); h != nil && schema.HasHand && len(rec.Joints) == len(input.JointNames) {
		table := make(input.HandPose, len(rec.Joints))
		for i, j := range rec.Joints {
			table[i] = input.JointPose{Transform: j.Pose, Radius: j.Radius}
		}
		if err := h.SetJointPoses(table); err != nil {
			return err
		}
	}
	if gp := src.Gamepad(); gp != nil && schema.HasGamepad {
		buttons := gp.Buttons()
		for i, b := range rec.Buttons {
			gp.SetButtonIndex(i, b.Value)
			if i < len(buttons) {
				buttons[i].SetTouched(b.Touched)
			}
		}
		for i, a := range rec.Axes {
			gp.SetAxisIndex(i, a)
		}
	}
	return nil
}
