package recorder

import (
	"fmt"

	"github.com/wem-technology/ios-webxr-sub000/internal/input"
	"github.com/wem-technology/ios-webxr-sub000/internal/space"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// Recorder snapshots the viewer and every connected input once per tick,
// relative to a fixed reference space.
type Recorder struct {
	base    space.Space
	indices map[*input.Source]int
	rec     Recording
}

// New creates a recorder whose poses are expressed in base.
func New(base space.Space) *Recorder {
	return &Recorder{base: base, indices: make(map[*input.Source]int)}
}

// Len returns the number of captured frames.
func (r *Recorder) Len() int { return len(r.rec.Frames) }

// Recording returns the capture so far.
func (r *Recorder) Recording() *Recording { return &r.rec }

// Capture appends one frame. Inputs are registered in the schema the first
// time they are seen.
func (r *Recorder) Capture(timestampMs float64, viewer space.Space, sources []*input.Source) error {
	if n := len(r.rec.Frames); n > 0 && timestampMs < r.rec.Frames[n-1].Timestamp {
		return fmt.Errorf("capture at %v: timestamp goes backwards", timestampMs)
	}
	head, err := r.pose(viewer)
	if err != nil {
		return fmt.Errorf("capture viewer: %w", err)
	}
	f := Frame{Timestamp: timestampMs, Head: head}

	for _, src := range sources {
		if !src.Connected() {
			continue
		}
		idx := r.register(src)
		in, err := r.captureInput(idx, src)
		if err != nil {
			return fmt.Errorf("capture input %d: %w", idx, err)
		}
		f.Inputs = append(f.Inputs, in)
	}
	r.rec.Frames = append(r.rec.Frames, f)
	return nil
}

func (r *Recorder) pose(s space.Space) (xmath.Transform, error) {
	m, err := s.RelativeTo(r.base)
	if err != nil {
		return xmath.Transform{}, err
	}
	return xmath.TransformFromMatrix(m), nil
}

func (r *Recorder) register(src *input.Source) int {
	if idx, ok := r.indices[src]; ok {
		return idx
	}
	idx := len(r.indices)
	r.indices[src] = idx

	_, hasGrip := src.GripSpace()
	schema := InputSchema{
		Handedness:    string(src.Handedness()),
		TargetRayMode: string(src.TargetRayMode()),
		Profiles:      src.Profiles(),
		HasGrip:       hasGrip,
		HasHand:       src.Hand() != nil,
		HasGamepad:    src.Gamepad() != nil,
	}
	if schema.HasHand {
		schema.JointSequence = append([]string(nil), src.Hand().Joints()...)
	}
	if gp := src.Gamepad(); gp != nil {
		schema.Mapping = gp.Mapping()
		schema.NumButtons = len(gp.Buttons())
		schema.NumAxes = len(gp.Axes())
	}
	r.rec.Schema = append(r.rec.Schema, SchemaEntry{Index: idx, Schema: schema})
	return idx
}

func (r *Recorder) captureInput(idx int, src *input.Source) (InputRecord, error) {
	ray, err := r.pose(src.TargetRaySpace())
	if err != nil {
		return InputRecord{}, err
	}
	in := InputRecord{Index: idx, TargetRay: ray}

	grip, hasGrip := src.GripSpace()
	if hasGrip {
		g, err := r.pose(grip)
		if err != nil {
			return InputRecord{}, err
		}
		in.Grip = &g
	}
	if h := src.Hand(); h != nil {
		for _, name := range h.Joints() {
			js, _ := h.JointSpace(name)
			m, err := js.RelativeTo(grip)
			if err != nil {
				return InputRecord{}, err
			}
			radius, _ := h.JointRadius(name)
			in.Joints = append(in.Joints, JointSample{Pose: xmath.TransformFromMatrix(m), Radius: radius})
		}
	}
	if gp := src.Gamepad(); gp != nil {
		for _, b := range gp.Buttons() {
			in.Buttons = append(in.Buttons, ButtonSample{Value: b.Value(), Touched: b.Touched()})
		}
		in.Axes = gp.Axes()
	}
	return in, nil
}
