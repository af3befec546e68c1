// Package recorder captures per-tick device state into an action recording
// and plays recordings back with interpolation between records.
//
// Wire format:
//
//	{
//	  "schema": [[index, {handedness, targetRayMode, profiles, hasGrip, hasHand,
//	              hasGamepad, jointSequence?, mapping?, numButtons?, numAxes?}], ...],
//	  "frames": [[timestampMs, px, py, pz, qx, qy, qz, qw, [index, ...floats], ...], ...]
//	}
//
// An input record is the index followed by the target ray (7 floats), the
// grip (7, if declared), every joint (8 each: pose plus radius, if declared),
// then per button value and touched (2 each) and the axes (if a gamepad is
// declared).
package recorder

import (
	"encoding/json"
	"fmt"

	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// InputSchema is the shape of one recorded input source.
type InputSchema struct {
	Handedness    string   `json:"handedness"`
	TargetRayMode string   `json:"targetRayMode"`
	Profiles      []string `json:"profiles"`
	HasGrip       bool     `json:"hasGrip"`
	HasHand       bool     `json:"hasHand"`
	HasGamepad    bool     `json:"hasGamepad"`
	JointSequence []string `json:"jointSequence,omitempty"`
	Mapping       string   `json:"mapping,omitempty"`
	NumButtons    int      `json:"numButtons,omitempty"`
	NumAxes       int      `json:"numAxes,omitempty"`
}

// recordLen is the float count of an input record, index excluded.
func (s InputSchema) recordLen() int {
	n := 7
	if s.HasGrip {
		n += 7
	}
	if s.HasHand {
		n += 8 * len(s.JointSequence)
	}
	if s.HasGamepad {
		n += 2*s.NumButtons + s.NumAxes
	}
	return n
}

// SchemaEntry binds an input index to its schema.
type SchemaEntry struct {
	Index  int
	Schema InputSchema
}

// MarshalJSON encodes the entry as [index, schema].
func (e SchemaEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Index, e.Schema})
}

// UnmarshalJSON decodes [index, schema].
func (e *SchemaEntry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("schema entry: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("schema entry: want 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.Index); err != nil {
		return fmt.Errorf("schema entry index: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Schema); err != nil {
		return fmt.Errorf("schema entry %d: %w", e.Index, err)
	}
	return nil
}

// JointSample is a recorded joint pose and radius.
type JointSample struct {
	Pose   xmath.Transform
	Radius float64
}

// ButtonSample is a recorded button state.
type ButtonSample struct {
	Value   float64
	Touched bool
}

// InputRecord is one input's state at one timestamp.
type InputRecord struct {
	Index     int
	TargetRay xmath.Transform
	Grip      *xmath.Transform
	Joints    []JointSample
	Buttons   []ButtonSample
	Axes      []float64
}

// Frame is the device state at one timestamp.
type Frame struct {
	Timestamp float64
	Head      xmath.Transform
	Inputs    []InputRecord
}

// Input returns the record for an index.
func (f Frame) Input(index int) (InputRecord, bool) {
	for _, r := range f.Inputs {
		if r.Index == index {
			return r, true
		}
	}
	return InputRecord{}, false
}

// Recording is a complete capture.
type Recording struct {
	Schema []SchemaEntry
	Frames []Frame
}

// SchemaFor returns the schema of an index.
func (r *Recording) SchemaFor(index int) (InputSchema, bool) {
	for _, e := range r.Schema {
		if e.Index == index {
			return e.Schema, true
		}
	}
	return InputSchema{}, false
}

// Duration returns the span between the first and last frames in ms.
func (r *Recording) Duration() float64 {
	if len(r.Frames) < 2 {
		return 0
	}
	return r.Frames[len(r.Frames)-1].Timestamp - r.Frames[0].Timestamp
}

type wireRecording struct {
	Schema []SchemaEntry       `json:"schema"`
	Frames [][]json.RawMessage `json:"frames"`
}

func appendTransform(dst []float64, t xmath.Transform) []float64 {
	q := xmath.QuatXYZW(t.Orientation)
	return append(dst, t.Position[0], t.Position[1], t.Position[2], q[0], q[1], q[2], q[3])
}

func readTransform(src []float64) xmath.Transform {
	return xmath.Transform{
		Position:    xmath.Vec3{src[0], src[1], src[2]},
		Orientation: xmath.NewQuat(src[3], src[4], src[5], src[6]),
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// MarshalJSON encodes the recording in the wire format.
func (r *Recording) MarshalJSON() ([]byte, error) {
	w := wireRecording{Schema: r.Schema, Frames: make([][]json.RawMessage, 0, len(r.Frames))}
	if w.Schema == nil {
		w.Schema = []SchemaEntry{}
	}
	for _, f := range r.Frames {
		head := appendTransform([]float64{f.Timestamp}, f.Head)
		row := make([]json.RawMessage, 0, len(head)+len(f.Inputs))
		for _, v := range head {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			row = append(row, b)
		}
		for _, in := range f.Inputs {
			schema, ok := r.SchemaFor(in.Index)
			if !ok {
				return nil, fmt.Errorf("frame at %v: input %d has no schema", f.Timestamp, in.Index)
			}
			b, err := json.Marshal(encodeInput(in, schema))
			if err != nil {
				return nil, err
			}
			row = append(row, b)
		}
		w.Frames = append(w.Frames, row)
	}
	return json.Marshal(w)
}

func encodeInput(in InputRecord, schema InputSchema) []float64 {
	out := []float64{float64(in.Index)}
	out = appendTransform(out, in.TargetRay)
	if schema.HasGrip {
		g := xmath.IdentityTransform()
		if in.Grip != nil {
			g = *in.Grip
		}
		out = appendTransform(out, g)
	}
	if schema.HasHand {
		for i := range schema.JointSequence {
			j := JointSample{Pose: xmath.IdentityTransform()}
			if i < len(in.Joints) {
				j = in.Joints[i]
			}
			out = appendTransform(out, j.Pose)
			out = append(out, j.Radius)
		}
	}
	if schema.HasGamepad {
		for i := 0; i < schema.NumButtons; i++ {
			var b ButtonSample
			if i < len(in.Buttons) {
				b = in.Buttons[i]
			}
			out = append(out, b.Value, boolFloat(b.Touched))
		}
		for i := 0; i < schema.NumAxes; i++ {
			var a float64
			if i < len(in.Axes) {
				a = in.Axes[i]
			}
			out = append(out, a)
		}
	}
	return out
}

// UnmarshalJSON decodes the wire format, using the schema to split records.
func (r *Recording) UnmarshalJSON(data []byte) error {
	var w wireRecording
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode recording: %w", err)
	}
	r.Schema = w.Schema
	r.Frames = make([]Frame, 0, len(w.Frames))

	for fi, row := range w.Frames {
		if len(row) < 8 {
			return fmt.Errorf("frame %d: want at least 8 elements, got %d", fi, len(row))
		}
		head := make([]float64, 8)
		for i := 0; i < 8; i++ {
			if err := json.Unmarshal(row[i], &head[i]); err != nil {
				return fmt.Errorf("frame %d element %d: %w", fi, i, err)
			}
		}
		f := Frame{Timestamp: head[0], Head: readTransform(head[1:])}
		for _, raw := range row[8:] {
			var vals []float64
			if err := json.Unmarshal(raw, &vals); err != nil {
				return fmt.Errorf("frame %d input: %w", fi, err)
			}
			in, err := r.decodeInput(vals)
			if err != nil {
				return fmt.Errorf("frame %d: %w", fi, err)
			}
			f.Inputs = append(f.Inputs, in)
		}
		if fi > 0 && f.Timestamp < r.Frames[fi-1].Timestamp {
			return fmt.Errorf("frame %d: timestamp %v goes backwards", fi, f.Timestamp)
		}
		r.Frames = append(r.Frames, f)
	}
	return nil
}

func (r *Recording) decodeInput(vals []float64) (InputRecord, error) {
	if len(vals) == 0 {
		return InputRecord{}, fmt.Errorf("empty input record")
	}
	index := int(vals[0])
	schema, ok := r.SchemaFor(index)
	if !ok {
		return InputRecord{}, fmt.Errorf("input %d has no schema", index)
	}
	body := vals[1:]
	if len(body) != schema.recordLen() {
		return InputRecord{}, fmt.Errorf("input %d: want %d values, got %d", index, schema.recordLen(), len(body))
	}

	in := InputRecord{Index: index, TargetRay: readTransform(body)}
	body = body[7:]
	if schema.HasGrip {
		g := readTransform(body)
		in.Grip = &g
		body = body[7:]
	}
	if schema.HasHand {
		for range schema.JointSequence {
			in.Joints = append(in.Joints, JointSample{Pose: readTransform(body), Radius: body[7]})
			body = body[8:]
		}
	}
	if schema.HasGamepad {
		for i := 0; i < schema.NumButtons; i++ {
			in.Buttons = append(in.Buttons, ButtonSample{Value: body[0], Touched: body[1] != 0})
			body = body[2:]
		}
		in.Axes = append([]float64(nil), body[:schema.NumAxes]...)
	}
	return in, nil
}
