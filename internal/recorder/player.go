package recorder

import (
	"errors"
	"sort"

	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// ErrEmptyRecording is returned when playing a recording without frames.
var ErrEmptyRecording = errors.New("recording has no frames")

// Player replays a recording on a millisecond clock.
type Player struct {
	rec     *Recording
	clock   float64
	playing bool
}

// NewPlayer creates a stopped player.
func NewPlayer(rec *Recording) *Player {
	return &Player{rec: rec}
}

// Recording returns the recording being played.
func (p *Player) Recording() *Recording { return p.rec }

// Playing reports whether playback is active.
func (p *Player) Playing() bool { return p.playing }

// Clock returns the playback clock in recording time.
func (p *Player) Clock() float64 { return p.clock }

// Play starts playback from the first timestamp.
func (p *Player) Play() error {
	if p.rec == nil || len(p.rec.Frames) == 0 {
		return ErrEmptyRecording
	}
	p.clock = p.rec.Frames[0].Timestamp
	p.playing = true
	return nil
}

// Stop halts playback.
func (p *Player) Stop() { p.playing = false }

// Advance moves the clock forward by dtMs. Playback stops once the clock
// passes the last timestamp.
func (p *Player) Advance(dtMs float64) {
	if !p.playing {
		return
	}
	p.clock += dtMs
	if p.clock > p.rec.Frames[len(p.rec.Frames)-1].Timestamp {
		p.playing = false
	}
}

// Sample returns the interpolated state at the current clock. False when
// playback is not active.
func (p *Player) Sample() (Frame, bool) {
	if !p.playing {
		return Frame{}, false
	}
	return p.SampleAt(p.clock), true
}

// SampleAt interpolates the recording at time t, clamped to its span.
func (p *Player) SampleAt(t float64) Frame {
	frames := p.rec.Frames
	if t <= frames[0].Timestamp {
		return frames[0]
	}
	last := frames[len(frames)-1]
	if t >= last.Timestamp {
		return last
	}

	// First frame strictly after t; i-1 is at or before it.
	i := sort.Search(len(frames), func(k int) bool { return frames[k].Timestamp > t })
	a, b := frames[i-1], frames[i]
	span := b.Timestamp - a.Timestamp
	if span <= 0 {
		return a
	}
	alpha := (t - a.Timestamp) / span

	out := Frame{
		Timestamp: t,
		Head:      xmath.Interpolate(a.Head, b.Head, alpha),
	}
	for _, ra := range a.Inputs {
		schema, _ := p.rec.SchemaFor(ra.Index)
		rb, ok := b.Input(ra.Index)
		if !ok {
			out.Inputs = append(out.Inputs, ra)
			continue
		}
		out.Inputs = append(out.Inputs, interpolateInput(schema, ra, rb, alpha))
	}
	for _, rb := range b.Inputs {
		if _, ok := a.Input(rb.Index); !ok {
			out.Inputs = append(out.Inputs, rb)
		}
	}
	return out
}

func interpolateInput(schema InputSchema, a, b InputRecord, alpha float64) InputRecord {
	out := InputRecord{
		Index:     a.Index,
		TargetRay: xmath.Interpolate(a.TargetRay, b.TargetRay, alpha),
	}
	if schema.HasGrip && a.Grip != nil && b.Grip != nil {
		g := xmath.Interpolate(*a.Grip, *b.Grip, alpha)
		out.Grip = &g
	}
	if schema.HasHand && len(a.Joints) == len(b.Joints) {
		for i := range a.Joints {
			out.Joints = append(out.Joints, JointSample{
				Pose:   xmath.Interpolate(a.Joints[i].Pose, b.Joints[i].Pose, alpha),
				Radius: xmath.Lerp(a.Joints[i].Radius, b.Joints[i].Radius, alpha),
			})
		}
	}
	if schema.HasGamepad {
		for i := range a.Buttons {
			if i >= len(b.Buttons) {
				break
			}
			touched := a.Buttons[i].Touched
			if alpha >= 0.5 {
				touched = b.Buttons[i].Touched
			}
			out.Buttons = append(out.Buttons, ButtonSample{
				Value:   xmath.Lerp(a.Buttons[i].Value, b.Buttons[i].Value, alpha),
				Touched: touched,
			})
		}
		for i := range a.Axes {
			if i >= len(b.Axes) {
				break
			}
			out.Axes = append(out.Axes, xmath.Lerp(a.Axes[i], b.Axes[i], alpha))
		}
	}
	return out
}
