package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wem-technology/ios-webxr-sub000/internal/recorder"
	"github.com/wem-technology/ios-webxr-sub000/internal/store"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Limit    int
	Input    int // input whose target ray is shown, -1 for none
}

// RecordingSummary is one row of the recording list.
type RecordingSummary struct {
	Name       string  `json:"name"`
	Frames     int     `json:"frames"`
	DurationMs float64 `json:"duration_ms"`
	CreatedAt  string  `json:"created_at"`
}

// TraceInput describes one recorded input source.
type TraceInput struct {
	Index         int    `json:"index"`
	Handedness    string `json:"handedness"`
	TargetRayMode string `json:"target_ray_mode"`
	Hand          bool   `json:"hand,omitempty"`
	Buttons       int    `json:"buttons,omitempty"`
	Axes          int    `json:"axes,omitempty"`
}

// TraceFrame is one frame of the timeline.
type TraceFrame struct {
	TimestampMs float64            `json:"timestamp_ms"`
	Head        [3]float64         `json:"head"`
	Inputs      []int              `json:"inputs"`
	Pressed     map[int][]int      `json:"pressed,omitempty"`
	Positions   map[int][3]float64 `json:"positions,omitempty"`
}

// TraceResult is the timeline of one recording.
type TraceResult struct {
	Recording string       `json:"recording"`
	Inputs    []TraceInput `json:"inputs"`
	Timeline  []TraceFrame `json:"timeline"`
	Stats     TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for a recording.
type TraceStats struct {
	Frames       int     `json:"frames"`
	DurationMs   float64 `json:"duration_ms"`
	HeadTravel   float64 `json:"head_travel_m"`
	ButtonPushes int     `json:"button_presses"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [recording]",
		Short: "List recordings or show a recording's timeline",
		Long: `Inspect saved recordings.

Without arguments, lists the recordings in the store. With a name, shows the
input sources the recording declares and a frame-by-frame timeline of the
head position, the inputs present and the buttons held.

Examples:
  xrsim trace
  xrsim trace walk-around --limit 20
  xrsim trace walk-around --input 0 --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runTraceList(opts, cmd)
			}
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite store (default: store.path)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show at most this many frames (0 shows all)")
	cmd.Flags().IntVar(&opts.Input, "input", -1, "show positions for one input index")

	return cmd
}

func (o *TraceOptions) open() (*store.Store, error) {
	cfg, err := loadConfig(o.RootOptions)
	if err != nil {
		return nil, err
	}
	sc := cfg.Store
	if o.Database != "" {
		sc.Driver, sc.Path = "sqlite", o.Database
	}
	st, err := openRecordingStore(sc)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return st, nil
}

func runTraceList(opts *TraceOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, err := opts.open()
	if err != nil {
		return err
	}
	defer st.Close()

	infos, err := st.ListRecordings(cmdContext(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list recordings", err)
	}
	list := make([]RecordingSummary, 0, len(infos))
	for _, info := range infos {
		list = append(list, RecordingSummary{
			Name:       info.Name,
			Frames:     info.Frames,
			DurationMs: info.DurationMs,
			CreatedAt:  time.UnixMilli(info.CreatedAt).UTC().Format(time.RFC3339),
		})
	}

	if f.JSON() {
		return f.Success(list)
	}
	if len(list) == 0 {
		f.Printf("No recordings found.\n")
		return nil
	}
	for _, r := range list {
		f.Printf("%-24s %6d frames %10.0f ms  %s\n", r.Name, r.Frames, r.DurationMs, r.CreatedAt)
	}
	return nil
}

func runTrace(opts *TraceOptions, name string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, err := opts.open()
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.LoadRecording(cmdContext(cmd), name)
	if errors.Is(err, store.ErrNotFound) {
		_ = f.Error(ErrCodeNotFound, fmt.Sprintf("recording %q not found", name), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("recording %q not found", name))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load recording", err)
	}

	result := buildTrace(rec, opts.Input, opts.Limit)
	result.Recording = name

	if f.JSON() {
		return f.Success(result)
	}
	outputTraceText(f, result)
	return nil
}

// buildTrace summarizes rec. Stats cover every frame; the timeline is cut to
// limit frames when limit > 0.
func buildTrace(rec *recorder.Recording, input, limit int) TraceResult {
	result := TraceResult{
		Inputs:   make([]TraceInput, 0, len(rec.Schema)),
		Timeline: make([]TraceFrame, 0, len(rec.Frames)),
		Stats:    TraceStats{Frames: len(rec.Frames), DurationMs: rec.Duration()},
	}
	for _, e := range rec.Schema {
		result.Inputs = append(result.Inputs, TraceInput{
			Index:         e.Index,
			Handedness:    e.Schema.Handedness,
			TargetRayMode: e.Schema.TargetRayMode,
			Hand:          e.Schema.HasHand,
			Buttons:       e.Schema.NumButtons,
			Axes:          e.Schema.NumAxes,
		})
	}

	held := make(map[[2]int]bool)
	var prev *xmath.Vec3
	for i, fr := range rec.Frames {
		head := fr.Head.Position
		if prev != nil {
			result.Stats.HeadTravel += head.Sub(*prev).Len()
		}
		prev = &head

		tf := TraceFrame{
			TimestampMs: fr.Timestamp,
			Head:        [3]float64{head[0], head[1], head[2]},
			Inputs:      make([]int, 0, len(fr.Inputs)),
		}
		for _, in := range fr.Inputs {
			tf.Inputs = append(tf.Inputs, in.Index)
			for b, sample := range in.Buttons {
				key := [2]int{in.Index, b}
				down := sample.Value > 0
				if down && !held[key] {
					result.Stats.ButtonPushes++
				}
				held[key] = down
				if down {
					if tf.Pressed == nil {
						tf.Pressed = make(map[int][]int)
					}
					tf.Pressed[in.Index] = append(tf.Pressed[in.Index], b)
				}
			}
			if input >= 0 && in.Index == input {
				p := in.TargetRay.Position
				tf.Positions = map[int][3]float64{in.Index: {p[0], p[1], p[2]}}
			}
		}
		if limit <= 0 || i < limit {
			result.Timeline = append(result.Timeline, tf)
		}
	}
	return result
}

func outputTraceText(f *OutputFormatter, r TraceResult) {
	f.Printf("Recording: %s\n\n", r.Recording)

	f.Printf("Inputs:\n")
	if len(r.Inputs) == 0 {
		f.Printf("  (none)\n")
	}
	for _, in := range r.Inputs {
		kind := "gamepad"
		if in.Hand {
			kind = "hand"
		}
		f.Printf("  [%d] %s %s (%s, %d buttons, %d axes)\n",
			in.Index, in.Handedness, in.TargetRayMode, kind, in.Buttons, in.Axes)
	}

	f.Printf("\nTimeline:\n")
	for _, fr := range r.Timeline {
		f.Printf("  %9.1f ms  head (%.3f, %.3f, %.3f)  inputs %v",
			fr.TimestampMs, fr.Head[0], fr.Head[1], fr.Head[2], fr.Inputs)
		if len(fr.Pressed) > 0 {
			f.Printf("  pressed %v", fr.Pressed)
		}
		for idx, p := range fr.Positions {
			f.Printf("  [%d] (%.3f, %.3f, %.3f)", idx, p[0], p[1], p[2])
		}
		f.Printf("\n")
	}
	if n := r.Stats.Frames - len(r.Timeline); n > 0 {
		f.Printf("  ... %d more frame(s)\n", n)
	}

	f.Printf("\nStats:\n")
	f.Printf("  Frames: %d\n", r.Stats.Frames)
	f.Printf("  Duration: %.0f ms\n", r.Stats.DurationMs)
	f.Printf("  Head travel: %.3f m\n", r.Stats.HeadTravel)
	f.Printf("  Button presses: %d\n", r.Stats.ButtonPushes)
}
