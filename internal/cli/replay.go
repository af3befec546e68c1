package cli

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wem-technology/ios-webxr-sub000/internal/device"
	"github.com/wem-technology/ios-webxr-sub000/internal/engine"
	"github.com/wem-technology/ios-webxr-sub000/internal/profile"
	"github.com/wem-technology/ios-webxr-sub000/internal/recorder"
	"github.com/wem-technology/ios-webxr-sub000/internal/session"
	"github.com/wem-technology/ios-webxr-sub000/internal/store"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// DefaultReplayTolerance bounds the distance in meters between the replayed
// viewer and the recording.
const DefaultReplayTolerance = 1e-6

// maxReplayTicks bounds the ticks of one replay.
const maxReplayTicks = 1_000_000

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database  string
	Profile   string
	Rate      float64
	Tolerance float64
}

// ReplayResult holds the outcome of replaying one recording.
type ReplayResult struct {
	Recording     string         `json:"recording"`
	Frames        int            `json:"frames"`
	DurationMs    float64        `json:"duration_ms"`
	Ticks         int            `json:"ticks"`
	Events        map[string]int `json:"events,omitempty"`
	MaxError      float64        `json:"max_error"`
	Deterministic bool           `json:"deterministic"`
	Faithful      bool           `json:"faithful"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <recording>",
		Short: "Replay a recording and verify playback",
		Long: `Play a saved recording through an emulated device and check the result.

The recording drives the viewer and input sources of an inline session. Each
tick the viewer pose is compared with the recorded head at that tick's frame
time; the replay runs twice to verify the same poses and events come out.

Exit codes:
  0 - Playback matches the recording and is deterministic
  1 - Poses diverged beyond --tolerance, or the two runs differ
  2 - Command error (store or recording not found, etc.)

Examples:
  xrsim replay walk-around
  xrsim replay walk-around --rate 90 --profile standalone-vr
  xrsim replay walk-around --db ./xrsim.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite store (default: store.path)")
	cmd.Flags().StringVar(&opts.Profile, "profile", "", "device profile (default: profile.path)")
	cmd.Flags().Float64Var(&opts.Rate, "rate", 0, "tick rate in Hz (default: the recording's mean rate)")
	cmd.Flags().Float64Var(&opts.Tolerance, "tolerance", DefaultReplayTolerance, "maximum viewer position error in meters")

	return cmd
}

func runReplay(opts *ReplayOptions, name string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	sc := cfg.Store
	if opts.Database != "" {
		sc.Driver, sc.Path = "sqlite", opts.Database
	}
	st, err := openRecordingStore(sc)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	ctx := cmdContext(cmd)
	rec, err := st.LoadRecording(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return NewExitError(ExitCommandError, fmt.Sprintf("recording %q not found", name))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load recording", err)
	}

	ref := cfg.Profile.Path
	if opts.Profile != "" {
		ref = opts.Profile
	}
	compiler, err := profile.NewCompiler()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create profile compiler", err)
	}
	devCfg, err := compiler.Resolve(ref)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load profile", err)
	}

	f.VerboseLog("Replaying %s: %d frames over %.0f ms", name, len(rec.Frames), rec.Duration())
	result, err := verifyReplay(ctx, devCfg, rec, opts.Rate, opts.Tolerance)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}
	result.Recording = name

	var failure string
	switch {
	case !result.Faithful:
		failure = fmt.Sprintf("viewer diverged from recording by %.3g m", result.MaxError)
	case !result.Deterministic:
		failure = "replay is not deterministic"
	}

	if f.JSON() {
		if err := f.Result(result, ErrCodeReplay, failure); err != nil {
			return err
		}
	} else {
		outputReplayText(f, result)
	}
	if failure != "" {
		return NewExitError(ExitFailure, failure)
	}
	return nil
}

// replayRun is what one playback produced.
type replayRun struct {
	times  []float64
	poses  []xmath.Vec3
	events []string
}

// verifyReplay plays rec twice and compares the runs.
func verifyReplay(ctx context.Context, cfg device.Config, rec *recorder.Recording, rate, tol float64) (ReplayResult, error) {
	first, err := replayOnce(ctx, cfg, rec, rate)
	if err != nil {
		return ReplayResult{}, err
	}
	second, err := replayOnce(ctx, cfg, rec, rate)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("second replay: %w", err)
	}

	events := make(map[string]int)
	for _, ev := range first.events {
		events[ev]++
	}
	maxErr := replayError(rec, first.times, first.poses)
	return ReplayResult{
		Frames:        len(rec.Frames),
		DurationMs:    rec.Duration(),
		Ticks:         len(first.poses),
		Events:        events,
		MaxError:      maxErr,
		Deterministic: slices.Equal(first.poses, second.poses) && slices.Equal(first.events, second.events),
		Faithful:      maxErr <= tol,
	}, nil
}

// replayOnce drives a fresh inline session across the recording's span at
// a fixed step, keeping the viewer position and frame time of every tick.
func replayOnce(ctx context.Context, cfg device.Config, rec *recorder.Recording, rate float64) (*replayRun, error) {
	dev, err := device.New(cfg)
	if err != nil {
		return nil, err
	}
	sess, err := session.Request(ctx, dev, device.ModeInline, session.Options{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if !sess.Ended() {
			_ = sess.End(ctx)
		}
	}()

	run := &replayRun{}
	for _, ev := range []string{session.EventInputSourcesChange, "select", "selectstart", "selectend", "squeeze", "squeezestart", "squeezeend"} {
		sess.On(ev, func(e session.Event) { run.events = append(run.events, e.Type) })
	}

	if err := dev.Play(rec); err != nil {
		return nil, err
	}
	step := replayStep(rec, rate)
	host := engine.NewHost(engine.WithFrameRate(1000 / step))
	host.Attach(sess)

	var loop session.FrameCallback
	loop = func(timeMs float64, frame *session.Frame) {
		sess.RequestAnimationFrame(loop)
		pose, err := frame.GetPose(dev.Viewer(), dev.Root())
		if err != nil {
			return
		}
		run.times = append(run.times, timeMs)
		run.poses = append(run.poses, pose.Transform.Position)
	}
	sess.RequestAnimationFrame(loop)

	end := rec.Duration() + step*1e-9
	for ticks := 0; ; ticks++ {
		now := float64(ticks) * step
		if now > end {
			break
		}
		if ticks >= maxReplayTicks {
			return nil, fmt.Errorf("playback did not finish after %d ticks", ticks)
		}
		host.Step(ctx, now)
	}
	return run, nil
}

// replayError is the largest distance between a replayed viewer position
// and the recorded head at the same point of the recording. Frame times
// count from the first tick, which shows the first recorded frame.
func replayError(rec *recorder.Recording, times []float64, poses []xmath.Vec3) float64 {
	if len(rec.Frames) == 0 {
		return 0
	}
	var maxErr float64
	for i, got := range poses {
		want := recordedHead(rec.Frames, rec.Frames[0].Timestamp+times[i])
		maxErr = math.Max(maxErr, got.Sub(want).Len())
	}
	return maxErr
}

// recordedHead linearly interpolates the recorded head position at t,
// clamped to the recording's span.
func recordedHead(frames []recorder.Frame, t float64) xmath.Vec3 {
	i := sort.Search(len(frames), func(k int) bool { return frames[k].Timestamp >= t })
	switch {
	case i == len(frames):
		return frames[len(frames)-1].Head.Position
	case i == 0 || frames[i].Timestamp == t:
		return frames[i].Head.Position
	}
	a, b := frames[i-1], frames[i]
	alpha := (t - a.Timestamp) / (b.Timestamp - a.Timestamp)
	return xmath.LerpVec3(a.Head.Position, b.Head.Position, alpha)
}

// replayStep is the tick interval in ms.
func replayStep(rec *recorder.Recording, rate float64) float64 {
	if rate > 0 {
		return 1000 / rate
	}
	if n := len(rec.Frames); n > 1 && rec.Duration() > 0 {
		return rec.Duration() / float64(n-1)
	}
	return 1000.0 / engine.DefaultFrameRate
}

func outputReplayText(f *OutputFormatter, r ReplayResult) {
	f.Printf("Replay: %s (%d frames, %.0f ms, %d ticks)\n", r.Recording, r.Frames, r.DurationMs, r.Ticks)
	if f.Verbose {
		names := make([]string, 0, len(r.Events))
		for name := range r.Events {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			f.Printf("  %s: %d\n", name, r.Events[name])
		}
	}
	f.Printf("%s Viewer max error %.3g m\n", mark(r.Faithful), r.MaxError)
	f.Printf("%s Deterministic\n", mark(r.Deterministic))
}
