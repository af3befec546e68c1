package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wem-technology/ios-webxr-sub000/internal/bridge"
	"github.com/wem-technology/ios-webxr-sub000/internal/config"
	"github.com/wem-technology/ios-webxr-sub000/internal/device"
	"github.com/wem-technology/ios-webxr-sub000/internal/engine"
	"github.com/wem-technology/ios-webxr-sub000/internal/env"
	"github.com/wem-technology/ios-webxr-sub000/internal/logging"
	"github.com/wem-technology/ios-webxr-sub000/internal/metrics"
	"github.com/wem-technology/ios-webxr-sub000/internal/profile"
	"github.com/wem-technology/ios-webxr-sub000/internal/recorder"
	"github.com/wem-technology/ios-webxr-sub000/internal/session"
	"github.com/wem-technology/ios-webxr-sub000/internal/store"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

const metricsShutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Profile  string
	Mode     string
	Features []string
	Duration time.Duration
	Record   string
	TraceDir string
}

// RunSummary is printed when the run command stops.
type RunSummary struct {
	SessionID string  `json:"session_id"`
	Mode      string  `json:"mode"`
	Profile   string  `json:"profile"`
	Frames    int64   `json:"frames"`
	FrameRate float64 `json:"frame_rate"`
	Anchors   int     `json:"anchors"`
	Recording string  `json:"recording,omitempty"`
}

// frameRecord is one line of the frame trace.
type frameRecord struct {
	Seq      int64      `json:"seq"`
	TimeMs   float64    `json:"time_ms"`
	Viewer   xmath.Vec3 `json:"viewer"`
	Emulated bool       `json:"emulated"`
	Inputs   int        `json:"inputs"`
	Anchors  int        `json:"anchors"`
	Image    bool       `json:"image,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an emulated device session",
		Long: `Start an emulated XR device and run one session on the frame loop.

The simulated world tracker feeds the device through the sensor bridge. When
bridge.listen_addr is set, pages can also drive the bridge over the websocket
at /bridge; metrics.listen_addr exposes Prometheus metrics. With
profile.watch, edits to a .cue profile are applied to the running device.

Examples:
  xrsim run
  xrsim run --profile standalone-vr --mode immersive-vr --duration 10s
  xrsim run --record walk-around --features anchors,hit-test`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevice(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Profile, "profile", "", "built-in profile name or .cue file (overrides profile.path)")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "session mode (default: first immersive mode of the profile)")
	cmd.Flags().StringSliceVar(&opts.Features, "features", nil, "optional session features")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVar(&opts.Record, "record", "", "save the session as a named recording")
	cmd.Flags().StringVar(&opts.TraceDir, "trace-dir", ".xrsim", "directory for frames.jsonl at trace log level")

	return cmd
}

func runDevice(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level)
	slog.Debug("config loaded", runConfigSummary(cfg)...)
	f := newFormatter(opts.RootOptions, cmd)

	profileRef := cfg.Profile.Path
	if opts.Profile != "" {
		profileRef = opts.Profile
	}
	compiler, err := profile.NewCompiler()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create profile compiler", err)
	}
	devCfg, err := compiler.Resolve(profileRef)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load profile", err)
	}
	mode := opts.Mode
	if mode == "" {
		mode = immersiveMode(devCfg)
	}

	backend, st, err := openAnchorStore(cfg.Store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()
	if opts.Record != "" && st == nil {
		return NewExitError(ExitCommandError, "--record needs the sqlite store driver")
	}

	dev, err := device.New(devCfg, device.WithEnvironment(env.DefaultRoom(bridge.SimFloorID)))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create device", err)
	}
	tracker := bridge.NewSimTracker(bridge.DefaultSimConfig())
	coord := bridge.NewCoordinator(tracker,
		bridge.WithMailbox(dev.Mailbox()),
		bridge.WithViewport(devCfg.Width, devCfg.Height),
		bridge.WithVideoFrameSkip(cfg.Bridge.VideoFrameSkip),
	)
	dev.SetBridge(coord)
	defer coord.Close()

	ctx, cancel := signalContext(cmdContext(cmd))
	defer cancel()
	if opts.Duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, opts.Duration)
		defer stop()
	}

	reqCtx := ctx
	if cfg.Bridge.RequestTimeout > 0 {
		var stop context.CancelFunc
		reqCtx, stop = context.WithTimeout(ctx, cfg.Bridge.RequestTimeout)
		defer stop()
	}
	sess, err := session.Request(reqCtx, dev, mode, session.Options{
		OptionalFeatures: opts.Features,
		CameraAccess:     cfg.Bridge.CameraAccess,
		AnchorStore:      backend,
	})
	if err != nil {
		_ = f.Error(ErrCodeSessionStart, fmt.Sprintf("%s session request failed", mode), err.Error())
		return WrapExitError(ExitFailure, "session request failed", err)
	}
	sess.On(session.EventEnd, func(session.Event) { cancel() })
	slog.Info("session started", "session_id", sess.ID(), "mode", mode, "profile", devCfg.Name,
		"features", strings.Join(sess.EnabledFeatures(), ","))

	tracer := logging.NewFrameTracer(opts.TraceDir, cfg.Logging.Level)
	defer tracer.Close()

	var rec *recorder.Recorder
	if opts.Record != "" {
		rec = recorder.New(dev.Root())
	}
	anchors := 0
	var loop session.FrameCallback
	loop = func(now float64, frame *session.Frame) {
		sess.RequestAnimationFrame(loop)
		if tracked, err := frame.TrackedAnchors(); err == nil {
			anchors = len(tracked)
		}
		if rec != nil {
			if err := rec.Capture(now, dev.Viewer(), dev.InputSources()); err != nil {
				slog.Warn("failed to capture frame", "seq", frame.Seq(), "error", err)
			}
		}
		if tracer == nil {
			return
		}
		r := frameRecord{Seq: frame.Seq(), TimeMs: now, Inputs: len(sess.InputSources()), Anchors: anchors}
		if pose, err := frame.GetPose(dev.Viewer(), dev.Root()); err == nil {
			r.Viewer, r.Emulated = pose.Transform.Position, pose.Emulated
		}
		if img, err := frame.Image(); err == nil && img != nil {
			r.Image = true
		}
		tracer.Log(r)
	}
	sess.RequestAnimationFrame(loop)

	host := engine.NewHost(engine.WithFrameRate(cfg.Scheduler.TickRate))
	host.Attach(sess)

	if cfg.Profile.Watch {
		w, err := watchProfile(ctx, profileRef, host, dev)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to watch profile", err)
		}
		if w != nil {
			defer w.Stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return host.Run(gctx) })
	if addr := cfg.Bridge.ListenAddr; addr != "" {
		srv := bridge.NewServer(coord)
		g.Go(func() error { return srv.Run(gctx, addr) })
	}
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error { return serveMetrics(gctx, addr) })
	}

	f.Printf("Session %s (%s, %s) running. Press Ctrl-C to stop.\n", sess.ID(), mode, devCfg.Name)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "runtime error", err)
	}

	if !sess.Ended() {
		if err := sess.End(context.Background()); err != nil {
			slog.Warn("failed to end session", "session_id", sess.ID(), "error", err)
		}
	}

	summary := RunSummary{
		SessionID: sess.ID(),
		Mode:      mode,
		Profile:   devCfg.Name,
		Frames:    host.Frames(),
		FrameRate: host.FrameRate(),
		Anchors:   anchors,
	}
	if rec != nil {
		if err := saveRecording(st, opts.Record, rec.Recording()); err != nil {
			return WrapExitError(ExitCommandError, "failed to save recording", err)
		}
		summary.Recording = opts.Record
	}
	slog.Info("session stopped", "session_id", sess.ID(), "frames", summary.Frames)

	if f.JSON() {
		return f.Success(summary)
	}
	f.Printf("Stopped after %d frames at %.0f Hz.\n", summary.Frames, summary.FrameRate)
	if summary.Recording != "" {
		f.Printf("Saved recording %q.\n", summary.Recording)
	}
	return nil
}

// immersiveMode is the profile's first immersive mode, or inline.
func immersiveMode(cfg device.Config) string {
	for _, m := range cfg.SessionModes {
		if m != device.ModeInline {
			return m
		}
	}
	return device.ModeInline
}

// signalContext is cancelled on SIGINT or SIGTERM, or with parent.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// watchProfile hot-reloads a .cue profile. Built-in profiles cannot change,
// so it returns nil for them. Reloads run on the host goroutine.
func watchProfile(ctx context.Context, ref string, host *engine.Host, dev *device.Device) (*profile.Watcher, error) {
	if !strings.HasSuffix(ref, ".cue") {
		slog.Warn("profile.watch ignored for built-in profile", "profile", ref)
		return nil, nil
	}
	w, err := profile.NewWatcher(ref, func(c device.Config) {
		host.Submit(func(context.Context) error {
			if err := profile.Apply(dev, c); err != nil {
				return fmt.Errorf("apply profile %s: %w", c.Name, err)
			}
			slog.Info("profile reloaded", "profile", c.Name)
			return nil
		})
	}, profile.DefaultDebounce)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func serveMetrics(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func saveRecording(st *store.Store, name string, rec *recorder.Recording) error {
	if len(rec.Frames) == 0 {
		return errors.New("no frames captured")
	}
	return st.SaveRecording(context.Background(), name, rec)
}

// runConfigSummary lists the settings logged at startup.
func runConfigSummary(cfg *config.Config) []any {
	return []any{
		"tick_rate", cfg.Scheduler.TickRate,
		"store", cfg.Store.Driver,
		"bridge", cfg.Bridge.ListenAddr,
		"metrics", cfg.Metrics.ListenAddr,
	}
}
