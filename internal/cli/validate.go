package cli

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wem-technology/ios-webxr-sub000/internal/device"
	"github.com/wem-technology/ios-webxr-sub000/internal/profile"
)

// ValidationError is one profile failure.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// deviceSummary is the compiled profile as reported by validate.
type deviceSummary struct {
	Name         string    `json:"name"`
	SessionModes []string  `json:"session_modes"`
	FrameRates   []float64 `json:"frame_rates"`
	FovYDegrees  float64   `json:"fov_y_degrees"`
	Input        string    `json:"primary_input_mode"`
	Controllers  int       `json:"controllers"`
}

func summarize(cfg device.Config) deviceSummary {
	return deviceSummary{
		Name:         cfg.Name,
		SessionModes: cfg.SessionModes,
		FrameRates:   cfg.FrameRates,
		FovYDegrees:  cfg.FovY * 180 / math.Pi,
		Input:        cfg.PrimaryInputMode,
		Controllers:  len(cfg.Controllers),
	}
}

// ProfileCheck is the validation outcome of one profile.
type ProfileCheck struct {
	Profile string           `json:"profile"`
	Builtin bool             `json:"builtin,omitempty"`
	Valid   bool             `json:"valid"`
	Device  *deviceSummary   `json:"device,omitempty"`
	Error   *ValidationError `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool           `json:"valid"`
	Profiles []ProfileCheck `json:"profiles"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [profile.cue | dir | builtin-name]...",
		Short: "Validate device profiles",
		Long: `Check device profiles against the #Device schema.

Arguments may be .cue files, directories of .cue files or built-in profile
names. Without arguments every built-in profile is checked.

Exit codes:
  0 - All profiles valid
  1 - One or more profiles invalid
  2 - Command error (path not found, etc.)

Examples:
  xrsim validate
  xrsim validate ./profiles
  xrsim validate quest.cue --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	sources, err := FindProfiles(args)
	if err != nil {
		code := ErrCodeGeneric
		var le *LoadError
		if errors.As(err, &le) {
			code = le.Code
		}
		_ = f.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to find profiles", err)
	}

	c, err := profile.NewCompiler()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create profile compiler", err)
	}

	result := ValidationResult{Valid: true, Profiles: make([]ProfileCheck, 0, len(sources))}
	for _, src := range sources {
		f.VerboseLog("Validating profile: %s", src.Ref)
		check := ProfileCheck{Profile: src.Ref, Builtin: src.Builtin, Valid: true}
		summary, err := compileProfile(c, src)
		if err != nil {
			le := convertCompileError(err)
			check.Valid = false
			check.Error = &ValidationError{Code: le.Code, Message: le.Message}
			if le.Pos.IsValid() {
				check.Error.File, check.Error.Line = le.Pos.Filename(), le.Pos.Line()
			}
			result.Valid = false
		} else {
			check.Device = &summary
		}
		result.Profiles = append(result.Profiles, check)
	}

	failed := 0
	for _, p := range result.Profiles {
		if !p.Valid {
			failed++
		}
	}
	var failure string
	if failed > 0 {
		failure = fmt.Sprintf("%d profile(s) invalid", failed)
	}

	if f.JSON() {
		if err := f.Result(result, ErrCodeProfile, failure); err != nil {
			return err
		}
	} else {
		outputValidateText(f, result)
	}
	if failure != "" {
		return NewExitError(ExitFailure, failure)
	}
	return nil
}

func outputValidateText(f *OutputFormatter, r ValidationResult) {
	for _, p := range r.Profiles {
		if p.Valid {
			d := p.Device
			f.Printf("%s %s: %s, %s input, %v Hz\n", mark(true), p.Profile,
				strings.Join(d.SessionModes, "/"), d.Input, d.FrameRates)
			continue
		}
		f.Printf("%s %s\n", mark(false), p.Profile)
		loc := ""
		if p.Error.Line > 0 {
			loc = fmt.Sprintf(" (line %d)", p.Error.Line)
		}
		f.Printf("  [%s] %s%s\n", p.Error.Code, p.Error.Message, loc)
	}
	if r.Valid {
		f.Printf("✓ All profiles valid\n")
	}
}
