package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/wem-technology/ios-webxr-sub000/internal/profile"
)

// Profile error codes by the CUE field that failed.
const (
	ErrCodeProfileModes    = "E102" // session_modes
	ErrCodeProfileRates    = "E103" // frame_rates, nominal_frame_rate
	ErrCodeProfileInputs   = "E104" // controllers, primary_input_mode
	ErrCodeProfileGeometry = "E105" // fov, ipd, resolution, floor height
)

// ProfileSource is one profile to compile: a .cue file or a built-in name.
type ProfileSource struct {
	Ref     string
	Builtin bool
}

// LoadError is a profile that could not be found or compiled.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FindProfiles expands args into profile sources. A directory contributes
// every .cue file under it, a file is taken as is, and anything else must
// name a built-in profile. No args selects every built-in profile.
func FindProfiles(args []string) ([]ProfileSource, error) {
	builtins := profile.BuiltinNames()
	if len(args) == 0 {
		out := make([]ProfileSource, 0, len(builtins))
		for _, name := range builtins {
			out = append(out, ProfileSource{Ref: name, Builtin: true})
		}
		return out, nil
	}

	var out []ProfileSource
	for _, arg := range args {
		info, err := os.Stat(arg)
		switch {
		case err == nil && info.IsDir():
			files, err := FindCUEFiles(arg)
			if err != nil {
				return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("error scanning %s: %v", arg, err)}
			}
			if len(files) == 0 {
				return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", arg)}
			}
			for _, f := range files {
				out = append(out, ProfileSource{Ref: f})
			}
		case err == nil:
			out = append(out, ProfileSource{Ref: arg})
		case slices.Contains(builtins, arg):
			out = append(out, ProfileSource{Ref: arg, Builtin: true})
		default:
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("no profile file or built-in profile named %s", arg)}
		}
	}
	return out, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// compileProfile compiles one source with c.
func compileProfile(c *profile.Compiler, src ProfileSource) (deviceSummary, error) {
	if src.Builtin {
		cfg, err := c.Builtin(src.Ref)
		return summarize(cfg), err
	}
	cfg, err := c.CompileFile(src.Ref)
	return summarize(cfg), err
}

// convertCompileError attaches a code and position to a compile failure.
func convertCompileError(err error) *LoadError {
	var ce *profile.CompileError
	if errors.As(err, &ce) {
		return &LoadError{
			Code:    MapFieldToErrorCode(ce.Field),
			Message: ce.Message,
			Pos:     ce.Pos,
		}
	}
	return &LoadError{Code: ErrCodeProfile, Message: err.Error()}
}

// MapFieldToErrorCode maps a failing profile field path to an error code.
func MapFieldToErrorCode(field string) string {
	head, _, _ := strings.Cut(field, ".")
	switch head {
	case "session_modes":
		return ErrCodeProfileModes
	case "frame_rates", "nominal_frame_rate":
		return ErrCodeProfileRates
	case "controllers", "primary_input_mode", "hands":
		return ErrCodeProfileInputs
	case "fov_y_degrees", "ipd", "stereo", "resolution", "floor_height":
		return ErrCodeProfileGeometry
	default:
		return ErrCodeProfile
	}
}
