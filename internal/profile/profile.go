// Package profile compiles CUE device profiles into device.Config.
//
// A profile is a single CUE document unified with the embedded #Device
// schema. Definitions are closed, so unknown fields are rejected. Built-in
// profiles are embedded; arkit-bridge is the default.
package profile

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/wem-technology/ios-webxr-sub000/internal/device"
	"github.com/wem-technology/ios-webxr-sub000/internal/input"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// DefaultName is the profile used when none is configured.
const DefaultName = "arkit-bridge"

//go:embed schema.cue
var schemaSrc string

//go:embed profiles/*.cue
var builtin embed.FS

// CompileError is a profile error with its CUE source position when known.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError converts the first CUE error into a CompileError.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	field := "cue"
	if p := first.Path(); len(p) > 0 {
		field = strings.Join(p, ".")
	}
	ce := &CompileError{Field: field, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}

type rawButton struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	EventTrigger string `json:"event_trigger"`
}

type rawController struct {
	Handedness string      `json:"handedness"`
	Profiles   []string    `json:"profiles"`
	Mapping    string      `json:"mapping"`
	Buttons    []rawButton `json:"buttons"`
	Axes       []string    `json:"axes"`
}

type rawDevice struct {
	Name             string    `json:"name"`
	SessionModes     []string  `json:"session_modes"`
	Features         []string  `json:"features"`
	FrameRates       []float64 `json:"frame_rates"`
	NominalFrameRate float64   `json:"nominal_frame_rate"`
	FovYDegrees      float64   `json:"fov_y_degrees"`
	IPD              float64   `json:"ipd"`
	Stereo           bool      `json:"stereo"`
	Resolution       struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"resolution"`
	FloorHeight      float64           `json:"floor_height"`
	PrimaryInputMode string            `json:"primary_input_mode"`
	Controllers      []rawController   `json:"controllers"`
	Hands            bool              `json:"hands"`
	BlendModes       map[string]string `json:"environment_blend_modes"`
}

// Compiler holds a CUE context and the compiled #Device schema. It is not
// safe for concurrent use.
type Compiler struct {
	ctx    *cue.Context
	device cue.Value
}

// NewCompiler compiles the embedded schema.
func NewCompiler() (*Compiler, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile profile schema: %w", formatCUEError(err))
	}
	def := schema.LookupPath(cue.ParsePath("#Device"))
	if !def.Exists() {
		return nil, fmt.Errorf("profile schema has no #Device definition")
	}
	return &Compiler{ctx: ctx, device: def}, nil
}

// Compile validates src against #Device and converts it.
func (c *Compiler) Compile(filename string, src []byte) (device.Config, error) {
	v := c.ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return device.Config{}, formatCUEError(err)
	}
	u := c.device.Unify(v)
	if err := u.Validate(cue.Concrete(true)); err != nil {
		return device.Config{}, formatCUEError(err)
	}

	var raw rawDevice
	if err := u.Decode(&raw); err != nil {
		return device.Config{}, formatCUEError(err)
	}
	cfg, err := raw.config()
	if err != nil {
		return device.Config{}, &CompileError{Field: "device", Message: err.Error(), Pos: v.Pos()}
	}
	if err := cfg.Validate(); err != nil {
		return device.Config{}, &CompileError{Field: "device", Message: err.Error(), Pos: v.Pos()}
	}
	return cfg, nil
}

// CompileFile reads and compiles a profile from disk.
func (c *Compiler) CompileFile(filename string) (device.Config, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return device.Config{}, fmt.Errorf("failed to read profile: %w", err)
	}
	return c.Compile(filename, src)
}

// Builtin compiles an embedded profile by name.
func (c *Compiler) Builtin(name string) (device.Config, error) {
	file := path.Join("profiles", name+".cue")
	src, err := fs.ReadFile(builtin, file)
	if err != nil {
		return device.Config{}, fmt.Errorf("unknown built-in profile %q", name)
	}
	return c.Compile(file, src)
}

// Resolve loads ref as a file path when it names a .cue file and as a
// built-in profile name otherwise. An empty ref is the default profile.
func (c *Compiler) Resolve(ref string) (device.Config, error) {
	if ref == "" {
		ref = DefaultName
	}
	if strings.HasSuffix(ref, ".cue") {
		return c.CompileFile(ref)
	}
	return c.Builtin(ref)
}

// BuiltinNames lists the embedded profiles in sorted order.
func BuiltinNames() []string {
	entries, err := fs.ReadDir(builtin, "profiles")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".cue"))
	}
	slices.Sort(names)
	return names
}

func (r rawDevice) config() (device.Config, error) {
	cfg := device.Config{
		Name:             r.Name,
		SessionModes:     r.SessionModes,
		Features:         r.Features,
		FrameRates:       r.FrameRates,
		NominalFrameRate: r.NominalFrameRate,
		FovY:             xmath.DegToRad(r.FovYDegrees),
		IPD:              r.IPD,
		Stereo:           r.Stereo,
		Width:            r.Resolution.Width,
		Height:           r.Resolution.Height,
		FloorHeight:      r.FloorHeight,
		PrimaryInputMode: r.PrimaryInputMode,
		Hands:            r.Hands,
		BlendModes:       r.BlendModes,
	}
	for i, rc := range r.Controllers {
		spec, err := rc.spec()
		if err != nil {
			return device.Config{}, fmt.Errorf("controllers[%d]: %w", i, err)
		}
		cfg.Controllers = append(cfg.Controllers, spec)
	}
	return cfg, nil
}

func (r rawController) spec() (input.ControllerSpec, error) {
	h, err := input.ParseHandedness(r.Handedness)
	if err != nil {
		return input.ControllerSpec{}, err
	}
	layout := input.Layout{Mapping: r.Mapping, Axes: r.Axes}
	for _, b := range r.Buttons {
		typ, err := input.ParseButtonType(b.Type)
		if err != nil {
			return input.ControllerSpec{}, fmt.Errorf("button %q: %w", b.ID, err)
		}
		layout.Buttons = append(layout.Buttons, input.ButtonSpec{ID: b.ID, Type: typ, EventTrigger: b.EventTrigger})
	}
	return input.ControllerSpec{Handedness: h, Profiles: r.Profiles, Layout: layout}, nil
}

// Apply pushes the hot-reloadable part of cfg onto a running device: field
// of view, IPD and stereo. Everything else needs a new device.
func Apply(d *device.Device, cfg device.Config) error {
	if err := d.SetFovY(cfg.FovY); err != nil {
		return err
	}
	if err := d.SetIPD(cfg.IPD); err != nil {
		return err
	}
	return d.SetStereo(cfg.Stereo)
}
