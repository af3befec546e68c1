// Package config loads xrsim settings from YAML files and XRSIM_*
// environment variables.
//
// Order: defaults -> config file -> environment variables. The result is
// checked with validator struct tags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for a config file when none is given.
const DefaultPath = "xrsim.yaml"

// Config contains all xrsim settings.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Store     StoreConfig     `yaml:"store"`
	Profile   ProfileConfig   `yaml:"profile"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LoggingConfig sets the log verbosity: "info" (default), "debug", or "trace".
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=info debug trace"`
}

// SchedulerConfig drives the host frame loop.
type SchedulerConfig struct {
	// TickRate is the frame rate used until a session requests another.
	TickRate float64 `yaml:"tick_rate" validate:"gt=0,lte=240"`
}

// BridgeConfig configures the native sensor bridge.
type BridgeConfig struct {
	// ListenAddr is where the websocket transport accepts a tracker. Empty
	// runs the simulated tracker in-process.
	ListenAddr string `yaml:"listen_addr" validate:"omitempty,hostname_port"`
	// VideoFrameSkip encodes one camera image every N tracked updates.
	VideoFrameSkip int           `yaml:"video_frame_skip" validate:"gte=1,lte=120"`
	CameraAccess   bool          `yaml:"camera_access"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`
}

// StoreConfig selects the anchor store backend.
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite json"`
	Path   string `yaml:"path" validate:"required"`
}

// ProfileConfig names the device profile: a built-in name or a .cue path.
type ProfileConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// MetricsConfig exposes Prometheus metrics. Empty disables the endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr" validate:"omitempty,hostname_port"`
}

var validate = validator.New()

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info"},
		Scheduler: SchedulerConfig{TickRate: 60},
		Bridge: BridgeConfig{
			VideoFrameSkip: 4,
			RequestTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "xrsim.db",
		},
	}
}

// Load reads path if it exists, then applies environment overrides. A
// missing file at the default path is not an error; a missing explicit path
// is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fileCfg
	} else if explicit {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML config on top of the defaults. Unknown keys are
// rejected.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Store.Path = expandEnvVars(cfg.Store.Path)
	cfg.Profile.Path = expandEnvVars(cfg.Profile.Path)
	return cfg, nil
}

// Validate checks the struct tags and reports every failing field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// applyEnvOverrides applies XRSIM_* variables. Malformed numbers are errors.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("XRSIM_LOG_LEVEL", &cfg.Logging.Level)
	str("XRSIM_BRIDGE_LISTEN_ADDR", &cfg.Bridge.ListenAddr)
	str("XRSIM_STORE_DRIVER", &cfg.Store.Driver)
	str("XRSIM_STORE_PATH", &cfg.Store.Path)
	str("XRSIM_PROFILE", &cfg.Profile.Path)
	str("XRSIM_METRICS_LISTEN_ADDR", &cfg.Metrics.ListenAddr)

	if v, ok := lookup("XRSIM_TICK_RATE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("XRSIM_TICK_RATE: %w", err)
		}
		cfg.Scheduler.TickRate = f
	}
	if v, ok := lookup("XRSIM_VIDEO_FRAME_SKIP"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("XRSIM_VIDEO_FRAME_SKIP: %w", err)
		}
		cfg.Bridge.VideoFrameSkip = n
	}
	if v, ok := lookup("XRSIM_CAMERA_ACCESS"); ok && v != "" {
		cfg.Bridge.CameraAccess = v == "true" || v == "1"
	}
	if v, ok := lookup("XRSIM_PROFILE_WATCH"); ok && v != "" {
		cfg.Profile.Watch = v == "true" || v == "1"
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
