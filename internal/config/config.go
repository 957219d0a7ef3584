// Package config loads and watches the langbridge configuration file.
//
// The file is YAML and declares the set of analyzers the host may run,
// keyed by name. Durations are written in Go syntax ("30s", "1m30s").
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halcyonedit/langbridge/internal/analyzer"
)

// Errors returned by configuration operations.
var (
	// ErrFileNotFound indicates the configuration file doesn't exist.
	ErrFileNotFound = errors.New("config file not found")

	// ErrValidationFailed indicates the configuration is structurally
	// valid YAML but semantically unusable.
	ErrValidationFailed = errors.New("config validation failed")
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "30s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the root of the configuration file.
type Config struct {
	// Analyzers maps a name (typically a language) to its analyzer.
	Analyzers map[string]Analyzer `yaml:"analyzers"`
}

// Analyzer configures one supervised analyzer.
type Analyzer struct {
	// Command is the bare binary name.
	Command string `yaml:"command"`

	// Path, when set, points directly at the executable.
	Path string `yaml:"path,omitempty"`

	// BundleDir overrides the bundled-binary directory.
	BundleDir string `yaml:"bundle_dir,omitempty"`

	// Args are extra command-line arguments.
	Args []string `yaml:"args,omitempty"`

	// Env are additional environment variables.
	Env map[string]string `yaml:"env,omitempty"`

	// WorkDir is the subprocess working directory.
	WorkDir string `yaml:"workdir,omitempty"`

	RequestTimeout  Duration `yaml:"request_timeout,omitempty"`
	StartupTimeout  Duration `yaml:"startup_timeout,omitempty"`
	StopGracePeriod Duration `yaml:"stop_grace_period,omitempty"`

	Restart Restart `yaml:"restart,omitempty"`
}

// Restart configures crash recovery.
type Restart struct {
	Enabled        bool     `yaml:"enabled"`
	MaxAttempts    int      `yaml:"max_attempts,omitempty"`
	InitialBackoff Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     Duration `yaml:"max_backoff,omitempty"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrFileNotFound)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks semantic constraints.
func (c *Config) Validate() error {
	for name, a := range c.Analyzers {
		if a.Command == "" && a.Path == "" {
			return fmt.Errorf("analyzer %q: command or path required: %w", name, ErrValidationFailed)
		}
	}
	return nil
}

// ServerConfig converts one analyzer entry to the supervisor's form.
func (a Analyzer) ServerConfig() analyzer.ServerConfig {
	return analyzer.ServerConfig{
		Command:         a.Command,
		ExplicitPath:    a.Path,
		BundleDir:       a.BundleDir,
		Args:            a.Args,
		Env:             a.Env,
		WorkDir:         a.WorkDir,
		RequestTimeout:  time.Duration(a.RequestTimeout),
		StartupTimeout:  time.Duration(a.StartupTimeout),
		StopGracePeriod: time.Duration(a.StopGracePeriod),
		Restart: analyzer.RestartPolicy{
			Enabled:        a.Restart.Enabled,
			MaxAttempts:    a.Restart.MaxAttempts,
			InitialBackoff: time.Duration(a.Restart.InitialBackoff),
			MaxBackoff:     time.Duration(a.Restart.MaxBackoff),
		},
	}
}
