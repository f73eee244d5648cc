package lunacept

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// DefaultConfigFile is looked up in the working directory when no explicit
// path is given.
const DefaultConfigFile = "lunacept.yaml"

// ErrConfigValidation is returned when configuration validation fails.
var ErrConfigValidation = errors.New("configuration validation failed")

// Config controls report rendering and frame selection.
type Config struct {
	// Color is "auto", "always", or "never".
	Color string `yaml:"color"`
	// MaxFrames caps the report to the innermost N frames; 0 means no cap.
	MaxFrames int `yaml:"max_frames"`
	// MaxValueLen truncates rendered values beyond this many characters.
	MaxValueLen int `yaml:"max_value_len"`
	// ExitCode is the process exit status after a reported panic in main.
	ExitCode int `yaml:"exit_code"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Color:       "auto",
		MaxFrames:   16,
		MaxValueLen: 100,
		ExitCode:    1,
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path means
// the default file, and a missing default file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("%w: color must be auto, always, or never (got %q)", ErrConfigValidation, c.Color)
	}
	if c.MaxFrames < 0 {
		return fmt.Errorf("%w: max_frames must not be negative", ErrConfigValidation)
	}
	if c.MaxValueLen < 0 {
		return fmt.Errorf("%w: max_value_len must not be negative", ErrConfigValidation)
	}
	return nil
}
