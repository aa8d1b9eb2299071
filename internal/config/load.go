package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the baker config file.
const ConfigFileName = "rad.yaml"

// ErrInvalidConfig is returned when a loaded config can't drive a bake.
var ErrInvalidConfig = errors.New("invalid config")

// Load loads configuration with priority: defaults < file < flags.
// The merged result is validated.
func Load() (*Config, error) {
	// Start with defaults
	cfg := Default()

	// Explicit -config path wins over the search locations
	configPath := ConfigPath()
	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
		}
	}

	// CLI flags have the highest priority
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile looks for rad.yaml in the working directory, then in the
// user config directory.
func findConfigFile() string {
	candidates := []string{
		ConfigFileName,
		filepath.Join(ConfigDir(), ConfigFileName),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "MidgardRad")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "MidgardRad")
	default: // Linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "midgard-rad")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "midgard-rad")
	}
}

// loadFromFile loads config from a YAML file, merging with existing values.
// Keys missing from the file keep their current value.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate reports every setting a bake can't run with.
func (c *Config) Validate() error {
	var err error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.Rad.Gamma > 0, "rad.gamma must be positive, got %v", c.Rad.Gamma)
	check(c.Rad.Reflectivity > 0 && c.Rad.Reflectivity < 1, "rad.reflectivity must be in (0, 1), got %v", c.Rad.Reflectivity)
	check(c.Rad.EnvLightDivisor > 0, "rad.env_light_divisor must be positive, got %v", c.Rad.EnvLightDivisor)
	check(c.Rad.SkyLightBrightness >= 0, "rad.sky_light_brightness must not be negative, got %v", c.Rad.SkyLightBrightness)
	check(c.Bake.Workers >= 0, "bake.workers must not be negative, got %d", c.Bake.Workers)
	check(c.Bake.BounceOverride >= 0, "bake.bounce_override must not be negative, got %d", c.Bake.BounceOverride)
	check(c.Bake.Profile != "", "bake.profile is empty")

	switch strings.ToLower(c.Bake.PreviewFormat) {
	case "", "png", "webp", "tga":
	default:
		check(false, "bake.preview_format %q is not png, webp or tga", c.Bake.PreviewFormat)
	}
	return err
}
