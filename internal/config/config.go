// Package config handles baker configuration loading and management.
package config

// Config holds all baker settings.
type Config struct {
	Rad     RadConfig     `yaml:"rad"`
	Paths   PathsConfig   `yaml:"paths"`
	Bake    BakeConfig    `yaml:"bake"`
	Logging LoggingConfig `yaml:"logging"`
}

// RadConfig holds global lighting defaults. Level configs may override them.
type RadConfig struct {
	Gamma              float32 `yaml:"gamma"`
	Reflectivity       float32 `yaml:"reflectivity"`
	EnvLightDivisor    float32 `yaml:"env_light_divisor"`    // divisor of light_environment brightness
	SkyLightBrightness float32 `yaml:"sky_light_brightness"` // sky brightness relative to the sun
}

// PathsConfig holds asset and output locations.
type PathsConfig struct {
	Assets   string `yaml:"assets"`    // directory with rad_profiles.yaml and level configs
	BuildDir string `yaml:"build_dir"` // cache directory (vismat, vflist)
	MapsDir  string `yaml:"maps_dir"`  // output directory for lightmaps
}

// BakeConfig holds bake session settings.
type BakeConfig struct {
	Workers        int    `yaml:"workers"` // 0 = number of CPUs
	Profile        string `yaml:"profile"`
	BounceOverride int    `yaml:"bounce_override"` // 0 = use profile
	PreviewFormat  string `yaml:"preview_format"`  // "", "png", "webp" or "tga"
	PreviewScale   int    `yaml:"preview_scale"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Rad: RadConfig{
			Gamma:              2.2,
			Reflectivity:       0.7,
			EnvLightDivisor:    200,
			SkyLightBrightness: 0.3,
		},
		Paths: PathsConfig{
			Assets:   "assets",
			BuildDir: "assets/mapsrc/build",
			MapsDir:  "assets/maps",
		},
		Bake: BakeConfig{
			Workers:       0,
			Profile:       "normal",
			PreviewFormat: "",
			PreviewScale:  4,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
