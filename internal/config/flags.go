package config

import "flag"

var (
	flagConfig  = flag.String("config", "", "Path to config file")
	flagDebug   = flag.Bool("debug", false, "Enable debug logging")
	flagProfile = flag.String("profile", "", "Build profile name")
	flagBounce  = flag.Int("bounce", 0, "Override the profile bounce count")
	flagWorkers = flag.Int("workers", 0, "Worker count (0 = all CPUs)")
	flagPreview = flag.String("preview", "", "Write a lightmap preview (png, webp, tga)")
	flagAssets  = flag.String("assets", "", "Assets directory")
	flagLogFile = flag.String("log", "", "Log file path")
)

// ParseFlags parses the given command-line arguments. Call this early in main().
func ParseFlags(args []string) error {
	return flag.CommandLine.Parse(args)
}

// Args returns the positional arguments left after flag parsing.
func Args() []string {
	return flag.Args()
}

// ConfigPath returns the explicit config path if provided via -config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagProfile != "" {
		cfg.Bake.Profile = *flagProfile
	}
	if *flagBounce > 0 {
		cfg.Bake.BounceOverride = *flagBounce
	}
	if *flagWorkers > 0 {
		cfg.Bake.Workers = *flagWorkers
	}
	if *flagPreview != "" {
		cfg.Bake.PreviewFormat = *flagPreview
	}
	if *flagAssets != "" {
		cfg.Paths.Assets = *flagAssets
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
}
