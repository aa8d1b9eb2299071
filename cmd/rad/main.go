// rad bakes radiosity lightmaps for levels.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-rad/internal/bake"
	"github.com/Faultbox/midgard-rad/internal/config"
	"github.com/Faultbox/midgard-rad/internal/level"
	"github.com/Faultbox/midgard-rad/internal/logger"
)

func main() {
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	command := args[0]
	args = args[1:]

	var cmdErr error
	switch command {
	case "bake":
		cmdErr = cmdBake(cfg, args)
	case "info":
		cmdErr = cmdInfo(cfg, args)
	case "init-config":
		cmdErr = cmdInitConfig(cfg)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if cmdErr != nil {
		var stageErr *bake.StageError
		if errors.As(cmdErr, &stageErr) {
			logger.Error("bake failed", zap.String("stage", stageErr.Stage), zap.Error(stageErr.Err))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		logger.Sync()
		os.Exit(1)
	}
}

// parseArgs parses flags placed anywhere on the command line and returns the
// positional arguments in order.
func parseArgs(args []string) ([]string, error) {
	var positional []string
	for {
		if err := config.ParseFlags(args); err != nil {
			return nil, err
		}
		rest := config.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func printUsage() {
	fmt.Println(`rad - radiosity lightmap baker

Usage:
  rad <command> [args] [flags]

Commands:
  bake <level.yaml>    Bake lightmaps, reusing valid caches
  info <level.yaml>    Show patches, profile and cache state
  init-config          Write the current config to the user config dir

Flags:
  -config <path>       Config file (default ./rad.yaml or user config dir)
  -profile <name>      Build profile
  -bounce <n>          Override the profile bounce count
  -workers <n>         Worker count (0 = all CPUs)
  -preview <fmt>       Write a preview image (png, webp, tga)
  -assets <dir>        Assets directory
  -log <path>          Log file
  -debug               Debug logging

Examples:
  rad bake assets/mapsrc/prontera.yaml
  rad bake assets/mapsrc/prontera.yaml -profile final -preview webp`)
}

func loadSim(cfg *config.Config, args []string, usage string) (*bake.Sim, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: %s", usage)
	}

	lvl, err := level.Load(args[0])
	if err != nil {
		return nil, err
	}

	sim := bake.NewSim(cfg)
	if err := sim.SetLevel(lvl, lvl.Name, cfg.Bake.Profile); err != nil {
		return nil, err
	}
	return sim, nil
}

func cmdBake(cfg *config.Config, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sim, err := loadSim(cfg, args, "rad bake <level.yaml>")
	if err != nil {
		return err
	}

	last := -1
	sim.SetProgressCallback(func(p float64) {
		pct := int(p * 100)
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(os.Stderr, "\r%3d%%", pct)
		if pct == 100 {
			fmt.Fprintln(os.Stderr)
		}
	})

	logger.Info("baking", zap.String("level", sim.Level().Name), zap.Int("workers", sim.Workers()))
	if err := sim.Bake(ctx); err != nil {
		return err
	}

	fmt.Printf("Lightmap: %s\n", sim.LightmapPath())
	if cfg.Bake.PreviewFormat != "" {
		fmt.Printf("Preview:  %s\n", sim.PreviewPath())
	}
	return nil
}

func cmdInfo(cfg *config.Config, args []string) error {
	sim, err := loadSim(cfg, args, "rad info <level.yaml>")
	if err != nil {
		return err
	}

	lvl := sim.Level()
	profile := sim.Profile()
	lc := sim.LevelConfig()

	fmt.Printf("Level:    %s\n", lvl.Name)
	fmt.Printf("Faces:    %d\n", len(lvl.Faces))
	fmt.Printf("Planes:   %d\n", len(lvl.Planes))
	fmt.Printf("Patches:  %d\n", sim.Patches().Len())
	fmt.Printf("Hash:     %s\n", sim.PatchHash())
	fmt.Println()
	fmt.Printf("Profile:  %s (patch %d..%g, luxel %g, %d bounces)\n",
		profile.Name, profile.BasePatchSize, profile.MinPatchSize, profile.LuxelSize, profile.BounceCount)
	fmt.Printf("Lighting: gamma %g, reflectivity %g, sun %v\n", lc.Gamma, lc.Reflectivity, lc.Sun.IsSet)
	fmt.Println()
	fmt.Printf("Vismat:   %s (%s)\n", sim.VisMatPath(), cacheState(sim.LoadVisMat()))
	fmt.Printf("VFList:   %s (%s)\n", sim.VFListPath(), cacheState(sim.LoadVFList()))

	f, err := os.Open(sim.LightmapPath())
	if err != nil {
		fmt.Printf("Lightmap: %s (missing)\n", sim.LightmapPath())
		return nil
	}
	defer f.Close()

	lightmaps, err := bake.ReadLightmapFile(f)
	if err != nil {
		return fmt.Errorf("reading %s: %w", sim.LightmapPath(), err)
	}

	luxels := 0
	for _, lm := range lightmaps {
		luxels += lm.Width * lm.Height
	}
	fmt.Printf("Lightmap: %s (%d faces, %d luxels)\n", sim.LightmapPath(), len(lightmaps), luxels)
	if len(lightmaps) != len(lvl.Faces) {
		fmt.Println("          face count differs from the level, rebake needed")
	}
	return nil
}

func cacheState(valid bool) string {
	if valid {
		return "valid"
	}
	return "stale or missing"
}

func cmdInitConfig(cfg *config.Config) error {
	if err := cfg.Save(); err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", config.ConfigDir())
	return nil
}
