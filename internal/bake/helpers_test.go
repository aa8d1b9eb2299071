package bake

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Faultbox/midgard-rad/internal/config"
	"github.com/Faultbox/midgard-rad/internal/level"
)

// boxLevelYAML is a 4x4x4 room, Z up, with an open sky instead of a ceiling.
const boxLevelYAML = `
faces:
  - {origin: [0, 0, 0], u: [4, 0, 0], v: [0, 4, 0]}
  - {origin: [0, 0, 0], u: [0, 4, 0], v: [0, 0, 4]}
  - {origin: [4, 0, 0], u: [0, 0, 4], v: [0, 4, 0]}
  - {origin: [0, 0, 0], u: [0, 0, 4], v: [4, 0, 0]}
  - {origin: [0, 4, 0], u: [4, 0, 0], v: [0, 0, 4]}
  - {origin: [0, 0, 4], u: [0, 4, 0], v: [4, 0, 0], sky: true}
entities:
  - classname: worldspawn
`

const testProfilesYAML = `
_common:
  base_patch_size: 2
  min_patch_size: 1
  luxel_size: null
  bounce_count: 2

fast:
  bounce_count: 1

fine:
  base_patch_size: 1
  min_patch_size: 0.5
`

const boxRadYAML = `
gamma: 2.2
reflectivity: 0.5
sunlight:
  pitch: -90
  yaw: 0
  color: [255, 255, 255]
  brightness: 1
`

// createTestAssets lays out an assets directory in a temp dir and returns a
// config pointing to it along with the level file path.
func createTestAssets(t *testing.T, radYAML string) (*config.Config, string) {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Paths.Assets = filepath.Join(root, "assets")
	cfg.Paths.BuildDir = filepath.Join(root, "assets", "mapsrc", "build")
	cfg.Paths.MapsDir = filepath.Join(root, "assets", "maps")
	cfg.Bake.Workers = 2

	mapsrc := filepath.Join(cfg.Paths.Assets, "mapsrc")
	if err := os.MkdirAll(mapsrc, 0755); err != nil {
		t.Fatalf("failed to create mapsrc: %v", err)
	}

	writeTestFile(t, filepath.Join(cfg.Paths.Assets, "rad_profiles.yaml"), testProfilesYAML)
	if radYAML != "" {
		writeTestFile(t, filepath.Join(mapsrc, "box.rad.yaml"), radYAML)
	}

	levelPath := filepath.Join(mapsrc, "box.yaml")
	writeTestFile(t, levelPath, boxLevelYAML)
	return cfg, levelPath
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func loadTestLevel(t *testing.T, path string) *level.Level {
	t.Helper()
	lvl, err := level.Load(path)
	if err != nil {
		t.Fatalf("failed to load level: %v", err)
	}
	return lvl
}
