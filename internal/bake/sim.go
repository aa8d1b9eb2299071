// Package bake runs the radiosity pipeline for one level: patch generation,
// visibility, view factors, light bouncing and lightmap output.
package bake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-rad/internal/config"
	"github.com/Faultbox/midgard-rad/internal/level"
	"github.com/Faultbox/midgard-rad/internal/logger"
	"github.com/Faultbox/midgard-rad/internal/preview"
	"github.com/Faultbox/midgard-rad/pkg/rad"
)

// Stage names used in StageError.
const (
	StageLevel       = "level"
	StageVisMat      = "vismat"
	StageViewFactors = "viewfactors"
	StageBounce      = "bounce"
	StageLightmap    = "lightmap"
)

// ErrNoLevel is returned when a stage runs before SetLevel.
var ErrNoLevel = errors.New("no level loaded")

// StageError wraps a fatal error with the pipeline stage it happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// Sim is the baker facade. All methods must be called from one goroutine;
// the long phases fan out internally.
type Sim struct {
	cfg      *config.Config
	exec     *rad.Executor
	log      *zap.Logger
	progress rad.ProgressFunc

	level       *level.Level
	levelName   string
	levelConfig *LevelConfig
	profile     BuildProfile

	patches rad.PatchList
	faces   []FacePatches
	hash    rad.Digest

	vis       *rad.SparseVisMat
	vf        rad.VFList
	bouncer   rad.Bouncer
	lightmaps []FaceLightmap
}

// NewSim creates a baker using cfg for paths, defaults and worker count.
func NewSim(cfg *config.Config) *Sim {
	return &Sim{
		cfg:  cfg,
		exec: rad.NewExecutor(cfg.Bake.Workers),
		log:  logger.Named("rad"),
		vis:  &rad.SparseVisMat{},
	}
}

// SetProgressCallback sets the function that receives phase progress.
// It is called from the goroutine running the phase, 0 at the start and 1 at
// the end of each phase.
func (s *Sim) SetProgressCallback(fn func(progress float64)) {
	s.progress = fn
}

// Workers returns the number of worker goroutines.
func (s *Sim) Workers() int { return s.exec.Workers() }

// LevelConfigPath returns the location of <name>.rad.yaml.
func (s *Sim) LevelConfigPath(name string) string {
	return filepath.Join(s.cfg.Paths.Assets, "mapsrc", name+".rad.yaml")
}

// ProfilesPath returns the location of the global build profiles.
func (s *Sim) ProfilesPath() string {
	return filepath.Join(s.cfg.Paths.Assets, "rad_profiles.yaml")
}

// BuildDir returns the cache directory of the current level.
func (s *Sim) BuildDir() string {
	return filepath.Join(s.cfg.Paths.BuildDir, s.levelName)
}

// VisMatPath returns the sparse vismat cache path.
func (s *Sim) VisMatPath() string {
	return filepath.Join(s.BuildDir(), "svismat"+strconv.Itoa(s.profile.BasePatchSize)+".dat")
}

// VFListPath returns the view factor cache path.
func (s *Sim) VFListPath() string {
	return filepath.Join(s.BuildDir(), "vflist"+strconv.Itoa(s.profile.BasePatchSize)+".dat")
}

// LightmapPath returns the output lightmap path.
func (s *Sim) LightmapPath() string {
	return filepath.Join(s.cfg.Paths.MapsDir, s.levelName+".lm")
}

// PreviewPath returns the preview image path for the configured format.
func (s *Sim) PreviewPath() string {
	return filepath.Join(s.cfg.Paths.MapsDir, s.levelName+"_lm."+s.cfg.Bake.PreviewFormat)
}

// SetLevel loads lighting config and build profile for lvl and creates its
// patches. Previously computed data is dropped.
func (s *Sim) SetLevel(lvl *level.Level, name, profileName string) error {
	return stageError(StageLevel, s.setLevel(lvl, name, profileName))
}

func (s *Sim) setLevel(lvl *level.Level, name, profileName string) error {
	s.unloadLevel()

	done := logger.Timed("load level", zap.String("level", name), zap.String("profile", profileName))
	defer done()

	lc, err := LoadLevelConfig(s.LevelConfigPath(name), s.cfg.Rad)
	if err != nil {
		return err
	}
	if err := lc.ApplyEntities(lvl, s.cfg.Rad.EnvLightDivisor); err != nil {
		return err
	}

	global, err := LoadProfileSet(s.ProfilesPath())
	if err != nil {
		return err
	}
	profile, err := BuildProfiles{Global: global, Level: lc.Profiles}.Build(profileName)
	if err != nil {
		return err
	}
	if s.cfg.Bake.BounceOverride > 0 {
		profile.BounceCount = s.cfg.Bake.BounceOverride
	}

	faces, err := CreatePatches(lvl, profile, &s.patches)
	if err != nil {
		return err
	}

	s.level = lvl
	s.levelName = name
	s.levelConfig = lc
	s.profile = profile
	s.faces = faces
	s.hash = PatchHash(name, profile, &s.patches)

	s.log.Info("level loaded",
		zap.Int("faces", len(lvl.Faces)),
		zap.Int("patches", s.patches.Len()),
		zap.Int("base_patch_size", profile.BasePatchSize),
		zap.Float32("luxel_size", profile.LuxelSize),
		zap.Int("bounces", profile.BounceCount),
		zap.Stringer("hash", s.hash),
		logger.MiB("patch_memory", uint64(s.patches.Len())*s.patches.PatchMemoryUsage()),
	)
	return nil
}

func (s *Sim) unloadLevel() {
	s.level = nil
	s.levelName = ""
	s.levelConfig = nil
	s.profile = BuildProfile{}
	s.patches.Clear()
	s.faces = nil
	s.hash = rad.Digest{}
	s.vis.Unload()
	s.vf.Unload()
	s.bouncer = rad.Bouncer{}
	s.lightmaps = nil
}

// Level returns the current level, nil before SetLevel.
func (s *Sim) Level() *level.Level { return s.level }

// Profile returns the active build profile.
func (s *Sim) Profile() BuildProfile { return s.profile }

// LevelConfig returns the lighting config of the current level.
func (s *Sim) LevelConfig() *LevelConfig { return s.levelConfig }

// Patches returns the patch list of the current level.
func (s *Sim) Patches() *rad.PatchList { return &s.patches }

// FacePatches returns the patch range of every face.
func (s *Sim) FacePatches() []FacePatches { return s.faces }

// PatchHash returns the hash of the current patch configuration.
func (s *Sim) PatchHash() rad.Digest { return s.hash }

// IsVisMatValid reports whether the vismat matches the current patches.
func (s *Sim) IsVisMatValid() bool { return s.vis.IsValid(s.hash) }

// LoadVisMat tries to load the vismat from cache. A miss is logged, never
// returned as an error, and keeps the current vismat.
func (s *Sim) LoadVisMat() bool {
	if s.level == nil {
		return false
	}
	status := s.vis.LoadFromFile(s.VisMatPath(), s.hash, s.patches.Len())
	s.logCacheStatus("vismat", s.VisMatPath(), status)
	if status == rad.CacheLoaded {
		s.log.Info("vismat memory", logger.MiB("size", s.vis.MemoryUsage()))
	}
	return status == rad.CacheLoaded
}

// CalcVisMat builds the vismat and writes it to the cache.
func (s *Sim) CalcVisMat(ctx context.Context) error {
	return stageError(StageVisMat, s.calcVisMat(ctx))
}

func (s *Sim) calcVisMat(ctx context.Context) error {
	if s.level == nil {
		return ErrNoLevel
	}

	done := logger.Timed("vismat", zap.Int("patches", s.patches.Len()))
	vis, err := rad.BuildSparseVisMat(ctx, rad.PatchIndex(s.patches.Len()), s.hash,
		patchVisibility(s.level, &s.patches), s.exec, s.progress)
	if err != nil {
		return err
	}
	done()

	// View factors of the previous matrix don't line up with the new one
	s.vis = vis
	s.vf.Unload()
	s.log.Info("vismat built",
		zap.Int("visible_pairs", vis.TotalOnesCount()),
		zap.Int("runs", len(vis.ListItems())),
		logger.MiB("size", vis.MemoryUsage()),
	)

	s.saveCache("vismat", s.VisMatPath(), vis.SaveToFile)
	return nil
}

// IsVFListValid reports whether the view factors match the current patches.
func (s *Sim) IsVFListValid() bool { return s.vf.IsValid(s.hash) }

// LoadVFList tries to load view factors from cache. The list must belong to
// the current vismat. A miss is logged, never returned as an error.
func (s *Sim) LoadVFList() bool {
	if s.level == nil {
		return false
	}
	status := s.vf.LoadFromFile(s.VFListPath(), s.hash, s.vis)
	s.logCacheStatus("vflist", s.VFListPath(), status)
	return status == rad.CacheLoaded
}

// CalcViewFactors computes view factors from the vismat and writes them to
// the cache.
func (s *Sim) CalcViewFactors(ctx context.Context) error {
	return stageError(StageViewFactors, s.calcViewFactors(ctx))
}

func (s *Sim) calcViewFactors(ctx context.Context) error {
	if s.level == nil {
		return ErrNoLevel
	}

	done := logger.Timed("view factors", zap.Int("visible_pairs", s.vis.TotalOnesCount()))
	if err := s.vf.Calculate(ctx, &s.patches, s.vis, s.hash, s.exec, s.progress); err != nil {
		return err
	}
	done()

	s.log.Info("vflist memory", logger.MiB("size", s.vf.MemoryUsage()))
	s.saveCache("vflist", s.VFListPath(), s.vf.SaveToFile)
	return nil
}

// BounceLight adds direct light from the sun, the sky and emissive faces and
// bounces it between patches.
func (s *Sim) BounceLight(ctx context.Context) error {
	return stageError(StageBounce, s.bounceLight(ctx))
}

func (s *Sim) bounceLight(ctx context.Context) error {
	if s.level == nil {
		return ErrNoLevel
	}
	if !s.IsVisMatValid() || !s.IsVFListValid() {
		return rad.ErrVisMatRequired
	}

	s.bouncer.Setup(s.patches.Len(), s.profile.BounceCount)

	done := logger.Timed("direct light")
	if err := s.addEnvLighting(ctx); err != nil {
		return err
	}
	s.addTexLights()
	done()

	done = logger.Timed("bounce light", zap.Int("bounces", s.profile.BounceCount))
	err := s.bouncer.BounceLight(ctx, &s.patches, s.vis, &s.vf, s.levelConfig.Reflectivity, s.exec, s.progress)
	if err != nil {
		return err
	}
	done()

	s.log.Debug("bouncer memory", logger.MiB("size", s.bouncer.MemoryUsage()))
	return nil
}

// Lightmaps returns the lightmaps of the last WriteLightmaps call.
func (s *Sim) Lightmaps() []FaceLightmap { return s.lightmaps }

// WriteLightmaps samples patch colors into per-face lightmaps and writes the
// lightmap file and, if configured, a preview image.
func (s *Sim) WriteLightmaps(ctx context.Context) error {
	return stageError(StageLightmap, s.writeLightmaps(ctx))
}

func (s *Sim) writeLightmaps(ctx context.Context) error {
	if s.level == nil {
		return ErrNoLevel
	}

	done := logger.Timed("sample lightmaps")
	lightmaps, err := sampleLightmaps(ctx, s.level, s.faces, &s.patches, s.profile.LuxelSize, s.exec, s.progress)
	if err != nil {
		return err
	}
	done()
	s.lightmaps = lightmaps

	path := s.LightmapPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating maps dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating lightmap file: %w", err)
	}
	if err := WriteLightmapFile(f, lightmaps); err != nil {
		f.Close()
		return fmt.Errorf("writing lightmap file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing lightmap file: %w", err)
	}
	s.log.Info("lightmap written", zap.String("path", path))

	if s.cfg.Bake.PreviewFormat != "" {
		tiles := make([]preview.Tile, len(lightmaps))
		for i, lm := range lightmaps {
			tiles[i] = preview.Tile{Width: lm.Width, Height: lm.Height, Data: lm.Data}
		}
		opts := preview.Options{Gamma: s.levelConfig.Gamma, Scale: s.cfg.Bake.PreviewScale}
		if err := preview.Save(s.PreviewPath(), tiles, opts); err != nil {
			return err
		}
		s.log.Info("preview written", zap.String("path", s.PreviewPath()))
	}
	return nil
}

// Bake runs every stage, reusing valid caches.
func (s *Sim) Bake(ctx context.Context) error {
	if !s.LoadVisMat() {
		if err := s.CalcVisMat(ctx); err != nil {
			return err
		}
	}

	if !s.LoadVFList() {
		if err := s.CalcViewFactors(ctx); err != nil {
			return err
		}
	}

	if err := s.BounceLight(ctx); err != nil {
		return err
	}
	return s.WriteLightmaps(ctx)
}

func (s *Sim) logCacheStatus(kind, path string, status rad.CacheStatus) {
	if status == rad.CacheLoaded {
		s.log.Info(kind+" loaded from cache", zap.String("path", path))
		return
	}
	s.log.Info(kind+" cache not used", zap.String("path", path), zap.Stringer("reason", status))
}

// saveCache writes a cache file. Failures only cost a recompute next time.
func (s *Sim) saveCache(kind, path string, save func(string) error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		s.log.Warn("failed to create build dir", zap.String("path", path), zap.Error(err))
		return
	}
	if err := save(path); err != nil {
		s.log.Warn("failed to save "+kind, zap.String("path", path), zap.Error(err))
		return
	}
	s.log.Debug(kind+" saved", zap.String("path", path))
}
