package bake

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/midgard-rad/internal/config"
	"github.com/Faultbox/midgard-rad/internal/level"
	"github.com/Faultbox/midgard-rad/internal/logger"
)

// SunLight is a directional light coming from the sky.
type SunLight struct {
	IsSet      bool
	Pitch      float32
	Yaw        float32    // -1 is straight up, -2 straight down
	Color      mgl32.Vec3 // gamma space, 0..1
	Brightness float32
}

// SkyLight is diffuse light coming from every sky direction.
type SkyLight struct {
	HasColor      bool       // otherwise the sun color is used
	Color         mgl32.Vec3 // gamma space, 0..1
	BrightnessMul float32
}

// LevelConfig holds per-level lighting settings.
type LevelConfig struct {
	Gamma        float32
	Reflectivity float32
	Sun          SunLight
	Sky          SkyLight
	Profiles     ProfileSet
}

type sunFile struct {
	Pitch      *float32    `yaml:"pitch"`
	Yaw        *float32    `yaml:"yaw"`
	Color      *mgl32.Vec3 `yaml:"color"`
	Brightness *float32    `yaml:"brightness"`
}

type skyFile struct {
	Color      *mgl32.Vec3 `yaml:"color"`
	Brightness *float32    `yaml:"brightness"`
}

type levelConfigFile struct {
	Gamma        *float32   `yaml:"gamma"`
	Reflectivity *float32   `yaml:"reflectivity"`
	Sunlight     *sunFile   `yaml:"sunlight"`
	Skylight     *skyFile   `yaml:"skylight"`
	Profiles     ProfileSet `yaml:"profiles"`
}

// DefaultLevelConfig returns a level config built from global defaults.
func DefaultLevelConfig(cfg config.RadConfig) *LevelConfig {
	return &LevelConfig{
		Gamma:        cfg.Gamma,
		Reflectivity: cfg.Reflectivity,
		Sky:          SkyLight{BrightnessMul: cfg.SkyLightBrightness},
		Profiles:     ProfileSet{},
	}
}

// LoadLevelConfig reads a <level>.rad.yaml file over the global defaults.
// A missing file yields the defaults.
func LoadLevelConfig(path string, cfg config.RadConfig) (*LevelConfig, error) {
	lc := DefaultLevelConfig(cfg)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return lc, nil
		}
		return nil, fmt.Errorf("reading level config: %w", err)
	}

	var file levelConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfiguration, path, err)
	}

	if file.Gamma != nil {
		lc.Gamma = *file.Gamma
	}
	if file.Reflectivity != nil {
		lc.Reflectivity = *file.Reflectivity
	}

	if s := file.Sunlight; s != nil {
		if s.Pitch == nil || s.Yaw == nil || s.Color == nil || s.Brightness == nil {
			return nil, fmt.Errorf("%w: %s: sunlight needs pitch, yaw, color and brightness", ErrConfiguration, path)
		}
		lc.Sun = SunLight{
			IsSet:      true,
			Pitch:      *s.Pitch,
			Yaw:        *s.Yaw,
			Color:      s.Color.Mul(1.0 / 255),
			Brightness: *s.Brightness,
		}
	}

	if s := file.Skylight; s != nil {
		if s.Color != nil {
			lc.Sky.HasColor = true
			lc.Sky.Color = s.Color.Mul(1.0 / 255)
		}
		if s.Brightness != nil {
			lc.Sky.BrightnessMul = *s.Brightness
		}
	}

	if file.Profiles != nil {
		lc.Profiles = file.Profiles
	}

	if lc.Reflectivity <= 0 || lc.Reflectivity >= 1 {
		return nil, fmt.Errorf("%w: %s: reflectivity must be in (0, 1), got %v", ErrConfiguration, path, lc.Reflectivity)
	}
	if lc.Gamma <= 0 {
		return nil, fmt.Errorf("%w: %s: gamma must be positive", ErrConfiguration, path)
	}
	return lc, nil
}

// GammaToLinear converts a gamma space color to linear space.
func (lc *LevelConfig) GammaToLinear(c mgl32.Vec3) mgl32.Vec3 {
	return powVec(c, lc.Gamma)
}

// LinearToGamma converts a linear color to gamma space.
func (lc *LevelConfig) LinearToGamma(c mgl32.Vec3) mgl32.Vec3 {
	return powVec(c, 1/lc.Gamma)
}

func powVec(c mgl32.Vec3, p float32) mgl32.Vec3 {
	for k := range c {
		c[k] = float32(math.Pow(float64(c[k]), float64(p)))
	}
	return c
}

// ApplyEntities takes the sun from the first light_environment entity when
// the level config doesn't set one. Its _light is "r g b brightness" with a
// linear color.
func (lc *LevelConfig) ApplyEntities(lvl *level.Level, envLightDivisor float32) error {
	if lc.Sun.IsSet {
		return nil
	}

	envs := lvl.EntitiesByClass("light_environment")
	if len(envs) == 0 {
		return nil
	}
	if len(envs) > 1 {
		logger.Warn("level has multiple light_environment, only the first one is used")
	}

	ent := envs[0]
	fields := strings.Fields(ent["_light"])
	if len(fields) != 4 {
		return fmt.Errorf("%w: light_environment _light = %q is invalid", ErrConfiguration, ent["_light"])
	}

	var rgbi [4]float32
	for k, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return fmt.Errorf("%w: light_environment _light = %q is invalid", ErrConfiguration, ent["_light"])
		}
		rgbi[k] = float32(v)
	}

	yaw, err := entityFloat(ent, "angle")
	if err != nil {
		return err
	}
	pitch, err := entityFloat(ent, "pitch")
	if err != nil {
		return err
	}

	color := mgl32.Vec3{rgbi[0], rgbi[1], rgbi[2]}.Mul(1.0 / 255)
	lc.Sun = SunLight{
		IsSet:      true,
		Pitch:      pitch,
		Yaw:        yaw,
		Color:      lc.LinearToGamma(color),
		Brightness: rgbi[3] / envLightDivisor,
	}
	return nil
}

func entityFloat(ent level.Entity, key string) (float32, error) {
	s, ok := ent[key]
	if !ok || s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s = %q is invalid", ErrConfiguration, ent.Classname(), key, s)
	}
	return float32(v), nil
}
