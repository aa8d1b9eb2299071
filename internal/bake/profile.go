package bake

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration is returned for unusable build profiles and level configs.
var ErrConfiguration = errors.New("configuration error")

// commonProfile is merged into every profile before the named one.
const commonProfile = "_common"

// BuildProfile holds the parameters that control patch and lightmap density.
type BuildProfile struct {
	Name          string
	BasePatchSize int
	MinPatchSize  float32
	LuxelSize     float32 // never zero after BuildProfiles.Build
	BounceCount   int
}

// profileSection is one profile entry as written in YAML. Every field is
// optional, missing ones are inherited from earlier sections.
type profileSection struct {
	BasePatchSize *int      `yaml:"base_patch_size"`
	MinPatchSize  *float32  `yaml:"min_patch_size"`
	LuxelSize     yaml.Node `yaml:"luxel_size"` // null means "same as base_patch_size"
	BounceCount   *int      `yaml:"bounce_count"`
}

// ProfileSet maps profile names to sections.
type ProfileSet map[string]profileSection

// LoadProfileSet reads a rad_profiles.yaml file. A missing file is an empty set.
func LoadProfileSet(path string) (ProfileSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ProfileSet{}, nil
		}
		return nil, fmt.Errorf("reading profiles: %w", err)
	}

	var set ProfileSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfiguration, path, err)
	}
	if set == nil {
		set = ProfileSet{}
	}
	return set, nil
}

// partialProfile tracks which fields were set while merging.
type partialProfile struct {
	BuildProfile
	hasBase, hasMin, hasLuxel, hasBounce bool
}

func (p *partialProfile) apply(s profileSection) error {
	if s.BasePatchSize != nil {
		p.BasePatchSize, p.hasBase = *s.BasePatchSize, true
	}
	if s.MinPatchSize != nil {
		p.MinPatchSize, p.hasMin = *s.MinPatchSize, true
	}
	if s.LuxelSize.Kind != 0 {
		p.hasLuxel = true
		if s.LuxelSize.ShortTag() == "!!null" {
			p.LuxelSize = 0
		} else if err := s.LuxelSize.Decode(&p.LuxelSize); err != nil {
			return fmt.Errorf("%w: luxel_size: %v", ErrConfiguration, err)
		}
	}
	if s.BounceCount != nil {
		p.BounceCount, p.hasBounce = *s.BounceCount, true
	}
	return nil
}

// BuildProfiles merges global and level profile sets.
type BuildProfiles struct {
	Global ProfileSet // rad_profiles.yaml
	Level  ProfileSet // profiles section of the level config
}

// Build merges, in increasing priority, global _common, level _common,
// global name and level name. The profile must exist in one of the named
// sections and every field must be set after the merge. All problems are
// reported together.
func (b BuildProfiles) Build(name string) (BuildProfile, error) {
	p := partialProfile{BuildProfile: BuildProfile{Name: name}}

	var err error
	found := false
	layers := []struct {
		set   ProfileSet
		name  string
		named bool
	}{
		{b.Global, commonProfile, false},
		{b.Level, commonProfile, false},
		{b.Global, name, true},
		{b.Level, name, true},
	}
	for _, l := range layers {
		section, ok := l.set[l.name]
		if !ok {
			continue
		}
		if l.named {
			found = true
		}
		err = multierr.Append(err, p.apply(section))
	}

	if !found {
		return BuildProfile{}, fmt.Errorf("%w: profile %q not found", ErrConfiguration, name)
	}

	missing := func(set bool, field string) {
		if !set {
			err = multierr.Append(err, fmt.Errorf("%w: profile %q: %s not set, check %s profile", ErrConfiguration, name, field, commonProfile))
		}
	}
	missing(p.hasBase, "base_patch_size")
	missing(p.hasMin, "min_patch_size")
	missing(p.hasLuxel, "luxel_size")
	missing(p.hasBounce, "bounce_count")

	if p.hasBase && p.BasePatchSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: profile %q: base_patch_size must be positive", ErrConfiguration, name))
	}
	if p.hasMin && p.MinPatchSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: profile %q: min_patch_size must be positive", ErrConfiguration, name))
	}
	if p.hasBounce && p.BounceCount < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: profile %q: bounce_count must not be negative", ErrConfiguration, name))
	}
	if err != nil {
		return BuildProfile{}, err
	}

	if p.LuxelSize == 0 {
		p.LuxelSize = float32(p.BasePatchSize)
	}
	return p.BuildProfile, nil
}
