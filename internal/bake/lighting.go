package bake

import (
	"context"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-rad/internal/level"
	"github.com/Faultbox/midgard-rad/pkg/rad"
)

const (
	// Yaw values for vertical lights.
	yawUp   = -1
	yawDown = -2

	// minSkyCos skips directions that graze the surface.
	minSkyCos = 0.001

	skyDirectionCount = 162
)

// skyDirections is a fixed, evenly spread set of unit vectors.
var skyDirections = fibonacciSphere(skyDirectionCount)

func fibonacciSphere(n int) []mgl32.Vec3 {
	golden := math.Pi * (3 - math.Sqrt(5))
	dirs := make([]mgl32.Vec3, n)
	for i := range dirs {
		z := 1 - (2*float64(i)+1)/float64(n)
		r := math.Sqrt(1 - z*z)
		phi := golden * float64(i)
		dirs[i] = mgl32.Vec3{float32(r * math.Cos(phi)), float32(r * math.Sin(phi)), float32(z)}
	}
	return dirs
}

// SunDirection returns the direction light travels for the given angles in
// degrees. Z is up. Yaw -1 and -2 point straight up and down.
func SunDirection(pitch, yaw float32) mgl32.Vec3 {
	switch yaw {
	case yawUp:
		return mgl32.Vec3{0, 0, 1}
	case yawDown:
		return mgl32.Vec3{0, 0, -1}
	}

	p := float64(mgl32.DegToRad(pitch))
	y := float64(mgl32.DegToRad(yaw))
	return mgl32.Vec3{
		float32(math.Cos(y) * math.Cos(p)),
		float32(math.Sin(y) * math.Cos(p)),
		float32(math.Sin(p)),
	}.Normalize()
}

// envLight is the linear sun and sky light of a level.
type envLight struct {
	sunSet   bool
	toSun    mgl32.Vec3
	sunColor mgl32.Vec3
	skyColor mgl32.Vec3
}

func newEnvLight(lc *LevelConfig) envLight {
	env := envLight{
		sunSet:   lc.Sun.IsSet,
		toSun:    SunDirection(lc.Sun.Pitch, lc.Sun.Yaw).Mul(-1),
		sunColor: lc.GammaToLinear(lc.Sun.Color).Mul(lc.Sun.Brightness),
	}

	if lc.Sky.HasColor {
		env.skyColor = lc.GammaToLinear(lc.Sky.Color).Mul(lc.Sun.Brightness)
	} else {
		env.skyColor = env.sunColor
	}
	env.skyColor = env.skyColor.Mul(lc.Sky.BrightnessMul)
	return env
}

func (e envLight) isEmpty() bool {
	return !e.sunSet && e.skyColor == (mgl32.Vec3{})
}

// directSun is the sun light reaching a patch that sees the sky.
func (e envLight) directSun(lvl *level.Level, patch rad.PatchRef) mgl32.Vec3 {
	cos := patch.Normal().Dot(e.toSun)
	if cos < minSkyCos {
		return mgl32.Vec3{}
	}
	if !lvl.ReachesSky(patch.Origin(), e.toSun) {
		return mgl32.Vec3{}
	}
	return e.sunColor.Mul(cos)
}

// diffuseSky is the sky light averaged over every direction above the patch.
func (e envLight) diffuseSky(lvl *level.Level, patch rad.PatchRef) mgl32.Vec3 {
	normal := patch.Normal()
	var intensity, sum float32

	for _, dir := range skyDirections {
		cos := normal.Dot(dir)
		if cos < minSkyCos {
			continue
		}
		sum += cos
		if lvl.ReachesSky(patch.Origin(), dir) {
			intensity += cos
		}
	}

	if sum == 0 {
		return mgl32.Vec3{}
	}
	return e.skyColor.Mul(intensity / sum)
}

// addEnvLighting adds sun and sky light to bounce 0. Each patch is handled by
// exactly one worker.
func (s *Sim) addEnvLighting(ctx context.Context) error {
	env := newEnvLight(s.levelConfig)
	if env.isEmpty() {
		s.log.Debug("no environment light")
		return nil
	}

	return s.exec.ForEachIndex(ctx, s.patches.Len(), 64, func(i int) {
		patch := s.patches.Ref(rad.PatchIndex(i))
		var light mgl32.Vec3
		if env.sunSet {
			light = light.Add(env.directSun(s.level, patch))
		}
		light = light.Add(env.diffuseSky(s.level, patch))
		if light != (mgl32.Vec3{}) {
			s.bouncer.AddPatchLight(patch.Index(), light)
		}
	}, nil)
}

// addTexLights adds the light of emissive faces, divided by reflectivity, to
// their patches.
func (s *Sim) addTexLights() {
	for i := range s.level.Faces {
		face := &s.level.Faces[i]
		fp := s.faces[i]
		if !face.IsEmissive() || fp.Count == 0 {
			continue
		}

		light := face.Light.Mul(1 / s.levelConfig.Reflectivity)
		for p := fp.First; p < fp.First+fp.Count; p++ {
			s.bouncer.AddPatchLight(p, light)
		}
	}
}
