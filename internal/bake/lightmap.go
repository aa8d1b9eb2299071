package bake

import (
	"context"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-rad/internal/level"
	"github.com/Faultbox/midgard-rad/pkg/rad"
)

// filterRadius is the sampling radius in units of max(patch size, luxel size).
const filterRadius = 2

// missingLuxel marks luxels no patch contributed to.
var missingLuxel = mgl32.Vec3{1, 0, 1}

// FaceLightmap is the sampled light of one face. Faces without a lightmap
// have zero size.
type FaceLightmap struct {
	Width  int
	Height int
	Offset mgl32.Vec2 // face space position of luxel (0, 0) corner
	Data   []mgl32.Vec3
}

// HasLightmap reports whether the face was sampled.
func (lm *FaceLightmap) HasLightmap() bool { return lm.Width > 0 && lm.Height > 0 }

// Luxel returns the color at (x, y).
func (lm *FaceLightmap) Luxel(x, y int) mgl32.Vec3 { return lm.Data[y*lm.Width+x] }

// tent is a linear filter over [-2, 2].
func tent(x float32) float32 {
	switch {
	case x < -2:
		return 0
	case x < 0:
		return 1 + 0.5*x
	case x < 2:
		return 1 - 0.5*x
	default:
		return 0
	}
}

// sampleLightmaps resamples patch colors into one lightmap per face. Faces are
// processed in parallel, each writes only its own lightmap.
func sampleLightmaps(ctx context.Context, lvl *level.Level, faces []FacePatches, patches *rad.PatchList,
	luxelSize float32, exec *rad.Executor, progress rad.ProgressFunc) ([]FaceLightmap, error) {
	out := make([]FaceLightmap, len(lvl.Faces))

	progress.Report(0)
	err := exec.ForEachIndex(ctx, len(lvl.Faces), 1, func(i int) {
		if faces[i].Count == 0 {
			return
		}
		out[i] = sampleFace(&lvl.Faces[i], faces[i], patches, luxelSize)
	}, progress)
	if err != nil {
		return nil, err
	}
	progress.Report(1)
	return out, nil
}

func sampleFace(face *level.Face, fp FacePatches, patches *rad.PatchList, luxelSize float32) FaceLightmap {
	size := face.Size()
	lm := FaceLightmap{
		Width:  int(size.X()/luxelSize) + 1,
		Height: int(size.Y()/luxelSize) + 1,
	}

	// Center the face in the lightmap
	luxels := mgl32.Vec2{float32(lm.Width), float32(lm.Height)}
	lm.Offset = luxels.Sub(size.Mul(1 / luxelSize)).Mul(-0.5 * luxelSize)
	lm.Data = make([]mgl32.Vec3, lm.Width*lm.Height)

	pixel := max(fp.PatchSize, luxelSize)
	filterk := 1 / pixel
	radius := filterRadius * pixel

	for y := 0; y < lm.Height; y++ {
		for x := 0; x < lm.Width; x++ {
			pos := lm.Offset.Add(mgl32.Vec2{float32(x) + 0.5, float32(y) + 0.5}.Mul(luxelSize))

			var sum mgl32.Vec3
			var weightSum float32
			for p := fp.First; p < fp.First+fp.Count; p++ {
				patch := patches.Ref(p)
				d := patch.FaceOrigin().Sub(pos)
				if abs(d.X()) > radius || abs(d.Y()) > radius {
					continue
				}
				w := tent(d.X()*filterk) * tent(d.Y()*filterk)
				sum = sum.Add(patch.FinalColor().Mul(w))
				weightSum += w
			}

			if weightSum != 0 {
				lm.Data[y*lm.Width+x] = sum.Mul(1 / weightSum)
			} else {
				lm.Data[y*lm.Width+x] = missingLuxel
			}
		}
	}

	return lm
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
