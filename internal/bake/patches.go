package bake

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-rad/internal/level"
	"github.com/Faultbox/midgard-rad/pkg/rad"
)

// FacePatches is the range of patches generated for one face.
type FacePatches struct {
	First     rad.PatchIndex
	Count     rad.PatchIndex
	PatchSize float32
	nx, ny    int
}

// facePatchSize halves the base size until the patch fits into the face,
// but never below the minimum.
func facePatchSize(size mgl32.Vec2, profile BuildProfile) float32 {
	patch := float32(profile.BasePatchSize)
	shortest := min(size.X(), size.Y())
	for patch > shortest && patch/2 >= profile.MinPatchSize {
		patch /= 2
	}
	return patch
}

// CreatePatches fills patches with a uniform grid over every face that has a
// lightmap. The returned slice is indexed like lvl.Faces.
func CreatePatches(lvl *level.Level, profile BuildProfile, patches *rad.PatchList) ([]FacePatches, error) {
	faces := make([]FacePatches, len(lvl.Faces))

	var total uint64
	for i := range lvl.Faces {
		face := &lvl.Faces[i]
		if !face.HasLightmap() {
			continue
		}

		size := face.Size()
		fp := &faces[i]
		fp.PatchSize = facePatchSize(size, profile)
		fp.nx = int(math.Ceil(float64(size.X() / fp.PatchSize)))
		fp.ny = int(math.Ceil(float64(size.Y() / fp.PatchSize)))
		fp.First = rad.PatchIndex(total)
		fp.Count = rad.PatchIndex(fp.nx * fp.ny)
		total += uint64(fp.Count)
	}

	if total > rad.MaxPatchCount {
		return nil, fmt.Errorf("%w: %d patches, limit is %d", ErrConfiguration, total, uint64(rad.MaxPatchCount))
	}

	if err := patches.Allocate(rad.PatchIndex(total)); err != nil {
		return nil, err
	}

	for i := range lvl.Faces {
		face := &lvl.Faces[i]
		fp := faces[i]
		if fp.Count == 0 {
			continue
		}

		size := face.Size()
		step := mgl32.Vec2{size.X() / float32(fp.nx), size.Y() / float32(fp.ny)}
		idx := fp.First

		for y := 0; y < fp.ny; y++ {
			for x := 0; x < fp.nx; x++ {
				pos := mgl32.Vec2{(float32(x) + 0.5) * step.X(), (float32(y) + 0.5) * step.Y()}

				patch := patches.Ref(idx)
				patch.SetSize(fp.PatchSize)
				patch.SetFaceOrigin(pos)
				patch.SetOrigin(face.FaceToWorld(pos))
				patch.SetNormal(face.Normal())
				patch.SetPlane(face.Plane)
				idx++
			}
		}
	}

	return faces, nil
}

// PatchHash identifies the patch configuration of a level and profile.
func PatchHash(levelName string, profile BuildProfile, patches *rad.PatchList) rad.Digest {
	h := rad.NewPatchHasher()
	h.WriteString(levelName)
	h.WriteInt(profile.BasePatchSize)
	h.WriteFloat(profile.MinPatchSize)
	h.WritePatches(patches)
	return h.Sum()
}
