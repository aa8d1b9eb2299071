// Package rad implements the radiosity light-transport core: patch storage,
// the sparse visibility matrix, view factors and light bouncing.
package rad

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// PatchIndex identifies a patch in a PatchList.
type PatchIndex = uint32

// MaxPatchCount is the maximum number of patches. Maximum index is MaxPatchCount-1.
const MaxPatchCount = math.MaxUint32

// Epsilon is used for floating-point comparisons.
const Epsilon = 1.0 / 64.0

// PlaneIndex is a borrowed handle into a plane arena owned by the level.
type PlaneIndex int32

// NoPlane is the handle of a patch that isn't attached to a plane.
const NoPlane PlaneIndex = -1

// Plane is a level plane. Planes are owned by the level and must outlive
// every PatchList that references them.
type Plane struct {
	Normal mgl32.Vec3
	Dist   float32
	J      mgl32.Vec3 // Y axis of patches and lightmaps on this plane
}

// ProgressFunc receives the completion of a long phase in [0, 1].
type ProgressFunc func(progress float64)

// Report calls f if it is set.
func (f ProgressFunc) Report(progress float64) {
	if f != nil {
		f(progress)
	}
}

// FloatEquals reports whether two floats are within Epsilon of each other.
func FloatEquals(l, r float32) bool {
	return float32(math.Abs(float64(l-r))) <= Epsilon
}

func isFinite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

// assert panics when an arithmetic invariant is broken. It signals an
// upstream defect, never a recoverable condition.
func assert(cond bool, msg string) {
	if !cond {
		panic("rad: invariant violated: " + msg)
	}
}
