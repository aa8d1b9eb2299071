package rad

import (
	"context"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

// createTestRoom creates patches on the six inner walls of a box, n per side
// per wall, all facing inward.
func createTestRoom(t *testing.T, n int) *PatchList {
	t.Helper()

	type wall struct {
		normal, u, v, corner mgl32.Vec3
	}
	walls := []wall{
		{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 0, 0}},
		{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 4, 0}},
		{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 0, 0}},
		{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{4, 0, 0}},
		{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 0}},
		{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 4}},
	}

	patches := &PatchList{}
	if err := patches.Allocate(PatchIndex(len(walls) * n * n)); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	size := float32(4) / float32(n)
	idx := PatchIndex(0)
	for w, wall := range walls {
		for x := 0; x < n; x++ {
			for y := 0; y < n; y++ {
				fo := mgl32.Vec2{(float32(x) + 0.5) * size, (float32(y) + 0.5) * size}
				p := patches.Ref(idx)
				p.SetSize(size)
				p.SetFaceOrigin(fo)
				p.SetOrigin(wall.corner.Add(wall.u.Mul(fo.X())).Add(wall.v.Mul(fo.Y())))
				p.SetNormal(wall.normal)
				p.SetPlane(PlaneIndex(w))
				idx++
			}
		}
	}
	return patches
}

// facingVisibility treats two patches as visible when they face each other.
func facingVisibility(patches *PatchList) VisibilityFunc {
	return func(i, j PatchIndex) bool {
		a, b := patches.Ref(i), patches.Ref(j)
		d := b.Origin().Sub(a.Origin())
		return a.Normal().Dot(d) > 0 && b.Normal().Dot(d) < 0
	}
}

// randomVisibility returns a deterministic pseudo-random predicate.
func randomVisibility(n int, density float64, seed int64) VisibilityFunc {
	rng := rand.New(rand.NewSource(seed))
	bits := make([]bool, n*n)
	for i := range bits {
		bits[i] = rng.Float64() < density
	}
	return func(i, j PatchIndex) bool {
		return bits[int(i)*n+int(j)]
	}
}

// pairVisibility makes exactly the given pairs visible.
func pairVisibility(pairs ...[2]PatchIndex) VisibilityFunc {
	set := make(map[[2]PatchIndex]bool)
	for _, p := range pairs {
		set[[2]PatchIndex{min(p[0], p[1]), max(p[0], p[1])}] = true
	}
	return func(i, j PatchIndex) bool {
		return set[[2]PatchIndex{i, j}]
	}
}

func buildTestVisMat(t *testing.T, n int, hash Digest, visible VisibilityFunc, workers int) *SparseVisMat {
	t.Helper()
	vis, err := BuildSparseVisMat(context.Background(), PatchIndex(n), hash, visible, NewExecutor(workers), nil)
	if err != nil {
		t.Fatalf("BuildSparseVisMat failed: %v", err)
	}
	return vis
}

func testHash(patches *PatchList) Digest {
	h := NewPatchHasher()
	h.WriteString("test")
	h.WritePatches(patches)
	return h.Sum()
}
