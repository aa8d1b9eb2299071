package rad

import (
	"context"
	"errors"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrBouncerNotReady is returned when BounceLight inputs don't match the setup
// or each other.
var ErrBouncerNotReady = errors.New("bouncer inputs don't match")

// Bouncer propagates light between visible patches.
//
// Every level b reads only level b-1 and writes only level b. Within a level
// each worker gathers the light arriving at one target patch, so no two
// workers ever write the same slot and the result doesn't depend on
// scheduling.
type Bouncer struct {
	patchCount  int
	bounceCount int
	bounce      []mgl32.Vec3 // (bounceCount+1) rows of patchCount colors
	patchSum    []mgl32.Vec3

	// Transposed relation: sources s < t that see target t and the vflist
	// slot of pair (s, t). Built once per run.
	inStart  []int
	inSource []PatchIndex
	inSlot   []int
}

// Setup allocates a zeroed bounce matrix.
func (b *Bouncer) Setup(patchCount, bounceCount int) {
	b.patchCount = patchCount
	b.bounceCount = bounceCount
	b.bounce = make([]mgl32.Vec3, patchCount*(bounceCount+1))
	b.patchSum = make([]mgl32.Vec3, patchCount)
	b.inStart, b.inSource, b.inSlot = nil, nil, nil
}

// BounceCount returns the configured number of bounces.
func (b *Bouncer) BounceCount() int { return b.bounceCount }

// PatchBounce returns the light of patch in the given bounce level.
// Level 0 is the direct light.
func (b *Bouncer) PatchBounce(patch PatchIndex, bounce int) mgl32.Vec3 {
	return b.bounce[b.patchCount*bounce+int(patch)]
}

func (b *Bouncer) level(bounce int) []mgl32.Vec3 {
	return b.bounce[b.patchCount*bounce : b.patchCount*(bounce+1)]
}

// AddPatchLight adds direct light to a patch. Sources accumulate.
func (b *Bouncer) AddPatchLight(patch PatchIndex, light mgl32.Vec3) {
	i := int(patch)
	b.bounce[i] = b.bounce[i].Add(light)
}

// MemoryUsage returns the size of the bounce data in bytes.
func (b *Bouncer) MemoryUsage() uint64 {
	vec := uint64(unsafe.Sizeof(mgl32.Vec3{}))
	return uint64(len(b.bounce)+len(b.patchSum))*vec +
		uint64(len(b.inStart)+len(b.inSlot))*uint64(unsafe.Sizeof(int(0))) +
		uint64(len(b.inSource))*4
}

// BounceLight runs all bounce levels and writes the sum of every level into
// the patches' final color.
func (b *Bouncer) BounceLight(ctx context.Context, patches *PatchList, vis *SparseVisMat, vf *VFList,
	reflectivity float32, exec *Executor, progress ProgressFunc) error {
	if patches.Len() != b.patchCount || vis.PatchCount() != b.patchCount || len(vf.Koeff()) != b.patchCount ||
		len(vf.PatchOffsets()) != b.patchCount || len(vf.Data()) != vis.TotalOnesCount() {
		return ErrBouncerNotReady
	}

	direct := b.level(0)
	for i := range direct {
		patches.Ref(PatchIndex(i)).SetFinalColor(direct[i])
	}

	progress.Report(0)

	if b.bounceCount > 0 {
		b.buildIncoming(vis)
	}

	for bounce := 1; bounce <= b.bounceCount; bounce++ {
		prev := b.level(bounce - 1)

		clear(b.patchSum)
		err := exec.ForEachIndex(ctx, b.patchCount, 128, func(t int) {
			b.gather(vis, vf, prev, PatchIndex(t))
		}, nil)
		if err != nil {
			return err
		}

		cur := b.level(bounce)
		for i := range cur {
			sum := b.patchSum[i]
			assert(sum.X() >= 0 && sum.Y() >= 0 && sum.Z() >= 0, "negative light")
			cur[i] = sum.Mul(reflectivity)

			patch := patches.Ref(PatchIndex(i))
			patch.SetFinalColor(patch.FinalColor().Add(cur[i]))
		}

		progress.Report(float64(bounce) / float64(b.bounceCount))
	}

	b.inStart, b.inSource, b.inSlot = nil, nil, nil
	progress.Report(1)
	return nil
}

// gather sums the light that reaches t from every patch it sees, using the
// single stored factor of each pair, and normalizes it with koeff[t].
func (b *Bouncer) gather(vis *SparseVisMat, vf *VFList, prev []mgl32.Vec3, t PatchIndex) {
	data := vf.Data()
	var sum mgl32.Vec3

	// Pairs (t, j > t) live in row t
	slot := vf.PatchOffsets()[t]
	vis.ForEachVisible(t, func(j PatchIndex) {
		sum = sum.Add(prev[j].Mul(data[slot]))
		slot++
	})

	// Pairs (s < t, t) live in row s
	for k := b.inStart[t]; k < b.inStart[t+1]; k++ {
		sum = sum.Add(prev[b.inSource[k]].Mul(data[b.inSlot[k]]))
	}

	koeff := vf.Koeff()[t]
	assert(isFinite(koeff), "koeff is not finite")
	b.patchSum[t] = sum.Mul(koeff)
}

// buildIncoming builds the transpose of the upper-triangular relation.
// Sources of each target are stored in ascending order.
func (b *Bouncer) buildIncoming(vis *SparseVisMat) {
	n := b.patchCount
	b.inStart = make([]int, n+1)
	b.inSource = make([]PatchIndex, vis.TotalOnesCount())
	b.inSlot = make([]int, vis.TotalOnesCount())

	for i := 0; i < n; i++ {
		vis.ForEachVisible(PatchIndex(i), func(j PatchIndex) {
			b.inStart[j+1]++
		})
	}
	for t := 0; t < n; t++ {
		b.inStart[t+1] += b.inStart[t]
	}

	fill := make([]int, n)
	copy(fill, b.inStart[:n])
	slot := 0
	for i := 0; i < n; i++ {
		vis.ForEachVisible(PatchIndex(i), func(j PatchIndex) {
			k := fill[j]
			b.inSource[k] = PatchIndex(i)
			b.inSlot[k] = slot
			fill[j]++
			slot++
		})
	}
}
