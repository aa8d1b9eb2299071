package rad

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

// createFixedVFList gives every visible pair of vis the same view factor.
func createFixedVFList(vis *SparseVisMat, hash Digest, value float32) *VFList {
	n := vis.PatchCount()
	vf := &VFList{
		hash:    hash,
		loaded:  true,
		offsets: make([]int, n),
		data:    make([]float32, vis.TotalOnesCount()),
		koeff:   make([]float32, n),
	}
	vf.calcOffsets(vis)
	for i := range vf.data {
		vf.data[i] = value
	}
	vf.sumViewFactors(vis)
	return vf
}

func TestBounceLightWorkedExample(t *testing.T) {
	// A sees B and C, nothing else is visible
	const a, b, c = 0, 1, 2

	var patches PatchList
	if err := patches.Allocate(3); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	vis := buildTestVisMat(t, 3, Digest{}, pairVisibility([2]PatchIndex{a, b}, [2]PatchIndex{a, c}), 1)
	vf := createFixedVFList(vis, Digest{}, 10)

	if k := vf.Koeff()[b]; math.Abs(float64(k)-0.1) > 1e-6 {
		t.Fatalf("koeff(B) = %v, want 0.1", k)
	}

	var bouncer Bouncer
	bouncer.Setup(3, 1)
	bouncer.AddPatchLight(a, mgl32.Vec3{1, 1, 1})

	var reports []float64
	err := bouncer.BounceLight(context.Background(), &patches, vis, vf, 0.5, NewExecutor(2), func(p float64) {
		reports = append(reports, p)
	})
	if err != nil {
		t.Fatalf("BounceLight failed: %v", err)
	}

	got := patches.Ref(b).FinalColor()
	for i := 0; i < 3; i++ {
		if math.Abs(float64(got[i])-0.5) > 1e-5 {
			t.Errorf("B final color = %v, want 0.5 in every channel", got)
			break
		}
	}
	if got := patches.Ref(c).FinalColor(); got != patches.Ref(b).FinalColor() {
		t.Errorf("C final color = %v, want same as B", got)
	}

	// B and C are dark in level 0, so A gains nothing in bounce 1
	if got := patches.Ref(a).FinalColor(); got != (mgl32.Vec3{1, 1, 1}) {
		t.Errorf("A final color = %v, want direct light only", got)
	}

	if len(reports) < 2 || reports[0] != 0 || reports[len(reports)-1] != 1 {
		t.Errorf("expected progress from 0 to 1, got %v", reports)
	}
}

func TestBounceLightLevels(t *testing.T) {
	const a, b, c = 0, 1, 2

	var patches PatchList
	if err := patches.Allocate(3); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	vis := buildTestVisMat(t, 3, Digest{}, pairVisibility([2]PatchIndex{a, b}, [2]PatchIndex{a, c}), 1)
	vf := createFixedVFList(vis, Digest{}, 10)

	var bouncer Bouncer
	bouncer.Setup(3, 2)
	bouncer.AddPatchLight(a, mgl32.Vec3{0.5, 0, 0})
	bouncer.AddPatchLight(a, mgl32.Vec3{0.5, 0, 0})

	if err := bouncer.BounceLight(context.Background(), &patches, vis, vf, 0.5, NewExecutor(1), nil); err != nil {
		t.Fatalf("BounceLight failed: %v", err)
	}

	tests := []struct {
		patch  PatchIndex
		bounce int
		want   float32
	}{
		{a, 0, 1},
		{b, 1, 0.5},
		{a, 1, 0},
		// A averages B and C: 0.05 * (0.5*10 + 0.5*10) * 0.5
		{a, 2, 0.25},
		{b, 2, 0},
	}
	for _, tt := range tests {
		got := bouncer.PatchBounce(tt.patch, tt.bounce).X()
		if math.Abs(float64(got-tt.want)) > 1e-5 {
			t.Errorf("bounce[%d][%d] = %v, want %v", tt.bounce, tt.patch, got, tt.want)
		}
	}

	if got := patches.Ref(a).FinalColor().X(); math.Abs(float64(got)-1.25) > 1e-5 {
		t.Errorf("A final color = %v, want 1.25", got)
	}
}

func TestBounceLightDegeneratePatch(t *testing.T) {
	var patches PatchList
	if err := patches.Allocate(3); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	vis := buildTestVisMat(t, 3, Digest{}, pairVisibility([2]PatchIndex{0, 1}), 1)
	vf := createFixedVFList(vis, Digest{}, 4)

	var bouncer Bouncer
	bouncer.Setup(3, 3)
	bouncer.AddPatchLight(0, mgl32.Vec3{1, 1, 1})
	bouncer.AddPatchLight(2, mgl32.Vec3{0.3, 0.2, 0.1})

	if err := bouncer.BounceLight(context.Background(), &patches, vis, vf, 0.9, NewExecutor(4), nil); err != nil {
		t.Fatalf("BounceLight failed: %v", err)
	}

	if got := patches.Ref(2).FinalColor(); got != (mgl32.Vec3{0.3, 0.2, 0.1}) {
		t.Errorf("isolated patch final color = %v, want its direct light", got)
	}
	for bounce := 1; bounce <= 3; bounce++ {
		if got := bouncer.PatchBounce(2, bounce); got != (mgl32.Vec3{}) {
			t.Errorf("isolated patch received %v in bounce %d", got, bounce)
		}
	}
}

func TestBounceLightBoundedEnergy(t *testing.T) {
	patches := createTestRoom(t, 3)
	vis, vf := calcTestVFList(t, patches, 4)

	const bounces = 8
	const reflectivity = 0.7

	var bouncer Bouncer
	bouncer.Setup(patches.Len(), bounces)
	for i := 0; i < 9; i++ {
		bouncer.AddPatchLight(PatchIndex(i), mgl32.Vec3{1, 0.8, 0.6})
	}

	if err := bouncer.BounceLight(context.Background(), patches, vis, vf, reflectivity, NewExecutor(4), nil); err != nil {
		t.Fatalf("BounceLight failed: %v", err)
	}

	levelMax := func(bounce int) float32 {
		var m float32
		for i := 0; i < patches.Len(); i++ {
			l := bouncer.PatchBounce(PatchIndex(i), bounce)
			m = max(m, l.X(), l.Y(), l.Z())
		}
		return m
	}

	for bounce := 1; bounce <= bounces; bounce++ {
		prev, cur := levelMax(bounce-1), levelMax(bounce)
		if cur > prev*reflectivity*(1+1e-5) {
			t.Errorf("bounce %d max %v exceeds %v * reflectivity", bounce, cur, prev)
		}
	}

	for i := 0; i < patches.Len(); i++ {
		c := patches.Ref(PatchIndex(i)).FinalColor()
		for k := 0; k < 3; k++ {
			if c[k] < 0 || !isFinite(c[k]) {
				t.Errorf("patch %d final color %v is not finite and non-negative", i, c)
			}
		}
		// The sum of a geometric series with ratio 0.7 starting at 1
		if c.X() > 1/(1-reflectivity) {
			t.Errorf("patch %d final color %v is unbounded", i, c)
		}
	}
}

func TestBounceLightDeterministic(t *testing.T) {
	run := func(workers int) []mgl32.Vec3 {
		patches := createTestRoom(t, 3)
		vis, vf := calcTestVFList(t, patches, workers)

		var bouncer Bouncer
		bouncer.Setup(patches.Len(), 4)
		for i := 0; i < patches.Len(); i += 5 {
			bouncer.AddPatchLight(PatchIndex(i), mgl32.Vec3{float32(i%7) / 7, 0.5, 0.25})
		}
		if err := bouncer.BounceLight(context.Background(), patches, vis, vf, 0.6, NewExecutor(workers), nil); err != nil {
			t.Fatalf("BounceLight failed: %v", err)
		}

		colors := make([]mgl32.Vec3, patches.Len())
		for i := range colors {
			colors[i] = patches.Ref(PatchIndex(i)).FinalColor()
		}
		return colors
	}

	one, many := run(1), run(8)
	for i := range one {
		if one[i] != many[i] {
			t.Errorf("patch %d: %v with 1 worker, %v with 8", i, one[i], many[i])
		}
	}
}

func TestBounceLightMismatch(t *testing.T) {
	var patches PatchList
	if err := patches.Allocate(2); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	vis := buildTestVisMat(t, 2, Digest{}, pairVisibility(), 1)
	vf := createFixedVFList(vis, Digest{}, 1)

	var bouncer Bouncer
	bouncer.Setup(3, 1)
	err := bouncer.BounceLight(context.Background(), &patches, vis, vf, 0.5, NewExecutor(1), nil)
	if !errors.Is(err, ErrBouncerNotReady) {
		t.Errorf("expected ErrBouncerNotReady, got %v", err)
	}
}

func TestBounceLightForeignViewFactors(t *testing.T) {
	const n = 6

	var patches PatchList
	if err := patches.Allocate(n); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	// View factors computed for a single pair, used with a fuller matrix
	single := buildTestVisMat(t, n, Digest{}, pairVisibility([2]PatchIndex{0, 5}), 1)
	vf := createFixedVFList(single, Digest{}, 1)
	vis := buildTestVisMat(t, n, Digest{}, randomVisibility(n, 1, 1), 1)

	var bouncer Bouncer
	bouncer.Setup(n, 1)
	err := bouncer.BounceLight(context.Background(), &patches, vis, vf, 0.5, NewExecutor(2), nil)
	if !errors.Is(err, ErrBouncerNotReady) {
		t.Errorf("expected ErrBouncerNotReady, got %v", err)
	}
}
