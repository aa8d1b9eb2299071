package rad

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func calcTestVFList(t *testing.T, patches *PatchList, workers int) (*SparseVisMat, *VFList) {
	t.Helper()
	hash := testHash(patches)
	vis := buildTestVisMat(t, patches.Len(), hash, facingVisibility(patches), workers)

	vf := &VFList{}
	if err := vf.Calculate(context.Background(), patches, vis, hash, NewExecutor(workers), nil); err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	return vis, vf
}

func TestPatchViewFactor(t *testing.T) {
	var patches PatchList
	if err := patches.Allocate(2); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	a, b := patches.Ref(0), patches.Ref(1)

	tests := []struct {
		name           string
		o1, n1, o2, n2 mgl32.Vec3
		want           float32
	}{
		{"facing at distance 1", mgl32.Vec3{}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{-1, 0, 0}, 10},
		{"facing at distance 2", mgl32.Vec3{}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{2, 0, 0}, mgl32.Vec3{-1, 0, 0}, 2.5},
		{"coincident", mgl32.Vec3{1, 1, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{1, 1, 1.01}, mgl32.Vec3{-1, 0, 0}, 0},
		{"first back facing", mgl32.Vec3{}, mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{-1, 0, 0}, 0},
		{"second back facing", mgl32.Vec3{}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{1, 0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a.SetOrigin(tt.o1)
			a.SetNormal(tt.n1)
			b.SetOrigin(tt.o2)
			b.SetNormal(tt.n2)

			got := PatchViewFactor(a, b)
			if math.Abs(float64(got-tt.want)) > 1e-5 {
				t.Errorf("PatchViewFactor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVFListCalculate(t *testing.T) {
	patches := createTestRoom(t, 3)
	vis, vf := calcTestVFList(t, patches, 4)

	if !vf.IsLoaded() || !vf.IsValid(testHash(patches)) {
		t.Fatal("expected calculated list to be valid")
	}

	// Offsets are the exclusive prefix sum of the ones count table
	offset := 0
	for i, ones := range vis.OnesCountTable() {
		if vf.PatchOffsets()[i] != offset {
			t.Errorf("offset %d = %d, want %d", i, vf.PatchOffsets()[i], offset)
		}
		offset += int(ones)
	}
	if offset != vis.TotalOnesCount() || len(vf.Data()) != offset {
		t.Errorf("data length %d, total ones %d, prefix sum %d", len(vf.Data()), vis.TotalOnesCount(), offset)
	}

	for i, v := range vf.Data() {
		if v < 0 || math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Errorf("view factor %d is %v", i, v)
		}
	}

	// koeff normalizes the view factor mass incident on each patch
	incident := make([]float64, patches.Len())
	vf.ForEachPair(vis, func(i, j PatchIndex, v float32) {
		incident[i] += float64(v)
		incident[j] += float64(v)
	})
	for i, k := range vf.Koeff() {
		if got := float64(k) * incident[i]; math.Abs(got-1) > 1e-4 {
			t.Errorf("patch %d: koeff * incident = %f, want 1", i, got)
		}
	}
}

func TestVFListDeterministic(t *testing.T) {
	patches := createTestRoom(t, 4)
	_, a := calcTestVFList(t, patches, 1)
	_, b := calcTestVFList(t, patches, 8)

	if !reflect.DeepEqual(a.Data(), b.Data()) || !reflect.DeepEqual(a.Koeff(), b.Koeff()) {
		t.Error("view factors depend on worker count")
	}
}

func TestVFListRequiresValidVisMat(t *testing.T) {
	patches := createTestRoom(t, 2)
	vis := buildTestVisMat(t, patches.Len(), Digest{1}, facingVisibility(patches), 1)

	var vf VFList
	err := vf.Calculate(context.Background(), patches, vis, Digest{2}, NewExecutor(1), nil)
	if !errors.Is(err, ErrVisMatRequired) {
		t.Errorf("expected ErrVisMatRequired, got %v", err)
	}
	if vf.IsLoaded() {
		t.Error("list loaded without a valid vismat")
	}
}

func TestVFListDegeneratePatch(t *testing.T) {
	var patches PatchList
	if err := patches.Allocate(3); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	patches.Ref(1).SetOrigin(mgl32.Vec3{1, 0, 0})
	patches.Ref(0).SetNormal(mgl32.Vec3{1, 0, 0})
	patches.Ref(1).SetNormal(mgl32.Vec3{-1, 0, 0})
	patches.Ref(2).SetOrigin(mgl32.Vec3{0, 5, 0})
	patches.Ref(2).SetNormal(mgl32.Vec3{0, 1, 0})

	hash := testHash(&patches)
	vis := buildTestVisMat(t, 3, hash, pairVisibility([2]PatchIndex{0, 1}), 1)

	var vf VFList
	if err := vf.Calculate(context.Background(), &patches, vis, hash, NewExecutor(2), nil); err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if k := vf.Koeff()[2]; k != 1 {
		t.Errorf("patch without visible pairs: koeff = %v, want 1", k)
	}
	if k := vf.Koeff()[0]; math.Abs(float64(k)-0.1) > 1e-6 {
		t.Errorf("koeff[0] = %v, want 0.1", k)
	}
}

func TestVFListSaveLoad(t *testing.T) {
	patches := createTestRoom(t, 3)
	hash := testHash(patches)
	vis, vf := calcTestVFList(t, patches, 2)

	path := filepath.Join(t.TempDir(), "vflist.dat")
	if err := vf.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	var loaded VFList
	if status := loaded.LoadFromFile(path, hash, vis); status != CacheLoaded {
		t.Fatalf("LoadFromFile: %s", status)
	}
	if !loaded.IsValid(hash) {
		t.Error("loaded list is not valid")
	}
	if !reflect.DeepEqual(loaded.PatchOffsets(), vf.PatchOffsets()) ||
		!reflect.DeepEqual(loaded.Data(), vf.Data()) ||
		!reflect.DeepEqual(loaded.Koeff(), vf.Koeff()) {
		t.Error("loaded list differs from saved one")
	}
}

func TestVFListLoadMisses(t *testing.T) {
	patches := createTestRoom(t, 2)
	hash := testHash(patches)
	vis, vf := calcTestVFList(t, patches, 1)

	dir := t.TempDir()
	path := filepath.Join(dir, "vflist.dat")
	if err := vf.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read cache: %v", err)
	}

	write := func(name string, b []byte) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, b, 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
		return p
	}

	badMagic := append([]byte("SVISMAT001\x00"), data[len(VFListMagic)+1:]...)
	badPtr := append([]byte{}, data...)
	badPtr[len(VFListMagic)] = 3

	// Second offset no longer matches the ones count of patch 0
	badOffsets := append([]byte{}, data...)
	badOffsets[headerSize(VFListMagic)+16+ptrSize]++

	// Moving one patch changes the hash
	moved := createTestRoom(t, 2)
	moved.Ref(0).SetOrigin(moved.Ref(0).Origin().Add(mgl32.Vec3{0.1, 0, 0}))
	movedHash := testHash(moved)
	movedVis := buildTestVisMat(t, moved.Len(), movedHash, facingVisibility(moved), 1)

	// Same hash, but the vismat came from a different visibility test
	otherVis := buildTestVisMat(t, patches.Len(), hash, pairVisibility([2]PatchIndex{0, 5}), 1)

	tests := []struct {
		name string
		path string
		hash Digest
		vis  *SparseVisMat
		want CacheStatus
	}{
		{"missing", filepath.Join(dir, "none.dat"), hash, vis, CacheMissing},
		{"bad magic", write("magic.dat", badMagic), hash, vis, CacheBadMagic},
		{"pointer size", write("ptr.dat", badPtr), hash, vis, CachePointerSize},
		{"stale hash", path, movedHash, movedVis, CacheHashMismatch},
		{"vismat of another hash", path, hash, movedVis, CacheSizeMismatch},
		{"different visible pairs", path, hash, otherVis, CacheSizeMismatch},
		{"bad offsets", write("offsets.dat", badOffsets), hash, vis, CacheSizeMismatch},
		{"truncated", write("short.dat", data[:len(data)-3]), hash, vis, CacheTruncated},
		{"trailing bytes", write("long.dat", append(append([]byte{}, data...), 0)), hash, vis, CacheTruncated},
		{"empty", write("empty.dat", nil), hash, vis, CacheTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var loaded VFList
			if status := loaded.LoadFromFile(tt.path, tt.hash, tt.vis); status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, status)
			}
			if loaded.IsLoaded() {
				t.Error("list loaded from a cache miss")
			}
		})
	}
}

func TestVFListLoadMissKeepsList(t *testing.T) {
	patches := createTestRoom(t, 2)
	hash := testHash(patches)
	vis, vf := calcTestVFList(t, patches, 1)

	data := append([]float32{}, vf.Data()...)
	if status := vf.LoadFromFile(filepath.Join(t.TempDir(), "none.dat"), hash, vis); status != CacheMissing {
		t.Fatalf("expected %s, got %s", CacheMissing, status)
	}
	if !vf.IsValid(hash) || !reflect.DeepEqual(vf.Data(), data) {
		t.Error("a cache miss dropped the computed list")
	}
}

func TestVFListSaveUnloaded(t *testing.T) {
	var vf VFList
	err := vf.SaveToFile(filepath.Join(t.TempDir(), "vflist.dat"))
	if !errors.Is(err, ErrVFListNotLoaded) {
		t.Errorf("expected ErrVFListNotLoaded, got %v", err)
	}
}
