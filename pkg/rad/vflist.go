package rad

import (
	"context"
	"errors"
	"unsafe"
)

// VFListMagic identifies a view factor cache file.
const VFListMagic = "VFLIST001\x00"

// viewFactorScale is an engineering constant, not a radiometric normalization.
// Real normalization happens through the per-patch koeff.
const viewFactorScale = 10

var (
	// ErrVisMatRequired is returned when view factors are requested without a valid vismat.
	ErrVisMatRequired = errors.New("valid vismat required")

	// ErrVFListNotLoaded is returned when saving an empty list.
	ErrVFListNotLoaded = errors.New("vflist not loaded")
)

// VFList holds one view factor per visible pair, in SparseVisMat traversal order.
type VFList struct {
	loaded  bool
	hash    Digest
	offsets []int     // start of each patch's factors in data
	data    []float32 // view factors
	koeff   []float32 // inverse of the view factor mass incident on each patch
}

// IsLoaded reports whether the list was computed or loaded.
func (l *VFList) IsLoaded() bool { return l.loaded }

// IsValid reports whether the list belongs to the given patch hash.
func (l *VFList) IsValid(hash Digest) bool { return l.loaded && l.hash == hash }

// PatchOffsets returns the start index of each patch's factors.
func (l *VFList) PatchOffsets() []int { return l.offsets }

// Data returns the view factors.
func (l *VFList) Data() []float32 { return l.data }

// Koeff returns the per-patch normalization coefficients.
func (l *VFList) Koeff() []float32 { return l.koeff }

// MemoryUsage returns the size of the list in bytes.
func (l *VFList) MemoryUsage() uint64 {
	return uint64(len(l.offsets))*uint64(unsafe.Sizeof(int(0))) +
		uint64(len(l.koeff)+len(l.data))*4
}

// Unload drops the list.
func (l *VFList) Unload() {
	*l = VFList{}
}

// Calculate computes view factors for every visible pair of vis and the
// normalization coefficients. vis must be valid for hash.
func (l *VFList) Calculate(ctx context.Context, patches *PatchList, vis *SparseVisMat, hash Digest,
	exec *Executor, progress ProgressFunc) error {
	if !vis.IsValid(hash) || vis.PatchCount() != patches.Len() {
		return ErrVisMatRequired
	}

	l.Unload()

	n := patches.Len()
	l.offsets = make([]int, n)
	l.data = make([]float32, vis.TotalOnesCount())
	l.koeff = make([]float32, n)

	l.calcOffsets(vis)

	progress.Report(0)
	err := exec.ForEachIndex(ctx, n, 64, func(i int) {
		l.calcRow(patches, vis, PatchIndex(i))
	}, progress)
	if err != nil {
		l.Unload()
		return err
	}
	progress.Report(1)

	l.sumViewFactors(vis)

	l.hash = hash
	l.loaded = true
	return nil
}

func (l *VFList) calcOffsets(vis *SparseVisMat) {
	offset := 0
	for i, ones := range vis.OnesCountTable() {
		l.offsets[i] = offset
		offset += int(ones)
	}
}

// calcRow writes the factors of row i. Each row owns a disjoint slice of data.
func (l *VFList) calcRow(patches *PatchList, vis *SparseVisMat, i PatchIndex) {
	patch := patches.Ref(i)
	slot := l.offsets[i]

	vis.ForEachVisible(i, func(j PatchIndex) {
		l.data[slot] = PatchViewFactor(patch, patches.Ref(j))
		slot++
	})

	assert(slot-l.offsets[i] == int(vis.OnesCountTable()[i]), "row length differs from ones count")
}

// sumViewFactors adds each factor to koeff of both patches of the pair, then
// inverts the sums. It is serial because both ends of a pair are written.
func (l *VFList) sumViewFactors(vis *SparseVisMat) {
	for i := range l.offsets {
		slot := l.offsets[i]
		vis.ForEachVisible(PatchIndex(i), func(j PatchIndex) {
			vf := l.data[slot]
			l.koeff[i] += vf
			l.koeff[j] += vf
			slot++
		})
	}

	for i, sum := range l.koeff {
		if sum == 0 {
			l.koeff[i] = 1
		} else {
			l.koeff[i] = 1 / sum
		}
	}
}

// PatchViewFactor returns the scaled view factor between two patches that
// are known to see each other. The result is finite and non-negative.
func PatchViewFactor(p1, p2 PatchRef) float32 {
	dir := p2.Origin().Sub(p1.Origin())
	dist := dir.Len()

	if FloatEquals(dist, 0) {
		return 0
	}

	dir = dir.Mul(1 / dist)
	cos1 := p1.Normal().Dot(dir)
	cos2 := -p2.Normal().Dot(dir)

	if cos1 < 0 || cos2 < 0 {
		return 0
	}

	vf := cos1 * cos2 * viewFactorScale / (dist * dist)
	assert(isFinite(vf), "view factor is not finite")
	assert(vf >= 0, "view factor is negative")
	return vf
}

// SaveToFile writes the list to path.
func (l *VFList) SaveToFile(path string) error {
	if !l.loaded {
		return ErrVFListNotLoaded
	}

	return writeCacheFile(path, func(w *cacheWriter) {
		w.header(VFListMagic, l.hash)
		w.writeLen(len(l.offsets))
		w.writeLen(len(l.data))
		w.writeWords(l.offsets)
		w.write(l.data)
		w.write(l.koeff)
	})
}

// LoadFromFile loads path if it was written for hash and matches the pairs of
// vis. A mismatch is reported as a status and the current list is kept.
func (l *VFList) LoadFromFile(path string, hash Digest, vis *SparseVisMat) CacheStatus {
	r, f, status := openCache(path)
	if status != CacheLoaded {
		return status
	}
	defer f.Close()

	if status := r.header(VFListMagic, hash); status != CacheLoaded {
		return status
	}
	if !vis.IsValid(hash) {
		return CacheSizeMismatch
	}

	offsetCount := r.readLen()
	dataCount := r.readLen()
	if r.err != nil {
		return CacheTruncated
	}
	if offsetCount != uint64(vis.PatchCount()) || dataCount != uint64(vis.TotalOnesCount()) {
		return CacheSizeMismatch
	}

	body := int64(offsetCount)*(ptrSize+4) + int64(dataCount)*4
	if r.size != headerSize(VFListMagic)+16+body {
		return CacheTruncated
	}

	loaded := VFList{
		hash:    hash,
		offsets: make([]int, offsetCount),
		data:    make([]float32, dataCount),
		koeff:   make([]float32, offsetCount),
	}

	r.readWords(loaded.offsets)
	r.read(loaded.data)
	r.read(loaded.koeff)
	if r.err != nil {
		return CacheTruncated
	}

	// Offsets must be the prefix sums of the ones counts
	offset := 0
	for i, ones := range vis.OnesCountTable() {
		if loaded.offsets[i] != offset {
			return CacheSizeMismatch
		}
		offset += int(ones)
	}

	loaded.loaded = true
	*l = loaded
	return CacheLoaded
}

// ForEachPair calls fn for every stored pair (i < j) with its view factor.
func (l *VFList) ForEachPair(vis *SparseVisMat, fn func(i, j PatchIndex, vf float32)) {
	for i := range l.offsets {
		slot := l.offsets[i]
		vis.ForEachVisible(PatchIndex(i), func(j PatchIndex) {
			fn(PatchIndex(i), j, l.data[slot])
			slot++
		})
	}
}
