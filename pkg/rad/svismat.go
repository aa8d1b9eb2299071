package rad

import (
	"context"
	"errors"
	"fmt"
	"math"
	"unsafe"
)

// SVisMatMagic identifies a sparse vismat cache file.
const SVisMatMagic = "SVISMAT001\x00"

// ErrVisMatNotLoaded is returned when saving an empty matrix.
var ErrVisMatNotLoaded = errors.New("sparse vismat not loaded")

// ListItem is one run of visible patches.
type ListItem struct {
	Offset uint16 // patches skipped since the previous run
	Size   uint16 // visible patches in this run; zero when only Offset is carried
}

// Run limits. A gap longer than MaxRunOffset is split into runs of size 0.
const (
	MaxRunOffset = math.MaxUint16
	MaxRunSize   = math.MaxUint16
)

// VisibilityFunc reports whether patches i < j can see each other.
// It must be deterministic for a given patch configuration.
type VisibilityFunc func(i, j PatchIndex) bool

// SparseVisMat is a run-length encoded upper-triangular visibility relation.
// Pair (i, j) is stored once, in row min(i, j). It is read-only once built.
type SparseVisMat struct {
	loaded         bool
	hash           Digest
	offsetTable    []int        // index into listItems for each patch
	countTable     []PatchIndex // number of runs for each patch
	onesCountTable []PatchIndex // number of visible patches after i
	listItems      []ListItem
	totalOnesCount int
}

// IsLoaded reports whether a matrix was built or loaded.
func (m *SparseVisMat) IsLoaded() bool { return m.loaded }

// IsValid reports whether the loaded matrix belongs to the given patch hash.
func (m *SparseVisMat) IsValid(hash Digest) bool { return m.loaded && m.hash == hash }

// Hash returns the patch hash the matrix was built for.
func (m *SparseVisMat) Hash() Digest { return m.hash }

// PatchCount returns the number of rows.
func (m *SparseVisMat) PatchCount() int { return len(m.countTable) }

func (m *SparseVisMat) OffsetTable() []int { return m.offsetTable }
func (m *SparseVisMat) CountTable() []PatchIndex { return m.countTable }
func (m *SparseVisMat) OnesCountTable() []PatchIndex { return m.onesCountTable }
func (m *SparseVisMat) ListItems() []ListItem { return m.listItems }
func (m *SparseVisMat) TotalOnesCount() int { return m.totalOnesCount }

// Runs returns the runs of row i.
func (m *SparseVisMat) Runs(i PatchIndex) []ListItem {
	start := m.offsetTable[i]
	return m.listItems[start : start+int(m.countTable[i])]
}

// ForEachVisible calls fn for every j > i visible from i, in ascending order.
func (m *SparseVisMat) ForEachVisible(i PatchIndex, fn func(j PatchIndex)) {
	p := i + 1
	for _, item := range m.Runs(i) {
		p += PatchIndex(item.Offset)
		for k := PatchIndex(0); k < PatchIndex(item.Size); k++ {
			fn(p + k)
		}
		p += PatchIndex(item.Size)
	}
}

// MemoryUsage returns the approximate size of the matrix in bytes.
func (m *SparseVisMat) MemoryUsage() uint64 {
	perPatch := unsafe.Sizeof(int(0)) + 2*unsafe.Sizeof(PatchIndex(0))
	return uint64(len(m.countTable))*uint64(perPatch) +
		uint64(len(m.listItems))*uint64(unsafe.Sizeof(ListItem{}))
}

// Unload drops the matrix and frees its memory.
func (m *SparseVisMat) Unload() {
	*m = SparseVisMat{}
}

// BuildSparseVisMat evaluates visible for every pair i < j and compresses
// the result. Rows are built in parallel and concatenated in index order,
// so the encoding is identical for any worker count.
func BuildSparseVisMat(ctx context.Context, n PatchIndex, hash Digest, visible VisibilityFunc,
	exec *Executor, progress ProgressFunc) (*SparseVisMat, error) {
	rows := make([][]ListItem, n)
	ones := make([]PatchIndex, n)

	progress.Report(0)
	err := exec.ForEachIndex(ctx, int(n), 16, func(idx int) {
		i := PatchIndex(idx)
		bits := make([]bool, n-i-1)
		for j := i + 1; j < n; j++ {
			bits[j-i-1] = visible(i, j)
		}
		rows[i], ones[i] = compressRow(bits)
	}, progress)
	if err != nil {
		return nil, err
	}

	m := &SparseVisMat{
		hash:           hash,
		offsetTable:    make([]int, n),
		countTable:     make([]PatchIndex, n),
		onesCountTable: ones,
	}

	total := 0
	for i := range rows {
		total += len(rows[i])
	}
	m.listItems = make([]ListItem, 0, total)

	for i, row := range rows {
		m.offsetTable[i] = len(m.listItems)
		m.countTable[i] = PatchIndex(len(row))
		m.listItems = append(m.listItems, row...)
		m.totalOnesCount += int(ones[i])
	}

	m.loaded = true
	progress.Report(1)
	return m, nil
}

// compressRow encodes the bits of one row (bit k is patch i+1+k).
func compressRow(bits []bool) ([]ListItem, PatchIndex) {
	var (
		items []ListItem
		ones  PatchIndex
		pos   int
	)
	n := len(bits)

	for {
		var item ListItem

		// Skip zeroes
		for pos < n && item.Offset < MaxRunOffset && !bits[pos] {
			pos++
			item.Offset++
		}

		if pos == n {
			break
		}

		// Count ones
		for pos < n && item.Size < MaxRunSize && bits[pos] {
			pos++
			item.Size++
		}

		ones += PatchIndex(item.Size)

		// Keep empty runs that carry a saturated offset
		if item.Size != 0 || item.Offset == MaxRunOffset {
			items = append(items, item)
		}
	}

	return items, ones
}

// Validate checks the encoding against visible. It is slow and meant for tests
// and debugging.
func (m *SparseVisMat) Validate(visible VisibilityFunc) error {
	n := PatchIndex(m.PatchCount())
	total := 0

	for i := PatchIndex(0); i < n; i++ {
		row := make([]bool, n)
		count := PatchIndex(0)
		m.ForEachVisible(i, func(j PatchIndex) {
			if j >= n {
				return
			}
			row[j] = true
			count++
		})

		if count != m.onesCountTable[i] {
			return fmt.Errorf("row %d: %d visible patches, ones count says %d", i, count, m.onesCountTable[i])
		}
		total += int(count)

		for j := i + 1; j < n; j++ {
			if row[j] != visible(i, j) {
				return fmt.Errorf("row %d: patch %d encoded as %v", i, j, row[j])
			}
		}
	}

	if total != m.totalOnesCount {
		return fmt.Errorf("total ones count %d, rows sum to %d", m.totalOnesCount, total)
	}
	return nil
}

// SaveToFile writes the matrix to path.
func (m *SparseVisMat) SaveToFile(path string) error {
	if !m.loaded {
		return ErrVisMatNotLoaded
	}

	return writeCacheFile(path, func(w *cacheWriter) {
		w.header(SVisMatMagic, m.hash)
		w.writeLen(len(m.offsetTable))
		w.writeLen(len(m.listItems))
		w.writeLen(m.totalOnesCount)
		w.writeWords(m.offsetTable)
		w.write(m.countTable)
		w.write(m.onesCountTable)
		w.write(m.listItems)
	})
}

// LoadFromFile loads path if it was written for hash and patchCount and its
// runs are consistent. On a miss the current matrix is kept.
func (m *SparseVisMat) LoadFromFile(path string, hash Digest, patchCount int) CacheStatus {
	r, f, status := openCache(path)
	if status != CacheLoaded {
		return status
	}
	defer f.Close()

	if status := r.header(SVisMatMagic, hash); status != CacheLoaded {
		return status
	}

	count := r.readLen()
	listSize := r.readLen()
	totalOnes := r.readLen()
	if r.err != nil {
		return CacheTruncated
	}
	if count != uint64(patchCount) {
		return CacheSizeMismatch
	}

	body := int64(count)*(ptrSize+8) + int64(listSize)*int64(unsafe.Sizeof(ListItem{}))
	if r.size != headerSize(SVisMatMagic)+24+body {
		return CacheTruncated
	}

	loaded := SparseVisMat{
		hash:           hash,
		offsetTable:    make([]int, count),
		countTable:     make([]PatchIndex, count),
		onesCountTable: make([]PatchIndex, count),
		listItems:      make([]ListItem, listSize),
		totalOnesCount: int(totalOnes),
	}

	r.readWords(loaded.offsetTable)
	r.read(loaded.countTable)
	r.read(loaded.onesCountTable)
	r.read(loaded.listItems)
	if r.err != nil {
		return CacheTruncated
	}

	if !loaded.consistent() {
		return CacheCorrupt
	}

	loaded.loaded = true
	*m = loaded
	return CacheLoaded
}

// consistent walks every row once and checks that runs stay inside the
// matrix and add up to the ones counts.
func (m *SparseVisMat) consistent() bool {
	n := len(m.countTable)
	total := 0

	for i := 0; i < n; i++ {
		start, runs := m.offsetTable[i], int(m.countTable[i])
		if start < 0 || start > len(m.listItems) || runs > len(m.listItems)-start {
			return false
		}

		p, ones := i+1, 0
		for _, item := range m.listItems[start : start+runs] {
			p += int(item.Offset) + int(item.Size)
			ones += int(item.Size)
		}
		// p is one past the end of the last run
		if p > n || ones != int(m.onesCountTable[i]) {
			return false
		}
		total += ones
	}

	return total == m.totalOnesCount
}
