package rad

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"math/bits"
	"os"
)

// CacheStatus is the outcome of loading a cache file. Anything other than
// CacheLoaded is an expected miss and means the data must be recomputed.
type CacheStatus int

const (
	CacheLoaded CacheStatus = iota
	CacheMissing
	CacheBadMagic
	CachePointerSize
	CacheHashMismatch
	CacheSizeMismatch
	CacheTruncated
	CacheCorrupt
)

// String returns a human readable reason.
func (s CacheStatus) String() string {
	switch s {
	case CacheLoaded:
		return "loaded"
	case CacheMissing:
		return "file not found"
	case CacheBadMagic:
		return "unsupported format"
	case CachePointerSize:
		return "different pointer size"
	case CacheHashMismatch:
		return "different patch hash"
	case CacheSizeMismatch:
		return "size mismatch"
	case CacheTruncated:
		return "truncated or unreadable"
	case CacheCorrupt:
		return "inconsistent contents"
	default:
		return "unknown"
	}
}

// ptrSize is the word size tag written into every cache file.
const ptrSize = bits.UintSize / 8

var order = binary.NativeEndian

// cacheReader wraps a cache file. After the first read error every
// subsequent read is a no-op and status reports CacheTruncated.
type cacheReader struct {
	r    *bufio.Reader
	size int64
	err  error
}

func openCache(path string) (*cacheReader, *os.File, CacheStatus) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, CacheMissing
		}
		return nil, nil, CacheTruncated
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, CacheTruncated
	}
	return &cacheReader{r: bufio.NewReader(f), size: info.Size()}, f, CacheLoaded
}

// header validates magic, pointer size and patch hash in that order.
func (c *cacheReader) header(magic string, hash Digest) CacheStatus {
	got := make([]byte, len(magic))
	if c.read(got); c.err != nil {
		return CacheTruncated
	}
	if !bytes.Equal(got, []byte(magic)) {
		return CacheBadMagic
	}

	var ptr uint8
	if c.read(&ptr); c.err != nil {
		return CacheTruncated
	}
	if ptr != ptrSize {
		return CachePointerSize
	}

	var stored Digest
	if c.read(stored[:]); c.err != nil {
		return CacheTruncated
	}
	if stored != hash {
		return CacheHashMismatch
	}
	return CacheLoaded
}

func headerSize(magic string) int64 {
	return int64(len(magic)) + 1 + int64(len(Digest{}))
}

func (c *cacheReader) read(v any) {
	if c.err != nil {
		return
	}
	c.err = binary.Read(c.r, order, v)
}

func (c *cacheReader) readLen() uint64 {
	var n uint64
	c.read(&n)
	return n
}

// readWords reads native-word values into dst.
func (c *cacheReader) readWords(dst []int) {
	if c.err != nil {
		return
	}
	if ptrSize == 8 {
		buf := make([]uint64, len(dst))
		c.read(buf)
		for i, v := range buf {
			dst[i] = int(v)
		}
		return
	}
	buf := make([]uint32, len(dst))
	c.read(buf)
	for i, v := range buf {
		dst[i] = int(v)
	}
}

// cacheWriter mirrors cacheReader for output. The first error sticks.
type cacheWriter struct {
	w   *bufio.Writer
	err error
}

func newCacheWriter(w io.Writer) *cacheWriter {
	return &cacheWriter{w: bufio.NewWriter(w)}
}

func (c *cacheWriter) header(magic string, hash Digest) {
	c.write([]byte(magic))
	c.write(uint8(ptrSize))
	c.write(hash[:])
}

func (c *cacheWriter) write(v any) {
	if c.err != nil {
		return
	}
	c.err = binary.Write(c.w, order, v)
}

func (c *cacheWriter) writeLen(n int) {
	c.write(uint64(n))
}

func (c *cacheWriter) writeWords(src []int) {
	if ptrSize == 8 {
		buf := make([]uint64, len(src))
		for i, v := range src {
			buf[i] = uint64(v)
		}
		c.write(buf)
		return
	}
	buf := make([]uint32, len(src))
	for i, v := range src {
		buf[i] = uint32(v)
	}
	c.write(buf)
}

func (c *cacheWriter) flush() error {
	if c.err != nil {
		return c.err
	}
	return c.w.Flush()
}

// writeCacheFile creates path and lets fill stream the contents into it.
func writeCacheFile(path string, fill func(w *cacheWriter)) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := newCacheWriter(f)
	fill(w)
	if err := w.flush(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
