package rad

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// Digest is a SHA-256 hash of a patch configuration.
type Digest [sha256.Size]byte

// String returns the hex form of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest was never computed.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// PatchHasher accumulates everything that affects cached vismat and vflist
// contents: level identity, profile parameters and the patches themselves.
type PatchHasher struct {
	h hash.Hash
}

// NewPatchHasher creates an empty hasher.
func NewPatchHasher() *PatchHasher {
	return &PatchHasher{h: sha256.New()}
}

// WriteString adds a length-prefixed string.
func (p *PatchHasher) WriteString(s string) {
	p.writeValue(uint64(len(s)))
	p.h.Write([]byte(s))
}

// WriteFloat adds a float parameter.
func (p *PatchHasher) WriteFloat(f float32) {
	p.writeValue(f)
}

// WriteInt adds an integer parameter.
func (p *PatchHasher) WriteInt(i int) {
	p.writeValue(int64(i))
}

// WritePatches adds the patch count and every patch's size, origin and normal.
func (p *PatchHasher) WritePatches(patches *PatchList) {
	p.writeValue(uint32(patches.Len()))
	for i := 0; i < patches.Len(); i++ {
		patch := patches.Ref(PatchIndex(i))
		p.writeValue(patch.Size())
		p.writeValue(patch.Origin())
		p.writeValue(patch.Normal())
	}
}

// Sum returns the digest.
func (p *PatchHasher) Sum() Digest {
	var d Digest
	copy(d[:], p.h.Sum(nil))
	return d
}

func (p *PatchHasher) writeValue(v any) {
	// Little endian so digests are identical across machines
	_ = binary.Write(p.h, binary.LittleEndian, v)
}
