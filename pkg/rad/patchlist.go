package rad

import (
	"errors"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrAlreadyAllocated is returned by Allocate when the list still holds patches.
var ErrAlreadyAllocated = errors.New("patch list already allocated")

// PatchList stores patch attributes as parallel columns.
type PatchList struct {
	count      PatchIndex
	size       []float32
	faceOrigin []mgl32.Vec2
	origin     []mgl32.Vec3
	normal     []mgl32.Vec3
	plane      []PlaneIndex
	finalColor []mgl32.Vec3
}

// Len returns the patch count.
func (l *PatchList) Len() int { return int(l.count) }

// Allocate resizes every column to n zero-valued patches.
// The list must be empty; call Clear first when reloading a level.
func (l *PatchList) Allocate(n PatchIndex) error {
	if l.count != 0 {
		return ErrAlreadyAllocated
	}

	l.count = n
	l.size = make([]float32, n)
	l.faceOrigin = make([]mgl32.Vec2, n)
	l.origin = make([]mgl32.Vec3, n)
	l.normal = make([]mgl32.Vec3, n)
	l.plane = make([]PlaneIndex, n)
	l.finalColor = make([]mgl32.Vec3, n)

	for i := range l.plane {
		l.plane[i] = NoPlane
	}
	return nil
}

// Clear removes all patches and releases their storage.
func (l *PatchList) Clear() {
	*l = PatchList{}
}

// Ref returns a handle to patch idx. The handle is invalidated by Clear/Allocate.
func (l *PatchList) Ref(idx PatchIndex) PatchRef {
	return PatchRef{list: l, idx: idx}
}

// PatchMemoryUsage returns the number of bytes one patch takes across all columns.
func (l *PatchList) PatchMemoryUsage() uint64 {
	return uint64(unsafe.Sizeof(float32(0)) +
		unsafe.Sizeof(mgl32.Vec2{}) +
		unsafe.Sizeof(mgl32.Vec3{})*3 +
		unsafe.Sizeof(PlaneIndex(0)))
}

// PatchRef is a non-owning index into a PatchList.
type PatchRef struct {
	list *PatchList
	idx  PatchIndex
}

// Index returns the patch index.
func (p PatchRef) Index() PatchIndex { return p.idx }

// Size is the length of a side of the square.
func (p PatchRef) Size() float32 { return p.list.size[p.idx] }

func (p PatchRef) SetSize(v float32) { p.list.size[p.idx] = v }

// FaceOrigin is the center of the square in face space.
func (p PatchRef) FaceOrigin() mgl32.Vec2 { return p.list.faceOrigin[p.idx] }

func (p PatchRef) SetFaceOrigin(v mgl32.Vec2) { p.list.faceOrigin[p.idx] = v }

// Origin is the center of the square in world space.
func (p PatchRef) Origin() mgl32.Vec3 { return p.list.origin[p.idx] }

func (p PatchRef) SetOrigin(v mgl32.Vec3) { p.list.origin[p.idx] = v }

// Normal points away from the front side.
func (p PatchRef) Normal() mgl32.Vec3 { return p.list.normal[p.idx] }

func (p PatchRef) SetNormal(v mgl32.Vec3) { p.list.normal[p.idx] = v }

// Plane is the plane the patch lies in.
func (p PatchRef) Plane() PlaneIndex { return p.list.plane[p.idx] }

func (p PatchRef) SetPlane(v PlaneIndex) { p.list.plane[p.idx] = v }

// FinalColor is the accumulated radiosity of the patch.
func (p PatchRef) FinalColor() mgl32.Vec3 { return p.list.finalColor[p.idx] }

func (p PatchRef) SetFinalColor(v mgl32.Vec3) { p.list.finalColor[p.idx] = v }
