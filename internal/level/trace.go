package level

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// SkyRayLength is the length of rays cast toward the sky.
const SkyRayLength = 8192

// hitEpsilon keeps a trace from hitting the surface it starts on.
const hitEpsilon = 1.0 / 256.0

// Contents is what a trace ran into.
type Contents int

const (
	ContentsEmpty Contents = iota // nothing between the points
	ContentsSolid
	ContentsSky
)

func (c Contents) String() string {
	switch c {
	case ContentsEmpty:
		return "empty"
	case ContentsSolid:
		return "solid"
	case ContentsSky:
		return "sky"
	default:
		return "unknown"
	}
}

// Ray represents a ray in 3D space with origin and direction.
type Ray struct {
	Origin    mgl32.Vec3
	Direction mgl32.Vec3 // Normalized direction
}

// AABB represents an axis-aligned bounding box.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// NewAABB creates an AABB from two corners in any order.
func NewAABB(a, b mgl32.Vec3) AABB {
	var box AABB
	for k := 0; k < 3; k++ {
		box.Min[k] = min(a[k], b[k])
		box.Max[k] = max(a[k], b[k])
	}
	return box
}

// Extend grows the box to contain p.
func (b AABB) Extend(p mgl32.Vec3) AABB {
	for k := 0; k < 3; k++ {
		b.Min[k] = min(b.Min[k], p[k])
		b.Max[k] = max(b.Max[k], p[k])
	}
	return b
}

// IntersectAABB tests ray intersection with an axis-aligned bounding box.
// Returns the distance to intersection (t) and whether intersection occurred.
// If the ray starts inside the box, returns the exit distance.
func (r Ray) IntersectAABB(box AABB) (t float32, hit bool) {
	tmin := float32(-math.MaxFloat32)
	tmax := float32(math.MaxFloat32)

	for k := 0; k < 3; k++ {
		if r.Direction[k] != 0 {
			t1 := (box.Min[k] - r.Origin[k]) / r.Direction[k]
			t2 := (box.Max[k] - r.Origin[k]) / r.Direction[k]
			if t1 > t2 {
				t1, t2 = t2, t1
			}
			tmin = max(tmin, t1)
			tmax = min(tmax, t2)
		} else if r.Origin[k] < box.Min[k] || r.Origin[k] > box.Max[k] {
			return 0, false
		}
	}

	if tmax < tmin || tmax < 0 {
		return 0, false
	}

	// Return entry point, or exit point if starting inside
	if tmin < 0 {
		return tmax, true
	}
	return tmin, true
}

// intersectFace returns the distance along r to the face rectangle.
// Faces are hit from both sides.
func (r Ray) intersectFace(f *Face) (float32, bool) {
	denom := f.normal.Dot(r.Direction)
	if math.Abs(float64(denom)) < 1e-6 {
		return 0, false // Ray parallel to face
	}

	t := f.normal.Dot(f.Origin.Sub(r.Origin)) / denom
	if t < 0 {
		return 0, false
	}

	p := f.WorldToFace(r.Origin.Add(r.Direction.Mul(t)))
	if p.X() < 0 || p.Y() < 0 || p.X() > f.width || p.Y() > f.height {
		return 0, false
	}
	return t, true
}

// TraceLine returns the contents of the nearest face crossed by the segment
// from -> to. Hits within a small distance of either end are ignored.
func (l *Level) TraceLine(from, to mgl32.Vec3) Contents {
	dir := to.Sub(from)
	length := dir.Len()
	if length <= hitEpsilon {
		return ContentsEmpty
	}

	ray := Ray{Origin: from, Direction: dir.Mul(1 / length)}
	segment := NewAABB(from, to)

	nearest := float32(math.MaxFloat32)
	contents := ContentsEmpty

	for i := range l.Faces {
		face := &l.Faces[i]
		if !overlaps(segment, face.bounds) {
			continue
		}
		if t, ok := ray.IntersectAABB(face.bounds); !ok || t > length {
			continue
		}

		t, ok := ray.intersectFace(face)
		if !ok || t < hitEpsilon || t > length-hitEpsilon || t >= nearest {
			continue
		}

		nearest = t
		if face.Sky {
			contents = ContentsSky
		} else {
			contents = ContentsSolid
		}
	}

	return contents
}

// ReachesSky reports whether a ray from a point in direction dir ends in the sky.
func (l *Level) ReachesSky(from, dir mgl32.Vec3) bool {
	return l.TraceLine(from, from.Add(dir.Mul(SkyRayLength))) == ContentsSky
}

func overlaps(a, b AABB) bool {
	for k := 0; k < 3; k++ {
		if a.Max[k] < b.Min[k] || b.Max[k] < a.Min[k] {
			return false
		}
	}
	return true
}
