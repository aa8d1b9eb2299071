// Package level loads static scene geometry for the baker.
//
// A level is a set of rectangular faces and a list of entities, stored as
// YAML. Faces that lie in the same plane share one entry of the plane arena.
package level

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/midgard-rad/pkg/rad"
)

var (
	// ErrNoFaces is returned for a level without geometry.
	ErrNoFaces = errors.New("level has no faces")

	// ErrInvalidFace is returned for degenerate or skewed faces.
	ErrInvalidFace = errors.New("invalid face")
)

// planeEpsilon merges planes whose normal and distance differ less than this.
const planeEpsilon = 1.0 / 64.0

// Face is a rectangle spanned by two orthogonal edges from Origin.
type Face struct {
	Origin mgl32.Vec3
	U, V   mgl32.Vec3 // edge vectors
	Light  mgl32.Vec3 // emitted color, zero for regular faces
	Sky    bool
	Plane  rad.PlaneIndex

	normal mgl32.Vec3
	i, j   mgl32.Vec3
	width  float32
	height float32
	bounds AABB
}

// Normal returns the front side normal, U x V normalized.
func (f *Face) Normal() mgl32.Vec3 { return f.normal }

// Axes returns the face space X and Y axes in world space.
func (f *Face) Axes() (i, j mgl32.Vec3) { return f.i, f.j }

// Size returns the face extent in face space.
func (f *Face) Size() mgl32.Vec2 { return mgl32.Vec2{f.width, f.height} }

// IsEmissive reports whether the face emits light.
func (f *Face) IsEmissive() bool { return f.Light != (mgl32.Vec3{}) }

// HasLightmap reports whether the face receives light.
func (f *Face) HasLightmap() bool { return !f.Sky }

// FaceToWorld converts face space coordinates to world space.
func (f *Face) FaceToWorld(p mgl32.Vec2) mgl32.Vec3 {
	return f.Origin.Add(f.i.Mul(p.X())).Add(f.j.Mul(p.Y()))
}

// WorldToFace projects a world position onto the face plane.
func (f *Face) WorldToFace(p mgl32.Vec3) mgl32.Vec2 {
	d := p.Sub(f.Origin)
	return mgl32.Vec2{d.Dot(f.i), d.Dot(f.j)}
}

// Entity is a set of key/value pairs.
type Entity map[string]string

// Classname returns the entity class.
func (e Entity) Classname() string { return e["classname"] }

// Level is loaded scene geometry.
type Level struct {
	Name     string
	Path     string
	Faces    []Face
	Planes   []rad.Plane
	Entities []Entity
}

type faceFile struct {
	Origin mgl32.Vec3 `yaml:"origin"`
	U      mgl32.Vec3 `yaml:"u"`
	V      mgl32.Vec3 `yaml:"v"`
	Light  mgl32.Vec3 `yaml:"light"`
	Sky    bool       `yaml:"sky"`
}

type levelFile struct {
	Faces    []faceFile `yaml:"faces"`
	Entities []Entity   `yaml:"entities"`
}

// Load reads a level file. The level name is the file name without extension.
func Load(path string) (*Level, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading level: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	lvl, err := Parse(name, data)
	if err != nil {
		return nil, err
	}
	lvl.Path = path
	return lvl, nil
}

// Parse decodes level YAML.
func Parse(name string, data []byte) (*Level, error) {
	var file levelFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing level %s: %w", name, err)
	}

	if len(file.Faces) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNoFaces)
	}

	lvl := &Level{
		Name:     name,
		Faces:    make([]Face, 0, len(file.Faces)),
		Entities: file.Entities,
	}

	for idx, ff := range file.Faces {
		face := Face{
			Origin: ff.Origin,
			U:      ff.U,
			V:      ff.V,
			Light:  ff.Light,
			Sky:    ff.Sky,
		}
		if err := lvl.AddFace(face); err != nil {
			return nil, fmt.Errorf("%s: face %d: %w", name, idx, err)
		}
	}

	return lvl, nil
}

// AddFace validates a face, attaches it to a plane and appends it.
func (l *Level) AddFace(face Face) error {
	face.width = face.U.Len()
	face.height = face.V.Len()
	if face.width < planeEpsilon || face.height < planeEpsilon {
		return fmt.Errorf("%w: zero-length edge", ErrInvalidFace)
	}

	face.i = face.U.Mul(1 / face.width)
	face.j = face.V.Mul(1 / face.height)
	if math.Abs(float64(face.i.Dot(face.j))) > 1e-3 {
		return fmt.Errorf("%w: edges are not orthogonal", ErrInvalidFace)
	}

	face.normal = face.i.Cross(face.j)
	face.Plane = l.findPlane(face.normal, face.normal.Dot(face.Origin), face.j)

	far := face.Origin.Add(face.U).Add(face.V)
	face.bounds = NewAABB(face.Origin, far).
		Extend(face.Origin.Add(face.U)).
		Extend(face.Origin.Add(face.V))

	l.Faces = append(l.Faces, face)
	return nil
}

// findPlane returns the index of an existing matching plane or adds one.
func (l *Level) findPlane(normal mgl32.Vec3, dist float32, j mgl32.Vec3) rad.PlaneIndex {
	for i, p := range l.Planes {
		if p.Normal.ApproxEqualThreshold(normal, planeEpsilon) && rad.FloatEquals(p.Dist, dist) {
			return rad.PlaneIndex(i)
		}
	}

	l.Planes = append(l.Planes, rad.Plane{Normal: normal, Dist: dist, J: j})
	return rad.PlaneIndex(len(l.Planes) - 1)
}

// EntitiesByClass returns entities with the given classname in file order.
func (l *Level) EntitiesByClass(classname string) []Entity {
	var out []Entity
	for _, e := range l.Entities {
		if e.Classname() == classname {
			out = append(out, e)
		}
	}
	return out
}
