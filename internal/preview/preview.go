// Package preview renders baked lightmaps into a single viewable image.
package preview

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/ftrvxmtrx/tga"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"
)

// ErrUnknownFormat is returned for unsupported output formats.
var ErrUnknownFormat = errors.New("unknown preview format")

// padding is the gap between tiles in the atlas, in luxels.
const padding = 1

// maxAtlasWidth is the row width the shelf packer aims for.
const maxAtlasWidth = 1024

// Tile is one lightmap in linear RGB.
type Tile struct {
	Width  int
	Height int
	Data   []mgl32.Vec3
}

// Options controls how the atlas is rendered.
type Options struct {
	Gamma float32 // applied to linear values, <= 0 means 2.2
	Scale int     // nearest neighbour upscale factor, <= 1 keeps luxel size
}

// Atlas packs tiles row by row into one image. Empty tiles are skipped.
func Atlas(tiles []Tile, opts Options) *image.NRGBA {
	gamma := opts.Gamma
	if gamma <= 0 {
		gamma = 2.2
	}

	// Shelf packing in tile order
	type placed struct {
		tile *Tile
		x, y int
	}
	var (
		items        []placed
		x, y, shelf  int
		width, total int
	)
	for i := range tiles {
		t := &tiles[i]
		if t.Width <= 0 || t.Height <= 0 {
			continue
		}
		if x > 0 && x+t.Width > maxAtlasWidth {
			x = 0
			y += shelf + padding
			shelf = 0
		}
		items = append(items, placed{tile: t, x: x, y: y})
		x += t.Width + padding
		shelf = max(shelf, t.Height)
		width = max(width, x)
	}
	total = y + shelf

	img := image.NewNRGBA(image.Rect(0, 0, max(width, 1), max(total, 1)))
	for _, it := range items {
		for ty := 0; ty < it.tile.Height; ty++ {
			for tx := 0; tx < it.tile.Width; tx++ {
				c := it.tile.Data[ty*it.tile.Width+tx]
				img.SetNRGBA(it.x+tx, it.y+ty, toSRGB(c, gamma))
			}
		}
	}

	if opts.Scale > 1 {
		b := img.Bounds()
		scaled := image.NewNRGBA(image.Rect(0, 0, b.Dx()*opts.Scale, b.Dy()*opts.Scale))
		draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)
		return scaled
	}
	return img
}

func toSRGB(c mgl32.Vec3, gamma float32) color.NRGBA {
	channel := func(v float32) uint8 {
		if v <= 0 {
			return 0
		}
		v = float32(math.Pow(float64(v), 1/float64(gamma)))
		if v >= 1 {
			return 255
		}
		return uint8(v*255 + 0.5)
	}
	return color.NRGBA{R: channel(c.X()), G: channel(c.Y()), B: channel(c.Z()), A: 255}
}

// Encode writes img in the given format: png, webp or tga.
func Encode(w io.Writer, img image.Image, format string) error {
	switch strings.ToLower(format) {
	case "png":
		return png.Encode(w, img)
	case "webp":
		return nativewebp.Encode(w, img, nil)
	case "tga":
		return tga.Encode(w, img)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Save renders tiles and writes them to path. The format is taken from the
// file extension.
func Save(path string, tiles []Tile, opts Options) error {
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	img := Atlas(tiles, opts)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer file.Close()

	if err := Encode(file, img, format); err != nil {
		return fmt.Errorf("encoding %s: %w", format, err)
	}
	return file.Close()
}
