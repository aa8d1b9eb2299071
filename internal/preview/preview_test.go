package preview

import (
	"bytes"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func solidTile(w, h int, c mgl32.Vec3) Tile {
	t := Tile{Width: w, Height: h, Data: make([]mgl32.Vec3, w*h)}
	for i := range t.Data {
		t.Data[i] = c
	}
	return t
}

func TestAtlas(t *testing.T) {
	tiles := []Tile{
		solidTile(4, 2, mgl32.Vec3{1, 0, 0}),
		{},
		solidTile(3, 5, mgl32.Vec3{0, 0, 4}),
	}

	img := Atlas(tiles, Options{Gamma: 1})
	b := img.Bounds()
	if b.Dx() != 4+1+3+1 || b.Dy() != 5 {
		t.Errorf("expected 9x5 atlas, got %dx%d", b.Dx(), b.Dy())
	}

	if c := img.NRGBAAt(0, 0); c.R != 255 || c.G != 0 || c.B != 0 || c.A != 255 {
		t.Errorf("first tile color = %v, want red", c)
	}
	// Values above 1 saturate
	if c := img.NRGBAAt(5, 4); c.B != 255 || c.R != 0 {
		t.Errorf("second tile color = %v, want blue", c)
	}
	// Padding stays transparent
	if c := img.NRGBAAt(4, 0); c.A != 0 {
		t.Errorf("padding color = %v, want transparent", c)
	}
}

func TestAtlasScale(t *testing.T) {
	img := Atlas([]Tile{solidTile(2, 3, mgl32.Vec3{0.5, 0.5, 0.5})}, Options{Scale: 4})
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 12 {
		t.Errorf("expected 8x12 image, got %dx%d", b.Dx(), b.Dy())
	}

	// 0.5 linear is ~186 in gamma 2.2
	if c := img.NRGBAAt(7, 11); c.R < 180 || c.R > 190 {
		t.Errorf("expected gamma corrected value near 186, got %d", c.R)
	}
}

func TestAtlasEmpty(t *testing.T) {
	img := Atlas(nil, Options{})
	if b := img.Bounds(); b.Dx() != 1 || b.Dy() != 1 {
		t.Errorf("expected 1x1 placeholder, got %v", b)
	}
}

func TestEncodeFormats(t *testing.T) {
	img := Atlas([]Tile{solidTile(4, 4, mgl32.Vec3{0.2, 0.4, 0.8})}, Options{})

	for _, format := range []string{"png", "webp", "tga", "PNG"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, img, format); err != nil {
				t.Fatalf("Encode(%s) failed: %v", format, err)
			}
			if buf.Len() == 0 {
				t.Error("encoder wrote nothing")
			}
		})
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img, "bmp"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maps", "box_lm.png")
	if err := Save(path, []Tile{solidTile(2, 2, mgl32.Vec3{1, 1, 1})}, Options{Scale: 2}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open preview: %v", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("failed to decode preview: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
		t.Errorf("expected 4x4 preview, got %v", b)
	}
}
