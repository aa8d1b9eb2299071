package bake

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl32"
)

// LightmapMagic identifies a lightmap file.
const LightmapMagic = "RADLM001"

// ErrBadLightmapFile is returned when a lightmap file can't be decoded.
var ErrBadLightmapFile = errors.New("invalid lightmap file")

// WriteLightmapFile writes lightmaps in face order, little endian.
func WriteLightmapFile(w io.Writer, lightmaps []FaceLightmap) error {
	bw := bufio.NewWriter(w)

	write := func(v any) error {
		return binary.Write(bw, binary.LittleEndian, v)
	}

	if _, err := bw.WriteString(LightmapMagic); err != nil {
		return err
	}
	if err := write(uint32(len(lightmaps))); err != nil {
		return err
	}

	for i := range lightmaps {
		lm := &lightmaps[i]
		if !lm.HasLightmap() {
			if err := write(uint8(0)); err != nil {
				return err
			}
			continue
		}

		if err := write(uint8(1)); err != nil {
			return err
		}
		if err := write([2]int32{int32(lm.Width), int32(lm.Height)}); err != nil {
			return err
		}
		if err := write(lm.Data); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// ReadLightmapFile decodes a file written by WriteLightmapFile.
func ReadLightmapFile(r io.Reader) ([]FaceLightmap, error) {
	br := bufio.NewReader(r)

	read := func(v any) error {
		if err := binary.Read(br, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("%w: %v", ErrBadLightmapFile, err)
		}
		return nil
	}

	magic := make([]byte, len(LightmapMagic))
	if err := read(magic); err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, []byte(LightmapMagic)) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadLightmapFile, magic)
	}

	var count uint32
	if err := read(&count); err != nil {
		return nil, err
	}

	lightmaps := make([]FaceLightmap, 0, min(count, 1<<16))
	for i := uint32(0); i < count; i++ {
		var has uint8
		if err := read(&has); err != nil {
			return nil, err
		}
		if has == 0 {
			lightmaps = append(lightmaps, FaceLightmap{})
			continue
		}

		var size [2]int32
		if err := read(&size); err != nil {
			return nil, err
		}
		if size[0] <= 0 || size[1] <= 0 {
			return nil, fmt.Errorf("%w: face %d has size %dx%d", ErrBadLightmapFile, i, size[0], size[1])
		}

		lm := FaceLightmap{
			Width:  int(size[0]),
			Height: int(size[1]),
			Data:   make([]mgl32.Vec3, int(size[0])*int(size[1])),
		}
		if err := read(lm.Data); err != nil {
			return nil, err
		}
		lightmaps = append(lightmaps, lm)
	}

	return lightmaps, nil
}
