package gpu

import (
	"github.com/x448/float16"
)

// Texture is a device resource with an immutable descriptor. The software
// device backs it with a texel slice; load/store goes through float32 space
// so kernels are format-agnostic.
type Texture struct {
	desc TextureDescriptor
	data []byte
}

// Descriptor returns the creation descriptor.
func (t *Texture) Descriptor() TextureDescriptor { return t.desc }

// Width returns the texture width in texels.
func (t *Texture) Width() uint32 { return t.desc.Width }

// Height returns the texture height in texels.
func (t *Texture) Height() uint32 { return t.desc.Height }

// Format returns the texel format.
func (t *Texture) Format() PixelFormat { return t.desc.Format }

// SizeBytes returns the accounted size of the texture.
func (t *Texture) SizeBytes() uint64 { return t.desc.SizeBytes() }

// Bytes exposes the level-0 texel storage. Shared-storage textures use this
// for encoder handoff; callers must not resize the slice.
func (t *Texture) Bytes() []byte { return t.data }

func (t *Texture) texelOffset(x, y int) int {
	return (y*int(t.desc.Width) + x) * int(t.desc.Format.BytesPerPixel())
}

// At loads the texel at (x, y) as RGBA in float32 space. Unorm formats are
// decoded to [0,1]; R8 loads as (r, 0, 0, 1). Coordinates must be in bounds.
func (t *Texture) At(x, y int) [4]float32 {
	o := t.texelOffset(x, y)
	switch t.desc.Format {
	case PixelFormatRGBA16F:
		return [4]float32{
			float16.Frombits(uint16(t.data[o]) | uint16(t.data[o+1])<<8).Float32(),
			float16.Frombits(uint16(t.data[o+2]) | uint16(t.data[o+3])<<8).Float32(),
			float16.Frombits(uint16(t.data[o+4]) | uint16(t.data[o+5])<<8).Float32(),
			float16.Frombits(uint16(t.data[o+6]) | uint16(t.data[o+7])<<8).Float32(),
		}
	case PixelFormatBGRA8:
		return [4]float32{
			float32(t.data[o+2]) / 255,
			float32(t.data[o+1]) / 255,
			float32(t.data[o]) / 255,
			float32(t.data[o+3]) / 255,
		}
	case PixelFormatRGBA8:
		return [4]float32{
			float32(t.data[o]) / 255,
			float32(t.data[o+1]) / 255,
			float32(t.data[o+2]) / 255,
			float32(t.data[o+3]) / 255,
		}
	case PixelFormatR8:
		return [4]float32{float32(t.data[o]) / 255, 0, 0, 1}
	}
	return [4]float32{}
}

// AtClamped loads the texel at (x, y) with clamp-to-edge addressing.
func (t *Texture) AtClamped(x, y int) [4]float32 {
	if x < 0 {
		x = 0
	} else if x >= int(t.desc.Width) {
		x = int(t.desc.Width) - 1
	}
	if y < 0 {
		y = 0
	} else if y >= int(t.desc.Height) {
		y = int(t.desc.Height) - 1
	}
	return t.At(x, y)
}

// Set stores an RGBA float32 texel at (x, y). Unorm formats clamp to [0,1].
func (t *Texture) Set(x, y int, px [4]float32) {
	o := t.texelOffset(x, y)
	switch t.desc.Format {
	case PixelFormatRGBA16F:
		for i := 0; i < 4; i++ {
			bits := float16.Fromfloat32(px[i]).Bits()
			t.data[o+i*2] = byte(bits)
			t.data[o+i*2+1] = byte(bits >> 8)
		}
	case PixelFormatBGRA8:
		t.data[o] = unormByte(px[2])
		t.data[o+1] = unormByte(px[1])
		t.data[o+2] = unormByte(px[0])
		t.data[o+3] = unormByte(px[3])
	case PixelFormatRGBA8:
		t.data[o] = unormByte(px[0])
		t.data[o+1] = unormByte(px[1])
		t.data[o+2] = unormByte(px[2])
		t.data[o+3] = unormByte(px[3])
	case PixelFormatR8:
		t.data[o] = unormByte(px[0])
	}
}

// Clear fills every texel with the given value.
func (t *Texture) Clear(px [4]float32) {
	for y := 0; y < int(t.desc.Height); y++ {
		for x := 0; x < int(t.desc.Width); x++ {
			t.Set(x, y, px)
		}
	}
}

func unormByte(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(v*255 + 0.5)
}
