package gpu

import "fmt"

// TextureUsage is a bitmask describing how a texture may be bound.
type TextureUsage uint32

const (
	UsageShaderRead TextureUsage = 1 << iota
	UsageShaderWrite
	UsageRenderTarget
)

// UsageIntermediate is the usage set the executor requests for every node
// output: readable by downstream kernels, writable by the producing kernel.
const UsageIntermediate = UsageShaderRead | UsageShaderWrite | UsageRenderTarget

// TextureStorage selects where a texture's bytes live.
type TextureStorage string

const (
	// StoragePrivate is GPU-only memory; the pool prefers heap placement for
	// these so budget accounting is exact.
	StoragePrivate TextureStorage = "private"

	// StorageShared is CPU-visible memory, used for readback and upload.
	StorageShared TextureStorage = "shared"

	// StorageMemoryless is transient tile memory. Memoryless textures live for
	// exactly one pass and are never pooled.
	StorageMemoryless TextureStorage = "memoryless"
)

// TextureDescriptor describes texture creation parameters. Descriptors are
// immutable after the texture is created.
type TextureDescriptor struct {
	Format    PixelFormat
	Width     uint32
	Height    uint32
	Usage     TextureUsage
	Storage   TextureStorage
	MipLevels uint32
}

// Validate checks the descriptor before allocation.
func (d TextureDescriptor) Validate() error {
	if !d.Format.Valid() {
		return fmt.Errorf("%w: pixel format %q", ErrInvalidDescriptor, d.Format)
	}
	if d.Width == 0 || d.Height == 0 {
		return fmt.Errorf("%w: zero dimension %dx%d", ErrInvalidDescriptor, d.Width, d.Height)
	}
	return nil
}

// PoolKey is the canonical identity of all descriptor fields that affect
// compatibility. Two textures with equal pool keys are interchangeable.
func (d TextureDescriptor) PoolKey() string {
	mips := d.MipLevels
	if mips == 0 {
		mips = 1
	}
	return fmt.Sprintf("%s:%dx%d:u%d:%s:m%d", d.Format, d.Width, d.Height, d.Usage, d.Storage, mips)
}

// SizeBytes estimates the resident size of a texture with this descriptor.
// Used for budget accounting; the device's real allocation may differ.
func (d TextureDescriptor) SizeBytes() uint64 {
	mips := uint64(d.MipLevels)
	if mips == 0 {
		mips = 1
	}
	return uint64(d.Width) * uint64(d.Height) * d.Format.BytesPerPixel() * mips
}
