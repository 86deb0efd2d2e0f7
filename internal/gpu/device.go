// Package gpu provides the device substrate the render core executes on: a
// small device abstraction, texture descriptors, and a deterministic
// software device that stores texels on the CPU. Kernels address textures
// through float32 load/store accessors regardless of the underlying encoding.
package gpu

import "errors"

var (
	// ErrInvalidDescriptor is returned for descriptors the device cannot
	// allocate (unknown format, zero dimension).
	ErrInvalidDescriptor = errors.New("invalid texture descriptor")

	// ErrDeviceLost is returned when the device has been torn down.
	ErrDeviceLost = errors.New("device lost")
)

// Device creates textures. Implementations must be safe for concurrent use;
// the texture pool serializes its own bookkeeping but may allocate from
// multiple goroutines during pool misses.
type Device interface {
	// Name identifies the device for diagnostics.
	Name() string

	// CreateTexture allocates a texture for the descriptor. The returned
	// texture's descriptor is immutable.
	CreateTexture(desc TextureDescriptor) (*Texture, error)
}
