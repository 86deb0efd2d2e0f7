package gpu

import (
	"fmt"
	"sync/atomic"
)

// SoftwareDevice is a CPU-backed Device. It exists for headless render
// workers and for tests: allocation is plain heap memory and every kernel
// result is bit-deterministic.
type SoftwareDevice struct {
	name   string
	closed atomic.Bool
}

// NewSoftwareDevice creates a software device.
func NewSoftwareDevice() *SoftwareDevice {
	return &SoftwareDevice{name: "software"}
}

// Name implements Device.
func (d *SoftwareDevice) Name() string { return d.name }

// CreateTexture implements Device. Memoryless storage is honored by backing
// the texture with ordinary memory; the transient lifetime is enforced by the
// pool, not the device.
func (d *SoftwareDevice) CreateTexture(desc TextureDescriptor) (*Texture, error) {
	if d.closed.Load() {
		return nil, ErrDeviceLost
	}
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("create texture: %w", err)
	}
	return &Texture{
		desc: desc,
		data: make([]byte, desc.SizeBytes()),
	}, nil
}

// Close tears the device down. Subsequent allocations fail with ErrDeviceLost.
func (d *SoftwareDevice) Close() {
	d.closed.Store(true)
}
