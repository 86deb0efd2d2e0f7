package pool

import (
	"errors"
	"sync"
	"testing"

	"github.com/kaw393939/metavis/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingDevice lets tests inject allocation failures.
type failingDevice struct {
	CreateTextureFunc func(desc gpu.TextureDescriptor) (*gpu.Texture, error)
	fallback          *gpu.SoftwareDevice
}

func (d *failingDevice) Name() string { return "failing" }

func (d *failingDevice) CreateTexture(desc gpu.TextureDescriptor) (*gpu.Texture, error) {
	if d.CreateTextureFunc != nil {
		return d.CreateTextureFunc(desc)
	}
	return d.fallback.CreateTexture(desc)
}

func fullHD16F() gpu.TextureDescriptor {
	return gpu.TextureDescriptor{
		Format:  gpu.PixelFormatRGBA16F,
		Width:   1920,
		Height:  1080,
		Usage:   gpu.UsageIntermediate,
		Storage: gpu.StoragePrivate,
	}
}

func TestAcquireReusesReleasedTexture(t *testing.T) {
	p := New(gpu.NewSoftwareDevice(), 256<<20)

	first, err := p.Acquire(fullHD16F())
	require.NoError(t, err)
	tex := first.Texture()
	first.Release()

	second, err := p.Acquire(fullHD16F())
	require.NoError(t, err)
	assert.Same(t, tex, second.Texture(), "released texture should be reused")
	assert.Equal(t, 0, p.Stats().PooledCount)
}

func TestLRUEvictionUnderBudget(t *testing.T) {
	// Ten ~16 MiB textures through a 64 MiB pool: once everything is
	// returned, at most four stay idle and accounting stays under budget.
	budget := uint64(64 << 20)
	p := New(gpu.NewSoftwareDevice(), budget)

	var acquired []*PooledTexture
	for i := 0; i < 10; i++ {
		pt, err := p.Acquire(fullHD16F())
		require.NoError(t, err)
		acquired = append(acquired, pt)
	}
	for _, pt := range acquired {
		pt.Release()
	}

	stats := p.Stats()
	assert.LessOrEqual(t, stats.PooledCount, 4)
	assert.LessOrEqual(t, stats.TotalBytes, budget)

	eleventh, err := p.Acquire(fullHD16F())
	require.NoError(t, err)
	assert.LessOrEqual(t, p.Stats().TotalBytes, budget)
	eleventh.Release()
}

func TestEvictionPrefersLeastRecentlyReturned(t *testing.T) {
	oldKey := gpu.TextureDescriptor{
		Format: gpu.PixelFormatR8, Width: 64, Height: 64,
		Usage: gpu.UsageIntermediate, Storage: gpu.StoragePrivate,
	}
	newKey := gpu.TextureDescriptor{
		Format: gpu.PixelFormatR8, Width: 32, Height: 32,
		Usage: gpu.UsageIntermediate, Storage: gpu.StoragePrivate,
	}
	third := gpu.TextureDescriptor{
		Format: gpu.PixelFormatRGBA8, Width: 64, Height: 64,
		Usage: gpu.UsageIntermediate, Storage: gpu.StoragePrivate,
	}
	// One byte short of holding all three: allocating the third evicts
	// exactly one texture, and it must be the least-recently-returned key.
	budget := oldKey.SizeBytes() + newKey.SizeBytes() + third.SizeBytes() - 1
	p := New(gpu.NewSoftwareDevice(), budget)

	a, err := p.Acquire(oldKey)
	require.NoError(t, err)
	a.Release()
	b, err := p.Acquire(newKey)
	require.NoError(t, err)
	survivor := b.Texture()
	b.Release()

	c, err := p.Acquire(third)
	require.NoError(t, err)
	defer c.Release()
	assert.Equal(t, 1, p.Stats().PooledCount)

	reused, err := p.Acquire(newKey)
	require.NoError(t, err)
	defer reused.Release()
	assert.Same(t, survivor, reused.Texture(), "most recently returned key must survive eviction")
}

func TestInFlightAllocationsMayExceedBudget(t *testing.T) {
	// The budget bounds idle retention; acquired textures are the caller's
	// pressure. With nothing idle to evict, allocation falls through to the
	// device.
	size := fullHD16F().SizeBytes()
	p := New(gpu.NewSoftwareDevice(), 2*size)

	var acquired []*PooledTexture
	for i := 0; i < 3; i++ {
		pt, err := p.Acquire(fullHD16F())
		require.NoError(t, err)
		acquired = append(acquired, pt)
	}
	for _, pt := range acquired {
		pt.Release()
	}
	assert.LessOrEqual(t, p.Stats().TotalBytes, 2*size)
}

func TestDeviceFailureSurfacesAsAllocationExhausted(t *testing.T) {
	device := &failingDevice{
		CreateTextureFunc: func(desc gpu.TextureDescriptor) (*gpu.Texture, error) {
			return nil, errors.New("out of device memory")
		},
	}
	p := New(device, 256<<20)
	_, err := p.Acquire(fullHD16F())
	assert.ErrorIs(t, err, ErrAllocationExhausted)
	assert.Zero(t, p.Stats().TotalBytes, "failed allocation must not leak accounting")
}

func TestMemorylessNeverPooled(t *testing.T) {
	p := New(gpu.NewSoftwareDevice(), 256<<20)

	pt, err := p.AcquireMemoryless(gpu.PixelFormatRGBA16F, 640, 360)
	require.NoError(t, err)
	assert.Zero(t, p.Stats().TotalBytes, "memoryless textures are not accounted")

	pt.Release()
	assert.Equal(t, 0, p.Stats().PooledCount)
}

func TestPerKeyCapDropsExcessReleases(t *testing.T) {
	p := New(gpu.NewSoftwareDevice(), 1<<30)
	desc := gpu.TextureDescriptor{
		Format:  gpu.PixelFormatR8,
		Width:   8,
		Height:  8,
		Usage:   gpu.UsageIntermediate,
		Storage: gpu.StoragePrivate,
	}

	var acquired []*PooledTexture
	for i := 0; i < DefaultPerKeyCap+3; i++ {
		pt, err := p.Acquire(desc)
		require.NoError(t, err)
		acquired = append(acquired, pt)
	}
	for _, pt := range acquired {
		pt.Release()
	}

	stats := p.Stats()
	assert.Equal(t, DefaultPerKeyCap, stats.PooledCount)
	assert.Equal(t, uint64(DefaultPerKeyCap)*desc.SizeBytes(), stats.TotalBytes)
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := New(gpu.NewSoftwareDevice(), 1<<30)
	pt, err := p.Acquire(fullHD16F())
	require.NoError(t, err)

	pt.Release()
	pt.Release()
	pt.Release()
	assert.Equal(t, 1, p.Stats().PooledCount, "double release must not duplicate the texture")
}

func TestPurgeDropsIdleTextures(t *testing.T) {
	p := New(gpu.NewSoftwareDevice(), 1<<30)

	held, err := p.Acquire(fullHD16F())
	require.NoError(t, err)
	idle, err := p.Acquire(fullHD16F())
	require.NoError(t, err)
	idle.Release()

	p.Purge()
	stats := p.Stats()
	assert.Equal(t, 0, stats.PooledCount)
	assert.Equal(t, fullHD16F().SizeBytes(), stats.TotalBytes, "held texture stays accounted")

	held.Release()

	// Re-acquiring after a purge produces a texture with the same pool key.
	pt, err := p.Acquire(fullHD16F())
	require.NoError(t, err)
	assert.Equal(t, fullHD16F().PoolKey(), pt.Descriptor().PoolKey())
	pt.Release()
}

func TestConcurrentAcquireRelease(t *testing.T) {
	p := New(gpu.NewSoftwareDevice(), 512<<20)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				pt, err := p.Acquire(fullHD16F())
				if err != nil {
					continue
				}
				pt.Release()
			}
		}()
	}
	wg.Wait()

	stats := p.Stats()
	assert.LessOrEqual(t, stats.TotalBytes, uint64(512<<20))
}
