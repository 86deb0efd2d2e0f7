// Package pool implements the texture pool: a heap-backed, LRU-evicted,
// thread-safe cache of reusable device textures under a memory budget.
package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kaw393939/metavis/internal/gpu"
)

// ErrAllocationExhausted is returned when a texture cannot be allocated
// within the pool's budget and the device cannot satisfy the request.
var ErrAllocationExhausted = errors.New("texture allocation exhausted")

// DefaultPerKeyCap bounds how many idle textures of one pool key are
// retained. Releases past the cap drop the texture instead of pooling it.
const DefaultPerKeyCap = 8

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	// PooledCount is the number of idle textures held for reuse.
	PooledCount int
	// TotalBytes is the accounted size of all live textures, idle and
	// acquired. Memoryless textures are never accounted.
	TotalBytes uint64
	// HeapBytes is the accounted size of private-storage textures.
	HeapBytes uint64
}

// Pool serves texture acquisition with minimal per-frame allocation overhead.
// All methods are safe for concurrent use; state is guarded by one mutex.
// Acquired textures are never eligible for eviction.
type Pool struct {
	device    gpu.Device
	budget    uint64
	perKeyCap int

	mu          sync.Mutex
	free        map[string][]*gpu.Texture
	accessOrder []string // pool keys, LRU first
	totalBytes  uint64
	pooledBytes uint64
	pooledCount int
	heapBytes   uint64
}

// New creates a pool over the device with the given budget in bytes.
func New(device gpu.Device, budgetBytes uint64) *Pool {
	return &Pool{
		device:    device,
		budget:    budgetBytes,
		perKeyCap: DefaultPerKeyCap,
		free:      make(map[string][]*gpu.Texture),
	}
}

// Acquire returns an idle texture matching the descriptor, or allocates one.
// When the budget would be exceeded, least-recently-returned textures are
// evicted one at a time until the request fits or nothing idle remains.
func (p *Pool) Acquire(desc gpu.TextureDescriptor) (*PooledTexture, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.Storage == gpu.StorageMemoryless {
		return p.AcquireMemoryless(desc.Format, desc.Width, desc.Height)
	}

	key := desc.PoolKey()

	p.mu.Lock()
	if list := p.free[key]; len(list) > 0 {
		tex := list[len(list)-1]
		p.free[key] = list[:len(list)-1]
		if len(p.free[key]) == 0 {
			delete(p.free, key)
			p.removeFromOrder(key)
		} else {
			p.touch(key)
		}
		p.pooledBytes -= tex.SizeBytes()
		p.pooledCount--
		p.mu.Unlock()
		return &PooledTexture{tex: tex, pool: p}, nil
	}

	// Make room under the budget by evicting least-recently-returned idle
	// textures. If nothing idle remains we fall through to direct device
	// allocation, which may still fail.
	need := desc.SizeBytes()
	for p.totalBytes+need > p.budget && p.pooledCount > 0 {
		p.evictOneLocked()
	}
	// Reserve before allocating so a concurrent acquire sees the pressure.
	p.totalBytes += need
	if desc.Storage == gpu.StoragePrivate {
		p.heapBytes += need
	}
	p.mu.Unlock()

	tex, err := p.device.CreateTexture(desc)
	if err != nil {
		p.mu.Lock()
		p.totalBytes -= need
		if desc.Storage == gpu.StoragePrivate {
			p.heapBytes -= need
		}
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrAllocationExhausted, err)
	}
	return &PooledTexture{tex: tex, pool: p}, nil
}

// AcquireMemoryless returns a transient tile-memory texture. Memoryless
// textures live for exactly one pass: they bypass accounting and their
// release drops them instead of pooling.
func (p *Pool) AcquireMemoryless(format gpu.PixelFormat, w, h uint32) (*PooledTexture, error) {
	tex, err := p.device.CreateTexture(gpu.TextureDescriptor{
		Format:  format,
		Width:   w,
		Height:  h,
		Usage:   gpu.UsageRenderTarget | gpu.UsageShaderRead,
		Storage: gpu.StorageMemoryless,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocationExhausted, err)
	}
	return &PooledTexture{tex: tex, pool: p, memoryless: true}, nil
}

// AcquireIntermediate is the convenience path for private-storage GPU-only
// intermediates, the allocation every graph node output goes through.
func (p *Pool) AcquireIntermediate(format gpu.PixelFormat, w, h uint32, usage gpu.TextureUsage) (*PooledTexture, error) {
	return p.Acquire(gpu.TextureDescriptor{
		Format:    format,
		Width:     w,
		Height:    h,
		Usage:     usage,
		Storage:   gpu.StoragePrivate,
		MipLevels: 1,
	})
}

// release returns a texture to the idle set. If the per-key cap is already
// met the texture is dropped and its bytes deducted.
func (p *Pool) release(tex *gpu.Texture) {
	key := tex.Descriptor().PoolKey()
	size := tex.SizeBytes()

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free[key]) >= p.perKeyCap {
		p.totalBytes -= size
		if tex.Descriptor().Storage == gpu.StoragePrivate {
			p.heapBytes -= size
		}
		return
	}
	p.free[key] = append(p.free[key], tex)
	p.pooledBytes += size
	p.pooledCount++
	p.touch(key)

	for p.totalBytes > p.budget && p.pooledCount > 0 {
		p.evictOneLocked()
	}
}

// Purge drops all idle textures. Acquired textures are unaffected.
func (p *Pool) Purge() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, list := range p.free {
		for _, tex := range list {
			p.totalBytes -= tex.SizeBytes()
			if tex.Descriptor().Storage == gpu.StoragePrivate {
				p.heapBytes -= tex.SizeBytes()
			}
		}
		delete(p.free, key)
	}
	p.accessOrder = p.accessOrder[:0]
	p.pooledBytes = 0
	p.pooledCount = 0
}

// Stats reports current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		PooledCount: p.pooledCount,
		TotalBytes:  p.totalBytes,
		HeapBytes:   p.heapBytes,
	}
}

// evictOneLocked removes one texture from the least-recently-used key.
func (p *Pool) evictOneLocked() {
	if len(p.accessOrder) == 0 {
		return
	}
	key := p.accessOrder[0]
	list := p.free[key]
	if len(list) == 0 {
		p.removeFromOrder(key)
		delete(p.free, key)
		return
	}
	tex := list[0]
	p.free[key] = list[1:]
	if len(p.free[key]) == 0 {
		delete(p.free, key)
		p.removeFromOrder(key)
	}
	size := tex.SizeBytes()
	p.totalBytes -= size
	p.pooledBytes -= size
	p.pooledCount--
	if tex.Descriptor().Storage == gpu.StoragePrivate {
		p.heapBytes -= size
	}
}

// touch marks the key most recently used.
func (p *Pool) touch(key string) {
	p.removeFromOrder(key)
	p.accessOrder = append(p.accessOrder, key)
}

func (p *Pool) removeFromOrder(key string) {
	for i, k := range p.accessOrder {
		if k == key {
			p.accessOrder = append(p.accessOrder[:i], p.accessOrder[i+1:]...)
			return
		}
	}
}
