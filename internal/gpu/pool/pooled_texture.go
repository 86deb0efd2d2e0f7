package pool

import (
	"sync"

	"github.com/kaw393939/metavis/internal/gpu"
)

// PooledTexture is a scoped texture acquisition. Release returns the texture
// to the pool exactly once; further calls are no-ops, so it is safe to call
// on every exit path. Memoryless acquisitions are dropped, never pooled.
type PooledTexture struct {
	tex        *gpu.Texture
	pool       *Pool
	memoryless bool
	once       sync.Once
}

// Texture returns the underlying device texture. The pointer must not be
// used after Release.
func (pt *PooledTexture) Texture() *gpu.Texture { return pt.tex }

// Descriptor returns the texture's creation descriptor.
func (pt *PooledTexture) Descriptor() gpu.TextureDescriptor { return pt.tex.Descriptor() }

// Release returns the texture to the pool. Idempotent.
func (pt *PooledTexture) Release() {
	pt.once.Do(func() {
		if pt.memoryless {
			return
		}
		pt.pool.release(pt.tex)
	})
}
