package assets

import (
	"context"
	"fmt"
	"sync"

	"github.com/kaw393939/metavis/internal/gpu"
	"github.com/kaw393939/metavis/internal/render"
)

// MemoryManager is an in-memory asset manager. Used by tests and by
// generate workers that synthesize their own sources.
type MemoryManager struct {
	mu       sync.RWMutex
	textures map[string]*gpu.Texture
}

// NewMemoryManager creates an empty in-memory manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{textures: make(map[string]*gpu.Texture)}
}

// Register stores a texture under the asset id, replacing any previous one.
func (m *MemoryManager) Register(assetID string, tex *gpu.Texture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textures[assetID] = tex
}

// Texture implements Manager. The same texture serves every time and
// quality tier.
func (m *MemoryManager) Texture(ctx context.Context, assetID string, t render.Rational, quality render.Quality) (*gpu.Texture, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tex, ok := m.textures[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetMissing, assetID)
	}
	return tex, nil
}

// Stat implements Manager.
func (m *MemoryManager) Stat(ctx context.Context, assetID string) (AssetInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tex, ok := m.textures[assetID]
	if !ok {
		return AssetInfo{}, fmt.Errorf("%w: %s", ErrAssetMissing, assetID)
	}
	return AssetInfo{
		ID:     assetID,
		Width:  tex.Width(),
		Height: tex.Height(),
		Bytes:  int64(tex.SizeBytes()),
	}, nil
}
