// Package assets provides the asset manager the render core borrows
// textures from. The manager owns asset lifetimes and quality tiers; the
// executor only holds a texture for the duration of a dispatch.
package assets

import (
	"context"
	"errors"

	"github.com/kaw393939/metavis/internal/gpu"
	"github.com/kaw393939/metavis/internal/render"
)

// ErrAssetMissing is returned when an asset id cannot be resolved.
var ErrAssetMissing = errors.New("asset missing")

// Manager resolves asset references to textures at a point in time.
// Implementations must be safe for concurrent use.
type Manager interface {
	// Texture returns the asset's texture for the requested time and
	// quality tier. The returned texture is owned by the manager; callers
	// must not retain it past the current frame.
	Texture(ctx context.Context, assetID string, t render.Rational, quality render.Quality) (*gpu.Texture, error)

	// Stat reports whether the asset exists and its pixel dimensions.
	Stat(ctx context.Context, assetID string) (AssetInfo, error)
}

// AssetInfo describes a registered asset.
type AssetInfo struct {
	ID     string `json:"id"`
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
	Bytes  int64  `json:"bytes,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
}
