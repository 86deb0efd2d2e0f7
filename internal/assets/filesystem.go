package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	// Still-image decoders the filesystem manager accepts.
	_ "image/jpeg"
	_ "image/png"

	"github.com/kaw393939/metavis/internal/gpu"
	"github.com/kaw393939/metavis/internal/render"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// proxyDivisor is the downscale factor of the proxy quality tier.
const proxyDivisor = 2

// FilesystemManager resolves asset ids to image files under a base
// directory, decodes them, and uploads them to device textures. Decoded
// textures are cached per (asset, quality) tier; the proxy tier is a
// half-resolution bilinear downscale.
type FilesystemManager struct {
	basePath string
	device   gpu.Device

	mu    sync.Mutex
	cache map[string]*gpu.Texture
}

// NewFilesystemManager creates a manager rooted at basePath.
func NewFilesystemManager(basePath string, device gpu.Device) *FilesystemManager {
	return &FilesystemManager{
		basePath: basePath,
		device:   device,
		cache:    make(map[string]*gpu.Texture),
	}
}

// validateKey rejects ids that escape the base directory.
func (f *FilesystemManager) validateKey(assetID string) error {
	if assetID == "" || strings.Contains(assetID, "..") || filepath.IsAbs(assetID) {
		return fmt.Errorf("%w: invalid asset id %q", ErrAssetMissing, assetID)
	}
	return nil
}

// Texture implements Manager. Still images are time-invariant, so the time
// parameter does not participate in cache identity: entries are keyed by
// asset id and quality tier only.
func (f *FilesystemManager) Texture(ctx context.Context, assetID string, t render.Rational, quality render.Quality) (*gpu.Texture, error) {
	if err := f.validateKey(assetID); err != nil {
		return nil, err
	}
	key := assetID + "@" + string(quality)

	f.mu.Lock()
	defer f.mu.Unlock()
	if tex, ok := f.cache[key]; ok {
		return tex, nil
	}

	img, err := f.decode(assetID)
	if err != nil {
		return nil, err
	}
	if quality == render.QualityProxy {
		img = downscale(img, proxyDivisor)
	}
	tex, err := uploadRGBA16F(f.device, img)
	if err != nil {
		return nil, fmt.Errorf("upload asset %q: %w", assetID, err)
	}
	f.cache[key] = tex
	return tex, nil
}

// Stat implements Manager.
func (f *FilesystemManager) Stat(ctx context.Context, assetID string) (AssetInfo, error) {
	if err := f.validateKey(assetID); err != nil {
		return AssetInfo{}, err
	}
	fullPath := filepath.Join(f.basePath, assetID)
	fi, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return AssetInfo{}, fmt.Errorf("%w: %s", ErrAssetMissing, assetID)
		}
		return AssetInfo{}, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return AssetInfo{}, err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return AssetInfo{}, fmt.Errorf("hash asset %q: %w", assetID, err)
	}

	info := AssetInfo{
		ID:     assetID,
		Bytes:  fi.Size(),
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return AssetInfo{}, err
	}
	if cfg, _, err := image.DecodeConfig(file); err == nil {
		info.Width = uint32(cfg.Width)
		info.Height = uint32(cfg.Height)
	}
	return info, nil
}

// Purge drops the decoded texture cache.
func (f *FilesystemManager) Purge() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]*gpu.Texture)
}

func (f *FilesystemManager) decode(assetID string) (*image.RGBA, error) {
	fullPath := filepath.Join(f.basePath, assetID)
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAssetMissing, assetID)
		}
		return nil, err
	}
	defer file.Close()

	src, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode asset %q: %w", assetID, err)
	}
	bounds := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.Draw(rgba, rgba.Bounds(), src, bounds.Min, xdraw.Src)
	return rgba, nil
}

// downscale shrinks the image by the divisor with bilinear filtering,
// clamping at 1x1.
func downscale(src *image.RGBA, divisor int) *image.RGBA {
	w := src.Bounds().Dx() / divisor
	h := src.Bounds().Dy() / divisor
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// uploadRGBA16F copies a decoded image into a shared-storage float texture.
func uploadRGBA16F(device gpu.Device, img *image.RGBA) (*gpu.Texture, error) {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	tex, err := device.CreateTexture(gpu.TextureDescriptor{
		Format:  gpu.PixelFormatRGBA16F,
		Width:   uint32(w),
		Height:  uint32(h),
		Usage:   gpu.UsageShaderRead,
		Storage: gpu.StorageShared,
	})
	if err != nil {
		return nil, err
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(x, y)
			tex.Set(x, y, [4]float32{
				float32(img.Pix[i]) / 255,
				float32(img.Pix[i+1]) / 255,
				float32(img.Pix[i+2]) / 255,
				float32(img.Pix[i+3]) / 255,
			})
		}
	}
	return tex, nil
}
