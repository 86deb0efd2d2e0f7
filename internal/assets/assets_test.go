package assets

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/kaw393939/metavis/internal/gpu"
	"github.com/kaw393939/metavis/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()
	require.NoError(t, png.Encode(file, img))
}

func TestMemoryManager(t *testing.T) {
	device := gpu.NewSoftwareDevice()
	manager := NewMemoryManager()

	tex, err := device.CreateTexture(gpu.TextureDescriptor{
		Format: gpu.PixelFormatRGBA16F, Width: 16, Height: 8,
	})
	require.NoError(t, err)
	manager.Register("clip", tex)

	got, err := manager.Texture(context.Background(), "clip", render.NewRational(0, 1), render.QualityFull)
	require.NoError(t, err)
	assert.Same(t, tex, got)

	info, err := manager.Stat(context.Background(), "clip")
	require.NoError(t, err)
	assert.Equal(t, uint32(16), info.Width)
	assert.Equal(t, uint32(8), info.Height)

	_, err = manager.Texture(context.Background(), "ghost", render.NewRational(0, 1), render.QualityFull)
	assert.ErrorIs(t, err, ErrAssetMissing)
}

func TestFilesystemManagerDecodesAndCaches(t *testing.T) {
	root := t.TempDir()
	writeTestPNG(t, filepath.Join(root, "clips", "a.png"), 32, 16)

	device := gpu.NewSoftwareDevice()
	manager := NewFilesystemManager(root, device)

	tex, err := manager.Texture(context.Background(), "clips/a.png", render.NewRational(0, 1), render.QualityFull)
	require.NoError(t, err)
	assert.Equal(t, uint32(32), tex.Width())
	assert.Equal(t, uint32(16), tex.Height())
	assert.Equal(t, gpu.PixelFormatRGBA16F, tex.Format())

	again, err := manager.Texture(context.Background(), "clips/a.png", render.NewRational(1, 2), render.QualityFull)
	require.NoError(t, err)
	assert.Same(t, tex, again, "still images are cached per quality tier")
}

func TestFilesystemManagerProxyTier(t *testing.T) {
	root := t.TempDir()
	writeTestPNG(t, filepath.Join(root, "a.png"), 32, 16)

	manager := NewFilesystemManager(root, gpu.NewSoftwareDevice())
	proxy, err := manager.Texture(context.Background(), "a.png", render.NewRational(0, 1), render.QualityProxy)
	require.NoError(t, err)
	assert.Equal(t, uint32(16), proxy.Width())
	assert.Equal(t, uint32(8), proxy.Height())

	full, err := manager.Texture(context.Background(), "a.png", render.NewRational(0, 1), render.QualityFull)
	require.NoError(t, err)
	assert.NotSame(t, proxy, full)
}

func TestFilesystemManagerStat(t *testing.T) {
	root := t.TempDir()
	writeTestPNG(t, filepath.Join(root, "a.png"), 8, 8)

	manager := NewFilesystemManager(root, gpu.NewSoftwareDevice())
	info, err := manager.Stat(context.Background(), "a.png")
	require.NoError(t, err)
	assert.Equal(t, uint32(8), info.Width)
	assert.Equal(t, uint32(8), info.Height)
	assert.NotZero(t, info.Bytes)
	assert.Len(t, info.SHA256, 64)

	_, err = manager.Stat(context.Background(), "missing.png")
	assert.ErrorIs(t, err, ErrAssetMissing)
}

func TestFilesystemManagerRejectsEscapingIDs(t *testing.T) {
	manager := NewFilesystemManager(t.TempDir(), gpu.NewSoftwareDevice())
	for _, id := range []string{"", "../etc/passwd", "/abs/path.png"} {
		_, err := manager.Texture(context.Background(), id, render.NewRational(0, 1), render.QualityFull)
		assert.ErrorIs(t, err, ErrAssetMissing, "id %q must be rejected", id)
	}
}
