package cmd

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/kaw393939/metavis/internal/assets"
	"github.com/kaw393939/metavis/internal/config"
	"github.com/kaw393939/metavis/internal/gpu"
	"github.com/kaw393939/metavis/internal/gpu/pool"
	"github.com/kaw393939/metavis/internal/render"
	"github.com/kaw393939/metavis/internal/render/kernels"
	"github.com/kaw393939/metavis/internal/timeline"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var RenderCommand = &cli.Command{
	Name:      "render",
	Usage:     "Render a single frame of a segment to a PNG, bypassing the queue",
	ArgsUsage: "<segment.yaml>",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "frame",
			Value: 0,
			Usage: "Frame index to render",
		},
		&cli.IntFlag{
			Name:  "fps",
			Value: 0,
			Usage: "Frame rate (0 uses METAVIS_FPS)",
		},
		&cli.IntFlag{
			Name:  "width",
			Value: 0,
			Usage: "Base width (0 uses METAVIS_BASE_WIDTH)",
		},
		&cli.IntFlag{
			Name:  "height",
			Value: 0,
			Usage: "Base height (0 uses METAVIS_BASE_HEIGHT)",
		},
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Value:   "frame.png",
			Usage:   "Output PNG path",
		},
		&cli.StringFlag{
			Name:    "asset-root",
			Usage:   "Directory asset ids resolve against",
			EnvVars: []string{"METAVIS_ASSET_ROOT"},
		},
	},
	Action: func(ctx *cli.Context) error {
		return RunRender(ctx)
	},
}

func RunRender(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one segment document, got %d arguments", ctx.NArg())
	}
	data, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("read segment document: %w", err)
	}
	var segment timeline.SegmentDescriptor
	if err := yaml.Unmarshal(data, &segment); err != nil {
		return fmt.Errorf("parse segment document: %w", err)
	}

	fps := ctx.Int("fps")
	if fps == 0 {
		fps = config.DefaultFPS
	}
	width := uint32(ctx.Int("width"))
	if width == 0 {
		width = uint32(config.DefaultBaseWidth)
	}
	height := uint32(ctx.Int("height"))
	if height == 0 {
		height = uint32(config.DefaultBaseHeight)
	}
	assetRoot := ctx.String("asset-root")
	if assetRoot == "" {
		assetRoot = config.AssetRoot
	}

	device := gpu.NewSoftwareDevice()
	defer device.Close()
	texPool := pool.New(device, config.PoolBudgetBytes())
	defer texPool.Purge()
	registry := kernels.NewBuiltinRegistry()
	assetManager := assets.NewFilesystemManager(assetRoot, device)

	compiler := timeline.NewBasicCompiler()
	graph, err := compiler.Compile(&segment)
	if err != nil {
		return err
	}

	executor := render.NewExecutor(texPool, registry, assetManager)
	root, warnings, err := executor.Execute(ctx.Context, &render.Request{
		Graph:                 graph,
		Time:                  render.FrameTime(int64(ctx.Int("frame")), int64(fps)),
		BaseWidth:             width,
		BaseHeight:            height,
		Quality:               render.QualityFull,
		EdgePolicy:            render.AutoResizeBilinear,
		AllowNonFloatTerminal: true,
	})
	if err != nil {
		return err
	}
	defer root.Release()
	for _, warning := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}

	return writePNG(ctx.String("out"), root.Texture())
}

// writePNG converts a texture to NRGBA and encodes it.
func writePNG(path string, tex *gpu.Texture) error {
	w, h := int(tex.Width()), int(tex.Height())
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := tex.At(x, y)
			i := img.PixOffset(x, y)
			img.Pix[i] = clamp255(px[0])
			img.Pix[i+1] = clamp255(px[1])
			img.Pix[i+2] = clamp255(px[2])
			img.Pix[i+3] = clamp255(px[3])
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

func clamp255(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
