package worker

import (
	"context"
	"fmt"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/kaw393939/metavis/internal/assets"
	"github.com/kaw393939/metavis/internal/gpu"
	"github.com/kaw393939/metavis/internal/gpu/pool"
	"github.com/kaw393939/metavis/internal/render"
	"github.com/kaw393939/metavis/internal/render/kernels"
	"github.com/kaw393939/metavis/internal/store/models"
	"github.com/kaw393939/metavis/internal/timeline"
	"github.com/sirupsen/logrus"
)

// AnalysisWorker computes per-frame luma statistics over a segment at the
// proxy quality tier. The statistics feed downstream grading decisions; the
// pass is deterministic so repeated analysis of the same segment agrees.
type AnalysisWorker struct {
	pool     *pool.Pool
	registry *kernels.Registry
	assets   assets.Manager
	graphs   *timeline.GraphCache
	executor *render.Executor
	logger   *logrus.Entry
}

// NewAnalysisWorker creates an analysis worker. Analysis graphs keep a
// float terminal so statistics see the full working range.
func NewAnalysisWorker(texPool *pool.Pool, registry *kernels.Registry, assetManager assets.Manager) *AnalysisWorker {
	compiler := timeline.NewBasicCompiler()
	compiler.TerminalFormat = gpu.PixelFormatRGBA16F
	return &AnalysisWorker{
		pool:     texPool,
		registry: registry,
		assets:   assetManager,
		graphs:   timeline.NewGraphCache(compiler),
		executor: render.NewExecutor(texPool, registry, assetManager),
		logger:   logging.Log.WithField("worker", "analysis"),
	}
}

// Type implements Worker.
func (w *AnalysisWorker) Type() models.JobType { return models.JobTypeAnalysis }

// Execute implements Worker. Cancellation is observed between frames.
func (w *AnalysisWorker) Execute(ctx context.Context, job *models.Job, progress ProgressFunc) ([]byte, error) {
	var payload AnalysisPayload
	if err := DecodePayload(job.Payload, "analysis", &payload); err != nil {
		return nil, err
	}
	if err := validateFrameGeometry(payload.FrameCount, payload.FPS, payload.Width, payload.Height); err != nil {
		return nil, err
	}

	graph, err := w.graphs.Get(&payload.Segment)
	if err != nil {
		return nil, err
	}

	result := AnalysisResult{Frames: make([]FrameStats, 0, payload.FrameCount)}
	for f := 0; f < payload.FrameCount; f++ {
		if cancelled(ctx) {
			return nil, fmt.Errorf("%w: after %d frames", ErrCancelled, f)
		}

		t := render.FrameTime(int64(f), int64(payload.FPS))
		root, _, err := w.executor.Execute(ctx, &render.Request{
			Graph:      graph,
			Time:       t,
			BaseWidth:  payload.Width,
			BaseHeight: payload.Height,
			Quality:    render.QualityProxy,
			EdgePolicy: render.AutoResizeBilinear,
		})
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", f, err)
		}
		result.Frames = append(result.Frames, lumaStats(f, root.Texture()))
		root.Release()

		progress(f+1, payload.FrameCount)
	}

	w.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"frames": len(result.Frames),
	}).Info("Segment analyzed")
	return EncodeResult(result)
}

// lumaStats reduces one frame to Rec. 709 luma statistics.
func lumaStats(index int, tex *gpu.Texture) FrameStats {
	stats := FrameStats{Index: index, MinLuma: 1e9, MaxLuma: -1e9}
	var sum float64
	w, h := int(tex.Width()), int(tex.Height())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := tex.At(x, y)
			luma := 0.2126*float64(px[0]) + 0.7152*float64(px[1]) + 0.0722*float64(px[2])
			sum += luma
			if luma < stats.MinLuma {
				stats.MinLuma = luma
			}
			if luma > stats.MaxLuma {
				stats.MaxLuma = luma
			}
		}
	}
	stats.MeanLuma = sum / float64(w*h)
	return stats
}
