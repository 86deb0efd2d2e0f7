package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/kaw393939/metavis/internal/assets"
	"github.com/kaw393939/metavis/internal/config"
	"github.com/kaw393939/metavis/internal/encoder"
	"github.com/kaw393939/metavis/internal/gpu/pool"
	"github.com/kaw393939/metavis/internal/metrics"
	"github.com/kaw393939/metavis/internal/render"
	"github.com/kaw393939/metavis/internal/render/kernels"
	"github.com/kaw393939/metavis/internal/store/models"
	"github.com/kaw393939/metavis/internal/timeline"
	"github.com/sirupsen/logrus"
)

// RenderWorker renders a timeline segment to a raw-video delivery file.
// Graph execution is single-threaded within the worker; concurrency across
// jobs is the scheduler's concern. An executor is instantiated per worker
// because executors are not safe for concurrent use.
type RenderWorker struct {
	pool     *pool.Pool
	registry *kernels.Registry
	assets   assets.Manager
	graphs   *timeline.GraphCache
	executor *render.Executor
	logger   *logrus.Entry
}

// NewRenderWorker creates a render worker over the shared pool and registry.
func NewRenderWorker(texPool *pool.Pool, registry *kernels.Registry, assetManager assets.Manager) *RenderWorker {
	return &RenderWorker{
		pool:     texPool,
		registry: registry,
		assets:   assetManager,
		graphs:   timeline.NewGraphCache(timeline.NewBasicCompiler()),
		executor: render.NewExecutor(texPool, registry, assetManager),
		logger:   logging.Log.WithField("worker", "render"),
	}
}

// Type implements Worker.
func (w *RenderWorker) Type() models.JobType { return models.JobTypeRender }

// Execute implements Worker. Frames are dispatched strictly in index order;
// cancellation is observed between frames, and a cancelled render leaves no
// partial file at the output path.
func (w *RenderWorker) Execute(ctx context.Context, job *models.Job, progress ProgressFunc) ([]byte, error) {
	var payload RenderPayload
	if err := DecodePayload(job.Payload, "render", &payload); err != nil {
		return nil, err
	}
	if err := validateFrameGeometry(payload.FrameCount, payload.FPS, payload.Width, payload.Height); err != nil {
		return nil, err
	}
	if payload.OutputPath == "" {
		return nil, fmt.Errorf("render payload has no output path")
	}

	graph, err := w.graphs.Get(&payload.Segment)
	if err != nil {
		return nil, err
	}
	terminalFormat := render.ResolveOutputPixelFormat(graph.NodeByID(graph.Root))

	enc, err := encoder.NewRawVideo(payload.OutputPath, payload.Width, payload.Height, terminalFormat, uint32(payload.FPS))
	if err != nil {
		return nil, err
	}

	quality := render.Quality(payload.Quality)
	if quality == "" {
		quality = render.QualityFull
	}
	policy := render.EdgePolicy(payload.EdgePolicy)
	if policy == "" {
		policy = render.AutoResizeBilinear
	}

	progressEvery := config.ProgressEveryFrames
	if progressEvery < 1 {
		progressEvery = 1
	}

	warningCount := 0
	for f := 0; f < payload.FrameCount; f++ {
		if cancelled(ctx) {
			_ = enc.Abort()
			return nil, fmt.Errorf("%w: after %d frames", ErrCancelled, f)
		}

		t := render.FrameTime(int64(f), int64(payload.FPS))
		req := &render.Request{
			Graph:                 graph,
			Time:                  t,
			BaseWidth:             payload.Width,
			BaseHeight:            payload.Height,
			Quality:               quality,
			EdgePolicy:            policy,
			AllowNonFloatTerminal: true,
		}
		root, warnings, err := w.executor.Execute(ctx, req)
		if err != nil {
			_ = enc.Abort()
			return nil, fmt.Errorf("frame %d: %w", f, err)
		}
		for _, warning := range warnings {
			metrics.RenderWarnings.WithLabelValues(string(warning.Kind)).Inc()
		}
		if f == 0 && len(warnings) > 0 {
			w.logger.WithFields(logrus.Fields{
				"job_id":   job.ID,
				"warnings": warningSummary(warnings),
			}).Warn("Graph executed with warnings")
		}
		warningCount += len(warnings)

		err = enc.AppendFrame(root.Texture(), t)
		root.Release()
		if err != nil {
			_ = enc.Abort()
			return nil, err
		}
		metrics.FramesRendered.Inc()

		if (f+1)%progressEvery == 0 {
			progress(f+1, payload.FrameCount)
		}
		stats := w.pool.Stats()
		metrics.PoolBytes.Set(float64(stats.TotalBytes))
		metrics.PoolTextures.Set(float64(stats.PooledCount))
	}

	if err := enc.Finalize(); err != nil {
		return nil, err
	}
	progress(payload.FrameCount, payload.FrameCount)

	digest, err := fileSHA256(payload.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("hash output: %w", err)
	}
	return EncodeResult(RenderResult{
		FramesWritten: payload.FrameCount,
		OutputPath:    payload.OutputPath,
		SHA256:        digest,
		Warnings:      warningCount,
	})
}

func validateFrameGeometry(frames, fps int, w, h uint32) error {
	if frames <= 0 {
		return fmt.Errorf("frame count must be positive, got %d", frames)
	}
	if fps <= 0 {
		return fmt.Errorf("fps must be positive, got %d", fps)
	}
	if w == 0 || h == 0 {
		return fmt.Errorf("base size must be at least 1x1, got %dx%d", w, h)
	}
	return nil
}

func warningSummary(warnings []render.Warning) []string {
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.String())
	}
	return out
}

func fileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
