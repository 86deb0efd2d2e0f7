package worker

import (
	"context"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/kaw393939/metavis/internal/assets"
	"github.com/kaw393939/metavis/internal/gpu/pool"
	"github.com/kaw393939/metavis/internal/render"
	"github.com/kaw393939/metavis/internal/render/kernels"
	"github.com/kaw393939/metavis/internal/store/models"
	"github.com/kaw393939/metavis/internal/timeline"
	"github.com/sirupsen/logrus"
)

// GenerateWorker renders a single preview frame of a segment at the proxy
// quality tier and returns the raw frame inline in the job result.
type GenerateWorker struct {
	pool     *pool.Pool
	registry *kernels.Registry
	assets   assets.Manager
	graphs   *timeline.GraphCache
	executor *render.Executor
	logger   *logrus.Entry
}

// NewGenerateWorker creates a preview-frame worker.
func NewGenerateWorker(texPool *pool.Pool, registry *kernels.Registry, assetManager assets.Manager) *GenerateWorker {
	return &GenerateWorker{
		pool:     texPool,
		registry: registry,
		assets:   assetManager,
		graphs:   timeline.NewGraphCache(timeline.NewBasicCompiler()),
		executor: render.NewExecutor(texPool, registry, assetManager),
		logger:   logging.Log.WithField("worker", "generate"),
	}
}

// Type implements Worker.
func (w *GenerateWorker) Type() models.JobType { return models.JobTypeGenerate }

// Execute implements Worker.
func (w *GenerateWorker) Execute(ctx context.Context, job *models.Job, progress ProgressFunc) ([]byte, error) {
	var payload GeneratePayload
	if err := DecodePayload(job.Payload, "generate", &payload); err != nil {
		return nil, err
	}
	if err := validateFrameGeometry(1, payload.FPS, payload.Width, payload.Height); err != nil {
		return nil, err
	}

	graph, err := w.graphs.Get(&payload.Segment)
	if err != nil {
		return nil, err
	}

	t := render.FrameTime(int64(payload.Frame), int64(payload.FPS))
	root, _, err := w.executor.Execute(ctx, &render.Request{
		Graph:                 graph,
		Time:                  t,
		BaseWidth:             payload.Width,
		BaseHeight:            payload.Height,
		Quality:               render.QualityProxy,
		EdgePolicy:            render.AutoResizeBilinear,
		AllowNonFloatTerminal: true,
	})
	if err != nil {
		return nil, err
	}
	defer root.Release()

	tex := root.Texture()
	frame := make([]byte, len(tex.Bytes()))
	copy(frame, tex.Bytes())

	w.logger.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"segment": payload.Segment.ID,
		"frame":   payload.Frame,
	}).Info("Preview frame generated")
	progress(1, 1)

	return EncodeResult(GenerateResult{
		Width:  tex.Width(),
		Height: tex.Height(),
		Format: string(tex.Format()),
		Frame:  frame,
	})
}
