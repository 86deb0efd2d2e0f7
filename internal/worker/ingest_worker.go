package worker

import (
	"context"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/kaw393939/metavis/internal/assets"
	"github.com/kaw393939/metavis/internal/store/models"
	"github.com/sirupsen/logrus"
)

// IngestWorker probes an asset and records what the pipeline needs to know
// about it: dimensions, byte size, content hash. Downstream analysis and
// render jobs depend on ingest having completed.
type IngestWorker struct {
	assets assets.Manager
	logger *logrus.Entry
}

// NewIngestWorker creates an ingest worker over the asset manager.
func NewIngestWorker(assetManager assets.Manager) *IngestWorker {
	return &IngestWorker{
		assets: assetManager,
		logger: logging.Log.WithField("worker", "ingest"),
	}
}

// Type implements Worker.
func (w *IngestWorker) Type() models.JobType { return models.JobTypeIngest }

// Execute implements Worker.
func (w *IngestWorker) Execute(ctx context.Context, job *models.Job, progress ProgressFunc) ([]byte, error) {
	var payload IngestPayload
	if err := DecodePayload(job.Payload, "ingest", &payload); err != nil {
		return nil, err
	}

	info, err := w.assets.Stat(ctx, payload.AssetID)
	if err != nil {
		return nil, err
	}
	w.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"asset_id": info.ID,
		"size":     info.Bytes,
	}).Info("Asset ingested")
	progress(1, 1)

	return EncodeResult(IngestResult{
		AssetID: info.ID,
		Width:   info.Width,
		Height:  info.Height,
		Bytes:   info.Bytes,
		SHA256:  info.SHA256,
	})
}
