package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/kaw393939/metavis/internal/store/models"
	"github.com/sirupsen/logrus"
)

// ExportWorker publishes a rendered intermediate to its delivery path. When
// the payload carries the hash the render step recorded, the copy is
// verified against it; without one the copy is not verified. The
// delivery file appears atomically: bytes go to <path>.tmp, which is
// fsync'd and renamed into place.
type ExportWorker struct {
	logger *logrus.Entry
}

// NewExportWorker creates an export worker.
func NewExportWorker() *ExportWorker {
	return &ExportWorker{logger: logging.Log.WithField("worker", "export")}
}

// Type implements Worker.
func (w *ExportWorker) Type() models.JobType { return models.JobTypeExport }

// Execute implements Worker.
func (w *ExportWorker) Execute(ctx context.Context, job *models.Job, progress ProgressFunc) ([]byte, error) {
	var payload ExportPayload
	if err := DecodePayload(job.Payload, "export", &payload); err != nil {
		return nil, err
	}
	if payload.SourcePath == "" || payload.DeliveryPath == "" {
		return nil, fmt.Errorf("export payload needs source and delivery paths")
	}

	src, err := os.Open(payload.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	tmpPath := payload.DeliveryPath + ".tmp"
	dst, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("create delivery temp: %w", err)
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(dst, hasher), src)
	if err != nil {
		_ = dst.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("copy to delivery: %w", err)
	}
	if err := dst.Sync(); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("fsync delivery: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("close delivery: %w", err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if payload.SHA256 != "" && digest != payload.SHA256 {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("source hash %s does not match recorded %s", digest, payload.SHA256)
	}

	if err := os.Rename(tmpPath, payload.DeliveryPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("publish delivery: %w", err)
	}

	w.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"delivery": payload.DeliveryPath,
		"bytes":    written,
	}).Info("Delivery published")
	progress(1, 1)

	return EncodeResult(ExportResult{
		DeliveryPath: payload.DeliveryPath,
		Bytes:        written,
		SHA256:       digest,
	})
}
