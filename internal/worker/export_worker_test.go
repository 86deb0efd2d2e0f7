package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/kaw393939/metavis/internal/store/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportJob(t *testing.T, payload ExportPayload) *models.Job {
	t.Helper()
	data, err := EncodePayload("export", payload)
	require.NoError(t, err)
	return &models.Job{ID: uuid.New().String(), Type: models.JobTypeExport, Payload: data}
}

func TestExportWorkerPublishesAtomically(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "render.mvraw")
	delivery := filepath.Join(dir, "final.mvraw")
	content := []byte("rendered frames")
	require.NoError(t, os.WriteFile(source, content, 0o644))
	sum := sha256.Sum256(content)

	w := NewExportWorker()
	result, err := w.Execute(context.Background(), exportJob(t, ExportPayload{
		SourcePath:   source,
		DeliveryPath: delivery,
		SHA256:       hex.EncodeToString(sum[:]),
	}), NopProgress)
	require.NoError(t, err)

	var decoded ExportResult
	require.NoError(t, DecodeResult(result, &decoded))
	assert.Equal(t, delivery, decoded.DeliveryPath)
	assert.Equal(t, int64(len(content)), decoded.Bytes)
	assert.Equal(t, hex.EncodeToString(sum[:]), decoded.SHA256)

	published, err := os.ReadFile(delivery)
	require.NoError(t, err)
	assert.Equal(t, content, published)
	_, err = os.Stat(delivery + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestExportWorkerHashMismatch(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "render.mvraw")
	delivery := filepath.Join(dir, "final.mvraw")
	require.NoError(t, os.WriteFile(source, []byte("frames"), 0o644))

	w := NewExportWorker()
	_, err := w.Execute(context.Background(), exportJob(t, ExportPayload{
		SourcePath:   source,
		DeliveryPath: delivery,
		SHA256:       "0000000000000000000000000000000000000000000000000000000000000000",
	}), NopProgress)
	assert.Error(t, err)

	_, statErr := os.Stat(delivery)
	assert.True(t, os.IsNotExist(statErr), "mismatched delivery must not be published")
	_, statErr = os.Stat(delivery + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestExportWorkerMissingSource(t *testing.T) {
	dir := t.TempDir()
	w := NewExportWorker()
	_, err := w.Execute(context.Background(), exportJob(t, ExportPayload{
		SourcePath:   filepath.Join(dir, "missing.mvraw"),
		DeliveryPath: filepath.Join(dir, "final.mvraw"),
	}), NopProgress)
	assert.Error(t, err)
}
