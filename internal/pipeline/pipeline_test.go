package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kaw393939/metavis/internal/store/gorm_store"
	"github.com/kaw393939/metavis/internal/store/models"
	"github.com/kaw393939/metavis/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() RenderOptions {
	return RenderOptions{
		Segment: timeline.SegmentDescriptor{
			ID:      "seg-1",
			AssetID: "clips/main.png",
			Effects: []timeline.EffectSpec{
				{Kind: "blend", Params: map[string]any{"overlay_asset_id": "clips/logo.png"}},
				{Kind: "mask_apply", Params: map[string]any{"mask_asset_id": "masks/face.png"}},
			},
		},
		OutputPath:   "/tmp/render.mvraw",
		DeliveryPath: "/tmp/final.mvraw",
		FrameCount:   48,
		FPS:          24,
		Width:        1280,
		Height:       720,
		Priority:     7,
	}
}

func TestStandardRenderShape(t *testing.T) {
	submissions, err := StandardRender(testOptions())
	require.NoError(t, err)

	// Three distinct assets -> three ingests, then analysis, render, export.
	require.Len(t, submissions, 6)

	var ingestIDs []string
	for i := 0; i < 3; i++ {
		assert.Equal(t, models.JobTypeIngest, submissions[i].Job.Type)
		assert.Empty(t, submissions[i].Deps)
		ingestIDs = append(ingestIDs, submissions[i].Job.ID)
	}

	analysis := submissions[3]
	assert.Equal(t, models.JobTypeAnalysis, analysis.Job.Type)
	assert.ElementsMatch(t, ingestIDs, analysis.Deps)

	renderSub := submissions[4]
	assert.Equal(t, models.JobTypeRender, renderSub.Job.Type)
	assert.Equal(t, []string{analysis.Job.ID}, renderSub.Deps)
	assert.Equal(t, 7, renderSub.Job.Priority)

	exportSub := submissions[5]
	assert.Equal(t, models.JobTypeExport, exportSub.Job.Type)
	assert.Equal(t, []string{renderSub.Job.ID}, exportSub.Deps)
}

func TestStandardRenderWithoutDelivery(t *testing.T) {
	opts := testOptions()
	opts.DeliveryPath = ""
	submissions, err := StandardRender(opts)
	require.NoError(t, err)
	for _, sub := range submissions {
		assert.NotEqual(t, models.JobTypeExport, sub.Job.Type)
	}
}

func TestStandardRenderValidation(t *testing.T) {
	opts := testOptions()
	opts.OutputPath = ""
	_, err := StandardRender(opts)
	assert.Error(t, err)

	opts = testOptions()
	opts.FrameCount = 0
	_, err = StandardRender(opts)
	assert.Error(t, err)
}

func TestSubmitPersistsChain(t *testing.T) {
	s, err := gorm_store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())

	submissions, err := StandardRender(testOptions())
	require.NoError(t, err)
	require.NoError(t, Submit(context.Background(), s, submissions))

	ctx := context.Background()
	for i, sub := range submissions {
		job, err := s.GetJobByID(ctx, sub.Job.ID)
		require.NoError(t, err)
		if i < 3 {
			assert.Equal(t, models.JobStatusPending, job.Status, "ingests start pending")
		} else {
			assert.Equal(t, models.JobStatusBlocked, job.Status, "downstream stages start blocked")
		}
	}

	// Only ingest jobs are claimable right now.
	claimed, err := s.ClaimNextReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeIngest, claimed.Type)
}
