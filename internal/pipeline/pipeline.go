// Package pipeline assembles the standard job DAGs the system runs: an
// ingest pass per referenced asset, an analysis pass over the segment, the
// render, and the export that publishes the delivery file. The queue's
// dependency edges encode the ordering; the scheduler discovers each stage
// as its predecessors complete.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kaw393939/metavis/internal/metrics"
	"github.com/kaw393939/metavis/internal/store"
	"github.com/kaw393939/metavis/internal/store/models"
	"github.com/kaw393939/metavis/internal/timeline"
	"github.com/kaw393939/metavis/internal/worker"
)

// RenderOptions parameterizes a standard render pipeline.
type RenderOptions struct {
	Segment      timeline.SegmentDescriptor
	OutputPath   string
	DeliveryPath string
	FrameCount   int
	FPS          int
	Width        uint32
	Height       uint32
	Priority     int
	Quality      string
	EdgePolicy   string
}

// Submission is one job plus the ids it depends on, ready for CreateJob.
type Submission struct {
	Job  *models.Job
	Deps []string
}

// StandardRender builds the ingest -> analysis -> render -> export chain
// for one segment. Every referenced asset gets its own ingest job; analysis
// depends on all ingests, the render on the analysis, and the export on the
// render.
func StandardRender(opts RenderOptions) ([]Submission, error) {
	if opts.OutputPath == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if opts.FrameCount <= 0 || opts.FPS <= 0 {
		return nil, fmt.Errorf("frame count and fps must be positive")
	}

	var submissions []Submission
	var ingestIDs []string
	for _, assetID := range referencedAssets(&opts.Segment) {
		payload, err := worker.EncodePayload("ingest", worker.IngestPayload{AssetID: assetID})
		if err != nil {
			return nil, err
		}
		job := newJob(models.JobTypeIngest, opts.Priority, payload)
		ingestIDs = append(ingestIDs, job.ID)
		submissions = append(submissions, Submission{Job: job})
	}

	analysisPayload, err := worker.EncodePayload("analysis", worker.AnalysisPayload{
		Segment:    opts.Segment,
		FrameCount: opts.FrameCount,
		FPS:        opts.FPS,
		Width:      opts.Width,
		Height:     opts.Height,
	})
	if err != nil {
		return nil, err
	}
	analysis := newJob(models.JobTypeAnalysis, opts.Priority, analysisPayload)
	submissions = append(submissions, Submission{Job: analysis, Deps: ingestIDs})

	renderPayload, err := worker.EncodePayload("render", worker.RenderPayload{
		Segment:    opts.Segment,
		OutputPath: opts.OutputPath,
		FrameCount: opts.FrameCount,
		FPS:        opts.FPS,
		Width:      opts.Width,
		Height:     opts.Height,
		Quality:    opts.Quality,
		EdgePolicy: opts.EdgePolicy,
	})
	if err != nil {
		return nil, err
	}
	renderJob := newJob(models.JobTypeRender, opts.Priority, renderPayload)
	submissions = append(submissions, Submission{Job: renderJob, Deps: []string{analysis.ID}})

	if opts.DeliveryPath != "" {
		exportPayload, err := worker.EncodePayload("export", worker.ExportPayload{
			SourcePath:   opts.OutputPath,
			DeliveryPath: opts.DeliveryPath,
		})
		if err != nil {
			return nil, err
		}
		exportJob := newJob(models.JobTypeExport, opts.Priority, exportPayload)
		submissions = append(submissions, Submission{Job: exportJob, Deps: []string{renderJob.ID}})
	}
	return submissions, nil
}

// Submit persists the submissions in dependency order.
func Submit(ctx context.Context, st store.Store, submissions []Submission) error {
	for _, sub := range submissions {
		if err := st.CreateJob(ctx, sub.Job, sub.Deps); err != nil {
			return fmt.Errorf("submit %s job %s: %w", sub.Job.Type, sub.Job.ID, err)
		}
		metrics.JobsSubmitted.WithLabelValues(string(sub.Job.Type)).Inc()
	}
	return nil
}

// referencedAssets collects every asset id the segment touches, in a stable
// order: the primary source first, then per-effect references.
func referencedAssets(seg *timeline.SegmentDescriptor) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(seg.AssetID)
	for _, effect := range seg.Effects {
		if id, ok := effect.Params["overlay_asset_id"].(string); ok {
			add(id)
		}
		if id, ok := effect.Params["mask_asset_id"].(string); ok {
			add(id)
		}
	}
	return ids
}

func newJob(jobType models.JobType, priority int, payload []byte) *models.Job {
	return &models.Job{
		ID:       uuid.New().String(),
		Type:     jobType,
		Priority: priority,
		Payload:  payload,
	}
}
