package cmd

import (
	"fmt"
	"os"

	"github.com/kaw393939/metavis/internal/config"
	"github.com/kaw393939/metavis/internal/pipeline"
	"github.com/kaw393939/metavis/internal/store"
	"github.com/kaw393939/metavis/internal/timeline"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var SubmitCommand = &cli.Command{
	Name:      "submit",
	Usage:     "Submit a render pipeline from a job document",
	ArgsUsage: "<job.yaml>",
	Flags:     flags,
	Action: func(ctx *cli.Context) error {
		return RunSubmit(ctx)
	},
}

// jobDocument is the YAML shape the submit command accepts.
type jobDocument struct {
	Segment      timeline.SegmentDescriptor `yaml:"segment"`
	OutputPath   string                     `yaml:"output_path"`
	DeliveryPath string                     `yaml:"delivery_path,omitempty"`
	Frames       int                        `yaml:"frames"`
	FPS          int                        `yaml:"fps,omitempty"`
	Width        uint32                     `yaml:"width,omitempty"`
	Height       uint32                     `yaml:"height,omitempty"`
	Priority     int                        `yaml:"priority,omitempty"`
	Quality      string                     `yaml:"quality,omitempty"`
	EdgePolicy   string                     `yaml:"edge_policy,omitempty"`
}

func RunSubmit(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one job document, got %d arguments", ctx.NArg())
	}

	data, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("read job document: %w", err)
	}
	var doc jobDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse job document: %w", err)
	}
	if doc.FPS == 0 {
		doc.FPS = config.DefaultFPS
	}
	if doc.Width == 0 {
		doc.Width = uint32(config.DefaultBaseWidth)
	}
	if doc.Height == 0 {
		doc.Height = uint32(config.DefaultBaseHeight)
	}

	submissions, err := pipeline.StandardRender(pipeline.RenderOptions{
		Segment:      doc.Segment,
		OutputPath:   doc.OutputPath,
		DeliveryPath: doc.DeliveryPath,
		FrameCount:   doc.Frames,
		FPS:          doc.FPS,
		Width:        doc.Width,
		Height:       doc.Height,
		Priority:     doc.Priority,
		Quality:      doc.Quality,
		EdgePolicy:   doc.EdgePolicy,
	})
	if err != nil {
		return err
	}

	deferredStoreFuncs := initStores(ctx)
	for _, deferredFunc := range deferredStoreFuncs {
		defer deferredFunc()
	}

	if err := pipeline.Submit(ctx.Context, store.AppStore, submissions); err != nil {
		return err
	}
	for _, sub := range submissions {
		fmt.Printf("%-10s %s\n", sub.Job.Type, sub.Job.ID)
	}
	return nil
}
