package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/kaw393939/metavis/internal/store"
	"github.com/urfave/cli/v2"
)

var StatusCommand = &cli.Command{
	Name:      "status",
	Usage:     "Show job status, or list recent jobs when no id is given",
	ArgsUsage: "[job-id]",
	Flags: append(flags,
		&cli.StringFlag{
			Name:  "filter-status",
			Usage: "Only list jobs with this status",
		},
		&cli.IntFlag{
			Name:  "limit",
			Value: 20,
			Usage: "Maximum jobs to list",
		},
	),
	Action: func(ctx *cli.Context) error {
		return RunStatus(ctx)
	},
}

func RunStatus(ctx *cli.Context) error {
	deferredStoreFuncs := initStores(ctx)
	for _, deferredFunc := range deferredStoreFuncs {
		defer deferredFunc()
	}

	if ctx.NArg() == 1 {
		jobID := ctx.Args().First()
		job, err := store.AppStore.GetJobByID(ctx.Context, jobID)
		if err != nil {
			return err
		}
		deps, err := store.AppStore.ListDependencies(ctx.Context, jobID)
		if err != nil {
			return err
		}
		out := map[string]interface{}{
			"id":         job.ID,
			"type":       job.Type,
			"status":     job.Status,
			"priority":   job.Priority,
			"created_at": job.CreatedAt,
			"updated_at": job.UpdatedAt,
			"depends_on": deps,
		}
		if job.Error != "" {
			out["error"] = job.Error
		}
		encoded, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	}

	filters := map[string]interface{}{}
	if status := ctx.String("filter-status"); status != "" {
		filters["status"] = status
	}
	jobs, err := store.AppStore.ListJobs(ctx.Context, filters, ctx.Int("limit"), 0)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		fmt.Printf("%-36s %-10s %-10s p%-4d %s\n",
			job.ID, job.Type, job.Status, job.Priority, job.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
