package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/kaw393939/metavis/internal/assets"
	"github.com/kaw393939/metavis/internal/config"
	"github.com/kaw393939/metavis/internal/gpu"
	"github.com/kaw393939/metavis/internal/gpu/pool"
	"github.com/kaw393939/metavis/internal/metrics"
	"github.com/kaw393939/metavis/internal/render/kernels"
	"github.com/kaw393939/metavis/internal/scheduler"
	"github.com/kaw393939/metavis/internal/store"
	"github.com/kaw393939/metavis/internal/worker"
	"github.com/urfave/cli/v2"
)

var WorkerCommand = &cli.Command{
	Name:  "worker",
	Usage: "Run the job processing worker",
	Flags: append(flags, workerFlags...),
	Action: func(ctx *cli.Context) error {
		return RunWorker(ctx)
	},
}

var workerFlags = []cli.Flag{
	&cli.IntFlag{
		Name:    "render-concurrency",
		Aliases: []string{"c"},
		Value:   0,
		Usage:   "Concurrent render jobs (0 uses METAVIS_WORKER_CONCURRENCY)",
		EnvVars: []string{"METAVIS_RENDER_CONCURRENCY"},
	},
	&cli.IntFlag{
		Name:    "tick-interval",
		Aliases: []string{"t"},
		Value:   0,
		Usage:   "Scheduler tick interval in milliseconds (0 uses METAVIS_TICK_INTERVAL_MS)",
		EnvVars: []string{"METAVIS_WORKER_TICK_INTERVAL_MS"},
	},
	&cli.IntFlag{
		Name:    "job-timeout",
		Value:   0,
		Usage:   "Per-job timeout in seconds (0 disables)",
		EnvVars: []string{"METAVIS_JOB_TIMEOUT_SECONDS"},
	},
	&cli.StringFlag{
		Name:    "asset-root",
		Usage:   "Directory asset ids resolve against",
		EnvVars: []string{"METAVIS_ASSET_ROOT"},
	},
}

func RunWorker(ctx *cli.Context) error {
	deferredStoreFuncs := initStores(ctx)
	for _, deferredFunc := range deferredStoreFuncs {
		defer deferredFunc()
	}

	renderConcurrency := ctx.Int("render-concurrency")
	if renderConcurrency == 0 {
		renderConcurrency = config.WorkerConcurrency
	}
	tickMS := ctx.Int("tick-interval")
	if tickMS == 0 {
		tickMS = config.TickIntervalMS
	}
	assetRoot := ctx.String("asset-root")
	if assetRoot == "" {
		assetRoot = config.AssetRoot
	}

	logging.Log.Infof("Starting worker with render concurrency %d", renderConcurrency)
	logging.Log.Infof("Asset root: %s", assetRoot)
	logging.Log.Infof("Texture pool budget: %d MB", config.PoolBudgetMB)

	// Explicitly constructed render substrate, injected into the workers.
	device := gpu.NewSoftwareDevice()
	defer device.Close()
	texPool := pool.New(device, config.PoolBudgetBytes())
	defer texPool.Purge()
	registry := kernels.NewBuiltinRegistry()
	assetManager := assets.NewFilesystemManager(assetRoot, device)

	sched := scheduler.New(store.AppStore, scheduler.Config{
		TickInterval: time.Duration(tickMS) * time.Millisecond,
		JobTimeout:   time.Duration(ctx.Int("job-timeout")) * time.Second,
	})
	sched.Register(worker.NewIngestWorker(assetManager), 1)
	sched.Register(worker.NewAnalysisWorker(texPool, registry, assetManager), 1)
	sched.Register(worker.NewGenerateWorker(texPool, registry, assetManager), 1)
	sched.Register(worker.NewRenderWorker(texPool, registry, assetManager), renderConcurrency)
	sched.Register(worker.NewExportWorker(), 1)

	metricsErr := metrics.StartServer(config.MetricsPort)
	logging.Log.Infof("Metrics listening on :%d", config.MetricsPort)

	runCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case received := <-sig:
			logging.Log.Infof("Received %s, shutting down", received)
			cancel()
		case err := <-metricsErr:
			logging.Log.WithError(err).Error("Metrics server failed")
			cancel()
		case <-runCtx.Done():
		}
	}()

	return sched.Run(runCtx)
}
