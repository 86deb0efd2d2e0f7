package config

import (
	"github.com/catalystcommunity/app-utils-go/env"
)

var (
	// DbUri is the job queue connection string. postgres:// URIs use the
	// postgres driver; anything else is treated as a sqlite database path.
	DbUri = env.GetEnvOrDefault("METAVIS_DB_URI", "metavis.db")

	// MetricsPort is the port the worker command serves /metrics and /healthz on
	MetricsPort = env.GetEnvAsIntOrDefault("METAVIS_METRICS_PORT", "9182")

	// Texture pool settings
	PoolBudgetMB = env.GetEnvAsIntOrDefault("METAVIS_POOL_BUDGET_MB", "512")

	// Default render settings
	DefaultBaseWidth  = env.GetEnvAsIntOrDefault("METAVIS_BASE_WIDTH", "1920")
	DefaultBaseHeight = env.GetEnvAsIntOrDefault("METAVIS_BASE_HEIGHT", "1080")
	DefaultFPS        = env.GetEnvAsIntOrDefault("METAVIS_FPS", "30")

	// ProgressEveryFrames is how often render workers report progress
	ProgressEveryFrames = env.GetEnvAsIntOrDefault("METAVIS_PROGRESS_EVERY_FRAMES", "24")

	// AssetRoot is the directory the filesystem asset manager resolves asset ids against
	AssetRoot = env.GetEnvOrDefault("METAVIS_ASSET_ROOT", "./assets")

	// Scheduler settings
	TickIntervalMS    = env.GetEnvAsIntOrDefault("METAVIS_TICK_INTERVAL_MS", "250")
	WorkerConcurrency = env.GetEnvAsIntOrDefault("METAVIS_WORKER_CONCURRENCY", "2")
)

// PoolBudgetBytes returns the configured texture pool budget in bytes.
func PoolBudgetBytes() uint64 {
	return uint64(PoolBudgetMB) << 20
}
