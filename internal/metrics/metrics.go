package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	// Job metrics
	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metavis_jobs_submitted_total",
			Help: "Total number of jobs submitted",
		},
		[]string{"type"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metavis_jobs_processed_total",
			Help: "Total number of jobs processed",
		},
		[]string{"type", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metavis_job_duration_seconds",
			Help:    "Time taken to process a job",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16), // 100ms to ~55 minutes
		},
		[]string{"type", "status"},
	)

	// Render metrics
	FramesRendered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metavis_frames_rendered_total",
			Help: "Total number of frames executed through the graph executor",
		},
	)

	RenderWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metavis_render_warnings_total",
			Help: "Executor warnings by kind",
		},
		[]string{"kind"},
	)

	// Texture pool metrics
	PoolBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metavis_texture_pool_bytes",
			Help: "Accounted bytes of live textures, idle and acquired",
		},
	)

	PoolTextures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metavis_texture_pool_idle_textures",
			Help: "Idle textures retained for reuse",
		},
	)

	// Worker metrics
	WorkersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "metavis_workers_active",
			Help: "Number of active worker slots",
		},
		[]string{"type"},
	)
)

// SetWorkersActive sets the active worker slot gauge for a job type.
func SetWorkersActive(jobType string, count float64) {
	WorkersActive.WithLabelValues(jobType).Set(count)
}

// Handler returns the HTTP handler serving /metrics and /healthz.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// StartServer starts the metrics endpoint once, in the background. Serve
// errors are delivered on the returned channel.
func StartServer(port int) <-chan error {
	errCh := make(chan error, 1)
	once.Do(func() {
		go func() {
			errCh <- http.ListenAndServe(fmt.Sprintf(":%d", port), Handler())
		}()
	})
	return errCh
}
