// Package scheduler drives the job queue: a tick loop that matches ready
// jobs to idle worker slots of the correct type, observes completion or
// failure, and writes the outcome back to the queue. Job-level failures
// never take the scheduler down; storage failures back the loop off.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/gammazero/workerpool"
	"github.com/kaw393939/metavis/internal/metrics"
	"github.com/kaw393939/metavis/internal/store"
	"github.com/kaw393939/metavis/internal/store/models"
	"github.com/kaw393939/metavis/internal/worker"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// Config tunes the tick loop.
type Config struct {
	// TickInterval is how long the loop sleeps when no work arrived.
	TickInterval time.Duration
	// JobTimeout bounds a single job execution; zero disables the bound.
	// Expiration triggers the job's cancellation handle.
	JobTimeout time.Duration
}

// registration is one worker type's execution capacity.
type registration struct {
	worker worker.Worker
	slots  int
}

// Scheduler matches ready jobs to workers. One scheduler owns a bounded
// dispatch pool sized to the sum of all registered slots.
type Scheduler struct {
	store  store.Store
	config Config
	logger *logrus.Entry

	mu       sync.Mutex
	registry map[models.JobType]*registration
	inFlight map[models.JobType]int
	handles  map[string]context.CancelFunc
	pool     *workerpool.WorkerPool
	wake     chan struct{}
}

// New creates a scheduler over the queue store.
func New(st store.Store, config Config) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = 250 * time.Millisecond
	}
	return &Scheduler{
		store:    st,
		config:   config,
		logger:   logging.Log.WithField("component", "scheduler"),
		registry: make(map[models.JobType]*registration),
		inFlight: make(map[models.JobType]int),
		handles:  make(map[string]context.CancelFunc),
		wake:     make(chan struct{}, 1),
	}
}

// Register adds a worker with the given number of concurrent slots.
// Must be called before Run.
func (s *Scheduler) Register(w worker.Worker, slots int) {
	if slots < 1 {
		slots = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[w.Type()] = &registration{worker: w, slots: slots}
	s.logger.WithFields(logrus.Fields{
		"type":  w.Type(),
		"slots": slots,
	}).Info("Registered worker")
}

// Run ticks until ctx is cancelled, then drains in-flight jobs. In-flight
// jobs observe shutdown through their cancellation handles and finish with
// a Cancelled writeback.
func (s *Scheduler) Run(ctx context.Context) error {
	total := 0
	s.mu.Lock()
	for jobType, reg := range s.registry {
		total += reg.slots
		metrics.SetWorkersActive(string(jobType), float64(reg.slots))
	}
	s.pool = workerpool.New(total)
	s.mu.Unlock()

	s.logger.WithField("slots", total).Info("Scheduler starting")
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-time.After(s.config.TickInterval):
		case <-s.wake:
		}
	}
}

// Cancel transitions the job to Cancelled in the queue and fires its
// cancellation handle if it is currently running here.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	if _, err := s.store.CancelJob(ctx, jobID); err != nil {
		return err
	}
	s.mu.Lock()
	cancel, ok := s.handles[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// tick claims and dispatches ready jobs until every slot is busy or the
// queue has nothing ready. Types are visited in a stable order.
func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	for _, jobType := range s.sortedTypes() {
		for s.freeSlots(jobType) > 0 {
			job, err := s.claim(ctx, jobType)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					s.logger.WithError(err).WithField("type", jobType).
						Warn("Claim failed; backing off until next tick")
				}
				break
			}
			s.dispatch(ctx, job)
		}
	}
}

// claim pulls the next ready job of the type, retrying transient storage
// failures with fibonacci backoff inside the tick.
func (s *Scheduler) claim(ctx context.Context, jobType models.JobType) (*models.Job, error) {
	var job *models.Job
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(50*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		claimed, err := s.store.ClaimNextReady(ctx, jobType)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return err
			}
			return retry.RetryableError(err)
		}
		job = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// dispatch hands the job to its worker on the pool.
func (s *Scheduler) dispatch(ctx context.Context, job *models.Job) {
	s.mu.Lock()
	reg := s.registry[job.Type]
	var jobCtx context.Context
	var cancel context.CancelFunc
	if s.config.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, s.config.JobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	s.handles[job.ID] = cancel
	s.inFlight[job.Type]++
	s.mu.Unlock()

	logger := s.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"type":   job.Type,
	})
	logger.Info("Dispatching job")

	s.pool.Submit(func() {
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.handles, job.ID)
			s.inFlight[job.Type]--
			s.mu.Unlock()
			select {
			case s.wake <- struct{}{}:
			default:
			}
		}()

		start := time.Now()
		progress := func(completed, total int) {
			logger.WithFields(logrus.Fields{
				"completed": completed,
				"total":     total,
			}).Debug("Job progress")
		}
		result, err := reg.worker.Execute(jobCtx, job, progress)
		s.complete(job, result, err, time.Since(start), logger)
	})
}

// complete writes the job outcome back to the queue. A cancelled execution
// maps to the Cancelled status rather than a failure; writing back a job
// the queue already cancelled is a no-op.
func (s *Scheduler) complete(job *models.Job, result []byte, execErr error, elapsed time.Duration, logger *logrus.Entry) {
	switch {
	case execErr == nil:
		job.Status = models.JobStatusCompleted
		job.Result = result
		job.Error = ""
	case errors.Is(execErr, worker.ErrCancelled) || errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded):
		job.Status = models.JobStatusCancelled
		job.Error = execErr.Error()
	default:
		job.Status = models.JobStatusFailed
		job.Error = execErr.Error()
	}

	// Writeback uses a fresh context: the job context may already be done.
	writeCtx, cancelWrite := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelWrite()
	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(100*time.Millisecond))
	err := retry.Do(writeCtx, backoff, func(ctx context.Context) error {
		if err := s.store.UpdateJob(ctx, job); err != nil {
			if errors.Is(err, store.ErrTerminalState) || errors.Is(err, store.ErrNotFound) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrTerminalState) {
		logger.WithError(err).Error("Failed to write back job outcome")
		return
	}

	metrics.JobsProcessed.WithLabelValues(string(job.Type), string(job.Status)).Inc()
	metrics.JobDuration.WithLabelValues(string(job.Type), string(job.Status)).Observe(elapsed.Seconds())
	logger.WithFields(logrus.Fields{
		"status":  job.Status,
		"elapsed": elapsed.String(),
	}).Info("Job finished")
}

// shutdown fires every in-flight handle and waits for the pool to drain.
func (s *Scheduler) shutdown() {
	s.mu.Lock()
	for _, cancel := range s.handles {
		cancel()
	}
	pool := s.pool
	types := make([]models.JobType, 0, len(s.registry))
	for jobType := range s.registry {
		types = append(types, jobType)
	}
	s.mu.Unlock()

	if pool != nil {
		pool.StopWait()
	}
	for _, jobType := range types {
		metrics.SetWorkersActive(string(jobType), 0)
	}
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) freeSlots(jobType models.JobType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registry[jobType]
	if !ok {
		return 0
	}
	return reg.slots - s.inFlight[jobType]
}

func (s *Scheduler) sortedTypes() []models.JobType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]models.JobType, 0, len(s.registry))
	for jobType := range s.registry {
		types = append(types, jobType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
