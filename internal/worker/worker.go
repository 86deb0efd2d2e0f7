// Package worker implements the worker runtime: a uniform execution
// abstraction over the job types, the versioned payload codec, and the
// concrete ingest, analysis, generate, render, and export workers.
package worker

import (
	"context"
	"errors"

	"github.com/kaw393939/metavis/internal/store/models"
)

// ErrCancelled is returned by a worker that observed cancellation at a
// suspension point. Cancellation is terminal but not an error condition;
// the scheduler maps it to the Cancelled status.
var ErrCancelled = errors.New("job cancelled")

// ProgressFunc receives completed/total progress updates. Implementations
// must be cheap; workers call it from their frame loop.
type ProgressFunc func(completed, total int)

// NopProgress discards progress updates.
func NopProgress(completed, total int) {}

// Worker executes jobs of a single type. Execute returns the job's result
// blob on success. Workers observe cancellation through ctx at their
// documented suspension points (between frames, between batches) and must
// not leave partial outputs visible at any documented output path.
type Worker interface {
	Type() models.JobType
	Execute(ctx context.Context, job *models.Job, progress ProgressFunc) ([]byte, error)
}

// cancelled reports whether ctx has been signalled. Workers call this at
// suspension points only.
func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
