package store

import (
	"context"

	"github.com/kaw393939/metavis/internal/store/models"
)

// AppStore is the process-wide store instance set during command startup.
var AppStore Store

// Store is the durable job queue: jobs plus their dependency edges, with
// transactional state transitions. Implementations must be safe for
// concurrent use; concurrent claimers must observe mutually exclusive
// claims.
type Store interface {
	Initialize() (deferredFunc func(), err error)

	// CreateJob atomically inserts the job and all of its dependency rows.
	// The job's status is set to Blocked when any dependency is not yet
	// Completed, else Pending.
	CreateJob(ctx context.Context, job *models.Job, deps []string) error

	// GetJobByID retrieves a job by its ID.
	GetJobByID(ctx context.Context, jobID string) (*models.Job, error)

	// ClaimNextReady atomically selects one Pending job of the given types
	// (any type when empty), ordered by priority DESC then created_at ASC,
	// transitions it to Running, and returns it. Returns ErrNotFound when no
	// job is ready.
	ClaimNextReady(ctx context.Context, types ...models.JobType) (*models.Job, error)

	// UpdateJob persists status, result, and error, stamping updated_at. On
	// a transition to Completed, dependents whose entire dependency set is
	// Completed are unblocked in the same transaction. The unblock is
	// idempotent. Attempts to move a job out of a terminal state return
	// ErrTerminalState.
	UpdateJob(ctx context.Context, job *models.Job) error

	// CancelJob transitions a Pending, Blocked, or Running job to Cancelled,
	// best-effort: a job that is already terminal is returned unchanged.
	CancelJob(ctx context.Context, jobID string) (*models.Job, error)

	// ListJobs retrieves jobs with optional filters ("status", "type") and
	// pagination, newest first.
	ListJobs(ctx context.Context, filters map[string]interface{}, limit, offset int) ([]models.Job, error)

	// ListDependencies returns the ids this job depends on.
	ListDependencies(ctx context.Context, jobID string) ([]string, error)

	// ListDependents returns the jobs that depend on the given job.
	ListDependents(ctx context.Context, jobID string) ([]models.Job, error)
}
