package gorm_store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kaw393939/metavis/internal/store"
	"github.com/kaw393939/metavis/internal/store/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateJob atomically inserts the job and its dependency rows. Status is
// derived from the dependency set: Blocked while any dependency is not yet
// Completed, else Pending.
func (s *GormDbStore) CreateJob(ctx context.Context, job *models.Job, deps []string) error {
	if job.ID == "" {
		return fmt.Errorf("%w: job id is required", store.ErrInvalidInput)
	}
	if !isValidUUID(job.ID) {
		return fmt.Errorf("%w: job id %q is not a uuid", store.ErrInvalidInput, job.ID)
	}
	for _, dep := range deps {
		if dep == job.ID {
			return fmt.Errorf("%w: job %s cannot depend on itself", store.ErrInvalidInput, job.ID)
		}
	}

	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(deps) == 0 {
			job.Status = models.JobStatusPending
		} else {
			var depJobs []models.Job
			if err := tx.Where("id IN ?", deps).Find(&depJobs).Error; err != nil {
				return fmt.Errorf("failed to load dependencies: %w", err)
			}
			if len(depJobs) != len(uniqueStrings(deps)) {
				return fmt.Errorf("%w: dependency job missing", store.ErrNotFound)
			}
			job.Status = models.JobStatusPending
			for _, dep := range depJobs {
				if dep.Status != models.JobStatusCompleted {
					job.Status = models.JobStatusBlocked
					break
				}
			}
		}

		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}
		for _, dep := range uniqueStrings(deps) {
			row := models.JobDependency{JobID: job.ID, DependsOnID: dep}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create dependency %s -> %s: %w", job.ID, dep, err)
			}
		}
		return nil
	})
}

// GetJobByID retrieves a job by its ID.
func (s *GormDbStore) GetJobByID(ctx context.Context, jobID string) (*models.Job, error) {
	if !isValidUUID(jobID) {
		return nil, store.ErrNotFound
	}

	var job models.Job
	if err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return &job, nil
}

// ClaimNextReady atomically claims one ready job. The select and the
// Pending -> Running transition happen in one transaction; the transition is
// guarded on the previous status so two claimers can never observe the same
// job Running. On postgres, SKIP LOCKED keeps concurrent claimers from
// serializing on the same row.
func (s *GormDbStore) ClaimNextReady(ctx context.Context, types ...models.JobType) (*models.Job, error) {
	var claimed *models.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("status = ?", models.JobStatusPending)
		if len(types) > 0 {
			query = query.Where("type IN ?", types)
		}
		if s.isPostgres() {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var job models.Job
		if err := query.Order("priority DESC, created_at ASC, id ASC").First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return fmt.Errorf("failed to select ready job: %w", err)
		}

		now := time.Now().UTC()
		result := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     models.JobStatusRunning,
				"updated_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to claim job %s: %w", job.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			// Lost the race to a concurrent claimer.
			return store.ErrNotFound
		}
		job.Status = models.JobStatusRunning
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// UpdateJob persists status, result, and error. A transition to Completed
// unblocks dependents whose entire dependency set is Completed, in the same
// transaction. Repeating a terminal update is a no-op for the job row and
// re-runs only the idempotent unblock. Changing a terminal job to a
// different status returns ErrTerminalState.
func (s *GormDbStore) UpdateJob(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Job{}).
			Where("id = ? AND status NOT IN ?", job.ID, models.TerminalStatuses).
			Updates(map[string]interface{}{
				"status":     job.Status,
				"result":     job.Result,
				"error":      job.Error,
				"updated_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update job %s: %w", job.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			var current models.Job
			if err := tx.Where("id = ?", job.ID).First(&current).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return store.ErrNotFound
				}
				return fmt.Errorf("failed to load job %s: %w", job.ID, err)
			}
			if current.Status != job.Status {
				return fmt.Errorf("%w: job %s is %s", store.ErrTerminalState, job.ID, current.Status)
			}
			// Re-applying the same terminal update; fall through so the
			// unblock below stays idempotent.
		}
		job.UpdatedAt = now

		if job.Status == models.JobStatusCompleted {
			return s.unblockDependents(tx, job.ID, now)
		}
		return nil
	})
}

// unblockDependents transitions every dependent of the just-completed job
// whose remaining dependency set is all Completed from Blocked to Pending.
// The transition is guarded on Blocked, so repeating it has no effect.
func (s *GormDbStore) unblockDependents(tx *gorm.DB, completedID string, now time.Time) error {
	var edges []models.JobDependency
	if err := tx.Where("depends_on_id = ?", completedID).Find(&edges).Error; err != nil {
		return fmt.Errorf("failed to load dependents of %s: %w", completedID, err)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].JobID < edges[j].JobID })

	for _, edge := range edges {
		var remaining int64
		err := tx.Table("job_dependencies").
			Joins("JOIN jobs ON jobs.id = job_dependencies.depends_on_id").
			Where("job_dependencies.job_id = ? AND jobs.status <> ?", edge.JobID, models.JobStatusCompleted).
			Count(&remaining).Error
		if err != nil {
			return fmt.Errorf("failed to count remaining dependencies of %s: %w", edge.JobID, err)
		}
		if remaining > 0 {
			continue
		}
		result := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", edge.JobID, models.JobStatusBlocked).
			Updates(map[string]interface{}{
				"status":     models.JobStatusPending,
				"updated_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to unblock job %s: %w", edge.JobID, result.Error)
		}
	}
	return nil
}

// CancelJob transitions a cancellable job to Cancelled. Terminal jobs are
// returned unchanged; cancellation is best-effort and running workers
// observe it through their cancellation handle.
func (s *GormDbStore) CancelJob(ctx context.Context, jobID string) (*models.Job, error) {
	if !isValidUUID(jobID) {
		return nil, store.ErrNotFound
	}
	var cancelled *models.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return fmt.Errorf("failed to load job %s: %w", jobID, err)
		}
		if job.IsTerminal() {
			cancelled = &job
			return nil
		}
		now := time.Now().UTC()
		result := tx.Model(&models.Job{}).
			Where("id = ? AND status NOT IN ?", jobID, models.TerminalStatuses).
			Updates(map[string]interface{}{
				"status":     models.JobStatusCancelled,
				"updated_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to cancel job %s: %w", jobID, result.Error)
		}
		if result.RowsAffected > 0 {
			job.Status = models.JobStatusCancelled
			job.UpdatedAt = now
		}
		cancelled = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// ListJobs retrieves jobs with optional filters and pagination
func (s *GormDbStore) ListJobs(ctx context.Context, filters map[string]interface{}, limit, offset int) ([]models.Job, error) {
	var jobs []models.Job

	query := s.db.WithContext(ctx).Model(&models.Job{})
	for key, value := range filters {
		switch key {
		case "status":
			query = query.Where("status = ?", value)
		case "type":
			query = query.Where("type = ?", value)
		}
	}
	query = query.Order("created_at DESC, id DESC").Limit(limit).Offset(offset)

	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListDependencies returns the ids the given job depends on, sorted.
func (s *GormDbStore) ListDependencies(ctx context.Context, jobID string) ([]string, error) {
	var edges []models.JobDependency
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Find(&edges).Error; err != nil {
		return nil, fmt.Errorf("failed to list dependencies of %s: %w", jobID, err)
	}
	ids := make([]string, 0, len(edges))
	for _, edge := range edges {
		ids = append(ids, edge.DependsOnID)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListDependents returns the jobs that depend on the given job.
func (s *GormDbStore) ListDependents(ctx context.Context, jobID string) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).Model(&models.Job{}).
		Joins("JOIN job_dependencies ON job_dependencies.job_id = jobs.id").
		Where("job_dependencies.depends_on_id = ?", jobID).
		Order("jobs.created_at ASC, jobs.id ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list dependents of %s: %w", jobID, err)
	}
	return jobs, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
