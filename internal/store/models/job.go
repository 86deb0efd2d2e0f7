package models

import (
	"time"
)

// JobType discriminates which worker family processes a job.
type JobType string

const (
	JobTypeIngest   JobType = "ingest"
	JobTypeAnalysis JobType = "analysis"
	JobTypeGenerate JobType = "generate"
	JobTypeRender   JobType = "render"
	JobTypeExport   JobType = "export"
)

// JobStatus is the job's position in its lifecycle. Completed, Failed, and
// Cancelled are terminal: no transition ever leaves them.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusBlocked   JobStatus = "blocked"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// TerminalStatuses lists the states a job never leaves.
var TerminalStatuses = []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}

// Job is one unit of pipeline work persisted in the queue. Payload is a
// versioned, self-describing blob the queue never interprets beyond the type
// discriminator; workers decode their own payloads. Result and Error are
// written back when the job finishes. Completed jobs are retained for audit.
type Job struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	Type      JobType   `gorm:"type:text;not null;index:idx_jobs_claim,priority:2" json:"type"`
	Status    JobStatus `gorm:"type:text;not null;default:'pending';index:idx_jobs_claim,priority:1;check:status IN ('pending', 'blocked', 'running', 'completed', 'failed', 'cancelled')" json:"status"`
	Priority  int       `gorm:"not null;default:0" json:"priority"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;not null" json:"updated_at"`
	Payload   []byte    `json:"payload,omitempty"`
	Result    []byte    `json:"result,omitempty"`
	Error     string    `gorm:"type:text" json:"error,omitempty"`
}

// TableName specifies the table name for the model
func (Job) TableName() string {
	return "jobs"
}

// IsTerminal returns true if the job has finished (success, failure, or
// cancellation).
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// CanBeCancelled returns true if the job can still be cancelled.
func (j *Job) CanBeCancelled() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusBlocked || j.Status == JobStatusRunning
}

// JobDependency is one edge of the job DAG: JobID cannot run until
// DependsOnID has completed. Edges are removed with their jobs.
type JobDependency struct {
	JobID       string `gorm:"primaryKey;type:uuid" json:"job_id"`
	DependsOnID string `gorm:"primaryKey;type:uuid;index" json:"depends_on_id"`

	// Relationships
	Job       *Job `gorm:"foreignKey:JobID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	DependsOn *Job `gorm:"foreignKey:DependsOnID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for the model
func (JobDependency) TableName() string {
	return "job_dependencies"
}
