package domain

import "time"

// JobStatus represents the orchestration lifecycle of a build job.
// Values include JobStatusPending, JobStatusRunning, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether the status is a terminal orchestration state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobMode selects the build pipeline the worker runs. The orchestrator stores
// it and hands it to the worker; it never branches on it.
type JobMode string

const (
	JobModeFullBuild  JobMode = "full-build"
	JobModeDeployOnly JobMode = "deploy-only"
	JobModeAuto       JobMode = "auto"
)

// Valid reports whether the mode is one of the known pipeline modes.
func (m JobMode) Valid() bool {
	switch m {
	case JobModeFullBuild, JobModeDeployOnly, JobModeAuto:
		return true
	}
	return false
}

// Job represents one end-to-end build request tracked by the orchestrator.
type Job struct {
	ID      string  `gorm:"type:text;primaryKey" json:"id"`
	RepoURL string  `gorm:"type:text;not null;index:idx_jobs_repo_branch" json:"repo_url"`
	Branch  string  `gorm:"type:text;not null;index:idx_jobs_repo_branch;default:main" json:"branch"`
	PRDPath string  `gorm:"column:prd_path;type:text;not null" json:"prd_path"`
	Mode    JobMode `gorm:"type:text;default:full-build" json:"mode"`

	Status       JobStatus   `gorm:"type:text;index:idx_jobs_status;default:pending" json:"status"`
	BuildStatus  BuildStatus `gorm:"type:text;default:queued" json:"build_status"`
	BuildMessage string      `gorm:"type:text" json:"build_message,omitempty"`

	Metadata    JSONMap `gorm:"type:text" json:"metadata,omitempty"`
	CallbackURL string  `gorm:"type:text" json:"callback_url,omitempty"`

	// WorkerExecutionID is the opaque handle returned by the worker runtime.
	// Written at most once, on the pending -> running transition.
	WorkerExecutionID string `gorm:"type:text" json:"worker_execution_id,omitempty"`

	// Deployment facts extracted from pr_created and deployed events.
	PRURL        string `gorm:"column:pr_url;type:text" json:"pr_url,omitempty"`
	LiveURL      string `gorm:"type:text" json:"live_url,omitempty"`
	DeploySiteID string `gorm:"type:text" json:"deploy_site_id,omitempty"`
	DBProjectID  string `gorm:"column:db_project_id;type:text" json:"db_project_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index:idx_jobs_updated_at" json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// JobEvent is one append-only log record about a job's progress, reported by
// the worker or synthesized by the orchestrator. The auto-increment ID breaks
// created_at ties so the log reads back in insertion order.
type JobEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID     string    `gorm:"type:text;not null;index:idx_job_events_job_id" json:"job_id"`
	Job       *Job      `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE" json:"-"`
	Event     string    `gorm:"type:text;not null" json:"event"`
	Detail    JSONMap   `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for JobEvent.
func (JobEvent) TableName() string {
	return "job_events"
}
