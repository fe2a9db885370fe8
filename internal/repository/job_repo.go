package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prdflow/orchestrator/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles job persistence. It is the only synchronization
// substrate in the system; every cross-component handoff goes through it.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// terminalStatuses are the states no transition may leave.
var terminalStatuses = []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusFailed}

// Create persists a new job with a server-generated id and queued build state.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job to persist; ID, Status, and BuildStatus are assigned here.
// Returns:
//   - error: non-nil if the insert fails.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = domain.JobStatusPending
	job.BuildStatus = domain.BuildStatusQueued
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.Job: job record if found.
//   - error: domain.ErrNotFound if absent, otherwise the query error.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// FindActive returns the most recently created pending or running job for the
// (repo_url, branch) tuple, used as the dedup window on webhook submission.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - repoURL: repository URL.
//   - branch: branch name.
// Returns:
//   - *domain.Job: active job, or nil when the window is empty.
//   - error: non-nil if the query fails.
func (r *JobRepository) FindActive(ctx context.Context, repoURL, branch string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).
		Where("repo_url = ? AND branch = ? AND status IN ?", repoURL, branch,
			[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusRunning}).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimNextPending atomically selects the oldest pending job and transitions
// it to running. The read-modify-write happens in a single conditional UPDATE
// round trip, so concurrent dispatcher replicas can never claim the same job:
// whichever statement commits first flips the status, and the loser's re-check
// of status = 'pending' matches zero rows.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - *domain.Job: the claimed job, already running, or nil when no job is pending.
//   - error: non-nil if the claim query fails.
func (r *JobRepository) ClaimNextPending(ctx context.Context) (*domain.Job, error) {
	var job domain.Job
	res := r.db.WithContext(ctx).Raw(`
		UPDATE jobs
		SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ?
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
		AND status = ?
		RETURNING *`,
		domain.JobStatusRunning, time.Now(),
		domain.JobStatusPending, domain.JobStatusPending,
	).Scan(&job)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to claim pending job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &job, nil
}

// CountRunning counts jobs currently in the running state.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: number of running jobs.
//   - error: non-nil if the query fails.
func (r *JobRepository) CountRunning(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("status = ?", domain.JobStatusRunning).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// SetExecutionID records the worker runtime execution handle. The write only
// lands while the column is still empty, so the id is set at most once.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - execID: execution identifier returned by the launcher.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) SetExecutionID(ctx context.Context, id, execID string) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND (worker_execution_id IS NULL OR worker_execution_id = '')", id).
		Update("worker_execution_id", execID).Error
}

// SetStatus writes the orchestration status and bumps updated_at. Transitions
// out of a terminal state are silently dropped; the caller only gets an error
// when the job does not exist.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - status: new orchestration status.
// Returns:
//   - error: domain.ErrNotFound if the job is absent, otherwise the update error.
func (r *JobRepository) SetStatus(ctx context.Context, id string, status domain.JobStatus) error {
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either terminal (noop per the monotonicity invariant) or missing.
		var count int64
		if err := r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
	}
	return nil
}

// Touch advances updated_at without any state change. Called on every event
// ingest so the stale-job sweep sees live workers as active.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) Touch(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

// SetBuildStatus writes the advisory build status and message.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - status: build status derived from the event mapping.
//   - message: human-readable progress message.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) SetBuildStatus(ctx context.Context, id string, status domain.BuildStatus, message string) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"build_status":  status,
			"build_message": message,
		}).Error
}

// SetPRURL records the pull request URL extracted from a pr_created event.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - prURL: pull request URL.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) SetPRURL(ctx context.Context, id, prURL string) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", id).
		Update("pr_url", prURL).Error
}

// SetDeployFacts records the deployment facts extracted from a deployed
// event. Empty values are skipped so partial detail never clears a fact.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - liveURL: public URL of the deployed application.
//   - siteID: deploy platform site identifier.
//   - dbProjectID: database platform project identifier.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) SetDeployFacts(ctx context.Context, id, liveURL, siteID, dbProjectID string) error {
	updates := map[string]interface{}{}
	if liveURL != "" {
		updates["live_url"] = liveURL
	}
	if siteID != "" {
		updates["deploy_site_id"] = siteID
	}
	if dbProjectID != "" {
		updates["db_project_id"] = dbProjectID
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// SweepStale fails every running job whose updated_at has not advanced within
// the threshold. Worker launch is fire-and-forget and terminal events can be
// lost, so this is the backstop that bounds stuck-job lifetime.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - threshold: maximum quiet interval before a running job counts as abandoned.
// Returns:
//   - int64: number of jobs transitioned to failed.
//   - error: non-nil if the update fails.
func (r *JobRepository) SweepStale(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := time.Now().Add(-threshold)
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("status = ? AND updated_at < ?", domain.JobStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":     domain.JobStatusFailed,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
