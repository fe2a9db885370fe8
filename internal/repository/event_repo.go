package repository

import (
	"context"
	"fmt"

	"github.com/prdflow/orchestrator/internal/domain"
	"gorm.io/gorm"
)

// JobEventRepository handles the append-only job event log.
type JobEventRepository struct {
	db *gorm.DB
}

// NewJobEventRepository creates a new JobEventRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobEventRepository: repository instance bound to db.
func NewJobEventRepository(db *gorm.DB) *JobEventRepository {
	return &JobEventRepository{db: db}
}

// Append inserts one event log record for a job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job the event belongs to.
//   - event: non-empty event tag.
//   - detail: optional opaque payload, preserved verbatim.
// Returns:
//   - *domain.JobEvent: the persisted event.
//   - error: domain.ErrNotFound when the job does not exist, otherwise the insert error.
func (r *JobEventRepository) Append(ctx context.Context, jobID, event string, detail domain.JSONMap) (*domain.JobEvent, error) {
	// The foreign key also enforces this, but the explicit check keeps the
	// error distinguishable across drivers.
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", jobID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, domain.ErrNotFound
	}

	ev := &domain.JobEvent{
		JobID:  jobID,
		Event:  event,
		Detail: detail,
	}
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	return ev, nil
}

// ListByJob returns a job's events in ingest order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job to list events for.
// Returns:
//   - []domain.JobEvent: events ordered by created_at, ties broken by id.
//   - error: non-nil if the query fails.
func (r *JobEventRepository) ListByJob(ctx context.Context, jobID string) ([]domain.JobEvent, error) {
	var events []domain.JobEvent
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC, id ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
