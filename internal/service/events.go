package service

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prdflow/orchestrator/internal/domain"
	"github.com/prdflow/orchestrator/internal/logger"
	"github.com/prdflow/orchestrator/internal/repository"
)

// CallbackPayload is the per-job callback body posted to a submitter's
// callback_url for every ingested event.
type CallbackPayload struct {
	JobID  string         `json:"job_id"`
	Event  string         `json:"event"`
	Detail domain.JSONMap `json:"detail,omitempty"`
}

// EventService advances job state from asynchronous worker callbacks: it
// appends to the event log, extracts structured deployment facts from
// free-form detail, applies terminal transitions, and fans out notifications.
type EventService struct {
	jobs   *repository.JobRepository
	events *repository.JobEventRepository
	notify *NotifyService
	client *resty.Client
}

// NewEventService creates a new event ingestion service.
// Parameters:
//   - jobs: job repository.
//   - events: event log repository.
//   - notify: notify service for downstream fanout.
// Returns:
//   - *EventService: initialized service.
func NewEventService(jobs *repository.JobRepository, events *repository.JobEventRepository, notify *NotifyService) *EventService {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(10 * time.Second)

	return &EventService{
		jobs:   jobs,
		events: events,
		notify: notify,
		client: client,
	}
}

// Ingest records one worker callback event and applies its side effects.
// The append and the updated_at bump happen for every event; fact extraction
// and terminal transitions only for the events that carry them.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job the event belongs to.
//   - event: non-empty event tag.
//   - detail: optional opaque payload.
// Returns:
//   - *domain.Job: the job as loaded before the event was applied.
//   - error: domain.ErrNotFound if the job is absent, otherwise the first store error.
func (s *EventService) Ingest(ctx context.Context, jobID, event string, detail domain.JSONMap) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if _, err := s.events.Append(ctx, jobID, event, detail); err != nil {
		return nil, err
	}

	// Feeds the stale sweep: every event counts as a liveness signal.
	if err := s.jobs.Touch(ctx, jobID); err != nil {
		return nil, err
	}

	switch event {
	case "pr_created":
		if prURL := detail.String("pr_url"); prURL != "" {
			if err := s.jobs.SetPRURL(ctx, jobID, prURL); err != nil {
				return nil, err
			}
		}
	case "deployed":
		if err := s.jobs.SetDeployFacts(ctx, jobID,
			detail.String("live_url"),
			detail.String("netlify_site_id"),
			detail.String("neon_project_id"),
		); err != nil {
			return nil, err
		}
	case "failed", "build_failed":
		if err := s.jobs.SetStatus(ctx, jobID, domain.JobStatusFailed); err != nil {
			return nil, err
		}
	case "completed", "build_complete":
		if err := s.jobs.SetStatus(ctx, jobID, domain.JobStatusCompleted); err != nil {
			return nil, err
		}
	}

	if err := s.notify.Forward(ctx, job, event, detail); err != nil {
		logger.CtxWarn(ctx, "Build status forward failed: job_id=%s, event=%s, error=%v", jobID, event, err)
	}

	if job.CallbackURL != "" {
		s.postCallback(job.CallbackURL, CallbackPayload{JobID: jobID, Event: event, Detail: detail})
	}

	return job, nil
}

// postCallback posts the event to the submitter's callback URL on a detached
// goroutine. Failures are logged, never surfaced.
func (s *EventService) postCallback(url string, payload CallbackPayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := s.client.R().
			SetContext(ctx).
			SetBody(payload).
			Post(url)
		if err != nil {
			logger.CtxWarn(ctx, "Job callback failed: job_id=%s, event=%s, error=%v", payload.JobID, payload.Event, err)
			return
		}
		if resp.IsError() {
			logger.CtxWarn(ctx, "Job callback rejected: job_id=%s, event=%s, http_status=%d",
				payload.JobID, payload.Event, resp.StatusCode())
		}
	}()
}
