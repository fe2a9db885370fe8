package service

import (
	"context"
	"time"

	"github.com/prdflow/orchestrator/internal/domain"
	"github.com/prdflow/orchestrator/internal/launcher"
	"github.com/prdflow/orchestrator/internal/logger"
	"github.com/prdflow/orchestrator/internal/repository"
)

// DispatchService is the periodic loop that promotes pending jobs: gate on
// the global concurrency cap, claim the oldest pending job, launch a worker,
// record the outcome. One job per tick; back-pressure comes from loop
// cadence, not batch size. Concurrent replicas are safe because the claim is
// atomic in the store.
type DispatchService struct {
	jobs     *repository.JobRepository
	events   *repository.JobEventRepository
	notify   *NotifyService
	launcher launcher.Launcher

	interval time.Duration
	maxJobs  int
}

// NewDispatchService creates a new dispatcher.
// Parameters:
//   - jobs: job repository.
//   - events: event log repository.
//   - notify: notify service for launch outcome fanout.
//   - l: worker launcher.
//   - interval: tick period.
//   - maxJobs: global running-job cap.
// Returns:
//   - *DispatchService: initialized dispatcher.
func NewDispatchService(
	jobs *repository.JobRepository,
	events *repository.JobEventRepository,
	notify *NotifyService,
	l launcher.Launcher,
	interval time.Duration,
	maxJobs int,
) *DispatchService {
	return &DispatchService{
		jobs:     jobs,
		events:   events,
		notify:   notify,
		launcher: l,
		interval: interval,
		maxJobs:  maxJobs,
	}
}

// Run ticks until the context is cancelled. The ticker serializes ticks
// within a replica; a tick that overruns the period simply delays the next.
// Parameters:
//   - ctx: context whose cancellation stops the loop.
// Returns: none.
func (s *DispatchService) Run(ctx context.Context) {
	ctx = logger.SetComponent(ctx, "dispatcher")
	logger.CtxInfo(ctx, "Dispatcher started: interval=%s, max_concurrent=%d", s.interval, s.maxJobs)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.CtxInfo(ctx, "Dispatcher stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one dispatch attempt. It never panics out and never returns
// an error: a store or launcher outage makes the tick a logged no-op until
// the dependency recovers.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns: none.
func (s *DispatchService) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.CtxError(ctx, "Dispatcher tick panic: %v", r)
		}
	}()

	running, err := s.jobs.CountRunning(ctx)
	if err != nil {
		logger.CtxWarn(ctx, "Dispatcher count failed: %v", err)
		return
	}
	if running >= int64(s.maxJobs) {
		logger.CtxDebug(ctx, "Dispatcher at capacity: running=%d, max=%d", running, s.maxJobs)
		return
	}

	job, err := s.jobs.ClaimNextPending(ctx)
	if err != nil {
		logger.CtxWarn(ctx, "Dispatcher claim failed: %v", err)
		return
	}
	if job == nil {
		return
	}

	ctx = logger.SetJobID(ctx, job.ID)
	logger.CtxInfo(ctx, "Claimed job: repo=%s@%s", job.RepoURL, job.Branch)

	execID, err := s.launcher.Launch(ctx, job)
	if err != nil {
		s.recordLaunchFailure(ctx, job, err)
		return
	}

	if err := s.jobs.SetExecutionID(ctx, job.ID, execID); err != nil {
		logger.CtxError(ctx, "Failed to record execution id: execution_id=%s, error=%v", execID, err)
	}
	if _, err := s.events.Append(ctx, job.ID, "worker_launched", domain.JSONMap{"execution_id": execID}); err != nil {
		logger.CtxError(ctx, "Failed to append worker_launched event: %v", err)
	}
	if err := s.notify.Forward(ctx, job, "worker_launched", nil); err != nil {
		logger.CtxWarn(ctx, "Build status forward failed: event=worker_launched, error=%v", err)
	}
}

// recordLaunchFailure fails the job and logs the launch_failed event. Launch
// errors are never surfaced to any HTTP caller; the webhook that created the
// job returned long ago.
func (s *DispatchService) recordLaunchFailure(ctx context.Context, job *domain.Job, launchErr error) {
	logger.CtxError(ctx, "Worker launch failed: %v", launchErr)

	if err := s.jobs.SetStatus(ctx, job.ID, domain.JobStatusFailed); err != nil {
		logger.CtxError(ctx, "Failed to mark job failed: %v", err)
	}
	if _, err := s.events.Append(ctx, job.ID, "launch_failed", domain.JSONMap{"error": launchErr.Error()}); err != nil {
		logger.CtxError(ctx, "Failed to append launch_failed event: %v", err)
	}
	if err := s.notify.Forward(ctx, job, "launch_failed", nil); err != nil {
		logger.CtxWarn(ctx, "Build status forward failed: event=launch_failed, error=%v", err)
	}
}
