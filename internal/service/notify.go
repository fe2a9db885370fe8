package service

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prdflow/orchestrator/internal/config"
	"github.com/prdflow/orchestrator/internal/domain"
	"github.com/prdflow/orchestrator/internal/logger"
	"github.com/prdflow/orchestrator/internal/repository"
)

// buildTransition is the build status and default message an event maps to.
type buildTransition struct {
	Status  domain.BuildStatus
	Message string
}

// eventTransitions is the canonical event -> (build_status, default message)
// table. Events missing from it are logged but never forwarded downstream.
var eventTransitions = map[string]buildTransition{
	"worker_launched":       {domain.BuildStatusQueued, "Worker launched"},
	"worker_started":        {domain.BuildStatusQueued, "Build starting..."},
	"repo_cloned":           {domain.BuildStatusCloning, "Repository cloned"},
	"prd_parsed":            {domain.BuildStatusBuilding, "PRD parsed, planning build..."},
	"orchestrator_started":  {domain.BuildStatusBuilding, "Building application..."},
	"orchestrator_complete": {domain.BuildStatusBuilding, "Build complete, preparing for deployment..."},
	"deploy_started":        {domain.BuildStatusDeploying, "Starting deployment..."},
	"readiness_check":       {domain.BuildStatusDeploying, "Checking deployment readiness..."},
	"readiness_passed":      {domain.BuildStatusDeploying, "Deployment readiness check passed"},
	"readiness_fixing":      {domain.BuildStatusDeploying, "Fixing build issues before deployment..."},
	"readiness_failed":      {domain.BuildStatusError, "Deployment readiness check failed"},
	"deploy_verifying":      {domain.BuildStatusDeploying, "Verifying deployment..."},
	"deployed":              {domain.BuildStatusDeployed, "Deployed successfully"},
	"completed":             {domain.BuildStatusDeployed, "Build completed successfully"},
	"build_complete":        {domain.BuildStatusDeployed, "Build completed successfully"},
	"pr_created":            {domain.BuildStatusBuilding, "Pull request created"},
	"build_failed":          {domain.BuildStatusFailed, "Build failed"},
	"failed":                {domain.BuildStatusFailed, "Build failed"},
	"launch_failed":         {domain.BuildStatusError, "Failed to launch build worker"},
}

// BuildEventPayload is the normalized build-progress message posted to the
// downstream notifier.
type BuildEventPayload struct {
	JobID    string             `json:"job_id"`
	Status   domain.BuildStatus `json:"status"`
	Message  string             `json:"message"`
	Metadata domain.JSONMap     `json:"metadata,omitempty"`
}

// NotifyService maps internal events onto build-status updates and fans them
// out to the downstream notifier endpoint.
type NotifyService struct {
	jobs   *repository.JobRepository
	client *resty.Client
	url    string
	bearer string
}

// NewNotifyService creates a new notify service.
// Parameters:
//   - jobs: job repository for build-status writes.
//   - cfg: downstream notifier endpoint configuration; empty URL disables fanout.
// Returns:
//   - *NotifyService: initialized service.
func NewNotifyService(jobs *repository.JobRepository, cfg *config.NotifierConfig) *NotifyService {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(10 * time.Second)

	return &NotifyService{
		jobs:   jobs,
		client: client,
		url:    cfg.URL,
		bearer: cfg.Bearer,
	}
}

// Forward resolves the event mapping, records the job's build status, and
// detaches the downstream post. Unknown events are ignored.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job the event belongs to.
//   - event: event tag.
//   - detail: event payload; a string-valued "message" key overrides the default.
// Returns:
//   - error: non-nil only if the build-status write fails.
func (s *NotifyService) Forward(ctx context.Context, job *domain.Job, event string, detail domain.JSONMap) error {
	transition, ok := eventTransitions[event]
	if !ok {
		logger.CtxDebug(ctx, "Event not forwarded (no mapping): job_id=%s, event=%s", job.ID, event)
		return nil
	}

	message := detail.String("message")
	if message == "" {
		message = transition.Message
	}

	if err := s.jobs.SetBuildStatus(ctx, job.ID, transition.Status, message); err != nil {
		return err
	}

	s.SendBuildEvent(job.ID, transition.Status, message, job.Metadata)
	return nil
}

// SendBuildEvent posts a build-progress payload to the downstream notifier on
// a detached goroutine. Failures are logged, never surfaced: a slow or broken
// downstream must not tie up the caller.
// Parameters:
//   - jobID: job the update is about.
//   - status: normalized build status.
//   - message: human-readable progress message.
//   - metadata: submitter metadata, forwarded verbatim.
// Returns: none.
func (s *NotifyService) SendBuildEvent(jobID string, status domain.BuildStatus, message string, metadata domain.JSONMap) {
	if s.url == "" {
		return
	}

	payload := BuildEventPayload{
		JobID:    jobID,
		Status:   status,
		Message:  message,
		Metadata: metadata,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := s.client.R().
			SetContext(ctx).
			SetAuthToken(s.bearer).
			SetBody(payload).
			Post(s.url + "/api/webhook/build-event")
		if err != nil {
			logger.CtxWarn(ctx, "Notifier post failed: job_id=%s, status=%s, error=%v", jobID, status, err)
			return
		}
		if resp.IsError() {
			logger.CtxWarn(ctx, "Notifier post rejected: job_id=%s, status=%s, http_status=%d",
				jobID, status, resp.StatusCode())
		}
	}()
}
