package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prdflow/orchestrator/internal/domain"
	"github.com/prdflow/orchestrator/internal/logger"
	"github.com/prdflow/orchestrator/internal/repository"
)

// StatusHandler serves the external poller view of a job.
type StatusHandler struct {
	jobs   *repository.JobRepository
	events *repository.JobEventRepository
}

// NewStatusHandler creates a new status handler.
// Parameters:
//   - jobs: job repository.
//   - events: event log repository.
// Returns:
//   - *StatusHandler: initialized handler.
func NewStatusHandler(jobs *repository.JobRepository, events *repository.JobEventRepository) *StatusHandler {
	return &StatusHandler{jobs: jobs, events: events}
}

// StatusResponse is the full job view returned to pollers.
type StatusResponse struct {
	JobID             string             `json:"job_id"`
	Status            domain.JobStatus   `json:"status"`
	BuildStatus       domain.BuildStatus `json:"build_status"`
	BuildMessage      string             `json:"build_message,omitempty"`
	RepoURL           string             `json:"repo_url"`
	Branch            string             `json:"branch"`
	PRDPath           string             `json:"prd_path"`
	Mode              domain.JobMode     `json:"mode"`
	WorkerExecutionID string             `json:"worker_execution_id,omitempty"`
	PRURL             string             `json:"pr_url,omitempty"`
	LiveURL           string             `json:"live_url,omitempty"`
	DeploySiteID      string             `json:"deploy_site_id,omitempty"`
	DBProjectID       string             `json:"db_project_id,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	Events            []domain.JobEvent  `json:"events"`
}

// Get handles GET /jobs/:id/status. Unauthenticated by design: job ids are
// unguessable and the view carries no secrets.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *StatusHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("id")

	job, err := h.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		logger.CtxError(ctx, "Status lookup failed: job_id=%s, error=%v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	events, err := h.events.ListByJob(ctx, jobID)
	if err != nil {
		logger.CtxError(ctx, "Event list failed: job_id=%s, error=%v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		JobID:             job.ID,
		Status:            job.Status,
		BuildStatus:       job.BuildStatus,
		BuildMessage:      job.BuildMessage,
		RepoURL:           job.RepoURL,
		Branch:            job.Branch,
		PRDPath:           job.PRDPath,
		Mode:              job.Mode,
		WorkerExecutionID: job.WorkerExecutionID,
		PRURL:             job.PRURL,
		LiveURL:           job.LiveURL,
		DeploySiteID:      job.DeploySiteID,
		DBProjectID:       job.DBProjectID,
		CreatedAt:         job.CreatedAt,
		UpdatedAt:         job.UpdatedAt,
		Events:            events,
	})
}
