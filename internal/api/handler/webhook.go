package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prdflow/orchestrator/internal/domain"
	"github.com/prdflow/orchestrator/internal/logger"
	"github.com/prdflow/orchestrator/internal/repository"
	"github.com/prdflow/orchestrator/internal/service"
)

// WebhookHandler handles build job submissions.
type WebhookHandler struct {
	jobs   *repository.JobRepository
	notify *service.NotifyService
}

// NewWebhookHandler creates a new webhook handler.
// Parameters:
//   - jobs: job repository.
//   - notify: notify service for the initial queued message.
// Returns:
//   - *WebhookHandler: initialized handler.
func NewWebhookHandler(jobs *repository.JobRepository, notify *service.NotifyService) *WebhookHandler {
	return &WebhookHandler{jobs: jobs, notify: notify}
}

// WebhookRequest represents the job submission body.
type WebhookRequest struct {
	RepoURL     string         `json:"repo_url" binding:"required"`
	Branch      string         `json:"branch"`
	PRDPath     string         `json:"prd_path"`
	Mode        string         `json:"mode"`
	Metadata    domain.JSONMap `json:"metadata"`
	CallbackURL string         `json:"callback_url" binding:"omitempty,url"`
}

// Submit handles POST /webhook: validate, dedup against the active window,
// create the job, and fire the initial queued notification.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *WebhookHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid webhook request: client_ip=%s, error=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": err.Error()})
		return
	}

	if !isGitHubURL(req.RepoURL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": "repo_url must be a GitHub URL"})
		return
	}

	branch := req.Branch
	if branch == "" {
		branch = "main"
	}
	prdPath := req.PRDPath
	if prdPath == "" {
		prdPath = "docs/PRD.md"
	}
	mode := domain.JobMode(req.Mode)
	if req.Mode == "" {
		mode = domain.JobModeFullBuild
	}
	if !mode.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": "mode must be one of full-build, deploy-only, auto"})
		return
	}

	// An active job for the same tuple absorbs the submission.
	existing, err := h.jobs.FindActive(ctx, req.RepoURL, branch)
	if err != nil {
		logger.CtxError(ctx, "Dedup lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if existing != nil {
		logger.CtxInfo(ctx, "Deduplicated submission: job_id=%s, repo=%s@%s", existing.ID, req.RepoURL, branch)
		c.JSON(http.StatusOK, gin.H{
			"job_id":       existing.ID,
			"status":       existing.Status,
			"deduplicated": true,
		})
		return
	}

	job := &domain.Job{
		RepoURL:     req.RepoURL,
		Branch:      branch,
		PRDPath:     prdPath,
		Mode:        mode,
		Metadata:    req.Metadata,
		CallbackURL: req.CallbackURL,
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		logger.CtxError(ctx, "Job create failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	logger.CtxInfo(ctx, "Job created: job_id=%s, repo=%s@%s, mode=%s", job.ID, job.RepoURL, job.Branch, job.Mode)

	h.notify.SendBuildEvent(job.ID, domain.BuildStatusQueued, "Build queued", job.Metadata)

	c.JSON(http.StatusCreated, gin.H{
		"job_id": job.ID,
		"status": domain.JobStatusPending,
	})
}

// isGitHubURL reports whether the raw URL is an absolute GitHub repository URL.
func isGitHubURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "github.com" || host == "www.github.com"
}
