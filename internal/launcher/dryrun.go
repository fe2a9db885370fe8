package launcher

import (
	"context"

	"github.com/prdflow/orchestrator/internal/domain"
	"github.com/prdflow/orchestrator/internal/logger"
)

// DryRun is a launcher shim that never contacts a runtime. It logs the launch
// intent and returns a deterministic synthetic execution id, which makes
// local development and end-to-end tests possible without GCP credentials.
type DryRun struct{}

// NewDryRun creates a dry-run launcher.
func NewDryRun() *DryRun {
	return &DryRun{}
}

// Launch logs the intent and returns "dry-run-" followed by the first eight
// characters of the job id.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job that would have been handed to the runtime.
// Returns:
//   - string: deterministic synthetic execution identifier.
//   - error: always nil.
func (l *DryRun) Launch(ctx context.Context, job *domain.Job) (string, error) {
	short := job.ID
	if len(short) > 8 {
		short = short[:8]
	}
	execID := "dry-run-" + short
	logger.CtxInfo(ctx, "Dry-run launch: job_id=%s, repo=%s@%s, execution_id=%s",
		job.ID, job.RepoURL, job.Branch, execID)
	return execID, nil
}
