package launcher

import (
	"context"

	"github.com/prdflow/orchestrator/internal/config"
	"github.com/prdflow/orchestrator/internal/domain"
)

// Launcher hands a job descriptor to the external worker runtime. Launch must
// return as soon as the runtime acknowledges acceptance; the worker itself
// runs for tens of minutes to hours and its terminal state is inferred from
// callback events, never awaited here.
type Launcher interface {
	// Launch starts a worker execution for the job and returns its opaque
	// execution identifier.
	Launch(ctx context.Context, job *domain.Job) (string, error)
}

// New creates a launcher from configuration: the Cloud Run Jobs client, or
// the dry-run shim when cfg.DryRun is set.
// Parameters:
//   - cfg: worker runtime configuration.
//   - webhookSecret: shared secret handed to workers for callback auth.
// Returns:
//   - Launcher: configured launcher.
//   - error: non-nil if runtime credentials cannot be resolved.
func New(cfg *config.WorkerConfig, webhookSecret string) (Launcher, error) {
	if cfg.DryRun {
		return NewDryRun(), nil
	}
	return NewCloudRun(cfg, webhookSecret)
}

// workerEnv builds the container environment contract for a launched worker.
func workerEnv(job *domain.Job, orchestratorURL, webhookSecret string) map[string]string {
	return map[string]string{
		"JOB_ID":           job.ID,
		"REPO_URL":         job.RepoURL,
		"BRANCH":           job.Branch,
		"PRD_PATH":         job.PRDPath,
		"MODE":             string(job.Mode),
		"ORCHESTRATOR_URL": orchestratorURL,
		"WEBHOOK_SECRET":   webhookSecret,
	}
}
