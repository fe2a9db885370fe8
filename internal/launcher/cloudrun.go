package launcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prdflow/orchestrator/internal/config"
	"github.com/prdflow/orchestrator/internal/domain"
	"github.com/prdflow/orchestrator/internal/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const cloudRunScope = "https://www.googleapis.com/auth/cloud-platform"

// CloudRun launches workers as Cloud Run Job executions via the Admin API.
// jobs:run is an asynchronous enqueue: the API acknowledges with a
// long-running operation and the container keeps running after we return.
type CloudRun struct {
	client          *resty.Client
	tokens          oauth2.TokenSource
	runURL          string
	orchestratorURL string
	webhookSecret   string
}

// NewCloudRun creates a Cloud Run Jobs launcher using application default
// credentials.
// Parameters:
//   - cfg: worker runtime configuration (project, region, job name).
//   - webhookSecret: shared secret handed to workers for callback auth.
// Returns:
//   - *CloudRun: initialized launcher.
//   - error: non-nil if default credentials cannot be resolved.
func NewCloudRun(cfg *config.WorkerConfig, webhookSecret string) (*CloudRun, error) {
	tokens, err := google.DefaultTokenSource(context.Background(), cloudRunScope)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve Cloud Run credentials: %w", err)
	}

	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	// Covers the acknowledge round trip only, never worker runtime
	client.SetTimeout(30 * time.Second)

	return &CloudRun{
		client: client,
		tokens: tokens,
		runURL: fmt.Sprintf("https://run.googleapis.com/v2/projects/%s/locations/%s/jobs/%s:run",
			cfg.Project, cfg.Region, cfg.JobName),
		orchestratorURL: cfg.OrchestratorURL,
		webhookSecret:   webhookSecret,
	}, nil
}

type runJobRequest struct {
	Overrides runJobOverrides `json:"overrides"`
}

type runJobOverrides struct {
	ContainerOverrides []containerOverride `json:"containerOverrides"`
}

type containerOverride struct {
	Env []envVar `json:"env"`
}

type envVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// runJobResponse is the long-running operation returned by jobs:run. The
// operation metadata carries the Execution resource name.
type runJobResponse struct {
	Name     string `json:"name"`
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
}

// Launch starts one Cloud Run Job execution carrying the job's environment
// contract and returns the execution identifier from the acknowledgement.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job to hand to the worker runtime.
// Returns:
//   - string: opaque execution identifier.
//   - error: non-nil if the runtime refuses the execution.
func (l *CloudRun) Launch(ctx context.Context, job *domain.Job) (string, error) {
	token, err := l.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("failed to mint Cloud Run token: %w", err)
	}

	env := workerEnv(job, l.orchestratorURL, l.webhookSecret)
	override := containerOverride{Env: make([]envVar, 0, len(env))}
	for name, value := range env {
		override.Env = append(override.Env, envVar{Name: name, Value: value})
	}

	var out runJobResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetAuthToken(token.AccessToken).
		SetBody(runJobRequest{Overrides: runJobOverrides{ContainerOverrides: []containerOverride{override}}}).
		SetResult(&out).
		Post(l.runURL)
	if err != nil {
		return "", fmt.Errorf("failed to launch worker: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("failed to launch worker: cloud run returned %d: %s", resp.StatusCode(), resp.String())
	}

	execID := executionID(out)
	logger.CtxInfo(ctx, "Worker launched: job_id=%s, execution_id=%s", job.ID, execID)
	return execID, nil
}

// executionID extracts the execution identifier from the run acknowledgement,
// preferring the Execution resource in the operation metadata.
func executionID(out runJobResponse) string {
	name := out.Metadata.Name
	if name == "" {
		name = out.Name
	}
	if idx := strings.LastIndex(name, "/"); idx != -1 {
		return name[idx+1:]
	}
	return name
}
