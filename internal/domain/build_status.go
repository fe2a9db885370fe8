package domain

// BuildStatus is the fine-grained worker-facing state derived from callback
// events. It is advisory only; the orchestration lifecycle lives in JobStatus.
type BuildStatus string

const (
	BuildStatusQueued     BuildStatus = "queued"
	BuildStatusCloning    BuildStatus = "cloning"
	BuildStatusInstalling BuildStatus = "installing"
	BuildStatusBuilding   BuildStatus = "building"
	BuildStatusTesting    BuildStatus = "testing"
	BuildStatusDeploying  BuildStatus = "deploying"
	BuildStatusDeployed   BuildStatus = "deployed"
	BuildStatusCompleted  BuildStatus = "completed"
	BuildStatusError      BuildStatus = "error"
	BuildStatusFailed     BuildStatus = "failed"
	BuildStatusCancelled  BuildStatus = "cancelled"
)
