package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prdflow/orchestrator/internal/config"
	"github.com/prdflow/orchestrator/internal/domain"
	"github.com/prdflow/orchestrator/internal/repository"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:          "sqlite",
		URL:             t.TempDir() + "/orchestrator.db",
		MaxIdleConns:    1,
		MaxOpenConns:    1,
		ConnMaxLifetime: time.Minute,
		AutoMigrate:     true,
	})
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	return db
}

func newTestJob(t *testing.T, jobs *repository.JobRepository) *domain.Job {
	t.Helper()
	job := &domain.Job{
		RepoURL: "https://github.com/x/y",
		Branch:  "main",
		PRDPath: "docs/PRD.md",
		Mode:    domain.JobModeFullBuild,
	}
	if err := jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	return job
}

func TestEventTransitions(t *testing.T) {
	cases := []struct {
		event   string
		status  domain.BuildStatus
		message string
	}{
		{"worker_launched", domain.BuildStatusQueued, "Worker launched"},
		{"worker_started", domain.BuildStatusQueued, "Build starting..."},
		{"repo_cloned", domain.BuildStatusCloning, "Repository cloned"},
		{"prd_parsed", domain.BuildStatusBuilding, "PRD parsed, planning build..."},
		{"orchestrator_started", domain.BuildStatusBuilding, "Building application..."},
		{"orchestrator_complete", domain.BuildStatusBuilding, "Build complete, preparing for deployment..."},
		{"deploy_started", domain.BuildStatusDeploying, "Starting deployment..."},
		{"readiness_check", domain.BuildStatusDeploying, "Checking deployment readiness..."},
		{"readiness_passed", domain.BuildStatusDeploying, "Deployment readiness check passed"},
		{"readiness_fixing", domain.BuildStatusDeploying, "Fixing build issues before deployment..."},
		{"readiness_failed", domain.BuildStatusError, "Deployment readiness check failed"},
		{"deploy_verifying", domain.BuildStatusDeploying, "Verifying deployment..."},
		{"deployed", domain.BuildStatusDeployed, "Deployed successfully"},
		{"completed", domain.BuildStatusDeployed, "Build completed successfully"},
		{"build_complete", domain.BuildStatusDeployed, "Build completed successfully"},
		{"pr_created", domain.BuildStatusBuilding, "Pull request created"},
		{"build_failed", domain.BuildStatusFailed, "Build failed"},
		{"failed", domain.BuildStatusFailed, "Build failed"},
		{"launch_failed", domain.BuildStatusError, "Failed to launch build worker"},
	}

	if len(eventTransitions) != len(cases) {
		t.Fatalf("expected %d mapped events, got %d", len(cases), len(eventTransitions))
	}
	for _, tc := range cases {
		t.Run(tc.event, func(t *testing.T) {
			got, ok := eventTransitions[tc.event]
			if !ok {
				t.Fatalf("event %q has no mapping", tc.event)
			}
			if got.Status != tc.status || got.Message != tc.message {
				t.Errorf("expected (%s, %q), got (%s, %q)", tc.status, tc.message, got.Status, got.Message)
			}
		})
	}
}

func TestForwardRecordsBuildStatusAndPosts(t *testing.T) {
	db := newTestDB(t)
	jobs := repository.NewJobRepository(db)
	job := newTestJob(t, jobs)
	ctx := context.Background()

	received := make(chan BuildEventPayload, 1)
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/webhook/build-event" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		auth <- r.Header.Get("Authorization")
		var payload BuildEventPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notify := NewNotifyService(jobs, &config.NotifierConfig{URL: srv.URL, Bearer: "notifier-token"})

	if err := notify.Forward(ctx, job, "repo_cloned", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BuildStatus != domain.BuildStatusCloning {
		t.Errorf("expected build_status cloning, got %q", got.BuildStatus)
	}
	if got.BuildMessage != "Repository cloned" {
		t.Errorf("expected default message, got %q", got.BuildMessage)
	}

	select {
	case payload := <-received:
		if payload.JobID != job.ID {
			t.Errorf("expected job_id %s, got %s", job.ID, payload.JobID)
		}
		if payload.Status != domain.BuildStatusCloning {
			t.Errorf("expected status cloning, got %q", payload.Status)
		}
		if payload.Message != "Repository cloned" {
			t.Errorf("unexpected message %q", payload.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notifier post never arrived")
	}
	if got := <-auth; got != "Bearer notifier-token" {
		t.Errorf("expected bearer auth header, got %q", got)
	}
}

func TestForwardMessageOverride(t *testing.T) {
	db := newTestDB(t)
	jobs := repository.NewJobRepository(db)
	job := newTestJob(t, jobs)
	ctx := context.Background()

	notify := NewNotifyService(jobs, &config.NotifierConfig{})

	detail := domain.JSONMap{"message": "Cloned in 3s"}
	if err := notify.Forward(ctx, job, "repo_cloned", detail); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BuildMessage != "Cloned in 3s" {
		t.Errorf("expected override message, got %q", got.BuildMessage)
	}
}

func TestForwardIgnoresUnknownEvent(t *testing.T) {
	db := newTestDB(t)
	jobs := repository.NewJobRepository(db)
	job := newTestJob(t, jobs)
	ctx := context.Background()

	posts := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notify := NewNotifyService(jobs, &config.NotifierConfig{URL: srv.URL})

	if err := notify.Forward(ctx, job, "coffee_break", domain.JSONMap{"message": "ignored"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BuildStatus != domain.BuildStatusQueued {
		t.Errorf("expected build_status untouched, got %q", got.BuildStatus)
	}

	select {
	case <-posts:
		t.Fatal("unknown event must not reach the notifier")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSendBuildEventDisabledWithoutURL(t *testing.T) {
	db := newTestDB(t)
	jobs := repository.NewJobRepository(db)

	notify := NewNotifyService(jobs, &config.NotifierConfig{})
	// Must be a no-op, not a panic or a post to nowhere
	notify.SendBuildEvent("some-id", domain.BuildStatusQueued, "Build queued", nil)
}
