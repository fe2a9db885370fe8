package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prdflow/orchestrator/internal/config"
	"github.com/prdflow/orchestrator/internal/domain"
	"github.com/prdflow/orchestrator/internal/repository"
)

func newTestEventService(t *testing.T) (*EventService, *repository.JobRepository, *repository.JobEventRepository) {
	t.Helper()
	db := newTestDB(t)
	jobs := repository.NewJobRepository(db)
	events := repository.NewJobEventRepository(db)
	notify := NewNotifyService(jobs, &config.NotifierConfig{})
	return NewEventService(jobs, events, notify), jobs, events
}

func TestIngestAppendsAndTouches(t *testing.T) {
	svc, jobs, events := newTestEventService(t)
	ctx := context.Background()

	job := newTestJob(t, jobs)

	if _, err := svc.Ingest(ctx, job.ID, "worker_started", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log, err := events.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(log) != 1 || log[0].Event != "worker_started" {
		t.Fatalf("expected worker_started event, got %+v", log)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.JobStatusPending {
		t.Errorf("progress event must not change status, got %q", got.Status)
	}
	if got.BuildStatus != domain.BuildStatusQueued || got.BuildMessage != "Build starting..." {
		t.Errorf("unexpected build status %q / %q", got.BuildStatus, got.BuildMessage)
	}
}

func TestIngestUnknownJob(t *testing.T) {
	svc, _, _ := newTestEventService(t)

	_, err := svc.Ingest(context.Background(), "no-such-job", "worker_started", nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIngestPRCreatedExtractsURL(t *testing.T) {
	svc, jobs, _ := newTestEventService(t)
	ctx := context.Background()

	job := newTestJob(t, jobs)

	detail := domain.JSONMap{"pr_url": "https://github.com/x/y/pull/7"}
	if _, err := svc.Ingest(ctx, job.ID, "pr_created", detail); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PRURL != "https://github.com/x/y/pull/7" {
		t.Errorf("expected pr_url recorded, got %q", got.PRURL)
	}
}

func TestIngestDeployedExtractsFactsWithoutCompleting(t *testing.T) {
	svc, jobs, _ := newTestEventService(t)
	ctx := context.Background()

	job := newTestJob(t, jobs)
	if err := jobs.SetStatus(ctx, job.ID, domain.JobStatusRunning); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	detail := domain.JSONMap{
		"live_url":        "https://app.example.netlify.app",
		"netlify_site_id": "site-123",
		"neon_project_id": "proj-456",
	}
	if _, err := svc.Ingest(ctx, job.ID, "deployed", detail); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.LiveURL != "https://app.example.netlify.app" {
		t.Errorf("expected live_url recorded, got %q", got.LiveURL)
	}
	if got.DeploySiteID != "site-123" || got.DBProjectID != "proj-456" {
		t.Errorf("expected deploy facts recorded, got %q / %q", got.DeploySiteID, got.DBProjectID)
	}
	// Deployment is not completion; only the terminal events close a job
	if got.Status != domain.JobStatusRunning {
		t.Errorf("expected status to remain running, got %q", got.Status)
	}
	if got.BuildStatus != domain.BuildStatusDeployed {
		t.Errorf("expected build_status deployed, got %q", got.BuildStatus)
	}
}

func TestIngestTerminalEvents(t *testing.T) {
	cases := []struct {
		event string
		want  domain.JobStatus
	}{
		{"completed", domain.JobStatusCompleted},
		{"build_complete", domain.JobStatusCompleted},
		{"failed", domain.JobStatusFailed},
		{"build_failed", domain.JobStatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.event, func(t *testing.T) {
			svc, jobs, _ := newTestEventService(t)
			ctx := context.Background()

			job := newTestJob(t, jobs)
			if err := jobs.SetStatus(ctx, job.ID, domain.JobStatusRunning); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if _, err := svc.Ingest(ctx, job.ID, tc.event, nil); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got, err := jobs.GetByID(ctx, job.ID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Status != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got.Status)
			}
		})
	}
}

func TestIngestEventAfterTerminalKeepsStatus(t *testing.T) {
	svc, jobs, events := newTestEventService(t)
	ctx := context.Background()

	job := newTestJob(t, jobs)
	if err := jobs.SetStatus(ctx, job.ID, domain.JobStatusCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A straggler event still lands in the log but cannot reopen the job
	if _, err := svc.Ingest(ctx, job.ID, "failed", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.JobStatusCompleted {
		t.Errorf("expected completed to stick, got %q", got.Status)
	}

	log, err := events.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(log) != 1 || log[0].Event != "failed" {
		t.Fatalf("expected straggler event recorded, got %+v", log)
	}
}

func TestIngestFansOutToCallbackURL(t *testing.T) {
	received := make(chan CallbackPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload CallbackPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode callback: %v", err)
		}
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, jobs, _ := newTestEventService(t)
	ctx := context.Background()

	job := &domain.Job{
		RepoURL:     "https://github.com/x/y",
		Branch:      "main",
		PRDPath:     "docs/PRD.md",
		Mode:        domain.JobModeFullBuild,
		CallbackURL: srv.URL,
	}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	if _, err := svc.Ingest(ctx, job.ID, "repo_cloned", domain.JSONMap{"sha": "abc123"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case payload := <-received:
		if payload.JobID != job.ID || payload.Event != "repo_cloned" {
			t.Errorf("unexpected callback payload %+v", payload)
		}
		if payload.Detail.String("sha") != "abc123" {
			t.Errorf("callback detail not preserved: %+v", payload.Detail)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never arrived")
	}
}
