package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prdflow/orchestrator/internal/config"
	"github.com/prdflow/orchestrator/internal/domain"
	"github.com/prdflow/orchestrator/internal/repository"
)

// fakeLauncher records launch attempts and can be told to fail.
type fakeLauncher struct {
	launched []string
	err      error
}

func (f *fakeLauncher) Launch(ctx context.Context, job *domain.Job) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.launched = append(f.launched, job.ID)
	return "exec-" + job.ID[:8], nil
}

func newTestDispatcher(t *testing.T, maxJobs int, l *fakeLauncher) (*DispatchService, *repository.JobRepository, *repository.JobEventRepository) {
	t.Helper()
	db := newTestDB(t)
	jobs := repository.NewJobRepository(db)
	events := repository.NewJobEventRepository(db)
	notify := NewNotifyService(jobs, &config.NotifierConfig{})
	return NewDispatchService(jobs, events, notify, l, time.Second, maxJobs), jobs, events
}

func TestTickLaunchesOldestPending(t *testing.T) {
	l := &fakeLauncher{}
	dispatcher, jobs, events := newTestDispatcher(t, 5, l)
	ctx := context.Background()

	job := newTestJob(t, jobs)

	dispatcher.Tick(ctx)

	if len(l.launched) != 1 || l.launched[0] != job.ID {
		t.Fatalf("expected one launch for %s, got %v", job.ID, l.launched)
	}

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.JobStatusRunning {
		t.Errorf("expected running, got %q", got.Status)
	}
	if got.WorkerExecutionID != "exec-"+job.ID[:8] {
		t.Errorf("unexpected execution id %q", got.WorkerExecutionID)
	}
	if got.BuildStatus != domain.BuildStatusQueued || got.BuildMessage != "Worker launched" {
		t.Errorf("unexpected build status %q / %q", got.BuildStatus, got.BuildMessage)
	}

	log, err := events.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(log) != 1 || log[0].Event != "worker_launched" {
		t.Fatalf("expected worker_launched event, got %+v", log)
	}
	if log[0].Detail.String("execution_id") != got.WorkerExecutionID {
		t.Errorf("event detail missing execution id: %+v", log[0].Detail)
	}
}

func TestTickLaunchFailureFailsJob(t *testing.T) {
	l := &fakeLauncher{err: errors.New("cloud run unavailable")}
	dispatcher, jobs, events := newTestDispatcher(t, 5, l)
	ctx := context.Background()

	job := newTestJob(t, jobs)

	dispatcher.Tick(ctx)

	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.JobStatusFailed {
		t.Errorf("expected failed, got %q", got.Status)
	}
	if got.BuildStatus != domain.BuildStatusError {
		t.Errorf("expected build_status error, got %q", got.BuildStatus)
	}

	log, err := events.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(log) != 1 || log[0].Event != "launch_failed" {
		t.Fatalf("expected launch_failed event, got %+v", log)
	}
	if log[0].Detail.String("error") != "cloud run unavailable" {
		t.Errorf("expected launch error in detail, got %+v", log[0].Detail)
	}
}

func TestTickRespectsConcurrencyCap(t *testing.T) {
	l := &fakeLauncher{}
	dispatcher, jobs, _ := newTestDispatcher(t, 2, l)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		newTestJob(t, jobs)
	}

	// One job per tick; the cap halts promotion after two
	for i := 0; i < 6; i++ {
		dispatcher.Tick(ctx)
	}

	running, err := jobs.CountRunning(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if running != 2 {
		t.Fatalf("expected 2 running, got %d", running)
	}
	if len(l.launched) != 2 {
		t.Fatalf("expected 2 launches, got %d", len(l.launched))
	}

	// A slot opening up lets the next pending job through
	if err := jobs.SetStatus(ctx, l.launched[0], domain.JobStatusCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dispatcher.Tick(ctx)

	if len(l.launched) != 3 {
		t.Fatalf("expected 3 launches after slot freed, got %d", len(l.launched))
	}
}

func TestTickNoPendingIsNoop(t *testing.T) {
	l := &fakeLauncher{}
	dispatcher, _, _ := newTestDispatcher(t, 5, l)

	dispatcher.Tick(context.Background())

	if len(l.launched) != 0 {
		t.Fatalf("expected no launches, got %v", l.launched)
	}
}
