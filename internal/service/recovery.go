package service

import (
	"context"
	"time"

	"github.com/prdflow/orchestrator/internal/logger"
	"github.com/prdflow/orchestrator/internal/repository"
)

// RecoveryService is the stale-job backstop. Worker launch is fire-and-forget
// and terminal events can be lost, so any running job whose updated_at stops
// advancing is eventually failed. Swept jobs get no synthetic event and no
// notifier message; pollers observe the status flip on their next read.
type RecoveryService struct {
	jobs       *repository.JobRepository
	staleAfter time.Duration
	interval   time.Duration
}

// NewRecoveryService creates a new recovery service.
// Parameters:
//   - jobs: job repository.
//   - staleAfter: quiet interval after which a running job counts as abandoned.
//   - interval: sweep period.
// Returns:
//   - *RecoveryService: initialized service.
func NewRecoveryService(jobs *repository.JobRepository, staleAfter, interval time.Duration) *RecoveryService {
	return &RecoveryService{
		jobs:       jobs,
		staleAfter: staleAfter,
		interval:   interval,
	}
}

// Run sweeps once at startup and then on every interval until the context is
// cancelled.
// Parameters:
//   - ctx: context whose cancellation stops the loop.
// Returns: none.
func (s *RecoveryService) Run(ctx context.Context) {
	ctx = logger.SetComponent(ctx, "recovery")
	logger.CtxInfo(ctx, "Recovery started: stale_after=%s, interval=%s", s.staleAfter, s.interval)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.CtxInfo(ctx, "Recovery stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep fails every stale running job. Errors are logged, never propagated;
// the next interval retries.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns: none.
func (s *RecoveryService) Sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.CtxError(ctx, "Recovery sweep panic: %v", r)
		}
	}()

	count, err := s.jobs.SweepStale(ctx, s.staleAfter)
	if err != nil {
		logger.CtxWarn(ctx, "Stale sweep failed: %v", err)
		return
	}
	if count > 0 {
		logger.CtxWarn(ctx, "Marked stale jobs as failed: count=%d", count)
	}
}
