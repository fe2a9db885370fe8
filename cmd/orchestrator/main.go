package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prdflow/orchestrator/internal/api"
	"github.com/prdflow/orchestrator/internal/config"
	"github.com/prdflow/orchestrator/internal/launcher"
	"github.com/prdflow/orchestrator/internal/logger"
	"github.com/prdflow/orchestrator/internal/repository"
	"github.com/prdflow/orchestrator/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLog := logger.NewDefault()
	logger.SetDefaultLogger(appLog)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize repositories
	jobs := repository.NewJobRepository(db)
	events := repository.NewJobEventRepository(db)

	// Initialize worker launcher (Cloud Run Jobs, or the dry-run shim)
	workerLauncher, err := launcher.New(&cfg.Worker, cfg.Webhook.Secret)
	if err != nil {
		appLog.Fatalf("Failed to initialize launcher: %v", err)
	}
	if cfg.Worker.DryRun {
		appLog.Warn("DRY_RUN enabled: workers will not be launched")
	}

	// Initialize services
	notify := service.NewNotifyService(jobs, &cfg.Notifier)
	eventService := service.NewEventService(jobs, events, notify)
	dispatcher := service.NewDispatchService(jobs, events, notify, workerLauncher,
		cfg.Dispatch.PollInterval, cfg.Dispatch.MaxConcurrentJobs)
	recovery := service.NewRecoveryService(jobs, cfg.Recovery.StaleAfter, cfg.Recovery.SweepInterval)

	// Setup router
	router := api.SetupRouter(db, jobs, events, eventService, notify, cfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start background loops
	loopCtx, stopLoops := context.WithCancel(context.Background())
	go dispatcher.Run(loopCtx)
	go recovery.Run(loopCtx)

	// Start server in goroutine
	go func() {
		appLog.WithField("port", cfg.Server.Port).Info("Starting orchestrator")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down...")

	// Stop the background loops first, then drain the listener, then close
	// the pool. In-flight fanouts are abandoned.
	stopLoops()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Fatalf("Server forced to shutdown: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	appLog.Info("Orchestrator exited")
}
