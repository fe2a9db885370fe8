package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prdflow/orchestrator/internal/api/handler"
	"github.com/prdflow/orchestrator/internal/api/middleware"
	"github.com/prdflow/orchestrator/internal/config"
	"github.com/prdflow/orchestrator/internal/repository"
	"github.com/prdflow/orchestrator/internal/service"
	"gorm.io/gorm"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	db *gorm.DB,
	jobs *repository.JobRepository,
	events *repository.JobEventRepository,
	eventService *service.EventService,
	notify *service.NotifyService,
	cfg *config.Config,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler(db)
	webhookHandler := handler.NewWebhookHandler(jobs, notify)
	eventHandler := handler.NewEventHandler(eventService)
	statusHandler := handler.NewStatusHandler(jobs, events)

	auth := middleware.BearerAuth(cfg.Webhook.Secret)

	// Health check
	r.GET("/health", healthHandler.Health)

	// Mutations require the shared-secret bearer; status reads do not
	r.POST("/webhook", auth, webhookHandler.Submit)
	r.POST("/jobs/:id/events", auth, eventHandler.Ingest)
	r.GET("/jobs/:id/status", statusHandler.Get)

	return r
}
