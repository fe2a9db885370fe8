package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prdflow/orchestrator/internal/domain"
	"github.com/prdflow/orchestrator/internal/logger"
	"github.com/prdflow/orchestrator/internal/service"
)

// EventHandler handles worker callback events.
type EventHandler struct {
	events *service.EventService
}

// NewEventHandler creates a new event handler.
// Parameters:
//   - events: event ingestion service.
// Returns:
//   - *EventHandler: initialized handler.
func NewEventHandler(events *service.EventService) *EventHandler {
	return &EventHandler{events: events}
}

// EventRequest represents the worker callback body.
type EventRequest struct {
	Event  string         `json:"event" binding:"required"`
	Detail domain.JSONMap `json:"detail"`
}

// Ingest handles POST /jobs/:id/events.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *EventHandler) Ingest(c *gin.Context) {
	jobID := c.Param("id")
	ctx := logger.SetJobID(c.Request.Context(), jobID)

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid event request: client_ip=%s, error=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": err.Error()})
		return
	}

	logger.CtxInfo(ctx, "Event received: event=%s", req.Event)

	if _, err := h.events.Ingest(ctx, jobID, req.Event, req.Detail); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		logger.CtxError(ctx, "Event ingest failed: event=%s, error=%v", req.Event, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true})
}
