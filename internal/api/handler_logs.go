package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"zenflow-backend/internal/model"
)

type logsResponse struct {
	Partial   []model.PartialLog      `json:"partial"`
	Permanent *model.PermanentSession `json:"permanent"`
}

// GetLogs handles GET /logs: the partial absence log, newest first, and the
// active permanent session if any.
func (h *Handler) GetLogs(c *gin.Context) {
	ctx := c.Request.Context()

	partial, err := h.store.ListPartialLogs(ctx)
	if err != nil {
		log.Printf("Error listing partial logs: %v", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve logs"})
		return
	}

	active, err := h.store.GetActivePermanentSession(ctx)
	if err != nil {
		log.Printf("Error reading active permanent session: %v", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve logs"})
		return
	}

	c.JSON(http.StatusOK, logsResponse{Partial: partial, Permanent: active})
}

// GetStatus handles GET /api/status.
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": h.tracker.CurrentStatus()})
}
