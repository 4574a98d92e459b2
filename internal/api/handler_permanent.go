package api

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"zenflow-backend/internal/model"
)

// LogOnPermanent handles POST /api/permanent/logon.
func (h *Handler) LogOnPermanent(c *gin.Context) {
	session, err := h.logOn(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to log on"})
		return
	}
	c.JSON(http.StatusCreated, session)
}

// LogOffPermanent handles POST /api/permanent/logoff. Logging off with no
// active session succeeds and returns a null session.
func (h *Handler) LogOffPermanent(c *gin.Context) {
	session, err := h.logOff(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to log off"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": model.PermanentLoggedOff, "session": session})
}

// ListPermanentSessions handles GET /api/permanent/sessions?limit=N.
func (h *Handler) ListPermanentSessions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	sessions, err := h.store.ListPermanentSessions(c.Request.Context(), limit)
	if err != nil {
		log.Printf("Error listing permanent sessions: %v", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) logOn(ctx context.Context) (*model.PermanentSession, error) {
	now := h.clock()
	session, err := h.store.LogOnPermanent(ctx, now)
	if err != nil {
		log.Printf("Error logging on permanently: %v", err)
		return nil, err
	}
	h.cache.Flush()
	log.Printf("Permanent log on at %s", now.Format("15:04:05"))

	h.hub.BroadcastPermanentStatusChange(model.PermanentEvent{
		Status:    model.PermanentLoggedOn,
		Session:   session,
		Timestamp: now,
	})
	return session, nil
}

// logOff closes the active session and always announces logged_off, even
// when nothing was active.
func (h *Handler) logOff(ctx context.Context) (*model.PermanentSession, error) {
	now := h.clock()
	session, err := h.store.LogOffPermanent(ctx, now)
	if err != nil {
		log.Printf("Error logging off permanently: %v", err)
		return nil, err
	}
	h.cache.Flush()
	if session == nil {
		log.Printf("Permanent log off requested with no active session")
	} else {
		log.Printf("Permanent log off at %s", now.Format("15:04:05"))
	}

	h.hub.BroadcastPermanentStatusChange(model.PermanentEvent{
		Status:    model.PermanentLoggedOff,
		Session:   session,
		Timestamp: now,
	})
	return session, nil
}
