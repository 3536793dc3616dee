package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"focusflow/backend/internal/middleware"
	"focusflow/backend/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
	statsService   *service.StatsService
}

type startRequest struct {
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func NewSessionHandler(sessionService *service.SessionService, statsService *service.StatsService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		statsService:   statsService,
	}
}

func (h *SessionHandler) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_json", "message": "invalid request body"},
		})
		return
	}

	userID := middleware.UserID(c)
	session, apiErr := h.sessionService.Start(c.Request.Context(), userID, req.Description, req.Tags)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session})
}

func (h *SessionHandler) Pause(c *gin.Context) {
	userID := middleware.UserID(c)
	session, apiErr := h.sessionService.Pause(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *SessionHandler) Resume(c *gin.Context) {
	userID := middleware.UserID(c)
	session, apiErr := h.sessionService.Resume(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *SessionHandler) Stop(c *gin.Context) {
	userID := middleware.UserID(c)
	session, apiErr := h.sessionService.Stop(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// GetActive is the reconciliation read: the client calls it on cold start,
// foreground-resume and reconnect, then rebases its local tick from the
// returned elapsed seconds and serverTime.
func (h *SessionHandler) GetActive(c *gin.Context) {
	userID := middleware.UserID(c)
	session, apiErr := h.sessionService.GetActiveSession(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *SessionHandler) GetDailyStats(c *gin.Context) {
	userID := middleware.UserID(c)
	stat, apiErr := h.statsService.GetDailyStats(c.Request.Context(), userID, c.Query("date"))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stat})
}

func (h *SessionHandler) GetHistory(c *gin.Context) {
	userID := middleware.UserID(c)

	limit := 50
	rawLimit := c.Query("limit")
	if rawLimit != "" {
		if parsed, err := strconv.Atoi(rawLimit); err == nil {
			limit = parsed
		}
	}

	sessions, apiErr := h.sessionService.GetHistory(c.Request.Context(), userID, limit)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}
