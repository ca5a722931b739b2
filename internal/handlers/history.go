package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"project-chat-service/internal/repositories"
	"project-chat-service/internal/telemetry"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HistoryHandler serves message scrollback from the history store. The
// live subsystem only ever writes to that store; clients hydrate their
// initial view here and receive everything newer over the websocket.
type HistoryHandler struct {
	projectRepo repositories.ProjectRepository
	messageRepo repositories.MessageRepository
	audit       *telemetry.AuditEmitter
}

// NewHistoryHandler builds a HistoryHandler.
func NewHistoryHandler(projectRepo repositories.ProjectRepository, messageRepo repositories.MessageRepository, audit *telemetry.AuditEmitter) *HistoryHandler {
	return &HistoryHandler{projectRepo: projectRepo, messageRepo: messageRepo, audit: audit}
}

// GetProjectMessages returns the newest messages of a project chat in
// ascending sequence order.
func (h *HistoryHandler) GetProjectMessages(c *gin.Context) {
	projectID := c.Param("project_id")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	userID := c.GetString("userID")

	if _, err := h.projectRepo.GetProject(c.Request.Context(), projectID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrProjectNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "project not found"})
		return
	}

	member, err := h.projectRepo.IsMember(c.Request.Context(), projectID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		h.audit.Emit(c.Request.Context(), "WARN", "history access denied for project "+projectID, requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusForbidden, gin.H{"error": "not a project member"})
		return
	}

	msgs, err := h.messageRepo.ListProjectMessages(c.Request.Context(), projectID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
