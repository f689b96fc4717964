package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
	"github.com/dfedez920912/tbot-project/internal/core/port"
	"github.com/dfedez920912/tbot-project/internal/infra/telemetry"
)

// SessionHandler exposes the administrative session-termination endpoint.
type SessionHandler struct {
	sessions  port.SessionStore
	publisher port.EventPublisher
	metrics   *telemetry.Metrics
	logger    *zap.Logger
}

// NewSessionHandler builds the session handler.
func NewSessionHandler(sessions port.SessionStore, publisher port.EventPublisher, metrics *telemetry.Metrics, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// RegisterRoutes attaches the session endpoints to group.
func (h *SessionHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.DELETE("/:key", h.Terminate)
}

// Terminate deletes the session identified by key and reports how many
// records were removed (0 or 1).
func (h *SessionHandler) Terminate(c *gin.Context) {
	key := c.Param("key")

	removed, err := h.sessions.Delete(c.Request.Context(), key)
	if err != nil {
		h.logger.Error("session termination failed",
			zap.String("session_key", key),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to terminate session"})
		return
	}

	if removed > 0 {
		h.metrics.RecordSessionTerminated()
		if err := h.publisher.PublishSessionTerminated(c.Request.Context(), domain.SessionTerminatedEvent{
			SessionKey: key,
			Removed:    removed,
			At:         time.Now().UTC(),
		}); err != nil {
			h.logger.Warn("session terminated event publish failed", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
