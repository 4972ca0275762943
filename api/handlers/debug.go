package handlers

import (
	"net/http"

	"form-webhook-sync/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DebugHandler serves maintenance endpoints that only make sense in
// development.
type DebugHandler struct {
	logger    *zap.Logger
	service   *service.WebhookService
	debugMode bool
}

func NewDebugHandler(logger *zap.Logger, svc *service.WebhookService, debugMode bool) *DebugHandler {
	return &DebugHandler{
		logger:    logger,
		service:   svc,
		debugMode: debugMode,
	}
}

func (h *DebugHandler) Reset(c *gin.Context) {
	if !h.debugMode {
		h.logger.Warn("Rejected debug reset outside development", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "Not allowed in production"})
		return
	}

	cleared := h.service.Reset()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"cleared": cleared,
		"message": "Database reset (development only)",
	})
}
