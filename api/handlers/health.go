package handlers

import (
	"net/http"
	"time"

	"form-webhook-sync/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	serviceName    = "Form Webhook Sync"
	serviceVersion = "1.0.0"
)

type HealthHandler struct {
	service *service.WebhookService
}

func NewHealthHandler(svc *service.WebhookService) *HealthHandler {
	return &HealthHandler{service: svc}
}

func (h *HealthHandler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": serviceName,
		"status":  "running",
		"endpoints": gin.H{
			"webhook":        "/webhook (POST)",
			"sync":           "/get-unprocessed (GET)",
			"mark_processed": "/mark-processed (POST)",
			"stats":          "/stats (GET)",
			"health":         "/health (GET)",
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *HealthHandler) Health(c *gin.Context) {
	health := h.service.Health(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"service": serviceName,
		"version": serviceVersion,
		"health":  health,
	})
}
