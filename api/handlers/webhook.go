package handlers

import (
	"errors"
	"io"
	"net/http"

	"form-webhook-sync/internal/offload"
	"form-webhook-sync/internal/service"
	"form-webhook-sync/internal/store"
	"form-webhook-sync/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// multipartOverhead is headroom for multipart framing on top of the
// configured request budget.
const multipartOverhead = 1 << 20

type WebhookHandler struct {
	logger      *zap.Logger
	service     *service.WebhookService
	rateLimiter *RateLimiter
	maxBody     int64
}

func NewWebhookHandler(logger *zap.Logger, svc *service.WebhookService, rateLimiter *RateLimiter, maxRequestSize int64) *WebhookHandler {
	maxBody := int64(0)
	if maxRequestSize > 0 {
		maxBody = maxRequestSize + multipartOverhead
	}
	return &WebhookHandler{
		logger:      logger,
		service:     svc,
		rateLimiter: rateLimiter,
		maxBody:     maxBody,
	}
}

func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	if !h.rateLimiter.AllowRequest(c.ClientIP()) {
		metrics.RateLimitExceeded.WithLabelValues("requests_per_minute").Inc()
		h.logger.Warn("Rate limit exceeded", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "Rate limit exceeded"})
		return
	}

	reader := io.Reader(c.Request.Body)
	if h.maxBody > 0 {
		reader = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("Webhook body too large", zap.Int64("limit", tooLarge.Limit))
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Request body too large"})
			return
		}
		h.logger.Error("Failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Failed to read request body"})
		return
	}

	h.logger.Info("Received webhook request",
		zap.String("content_type", c.ContentType()),
		zap.Int("body_size", len(body)),
		zap.String("ip", c.ClientIP()))

	result, err := h.service.Ingest(c.Request.Context(), service.IngestRequest{
		ContentType: c.GetHeader("Content-Type"),
		Body:        body,
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		resp := gin.H{"success": false, "error": err.Error()}
		if result != nil {
			resp["submission_id"] = result.SubmissionID
			resp["files_failed"] = result.FilesFailed
			resp["failures"] = result.Failures
			resp["timestamp"] = result.ReceivedAt
		}
		c.JSON(statusFor(err), resp)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        "Webhook received successfully",
		"submission_id":  result.SubmissionID,
		"form_id":        result.FormID,
		"entry_id":       result.EntryID,
		"format":         result.Format,
		"timestamp":      result.ReceivedAt,
		"queue_size":     result.QueueSize,
		"files_uploaded": result.FilesUploaded,
		"files_failed":   result.FilesFailed,
		"files":          result.Files,
		"failures":       result.Failures,
	})
}

// statusFor maps ingest errors to HTTP status codes.
func statusFor(err error) int {
	var (
		validation *offload.ValidationError
		backend    *offload.StorageBackendError
		duplicate  *store.DuplicateIDError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &backend):
		return http.StatusInternalServerError
	case errors.Is(err, service.ErrAllFilesFailed):
		return http.StatusBadGateway
	case errors.As(err, &duplicate):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
