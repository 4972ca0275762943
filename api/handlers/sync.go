package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"form-webhook-sync/internal/models"
	"form-webhook-sync/internal/service"
	"form-webhook-sync/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// sinceLayouts are tried in order for the since query parameter.
var sinceLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type SyncHandler struct {
	logger  *zap.Logger
	service *service.WebhookService
}

func NewSyncHandler(logger *zap.Logger, svc *service.WebhookService) *SyncHandler {
	return &SyncHandler{logger: logger, service: svc}
}

func (h *SyncHandler) GetUnprocessed(c *gin.Context) {
	filter := store.Filter{
		Limit:  parseLimit(c.Query("limit")),
		FormID: strings.TrimSpace(c.Query("form_id")),
	}
	if raw := c.Query("since"); raw != "" {
		since, err := parseSince(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}
		filter.Since = &since
	}

	records, total := h.service.GetUnprocessed(filter)
	h.logger.Info("Returning unprocessed submissions",
		zap.Int("count", len(records)),
		zap.Int("total_unprocessed", total),
		zap.String("form_id", filter.FormID))

	c.JSON(http.StatusOK, models.UnprocessedResponse{
		Success:          true,
		Count:            len(records),
		Records:          records,
		TotalUnprocessed: total,
	})
}

func (h *SyncHandler) MarkProcessed(c *gin.Context) {
	var req models.MarkProcessedRequest
	if err := c.ShouldBindJSON(&req); err != nil || (len(req.IDs) == 0 && !req.MarkAll) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "No data provided"})
		return
	}

	var res store.MarkResult
	if req.MarkAll {
		res = h.service.MarkAll()
	} else {
		res = h.service.MarkProcessed(req.IDs)
	}

	c.JSON(http.StatusOK, models.MarkProcessedResponse{
		Success:          true,
		Marked:           res.Marked,
		TotalProcessed:   res.TotalProcessed,
		AlreadyProcessed: res.AlreadyProcessed,
		Unknown:          res.Unknown,
	})
}

func (h *SyncHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Stats())
}

func (h *SyncHandler) GetSubmission(c *gin.Context) {
	sub, ok := h.service.GetSubmission(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Submission not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "submission": sub})
}

// parseLimit falls back to the store default for absent, non-numeric or
// non-positive values.
func parseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return store.DefaultLimit
	}
	return n
}

func parseSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range sinceLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("invalid since timestamp: " + raw)
}
