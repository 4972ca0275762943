package service

import (
	"context"
	"time"

	"form-webhook-sync/internal/models"
	"form-webhook-sync/internal/store"
	"form-webhook-sync/pkg/metrics"

	"go.uber.org/zap"
)

// GetUnprocessed returns the poller view of pending submissions. File URLs
// are signed afresh with the list TTL on every call.
func (s *WebhookService) GetUnprocessed(f store.Filter) ([]models.Record, int) {
	subs, total := s.store.GetUnprocessed(f)
	records := make([]models.Record, 0, len(subs))
	for _, sub := range subs {
		rec := models.NewRecord(sub)
		s.signFiles(rec.Files, s.cfg.ListURLTTL)
		records = append(records, rec)
	}
	return records, total
}

// GetSubmission returns one submission with single-file signed URLs.
func (s *WebhookService) GetSubmission(id string) (models.Submission, bool) {
	sub, ok := s.store.Get(id)
	if ok {
		s.signFiles(sub.Files, s.cfg.FileURLTTL)
	}
	return sub, ok
}

func (s *WebhookService) signFiles(files []models.FileRecord, ttl time.Duration) {
	for i := range files {
		files[i].SignedURL = ""
		if s.signer == nil || ttl <= 0 {
			continue
		}
		signed, err := s.signer.SignedURL(files[i].StoragePath, ttl)
		if err != nil {
			s.logger.Warn("Failed to sign file url",
				zap.String("path", files[i].StoragePath),
				zap.Error(err))
			continue
		}
		files[i].SignedURL = signed
	}
}

func (s *WebhookService) MarkProcessed(ids []string) store.MarkResult {
	res := s.store.MarkProcessed(ids)
	s.afterMark(res)
	if len(res.Unknown) > 0 {
		s.logger.Warn("Ignoring unknown submission ids", zap.Strings("ids", res.Unknown))
	}
	return res
}

func (s *WebhookService) MarkAll() store.MarkResult {
	res := s.store.MarkAll()
	s.afterMark(res)
	return res
}

func (s *WebhookService) afterMark(res store.MarkResult) {
	metrics.SubmissionsMarked.Add(float64(res.Marked))
	s.refreshQueueGauge()
	s.logger.Info("Submissions marked processed",
		zap.Int("marked", res.Marked),
		zap.Int("total_processed", res.TotalProcessed))
}

func (s *WebhookService) Stats() models.Stats {
	return s.store.Stats()
}

// Health is the liveness summary served by the health endpoint.
type Health struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Total        int       `json:"total_submissions"`
	Unprocessed  int       `json:"queue_size"`
	Processed    int       `json:"processed_count"`
	ObjectStore  string    `json:"object_store"`
	StorageError string    `json:"storage_error,omitempty"`
}

// Health reports queue counters and object store connectivity. An
// unreachable store degrades the status without failing the call.
func (s *WebhookService) Health(ctx context.Context) Health {
	total, unprocessed, processed := s.store.Counts()
	h := Health{
		Status:      "healthy",
		Timestamp:   s.now().UTC(),
		Total:       total,
		Unprocessed: unprocessed,
		Processed:   processed,
		ObjectStore: "connected",
	}
	if s.objects == nil {
		h.ObjectStore = "not_configured"
		return h
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.objects.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.ObjectStore = "unreachable"
		h.StorageError = err.Error()
	}
	return h
}

// Reset clears the submission store. Stored objects are left in place.
func (s *WebhookService) Reset() int {
	cleared := s.store.Reset()
	s.refreshQueueGauge()
	s.logger.Warn("Submission store reset", zap.Int("cleared", cleared))
	return cleared
}
