package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"form-webhook-sync/internal/models"
	"form-webhook-sync/pkg/metrics"

	"go.uber.org/zap"
)

// SyncAPI is the remote side the worker pulls from and acknowledges to.
type SyncAPI interface {
	GetUnprocessed(ctx context.Context, limit int) ([]models.Record, error)
	MarkProcessed(ctx context.Context, ids []string) (int, error)
}

// Sink persists pulled records.
type Sink interface {
	UpsertRecord(ctx context.Context, rec models.Record) error
	UpdateStatus(ctx context.Context, ids []string, status models.SyncStatus) error
}

type Worker struct {
	api          SyncAPI
	sink         Sink
	logger       *zap.Logger
	batchSize    int
	pollInterval time.Duration
	maxRetries   int
	baseDelay    time.Duration
}

func NewWorker(api SyncAPI, sink Sink, logger *zap.Logger, batchSize int, pollInterval time.Duration) *Worker {
	if batchSize <= 0 {
		batchSize = 50
	}
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &Worker{
		api:          api,
		sink:         sink,
		logger:       logger,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		maxRetries:   3,
		baseDelay:    10 * time.Second,
	}
}

// Run syncs once at start, then on every notice and every poll tick until
// ctx is done. notices may be nil when no broker is configured.
func (w *Worker) Run(ctx context.Context, notices <-chan models.SubmissionNotice) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.syncWithRetry(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.syncWithRetry(ctx)
		case notice, ok := <-notices:
			if !ok {
				w.logger.Warn("Notice stream closed, falling back to polling")
				notices = nil
				continue
			}
			w.logger.Debug("Submission notice received",
				zap.String("submission_id", notice.SubmissionID),
				zap.String("form_id", notice.FormID))
			drain(notices)
			w.syncWithRetry(ctx)
		}
	}
}

// drain discards queued notices; one sync pulls all of them.
func drain(notices <-chan models.SubmissionNotice) {
	for {
		select {
		case _, ok := <-notices:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (w *Worker) syncWithRetry(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		start := time.Now()
		n, err := w.SyncOnce(ctx)
		if err == nil {
			if n > 0 {
				w.logger.Info("Sync cycle finished",
					zap.Int("records", n),
					zap.Duration("duration", time.Since(start)))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		w.logger.Error("Sync cycle failed", zap.Error(err), zap.Int("attempt", attempt))
		if attempt >= w.maxRetries {
			return
		}
		metrics.SyncRetries.Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.calculateBackoff(attempt)):
		}
	}
}

// SyncOnce drains the remote queue batch by batch. A record is acknowledged
// only after the sink stored it; records the sink rejected stay unprocessed
// remotely and are pulled again next cycle.
func (w *Worker) SyncOnce(ctx context.Context) (int, error) {
	var synced int
	for {
		records, err := w.api.GetUnprocessed(ctx, w.batchSize)
		if err != nil {
			return synced, fmt.Errorf("failed to pull records: %w", err)
		}
		if len(records) == 0 {
			return synced, nil
		}

		var (
			stored []string
			errs   []error
		)
		for _, rec := range records {
			if err := w.sink.UpsertRecord(ctx, rec); err != nil {
				metrics.SyncRecordsStored.WithLabelValues(string(models.SyncStatusFailed)).Inc()
				errs = append(errs, fmt.Errorf("record %s: %w", rec.ID, err))
				continue
			}
			metrics.SyncRecordsStored.WithLabelValues(string(models.SyncStatusStored)).Inc()
			stored = append(stored, rec.ID)
		}
		if len(stored) == 0 {
			return synced, fmt.Errorf("failed to store any record: %w", errors.Join(errs...))
		}

		marked, err := w.api.MarkProcessed(ctx, stored)
		if err != nil {
			return synced, fmt.Errorf("failed to mark records processed: %w", err)
		}
		if err := w.sink.UpdateStatus(ctx, stored, models.SyncStatusProcessed); err != nil {
			w.logger.Error("Failed to update record status", zap.Error(err))
		}
		synced += len(stored)
		w.logger.Info("Synced batch",
			zap.Int("pulled", len(records)),
			zap.Int("stored", len(stored)),
			zap.Int("marked", marked))

		if len(errs) > 0 {
			return synced, errors.Join(errs...)
		}
		if len(records) < w.batchSize {
			return synced, nil
		}
	}
}

func (w *Worker) calculateBackoff(retryCount int) time.Duration {
	// Exponential backoff with jitter
	backoff := float64(w.baseDelay) * math.Pow(2, float64(retryCount-1))
	jitter := (rand.Float64()*0.5 + 0.5) // 50% jitter
	return time.Duration(backoff * jitter)
}
