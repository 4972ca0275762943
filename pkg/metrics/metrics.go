package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "form_webhooks_received_total",
		Help: "The total number of form webhooks received",
	}, []string{"format"})

	WebhookProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "form_webhooks_processed_total",
		Help: "The total number of form webhooks processed",
	}, []string{"status"})

	WebhookProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "form_webhook_processing_duration_seconds",
		Help:    "Time taken to ingest form webhooks, including file offload",
		Buckets: prometheus.DefBuckets,
	}, []string{"format"})

	FilesOffloaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "form_files_offloaded_total",
		Help: "The total number of attachment offload attempts",
	}, []string{"strategy", "status"})

	UnprocessedQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "form_submissions_unprocessed",
		Help: "Current number of submissions waiting to be pulled and acknowledged",
	})

	NoticeQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "form_submission_notices_queued",
		Help: "Current number of submission notices waiting in the broker queue",
	})

	NoticesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "form_submission_notices_published_total",
		Help: "The total number of submission notice publish attempts",
	}, []string{"status"})

	SubmissionsMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "form_submissions_marked_processed_total",
		Help: "The total number of submissions transitioned to processed",
	})

	AliasAmbiguity = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "form_alias_ambiguity_total",
		Help: "The total number of payloads where a semantic field matched several candidates",
	}, []string{"field"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "form_webhook_rate_limit_exceeded_total",
		Help: "The total number of times rate limits were exceeded",
	}, []string{"limit_type"})

	SyncRecordsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "form_sync_records_total",
		Help: "The total number of records handled by the sync worker",
	}, []string{"status"})

	SyncRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "form_sync_retries_total",
		Help: "The total number of sync worker retries",
	})
)
