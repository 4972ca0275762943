package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"form-webhook-sync/internal/models"
	"form-webhook-sync/internal/naming"
	"form-webhook-sync/internal/normalize"
	"form-webhook-sync/internal/objectstore"
	"form-webhook-sync/internal/offload"
	"form-webhook-sync/internal/queue"
	"form-webhook-sync/internal/store"
	"form-webhook-sync/pkg/metrics"

	"go.uber.org/zap"
)

// ErrAllFilesFailed means a webhook carried files and none could be placed.
// No submission is stored in that case.
var ErrAllFilesFailed = errors.New("all attempted files failed")

const (
	// UnknownFormID is used when no form id alias matched.
	UnknownFormID = "unknown"
	// SubmissionPrefix turns a project id into a submission id.
	SubmissionPrefix = "sub_"
)

type Config struct {
	FileURLTTL time.Duration
	ListURLTTL time.Duration
}

// Deps are the collaborators of WebhookService.
type Deps struct {
	Normalizer *normalize.Normalizer
	Pipeline   *offload.Pipeline
	Store      *store.SubmissionStore
	Objects    objectstore.Store
	Signer     objectstore.URLSigner
	Publisher  queue.Publisher
	Namer      *naming.Namer
}

// WebhookService turns inbound webhooks into stored submissions and serves
// the pull/acknowledge side of the queue.
type WebhookService struct {
	normalizer *normalize.Normalizer
	pipeline   *offload.Pipeline
	store      *store.SubmissionStore
	objects    objectstore.Store
	signer     objectstore.URLSigner
	publisher  queue.Publisher
	namer      *naming.Namer
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

func NewWebhookService(deps Deps, cfg Config, logger *zap.Logger) *WebhookService {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = queue.NoopPublisher{}
	}
	namer := deps.Namer
	if namer == nil {
		namer = naming.NewNamer()
	}
	return &WebhookService{
		normalizer: deps.Normalizer,
		pipeline:   deps.Pipeline,
		store:      deps.Store,
		objects:    deps.Objects,
		signer:     deps.Signer,
		publisher:  publisher,
		namer:      namer,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// IngestRequest is one raw inbound webhook.
type IngestRequest struct {
	ContentType string
	Body        []byte
	IPAddress   string
	UserAgent   string
}

// FileFailure is the per-file failure reported back to the caller.
type FileFailure struct {
	FieldName string `json:"field_name"`
	Filename  string `json:"filename"`
	Strategy  string `json:"strategy"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}

// IngestResult summarises one webhook. It is returned alongside errors too,
// so callers can report which files failed.
type IngestResult struct {
	SubmissionID  string                     `json:"submission_id"`
	ProjectID     string                     `json:"project_id"`
	FormID        string                     `json:"form_id"`
	EntryID       string                     `json:"entry_id"`
	Format        string                     `json:"format"`
	ReceivedAt    time.Time                  `json:"timestamp"`
	FilesUploaded int                        `json:"files_uploaded"`
	FilesFailed   int                        `json:"files_failed"`
	Files         []models.FileRecord        `json:"files,omitempty"`
	Failures      []FileFailure              `json:"failures,omitempty"`
	Skipped       []offload.SkippedReference `json:"-"`
	QueueSize     int                        `json:"queue_size"`
}

// Ingest normalizes the request, offloads its files and stores the
// submission. Partial file failure is not an error.
func (s *WebhookService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	start := s.now()
	payload := s.normalizer.Normalize(req.ContentType, req.Body)
	defer func() {
		if err := payload.Close(); err != nil {
			s.logger.Warn("Failed to release multipart parts", zap.Error(err))
		}
	}()

	format := string(payload.Format)
	metrics.WebhookReceived.WithLabelValues(format).Inc()
	defer func() {
		metrics.WebhookProcessingTime.WithLabelValues(format).Observe(time.Since(start).Seconds())
	}()

	identity := s.normalizer.Resolve(payload.Fields)
	projectID := s.namer.Generate()
	result := &IngestResult{
		SubmissionID: SubmissionPrefix + projectID,
		ProjectID:    projectID,
		FormID:       UnknownFormID,
		Format:       format,
		ReceivedAt:   start.UTC(),
	}
	if identity.FormID.Found() {
		result.FormID = identity.FormID.Value
	}
	result.EntryID = result.SubmissionID
	if identity.EntryID.Found() {
		result.EntryID = identity.EntryID.Value
	}

	target := offload.Target{
		Namespace:    projectID,
		SubmissionID: result.SubmissionID,
		FormID:       result.FormID,
	}
	// batch holds every attempt. required leaves out links guessed by the
	// fallback scan, which never cost the submission its fields.
	var batch, required offload.BatchResult
	if len(payload.Files) > 0 {
		direct := s.pipeline.OffloadDirect(ctx, payload.Files, target)
		batch.Merge(direct)
		required.Merge(direct)
	}
	if ref := identity.FileReference; ref.Found() {
		s.logger.Debug("Pulling referenced files",
			zap.String("submission_id", result.SubmissionID),
			zap.String("field", ref.Source),
			zap.Bool("fallback", ref.Fallback))
		pulled := s.pipeline.OffloadReferences(ctx, ref.Source, ref.Value, target)
		batch.Merge(pulled)
		if !ref.Fallback {
			required.Merge(pulled)
		}
	}
	fillFiles(result, batch)

	if backend := batch.BackendFailure(); backend != nil {
		s.pipeline.Discard(context.WithoutCancel(ctx), batch.Succeeded)
		result.Files = nil
		result.FilesUploaded = 0
		metrics.WebhookProcessed.WithLabelValues("storage_error").Inc()
		s.logger.Error("Object store unavailable, rejecting webhook",
			zap.String("submission_id", result.SubmissionID),
			zap.Error(backend))
		return result, fmt.Errorf("failed to store attachments: %w", backend)
	}
	if required.AllFailed() {
		s.pipeline.Discard(context.WithoutCancel(ctx), batch.Succeeded)
		result.Files = nil
		result.FilesUploaded = 0
		metrics.WebhookProcessed.WithLabelValues("files_failed").Inc()
		s.logger.Warn("Every attached file failed, submission not stored",
			zap.String("submission_id", result.SubmissionID),
			zap.Int("files_failed", result.FilesFailed))
		return result, allFailedError(required)
	}

	sub := models.Submission{
		ID:         result.SubmissionID,
		ProjectID:  projectID,
		FormID:     result.FormID,
		EntryID:    result.EntryID,
		ReceivedAt: result.ReceivedAt,
		Data:       payload.Fields,
		Files:      batch.Succeeded,
		Format:     format,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
	}
	if err := s.store.Insert(sub); err != nil {
		s.pipeline.Discard(context.WithoutCancel(ctx), batch.Succeeded)
		metrics.WebhookProcessed.WithLabelValues("store_error").Inc()
		s.logger.Error("Failed to store submission",
			zap.String("submission_id", sub.ID),
			zap.Error(err))
		return result, fmt.Errorf("failed to store submission: %w", err)
	}

	s.publish(ctx, models.SubmissionNotice{
		SubmissionID:  sub.ID,
		FormID:        sub.FormID,
		ReceivedAt:    sub.ReceivedAt,
		FilesUploaded: len(sub.Files),
	})

	result.QueueSize = s.refreshQueueGauge()
	metrics.WebhookProcessed.WithLabelValues("success").Inc()
	s.logger.Info("Submission stored",
		zap.String("submission_id", sub.ID),
		zap.String("form_id", sub.FormID),
		zap.String("format", format),
		zap.Int("files_uploaded", result.FilesUploaded),
		zap.Int("files_failed", result.FilesFailed))
	return result, nil
}

func (s *WebhookService) publish(ctx context.Context, notice models.SubmissionNotice) {
	if err := s.publisher.Publish(ctx, notice); err != nil {
		metrics.NoticesPublished.WithLabelValues("failed").Inc()
		s.logger.Warn("Failed to publish submission notice",
			zap.String("submission_id", notice.SubmissionID),
			zap.Error(err))
		return
	}
	metrics.NoticesPublished.WithLabelValues("success").Inc()
}

func fillFiles(result *IngestResult, batch offload.BatchResult) {
	result.Files = batch.Succeeded
	result.FilesUploaded = len(batch.Succeeded)
	result.FilesFailed = len(batch.Failed)
	result.Skipped = batch.Skipped
	for _, f := range batch.Failed {
		result.Failures = append(result.Failures, FileFailure{
			FieldName: f.FieldName,
			Filename:  f.Filename,
			Strategy:  f.Strategy,
			Kind:      f.Kind(),
			Error:     f.Cause.Error(),
		})
	}
}

// allFailedError wraps ErrAllFilesFailed. When every failure was a
// validation failure the first one is wrapped as well, so the request is
// reported as bad input rather than an upstream failure.
func allFailedError(batch offload.BatchResult) error {
	var first *offload.ValidationError
	for _, f := range batch.Failed {
		var v *offload.ValidationError
		if !errors.As(f.Cause, &v) {
			return fmt.Errorf("%w: %d of %d", ErrAllFilesFailed, len(batch.Failed), batch.Attempted())
		}
		if first == nil {
			first = v
		}
	}
	return fmt.Errorf("%w: %w", ErrAllFilesFailed, first)
}

func (s *WebhookService) refreshQueueGauge() int {
	_, unprocessed, _ := s.store.Counts()
	metrics.UnprocessedQueueSize.Set(float64(unprocessed))
	return unprocessed
}
