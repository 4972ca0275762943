package offload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"form-webhook-sync/internal/models"
	"form-webhook-sync/internal/naming"
	"form-webhook-sync/internal/normalize"
	"form-webhook-sync/internal/objectstore"
	"form-webhook-sync/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Layout fixes how pulled files are named in the object store.
type Layout string

const (
	// LayoutClassified: projects/{ns}/{folder}/{submissionId}_{filename}
	LayoutClassified Layout = "classified"
	// LayoutFlat: {ns}/{filename}
	LayoutFlat Layout = "flat"
)

// ProjectsPrefix is the root of every namespaced object.
const ProjectsPrefix = "projects/"

type Config struct {
	MaxFileSize       int64
	MaxRequestSize    int64
	AllowedExtensions []string
	Concurrency       int
	UploadTimeout     time.Duration
	FetchTimeout      time.Duration
	FileURLTTL        time.Duration
	Layout            Layout
	UploadMarker      string
}

// FolderResolver maps a form to its classification folder.
type FolderResolver interface {
	FolderFor(formID string) string
}

// Target identifies where the files of one submission are placed.
type Target struct {
	Namespace    string
	SubmissionID string
	FormID       string
}

// SkippedReference is a hosted file reference that yielded no filename.
type SkippedReference struct {
	URL    string
	Reason string
}

// BatchResult is the outcome of one offload batch. Partial success is a
// normal result, not an error.
type BatchResult struct {
	Succeeded []models.FileRecord
	Failed    []*OffloadError
	Skipped   []SkippedReference
}

func (b BatchResult) Attempted() int {
	return len(b.Succeeded) + len(b.Failed)
}

// AllFailed reports whether files were attempted and none was placed.
func (b BatchResult) AllFailed() bool {
	return b.Attempted() > 0 && len(b.Succeeded) == 0
}

// BackendFailure returns the first storage backend failure, if any.
func (b BatchResult) BackendFailure() *OffloadError {
	for _, f := range b.Failed {
		var backend *StorageBackendError
		if errors.As(f.Cause, &backend) {
			return f
		}
	}
	return nil
}

func (b *BatchResult) Merge(other BatchResult) {
	b.Succeeded = append(b.Succeeded, other.Succeeded...)
	b.Failed = append(b.Failed, other.Failed...)
	b.Skipped = append(b.Skipped, other.Skipped...)
}

type Pipeline struct {
	store   objectstore.Store
	fetcher objectstore.Fetcher
	signer  objectstore.URLSigner
	folders FolderResolver
	cfg     Config
	allowed map[string]struct{}
	logger  *zap.Logger
	now     func() time.Time
}

func NewPipeline(store objectstore.Store, fetcher objectstore.Fetcher, signer objectstore.URLSigner,
	folders FolderResolver, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Layout == "" {
		cfg.Layout = LayoutClassified
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	return &Pipeline{
		store:   store,
		fetcher: fetcher,
		signer:  signer,
		folders: folders,
		cfg:     cfg,
		allowed: allowed,
		logger:  logger,
		now:     time.Now,
	}
}

// outcome is the per-slot result of a batch; exactly one field is set.
type outcome struct {
	record *models.FileRecord
	err    *OffloadError
}

type directJob struct {
	slot int
	file normalize.RawFile
	name string
	size int64
}

// OffloadDirect validates and uploads inline files. Validation runs in
// request order so the request budget cuts off the same files every time;
// uploads then run on a bounded pool.
func (p *Pipeline) OffloadDirect(ctx context.Context, files []normalize.RawFile, target Target) BatchResult {
	outcomes := make([]outcome, len(files))
	budget := newSizeBudget(p.cfg.MaxRequestSize)

	var jobs []directJob
	for i, f := range files {
		name := SanitizeFilename(f.Filename)
		fail := func(reason string) {
			outcomes[i].err = &OffloadError{
				Filename:  f.Filename,
				FieldName: f.FieldName,
				Strategy:  models.StrategyDirect,
				Cause:     &ValidationError{Reason: reason},
			}
		}

		if _, ok := p.allowed[extensionOf(name)]; !ok {
			fail(fmt.Sprintf("extension %q is not allowed", extensionOf(name)))
			continue
		}
		if f.Content == nil {
			fail("no content")
			continue
		}
		size, err := probeSize(f.Content, p.cfg.MaxFileSize)
		if err != nil {
			outcomes[i].err = &OffloadError{
				Filename:  f.Filename,
				FieldName: f.FieldName,
				Strategy:  models.StrategyDirect,
				Cause:     spoolError(name, err),
			}
			continue
		}
		if p.cfg.MaxFileSize > 0 && size > p.cfg.MaxFileSize {
			fail(fmt.Sprintf("file exceeds %d bytes", p.cfg.MaxFileSize))
			continue
		}
		if err := budget.reserve(size); err != nil {
			fail(err.Error())
			continue
		}
		jobs = append(jobs, directJob{slot: i, file: f, name: name, size: size})
	}

	p.runPool(len(jobs), func(j int) {
		job := jobs[j]
		rec, err := p.uploadDirect(ctx, job, target)
		if err != nil {
			outcomes[job.slot].err = &OffloadError{
				Filename:  job.file.Filename,
				FieldName: job.file.FieldName,
				Strategy:  models.StrategyDirect,
				Cause:     err,
			}
			return
		}
		outcomes[job.slot].record = rec
	})

	return p.collect(models.StrategyDirect, outcomes, nil)
}

func (p *Pipeline) uploadDirect(ctx context.Context, job directJob, target Target) (*models.FileRecord, error) {
	// size probing left the stream at its end
	if _, err := job.file.Content.Seek(0, io.SeekStart); err != nil {
		return nil, spoolError(job.name, err)
	}
	data, err := io.ReadAll(io.LimitReader(job.file.Content, job.size+1))
	if err != nil {
		return nil, spoolError(job.name, err)
	}
	if int64(len(data)) != job.size {
		return nil, spoolError(job.name, errors.New("file changed while being read"))
	}

	objectName := fmt.Sprintf("%s_%s_%s", p.now().UTC().Format(naming.TimestampLayout), naming.ShortID(8), job.name)
	storagePath := ProjectsPrefix + target.Namespace + "/" + objectName

	contentType := DetectContentType(job.name)
	return p.put(ctx, storagePath, data, contentType, models.FileRecord{
		FieldName:    job.file.FieldName,
		OriginalName: job.file.Filename,
		Strategy:     models.StrategyDirect,
	})
}

type remoteJob struct {
	slot     int
	url      string
	filename string
}

// OffloadReferences pulls every file of a comma separated, percent-encoded
// reference field. A failing URL never stops its siblings.
func (p *Pipeline) OffloadReferences(ctx context.Context, fieldName, raw string, target Target) BatchResult {
	tokens := strings.Split(raw, ",")
	outcomes := make([]outcome, len(tokens))
	names := uniqueNames{}

	var (
		jobs    []remoteJob
		skipped []SkippedReference
	)
	for i, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		decoded, err := url.PathUnescape(token)
		if err != nil {
			outcomes[i].err = &OffloadError{
				Filename:  token,
				FieldName: fieldName,
				Strategy:  models.StrategyRemote,
				Cause:     &ValidationError{Reason: fmt.Sprintf("undecodable reference: %v", err)},
			}
			continue
		}
		filename := filenameFromURL(decoded, p.cfg.UploadMarker)
		if filename == "" {
			p.logger.Warn("Skipping file reference without a usable filename",
				zap.String("field", fieldName),
				zap.String("url", decoded))
			metrics.FilesOffloaded.WithLabelValues(models.StrategyRemote, "skipped").Inc()
			skipped = append(skipped, SkippedReference{URL: decoded, Reason: "no filename in url"})
			continue
		}
		jobs = append(jobs, remoteJob{slot: i, url: decoded, filename: names.next(filename)})
	}

	p.runPool(len(jobs), func(j int) {
		job := jobs[j]
		rec, err := p.pullRemote(ctx, fieldName, job, target)
		if err != nil {
			outcomes[job.slot].err = &OffloadError{
				Filename:  job.filename,
				FieldName: fieldName,
				Strategy:  models.StrategyRemote,
				Cause:     err,
			}
			return
		}
		outcomes[job.slot].record = rec
	})

	return p.collect(models.StrategyRemote, outcomes, skipped)
}

func (p *Pipeline) pullRemote(ctx context.Context, fieldName string, job remoteJob, target Target) (*models.FileRecord, error) {
	fetchCtx := ctx
	if p.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()
	}
	data, err := p.fetcher.Get(fetchCtx, job.url)
	if err != nil {
		return nil, &RemoteFetchError{URL: job.url, Err: err}
	}

	return p.put(ctx, p.remotePath(job.filename, target), data, DetectContentType(job.filename), models.FileRecord{
		FieldName:    fieldName,
		OriginalName: job.filename,
		Strategy:     models.StrategyRemote,
	})
}

// remotePath is the storage path of a pulled file under the configured layout.
func (p *Pipeline) remotePath(filename string, target Target) string {
	if p.cfg.Layout == LayoutFlat {
		return target.Namespace + "/" + filename
	}
	objectName := target.SubmissionID + "_" + filename
	folder := ""
	if p.folders != nil {
		folder = sanitizeName(p.folders.FolderFor(target.FormID))
	}
	if folder == "" {
		return ProjectsPrefix + target.Namespace + "/" + objectName
	}
	return ProjectsPrefix + target.Namespace + "/" + folder + "/" + objectName
}

func (p *Pipeline) put(ctx context.Context, storagePath string, data []byte, contentType string, rec models.FileRecord) (*models.FileRecord, error) {
	putCtx := ctx
	if p.cfg.UploadTimeout > 0 {
		var cancel context.CancelFunc
		putCtx, cancel = context.WithTimeout(ctx, p.cfg.UploadTimeout)
		defer cancel()
	}
	if _, err := p.store.Put(putCtx, storagePath, data, contentType); err != nil {
		return nil, &StorageBackendError{Path: storagePath, Err: err}
	}

	rec.StoragePath = storagePath
	rec.Size = int64(len(data))
	rec.ContentType = contentType
	rec.UploadTime = p.now().UTC()
	if p.signer != nil && p.cfg.FileURLTTL > 0 {
		signed, err := p.signer.SignedURL(storagePath, p.cfg.FileURLTTL)
		if err != nil {
			p.logger.Warn("Failed to sign file url", zap.String("path", storagePath), zap.Error(err))
		} else {
			rec.SignedURL = signed
		}
	}
	return &rec, nil
}

// Discard removes objects of a batch that will not be referenced by any
// submission. Failures are logged only.
func (p *Pipeline) Discard(ctx context.Context, records []models.FileRecord) {
	for _, rec := range records {
		if err := p.store.Delete(ctx, rec.StoragePath); err != nil {
			p.logger.Error("Failed to discard orphaned object",
				zap.String("path", rec.StoragePath),
				zap.Error(err))
		}
	}
}

// runPool runs fn for 0..n-1 with at most cfg.Concurrency in flight. fn
// reports failures through its own slot, so one failure cancels nothing.
func (p *Pipeline) runPool(n int, fn func(i int)) {
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) collect(strategy string, outcomes []outcome, skipped []SkippedReference) BatchResult {
	result := BatchResult{Skipped: skipped}
	for _, o := range outcomes {
		switch {
		case o.record != nil:
			result.Succeeded = append(result.Succeeded, *o.record)
			metrics.FilesOffloaded.WithLabelValues(strategy, "success").Inc()
		case o.err != nil:
			result.Failed = append(result.Failed, o.err)
			metrics.FilesOffloaded.WithLabelValues(strategy, o.err.Kind()).Inc()
			p.logger.Warn("File offload failed",
				zap.String("strategy", strategy),
				zap.String("filename", o.err.Filename),
				zap.String("kind", o.err.Kind()),
				zap.Error(o.err.Cause))
		}
	}
	return result
}

// probeSize reads at most limit+1 bytes to learn the size of r. The read
// position is left wherever reading stopped.
func probeSize(r io.ReadSeeker, limit int64) (int64, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	src := io.Reader(r)
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	return io.Copy(io.Discard, src)
}

// sizeBudget is the cumulative byte allowance of one request. Once a
// reservation fails the budget stays exhausted.
type sizeBudget struct {
	mu        sync.Mutex
	limit     int64
	used      int64
	exhausted bool
}

func newSizeBudget(limit int64) *sizeBudget {
	return &sizeBudget{limit: limit}
}

func (b *sizeBudget) reserve(n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exhausted {
		return errors.New("request size budget already exhausted")
	}
	if b.limit > 0 && b.used+n > b.limit {
		b.exhausted = true
		return fmt.Errorf("request exceeds %d bytes", b.limit)
	}
	b.used += n
	return nil
}
