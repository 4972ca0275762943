package offload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"form-webhook-sync/internal/models"
	"form-webhook-sync/internal/normalize"
	"form-webhook-sync/internal/objectstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mapFolders map[string]string

func (m mapFolders) FolderFor(formID string) string { return m[formID] }

func testConfig() Config {
	return Config{
		MaxFileSize:       64,
		MaxRequestSize:    100,
		AllowedExtensions: []string{".pdf", "png", ".txt"},
		Concurrency:       3,
		UploadTimeout:     time.Second,
		FetchTimeout:      time.Second,
		FileURLTTL:        time.Hour,
		Layout:            LayoutClassified,
		UploadMarker:      "uploads/",
	}
}

func newTestPipeline(store objectstore.Store, cfg Config) *Pipeline {
	fetcher := objectstore.NewHTTPFetcher(time.Second, cfg.MaxFileSize)
	signer := objectstore.NewSigner("secret", "https://sync.example.com")
	p := NewPipeline(store, fetcher, signer, mapFolders{"7": "resumes"}, cfg, zap.NewNop())
	p.now = func() time.Time { return time.Date(2024, 5, 17, 9, 3, 7, 0, time.UTC) }
	return p
}

func rawFile(field, name, content string) normalize.RawFile {
	return normalize.RawFile{FieldName: field, Filename: name, Content: strings.NewReader(content)}
}

var target = Target{Namespace: "20240517_090307_0001abcd", SubmissionID: "sub_20240517_090307_0001abcd", FormID: "7"}

func TestOffloadDirectUploadsAndSigns(t *testing.T) {
	store := objectstore.NewMemoryStore()
	p := newTestPipeline(store, testConfig())

	res := p.OffloadDirect(context.Background(), []normalize.RawFile{rawFile("cv", "My CV.pdf", "%PDF data")}, target)

	require.Len(t, res.Succeeded, 1)
	assert.Empty(t, res.Failed)
	rec := res.Succeeded[0]
	assert.Equal(t, "cv", rec.FieldName)
	assert.Equal(t, "My CV.pdf", rec.OriginalName)
	assert.Equal(t, "application/pdf", rec.ContentType)
	assert.Equal(t, int64(9), rec.Size)
	assert.Equal(t, models.StrategyDirect, rec.Strategy)
	assert.True(t, strings.HasPrefix(rec.StoragePath, "projects/"+target.Namespace+"/20240517_090307_"))
	assert.True(t, strings.HasSuffix(rec.StoragePath, "_My CV.pdf"))
	assert.Contains(t, rec.SignedURL, "https://sync.example.com/files/projects/")

	data, _, err := store.Get(context.Background(), rec.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF data", string(data))
}

func TestOffloadDirectRewindsStream(t *testing.T) {
	store := objectstore.NewMemoryStore()
	p := newTestPipeline(store, testConfig())

	r := bytes.NewReader([]byte("already read"))
	_, err := io.Copy(io.Discard, r)
	require.NoError(t, err)

	res := p.OffloadDirect(context.Background(), []normalize.RawFile{
		{FieldName: "f", Filename: "a.txt", Content: r},
	}, target)

	require.Len(t, res.Succeeded, 1)
	data, _, err := store.Get(context.Background(), res.Succeeded[0].StoragePath)
	require.NoError(t, err)
	assert.Equal(t, "already read", string(data))
}

func TestOffloadDirectRejectsOversizedBeforeUpload(t *testing.T) {
	store := objectstore.NewMemoryStore()
	p := newTestPipeline(store, testConfig())

	res := p.OffloadDirect(context.Background(), []normalize.RawFile{
		rawFile("f", "big.pdf", strings.Repeat("x", 65)),
	}, target)

	require.Len(t, res.Failed, 1)
	var validation *ValidationError
	assert.ErrorAs(t, res.Failed[0], &validation)
	assert.Equal(t, "validation", res.Failed[0].Kind())
	assert.Empty(t, store.Paths())
	assert.True(t, res.AllFailed())
}

func TestOffloadDirectRejectsUnknownExtension(t *testing.T) {
	store := objectstore.NewMemoryStore()
	p := newTestPipeline(store, testConfig())

	res := p.OffloadDirect(context.Background(), []normalize.RawFile{
		rawFile("f", "run.exe", "MZ"),
		rawFile("g", "ok.PNG", "png"),
	}, target)

	require.Len(t, res.Failed, 1)
	assert.Equal(t, "run.exe", res.Failed[0].Filename)
	require.Len(t, res.Succeeded, 1)
	assert.Equal(t, "image/png", res.Succeeded[0].ContentType)
}

func TestOffloadDirectRequestBudgetStopsRemainingFiles(t *testing.T) {
	store := objectstore.NewMemoryStore()
	p := newTestPipeline(store, testConfig())

	files := []normalize.RawFile{
		rawFile("a", "a.txt", strings.Repeat("a", 40)),
		rawFile("b", "b.txt", strings.Repeat("b", 40)),
		rawFile("c", "c.txt", strings.Repeat("c", 40)),
		rawFile("d", "d.txt", "d"),
	}
	res := p.OffloadDirect(context.Background(), files, target)

	require.Len(t, res.Succeeded, 2)
	assert.Equal(t, "a", res.Succeeded[0].FieldName)
	assert.Equal(t, "b", res.Succeeded[1].FieldName)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, "c.txt", res.Failed[0].Filename)
	assert.Equal(t, "d.txt", res.Failed[1].Filename)
	assert.Len(t, store.Paths(), 2)
}

func TestOffloadDirectSanitizesTraversal(t *testing.T) {
	store := objectstore.NewMemoryStore()
	p := newTestPipeline(store, testConfig())

	res := p.OffloadDirect(context.Background(), []normalize.RawFile{
		rawFile("f", "../../etc/passwd.txt", "root"),
	}, target)

	require.Len(t, res.Succeeded, 1)
	path := res.Succeeded[0].StoragePath
	prefix := "projects/" + target.Namespace + "/"
	require.True(t, strings.HasPrefix(path, prefix))
	rest := strings.TrimPrefix(path, prefix)
	assert.NotContains(t, rest, "/")
	assert.NotContains(t, rest, "..")
	assert.True(t, strings.HasSuffix(rest, "_etc_passwd.txt"))
}

func TestOffloadDirectBackendFailure(t *testing.T) {
	store := objectstore.NewMemoryStore()
	store.PutErr = errors.New("connection refused")
	p := newTestPipeline(store, testConfig())

	res := p.OffloadDirect(context.Background(), []normalize.RawFile{rawFile("f", "a.pdf", "x")}, target)

	require.Len(t, res.Failed, 1)
	require.NotNil(t, res.BackendFailure())
	assert.Equal(t, "storage_backend", res.Failed[0].Kind())
}

type brokenSpool struct{}

func (brokenSpool) Read([]byte) (int, error) { return 0, errors.New("input/output error") }

func (brokenSpool) Seek(int64, int) (int64, error) { return 0, nil }

func TestOffloadDirectUnreadableSpoolIsBackendFailure(t *testing.T) {
	store := objectstore.NewMemoryStore()
	p := newTestPipeline(store, testConfig())

	res := p.OffloadDirect(context.Background(), []normalize.RawFile{
		{FieldName: "f", Filename: "a.pdf", Content: brokenSpool{}},
	}, target)

	require.Len(t, res.Failed, 1)
	assert.Equal(t, "storage_backend", res.Failed[0].Kind())
	require.NotNil(t, res.BackendFailure())
	var validation *ValidationError
	assert.False(t, errors.As(res.Failed[0], &validation))
	assert.Empty(t, store.Paths())
}

func TestOffloadDirectMissingContentIsValidation(t *testing.T) {
	p := newTestPipeline(objectstore.NewMemoryStore(), testConfig())

	res := p.OffloadDirect(context.Background(), []normalize.RawFile{{FieldName: "f", Filename: "a.pdf"}}, target)

	require.Len(t, res.Failed, 1)
	assert.Equal(t, "validation", res.Failed[0].Kind())
}

func fileServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		w.Write([]byte("content of " + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func encodedRefs(urls ...string) string {
	enc := make([]string, len(urls))
	for i, u := range urls {
		enc[i] = url.QueryEscape(u)
	}
	return strings.Join(enc, " , ")
}

func TestOffloadReferencesPartialFailure(t *testing.T) {
	srv := fileServer(t)
	store := objectstore.NewMemoryStore()
	p := newTestPipeline(store, testConfig())

	raw := encodedRefs(
		srv.URL+"/wp-content/uploads/2024/05/cv.pdf",
		srv.URL+"/wp-content/uploads/missing.pdf",
		srv.URL+"/files/photo.png",
	)
	res := p.OffloadReferences(context.Background(), "uploaded_files", raw, target)

	require.Len(t, res.Succeeded, 2)
	require.Len(t, res.Failed, 1)
	assert.False(t, res.AllFailed())
	assert.Nil(t, res.BackendFailure())
	assert.Equal(t, "remote_fetch", res.Failed[0].Kind())

	base := "projects/" + target.Namespace + "/resumes/" + target.SubmissionID + "_"
	assert.Equal(t, base+"2024_05_cv.pdf", res.Succeeded[0].StoragePath)
	assert.Equal(t, base+"photo.png", res.Succeeded[1].StoragePath)
	assert.Equal(t, "uploaded_files", res.Succeeded[0].FieldName)
	assert.Equal(t, models.StrategyRemote, res.Succeeded[0].Strategy)

	for _, rec := range res.Succeeded {
		data, _, err := store.Get(context.Background(), rec.StoragePath)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "content of "))
	}
}

func TestOffloadReferencesAllFail(t *testing.T) {
	srv := fileServer(t)
	p := newTestPipeline(objectstore.NewMemoryStore(), testConfig())

	raw := encodedRefs(srv.URL+"/uploads/missing-a.pdf", srv.URL+"/uploads/missing-b.pdf")
	res := p.OffloadReferences(context.Background(), "file_url", raw, target)

	assert.Empty(t, res.Succeeded)
	assert.Len(t, res.Failed, 2)
	assert.True(t, res.AllFailed())
}

func TestOffloadReferencesSkipsUnnamed(t *testing.T) {
	srv := fileServer(t)
	p := newTestPipeline(objectstore.NewMemoryStore(), testConfig())

	raw := encodedRefs(srv.URL+"/", srv.URL+"/a.txt")
	res := p.OffloadReferences(context.Background(), "file_url", raw, target)

	require.Len(t, res.Skipped, 1)
	assert.Len(t, res.Succeeded, 1)
	assert.Empty(t, res.Failed)
}

func TestOffloadReferencesFlatLayoutKeepsNamesDistinct(t *testing.T) {
	srv := fileServer(t)
	cfg := testConfig()
	cfg.Layout = LayoutFlat
	p := newTestPipeline(objectstore.NewMemoryStore(), cfg)

	raw := encodedRefs(srv.URL+"/a/doc.pdf", srv.URL+"/b/doc.pdf")
	res := p.OffloadReferences(context.Background(), "files", raw, target)

	require.Len(t, res.Succeeded, 2)
	assert.Equal(t, target.Namespace+"/doc.pdf", res.Succeeded[0].StoragePath)
	assert.Equal(t, target.Namespace+"/doc_1.pdf", res.Succeeded[1].StoragePath)
}

func TestOffloadReferencesWithoutFolder(t *testing.T) {
	srv := fileServer(t)
	p := newTestPipeline(objectstore.NewMemoryStore(), testConfig())

	other := target
	other.FormID = "unmapped"
	res := p.OffloadReferences(context.Background(), "files", encodedRefs(srv.URL+"/x.pdf"), other)

	require.Len(t, res.Succeeded, 1)
	assert.Equal(t, "projects/"+target.Namespace+"/"+target.SubmissionID+"_x.pdf", res.Succeeded[0].StoragePath)
}

func TestBatchResultMerge(t *testing.T) {
	var b BatchResult
	b.Merge(BatchResult{Succeeded: []models.FileRecord{{FieldName: "a"}}})
	b.Merge(BatchResult{Failed: []*OffloadError{{Filename: "b", Cause: &ValidationError{Reason: "x"}}}})

	assert.Equal(t, 2, b.Attempted())
	assert.False(t, b.AllFailed())
}
