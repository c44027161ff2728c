package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/encnetwork/doctrans/internal/document"
	"github.com/encnetwork/doctrans/internal/download"
	"github.com/encnetwork/doctrans/internal/jobs"
	"github.com/encnetwork/doctrans/internal/service"
)

type testEnv struct {
	server    *Server
	store     *jobs.Store
	downloads *download.Registry
	dataDir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store, err := jobs.NewStore(ctx, nil)
	require.NoError(t, err)
	downloads, err := download.NewRegistry(ctx, nil, download.WithTTL(2*time.Hour))
	require.NoError(t, err)

	codecs := document.NewRegistry()
	codecs.Register(".xlsx", document.NewXLSXCodec())

	dataDir := t.TempDir()
	server := NewServer(store, downloads, codecs, service.NewWorkspace(dataDir))
	return &testEnv{server: server, store: store, downloads: downloads, dataDir: dataDir}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for key, value := range fields {
		require.NoError(t, w.WriteField(key, value))
	}
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func TestHandleTranslate_EnqueuesJob(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartUpload(t,
		map[string]string{"target_lang": "de"},
		map[string][]byte{"report.xlsx": []byte("fake workbook")},
	)

	req := httptest.NewRequest(http.MethodPost, "/api/translate", body)
	req.Header.Set("Content-Type", contentType)
	rec := env.do(t, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp enqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.JobID, 12)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, 1, resp.Position)
	assert.Equal(t, 1, resp.FileCount)

	job, err := env.store.Get(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "auto", job.SourceLang)
	assert.Equal(t, "de", job.TargetLang)
	assert.Equal(t, []string{"report.xlsx"}, job.OriginalFiles)

	saved, err := os.ReadFile(job.FilePaths["report.xlsx"])
	require.NoError(t, err)
	assert.Equal(t, []byte("fake workbook"), saved)
}

func TestHandleTranslate_RequiresTargetLang(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartUpload(t, nil, map[string][]byte{"report.xlsx": []byte("x")})

	req := httptest.NewRequest(http.MethodPost, "/api/translate", body)
	req.Header.Set("Content-Type", contentType)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "target_lang")
}

func TestHandleTranslate_RejectsUnsupportedFormat(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartUpload(t,
		map[string]string{"target_lang": "de"},
		map[string][]byte{"notes.txt": []byte("plain text")},
	)

	req := httptest.NewRequest(http.MethodPost, "/api/translate", body)
	req.Header.Set("Content-Type", contentType)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported")
	assert.Equal(t, 0, env.store.Stats().Total)
}

func TestHandleTranslate_RejectsEmptyUpload(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartUpload(t, map[string]string{"target_lang": "de"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/translate", body)
	req.Header.Set("Content-Type", contentType)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTranslate_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/translate", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleJobStatus(t *testing.T) {
	env := newTestEnv(t)
	job, err := env.store.Enqueue(context.Background(), jobs.EnqueueRequest{
		SourceLang: "en",
		TargetLang: "de",
		Files:      []string{"a.xlsx"},
		FilePaths:  map[string]string{"a.xlsx": "/tmp/a.xlsx"},
	})
	require.NoError(t, err)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp jobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, job.ID, resp.JobID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, 1, resp.Position)
	assert.Equal(t, []string{"a.xlsx"}, resp.OriginalFiles)
}

func TestHandleJobStatus_CompletedJobCarriesDownloadToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job, err := env.store.Enqueue(ctx, jobs.EnqueueRequest{
		TargetLang: "de",
		Files:      []string{"a.xlsx"},
		FilePaths:  map[string]string{"a.xlsx": "/tmp/a.xlsx"},
	})
	require.NoError(t, err)
	_, err = env.store.UpdateStatus(ctx, job.ID, jobs.StatusProcessing, jobs.Update{})
	require.NoError(t, err)
	_, err = env.store.UpdateStatus(ctx, job.ID, jobs.StatusCompleted, jobs.Update{TranslatedFiles: []string{"translated_a.xlsx"}})
	require.NoError(t, err)

	artifact := filepath.Join(t.TempDir(), "result.zip")
	require.NoError(t, os.WriteFile(artifact, []byte("zip"), 0o644))
	token, err := env.downloads.Issue(ctx, job.ID, artifact)
	require.NoError(t, err)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp jobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, token.Token, resp.DownloadToken)
}

func TestHandleJobStatus_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleQueueStats(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.Enqueue(context.Background(), jobs.EnqueueRequest{
		TargetLang: "de",
		Files:      []string{"a.xlsx"},
	})
	require.NoError(t, err)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats jobs.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Pending)
}

func TestHandleDownload(t *testing.T) {
	env := newTestEnv(t)
	artifact := filepath.Join(t.TempDir(), "job1_translated.zip")
	require.NoError(t, os.WriteFile(artifact, []byte("zip bytes"), 0o644))

	token, err := env.downloads.Issue(context.Background(), "job1", artifact)
	require.NoError(t, err)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/download/"+token.Token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "job1_translated.zip")
	assert.Equal(t, "zip bytes", rec.Body.String())
}

func TestHandleDownload_UnknownToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/download/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDownload_ExpiredToken(t *testing.T) {
	now := time.Now()
	clock := now
	ctx := context.Background()
	store, err := jobs.NewStore(ctx, nil)
	require.NoError(t, err)
	downloads, err := download.NewRegistry(ctx, nil,
		download.WithTTL(2*time.Hour),
		download.WithClock(func() time.Time { return clock }),
	)
	require.NoError(t, err)
	codecs := document.NewRegistry()
	server := NewServer(store, downloads, codecs, service.NewWorkspace(t.TempDir()))

	artifact := filepath.Join(t.TempDir(), "result.zip")
	require.NoError(t, os.WriteFile(artifact, []byte("zip"), 0o644))
	token, err := downloads.Issue(ctx, "job1", artifact)
	require.NoError(t, err)

	clock = now.Add(3 * time.Hour)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/download/"+token.Token, nil))
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
	assert.Contains(t, rec.Body.String(), ".xlsx")
}
