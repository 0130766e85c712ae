package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stemforge/internal/config"
	"github.com/stemforge/internal/lifecycle"
	"github.com/stemforge/internal/queue"
	"github.com/stemforge/internal/registry"
	"github.com/stemforge/internal/upload"
	"github.com/stemforge/pkg/logger"
)

func init() {
	logger.Init(false)
}

type noopProcessor struct{}

func (noopProcessor) ProcessBatch(_ context.Context, items []*queue.Item) []error {
	return make([]error, len(items))
}

type fixture struct {
	router  *gin.Engine
	handler *Handler
	pending *registry.PendingSet
	root    string
}

func newFixture(t *testing.T, perFile bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	pending := registry.NewPendingSet(1000, 1500)
	scheduled := registry.NewScheduleSet()
	var downloads *registry.DownloadStatus
	if perFile {
		downloads = registry.NewDownloadStatus()
	}
	lc := lifecycle.New(pending, downloads, scheduled, time.Hour, time.Hour)

	q := queue.New(noopProcessor{}, nil, pending, queue.Options{Workers: 1})
	limiter := upload.NewLimiter(2, 50*time.Millisecond)

	h := New(q, queue.NewStatusBoard(), pending, lc, limiter, perFile)
	h.folders = config.FoldersConfig{
		Uploads:   filepath.Join(root, "uploads"),
		Separated: filepath.Join(root, "separated"),
		Processed: filepath.Join(root, "processed"),
		Covers:    filepath.Join(root, "covers"),
	}

	r := gin.New()
	h.RegisterRoutes(r)
	return &fixture{router: r, handler: h, pending: pending, root: root}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func multipartUpload(t *testing.T, field string, names ...string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, name := range names {
		fw, err := w.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte("audio bytes"))
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestHealthAndVersion(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/version", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("version = %d", w.Code)
	}
}

func TestUploadQueuesAudioFiles(t *testing.T) {
	f := newFixture(t, false)

	body, ctype := multipartUpload(t, "files", "Song.mp3", "notes.txt")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload?session_id=s1", body)
	req.Header.Set("Content-Type", ctype)

	w := f.do(req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("upload = %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		SessionID string   `json:"session_id"`
		Queued    []string `json:"queued"`
		Skipped   []string `json:"skipped"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "s1" {
		t.Fatalf("session_id = %s", resp.SessionID)
	}
	if len(resp.Queued) != 1 || resp.Queued[0] != "Song.mp3" {
		t.Fatalf("queued = %v", resp.Queued)
	}
	if len(resp.Skipped) != 1 || resp.Skipped[0] != "notes.txt" {
		t.Fatalf("skipped = %v", resp.Skipped)
	}
	saved := filepath.Join(f.handler.folders.Uploads, "s1", "Song.mp3")
	if _, err := os.Stat(saved); err != nil {
		t.Fatalf("saved file: %v", err)
	}
}

func TestUploadSkipsDuplicate(t *testing.T) {
	f := newFixture(t, false)

	for i := 0; i < 2; i++ {
		body, ctype := multipartUpload(t, "files", "Song.mp3")
		req := httptest.NewRequest(http.MethodPost, "/api/v1/upload?session_id=s1", body)
		req.Header.Set("Content-Type", ctype)
		w := f.do(req)
		if w.Code != http.StatusAccepted {
			t.Fatalf("upload %d = %d", i, w.Code)
		}
		if i == 1 && !strings.Contains(w.Body.String(), `"skipped":["Song.mp3"]`) {
			t.Fatalf("duplicate not skipped: %s", w.Body.String())
		}
	}
}

func TestUploadServerBusy(t *testing.T) {
	f := newFixture(t, false)

	// Hold both semaphore slots so the request times out.
	f.handler.limiter.TryAcquire()
	f.handler.limiter.TryAcquire()

	body, ctype := multipartUpload(t, "files", "Song.mp3")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", body)
	req.Header.Set("Content-Type", ctype)

	w := f.do(req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("busy upload = %d", w.Code)
	}
}

func TestConfirmDownloadSchedules(t *testing.T) {
	f := newFixture(t, false)
	f.pending.Register(registry.PendingEntry{Track: "Song"})

	body := bytes.NewBufferString(`{"track":"Song"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/confirm_download", body)
	req.Header.Set("Content-Type", "application/json")

	w := f.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm = %d: %s", w.Code, w.Body.String())
	}
	if f.pending.Contains("Song") {
		t.Fatal("track still pending after confirmation")
	}
}

func TestConfirmDownloadQueryFallback(t *testing.T) {
	f := newFixture(t, false)
	f.pending.Register(registry.PendingEntry{Track: "Song"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/confirm_download?track=Song", nil)
	w := f.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm via query = %d: %s", w.Code, w.Body.String())
	}
}

func TestConfirmDownloadSuggestions(t *testing.T) {
	f := newFixture(t, false)
	f.pending.Register(registry.PendingEntry{Track: "Song (Edit)"})

	body := bytes.NewBufferString(`{"track":"Song"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/confirm_download", body)
	req.Header.Set("Content-Type", "application/json")

	w := f.do(req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("confirm unknown = %d", w.Code)
	}

	var resp struct {
		Suggestions  []string `json:"suggestions"`
		PendingCount int      `json:"pending_count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Suggestions) != 1 || resp.Suggestions[0] != "Song (Edit)" {
		t.Fatalf("suggestions = %v", resp.Suggestions)
	}
	if resp.PendingCount != 1 {
		t.Fatalf("pending_count = %d", resp.PendingCount)
	}
}

func TestDownloadServesFile(t *testing.T) {
	f := newFixture(t, false)

	dir := filepath.Join(f.handler.folders.Processed, "Song")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Song - Main.mp3"), []byte("artifact"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/download/Song/Song%20-%20Main.mp3", nil)
	w := f.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("download = %d", w.Code)
	}
	if w.Body.String() != "artifact" {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestDownloadUnknownFile(t *testing.T) {
	f := newFixture(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/download/Nope/missing.mp3", nil)
	if w := f.do(req); w.Code != http.StatusNotFound {
		t.Fatalf("download = %d", w.Code)
	}
}

func TestPendingListWarning(t *testing.T) {
	f := newFixture(t, false)
	// Low thresholds for the warning path.
	f.handler.pending = registry.NewPendingSet(1, 2)
	f.handler.pending.Register(registry.PendingEntry{Track: "Song", Files: []string{"a.mp3"}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pending", nil)
	w := f.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("pending = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "approaching capacity") {
		t.Fatalf("no warning in %s", w.Body.String())
	}
}

func TestRescanUploadsRequeuesDiskFiles(t *testing.T) {
	f := newFixture(t, false)

	dir := filepath.Join(f.handler.folders.Uploads, "s1")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"one.mp3", "two.wav", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("audio"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	w := f.do(httptest.NewRequest(http.MethodPost, "/api/v1/rescan_uploads", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("rescan = %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["found"] != 2 || resp["queued"] != 2 {
		t.Errorf("resp = %v, want 2 audio files found and queued", resp)
	}

	if waiting := f.handler.queue.Stats()["waiting"]; waiting != 2 {
		t.Errorf("waiting = %d, want 2", waiting)
	}
}

func TestQueueEndpoints(t *testing.T) {
	f := newFixture(t, false)
	f.handler.queue.Enqueue("Song.mp3", "s1")

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Song.mp3") {
		t.Fatalf("queue = %d: %s", w.Code, w.Body.String())
	}

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/queue/stats", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "waiting") {
		t.Fatalf("stats = %d: %s", w.Code, w.Body.String())
	}

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/queue/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown item = %d", w.Code)
	}
}

func TestStatusEndpoints(t *testing.T) {
	f := newFixture(t, false)
	f.handler.status.Update("s1", func(st *queue.Status) {
		st.State = queue.StateProcessing
		st.TotalFiles = 3
	})

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/status/s1", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"processing"`) {
		t.Fatalf("session status = %d: %s", w.Code, w.Body.String())
	}

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/status/other", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown session = %d", w.Code)
	}

	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/v1/status/s1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("reset = %d", w.Code)
	}
	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/status/s1", nil))
	if !strings.Contains(w.Body.String(), `"idle"`) {
		t.Fatalf("status after reset: %s", w.Body.String())
	}
}
