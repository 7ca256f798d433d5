package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewaylens/internal/analysis"
	"gatewaylens/internal/anomalies"
	"gatewaylens/internal/config"
	"gatewaylens/internal/ingest"
	"gatewaylens/internal/metrics"
	"gatewaylens/internal/model"
	"gatewaylens/internal/storage"
)

var t0 = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

type harness struct {
	router *mux.Router
	proc   *ingest.Processor
	store  storage.Store
}

func newHarness(t *testing.T) harness {
	t.Helper()
	cfg := config.DefaultConfig()
	store, err := storage.NewSQLite("file::memory:")
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	analyzer, err := analysis.New(cfg, nil)
	require.NoError(t, err)
	ms := metrics.NewStore(10)
	as := anomalies.NewStore(100)
	n := 0
	proc := ingest.NewProcessor(cfg, analyzer, store, nil,
		ingest.WithMetrics(ms),
		ingest.WithAnomalies(as),
		ingest.WithIDFunc(func() string {
			n++
			return fmt.Sprintf("file-%d", n)
		}),
	)
	srv := NewServer(Deps{
		Config:    config.NewStaticManager(cfg),
		Store:     store,
		Processor: proc,
		Analyzer:  analyzer,
		Metrics:   ms,
		Anomalies: as,
		Version:   "test",
	})
	return harness{router: srv.Router(), proc: proc, store: store}
}

func content(n int) string {
	lines := make([]string, n)
	for i := range lines {
		cols := make([]string, 33)
		for c := range cols {
			cols[c] = "None"
		}
		cols[0] = t0.Add(time.Duration(i) * time.Second).Format(time.RFC3339)
		cols[3] = fmt.Sprintf("example.com/%d", i%3)
		cols[4] = "Allowed"
		if i%4 == 0 {
			cols[4] = "Blocked"
		}
		cols[5] = "Teams"
		cols[21] = fmt.Sprintf("10.0.0.%d", i%5)
		cols[23] = "GET"
		lines[i] = strings.Join(cols, ",")
	}
	return strings.Join(lines, "\n")
}

func (h harness) do(t *testing.T, req *http.Request, owner string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	var body map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func (h harness) get(t *testing.T, path, owner string) (*httptest.ResponseRecorder, map[string]any) {
	return h.do(t, httptest.NewRequest(http.MethodGet, path, nil), owner)
}

func uploadRequest(t *testing.T, field, name, data string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	require.Equal(t, true, body["success"])
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "data is %T", body["data"])
	return d
}

func TestUploadAndQuery(t *testing.T) {
	h := newHarness(t)

	w, body := h.do(t, uploadRequest(t, "logFile", "proxy.csv", content(20)), "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	upload := data(t, body)
	assert.Equal(t, "File uploaded successfully and processing started", upload["message"])
	logFile := upload["logFile"].(map[string]any)
	assert.Equal(t, "file-1", logFile["id"])
	assert.Equal(t, "processing", logFile["status"])
	assert.Equal(t, "alice", logFile["userId"])
	h.proc.Wait()

	w, body = h.get(t, "/files", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	files := body["data"].([]any)
	require.Len(t, files, 1)
	assert.Equal(t, "completed", files[0].(map[string]any)["status"])

	w, body = h.get(t, "/files/file-1", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	detail := data(t, body)
	result := detail["analysis"].(map[string]any)
	assert.EqualValues(t, 20, result["totalRequests"])
	assert.EqualValues(t, 5, result["blockedRequests"])

	w, body = h.get(t, "/files/file-1/entries?page=2&limit=8", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	page := data(t, body)
	assert.Len(t, page["entries"], 8)
	assert.Equal(t, map[string]any{"page": 2.0, "limit": 8.0, "total": 20.0, "pages": 3.0}, page["pagination"])

	w, body = h.get(t, "/files/file-1/entries?page=x", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data(t, body)["entries"], 20)

	w, body = h.get(t, "/files/file-1/timeline", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	tl := data(t, body)
	assert.Len(t, tl["timelineEvents"], 20)
	summary := tl["timelineSummary"].(map[string]any)
	assert.EqualValues(t, 20, summary["totalEvents"])

	w, body = h.get(t, "/files/file-1/anomalies", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	fileAnomalies := data(t, body)

	w, body = h.get(t, "/anomalies/recent", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, fileAnomalies["count"], data(t, body)["count"])

	w, body = h.get(t, "/metrics/file-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 20, data(t, body)["parsed"])
}

func TestOwnerIsolation(t *testing.T) {
	h := newHarness(t)
	w, _ := h.do(t, uploadRequest(t, "logFile", "proxy.log", content(5)), "alice")
	require.Equal(t, http.StatusOK, w.Code)
	h.proc.Wait()

	for _, path := range []string{"/files/file-1", "/files/file-1/entries", "/files/file-1/timeline", "/files/file-1/anomalies"} {
		w, body := h.get(t, path, "bob")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "Log file not found", body["error"])
	}
	_, body := h.get(t, "/files", "bob")
	assert.Empty(t, body["data"])
}

func TestUploadRejects(t *testing.T) {
	h := newHarness(t)

	w, body := h.do(t, uploadRequest(t, "logFile", "capture.pcap", "x"), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Only .log, .txt, and .csv files are allowed", body["error"])

	w, body = h.do(t, uploadRequest(t, "other", "proxy.log", "x"), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No file uploaded", body["error"])

	w, _ = h.do(t, httptest.NewRequest(http.MethodPost, "/files", strings.NewReader("plain")), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidUploadEndsInError(t *testing.T) {
	h := newHarness(t)
	w, _ := h.do(t, uploadRequest(t, "logFile", "short.txt", "a,b,c"), "")
	require.Equal(t, http.StatusOK, w.Code)
	h.proc.Wait()

	_, body := h.get(t, "/files/file-1", "")
	detail := data(t, body)
	logFile := detail["logFile"].(map[string]any)
	assert.Equal(t, "error", logFile["status"])
	analysisResult := detail["analysis"].(map[string]any)
	assert.Empty(t, analysisResult["timelineEvents"])
}

func TestFileWithoutStoredAnalysisIsReanalysed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.CreateFile(ctx, model.LogFile{ID: "legacy", Filename: "legacy.log", OriginalName: "legacy.log", Owner: "anonymous"}))
	entries := []model.ParsedLogEntry{
		{ID: "e1", Timestamp: t0, ClientIP: "1.2.3.4", URL: "example.com/a", Action: "Blocked", RequestMethod: "GET"},
		{ID: "e2", Timestamp: t0.Add(time.Second), ClientIP: "1.2.3.5", URL: "example.com/b", Action: "Allowed"},
	}
	require.NoError(t, h.store.CompleteFile(ctx, "legacy", entries, nil))

	w, body := h.get(t, "/files/legacy/timeline", "")
	require.Equal(t, http.StatusOK, w.Code)
	events := data(t, body)["timelineEvents"].([]any)
	require.Len(t, events, 2)
	first := events[0].(map[string]any)
	assert.Equal(t, "event_cluster", first["type"])
	assert.Equal(t, "Blocked GET from 1.2.3.4", first["title"])
}

func TestStatusHealthAndClear(t *testing.T) {
	h := newHarness(t)

	w, body := h.get(t, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, body = h.get(t, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "sqlite", body["storage"])
	detection := body["detection"].(map[string]any)
	assert.Contains(t, detection["enabled"], "bandwidth")
	assert.NotContains(t, detection["enabled"], "ip_behavior")

	w, _ = h.do(t, httptest.NewRequest(http.MethodPost, "/admin/clear", strings.NewReader(`{"target":"metrics"}`)), "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = h.do(t, httptest.NewRequest(http.MethodPost, "/admin/clear", strings.NewReader(`{"target":"disk"}`)), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = h.get(t, "/metrics/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = h.get(t, "/anomalies/recent?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
