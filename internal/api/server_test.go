package api

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/config"
	"github.com/JakeFAU/site-cloner/internal/eventlog"
	"github.com/JakeFAU/site-cloner/internal/jobs"
	queueMemory "github.com/JakeFAU/site-cloner/internal/queue/memory"
)

type testEnv struct {
	reg    *jobs.Registry
	queue  *queueMemory.Queue
	events *eventlog.Log
	server *Server
}

func testConfig() config.Config {
	return config.Config{
		Jobs:      config.JobsConfig{MaxPagesDefault: 20, MaxPagesLimit: 50},
		Transform: config.TransformConfig{DefaultModel: "agentic"},
	}
}

func newTestEnv(t *testing.T, mutate func(*config.Config, *Deps)) *testEnv {
	t.Helper()
	env := &testEnv{
		reg:    jobs.NewRegistry(jobs.WithClock(&steppingClock{now: time.Unix(100, 0).UTC()})),
		queue:  queueMemory.NewQueue(10),
		events: eventlog.New(eventlog.Config{ReplayInterval: time.Millisecond}),
	}
	cfg := testConfig()
	deps := Deps{
		Jobs:   env.reg,
		Queue:  env.queue,
		Events: env.events,
		Logger: zap.NewNop(),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	env.server = NewServer(deps, cfg)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestServer_SubmitClone_AppliesDefaultsAndEnqueues(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/v1/clone", `{"url":"https://example.com"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[jobResponse](t, rec)
	assert.Equal(t, cloner.JobStatusPending, resp.Status)
	assert.Equal(t, "agentic", resp.Model)
	assert.Equal(t, 20, resp.MaxPages)
	assert.True(t, resp.IncludeAssets)
	assert.False(t, resp.FullSite)
	assert.Nil(t, resp.Error)

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, resp.JobID, item.JobID)
}

func TestServer_SubmitClone_HonorsOptions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/v1/clone",
		`{"url":"https://example.com/shop","model":"fast","full_site":true,"max_pages":5,"include_assets":false}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[jobResponse](t, rec)
	job, err := env.reg.Get(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, cloner.Request{
		URL:           "https://example.com/shop",
		Model:         "fast",
		FullSite:      true,
		MaxPages:      5,
		IncludeAssets: false,
	}, job.Request)
}

func TestServer_SubmitClone_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{invalid`, "invalid JSON"},
		{"missing url", `{}`, "invalid url"},
		{"relative url", `{"url":"/about"}`, "invalid url"},
		{"unsupported scheme", `{"url":"ftp://example.com"}`, "invalid url"},
		{"zero pages", `{"url":"https://example.com","max_pages":0}`, "max_pages"},
		{"too many pages", `{"url":"https://example.com","max_pages":51}`, "max_pages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			rec := env.do(t, http.MethodPost, "/v1/clone", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Zero(t, env.reg.Len())
		})
	}
}

func TestServer_SubmitClone_QueueFailureEvictsJob(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(_ *config.Config, d *Deps) {
		d.Queue = failingQueue{err: errors.New("queue full")}
	})

	rec := env.do(t, http.MethodPost, "/v1/clone", `{"url":"https://example.com"}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, env.reg.Len())
}

func TestServer_GetClone(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	job, err := env.reg.Create(cloner.Request{URL: "https://example.com/", MaxPages: 1})
	require.NoError(t, err)
	_, err = env.reg.Fail(job.ID, "no pages could be captured")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/clone/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[jobResponse](t, rec)
	assert.Equal(t, cloner.JobStatusFailed, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "no pages could be captured", *resp.Error)

	rec = env.do(t, http.MethodGet, "/v1/clone/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListClones_NewestFirstWithoutResults(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	first, err := env.reg.Create(cloner.Request{URL: "https://a.example/"})
	require.NoError(t, err)
	_, err = env.reg.CompleteSinglePage(first.ID, cloner.SinglePageResult{HTML: "<html></html>"})
	require.NoError(t, err)
	second, err := env.reg.Create(cloner.Request{URL: "https://b.example/"})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/clone", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string][]jobResponse](t, rec)
	require.Len(t, resp["jobs"], 2)
	assert.Equal(t, second.ID, resp["jobs"][0].JobID)
	assert.Equal(t, first.ID, resp["jobs"][1].JobID)
	assert.Nil(t, resp["jobs"][1].Result)

	rec = env.do(t, http.MethodGet, "/v1/clone?status=completed", "")
	resp = decode[map[string][]jobResponse](t, rec)
	require.Len(t, resp["jobs"], 1)
	assert.Equal(t, first.ID, resp["jobs"][0].JobID)

	rec = env.do(t, http.MethodGet, "/v1/clone?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DownloadClone(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	pending, err := env.reg.Create(cloner.Request{URL: "https://example.com/"})
	require.NoError(t, err)
	rec := env.do(t, http.MethodGet, "/v1/clone/"+pending.ID+"/download", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	single, err := env.reg.Create(cloner.Request{URL: "https://example.com/"})
	require.NoError(t, err)
	_, err = env.reg.CompleteSinglePage(single.ID, cloner.SinglePageResult{HTML: "<html>one</html>"})
	require.NoError(t, err)
	rec = env.do(t, http.MethodGet, "/v1/clone/"+single.ID+"/download", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>one</html>", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "attachment; filename=clone_"+single.ID+".html", rec.Header().Get("Content-Disposition"))
	assert.Len(t, rec.Header().Get("ETag"), 66)

	site, err := env.reg.Create(cloner.Request{URL: "https://example.com/", FullSite: true})
	require.NoError(t, err)
	_, err = env.reg.CompleteFullSite(site.ID, cloner.FullSiteResult{
		Pages: []cloner.SitePage{
			{URL: "https://example.com/", Path: "index.html", HTML: "<html>home</html>"},
			{URL: "https://example.com/about", Path: "about.html", HTML: "<html>about</html>"},
		},
		Sitemap: []string{"https://example.com/", "https://example.com/about"},
	})
	require.NoError(t, err)
	rec = env.do(t, http.MethodGet, "/v1/clone/"+site.ID+"/download", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=cloned_site_"+site.ID+".zip", rec.Header().Get("Content-Disposition"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"index.html", "about.html", "sitemap.txt"}, names)

	rec = env.do(t, http.MethodGet, "/v1/clone/missing/download", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DeleteClone(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	running, err := env.reg.Create(cloner.Request{URL: "https://example.com/"})
	require.NoError(t, err)
	_, err = env.reg.Transition(running.ID, cloner.JobStatusCapturing, "capturing")
	require.NoError(t, err)
	rec := env.do(t, http.MethodDelete, "/v1/clone/"+running.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	done, err := env.reg.Create(cloner.Request{URL: "https://example.com/"})
	require.NoError(t, err)
	_, err = env.reg.CompleteSinglePage(done.ID, cloner.SinglePageResult{HTML: "x"})
	require.NoError(t, err)
	env.events.Append(done.ID, cloner.TagInfo, "hello")
	env.events.End(done.ID)

	rec = env.do(t, http.MethodDelete, "/v1/clone/"+done.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.events.History(done.ID))
	_, err = env.reg.Get(done.ID)
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	rec = env.do(t, http.MethodDelete, "/v1/clone/"+done.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StreamLogs_ReplaysHistoryAndEnds(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	job, err := env.reg.Create(cloner.Request{URL: "https://example.com/"})
	require.NoError(t, err)
	env.events.Append(job.ID, cloner.TagHeader, "Initializing single page clone...")
	env.events.Append(job.ID, cloner.TagSuccess, "Captured page")

	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	go func() {
		time.Sleep(20 * time.Millisecond)
		env.events.Append(job.ID, cloner.TagInfo, "live line")
		env.events.End(job.ID)
	}()

	resp, err := http.Get(ts.URL + "/v1/clone/" + job.ID + "/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{
		"data: 🚀 Initializing single page clone...",
		"data: ✅ Captured page",
		"data: > live line",
		"data: [END]",
	}, lines)
}

func TestServer_StreamLogs_MultiLineEntryIsOneEvent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	job, err := env.reg.Create(cloner.Request{URL: "https://example.com/"})
	require.NoError(t, err)
	env.events.Append(job.ID, cloner.TagCode, "<html>\n<body>\n\nhi")
	env.events.End(job.ID)

	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/v1/clone/" + job.ID + "/logs")
	require.NoError(t, err)
	defer resp.Body.Close()

	var (
		events []string
		data   []string
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			events = append(events, strings.Join(data, "\n"))
			data = nil
			continue
		}
		require.True(t, strings.HasPrefix(line, "data:"), "unexpected field %q", line)
		data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"CODE: <html>\n<body>\n\nhi", "[END]"}, events)
}

func TestSSEEventFramesEachLine(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "data: one\n\n", sseEvent("one"))
	assert.Equal(t, "data: a\ndata: \ndata: b\n\n", sseEvent("a\r\n\nb"))
}

func TestServer_StreamLogs_UnknownJob(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/v1/clone/missing/logs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *config.Config, _ *Deps) {
		c.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	})

	rec := env.do(t, http.MethodGet, "/v1/clone", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/clone", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/clone?api_key=secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env = newTestEnv(t, func(_ *config.Config, d *Deps) {
		d.Ready = map[string]ReadyCheck{
			"db": func(context.Context) error { return errors.New("connection refused") },
		}
	})
	rec = env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/healthz", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type failingQueue struct {
	err error
}

func (q failingQueue) Enqueue(context.Context, cloner.QueueItem) error {
	return q.err
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
