package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/clock/system"
	"github.com/JakeFAU/racing-crawler/internal/config"
	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/dispatcher"
	"github.com/JakeFAU/racing-crawler/internal/metrics"
	"github.com/JakeFAU/racing-crawler/internal/sites"
	"github.com/JakeFAU/racing-crawler/internal/storage/memory"
	"github.com/JakeFAU/racing-crawler/internal/store"
)

var testNow = time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

func TestServerLaunchCrawlQueuesRun(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{runID: "0190a0f4-0000-7000-8000-000000000001"}
	srv := newTestServer(t, Deps{Launcher: launcher})

	body := `{"dates":{"start_date":"2024-05-01","end_date":"2024-05-02"},"region":"Domestic"}`
	rec := serve(srv, http.MethodPost, "/v1/crawls/results", body, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, launcher.runID, resp["run_id"])
	require.Equal(t, "results", resp["site"])
	require.Equal(t, "/v1/crawls/"+launcher.runID, resp["status_url"])

	calls := launcher.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, sites.KindResults, calls[0].kind)
	require.Equal(t, "2024-05-01", calls[0].params.Dates.StartDate)
	require.Equal(t, "Domestic", calls[0].params.Region)
}

func TestServerLaunchCrawlEmptyBody(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{runID: "run"}
	srv := newTestServer(t, Deps{Launcher: launcher})

	rec := serve(srv, http.MethodPost, "/v1/crawls/news", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, launcher.snapshot(), 1)
}

func TestServerLaunchCrawlRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		path   string
		body   string
		err    error
		status int
	}{
		{name: "unknown site", path: "/v1/crawls/greyhounds", status: http.StatusNotFound},
		{name: "invalid json", path: "/v1/crawls/entries", body: "{", status: http.StatusBadRequest},
		{name: "unknown field", path: "/v1/crawls/entries", body: `{"urls":["x"]}`, status: http.StatusBadRequest},
		{
			name:   "reversed dates",
			path:   "/v1/crawls/entries",
			body:   `{"dates":{"start_date":"2024-05-03","end_date":"2024-05-01"}}`,
			status: http.StatusBadRequest,
		},
		{name: "bad num_pages", path: "/v1/crawls/news", body: `{"pages":{"num_pages":"lots"}}`, status: http.StatusBadRequest},
		{name: "queue closed", path: "/v1/crawls/news", err: dispatcher.ErrQueueClosed, status: http.StatusServiceUnavailable},
		{name: "launcher error", path: "/v1/crawls/news", err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			launcher := &fakeLauncher{runID: "run", err: tc.err}
			srv := newTestServer(t, Deps{Launcher: launcher})
			rec := serve(srv, http.MethodPost, tc.path, tc.body, nil)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.err == nil {
				require.Empty(t, launcher.snapshot())
			}
		})
	}
}

func TestServerAPIKeyGuardsLaunch(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{runID: "run"}
	srv := newTestServer(t, Deps{
		Launcher: launcher,
		Auth:     config.AuthConfig{Enabled: true, APIKey: "secret"},
	})

	rec := serve(srv, http.MethodPost, "/v1/crawls/news", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(srv, http.MethodPost, "/v1/crawls/news", "", http.Header{"X-Api-Key": {"wrong"}})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(srv, http.MethodPost, "/v1/crawls/news", "", http.Header{"X-Api-Key": {"secret"}})
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Probes and reads stay open.
	rec = serve(srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(srv, http.MethodGet, "/v1/crawls", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerGetRun(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore()
	id := uuid.New()
	require.NoError(t, runs.StartRun(context.Background(), id, "entries", json.RawMessage(`{"dates":{}}`), testNow))
	require.NoError(t, runs.AddCounts(context.Background(), id, store.RunCounts{TotalItems: 3, TargetsOK: 2}))
	srv := newTestServer(t, Deps{Runs: runs})

	rec := serve(srv, http.MethodGet, "/v1/crawls/"+id.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Run store.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, id, resp.Run.ID)
	require.Equal(t, store.RunRunning, resp.Run.Status)
	require.Equal(t, int64(3), resp.Run.TotalItems)
	require.Equal(t, int64(2), resp.Run.TargetsOK)

	rec = serve(srv, http.MethodGet, "/v1/crawls/"+uuid.NewString(), "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(srv, http.MethodGet, "/v1/crawls/not-a-uuid", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerListRuns(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore()
	ctx := context.Background()
	done, running := uuid.New(), uuid.New()
	require.NoError(t, runs.StartRun(ctx, done, "news", nil, testNow.Add(-time.Hour)))
	require.NoError(t, runs.FinishRun(ctx, done, testNow, store.RunCompleted, nil))
	require.NoError(t, runs.StartRun(ctx, running, "entries", nil, testNow))
	srv := newTestServer(t, Deps{Runs: runs})

	rec := serve(srv, http.MethodGet, "/v1/crawls?status=completed", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Runs []store.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	require.Equal(t, done, resp.Runs[0].ID)

	rec = serve(srv, http.MethodGet, "/v1/crawls?status=paused", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(srv, http.MethodGet, "/v1/crawls?limit=-1", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(srv, http.MethodGet, "/v1/crawls?offset=x", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerListRunsRepositoryError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{Runs: failingRuns{}})
	rec := serve(srv, http.MethodGet, "/v1/crawls", "", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	rec = serve(srv, http.MethodGet, "/v1/crawls/"+uuid.NewString(), "", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerProbes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})
	rec := serve(srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(srv, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	notReady := newTestServer(t, Deps{Readiness: readiness{err: errors.New("db down")}})
	rec = serve(notReady, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	httpMetrics, err := metrics.NewHTTP(reg)
	require.NoError(t, err)
	srv := newTestServer(t, Deps{Gatherer: reg, HTTPMetrics: httpMetrics})

	serve(srv, http.MethodGet, "/healthz", "", nil)
	rec := serve(srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `racecrawler_http_requests_total{code="200",method="GET",route="/healthz"} 1`)
}

func TestServerRecoversPanics(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{Launcher: panicLauncher{}})
	rec := serve(srv, http.MethodPost, "/v1/crawls/news", "", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNewServerValidates(t *testing.T) {
	t.Parallel()

	clock := system.Fixed{At: testNow}
	_, err := NewServer(Deps{Runs: memory.NewRunStore(), Clock: clock})
	require.ErrorContains(t, err, "launcher")
	_, err = NewServer(Deps{Launcher: &fakeLauncher{}, Clock: clock})
	require.ErrorContains(t, err, "run repository")
	_, err = NewServer(Deps{Launcher: &fakeLauncher{}, Runs: memory.NewRunStore()})
	require.ErrorContains(t, err, "clock")
	_, err = NewServer(Deps{
		Launcher: &fakeLauncher{},
		Runs:     memory.NewRunStore(),
		Clock:    clock,
		Auth:     config.AuthConfig{Enabled: true},
	})
	require.ErrorContains(t, err, "api key")
}

func newTestServer(t *testing.T, d Deps) *Server {
	t.Helper()
	if d.Launcher == nil {
		d.Launcher = &fakeLauncher{runID: "run"}
	}
	if d.Runs == nil {
		d.Runs = memory.NewRunStore()
	}
	if d.Clock == nil {
		d.Clock = system.Fixed{At: testNow}
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.NewRegistry()
	}
	d.Logger = zap.NewNop()
	srv, err := NewServer(d)
	require.NoError(t, err)
	return srv
}

func serve(srv *Server, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

type launchCall struct {
	kind   sites.Kind
	params crawler.Params
}

type fakeLauncher struct {
	mu    sync.Mutex
	runID string
	err   error
	calls []launchCall
}

func (f *fakeLauncher) Launch(_ context.Context, kind sites.Kind, params crawler.Params) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, launchCall{kind: kind, params: params})
	if f.err != nil {
		return "", f.err
	}
	return f.runID, nil
}

func (f *fakeLauncher) snapshot() []launchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]launchCall(nil), f.calls...)
}

type panicLauncher struct{}

func (panicLauncher) Launch(context.Context, sites.Kind, crawler.Params) (string, error) {
	panic("launcher exploded")
}

type readiness struct{ err error }

func (r readiness) Ready(context.Context) error { return r.err }

type failingRuns struct{ store.RunRepository }

func (failingRuns) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, errors.New("db down")
}

func (failingRuns) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, errors.New("db down")
}
