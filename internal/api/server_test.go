package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/data-spider/internal/store"
)

func newTestServer(t *testing.T, journal store.Journal) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	srv, err := NewServer(Options{Journal: journal, Registry: reg})
	require.NoError(t, err)
	return srv, reg
}

func TestServerHealth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	for path, want := range map[string]string{
		"/healthz": `{"status":"ok"}`,
		"/readyz":  `{"status":"ready","journal":"disabled"}`,
	} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.JSONEq(t, want, rec.Body.String(), path)
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
}

func TestServerKeepsCallerRequestID(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestServerMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, reg := newTestServer(t, nil)
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "spider_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(2)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "spider_test_total 2")
	require.Contains(t, body, "spider_http_requests_total")
}

func TestServerRecordsRouteMetrics(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	journal := &mockJournal{}
	journal.On("ListRunSites", mock.Anything, runID, defaultSitesLimit, 0).Return([]store.SiteRun{}, nil)
	srv, reg := newTestServer(t, journal)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String()+"/sites", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"sites":[]}`, rec.Body.String())

	expected := `
# HELP spider_http_requests_total Total number of API requests, labeled by method and code.
# TYPE spider_http_requests_total counter
spider_http_requests_total{code="200",method="GET"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "spider_http_requests_total"))
	journal.AssertExpectations(t)
}

func TestServerRoutesRuns(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	journal := &mockJournal{}
	journal.On("GetRun", mock.Anything, runID).Return(store.Run{ID: runID, Status: store.RunRunning}, nil)
	srv, _ := newTestServer(t, journal)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), runID.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewServer(Options{Registry: reg})
	require.NoError(t, err)
	_, err = NewServer(Options{Registry: reg})
	require.Error(t, err)
}
