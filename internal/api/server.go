package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/data-spider/internal/store"
)

const defaultRequestTimeout = 60 * time.Second

// Options configures a Server.
type Options struct {
	// Journal backs the /v1/runs routes. Nil answers them with 503.
	Journal store.Journal
	// Registry serves /metrics and receives the HTTP collectors. Nil uses the
	// default registry.
	Registry       *prometheus.Registry
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the run journal and metrics registry.
type Server struct {
	router  chi.Router
	journal store.Journal
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if opts.Registry != nil {
		registerer = opts.Registry
		gatherer = opts.Registry
	}
	httpMetrics, err := newHTTPMetrics(registerer)
	if err != nil {
		return nil, err
	}

	s := &Server{journal: opts.Journal, logger: logger}
	runs := NewRunsHandler(opts.Journal, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(httpMetrics.middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/runs", func(r chi.Router) {
		r.Get("/", runs.ListRuns)
		r.Route("/{run_id}", func(r chi.Router) {
			r.Get("/", runs.GetRun)
			r.Get("/sites", runs.ListRunSites)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	journal := "disabled"
	if s.journal != nil {
		journal = "enabled"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "journal": journal})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(fmt.Errorf("encode response: %w", err)))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
