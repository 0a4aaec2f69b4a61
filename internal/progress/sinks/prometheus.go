package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/data-spider/internal/progress"
)

// PrometheusSink exports crawl progress as Prometheus metrics.
type PrometheusSink struct {
	sitesStarted  prometheus.Counter
	sitesFinished *prometheus.CounterVec
	sitesRunning  prometheus.Gauge
	siteRuntime   *prometheus.HistogramVec
	steps         *prometheus.CounterVec

	fetches       *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	artifacts     *prometheus.CounterVec
	artifactBytes *prometheus.CounterVec

	tracker *siteTracker
}

// NewPrometheusSink registers the collectors with reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sitesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spider_site_runs_started_total",
			Help: "Site runs started.",
		}),
		sitesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spider_site_runs_finished_total",
			Help: "Site runs finished, by result.",
		}, []string{"result"}),
		sitesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spider_site_runs_running",
			Help: "Site runs in progress.",
		}),
		siteRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spider_site_run_duration_seconds",
			Help:    "Wall time per finished site run.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spider_steps_total",
			Help: "Steps stored per site.",
		}, []string{"site"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spider_fetches_total",
			Help: "Completed page fetches by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spider_fetch_bytes_total",
			Help: "Page bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spider_fetch_duration_seconds",
			Help:    "Page fetch latency by site.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}, []string{"site"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spider_retries_total",
			Help: "Failed attempts that were retried or fell back, by site and status class.",
		}, []string{"site", "status_class"}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spider_artifacts_stored_total",
			Help: "Objects written per site.",
		}, []string{"site"}),
		artifactBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spider_artifact_bytes_total",
			Help: "Bytes written per site.",
		}, []string{"site"}),
		tracker: newSiteTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sitesStarted,
		s.sitesFinished,
		s.sitesRunning,
		s.siteRuntime,
		s.steps,
		s.fetches,
		s.fetchBytes,
		s.fetchDuration,
		s.retries,
		s.artifacts,
		s.artifactBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	site := evt.Site
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		// batch-level events carry no site
		if site != "" {
			s.handleSiteRun(evt)
		}
	case progress.StageFetchDone:
		s.fetches.WithLabelValues(site, statusClass(evt)).Inc()
		if evt.Bytes > 0 {
			s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			s.fetchDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
		}
	case progress.StageRetry:
		s.retries.WithLabelValues(site, statusClass(evt)).Inc()
	case progress.StageArtifactStored:
		s.artifacts.WithLabelValues(site).Inc()
		if evt.Bytes > 0 {
			s.artifactBytes.WithLabelValues(site).Add(float64(evt.Bytes))
		}
	}
}

func (s *PrometheusSink) handleSiteRun(evt progress.Event) {
	key := siteKey{run: evt.RunID, site: evt.Site}
	switch evt.Stage {
	case progress.StageRunStart:
		s.sitesStarted.Inc()
		if s.tracker.start(key) {
			s.sitesRunning.Inc()
		}
		return
	case progress.StageRunDone:
		s.finish(evt, "success")
		if evt.Steps > 0 {
			s.steps.WithLabelValues(evt.Site).Add(float64(evt.Steps))
		}
	case progress.StageRunError:
		s.finish(evt, "error")
	}
	if s.tracker.complete(key) {
		s.sitesRunning.Dec()
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.sitesFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.siteRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func statusClass(evt progress.Event) string {
	if evt.StatusClass == "" {
		return string(progress.StatusOther)
	}
	return string(evt.StatusClass)
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type siteKey struct {
	run  [16]byte
	site string
}

type siteTracker struct {
	mu      sync.Mutex
	running map[siteKey]struct{}
}

func newSiteTracker() *siteTracker {
	return &siteTracker{running: make(map[siteKey]struct{})}
}

func (t *siteTracker) start(key siteKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *siteTracker) complete(key siteKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
