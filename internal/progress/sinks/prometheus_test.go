package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/data-spider/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Site: "demo"},
		{
			RunID:       runID,
			TS:          now.Add(time.Second),
			Stage:       progress.StageFetchDone,
			Site:        "demo",
			Bytes:       1024,
			StatusClass: progress.Status2xx,
			Dur:         200 * time.Millisecond,
		},
		{RunID: runID, TS: now, Stage: progress.StageRetry, Site: "demo", StatusClass: progress.Status5xx},
		{RunID: runID, TS: now, Stage: progress.StageRetry, Site: "demo"},
		{RunID: runID, TS: now, Stage: progress.StageArtifactStored, Site: "demo", URL: "memory://demo/0.json", Bytes: 10},
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Site: "demo", Steps: 3, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.sitesStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sitesFinished.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.sitesFinished.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.sitesRunning))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.steps.WithLabelValues("demo")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("demo", "2xx")))
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.fetchBytes.WithLabelValues("demo")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "spider_fetch_duration_seconds"))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.retries.WithLabelValues("demo", "5xx")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.retries.WithLabelValues("demo", "other")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.artifacts.WithLabelValues("demo")))
	require.InDelta(t, 10.0, testutil.ToFloat64(sink.artifactBytes.WithLabelValues("demo")), 1e-9)
}

func TestPrometheusSinkRunningGauge(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Site: "a"},
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Site: "b"},
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Site: "b"},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.sitesRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunError, Site: "a", Note: "boom"},
		{RunID: runID, TS: now, Stage: progress.StageRunError, Site: "a", Note: "boom"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sitesRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.sitesFinished.WithLabelValues("error")))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
