package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/data-spider/internal/progress"
	"github.com/JakeFAU/data-spider/internal/store"
)

// TestJournalSinkPersistsEvents checks that counters collapse per site and are
// written before the site is finished.
func TestJournalSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	journal := &fakeJournal{}
	sink := NewJournalSink(journal, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now},
		{RunID: runID, Stage: progress.StageRunStart, Site: "demo", TS: now},
		{
			RunID:       runID,
			Stage:       progress.StageFetchDone,
			Site:        "demo",
			Bytes:       100,
			StatusClass: progress.Status2xx,
			TS:          now.Add(time.Second),
		},
		{
			RunID:       runID,
			Stage:       progress.StageFetchDone,
			Site:        "demo",
			Bytes:       50,
			StatusClass: progress.Status4xx,
			TS:          now.Add(2 * time.Second),
		},
		{RunID: runID, Stage: progress.StageRetry, Site: "demo", TS: now.Add(time.Second)},
		{RunID: runID, Stage: progress.StageArtifactStored, Site: "demo", URL: "mem://demo/0.json", TS: now},
		{RunID: runID, Stage: progress.StageRunDone, Site: "demo", Steps: 2, Note: "navigator finished", TS: now.Add(3 * time.Second)},
		{RunID: runID, Stage: progress.StageRunDone, TS: now.Add(4 * time.Second)},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []string{"start-run", "start-site", "stats", "finish-site", "finish-run"}, journal.calls)
	require.Equal(t, []uuid.UUID{runUUID}, journal.startedRuns)
	require.Len(t, journal.stats, 1)
	delta := journal.stats[0]
	require.Equal(t, "demo", delta.site)
	require.Equal(t, store.SiteDelta{
		Fetches:   2,
		Bytes:     150,
		Artifacts: 1,
		Retries:   1,
		Fetch2xx:  1,
		Fetch4xx:  1,
	}, delta.delta)
	require.True(t, delta.at.Equal(now.Add(2*time.Second)))

	require.Len(t, journal.finishedSites, 1)
	result := journal.finishedSites[0]
	require.Equal(t, store.RunSuccess, result.Status)
	require.Equal(t, int64(2), result.Steps)
	require.NotNil(t, result.StopReason)
	require.Equal(t, "navigator finished", *result.StopReason)
	require.Equal(t, []store.RunStatus{store.RunSuccess}, journal.finishedRuns)
}

func TestJournalSinkRunError(t *testing.T) {
	t.Parallel()

	journal := &fakeJournal{}
	sink := NewJournalSink(journal, nil)
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunError, Site: "demo", Note: "fetch failed", TS: now},
		{RunID: runID, Stage: progress.StageRunError, Note: "1 site failed", TS: now},
	}))

	require.Len(t, journal.finishedSites, 1)
	require.Equal(t, store.RunError, journal.finishedSites[0].Status)
	require.Equal(t, "fetch failed", *journal.finishedSites[0].ErrorMessage)
	require.Nil(t, journal.finishedSites[0].StopReason)
	require.Equal(t, []store.RunStatus{store.RunError}, journal.finishedRuns)
	require.Equal(t, "1 site failed", journal.runErrors[0])
}

// TestJournalSinkHandlesErrors surfaces journal failures back to the caller.
func TestJournalSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	journal := &fakeJournal{fail: true}
	sink := NewJournalSink(journal, nil)
	runID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.Error(t, err)

	err = sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageFetchDone, Site: "demo", StatusClass: progress.Status2xx, TS: time.Now()},
	})
	require.ErrorContains(t, err, "add site stats")
}

func TestJournalSinkNilJournal(t *testing.T) {
	t.Parallel()

	var sink *JournalSink
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageRunStart}}))
}

type statsCall struct {
	site  string
	delta store.SiteDelta
	at    time.Time
}

type fakeJournal struct {
	fail          bool
	calls         []string
	startedRuns   []uuid.UUID
	finishedRuns  []store.RunStatus
	runErrors     []string
	stats         []statsCall
	finishedSites []store.SiteResult
}

var errJournal = errors.New("journal down")

func (f *fakeJournal) record(call string) error {
	f.calls = append(f.calls, call)
	if f.fail {
		return errJournal
	}
	return nil
}

func (f *fakeJournal) StartRun(_ context.Context, runID uuid.UUID, _ time.Time) error {
	f.startedRuns = append(f.startedRuns, runID)
	return f.record("start-run")
}

func (f *fakeJournal) FinishRun(_ context.Context, _ uuid.UUID, _ time.Time, status store.RunStatus, errMsg *string) error {
	f.finishedRuns = append(f.finishedRuns, status)
	if errMsg != nil {
		f.runErrors = append(f.runErrors, *errMsg)
	}
	return f.record("finish-run")
}

func (f *fakeJournal) StartSite(context.Context, uuid.UUID, string, time.Time) error {
	return f.record("start-site")
}

func (f *fakeJournal) AddSiteStats(_ context.Context, _ uuid.UUID, site string, delta store.SiteDelta, at time.Time) error {
	f.stats = append(f.stats, statsCall{site: site, delta: delta, at: at})
	return f.record("stats")
}

func (f *fakeJournal) FinishSite(_ context.Context, _ uuid.UUID, _ string, _ time.Time, result store.SiteResult) error {
	f.finishedSites = append(f.finishedSites, result)
	return f.record("finish-site")
}

func (f *fakeJournal) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}

func (f *fakeJournal) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, nil
}

func (f *fakeJournal) ListRunSites(context.Context, uuid.UUID, int, int) ([]store.SiteRun, error) {
	return nil, nil
}
