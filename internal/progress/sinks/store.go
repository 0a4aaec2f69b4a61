package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/data-spider/internal/progress"
	"github.com/JakeFAU/data-spider/internal/store"
)

// JournalSink persists progress through a store.Journal. Counter events are
// collapsed per site so a batch costs one write per site.
type JournalSink struct {
	journal store.Journal
	logger  *zap.Logger
}

// NewJournalSink constructs a JournalSink for the provided journal.
func NewJournalSink(journal store.Journal, logger *zap.Logger) *JournalSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JournalSink{journal: journal, logger: logger}
}

// Consume applies a batch in order. Pending counters are flushed before any
// run event so a site is never finished ahead of its own stats.
func (s *JournalSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.journal == nil {
		return nil
	}
	pending := newDeltaSet()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.flush(ctx, pending); err != nil {
				return err
			}
			if err := s.handleRunEvent(ctx, evt); err != nil {
				return err
			}
		case progress.StageFetchDone, progress.StageArtifactStored, progress.StageRetry:
			pending.add(evt)
		}
	}
	return s.flush(ctx, pending)
}

func (s *JournalSink) handleRunEvent(ctx context.Context, evt progress.Event) error {
	runID := evt.RunUUID()
	if evt.Site == "" {
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.journal.StartRun(ctx, runID, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunDone:
			if err := s.journal.FinishRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
				return fmt.Errorf("finish run: %w", err)
			}
		case progress.StageRunError:
			if err := s.journal.FinishRun(ctx, runID, evt.TS, store.RunError, notePtr(evt.Note)); err != nil {
				return fmt.Errorf("finish run: %w", err)
			}
		}
		return nil
	}

	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.journal.StartSite(ctx, runID, evt.Site, evt.TS); err != nil {
			return fmt.Errorf("start site: %w", err)
		}
	case progress.StageRunDone:
		result := store.SiteResult{Status: store.RunSuccess, Steps: evt.Steps, StopReason: notePtr(evt.Note)}
		if err := s.journal.FinishSite(ctx, runID, evt.Site, evt.TS, result); err != nil {
			return fmt.Errorf("finish site: %w", err)
		}
	case progress.StageRunError:
		result := store.SiteResult{Status: store.RunError, Steps: evt.Steps, ErrorMessage: notePtr(evt.Note)}
		if err := s.journal.FinishSite(ctx, runID, evt.Site, evt.TS, result); err != nil {
			return fmt.Errorf("finish site: %w", err)
		}
	}
	return nil
}

func (s *JournalSink) flush(ctx context.Context, pending *deltaSet) error {
	for _, key := range pending.order {
		entry := pending.entries[key]
		if entry.delta.Empty() {
			continue
		}
		if err := s.journal.AddSiteStats(ctx, key.run, key.site, entry.delta, entry.at); err != nil {
			return fmt.Errorf("add site stats: %w", err)
		}
		s.logger.Debug("site stats flushed",
			zap.String("run_id", key.run.String()),
			zap.String("site", key.site),
			zap.Int64("fetches", entry.delta.Fetches),
			zap.Int64("bytes", entry.delta.Bytes),
		)
	}
	pending.reset()
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *JournalSink) Close(context.Context) error {
	return nil
}

func notePtr(note string) *string {
	if note == "" {
		return nil
	}
	return &note
}

type deltaKey struct {
	run  uuid.UUID
	site string
}

type deltaEntry struct {
	delta store.SiteDelta
	at    time.Time
}

// deltaSet keeps insertion order so flushes are deterministic.
type deltaSet struct {
	order   []deltaKey
	entries map[deltaKey]*deltaEntry
}

func newDeltaSet() *deltaSet {
	return &deltaSet{entries: make(map[deltaKey]*deltaEntry)}
}

func (d *deltaSet) add(evt progress.Event) {
	if evt.Site == "" {
		return
	}
	key := deltaKey{run: evt.RunUUID(), site: evt.Site}
	entry := d.entries[key]
	if entry == nil {
		entry = &deltaEntry{}
		d.entries[key] = entry
		d.order = append(d.order, key)
	}
	switch evt.Stage {
	case progress.StageFetchDone:
		entry.delta.Fetches++
		entry.delta.Bytes += evt.Bytes
		switch evt.StatusClass {
		case progress.Status2xx:
			entry.delta.Fetch2xx++
		case progress.Status3xx:
			entry.delta.Fetch3xx++
		case progress.Status4xx:
			entry.delta.Fetch4xx++
		case progress.Status5xx:
			entry.delta.Fetch5xx++
		}
	case progress.StageArtifactStored:
		entry.delta.Artifacts++
	case progress.StageRetry:
		entry.delta.Retries++
	}
	if entry.at.IsZero() || evt.TS.After(entry.at) {
		entry.at = evt.TS
	}
}

func (d *deltaSet) reset() {
	d.order = d.order[:0]
	clear(d.entries)
}
