package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the status columns.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunError:
		return true
	default:
		return false
	}
}

// Run is one batch invocation of the crawler.
type Run struct {
	ID           uuid.UUID
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       RunStatus
	ErrorMessage *string
}

// SiteRun aggregates what one site did within a run.
type SiteRun struct {
	RunID      uuid.UUID
	Site       string
	StartedAt  time.Time
	LastUpdate time.Time
	Status     RunStatus
	Steps      int64
	Fetches    int64
	BytesTotal int64
	Artifacts  int64
	Retries    int64
	Fetch2xx   int64
	Fetch3xx   int64
	Fetch4xx   int64
	Fetch5xx   int64
	// StopReason is set once the site finished cleanly.
	StopReason   *string
	ErrorMessage *string
}

// SiteDelta is an increment applied to a SiteRun's counters.
type SiteDelta struct {
	Fetches   int64
	Bytes     int64
	Artifacts int64
	Retries   int64
	Fetch2xx  int64
	Fetch3xx  int64
	Fetch4xx  int64
	Fetch5xx  int64
}

// Empty reports whether applying d would change nothing.
func (d SiteDelta) Empty() bool {
	return d == SiteDelta{}
}

// SiteResult is the final state of a site run.
type SiteResult struct {
	Status       RunStatus
	Steps        int64
	StopReason   *string
	ErrorMessage *string
}

// Journal persists run progress and serves it back.
type Journal interface {
	// StartRun records a run as running. Repeated calls are harmless.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// FinishRun marks the run finished.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// StartSite records a site as running within a run.
	StartSite(ctx context.Context, runID uuid.UUID, site string, at time.Time) error
	// AddSiteStats applies counter deltas to a site, creating it when missing.
	AddSiteStats(ctx context.Context, runID uuid.UUID, site string, delta SiteDelta, at time.Time) error
	// FinishSite stores the final state of a site.
	FinishSite(ctx context.Context, runID uuid.UUID, site string, at time.Time, result SiteResult) error

	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns pages through runs, newest first, optionally by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunSites pages through the sites of one run.
	ListRunSites(ctx context.Context, runID uuid.UUID, limit, offset int) ([]SiteRun, error)
}
