// Package postgres provides the Postgres-backed run journal.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/data-spider/internal/store"
)

const defaultTablePrefix = "spider"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and table names.
type Config struct {
	DSN string
	// TablePrefix names the tables <prefix>_runs and <prefix>_run_sites.
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JournalStore implements store.Journal on Postgres.
type JournalStore struct {
	pool  pool
	runs  string
	sites string
}

var _ store.Journal = (*JournalStore)(nil)

// NewJournalStore connects a pool for cfg.
func NewJournalStore(ctx context.Context, cfg Config) (*JournalStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("journal.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewJournalStoreWithPool(p, cfg.TablePrefix)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewJournalStoreWithPool builds a store on an existing pool.
func NewJournalStoreWithPool(p pool, tablePrefix string) (*JournalStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if tablePrefix == "" {
		tablePrefix = defaultTablePrefix
	}
	if !validTableName.MatchString(tablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", tablePrefix)
	}
	return &JournalStore{
		pool:  p,
		runs:  tablePrefix + "_runs",
		sites: tablePrefix + "_run_sites",
	}, nil
}

// Close releases the pool.
func (s *JournalStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the journal tables when they are missing.
func (s *JournalStore) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	error_message TEXT
)`, s.runs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id UUID NOT NULL,
	site TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	steps BIGINT NOT NULL DEFAULT 0,
	fetches BIGINT NOT NULL DEFAULT 0,
	bytes_total BIGINT NOT NULL DEFAULT 0,
	artifacts BIGINT NOT NULL DEFAULT 0,
	retries BIGINT NOT NULL DEFAULT 0,
	fetch_2xx BIGINT NOT NULL DEFAULT 0,
	fetch_3xx BIGINT NOT NULL DEFAULT 0,
	fetch_4xx BIGINT NOT NULL DEFAULT 0,
	fetch_5xx BIGINT NOT NULL DEFAULT 0,
	stop_reason TEXT,
	error_message TEXT,
	PRIMARY KEY (run_id, site)
)`, s.sites),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// StartRun implements store.Journal.
func (s *JournalStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING`, s.runs)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun implements store.Journal.
func (s *JournalStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, error_message = $3
WHERE id = $4`, s.runs)
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// StartSite implements store.Journal.
func (s *JournalStore) StartSite(ctx context.Context, runID uuid.UUID, site string, at time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, site, started_at, last_update, status)
VALUES ($1, $2, $3, $3, $4)
ON CONFLICT (run_id, site) DO UPDATE
SET status = EXCLUDED.status, last_update = EXCLUDED.last_update`, s.sites)
	if _, err := s.pool.Exec(ctx, query, runID, site, at, store.RunRunning); err != nil {
		return fmt.Errorf("start site %s: %w", site, err)
	}
	return nil
}

// AddSiteStats implements store.Journal.
func (s *JournalStore) AddSiteStats(
	ctx context.Context,
	runID uuid.UUID,
	site string,
	delta store.SiteDelta,
	at time.Time,
) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (run_id, site, started_at, last_update, status,
	fetches, bytes_total, artifacts, retries, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx)
VALUES ($1, $2, $3, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (run_id, site) DO UPDATE SET
	last_update = GREATEST(%[1]s.last_update, EXCLUDED.last_update),
	fetches = %[1]s.fetches + EXCLUDED.fetches,
	bytes_total = %[1]s.bytes_total + EXCLUDED.bytes_total,
	artifacts = %[1]s.artifacts + EXCLUDED.artifacts,
	retries = %[1]s.retries + EXCLUDED.retries,
	fetch_2xx = %[1]s.fetch_2xx + EXCLUDED.fetch_2xx,
	fetch_3xx = %[1]s.fetch_3xx + EXCLUDED.fetch_3xx,
	fetch_4xx = %[1]s.fetch_4xx + EXCLUDED.fetch_4xx,
	fetch_5xx = %[1]s.fetch_5xx + EXCLUDED.fetch_5xx`, s.sites)
	_, err := s.pool.Exec(ctx, query,
		runID,
		site,
		at,
		store.RunRunning,
		delta.Fetches,
		delta.Bytes,
		delta.Artifacts,
		delta.Retries,
		delta.Fetch2xx,
		delta.Fetch3xx,
		delta.Fetch4xx,
		delta.Fetch5xx,
	)
	if err != nil {
		return fmt.Errorf("add site stats %s: %w", site, err)
	}
	return nil
}

// FinishSite implements store.Journal.
func (s *JournalStore) FinishSite(
	ctx context.Context,
	runID uuid.UUID,
	site string,
	at time.Time,
	result store.SiteResult,
) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (run_id, site, started_at, last_update, status, steps, stop_reason, error_message)
VALUES ($1, $2, $3, $3, $4, $5, $6, $7)
ON CONFLICT (run_id, site) DO UPDATE SET
	last_update = EXCLUDED.last_update,
	status = EXCLUDED.status,
	steps = EXCLUDED.steps,
	stop_reason = EXCLUDED.stop_reason,
	error_message = EXCLUDED.error_message`, s.sites)
	_, err := s.pool.Exec(ctx, query,
		runID,
		site,
		at,
		result.Status,
		result.Steps,
		result.StopReason,
		result.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("finish site %s: %w", site, err)
	}
	return nil
}

// GetRun implements store.Journal.
func (s *JournalStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`
SELECT id, started_at, finished_at, status, error_message
FROM %s
WHERE id = $1`, s.runs)
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns implements store.Journal.
func (s *JournalStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := fmt.Sprintf(`
SELECT id, started_at, finished_at, status, error_message
FROM %s
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`, s.runs)
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		var run store.Run
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ListRunSites implements store.Journal.
func (s *JournalStore) ListRunSites(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.SiteRun, error) {
	query := fmt.Sprintf(`
SELECT run_id, site, started_at, last_update, status, steps, fetches, bytes_total, artifacts, retries,
	fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx, stop_reason, error_message
FROM %s
WHERE run_id = $1
ORDER BY site
LIMIT $2 OFFSET $3`, s.sites)
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run sites: %w", err)
	}
	defer rows.Close()

	sites := []store.SiteRun{}
	for rows.Next() {
		var site store.SiteRun
		if err := rows.Scan(
			&site.RunID,
			&site.Site,
			&site.StartedAt,
			&site.LastUpdate,
			&site.Status,
			&site.Steps,
			&site.Fetches,
			&site.BytesTotal,
			&site.Artifacts,
			&site.Retries,
			&site.Fetch2xx,
			&site.Fetch3xx,
			&site.Fetch4xx,
			&site.Fetch5xx,
			&site.StopReason,
			&site.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan run site row: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run sites: %w", err)
	}
	return sites, nil
}
