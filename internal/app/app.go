// Package app initializes and holds long-lived application services, acting as
// a dependency injection container, and runs batches of declarative sites.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	googleuuid "github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/data-spider/internal/api"
	"github.com/JakeFAU/data-spider/internal/clock/system"
	"github.com/JakeFAU/data-spider/internal/config"
	"github.com/JakeFAU/data-spider/internal/fetcher"
	collyfetcher "github.com/JakeFAU/data-spider/internal/fetcher/colly"
	filefetcher "github.com/JakeFAU/data-spider/internal/fetcher/file"
	"github.com/JakeFAU/data-spider/internal/id/uuid"
	"github.com/JakeFAU/data-spider/internal/policy/ratelimit"
	"github.com/JakeFAU/data-spider/internal/progress"
	"github.com/JakeFAU/data-spider/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/data-spider/internal/publisher/pubsub"
	"github.com/JakeFAU/data-spider/internal/site"
	"github.com/JakeFAU/data-spider/internal/spider"
	"github.com/JakeFAU/data-spider/internal/storage"
	gcsstorage "github.com/JakeFAU/data-spider/internal/storage/gcs"
	localstorage "github.com/JakeFAU/data-spider/internal/storage/local"
	pgstore "github.com/JakeFAU/data-spider/internal/storage/postgres"
	"github.com/JakeFAU/data-spider/internal/store"
	"github.com/JakeFAU/data-spider/internal/telemetry"
)

const tracerName = "github.com/JakeFAU/data-spider/internal/app"

// ErrNoSites is returned by Crawl when neither the caller nor the config names
// a site definition.
var ErrNoSites = errors.New("no site definitions given")

// Options carries the configuration and any services that should replace the
// ones New would build from it.
type Options struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry

	Backend   storage.Backend
	Transport spider.Transport
	Journal   store.Journal
	Publisher sinks.Publisher
	Sleeper   spider.Sleeper
	Now       func() time.Time
	Hub       progress.Config
}

// App holds the shared, long-lived services.
type App struct {
	cfg       config.Config
	mode      site.Mode
	logger    *zap.Logger
	registry  *prometheus.Registry
	backend   storage.Backend
	transport spider.Transport
	journal   store.Journal
	hub       *progress.Hub
	limiter   *ratelimit.Limiter
	ids       *uuid.Generator
	sleeper   spider.Sleeper
	now       func() time.Time
	closers   []func() error
}

// SiteResult is the outcome of one site within a batch.
type SiteResult struct {
	Name    string
	Skipped bool
	Stats   spider.RunStats
	Err     error
}

// Summary is the outcome of a batch.
type Summary struct {
	RunID string
	Sites []SiteResult
}

// New builds the services described by opts.Config. It fails fast if any
// configured service cannot be initialized.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	mode, err := site.ParseMode(cfg.Output.Mode)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:       cfg,
		mode:      mode,
		logger:    opts.Logger,
		registry:  opts.Registry,
		backend:   opts.Backend,
		transport: opts.Transport,
		journal:   opts.Journal,
		ids:       uuid.New(),
		sleeper:   opts.Sleeper,
		now:       opts.Now,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	if a.sleeper == nil {
		a.sleeper = system.New()
	}
	if a.now == nil {
		a.now = time.Now
	}

	if err := a.init(ctx, opts); err != nil {
		_ = a.closeAll()
		return nil, err
	}
	a.logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("mode", string(mode)),
		zap.Bool("dry_run", cfg.Output.DryRun),
		zap.Bool("journal", a.journal != nil),
	)
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	if a.cfg.Telemetry.Tracing {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{ServiceName: a.cfg.Telemetry.ServiceName})
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })
	}
	if a.backend == nil {
		backend, err := a.openBackend(ctx)
		if err != nil {
			return err
		}
		a.backend = backend
	}
	if a.journal == nil && a.cfg.Journal.DSN != "" {
		js, err := pgstore.NewJournalStore(ctx, pgstore.Config{DSN: a.cfg.Journal.DSN, TablePrefix: a.cfg.Journal.TablePrefix})
		if err != nil {
			return fmt.Errorf("open run journal: %w", err)
		}
		a.closers = append(a.closers, func() error { js.Close(); return nil })
		if err := js.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate run journal: %w", err)
		}
		a.journal = js
	}
	publisher := opts.Publisher
	if publisher == nil && a.cfg.PubSub.Topic != "" {
		pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
		if err != nil {
			return fmt.Errorf("open pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		publisher = pub
	}

	if a.cfg.Request.MaxRPS > 0 {
		limiter, err := ratelimit.New(ratelimit.Config{RPS: a.cfg.Request.MaxRPS, Burst: a.cfg.Request.Burst}, a.registry)
		if err != nil {
			return err
		}
		a.limiter = limiter
	}

	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return err
	}
	progressSinks := []progress.Sink{sinks.NewLogSink(a.logger), promSink}
	if a.journal != nil {
		progressSinks = append(progressSinks, sinks.NewJournalSink(a.journal, a.logger))
	}
	if publisher != nil {
		progressSinks = append(progressSinks, sinks.NewPubSubSink(publisher, a.logger))
	}
	hubCfg := opts.Hub
	if hubCfg.Logger == nil {
		hubCfg.Logger = a.logger
	}
	a.hub = progress.NewHub(hubCfg, progressSinks...)
	return nil
}

func (a *App) openBackend(ctx context.Context) (storage.Backend, error) {
	switch a.cfg.Storage.Provider {
	case "gcs":
		bs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("open gcs storage: %w", err)
		}
		a.closers = append(a.closers, bs.Close)
		return bs, nil
	case "", "local":
		bs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Output.BasePath, ReadOnly: a.cfg.Output.DryRun})
		if err != nil {
			return nil, fmt.Errorf("open local storage: %w", err)
		}
		return bs, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Journal returns the run journal, or nil when none is configured.
func (a *App) Journal() store.Journal {
	return a.journal
}

// Registry returns the metrics registry.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Handler builds the operator API over the app's journal and registry.
func (a *App) Handler() (http.Handler, error) {
	srv, err := api.NewServer(api.Options{Journal: a.journal, Registry: a.registry, Logger: a.logger})
	if err != nil {
		return nil, err
	}
	return srv.Handler(), nil
}

// Crawl loads the given site definitions, or the configured ones when paths is
// empty, and runs each as an independent state machine. The first site that
// fails cancels the others.
func (a *App) Crawl(ctx context.Context, paths []string) (Summary, error) {
	if len(paths) == 0 {
		paths = a.cfg.Sites
	}
	if len(paths) == 0 {
		return Summary{}, ErrNoSites
	}
	defs, err := loadDefinitions(paths)
	if err != nil {
		return Summary{}, err
	}

	runIDStr, err := a.ids.NewID()
	if err != nil {
		return Summary{}, err
	}
	runID := progress.UUIDToBytes(googleuuid.MustParse(runIDStr))
	logger := a.logger.With(zap.String("run_id", runIDStr))
	batch := progress.NewReporter(a.hub, runID, "", a.now)
	batch.Start()
	logger.Info("crawl started", zap.Int("sites", len(defs)))

	results := make([]SiteResult, len(defs))
	g, gctx := errgroup.WithContext(ctx)
	for i, def := range defs {
		g.Go(func() error {
			results[i] = a.runSite(gctx, runID, def, logger)
			if results[i].Err != nil {
				return fmt.Errorf("site %s: %w", def.Name, results[i].Err)
			}
			return nil
		})
	}
	err = g.Wait()

	var total spider.RunStats
	for _, res := range results {
		total.Steps += res.Stats.Steps
		total.Retries += res.Stats.Retries
		total.Bytes += res.Stats.Bytes
	}
	batch.RunFinished(total, err)
	if err != nil {
		logger.Error("crawl failed", zap.Error(err))
	} else {
		logger.Info("crawl finished", zap.Int("steps", total.Steps), zap.Int64("bytes", total.Bytes))
	}
	return Summary{RunID: runIDStr, Sites: results}, err
}

func (a *App) runSite(ctx context.Context, runID [16]byte, def site.Definition, logger *zap.Logger) SiteResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "crawl.site")
	span.SetAttributes(attribute.String("spider.site", def.Name))
	defer span.End()

	result := SiteResult{Name: def.Name}
	logger = logger.With(zap.String("site", def.Name))

	if a.mode == site.ModeSkip {
		exists, err := site.Existing(ctx, def, a.backend)
		if err != nil {
			result.Err = fmt.Errorf("check existing output: %w", err)
			return result
		}
		if exists {
			logger.Info("output exists, skipping site", zap.String("location", a.backend.URI(def.Category())))
			result.Skipped = true
			return result
		}
	}

	reporter := progress.NewReporter(a.hub, runID, def.Name, a.now)
	reporter.Start()

	defaults := a.behaviorDefaults()
	behavior := def.EffectiveBehavior(defaults)
	f, err := fetcher.New(a.transportFor(behavior), behavior.RetryPolicy(),
		fetcher.WithSleeper(a.sleeper),
		fetcher.WithLogger(logger),
		fetcher.WithObserver(reporter.FetchObserver()),
	)
	if err != nil {
		reporter.RunFinished(spider.RunStats{}, err)
		result.Err = err
		return result
	}
	siteCfg, err := site.Build(def, site.Deps{
		Backend:    a.backend,
		Fetcher:    f,
		Behavior:   defaults,
		UserAgent:  a.cfg.Request.UserAgent,
		Mode:       a.mode,
		DryRun:     a.cfg.Output.DryRun,
		Logger:     logger,
		Sleeper:    a.sleeper,
		OnArtifact: reporter.ArtifactObserver(),
	})
	if err != nil {
		reporter.RunFinished(spider.RunStats{}, err)
		result.Err = err
		return result
	}
	runner, err := spider.NewRunner(siteCfg, f,
		spider.WithLogger(logger),
		spider.WithSleeper(a.sleeper),
		spider.WithObserver(reporter),
	)
	if err != nil {
		reporter.RunFinished(spider.RunStats{}, err)
		result.Err = err
		return result
	}
	result.Stats, result.Err = runner.Run(ctx)
	span.SetAttributes(attribute.Int("spider.steps", result.Stats.Steps), attribute.String("spider.stop_reason", string(result.Stats.Reason)))
	if result.Err != nil {
		span.RecordError(result.Err)
	}
	return result
}

func (a *App) behaviorDefaults() spider.BehaviorConfig {
	b := a.cfg.Behavior
	return spider.BehaviorConfig{
		Delay:          b.Delay,
		RetryDelay:     b.RetryDelay,
		MaxRetries:     b.MaxRetries,
		RequestTimeout: b.RequestTimeout,
	}
}

// transportFor returns the injected transport, or one whose HTTP client
// outlives the site's per-attempt timeout. Either is paced by the shared
// per-host limiter when one is configured.
func (a *App) transportFor(behavior spider.BehaviorConfig) spider.Transport {
	transport := a.transport
	if transport == nil {
		transport = fetcher.SchemeTransport{
			HTTP: collyfetcher.New(collyfetcher.Config{
				UserAgent:     a.cfg.Request.UserAgent,
				RespectRobots: a.cfg.Request.RespectRobots,
				Timeout:       behavior.RequestTimeout + time.Second,
			}),
			File: filefetcher.New(""),
		}
	}
	if a.limiter != nil {
		transport = a.limiter.Wrap(transport)
	}
	return transport
}

func loadDefinitions(paths []string) ([]site.Definition, error) {
	defs := make([]site.Definition, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		def, err := site.Load(p)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[def.Category()]; ok {
			return nil, fmt.Errorf("%w: %s and %s write to the same category %q",
				spider.ErrInvalidConfig, prev, p, def.Category())
		}
		seen[def.Category()] = p
		defs = append(defs, def)
	}
	return defs, nil
}

// Close drains pending progress events and releases every service.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
