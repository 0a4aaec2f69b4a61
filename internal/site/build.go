package site

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/data-spider/internal/hash/sha256"
	"github.com/JakeFAU/data-spider/internal/parse"
	"github.com/JakeFAU/data-spider/internal/spider"
	"github.com/JakeFAU/data-spider/internal/storage"
)

// Mode controls how existing output is treated.
type Mode string

// Output modes.
const (
	// ModeContinue resumes, leaving existing record files in place.
	ModeContinue Mode = "continue"
	// ModeSkip skips sites whose category already exists.
	ModeSkip Mode = "skip"
	// ModeForce overwrites everything.
	ModeForce Mode = "force"
)

// ParseMode validates a mode name. The empty string is ModeContinue.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeContinue, nil
	case ModeContinue, ModeSkip, ModeForce:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown output mode %q", spider.ErrInvalidConfig, s)
	}
}

// Deps carries what a definition needs to become a runnable site.
type Deps struct {
	Backend storage.Backend
	// Fetcher downloads record assets.
	Fetcher  spider.Fetcher
	Behavior spider.BehaviorConfig
	// UserAgent applies when the definition sets none.
	UserAgent  string
	Mode       Mode
	DryRun     bool
	Logger     *zap.Logger
	Sleeper    spider.Sleeper
	OnArtifact storage.ArtifactObserver
}

// Build turns a definition into a validated site config.
func Build(def Definition, deps Deps) (spider.SiteConfig, error) {
	if deps.Backend == nil {
		return spider.SiteConfig{}, fmt.Errorf("%w: site %s: storage backend must be set", spider.ErrInvalidConfig, def.Name)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("site", def.Name))

	nav, err := NewNavigator(def)
	if err != nil {
		return spider.SiteConfig{}, err
	}
	if unbounded(def) {
		logger.Warn("page navigation has no max_pages or done.when_empty_path; the crawl only stops on an empty response body")
	}
	parser, err := parse.ForFormat(def.Format)
	if err != nil {
		return spider.SiteConfig{}, fmt.Errorf("site %s: %w", def.Name, err)
	}

	backend := deps.Backend
	if deps.DryRun {
		backend = storage.NewDryRunBackend(backend, logger)
	}
	request := spider.RequestConfig{
		Method:   def.Request.Method,
		Headers:  def.Request.headers(deps.UserAgent),
		Encoding: def.Request.Encoding,
	}
	store, err := buildStore(def, deps, backend, request, logger)
	if err != nil {
		return spider.SiteConfig{}, err
	}

	return spider.NewSiteConfig(spider.SiteConfig{
		Name:      def.Name,
		Navigator: nav,
		Parser:    parser,
		Store:     store,
		Request:   request,
		Behavior:  def.EffectiveBehavior(deps.Behavior),
		DryRun:    deps.DryRun,
	})
}

// Existing reports whether output for def is already present.
func Existing(ctx context.Context, def Definition, backend storage.Backend) (bool, error) {
	return backend.HasPrefix(ctx, def.Category())
}

// EffectiveBehavior merges the definition's behavior overrides onto defaults.
func (d Definition) EffectiveBehavior(defaults spider.BehaviorConfig) spider.BehaviorConfig {
	return behavior(d.Behavior, defaults)
}

func behavior(def BehaviorDef, defaults spider.BehaviorConfig) spider.BehaviorConfig {
	out := defaults
	out.Delay = def.Delay.Or(defaults.Delay)
	out.RetryDelay = def.RetryDelay.Or(defaults.RetryDelay)
	out.RequestTimeout = def.RequestTimeout.Or(defaults.RequestTimeout)
	if def.MaxRetries > 0 {
		out.MaxRetries = def.MaxRetries
	}
	return out
}

func buildStore(def Definition, deps Deps, backend storage.Backend, request spider.RequestConfig, logger *zap.Logger) (spider.Store, error) {
	opts := []storage.Option{
		storage.WithLogger(logger),
		storage.WithSleeper(deps.Sleeper),
		storage.WithArtifactObserver(deps.OnArtifact),
	}
	depth := DefaultSubDirectoryDepth
	if def.Store.SubDirectoryDepth != nil {
		depth = *def.Store.SubDirectoryDepth
	}
	resolve := resolverFor(def.Format)

	switch def.Store.Type {
	case StorePage, StoreExtract:
		filename := pageFilename(def.Store.Filename)
		if def.Store.Type == StoreExtract {
			filename = valueFilename(def.Store.Filename, def.Store.ValuePath, resolve)
		}
		return storage.NewDirectStore(backend, storage.DirectConfig{
			Category:          def.Category(),
			SubDirectoryDepth: depth,
			Filename:          filename,
			ContentType:       contentType(def.Format),
		}, opts...)

	case StoreRecords:
		if deps.Fetcher == nil && len(def.Store.Assets) > 0 {
			return nil, fmt.Errorf("%w: site %s: assets need a fetcher", spider.ErrInvalidConfig, def.Name)
		}
		skipExisting := def.Store.SkipExisting == nil || *def.Store.SkipExisting
		if deps.Mode == ModeForce {
			skipExisting = false
		}
		expander := &recordExpander{
			def: def.Store,
			request: spider.Target{
				Method:   http.MethodGet,
				Headers:  request.Headers.Clone(),
				Encoding: request.Encoding,
			},
			fetcher: deps.Fetcher,
			hasher:  sha256.New(),
		}
		store, err := storage.NewRecordExpanderStore(backend, storage.ExpanderConfig{
			Category:           def.Category(),
			SubDirectoryDepth:  depth,
			Expand:             expander.expand,
			SkipExisting:       skipExisting,
			SkipClearOnFailure: def.Store.SkipClearOnFailure,
			Delay:              def.Store.Delay.Duration,
		}, opts...)
		if err != nil {
			return nil, err
		}
		if def.Store.RecordsPath != "" {
			return &subValueStore{next: store, path: def.Store.RecordsPath, resolve: resolve}, nil
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: site %s: unknown store.type %q", spider.ErrInvalidConfig, def.Name, def.Store.Type)
	}
}

func contentType(format string) string {
	switch format {
	case "json":
		return "application/json"
	case "yaml", "yml":
		return "application/yaml"
	case "csv":
		return "text/csv"
	case "xml":
		return "application/xml"
	case "html", "htm":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}

// unbounded reports page sites whose only stop condition is a wholly empty body.
func unbounded(def Definition) bool {
	return def.Navigation.Type == NavigationPage &&
		def.Navigation.MaxPages == 0 &&
		def.Done.WhenEmptyPath == "" &&
		!def.Done.Never
}
