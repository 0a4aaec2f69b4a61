package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/data-spider/internal/clock/system"
	"github.com/JakeFAU/data-spider/internal/spider"
)

// Artifact describes one written object.
type Artifact struct {
	Path  string
	URI   string
	Bytes int
}

// ArtifactObserver is told about every object a store writes. It must not block.
type ArtifactObserver func(Artifact)

// Option customises a store.
type Option func(*base)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSleeper replaces the sleeper used for pacing between storables.
func WithSleeper(s spider.Sleeper) Option {
	return func(b *base) {
		if s != nil {
			b.sleeper = s
		}
	}
}

// WithArtifactObserver registers an observer for written objects.
func WithArtifactObserver(o ArtifactObserver) Option {
	return func(b *base) {
		b.observer = o
	}
}

// base holds what both store variants share.
type base struct {
	backend  Backend
	category string
	depth    int
	logger   *zap.Logger
	sleeper  spider.Sleeper
	observer ArtifactObserver
}

func newBase(backend Backend, category string, depth int, opts []Option) base {
	b := base{
		backend:  backend,
		category: category,
		depth:    depth,
		logger:   zap.NewNop(),
		sleeper:  system.New(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) objectPath(filename string) string {
	return ObjectPath(b.category, b.depth, filename)
}

// Location reports the category root in the backend.
func (b *base) Location() string {
	return b.backend.URI(SanitizeCategory(b.category))
}

func (b *base) write(ctx context.Context, objectPath, contentType string, data []byte) error {
	uri, err := putBytes(ctx, b.backend, objectPath, contentType, data)
	if err != nil {
		return err
	}
	b.logger.Debug("stored file", zap.String("file", uri), zap.Int("bytes", len(data)))
	if b.observer != nil {
		b.observer(Artifact{Path: objectPath, URI: uri, Bytes: len(data)})
	}
	return nil
}

func (b *base) pause(ctx context.Context, d time.Duration) error {
	return b.sleeper.Sleep(ctx, d)
}
