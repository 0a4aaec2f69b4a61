package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/data-spider/internal/spider"
)

// FilenameFunc derives the output filename for a step. An empty name tells the
// run loop to stop.
type FilenameFunc func(result spider.StepResult) (string, error)

// DirectConfig configures a DirectStore.
type DirectConfig struct {
	Category          string
	SubDirectoryDepth int
	Filename          FilenameFunc
	ContentType       string
}

// DirectStore writes the raw body of each step to one sharded file.
type DirectStore struct {
	base
	filename    FilenameFunc
	contentType string
}

// NewDirectStore builds a DirectStore.
func NewDirectStore(backend Backend, cfg DirectConfig, opts ...Option) (*DirectStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: direct store backend must be set", spider.ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Category) == "" {
		return nil, fmt.Errorf("%w: direct store category must be set", spider.ErrInvalidConfig)
	}
	if cfg.Filename == nil {
		return nil, fmt.Errorf("%w: direct store filename resolver must be set", spider.ErrInvalidConfig)
	}
	if cfg.SubDirectoryDepth < 0 {
		return nil, fmt.Errorf("%w: direct store sub_directory_depth must be >= 0", spider.ErrInvalidConfig)
	}
	return &DirectStore{
		base:        newBase(backend, cfg.Category, cfg.SubDirectoryDepth, opts),
		filename:    cfg.Filename,
		contentType: cfg.ContentType,
	}, nil
}

// Save implements spider.Store.
func (s *DirectStore) Save(ctx context.Context, result spider.StepResult) (bool, error) {
	name, err := s.filename(result)
	if err != nil {
		return false, fmt.Errorf("resolve filename: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		return false, nil
	}
	if result.Data == nil {
		return false, spider.ErrMissingResponseData
	}
	if err := s.write(ctx, s.objectPath(name), s.contentType, result.Data.Raw); err != nil {
		return false, err
	}
	return true, nil
}
