package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/data-spider/internal/spider"
)

// ExpandFunc turns one record into the storables that persist it.
type ExpandFunc func(ctx context.Context, record any, result spider.StepResult) ([]Storable, error)

// ExpanderConfig configures a RecordExpanderStore.
type ExpanderConfig struct {
	Category          string
	SubDirectoryDepth int
	Expand            ExpandFunc
	// SkipExisting leaves storables whose file is already present untouched.
	SkipExisting bool
	// SkipClearOnFailure keeps going after a skippable failure instead of
	// rolling the record back.
	SkipClearOnFailure bool
	// Delay is the pause after every written storable.
	Delay time.Duration
}

// RecordExpanderStore saves every record of a page as an ordered set of
// storables. Each record is written all-or-nothing unless SkipClearOnFailure
// is set.
type RecordExpanderStore struct {
	base
	cfg ExpanderConfig
}

// NewRecordExpanderStore builds a RecordExpanderStore.
func NewRecordExpanderStore(backend Backend, cfg ExpanderConfig, opts ...Option) (*RecordExpanderStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: record store backend must be set", spider.ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Category) == "" {
		return nil, fmt.Errorf("%w: record store category must be set", spider.ErrInvalidConfig)
	}
	if cfg.Expand == nil {
		return nil, fmt.Errorf("%w: record store expand callback must be set", spider.ErrInvalidConfig)
	}
	if cfg.SubDirectoryDepth < 0 {
		return nil, fmt.Errorf("%w: record store sub_directory_depth must be >= 0", spider.ErrInvalidConfig)
	}
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("%w: record store delay must be >= 0", spider.ErrInvalidConfig)
	}
	return &RecordExpanderStore{
		base: newBase(backend, cfg.Category, cfg.SubDirectoryDepth, opts),
		cfg:  cfg,
	}, nil
}

// Save implements spider.Store. It always returns true on success; ending the
// crawl is left to the navigator.
func (s *RecordExpanderStore) Save(ctx context.Context, result spider.StepResult) (bool, error) {
	if result.Data == nil {
		return false, spider.ErrMissingResponseData
	}
	for i, record := range Records(result.Data.Value) {
		if err := s.processRecord(ctx, record, result); err != nil {
			return false, fmt.Errorf("record %d of step %d: %w", i, result.Iteration, err)
		}
	}
	return true, nil
}

func (s *RecordExpanderStore) processRecord(ctx context.Context, record any, result spider.StepResult) error {
	storables, err := s.cfg.Expand(ctx, record, result)
	if err != nil {
		return fmt.Errorf("expand record: %w", err)
	}
	sort.SliceStable(storables, func(i, j int) bool {
		return storables[i].Priority < storables[j].Priority
	})

	written := make([]string, 0, len(storables))
	for _, st := range storables {
		if strings.TrimSpace(st.Filename) == "" {
			s.rollback(ctx, written)
			return spider.ErrNoFilename
		}
		objectPath := s.objectPath(st.Filename)

		if s.cfg.SkipExisting {
			exists, err := s.backend.Exists(ctx, objectPath)
			if err != nil {
				return fmt.Errorf("check %s: %w", objectPath, err)
			}
			if exists {
				s.logger.Debug("skipping existing file", zap.String("file", objectPath))
				continue
			}
		}

		data, err := st.Produce(ctx)
		if err != nil {
			if !spider.IsSkippable(err) {
				return err
			}
			if s.cfg.SkipClearOnFailure {
				s.logger.Warn("skipping unobtainable storable", zap.String("file", objectPath), zap.Error(err))
				continue
			}
			s.rollback(ctx, written)
			return fmt.Errorf("store %s: %w", st.Filename, err)
		}

		if err := s.write(ctx, objectPath, st.ContentType, data); err != nil {
			return err
		}
		written = append(written, objectPath)

		if err := s.pause(ctx, s.cfg.Delay); err != nil {
			return err
		}
	}
	return nil
}

// rollback removes the files written for a failed record. Failures are logged
// and otherwise ignored.
func (s *RecordExpanderStore) rollback(ctx context.Context, written []string) {
	var errs []error
	for _, objectPath := range written {
		if err := s.backend.Delete(context.WithoutCancel(ctx), objectPath); err != nil {
			errs = append(errs, err)
		}
	}
	if len(written) > 0 {
		s.logger.Info("rolled back partial record", zap.Strings("files", written), zap.Error(errors.Join(errs...)))
	}
}

// Records coerces a parsed value into a list of records. Sequences are
// returned element by element, nil yields nothing, and any other value is a
// single record.
func Records(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		return v
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return []any{value}
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{value}
}
