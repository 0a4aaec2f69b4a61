// Package storage persists crawl output. It maps step results and records to
// sharded paths, expands records into ordered storables, and writes them to a
// Backend (local filesystem, memory or Google Cloud Storage).
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Backend is the output tree the stores write into. Paths are slash-separated
// and relative to the tree root.
type Backend interface {
	// PutObject writes r to path, creating parents as needed, and returns a URI.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	// Exists reports whether an object is stored at path.
	Exists(ctx context.Context, path string) (bool, error)
	// Delete removes path. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error
	// HasPrefix reports whether anything is stored under prefix.
	HasPrefix(ctx context.Context, prefix string) (bool, error)
	// URI renders path the way PutObject would report it.
	URI(path string) string
}

// DryRunBackend passes reads through to a backend and logs writes instead of
// performing them.
type DryRunBackend struct {
	Backend
	logger *zap.Logger
}

// NewDryRunBackend wraps b.
func NewDryRunBackend(b Backend, logger *zap.Logger) *DryRunBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRunBackend{Backend: b, logger: logger}
}

// PutObject logs the write and discards the data.
func (d *DryRunBackend) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return "", fmt.Errorf("drain %s: %w", path, err)
	}
	uri := d.URI(path)
	d.logger.Warn("dry run: would write", zap.String("file", uri), zap.Int64("bytes", n))
	return uri, nil
}

// Delete logs the delete and does nothing.
func (d *DryRunBackend) Delete(_ context.Context, path string) error {
	d.logger.Warn("dry run: would delete", zap.String("file", d.URI(path)))
	return nil
}

func putBytes(ctx context.Context, b Backend, path, contentType string, data []byte) (string, error) {
	uri, err := b.PutObject(ctx, path, contentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return uri, nil
}
