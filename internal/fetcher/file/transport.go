// Package filefetcher implements spider.Transport over the local filesystem.
// Locators are plain paths or file:// URLs. A missing file is reported as a 404
// response so alternate fallback behaves as it does for HTTP.
package filefetcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/data-spider/internal/spider"
)

// Transport reads targets from disk, optionally relative to a root directory.
type Transport struct {
	root string
}

// New builds a Transport. An empty root leaves relative paths relative to the
// working directory.
func New(root string) *Transport {
	return &Transport{root: root}
}

// Do reads the file at locator.
func (t *Transport) Do(ctx context.Context, locator string, _ spider.Target) (spider.RawResponse, error) {
	if err := ctx.Err(); err != nil {
		return spider.RawResponse{}, err
	}
	path, err := t.resolve(locator)
	if err != nil {
		return spider.RawResponse{}, &spider.FetchError{Kind: spider.KindFatal, URL: locator, Err: err}
	}

	start := time.Now()
	data, err := os.ReadFile(path) //nolint:gosec // crawl inputs are configured paths
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return spider.RawResponse{URL: locator, StatusCode: http.StatusNotFound, Duration: time.Since(start)}, nil
	case errors.Is(err, fs.ErrPermission):
		return spider.RawResponse{URL: locator, StatusCode: http.StatusForbidden, Duration: time.Since(start)}, nil
	case err != nil:
		return spider.RawResponse{}, &spider.FetchError{Kind: spider.KindFatal, URL: locator, Err: fmt.Errorf("read %s: %w", path, err)}
	}
	return spider.RawResponse{
		URL:        locator,
		StatusCode: http.StatusOK,
		Body:       data,
		Duration:   time.Since(start),
	}, nil
}

func (t *Transport) resolve(locator string) (string, error) {
	path := locator
	if strings.HasPrefix(locator, "file://") {
		u, err := url.Parse(locator)
		if err != nil {
			return "", fmt.Errorf("parse file url: %w", err)
		}
		path = u.Path
	}
	if path == "" {
		return "", errors.New("empty path")
	}
	if t.root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(t.root, path)
	}
	return filepath.Clean(path), nil
}
