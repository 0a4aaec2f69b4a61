package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/data-spider/internal/spider"
)

// SchemeTransport routes each attempt by locator scheme: http and https go to
// HTTP, plain paths and file:// locators go to File.
type SchemeTransport struct {
	HTTP spider.Transport
	File spider.Transport
}

// Do implements spider.Transport.
func (t SchemeTransport) Do(ctx context.Context, rawURL string, target spider.Target) (spider.RawResponse, error) {
	next := t.route(rawURL)
	if next == nil {
		return spider.RawResponse{}, &spider.FetchError{
			Kind: spider.KindFatal,
			URL:  rawURL,
			Err:  fmt.Errorf("no transport for %q", rawURL),
		}
	}
	return next.Do(ctx, rawURL, target)
}

func (t SchemeTransport) route(rawURL string) spider.Transport {
	u, err := url.Parse(rawURL)
	if err != nil {
		return t.File
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return t.HTTP
	case "", "file":
		return t.File
	default:
		// windows drive letters parse as a one-letter scheme
		if len(u.Scheme) == 1 {
			return t.File
		}
		return nil
	}
}
