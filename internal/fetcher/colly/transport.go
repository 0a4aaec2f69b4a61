// Package collyfetcher implements spider.Transport using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/data-spider/internal/spider"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	// Timeout bounds the underlying HTTP client. Per-attempt deadlines come
	// from the context passed to Do.
	Timeout time.Duration
}

// Transport performs single HTTP attempts with a Colly collector.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Transport.
func New(cfg Config) *Transport {
	if cfg.UserAgent == "" {
		cfg.UserAgent = spider.DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = spider.DefaultRequestTimeout + time.Second
	}

	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = cfg.UserAgent
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	// every status must reach OnResponse so the fetcher can classify it
	c.ParseHTTPErrorResponse = true
	c.AllowURLRevisit = true
	c.MaxBodySize = 0
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Transport{cfg: cfg, baseCollector: c}
}

// Do issues one request for rawURL. Cancelling ctx aborts the request in flight.
func (t *Transport) Do(ctx context.Context, rawURL string, target spider.Target) (spider.RawResponse, error) {
	if err := validateURL(rawURL); err != nil {
		return spider.RawResponse{}, &spider.FetchError{Kind: spider.KindFatal, URL: rawURL, Err: err}
	}

	var (
		result   spider.RawResponse
		fetchErr error
	)
	start := time.Now()
	collector := t.buildCollector(ctx, target, start, &result, &fetchErr)

	if err := t.runCollector(collector, rawURL, target, &fetchErr); err != nil {
		return spider.RawResponse{}, err
	}
	return result, nil
}

func (t *Transport) buildCollector(
	ctx context.Context,
	target spider.Target,
	start time.Time,
	result *spider.RawResponse,
	fetchErr *error,
) *colly.Collector {
	collector := t.baseCollector.Clone()
	collector.Context = ctx
	t.configureCollectorHooks(collector, target, start, result, fetchErr)
	return collector
}

func (t *Transport) configureCollectorHooks(
	hooks collectorHooks,
	target spider.Target,
	start time.Time,
	result *spider.RawResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if enc := responseEncoding(target.Encoding); enc != "" {
			r.ResponseCharacterEncoding = enc
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = spider.RawResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (t *Transport) runCollector(collector *colly.Collector, rawURL string, target spider.Target, fetchErr *error) error {
	method := target.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(target.Body) > 0 {
		body = bytes.NewReader(target.Body)
	}
	if err := collector.Request(method, rawURL, body, nil, requestHeaders(target.Headers)); err != nil {
		if refused(err) {
			return &spider.FetchError{Kind: spider.KindFatal, URL: rawURL, Err: fmt.Errorf("colly refused request: %w", err)}
		}
		return fmt.Errorf("colly request %s: %w", rawURL, err)
	}
	if *fetchErr != nil {
		if refused(*fetchErr) {
			return &spider.FetchError{Kind: spider.KindFatal, URL: rawURL, Err: fmt.Errorf("colly refused request: %w", *fetchErr)}
		}
		return fmt.Errorf("colly response %s: %w", rawURL, *fetchErr)
	}
	return nil
}

// preRequestErrors are returned by colly before anything is sent. Retrying
// cannot change the outcome.
var preRequestErrors = []error{
	colly.ErrRobotsTxtBlocked,
	colly.ErrForbiddenDomain,
	colly.ErrForbiddenURL,
	colly.ErrMissingURL,
	colly.ErrNoURLFiltersMatch,
	colly.ErrMaxDepth,
}

func refused(err error) bool {
	for _, sentinel := range preRequestErrors {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func requestHeaders(in http.Header) http.Header {
	out := http.Header{}
	for key, values := range in {
		for _, v := range values {
			out.Add(key, v)
		}
	}
	return out
}

// responseEncoding returns the charset colly should decode from, or "" when the
// body is already UTF-8.
func responseEncoding(enc string) string {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "", "utf8", "utf-8":
		return ""
	default:
		return enc
	}
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", rawURL)
	}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
