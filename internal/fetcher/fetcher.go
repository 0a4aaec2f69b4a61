// Package fetcher implements the retrying fetch layer. Each attempt goes through
// a spider.Transport; failures are classified as skippable, recoverable or fatal
// and handled with a fixed retry delay and fallback across alternate URLs.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/data-spider/internal/clock/system"
	"github.com/JakeFAU/data-spider/internal/spider"
)

const tracerName = "github.com/JakeFAU/data-spider/internal/fetcher"

// Attempt describes one finished transport call.
type Attempt struct {
	URL        string
	Number     int
	StatusCode int
	Bytes      int
	Duration   time.Duration
	Err        error
}

// Observer is notified after every attempt. It must not block.
type Observer func(Attempt)

// Fetcher implements spider.Fetcher.
type Fetcher struct {
	transport spider.Transport
	policy    spider.RetryPolicy
	sleeper   spider.Sleeper
	logger    *zap.Logger
	observer  Observer
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithSleeper replaces the real sleeper.
func WithSleeper(s spider.Sleeper) Option {
	return func(f *Fetcher) {
		if s != nil {
			f.sleeper = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithObserver registers an attempt observer.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) {
		f.observer = o
	}
}

// New validates the policy and builds a Fetcher.
func New(transport spider.Transport, policy spider.RetryPolicy, opts ...Option) (*Fetcher, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: fetcher transport must be set", spider.ErrInvalidConfig)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	f := &Fetcher{
		transport: transport,
		policy:    policy,
		sleeper:   system.New(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Policy returns the retry policy in use.
func (f *Fetcher) Policy() spider.RetryPolicy {
	return f.policy
}

// Fetch retrieves target. A 404 on one alternate falls through to the next
// alternate immediately, but still uses up one attempt.
func (f *Fetcher) Fetch(ctx context.Context, target spider.Target) (spider.RawResponse, error) {
	if len(target.URLs) == 0 {
		return spider.RawResponse{}, &spider.FetchError{Kind: spider.KindFatal, Err: errors.New("target has no urls")}
	}

	var lastErr error
	urlIndex := 0
	for attempt := 0; attempt < f.policy.MaxAttempts; attempt++ {
		rawURL := target.URLs[urlIndex]
		resp, err := f.attempt(ctx, rawURL, target, attempt+1)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		switch spider.KindOf(err) {
		case spider.KindSkippable:
			if spider.IsNotFound(err) && urlIndex < len(target.URLs)-1 {
				urlIndex++
				f.logger.Debug("target not found, trying next alternate",
					zap.String("url", rawURL),
					zap.String("next", target.URLs[urlIndex]),
				)
				continue
			}
			return spider.RawResponse{}, err
		case spider.KindRecoverable:
			if attempt >= f.policy.MaxAttempts-1 {
				return spider.RawResponse{}, fmt.Errorf("%w: could not retrieve %q after %d attempts: %w",
					spider.ErrRetriesExhausted, rawURL, attempt+1, err)
			}
			delay := f.policy.Backoff(attempt)
			f.logger.Info("recoverable fetch failure, retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if err := f.sleeper.Sleep(ctx, delay); err != nil {
				return spider.RawResponse{}, fmt.Errorf("retry wait for %q: %w", rawURL, err)
			}
		default:
			return spider.RawResponse{}, err
		}
	}
	// only reachable when the last attempt fell through to another alternate
	return spider.RawResponse{}, fmt.Errorf("%w: could not retrieve %q after %d attempts: %w",
		spider.ErrRetriesExhausted, target.String(), f.policy.MaxAttempts, lastErr)
}

// attempt performs one request bounded by the policy timeout and returns a
// classified error on failure.
func (f *Fetcher) attempt(ctx context.Context, rawURL string, target spider.Target, number int) (spider.RawResponse, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "fetch.attempt")
	span.SetAttributes(attribute.String("url.full", rawURL), attribute.Int("spider.attempt", number))
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, f.policy.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := f.transport.Do(attemptCtx, rawURL, target)
	timedOut := err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
	if err != nil && ctx.Err() != nil {
		err = &spider.FetchError{Kind: spider.KindFatal, URL: rawURL, Err: fmt.Errorf("%w: %w", ctx.Err(), err)}
	} else {
		err = Classify(f.policy, rawURL, resp, err, timedOut)
	}

	if f.observer != nil {
		duration := resp.Duration
		if duration == 0 {
			duration = time.Since(start)
		}
		f.observer(Attempt{
			URL:        rawURL,
			Number:     number,
			StatusCode: resp.StatusCode,
			Bytes:      len(resp.Body),
			Duration:   duration,
			Err:        err,
		})
	}
	if resp.StatusCode != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, spider.KindOf(err).String())
		return spider.RawResponse{}, err
	}
	return resp, nil
}

// Classify maps a transport outcome onto the three failure kinds. It returns
// nil for a successful response.
func Classify(policy spider.RetryPolicy, rawURL string, resp spider.RawResponse, err error, timedOut bool) error {
	if err != nil {
		var fe *spider.FetchError
		if errors.As(err, &fe) {
			return err
		}
		if timedOut {
			return &spider.FetchError{
				Kind: spider.KindRecoverable,
				URL:  rawURL,
				Err:  fmt.Errorf("request timed out after %s: %w", policy.RequestTimeout, err),
			}
		}
		// no response at all
		return &spider.FetchError{Kind: spider.KindRecoverable, URL: rawURL, Err: err}
	}
	kind, failed := policy.StatusKind(resp.StatusCode)
	if !failed {
		return nil
	}
	return &spider.FetchError{Kind: kind, URL: rawURL, StatusCode: resp.StatusCode}
}
