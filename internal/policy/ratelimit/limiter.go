// Package ratelimit implements a per-host token bucket shared by every site in
// a batch, so sites that hit the same host do not add up to a burst.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/data-spider/internal/spider"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the steady request rate per host. Zero or less disables limiting.
	RPS float64
	// Burst is the bucket size. Defaults to 1.
	Burst int
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	delay    *prometheus.HistogramVec
}

// New creates a Limiter. When reg is non-nil the wait time per host is exported
// as spider_rate_limit_delay_seconds.
func New(cfg Config, reg prometheus.Registerer) (*Limiter, error) {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := max(cfg.Burst, 1)
	l := &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
	if reg != nil {
		l.delay = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spider_rate_limit_delay_seconds",
			Help:    "Time spent waiting for a rate limit token, labeled by host.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"host"})
		if err := reg.Register(l.delay); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, fmt.Errorf("register rate limit metrics: %w", err)
			}
			existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				return nil, fmt.Errorf("register rate limit metrics: %w", err)
			}
			l.delay = existing
		}
	}
	return l, nil
}

// Wait blocks until a token is available for the host of rawURL.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); l.delay != nil && waited > time.Millisecond {
		l.delay.WithLabelValues(host).Observe(waited.Seconds())
	}
	return nil
}

// Wrap returns a transport that waits for a token before every attempt.
func (l *Limiter) Wrap(next spider.Transport) spider.Transport {
	return &limitedTransport{next: next, limiter: l}
}

type limitedTransport struct {
	next    spider.Transport
	limiter *Limiter
}

func (t *limitedTransport) Do(ctx context.Context, rawURL string, target spider.Target) (spider.RawResponse, error) {
	if err := t.limiter.Wait(ctx, rawURL); err != nil {
		return spider.RawResponse{}, err
	}
	return t.next.Do(ctx, rawURL, target)
}
