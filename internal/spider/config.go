package spider

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

// DefaultUserAgent is sent when a site does not configure one.
var DefaultUserAgent = "data-spider/dev"

// Site behavior defaults.
const (
	DefaultDelay          = time.Second
	DefaultSiteRetryDelay = 10 * time.Second
	DefaultMaxRetries     = 10
	DefaultEncoding       = "utf-8"
)

var allowedMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

// RequestConfig holds the request defaults applied to every target of a site.
type RequestConfig struct {
	Method   string
	Headers  http.Header
	Encoding string
}

// BehaviorConfig holds pacing and retry settings for a site.
type BehaviorConfig struct {
	Delay          time.Duration
	RetryDelay     time.Duration
	MaxRetries     int
	RequestTimeout time.Duration
}

// SiteConfig binds a navigator, a parser and a store with request and behavior
// settings. Build it with NewSiteConfig and treat it as read-only afterwards.
type SiteConfig struct {
	Name      string
	Navigator Navigator
	Parser    Parser
	Store     Store
	Request   RequestConfig
	Behavior  BehaviorConfig
	DryRun    bool
}

// NewSiteConfig fills defaults and validates the result.
func NewSiteConfig(in SiteConfig) (SiteConfig, error) {
	cfg := in
	cfg.Request.Method = strings.ToUpper(strings.TrimSpace(cfg.Request.Method))
	if cfg.Request.Method == "" {
		cfg.Request.Method = http.MethodGet
	}
	if cfg.Request.Encoding == "" {
		cfg.Request.Encoding = DefaultEncoding
	}
	cfg.Request.Headers = cfg.Request.Headers.Clone()
	if cfg.Request.Headers == nil {
		cfg.Request.Headers = http.Header{}
	}
	if cfg.Request.Headers.Get("User-Agent") == "" {
		cfg.Request.Headers.Set("User-Agent", DefaultUserAgent)
	}
	if cfg.Behavior.MaxRetries == 0 {
		cfg.Behavior.MaxRetries = DefaultMaxRetries
	}
	if cfg.Behavior.RequestTimeout == 0 {
		cfg.Behavior.RequestTimeout = DefaultRequestTimeout
	}
	if err := cfg.Validate(); err != nil {
		return SiteConfig{}, err
	}
	return cfg, nil
}

// DefaultBehavior returns the stock pacing settings.
func DefaultBehavior() BehaviorConfig {
	return BehaviorConfig{
		Delay:          DefaultDelay,
		RetryDelay:     DefaultSiteRetryDelay,
		MaxRetries:     DefaultMaxRetries,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// Validate checks required fields and ranges.
func (c SiteConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: site name must be set", ErrInvalidConfig)
	}
	if c.Navigator == nil {
		return fmt.Errorf("%w: site %s: navigator must be set", ErrInvalidConfig, c.Name)
	}
	if c.Parser == nil {
		return fmt.Errorf("%w: site %s: parser must be set", ErrInvalidConfig, c.Name)
	}
	if c.Store == nil {
		return fmt.Errorf("%w: site %s: store must be set", ErrInvalidConfig, c.Name)
	}
	if !slices.Contains(allowedMethods, c.Request.Method) {
		return fmt.Errorf("%w: site %s: request.method %q is not supported", ErrInvalidConfig, c.Name, c.Request.Method)
	}
	return c.Behavior.Validate()
}

// Validate checks behavior ranges.
func (b BehaviorConfig) Validate() error {
	if b.MaxRetries < 1 {
		return fmt.Errorf("%w: behavior.max_retries must be >= 1", ErrInvalidConfig)
	}
	if b.Delay < 0 {
		return fmt.Errorf("%w: behavior.delay must be >= 0", ErrInvalidConfig)
	}
	if b.RetryDelay < 0 {
		return fmt.Errorf("%w: behavior.retry_delay must be >= 0", ErrInvalidConfig)
	}
	if b.RequestTimeout <= 0 {
		return fmt.Errorf("%w: behavior.request_timeout must be > 0", ErrInvalidConfig)
	}
	return nil
}

// RetryPolicy derives the fetch policy for this site, keeping the default
// status classification.
func (b BehaviorConfig) RetryPolicy() RetryPolicy {
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = b.MaxRetries
	policy.RetryDelay = b.RetryDelay
	policy.RequestTimeout = b.RequestTimeout
	return policy
}
