package spider

import (
	"fmt"
	"net/http"
	"slices"
	"time"
)

// Default fetch retry settings.
const (
	DefaultMaxAttempts    = 15
	DefaultRequestTimeout = 300 * time.Second
	DefaultRetryDelay     = 15 * time.Second
)

// DefaultRecoverableStatusCodes are gateway failures plus the Cloudflare 52x range.
var DefaultRecoverableStatusCodes = []int{
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
	520, 521, 522, 523, 524,
}

// DefaultSkippableStatusCodes are client errors plus unofficial extensions that
// mean the resource will not become available by retrying.
var DefaultSkippableStatusCodes = func() []int {
	codes := make([]int, 0, 48)
	for code := 400; code <= 418; code++ {
		codes = append(codes, code)
	}
	for code := 421; code <= 426; code++ {
		codes = append(codes, code)
	}
	codes = append(codes, 428, 431, 451)
	// unofficial codes seen in the wild
	codes = append(codes, 419, 420, 430, 450, 498, 499)
	return codes
}()

// RetryPolicy configures the fetch layer. It is never mutated at runtime.
type RetryPolicy struct {
	MaxAttempts            int
	RequestTimeout         time.Duration
	RetryDelay             time.Duration
	RecoverableStatusCodes []int
	SkippableStatusCodes   []int
}

// DefaultRetryPolicy returns the stock fetch policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:            DefaultMaxAttempts,
		RequestTimeout:         DefaultRequestTimeout,
		RetryDelay:             DefaultRetryDelay,
		RecoverableStatusCodes: slices.Clone(DefaultRecoverableStatusCodes),
		SkippableStatusCodes:   slices.Clone(DefaultSkippableStatusCodes),
	}
}

// Validate checks the policy ranges.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry max_attempts must be >= 1", ErrInvalidConfig)
	}
	if p.RequestTimeout <= 0 {
		return fmt.Errorf("%w: retry request_timeout must be > 0", ErrInvalidConfig)
	}
	if p.RetryDelay < 0 {
		return fmt.Errorf("%w: retry retry_delay must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// StatusKind classifies an HTTP status received from the server. The boolean is
// false for statuses that are not failures.
func (p RetryPolicy) StatusKind(code int) (ErrorKind, bool) {
	switch {
	case slices.Contains(p.RecoverableStatusCodes, code):
		return KindRecoverable, true
	case slices.Contains(p.SkippableStatusCodes, code):
		return KindSkippable, true
	case code >= 200 && code < 400:
		return KindFatal, false
	default:
		return KindFatal, true
	}
}

// Backoff returns the wait before the next attempt. The delay is fixed.
func (p RetryPolicy) Backoff(int) time.Duration {
	return p.RetryDelay
}
