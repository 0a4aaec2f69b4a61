package spider

import (
	"net/http"
	"strings"
	"time"
)

// Target is one fetch request with its ordered alternate locators.
type Target struct {
	URLs     []string
	Method   string
	Headers  http.Header
	Body     []byte
	Encoding string
}

// NewTarget builds a GET target over the given alternates.
func NewTarget(urls ...string) Target {
	return Target{URLs: urls, Method: http.MethodGet}
}

// Primary returns the first alternate, or "" when there is none.
func (t Target) Primary() string {
	if len(t.URLs) == 0 {
		return ""
	}
	return t.URLs[0]
}

// String joins the alternates for logging.
func (t Target) String() string {
	return strings.Join(t.URLs, " | ")
}

// withDefaults fills method, headers and encoding from the site request settings.
func (t Target) withDefaults(req RequestConfig) Target {
	out := t
	if out.Method == "" {
		out.Method = req.Method
	}
	if out.Encoding == "" {
		out.Encoding = req.Encoding
	}
	headers := req.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	for key, values := range t.Headers {
		headers[key] = append([]string(nil), values...)
	}
	out.Headers = headers
	return out
}

// RawResponse is the unparsed outcome of one successful fetch attempt.
type RawResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ParsedData pairs the raw body with the value a Parser produced from it.
type ParsedData struct {
	Raw   []byte
	Value any
}

// StepResult is the immutable snapshot of one navigate and parse cycle.
type StepResult struct {
	Iteration int
	Target    *Target
	Response  *RawResponse
	Data      *ParsedData
}

// InitialStep is the empty state the run loop starts from.
func InitialStep() StepResult {
	return StepResult{}
}

// Advance returns a copy of the result positioned at the next iteration.
func (s StepResult) Advance() StepResult {
	next := s
	next.Iteration++
	return next
}

// Value returns the parsed value, or nil when nothing was parsed.
func (s StepResult) Value() any {
	if s.Data == nil {
		return nil
	}
	return s.Data.Value
}

// StopReason records why a run loop finished.
type StopReason string

// Stop reasons reported by Runner.Run.
const (
	StopExhausted     StopReason = "exhausted"
	StopDone          StopReason = "done"
	StopStoreDeclined StopReason = "store_declined"
	StopDryRun        StopReason = "dry_run"
)

// RunStats summarises a finished run.
type RunStats struct {
	Steps   int
	Retries int
	Bytes   int64
	Reason  StopReason
}
