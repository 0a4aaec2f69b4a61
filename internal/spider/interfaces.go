package spider

import (
	"context"
	"time"
)

// Fetcher retrieves a target, applying its own retry policy.
type Fetcher interface {
	Fetch(ctx context.Context, target Target) (RawResponse, error)
}

// Transport performs exactly one attempt against one locator. Implementations
// return a response for every status the server sent and an error only when no
// response was received.
type Transport interface {
	Do(ctx context.Context, url string, target Target) (RawResponse, error)
}

// Parser turns a raw body into a structured value. It must fail on malformed
// input rather than return partial data.
type Parser interface {
	Parse(raw []byte) (any, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(raw []byte) (any, error)

// Parse calls f.
func (f ParserFunc) Parse(raw []byte) (any, error) {
	return f(raw)
}

// Navigator computes the next fetch target from the previous step. A nil
// target means there is no more work.
type Navigator interface {
	NextTarget(prev StepResult) (*Target, error)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(prev StepResult) (*Target, error)

// NextTarget calls f.
func (f NavigatorFunc) NextTarget(prev StepResult) (*Target, error) {
	return f(prev)
}

// DoneChecker is optionally implemented by a Navigator to replace the default
// termination rule.
type DoneChecker interface {
	IsDone(latest StepResult) bool
}

// Store persists one step. Returning false asks the run loop to stop.
type Store interface {
	Save(ctx context.Context, result StepResult) (bool, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Observer receives crawl progress notifications. Implementations must not block.
type Observer interface {
	StepFetched(result StepResult)
	StepRetried(iteration int, err error)
	RunFinished(stats RunStats, err error)
}

// Locator is optionally implemented by stores to report where output goes.
type Locator interface {
	Location() string
}
