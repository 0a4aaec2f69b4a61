package spider

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// StepNavigator runs one navigation step: compute the target, fetch it and
// parse the body, retrying the fetch and parse sequence when parsing fails.
type StepNavigator struct {
	cfg     SiteConfig
	fetcher Fetcher
	sleeper Sleeper
	logger  *zap.Logger
}

// NewStepNavigator wires a navigator for the site.
func NewStepNavigator(cfg SiteConfig, fetcher Fetcher, sleeper Sleeper, logger *zap.Logger) *StepNavigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StepNavigator{
		cfg:     cfg,
		fetcher: fetcher,
		sleeper: sleeper,
		logger:  logger.With(zap.String("site", cfg.Name)),
	}
}

// NextTarget computes the next target with the site request defaults applied.
func (n *StepNavigator) NextTarget(prev StepResult) (*Target, error) {
	target, err := n.cfg.Navigator.NextTarget(prev)
	if err != nil {
		return nil, fmt.Errorf("compute next target: %w", err)
	}
	if target == nil || len(target.URLs) == 0 {
		return nil, nil
	}
	resolved := target.withDefaults(n.cfg.Request)
	return &resolved, nil
}

// AttemptFetch returns the next step, or nil when the navigator has no more
// targets. Fetch errors are returned as-is so the caller can classify them.
func (n *StepNavigator) AttemptFetch(ctx context.Context, prev StepResult, iteration int) (*StepResult, error) {
	target, err := n.NextTarget(prev)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, nil
	}

	maxRetries := n.cfg.Behavior.MaxRetries
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := n.fetcher.Fetch(ctx, *target)
		if err != nil {
			return nil, err
		}

		value, parseErr := n.cfg.Parser.Parse(resp.Body)
		if parseErr == nil {
			return &StepResult{
				Iteration: iteration,
				Target:    target,
				Response:  &resp,
				Data:      &ParsedData{Raw: resp.Body, Value: value},
			}, nil
		}

		n.logger.Error("data parsing failed",
			zap.String("url", resp.URL),
			zap.Int("attempt", attempt+1),
			zap.Error(parseErr),
		)
		n.logger.Debug("data parsing failure raw data",
			zap.String("url", resp.URL),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", resp.Body),
		)

		if attempt >= maxRetries-1 {
			return nil, &ParseError{URL: resp.URL, Err: parseErr}
		}
		if err := n.sleeper.Sleep(ctx, n.cfg.Behavior.RetryDelay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no fetch attempt made for %s", ErrRetriesExhausted, target)
}

// IsDone reports whether latest is the terminal step, deferring to the site
// navigator when it implements DoneChecker.
func (n *StepNavigator) IsDone(latest StepResult) bool {
	if checker, ok := n.cfg.Navigator.(DoneChecker); ok {
		return checker.IsDone(latest)
	}
	return DefaultIsDone(latest)
}

// DefaultIsDone stops on a missing or empty value and on any value that is not
// a sequence.
func DefaultIsDone(latest StepResult) bool {
	value := latest.Value()
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len() == 0
	default:
		return true
	}
}
