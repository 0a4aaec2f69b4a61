package spider

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/data-spider/internal/clock/system"
)

// Runner drives one site: navigate, check termination, store, pause, repeat.
// A Runner is single-use and strictly sequential.
type Runner struct {
	cfg      SiteConfig
	nav      *StepNavigator
	sleeper  Sleeper
	logger   *zap.Logger
	observer Observer
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSleeper replaces the sleeper used for pacing and retry delays.
func WithSleeper(s Sleeper) RunnerOption {
	return func(r *Runner) {
		if s != nil {
			r.sleeper = s
		}
	}
}

// WithObserver registers a progress observer.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		r.observer = o
	}
}

// NewRunner validates the site configuration and builds a runner.
func NewRunner(cfg SiteConfig, fetcher Fetcher, opts ...RunnerOption) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, fmt.Errorf("%w: site %s: fetcher must be set", ErrInvalidConfig, cfg.Name)
	}
	r := &Runner{
		cfg:     cfg,
		sleeper: system.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("site", cfg.Name))
	r.nav = NewStepNavigator(cfg, fetcher, r.sleeper, r.logger)
	return r, nil
}

// Run executes the crawl until the navigator runs out of targets, the latest
// step is terminal, or the store declines to save.
func (r *Runner) Run(ctx context.Context) (stats RunStats, err error) {
	defer func() {
		if r.observer != nil {
			r.observer.RunFinished(stats, err)
		}
	}()

	if r.cfg.DryRun {
		return r.dryRun()
	}

	maxRetries := r.cfg.Behavior.MaxRetries
	state := InitialStep()
	for {
		var (
			next     *StepResult
			reason   StopReason
			stepErr  error
			finished bool
		)
		for attempt := 0; attempt < maxRetries; attempt++ {
			next, reason, stepErr = r.step(ctx, state)
			if stepErr == nil {
				finished = true
				break
			}
			if !IsRecoverable(stepErr) {
				return stats, stepErr
			}
			r.logger.Info("fetch failed", zap.Int("iteration", state.Iteration), zap.Int("attempt", attempt+1), zap.Error(stepErr))
			if attempt < maxRetries-1 {
				stats.Retries++
				if r.observer != nil {
					r.observer.StepRetried(state.Iteration, stepErr)
				}
				if err := r.sleeper.Sleep(ctx, r.cfg.Behavior.RetryDelay); err != nil {
					return stats, err
				}
			}
		}
		if !finished {
			return stats, fmt.Errorf("%w: could not complete step %d of %s after %d attempts: %w",
				ErrRetriesExhausted, state.Iteration, r.cfg.Name, maxRetries, stepErr)
		}
		if next == nil {
			stats.Reason = reason
			r.logger.Info("crawl finished", zap.String("reason", string(reason)), zap.Int("steps", stats.Steps))
			return stats, nil
		}

		stats.Steps++
		if next.Response != nil {
			stats.Bytes += int64(len(next.Response.Body))
		}
		if err := r.sleeper.Sleep(ctx, r.cfg.Behavior.Delay); err != nil {
			return stats, err
		}
		state = next.Advance()
	}
}

// step performs one navigate and store cycle. A nil result with a nil error
// means the crawl is over for the returned reason.
func (r *Runner) step(ctx context.Context, state StepResult) (*StepResult, StopReason, error) {
	next, err := r.nav.AttemptFetch(ctx, state, state.Iteration)
	if err != nil {
		return nil, "", err
	}
	if next == nil {
		return nil, StopExhausted, nil
	}
	if r.observer != nil {
		r.observer.StepFetched(*next)
	}
	if r.nav.IsDone(*next) {
		return nil, StopDone, nil
	}
	saved, err := r.cfg.Store.Save(ctx, *next)
	if err != nil {
		return nil, "", fmt.Errorf("save step %d: %w", next.Iteration, err)
	}
	if !saved {
		return nil, StopStoreDeclined, nil
	}
	r.logger.Debug("step stored", zap.Int("iteration", next.Iteration), zap.String("url", next.Target.Primary()))
	return next, "", nil
}

func (r *Runner) dryRun() (RunStats, error) {
	target, err := r.nav.NextTarget(InitialStep())
	if err != nil {
		return RunStats{}, err
	}
	if target == nil {
		r.logger.Warn("dry run: navigator produced no target")
		return RunStats{Reason: StopDryRun}, nil
	}
	fields := []zap.Field{
		zap.Strings("urls", target.URLs),
		zap.String("method", target.Method),
	}
	if loc, ok := r.cfg.Store.(Locator); ok {
		fields = append(fields, zap.String("output", loc.Location()))
	}
	r.logger.Warn("dry run: would fetch", fields...)
	return RunStats{Reason: StopDryRun}, nil
}
