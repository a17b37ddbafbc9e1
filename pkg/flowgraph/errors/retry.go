package errors

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryConfig is the backoff policy for provider and inspection API calls.
type RetryConfig struct {
	// MaxAttempts counts the first call. Values below one mean one.
	MaxAttempts int

	InitialBackoff time.Duration
	// MaxBackoff caps both the computed wait and any server hint. Zero
	// leaves the wait uncapped.
	MaxBackoff    time.Duration
	BackoffFactor float64
	// Jitter spreads each wait by up to this fraction either way.
	Jitter float64

	// Retryable replaces IsRetryable when set.
	Retryable func(error) bool

	// OnRetry is called before each backoff sleep with the failed attempt
	// number (starting at 1), its error and the wait about to be taken.
	OnRetry func(attempt int, err error, wait time.Duration)

	// Clock drives backoff sleeps. Nil uses the real clock.
	Clock clockwork.Clock
}

// DefaultRetry is used unless a caller overrides it.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry makes exactly one attempt.
var NoRetry = RetryConfig{MaxAttempts: 1}

// RetryResult reports how a retried call ended.
type RetryResult[T any] struct {
	Value T
	// Err wraps the last failure in a CategorizedError.
	Err      error
	Attempts int
	Duration time.Duration
}

// Do calls fn until it succeeds, returns an error that is not retryable,
// runs out of attempts, or ctx ends. An HTTPError carrying RetryAfter
// stretches the following wait to at least that long.
func Do[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) RetryResult[T] {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := max(cfg.MaxAttempts, 1)
	start := clock.Now()
	res := func(v T, err error, n int) RetryResult[T] {
		return RetryResult[T]{Value: v, Err: err, Attempts: n, Duration: clock.Since(start)}
	}
	var zero T

	backoff := cfg.InitialBackoff
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return res(zero, &CategorizedError{Err: err, Category: CategoryPermanent, Context: "context cancelled"}, n-1)
		}
		v, err := fn(ctx)
		if err == nil {
			return res(v, nil, n)
		}
		if !retryable(err) {
			return res(zero, &CategorizedError{Err: err, Category: Categorize(err), Retries: n}, n)
		}
		if n == attempts {
			return res(zero, &CategorizedError{
				Err:      err,
				Category: Categorize(err),
				Retries:  n,
				Context:  "max retries exceeded",
			}, n)
		}

		wait := nextWait(cfg, backoff, err)
		if cfg.OnRetry != nil {
			cfg.OnRetry(n, err, wait)
		}
		select {
		case <-ctx.Done():
			return res(zero, &CategorizedError{Err: ctx.Err(), Category: CategoryPermanent, Context: "context cancelled during backoff"}, n)
		case <-clock.After(wait):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
}

// nextWait applies jitter to backoff, then honors a Retry-After hint.
func nextWait(cfg RetryConfig, backoff time.Duration, err error) time.Duration {
	wait := jitter(backoff, cfg.Jitter)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > wait {
		wait = httpErr.RetryAfter
	}
	if cfg.MaxBackoff > 0 && wait > cfg.MaxBackoff {
		wait = cfg.MaxBackoff
	}
	return wait
}

// jitter returns base moved by up to frac of itself in either direction.
func jitter(base time.Duration, frac float64) time.Duration {
	if frac <= 0 || base <= 0 {
		return base
	}
	return base + time.Duration(float64(base)*frac*(rand.Float64()*2-1))
}

// RetryOption adjusts a RetryConfig built by NewRetryConfig.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxAttempts = n }
}

// WithInitialBackoff sets the first wait.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.InitialBackoff = d }
}

// WithMaxBackoff caps every wait.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxBackoff = d }
}

// WithJitter sets the jitter fraction. Zero makes waits exact.
func WithJitter(frac float64) RetryOption {
	return func(cfg *RetryConfig) { cfg.Jitter = frac }
}

// WithOnRetry registers a hook run before each backoff.
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) RetryOption {
	return func(cfg *RetryConfig) { cfg.OnRetry = fn }
}

// WithClock sets the clock used for backoff sleeps.
func WithClock(c clockwork.Clock) RetryOption {
	return func(cfg *RetryConfig) { cfg.Clock = c }
}

// NewRetryConfig starts from DefaultRetry and applies opts.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
