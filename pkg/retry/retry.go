// Package retry provides exponential-backoff retry for operations outside
// the upcall/downcall wire path — notably the supervisor's device-reopen
// loop before it forks the first pvfs2-client-core child.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/pvfs2/client/pkg/errors"
)

// Config defines retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor delay grows by after each attempt.
	Multiplier float64

	// Jitter adds up to ±20% randomness to each delay.
	Jitter bool

	// Retryable reports whether err should trigger another attempt. A nil
	// Retryable retries every non-nil error.
	Retryable func(err error) bool

	// OnRetry is called before waiting out the delay for the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns a sensible default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer executes a function with exponential backoff between attempts.
type Retryer struct {
	config Config
}

// New constructs a Retryer, filling in DefaultConfig's values for any
// field left at its zero value.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &Retryer{config: config}
}

// Do runs fn with no context, retrying on failure per the configured policy.
func (r *Retryer) Do(fn func() error) error {
	return r.DoWithContext(context.Background(), func(context.Context) error { return fn() })
}

// DoWithContext runs fn, retrying with exponential backoff until it
// succeeds, ctx is cancelled, MaxAttempts is exhausted, or Retryable
// rejects an error outright.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		retryable := r.config.Retryable == nil || r.config.Retryable(err)
		if !retryable || attempt == r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return errors.Wrap("retry", errors.CodeRestartBudgetExceeded, lastErr).
		WithOperation("DoWithContext")
}

func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}
