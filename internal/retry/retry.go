package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/abhisek/cadence/internal/record"
)

// Config configures retry behavior for version and lock conflicts.
type Config struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultConfig returns the retry settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		InitialWait: 5 * time.Millisecond,
		MaxWait:     200 * time.Millisecond,
		Multiplier:  2.0,
	}
}

// Retrier re-runs an operation that failed with
// record.ErrConcurrentModification, backing off exponentially with jitter.
// Any other error is returned immediately.
type Retrier struct {
	config  Config
	onRetry func(attempt int, wait time.Duration, err error)
}

// New returns a Retrier for cfg.
func New(cfg Config) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Retrier{config: cfg}
}

// OnRetry registers a callback invoked before each backoff sleep.
func (r *Retrier) OnRetry(fn func(attempt int, wait time.Duration, err error)) *Retrier {
	r.onRetry = fn
	return r
}

// Do runs fn until it succeeds, fails with a non-retryable error, ctx is
// done, or MaxAttempts is reached.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := range r.config.MaxAttempts {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !record.IsRetryable(err) {
			return err
		}

		// Last attempt, don't sleep.
		if attempt == r.config.MaxAttempts-1 {
			break
		}

		wait := r.backoff(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt+1, wait, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", r.config.MaxAttempts, lastErr)
}

// backoff computes the wait duration for the given attempt.
func (r *Retrier) backoff(attempt int) time.Duration {
	wait := float64(r.config.InitialWait) * math.Pow(r.config.Multiplier, float64(attempt))
	if wait > float64(r.config.MaxWait) {
		wait = float64(r.config.MaxWait)
	}

	// Add ±20% jitter.
	jitter := wait * 0.2 * (2*rand.Float64() - 1)
	wait += jitter

	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
