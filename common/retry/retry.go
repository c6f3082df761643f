// Package retry runs operations against the durable store with exponential
// backoff. The engine itself performs no I/O, so retries only ever wrap host
// persistence calls.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Config{Attempts: 3, BaseDelay: 50 * time.Millisecond}, func() error {
//	    return store.AppendEvent(ctx, evt)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// Attempts is the total number of attempts including the first one.
	// Values below 1 mean a single attempt.
	Attempts int
	// BaseDelay is the wait before the second attempt; it doubles after
	// every failure up to MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration
	// Retryable classifies errors. When nil every error is retried.
	Retryable func(err error) bool
	// Logger receives a debug line per failed attempt. Defaults to slog.Default().
	Logger *slog.Logger
}

// Default suits local SQLite writes that may hit a busy database.
var Default = Config{
	Attempts:  4,
	BaseDelay: 25 * time.Millisecond,
	MaxDelay:  time.Second,
}

func (c Config) normalized() Config {
	if c.Attempts < 1 {
		c.Attempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = Default.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = Default.MaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Retryable == nil {
		c.Retryable = func(error) bool { return true }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. The last error is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := Value(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	cfg = cfg.normalized()

	var (
		zero    T
		lastErr error
	)
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errors.Join(lastErr, err)
		}

		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !cfg.Retryable(err) || attempt == cfg.Attempts {
			break
		}

		cfg.Logger.Debug("retry: attempt failed",
			"attempt", attempt,
			"attempts", cfg.Attempts,
			"delay", delay,
			"err", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, lastErr
}
