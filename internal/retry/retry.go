// Package retry provides bounded retries with exponential backoff and jitter
// for embedding and vector backend calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Config controls the retry loop.
type Config struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // backoff ceiling
	Multiplier  float64
	Jitter      float64          // 0..1 fraction of the delay randomized
	RetryIf     func(error) bool // nil means DefaultRetryIf
}

// DefaultConfig returns the service defaults: two attempts, 500ms base delay.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 2,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
		RetryIf:     DefaultRetryIf,
	}
}

// Operation is a retryable unit of work.
type Operation func(ctx context.Context) error

// Retrier runs operations under a Config.
type Retrier struct {
	config *Config
}

// New creates a Retrier, normalizing out-of-range config values.
func New(config *Config) *Retrier {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	if config.Jitter < 0 {
		config.Jitter = 0
	} else if config.Jitter > 1 {
		config.Jitter = 1
	}
	if config.RetryIf == nil {
		config.RetryIf = DefaultRetryIf
	}
	return &Retrier{config: config}
}

// Do runs op, retrying transient failures until the attempt budget runs out
// or the context is done. Returns the last error.
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	delay := r.config.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.config.RetryIf(err) || attempt == r.config.MaxAttempts {
			break
		}

		select {
		case <-time.After(r.withJitter(delay)):
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
		}

		delay = time.Duration(float64(delay) * r.config.Multiplier)
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}
	return lastErr
}

func (r *Retrier) withJitter(delay time.Duration) time.Duration {
	if r.config.Jitter == 0 {
		return delay
	}
	delta := float64(delay) * r.config.Jitter
	return time.Duration(float64(delay) - delta + rand.Float64()*2*delta)
}

// Do runs op with the default configuration.
func Do(ctx context.Context, op Operation) error {
	return New(DefaultConfig()).Do(ctx, op)
}

// TemporaryError marks an error as retryable.
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string { return fmt.Sprintf("temporary error: %v", e.Err) }
func (e *TemporaryError) Unwrap() error { return e.Err }
func (e *TemporaryError) Temporary() bool {
	return true
}

// PermanentError marks an error as not retryable.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// DefaultRetryIf retries everything except PermanentError and errors that
// report Temporary() == false.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	var permErr *PermanentError
	if errors.As(err, &permErr) {
		return false
	}
	type temporary interface{ Temporary() bool }
	var te temporary
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return true
}
