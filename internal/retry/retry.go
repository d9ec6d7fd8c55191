package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrExhausted is wrapped by the error returned when all attempts failed
var ErrExhausted = errors.New("retry attempts exhausted")

// Config holds retry configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts, 0 or less means unlimited
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound for the delay, 0 means no bound
	Multiplier   float64       // Backoff multiplier, values <= 1 keep the delay fixed
	Retryable    func(error) bool
}

// DefaultConfig returns default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Fixed returns a configuration that waits the same delay between attempts.
// attempts <= 0 retries until the context is cancelled.
func Fixed(delay time.Duration, attempts int, retryable func(error) bool) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		Multiplier:   1,
		Retryable:    retryable,
	}
}

// IsRetryable reports whether err should be retried under cfg.
// Without a predicate every non-nil error is retryable.
func (c Config) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if c.Retryable == nil {
		return true
	}
	return c.Retryable(err)
}

func (c Config) next(delay time.Duration) time.Duration {
	if c.Multiplier > 1 {
		delay = time.Duration(float64(delay) * c.Multiplier)
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Do executes a function with retry logic
func Do(ctx context.Context, cfg Config, operation func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, operation()
	})
	return err
}

// DoWithResult executes a function that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, cfg Config, operation func() (T, error)) (T, error) {
	var zero T
	delay := cfg.InitialDelay

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("context cancelled: %w", ctx.Err())
		}

		result, err := operation()
		if err == nil {
			if attempt > 1 {
				log.Debug().
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return result, nil
		}

		if !cfg.IsRetryable(err) {
			return zero, err
		}

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			log.Debug().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", cfg.MaxAttempts).
				Msg("Max retry attempts reached")
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", cfg.MaxAttempts).
			Dur("retry_delay", delay).
			Msg("Operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-timer.C:
		}

		delay = cfg.next(delay)
	}
}
