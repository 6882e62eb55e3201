// Package retry implements the retry policy applied to every remote
// call: bounded attempts with exponential backoff and jitter, retried
// only for error kinds the decision table in pkg/errors marks
// retryable.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/mmarcus006/web-scraper-legal/pkg/errors"
	"github.com/mmarcus006/web-scraper-legal/pkg/logger"
)

// Operation is a unit of work that may need retrying.
type Operation func() error

// OperationWithResult is an Operation that produces a value.
type OperationWithResult[T any] func() (T, error)

// Config holds the retry policy for a call site.
type Config struct {
	// MaxAttempts bounds total attempts, including the first.
	MaxAttempts int
	// Backoff computes the wait between attempts.
	Backoff BackoffStrategy
	// RetryIf decides whether an error is worth another attempt.
	RetryIf func(error) bool
	// Logger records retry attempts. Nil disables retry logging.
	Logger logger.Logger
}

// DefaultConfig returns the documented policy: 3 attempts, exponential
// backoff, retry on transient kinds only.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     DefaultRetryIf,
		Logger:      logger.Nop(),
	}
}

// DefaultRetryIf retries classified transient errors and unclassified
// errors, and never retries context cancellation.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *errors.Error
	if stderrors.As(err, &apiErr) {
		return errors.IsRetryable(apiErr.Kind)
	}
	return true
}

// Do runs op until it succeeds, the error is terminal, attempts run
// out, or ctx is cancelled. The last error is returned unwrapped when
// terminal, wrapped when the attempt budget is exhausted.
func Do(ctx context.Context, op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if cfg.MaxAttempts > 0 && attempt > cfg.MaxAttempts {
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
		}

		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.RetryIf(err) {
			return err
		}

		delay := cfg.Backoff.NextDelay(attempt)
		if cfg.Logger != nil {
			cfg.Logger.WarnWithFields("retrying operation", map[string]interface{}{
				"attempt":      attempt,
				"max_attempts": cfg.MaxAttempts,
				"delay":        delay,
				"error":        err.Error(),
			})
		}

		if werr := Wait(ctx, delay); werr != nil {
			return fmt.Errorf("retry cancelled: %w", werr)
		}
	}
}

// DoWithResult runs an operation that returns a value under the same
// policy as Do.
func DoWithResult[T any](ctx context.Context, op OperationWithResult[T], cfg *Config) (T, error) {
	var result T
	err := Do(ctx, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	}, cfg)
	return result, err
}

// Sleep is a convenience wrapper for pacing delays between requests.
// Unlike backoff it is unconditional; it exists so callers don't reach
// for time.Sleep and lose cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	return Wait(ctx, d)
}
