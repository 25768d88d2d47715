package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// withRetry runs fn up to retries+1 times with a fixed delay between attempts.
// Cancellation stops the loop and is returned as is.
func withRetry(ctx context.Context, logger *slog.Logger, name string, retries int, delay time.Duration, fn func(context.Context) error) error {
	attempts := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(max(retries, 0))), ctx)

	err := backoff.RetryNotify(func() error {
		attempts++
		err := fn(ctx)
		if err != nil && (errors.Is(err, context.Canceled) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		logger.Warn(fmt.Sprintf("⚠️  %s failed (attempt %d/%d): %v; retrying in %s", name, attempts, retries+1, err, next),
			"attempt", attempts, "error", err)
	})
	if err == nil {
		return nil
	}
	if attempts > 1 && ctx.Err() == nil {
		return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, err)
	}
	return err
}
