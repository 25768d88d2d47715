package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/airframesio/medallion-loader/cmd/objectstore"
	"github.com/cenkalti/backoff/v4"
)

// ErrWaitTimeout is returned when no matching key appears in time
var ErrWaitTimeout = errors.New("timed out waiting for a matching key")

var errNoMatch = errors.New("no matching key yet")

// WaitForKeys polls prefix until a key matches pattern and returns that key.
// The pattern is matched with path.Match against the key relative to prefix,
// so "*.parquet/*" matches any object inside a dataset directory. A listing
// error ends the wait.
func WaitForKeys(ctx context.Context, store objectstore.Store, prefix, pattern string, timeout, interval time.Duration, logger *slog.Logger) (string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return "", fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}

	prefix = normalizePrefix(prefix)
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var found string
	pokes := 0
	poke := func() error {
		pokes++
		// Listings use the caller's context; the deadline only bounds the waiting
		keys, err := store.ListKeys(ctx, prefix)
		if err != nil {
			return backoff.Permanent(err)
		}
		for _, key := range keys {
			if ok, _ := path.Match(pattern, strings.TrimPrefix(key, prefix)); ok {
				found = key
				return nil
			}
		}
		return errNoMatch
	}

	err := backoff.RetryNotify(poke, backoff.WithContext(backoff.NewConstantBackOff(interval), waitCtx), func(_ error, next time.Duration) {
		logger.Debug(fmt.Sprintf("⏳ No match for %s%s yet (poke %d), next check in %s", prefix, pattern, pokes, next))
	})
	switch {
	case err == nil:
		logger.Info(fmt.Sprintf("✅ Found s3://%s/%s", store.Bucket(), found), "key", found, "pokes", pokes)
		return found, nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(err, errNoMatch), errors.Is(err, context.DeadlineExceeded):
		return "", fmt.Errorf("%w: s3://%s/%s%s after %s", ErrWaitTimeout, store.Bucket(), prefix, pattern, timeout)
	default:
		return "", err
	}
}
