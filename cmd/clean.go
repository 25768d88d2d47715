package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/airframesio/medallion-loader/cmd/objectstore"
)

// ErrEmptyPrefix guards against deleting a whole bucket
var ErrEmptyPrefix = errors.New("refusing to clean an empty prefix")

// ErrGoldPrefixRequired is returned when a report is named without a gold tier
var ErrGoldPrefixRequired = errors.New("gold prefix is required to clean a report")

// cleanTarget resolves what clean deletes: an explicit prefix as given,
// otherwise the named report directory under the gold tier
func cleanTarget(cfg *Config, prefix, report string) (string, error) {
	if prefix != "" {
		return prefix, nil
	}
	report = strings.Trim(report, "/")
	if report == "" {
		return "", ErrEmptyPrefix
	}
	gold := normalizePrefix(cfg.Layout.GoldPrefix)
	if gold == "" {
		return "", ErrGoldPrefixRequired
	}
	return gold + report + "/", nil
}

// CleanPrefix deletes every object under prefix and returns how many were
// removed. In dry-run mode it only counts them.
func CleanPrefix(ctx context.Context, store objectstore.Store, prefix string, dryRun bool, logger *slog.Logger) (int, error) {
	prefix = normalizePrefix(prefix)
	if prefix == "" {
		return 0, ErrEmptyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	if dryRun {
		keys, err := store.ListKeys(ctx, prefix)
		if err != nil {
			return 0, err
		}
		for _, key := range keys {
			logger.Debug(fmt.Sprintf("  would delete s3://%s/%s", store.Bucket(), key))
		}
		logger.Info(fmt.Sprintf("📝 Would delete %d objects under s3://%s/%s", len(keys), store.Bucket(), prefix))
		return len(keys), nil
	}

	deleted, err := store.DeleteObjects(ctx, prefix)
	if err != nil {
		return 0, err
	}
	logger.Info(fmt.Sprintf("🗑️  Deleted %d objects under s3://%s/%s", deleted, store.Bucket(), prefix),
		"prefix", prefix, "deleted", deleted)
	return deleted, nil
}
