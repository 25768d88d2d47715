package cmd

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/airframesio/medallion-loader/cmd/formatters"
)

// Static errors for lake path derivation
var (
	ErrKeyOutsideRawPrefix = errors.New("source key is not under the raw prefix")
	ErrSourceNotCSV        = errors.New("source key does not end in .csv")
	ErrEmptySourceName     = errors.New("source key has an empty file name")
)

const (
	partFilePrefix = "part-"
	// markerName is the completion marker written after the last part of a dataset
	markerName = "_SUCCESS"
)

// normalizePrefix trims leading slashes and guarantees one trailing slash.
// An empty prefix stays empty (bucket root).
func normalizePrefix(prefix string) string {
	prefix = strings.TrimLeft(prefix, "/")
	if prefix == "" {
		return ""
	}
	return strings.TrimRight(prefix, "/") + "/"
}

// RawKey returns the bronze key for a local file name
func RawKey(rawPrefix, name string) string {
	return normalizePrefix(rawPrefix) + name
}

// SilverDatasetPath maps a bronze source key to its silver dataset directory.
// The path relative to the raw prefix is preserved and the .csv extension is
// replaced, so bronze/product_1M.csv becomes silver/product_1M.parquet and two
// distinct sources never share a dataset.
func SilverDatasetPath(rawPrefix, silverPrefix, key string) (string, error) {
	raw := normalizePrefix(rawPrefix)
	if !strings.HasPrefix(key, raw) {
		return "", fmt.Errorf("%w: %s (prefix %q)", ErrKeyOutsideRawPrefix, key, raw)
	}

	rel := strings.TrimPrefix(key, raw)
	if !strings.HasSuffix(rel, formatters.CSVExtension) {
		return "", fmt.Errorf("%w: %s", ErrSourceNotCSV, key)
	}

	stem := strings.TrimSuffix(rel, formatters.CSVExtension)
	if stem == "" || strings.HasSuffix(stem, "/") {
		return "", fmt.Errorf("%w: %s", ErrEmptySourceName, key)
	}

	return normalizePrefix(silverPrefix) + stem + formatters.ParquetExtension, nil
}

// PartKey returns the key of one dataset part. Idempotent runs use the
// sequential name part-00000.parquet; append runs embed their run ID.
func PartKey(dataset, runID string, index int) string {
	if runID == "" {
		return fmt.Sprintf("%s/%s%05d%s", dataset, partFilePrefix, index, formatters.ParquetExtension)
	}
	return fmt.Sprintf("%s/%s%s-%05d%s", dataset, partFilePrefix, runID, index, formatters.ParquetExtension)
}

// MarkerKey returns the completion marker key for a dataset
func MarkerKey(dataset string) string {
	return dataset + "/" + markerName
}

// sequentialPartIndex parses part-NNNNN.parquet. Run-scoped part names are not sequential.
func sequentialPartIndex(key string) (int, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, partFilePrefix) || !strings.HasSuffix(name, formatters.ParquetExtension) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, partFilePrefix), formatters.ParquetExtension)
	if len(digits) != 5 {
		return 0, false
	}
	index, err := strconv.Atoi(digits)
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}
