package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/airframesio/medallion-loader/cmd/formatters"
	"github.com/airframesio/medallion-loader/cmd/objectstore"
)

// ErrNoParts is returned when a dataset has no Parquet part to sample
var ErrNoParts = errors.New("dataset has no parts")

// CompletionMarker is the JSON body of a dataset's _SUCCESS object
type CompletionMarker struct {
	Source      string    `json:"source"`
	Rows        int64     `json:"rows"`
	Parts       int       `json:"parts"`
	CompletedAt time.Time `json:"completed_at"`
	Version     string    `json:"version"`
}

// PartInfo describes one Parquet part of a dataset
type PartInfo struct {
	Key   string
	Index int // -1 for run-scoped names
	Rows  int64
}

// DatasetInfo is the observed state of a silver dataset directory
type DatasetInfo struct {
	Path      string
	Parts     []PartInfo
	Other     []string
	TotalRows int64
	Marker    *CompletionMarker
}

// Complete reports whether the dataset carries a completion marker
func (d *DatasetInfo) Complete() bool {
	return d.Marker != nil
}

// Empty reports whether nothing has been written to the dataset
func (d *DatasetInfo) Empty() bool {
	return len(d.Parts) == 0 && len(d.Other) == 0 && d.Marker == nil
}

// Sequential reports whether the parts are exactly part-00000..part-(k-1)
// with nothing else in the directory, the shape an interrupted idempotent
// run leaves behind
func (d *DatasetInfo) Sequential() bool {
	if len(d.Other) > 0 {
		return false
	}
	for i, part := range d.Parts {
		if part.Index != i {
			return false
		}
	}
	return true
}

// InspectDataset lists a dataset directory and reads the row count of each
// part from its Parquet footer
func InspectDataset(ctx context.Context, store objectstore.Store, dataset string) (*DatasetInfo, error) {
	dataset = strings.TrimRight(dataset, "/")
	keys, err := listDataset(ctx, store, dataset)
	if err != nil {
		return nil, err
	}
	return inspectKeys(ctx, store, dataset, keys)
}

func listDataset(ctx context.Context, store objectstore.Store, dataset string) ([]string, error) {
	keys, err := store.ListKeys(ctx, dataset+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset %s: %w", dataset, err)
	}
	return keys, nil
}

// inspectKeys classifies an already listed dataset directory
func inspectKeys(ctx context.Context, store objectstore.Store, dataset string, keys []string) (*DatasetInfo, error) {
	info := &DatasetInfo{Path: dataset}

	for _, key := range keys {
		name := path.Base(key)
		switch {
		case name == markerName:
			marker, err := readMarker(ctx, store, key)
			if err != nil {
				return nil, err
			}
			info.Marker = marker
		case strings.HasSuffix(name, formatters.ParquetExtension):
			part := PartInfo{Key: key, Index: -1}
			if index, ok := sequentialPartIndex(key); ok {
				part.Index = index
			}
			rows, err := partRowCount(ctx, store, key)
			if err != nil {
				return nil, err
			}
			part.Rows = rows
			info.TotalRows += rows
			info.Parts = append(info.Parts, part)
		default:
			info.Other = append(info.Other, key)
		}
	}

	sort.SliceStable(info.Parts, func(i, j int) bool {
		return info.Parts[i].Key < info.Parts[j].Key
	})

	return info, nil
}

func readMarker(ctx context.Context, store objectstore.Store, key string) (*CompletionMarker, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read marker %s: %w", key, err)
	}
	var marker CompletionMarker
	if len(data) > 0 {
		if err := json.Unmarshal(data, &marker); err != nil {
			return nil, fmt.Errorf("failed to parse marker %s: %w", key, err)
		}
	}
	return &marker, nil
}

func openPart(ctx context.Context, store objectstore.Store, key string) (*formatters.ParquetReader, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read part %s: %w", key, err)
	}
	reader, err := formatters.NewParquetReader(data)
	if err != nil {
		return nil, fmt.Errorf("part %s: %w", key, err)
	}
	return reader, nil
}

func partRowCount(ctx context.Context, store objectstore.Store, key string) (int64, error) {
	reader, err := openPart(ctx, store, key)
	if err != nil {
		return 0, err
	}
	return reader.NumRows(), nil
}

// DatasetSample holds the leading rows of a dataset's first part
type DatasetSample struct {
	Part    string
	Columns []string
	Rows    []map[string]interface{}
}

// SampleDataset reads up to n rows from the first part of an inspected dataset
func SampleDataset(ctx context.Context, store objectstore.Store, info *DatasetInfo, n int) (*DatasetSample, error) {
	if n < 1 {
		return nil, fmt.Errorf("sample size must be positive, got %d", n)
	}
	if len(info.Parts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoParts, info.Path)
	}

	key := info.Parts[0].Key
	reader, err := openPart(ctx, store, key)
	if err != nil {
		return nil, err
	}
	rows, err := reader.ReadChunk(n)
	if err != nil {
		return nil, fmt.Errorf("part %s: %w", key, err)
	}
	return &DatasetSample{Part: key, Columns: reader.Columns(), Rows: rows}, nil
}

// logDatasetInfo prints an inspect report
func logDatasetInfo(logger *slog.Logger, bucket string, info *DatasetInfo) {
	logger.Info(fmt.Sprintf("📦 Dataset s3://%s/%s", bucket, info.Path))
	if info.Empty() {
		logger.Info("   (empty)")
		return
	}
	for _, part := range info.Parts {
		logger.Info(fmt.Sprintf("   %s  %d rows", path.Base(part.Key), part.Rows))
	}
	for _, key := range info.Other {
		logger.Info(fmt.Sprintf("   %s  (not a part)", path.Base(key)))
	}
	logger.Info(fmt.Sprintf("📊 %d parts, %d rows", len(info.Parts), info.TotalRows))
	if info.Marker != nil {
		logger.Info(fmt.Sprintf("✅ Complete: %d rows from %s at %s", info.Marker.Rows, info.Marker.Source,
			info.Marker.CompletedAt.Format(time.RFC3339)))
	} else {
		logger.Info("⚠️  No completion marker")
	}
}

func logDatasetSample(logger *slog.Logger, sample *DatasetSample) {
	logger.Info(fmt.Sprintf("🔎 First %d rows of %s", len(sample.Rows), path.Base(sample.Part)))
	logger.Info("   " + strings.Join(sample.Columns, " | "))
	cells := make([]string, len(sample.Columns))
	for _, row := range sample.Rows {
		for i, col := range sample.Columns {
			if v := row[col]; v != nil {
				cells[i] = fmt.Sprint(v)
			} else {
				cells[i] = "null"
			}
		}
		logger.Info("   " + strings.Join(cells, " | "))
	}
}
