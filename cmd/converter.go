package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/airframesio/medallion-loader/cmd/formatters"
	"github.com/airframesio/medallion-loader/cmd/objectstore"
	"github.com/google/uuid"
)

// Write modes for the silver dataset
const (
	// WriteModeIdempotent writes sequential parts plus a completion marker;
	// a repeated invocation skips or resumes instead of duplicating rows
	WriteModeIdempotent = "idempotent"
	// WriteModeAppend writes run-scoped parts and never looks at earlier runs
	WriteModeAppend = "append"
)

// Static errors for conversion
var (
	ErrBucketNotServed  = errors.New("no store is configured for the event bucket")
	ErrInvalidChunkRows = errors.New("chunk row count must be positive")
)

// ObjectRef names a source object
type ObjectRef struct {
	Bucket string
	Key    string
}

// ConversionResult summarizes one conversion invocation
type ConversionResult struct {
	Source       string
	Target       string
	Rows         int64 // rows in the dataset after this invocation
	Parts        int // parts in the dataset written by this run and any resumed run
	CoercedCells int64
	Skipped      bool // dataset was already complete
	Resumed      bool // continued after the parts of an interrupted run
	Message      string
}

// ConverterOptions configures a Converter
type ConverterOptions struct {
	RawPrefix      string
	SilverPrefix   string
	ChunkRows      int
	NumericColumns []string
	Compression    string
	WriteMode      string
}

// Converter streams one bronze CSV object into a silver Parquet dataset,
// one part per chunk of at most ChunkRows rows
type Converter struct {
	store     objectstore.Store
	resolve   func(bucket string) (objectstore.Store, error)
	opts      ConverterOptions
	formatter *formatters.ParquetFormatter
	logger    *slog.Logger
	newRunID  func() string
}

// NewConverter creates a converter that reads and writes through store
func NewConverter(store objectstore.Store, opts ConverterOptions, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Compression == "" {
		opts.Compression = formatters.CompressionSnappy
	}
	if opts.WriteMode == "" {
		opts.WriteMode = WriteModeIdempotent
	}
	return &Converter{
		store:     store,
		opts:      opts,
		formatter: formatters.NewParquetFormatterWithCompression(opts.Compression, opts.NumericColumns),
		logger:    logger,
		newRunID:  func() string { return uuid.NewString() },
	}
}

// WithBucketResolver lets events name buckets other than the default store's
func (c *Converter) WithBucketResolver(resolve func(bucket string) (objectstore.Store, error)) *Converter {
	c.resolve = resolve
	return c
}

func (c *Converter) storeFor(bucket string) (objectstore.Store, error) {
	if bucket == "" || bucket == c.store.Bucket() {
		return c.store, nil
	}
	if c.resolve == nil {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotServed, bucket)
	}
	return c.resolve(bucket)
}

// conversionState carries the resume point of one invocation
type conversionState struct {
	runID    string
	nextPart int
	rows     int64
	resumed  bool
}

// Convert streams ref into its silver dataset. Any read, encode or write
// error aborts the invocation; parts already written stay in place and the
// next idempotent invocation resumes after them.
func (c *Converter) Convert(ctx context.Context, ref ObjectRef) (*ConversionResult, error) {
	if c.opts.ChunkRows < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidChunkRows, c.opts.ChunkRows)
	}

	store, err := c.storeFor(ref.Bucket)
	if err != nil {
		return nil, err
	}

	target, err := SilverDatasetPath(c.opts.RawPrefix, c.opts.SilverPrefix, ref.Key)
	if err != nil {
		return nil, err
	}

	result := &ConversionResult{Source: ref.Key, Target: target}
	c.logger.Info(fmt.Sprintf("🔄 Converting s3://%s/%s to s3://%s/%s", store.Bucket(), ref.Key, store.Bucket(), target),
		"key", ref.Key, "target", target, "mode", c.opts.WriteMode)

	state := &conversionState{}
	if c.opts.WriteMode == WriteModeAppend {
		state.runID = c.newRunID()
	} else {
		done, err := c.prepareIdempotent(ctx, store, target, state, result)
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
	}

	if err := c.stream(ctx, store, ref.Key, target, state, result); err != nil {
		return nil, err
	}

	if c.opts.WriteMode == WriteModeIdempotent {
		if err := c.writeMarker(ctx, store, ref.Key, target, state); err != nil {
			return nil, err
		}
	}

	result.Rows = state.rows
	result.Parts = state.nextPart
	result.Resumed = state.resumed
	result.Message = fmt.Sprintf("Successfully processed %s to s3://%s/%s", ref.Key, store.Bucket(), target)
	c.logger.Info(fmt.Sprintf("✅ %s (%d rows, %d parts, %d coerced cells)", result.Message, result.Rows, result.Parts, result.CoercedCells),
		"key", ref.Key, "rows", result.Rows, "parts", result.Parts)
	return result, nil
}

// prepareIdempotent inspects the target and decides whether to skip, resume
// or restart. It returns true when the dataset is already complete. A marker
// is checked before any part is read.
func (c *Converter) prepareIdempotent(ctx context.Context, store objectstore.Store, target string, state *conversionState, result *ConversionResult) (bool, error) {
	keys, err := listDataset(ctx, store, target)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", target, err)
	}

	markerKey := MarkerKey(target)
	for _, key := range keys {
		if key != markerKey {
			continue
		}
		marker, err := readMarker(ctx, store, key)
		if err != nil {
			return false, fmt.Errorf("failed to inspect %s: %w", target, err)
		}
		result.Skipped = true
		result.Rows = marker.Rows
		result.Parts = marker.Parts
		result.Message = fmt.Sprintf("Already processed %s to s3://%s/%s", result.Source, store.Bucket(), target)
		c.logger.Info(fmt.Sprintf("⏭️  %s (%d rows)", result.Message, result.Rows), "key", result.Source, "target", target)
		return true, nil
	}

	info, err := inspectKeys(ctx, store, target, keys)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", target, err)
	}

	switch {
	case info.Empty():
		return false, nil

	case info.Sequential():
		state.nextPart = len(info.Parts)
		state.rows = info.TotalRows
		state.resumed = true
		c.logger.Info(fmt.Sprintf("♻️  Resuming %s after %d parts (%d rows)", target, len(info.Parts), info.TotalRows),
			"target", target, "parts", len(info.Parts), "rows", info.TotalRows)
		return false, nil

	default:
		if err := c.resetDataset(ctx, store, target); err != nil {
			return false, err
		}
		return false, nil
	}
}

func (c *Converter) resetDataset(ctx context.Context, store objectstore.Store, target string) error {
	deleted, err := store.DeleteObjects(ctx, target+"/")
	if err != nil {
		return fmt.Errorf("failed to clear stale parts of %s: %w", target, err)
	}
	c.logger.Warn(fmt.Sprintf("🧹 Removed %d stale objects from %s before restarting", deleted, target), "target", target)
	return nil
}

// stream reads the source chunk by chunk and writes one part per chunk.
// The source reader is closed on every path.
func (c *Converter) stream(ctx context.Context, store objectstore.Store, key, target string, state *conversionState, result *ConversionResult) error {
	reader, err := c.openSource(ctx, store, key, target, state)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := reader.ReadChunk(c.opts.ChunkRows)
		if err != nil {
			return fmt.Errorf("failed to read %s after %d rows: %w", key, reader.RowsRead(), err)
		}
		if chunk.Len() == 0 {
			return nil
		}

		result.CoercedCells += int64(formatters.NormalizeNumeric(chunk, c.opts.NumericColumns))

		data, err := c.formatter.FormatChunk(chunk)
		if err != nil {
			return fmt.Errorf("failed to encode part %d of %s: %w", state.nextPart, key, err)
		}

		partKey := PartKey(target, state.runID, state.nextPart)
		if err := store.Put(ctx, partKey, data, c.formatter.MIMEType()); err != nil {
			return fmt.Errorf("failed to write part %d of %s: %w", state.nextPart, key, err)
		}

		c.logger.Debug(fmt.Sprintf("  📝 Wrote %s (%d rows, %s)", partKey, chunk.Len(), formatBytes(int64(len(data)))))

		state.nextPart++
		state.rows += int64(chunk.Len())
	}
}

// openSource opens the CSV and skips the rows already held by resumed parts.
// When the source has fewer rows than the parts, the parts cannot belong to
// it, so they are removed and the source is read from the start.
func (c *Converter) openSource(ctx context.Context, store objectstore.Store, key, target string, state *conversionState) (*formatters.CSVReader, error) {
	body, err := store.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	reader := formatters.NewCSVReaderWithCloser(body)

	if state.rows == 0 {
		return reader, nil
	}

	skipped, err := reader.Skip(state.rows)
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("failed to skip %d rows of %s: %w", state.rows, key, err)
	}
	if skipped == state.rows {
		return reader, nil
	}

	reader.Close()
	c.logger.Warn(fmt.Sprintf("⚠️  %s has %d rows but %s already holds %d; restarting", key, skipped, target, state.rows))
	if err := c.resetDataset(ctx, store, target); err != nil {
		return nil, err
	}
	state.nextPart = 0
	state.rows = 0
	state.resumed = false

	body, err = store.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return formatters.NewCSVReaderWithCloser(body), nil
}

func (c *Converter) writeMarker(ctx context.Context, store objectstore.Store, key, target string, state *conversionState) error {
	marker := CompletionMarker{
		Source:      key,
		Rows:        state.rows,
		Parts:       state.nextPart,
		CompletedAt: time.Now().UTC(),
		Version:     Version,
	}
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("failed to marshal marker: %w", err)
	}
	if err := store.Put(ctx, MarkerKey(target), data, "application/json"); err != nil {
		return fmt.Errorf("failed to write completion marker for %s: %w", target, err)
	}
	return nil
}
