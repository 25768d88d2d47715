package formatters

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Static errors for CSV input
var (
	ErrMissingHeader   = errors.New("CSV source has no header row")
	ErrDuplicateColumn = errors.New("CSV header contains a duplicate column")
	ErrExtraFields     = errors.New("CSV record has more fields than the header")
)

// Chunk is a bounded batch of rows read from a CSV source.
// Values are kept as the raw strings from the file until normalized.
type Chunk struct {
	Columns []string
	Rows    []map[string]interface{}
}

// Len returns the number of rows in the chunk
func (c *Chunk) Len() int {
	return len(c.Rows)
}

// CSVReader reads CSV format with header detection
type CSVReader struct {
	reader   *csv.Reader
	closer   io.ReadCloser
	headers  []string
	readOnce bool
	rowsRead int64
}

// NewCSVReader creates a new CSV reader
func NewCSVReader(r io.Reader) *CSVReader {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true
	// Short rows are padded in ReadChunk; stray quotes are kept as text
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return &CSVReader{reader: reader}
}

// NewCSVReaderWithCloser creates a new CSV reader that owns the given ReadCloser
func NewCSVReaderWithCloser(r io.ReadCloser) *CSVReader {
	reader := NewCSVReader(r)
	reader.closer = r
	return reader
}

// readHeaders reads the header row if not already read
func (r *CSVReader) readHeaders() error {
	if r.readOnce {
		return nil
	}

	headers, err := r.reader.Read()
	if err == io.EOF {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	// Strip a UTF-8 BOM left by spreadsheet exports
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}

	seen := make(map[string]struct{}, len(headers))
	r.headers = make([]string, len(headers))
	for i, h := range headers {
		name := strings.TrimSpace(h)
		if name == "" {
			// Unnamed index columns from dataframe exports
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateColumn, name)
		}
		seen[name] = struct{}{}
		r.headers[i] = name
	}

	r.readOnce = true
	return nil
}

// Columns returns the header columns in file order, reading the header if needed
func (r *CSVReader) Columns() ([]string, error) {
	if err := r.readHeaders(); err != nil {
		return nil, err
	}
	return r.headers, nil
}

// RowsRead returns the number of data rows consumed so far, including skipped rows
func (r *CSVReader) RowsRead() int64 {
	return r.rowsRead
}

// Skip discards the next n data rows without materializing them.
// It returns the number of rows actually skipped, which is less than n only at end of input.
func (r *CSVReader) Skip(n int64) (int64, error) {
	if err := r.readHeaders(); err != nil {
		return 0, err
	}

	var skipped int64
	for skipped < n {
		_, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return skipped, fmt.Errorf("failed to skip CSV record %d: %w", r.rowsRead+1, err)
		}
		skipped++
		r.rowsRead++
	}

	return skipped, nil
}

// ReadChunk reads up to chunkSize rows from the CSV stream.
// Missing trailing cells are nil; a record with more fields than the header
// fails with ErrExtraFields. An empty chunk means the stream is exhausted.
func (r *CSVReader) ReadChunk(chunkSize int) (*Chunk, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if err := r.readHeaders(); err != nil {
		return nil, err
	}

	chunk := &Chunk{
		Columns: r.headers,
		Rows:    make([]map[string]interface{}, 0, min(chunkSize, 4096)),
	}

	for len(chunk.Rows) < chunkSize {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record %d: %w", r.rowsRead+1, err)
		}

		if len(record) > len(r.headers) {
			return nil, fmt.Errorf("%w: record %d has %d fields, header has %d",
				ErrExtraFields, r.rowsRead+1, len(record), len(r.headers))
		}

		row := make(map[string]interface{}, len(r.headers))
		for i, name := range r.headers {
			if i < len(record) {
				row[name] = record[i]
			} else {
				row[name] = nil
			}
		}

		chunk.Rows = append(chunk.Rows, row)
		r.rowsRead++
	}

	return chunk, nil
}

// Close closes the underlying reader if it's closable
func (r *CSVReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
