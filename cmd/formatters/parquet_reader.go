package formatters

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// ParquetReader reads back a single Parquet part.
// Note: Parquet requires io.ReaderAt, so the part is held in memory; parts are
// bounded by the conversion chunk size.
type ParquetReader struct {
	file *parquet.File
}

// NewParquetReader opens a Parquet file from its bytes
func NewParquetReader(data []byte) (*ParquetReader, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	return &ParquetReader{file: file}, nil
}

// NumRows returns the row count recorded in the file footer
func (r *ParquetReader) NumRows() int64 {
	return r.file.NumRows()
}

// Columns returns the leaf column names in schema order
func (r *ParquetReader) Columns() []string {
	paths := r.file.Schema().Columns()
	names := make([]string, len(paths))
	for i, path := range paths {
		if len(path) > 0 {
			names[i] = path[len(path)-1]
		}
	}
	return names
}

// ReadChunk reads up to maxRows rows from the start of the file, iterating
// through row groups. maxRows <= 0 means no limit.
func (r *ParquetReader) ReadChunk(maxRows int) ([]map[string]interface{}, error) {
	columnNames := r.Columns()
	rows := make([]map[string]interface{}, 0)

	for _, rowGroup := range r.file.RowGroups() {
		if maxRows > 0 && len(rows) >= maxRows {
			break
		}
		if err := readRowGroup(rowGroup, columnNames, maxRows, &rows); err != nil {
			return nil, err
		}
	}

	return rows, nil
}

func readRowGroup(rowGroup parquet.RowGroup, columnNames []string, maxRows int, rows *[]map[string]interface{}) error {
	rowReader := rowGroup.Rows()
	defer rowReader.Close()

	batch := make([]parquet.Row, 1000)
	for {
		if maxRows > 0 && len(*rows) >= maxRows {
			return nil
		}

		n, err := rowReader.ReadRows(batch)
		for i := 0; i < n; i++ {
			if maxRows > 0 && len(*rows) >= maxRows {
				return nil
			}
			*rows = append(*rows, rowToMap(batch[i], columnNames))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read parquet rows: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
}

// rowToMap converts a flat parquet.Row into a column-keyed map
func rowToMap(parquetRow parquet.Row, columnNames []string) map[string]interface{} {
	row := make(map[string]interface{}, len(columnNames))
	for _, val := range parquetRow {
		idx := val.Column()
		if idx < 0 || idx >= len(columnNames) {
			continue
		}
		name := columnNames[idx]
		if val.IsNull() {
			row[name] = nil
			continue
		}
		switch val.Kind() {
		case parquet.Boolean:
			row[name] = val.Boolean()
		case parquet.Int32:
			row[name] = val.Int32()
		case parquet.Int64:
			row[name] = val.Int64()
		case parquet.Float:
			row[name] = val.Float()
		case parquet.Double:
			row[name] = val.Double()
		default:
			row[name] = string(val.ByteArray())
		}
	}
	return row
}
