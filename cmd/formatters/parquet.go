package formatters

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// parquetSchemaName is the root name written into every part's schema
const parquetSchemaName = "silver"

// ParquetFormatter encodes CSV chunks as standalone Parquet files
type ParquetFormatter struct {
	compression string
	numeric     map[string]bool
}

// NewParquetFormatter creates a new Parquet formatter with Snappy compression
func NewParquetFormatter(numericColumns []string) *ParquetFormatter {
	return NewParquetFormatterWithCompression(CompressionSnappy, numericColumns)
}

// NewParquetFormatterWithCompression creates a Parquet formatter with specified compression
func NewParquetFormatterWithCompression(compression string, numericColumns []string) *ParquetFormatter {
	numeric := make(map[string]bool, len(numericColumns))
	for _, col := range numericColumns {
		numeric[col] = true
	}
	return &ParquetFormatter{
		compression: compression,
		numeric:     numeric,
	}
}

// Schema builds the Parquet schema for a header. It depends only on the column
// names, so every chunk of one source shares the same schema.
func (f *ParquetFormatter) Schema(columns []string) *parquet.Schema {
	fields := make(parquet.Group, len(columns))
	for _, col := range columns {
		if f.numeric[col] {
			fields[col] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
		} else {
			fields[col] = parquet.Optional(parquet.String())
		}
	}
	return parquet.NewSchema(parquetSchemaName, fields)
}

// FormatChunk converts one chunk to a Parquet file.
// Rows are built value by value so that empty strings and zero values stay
// distinct from nulls.
func (f *ParquetFormatter) FormatChunk(chunk *Chunk) ([]byte, error) {
	var buffer bytes.Buffer

	schema := f.Schema(chunk.Columns)

	// Map compression type to parquet compression codec and create writer
	var writer *parquet.Writer
	switch f.compression {
	case CompressionZstd:
		writer = parquet.NewWriter(&buffer, schema, parquet.Compression(&parquet.Zstd))
	case CompressionGzip:
		writer = parquet.NewWriter(&buffer, schema, parquet.Compression(&parquet.Gzip))
	case CompressionLZ4:
		writer = parquet.NewWriter(&buffer, schema, parquet.Compression(&parquet.Lz4Raw))
	case CompressionNone:
		writer = parquet.NewWriter(&buffer, schema, parquet.Compression(&parquet.Uncompressed))
	default:
		writer = parquet.NewWriter(&buffer, schema, parquet.Compression(&parquet.Snappy))
	}

	// Leaf columns in schema order; the Group sorts fields by name
	leaves := schema.Columns()
	names := make([]string, len(leaves))
	for i, path := range leaves {
		names[i] = path[len(path)-1]
	}

	rows := make([]parquet.Row, 0, len(chunk.Rows))
	for _, record := range chunk.Rows {
		row := make(parquet.Row, len(names))
		for i, name := range names {
			value, err := f.columnValue(name, record[name])
			if err != nil {
				writer.Close()
				return nil, err
			}
			row[i] = value.Level(0, definitionLevel(value), i)
		}
		rows = append(rows, row)
	}

	if _, err := writer.WriteRows(rows); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write parquet rows: %w", err)
	}

	// Close writer to flush data
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}

	return buffer.Bytes(), nil
}

// columnValue converts a cell to the parquet value for its column type
func (f *ParquetFormatter) columnValue(column string, cell interface{}) (parquet.Value, error) {
	if cell == nil {
		return parquet.NullValue(), nil
	}

	if f.numeric[column] {
		v, ok := cell.(float64)
		if !ok {
			return parquet.Value{}, fmt.Errorf("column %s: expected float64, got %T", column, cell)
		}
		return parquet.DoubleValue(v), nil
	}

	switch v := cell.(type) {
	case string:
		return parquet.ByteArrayValue([]byte(v)), nil
	default:
		return parquet.ByteArrayValue([]byte(fmt.Sprintf("%v", v))), nil
	}
}

// definitionLevel is 1 for present values of an optional column and 0 for nulls
func definitionLevel(v parquet.Value) int {
	if v.IsNull() {
		return 0
	}
	return 1
}

// Extension returns the file extension for Parquet files
func (f *ParquetFormatter) Extension() string {
	return ParquetExtension
}

// MIMEType returns the MIME type for Parquet
func (f *ParquetFormatter) MIMEType() string {
	return "application/vnd.apache.parquet"
}
