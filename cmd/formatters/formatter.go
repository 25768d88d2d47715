package formatters

// Format type constants
const (
	FormatParquet    = "parquet"
	ParquetExtension = ".parquet"
	CSVExtension     = ".csv"
)

// Compression codecs understood by the Parquet writer
const (
	CompressionSnappy = "snappy"
	CompressionZstd   = "zstd"
	CompressionGzip   = "gzip"
	CompressionLZ4    = "lz4"
	CompressionNone   = "none"
)

// IsValidCompression reports whether the Parquet writer supports the codec name
func IsValidCompression(compression string) bool {
	switch compression {
	case CompressionSnappy, CompressionZstd, CompressionGzip, CompressionLZ4, CompressionNone:
		return true
	default:
		return false
	}
}
