package cmd

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/airframesio/medallion-loader/cmd/formatters"
	"github.com/airframesio/medallion-loader/cmd/objectstore"
)

// Static errors for configuration validation
var (
	ErrS3BucketRequired          = errors.New("S3 bucket is required")
	ErrS3CredentialsIncomplete   = errors.New("S3 access key and secret key must be set together")
	ErrS3RegionInvalid           = errors.New("S3 region contains invalid characters or is too long")
	ErrS3ClientInvalid           = errors.New("S3 client must be one of: aws, minio")
	ErrRawPrefixRequired         = errors.New("raw (bronze) prefix is required")
	ErrSilverPrefixRequired      = errors.New("silver prefix is required")
	ErrPrefixesOverlap           = errors.New("raw and silver prefixes must not overlap")
	ErrMultipartThresholdMinimum = errors.New("multipart threshold must be >= 0")
	ErrPartSizeMinimum           = errors.New("part size must be at least 5 MiB")
	ErrMaxConcurrencyMinimum     = errors.New("max concurrency must be at least 1")
	ErrMaxConcurrencyMaximum     = errors.New("max concurrency must not exceed 64")
	ErrRetriesInvalid            = errors.New("upload retries must be >= 0")
	ErrRetryDelayInvalid         = errors.New("upload retry delay must be >= 0")
	ErrChunkRowsMinimum          = errors.New("chunk row count must be at least 1")
	ErrChunkRowsMaximum          = errors.New("chunk row count must not exceed 10000000")
	ErrCompressionInvalid        = errors.New("compression must be one of: snappy, zstd, gzip, lz4, none")
	ErrWriteModeInvalid          = errors.New("write mode must be one of: idempotent, append")
	ErrNumericColumnInvalid      = errors.New("numeric column names must not be empty")
	ErrWaitPatternInvalid        = errors.New("wait pattern is not a valid glob")
	ErrWaitTimeoutInvalid        = errors.New("wait timeout must be positive")
	ErrPollIntervalInvalid       = errors.New("poll interval must be positive")
	ErrLogFormatInvalid          = errors.New("log format must be one of: text, logfmt, json")
)

// S3 client implementations
const (
	S3ClientAWS   = "aws"
	S3ClientMinio = "minio"
)

const (
	regionAuto       = "auto"
	maxConcurrency   = 64
	maxChunkRows     = 10_000_000
	defaultChunkRows = 100_000
)

type Config struct {
	Debug     bool
	LogFormat string
	DryRun    bool
	S3        S3Config
	Layout    LayoutConfig
	Upload    UploadConfig
	Convert   ConvertConfig
	Wait      WaitConfig
}

type S3Config struct {
	Client    string // aws (default) or minio
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// LayoutConfig names the tier prefixes inside the bucket
type LayoutConfig struct {
	RawPrefix    string // bronze
	SilverPrefix string
	GoldPrefix   string
}

type UploadConfig struct {
	DataDir            string
	Files              []string // empty means every *.csv in DataDir
	MultipartThreshold int64
	PartSize           int64
	MaxConcurrency     int
	Retries            int           // run-level retries after a failed run
	RetryDelay         time.Duration // fixed delay between attempts
}

type ConvertConfig struct {
	ChunkRowCount  int
	NumericColumns []string
	Compression    string
	WriteMode      string
}

type WaitConfig struct {
	Pattern      string
	Timeout      time.Duration
	PollInterval time.Duration
}

// isValidRegion validates that an S3 region is reasonable
func isValidRegion(region string) bool {
	if region == "" || len(region) > 50 {
		return false
	}

	// Region should only contain alphanumeric, dash, and underscore
	matched, _ := regexp.MatchString(`^[a-zA-Z0-9_-]+$`, region)
	return matched
}

// isValidLogFormat validates the log format
func isValidLogFormat(format string) bool {
	validFormats := map[string]bool{
		"text":   true,
		"logfmt": true,
		"json":   true,
	}
	return validFormats[format]
}

// isValidWriteMode validates the silver write mode
func isValidWriteMode(mode string) bool {
	return mode == WriteModeIdempotent || mode == WriteModeAppend
}

// Validate checks the settings every command shares
func (c *Config) Validate() error {
	if c.LogFormat != "" && !isValidLogFormat(c.LogFormat) {
		return fmt.Errorf("%w: '%s'", ErrLogFormatInvalid, c.LogFormat)
	}

	if c.S3.Bucket == "" {
		return ErrS3BucketRequired
	}
	if c.S3.Client != "" && c.S3.Client != S3ClientAWS && c.S3.Client != S3ClientMinio {
		return fmt.Errorf("%w: '%s'", ErrS3ClientInvalid, c.S3.Client)
	}
	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		return ErrS3CredentialsIncomplete
	}

	// Validate S3 region
	if c.S3.Region != "" && c.S3.Region != regionAuto {
		if !isValidRegion(c.S3.Region) {
			return fmt.Errorf("%w: %s", ErrS3RegionInvalid, c.S3.Region)
		}
	}

	return nil
}

// ValidateUpload checks the settings of the upload command
func (c *Config) ValidateUpload() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Layout.RawPrefix == "" {
		return ErrRawPrefixRequired
	}
	if c.Upload.DataDir == "" {
		return ErrDataDirRequired
	}

	if c.Upload.MultipartThreshold < 0 {
		return fmt.Errorf("%w, got %d", ErrMultipartThresholdMinimum, c.Upload.MultipartThreshold)
	}
	// S3 rejects smaller multipart parts
	if c.Upload.PartSize < objectstore.MinPartSize {
		return fmt.Errorf("%w, got %d", ErrPartSizeMinimum, c.Upload.PartSize)
	}
	if c.Upload.MaxConcurrency < 1 {
		return fmt.Errorf("%w, got %d", ErrMaxConcurrencyMinimum, c.Upload.MaxConcurrency)
	}
	if c.Upload.MaxConcurrency > maxConcurrency {
		return fmt.Errorf("%w, got %d", ErrMaxConcurrencyMaximum, c.Upload.MaxConcurrency)
	}
	if c.Upload.Retries < 0 {
		return fmt.Errorf("%w, got %d", ErrRetriesInvalid, c.Upload.Retries)
	}
	if c.Upload.RetryDelay < 0 {
		return fmt.Errorf("%w, got %s", ErrRetryDelayInvalid, c.Upload.RetryDelay)
	}

	return nil
}

// ValidateConvert checks the settings of the convert command
func (c *Config) ValidateConvert() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Layout.RawPrefix == "" {
		return ErrRawPrefixRequired
	}
	if c.Layout.SilverPrefix == "" {
		return ErrSilverPrefixRequired
	}

	// Overlapping tiers would let the converter read its own output
	raw, silver := normalizePrefix(c.Layout.RawPrefix), normalizePrefix(c.Layout.SilverPrefix)
	if hasPrefixEither(raw, silver) {
		return fmt.Errorf("%w: '%s' and '%s'", ErrPrefixesOverlap, raw, silver)
	}

	if c.Convert.ChunkRowCount < 1 {
		return fmt.Errorf("%w, got %d", ErrChunkRowsMinimum, c.Convert.ChunkRowCount)
	}
	if c.Convert.ChunkRowCount > maxChunkRows {
		return fmt.Errorf("%w, got %d", ErrChunkRowsMaximum, c.Convert.ChunkRowCount)
	}

	if !formatters.IsValidCompression(c.Convert.Compression) {
		return fmt.Errorf("%w: '%s'", ErrCompressionInvalid, c.Convert.Compression)
	}
	if !isValidWriteMode(c.Convert.WriteMode) {
		return fmt.Errorf("%w: '%s'", ErrWriteModeInvalid, c.Convert.WriteMode)
	}
	for _, col := range c.Convert.NumericColumns {
		if col == "" {
			return ErrNumericColumnInvalid
		}
	}

	return nil
}

// ValidateWait checks the settings of the wait command
func (c *Config) ValidateWait() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Layout.SilverPrefix == "" {
		return ErrSilverPrefixRequired
	}
	if _, err := path.Match(c.Wait.Pattern, ""); err != nil || c.Wait.Pattern == "" {
		return fmt.Errorf("%w: '%s'", ErrWaitPatternInvalid, c.Wait.Pattern)
	}
	if c.Wait.Timeout <= 0 {
		return fmt.Errorf("%w, got %s", ErrWaitTimeoutInvalid, c.Wait.Timeout)
	}
	if c.Wait.PollInterval <= 0 {
		return fmt.Errorf("%w, got %s", ErrPollIntervalInvalid, c.Wait.PollInterval)
	}
	return nil
}

// TransferConfig returns the object-store transfer settings
func (c *Config) TransferConfig() objectstore.TransferConfig {
	return objectstore.TransferConfig{
		MultipartThreshold: c.Upload.MultipartThreshold,
		PartSize:           c.Upload.PartSize,
		MaxConcurrency:     c.Upload.MaxConcurrency,
	}
}

// ConverterOptions returns the converter settings
func (c *Config) ConverterOptions() ConverterOptions {
	return ConverterOptions{
		RawPrefix:      c.Layout.RawPrefix,
		SilverPrefix:   c.Layout.SilverPrefix,
		ChunkRows:      c.Convert.ChunkRowCount,
		NumericColumns: c.Convert.NumericColumns,
		Compression:    c.Convert.Compression,
		WriteMode:      c.Convert.WriteMode,
	}
}

func hasPrefixEither(a, b string) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	return len(a) <= len(b) && b[:len(a)] == a
}
