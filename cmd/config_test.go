package cmd

import (
	"errors"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		LogFormat: "text",
		S3: S3Config{
			Endpoint:  "http://localhost:9000",
			Bucket:    "lake",
			AccessKey: "access123",
			SecretKey: "secret456",
			Region:    "us-east-1",
		},
		Layout: LayoutConfig{
			RawPrefix:    "bronze/",
			SilverPrefix: "silver/",
			GoldPrefix:   "gold/",
		},
		Upload: UploadConfig{
			DataDir:            "/data",
			MultipartThreshold: 50 * 1024 * 1024,
			PartSize:           25 * 1024 * 1024,
			MaxConcurrency:     2,
			RetryDelay:         2 * time.Minute,
		},
		Convert: ConvertConfig{
			ChunkRowCount:  100000,
			NumericColumns: []string{"rating_average"},
			Compression:    "snappy",
			WriteMode:      WriteModeIdempotent,
		},
		Wait: WaitConfig{
			Pattern:      "*.parquet/*",
			Timeout:      600 * time.Second,
			PollInterval: 60 * time.Second,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		config := validConfig()
		for name, validate := range map[string]func() error{
			"Validate":        config.Validate,
			"ValidateUpload":  config.ValidateUpload,
			"ValidateConvert": config.ValidateConvert,
			"ValidateWait":    config.ValidateWait,
		} {
			if err := validate(); err != nil {
				t.Fatalf("%s: valid config should not return error: %v", name, err)
			}
		}
	})

	t.Run("DefaultCredentialChain", func(t *testing.T) {
		config := validConfig()
		config.S3.AccessKey = ""
		config.S3.SecretKey = ""
		config.S3.Endpoint = ""
		if err := config.Validate(); err != nil {
			t.Fatalf("config without static keys should be valid: %v", err)
		}
	})

	t.Run("RegionAuto", func(t *testing.T) {
		config := validConfig()
		config.S3.Region = "auto"
		if err := config.Validate(); err != nil {
			t.Fatalf("auto region should be valid: %v", err)
		}
	})
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		check   func(c *Config) error
		wantErr error
	}{
		{"MissingBucket", func(c *Config) { c.S3.Bucket = "" }, (*Config).Validate, ErrS3BucketRequired},
		{"HalfCredentials", func(c *Config) { c.S3.SecretKey = "" }, (*Config).Validate, ErrS3CredentialsIncomplete},
		{"BadRegion", func(c *Config) { c.S3.Region = "us east 1" }, (*Config).Validate, ErrS3RegionInvalid},
		{"BadClient", func(c *Config) { c.S3.Client = "gcs" }, (*Config).Validate, ErrS3ClientInvalid},
		{"BadLogFormat", func(c *Config) { c.LogFormat = "xml" }, (*Config).Validate, ErrLogFormatInvalid},
		{"MissingDataDir", func(c *Config) { c.Upload.DataDir = "" }, (*Config).ValidateUpload, ErrDataDirRequired},
		{"MissingRawPrefix", func(c *Config) { c.Layout.RawPrefix = "" }, (*Config).ValidateUpload, ErrRawPrefixRequired},
		{"NegativeThreshold", func(c *Config) { c.Upload.MultipartThreshold = -1 }, (*Config).ValidateUpload, ErrMultipartThresholdMinimum},
		{"PartSizeTooSmall", func(c *Config) { c.Upload.PartSize = 1024 * 1024 }, (*Config).ValidateUpload, ErrPartSizeMinimum},
		{"ZeroConcurrency", func(c *Config) { c.Upload.MaxConcurrency = 0 }, (*Config).ValidateUpload, ErrMaxConcurrencyMinimum},
		{"ExcessiveConcurrency", func(c *Config) { c.Upload.MaxConcurrency = 65 }, (*Config).ValidateUpload, ErrMaxConcurrencyMaximum},
		{"NegativeRetries", func(c *Config) { c.Upload.Retries = -1 }, (*Config).ValidateUpload, ErrRetriesInvalid},
		{"NegativeRetryDelay", func(c *Config) { c.Upload.RetryDelay = -time.Second }, (*Config).ValidateUpload, ErrRetryDelayInvalid},
		{"MissingSilverPrefix", func(c *Config) { c.Layout.SilverPrefix = "" }, (*Config).ValidateConvert, ErrSilverPrefixRequired},
		{"OverlappingPrefixes", func(c *Config) { c.Layout.SilverPrefix = "bronze/silver/" }, (*Config).ValidateConvert, ErrPrefixesOverlap},
		{"ZeroChunkRows", func(c *Config) { c.Convert.ChunkRowCount = 0 }, (*Config).ValidateConvert, ErrChunkRowsMinimum},
		{"HugeChunkRows", func(c *Config) { c.Convert.ChunkRowCount = 10_000_001 }, (*Config).ValidateConvert, ErrChunkRowsMaximum},
		{"BadCompression", func(c *Config) { c.Convert.Compression = "brotli" }, (*Config).ValidateConvert, ErrCompressionInvalid},
		{"BadWriteMode", func(c *Config) { c.Convert.WriteMode = "overwrite" }, (*Config).ValidateConvert, ErrWriteModeInvalid},
		{"EmptyNumericColumn", func(c *Config) { c.Convert.NumericColumns = []string{""} }, (*Config).ValidateConvert, ErrNumericColumnInvalid},
		{"BadPattern", func(c *Config) { c.Wait.Pattern = "[" }, (*Config).ValidateWait, ErrWaitPatternInvalid},
		{"ZeroTimeout", func(c *Config) { c.Wait.Timeout = 0 }, (*Config).ValidateWait, ErrWaitTimeoutInvalid},
		{"ZeroPollInterval", func(c *Config) { c.Wait.PollInterval = 0 }, (*Config).ValidateWait, ErrPollIntervalInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)
			err := tt.check(config)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestIsValidRegion(t *testing.T) {
	tests := []struct {
		region string
		valid  bool
	}{
		{"us-east-1", true},
		{"eu_west_2", true},
		{"", false},
		{"us east", false},
		{"region-" + string(make([]byte, 50)), false},
	}

	for _, tt := range tests {
		if got := isValidRegion(tt.region); got != tt.valid {
			t.Errorf("isValidRegion(%q) = %v, want %v", tt.region, got, tt.valid)
		}
	}
}

func TestConfigDerivedSettings(t *testing.T) {
	config := validConfig()

	transfer := config.TransferConfig()
	if transfer.MultipartThreshold != config.Upload.MultipartThreshold ||
		transfer.PartSize != config.Upload.PartSize ||
		transfer.MaxConcurrency != config.Upload.MaxConcurrency {
		t.Errorf("transfer config does not mirror upload settings: %+v", transfer)
	}

	opts := config.ConverterOptions()
	if opts.ChunkRows != 100000 || opts.WriteMode != WriteModeIdempotent || opts.RawPrefix != "bronze/" {
		t.Errorf("unexpected converter options: %+v", opts)
	}
}
