package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/airframesio/medallion-loader/cmd/formatters"
	"github.com/airframesio/medallion-loader/cmd/objectstore"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/airframesio/medallion-loader/cmd.Version=1.2.3"
	Version = "dev"

	// signalContext is set by main() before Cobra initialization
	signalContext context.Context

	cfgFile   string
	debug     bool
	logFormat string
	dryRun    bool

	convertBucket string
	convertKey    string
	convertEvent  string
	cleanPrefix   string
	cleanReport   string
	inspectSample int

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D9FF"))

	logger *slog.Logger

	// newStore builds the object store for a command; tests swap it for a MemoryStore
	newStore = func(cfg *Config, logger *slog.Logger) (objectstore.Store, error) {
		s3cfg := objectstore.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
		}
		if cfg.S3.Client == S3ClientMinio {
			return objectstore.NewMinioStore(s3cfg, logger)
		}
		return objectstore.NewS3Store(s3cfg, logger)
	}
)

// SetSignalContext stores the signal-aware context created in main()
// This must be called before Execute() to ensure proper signal handling
func SetSignalContext(ctx context.Context) {
	signalContext = ctx
}

// textOnlyHandler is a custom slog handler that outputs human-readable text
// for interactive terminal usage; record attributes are appended in debug mode
type textOnlyHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{
		opts:   *opts,
		writer: w,
	}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	// Format: YYYY-MM-DD HH:MM:SS LEVEL message [key=value ...]
	var b strings.Builder
	b.WriteString(r.Time.Format("2006-01-02 15:04:05"))
	b.WriteByte(' ')
	b.WriteString(r.Level.String())
	b.WriteByte(' ')
	b.WriteString(r.Message)

	if h.opts.Level != nil && h.opts.Level.Level() <= slog.LevelDebug {
		r.Attrs(func(a slog.Attr) bool {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
			return true
		})
	}
	b.WriteByte('\n')

	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *textOnlyHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	// For simplicity, we ignore attributes in text-only mode
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	// For simplicity, we ignore groups in text-only mode
	return h
}

// newLogHandler builds the handler for a log format
func newLogHandler(w io.Writer, isDebug bool, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if isDebug {
		opts.Level = slog.LevelDebug
	}

	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "logfmt":
		// logfmt uses slog.TextHandler which outputs key=value pairs
		return slog.NewTextHandler(w, opts)
	default: // "text" or anything else
		return newTextOnlyHandler(w, opts)
	}
}

// initLogger initializes the slog logger based on debug flag and log format
func initLogger(isDebug bool, format string) {
	logger = slog.New(newLogHandler(os.Stdout, isDebug, format))
}

var rootCmd = &cobra.Command{
	Use:     "medallion",
	Version: Version,
	Short:   "🥉 Load CSV files into a bronze/silver/gold S3 data lake",
	Long: titleStyle.Render("Medallion Loader") + `

A CLI tool that incrementally uploads local CSV files into the bronze tier of
an S3 data lake and converts uploaded CSV objects into Parquet datasets in the
silver tier with a bounded-memory streaming transform.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// Show help when no subcommand is specified
		cmd.Help()
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload local CSV files missing from the bronze tier",
	Long: `Reconcile the configured local files against the bronze prefix and upload only
the files that are not already present. Large files use multipart transfers.`,
	Run: func(_ *cobra.Command, _ []string) {
		runCommand("Upload", (*Config).ValidateUpload, runUpload)
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a bronze CSV object into a silver Parquet dataset",
	Long: `Stream a bronze CSV object in bounded row chunks into a Parquet dataset under
the silver prefix. The object is given with --key (and optionally --bucket) or
as an S3 object-created notification with --event (a file, or - for stdin).`,
	Run: func(_ *cobra.Command, _ []string) {
		runCommand("Convert", (*Config).ValidateConvert, runConvert)
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait until converted output appears in the silver tier",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand("Wait", (*Config).ValidateWait, runWait)
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete every object under a prefix (default: a gold report)",
	Long: `Delete every object under --prefix. Without --prefix the gold report named by
--report is cleared from under the gold prefix.`,
	Run: func(_ *cobra.Command, _ []string) {
		runCommand("Clean", (*Config).Validate, runClean)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [dataset-or-source-key...]",
	Short: "Show the parts, row counts and completion state of silver datasets",
	Args:  cobra.MinimumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		runCommand("Inspect", (*Config).Validate, func(ctx context.Context, cfg *Config) error {
			return runInspect(ctx, cfg, args)
		})
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(waitCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(inspectCmd)

	// Persistent flags (available to all subcommands)
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.medallion.yaml)")
	pf.BoolVarP(&debug, "debug", "d", false, "enable debug output")
	pf.StringVar(&logFormat, "log-format", "text", "log format (text, logfmt, json)")
	pf.BoolVar(&dryRun, "dry-run", false, "report what would happen without writing to the bucket")

	pf.String("s3-client", S3ClientAWS, "S3 client implementation (aws, minio)")
	pf.String("s3-endpoint", "", "S3-compatible endpoint URL (empty for AWS)")
	pf.String("s3-bucket", "", "S3 bucket name")
	pf.String("s3-access-key", "", "S3 access key (empty for the default credential chain)")
	pf.String("s3-secret-key", "", "S3 secret key")
	pf.String("s3-region", "us-east-1", "S3 region")

	pf.String("raw-prefix", "bronze/", "prefix of the raw (bronze) tier")
	pf.String("silver-prefix", "silver/", "prefix of the silver tier")
	pf.String("gold-prefix", "gold/", "prefix of the gold tier")

	// Upload flags
	uploadCmd.Flags().String("data-dir", "", "local directory holding the CSV files (required)")
	uploadCmd.Flags().StringSlice("files", nil, "file names to upload (default: every *.csv in --data-dir)")
	uploadCmd.Flags().Int64("multipart-threshold", objectstore.DefaultTransferConfig().MultipartThreshold, "size in bytes above which multipart transfer is used")
	uploadCmd.Flags().Int64("part-size", objectstore.DefaultTransferConfig().PartSize, "multipart part size in bytes (minimum 5 MiB)")
	uploadCmd.Flags().Int("max-concurrency", objectstore.DefaultTransferConfig().MaxConcurrency, "parts of one file transferred in parallel")
	uploadCmd.Flags().Int("retries", 0, "run-level retries after a failed upload run")
	uploadCmd.Flags().Duration("retry-delay", 2*time.Minute, "delay between run-level retries")

	// Convert flags
	convertCmd.Flags().StringVar(&convertBucket, "bucket", "", "bucket of the source object (default: --s3-bucket)")
	convertCmd.Flags().StringVar(&convertKey, "key", "", "key of the source CSV object")
	convertCmd.Flags().StringVar(&convertEvent, "event", "", "S3 notification JSON file, or - for stdin")
	convertCmd.Flags().Int("chunk-rows", defaultChunkRows, "rows per conversion chunk (and per Parquet part)")
	convertCmd.Flags().StringSlice("numeric-columns", []string{"rating_average"}, "columns coerced to double; malformed values become null")
	convertCmd.Flags().String("compression", formatters.CompressionSnappy, "parquet compression: snappy, zstd, gzip, lz4, none")
	convertCmd.Flags().String("write-mode", WriteModeIdempotent, "silver write mode: idempotent, append")

	// Wait flags
	waitCmd.Flags().String("pattern", "*.parquet/*", "glob matched against keys relative to the silver prefix")
	waitCmd.Flags().Duration("timeout", 600*time.Second, "maximum time to wait")
	waitCmd.Flags().Duration("poll-interval", 60*time.Second, "time between listings")

	// Clean flags
	cleanCmd.Flags().StringVar(&cleanPrefix, "prefix", "", "prefix whose objects are deleted (overrides --report)")
	cleanCmd.Flags().StringVar(&cleanReport, "report", "category_performance", "gold report cleared from under --gold-prefix")

	// Inspect flags
	inspectCmd.Flags().IntVar(&inspectSample, "sample", 0, "print the first N rows of each dataset's first part")

	// Note: We don't use MarkFlagRequired because it checks before viper loads the config file.
	// Instead, validation happens in the Config.Validate* methods.

	// Bind persistent flags
	_ = viper.BindPFlag("debug", pf.Lookup("debug"))
	_ = viper.BindPFlag("log_format", pf.Lookup("log-format"))
	_ = viper.BindPFlag("dry_run", pf.Lookup("dry-run"))
	_ = viper.BindPFlag("s3.client", pf.Lookup("s3-client"))
	_ = viper.BindPFlag("s3.endpoint", pf.Lookup("s3-endpoint"))
	_ = viper.BindPFlag("s3.bucket", pf.Lookup("s3-bucket"))
	_ = viper.BindPFlag("s3.access_key", pf.Lookup("s3-access-key"))
	_ = viper.BindPFlag("s3.secret_key", pf.Lookup("s3-secret-key"))
	_ = viper.BindPFlag("s3.region", pf.Lookup("s3-region"))
	_ = viper.BindPFlag("layout.raw_prefix", pf.Lookup("raw-prefix"))
	_ = viper.BindPFlag("layout.silver_prefix", pf.Lookup("silver-prefix"))
	_ = viper.BindPFlag("layout.gold_prefix", pf.Lookup("gold-prefix"))

	// Bind upload flags
	_ = viper.BindPFlag("upload.data_dir", uploadCmd.Flags().Lookup("data-dir"))
	_ = viper.BindPFlag("upload.files", uploadCmd.Flags().Lookup("files"))
	_ = viper.BindPFlag("upload.multipart_threshold", uploadCmd.Flags().Lookup("multipart-threshold"))
	_ = viper.BindPFlag("upload.part_size", uploadCmd.Flags().Lookup("part-size"))
	_ = viper.BindPFlag("upload.max_concurrency", uploadCmd.Flags().Lookup("max-concurrency"))
	_ = viper.BindPFlag("upload.retries", uploadCmd.Flags().Lookup("retries"))
	_ = viper.BindPFlag("upload.retry_delay", uploadCmd.Flags().Lookup("retry-delay"))

	// Bind convert flags
	_ = viper.BindPFlag("convert.chunk_row_count", convertCmd.Flags().Lookup("chunk-rows"))
	_ = viper.BindPFlag("convert.numeric_columns", convertCmd.Flags().Lookup("numeric-columns"))
	_ = viper.BindPFlag("convert.compression", convertCmd.Flags().Lookup("compression"))
	_ = viper.BindPFlag("convert.write_mode", convertCmd.Flags().Lookup("write-mode"))

	// Bind wait flags
	_ = viper.BindPFlag("wait.pattern", waitCmd.Flags().Lookup("pattern"))
	_ = viper.BindPFlag("wait.timeout", waitCmd.Flags().Lookup("timeout"))
	_ = viper.BindPFlag("wait.poll_interval", waitCmd.Flags().Lookup("poll-interval"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".medallion")
	}

	// MEDALLION_S3_BUCKET maps to s3.bucket
	viper.SetEnvPrefix("MEDALLION")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && debug {
		// Initialize logger early if reading config in debug mode
		if logger == nil {
			initLogger(debug, logFormat)
		}
		logger.Debug(fmt.Sprintf("📄 Using config file: %s", viper.ConfigFileUsed()))
	}
}

// loadConfig assembles a Config from flags, environment and config file
func loadConfig() *Config {
	return &Config{
		Debug:     viper.GetBool("debug"),
		LogFormat: viper.GetString("log_format"),
		DryRun:    viper.GetBool("dry_run"),
		S3: S3Config{
			Client:    viper.GetString("s3.client"),
			Endpoint:  viper.GetString("s3.endpoint"),
			Bucket:    viper.GetString("s3.bucket"),
			AccessKey: viper.GetString("s3.access_key"),
			SecretKey: viper.GetString("s3.secret_key"),
			Region:    viper.GetString("s3.region"),
		},
		Layout: LayoutConfig{
			RawPrefix:    viper.GetString("layout.raw_prefix"),
			SilverPrefix: viper.GetString("layout.silver_prefix"),
			GoldPrefix:   viper.GetString("layout.gold_prefix"),
		},
		Upload: UploadConfig{
			DataDir:            viper.GetString("upload.data_dir"),
			Files:              viper.GetStringSlice("upload.files"),
			MultipartThreshold: viper.GetInt64("upload.multipart_threshold"),
			PartSize:           viper.GetInt64("upload.part_size"),
			MaxConcurrency:     viper.GetInt("upload.max_concurrency"),
			Retries:            viper.GetInt("upload.retries"),
			RetryDelay:         viper.GetDuration("upload.retry_delay"),
		},
		Convert: ConvertConfig{
			ChunkRowCount:  viper.GetInt("convert.chunk_row_count"),
			NumericColumns: viper.GetStringSlice("convert.numeric_columns"),
			Compression:    viper.GetString("convert.compression"),
			WriteMode:      viper.GetString("convert.write_mode"),
		},
		Wait: WaitConfig{
			Pattern:      viper.GetString("wait.pattern"),
			Timeout:      viper.GetDuration("wait.timeout"),
			PollInterval: viper.GetDuration("wait.poll_interval"),
		},
	}
}

// runCommand is the shared lifecycle of every subcommand: load and validate
// the config, set up logging and signals, run, and map the outcome to an
// exit code (1 on failure, 130 on interrupt)
func runCommand(name string, validate func(*Config) error, run func(context.Context, *Config) error) {
	// Add panic recovery to catch any unexpected crashes
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	config := loadConfig()
	initLogger(config.Debug, config.LogFormat)

	logger.Info("")
	logger.Info(fmt.Sprintf("🚀 Medallion Loader v%s - %s", Version, name))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if config.DryRun {
		logger.Info(infoStyle.Render("📝 Dry run: nothing will be written"))
	}

	logger.Debug("Validating configuration...")
	if err := validate(config); err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		os.Exit(1)
	}
	logger.Debug("Configuration validated successfully")

	// Use the signal context created in main() before Cobra initialization
	ctx := signalContext
	if ctx == nil {
		// Fallback if SetSignalContext wasn't called
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
	}

	if err := run(ctx, config); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("")
			logger.Info(fmt.Sprintf("⚠️  %s cancelled by user", name))
			os.Exit(130)
		}
		logger.Error(fmt.Sprintf("❌ %s failed: %s", name, err.Error()))
		os.Exit(1)
	}

	logger.Info("")
	logger.Info(fmt.Sprintf("✅ %s completed successfully!", name))
}

// runUpload holds the upload lock for the whole run, including retries
func runUpload(ctx context.Context, cfg *Config) error {
	release, err := AcquireUploadLock()
	if err != nil {
		return err
	}
	defer release()

	store, err := newStore(cfg, logger)
	if err != nil {
		return err
	}

	manifest, err := BuildManifest(cfg.Upload.DataDir, cfg.Upload.Files)
	if err != nil {
		return err
	}
	logger.Info(fmt.Sprintf("📋 Manifest: %d files from %s", len(manifest), cfg.Upload.DataDir))

	uploader := NewUploader(store, cfg.TransferConfig(), cfg.DryRun, logger)
	uploader.trackTask = true

	run := func(ctx context.Context, log *slog.Logger) (*UploadReport, error) {
		var report *UploadReport
		err := withRetry(ctx, log, "upload run", cfg.Upload.Retries, cfg.Upload.RetryDelay, func(ctx context.Context) error {
			var runErr error
			report, runErr = uploader.ReconcileAndUpload(ctx, manifest, cfg.Layout.RawPrefix)
			return runErr
		})
		return report, err
	}

	var report *UploadReport
	if useProgressUI(cfg, isatty.IsTerminal(os.Stdout.Fd())) {
		report, err = runWithProgressUI(ctx, uploader, len(manifest), run)
	} else {
		report, err = run(ctx, logger)
	}
	if report != nil {
		uploader.printSummary(report)
	}
	return err
}

// useProgressUI picks the terminal progress view for plain-text runs on a TTY.
// Structured and debug output stay line based.
func useProgressUI(cfg *Config, terminal bool) bool {
	return terminal && !cfg.Debug && (cfg.LogFormat == "" || cfg.LogFormat == "text")
}

// convertRefs resolves the objects named on the command line
func convertRefs() ([]ObjectRef, error) {
	switch {
	case convertEvent == "-":
		return ParseS3Event(os.Stdin)
	case convertEvent != "":
		f, err := os.Open(convertEvent)
		if err != nil {
			return nil, fmt.Errorf("failed to open event file: %w", err)
		}
		defer f.Close()
		return ParseS3Event(f)
	case convertKey != "":
		return []ObjectRef{{Bucket: convertBucket, Key: convertKey}}, nil
	default:
		return nil, ErrConvertSourceRequired
	}
}

func runConvert(ctx context.Context, cfg *Config) error {
	refs, err := convertRefs()
	if err != nil {
		return err
	}
	return convertAll(ctx, cfg, refs)
}

// convertAll converts refs in order and stops at the first failure
func convertAll(ctx context.Context, cfg *Config, refs []ObjectRef) error {
	store, err := newStore(cfg, logger)
	if err != nil {
		return err
	}

	converter := NewConverter(store, cfg.ConverterOptions(), logger)
	if router, ok := store.(objectstore.BucketRouter); ok {
		converter.WithBucketResolver(func(bucket string) (objectstore.Store, error) {
			return router.ForBucket(bucket), nil
		})
	}

	for _, ref := range refs {
		if cfg.DryRun {
			target, err := SilverDatasetPath(cfg.Layout.RawPrefix, cfg.Layout.SilverPrefix, ref.Key)
			if err != nil {
				return err
			}
			logger.Info(fmt.Sprintf("📝 Would convert %s to %s", ref.Key, target))
			continue
		}
		if _, err := converter.Convert(ctx, ref); err != nil {
			return fmt.Errorf("conversion of %s failed: %w", ref.Key, err)
		}
	}
	return nil
}

func runWait(ctx context.Context, cfg *Config) error {
	store, err := newStore(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info(fmt.Sprintf("⏳ Waiting up to %s for %s%s (poll every %s)",
		cfg.Wait.Timeout, normalizePrefix(cfg.Layout.SilverPrefix), cfg.Wait.Pattern, cfg.Wait.PollInterval))
	_, err = WaitForKeys(ctx, store, cfg.Layout.SilverPrefix, cfg.Wait.Pattern, cfg.Wait.Timeout, cfg.Wait.PollInterval, logger)
	return err
}

func runClean(ctx context.Context, cfg *Config) error {
	store, err := newStore(cfg, logger)
	if err != nil {
		return err
	}
	prefix, err := cleanTarget(cfg, cleanPrefix, cleanReport)
	if err != nil {
		return err
	}
	_, err = CleanPrefix(ctx, store, prefix, cfg.DryRun, logger)
	return err
}

// runInspect accepts dataset paths or bronze source keys
func runInspect(ctx context.Context, cfg *Config, args []string) error {
	store, err := newStore(cfg, logger)
	if err != nil {
		return err
	}
	for _, arg := range args {
		dataset := arg
		if strings.HasSuffix(arg, formatters.CSVExtension) {
			dataset, err = SilverDatasetPath(cfg.Layout.RawPrefix, cfg.Layout.SilverPrefix, arg)
			if err != nil {
				return err
			}
		}
		info, err := InspectDataset(ctx, store, dataset)
		if err != nil {
			return err
		}
		logDatasetInfo(logger, store.Bucket(), info)

		if inspectSample > 0 && len(info.Parts) > 0 {
			sample, err := SampleDataset(ctx, store, info, inspectSample)
			if err != nil {
				return err
			}
			logDatasetSample(logger, sample)
		}
	}
	return nil
}
