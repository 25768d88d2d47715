package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/airframesio/medallion-loader/cmd/formatters"
	"github.com/airframesio/medallion-loader/cmd/objectstore"
)

// ErrDataDirRequired is returned when the manifest has nothing to resolve against
var ErrDataDirRequired = errors.New("upload data directory is required")

// UploadStatus is the outcome of one manifest entry
type UploadStatus string

const (
	StatusUploaded        UploadStatus = "uploaded"
	StatusSkippedExisting UploadStatus = "skipped_existing"
	StatusSkippedMissing  UploadStatus = "skipped_missing"
	StatusPlanned         UploadStatus = "planned"
	StatusFailed          UploadStatus = "failed"
)

// ManifestEntry is one declared local file
type ManifestEntry struct {
	Name      string
	LocalPath string
}

// UploadResult records what happened to one manifest entry
type UploadResult struct {
	Name     string
	Key      string
	Status   UploadStatus
	Reason   string
	Bytes    int64
	Duration time.Duration
	Error    error
}

// UploadReport lists a result per manifest entry, in manifest order.
// Entries after a failed transfer are absent.
type UploadReport struct {
	Bucket  string
	Prefix  string
	Results []UploadResult
}

// Count returns the number of results with the given status
func (r *UploadReport) Count(status UploadStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Uploaded returns the names of the files transferred by the run
func (r *UploadReport) Uploaded() []string {
	var names []string
	for _, res := range r.Results {
		if res.Status == StatusUploaded {
			names = append(names, res.Name)
		}
	}
	return names
}

// TotalBytes sums the bytes of transferred files
func (r *UploadReport) TotalBytes() int64 {
	var total int64
	for _, res := range r.Results {
		if res.Status == StatusUploaded {
			total += res.Bytes
		}
	}
	return total
}

// BuildManifest resolves the configured file names against dataDir. With no
// names, every *.csv file in dataDir is used in name order. Declared names are
// kept even when the file is absent; the uploader decides what to skip.
func BuildManifest(dataDir string, files []string) ([]ManifestEntry, error) {
	if dataDir == "" {
		return nil, ErrDataDirRequired
	}

	if len(files) == 0 {
		entries, err := os.ReadDir(dataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read data directory %s: %w", dataDir, err)
		}
		for _, entry := range entries {
			if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), formatters.CSVExtension) {
				files = append(files, entry.Name())
			}
		}
		sort.Strings(files)
	}

	manifest := make([]ManifestEntry, 0, len(files))
	for _, name := range files {
		manifest = append(manifest, ManifestEntry{
			Name:      filepath.Base(name),
			LocalPath: filepath.Join(dataDir, name),
		})
	}
	return manifest, nil
}

// Uploader reconciles a local manifest against the raw tier and transfers
// the files that are missing remotely
type Uploader struct {
	store    objectstore.Store
	transfer objectstore.TransferConfig
	dryRun   bool
	logger   *slog.Logger

	// onProgress receives decile milestones; defaults to a log line per milestone
	onProgress func(ProgressEvent)
	// onResult, when set, receives each manifest entry's outcome as it is decided
	onResult func(UploadResult)
	// trackTask mirrors run status into the task file next to the PID lock
	trackTask bool
}

// NewUploader creates an uploader bound to one store
func NewUploader(store objectstore.Store, transfer objectstore.TransferConfig, dryRun bool, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		store:      store,
		transfer:   transfer,
		dryRun:     dryRun,
		logger:     logger,
		onProgress: logProgress(logger),
	}
}

// ReconcileAndUpload lists remotePrefix once, then walks the manifest in
// order: names already present, or transferred earlier in the run, are
// skipped, files absent locally are skipped with a warning, and the rest are
// transferred. A listing failure aborts
// before any transfer; a transfer failure stops the run and returns the
// partial report.
func (u *Uploader) ReconcileAndUpload(ctx context.Context, manifest []ManifestEntry, remotePrefix string) (*UploadReport, error) {
	prefix := normalizePrefix(remotePrefix)
	report := &UploadReport{Bucket: u.store.Bucket(), Prefix: prefix}

	keys, err := u.store.ListKeys(ctx, prefix)
	if err != nil {
		return report, fmt.Errorf("cannot reconcile against s3://%s/%s: %w", u.store.Bucket(), prefix, err)
	}

	remote := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		remote[path.Base(key)] = struct{}{}
	}
	u.logger.Info(fmt.Sprintf("🔍 Found %d existing objects under s3://%s/%s", len(remote), u.store.Bucket(), prefix))

	task := &TaskInfo{
		PID:        os.Getpid(),
		StartTime:  time.Now(),
		Bucket:     u.store.Bucket(),
		Prefix:     prefix,
		TotalFiles: len(manifest),
	}

	for i, entry := range manifest {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		key := prefix + entry.Name
		result := UploadResult{Name: entry.Name, Key: key}

		if _, exists := remote[entry.Name]; exists {
			result.Status = StatusSkippedExisting
			result.Reason = "already present remotely"
			u.logger.Info(fmt.Sprintf("⏭️  Skipping %s: already exists at s3://%s/%s", entry.Name, u.store.Bucket(), key),
				"file", entry.Name, "key", key)
			u.record(report, result)
			continue
		}

		info, statErr := os.Stat(entry.LocalPath)
		if statErr != nil || !info.Mode().IsRegular() {
			result.Status = StatusSkippedMissing
			result.Reason = missingReason(statErr)
			u.logger.Warn(fmt.Sprintf("⚠️  Skipping %s: %s (%s)", entry.Name, result.Reason, entry.LocalPath),
				"file", entry.Name, "path", entry.LocalPath)
			u.record(report, result)
			continue
		}
		result.Bytes = info.Size()

		if u.dryRun {
			result.Status = StatusPlanned
			remote[entry.Name] = struct{}{}
			u.logger.Info(fmt.Sprintf("📝 Would upload %s (%s) to s3://%s/%s", entry.Name, formatBytes(result.Bytes), u.store.Bucket(), key),
				"file", entry.Name, "key", key)
			u.record(report, result)
			continue
		}

		u.updateTask(task, entry.Name, i, len(manifest))

		start := time.Now()
		if err := u.transferFile(ctx, entry, key, info.Size()); err != nil {
			result.Status = StatusFailed
			result.Error = err
			result.Duration = time.Since(start)
			u.record(report, result)
			return report, fmt.Errorf("upload of %s to s3://%s/%s failed: %w", entry.Name, u.store.Bucket(), key, err)
		}
		result.Status = StatusUploaded
		result.Duration = time.Since(start)
		u.record(report, result)
		// later entries with the same base name resolve to the same key
		remote[entry.Name] = struct{}{}

		u.logger.Info(fmt.Sprintf("✅ Uploaded %s to s3://%s/%s in %s", entry.Name, u.store.Bucket(), key, result.Duration.Round(time.Millisecond)),
			"file", entry.Name, "key", key, "bytes", result.Bytes)
	}

	u.updateTask(task, "", len(manifest), len(manifest))
	return report, nil
}

func (u *Uploader) record(report *UploadReport, result UploadResult) {
	report.Results = append(report.Results, result)
	if u.onResult != nil {
		u.onResult(result)
	}
}

// transferFile sends one file with a fresh progress tracker
func (u *Uploader) transferFile(ctx context.Context, entry ManifestEntry, key string, size int64) error {
	mode := "single PUT"
	if u.transfer.UsesMultipart(size) {
		mode = fmt.Sprintf("multipart, %s parts, %d in flight", formatBytes(u.transfer.PartSize), u.transfer.MaxConcurrency)
	}
	u.logger.Info(fmt.Sprintf("☁️  Uploading %s (%s, %s)", entry.Name, formatBytes(size), mode), "file", entry.Name, "key", key)

	tracker := NewProgressTracker(entry.Name, size, u.onProgress)
	if err := u.store.UploadFile(ctx, entry.LocalPath, key, u.transfer, tracker.Add); err != nil {
		return err
	}
	tracker.Finish()
	return nil
}

func (u *Uploader) updateTask(task *TaskInfo, current string, completed, total int) {
	if !u.trackTask {
		return
	}
	task.CurrentFile = current
	task.CompletedFiles = completed
	if total > 0 {
		task.Progress = float64(completed) / float64(total)
	}
	if err := WriteTaskInfo(task); err != nil {
		u.logger.Debug(fmt.Sprintf("Failed to write task info: %v", err))
	}
}

func missingReason(err error) string {
	switch {
	case err == nil:
		return "not a regular file"
	case errors.Is(err, fs.ErrNotExist):
		return "local file not found"
	default:
		return fmt.Sprintf("local file unreadable: %v", err)
	}
}

// printSummary logs the per-status totals of a run
func (u *Uploader) printSummary(report *UploadReport) {
	u.logger.Info("")
	u.logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	u.logger.Info("📈 Summary")
	if u.dryRun {
		u.logger.Info(fmt.Sprintf("📝 Planned: %d", report.Count(StatusPlanned)))
	} else {
		u.logger.Info(fmt.Sprintf("✅ Uploaded: %d", report.Count(StatusUploaded)))
	}
	u.logger.Info(fmt.Sprintf("⏭️  Skipped (already remote): %d", report.Count(StatusSkippedExisting)))
	if missing := report.Count(StatusSkippedMissing); missing > 0 {
		u.logger.Info(fmt.Sprintf("⚠️  Skipped (missing locally): %d", missing))
	}
	if failed := report.Count(StatusFailed); failed > 0 {
		u.logger.Info(fmt.Sprintf("❌ Failed: %d", failed))
	}

	if total := report.TotalBytes(); total > 0 {
		u.logger.Info(fmt.Sprintf("💾 Total uploaded: %.2f MB", float64(total)/(1024*1024)))
	}

	for _, r := range report.Results {
		if r.Error != nil {
			u.logger.Error(fmt.Sprintf("❌ %s: %v", r.Name, r.Error))
		}
	}
}
