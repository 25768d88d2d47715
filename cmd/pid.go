package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrUploadInProgress is returned when another uploader run holds the lock
var ErrUploadInProgress = errors.New("another upload run is in progress")

// TaskInfo represents the current upload run status
type TaskInfo struct {
	PID            int       `json:"pid"`
	StartTime      time.Time `json:"start_time"`
	Bucket         string    `json:"bucket"`
	Prefix         string    `json:"prefix"`
	CurrentFile    string    `json:"current_file,omitempty"`
	Progress       float64   `json:"progress"`
	TotalFiles     int       `json:"total_files"`
	CompletedFiles int       `json:"completed_files"`
	LastUpdate     time.Time `json:"last_update"`
}

// stateDir holds the lock and task files
func stateDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".medallion")
}

// GetPIDFilePath returns the path to the PID file
func GetPIDFilePath() string {
	return filepath.Join(stateDir(), "upload.pid")
}

// GetTaskFilePath returns the path to the task info file
func GetTaskFilePath() string {
	return filepath.Join(stateDir(), "current_upload.json")
}

// WritePIDFile creates the PID file holding the current process PID. It fails
// with fs.ErrExist when the file is already there.
func WritePIDFile() error {
	pidPath := GetPIDFilePath()
	dir := filepath.Dir(pidPath)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(pidPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		file.Close()
		_ = os.Remove(pidPath)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(pidPath)
		return err
	}
	return nil
}

// RemovePIDFile removes the PID file
func RemovePIDFile() error {
	return os.Remove(GetPIDFilePath())
}

// ReadPIDFile reads the PID from file
func ReadPIDFile() (int, error) {
	data, err := os.ReadFile(GetPIDFilePath())
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}

	return pid, nil
}

// IsProcessRunning checks if a process with given PID is running
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 checks for existence without delivering anything
	return process.Signal(syscall.Signal(0)) == nil
}

// lockGrace covers the window between another run creating the PID file
// and writing its PID
const lockGrace = 5 * time.Second

// AcquireUploadLock creates the PID file exclusively. A file left by a dead
// process, or by an earlier run that reused this PID, is removed and creation
// is retried once. The returned func releases the lock and removes the task file.
func AcquireUploadLock() (func(), error) {
	release := func() {
		_ = RemovePIDFile()
		_ = RemoveTaskFile()
	}

	for attempt := 0; ; attempt++ {
		err := WritePIDFile()
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, fs.ErrExist) || attempt > 0 {
			return nil, fmt.Errorf("failed to write PID file: %w", err)
		}

		pid, readErr := ReadPIDFile()
		switch {
		case readErr == nil && pid != os.Getpid() && IsProcessRunning(pid):
			return nil, inProgressError(pid)
		case readErr != nil && !errors.Is(readErr, fs.ErrNotExist) && lockIsFresh():
			return nil, fmt.Errorf("%w (lock %s is being written)", ErrUploadInProgress, GetPIDFilePath())
		}

		if err := RemovePIDFile(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}
}

func lockIsFresh() bool {
	info, err := os.Stat(GetPIDFilePath())
	return err == nil && time.Since(info.ModTime()) < lockGrace
}

// inProgressError names the run holding the lock and, when its task file is
// readable, what it is doing
func inProgressError(pid int) error {
	task, err := ReadTaskInfo()
	if err != nil || task.PID != pid {
		return fmt.Errorf("%w (pid %d, lock %s)", ErrUploadInProgress, pid, GetPIDFilePath())
	}

	current := task.CurrentFile
	if current == "" {
		current = "reconciling"
	}
	return fmt.Errorf("%w (pid %d since %s, %d/%d files to s3://%s/%s, current: %s)",
		ErrUploadInProgress, pid, task.StartTime.Format(time.RFC3339),
		task.CompletedFiles, task.TotalFiles, task.Bucket, task.Prefix, current)
}

// WriteTaskInfo writes current task information to file
func WriteTaskInfo(info *TaskInfo) error {
	taskPath := GetTaskFilePath()
	dir := filepath.Dir(taskPath)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	info.LastUpdate = time.Now()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task info: %w", err)
	}

	return os.WriteFile(taskPath, data, 0o600)
}

// ReadTaskInfo reads current task information from file
func ReadTaskInfo() (*TaskInfo, error) {
	data, err := os.ReadFile(GetTaskFilePath())
	if err != nil {
		return nil, err
	}

	var info TaskInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task info: %w", err)
	}

	return &info, nil
}

// RemoveTaskFile removes the task info file
func RemoveTaskFile() error {
	return os.Remove(GetTaskFilePath())
}
