package cmd

import (
	"fmt"
	"log/slog"
	"sync"
)

// ProgressEvent is one decile milestone of a single file transfer
type ProgressEvent struct {
	File      string
	Decile    int // 0..10
	Percent   int // Decile * 10
	BytesSeen int64
	Size      int64
}

// ProgressTracker accumulates transferred bytes for one file and emits an
// event each time a new 10% boundary is reached. Add is safe for concurrent
// use by parallel part transfers.
type ProgressTracker struct {
	file string
	size int64
	emit func(ProgressEvent)

	mu         sync.Mutex
	seen       int64
	lastDecile int
}

// NewProgressTracker creates a tracker for a file of the given size
func NewProgressTracker(file string, size int64, emit func(ProgressEvent)) *ProgressTracker {
	return &ProgressTracker{
		file:       file,
		size:       size,
		emit:       emit,
		lastDecile: -1,
	}
}

// Add records n transferred bytes. When several boundaries are crossed at once
// only the highest one is reported.
func (p *ProgressTracker) Add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seen += n
	if p.size <= 0 {
		return
	}

	decile := int(min(p.seen, p.size) * 10 / p.size)
	if decile > p.lastDecile {
		p.lastDecile = decile
		p.emitLocked(decile)
	}
}

// Finish reports 100% for a zero-byte file, which never receives bytes
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.size <= 0 && p.lastDecile < 10 {
		p.lastDecile = 10
		p.emitLocked(10)
	}
}

// BytesSeen returns the bytes recorded so far
func (p *ProgressTracker) BytesSeen() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen
}

// emitLocked runs with mu held so events leave in decile order
func (p *ProgressTracker) emitLocked(decile int) {
	if p.emit == nil {
		return
	}
	p.emit(ProgressEvent{
		File:      p.file,
		Decile:    decile,
		Percent:   decile * 10,
		BytesSeen: p.seen,
		Size:      p.size,
	})
}

// logProgress returns an emitter that writes one log line per milestone
func logProgress(logger *slog.Logger) func(ProgressEvent) {
	return func(ev ProgressEvent) {
		logger.Info(fmt.Sprintf("  📤 %s: %d%% (%s / %s)", ev.File, ev.Percent, formatBytes(ev.BytesSeen), formatBytes(ev.Size)),
			"file", ev.File, "percent", ev.Percent)
	}
}

// formatBytes renders a byte count for humans
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
