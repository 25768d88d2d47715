package objectstore

import (
	"io"
	"os"
	"sync"
)

// progressReader wraps a file for the S3 upload manager and reports each byte
// to the progress callback at most once.
//
// The manager reads every part through an io.SectionReader built on ReadAt,
// and request signing or retries read the same section again. A high-water
// mark per part keeps those re-reads from being counted twice.
type progressReader struct {
	file     *os.File
	size     int64
	partSize int64
	progress ProgressFunc

	mu        sync.Mutex
	highWater map[int64]int64
}

func newProgressReader(file *os.File, size, partSize int64, progress ProgressFunc) *progressReader {
	if partSize <= 0 {
		partSize = size
	}
	if partSize <= 0 {
		partSize = 1
	}
	return &progressReader{
		file:      file,
		size:      size,
		partSize:  partSize,
		progress:  progress,
		highWater: make(map[int64]int64),
	}
}

// Read reads sequentially from the current offset
func (r *progressReader) Read(p []byte) (int, error) {
	off, err := r.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	n, err := r.file.Read(p)
	r.report(off, n)
	return n, err
}

// ReadAt reads len(p) bytes at off
func (r *progressReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.file.ReadAt(p, off)
	r.report(off, n)
	return n, err
}

// Seek sets the offset for the next Read
func (r *progressReader) Seek(offset int64, whence int) (int64, error) {
	return r.file.Seek(offset, whence)
}

// report counts the bytes of [off, off+n) that were not reported before
func (r *progressReader) report(off int64, n int) {
	if n <= 0 || r.progress == nil {
		return
	}

	end := off + int64(n)
	var delta int64

	r.mu.Lock()
	for start := off; start < end; {
		part := start / r.partSize
		partEnd := min((part+1)*r.partSize, end)

		seen := max(r.highWater[part], start)
		if partEnd > seen {
			delta += partEnd - seen
			r.highWater[part] = partEnd
		}
		start = partEnd
	}
	r.mu.Unlock()

	if delta > 0 {
		r.progress(delta)
	}
}
