package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Op names a MemoryStore operation for error injection
type Op string

const (
	OpList   Op = "list"
	OpUpload Op = "upload"
	OpOpen   Op = "open"
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

type injectedError struct {
	op  Op
	key string
	err error
}

// MemoryStore is an in-process Store. Multipart uploads are emulated part by
// part so concurrency limits and progress behave like the S3 path.
type MemoryStore struct {
	bucket string

	mu       sync.RWMutex
	objects  map[string][]byte
	types    map[string]string
	parts    map[string]int
	failures []injectedError

	uploads     atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

// NewMemoryStore creates an empty store for bucket
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		parts:   make(map[string]int),
	}
}

// InjectError makes op fail with err for key. An empty key matches every key.
func (m *MemoryStore) InjectError(op Op, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, injectedError{op: op, key: key, err: err})
}

// ClearErrors removes every injected error
func (m *MemoryStore) ClearErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = nil
}

func (m *MemoryStore) injected(op Op, key string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.failures {
		if f.op == op && (f.key == "" || f.key == key) {
			return f.err
		}
	}
	return nil
}

// Bucket returns the bucket name
func (m *MemoryStore) Bucket() string {
	return m.bucket
}

// ListKeys returns the keys under prefix in lexicographic order
func (m *MemoryStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.injected(OpList, prefix); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0)
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// UploadFile copies a local file into the store
func (m *MemoryStore) UploadFile(ctx context.Context, localPath, key string, cfg TransferConfig, progress ProgressFunc) error {
	if cfg.MaxConcurrency < 1 {
		return ErrConcurrencyInvalid
	}
	if err := m.injected(OpUpload, key); err != nil {
		return fmt.Errorf("failed to upload %s to %s: %w", localPath, key, err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	size := int64(len(data))

	m.uploads.Add(1)

	if !cfg.UsesMultipart(size) || cfg.PartSize <= 0 {
		m.enter()
		defer m.leave()
		if err := ctx.Err(); err != nil {
			return err
		}
		if progress != nil && size > 0 {
			progress(size)
		}
		m.store(key, bytes.Clone(data), "", 1)
		return nil
	}

	buf := make([]byte, size)
	numParts := int((size + cfg.PartSize - 1) / cfg.PartSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrency)
	for i := 0; i < numParts; i++ {
		start := int64(i) * cfg.PartSize
		end := min(start+cfg.PartSize, size)
		g.Go(func() error {
			m.enter()
			defer m.leave()
			if err := gctx.Err(); err != nil {
				return err
			}
			copy(buf[start:end], data[start:end])
			if progress != nil {
				progress(end - start)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to upload %s to %s: %w", localPath, key, err)
	}

	m.store(key, buf, "", numParts)
	return nil
}

func (m *MemoryStore) enter() {
	n := m.inFlight.Add(1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (m *MemoryStore) leave() {
	m.inFlight.Add(-1)
}

func (m *MemoryStore) store(key string, data []byte, contentType string, parts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	m.parts[key] = parts
}

// Open returns a reader over a copy of the object
func (m *MemoryStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Get returns a copy of the object
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.injected(OpOpen, key); err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return bytes.Clone(data), nil
}

// Put stores a whole object
func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.injected(OpPut, key); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	m.store(key, bytes.Clone(data), contentType, 1)
	return nil
}

// Exists reports whether key is present
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// DeleteObjects removes every key under prefix
func (m *MemoryStore) DeleteObjects(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := m.injected(OpDelete, prefix); err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", prefix, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			delete(m.objects, key)
			delete(m.types, key)
			delete(m.parts, key)
			deleted++
		}
	}
	return deleted, nil
}

// ContentType returns the content type recorded by Put
func (m *MemoryStore) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[key]
}

// PartCount returns how many parts the last upload of key used
func (m *MemoryStore) PartCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.parts[key]
}

// UploadCount returns how many UploadFile transfers have started
func (m *MemoryStore) UploadCount() int {
	return int(m.uploads.Load())
}

// MaxInFlight returns the highest number of transfers or parts seen in flight at once
func (m *MemoryStore) MaxInFlight() int {
	return int(m.maxInFlight.Load())
}
