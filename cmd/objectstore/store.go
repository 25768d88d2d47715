// Package objectstore is the object-store seam shared by the uploader and the
// converter. S3Store (AWS SDK) and MinioStore (MinIO client) talk to S3 or any
// S3-compatible endpoint; MemoryStore keeps objects in process.
package objectstore

import (
	"context"
	"errors"
	"io"
)

// Static errors for object-store operations
var (
	ErrNotFound           = errors.New("object not found")
	ErrPartSizeTooSmall   = errors.New("part size is below the multipart minimum")
	ErrConcurrencyInvalid = errors.New("max concurrency must be at least 1")
)

// MinPartSize is the smallest multipart part S3 accepts (except the last part)
const MinPartSize int64 = 5 * 1024 * 1024

// TransferConfig controls how a single file is transferred
type TransferConfig struct {
	// Files strictly larger than MultipartThreshold use a multipart upload
	MultipartThreshold int64
	// PartSize is the size of every multipart part except the last
	PartSize int64
	// MaxConcurrency bounds the parts of one file in flight at once
	MaxConcurrency int
}

// DefaultTransferConfig returns the 50 MiB / 25 MiB / 2 transfer settings
func DefaultTransferConfig() TransferConfig {
	return TransferConfig{
		MultipartThreshold: 50 * 1024 * 1024,
		PartSize:           25 * 1024 * 1024,
		MaxConcurrency:     2,
	}
}

// UsesMultipart reports whether a file of the given size is sent in parts
func (c TransferConfig) UsesMultipart(size int64) bool {
	return size > c.MultipartThreshold
}

// ProgressFunc receives the number of new bytes transferred. It may be called
// from several goroutines at once.
type ProgressFunc func(n int64)

// Store is the subset of object-store behavior the loader relies on.
// Keys are full object keys within the store's bucket.
type Store interface {
	// Bucket returns the bucket this store addresses
	Bucket() string
	// ListKeys returns every key under prefix, in lexicographic order
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	// UploadFile transfers a local file to key, reporting bytes to progress
	UploadFile(ctx context.Context, localPath, key string, cfg TransferConfig, progress ProgressFunc) error
	// Open streams an object; the caller must close the reader
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Get reads a whole object into memory
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes a whole object
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Exists reports whether key is present
	Exists(ctx context.Context, key string) (bool, error)
	// DeleteObjects deletes every key under prefix and returns how many were deleted
	DeleteObjects(ctx context.Context, prefix string) (int, error)
}

// BucketRouter is implemented by stores that can address other buckets with
// the same connection
type BucketRouter interface {
	ForBucket(bucket string) Store
}
