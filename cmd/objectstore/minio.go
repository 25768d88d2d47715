package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const awsEndpoint = "s3.amazonaws.com"

// MinioStore implements Store with the MinIO client, an alternative to the
// AWS SDK for self-hosted S3-compatible servers
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinioStore connects to cfg.Endpoint with path-style addressing.
// An empty endpoint targets AWS. Without static keys, credentials are taken
// from the AWS and MinIO environment variables or the shared credentials file.
func NewMinioStore(cfg S3Config, logger *slog.Logger) (*MinioStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	host, secure, err := splitEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	var creds *credentials.Credentials
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
		})
	}

	client, err := minio.New(host, &minio.Options{
		Creds:        creds,
		Secure:       secure,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinioStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// splitEndpoint turns an endpoint URL into the host and TLS flag the MinIO client expects
func splitEndpoint(endpoint string) (string, bool, error) {
	if endpoint == "" {
		return awsEndpoint, true, nil
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, true, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	return u.Host, u.Scheme == "https", nil
}

// ForBucket returns a store sharing this client but addressing another bucket
func (m *MinioStore) ForBucket(bucket string) Store {
	if bucket == "" || bucket == m.bucket {
		return m
	}
	return &MinioStore{client: m.client, bucket: bucket, logger: m.logger}
}

// Bucket returns the bucket name
func (m *MinioStore) Bucket() string {
	return m.bucket
}

// ListKeys lists every key under prefix
func (m *MinioStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", m.bucket, prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}

	m.logger.Debug(fmt.Sprintf("📂 Listed %d objects under s3://%s/%s", len(keys), m.bucket, prefix))
	return keys, nil
}

// progressSink adapts a ProgressFunc to the io.Reader the MinIO client feeds
// with every chunk it sends
type progressSink struct {
	progress ProgressFunc
}

func (p progressSink) Read(b []byte) (int, error) {
	if p.progress != nil && len(b) > 0 {
		p.progress(int64(len(b)))
	}
	return len(b), nil
}

// UploadFile uploads a local file. Files up to the multipart threshold go in a
// single PUT; larger files are split into PartSize parts sent on
// MaxConcurrency threads.
func (m *MinioStore) UploadFile(ctx context.Context, localPath, key string, cfg TransferConfig, progress ProgressFunc) error {
	if cfg.PartSize < MinPartSize {
		return fmt.Errorf("%w: %d < %d", ErrPartSizeTooSmall, cfg.PartSize, MinPartSize)
	}
	if cfg.MaxConcurrency < 1 {
		return ErrConcurrencyInvalid
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	size := info.Size()

	m.logger.Debug(fmt.Sprintf("  ☁️  Uploading %s to s3://%s/%s (size: %d bytes, multipart: %t)",
		localPath, m.bucket, key, size, cfg.UsesMultipart(size)))

	opts := minio.PutObjectOptions{
		DisableMultipart: !cfg.UsesMultipart(size),
		PartSize:         uint64(cfg.PartSize),
		NumThreads:       uint(cfg.MaxConcurrency),
		Progress:         progressSink{progress: progress},
	}
	if _, err := m.client.FPutObject(ctx, m.bucket, key, localPath, opts); err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s/%s: %w", localPath, m.bucket, key, err)
	}
	return nil
}

// Open streams an object body. The object is stat'ed first so a missing key
// fails here rather than on the first read.
func (m *MinioStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.wrapGetError(key, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, m.wrapGetError(key, err)
	}
	return obj, nil
}

func (m *MinioStore) wrapGetError(key string, err error) error {
	if isMinioNotFound(err) {
		return fmt.Errorf("%w: s3://%s/%s", ErrNotFound, m.bucket, key)
	}
	return fmt.Errorf("failed to get s3://%s/%s: %w", m.bucket, key, err)
}

// Get reads a whole object
func (m *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := m.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", m.bucket, key, err)
	}
	return data, nil
}

// Put writes a whole object with a single PUT
func (m *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType, DisableMultipart: true}
	if _, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", m.bucket, key, err)
	}
	return nil
}

// Exists checks an object with StatObject
func (m *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat s3://%s/%s: %w", m.bucket, key, err)
	}
	return true, nil
}

// DeleteObjects deletes every object under prefix with multi-object deletes
func (m *MinioStore) DeleteObjects(ctx context.Context, prefix string) (int, error) {
	keys, err := m.ListKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	objects := make(chan minio.ObjectInfo)
	go func() {
		defer close(objects)
		for _, key := range keys {
			select {
			case objects <- minio.ObjectInfo{Key: key}:
			case <-ctx.Done():
				return
			}
		}
	}()

	failed := 0
	var firstErr error
	for rerr := range m.client.RemoveObjects(ctx, m.bucket, objects, minio.RemoveObjectsOptions{}) {
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to delete s3://%s/%s: %w", m.bucket, rerr.ObjectName, rerr.Err)
		}
	}
	if firstErr != nil {
		return len(keys) - failed, firstErr
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.logger.Debug(fmt.Sprintf("🗑️  Deleted %d objects under s3://%s/%s", len(keys), m.bucket, prefix))
	return len(keys), nil
}

func isMinioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
