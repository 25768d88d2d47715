package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

const defaultRegion = "us-east-1"

// S3Config holds the connection settings for an S3-compatible store
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// S3Store implements Store on top of the AWS SDK
type S3Store struct {
	client *s3.S3
	bucket string
	logger *slog.Logger
}

// NewS3Store creates a session for the given settings. A custom endpoint
// switches to path-style addressing so MinIO and similar servers work.
// Without static keys the SDK's default credential chain is used.
func NewS3Store(cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	awsConfig := &aws.Config{
		Region: aws.String(region),
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	return &S3Store{
		client: s3.New(sess),
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// ForBucket returns a store sharing this store's client but addressing another bucket
func (s *S3Store) ForBucket(bucket string) Store {
	if bucket == "" || bucket == s.bucket {
		return s
	}
	return &S3Store{client: s.client, bucket: bucket, logger: s.logger}
}

// Bucket returns the bucket name
func (s *S3Store) Bucket() string {
	return s.bucket
}

// ListKeys lists every key under prefix, following continuation tokens
func (s *S3Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, prefix, err)
	}

	s.logger.Debug(fmt.Sprintf("📂 Listed %d objects under s3://%s/%s", len(keys), s.bucket, prefix))
	return keys, nil
}

// UploadFile uploads a local file. Files up to the multipart threshold go in a
// single PUT; larger files are split into PartSize parts with at most
// MaxConcurrency parts in flight.
func (s *S3Store) UploadFile(ctx context.Context, localPath, key string, cfg TransferConfig, progress ProgressFunc) error {
	if cfg.PartSize < MinPartSize {
		return fmt.Errorf("%w: %d < %d", ErrPartSizeTooSmall, cfg.PartSize, MinPartSize)
	}
	if cfg.MaxConcurrency < 1 {
		return ErrConcurrencyInvalid
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	size := info.Size()

	// The upload manager sends a single PUT whenever the body fits in one part
	partSize := cfg.PartSize
	if !cfg.UsesMultipart(size) {
		partSize = max(size, MinPartSize)
	}

	uploader := s3manager.NewUploaderWithClient(s.client, func(u *s3manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = cfg.MaxConcurrency
	})

	s.logger.Debug(fmt.Sprintf("  ☁️  Uploading %s to s3://%s/%s (size: %d bytes, multipart: %t)",
		localPath, s.bucket, key, size, cfg.UsesMultipart(size)))

	_, err = uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   newProgressReader(file, size, partSize, progress),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s/%s: %w", localPath, s.bucket, key, err)
	}

	return nil
}

// Open streams an object body
func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.bucket, key)
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", s.bucket, key, err)
	}
	return out.Body, nil
}

// Get reads a whole object
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

// Put writes a whole object with a single PUT
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObjectWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Exists checks an object with HEAD
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head s3://%s/%s: %w", s.bucket, key, err)
	}
	return true, nil
}

// DeleteObjects deletes every object under prefix in batches
func (s *S3Store) DeleteObjects(ctx context.Context, prefix string) (int, error) {
	keys, err := s.ListKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	objects := make([]s3manager.BatchDeleteObject, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, s3manager.BatchDeleteObject{
			Object: &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			},
		})
	}

	batcher := s3manager.NewBatchDeleteWithClient(s.client)
	if err := batcher.Delete(ctx, &s3manager.DeleteObjectsIterator{Objects: objects}); err != nil {
		return 0, fmt.Errorf("failed to delete objects under s3://%s/%s: %w", s.bucket, prefix, err)
	}

	s.logger.Debug(fmt.Sprintf("🗑️  Deleted %d objects under s3://%s/%s", len(keys), s.bucket, prefix))
	return len(keys), nil
}

// isNotFound matches both NoSuchKey and a bare 404 from HEAD
func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
