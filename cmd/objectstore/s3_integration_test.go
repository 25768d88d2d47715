package objectstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
)

const (
	integrationTestBucket  = "medallion-test"
	integrationMinioBucket = "medallion-minio-test"
	minioUsername          = "minioadmin"
	minioPassword          = "minioadmin"
	skipIntegrationTestMsg = "Skipping integration test in short mode"
)

// startMinIO starts a MinIO testcontainer and returns its endpoint URL
func startMinIO(ctx context.Context, t *testing.T) string {
	t.Helper()

	minioContainer, err := minio.Run(ctx,
		"minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(minioContainer); err != nil {
			t.Logf("Failed to terminate MinIO container: %v", err)
		}
	})

	connectionString, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	if !strings.HasPrefix(connectionString, "http://") && !strings.HasPrefix(connectionString, "https://") {
		connectionString = "http://" + connectionString
	}
	return connectionString
}

func integrationConfig(endpoint, bucket string) S3Config {
	return S3Config{
		Endpoint:  endpoint,
		Bucket:    bucket,
		AccessKey: minioUsername,
		SecretKey: minioPassword,
		Region:    "us-east-1",
	}
}

func integrationLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// setupS3Store returns an AWS SDK store for a fresh bucket
func setupS3Store(ctx context.Context, t *testing.T, endpoint string) *S3Store {
	t.Helper()

	store, err := NewS3Store(integrationConfig(endpoint, integrationTestBucket), integrationLogger())
	require.NoError(t, err)

	_, err = store.client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(integrationTestBucket),
	})
	require.NoError(t, err)

	return store
}

// setupMinioStore returns a MinIO client store for a fresh bucket
func setupMinioStore(ctx context.Context, t *testing.T, endpoint string) *MinioStore {
	t.Helper()

	store, err := NewMinioStore(integrationConfig(endpoint, integrationMinioBucket), integrationLogger())
	require.NoError(t, err)

	require.NoError(t, store.client.MakeBucket(ctx, integrationMinioBucket, miniogo.MakeBucketOptions{Region: "us-east-1"}))

	return store
}

func TestObjectStoresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip(skipIntegrationTestMsg)
	}

	ctx := context.Background()
	endpoint := startMinIO(ctx, t)

	t.Run("S3Store", func(t *testing.T) {
		store := setupS3Store(ctx, t, endpoint)
		runStoreContract(ctx, t, store, integrationTestBucket)

		assert.Same(t, store, store.ForBucket(integrationTestBucket))
	})

	t.Run("MinioStore", func(t *testing.T) {
		store := setupMinioStore(ctx, t, endpoint)
		runStoreContract(ctx, t, store, integrationMinioBucket)

		assert.Same(t, store, store.ForBucket(integrationMinioBucket))
	})
}

// assertReported checks progress totals. The AWS store de-duplicates re-reads
// of a part, so it must report every byte exactly once.
func assertReported(t *testing.T, store Store, want, got int64) {
	t.Helper()
	if _, ok := store.(*S3Store); ok {
		assert.Equal(t, want, got, "every byte reported exactly once")
		return
	}
	assert.GreaterOrEqual(t, got, want)
}

// runStoreContract exercises every Store operation against a live server
func runStoreContract(ctx context.Context, t *testing.T, store Store, bucket string) {
	t.Run("Bucket", func(t *testing.T) {
		assert.Equal(t, bucket, store.Bucket())
	})

	t.Run("ListKeys_Empty", func(t *testing.T) {
		keys, err := store.ListKeys(ctx, "bronze/")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("UploadFile_SinglePut", func(t *testing.T) {
		data := []byte("id,rating_average\n1,4.5\n2,oops\n")
		local := filepath.Join(t.TempDir(), "small.csv")
		require.NoError(t, os.WriteFile(local, data, 0o600))

		var reported atomic.Int64
		err := store.UploadFile(ctx, local, "bronze/small.csv", DefaultTransferConfig(), func(n int64) {
			reported.Add(n)
		})
		require.NoError(t, err)
		assertReported(t, store, int64(len(data)), reported.Load())

		got, err := store.Get(ctx, "bronze/small.csv")
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("UploadFile_Multipart", func(t *testing.T) {
		size := int(2*MinPartSize + 1024)
		data := make([]byte, size)
		_, err := rand.Read(data)
		require.NoError(t, err)

		local := filepath.Join(t.TempDir(), "large.csv")
		require.NoError(t, os.WriteFile(local, data, 0o600))

		cfg := TransferConfig{MultipartThreshold: MinPartSize, PartSize: MinPartSize, MaxConcurrency: 2}
		var reported atomic.Int64
		err = store.UploadFile(ctx, local, "bronze/large.csv", cfg, func(n int64) {
			reported.Add(n)
		})
		require.NoError(t, err)
		assertReported(t, store, int64(size), reported.Load())

		body, err := store.Open(ctx, "bronze/large.csv")
		require.NoError(t, err)
		defer body.Close()
		got, err := io.ReadAll(body)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got))
	})

	t.Run("UploadFile_RejectsSmallParts", func(t *testing.T) {
		cfg := TransferConfig{MultipartThreshold: 1, PartSize: 1024, MaxConcurrency: 1}
		err := store.UploadFile(ctx, "unused", "bronze/x.csv", cfg, nil)
		assert.ErrorIs(t, err, ErrPartSizeTooSmall)
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := store.Exists(ctx, "bronze/small.csv")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Exists(ctx, "bronze/missing.csv")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Get_Missing", func(t *testing.T) {
		_, err := store.Get(ctx, "bronze/missing.csv")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PutAndDeleteObjects", func(t *testing.T) {
		for _, key := range []string{"gold/report/a", "gold/report/b", "gold/other/c"} {
			require.NoError(t, store.Put(ctx, key, []byte("x"), "text/plain"))
		}

		n, err := store.DeleteObjects(ctx, "gold/report/")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		keys, err := store.ListKeys(ctx, "gold/")
		require.NoError(t, err)
		assert.Equal(t, []string{"gold/other/c"}, keys)
	})

	t.Run("ForBucket", func(t *testing.T) {
		router, ok := store.(BucketRouter)
		require.True(t, ok)
		assert.Equal(t, "elsewhere", router.ForBucket("elsewhere").Bucket())
	})
}
