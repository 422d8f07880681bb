package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// GCSBlobStore implements pipeline.BlobStore on Google Cloud Storage.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// NewGCSBlobStore initializes a GCS client and verifies the bucket is
// reachable, failing fast on startup if configuration is wrong.
// Authentication is handled via Application Default Credentials.
func NewGCSBlobStore(ctx context.Context, bucket string, logger *zap.Logger) (*GCSBlobStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close gcs client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", bucket, err)
	}

	return &GCSBlobStore{client: client, bucket: bucket, logger: logger}, nil
}

// Put uploads data to the object key.
func (g *GCSBlobStore) Put(ctx context.Context, objectKey string, data []byte) error {
	wc := g.client.Bucket(g.bucket).Object(objectKey).NewWriter(ctx)
	wc.ContentType = "application/json"

	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			g.logger.Warn("close gcs writer after write failure", zap.Error(closeErr))
		}
		return fmt.Errorf("write gcs object %s: %w", objectKey, err)
	}

	// Close finalizes the upload and flushes buffered data.
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close gcs writer for %s: %w", objectKey, err)
	}
	return nil
}

// Fetch reads the full object back.
func (g *GCSBlobStore) Fetch(ctx context.Context, objectKey string) ([]byte, error) {
	rc, err := g.client.Bucket(g.bucket).Object(objectKey).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gcs object %s: %w", objectKey, pipeline.ErrNotFound)
		}
		return nil, fmt.Errorf("open gcs object %s: %w", objectKey, err)
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil {
			g.logger.Warn("close gcs reader", zap.Error(closeErr))
		}
	}()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read gcs object %s: %w", objectKey, err)
	}
	return data, nil
}

// Close releases the underlying client.
func (g *GCSBlobStore) Close() error {
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
