// Package gcs archives raw platform responses to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Store implements creator.BlobStore on top of a GCS bucket. Authentication
// uses Application Default Credentials.
type Store struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// New creates a Store and verifies the bucket is reachable, failing fast on
// startup when the configuration is wrong.
func New(ctx context.Context, bucket string, logger *zap.Logger) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close gcs client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", bucket, err)
	}

	return &Store{client: client, bucket: bucket, logger: logger}, nil
}

// PutObject uploads data and returns the gs:// URI of the object.
func (s *Store) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	wc := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			s.logger.Warn("failed to close gcs writer after write failure", zap.Error(closeErr))
		}
		return "", fmt.Errorf("write gcs object %s: %w", path, err)
	}
	// Close finalizes the upload and flushes buffered data.
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer for object %s: %w", path, err)
	}

	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
