package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/atbmarket/account-service/internal/core/port"
	"github.com/atbmarket/account-service/internal/infra/config"
)

// minioAPI is the subset of the MinIO client the avatar store relies on.
type minioAPI interface {
	PutObject(ctx context.Context, bucket, name string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, name string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucket, name string, opts minio.RemoveObjectOptions) error
}

// MinioStorage stores avatar variants in an S3-compatible bucket.
type MinioStorage struct {
	client minioAPI
	bucket string
	logger *zap.Logger
}

// NewMinioStorage connects to the configured object store.
func NewMinioStorage(cfg config.StorageSettings, logger *zap.Logger) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	logger.Info("object storage client initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.Bucket),
		zap.Bool("ssl", cfg.UseSSL),
	)

	return &MinioStorage{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Put uploads an object under the given key.
func (s *MinioStorage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// PresignedURL resolves a stored key to a time-limited download URL.
func (s *MinioStorage) PresignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expires, nil)
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return u.String(), nil
}

// Remove deletes an object. Missing objects are not an error.
func (s *MinioStorage) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

var _ port.ObjectStorage = (*MinioStorage)(nil)
