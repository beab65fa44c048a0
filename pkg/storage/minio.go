package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

// MinioStore uploads meeting artifacts to a single bucket. Upload failures are
// retried with exponential backoff before being reported.
type MinioStore struct {
	client      *minio.Client
	bucket      string
	maxTries    uint
	maxInterval time.Duration
}

func NewMinioStore(client *minio.Client, bucket string, maxTries uint) *MinioStore {
	if maxTries < 1 {
		maxTries = 1
	}
	return &MinioStore{
		client:      client,
		bucket:      bucket,
		maxTries:    maxTries,
		maxInterval: 10 * time.Second,
	}
}

func (s *MinioStore) Upload(ctx context.Context, data []byte, key, contentType string) (string, error) {
	key = objectKey(key)
	operation := func() (string, error) {
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("upload attempt failed")
			return "", err
		}
		return s.ref(key), nil
	}
	return s.retry(ctx, operation)
}

func (s *MinioStore) UploadFile(ctx context.Context, filePath, key, contentType string) (string, error) {
	key = objectKey(key)
	operation := func() (string, error) {
		_, err := s.client.FPutObject(ctx, s.bucket, key, filePath, minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Str("file", filePath).Msg("upload attempt failed")
			return "", err
		}
		return s.ref(key), nil
	}
	return s.retry(ctx, operation)
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

func (s *MinioStore) retry(ctx context.Context, operation func() (string, error)) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = s.maxInterval
	ref, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(s.maxTries))
	if err != nil {
		return "", fmt.Errorf("upload to bucket %s: %w", s.bucket, err)
	}
	return ref, nil
}

func (s *MinioStore) ref(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func objectKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	return strings.TrimPrefix(path.Clean("/"+key), "/")
}
