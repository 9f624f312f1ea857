package contentstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/feichai0017/content-pipeline/config"
	"github.com/feichai0017/content-pipeline/pkg/logger"
)

// MinioStore keeps originals under originals/<hash> and cache artifacts
// under cache/<hash>/<kind>. Object puts are atomic on the server side,
// which gives the write-then-publish property for free.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger logger.Logger
}

func NewMinioStore(cfg *config.MinioConfig, log logger.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(context.Background(), cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		err = client.MakeBucket(context.Background(), cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioStore{
		client: client,
		bucket: cfg.BucketName,
		logger: log,
	}, nil
}

func originalKey(hash string) string    { return "originals/" + hash }
func cacheKey(hash, kind string) string { return "cache/" + hash + "/" + kind }

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}

func (s *MinioStore) StoreOriginal(ctx context.Context, data []byte, filename string) (string, error) {
	hash := HashBytes(data)
	key := originalKey(hash)

	// Re-storing identical bytes is a no-op.
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err == nil {
		return hash, nil
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			UserMetadata: map[string]string{"original-name": filename},
		})
	if err != nil {
		s.logger.Error("Failed to store original to MinIO",
			logger.String("bucket", s.bucket),
			logger.String("contentHash", hash),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to store original: %w", err)
	}

	return hash, nil
}

func (s *MinioStore) OriginalExists(ctx context.Context, contentHash string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, originalKey(contentHash), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat original: %w", err)
	}
	return true, nil
}

func (s *MinioStore) GetOriginal(ctx context.Context, contentHash string) ([]byte, error) {
	return s.getObject(ctx, originalKey(contentHash))
}

func (s *MinioStore) CacheExists(ctx context.Context, contentHash, kind string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, cacheKey(contentHash, kind), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat cache entry: %w", err)
	}
	return true, nil
}

func (s *MinioStore) GetCache(ctx context.Context, contentHash, kind string) ([]byte, error) {
	return s.getObject(ctx, cacheKey(contentHash, kind))
}

func (s *MinioStore) getObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

func (s *MinioStore) SaveCache(ctx context.Context, contentHash, kind string, data []byte, mimeType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, cacheKey(contentHash, kind),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		s.logger.Error("Failed to store cache entry to MinIO",
			logger.String("contentHash", contentHash),
			logger.String("kind", kind),
			logger.Error(err),
		)
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

func (s *MinioStore) CacheURL(ctx context.Context, contentHash, kind string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, cacheKey(contentHash, kind), 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign cache URL: %w", err)
	}
	return u.String(), nil
}

// CleanupOldCache sweeps cache objects by age. MinIO does not track
// last access, so LastModified stands in.
func (s *MinioStore) CleanupOldCache(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    "cache/",
		Recursive: true,
	})
	for obj := range objectCh {
		if obj.Err != nil {
			s.logger.Error("Error listing cache objects",
				logger.String("bucket", s.bucket),
				logger.Error(obj.Err),
			)
			continue
		}
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			s.logger.Error("Failed to delete expired cache object",
				logger.String("key", obj.Key),
				logger.Error(err),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Cache cleanup completed", logger.Int("removed", removed))
	}
	return removed, nil
}
