package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	cfg "github.com/feichai0017/content-pipeline/config"
	"github.com/feichai0017/content-pipeline/pkg/logger"
)

// S3Store mirrors the MinIO layout on AWS S3.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	logger  logger.Logger
}

func NewS3Store(s3Config *cfg.S3Config, log logger.Logger) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(s3Config.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s3Config.AccessKey,
			s3Config.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	_, err = client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(s3Config.BucketName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify bucket existence: %w", err)
	}

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  s3Config.BucketName,
		logger:  log,
	}, nil
}

func isAWSNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

func (s *S3Store) StoreOriginal(ctx context.Context, data []byte, filename string) (string, error) {
	hash := HashBytes(data)
	key := originalKey(hash)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return hash, nil
	}
	if !isAWSNotFound(err) {
		return "", fmt.Errorf("failed to stat original: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: map[string]string{"original-name": filename},
	})
	if err != nil {
		s.logger.Error("Failed to store original to S3",
			logger.String("bucket", s.bucket),
			logger.String("contentHash", hash),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to store original: %w", err)
	}

	return hash, nil
}

func (s *S3Store) OriginalExists(ctx context.Context, contentHash string) (bool, error) {
	return s.exists(ctx, originalKey(contentHash))
}

func (s *S3Store) GetOriginal(ctx context.Context, contentHash string) ([]byte, error) {
	return s.getObject(ctx, originalKey(contentHash))
}

func (s *S3Store) CacheExists(ctx context.Context, contentHash, kind string) (bool, error) {
	return s.exists(ctx, cacheKey(contentHash, kind))
}

func (s *S3Store) GetCache(ctx context.Context, contentHash, kind string) ([]byte, error) {
	return s.getObject(ctx, cacheKey(contentHash, kind))
}

func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

func (s *S3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

func (s *S3Store) SaveCache(ctx context.Context, contentHash, kind string, data []byte, mimeType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(cacheKey(contentHash, kind)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		s.logger.Error("Failed to store cache entry to S3",
			logger.String("contentHash", contentHash),
			logger.String("kind", kind),
			logger.Error(err),
		)
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

func (s *S3Store) CacheURL(ctx context.Context, contentHash, kind string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cacheKey(contentHash, kind)),
	}, s3.WithPresignExpires(24*time.Hour))
	if err != nil {
		return "", fmt.Errorf("failed to presign cache URL: %w", err)
	}
	return req.URL, nil
}

func (s *S3Store) CleanupOldCache(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("cache/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("failed to list cache objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				s.logger.Error("Failed to delete expired cache object",
					logger.String("key", aws.ToString(obj.Key)),
					logger.Error(err),
				)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("Cache cleanup completed", logger.Int("removed", removed))
	}
	return removed, nil
}
