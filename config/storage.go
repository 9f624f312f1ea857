package config

import (
	"sync"
)

var (
	storageOnce   sync.Once
	storageConfig *StorageConfig

	minioOnce   sync.Once
	minioConfig *MinioConfig

	s3Once   sync.Once
	s3Config *S3Config
)

type StorageConfig struct {
	// Backend selects the content store implementation: "fs", "minio" or "s3".
	Backend string
	// Root is the base directory for the fs backend.
	Root string
	// BaseURL prefixes cache references returned by the fs backend.
	BaseURL string
	// CacheTTLHours is the idle age after which cache entries are swept.
	CacheTTLHours int
}

type MinioConfig struct {
	AccessKey  string
	SecretKey  string
	Endpoint   string
	UseSSL     bool
	Region     string
	BucketName string
}

type S3Config struct {
	BucketName string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
}

func GetStorageConfig() *StorageConfig {
	storageOnce.Do(func() {
		loadEnv()

		storageConfig = &StorageConfig{
			Backend:       getEnv("STORAGE_BACKEND", "fs"),
			Root:          getEnv("STORAGE_ROOT", "data"),
			BaseURL:       getEnv("STORAGE_BASE_URL", "/files"),
			CacheTTLHours: getEnvInt("CACHE_TTL_HOURS", 24*7),
		}
	})
	return storageConfig
}

func GetMinioConfig() *MinioConfig {
	minioOnce.Do(func() {
		loadEnv()

		minioConfig = &MinioConfig{
			AccessKey:  getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey:  getEnv("MINIO_SECRET_KEY", ""),
			Endpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
			UseSSL:     getEnvBool("MINIO_USE_SSL", false),
			Region:     getEnv("MINIO_REGION", ""),
			BucketName: getEnv("MINIO_BUCKET_NAME", "content-pipeline"),
		}
	})
	return minioConfig
}

func GetS3Config() *S3Config {
	s3Once.Do(func() {
		loadEnv()

		s3Config = &S3Config{
			BucketName: getEnv("AWS_S3_BUCKET_NAME", ""),
			Region:     getEnv("AWS_REGION", ""),
			Endpoint:   getEnv("AWS_ENDPOINT", ""),
			AccessKey:  getEnv("AWS_ACCESS_KEY", ""),
			SecretKey:  getEnv("AWS_SECRET_KEY", ""),
		}
	})
	return s3Config
}
