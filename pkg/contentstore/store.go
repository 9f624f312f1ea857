package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/feichai0017/content-pipeline/config"
	"github.com/feichai0017/content-pipeline/pkg/logger"
)

// ErrNotFound is returned when a content hash or cache entry has no
// stored bytes.
var ErrNotFound = errors.New("content not found")

// Cache kinds for derived artifacts. Image presets use their preset
// name as the kind.
const (
	KindText = "text"
	KindOCR  = "ocr"
)

// Backend selects the content store implementation.
type Backend string

const (
	BackendFS    Backend = "fs"
	BackendMinio Backend = "minio"
	BackendS3    Backend = "s3"
)

// CacheInfo describes a stored derived artifact.
type CacheInfo struct {
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"createdAt"`
	LastAccess time.Time `json:"lastAccess"`
}

// Store is content-addressed storage for original files and derived
// cache artifacts. Originals are immutable once written; cache writes
// publish atomically so a concurrent reader never observes a partial
// artifact.
type Store interface {
	// StoreOriginal writes the bytes under their sha256 hash and
	// returns the hash. Storing identical bytes twice is a no-op
	// beyond recording the filename.
	StoreOriginal(ctx context.Context, data []byte, filename string) (string, error)
	OriginalExists(ctx context.Context, contentHash string) (bool, error)
	GetOriginal(ctx context.Context, contentHash string) ([]byte, error)

	CacheExists(ctx context.Context, contentHash, kind string) (bool, error)
	GetCache(ctx context.Context, contentHash, kind string) ([]byte, error)
	SaveCache(ctx context.Context, contentHash, kind string, data []byte, mimeType string) error
	// CacheURL derives a stable reference to the artifact. Authorization
	// is the caller's concern.
	CacheURL(ctx context.Context, contentHash, kind string) (string, error)

	// CleanupOldCache deletes cache entries idle longer than maxAge and
	// returns the number removed. Originals are never touched.
	CleanupOldCache(ctx context.Context, maxAge time.Duration) (int, error)
}

// HashBytes computes the hex-encoded sha256 content hash. Every caller
// must address storage through this function so that identical bytes
// always map to the same location.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// New creates a store for the configured backend.
func New(backend Backend, log logger.Logger) (Store, error) {
	switch backend {
	case BackendFS:
		cfg := config.GetStorageConfig()
		return NewFSStore(cfg.Root, cfg.BaseURL, log)
	case BackendMinio:
		return NewMinioStore(config.GetMinioConfig(), log)
	case BackendS3:
		return NewS3Store(config.GetS3Config(), log)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}
