package contentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/content-pipeline/pkg/logger"
)

// FSStore is a local-filesystem content store. Originals live under
// originals/ab/cd/<hash>, cache artifacts under cache/ab/cd/<hash>.<kind>
// with a JSON metadata sidecar. All writes go to a temp file first and
// are published with an atomic rename, so a partially written artifact
// is never visible under its final path.
type FSStore struct {
	root    string
	baseURL string
	logger  logger.Logger
}

func NewFSStore(root, baseURL string, log logger.Logger) (*FSStore, error) {
	for _, dir := range []string{
		filepath.Join(root, "originals"),
		filepath.Join(root, "cache"),
		filepath.Join(root, "tmp"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	return &FSStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  log,
	}, nil
}

// shard spreads hashes over two directory levels to keep listings small.
func shard(hash string) string {
	if len(hash) < 4 {
		return hash
	}
	return filepath.Join(hash[0:2], hash[2:4], hash)
}

func (s *FSStore) originalPath(hash string) string {
	return filepath.Join(s.root, "originals", shard(hash))
}

func (s *FSStore) cachePath(hash, kind string) string {
	return filepath.Join(s.root, "cache", shard(hash)+"."+kind)
}

// publish writes data to a temp file and renames it into place.
func (s *FSStore) publish(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := filepath.Join(s.root, "tmp", uuid.New().String())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish file: %w", err)
	}
	return nil
}

// StoreOriginal implements Store.StoreOriginal. Concurrent callers with
// identical bytes are safe: both compute the same path, and the rename
// publish makes the second write a harmless overwrite of equal content.
func (s *FSStore) StoreOriginal(ctx context.Context, data []byte, filename string) (string, error) {
	hash := HashBytes(data)
	path := s.originalPath(hash)

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to stat original: %w", err)
		}
		if err := s.publish(path, data); err != nil {
			return "", err
		}
		s.logger.Info("Stored original",
			logger.String("contentHash", hash),
			logger.Int("size", len(data)),
		)
	}

	s.appendName(path, filename)
	return hash, nil
}

// appendName records a filename the content arrived under. Best effort;
// the names log is informational.
func (s *FSStore) appendName(path, filename string) {
	if filename == "" {
		return
	}
	f, err := os.OpenFile(path+".names", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Warn("Failed to open names log", logger.Error(err))
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s\t%s\n", time.Now().UTC().Format(time.RFC3339), filename)
}

func (s *FSStore) OriginalExists(ctx context.Context, contentHash string) (bool, error) {
	_, err := os.Stat(s.originalPath(contentHash))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat original: %w", err)
	}
	return true, nil
}

func (s *FSStore) GetOriginal(ctx context.Context, contentHash string) ([]byte, error) {
	data, err := os.ReadFile(s.originalPath(contentHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("original %s: %w", contentHash, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read original: %w", err)
	}
	return data, nil
}

func (s *FSStore) CacheExists(ctx context.Context, contentHash, kind string) (bool, error) {
	_, err := os.Stat(s.cachePath(contentHash, kind))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat cache entry: %w", err)
	}
	return true, nil
}

func (s *FSStore) GetCache(ctx context.Context, contentHash, kind string) ([]byte, error) {
	path := s.cachePath(contentHash, kind)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("cache %s/%s: %w", contentHash, kind, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	s.touchMeta(path)
	return data, nil
}

func (s *FSStore) SaveCache(ctx context.Context, contentHash, kind string, data []byte, mimeType string) error {
	path := s.cachePath(contentHash, kind)
	if err := s.publish(path, data); err != nil {
		return err
	}

	now := time.Now().UTC()
	meta := CacheInfo{
		MimeType:   mimeType,
		Size:       int64(len(data)),
		CreatedAt:  now,
		LastAccess: now,
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal cache metadata: %w", err)
	}
	if err := s.publish(path+".meta.json", metaData); err != nil {
		return err
	}

	s.logger.Debug("Saved cache entry",
		logger.String("contentHash", contentHash),
		logger.String("kind", kind),
		logger.Int("size", len(data)),
	)
	return nil
}

func (s *FSStore) CacheURL(ctx context.Context, contentHash, kind string) (string, error) {
	return fmt.Sprintf("%s/cache/%s/%s", s.baseURL, contentHash, kind), nil
}

// touchMeta bumps the lastAccess timestamp. Best effort; a failed bump
// only makes the entry age faster.
func (s *FSStore) touchMeta(path string) {
	metaPath := path + ".meta.json"
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return
	}
	var meta CacheInfo
	if err := json.Unmarshal(data, &meta); err != nil {
		return
	}
	meta.LastAccess = time.Now().UTC()
	updated, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := s.publish(metaPath, updated); err != nil {
		s.logger.Warn("Failed to update cache metadata", logger.Error(err))
	}
}

// CleanupOldCache sweeps cache entries whose last access is older than
// maxAge. Metadata sidecars fall back to file mtime when unreadable.
func (s *FSStore) CleanupOldCache(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	cacheRoot := filepath.Join(s.root, "cache")
	err := filepath.Walk(cacheRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Sidecars are removed together with their artifact, so the
			// walk may visit a path that is already gone.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, ".meta.json") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastAccess := info.ModTime()
		if data, err := os.ReadFile(path + ".meta.json"); err == nil {
			var meta CacheInfo
			if err := json.Unmarshal(data, &meta); err == nil && !meta.LastAccess.IsZero() {
				lastAccess = meta.LastAccess
			}
		}

		if lastAccess.Before(cutoff) {
			if err := os.Remove(path); err != nil {
				s.logger.Warn("Failed to remove expired cache entry",
					logger.String("path", path),
					logger.Error(err),
				)
				return nil
			}
			os.Remove(path + ".meta.json")
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("cache cleanup failed: %w", err)
	}

	if removed > 0 {
		s.logger.Info("Cache cleanup completed", logger.Int("removed", removed))
	}
	return removed, nil
}
