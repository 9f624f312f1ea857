package docstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/content-pipeline/pkg/logger"
)

// RedisStore persists document state as JSON values, the same way the
// queue persists terminal job status.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewRedisStore(client *redis.Client, log logger.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    30 * 24 * time.Hour,
		logger: log,
	}
}

func docKey(documentID string) string { return "pipeline:document:" + documentID }

func (s *RedisStore) set(ctx context.Context, doc *Document) error {
	doc.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document state: %w", err)
	}
	if err := s.client.Set(ctx, docKey(doc.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save document state: %w", err)
	}

	s.logger.Debug("Document state updated",
		logger.String("documentId", doc.ID),
		logger.String("status", string(doc.Status)),
	)
	return nil
}

func (s *RedisStore) SetProcessing(ctx context.Context, documentID string) error {
	return s.set(ctx, &Document{ID: documentID, Status: StatusProcessing})
}

func (s *RedisStore) SetCompleted(ctx context.Context, documentID, text string, metadata map[string]interface{}, method string) error {
	return s.set(ctx, &Document{
		ID:       documentID,
		Status:   StatusCompleted,
		Text:     text,
		Metadata: metadata,
		Method:   method,
	})
}

func (s *RedisStore) SetVisual(ctx context.Context, documentID string) error {
	return s.set(ctx, &Document{ID: documentID, Status: StatusVisual})
}

func (s *RedisStore) SetFailed(ctx context.Context, documentID, errorMessage string) error {
	return s.set(ctx, &Document{ID: documentID, Status: StatusFailed, Error: errorMessage})
}

func (s *RedisStore) Get(ctx context.Context, documentID string) (*Document, error) {
	data, err := s.client.Get(ctx, docKey(documentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("document %q: %w", documentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load document state: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document state: %w", err)
	}
	return &doc, nil
}
