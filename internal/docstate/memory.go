package docstate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*Document
	// Transitions records every state change in order, which lets tests
	// assert on the path a document took, not just where it ended up.
	transitions map[string][]Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:        make(map[string]*Document),
		transitions: make(map[string][]Status),
	}
}

func (s *MemoryStore) set(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc.UpdatedAt = time.Now().UTC()
	s.docs[doc.ID] = doc
	s.transitions[doc.ID] = append(s.transitions[doc.ID], doc.Status)
	return nil
}

func (s *MemoryStore) SetProcessing(ctx context.Context, documentID string) error {
	return s.set(&Document{ID: documentID, Status: StatusProcessing})
}

func (s *MemoryStore) SetCompleted(ctx context.Context, documentID, text string, metadata map[string]interface{}, method string) error {
	return s.set(&Document{
		ID:       documentID,
		Status:   StatusCompleted,
		Text:     text,
		Metadata: metadata,
		Method:   method,
	})
}

func (s *MemoryStore) SetVisual(ctx context.Context, documentID string) error {
	return s.set(&Document{ID: documentID, Status: StatusVisual})
}

func (s *MemoryStore) SetFailed(ctx context.Context, documentID, errorMessage string) error {
	return s.set(&Document{ID: documentID, Status: StatusFailed, Error: errorMessage})
}

func (s *MemoryStore) Get(ctx context.Context, documentID string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", documentID, ErrNotFound)
	}
	copied := *doc
	return &copied, nil
}

// Transitions returns the ordered state changes applied to a document.
func (s *MemoryStore) Transitions(documentID string) []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, len(s.transitions[documentID]))
	copy(out, s.transitions[documentID])
	return out
}
