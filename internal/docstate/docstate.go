// Package docstate is the boundary to the external document store. The
// pipeline only writes processing-state transitions; it never reads a
// document back within the same job.
package docstate

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a document id has no record.
var ErrNotFound = errors.New("document not found")

// Status is the external document processing state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	// StatusVisual marks a document that is viewable but has no
	// machine-readable text (images, scanned PDFs, unsupported types).
	StatusVisual Status = "visual"
	StatusFailed Status = "failed"
)

// Document is the queryable state record.
type Document struct {
	ID        string                 `json:"id"`
	Status    Status                 `json:"status"`
	Text      string                 `json:"text,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Method    string                 `json:"method,omitempty"`
	Error     string                 `json:"error,omitempty"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// Store drives a document's processing state. Every setter is
// idempotent: re-applying the same transition is a no-op write.
type Store interface {
	SetProcessing(ctx context.Context, documentID string) error
	SetCompleted(ctx context.Context, documentID, text string, metadata map[string]interface{}, method string) error
	SetVisual(ctx context.Context, documentID string) error
	SetFailed(ctx context.Context, documentID, errorMessage string) error
	Get(ctx context.Context, documentID string) (*Document, error)
}
