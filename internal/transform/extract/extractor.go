// Package extract turns stored originals into plain text. Extraction
// dispatches on MIME type; formats nobody can read produce a structured
// unsupported result rather than an error, because "no text" is a
// normal outcome the dispatcher maps to the visual path.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/feichai0017/content-pipeline/pkg/contentstore"
	"github.com/feichai0017/content-pipeline/pkg/logger"
	"github.com/feichai0017/content-pipeline/pkg/queue"
)

// Payload is the text-extract job payload.
type Payload struct {
	ContentHash  string `json:"contentHash"`
	MimeType     string `json:"mimeType"`
	OriginalName string `json:"originalName,omitempty"`
}

// Result is the extraction outcome. Unsupported formats set Unsupported
// instead of failing.
type Result struct {
	Text        string                 `json:"text"`
	TextLength  int                    `json:"textLength"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Unsupported bool                   `json:"unsupported,omitempty"`
}

const (
	mimePDF  = "application/pdf"
	mimeDoc  = "application/msword"
	mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeJSON = "application/json"
)

// Extractor is the text-extract lane worker, also invoked inline by the
// ingestion dispatcher.
type Extractor struct {
	store  contentstore.Store
	logger logger.Logger
}

func NewExtractor(store contentstore.Store, log logger.Logger) *Extractor {
	return &Extractor{
		store:  store,
		logger: log.Named("extract"),
	}
}

// Handler adapts Extract to the queue handler signature.
func (e *Extractor) Handler(ctx context.Context, payload []byte) ([]byte, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("invalid extract payload: %v: %w", err, queue.SkipRetry)
	}

	result, err := e.Extract(ctx, &p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// Extract produces the text for a content hash, consulting the cache
// first. The full result (text plus metadata) is cached as JSON under
// the text kind, so a retry or a second extraction job is a no-op.
func (e *Extractor) Extract(ctx context.Context, p *Payload) (*Result, error) {
	if p.ContentHash == "" {
		return nil, fmt.Errorf("missing contentHash: %w", queue.SkipRetry)
	}

	if cached, err := e.store.GetCache(ctx, p.ContentHash, contentstore.KindText); err == nil {
		var result Result
		if err := json.Unmarshal(cached, &result); err == nil {
			e.logger.Debug("Extraction cache hit",
				logger.String("contentHash", p.ContentHash),
			)
			return &result, nil
		}
	}

	data, err := e.store.GetOriginal(ctx, p.ContentHash)
	if err != nil {
		if errors.Is(err, contentstore.ErrNotFound) {
			return nil, fmt.Errorf("original %s not found: %w", p.ContentHash, queue.SkipRetry)
		}
		return nil, err
	}

	result, err := e.extractByType(ctx, data, normalizeMime(p.MimeType))
	if err != nil {
		return nil, err
	}

	if !result.Unsupported {
		if encoded, err := json.Marshal(result); err == nil {
			if err := e.store.SaveCache(ctx, p.ContentHash, contentstore.KindText, encoded, mimeJSON); err != nil {
				e.logger.Warn("Failed to cache extraction result",
					logger.String("contentHash", p.ContentHash),
					logger.Error(err),
				)
			}
		}
	}

	e.logger.Info("Text extracted",
		logger.String("contentHash", p.ContentHash),
		logger.String("mimeType", p.MimeType),
		logger.Int("textLength", result.TextLength),
		logger.Bool("unsupported", result.Unsupported),
	)
	return result, nil
}

func (e *Extractor) extractByType(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	switch {
	case mimeType == mimePDF:
		return extractPDF(ctx, data)
	case mimeType == mimeDocx:
		return extractDocx(data)
	case mimeType == mimeDoc:
		// Legacy binary Word has no reader here; treat as unsupported so
		// the document falls back to the visual path.
		return &Result{Unsupported: true}, nil
	case mimeType == mimeJSON:
		return extractJSON(data)
	case strings.HasPrefix(mimeType, "text/"):
		return extractPlain(data, mimeType)
	default:
		return &Result{Unsupported: true}, nil
	}
}

// normalizeMime strips parameters and lowercases the media type.
func normalizeMime(mimeType string) string {
	parsed, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return parsed
}

func newResult(text string, metadata map[string]interface{}) *Result {
	return &Result{
		Text:       text,
		TextLength: len(text),
		Metadata:   metadata,
	}
}
