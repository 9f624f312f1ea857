// Package ocr recognizes text in stored images. The ocr-process lane
// runs with concurrency 1: both the local tesseract engine and the
// external provider are resource-constrained, and serializing the lane
// is how that constraint is enforced.
package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/feichai0017/content-pipeline/pkg/contentstore"
	"github.com/feichai0017/content-pipeline/pkg/logger"
	"github.com/feichai0017/content-pipeline/pkg/queue"
)

// Engine recognizes text in one image.
type Engine interface {
	Recognize(ctx context.Context, image []byte, language string) (string, error)
}

// Payload is the ocr-process job payload.
type Payload struct {
	ContentHash string `json:"contentHash"`
	Language    string `json:"language,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

// Result is the OCR outcome.
type Result struct {
	Text       string `json:"text"`
	TextLength int    `json:"textLength"`
	CacheHit   bool   `json:"cacheHit"`
	Provider   string `json:"provider"`
}

// Processor is the ocr-process lane worker.
type Processor struct {
	store           contentstore.Store
	engines         map[string]Engine
	defaultProvider string
	defaultLanguage string
	logger          logger.Logger
}

func NewProcessor(store contentstore.Store, defaultProvider, defaultLanguage string, log logger.Logger) *Processor {
	return &Processor{
		store:           store,
		engines:         make(map[string]Engine),
		defaultProvider: defaultProvider,
		defaultLanguage: defaultLanguage,
		logger:          log.Named("ocr"),
	}
}

// RegisterEngine binds a provider name to an engine.
func (p *Processor) RegisterEngine(provider string, engine Engine) {
	p.engines[provider] = engine
}

// Handler adapts Process to the queue handler signature.
func (p *Processor) Handler(ctx context.Context, payload []byte) ([]byte, error) {
	var pl Payload
	if err := json.Unmarshal(payload, &pl); err != nil {
		return nil, fmt.Errorf("invalid ocr payload: %v: %w", err, queue.SkipRetry)
	}

	result, err := p.Process(ctx, &pl)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// Process recognizes text for a content hash, consulting the OCR cache
// first. A provider that has no registered engine is a configuration
// error, not a cue to fall back silently.
func (p *Processor) Process(ctx context.Context, pl *Payload) (*Result, error) {
	if pl.ContentHash == "" {
		return nil, fmt.Errorf("missing contentHash: %w", queue.SkipRetry)
	}

	provider := pl.Provider
	if provider == "" {
		provider = p.defaultProvider
	}
	language := pl.Language
	if language == "" {
		language = p.defaultLanguage
	}

	if cached, err := p.store.GetCache(ctx, pl.ContentHash, contentstore.KindOCR); err == nil {
		return &Result{
			Text:       string(cached),
			TextLength: len(cached),
			CacheHit:   true,
			Provider:   provider,
		}, nil
	}

	engine, ok := p.engines[provider]
	if !ok {
		return nil, fmt.Errorf("ocr provider %q is not configured: %w", provider, queue.SkipRetry)
	}

	image, err := p.store.GetOriginal(ctx, pl.ContentHash)
	if err != nil {
		if errors.Is(err, contentstore.ErrNotFound) {
			return nil, fmt.Errorf("original %s not found: %w", pl.ContentHash, queue.SkipRetry)
		}
		return nil, err
	}

	text, err := engine.Recognize(ctx, image, language)
	if err != nil {
		return nil, fmt.Errorf("ocr recognition failed: %w", err)
	}

	if err := p.store.SaveCache(ctx, pl.ContentHash, contentstore.KindOCR, []byte(text), "text/plain"); err != nil {
		return nil, err
	}

	p.logger.Info("OCR completed",
		logger.String("contentHash", pl.ContentHash),
		logger.String("provider", provider),
		logger.Int("textLength", len(text)),
	)

	return &Result{
		Text:       text,
		TextLength: len(text),
		Provider:   provider,
	}, nil
}
