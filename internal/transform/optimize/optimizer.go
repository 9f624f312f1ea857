// Package optimize derives resized, re-encoded image artifacts from
// stored originals. Each preset result is cached by content hash, so
// re-running the same job is a cache hit and does no transform work.
package optimize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register webp decoding for uploaded originals

	"github.com/feichai0017/content-pipeline/pkg/contentstore"
	"github.com/feichai0017/content-pipeline/pkg/logger"
	"github.com/feichai0017/content-pipeline/pkg/queue"
)

// Payload is the image-optimize job payload.
type Payload struct {
	ContentHash string `json:"contentHash"`
	Preset      string `json:"preset"`
	DocumentID  string `json:"documentId,omitempty"`
}

// Result reports one optimization outcome.
type Result struct {
	CacheHit         bool    `json:"cacheHit"`
	URL              string  `json:"url"`
	Size             int64   `json:"size"`
	OriginalSize     int64   `json:"originalSize,omitempty"`
	CompressionRatio float64 `json:"compressionRatio,omitempty"`
}

// Optimizer is the image-optimize lane worker.
type Optimizer struct {
	store  contentstore.Store
	logger logger.Logger
}

func NewOptimizer(store contentstore.Store, log logger.Logger) *Optimizer {
	return &Optimizer{
		store:  store,
		logger: log.Named("optimize"),
	}
}

// Handler adapts Optimize to the queue handler signature.
func (o *Optimizer) Handler(ctx context.Context, payload []byte) ([]byte, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("invalid optimize payload: %v: %w", err, queue.SkipRetry)
	}

	result, err := o.Optimize(ctx, &p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// Optimize derives the preset artifact for a content hash.
func (o *Optimizer) Optimize(ctx context.Context, p *Payload) (*Result, error) {
	if p.ContentHash == "" {
		return nil, fmt.Errorf("missing contentHash: %w", queue.SkipRetry)
	}
	preset, ok := LookupPreset(p.Preset)
	if !ok {
		return nil, fmt.Errorf("unknown preset %q: %w", p.Preset, queue.SkipRetry)
	}

	exists, err := o.store.CacheExists(ctx, p.ContentHash, preset.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		url, err := o.store.CacheURL(ctx, p.ContentHash, preset.Name)
		if err != nil {
			return nil, err
		}
		cached, err := o.store.GetCache(ctx, p.ContentHash, preset.Name)
		if err != nil {
			return nil, err
		}
		o.logger.Debug("Optimize cache hit",
			logger.String("contentHash", p.ContentHash),
			logger.String("preset", preset.Name),
		)
		return &Result{CacheHit: true, URL: url, Size: int64(len(cached))}, nil
	}

	original, err := o.store.GetOriginal(ctx, p.ContentHash)
	if err != nil {
		// A missing original cannot heal on retry.
		if isNotFound(err) {
			return nil, fmt.Errorf("original %s not found: %w", p.ContentHash, queue.SkipRetry)
		}
		return nil, err
	}

	// AutoOrientation applies the EXIF rotation before any resize.
	img, err := imaging.Decode(bytes.NewReader(original), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v: %w", err, queue.SkipRetry)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	// Downscale only; an image already within bounds keeps its size.
	switch {
	case preset.MaxHeight > 0 && (width > preset.MaxWidth || height > preset.MaxHeight):
		img = imaging.Fit(img, preset.MaxWidth, preset.MaxHeight, imaging.Lanczos)
	case preset.MaxHeight == 0 && width > preset.MaxWidth:
		img = imaging.Resize(img, preset.MaxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, preset.Format, imaging.JPEGQuality(preset.Quality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	if err := o.store.SaveCache(ctx, p.ContentHash, preset.Name, buf.Bytes(), preset.MimeType); err != nil {
		return nil, err
	}

	url, err := o.store.CacheURL(ctx, p.ContentHash, preset.Name)
	if err != nil {
		return nil, err
	}

	result := &Result{
		CacheHit:         false,
		URL:              url,
		Size:             int64(buf.Len()),
		OriginalSize:     int64(len(original)),
		CompressionRatio: float64(buf.Len()) / float64(len(original)),
	}

	o.logger.Info("Image optimized",
		logger.String("contentHash", p.ContentHash),
		logger.String("preset", preset.Name),
		logger.Int64("size", result.Size),
		logger.Int64("originalSize", result.OriginalSize),
	)
	return result, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, contentstore.ErrNotFound)
}
