// Package ingest holds the dispatcher bound to the ingest-file lane.
// It classifies a newly stored file, drives the external document's
// processing state and fans out transform jobs.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	"github.com/feichai0017/content-pipeline/internal/docstate"
	"github.com/feichai0017/content-pipeline/internal/transform/extract"
	"github.com/feichai0017/content-pipeline/internal/transform/ocr"
	"github.com/feichai0017/content-pipeline/internal/transform/optimize"
	"github.com/feichai0017/content-pipeline/pkg/contentstore"
	"github.com/feichai0017/content-pipeline/pkg/logger"
	"github.com/feichai0017/content-pipeline/pkg/queue"
)

// Payload is the ingest-file job payload.
type Payload struct {
	ContentHash  string `json:"contentHash"`
	DocumentID   string `json:"documentId"`
	MimeType     string `json:"mimeType"`
	OriginalName string `json:"originalName,omitempty"`
}

// Outcome summarizes one dispatch for the job result.
type Outcome struct {
	DocumentID string          `json:"documentId"`
	Category   string          `json:"category"`
	Status     docstate.Status `json:"status"`
	TextLength int             `json:"textLength,omitempty"`
}

// Options configures the dispatcher.
type Options struct {
	// EnableOCR gates the OCR fallback enqueue for images and
	// text-less documents.
	EnableOCR bool
	// OCRProvider is passed through to enqueued OCR jobs.
	OCRProvider string
}

// Service is the ingest-file dispatcher.
type Service struct {
	queue     queue.Queue
	store     contentstore.Store
	documents docstate.Store
	extractor *extract.Extractor
	opts      Options
	logger    logger.Logger
}

func NewService(
	q queue.Queue,
	store contentstore.Store,
	documents docstate.Store,
	extractor *extract.Extractor,
	opts Options,
	log logger.Logger,
) *Service {
	return &Service{
		queue:     q,
		store:     store,
		documents: documents,
		extractor: extractor,
		opts:      opts,
		logger:    log.Named("ingest"),
	}
}

// EnqueueIngest is the boundary call for upload handlers: the original
// bytes are already stored and authorized when this runs.
func (s *Service) EnqueueIngest(ctx context.Context, contentHash, documentID, mimeType, originalName string) (string, error) {
	payload, err := json.Marshal(Payload{
		ContentHash:  contentHash,
		DocumentID:   documentID,
		MimeType:     mimeType,
		OriginalName: originalName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal ingest payload: %w", err)
	}
	return s.queue.AddJob(ctx, queue.LaneIngestFile, payload)
}

// Handler is the ingest-file lane handler. Re-running it for the same
// (contentHash, documentID) is safe: state writes are idempotent and
// the transforms it enqueues are cache-guarded no-ops the second time.
func (s *Service) Handler(ctx context.Context, payload []byte) ([]byte, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("invalid ingest payload: %v: %w", err, queue.SkipRetry)
	}
	if p.ContentHash == "" || p.DocumentID == "" {
		return nil, fmt.Errorf("ingest payload missing contentHash or documentId: %w", queue.SkipRetry)
	}

	if err := s.documents.SetProcessing(ctx, p.DocumentID); err != nil {
		return nil, fmt.Errorf("failed to mark document processing: %w", err)
	}

	outcome, err := s.dispatch(ctx, &p)
	if err != nil {
		// The failure must be visible outside the pipeline before the
		// queue's retry machinery takes over.
		if stateErr := s.documents.SetFailed(ctx, p.DocumentID, err.Error()); stateErr != nil {
			s.logger.Error("Failed to mark document failed",
				logger.String("documentId", p.DocumentID),
				logger.Error(stateErr),
			)
		}
		return nil, err
	}

	return json.Marshal(outcome)
}

func (s *Service) dispatch(ctx context.Context, p *Payload) (*Outcome, error) {
	mimeType := s.effectiveMimeType(ctx, p)
	category := Classify(mimeType)

	s.logger.Info("Dispatching ingestion",
		logger.String("documentId", p.DocumentID),
		logger.String("contentHash", p.ContentHash),
		logger.String("mimeType", mimeType),
		logger.String("category", category.String()),
	)

	switch category {
	case CategoryImage:
		return s.dispatchImage(ctx, p)
	case CategoryTextExtractable:
		return s.dispatchText(ctx, p, mimeType)
	case CategoryUnsupported:
		// Still viewable and downloadable, just not machine-readable.
		if err := s.documents.SetVisual(ctx, p.DocumentID); err != nil {
			return nil, err
		}
		return &Outcome{
			DocumentID: p.DocumentID,
			Category:   category.String(),
			Status:     docstate.StatusVisual,
		}, nil
	default:
		return nil, fmt.Errorf("unhandled file category %d: %w", category, queue.SkipRetry)
	}
}

// dispatchImage marks the document visual right away and fans out the
// optimization work. Optimized artifacts are not required for the
// document to be usable, so nothing here is awaited.
func (s *Service) dispatchImage(ctx context.Context, p *Payload) (*Outcome, error) {
	if err := s.documents.SetVisual(ctx, p.DocumentID); err != nil {
		return nil, err
	}

	for _, preset := range optimize.StandardPresets() {
		s.enqueueAndForget(ctx, queue.LaneImageOptimize, optimize.Payload{
			ContentHash: p.ContentHash,
			Preset:      preset,
			DocumentID:  p.DocumentID,
		})
	}

	if s.opts.EnableOCR {
		s.enqueueAndForget(ctx, queue.LaneOCRProcess, ocr.Payload{
			ContentHash: p.ContentHash,
			Provider:    s.opts.OCRProvider,
		})
	}

	return &Outcome{
		DocumentID: p.DocumentID,
		Category:   CategoryImage.String(),
		Status:     docstate.StatusVisual,
	}, nil
}

// dispatchText awaits extraction inline because its result decides the
// document's terminal state.
func (s *Service) dispatchText(ctx context.Context, p *Payload, mimeType string) (*Outcome, error) {
	result, err := s.extractor.Extract(ctx, &extract.Payload{
		ContentHash:  p.ContentHash,
		MimeType:     mimeType,
		OriginalName: p.OriginalName,
	})
	if err != nil {
		return nil, err
	}

	if result.Unsupported || result.TextLength == 0 {
		// No embedded text is not a failure: a scanned PDF lands here
		// and falls back to the visual/OCR path.
		if err := s.documents.SetVisual(ctx, p.DocumentID); err != nil {
			return nil, err
		}
		if s.opts.EnableOCR {
			s.enqueueAndForget(ctx, queue.LaneOCRProcess, ocr.Payload{
				ContentHash: p.ContentHash,
				Provider:    s.opts.OCRProvider,
			})
		}
		return &Outcome{
			DocumentID: p.DocumentID,
			Category:   CategoryTextExtractable.String(),
			Status:     docstate.StatusVisual,
		}, nil
	}

	if err := s.documents.SetCompleted(ctx, p.DocumentID, result.Text, result.Metadata, "text"); err != nil {
		return nil, err
	}
	return &Outcome{
		DocumentID: p.DocumentID,
		Category:   CategoryTextExtractable.String(),
		Status:     docstate.StatusCompleted,
		TextLength: result.TextLength,
	}, nil
}

// enqueueAndForget fans out a sub-job without awaiting it. This is the
// deliberate counterpart to the inline extraction call: an enqueue
// failure is logged but never fails the ingestion, and the dispatcher
// never waits for the sub-job to run.
func (s *Service) enqueueAndForget(ctx context.Context, lane queue.Lane, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal sub-job payload",
			logger.String("lane", string(lane)),
			logger.Error(err),
		)
		return
	}

	jobID, err := s.queue.AddJob(ctx, lane, data)
	if err != nil {
		s.logger.Error("Failed to enqueue sub-job",
			logger.String("lane", string(lane)),
			logger.Error(err),
		)
		return
	}

	s.logger.Debug("Sub-job enqueued",
		logger.String("lane", string(lane)),
		logger.String("jobId", jobID),
	)
}

// effectiveMimeType sniffs the stored bytes when the caller supplied no
// usable type. Sniffing failures fall back to the declared type; the
// classifier treats anything unknown as unsupported anyway.
func (s *Service) effectiveMimeType(ctx context.Context, p *Payload) string {
	mt := normalizeMime(p.MimeType)
	if mt != "" && mt != "application/octet-stream" {
		return mt
	}

	data, err := s.store.GetOriginal(ctx, p.ContentHash)
	if err != nil {
		return mt
	}
	detected := mimetype.Detect(data)
	s.logger.Debug("Sniffed MIME type",
		logger.String("contentHash", p.ContentHash),
		logger.String("detected", detected.String()),
	)
	return normalizeMime(detected.String())
}
