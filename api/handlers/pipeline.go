package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/content-pipeline/internal/docstate"
	"github.com/feichai0017/content-pipeline/internal/ingest"
	"github.com/feichai0017/content-pipeline/pkg/logger"
	"github.com/feichai0017/content-pipeline/pkg/queue"
)

// PipelineHandler exposes the pipeline's boundary operations. Upload,
// authentication and authorization live in front of this service.
type PipelineHandler struct {
	ingest    *ingest.Service
	queue     queue.Queue
	documents docstate.Store
	logger    logger.Logger
}

// ErrorResponse is the common error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// IngestRequest mirrors the ingest-file payload. The caller has already
// stored the original bytes and validated access.
type IngestRequest struct {
	ContentHash  string `json:"contentHash" binding:"required"`
	DocumentID   string `json:"documentId" binding:"required"`
	MimeType     string `json:"mimeType"`
	OriginalName string `json:"originalName"`
}

func NewPipelineHandler(ingestService *ingest.Service, q queue.Queue, documents docstate.Store, log logger.Logger) *PipelineHandler {
	return &PipelineHandler{
		ingest:    ingestService,
		queue:     q,
		documents: documents,
		logger:    log,
	}
}

// EnqueueIngest accepts an ingestion request and returns the job id.
func (h *PipelineHandler) EnqueueIngest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid ingest request", err)
		return
	}

	jobID, err := h.ingest.EnqueueIngest(c.Request.Context(), req.ContentHash, req.DocumentID, req.MimeType, req.OriginalName)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to enqueue ingestion", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":      jobID,
		"documentId": req.DocumentID,
	})
}

// GetJob reports a job's state, result or error.
func (h *PipelineHandler) GetJob(c *gin.Context) {
	info, err := h.queue.GetJob(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			h.handleError(c, http.StatusNotFound, "Job not found", err)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to query job", err)
		return
	}

	c.JSON(http.StatusOK, info)
}

// GetQueueStatus reports per-lane counts.
func (h *PipelineHandler) GetQueueStatus(c *gin.Context) {
	status, err := h.queue.Status(c.Request.Context())
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to query queue status", err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// GetDocument reports a document's processing state.
func (h *PipelineHandler) GetDocument(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("documentId"))
	if err != nil {
		if errors.Is(err, docstate.ErrNotFound) {
			h.handleError(c, http.StatusNotFound, "Document not found", err)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to query document", err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *PipelineHandler) handleError(c *gin.Context, status int, message string, err error) {
	h.logger.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)
	c.JSON(status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
