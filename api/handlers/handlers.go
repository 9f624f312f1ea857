package handlers

import (
	"github.com/feichai0017/content-pipeline/internal/docstate"
	"github.com/feichai0017/content-pipeline/internal/ingest"
	"github.com/feichai0017/content-pipeline/pkg/logger"
	"github.com/feichai0017/content-pipeline/pkg/queue"
)

type Handlers struct {
	Pipeline *PipelineHandler
}

func NewHandlers(
	ingestService *ingest.Service,
	q queue.Queue,
	documents docstate.Store,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Pipeline: NewPipelineHandler(ingestService, q, documents, log),
	}
}
