package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/content-pipeline/api/handlers"
	"github.com/feichai0017/content-pipeline/api/middleware"
)

// SetupRoutes wires the boundary API.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	v1 := r.Group("/api/v1")

	v1.POST("/ingest", h.Pipeline.EnqueueIngest)
	v1.GET("/jobs/:jobId", h.Pipeline.GetJob)
	v1.GET("/queues", h.Pipeline.GetQueueStatus)
	v1.GET("/documents/:documentId", h.Pipeline.GetDocument)
}
