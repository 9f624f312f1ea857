package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/content-pipeline/api/handlers"
	"github.com/feichai0017/content-pipeline/api/routes"
	"github.com/feichai0017/content-pipeline/config"
	"github.com/feichai0017/content-pipeline/internal/docstate"
	"github.com/feichai0017/content-pipeline/internal/ingest"
	"github.com/feichai0017/content-pipeline/internal/transform/extract"
	"github.com/feichai0017/content-pipeline/pkg/contentstore"
	"github.com/feichai0017/content-pipeline/pkg/logger"
	"github.com/feichai0017/content-pipeline/pkg/queue"
	"github.com/feichai0017/content-pipeline/pkg/queue/redisq"
)

func main() {
	log, err := logger.New(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithPaths([]string{"stdout", "logs/server.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	storageCfg := config.GetStorageConfig()
	redisCfg := config.GetRedisConfig()
	pipelineCfg := config.GetPipelineConfig()

	store, err := contentstore.New(contentstore.Backend(storageCfg.Backend), log)
	if err != nil {
		log.Fatal("Failed to initialize content store", logger.Error(err))
	}

	// The server only enqueues and queries; handlers run in the worker.
	q, err := redisq.New(&redisq.Config{
		RedisAddr:     redisCfg.Addr,
		RedisPassword: redisCfg.Password,
		RedisDB:       redisCfg.DB,
	}, queue.DefaultLanes(), log)
	if err != nil {
		log.Fatal("Failed to initialize queue", logger.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	documents := docstate.NewRedisStore(redisClient, log)

	ingestService := ingest.NewService(q, store, documents, extract.NewExtractor(store, log), ingest.Options{
		EnableOCR:   pipelineCfg.EnableOCR,
		OCRProvider: pipelineCfg.OCRProvider,
	}, log)

	h := handlers.NewHandlers(ingestService, q, documents, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		log.Info("Server starting on port 8080")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
