package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/content-pipeline/config"
	"github.com/feichai0017/content-pipeline/internal/docstate"
	"github.com/feichai0017/content-pipeline/internal/ingest"
	"github.com/feichai0017/content-pipeline/internal/transform/extract"
	"github.com/feichai0017/content-pipeline/internal/transform/ocr"
	"github.com/feichai0017/content-pipeline/internal/transform/optimize"
	"github.com/feichai0017/content-pipeline/pkg/contentstore"
	"github.com/feichai0017/content-pipeline/pkg/logger"
	"github.com/feichai0017/content-pipeline/pkg/queue"
	"github.com/feichai0017/content-pipeline/pkg/queue/redisq"
)

const cacheCleanupInterval = 6 * time.Hour

func main() {
	log, err := logger.New(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithPaths([]string{"stdout", "logs/worker.log"}),
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

	lanes := queue.DefaultLanes()
	applyLaneOverrides(lanes, pipelineCfg.Lanes)

	q, err := redisq.New(&redisq.Config{
		RedisAddr:     redisCfg.Addr,
		RedisPassword: redisCfg.Password,
		RedisDB:       redisCfg.DB,
	}, lanes, log)
	if err != nil {
		log.Fatal("Failed to initialize queue", logger.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	documents := docstate.NewRedisStore(redisClient, log)

	extractor := extract.NewExtractor(store, log)
	optimizer := optimize.NewOptimizer(store, log)

	ocrProcessor := ocr.NewProcessor(store, pipelineCfg.OCRProvider, pipelineCfg.OCRLanguage, log)
	ocrProcessor.RegisterEngine(ocr.ProviderLocal, ocr.NewLocalEngine())
	if textractCfg := config.GetTextractConfig(); textractCfg.AccessKey != "" {
		engine, err := ocr.NewTextractEngine(context.Background(), textractCfg, log)
		if err != nil {
			log.Fatal("Failed to initialize textract engine", logger.Error(err))
		}
		ocrProcessor.RegisterEngine(ocr.ProviderTextract, engine)
	}

	ingestService := ingest.NewService(q, store, documents, extractor, ingest.Options{
		EnableOCR:   pipelineCfg.EnableOCR,
		OCRProvider: pipelineCfg.OCRProvider,
	}, log)

	q.Register(queue.LaneIngestFile, ingestService.Handler)
	q.Register(queue.LaneImageOptimize, optimizer.Handler)
	q.Register(queue.LaneTextExtract, extractor.Handler)
	q.Register(queue.LaneOCRProcess, ocrProcessor.Handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Start(ctx); err != nil {
		log.Fatal("Failed to start queue", logger.Error(err))
	}
	log.Info("Worker started")

	// Periodic cache sweep; originals are never touched.
	go func() {
		ticker := time.NewTicker(cacheCleanupInterval)
		defer ticker.Stop()
		maxAge := time.Duration(storageCfg.CacheTTLHours) * time.Hour
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := store.CleanupOldCache(ctx, maxAge)
				if err != nil {
					log.Error("Cache cleanup failed", logger.Error(err))
					continue
				}
				log.Info("Cache cleanup finished", logger.Int("removed", removed))
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := q.Shutdown(shutdownCtx); err != nil {
		log.Error("Queue shutdown error", logger.Error(err))
	}
	log.Info("Worker stopped")
}

func applyLaneOverrides(lanes map[queue.Lane]queue.LaneConfig, overrides map[string]config.LaneSetting) {
	for name, setting := range overrides {
		lane := queue.Lane(name)
		cfg, ok := lanes[lane]
		if !ok {
			continue
		}
		if setting.Priority > 0 {
			cfg.Priority = setting.Priority
		}
		if setting.Concurrency > 0 {
			cfg.Concurrency = setting.Concurrency
		}
		if setting.RetryLimit > 0 {
			cfg.RetryLimit = setting.RetryLimit
		}
		if setting.RetryDelaySeconds > 0 {
			cfg.RetryDelay = time.Duration(setting.RetryDelaySeconds) * time.Second
		}
		lanes[lane] = cfg
	}
}
