// Creative Memory Graph service entry point.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/creative-memory-graph/internal/analytics"
	"github.com/creative-memory-graph/internal/cache"
	"github.com/creative-memory-graph/internal/config"
	"github.com/creative-memory-graph/internal/extract"
	"github.com/creative-memory-graph/internal/graph"
	"github.com/creative-memory-graph/internal/graph/sqlite"
	"github.com/creative-memory-graph/internal/pipeline"
	"github.com/creative-memory-graph/internal/search"
	"github.com/creative-memory-graph/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting Creative Memory Graph")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence.
	store, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		logger.Fatal("Failed to open graph store", zap.Error(err))
	}
	defer store.Close()

	// Optional Redis L2; the tiered cache degrades to L1-only without it.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, running with in-process cache only", zap.Error(err))
			redisClient = nil
		}
	}

	tiered, err := cache.NewTiered(int64(cfg.Analytics.CacheEntries), redisClient, logger)
	if err != nil {
		logger.Fatal("Failed to create cache", zap.Error(err))
	}

	index, err := search.NewLabelIndex(search.Config{
		IndexPath: cfg.BleveIndexPath,
		Fuzziness: 2,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open label index", zap.Error(err))
	}
	defer index.Close()

	merger := graph.NewMerger(store, logger,
		graph.WithHalfLife(time.Duration(cfg.Analytics.HalfLifeDays)*24*time.Hour))

	var completer extract.Completer
	if cfg.OpenAI.APIKey != "" {
		completer = extract.NewOpenAICompleter(extract.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
	} else {
		logger.Warn("No completion API key configured, extraction runs heuristics only")
	}
	extractor := extract.NewExtractor(completer, logger,
		extract.WithConcurrency(int64(cfg.Ingest.Concurrency)))

	ingestor := pipeline.NewIngestor(extractor, merger, index, logger,
		pipeline.WithWorkers(cfg.Ingest.Workers),
		pipeline.WithQueueSize(cfg.Ingest.QueueSize),
		pipeline.WithDedupeTTL(cfg.Ingest.DedupeTTL.Std()))
	ingestor.Start(ctx)

	svc := analytics.NewService(store, tiered, logger,
		analytics.WithTopN(cfg.Analytics.TopN),
		analytics.WithCacheTTL(cfg.Analytics.CacheTTL.Std()),
		analytics.WithHalfLife(time.Duration(cfg.Analytics.HalfLifeDays)*24*time.Hour))

	// Optional async intake over JetStream.
	var subscriber *pipeline.Subscriber
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			logger.Warn("NATS unreachable, async intake disabled", zap.Error(err))
		} else {
			defer nc.Close()
			js, err := nc.JetStream()
			if err != nil {
				logger.Warn("JetStream unavailable, async intake disabled", zap.Error(err))
			} else {
				subscriber, err = pipeline.NewSubscriber(js, ingestor, logger)
				if err != nil {
					logger.Warn("Failed to create subscriber", zap.Error(err))
					subscriber = nil
				} else if err := subscriber.Start(); err != nil {
					logger.Warn("Failed to start subscriber", zap.Error(err))
					subscriber = nil
				}
			}
		}
	}

	srv := server.New(ingestor, svc, merger, index, logger)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	httpServer.Shutdown(shutdownCtx)
	if subscriber != nil {
		subscriber.Stop()
	}
	ingestor.Stop()

	logger.Info("Shutdown complete")
}
