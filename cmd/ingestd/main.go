// Command ingestd is the composition root for the document-ingestion and
// crawl platform: it wires the metadata store, object store, queue, vector
// store, fetcher, extractor, crawl worker pool, and HTTP facade, then runs
// until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HariharanV1992/crawlweave/internal/auth"
	"github.com/HariharanV1992/crawlweave/internal/config"
	"github.com/HariharanV1992/crawlweave/internal/crawlworker"
	"github.com/HariharanV1992/crawlweave/internal/embedder"
	"github.com/HariharanV1992/crawlweave/internal/extractor"
	"github.com/HariharanV1992/crawlweave/internal/facade"
	"github.com/HariharanV1992/crawlweave/internal/fetcher"
	"github.com/HariharanV1992/crawlweave/internal/ingestion"
	"github.com/HariharanV1992/crawlweave/internal/objectstore"
	"github.com/HariharanV1992/crawlweave/internal/pipeline"
	"github.com/HariharanV1992/crawlweave/internal/queue"
	"github.com/HariharanV1992/crawlweave/internal/repository"
	"github.com/HariharanV1992/crawlweave/internal/repository/postgres"
	"github.com/HariharanV1992/crawlweave/internal/server"
	"github.com/HariharanV1992/crawlweave/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run ingestion service", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting ingestion service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	taskRepo := postgres.NewTaskRepo(db)
	documentRepo := postgres.NewDocumentRepo(db)

	objectStore, err := objectstore.NewS3Store(objectstore.Config{
		Bucket:              cfg.ObjectStoreBucket,
		Region:              cfg.ObjectStoreRegion,
		Endpoint:            cfg.ObjectStoreEndpoint,
		SpoolThresholdBytes: cfg.SpoolThresholdBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to create object store: %w", err)
	}
	slog.Info("initialized object store", "bucket", cfg.ObjectStoreBucket)

	q, err := queue.Connect(queue.Config{
		URL:        cfg.QueueNATSURL,
		StreamName: cfg.QueueName,
		AckWait:    cfg.QueueAckWait,
		MaxDeliver: cfg.QueueMaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to queue: %w", err)
	}
	defer q.Close()
	slog.Info("connected to queue", "stream", cfg.QueueName)

	vectorStore, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	defer vectorStore.Close()
	slog.Info("connected to Qdrant")

	modelCfg := embedder.GetModelConfig(cfg.OllamaEmbeddingModel)
	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL:   cfg.OllamaURL,
		Model:     cfg.OllamaEmbeddingModel,
		Dimension: modelCfg.Dimension,
	})
	slog.Info("initialized Ollama embedder", "model", cfg.OllamaEmbeddingModel, "dimension", embed.Dimension())

	// Chunk sizes are derived from the embedding model's known context
	// window so a smaller model (e.g. mxbai-embed-large) never receives a
	// chunk too large for it to embed.
	chunker, err := ingestion.NewPipeline(ingestion.PipelineConfig{
		Chunker: ingestion.ChunkerConfig{
			Method:     "semantic",
			TargetSize: modelCfg.TargetChunkWords,
			MaxSize:    modelCfg.MaxChunkWords,
			Overlap:    50,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build ingestion pipeline: %w", err)
	}
	vectorMgr := vectorstore.NewManager(vectorStore, chunker, embed, embed.Dimension())
	sessionCache := vectorstore.NewSessionCache(vectorMgr, cfg.SessionStoreCacheSize)

	ocrClient, err := extractor.NewTextractClient(cfg.OCRTextractRegion)
	if err != nil {
		return fmt.Errorf("failed to create textract client: %w", err)
	}
	stager := extractor.NewTempStager(objectStore)
	extractorRegistry := extractor.NewRegistry(ocrClient, stager, cfg.ObjectStoreBucket)

	docPipeline := pipeline.New(extractorRegistry, objectStore, documentRepo, vectorMgr, sessionCache, cfg.VectorStoreDefaultName)

	urlFetcher := fetcher.New(fetcher.Config{
		DefaultCountryCode: cfg.FetcherDefaultCountryCode,
		MaxBodyBytes:       cfg.FetcherMaxBodyBytes,
		StandardProxyURL:   cfg.FetcherStandardProxyURL,
		PremiumProxyURL:    cfg.FetcherPremiumProxyURL,
		RequestTimeout:     cfg.FetcherRequestTimeout,
	})

	worker := crawlworker.New(q, taskRepo, urlFetcher, docPipeline, nil,
		cfg.WorkerBatchSize, cfg.WorkerPoolSize, cfg.WorkerWaitSeconds)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go worker.Run(workerCtx)
	slog.Info("crawl worker pool started", "pool_size", cfg.WorkerPoolSize)

	ingestionFacade := facade.New(taskRepo, documentRepo, q, docPipeline)

	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		Secret: cfg.JWTSecret,
		Expiry: cfg.JWTExpiry,
		Issuer: "crawlweave",
	})

	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"},
		Facade:         ingestionFacade,
		JWTManager:     jwtManager,
		MaxUploadBytes: cfg.FetcherMaxBodyBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "port", cfg.HTTPPort)
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	slog.Info("shutting down...")
	stopWorker()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down HTTP server", "error", err)
	}

	slog.Info("ingestion service stopped")
	return nil
}

// Ensure interfaces are satisfied at compile time.
var (
	_ repository.TaskRepository     = (*postgres.TaskRepo)(nil)
	_ repository.DocumentRepository = (*postgres.DocumentRepo)(nil)
	_ vectorstore.VectorStore       = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder             = (*embedder.OllamaEmbedder)(nil)
)
