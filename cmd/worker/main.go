package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/paperquery/paperquery/internal/chunker"
	"github.com/paperquery/paperquery/internal/config"
	"github.com/paperquery/paperquery/internal/database"
	"github.com/paperquery/paperquery/internal/embed"
	"github.com/paperquery/paperquery/internal/ingest"
	"github.com/paperquery/paperquery/internal/objstore"
	"github.com/paperquery/paperquery/internal/repository"
	"github.com/paperquery/paperquery/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := database.EnsureSchema(ctx, cfg.DatabaseURL, cfg.EmbedDim); err != nil {
		slog.Error("ensure schema", "err", err)
		os.Exit(1)
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("connect database", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	objects, err := objstore.New(objstore.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
		Region:    cfg.S3Region,
		Bucket:    cfg.Bucket,
	})
	if err != nil {
		slog.Error("init object storage", "err", err)
		os.Exit(1)
	}

	splitter, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		slog.Error("init chunker", "err", err)
		os.Exit(1)
	}
	embedder, err := embed.NewClient(embed.Config{
		APIKey:     cfg.EmbedAPIKey,
		BaseURL:    cfg.EmbedBaseURL,
		Model:      cfg.EmbedModel,
		Dimensions: cfg.EmbedDim,
		MaxBatch:   cfg.EmbedBatchSize,
	})
	if err != nil {
		slog.Error("init embedding client", "err", err)
		os.Exit(1)
	}

	documents := repository.NewDocumentRepository(pool)
	chunks := repository.NewChunkRepository(pool)
	pipeline := ingest.NewPipeline(documents, chunks, objects, splitter, embedder)

	// Sweep documents stranded in processing by a previous crash before the
	// queue starts delivering jobs.
	if err := ingest.Reconcile(ctx, documents); err != nil {
		slog.Error("reconcile documents", "err", err)
		os.Exit(1)
	}

	srv := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Logger:      worker.NewLogger(),
	})

	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	slog.Info("worker started", "concurrency", cfg.WorkerConcurrency)
	if err := srv.Run(worker.NewProcessor(pipeline).Handler()); err != nil {
		slog.Error("worker stopped", "err", err)
		os.Exit(1)
	}
}
