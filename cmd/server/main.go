package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/paperquery/paperquery/internal/api"
	"github.com/paperquery/paperquery/internal/auth"
	"github.com/paperquery/paperquery/internal/config"
	"github.com/paperquery/paperquery/internal/database"
	"github.com/paperquery/paperquery/internal/embed"
	"github.com/paperquery/paperquery/internal/llm"
	"github.com/paperquery/paperquery/internal/objstore"
	"github.com/paperquery/paperquery/internal/queue"
	"github.com/paperquery/paperquery/internal/rag"
	"github.com/paperquery/paperquery/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	// EnsureSchema runs before Connect: the pool registers pgvector types on
	// every new connection, which needs the extension to exist already.
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
	if err := objects.EnsureBucket(ctx); err != nil {
		slog.Error("ensure bucket", "err", err)
		os.Exit(1)
	}

	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer queueClient.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

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
	chat, err := llm.NewClient(llm.Config{
		APIKey:    cfg.ChatAPIKey,
		BaseURL:   cfg.ChatBaseURL,
		Model:     cfg.ChatModel,
		MaxTokens: cfg.ChatMaxTokens,
	})
	if err != nil {
		slog.Error("init chat client", "err", err)
		os.Exit(1)
	}

	tokenRepo := repository.NewRefreshTokenRepository(pool)
	go sweepExpiredTokens(ctx, tokenRepo)

	srv := api.New(cfg, api.Deps{
		Users:     repository.NewUserRepository(pool),
		Tokens:    tokenRepo,
		Documents: repository.NewDocumentRepository(pool),
		Messages:  repository.NewMessageRepository(pool),
		Objects:   objects,
		Jobs:      queue.NewEnqueuer(queueClient),
		RAG:       rag.NewService(embedder, repository.NewChunkRepository(pool), chat),
		Issuer:    auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL),
		Hasher:    auth.NewTokenHasher(cfg.JWTSecret),
		Checks: []api.HealthCheck{
			{Name: "postgres", Check: pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
	})

	if err := srv.Run(ctx); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// sweepExpiredTokens drops expired refresh tokens so sessions that were never
// logged out do not accumulate rows forever.
func sweepExpiredTokens(ctx context.Context, tokens *repository.RefreshTokenRepository) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := tokens.DeleteExpired(ctx)
			if err != nil {
				slog.Warn("sweep refresh tokens", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("swept expired refresh tokens", "count", n)
			}
		}
	}
}
