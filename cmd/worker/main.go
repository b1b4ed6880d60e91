package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/embedbot/embedbot/internal/chat"
	"github.com/embedbot/embedbot/internal/config"
	"github.com/embedbot/embedbot/internal/database"
	"github.com/embedbot/embedbot/internal/embedding"
	"github.com/embedbot/embedbot/internal/ingest"
	"github.com/embedbot/embedbot/internal/queue"
	"github.com/embedbot/embedbot/internal/queue/workers"
	"github.com/embedbot/embedbot/internal/registry"
	"github.com/embedbot/embedbot/internal/secrets"
	"github.com/embedbot/embedbot/internal/segmenter"
	"github.com/embedbot/embedbot/internal/storage"
	"github.com/embedbot/embedbot/internal/vectorstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.Connect(ctx, cfg.Control)
	if err != nil {
		slog.Error("could not connect to control database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cipher, err := secrets.NewAESCipher(cfg.Secrets.Key)
	if err != nil {
		slog.Error("invalid secrets key", "error", err)
		os.Exit(1)
	}

	tenants := registry.NewService(db)
	vectors := vectorstore.NewRouter(cipher)
	defer vectors.Close()

	blobs := storage.NewSupabaseStorage(cfg.Storage.SupabaseURL, cfg.Storage.ServiceKey, cfg.Storage.Bucket)
	gateway := chat.NewHTTPGateway(cfg.Chat.GatewayURL, cfg.Chat.GatewayToken)

	embedCfg := cfg.Embed
	newEmbedder := func(apiKey string, dimensions int) ingest.Embedder {
		return embedding.NewClient(embedding.NewOpenAIProvider(apiKey, ""), embedding.Config{
			Model:        embedCfg.Model,
			Dimensions:   dimensions,
			BatchSize:    embedCfg.BatchSize,
			MaxAttempts:  embedCfg.MaxAttempts,
			BaseDelay:    embedCfg.BaseDelay,
			RequestDelay: embedCfg.RequestDelay,
		})
	}

	coordinator := ingest.NewCoordinator(tenants, tenants, blobs, vectors, cipher, newEmbedder, segmenter.DefaultOptions())

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
		},
	)

	fileWorker := workers.NewFileWorker(coordinator, tenants, tenants, gateway)
	resetWorker := workers.NewResetWorker(tenants, vectors, tenants, gateway)

	mux := queue.NewMux(
		asynq.HandlerFunc(fileWorker.ProcessTask),
		asynq.HandlerFunc(resetWorker.ProcessTask),
	)

	slog.Info("starting worker", "concurrency", 10)
	if err := srv.Run(mux); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
