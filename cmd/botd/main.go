package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/embedbot/embedbot/internal/api"
	"github.com/embedbot/embedbot/internal/chat"
	"github.com/embedbot/embedbot/internal/config"
	"github.com/embedbot/embedbot/internal/database"
	"github.com/embedbot/embedbot/internal/embedding"
	"github.com/embedbot/embedbot/internal/export"
	"github.com/embedbot/embedbot/internal/onboarding"
	"github.com/embedbot/embedbot/internal/queue"
	"github.com/embedbot/embedbot/internal/registry"
	"github.com/embedbot/embedbot/internal/secrets"
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

	if err := database.RunMigrations(ctx, db); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("could not connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	cipher, err := secrets.NewAESCipher(cfg.Secrets.Key)
	if err != nil {
		slog.Error("invalid secrets key", "error", err)
		os.Exit(1)
	}

	tenants := registry.NewService(db)
	vectors := vectorstore.NewRouter(cipher)
	defer vectors.Close()

	blobs := storage.NewSupabaseStorage(cfg.Storage.SupabaseURL, cfg.Storage.ServiceKey, cfg.Storage.Bucket)
	tasks := queue.NewClient(cfg.Redis)
	defer tasks.Close()

	probeKey := onboarding.DefaultKeyProber(embedding.Config{
		Model:        cfg.Embed.Model,
		Dimensions:   cfg.Embed.Dimensions,
		BaseDelay:    cfg.Embed.BaseDelay,
		RequestDelay: cfg.Embed.RequestDelay,
	})
	machine := onboarding.NewMachine(
		onboarding.NewRedisSessionStore(rdb, cipher),
		tenants,
		cipher,
		onboarding.DefaultStoreProber(),
		probeKey,
		vectors,
	)

	exporter := export.NewBuilder(tenants, tenants, blobs, vectors)
	gateway := chat.NewHTTPGateway(cfg.Chat.GatewayURL, cfg.Chat.GatewayToken)

	chatRouter := chat.NewRouter(
		tenants,
		machine,
		blobs,
		tasks,
		exporter,
		vectors,
		chat.NewRedisFlags(rdb),
		gateway,
		cipher,
		probeKey,
		cfg.Upload,
	)

	router := api.NewRouter(db, rdb, chatRouter, tenants)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
