package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/inkwelldata/docpipe/internal/api"
	"github.com/inkwelldata/docpipe/internal/config"
	"github.com/inkwelldata/docpipe/internal/database"
	"github.com/inkwelldata/docpipe/internal/embedder"
	"github.com/inkwelldata/docpipe/internal/orchestrator"
	"github.com/inkwelldata/docpipe/internal/parser"
	"github.com/inkwelldata/docpipe/internal/queue"
	"github.com/inkwelldata/docpipe/internal/staging"
	"github.com/inkwelldata/docpipe/internal/storage"
	"github.com/inkwelldata/docpipe/internal/store/postgres"
	"github.com/inkwelldata/docpipe/internal/webhookrecv"
	"github.com/inkwelldata/docpipe/pkg/chunker"
)

func main() {
	_ = godotenv.Load()

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

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	// Redis is optional: it carries nudges and the embedding cache, and the
	// pipeline degrades to polling without it.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, nudges and embed cache disabled", "error", err)
	}
	defer rdb.Close()

	st := postgres.New(db)
	nudger := queue.NewClient(cfg.Redis.Addr, cfg.Redis.Password, logger)
	defer nudger.Close()

	blobs, err := storage.New(storage.Config{
		Backend:     cfg.Storage.Backend,
		SupabaseURL: cfg.Storage.SupabaseURL,
		SupabaseKey: cfg.Storage.SupabaseKey,
		Bucket:      cfg.Storage.Bucket,
	})
	if err != nil {
		slog.Error("storage init", "error", err)
		os.Exit(1)
	}

	sink, err := staging.New(cfg.Pipeline.StagingStrategy, st.Chunks)
	if err != nil {
		slog.Error("staging init", "error", err)
		os.Exit(1)
	}

	emb, err := embedder.New(embedder.Config{
		Backend:       cfg.Embedder.Backend,
		OpenAIKey:     cfg.Embedder.OpenAIKey,
		OpenAIBaseURL: cfg.Embedder.OpenAIBaseURL,
		Model:         cfg.Embedder.Model,
		Version:       cfg.Embedder.Version,
		Dimension:     cfg.Embedder.Dimension,
		BatchSize:     cfg.Embedder.BatchSize,
		MaxConcurrent: cfg.Embedder.MaxConcurrent,
	})
	if err != nil {
		slog.Error("embedder init", "error", err)
		os.Exit(1)
	}

	chk, err := chunker.New(cfg.Pipeline.ChunkStrategy, chunker.Options{
		ChunkSize:    cfg.Pipeline.ChunkSize,
		ChunkOverlap: cfg.Pipeline.ChunkOverlap,
		Version:      cfg.Pipeline.ChunkerVersion,
	})
	if err != nil {
		slog.Error("chunker init", "error", err)
		os.Exit(1)
	}

	// The local parser delivers callbacks in-process; the receiver is built
	// after the stages it depends on, so the callback closes over it.
	var receiver *webhookrecv.Receiver
	parserSvc, err := parser.New(parser.Config{
		Backend:       cfg.Parser.Backend,
		URL:           cfg.Parser.URL,
		SubmitTimeout: int(cfg.Parser.SubmitTimeout.Seconds()),
	}, parser.Deps{
		Storage: blobs,
		Callback: func(ctx context.Context, cb parser.Callback) error {
			return receiver.HandleParseCallback(ctx, cb)
		},
		Logger: logger,
	})
	if err != nil {
		slog.Error("parser init", "error", err)
		os.Exit(1)
	}

	stages := orchestrator.NewStages(st, sink, blobs, parserSvc, emb, chk, nudger, orchestrator.Options{
		MaxRetries:      cfg.Pipeline.MaxRetries,
		BackoffBase:     cfg.Pipeline.BackoffBase,
		BackoffMax:      cfg.Pipeline.BackoffMax,
		CallbackBaseURL: cfg.Parser.CallbackBaseURL,
	}, logger)
	receiver = webhookrecv.NewReceiver(st, stages, nudger, logger)

	router := api.NewRouter(db, rdb, cfg, api.Deps{
		Store:    st,
		Blobs:    blobs,
		Nudger:   nudger,
		Receiver: receiver,
		Logger:   logger,
	})
	handler := router.Setup()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
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
