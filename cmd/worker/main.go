package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

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
	"github.com/redis/go-redis/v9"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

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

	// Embedding cache rides redis when it is reachable.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, embed cache and nudges disabled", "error", err)
	} else {
		emb = embedder.WithCache(emb, rdb, cfg.Embedder.CacheTTL)
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

	pool := orchestrator.NewPool(stages, st, orchestrator.PoolOptions{
		Workers:      cfg.Pipeline.Workers,
		PollInterval: cfg.Pipeline.PollInterval,
		PollMax:      cfg.Pipeline.PollMaxInterval,
	}, logger)
	pool.Start(ctx)

	sweeper := orchestrator.NewSweeper(stages, orchestrator.SweeperOptions{
		Interval:     cfg.Pipeline.SweepInterval,
		StageTimeout: cfg.Pipeline.StageTimeout,
		ParseTimeout: cfg.Pipeline.ParseTimeout,
	}, logger)
	go sweeper.Run(ctx)

	// asynq delivers nudges; the pool stays correct without them, just
	// slower to notice new work.
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{Concurrency: 4},
	)
	mux := asynq.NewServeMux()
	mux.Handle(queue.TypeJobNudge, queue.NewNudgeHandler(pool.Wake, logger))

	go func() {
		if err := srv.Run(mux); err != nil {
			slog.Warn("nudge server stopped, polling only", "error", err)
		}
	}()

	slog.Info("worker started", "workers", cfg.Pipeline.Workers)
	<-ctx.Done()

	slog.Info("shutting down worker...")
	srv.Shutdown()
	pool.Stop()
	slog.Info("worker stopped")
}
