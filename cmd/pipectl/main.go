// pipectl is the operator CLI for the ingestion pipeline. It talks to the
// job ledger directly, so it works even when the API is down.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/inkwelldata/docpipe/internal/admin"
	"github.com/inkwelldata/docpipe/internal/config"
	"github.com/inkwelldata/docpipe/internal/database"
	"github.com/inkwelldata/docpipe/internal/queue"
	"github.com/inkwelldata/docpipe/internal/store"
	"github.com/inkwelldata/docpipe/internal/store/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "pipectl",
		Usage: "operate the document ingestion pipeline",
		Commands: []*cli.Command{
			{
				Name:  "job-status",
				Usage: "show a job and its event trail",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{Name: "job-id", Usage: "job UUID", Required: true},
				},
				Action: jobStatusAction,
			},
			{
				Name:  "retry-job",
				Usage: "retry a terminally failed job from the start of its failed stage",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{Name: "job-id", Usage: "job UUID", Required: true},
				},
				Action: retryJobAction,
			},
			{
				Name:  "retry-stuck-jobs",
				Usage: "requeue jobs stranded in an in-flight status",
				Flags: []cli.Flag{
					envFlag(),
					&cli.DurationFlag{Name: "older-than", Usage: "minimum time stuck", Value: 10 * time.Minute},
				},
				Action: retryStuckAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{Name: "env", Usage: "env file path", Value: ".env"}
}

// connect loads config and opens the store. The caller closes the pool.
func connect(ctx context.Context, envFile string) (*store.Store, func(), error) {
	_ = godotenv.Load(envFile)

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return postgres.New(db), db.Close, nil
}

func jobStatusAction(ctx context.Context, cmd *cli.Command) error {
	jobID, err := uuid.Parse(cmd.String("job-id"))
	if err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}

	st, closeFn, err := connect(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer closeFn()

	job, err := st.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	events, err := st.Events.ListByJob(ctx, jobID)
	if err != nil {
		return err
	}

	out := map[string]any{"job": job, "events": events}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func retryJobAction(ctx context.Context, cmd *cli.Command) error {
	jobID, err := uuid.Parse(cmd.String("job-id"))
	if err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}

	st, closeFn, err := connect(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer closeFn()

	svc := admin.NewService(st, queue.Nudger((*queue.Client)(nil)), slog.Default())
	job, err := svc.RetryJob(ctx, jobID)
	if err != nil {
		return err
	}

	fmt.Printf("job %s requeued in status %s\n", job.ID, job.Status)
	return nil
}

func retryStuckAction(ctx context.Context, cmd *cli.Command) error {
	st, closeFn, err := connect(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer closeFn()

	svc := admin.NewService(st, queue.Nudger((*queue.Client)(nil)), slog.Default())
	n, err := svc.RetryStuck(ctx, cmd.Duration("older-than"))
	if err != nil {
		return err
	}

	fmt.Printf("requeued %d stuck jobs\n", n)
	return nil
}
