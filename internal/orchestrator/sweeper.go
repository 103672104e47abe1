package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/inkwelldata/docpipe/internal/models"
)

// Sweeper rescues jobs stranded mid-stage by a crashed worker or a parsing
// service that never called back. A stranded job is pushed through the same
// retry policy a live failure would hit.
type Sweeper struct {
	stages *Stages
	logger *slog.Logger

	interval     time.Duration
	stageTimeout time.Duration
	parseTimeout time.Duration
}

type SweeperOptions struct {
	Interval     time.Duration
	StageTimeout time.Duration
	ParseTimeout time.Duration
}

func NewSweeper(stages *Stages, opts SweeperOptions, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 10 * time.Minute
	}
	if opts.ParseTimeout <= 0 {
		opts.ParseTimeout = 30 * time.Minute
	}
	return &Sweeper{
		stages:       stages,
		logger:       logger,
		interval:     opts.Interval,
		stageTimeout: opts.StageTimeout,
		parseTimeout: opts.ParseTimeout,
	}
}

// Run sweeps on a ticker until the context ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep", "error", err)
			} else if n > 0 {
				s.logger.Info("sweep rescued jobs", "count", n)
			}
		}
	}
}

// Sweep runs one pass and returns how many jobs it pushed back into play.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	total := 0

	targets := []struct {
		status  models.JobStatus
		stage   models.Stage
		timeout time.Duration
	}{
		{models.StatusChunking, models.StageChunk, s.stageTimeout},
		{models.StatusEmbeddingInProgress, models.StageEmbed, s.stageTimeout},
		{models.StatusParseQueued, models.StageParse, s.parseTimeout},
	}

	for _, t := range targets {
		jobs, err := s.stages.store.Jobs.ListStuck(ctx, t.status, now.Add(-t.timeout))
		if err != nil {
			return total, fmt.Errorf("list stuck %s: %w", t.status, err)
		}
		for i := range jobs {
			job := jobs[i]
			cause := fmt.Errorf("job stuck in %s for over %s", t.status, t.timeout)
			if err := s.stages.FailOrRetry(ctx, &job, t.stage, models.ErrKindTransient, cause); err != nil {
				s.logger.Warn("rescue stuck job", "job_id", job.ID, "status", t.status, "error", err)
				continue
			}
			total++
		}
	}
	return total, nil
}
