package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwelldata/docpipe/internal/models"
	"github.com/inkwelldata/docpipe/internal/store"
)

// Pool runs N claim loops against the job ledger. Each worker claims one
// job, runs one stage, and goes back to claiming. Idle workers back off
// with jitter so a fleet of them does not poll in lockstep.
type Pool struct {
	stages *Stages
	store  *store.Store
	logger *slog.Logger

	workers      int
	pollInterval time.Duration
	pollMax      time.Duration

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type PoolOptions struct {
	Workers      int
	PollInterval time.Duration
	PollMax      time.Duration
}

func NewPool(stages *Stages, st *store.Store, opts PoolOptions, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.PollMax < opts.PollInterval {
		opts.PollMax = 15 * time.Second
	}
	return &Pool{
		stages:       stages,
		store:        st,
		logger:       logger,
		workers:      opts.Workers,
		pollInterval: opts.PollInterval,
		pollMax:      opts.PollMax,
		wake:         make(chan struct{}, 1),
	}
}

// Start launches the worker goroutines. Stop waits for in-flight stages to
// finish.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	host, _ := os.Hostname()

	for i := 0; i < p.workers; i++ {
		workerID := fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runWorker(ctx, workerID)
		}()
	}
	p.logger.Info("worker pool started", "workers", p.workers)
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Wake prods one idle worker out of its poll sleep. Safe to call from any
// goroutine; a full channel means a wake-up is already pending.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	idle := p.pollInterval
	for {
		if ctx.Err() != nil {
			return
		}

		worked, err := p.claimAndRun(ctx, workerID)
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			return
		case worked:
			idle = p.pollInterval
			continue
		}

		// Nothing claimable: sleep with jitter, growing toward the cap.
		sleep := idle + time.Duration(rand.Int63n(int64(idle)/2+1))
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			idle = p.pollInterval
		case <-time.After(sleep):
			idle *= 2
			if idle > p.pollMax {
				idle = p.pollMax
			}
		}
	}
}

// claimAndRun claims at most one job and runs its stage. Returns true when a
// job was claimed, regardless of the stage outcome.
func (p *Pool) claimAndRun(ctx context.Context, workerID string) (worked bool, err error) {
	job, err := p.store.Jobs.ClaimNext(ctx, workerID, models.ClaimableStatuses())
	if errors.Is(err, store.ErrNoClaimableJob) {
		return false, nil
	}
	if err != nil {
		p.logger.Error("claim job", "worker_id", workerID, "error", err)
		return false, err
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("stage panicked",
				"worker_id", workerID, "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			p.recoverJob(job, workerID, r)
			worked, err = true, nil
		}
	}()

	if herr := p.stages.Handle(ctx, job); herr != nil {
		if errors.Is(herr, store.ErrStateConflict) {
			// Another actor advanced the job between claim and transition.
			p.logger.Debug("stale claim", "worker_id", workerID, "job_id", job.ID)
		} else {
			p.logger.Error("stage handler error", "worker_id", workerID, "job_id", job.ID, "error", herr)
		}
		p.releaseQuietly(job.ID, workerID)
	}
	return true, nil
}

// recoverJob records a panic as an internal error event and releases the
// claim, leaving the job in its last stable state.
func (p *Pool) recoverJob(job *models.UploadJob, workerID string, cause any) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFn()

	ev := models.NewEvent(job.ID, job.DocumentID, job.CorrelationID,
		models.EventError, models.SeverityError, "internal",
		map[string]any{"panic": fmt.Sprint(cause), "status": string(job.Status)})
	if err := p.store.Events.Append(ctx, ev); err != nil {
		p.logger.Error("record panic event", "job_id", job.ID, "error", err)
	}
	if err := p.store.Jobs.Release(ctx, job.ID, workerID); err != nil {
		p.logger.Error("release job after panic", "job_id", job.ID, "error", err)
	}
}

func (p *Pool) releaseQuietly(jobID uuid.UUID, workerID string) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFn()
	if err := p.store.Jobs.Release(ctx, jobID, workerID); err != nil {
		p.logger.Warn("release job", "job_id", jobID, "error", err)
	}
}
