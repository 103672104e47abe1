package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Nudger wakes workers. The zero value and a nil *Client are both safe
// no-ops, so callers never branch on whether redis is configured.
type Nudger interface {
	Nudge(ctx context.Context, jobID uuid.UUID, delay time.Duration)
}

type Client struct {
	client *asynq.Client
	logger *slog.Logger
}

func NewClient(redisAddr, redisPassword string, logger *slog.Logger) *Client {
	if redisAddr == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword}),
		logger: logger,
	}
}

// Nudge schedules a wake-up after delay. Errors are logged and swallowed;
// the worker's poll loop covers a lost nudge.
func (c *Client) Nudge(ctx context.Context, jobID uuid.UUID, delay time.Duration) {
	if c == nil {
		return
	}
	task, err := NewJobNudgeTask(jobID)
	if err != nil {
		c.logger.Error("build nudge task", "job_id", jobID, "error", err)
		return
	}
	var opts []asynq.Option
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	if _, err := c.client.Enqueue(task, opts...); err != nil {
		c.logger.Warn("enqueue nudge", "job_id", jobID, "error", err)
	}
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
