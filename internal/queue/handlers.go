package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// NewNudgeHandler returns the asynq handler for job:nudge tasks. The handler
// only wakes the pool; the woken worker re-reads the ledger and claims
// whatever is actually due.
func NewNudgeHandler(wake func(), logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var p JobNudgePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			logger.Warn("malformed nudge payload", "error", err)
			return nil
		}
		logger.Debug("nudge received", "job_id", p.JobID)
		wake()
		return nil
	}
}
