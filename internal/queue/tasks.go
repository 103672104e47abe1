// Package queue carries worker wake-ups over asynq. The job ledger in
// postgres stays authoritative; a nudge only tells a worker that a job may
// be claimable, and a lost nudge costs latency, never correctness.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TypeJobNudge = "job:nudge"

type JobNudgePayload struct {
	JobID uuid.UUID `json:"job_id"`
}

func NewJobNudgeTask(jobID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(JobNudgePayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("marshal nudge payload: %w", err)
	}
	return asynq.NewTask(TypeJobNudge, payload), nil
}
