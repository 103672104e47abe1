package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates audit event categories.
type EventType string

const (
	EventStageStarted EventType = "stage_started"
	EventStageDone    EventType = "stage_done"
	EventRetry        EventType = "retry"
	EventError        EventType = "error"
	EventFinalized    EventType = "finalized"
)

// Severity of an event.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event is an immutable audit record of a stage transition or boundary
// rejection. Events are append-only and outlive their subjects; job_id is
// deliberately not a foreign key.
type Event struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	JobID         uuid.UUID       `json:"job_id" db:"job_id"`
	DocumentID    uuid.UUID       `json:"document_id" db:"document_id"`
	Type          EventType       `json:"type" db:"type"`
	Severity      Severity        `json:"severity" db:"severity"`
	Code          string          `json:"code" db:"code"`
	Payload       json.RawMessage `json:"payload,omitempty" db:"payload"`
	CorrelationID uuid.UUID       `json:"correlation_id" db:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// NewEvent builds an event with a fresh ID. The payload map is marshalled
// up front so appending inside a transaction cannot fail on serialization.
func NewEvent(jobID, documentID, correlationID uuid.UUID, typ EventType, sev Severity, code string, payload map[string]any) Event {
	var raw json.RawMessage
	if len(payload) > 0 {
		raw, _ = json.Marshal(payload)
	}
	return Event{
		ID:            uuid.New(),
		JobID:         jobID,
		DocumentID:    documentID,
		Type:          typ,
		Severity:      sev,
		Code:          code,
		Payload:       raw,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}
}
