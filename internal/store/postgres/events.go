package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwelldata/docpipe/internal/models"
)

type EventStore struct {
	db *pgxpool.Pool
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// appendEvent writes one event through the given executor, which is a
// transaction when the append rides a job transition.
func appendEvent(ctx context.Context, q execer, ev models.Event) error {
	_, err := q.Exec(ctx,
		`INSERT INTO events (id, job_id, document_id, type, severity, code, payload, correlation_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.JobID, ev.DocumentID, ev.Type, ev.Severity, ev.Code, ev.Payload, ev.CorrelationID, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *EventStore) Append(ctx context.Context, ev models.Event) error {
	return appendEvent(ctx, s.db, ev)
}

func (s *EventStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, job_id, document_id, type, severity, code, payload, correlation_id, created_at
		 FROM events WHERE job_id = $1 ORDER BY created_at`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]models.Event, error) {
	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.JobID, &e.DocumentID, &e.Type, &e.Severity, &e.Code,
			&e.Payload, &e.CorrelationID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
