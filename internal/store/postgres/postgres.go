// Package postgres implements the store ports on PostgreSQL via pgx.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwelldata/docpipe/internal/store"
)

// New wires the postgres-backed store bundle over one shared pool.
func New(db *pgxpool.Pool) *store.Store {
	return &store.Store{
		Documents: &DocumentStore{db: db},
		Jobs:      &JobStore{db: db},
		Chunks:    &ChunkStore{db: db},
		Events:    &EventStore{db: db},
	}
}
