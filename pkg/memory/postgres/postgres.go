// Package postgres snapshots memory records to PostgreSQL via pgx.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jenozu/orchestrator/pkg/memory"
)

// Persister implements memory.Persister on a pgx connection pool.
type Persister struct {
	db *pgxpool.Pool
}

var _ memory.Persister = (*Persister)(nil)

// New creates a Persister backed by the given pool.
func New(db *pgxpool.Pool) *Persister {
	return &Persister{db: db}
}
