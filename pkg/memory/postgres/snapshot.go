package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jenozu/orchestrator/pkg/memory"
)

// Save replaces the stored snapshot with records in one transaction.
func (p *Persister) Save(ctx context.Context, records []memory.Record) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM learned_solutions`); err != nil {
		return fmt.Errorf("snapshot: clear: %w", err)
	}

	batch := &pgx.Batch{}
	for i, r := range records {
		ctxJSON, err := memory.EncodeContext(r.Context)
		if err != nil {
			return fmt.Errorf("snapshot: encode %s: %w", r.Key, err)
		}
		batch.Queue(
			`INSERT INTO learned_solutions
			 (seq, category, record_key, error_signature, solution, context,
			  occurrences, success_count, first_seen, last_updated)
			 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10)`,
			i, r.Category, r.Key, r.ErrorSignature, r.Solution, ctxJSON,
			r.Occurrences, r.SuccessCount, r.FirstSeen, r.LastUpdated,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("snapshot: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("snapshot: commit: %w", err)
	}
	return nil
}

// Load reads the stored snapshot in insertion order.
func (p *Persister) Load(ctx context.Context) ([]memory.Record, error) {
	rows, err := p.db.Query(ctx,
		`SELECT category, record_key, error_signature, solution, context::text,
		        occurrences, success_count, first_seen, last_updated
		 FROM learned_solutions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: query: %w", err)
	}
	defer rows.Close()

	var out []memory.Record
	for rows.Next() {
		var (
			r       memory.Record
			ctxJSON string
		)
		if err := rows.Scan(&r.Category, &r.Key, &r.ErrorSignature, &r.Solution, &ctxJSON,
			&r.Occurrences, &r.SuccessCount, &r.FirstSeen, &r.LastUpdated); err != nil {
			return nil, fmt.Errorf("snapshot: scan: %w", err)
		}
		if r.Context, err = memory.DecodeContext(ctxJSON); err != nil {
			return nil, fmt.Errorf("snapshot: decode %s: %w", r.Key, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: rows: %w", err)
	}
	return out, nil
}
