package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jenozu/orchestrator/pkg/protocol"
)

// Persister snapshots records between runs. Save replaces the previous
// snapshot; Load returns records in their original insertion order.
type Persister interface {
	Save(ctx context.Context, records []Record) error
	Load(ctx context.Context) ([]Record, error)
}

// SQLitePersister stores snapshots in the learned_solutions table.
type SQLitePersister struct {
	db *sql.DB
}

var _ Persister = (*SQLitePersister)(nil)

// NewSQLitePersister applies the snapshot schema to db.
func NewSQLitePersister(ctx context.Context, db *sql.DB) (*SQLitePersister, error) {
	if _, err := db.ExecContext(ctx, protocol.SnapshotSchemaDDL); err != nil {
		return nil, fmt.Errorf("snapshot schema: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

// Save replaces the stored snapshot with records in one transaction.
func (p *SQLitePersister) Save(ctx context.Context, records []Record) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM learned_solutions`); err != nil {
		return fmt.Errorf("snapshot clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO learned_solutions
		 (seq, category, record_key, error_signature, solution, context,
		  occurrences, success_count, first_seen, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("snapshot prepare: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		ctxJSON, err := EncodeContext(r.Context)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", r.Key, err)
		}
		if _, err := stmt.ExecContext(ctx,
			i, r.Category, r.Key, r.ErrorSignature, r.Solution, ctxJSON,
			r.Occurrences, r.SuccessCount,
			r.FirstSeen.UTC().Format(time.RFC3339Nano),
			r.LastUpdated.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("snapshot insert %s: %w", r.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot commit: %w", err)
	}
	return nil
}

// Load reads the stored snapshot.
func (p *SQLitePersister) Load(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT category, record_key, error_signature, solution, context,
		        occurrences, success_count, first_seen, last_updated
		 FROM learned_solutions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("snapshot load: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                 Record
			ctxJSON           string
			firstSeen, lastUp string
		)
		if err := rows.Scan(&r.Category, &r.Key, &r.ErrorSignature, &r.Solution, &ctxJSON,
			&r.Occurrences, &r.SuccessCount, &firstSeen, &lastUp); err != nil {
			return nil, fmt.Errorf("snapshot scan: %w", err)
		}
		if r.Context, err = DecodeContext(ctxJSON); err != nil {
			return nil, fmt.Errorf("snapshot %s context: %w", r.Key, err)
		}
		if r.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
			return nil, fmt.Errorf("snapshot %s first_seen: %w", r.Key, err)
		}
		if r.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUp); err != nil {
			return nil, fmt.Errorf("snapshot %s last_updated: %w", r.Key, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot rows: %w", err)
	}
	return out, nil
}

// EncodeContext serializes a record context, "{}" for nil.
func EncodeContext(c map[string]any) (string, error) {
	if len(c) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeContext is the inverse of EncodeContext. "{}" decodes to nil.
func DecodeContext(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var c map[string]any
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, err
	}
	return c, nil
}
