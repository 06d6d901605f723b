package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS learned_solutions (
    seq             INTEGER     NOT NULL,
    category        TEXT        NOT NULL,
    record_key      TEXT        NOT NULL,
    error_signature TEXT        NOT NULL,
    solution        TEXT        NOT NULL,
    context         JSONB       NOT NULL DEFAULT '{}',
    occurrences     INTEGER     NOT NULL DEFAULT 1 CHECK (occurrences >= 1),
    success_count   INTEGER     NOT NULL DEFAULT 0 CHECK (success_count BETWEEN 0 AND occurrences),
    first_seen      TIMESTAMPTZ NOT NULL,
    last_updated    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (category, record_key)
);

CREATE INDEX IF NOT EXISTS idx_learned_solutions_seq ON learned_solutions(seq);
`

// CreateSchema creates the learned_solutions table if it doesn't exist.
func (p *Persister) CreateSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the learned_solutions table.
func (p *Persister) DropSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `DROP TABLE IF EXISTS learned_solutions;`)
	return err
}
