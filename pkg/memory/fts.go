package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jenozu/orchestrator/pkg/protocol"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// FTSIndex is a Searcher backed by an SQLite FTS5 table. Scores are negated
// BM25 values, so higher is better.
type FTSIndex struct {
	db *sql.DB
}

var _ Searcher = (*FTSIndex)(nil)

// NewFTSIndex applies the search schema to db and returns an index over it.
func NewFTSIndex(ctx context.Context, db *sql.DB) (*FTSIndex, error) {
	if _, err := db.ExecContext(ctx, protocol.SearchSchemaDDL); err != nil {
		return nil, fmt.Errorf("fts schema: %w", err)
	}
	return &FTSIndex{db: db}, nil
}

// OpenSQLite opens an SQLite database at path (":memory:" for a private
// in-memory database). The pool is limited to one connection so an
// in-memory database is shared by every caller.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	return db, nil
}

// Index upserts the document for (namespace, key).
func (f *FTSIndex) Index(ctx context.Context, namespace, key, text string) error {
	_, err := f.db.ExecContext(ctx,
		`INSERT INTO search_docs (namespace, doc_key, body) VALUES (?, ?, ?)
		 ON CONFLICT(namespace, doc_key) DO UPDATE SET body = excluded.body`,
		namespace, key, text,
	)
	if err != nil {
		return fmt.Errorf("fts index: %w", err)
	}
	return nil
}

// Search runs a BM25-ranked match within namespace. An empty query lists the
// namespace in insertion order with score 0. A query with no usable terms
// returns no hits.
func (f *FTSIndex) Search(ctx context.Context, namespace, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(query) == "" {
		rows, err = f.db.QueryContext(ctx,
			`SELECT doc_key, 0.0 FROM search_docs WHERE namespace = ? ORDER BY id LIMIT ?`,
			namespace, limit,
		)
	} else {
		match := protocol.SanitizeFTS5Query(query)
		if match == "" {
			return nil, nil
		}
		rows, err = f.db.QueryContext(ctx, `
			SELECT d.doc_key, -bm25(search_fts) AS score
			FROM search_fts
			JOIN search_docs d ON search_fts.rowid = d.id
			WHERE search_fts MATCH ? AND d.namespace = ?
			ORDER BY score DESC, d.id
			LIMIT ?`,
			match, namespace, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Key, &h.Score); err != nil {
			return nil, fmt.Errorf("fts search scan: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fts search rows: %w", err)
	}
	return hits, nil
}
