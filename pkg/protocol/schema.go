package protocol

// SearchSchemaDDL defines the SQLite schema for the full-text search index
// that backs memory.FTSIndex. One row per indexed record; namespace keeps
// categories isolated from one another.
// Execute against a SQLite database with: db.Exec(SearchSchemaDDL)
const SearchSchemaDDL = `
-- Indexed documents, one per (namespace, doc_key)
CREATE TABLE IF NOT EXISTS search_docs (
    id INTEGER PRIMARY KEY,
    namespace TEXT NOT NULL,
    doc_key TEXT NOT NULL,
    body TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (namespace, doc_key)
);

CREATE INDEX IF NOT EXISTS idx_search_docs_namespace ON search_docs(namespace);

-- FTS5 index over search_docs for BM25-ranked search
CREATE VIRTUAL TABLE IF NOT EXISTS search_fts USING fts5(
    body,
    content=search_docs,
    content_rowid=id
);

-- Triggers to keep FTS index in sync with search_docs
CREATE TRIGGER IF NOT EXISTS search_docs_ai AFTER INSERT ON search_docs BEGIN
    INSERT INTO search_fts(rowid, body) VALUES (new.id, new.body);
END;

CREATE TRIGGER IF NOT EXISTS search_docs_ad AFTER DELETE ON search_docs BEGIN
    INSERT INTO search_fts(search_fts, rowid, body) VALUES ('delete', old.id, old.body);
END;

CREATE TRIGGER IF NOT EXISTS search_docs_au AFTER UPDATE ON search_docs BEGIN
    INSERT INTO search_fts(search_fts, rowid, body) VALUES ('delete', old.id, old.body);
    INSERT INTO search_fts(rowid, body) VALUES (new.id, new.body);
END;
`

// SnapshotSchemaDDL defines the table used by memory.SQLitePersister to
// snapshot learned records between runs. seq preserves insertion order.
const SnapshotSchemaDDL = `
CREATE TABLE IF NOT EXISTS learned_solutions (
    seq INTEGER NOT NULL,
    category TEXT NOT NULL,
    record_key TEXT NOT NULL,
    error_signature TEXT NOT NULL,
    solution TEXT NOT NULL,
    context TEXT NOT NULL DEFAULT '{}',
    occurrences INTEGER NOT NULL DEFAULT 1,
    success_count INTEGER NOT NULL DEFAULT 0,
    first_seen TEXT NOT NULL,
    last_updated TEXT NOT NULL,
    PRIMARY KEY (category, record_key)
);
`
