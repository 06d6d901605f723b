package memory //nolint:testpackage // shares setupTestDB with the persister tests

import (
	"context"
	"database/sql"
	"testing"
)

// setupTestDB opens a private in-memory SQLite database.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func setupFTS(t *testing.T) *FTSIndex {
	t.Helper()
	idx, err := NewFTSIndex(context.Background(), setupTestDB(t))
	if err != nil {
		t.Fatalf("NewFTSIndex: %v", err)
	}
	return idx
}

func TestFTSIndex_SearchRanksMatches(t *testing.T) {
	idx := setupFTS(t)
	ctx := context.Background()

	docs := map[string]string{
		"ruff":   "ruff --fix must run before pyright",
		"wal":    "SQLite WAL mode requires single-writer for consistency",
		"tables": "Always use table-driven tests in Go",
	}
	for _, k := range []string{"ruff", "wal", "tables"} {
		if err := idx.Index(ctx, "learned_solutions/lint", k, docs[k]); err != nil {
			t.Fatalf("index %s: %v", k, err)
		}
	}

	hits, err := idx.Search(ctx, "learned_solutions/lint", "ruff pyright", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 || hits[0].Key != "ruff" {
		t.Fatalf("hits = %+v, want ruff first", hits)
	}
	if hits[0].Score <= 0 {
		t.Errorf("expected positive score, got %f", hits[0].Score)
	}

	hits, _ = idx.Search(ctx, "learned_solutions/lint", "SQLite", 5)
	if len(hits) != 1 || hits[0].Key != "wal" {
		t.Errorf("hits = %+v, want wal", hits)
	}
}

func TestFTSIndex_NamespacesAreIsolated(t *testing.T) {
	idx := setupFTS(t)
	ctx := context.Background()
	_ = idx.Index(ctx, "a", "k1", "timeout while dialing")
	_ = idx.Index(ctx, "b", "k2", "timeout while reading")

	hits, _ := idx.Search(ctx, "a", "timeout", 5)
	if len(hits) != 1 || hits[0].Key != "k1" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestFTSIndex_EmptyQueryListsInsertionOrder(t *testing.T) {
	idx := setupFTS(t)
	ctx := context.Background()
	for _, k := range []string{"z", "x", "y"} {
		_ = idx.Index(ctx, "ns", k, "body "+k)
	}

	hits, err := idx.Search(ctx, "ns", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].Key != "z" || hits[1].Key != "x" {
		t.Errorf("hits = %+v", hits)
	}
	all, _ := idx.Search(ctx, "ns", "", 0)
	if len(all) != 3 {
		t.Errorf("unlimited = %+v", all)
	}
}

func TestFTSIndex_UpsertReplacesBody(t *testing.T) {
	idx := setupFTS(t)
	ctx := context.Background()
	_ = idx.Index(ctx, "ns", "k", "original wording")
	_ = idx.Index(ctx, "ns", "k", "rewritten phrasing")

	if hits, _ := idx.Search(ctx, "ns", "original", 5); len(hits) != 0 {
		t.Errorf("stale body still matches: %+v", hits)
	}
	if hits, _ := idx.Search(ctx, "ns", "rewritten", 5); len(hits) != 1 {
		t.Errorf("new body not indexed: %+v", hits)
	}
	if all, _ := idx.Search(ctx, "ns", "", 0); len(all) != 1 {
		t.Errorf("upsert duplicated the document: %+v", all)
	}
}

func TestFTSIndex_OperatorOnlyQuery(t *testing.T) {
	idx := setupFTS(t)
	ctx := context.Background()
	_ = idx.Index(ctx, "ns", "k", "anything")

	hits, err := idx.Search(ctx, "ns", `"* ^`, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %+v", hits)
	}
}

func TestFTSIndex_BacksStoreSearch(t *testing.T) {
	s := newTestStore(t, setupFTS(t))
	ctx := context.Background()

	k1, _ := s.Learn(ctx, "fixes", "NullRef in handler", "add null check", nil, true)
	_, _ = s.Learn(ctx, "fixes", "deadlock in pool", "release lock before send", nil, true)

	got := s.Search(ctx, "fixes", "null", 5)
	if len(got) != 1 || got[0].Key != k1 || got[0].Score <= 0 {
		t.Errorf("Search = %+v", got)
	}
}
