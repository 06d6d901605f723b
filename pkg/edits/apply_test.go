package edits //nolint:testpackage // internal test needs access to unexported types

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestApply_WritesEditsInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc a() {}\nfunc a() {}\n")

	g := NewGrouper()
	g.Add(Proposal{FilePath: "main.go", OldContent: "func a()", NewContent: "func b()", AgentID: "one"})
	g.Add(Proposal{FilePath: "docs/new.md", NewContent: "# New\n", AgentID: "two"})

	res, err := NewFileApplier(dir, nil).ApplyGroup(context.Background(), g, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.Applied) != 2 {
		t.Errorf("Applied = %v", res.Applied)
	}
	if got := readFile(t, dir, "main.go"); got != "package main\n\nfunc b() {}\nfunc a() {}\n" {
		t.Errorf("main.go = %q", got)
	}
	if got := readFile(t, dir, "docs/new.md"); got != "# New\n" {
		t.Errorf("docs/new.md = %q", got)
	}
}

func TestApply_RefusesConflictsWithoutOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "shared.go", "alpha beta")
	writeFile(t, dir, "solo.go", "gamma")

	g := NewGrouper()
	g.Add(
		Proposal{FilePath: "solo.go", OldContent: "gamma", NewContent: "GAMMA", AgentID: "c"},
		Proposal{FilePath: "shared.go", OldContent: "alpha", NewContent: "ALPHA", AgentID: "a"},
		Proposal{FilePath: "shared.go", OldContent: "beta", NewContent: "BETA", AgentID: "b"},
	)

	_, err := NewFileApplier(dir, nil).ApplyGroup(context.Background(), g, false)
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if len(ce.Files) != 1 || ce.Files[0] != "shared.go" {
		t.Errorf("Files = %v", ce.Files)
	}
	if readFile(t, dir, "solo.go") != "gamma" || readFile(t, dir, "shared.go") != "alpha beta" {
		t.Error("files written despite refusal")
	}

	res, err := NewFileApplier(dir, nil).ApplyGroup(context.Background(), g, true)
	if err != nil {
		t.Fatalf("override Apply: %v", err)
	}
	if len(res.Applied) != 2 {
		t.Errorf("Applied = %v", res.Applied)
	}
	if got := readFile(t, dir, "shared.go"); got != "ALPHA BETA" {
		t.Errorf("shared.go = %q", got)
	}
}

func TestApply_StaleEditSkipsOnlyThatFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stale.go", "current text")
	writeFile(t, dir, "fresh.go", "old")

	batch := []BatchFile{
		{File: "stale.go", Edits: []BatchEdit{{Old: "current", New: "x", Agent: "a"}, {Old: "gone", New: "y", Agent: "b"}}},
		{File: "fresh.go", Edits: []BatchEdit{{Old: "old", New: "new", Agent: "c"}}},
	}
	res, err := NewFileApplier(dir, nil).Apply(context.Background(), batch, ApplyOpts{})

	var se *StaleEditError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StaleEditError, got %v", err)
	}
	if se.File != "stale.go" || se.Index != 1 || se.Agent != "b" {
		t.Errorf("stale = %+v", se)
	}
	if readFile(t, dir, "stale.go") != "current text" {
		t.Error("stale file partially written")
	}
	if readFile(t, dir, "fresh.go") != "new" {
		t.Error("independent file not applied")
	}
	if len(res.Applied) != 1 || res.Failed["stale.go"] == nil {
		t.Errorf("result = %+v", res)
	}
}

func TestApply_RejectsPathsOutsideRoot(t *testing.T) {
	dir := t.TempDir()
	batch := []BatchFile{{File: "../escape.txt", Edits: []BatchEdit{{New: "x"}}}}
	res, err := NewFileApplier(dir, nil).Apply(context.Background(), batch, ApplyOpts{})
	if err == nil {
		t.Fatal("expected error for escaping path")
	}
	if len(res.Applied) != 0 {
		t.Errorf("Applied = %v", res.Applied)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt")); statErr == nil {
		t.Error("file written outside root")
	}
}

func TestApply_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batch := []BatchFile{{File: "a.txt", Edits: []BatchEdit{{New: "x"}}}}
	_, err := NewFileApplier(t.TempDir(), nil).Apply(ctx, batch, ApplyOpts{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// memFS is an in-memory FileSystem that can fail writes.
type memFS struct {
	mu       sync.Mutex
	files    map[string]string
	writeErr error
}

func (m *memFS) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(s), nil
}

func (m *memFS) WriteFile(path string, data []byte, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.files[path] = string(data)
	return nil
}

func TestApply_WriteFailureReported(t *testing.T) {
	fsys := &memFS{files: map[string]string{"/repo/a.txt": "hello"}, writeErr: errors.New("disk full")}
	batch := []BatchFile{{File: "a.txt", Edits: []BatchEdit{{Old: "hello", New: "bye"}}}}

	res, err := NewFileApplier("/repo", fsys).Apply(context.Background(), batch, ApplyOpts{})
	if err == nil || res.Failed["a.txt"] == nil {
		t.Fatalf("expected write failure, got res=%+v err=%v", res, err)
	}
	if fsys.files["/repo/a.txt"] != "hello" {
		t.Error("file modified despite write failure")
	}
}

func TestApply_SerializesBatches(t *testing.T) {
	fsys := &memFS{files: map[string]string{"/repo/counter.txt": ""}}
	a := NewFileApplier("/repo", fsys)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Apply(context.Background(),
				[]BatchFile{{File: "counter.txt", Edits: []BatchEdit{{New: "x"}}}}, ApplyOpts{})
		}()
	}
	wg.Wait()

	if got := len(fsys.files["/repo/counter.txt"]); got != 25 {
		t.Errorf("counter length = %d, want 25 (lost update)", got)
	}
}
