package runlog //nolint:testpackage // white-box tests use Config.Now

import (
	"bytes"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jenozu/orchestrator/pkg/protocol"
)

func fixedNow() time.Time {
	return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
}

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := NewLogger(Config{Dir: dir, Logger: log.New(io.Discard, "", 0), Now: fixedNow})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, dir
}

func TestLogger_WritesRunLifecycle(t *testing.T) {
	l, dir := newTestLogger(t)

	runID, err := l.StartRun("run-1", map[string]any{"intent": "todo app"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if runID != "run-1" || l.RunID() != "run-1" {
		t.Fatalf("run id = %q / %q", runID, l.RunID())
	}
	l.LogTask("a", "prd", "completed", map[string]any{"doc": "x"})
	if err := l.EndRun(map[string]any{"completed": 1}); err != nil {
		t.Fatalf("EndRun: %v", err)
	}
	if l.RunID() != "" {
		t.Errorf("run id after end = %q", l.RunID())
	}

	events, err := ReadFile(Path(dir, "run-1"), QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Event != protocol.EventRunStart || events[0].Data["run_id"] != "run-1" {
		t.Errorf("start = %+v", events[0])
	}
	meta, _ := events[0].Data["metadata"].(map[string]any)
	if meta["intent"] != "todo app" {
		t.Errorf("metadata = %v", events[0].Data["metadata"])
	}
	task := events[1]
	if task.TaskID() != "a" || task.Status() != "completed" || task.Data["agent_id"] != "prd" {
		t.Errorf("task = %+v", task)
	}
	if task.Data["timestamp"] != "2026-05-04T10:00:00Z" {
		t.Errorf("task timestamp = %v", task.Data["timestamp"])
	}
	if !task.Timestamp.Equal(fixedNow()) {
		t.Errorf("event timestamp = %v", task.Timestamp)
	}
	if events[2].Event != protocol.EventRunEnd {
		t.Errorf("end = %+v", events[2])
	}
}

func TestLogger_NoRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	var diag bytes.Buffer
	l, err := NewLogger(Config{Dir: dir, Logger: log.New(&diag, "", 0)})
	if err != nil {
		t.Fatal(err)
	}

	l.LogTask("a", "prd", "completed", nil)
	if err := l.EndRun(nil); err == nil {
		t.Error("EndRun without a run should fail")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("files written outside a run: %v", entries)
	}
	if !strings.Contains(diag.String(), "no active run") {
		t.Errorf("diagnostic = %q", diag.String())
	}
}

func TestLogger_GeneratedRunID(t *testing.T) {
	l, dir := newTestLogger(t)
	runID, err := l.StartRun("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if runID == "" {
		t.Fatal("empty generated run id")
	}
	if _, err := os.Stat(Path(dir, runID)); err != nil {
		t.Errorf("log file: %v", err)
	}
}

func TestLogger_StartRunEndsPrevious(t *testing.T) {
	l, dir := newTestLogger(t)
	_, _ = l.StartRun("first", nil)
	_, _ = l.StartRun("second", nil)

	events, _ := ReadFile(Path(dir, "first"), QueryOpts{})
	if len(events) != 2 || events[1].Event != protocol.EventRunEnd {
		t.Errorf("first run = %+v", events)
	}
	if l.RunID() != "second" {
		t.Errorf("run id = %q", l.RunID())
	}
}

func TestLogger_UnencodableOutputs(t *testing.T) {
	l, dir := newTestLogger(t)
	_, _ = l.StartRun("r", nil)
	l.LogTask("a", "w", "completed", map[string]any{"fn": func() {}})
	_ = l.EndRun(nil)

	events, _ := ReadFile(Path(dir, "r"), QueryOpts{Event: protocol.EventTask})
	if len(events) != 1 {
		t.Fatalf("events = %+v", events)
	}
	if _, ok := events[0].Data["unencodable"]; !ok {
		t.Errorf("data = %v", events[0].Data)
	}
}

func TestLogger_ConcurrentTasks(t *testing.T) {
	l, dir := newTestLogger(t)
	_, _ = l.StartRun("r", nil)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.LogTask("t", "w", "completed", map[string]any{"i": i})
		}()
	}
	wg.Wait()
	_ = l.EndRun(nil)

	events, err := ReadFile(Path(dir, "r"), QueryOpts{Event: protocol.EventTask})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 50 {
		t.Errorf("task events = %d, want 50", len(events))
	}
}

func TestNewLogger_EmptyDir(t *testing.T) {
	if _, err := NewLogger(Config{}); err == nil {
		t.Error("expected error for empty dir")
	}
}
