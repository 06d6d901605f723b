package runlog //nolint:testpackage // white-box tests

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jenozu/orchestrator/pkg/protocol"
)

const sampleLog = `{"event":"run_start","data":{"run_id":"r1","metadata":{}},"timestamp":"2026-05-04T10:00:00Z"}
{"event":"task","data":{"task_id":"a","agent_id":"intent","status":"started"},"timestamp":"2026-05-04T10:00:01Z"}
{"event":"task","data":{"task_id":"a","agent_id":"intent","status":"completed"},"timestamp":"2026-05-04T10:00:02Z"}
not json at all
{"event":"bogus","data":{}}
{"event":"task","data":{"task_id":"b","agent_id":"rules","status":"started"},"timestamp":"2026-05-04T10:00:03Z"}
{"event":"task","data":{"task_id":"b","agent_id":"rules","status":"failed"},"timestamp":"2026-05-04T10:00:04Z"}
{"event":"run_end","data":{"summary":{}},"timestamp":"2026-05-04T10:00:05Z"}
{"event":"task","data":{"task_id":"c"`

func ts(sec int) *time.Time {
	t := time.Date(2026, 5, 4, 10, 0, sec, 0, time.UTC)
	return &t
}

func TestRead_Filters(t *testing.T) {
	tests := []struct {
		name  string
		opts  QueryOpts
		count int
	}{
		{"all", QueryOpts{}, 6},
		{"by event", QueryOpts{Event: protocol.EventTask}, 4},
		{"by task", QueryOpts{TaskID: "a"}, 2},
		{"by agent", QueryOpts{AgentID: "rules"}, 2},
		{"by status", QueryOpts{Status: "failed"}, 1},
		{"after", QueryOpts{After: ts(3)}, 3},
		{"before", QueryOpts{Before: ts(1)}, 2},
		{"window", QueryOpts{After: ts(1), Before: ts(2)}, 2},
		{"limit keeps last", QueryOpts{Limit: 2}, 2},
		{"no match", QueryOpts{TaskID: "zzz"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := Read(strings.NewReader(sampleLog), tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(events) != tt.count {
				t.Errorf("got %d events, want %d: %+v", len(events), tt.count, events)
			}
		})
	}

	last, _ := Read(strings.NewReader(sampleLog), QueryOpts{Limit: 1})
	if len(last) != 1 || last[0].Event != protocol.EventRunEnd {
		t.Errorf("limit 1 = %+v", last)
	}
}

func TestSummarize(t *testing.T) {
	events, _ := Read(strings.NewReader(sampleLog), QueryOpts{})
	s := Summarize(events)
	if s.RunID != "r1" {
		t.Errorf("run id = %q", s.RunID)
	}
	if s.Ended.IsZero() {
		t.Error("run end not recorded")
	}
	if len(s.Order) != 2 || s.Order[0] != "a" || s.Order[1] != "b" {
		t.Errorf("order = %v", s.Order)
	}
	if s.Statuses["a"] != "completed" || s.Statuses["b"] != "failed" {
		t.Errorf("statuses = %v", s.Statuses)
	}
}

func TestReadFile_Missing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "nope.log"), QueryOpts{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestListRuns(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old"+protocol.RunLogExt)
	recent := filepath.Join(dir, "recent"+protocol.RunLogExt)
	for _, p := range []string{old, recent, filepath.Join(dir, "notes.txt")} {
		if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	_ = os.Chtimes(old, past, past)

	runs, err := ListRuns(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "recent" || runs[1].ID != "old" {
		t.Errorf("runs = %+v", runs)
	}

	missing, err := ListRuns(filepath.Join(dir, "absent"))
	if err != nil || len(missing) != 0 {
		t.Errorf("missing dir = %v, %v", missing, err)
	}
}

func TestFollow_ExistingThenAppended(t *testing.T) {
	l, dir := newTestLogger(t)
	_, _ = l.StartRun("live", nil)
	l.LogTask("a", "w", "started", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seen := make(chan protocol.RunEvent, 16)
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, Path(dir, "live"), QueryOpts{}, func(ev protocol.RunEvent) error {
			seen <- ev
			return nil
		})
	}()

	// Wait for the existing lines before appending more.
	for range 2 {
		select {
		case <-seen:
		case <-ctx.Done():
			t.Fatal("timed out waiting for existing events")
		}
	}

	l.LogTask("a", "w", "completed", nil)
	_ = l.EndRun(nil)

	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}
	close(seen)
	var got []protocol.EventType
	for ev := range seen {
		got = append(got, ev.Event)
	}
	if len(got) != 2 || got[1] != protocol.EventRunEnd {
		t.Errorf("appended events = %v", got)
	}
}

func TestFollow_StopsOnCallbackError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.log")
	if err := os.WriteFile(path, []byte(sampleLog), 0o644); err != nil {
		t.Fatal(err)
	}
	stop := errors.New("stop")
	err := Follow(context.Background(), path, QueryOpts{}, func(protocol.RunEvent) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("err = %v", err)
	}
}

func TestFollow_FinishedRunReturns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.log")
	if err := os.WriteFile(path, []byte(sampleLog), 0o644); err != nil {
		t.Fatal(err)
	}
	var n int
	err := Follow(context.Background(), path, QueryOpts{Event: protocol.EventTask}, func(protocol.RunEvent) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("delivered %d task events, want 4", n)
	}
}

func TestFollow_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := Follow(ctx, filepath.Join(t.TempDir(), "pending.log"), QueryOpts{}, func(protocol.RunEvent) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
}
