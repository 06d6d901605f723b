package protocol_test

import (
	"testing"

	"github.com/jenozu/orchestrator/pkg/protocol"
)

func TestParseRunEvent(t *testing.T) {
	line := []byte(`{"event":"task","data":{"task_id":"a","agent_id":"intent","status":"completed"},"timestamp":"2026-01-02T15:04:05Z"}`)

	ev, err := protocol.ParseRunEvent(line)
	if err != nil {
		t.Fatalf("ParseRunEvent: %v", err)
	}
	if ev.Event != protocol.EventTask {
		t.Errorf("Event = %q, want task", ev.Event)
	}
	if ev.TaskID() != "a" {
		t.Errorf("TaskID() = %q, want a", ev.TaskID())
	}
	if ev.Status() != "completed" {
		t.Errorf("Status() = %q, want completed", ev.Status())
	}
	if ev.Timestamp.Year() != 2026 {
		t.Errorf("Timestamp = %v", ev.Timestamp)
	}
}

func TestParseRunEvent_Rejects(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", `{nope`},
		{"unknown event", `{"event":"heartbeat","data":{},"timestamp":"2026-01-02T15:04:05Z"}`},
		{"missing event", `{"data":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := protocol.ParseRunEvent([]byte(tt.line)); err == nil {
				t.Errorf("expected error for %s", tt.line)
			}
		})
	}
}

func TestRunEvent_AccessorsTolerateMissingData(t *testing.T) {
	ev := protocol.RunEvent{Event: protocol.EventRunEnd}
	if ev.TaskID() != "" || ev.Status() != "" {
		t.Errorf("expected empty accessors on nil data, got %q/%q", ev.TaskID(), ev.Status())
	}
}
