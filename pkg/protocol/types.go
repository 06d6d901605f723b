package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType classifies a run log line.
type EventType string

// Run log event types.
const (
	EventRunStart EventType = "run_start"
	EventTask     EventType = "task"
	EventRunEnd   EventType = "run_end"
)

// Valid reports whether t is one of the three run log event types.
func (t EventType) Valid() bool {
	switch t {
	case EventRunStart, EventTask, EventRunEnd:
		return true
	default:
		return false
	}
}

// RunEvent is one newline-delimited JSON record in a run log.
//
//	{"event":"task","data":{...},"timestamp":"2026-01-02T15:04:05.000000001Z"}
type RunEvent struct {
	Event     EventType      `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// TaskID returns data.task_id when present.
func (e RunEvent) TaskID() string {
	if v, ok := e.Data["task_id"].(string); ok {
		return v
	}
	return ""
}

// Status returns data.status when present.
func (e RunEvent) Status() string {
	if v, ok := e.Data["status"].(string); ok {
		return v
	}
	return ""
}

// ParseRunEvent decodes a single run log line.
func ParseRunEvent(line []byte) (RunEvent, error) {
	var ev RunEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return RunEvent{}, fmt.Errorf("parse run event: %w", err)
	}
	if !ev.Event.Valid() {
		return RunEvent{}, fmt.Errorf("parse run event: unknown event %q", ev.Event)
	}
	return ev, nil
}

// Capability names reported in a run summary when an optional
// collaborator is or is not available.
const (
	CapabilitySearch      = "knowledge_retrieved"
	CapabilityGenerator   = "generator_available"
	CapabilityPersistence = "persistence"
)
