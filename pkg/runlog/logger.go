// Package runlog writes and reads per-run logs: one newline-delimited JSON
// file per run id, one line per event.
//
//	{"event":"run_start","data":{"run_id":"...","metadata":{...}},"timestamp":"..."}
//	{"event":"task","data":{"task_id":"a","agent_id":"prd","status":"completed","outputs":{...},"timestamp":"..."},"timestamp":"..."}
//	{"event":"run_end","data":{"summary":{...}},"timestamp":"..."}
package runlog

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jenozu/orchestrator/pkg/protocol"
)

// Config holds Logger configuration.
type Config struct {
	Dir    string           // directory holding <run-id>.log files (required)
	Logger *log.Logger      // operational diagnostics (default log.Default())
	Now    func() time.Time // default time.Now
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// Logger appends events for the current run. It is safe for concurrent use
// and satisfies ledger.EventSink and pipeline.EventSink.
type Logger struct {
	cfg Config

	mu    sync.Mutex
	runID string
	f     *os.File
}

// NewLogger creates the log directory if needed.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("runlog: empty log dir")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("runlog: create dir: %w", err)
	}
	return &Logger{cfg: cfg.withDefaults()}, nil
}

// Path returns the log file for runID inside dir.
func Path(dir, runID string) string {
	return filepath.Join(dir, runID+protocol.RunLogExt)
}

// NewRunID returns a fresh run id.
func NewRunID() string {
	return uuid.NewString()
}

// RunID returns the current run id, or "" between runs.
func (l *Logger) RunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runID
}

// StartRun opens <dir>/<runID>.log for append and writes run_start. An
// empty runID gets a generated one. A run already in progress is ended
// with an empty summary first.
func (l *Logger) StartRun(runID string, metadata map[string]any) (string, error) {
	if runID == "" {
		runID = NewRunID()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f != nil {
		l.writeLocked(protocol.EventRunEnd, map[string]any{"summary": map[string]any{}})
		l.closeLocked()
	}

	f, err := os.OpenFile(Path(l.cfg.Dir, runID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("runlog: open: %w", err)
	}
	l.f = f
	l.runID = runID
	l.writeLocked(protocol.EventRunStart, map[string]any{"run_id": runID, "metadata": metadata})
	return runID, nil
}

// LogTask writes a task event. Outside a run the event is only sent to the
// diagnostic logger.
func (l *Logger) LogTask(taskID, agentID, status string, outputs map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writeLocked(protocol.EventTask, map[string]any{
		"task_id":   taskID,
		"agent_id":  agentID,
		"status":    status,
		"outputs":   outputs,
		"timestamp": l.cfg.Now().UTC().Format(time.RFC3339Nano),
	})
}

// EndRun writes run_end with summary and closes the file.
func (l *Logger) EndRun(summary map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return fmt.Errorf("runlog: no run in progress")
	}
	l.writeLocked(protocol.EventRunEnd, map[string]any{"summary": summary})
	return l.closeLocked()
}

// Close ends any open run without a run_end line.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Logger) closeLocked() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	l.runID = ""
	if err != nil {
		return fmt.Errorf("runlog: close: %w", err)
	}
	return nil
}

// writeLocked appends one event. Write failures are reported to the
// diagnostic logger; a run log is never allowed to fail the run.
func (l *Logger) writeLocked(event protocol.EventType, data map[string]any) {
	if l.f == nil {
		l.cfg.Logger.Printf("runlog: %s (no active run): %v", event, data)
		return
	}

	ev := protocol.RunEvent{Event: event, Data: data, Timestamp: l.cfg.Now().UTC()}
	line, err := json.Marshal(ev)
	if err != nil {
		l.cfg.Logger.Printf("runlog: encode %s: %v", event, err)
		ev.Data = map[string]any{"unencodable": fmt.Sprintf("%v", data)}
		if line, err = json.Marshal(ev); err != nil {
			return
		}
	}
	if _, err := l.f.Write(append(line, '\n')); err != nil {
		l.cfg.Logger.Printf("runlog: write %s: %v", event, err)
	}
}
