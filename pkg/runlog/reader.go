package runlog

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jenozu/orchestrator/pkg/protocol"
)

// QueryOpts specifies filter criteria for reading events. Zero values match
// everything.
type QueryOpts struct {
	// Event restricts to one event type.
	Event protocol.EventType

	// TaskID and AgentID restrict task events; other events never match
	// when either is set.
	TaskID  string
	AgentID string

	// Status restricts task events by status.
	Status string

	// After and Before bound the event timestamp (inclusive).
	After  *time.Time
	Before *time.Time

	// Limit keeps only the last N matching events (0 = no limit).
	Limit int
}

// Match reports whether ev passes every filter except Limit.
func (o QueryOpts) Match(ev protocol.RunEvent) bool {
	if o.Event != "" && ev.Event != o.Event {
		return false
	}
	if o.TaskID != "" && ev.TaskID() != o.TaskID {
		return false
	}
	if o.AgentID != "" {
		if a, _ := ev.Data["agent_id"].(string); a != o.AgentID {
			return false
		}
	}
	if o.Status != "" && ev.Status() != o.Status {
		return false
	}
	if o.After != nil && ev.Timestamp.Before(*o.After) {
		return false
	}
	if o.Before != nil && ev.Timestamp.After(*o.Before) {
		return false
	}
	return true
}

// Read decodes events from r in file order. Lines that do not parse, such
// as a partially written last line, are skipped.
func Read(r io.Reader, opts QueryOpts) ([]protocol.RunEvent, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var events []protocol.RunEvent
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := protocol.ParseRunEvent(line)
		if err != nil {
			continue
		}
		if opts.Match(ev) {
			events = append(events, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read run log: %w", err)
	}

	if opts.Limit > 0 && len(events) > opts.Limit {
		events = events[len(events)-opts.Limit:]
	}
	return events, nil
}

// ReadFile reads the log at path.
func ReadFile(path string, opts QueryOpts) ([]protocol.RunEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()
	return Read(f, opts)
}

// RunInfo describes one run log file.
type RunInfo struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	Modified time.Time `json:"modified"`
	Size     int64     `json:"size"`
}

// ListRuns returns the run logs in dir, most recently modified first. A
// missing directory yields no runs.
func ListRuns(dir string) ([]RunInfo, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var runs []RunInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, protocol.RunLogExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		runs = append(runs, RunInfo{
			ID:       strings.TrimSuffix(name, protocol.RunLogExt),
			Path:     filepath.Join(dir, name),
			Modified: info.ModTime(),
			Size:     info.Size(),
		})
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Modified.After(runs[j].Modified) })
	return runs, nil
}

// Summary is a per-status tally of the latest status of each task in a run.
type Summary struct {
	RunID    string
	Started  time.Time
	Ended    time.Time // zero while the run is in progress
	Statuses map[string]string
	Order    []string // task ids in first-seen order
}

// Summarize folds events into the latest status per task.
func Summarize(events []protocol.RunEvent) Summary {
	s := Summary{Statuses: make(map[string]string)}
	for _, ev := range events {
		switch ev.Event {
		case protocol.EventRunStart:
			s.RunID, _ = ev.Data["run_id"].(string)
			s.Started = ev.Timestamp
		case protocol.EventRunEnd:
			s.Ended = ev.Timestamp
		case protocol.EventTask:
			id := ev.TaskID()
			if id == "" {
				continue
			}
			if _, seen := s.Statuses[id]; !seen {
				s.Order = append(s.Order, id)
			}
			s.Statuses[id] = ev.Status()
		}
	}
	return s
}
