package runlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/jenozu/orchestrator/pkg/protocol"
)

// tailer reads complete lines appended to a file since the last poll.
type tailer struct {
	path    string
	offset  int64
	partial []byte
}

func (t *tailer) poll() ([]protocol.RunEvent, error) {
	f, err := os.Open(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	t.offset += int64(len(data))

	buf := append(t.partial, data...)
	var events []protocol.RunEvent
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(buf[:i])
		buf = buf[i+1:]
		if len(line) == 0 {
			continue
		}
		if ev, err := protocol.ParseRunEvent(line); err == nil {
			events = append(events, ev)
		}
	}
	t.partial = append([]byte(nil), buf...)
	return events, nil
}

// Follow calls fn for every matching event already in the log at path and
// for each one appended afterwards, until the run_end event is read, ctx is
// done, or fn returns an error. The file need not exist yet.
func Follow(ctx context.Context, path string, opts QueryOpts, fn func(protocol.RunEvent) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("follow: watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("follow: watch %s: %w", dir, err)
	}

	t := &tailer{path: path}
	drain := func() (bool, error) {
		events, err := t.poll()
		if err != nil {
			return false, fmt.Errorf("follow: read: %w", err)
		}
		for _, ev := range events {
			if opts.Match(ev) {
				if err := fn(ev); err != nil {
					return false, err
				}
			}
			if ev.Event == protocol.EventRunEnd {
				return true, nil
			}
		}
		return false, nil
	}

	if done, err := drain(); done || err != nil {
		return err
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if done, err := drain(); done || err != nil {
				return err
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("follow: %w", err)
		}
	}
}
