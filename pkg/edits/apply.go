package edits

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ConflictError is returned when a batch contains files flagged by
// DetectConflicts and the caller did not ask to override. Nothing is
// written.
type ConflictError struct {
	Files []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("batch refused: conflicting edits on %s (reconcile or override)",
		strings.Join(e.Files, ", "))
}

// StaleEditError is returned for a file whose edit no longer matches: the
// old content was not found. The file is left untouched.
type StaleEditError struct {
	File  string
	Index int // position of the failing edit within the file's batch
	Agent string
}

func (e *StaleEditError) Error() string {
	return fmt.Sprintf("stale edit %d on %s from %s: old content not found", e.Index, e.File, e.Agent)
}

// FileSystem abstracts file access for testability.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
}

// OSFileSystem implements FileSystem on the local disk. Writes go to a
// temporary file that is renamed into place.
type OSFileSystem struct{}

// ReadFile reads path.
func (OSFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data to path atomically, creating parent directories.
func (OSFileSystem) WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".edit-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ApplyOpts holds parameters for one batch application.
type ApplyOpts struct {
	// Override applies files listed as conflicting instead of refusing.
	Override bool
	// Conflicts maps conflicting file paths to agent ids, as returned by
	// Grouper.DetectConflicts.
	Conflicts map[string][]string
}

// Result lists the outcome of a batch application.
type Result struct {
	Applied []string         `json:"applied"`
	Failed  map[string]error `json:"-"`
}

// FileApplier writes batches to files under Root. Only one batch is applied
// at a time.
type FileApplier struct {
	mu   sync.Mutex
	root string
	fs   FileSystem
}

// NewFileApplier creates an applier rooted at root. A nil fsys uses the
// local disk.
func NewFileApplier(root string, fsys FileSystem) *FileApplier {
	if fsys == nil {
		fsys = OSFileSystem{}
	}
	return &FileApplier{root: root, fs: fsys}
}

// ApplyGroup applies g's batch using g's own conflict report.
func (a *FileApplier) ApplyGroup(ctx context.Context, g *Grouper, override bool) (*Result, error) {
	return a.Apply(ctx, g.ToBatchFormat(), ApplyOpts{
		Override:  override,
		Conflicts: g.DetectConflicts(),
	})
}

// Apply writes every file in batch. Within a file, each edit replaces the
// first occurrence of its Old text with New, in order; an empty Old appends
// New. If any file is conflicting and Override is false, Apply returns
// *ConflictError before touching disk. A file whose edit is stale is
// skipped and reported in Result.Failed; the returned error joins all
// per-file failures.
func (a *FileApplier) Apply(ctx context.Context, batch []BatchFile, opts ApplyOpts) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !opts.Override {
		var flagged []string
		for _, bf := range batch {
			if _, ok := opts.Conflicts[bf.File]; ok {
				flagged = append(flagged, bf.File)
			}
		}
		if len(flagged) > 0 {
			return nil, &ConflictError{Files: flagged}
		}
	}

	res := &Result{Failed: make(map[string]error)}
	var errs []error
	for _, bf := range batch {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("apply cancelled: %w", err)
		}
		if err := a.applyFile(bf); err != nil {
			res.Failed[bf.File] = err
			errs = append(errs, err)
			continue
		}
		res.Applied = append(res.Applied, bf.File)
	}
	return res, errors.Join(errs...)
}

func (a *FileApplier) applyFile(bf BatchFile) error {
	path, err := a.resolve(bf.File)
	if err != nil {
		return err
	}

	data, err := a.fs.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", bf.File, err)
	}

	content := string(data)
	for i, e := range bf.Edits {
		if e.Old == "" {
			content += e.New
			continue
		}
		if !strings.Contains(content, e.Old) {
			return &StaleEditError{File: bf.File, Index: i, Agent: e.Agent}
		}
		content = strings.Replace(content, e.Old, e.New, 1)
	}

	if err := a.fs.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", bf.File, err)
	}
	return nil
}

// resolve maps a batch path to a path under root, rejecting paths that
// escape it.
func (a *FileApplier) resolve(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(a.root, p)
		if err != nil || !filepath.IsLocal(rel) {
			return "", fmt.Errorf("path %s is outside %s", p, a.root)
		}
		return p, nil
	}
	if !filepath.IsLocal(p) {
		return "", fmt.Errorf("path %s is outside %s", p, a.root)
	}
	return filepath.Join(a.root, p), nil
}
