// Package pipeline composes a fixed sequence of named stages into a single
// execution path, skipping stages whose executor is absent.
//
// Composition happens once, before any stage runs. The resulting path is
// linear: every available stage has exactly one successor, which is either
// the next available stage in declaration order or End.
package pipeline

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// End is the terminal marker. No stage may use this name.
const End = "__end__"

// StartStage is the name of the no-op stage used when no stage is available.
const StartStage = "start"

// State is the accumulated key/value state passed from stage to stage.
type State map[string]any

// StageFunc executes one stage. It receives the accumulated state and
// returns the keys to add or overwrite.
type StageFunc func(ctx context.Context, state State) (State, error)

// Stage is a named step. A nil Exec marks the stage unavailable.
type Stage struct {
	Name string
	Exec StageFunc
}

// Available reports whether the stage has an executor.
func (s Stage) Available() bool { return s.Exec != nil }

// StageError wraps an error returned by a stage executor.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Pipeline is a composed, immutable execution path.
type Pipeline struct {
	entry   string
	edges   map[string]string
	execs   map[string]StageFunc
	path    []string
	skipped []string
}

// Compose wires stages in order. The entry point is the first available
// stage; each available stage points at the next available one, the last
// at End. Unavailable stages get no edges. If no stage is available the
// pipeline consists of a single StartStage that sets status=started.
func Compose(stages ...Stage) *Pipeline {
	p := &Pipeline{
		edges: make(map[string]string),
		execs: make(map[string]StageFunc),
	}

	for _, s := range stages {
		if !s.Available() {
			p.skipped = append(p.skipped, s.Name)
			continue
		}
		p.path = append(p.path, s.Name)
		p.execs[s.Name] = s.Exec
	}

	if len(p.path) == 0 {
		p.path = []string{StartStage}
		p.execs[StartStage] = startNoop
	}

	p.entry = p.path[0]
	for i, name := range p.path {
		if i+1 < len(p.path) {
			p.edges[name] = p.path[i+1]
		} else {
			p.edges[name] = End
		}
	}
	return p
}

func startNoop(context.Context, State) (State, error) {
	return State{"status": "started"}, nil
}

// Entry returns the first stage to run.
func (p *Pipeline) Entry() string { return p.entry }

// Path returns the stage names in execution order, excluding End.
func (p *Pipeline) Path() []string { return slices.Clone(p.path) }

// Skipped returns unavailable stages in declaration order.
func (p *Pipeline) Skipped() []string { return slices.Clone(p.skipped) }

// Next returns the successor of name. ok is false for stages that are not
// on the path (unavailable or unknown).
func (p *Pipeline) Next(name string) (string, bool) {
	next, ok := p.edges[name]
	return next, ok
}

// Run walks the path with no hooks. See Runner.
func (p *Pipeline) Run(ctx context.Context, initial State) (State, error) {
	return (&Runner{}).Run(ctx, p, initial)
}

// merge shallow-merges update into state.
func merge(state, update State) {
	maps.Copy(state, update)
}
