// Package ledger tracks dependency-gated task status for a single run and
// computes the set of tasks that are ready to start.
//
// The Ledger is shared mutable state: many workers report outcomes
// concurrently while a driver polls ReadySet. Every status transition and
// every readiness evaluation holds the same lock, so a ReadySet result is
// always computed from one consistent snapshot.
//
// Mutations on unknown ids are silent no-ops. Callers that need to detect a
// dropped mutation check the returned bool or use Lookup.
package ledger

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Status is the lifecycle state of a task node.
type Status string

// Task status constants.
const (
	StatusPending   Status = "pending"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether s is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Node is a registered task. Outputs is set only when Completed, Error only
// when Failed.
type Node struct {
	ID           string         `json:"id"`
	Dependencies []string       `json:"deps"`
	Status       Status         `json:"status"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// clone returns a copy that shares no slices or top-level maps with n.
func (n *Node) clone() Node {
	return Node{
		ID:           n.ID,
		Dependencies: slices.Clone(n.Dependencies),
		Status:       n.Status,
		Metadata:     maps.Clone(n.Metadata),
		Outputs:      maps.Clone(n.Outputs),
		Error:        n.Error,
	}
}

// DuplicateTaskError is returned by Register when the id is already taken.
type DuplicateTaskError struct {
	ID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %q already registered", e.ID)
}

// Summary counts nodes per status.
type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Started   int `json:"started"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Ledger is an in-memory registry of task nodes for one run.
type Ledger struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string // registration order, for deterministic output
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{nodes: make(map[string]*Node)}
}

// Register adds a Pending node. Dependencies are not validated: a dependency
// on an id that is never registered simply never resolves.
func (l *Ledger) Register(id string, deps []string, metadata map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.nodes[id]; exists {
		return &DuplicateTaskError{ID: id}
	}
	l.nodes[id] = &Node{
		ID:           id,
		Dependencies: slices.Clone(deps),
		Status:       StatusPending,
		Metadata:     maps.Clone(metadata),
	}
	l.order = append(l.order, id)
	return nil
}

// MarkStarted moves a Pending node to Started. Returns false (and changes
// nothing) if the id is unknown or the node is not Pending.
func (l *Ledger) MarkStarted(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.nodes[id]
	if !ok || n.Status != StatusPending {
		return false
	}
	n.Status = StatusStarted
	return true
}

// MarkCompleted moves any non-terminal node to Completed and stores outputs.
// Skipping the Started transition is allowed.
func (l *Ledger) MarkCompleted(id string, outputs map[string]any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.nodes[id]
	if !ok || n.Status.IsTerminal() {
		return false
	}
	n.Status = StatusCompleted
	n.Outputs = maps.Clone(outputs)
	return true
}

// MarkFailed moves any non-terminal node to Failed and records the cause.
// Dependents are not touched: they stay Pending and never become ready.
func (l *Ledger) MarkFailed(id string, errMsg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.nodes[id]
	if !ok || n.Status.IsTerminal() {
		return false
	}
	n.Status = StatusFailed
	n.Error = errMsg
	return true
}

// ReadySet returns the ids of every Pending node whose dependencies are all
// registered and Completed, in registration order.
func (l *Ledger) ReadySet() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ready := make([]string, 0)
	for _, id := range l.order {
		n := l.nodes[id]
		if n.Status == StatusPending && l.depsCompletedLocked(n) {
			ready = append(ready, id)
		}
	}
	return ready
}

// depsCompletedLocked reports whether every dependency of n is Completed.
// Caller must hold l.mu.
func (l *Ledger) depsCompletedLocked(n *Node) bool {
	for _, dep := range n.Dependencies {
		d, ok := l.nodes[dep]
		if !ok || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Lookup returns a copy of the node registered under id.
func (l *Ledger) Lookup(id string) (Node, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n, ok := l.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Export returns a copy of the full node map.
func (l *Ledger) Export() map[string]Node {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Node, len(l.nodes))
	for id, n := range l.nodes {
		out[id] = n.clone()
	}
	return out
}

// IDs returns all registered ids in registration order.
func (l *Ledger) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.order)
}

// Summary returns node counts per status.
func (l *Ledger) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.summaryLocked()
}

func (l *Ledger) summaryLocked() Summary {
	s := Summary{Total: len(l.nodes)}
	for _, n := range l.nodes {
		switch n.Status {
		case StatusPending:
			s.Pending++
		case StatusStarted:
			s.Started++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Stalled reports whether no progress is possible: nothing is Started,
// nothing is ready, and at least one node is still Pending. A driver treats
// a stalled ledger as a deadlock.
func (l *Ledger) Stalled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := l.summaryLocked()
	if s.Started > 0 || s.Pending == 0 {
		return false
	}
	for _, id := range l.order {
		n := l.nodes[id]
		if n.Status == StatusPending && l.depsCompletedLocked(n) {
			return false
		}
	}
	return true
}

// Blocked returns Pending nodes that can never become ready: some
// dependency, directly or transitively, is Failed, unregistered, or part of
// a cycle. Output is in registration order.
func (l *Ledger) Blocked() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(l.nodes))
	doomed := make(map[string]bool, len(l.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		n, ok := l.nodes[id]
		if !ok {
			return true
		}
		switch state[id] {
		case visiting:
			return true // back edge: cycle
		case visited:
			return doomed[id]
		}
		switch n.Status {
		case StatusFailed:
			state[id] = visited
			doomed[id] = true
			return true
		case StatusCompleted:
			state[id] = visited
			return false
		}
		state[id] = visiting
		bad := false
		for _, dep := range n.Dependencies {
			if visit(dep) {
				bad = true
			}
		}
		state[id] = visited
		doomed[id] = bad
		return bad
	}

	var blocked []string
	for _, id := range l.order {
		if l.nodes[id].Status == StatusPending && visit(id) {
			blocked = append(blocked, id)
		}
	}
	return blocked
}

// Cycles returns every dependency cycle among registered nodes, each as the
// ids of one strongly connected component in registration order. A node
// that depends on itself is a cycle of one. Register never calls this; it
// is a diagnostic for callers that want to fail fast.
func (l *Ledger) Cycles() [][]string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos := make(map[string]int, len(l.order))
	for i, id := range l.order {
		pos[id] = i
	}

	// Tarjan's strongly connected components.
	index := 0
	indices := make(map[string]int, len(l.nodes))
	lowlink := make(map[string]int, len(l.nodes))
	onStack := make(map[string]bool, len(l.nodes))
	var stack []string
	var cycles [][]string

	var strongConnect func(id string)
	strongConnect = func(id string) {
		indices[id] = index
		lowlink[id] = index
		index++
		stack = append(stack, id)
		onStack[id] = true

		selfLoop := false
		for _, dep := range l.nodes[id].Dependencies {
			if _, ok := l.nodes[dep]; !ok {
				continue
			}
			if dep == id {
				selfLoop = true
			}
			if _, seen := indices[dep]; !seen {
				strongConnect(dep)
				lowlink[id] = min(lowlink[id], lowlink[dep])
			} else if onStack[dep] {
				lowlink[id] = min(lowlink[id], indices[dep])
			}
		}

		if lowlink[id] != indices[id] {
			return
		}
		var comp []string
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			comp = append(comp, top)
			if top == id {
				break
			}
		}
		if len(comp) > 1 || selfLoop {
			slices.SortFunc(comp, func(a, b string) int { return pos[a] - pos[b] })
			cycles = append(cycles, comp)
		}
	}

	for _, id := range l.order {
		if _, seen := indices[id]; !seen {
			strongConnect(id)
		}
	}

	slices.SortFunc(cycles, func(a, b []string) int { return pos[a[0]] - pos[b[0]] })
	return cycles
}
