package ledger

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Worker executes one task. A returned error marks the task Failed; it never
// aborts the run.
type Worker interface {
	Run(ctx context.Context, node Node) (map[string]any, error)
}

// WorkerFunc adapts a plain function to Worker.
type WorkerFunc func(ctx context.Context, node Node) (map[string]any, error)

// Run calls f(ctx, node).
func (f WorkerFunc) Run(ctx context.Context, node Node) (map[string]any, error) {
	return f(ctx, node)
}

// EventSink receives task lifecycle events. runlog.Logger implements it.
type EventSink interface {
	LogTask(taskID, agentID, status string, outputs map[string]any)
}

// AgentKey is the metadata key naming the worker that runs a task. Tasks
// without it are dispatched to the worker registered under their own id.
const AgentKey = "agent"

// AgentFor returns the worker name for a node.
func AgentFor(n Node) string {
	if a, ok := n.Metadata[AgentKey].(string); ok && a != "" {
		return a
	}
	return n.ID
}

// DeadlockError is returned by Driver.Run when Pending tasks remain but
// none can ever become ready (a dependency failed, was never registered, or
// the graph has a cycle).
type DeadlockError struct {
	Pending []string
	Failed  []string
}

func (e *DeadlockError) Error() string {
	msg := fmt.Sprintf("ledger stalled with %d pending task(s): %s",
		len(e.Pending), strings.Join(e.Pending, ", "))
	if len(e.Failed) > 0 {
		msg += fmt.Sprintf(" (failed: %s)", strings.Join(e.Failed, ", "))
	}
	return msg
}

// DriverConfig holds Driver configuration.
type DriverConfig struct {
	MaxParallel int         // concurrent workers (default 4)
	Logger      *log.Logger // operational diagnostics (default log.Default())
	Events      EventSink   // optional run log sink
}

func (c *DriverConfig) withDefaults() DriverConfig {
	out := *c
	if out.MaxParallel <= 0 {
		out.MaxParallel = 4
	}
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	return out
}

// Driver dispatches ready tasks to workers, one goroutine per task, and
// reports outcomes back to the Ledger. It is the only writer of Started.
type Driver struct {
	cfg     DriverConfig
	ledger  *Ledger
	workers map[string]Worker
	wake    chan struct{}
}

// NewDriver creates a Driver over l. workers is keyed by agent name (see
// AgentFor).
func NewDriver(l *Ledger, workers map[string]Worker, cfg DriverConfig) *Driver {
	return &Driver{
		cfg:     cfg.withDefaults(),
		ledger:  l,
		workers: workers,
		wake:    make(chan struct{}, 1),
	}
}

// Run drives the ledger until every task is terminal. It returns
// *DeadlockError when Pending tasks can no longer make progress, or the
// context error if ctx is cancelled; in-flight workers are always awaited.
func (d *Driver) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(d.cfg.MaxParallel)

	for {
		if err := ctx.Err(); err != nil {
			_ = g.Wait()
			return fmt.Errorf("driver: %w", err)
		}

		for _, id := range d.ledger.ReadySet() {
			if !d.ledger.MarkStarted(id) {
				continue
			}
			node, ok := d.ledger.Lookup(id)
			if !ok {
				continue
			}
			g.Go(func() error {
				d.execute(ctx, node)
				d.signal()
				return nil
			})
		}

		s := d.ledger.Summary()
		if s.Pending == 0 && s.Started == 0 {
			return g.Wait()
		}
		if d.ledger.Stalled() {
			_ = g.Wait()
			return d.deadlock()
		}

		select {
		case <-d.wake:
		case <-ctx.Done():
		}
	}
}

// signal wakes Run without blocking; one pending wake-up is enough.
func (d *Driver) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// execute runs a single task and records its outcome.
func (d *Driver) execute(ctx context.Context, node Node) {
	agent := AgentFor(node)
	d.emit(node.ID, agent, string(StatusStarted), nil)

	w, ok := d.workers[agent]
	if !ok {
		msg := fmt.Sprintf("no worker for agent %q", agent)
		d.ledger.MarkFailed(node.ID, msg)
		d.emit(node.ID, agent, string(StatusFailed), map[string]any{"error": msg})
		d.cfg.Logger.Printf("ledger: task %s: %s", node.ID, msg)
		return
	}

	outputs, err := d.runWorker(ctx, w, node)
	if err != nil {
		d.ledger.MarkFailed(node.ID, err.Error())
		d.emit(node.ID, agent, string(StatusFailed), map[string]any{"error": err.Error()})
		d.cfg.Logger.Printf("ledger: task %s failed: %v", node.ID, err)
		return
	}
	d.ledger.MarkCompleted(node.ID, outputs)
	d.emit(node.ID, agent, string(StatusCompleted), outputs)
}

// runWorker converts a worker panic into a task failure.
func (d *Driver) runWorker(ctx context.Context, w Worker, node Node) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return w.Run(ctx, node)
}

func (d *Driver) emit(taskID, agent, status string, outputs map[string]any) {
	if d.cfg.Events != nil {
		d.cfg.Events.LogTask(taskID, agent, status, outputs)
	}
}

func (d *Driver) deadlock() error {
	e := &DeadlockError{}
	for _, id := range d.ledger.IDs() {
		n, _ := d.ledger.Lookup(id)
		switch n.Status {
		case StatusPending:
			e.Pending = append(e.Pending, id)
		case StatusFailed:
			e.Failed = append(e.Failed, id)
		}
	}
	return e
}
