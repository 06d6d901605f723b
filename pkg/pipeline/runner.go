package pipeline

import (
	"context"
	"fmt"
	"log"
	"maps"
)

// EventSink receives one event per stage transition. runlog.Logger
// implements it.
type EventSink interface {
	LogTask(taskID, agentID, status string, outputs map[string]any)
}

// Runner walks a composed pipeline one stage at a time.
type Runner struct {
	Logger *log.Logger // optional
	Events EventSink   // optional
	// Agent is reported as the agent id on every stage event.
	Agent string
}

// Run executes the stages on p's path in order, starting from a copy of
// initial. A stage error stops the walk and is returned as *StageError
// together with the state accumulated so far. Run never recovers a stage
// error on its own; use Guard for stages whose failure should be non-fatal.
func (r *Runner) Run(ctx context.Context, p *Pipeline, initial State) (State, error) {
	state := make(State, len(initial))
	maps.Copy(state, initial)

	agent := r.Agent
	if agent == "" {
		agent = "pipeline"
	}

	for name := p.Entry(); name != End; {
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("pipeline: %w", err)
		}

		r.emit(name, agent, "started", nil)
		update, err := p.execs[name](ctx, state)
		if err != nil {
			r.emit(name, agent, "failed", map[string]any{"error": err.Error()})
			r.logf("pipeline: stage %s failed: %v", name, err)
			return state, &StageError{Stage: name, Err: err}
		}
		merge(state, update)
		r.emit(name, agent, "completed", update)

		next, ok := p.Next(name)
		if !ok {
			return state, fmt.Errorf("pipeline: stage %s has no successor", name)
		}
		name = next
	}
	return state, nil
}

func (r *Runner) emit(stage, agent, status string, outputs map[string]any) {
	if r.Events != nil {
		r.Events.LogTask(stage, agent, status, outputs)
	}
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}
