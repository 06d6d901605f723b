package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os/exec"
	"strings"

	"github.com/jenozu/orchestrator/pkg/ledger"
	"github.com/jenozu/orchestrator/pkg/pipeline"
	"github.com/jenozu/orchestrator/pkg/stages"
)

// Agent names understood in task files besides the built-in stage names.
const (
	agentShell = "shell"
	agentNoop  = "noop"
)

// shellWorker runs metadata["command"] with sh -c in dir. Stdout that is a
// JSON object becomes the task outputs (so a command can propose edits);
// anything else is returned under "stdout".
type shellWorker struct {
	dir string
}

func (w shellWorker) Run(ctx context.Context, node ledger.Node) (map[string]any, error) {
	command, _ := node.Metadata["command"].(string)
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("shell task has no command")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command) //nolint:gosec // commands come from the user's task file
	cmd.Dir = w.dir
	cmd.Stdin = strings.NewReader("")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}

	out := bytes.TrimSpace(stdout.Bytes())
	var obj map[string]any
	if len(out) > 0 && out[0] == '{' && json.Unmarshal(out, &obj) == nil {
		return obj, nil
	}
	return map[string]any{"stdout": string(out)}, nil
}

// stageWorker runs one pipeline stage as a task. Its input state is the
// run request merged with the outputs of the task's dependencies, in
// dependency order.
type stageWorker struct {
	stage   pipeline.Stage
	ledger  *ledger.Ledger
	request string
}

func (w stageWorker) Run(ctx context.Context, node ledger.Node) (map[string]any, error) {
	if !w.stage.Available() {
		return nil, fmt.Errorf("stage %s unavailable", w.stage.Name)
	}

	state := pipeline.State{stages.RequestKey: w.request}
	for _, dep := range node.Dependencies {
		if n, ok := w.ledger.Lookup(dep); ok {
			maps.Copy(state, n.Outputs)
		}
	}
	return w.stage.Exec(ctx, state)
}

// newWorkers builds the agent table for a task run.
func newWorkers(l *ledger.Ledger, dir, request string, built []pipeline.Stage) map[string]ledger.Worker {
	workers := map[string]ledger.Worker{
		agentShell: shellWorker{dir: dir},
		agentNoop: ledger.WorkerFunc(func(context.Context, ledger.Node) (map[string]any, error) {
			return map[string]any{}, nil
		}),
	}
	for _, s := range built {
		workers[s.Name] = stageWorker{stage: s, ledger: l, request: request}
	}
	return workers
}
