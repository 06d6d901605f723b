package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jenozu/orchestrator/pkg/edits"
	"github.com/jenozu/orchestrator/pkg/ledger"
	"github.com/jenozu/orchestrator/pkg/memory"
	"github.com/jenozu/orchestrator/pkg/pipeline"
	"github.com/jenozu/orchestrator/pkg/protocol"
	"github.com/jenozu/orchestrator/pkg/runlog"
	"github.com/jenozu/orchestrator/pkg/stages"
)

// runConfig holds configuration for the run command.
type runConfig struct {
	tasksPath   string
	runID       string
	maxParallel int
	apply       bool
	override    bool
}

// taskSpec is one entry of a --tasks file.
type taskSpec struct {
	ID       string         `json:"id"`
	Deps     []string       `json:"deps"`
	Agent    string         `json:"agent"`
	Command  string         `json:"command"`
	Fix      string         `json:"fix"` // key of a learned solution this task applies
	Metadata map[string]any `json:"metadata"`
}

// newRunCmd creates the "orchestrator run" subcommand.
func newRunCmd() *cobra.Command {
	var cfg runConfig

	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Run the stage pipeline or a task DAG",
		Long: "Without --tasks, composes the built-in stages that are available (knowledge,\n" +
			"intent, rules, requirements) and runs them on the request.\n" +
			"With --tasks, registers the tasks from a JSON file and drives them in\n" +
			"dependency order. Agents: shell, noop, or a stage name.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			if cfg.maxParallel <= 0 {
				cfg.maxParallel = a.cfg.MaxParallel
			}
			request := strings.Join(args, " ")

			h, err := a.openMemory(cmd.Context())
			if err != nil {
				return err
			}
			defer h.Close()

			rl, err := a.runLogger()
			if err != nil {
				return err
			}
			defer rl.Close()

			built := stages.Build(stages.Config{
				Generator: a.generator(),
				Memory:    h.Store,
				Root:      a.root,
				Logger:    a.logger,
				Enabled:   a.cfg.Stages,
			})

			var runErr error
			if cfg.tasksPath != "" {
				runErr = runTasks(cmd, a, h, rl, built, request, cfg)
			} else {
				if request == "" {
					return errors.New("run: a request is required without --tasks")
				}
				runErr = runPipeline(cmd, a, rl, built, request, cfg)
			}

			if err := h.Save(cmd.Context()); err != nil {
				a.logger.Printf("run: %v", err)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&cfg.tasksPath, "tasks", "", "JSON file of tasks to drive as a DAG")
	cmd.Flags().StringVar(&cfg.runID, "run-id", "", "run id (default: generated)")
	cmd.Flags().IntVar(&cfg.maxParallel, "max-parallel", 0, "max concurrent tasks (default from config)")
	cmd.Flags().BoolVar(&cfg.apply, "apply", false, "apply edits proposed by tasks")
	cmd.Flags().BoolVar(&cfg.override, "override", false, "apply edits even when files conflict")
	return cmd
}

func runPipeline(cmd *cobra.Command, a *app, rl *runlog.Logger, built []pipeline.Stage, request string, cfg runConfig) error {
	p := pipeline.Compose(built...)
	runID, err := rl.StartRun(cfg.runID, map[string]any{
		"mode":    "pipeline",
		"request": request,
		"path":    p.Path(),
		"skipped": p.Skipped(),
	})
	if err != nil {
		return err
	}

	runner := &pipeline.Runner{Logger: a.logger, Events: rl}
	state, err := runner.Run(cmd.Context(), p, pipeline.State{stages.RequestKey: request})

	summary := a.cfg.Capabilities().Map()
	summary[protocol.CapabilitySearch] = state[stages.KnowledgeFoundKey] == true
	summary["path"] = p.Path()
	summary["status"] = "completed"
	if err != nil {
		summary["status"] = "failed"
		summary["error"] = err.Error()
	} else if msg, ok := state[pipeline.ErrorKey].(string); ok {
		summary["stage_error"] = msg
	}
	if endErr := rl.EndRun(summary); endErr != nil {
		a.logger.Printf("run: %v", endErr)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "run %s: %s\n", runID, strings.Join(p.Path(), " -> "))
	if skipped := p.Skipped(); len(skipped) > 0 {
		fmt.Fprintf(w, "skipped: %s\n", strings.Join(skipped, ", "))
	}
	if encErr := writeJSON(w, state); encErr != nil {
		return encErr
	}
	return err
}

func loadTasks(path string) ([]taskSpec, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied task file
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	var specs []taskSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse tasks: %w", err)
	}
	return specs, nil
}

func registerTasks(l *ledger.Ledger, specs []taskSpec) error {
	for _, s := range specs {
		meta := make(map[string]any, len(s.Metadata)+3)
		maps.Copy(meta, s.Metadata)
		if s.Agent != "" {
			meta[ledger.AgentKey] = s.Agent
		}
		if s.Command != "" {
			meta["command"] = s.Command
		}
		if s.Fix != "" {
			meta["fix"] = s.Fix
		}
		if err := l.Register(s.ID, s.Deps, meta); err != nil {
			return err
		}
	}
	return nil
}

func runTasks(cmd *cobra.Command, a *app, h *memoryHandle, rl *runlog.Logger, built []pipeline.Stage, request string, cfg runConfig) error {
	ctx := cmd.Context()
	specs, err := loadTasks(cfg.tasksPath)
	if err != nil {
		return err
	}

	l := ledger.New()
	if err := registerTasks(l, specs); err != nil {
		return err
	}
	if cycles := l.Cycles(); len(cycles) > 0 {
		a.logger.Printf("run: dependency cycles %v will never become ready", cycles)
	}

	runID, err := rl.StartRun(cfg.runID, map[string]any{
		"mode":    "tasks",
		"request": request,
		"tasks":   l.IDs(),
	})
	if err != nil {
		return err
	}

	driver := ledger.NewDriver(l, newWorkers(l, a.root, request, built), ledger.DriverConfig{
		MaxParallel: cfg.maxParallel,
		Logger:      a.logger,
		Events:      rl,
	})
	runErr := driver.Run(ctx)

	tracker := memory.NewTracker(h.Store)
	recordFixOutcomes(ctx, tracker, l, a.logger)

	g := edits.NewGrouper()
	for _, id := range l.IDs() {
		n, _ := l.Lookup(id)
		if n.Status == ledger.StatusCompleted {
			g.Add(edits.ProposalsFromOutputs(ledger.AgentFor(n), n.Outputs)...)
		}
	}

	w := cmd.OutOrStdout()
	summary := a.cfg.Capabilities().Map()
	summary["tasks"] = l.Summary()
	summary["fixes"] = tracker.Stats()
	summary["conflicts"] = g.DetectConflicts()
	summary["status"] = "completed"
	if runErr != nil {
		summary["status"] = "failed"
		summary["error"] = runErr.Error()
	}

	if g.Len() > 0 {
		fmt.Fprint(w, formatConflicts(g))
		if cfg.apply {
			res, err := edits.NewFileApplier(a.root, nil).ApplyGroup(ctx, g, cfg.override)
			if res != nil {
				summary["applied"] = res.Applied
			}
			if err != nil {
				summary["apply_error"] = err.Error()
				if runErr == nil {
					runErr = err
				}
			}
		}
	}

	if endErr := rl.EndRun(summary); endErr != nil {
		a.logger.Printf("run: %v", endErr)
	}

	fmt.Fprintf(w, "run %s\n", runID)
	printTaskTable(ctx, w, l, h.Store)
	return runErr
}

// recordFixOutcomes updates statistics for every finished task that
// declared the learned solution it applied, and learns the solutions that
// completed tasks report under outputs["learn"].
func recordFixOutcomes(ctx context.Context, tracker *memory.Tracker, l *ledger.Ledger, logger *log.Logger) {
	for _, id := range l.IDs() {
		n, _ := l.Lookup(id)
		if !n.Status.IsTerminal() {
			continue
		}
		category, _ := n.Metadata["category"].(string)
		if category == "" {
			category = defaultCategory
		}

		if key, _ := n.Metadata["fix"].(string); key != "" {
			tracker.RecordReuse(ctx, category, key, n.Status == ledger.StatusCompleted)
		}

		learned, ok := n.Outputs["learn"].(map[string]any)
		if !ok {
			continue
		}
		errSig, _ := learned["error"].(string)
		solution, _ := learned["solution"].(string)
		if errSig == "" || solution == "" {
			continue
		}
		success, isBool := learned["success"].(bool)
		if !isBool {
			success = true
		}
		if _, err := tracker.RecordLearningEvent(ctx, category, errSig, solution, map[string]any{"task_id": n.ID}, success); err != nil {
			logger.Printf("run: learn from %s: %v", n.ID, err)
		}
	}
}

// printTaskTable prints one line per task; failures get the best matching
// learned solution as a hint.
func printTaskTable(ctx context.Context, w io.Writer, l *ledger.Ledger, mem memory.Backend) {
	for _, id := range l.IDs() {
		n, _ := l.Lookup(id)
		fmt.Fprintf(w, "  %-20s %-10s %s\n", n.ID, n.Status, ledger.AgentFor(n))
		if n.Status != ledger.StatusFailed {
			continue
		}
		fmt.Fprintf(w, "    error: %s\n", n.Error)
		if hits := mem.Search(ctx, defaultCategory, n.Error, 1); len(hits) > 0 {
			fmt.Fprintf(w, "    known fix (%.0f%% success): %s\n", hits[0].SuccessRate()*100, hits[0].Solution)
		}
	}
	if blocked := l.Blocked(); len(blocked) > 0 {
		fmt.Fprintf(w, "  blocked: %s\n", strings.Join(blocked, ", "))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}
