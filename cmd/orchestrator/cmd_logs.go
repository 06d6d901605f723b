package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jenozu/orchestrator/pkg/protocol"
	"github.com/jenozu/orchestrator/pkg/runlog"
)

// logsConfig holds configuration for the logs command.
type logsConfig struct {
	event  string
	taskID string
	agent  string
	status string
	since  time.Duration
	tail   int
	follow bool
	raw    bool
}

// newLogsCmd creates the "orchestrator logs" subcommand.
func newLogsCmd() *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs [run-id]",
		Short: "List runs or show the events of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			if len(args) == 0 {
				return listRuns(w, a.paths.LogDir)
			}

			opts := runlog.QueryOpts{
				Event:   protocol.EventType(cfg.event),
				TaskID:  cfg.taskID,
				AgentID: cfg.agent,
				Status:  cfg.status,
				Limit:   cfg.tail,
			}
			if cfg.since > 0 {
				after := time.Now().Add(-cfg.since)
				opts.After = &after
			}

			path := runlog.Path(a.paths.LogDir, args[0])
			emit := func(ev protocol.RunEvent) error {
				return printEvent(w, ev, cfg.raw)
			}

			if cfg.follow {
				opts.Limit = 0
				return runlog.Follow(cmd.Context(), path, opts, emit)
			}

			events, err := runlog.ReadFile(path, opts)
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("run %s not found in %s", args[0], a.paths.LogDir)
			}
			if err != nil {
				return err
			}
			for _, ev := range events {
				if err := emit(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.event, "event", "", "only this event type (run_start, task, run_end)")
	cmd.Flags().StringVar(&cfg.taskID, "task", "", "only events for this task id")
	cmd.Flags().StringVar(&cfg.agent, "agent", "", "only events from this agent")
	cmd.Flags().StringVar(&cfg.status, "status", "", "only task events with this status")
	cmd.Flags().DurationVar(&cfg.since, "since", 0, "only events newer than this (e.g. 10m)")
	cmd.Flags().IntVarP(&cfg.tail, "tail", "n", 0, "show only the last N events")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "keep printing events until the run ends")
	cmd.Flags().BoolVar(&cfg.raw, "json", false, "print events as JSON lines")
	return cmd
}

func listRuns(w io.Writer, dir string) error {
	runs, err := runlog.ListRuns(dir)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %s  %6d bytes\n", r.Modified.Format(time.DateTime), r.ID, r.Size)
	}
	return nil
}

func printEvent(w io.Writer, ev protocol.RunEvent, raw bool) error {
	if raw {
		line, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(line))
		return err
	}

	ts := ev.Timestamp.Format("15:04:05.000")
	switch ev.Event {
	case protocol.EventTask:
		agent, _ := ev.Data["agent_id"].(string)
		_, err := fmt.Fprintf(w, "%s  %-10s %-20s %s\n", ts, ev.Status(), ev.TaskID(), agent)
		return err
	default:
		_, err := fmt.Fprintf(w, "%s  %s %s\n", ts, ev.Event, formatData(ev.Data))
		return err
	}
}

// formatData renders scalar fields as sorted k=v pairs. Nested maps such as
// run_start metadata and the run_end summary are flattened one level.
func formatData(data map[string]any) string {
	flat := make(map[string]any, len(data))
	for k, v := range data {
		if nested, ok := v.(map[string]any); ok {
			maps.Copy(flat, nested)
			continue
		}
		flat[k] = v
	}

	parts := make([]string, 0, len(flat))
	for _, k := range slices.Sorted(maps.Keys(flat)) {
		switch v := flat[k].(type) {
		case string, bool, float64, int:
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return strings.Join(parts, " ")
}
