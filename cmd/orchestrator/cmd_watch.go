package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jenozu/orchestrator/pkg/runlog"
)

// newWatchCmd creates the "orchestrator watch" subcommand.
func newWatchCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "watch [run-id]",
		Short: "Live task table for a run (default: the most recent run)",
		Long: "Shows the latest status of every task in a run and refreshes as the run log\n" +
			"grows. When stdout is not a terminal, or with --once, prints the table once.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}

			runID := ""
			if len(args) == 1 {
				runID = args[0]
			} else {
				runs, err := runlog.ListRuns(a.paths.LogDir)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					return errors.New("no runs recorded")
				}
				runID = runs[0].ID
			}
			path := runlog.Path(a.paths.LogDir, runID)

			out := cmd.OutOrStdout()
			if once || !isTerminal(out) {
				_, err := fmt.Fprint(out, renderPlain(runID, loadRunView(path)))
				return err
			}

			watcher := initWatcher(path)
			if watcher != nil {
				defer func() { _ = watcher.Close() }()
			}
			p := tea.NewProgram(newWatchModel(runID, path, watcher), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err = p.Run()
			return err
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "print the table once and exit")
	return cmd
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
