package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jenozu/orchestrator/pkg/edits"
)

// loadProposals reads a JSON array of proposals from path ("-" is stdin).
func loadProposals(cmd *cobra.Command, path string) (*edits.Grouper, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path) //nolint:gosec // user-supplied proposal file
	}
	if err != nil {
		return nil, fmt.Errorf("read proposals: %w", err)
	}

	var props []edits.Proposal
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("parse proposals: %w", err)
	}
	g := edits.NewGrouper()
	g.Add(props...)
	return g, nil
}

// formatConflicts lists every file with its proposal count, marking the
// conflicting ones.
func formatConflicts(g *edits.Grouper) string {
	conflicts := g.DetectConflicts()
	byFile := g.GroupByFile()

	var b strings.Builder
	for _, f := range g.Files() {
		agents, conflicting := conflicts[f]
		if !conflicting {
			fmt.Fprintf(&b, "  ok        %s (%s)\n", f, byFile[f][0].AgentID)
			continue
		}
		fmt.Fprintf(&b, "  CONFLICT  %s (%s)\n", f, strings.Join(agents, ", "))
	}
	fmt.Fprintf(&b, "%d proposals, %d files, %d conflicting\n", g.Len(), len(byFile), len(conflicts))
	return b.String()
}

// newEditsCmd creates the "orchestrator edits" command group.
func newEditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edits",
		Short: "Check or apply batches of proposed file edits",
		Long: "Proposal files are JSON arrays of {\"path\",\"old\",\"new\",\"agent\",\"rationale\"}.\n" +
			"A file touched by more than one proposal is a conflict.",
	}
	cmd.AddCommand(newEditsCheckCmd(), newEditsApplyCmd())
	return cmd
}

func newEditsCheckCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check <proposals.json|->",
		Short: "Report files with conflicting proposals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadProposals(cmd, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"conflicts": g.DetectConflicts(),
					"batch":     g.ToBatchFormat(),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), formatConflicts(g))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print conflicts and the batch as JSON")
	return cmd
}

func newEditsApplyCmd() *cobra.Command {
	var override bool

	cmd := &cobra.Command{
		Use:   "apply <proposals.json|->",
		Short: "Apply a batch of proposals under the project root",
		Long: "Refuses the whole batch when any file conflicts, unless --override is set.\n" +
			"A stale edit (old text not found) skips that file only.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("project")
			g, err := loadProposals(cmd, args[0])
			if err != nil {
				return err
			}

			res, err := edits.NewFileApplier(root, nil).ApplyGroup(cmd.Context(), g, override)
			var conflict *edits.ConflictError
			if errors.As(err, &conflict) {
				fmt.Fprint(cmd.ErrOrStderr(), formatConflicts(g))
				return err
			}

			w := cmd.OutOrStdout()
			if res != nil {
				for _, f := range res.Applied {
					fmt.Fprintf(w, "applied  %s\n", f)
				}
				failed := make([]string, 0, len(res.Failed))
				for f := range res.Failed {
					failed = append(failed, f)
				}
				sort.Strings(failed)
				for _, f := range failed {
					fmt.Fprintf(w, "skipped  %s: %v\n", f, res.Failed[f])
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&override, "override", false, "apply conflicting files anyway")
	return cmd
}
