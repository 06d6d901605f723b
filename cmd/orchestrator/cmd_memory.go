package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jenozu/orchestrator/pkg/memory"
)

const defaultCategory = "error_fixes"

// formatScored formats ranked records for CLI output.
func formatScored(results []memory.Scored) string {
	if len(results) == 0 {
		return "No learned solutions found.\n"
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, r.Key, r.ErrorSignature)
		fmt.Fprintf(&b, "   solution: %s\n", r.Solution)
		fmt.Fprintf(&b, "   success: %d/%d (%.0f%%) | score: %.4f | updated: %s\n",
			r.SuccessCount, r.Occurrences, r.SuccessRate()*100, r.Score, r.LastUpdated.Format("2006-01-02"))
	}
	return b.String()
}

// newLearnCmd creates the "orchestrator learn" subcommand.
func newLearnCmd() *cobra.Command {
	var (
		category string
		failed   bool
	)

	cmd := &cobra.Command{
		Use:   "learn <error> <solution>",
		Short: "Record a solution and whether it worked",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			return a.withMemory(cmd.Context(), true, func(s *memory.Store) error {
				key, err := s.Learn(cmd.Context(), category, args[0], args[1], nil, !failed)
				if err != nil {
					return fmt.Errorf("learn: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", defaultCategory, "memory category")
	cmd.Flags().BoolVar(&failed, "failed", false, "record the first attempt as a failure")
	return cmd
}

// newRecallCmd creates the "orchestrator recall" subcommand.
func newRecallCmd() *cobra.Command {
	var (
		category string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Search learned solutions",
		Long:  "Search a memory category by text query.\nDisplays the top results with their success statistics and score.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			return a.withMemory(cmd.Context(), false, func(s *memory.Store) error {
				results := s.Search(cmd.Context(), category, strings.Join(args, " "), limit)
				fmt.Fprint(cmd.OutOrStdout(), formatScored(results))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", defaultCategory, "memory category")
	cmd.Flags().IntVarP(&limit, "limit", "n", memory.DefaultLimit, "max results")
	return cmd
}

// newTopCmd creates the "orchestrator top" subcommand.
func newTopCmd() *cobra.Command {
	var (
		category string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "top",
		Short: "List the most effective solutions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			return a.withMemory(cmd.Context(), false, func(s *memory.Store) error {
				fmt.Fprint(cmd.OutOrStdout(), formatScored(s.TopByEffectiveness(cmd.Context(), category, limit)))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", defaultCategory, "memory category")
	cmd.Flags().IntVarP(&limit, "limit", "n", memory.DefaultLimit, "max results")
	return cmd
}

// newStatsCmd creates the "orchestrator stats" subcommand.
func newStatsCmd() *cobra.Command {
	var (
		category string
		success  bool
		failure  bool
	)

	cmd := &cobra.Command{
		Use:   "stats <key>",
		Short: "Record the outcome of reusing a solution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if success == failure {
				return fmt.Errorf("stats: pass exactly one of --success or --failure")
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			return a.withMemory(cmd.Context(), true, func(s *memory.Store) error {
				if !s.UpdateStatistics(cmd.Context(), category, args[0], success) {
					return fmt.Errorf("stats: no record %s in %s", args[0], category)
				}
				rec, _ := s.Get(category, args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d successful (%.0f%%)\n",
					rec.Key, rec.SuccessCount, rec.Occurrences, rec.SuccessRate()*100)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", defaultCategory, "memory category")
	cmd.Flags().BoolVar(&success, "success", false, "the reuse worked")
	cmd.Flags().BoolVar(&failure, "failure", false, "the reuse failed")
	return cmd
}

// memoriesConfig holds configuration for the memories command.
type memoriesConfig struct {
	category   string
	exportPath string
	importPath string
}

// newMemoriesCmd creates the "orchestrator memories" subcommand.
func newMemoriesCmd() *cobra.Command {
	var cfg memoriesConfig

	cmd := &cobra.Command{
		Use:   "memories",
		Short: "List, export, or import learned solutions",
		Long:  "Lists stored solutions. --export writes them as JSON lines (\"-\" for stdout);\n--import reads JSON lines and restores them, keeping keys and statistics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			return a.withMemory(cmd.Context(), cfg.importPath != "", func(s *memory.Store) error {
				switch {
				case cfg.importPath != "":
					return importMemories(cmd, s, cfg.importPath)
				case cfg.exportPath != "":
					return exportMemories(cmd.OutOrStdout(), s.Records(cfg.category), cfg.exportPath)
				default:
					listMemories(cmd.OutOrStdout(), s, cfg.category)
					return nil
				}
			})
		},
	}

	cmd.Flags().StringVarP(&cfg.category, "category", "c", "", "restrict to one category")
	cmd.Flags().StringVar(&cfg.exportPath, "export", "", "write records as JSON lines to file (- for stdout)")
	cmd.Flags().StringVar(&cfg.importPath, "import", "", "restore records from a JSON lines file")
	cmd.MarkFlagsMutuallyExclusive("export", "import")
	return cmd
}

func listMemories(w io.Writer, s *memory.Store, category string) {
	records := s.Records(category)
	if len(records) == 0 {
		fmt.Fprintln(w, "no memories")
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s => %s\n",
			r.Category, r.Key, r.SuccessCount, r.Occurrences, r.ErrorSignature, r.Solution)
	}
}

func exportMemories(stdout io.Writer, records []memory.Record, path string) error {
	if path == "-" {
		return memory.WriteJSONL(stdout, records)
	}
	f, err := os.Create(path) //nolint:gosec // user-supplied output path
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := memory.WriteJSONL(f, records); err != nil {
		_ = f.Close()
		return fmt.Errorf("export: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Fprintf(stdout, "exported %d records to %s\n", len(records), path)
	return nil
}

func importMemories(cmd *cobra.Command, s *memory.Store, path string) error {
	f, err := os.Open(path) //nolint:gosec // user-supplied input path
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	defer f.Close()

	records, skipped, err := memory.ReadJSONL(f)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	n := s.Restore(cmd.Context(), records)
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d records (%d skipped)\n", n, skipped+len(records)-n)
	return nil
}
