package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jenozu/orchestrator/internal/version"
)

// newRootCmd creates the root orchestrator command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Agent pipeline orchestrator",
		Long:          "orchestrator runs agent pipelines and task DAGs, remembers which fixes worked,\nand checks concurrently proposed file edits for conflicts.",
		Version:       fmt.Sprintf("orchestrator %s", version.Full()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().String("project", ".", "project root (config discovery and generated documents)")
	cmd.PersistentFlags().String("config", "", "config file (overrides ORCH_CONFIG and project discovery)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "log diagnostics to stderr")

	cmd.AddCommand(
		newRunCmd(),
		newLearnCmd(),
		newRecallCmd(),
		newTopCmd(),
		newStatsCmd(),
		newMemoriesCmd(),
		newEditsCmd(),
		newLogsCmd(),
		newWatchCmd(),
		newServeCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return cmd
}

// newVersionCmd creates the "orchestrator version" subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "orchestrator %s\n", version.Full())
			return nil
		},
	}
}
