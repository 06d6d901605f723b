package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jenozu/orchestrator/internal/config"
	"github.com/jenozu/orchestrator/pkg/protocol"
)

// newConfigCmd creates the "orchestrator config" command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialise configuration",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigInitCmd(), newConfigPathsCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			out, err := config.Render(a.cfg)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if a.cfgPath == "" {
				fmt.Fprintln(w, "# defaults (no config file found)")
			} else {
				fmt.Fprintf(w, "# %s\n", a.cfgPath)
			}
			_, err = w.Write(out)
			return err
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to <project>/.orchestrator/config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, _ := cmd.Flags().GetString("project")
			path := filepath.Join(root, protocol.StateDir, "config.yaml")

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			out, err := config.Render(config.Default())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := os.WriteFile(path, out, 0o644); err != nil { //nolint:gosec // config is not secret
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func newConfigPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved state paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "home:      %s\n", a.paths.Home)
			fmt.Fprintf(w, "logs:      %s\n", a.paths.LogDir)
			fmt.Fprintf(w, "memory db: %s\n", a.paths.MemoryDBPath)
			cfgPath := a.cfgPath
			if cfgPath == "" {
				cfgPath = "(defaults)"
			}
			fmt.Fprintf(w, "config:    %s\n", cfgPath)
			return nil
		},
	}
}
