package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/jenozu/orchestrator/internal/version"
	"github.com/jenozu/orchestrator/pkg/api"
	"github.com/jenozu/orchestrator/pkg/ledger"
	"github.com/jenozu/orchestrator/pkg/mcptools"
)

const shutdownTimeout = 5 * time.Second

// serveConfig holds configuration for the serve command.
type serveConfig struct {
	addr      string
	mcp       bool
	tasksPath string
}

// newServeCmd creates the "orchestrator serve" subcommand.
func newServeCmd() *cobra.Command {
	var cfg serveConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve memory, tasks and run logs over HTTP, or memory tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			if cfg.addr == "" {
				cfg.addr = a.cfg.HTTPAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			h, err := a.openMemory(ctx)
			if err != nil {
				return err
			}
			defer h.Close()
			if !h.Persistent() {
				a.logger.Printf("serve: persistence is none, memory is lost on exit")
			}
			defer func() {
				// ctx is already cancelled here.
				if err := h.Save(context.WithoutCancel(ctx)); err != nil {
					a.logger.Printf("serve: %v", err)
				}
			}()

			if cfg.mcp {
				// stdout belongs to the protocol; diagnostics go to the logger.
				s := mcptools.NewServer("orchestrator", version.String(), h.Store)
				return server.ServeStdio(s)
			}

			l := ledger.New()
			if cfg.tasksPath != "" {
				specs, err := loadTasks(cfg.tasksPath)
				if err != nil {
					return err
				}
				if err := registerTasks(l, specs); err != nil {
					return err
				}
			}

			app := api.New(api.Config{
				Memory: h.Store,
				Ledger: l,
				LogDir: a.paths.LogDir,
				Logger: a.logger,
			})
			return listenUntilDone(ctx, app, cfg.addr, func(addr string) {
				fmt.Fprintf(cmd.ErrOrStderr(), "orchestrator: listening on %s\n", addr)
			})
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "http", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&cfg.mcp, "mcp", false, "serve MCP tools on stdio instead of HTTP")
	cmd.Flags().StringVar(&cfg.tasksPath, "tasks", "", "JSON file of tasks to preload into the ledger")
	return cmd
}

// listenUntilDone serves app until ctx is cancelled, then shuts it down.
func listenUntilDone(ctx context.Context, app *fiber.App, addr string, announce func(string)) error {
	errCh := make(chan error, 1)
	go func() {
		announce(addr)
		errCh <- app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
