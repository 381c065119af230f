package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codesync-dev/codesync/internal/config"
	"github.com/codesync-dev/codesync/internal/mcptools"
	"github.com/codesync-dev/codesync/internal/observability"
	"github.com/codesync-dev/codesync/internal/store"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The MCP server exposes the sync pipeline as tools that AI agents can
discover and invoke:
  - sync_project_codebase: sync a project into the knowledge store
  - search_project_code: search synced code chunks
  - get_project_sync_status: read a project's sync state and stats
  - list_project_files: list the files present in the store
  - get_file_content: read a file inside the project directory`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			return runMCP(cobraCmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config file (default: .codesync.yaml)")

	return cmd
}

func runMCP(ctx context.Context, cfg *config.Config) error {
	// Logs must stay off stdout; the stdio transport owns it.
	cfg.Observability.LogJSON = true

	providers, err := initObservability(cfg, observability.ModeMCP)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() {
		if shutdownErr := providers.Shutdown(context.Background()); shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	application, err := buildApp(cfg, providers.Logger)
	if err != nil {
		return err
	}

	searcher, _ := application.store.(store.Searcher)

	srv := mcptools.NewServer(mcptools.ServerDeps{
		Store:    application.store,
		Syncer:   application.worker,
		Searcher: searcher,
		Logger:   providers.Logger,
		Tracer:   providers.Tracer,
	})

	return srv.Run(ctx)
}
