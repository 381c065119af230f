// Package main provides the entry point for the codesync worker and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codesync-dev/codesync/cmd/codesync/commands"
	"github.com/codesync-dev/codesync/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "codesync",
		Short: "Codesync - incremental codebase to knowledge-store sync",
		Long: `Codesync keeps project codebases synchronized into a knowledge store.

Commands:
  worker    Run the background sync worker with the HTTP trigger API
  mcp       Serve the sync pipeline as MCP tools over stdio
  sync      Run one manual sync for a project and exit`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewWorkerCommand())
	rootCmd.AddCommand(commands.NewMCPCommand())
	rootCmd.AddCommand(commands.NewSyncCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "codesync %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
