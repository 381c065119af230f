package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/codesync-dev/codesync/internal/api"
	"github.com/codesync-dev/codesync/internal/config"
	"github.com/codesync-dev/codesync/internal/model"
	"github.com/codesync-dev/codesync/internal/observability"
	"github.com/codesync-dev/codesync/internal/store"
	"github.com/codesync-dev/codesync/internal/worker"
)

// NewSyncCommand creates the one-shot sync command.
func NewSyncCommand() *cobra.Command {
	var (
		configPath string
		localPath  string
		files      []string
	)

	cmd := &cobra.Command{
		Use:   "sync <project-id>",
		Short: "Run one sync for a project and exit",
		Long: `Run one manual sync for a project and exit.

With a hosted store the project must already exist. With the in-process
store, --path registers the project for the duration of the run.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			return runSync(cobraCmd.Context(), cfg, args[0], localPath, files)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config file (default: .codesync.yaml)")
	cmd.Flags().StringVar(&localPath, "path", "", "project directory (registers the project on the in-process store)")
	cmd.Flags().StringSliceVar(&files, "files", nil, "only sync these files instead of scanning the whole directory")

	return cmd
}

func runSync(ctx context.Context, cfg *config.Config, projectID, localPath string, files []string) error {
	providers, err := initObservability(cfg, observability.ModeCLI)
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

	if localPath != "" {
		if err := registerLocalProject(application.memory, projectID, localPath); err != nil {
			return err
		}
	}

	start := time.Now()

	stats, err := application.worker.SyncNow(ctx, projectID, files, worker.TriggerManual)
	if err != nil {
		return fmt.Errorf("sync %s: %w", projectID, err)
	}

	printStats(projectID, stats, time.Since(start))

	return nil
}

// registerLocalProject seeds an ad-hoc project on the in-process store.
// On a hosted store the project record is authoritative; --path only
// makes sense locally.
func registerLocalProject(mem *store.Memory, projectID, localPath string) error {
	if mem == nil {
		return fmt.Errorf("--path requires the in-process store; project %s must exist on the hosted store", projectID)
	}

	resolved, err := api.ValidateLocalPath(localPath)
	if err != nil {
		return fmt.Errorf("validate --path: %w", err)
	}

	mem.PutProject(model.Project{
		ID:        projectID,
		Name:      projectID,
		LocalPath: resolved,
		SyncMode:  model.ModeManual,
	})

	return nil
}

func printStats(projectID string, stats model.SyncStats, elapsed time.Duration) {
	fmt.Fprintf(os.Stdout, "synced project %s in %s\n", projectID, elapsed.Round(time.Millisecond))
	fmt.Fprintf(os.Stdout, "  files processed: %s\n", humanize.Comma(int64(stats.FilesProcessed)))
	fmt.Fprintf(os.Stdout, "  chunks added:    %s\n", humanize.Comma(int64(stats.ChunksAdded)))
	fmt.Fprintf(os.Stdout, "  chunks modified: %s\n", humanize.Comma(int64(stats.ChunksModified)))
	fmt.Fprintf(os.Stdout, "  chunks deleted:  %s\n", humanize.Comma(int64(stats.ChunksDeleted)))

	for _, syncErr := range stats.Errors {
		fmt.Fprintf(os.Stdout, "  error: %s\n", syncErr)
	}
}
