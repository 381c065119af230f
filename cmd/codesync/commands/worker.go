package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/codesync-dev/codesync/internal/api"
	"github.com/codesync-dev/codesync/internal/config"
	"github.com/codesync-dev/codesync/internal/health"
	"github.com/codesync-dev/codesync/internal/observability"
)

// errWorkerStopped fails the readiness check when the worker is down.
var errWorkerStopped = errors.New("worker is not running")

// NewWorkerCommand creates the background sync worker command.
func NewWorkerCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background sync worker",
		Long: `Run the background sync worker.

The worker discovers auto-sync projects, watches realtime projects for
file changes, runs periodic syncs, and serves the HTTP trigger API. It
stops cleanly on SIGINT or SIGTERM.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			return runWorker(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config file (default: .codesync.yaml)")

	return cmd
}

func runWorker(cfg *config.Config) error {
	providers, err := initObservability(cfg, observability.ModeWorker)
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

	syncMetrics, err := observability.NewSyncMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("create sync metrics: %w", err)
	}

	if _, err := observability.NewWorkerGauges(providers.Meter,
		application.worker.WatchedProjects,
		application.worker.PendingEvents); err != nil {
		return fmt.Errorf("create worker gauges: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.worker.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	defer application.worker.Stop()

	monitor := health.New(application.worker, health.Config{Logger: providers.Logger})

	metricsHandler, err := observability.PrometheusHandler()
	if err != nil {
		return fmt.Errorf("create metrics handler: %w", err)
	}

	server := api.NewServer(api.Deps{
		Store:     application.store,
		Syncer:    &instrumentedSyncer{inner: application.worker, metrics: syncMetrics},
		Watch:     application.watcher,
		Analytics: application.analytics,
		Health:    monitor.Metrics,
		Queue:     application.worker.QueueSnapshot,
		Metrics:   metricsHandler,
		Ready: []observability.ReadyCheck{
			func(context.Context) error {
				if !application.worker.IsRunning() {
					return errWorkerStopped
				}

				return nil
			},
		},
		Logger: providers.Logger,
	})

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		monitor.Run(groupCtx)

		return nil
	})

	group.Go(func() error {
		return server.Run(groupCtx, cfg.HTTP.ListenAddr)
	})

	providers.Logger.Info("codesync worker started", "listen_addr", cfg.HTTP.ListenAddr)

	if err := group.Wait(); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	return nil
}
