// Package commands implements CLI command handlers for codesync.
package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/codesync-dev/codesync/internal/analytics"
	"github.com/codesync-dev/codesync/internal/breaker"
	"github.com/codesync-dev/codesync/internal/chunker"
	"github.com/codesync-dev/codesync/internal/config"
	"github.com/codesync-dev/codesync/internal/debounce"
	"github.com/codesync-dev/codesync/internal/embedder"
	"github.com/codesync-dev/codesync/internal/engine"
	"github.com/codesync-dev/codesync/internal/model"
	"github.com/codesync-dev/codesync/internal/observability"
	"github.com/codesync-dev/codesync/internal/queue"
	"github.com/codesync-dev/codesync/internal/ratelimit"
	"github.com/codesync-dev/codesync/internal/recovery"
	"github.com/codesync-dev/codesync/internal/store"
	"github.com/codesync-dev/codesync/internal/syncerr"
	"github.com/codesync-dev/codesync/internal/version"
	"github.com/codesync-dev/codesync/internal/watch"
	"github.com/codesync-dev/codesync/internal/worker"
)

// ErrEmbedderNotConfigured indicates no embedding provider endpoint is set.
var ErrEmbedderNotConfigured = errors.New("embedder.base_url must be configured")

// app bundles the wired collaborators of one codesync process.
type app struct {
	cfg   *config.Config
	store store.Store

	// memory is set when the in-process store backs the run.
	memory    *store.Memory
	engine    *engine.Engine
	watcher   *watch.Watcher
	recovery  *recovery.Service
	analytics *analytics.Recorder
	worker    *worker.Worker
	logger    *slog.Logger
}

// initObservability builds telemetry providers from the loaded config,
// honoring the standard OTEL_EXPORTER_OTLP_* environment variables as
// overrides.
func initObservability(cfg *config.Config, mode observability.AppMode) (observability.Providers, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = cfg.Observability.Environment
	obsCfg.Mode = mode
	obsCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Observability.OTLPHeaders)
	obsCfg.OTLPInsecure = cfg.Observability.OTLPInsecure
	obsCfg.SampleRatio = cfg.Observability.SampleRatio
	obsCfg.LogLevel = parseLogLevel(cfg.Observability.LogLevel)
	obsCfg.LogJSON = cfg.Observability.LogJSON

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		obsCfg.OTLPEndpoint = endpoint
	}

	if headers := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); headers != "" {
		obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(headers)
	}

	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true" {
		obsCfg.OTLPInsecure = true
	}

	return observability.Init(obsCfg)
}

func parseLogLevel(level string) slog.Level {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}

	return parsed
}

// buildApp wires the sync pipeline from the loaded configuration.
// An empty store.base_url selects the in-process store, which is only
// useful for one-shot local syncs.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if cfg.Embedder.BaseURL == "" {
		return nil, ErrEmbedderNotConfigured
	}

	st, mem := buildStore(cfg, logger)

	provider := embedder.NewHTTPProvider(embedder.HTTPConfig{
		BaseURL: cfg.Embedder.BaseURL,
		APIKey:  cfg.Embedder.APIKey,
		Model:   cfg.Embedder.Model,
	})

	batch := embedder.NewBatch(provider, embedder.BatchConfig{
		BatchSize:  cfg.Embedder.BatchSize,
		MaxRetries: cfg.Embedder.MaxRetries,
		Limiter:    ratelimit.New(cfg.Embedder.RateLimit, ratelimit.DefaultTimeWindow),
		Logger:     logger,
	})

	eng := engine.New(st, batch, breaker.NewRegistry(breaker.Config{}), engine.Config{
		InsertBatchSize: cfg.Sync.InsertBatchSize,
		MaxWorkers:      cfg.Sync.MaxWorkers,
		ChunkOptions:    chunker.Options{MaxLines: cfg.Sync.MaxChunkSize},
		Logger:          logger,
	})

	watcher := watch.New(cfg.Watcher.EventBuffer, logger)
	recoverer := recovery.New(st, logger)
	recorder := analytics.NewRecorder(st, logger)

	w := worker.New(worker.Deps{
		Store:     st,
		Engine:    eng,
		Watcher:   watcher,
		Recovery:  recoverer,
		Analytics: recorder,
	}, worker.Config{
		PollInterval:         cfg.PollInterval(),
		PeriodicSyncInterval: cfg.PeriodicInterval(),
		HeartbeatInterval:    cfg.HeartbeatInterval(),
		Debounce: debounce.Config{
			Debounce:     cfg.DebounceInterval(),
			MaxBatchSize: cfg.Sync.MaxBatchSize,
			Logger:       logger,
		},
		Queue: queue.Config{
			MaxConcurrent: cfg.Sync.MaxConcurrent,
			Logger:        logger,
		},
		Logger: logger,
	})

	return &app{
		cfg:       cfg,
		store:     st,
		memory:    mem,
		engine:    eng,
		watcher:   watcher,
		recovery:  recoverer,
		analytics: recorder,
		worker:    w,
		logger:    logger,
	}, nil
}

// buildStore selects the hosted store when configured, layering the
// lz4 file checkpoint store over it when checkpointing is enabled.
// The second return value is the in-process store when one backs the
// run, for commands that need to seed it.
func buildStore(cfg *config.Config, logger *slog.Logger) (store.Store, *store.Memory) {
	var (
		st  store.Store
		mem *store.Memory
	)

	if cfg.Store.BaseURL != "" {
		st = store.NewREST(store.RESTConfig{
			BaseURL: cfg.Store.BaseURL,
			APIKey:  cfg.Store.APIKey,
		})
	} else {
		logger.Warn("store.base_url not set, using in-process store")

		mem = store.NewMemory()
		st = mem
	}

	if cfg.Checkpoint.Enabled && cfg.Checkpoint.Dir != "" {
		files, err := recovery.NewFileCheckpointStore(cfg.Checkpoint.Dir)
		if err != nil {
			logger.Warn("file checkpoint store unavailable, falling back to primary store",
				"dir", cfg.Checkpoint.Dir, "error", err)

			return st, mem
		}

		st = &checkpointOverlay{Store: st, files: files}
	}

	return st, mem
}

// checkpointOverlay routes checkpoint persistence to local lz4 files
// while delegating everything else to the primary store.
type checkpointOverlay struct {
	store.Store
	files *recovery.FileCheckpointStore
}

func (c *checkpointOverlay) InsertCheckpoint(ctx context.Context, cp model.Checkpoint) (model.Checkpoint, error) {
	return c.files.InsertCheckpoint(ctx, cp)
}

func (c *checkpointOverlay) UpdateCheckpointStatus(ctx context.Context, id string, status model.CheckpointStatus) error {
	return c.files.UpdateCheckpointStatus(ctx, id, status)
}

func (c *checkpointOverlay) CheckpointsByProject(ctx context.Context, projectID string, status model.CheckpointStatus) ([]model.Checkpoint, error) {
	return c.files.CheckpointsByProject(ctx, projectID, status)
}

// instrumentedSyncer records sync metrics around every run.
type instrumentedSyncer struct {
	inner   *worker.Worker
	metrics *observability.SyncMetrics
}

func (s *instrumentedSyncer) SyncNow(ctx context.Context, projectID string, files []string, trigger string) (model.SyncStats, error) {
	if s.metrics == nil {
		return s.inner.SyncNow(ctx, projectID, files, trigger)
	}

	done := s.metrics.TrackInflight(ctx, projectID)
	defer done()

	start := time.Now()

	stats, err := s.inner.SyncNow(ctx, projectID, files, trigger)

	status := "completed"
	if err != nil {
		status = "failed"

		s.metrics.RecordError(ctx, projectID, string(syncerr.Classify(err)))
	}

	s.metrics.RecordSync(ctx, projectID, trigger, status, time.Since(start))
	s.metrics.RecordChunks(ctx, projectID, stats.ChunksAdded, stats.ChunksDeleted)

	return stats, err
}
