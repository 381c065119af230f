package config

// Embedder defaults.
const (
	// DefaultEmbedderModel is the embedding model requested from the provider.
	DefaultEmbedderModel = "text-embedding-3-small"
	// DefaultEmbedderBatchSize is the number of texts per provider call.
	DefaultEmbedderBatchSize = 50
	// DefaultEmbedderMaxRetries bounds retries per embedding batch.
	DefaultEmbedderMaxRetries = 3
	// DefaultEmbedderRateLimit is the provider calls admitted per second.
	DefaultEmbedderRateLimit = 10
)

// Sync defaults.
const (
	// DefaultSyncDebounceSeconds is the quiet period before a flush.
	DefaultSyncDebounceSeconds = 2
	// DefaultSyncMaxBatchSize flushes a project early at this many pending files.
	DefaultSyncMaxBatchSize = 50
	// DefaultSyncMaxConcurrent caps simultaneously running sync jobs.
	DefaultSyncMaxConcurrent = 3
	// DefaultSyncInsertBatchSize is the chunk count per store insert.
	DefaultSyncInsertBatchSize = 50
	// DefaultSyncMaxWorkers bounds parallel file processing.
	DefaultSyncMaxWorkers = 5
	// DefaultSyncPollSeconds is the project-discovery period.
	DefaultSyncPollSeconds = 60
	// DefaultSyncPeriodicSeconds is the periodic-mode sync period.
	DefaultSyncPeriodicSeconds = 3600
	// DefaultSyncHeartbeatSeconds is the worker heartbeat period.
	DefaultSyncHeartbeatSeconds = 10
	// DefaultSyncMaxChunkSize is the maximum lines per chunk.
	DefaultSyncMaxChunkSize = 100
)

// Watcher defaults.
const (
	// DefaultWatcherEventBuffer is the shared event channel capacity.
	DefaultWatcherEventBuffer = 1024
)

// Checkpoint defaults.
const (
	// DefaultCheckpointEnabled controls checkpoint persistence.
	DefaultCheckpointEnabled = true
	// DefaultCheckpointDir is the checkpoint storage directory.
	DefaultCheckpointDir = ".codesync/checkpoints"
)

// HTTP defaults.
const (
	// DefaultHTTPListenAddr is the trigger API bind address.
	DefaultHTTPListenAddr = ":8181"
)

// Observability defaults.
const (
	// DefaultSampleRatio traces every operation unless overridden.
	DefaultSampleRatio = 1.0
	// DefaultEnvironment tags telemetry with the deployment environment.
	DefaultEnvironment = "development"
	// DefaultLogLevel is the minimum emitted log level.
	DefaultLogLevel = "info"
	// DefaultLogJSON controls structured JSON log output.
	DefaultLogJSON = false
)
