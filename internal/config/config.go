// Package config loads and validates codesync settings from a YAML
// file, environment variables, and built-in defaults.
package config

import "errors"

// Config is the top-level configuration struct for codesync.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Store         StoreConfig         `mapstructure:"store"`
	Embedder      EmbedderConfig      `mapstructure:"embedder"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Watcher       WatcherConfig       `mapstructure:"watcher"`
	Checkpoint    CheckpointConfig    `mapstructure:"checkpoint"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// StoreConfig holds knowledge-store client settings.
type StoreConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// EmbedderConfig holds embedding provider settings.
type EmbedderConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	BatchSize  int    `mapstructure:"batch_size"`
	MaxRetries int    `mapstructure:"max_retries"`
	RateLimit  int    `mapstructure:"rate_limit"`
}

// SyncConfig holds sync engine and worker scheduling settings.
// Interval fields are expressed in seconds.
type SyncConfig struct {
	DebounceSeconds     int `mapstructure:"debounce_seconds"`
	MaxBatchSize        int `mapstructure:"max_batch_size"`
	MaxConcurrent       int `mapstructure:"max_concurrent"`
	InsertBatchSize     int `mapstructure:"insert_batch_size"`
	MaxWorkers          int `mapstructure:"max_workers"`
	PollSeconds         int `mapstructure:"poll_seconds"`
	PeriodicSeconds     int `mapstructure:"periodic_seconds"`
	HeartbeatSeconds    int `mapstructure:"heartbeat_seconds"`
	MaxChunkSize        int `mapstructure:"max_chunk_size"`
	MaxEmbeddingRetries int `mapstructure:"max_embedding_retries"`
}

// WatcherConfig holds filesystem watcher settings.
type WatcherConfig struct {
	EventBuffer int `mapstructure:"event_buffer"`
}

// CheckpointConfig holds checkpoint persistence settings.
type CheckpointConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// HTTPConfig holds the trigger API listener settings.
type HTTPConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ObservabilityConfig holds telemetry export and logging settings.
type ObservabilityConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	Environment  string  `mapstructure:"environment"`
	LogLevel     string  `mapstructure:"log_level"`
	LogJSON      bool    `mapstructure:"log_json"`
}

// sampleRatioMax is the upper bound for the trace sample ratio.
const sampleRatioMax = 1.0

// Sentinel errors for configuration validation.
var (
	// ErrInvalidBatchSize indicates the embedder batch size is negative.
	ErrInvalidBatchSize = errors.New("embedder.batch_size must be non-negative")
	// ErrInvalidRateLimit indicates the embedder rate limit is negative.
	ErrInvalidRateLimit = errors.New("embedder.rate_limit must be non-negative")
	// ErrInvalidMaxRetries indicates the embedder retry count is negative.
	ErrInvalidMaxRetries = errors.New("embedder.max_retries must be non-negative")
	// ErrInvalidDebounce indicates the debounce interval is negative.
	ErrInvalidDebounce = errors.New("sync.debounce_seconds must be non-negative")
	// ErrInvalidMaxBatchSize indicates the debounce batch cap is negative.
	ErrInvalidMaxBatchSize = errors.New("sync.max_batch_size must be non-negative")
	// ErrInvalidMaxConcurrent indicates the concurrency cap is negative.
	ErrInvalidMaxConcurrent = errors.New("sync.max_concurrent must be non-negative")
	// ErrInvalidInsertBatchSize indicates the insert batch size is negative.
	ErrInvalidInsertBatchSize = errors.New("sync.insert_batch_size must be non-negative")
	// ErrInvalidMaxWorkers indicates the worker count is negative.
	ErrInvalidMaxWorkers = errors.New("sync.max_workers must be non-negative")
	// ErrInvalidPollSeconds indicates the discovery poll interval is negative.
	ErrInvalidPollSeconds = errors.New("sync.poll_seconds must be non-negative")
	// ErrInvalidPeriodicSeconds indicates the periodic sync interval is negative.
	ErrInvalidPeriodicSeconds = errors.New("sync.periodic_seconds must be non-negative")
	// ErrInvalidEventBuffer indicates the watcher event buffer is negative.
	ErrInvalidEventBuffer = errors.New("watcher.event_buffer must be non-negative")
	// ErrInvalidSampleRatio indicates the trace sample ratio is out of range.
	ErrInvalidSampleRatio = errors.New("observability.sample_ratio must be between 0 and 1")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	embedderErr := c.validateEmbedder()
	if embedderErr != nil {
		return embedderErr
	}

	syncErr := c.validateSync()
	if syncErr != nil {
		return syncErr
	}

	if c.Watcher.EventBuffer < 0 {
		return ErrInvalidEventBuffer
	}

	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > sampleRatioMax {
		return ErrInvalidSampleRatio
	}

	return nil
}

func (c *Config) validateEmbedder() error {
	if c.Embedder.BatchSize < 0 {
		return ErrInvalidBatchSize
	}

	if c.Embedder.RateLimit < 0 {
		return ErrInvalidRateLimit
	}

	if c.Embedder.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}

	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.DebounceSeconds < 0 {
		return ErrInvalidDebounce
	}

	if c.Sync.MaxBatchSize < 0 {
		return ErrInvalidMaxBatchSize
	}

	if c.Sync.MaxConcurrent < 0 {
		return ErrInvalidMaxConcurrent
	}

	if c.Sync.InsertBatchSize < 0 {
		return ErrInvalidInsertBatchSize
	}

	if c.Sync.MaxWorkers < 0 {
		return ErrInvalidMaxWorkers
	}

	if c.Sync.PollSeconds < 0 {
		return ErrInvalidPollSeconds
	}

	if c.Sync.PeriodicSeconds < 0 {
		return ErrInvalidPeriodicSeconds
	}

	return nil
}
