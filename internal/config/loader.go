package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".codesync"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for codesync settings.
const envPrefix = "CODESYNC"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Load loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func Load(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("store.base_url", "")
	viperCfg.SetDefault("store.api_key", "")

	viperCfg.SetDefault("embedder.base_url", "")
	viperCfg.SetDefault("embedder.api_key", "")
	viperCfg.SetDefault("embedder.model", DefaultEmbedderModel)
	viperCfg.SetDefault("embedder.batch_size", DefaultEmbedderBatchSize)
	viperCfg.SetDefault("embedder.max_retries", DefaultEmbedderMaxRetries)
	viperCfg.SetDefault("embedder.rate_limit", DefaultEmbedderRateLimit)

	viperCfg.SetDefault("sync.debounce_seconds", DefaultSyncDebounceSeconds)
	viperCfg.SetDefault("sync.max_batch_size", DefaultSyncMaxBatchSize)
	viperCfg.SetDefault("sync.max_concurrent", DefaultSyncMaxConcurrent)
	viperCfg.SetDefault("sync.insert_batch_size", DefaultSyncInsertBatchSize)
	viperCfg.SetDefault("sync.max_workers", DefaultSyncMaxWorkers)
	viperCfg.SetDefault("sync.poll_seconds", DefaultSyncPollSeconds)
	viperCfg.SetDefault("sync.periodic_seconds", DefaultSyncPeriodicSeconds)
	viperCfg.SetDefault("sync.heartbeat_seconds", DefaultSyncHeartbeatSeconds)
	viperCfg.SetDefault("sync.max_chunk_size", DefaultSyncMaxChunkSize)
	viperCfg.SetDefault("sync.max_embedding_retries", DefaultEmbedderMaxRetries)

	viperCfg.SetDefault("watcher.event_buffer", DefaultWatcherEventBuffer)

	viperCfg.SetDefault("checkpoint.enabled", DefaultCheckpointEnabled)
	viperCfg.SetDefault("checkpoint.dir", DefaultCheckpointDir)

	viperCfg.SetDefault("http.listen_addr", DefaultHTTPListenAddr)

	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.otlp_headers", "")
	viperCfg.SetDefault("observability.otlp_insecure", false)
	viperCfg.SetDefault("observability.sample_ratio", DefaultSampleRatio)
	viperCfg.SetDefault("observability.environment", DefaultEnvironment)
	viperCfg.SetDefault("observability.log_level", DefaultLogLevel)
	viperCfg.SetDefault("observability.log_json", DefaultLogJSON)
}

// DebounceInterval returns the debounce quiet period as a duration.
func (c *Config) DebounceInterval() time.Duration {
	return time.Duration(c.Sync.DebounceSeconds) * time.Second
}

// PollInterval returns the project-discovery period as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Sync.PollSeconds) * time.Second
}

// PeriodicInterval returns the periodic-mode sync period as a duration.
func (c *Config) PeriodicInterval() time.Duration {
	return time.Duration(c.Sync.PeriodicSeconds) * time.Second
}

// HeartbeatInterval returns the worker heartbeat period as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Sync.HeartbeatSeconds) * time.Second
}
