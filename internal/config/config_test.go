package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesync-dev/codesync/internal/config"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "codesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultEmbedderModel, cfg.Embedder.Model)
	assert.Equal(t, config.DefaultEmbedderBatchSize, cfg.Embedder.BatchSize)
	assert.Equal(t, config.DefaultSyncMaxConcurrent, cfg.Sync.MaxConcurrent)
	assert.Equal(t, config.DefaultWatcherEventBuffer, cfg.Watcher.EventBuffer)
	assert.Equal(t, config.DefaultCheckpointDir, cfg.Checkpoint.Dir)
	assert.True(t, cfg.Checkpoint.Enabled)
	assert.Equal(t, config.DefaultHTTPListenAddr, cfg.HTTP.ListenAddr)
	assert.Equal(t, config.DefaultLogLevel, cfg.Observability.LogLevel)
	assert.InEpsilon(t, config.DefaultSampleRatio, cfg.Observability.SampleRatio, 1e-9)
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
store:
  base_url: https://store.example.com/rest/v1
  api_key: secret
embedder:
  model: custom-embed
  batch_size: 25
sync:
  debounce_seconds: 5
  max_concurrent: 2
  periodic_seconds: 600
http:
  listen_addr: ":9090"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://store.example.com/rest/v1", cfg.Store.BaseURL)
	assert.Equal(t, "secret", cfg.Store.APIKey)
	assert.Equal(t, "custom-embed", cfg.Embedder.Model)
	assert.Equal(t, 25, cfg.Embedder.BatchSize)
	assert.Equal(t, 2, cfg.Sync.MaxConcurrent)
	assert.Equal(t, ":9090", cfg.HTTP.ListenAddr)

	assert.Equal(t, 5*time.Second, cfg.DebounceInterval())
	assert.Equal(t, 10*time.Minute, cfg.PeriodicInterval())
	assert.Equal(t, time.Duration(config.DefaultSyncPollSeconds)*time.Second, cfg.PollInterval())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "sync:\n  max_concurrent: 2\n")

	t.Setenv("CODESYNC_SYNC_MAX_CONCURRENT", "7")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Sync.MaxConcurrent)
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, "sync:\n  max_concurrent: -1\n")

	_, err := config.Load(path)
	require.ErrorIs(t, err, config.ErrInvalidMaxConcurrent)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{
			name:   "zero config is valid",
			mutate: func(*config.Config) {},
		},
		{
			name:    "negative batch size",
			mutate:  func(c *config.Config) { c.Embedder.BatchSize = -1 },
			wantErr: config.ErrInvalidBatchSize,
		},
		{
			name:    "negative debounce",
			mutate:  func(c *config.Config) { c.Sync.DebounceSeconds = -1 },
			wantErr: config.ErrInvalidDebounce,
		},
		{
			name:    "negative event buffer",
			mutate:  func(c *config.Config) { c.Watcher.EventBuffer = -1 },
			wantErr: config.ErrInvalidEventBuffer,
		},
		{
			name:    "sample ratio above one",
			mutate:  func(c *config.Config) { c.Observability.SampleRatio = 1.5 },
			wantErr: config.ErrInvalidSampleRatio,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var cfg config.Config

			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
