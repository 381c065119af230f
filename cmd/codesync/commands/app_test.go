package commands

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesync-dev/codesync/internal/config"
	"github.com/codesync-dev/codesync/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{}
	cfg.Embedder.BaseURL = "https://embed.example.com/v1"
	cfg.Embedder.Model = config.DefaultEmbedderModel
	cfg.Checkpoint.Enabled = true
	cfg.Checkpoint.Dir = filepath.Join(t.TempDir(), "checkpoints")

	return cfg
}

func TestBuildApp(t *testing.T) {
	t.Parallel()

	application, err := buildApp(testConfig(t), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	assert.NotNil(t, application.store)
	assert.NotNil(t, application.memory)
	assert.NotNil(t, application.engine)
	assert.NotNil(t, application.worker)
}

func TestBuildApp_RequiresEmbedder(t *testing.T) {
	t.Parallel()

	_, err := buildApp(&config.Config{}, slog.New(slog.DiscardHandler))
	require.ErrorIs(t, err, ErrEmbedderNotConfigured)
}

func TestBuildStore_CheckpointOverlay(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)

	st, mem := buildStore(cfg, slog.New(slog.DiscardHandler))
	require.NotNil(t, mem)

	ctx := context.Background()

	cp, err := st.InsertCheckpoint(ctx, model.Checkpoint{
		ID:        "cp1",
		ProjectID: "p1",
		SyncJobID: "job1",
		Status:    model.CheckpointActive,
	})
	require.NoError(t, err)

	// Checkpoints land in the file store, not the primary store.
	fromOverlay, err := st.CheckpointsByProject(ctx, "p1", model.CheckpointActive)
	require.NoError(t, err)
	require.Len(t, fromOverlay, 1)
	assert.Equal(t, cp.ID, fromOverlay[0].ID)

	fromMemory, err := mem.CheckpointsByProject(ctx, "p1", model.CheckpointActive)
	require.NoError(t, err)
	assert.Empty(t, fromMemory)
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("nonsense"))
}

func TestInstrumentedSyncer_NoMetricsPassesThrough(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)

	application, err := buildApp(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	application.memory.PutProject(model.Project{
		ID:        "p1",
		Name:      "p1",
		LocalPath: t.TempDir(),
		SyncMode:  model.ModeManual,
	})

	s := &instrumentedSyncer{inner: application.worker}

	stats, err := s.SyncNow(context.Background(), "p1", nil, "manual")
	require.NoError(t, err)
	assert.Zero(t, stats.FilesProcessed)
}
