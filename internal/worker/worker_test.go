package worker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesync-dev/codesync/internal/analytics"
	"github.com/codesync-dev/codesync/internal/breaker"
	"github.com/codesync-dev/codesync/internal/debounce"
	"github.com/codesync-dev/codesync/internal/embedder"
	"github.com/codesync-dev/codesync/internal/engine"
	"github.com/codesync-dev/codesync/internal/model"
	"github.com/codesync-dev/codesync/internal/ratelimit"
	"github.com/codesync-dev/codesync/internal/recovery"
	"github.com/codesync-dev/codesync/internal/store"
	"github.com/codesync-dev/codesync/internal/watch"
	"github.com/codesync-dev/codesync/internal/worker"
)

type vectorProvider struct{}

func (vectorProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1}
	}

	return vectors, nil
}

func newHarness(t *testing.T, mem *store.Memory, cfg worker.Config) (*worker.Worker, *watch.Watcher) {
	t.Helper()

	be := embedder.NewBatch(vectorProvider{}, embedder.BatchConfig{
		Limiter: ratelimit.New(100000, time.Second),
	})

	eng := engine.New(mem, be, breaker.NewRegistry(breaker.Config{}), engine.Config{})
	watcher := watch.New(0, nil)
	t.Cleanup(func() { _ = watcher.Close() })

	w := worker.New(worker.Deps{
		Store:     mem,
		Engine:    eng,
		Watcher:   watcher,
		Recovery:  recovery.New(mem, nil),
		Analytics: analytics.NewRecorder(mem, nil),
	}, cfg)

	return w, watcher
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("condition not met before deadline")
}

func TestWorker_StartStop(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	w, _ := newHarness(t, mem, worker.Config{
		PollInterval:      50 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	})

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())

	// The heartbeat advances while running.
	first := w.LastHeartbeat()
	waitFor(t, 2*time.Second, func() bool { return w.LastHeartbeat().After(first) })

	w.Stop()
	assert.False(t, w.IsRunning())

	// Stop twice is safe.
	w.Stop()
}

func TestWorker_DiscoveryStartsAndStopsWatchers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	mem := store.NewMemory()
	mem.PutProject(model.Project{
		ID:              "p1",
		Name:            "demo",
		LocalPath:       dir,
		SyncMode:        model.ModeRealtime,
		AutoSyncEnabled: true,
		SyncStatus:      model.StatusNeverSynced,
	})

	w, watcher := newHarness(t, mem, worker.Config{
		PollInterval:      30 * time.Millisecond,
		HeartbeatInterval: time.Hour,
	})

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	waitFor(t, 2*time.Second, func() bool { return watcher.IsWatching("p1") })
	assert.Equal(t, 1, w.WatchedProjects())

	// Disabling auto-sync unwatches the project on the next poll.
	project, err := mem.Project(context.Background(), "p1")
	require.NoError(t, err)
	project.AutoSyncEnabled = false
	require.NoError(t, mem.UpdateProject(context.Background(), project))

	waitFor(t, 2*time.Second, func() bool { return !watcher.IsWatching("p1") })
}

func TestWorker_RealtimeEventTriggersSync(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	mem := store.NewMemory()
	mem.PutProject(model.Project{
		ID:              "p1",
		Name:            "demo",
		LocalPath:       dir,
		SyncMode:        model.ModeRealtime,
		AutoSyncEnabled: true,
		SyncStatus:      model.StatusNeverSynced,
	})

	w, watcher := newHarness(t, mem, worker.Config{
		PollInterval:      30 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		Debounce:          debounce.Config{Debounce: 50 * time.Millisecond},
	})

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	waitFor(t, 2*time.Second, func() bool { return watcher.IsWatching("p1") })

	path := filepath.Join(dir, "app.py")
	require.NoError(t, os.WriteFile(path, []byte("def f(x):\n    return x\n"), 0o644))

	// The event debounces into a sync that lands chunks in the store.
	waitFor(t, 5*time.Second, func() bool {
		project, err := mem.Project(context.Background(), "p1")
		if err != nil || project.SourceID == "" {
			return false
		}

		refs, err := mem.ChunkRefsBySource(context.Background(), project.SourceID)

		return err == nil && len(refs) > 0
	})

	// The sync is recorded as a realtime operation.
	ops, err := mem.SyncOperationsByProject(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, ops)
	assert.Equal(t, worker.TriggerRealtime, ops[0].Trigger)
}

func TestWorker_SyncNowReturnsStats(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("x = 1\n"), 0o644))

	mem := store.NewMemory()
	mem.PutProject(model.Project{
		ID:         "p1",
		Name:       "demo",
		LocalPath:  dir,
		SyncMode:   model.ModeManual,
		SyncStatus: model.StatusNeverSynced,
	})

	w, _ := newHarness(t, mem, worker.Config{HeartbeatInterval: time.Hour})

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	stats, err := w.SyncNow(context.Background(), "p1", nil, worker.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesProcessed)
	assert.Equal(t, 1, stats.ChunksAdded)

	// Manual syncs never stamp last_auto_sync.
	project, err := mem.Project(context.Background(), "p1")
	require.NoError(t, err)
	assert.Nil(t, project.LastAutoSync)
}

func TestWorker_ResumesActiveCheckpointOnStart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	remaining := filepath.Join(dir, "a.py")
	require.NoError(t, os.WriteFile(remaining, []byte("x = 1\n"), 0o644))

	mem := store.NewMemory()
	mem.PutProject(model.Project{
		ID:         "p1",
		Name:       "demo",
		LocalPath:  dir,
		SyncMode:   model.ModeManual,
		SyncStatus: model.StatusSyncing,
	})

	rec := recovery.New(mem, nil)
	_, err := rec.CreateCheckpoint(context.Background(), "p1", "job1", nil, []string{remaining}, nil)
	require.NoError(t, err)

	w, _ := newHarness(t, mem, worker.Config{HeartbeatInterval: time.Hour})

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	active, err := mem.CheckpointsByProject(context.Background(), "p1", model.CheckpointActive)
	require.NoError(t, err)
	assert.Empty(t, active)

	project, err := mem.Project(context.Background(), "p1")
	require.NoError(t, err)

	refs, err := mem.ChunkRefsBySource(context.Background(), project.SourceID)
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestWorker_EnqueueRequiresRunningWorker(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	w, _ := newHarness(t, mem, worker.Config{})

	_, err := w.EnqueueSync("p1", nil, model.PriorityAuto)
	require.Error(t, err)

	snapshot := w.QueueSnapshot()
	assert.Zero(t, snapshot.TotalQueued)

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	opID, err := w.EnqueueSync("p1", nil, model.PriorityAuto)
	require.NoError(t, err)
	assert.NotEmpty(t, opID)
	assert.Equal(t, 1, w.QueueSnapshot().TotalQueued)
}
