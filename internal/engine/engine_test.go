package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesync-dev/codesync/internal/breaker"
	"github.com/codesync-dev/codesync/internal/embedder"
	"github.com/codesync-dev/codesync/internal/engine"
	"github.com/codesync-dev/codesync/internal/model"
	"github.com/codesync-dev/codesync/internal/ratelimit"
	"github.com/codesync-dev/codesync/internal/store"
	"github.com/codesync-dev/codesync/internal/syncerr"
)

// stubProvider embeds every text as a one-element vector.
type stubProvider struct {
	calls atomic.Int32
}

func (p *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)

	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i]))}
	}

	return vectors, nil
}

// scriptedProvider returns queued errors before succeeding.
type scriptedProvider struct {
	mu       sync.Mutex
	failures []error
}

func (p *scriptedProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]

		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i]))}
	}

	return vectors, nil
}

// countingStore wraps Memory and counts chunk reads to prove a
// rejected call never touches the store.
type countingStore struct {
	*store.Memory
	projectLoads atomic.Int32
	failProject  bool
}

func (s *countingStore) Project(ctx context.Context, id string) (model.Project, error) {
	s.projectLoads.Add(1)

	if s.failProject {
		return model.Project{}, errors.New("database connection refused")
	}

	return s.Memory.Project(ctx, id)
}

func newTestEngine(t *testing.T, st store.Store) *engine.Engine {
	t.Helper()

	be := embedder.NewBatch(&stubProvider{}, embedder.BatchConfig{
		Limiter: ratelimit.New(100000, time.Second),
	})

	return engine.New(st, be, breaker.NewRegistry(breaker.Config{}), engine.Config{MaxWorkers: 2})
}

func seedProject(t *testing.T, mem *store.Memory, dir string) model.Project {
	t.Helper()

	project := model.Project{
		ID:         "p1",
		Name:       "demo",
		LocalPath:  dir,
		SyncMode:   model.ModeManual,
		SyncStatus: model.StatusNeverSynced,
	}
	mem.PutProject(project)

	return project
}

const pythonFile = `import os
import sys

def f(x):
    y = x + 1
    z = y * 2
    print(y)
    print(z)
    return z
`

const markdownFile = `# Title
line one
line two
line three
`

func writeProjectFiles(t *testing.T, dir string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte(pythonFile), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte(markdownFile), 0o644))
}

func TestSyncProject_FirstSync(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeProjectFiles(t, dir)

	mem := store.NewMemory()
	seedProject(t, mem, dir)

	e := newTestEngine(t, mem)

	stats, err := e.SyncProject(context.Background(), "p1", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.FilesProcessed)
	assert.Equal(t, 3, stats.ChunksAdded)
	assert.Zero(t, stats.ChunksModified)
	assert.Zero(t, stats.ChunksDeleted)
	assert.Empty(t, stats.Errors)

	project, err := mem.Project(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSynced, project.SyncStatus)
	require.NotNil(t, project.LastSyncAt)
	require.NotEmpty(t, project.SourceID)

	// a.py splits at the def; b.md is one titled section.
	pyChunks, err := mem.ChunksByFile(context.Background(), project.SourceID, filepath.Join(dir, "a.py"))
	require.NoError(t, err)
	require.Len(t, pyChunks, 2)
	assert.Empty(t, pyChunks[0].Metadata.SectionType)
	assert.Equal(t, "function", pyChunks[1].Metadata.SectionType)
	assert.Equal(t, "f", pyChunks[1].Metadata.SectionName)

	mdChunks, err := mem.ChunksByFile(context.Background(), project.SourceID, filepath.Join(dir, "b.md"))
	require.NoError(t, err)
	require.Len(t, mdChunks, 1)
	assert.Equal(t, "section", mdChunks[0].Metadata.SectionType)
	assert.Equal(t, "Title", mdChunks[0].Metadata.SectionName)

	// Every chunk of a file carries the same file hash.
	assert.Equal(t, pyChunks[0].Metadata.FileHash, pyChunks[1].Metadata.FileHash)

	source, err := mem.SourceByProject(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, source.Stats.TotalFiles)
	assert.Equal(t, 3, source.Stats.TotalChunks)
}

func TestSyncProject_UnchangedResyncIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeProjectFiles(t, dir)

	mem := store.NewMemory()
	seedProject(t, mem, dir)

	e := newTestEngine(t, mem)

	_, err := e.SyncProject(context.Background(), "p1", nil)
	require.NoError(t, err)

	stats, err := e.SyncProject(context.Background(), "p1", nil)
	require.NoError(t, err)

	assert.Zero(t, stats.ChunksAdded)
	assert.Zero(t, stats.ChunksModified)
	assert.Zero(t, stats.ChunksDeleted)
	assert.Zero(t, stats.FilesProcessed)
}

func TestSyncProject_ModifyOneChunk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeProjectFiles(t, dir)

	mem := store.NewMemory()
	seedProject(t, mem, dir)

	e := newTestEngine(t, mem)

	_, err := e.SyncProject(context.Background(), "p1", nil)
	require.NoError(t, err)

	// Change only the body of def f; the import preamble keeps its hash.
	changed := `import os
import sys

def f(x):
    y = x + 10
    z = y * 20
    print(y)
    print(z)
    return z
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte(changed), 0o644))

	stats, err := e.SyncProject(context.Background(), "p1", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FilesProcessed)
	assert.Equal(t, 1, stats.ChunksAdded)
	assert.Equal(t, 1, stats.ChunksModified)
	assert.Equal(t, 1, stats.ChunksDeleted)

	project, err := mem.Project(context.Background(), "p1")
	require.NoError(t, err)

	// No duplicate chunk hashes within the file.
	chunks, err := mem.ChunksByFile(context.Background(), project.SourceID, filepath.Join(dir, "a.py"))
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	hashes := map[string]struct{}{}
	for _, chunk := range chunks {
		hashes[chunk.Metadata.ChunkHash] = struct{}{}
	}

	assert.Len(t, hashes, 2)
}

func TestSyncProject_DeletedFileRemovesChunks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeProjectFiles(t, dir)

	mem := store.NewMemory()
	seedProject(t, mem, dir)

	e := newTestEngine(t, mem)

	_, err := e.SyncProject(context.Background(), "p1", nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "b.md")))

	stats, err := e.SyncProject(context.Background(), "p1", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ChunksDeleted)

	project, err := mem.Project(context.Background(), "p1")
	require.NoError(t, err)

	refs, err := mem.ChunkRefsBySource(context.Background(), project.SourceID)
	require.NoError(t, err)

	for _, ref := range refs {
		assert.NotEqual(t, filepath.Join(dir, "b.md"), ref.Metadata.FilePath)
	}
}

func TestSyncProject_ChangedFilesNarrowsScope(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeProjectFiles(t, dir)

	mem := store.NewMemory()
	seedProject(t, mem, dir)

	e := newTestEngine(t, mem)

	stats, err := e.SyncProject(context.Background(), "p1", []string{filepath.Join(dir, "a.py")})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FilesProcessed)
	assert.Equal(t, 2, stats.ChunksAdded)
}

func TestSyncProject_SkipsBinaryFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.py"), []byte{0xff, 0xfe, 0x00, 0x01}, 0o644))

	mem := store.NewMemory()
	seedProject(t, mem, dir)

	e := newTestEngine(t, mem)

	stats, err := e.SyncProject(context.Background(), "p1", nil)
	require.NoError(t, err)

	assert.Zero(t, stats.ChunksAdded)
	assert.Empty(t, stats.Errors)
}

func TestSyncProject_FailedEmbeddingsAreNeverInserted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeProjectFiles(t, dir)

	mem := store.NewMemory()
	seedProject(t, mem, dir)

	// a.py embeds first (sorted order): its batch call fails, then the
	// per-text fallback fails for the first piece and succeeds for the
	// second. b.md embeds cleanly. Non-retryable errors keep the
	// fallback from retrying.
	p := &scriptedProvider{failures: []error{
		errors.New("permission denied"),
		errors.New("permission denied"),
	}}

	be := embedder.NewBatch(p, embedder.BatchConfig{
		Limiter: ratelimit.New(100000, time.Second),
	})
	e := engine.New(mem, be, breaker.NewRegistry(breaker.Config{}), engine.Config{MaxWorkers: 1})

	ctx := context.Background()

	stats, err := e.SyncProject(ctx, "p1", nil)
	require.NoError(t, err)

	// The unembedded piece is skipped, not inserted.
	assert.Equal(t, 2, stats.ChunksAdded)
	assert.Equal(t, 1, stats.FilesProcessed)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "embedding failed")

	project, err := mem.Project(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, project.SyncStatus)

	// Every stored chunk carries an embedding.
	for _, name := range []string{"a.py", "b.md"} {
		chunks, chunksErr := mem.ChunksByFile(ctx, project.SourceID, filepath.Join(dir, name))
		require.NoError(t, chunksErr)

		for _, chunk := range chunks {
			assert.NotNil(t, chunk.Embedding, chunk.Metadata.RelativePath)
		}
	}

	entries, err := mem.ErrorLogByProject(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(syncerr.CategoryEmbedding), entries[0].ErrorType)
}

func TestSyncProject_CleanSyncResolvesErrorLog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeProjectFiles(t, dir)

	mem := store.NewMemory()
	seedProject(t, mem, dir)

	ctx := context.Background()

	_, err := mem.InsertErrorLog(ctx, model.ErrorLogEntry{
		ProjectID:    "p1",
		ErrorType:    string(syncerr.CategoryNetwork),
		ErrorMessage: "connection refused",
		FilePath:     filepath.Join(dir, "a.py"),
		OccurredAt:   time.Now(),
	})
	require.NoError(t, err)

	e := newTestEngine(t, mem)

	stats, err := e.SyncProject(ctx, "p1", nil)
	require.NoError(t, err)
	require.Empty(t, stats.Errors)

	entries, err := mem.ErrorLogByProject(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Resolved)
}

func TestSyncProject_MissingProjectFails(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	e := newTestEngine(t, mem)

	_, err := e.SyncProject(context.Background(), "ghost", nil)
	require.Error(t, err)
}

func TestSyncProject_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	st := &countingStore{Memory: store.NewMemory(), failProject: true}

	be := embedder.NewBatch(&stubProvider{}, embedder.BatchConfig{
		Limiter: ratelimit.New(100000, time.Second),
	})
	e := engine.New(st, be, breaker.NewRegistry(breaker.Config{FailureThreshold: 3}), engine.Config{})

	for range 3 {
		_, err := e.SyncProject(context.Background(), "p1", nil)
		require.Error(t, err)
	}

	loadsBefore := st.projectLoads.Load()

	_, err := e.SyncProject(context.Background(), "p1", nil)
	require.ErrorIs(t, err, syncerr.ErrCircuitOpen)
	assert.Equal(t, syncerr.CategoryCircuitBreaker, syncerr.Classify(err))

	// The rejected call never reached the store.
	assert.Equal(t, loadsBefore, st.projectLoads.Load())
}

func TestScanDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "app.ts"), []byte("const x = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "pkg", "index.js"), []byte("x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte{1, 2, 3}, 0o644))

	files, err := engine.ScanDirectory(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "main.go"),
		filepath.Join(dir, "src", "app.ts"),
	}, files)
}
