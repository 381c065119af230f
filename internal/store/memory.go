package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codesync-dev/codesync/internal/model"
)

// Memory is a fully in-process Store. It backs tests and the one-shot
// local sync mode. Safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	projects    map[string]model.Project
	sources     map[string]model.CodebaseSource
	chunks      map[string]model.Chunk
	checkpoints map[string]model.Checkpoint
	operations  map[string]model.SyncOperation
	errorLog    map[string]model.ErrorLogEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		projects:    make(map[string]model.Project),
		sources:     make(map[string]model.CodebaseSource),
		chunks:      make(map[string]model.Chunk),
		checkpoints: make(map[string]model.Checkpoint),
		operations:  make(map[string]model.SyncOperation),
		errorLog:    make(map[string]model.ErrorLogEntry),
	}
}

var _ Store = (*Memory)(nil)

// PutProject inserts or replaces a project record.
func (m *Memory) PutProject(project model.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if project.SyncStatus == "" {
		project.SyncStatus = model.StatusNeverSynced
	}

	m.projects[project.ID] = project
}

// Project implements ProjectStore.
func (m *Memory) Project(_ context.Context, id string) (model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	project, ok := m.projects[id]
	if !ok {
		return model.Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}

	return project, nil
}

// Projects implements ProjectStore.
func (m *Memory) Projects(_ context.Context) ([]model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// UpdateProject implements ProjectStore.
func (m *Memory) UpdateProject(_ context.Context, project model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.projects[project.ID]
	if !ok {
		return fmt.Errorf("project %s: %w", project.ID, ErrNotFound)
	}

	m.projects[project.ID] = project

	return nil
}

// UpdateProjectSyncState implements ProjectStore.
func (m *Memory) UpdateProjectSyncState(
	_ context.Context, id string, status model.SyncStatus, lastSyncAt *time.Time, lastError string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	project, ok := m.projects[id]
	if !ok {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}

	project.SyncStatus = status
	project.LastSyncError = lastError

	if lastSyncAt != nil {
		project.LastSyncAt = lastSyncAt
	}

	m.projects[id] = project

	return nil
}

// SourceByProject implements SourceStore.
func (m *Memory) SourceByProject(_ context.Context, projectID string) (model.CodebaseSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, src := range m.sources {
		if src.ProjectID == projectID {
			return src, nil
		}
	}

	return model.CodebaseSource{}, fmt.Errorf("source for project %s: %w", projectID, ErrNotFound)
}

// UpsertSource implements SourceStore.
func (m *Memory) UpsertSource(_ context.Context, source model.CodebaseSource) (model.CodebaseSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if source.ID == "" {
		source.ID = uuid.NewString()
	}

	m.sources[source.ID] = source

	return source, nil
}

// DeleteSource implements SourceStore. Deleting a source cascades to
// its chunks.
func (m *Memory) DeleteSource(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sources, id)

	for chunkID, chunk := range m.chunks {
		if chunk.SourceID == id {
			delete(m.chunks, chunkID)
		}
	}

	return nil
}

// UpdateSourceStats implements SourceStore.
func (m *Memory) UpdateSourceStats(_ context.Context, id string, stats model.SourceStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}

	src.Stats = stats
	m.sources[id] = src

	return nil
}

// InsertChunks implements ChunkStore.
func (m *Memory) InsertChunks(_ context.Context, chunks []model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, chunk := range chunks {
		if chunk.ID == "" {
			chunk.ID = uuid.NewString()
		}

		m.chunks[chunk.ID] = chunk
	}

	return nil
}

// DeleteChunksByIDs implements ChunkStore.
func (m *Memory) DeleteChunksByIDs(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.chunks, id)
	}

	return nil
}

// DeleteChunksByFile implements ChunkStore.
func (m *Memory) DeleteChunksByFile(_ context.Context, sourceID, filePath string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0

	for id, chunk := range m.chunks {
		if chunk.SourceID == sourceID && chunk.Metadata.FilePath == filePath {
			delete(m.chunks, id)
			deleted++
		}
	}

	return deleted, nil
}

// ChunksByFile implements ChunkStore.
func (m *Memory) ChunksByFile(_ context.Context, sourceID, filePath string) ([]model.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Chunk

	for _, chunk := range m.chunks {
		if chunk.SourceID == sourceID && chunk.Metadata.FilePath == filePath {
			out = append(out, chunk)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.ChunkIndex < out[j].Metadata.ChunkIndex })

	return out, nil
}

// ChunkRefsBySource implements ChunkStore.
func (m *Memory) ChunkRefsBySource(_ context.Context, sourceID string) ([]model.ChunkRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ChunkRef

	for _, chunk := range m.chunks {
		if chunk.SourceID == sourceID {
			out = append(out, model.ChunkRef{ID: chunk.ID, Metadata: chunk.Metadata})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// CountUniqueFiles implements ChunkStore.
func (m *Memory) CountUniqueFiles(_ context.Context, sourceID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make(map[string]struct{})

	for _, chunk := range m.chunks {
		if chunk.SourceID == sourceID {
			files[chunk.Metadata.FilePath] = struct{}{}
		}
	}

	return len(files), nil
}

// FindDuplicateChunks implements ChunkStore.
func (m *Memory) FindDuplicateChunks(_ context.Context, sourceID string) ([]DuplicateChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct{ filePath, chunkHash string }

	byHash := make(map[key][]string)

	for _, chunk := range m.chunks {
		if chunk.SourceID != sourceID {
			continue
		}

		k := key{chunk.Metadata.FilePath, chunk.Metadata.ChunkHash}
		byHash[k] = append(byHash[k], chunk.ID)
	}

	var out []DuplicateChunk

	for k, ids := range byHash {
		if len(ids) > 1 {
			sort.Strings(ids)
			out = append(out, DuplicateChunk{ChunkHash: k.chunkHash, ChunkIDs: ids, FilePath: k.filePath})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ChunkHash < out[j].ChunkHash })

	return out, nil
}

// ChunksMissingEmbedding implements ChunkStore.
func (m *Memory) ChunksMissingEmbedding(_ context.Context, sourceID string) ([]model.ChunkRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ChunkRef

	for _, chunk := range m.chunks {
		if chunk.SourceID == sourceID && len(chunk.Embedding) == 0 {
			out = append(out, model.ChunkRef{ID: chunk.ID, Metadata: chunk.Metadata})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// InsertCheckpoint implements CheckpointStore.
func (m *Memory) InsertCheckpoint(_ context.Context, cp model.Checkpoint) (model.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}

	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	m.checkpoints[cp.ID] = cp

	return cp, nil
}

// UpdateCheckpointStatus implements CheckpointStore.
func (m *Memory) UpdateCheckpointStatus(_ context.Context, id string, status model.CheckpointStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.checkpoints[id]
	if !ok {
		return fmt.Errorf("checkpoint %s: %w", id, ErrNotFound)
	}

	cp.Status = status
	m.checkpoints[id] = cp

	return nil
}

// CheckpointsByProject implements CheckpointStore. An empty status
// matches all checkpoints.
func (m *Memory) CheckpointsByProject(
	_ context.Context, projectID string, status model.CheckpointStatus,
) ([]model.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Checkpoint

	for _, cp := range m.checkpoints {
		if cp.ProjectID != projectID {
			continue
		}

		if status != "" && cp.Status != status {
			continue
		}

		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

// InsertSyncOperation implements AnalyticsStore.
func (m *Memory) InsertSyncOperation(_ context.Context, op model.SyncOperation) (model.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	m.operations[op.ID] = op

	return op, nil
}

// UpdateSyncOperation implements AnalyticsStore.
func (m *Memory) UpdateSyncOperation(_ context.Context, op model.SyncOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.operations[op.ID]
	if !ok {
		return fmt.Errorf("sync operation %s: %w", op.ID, ErrNotFound)
	}

	m.operations[op.ID] = op

	return nil
}

// SyncOperationsByProject implements AnalyticsStore, most recent first.
func (m *Memory) SyncOperationsByProject(
	_ context.Context, projectID string, limit int,
) ([]model.SyncOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.SyncOperation

	for _, op := range m.operations {
		if op.ProjectID == projectID {
			out = append(out, op)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// InsertErrorLog implements ErrorLogStore.
func (m *Memory) InsertErrorLog(_ context.Context, entry model.ErrorLogEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	m.errorLog[entry.ID] = entry

	return entry.ID, nil
}

// UpdateErrorLogResolved implements ErrorLogStore.
func (m *Memory) UpdateErrorLogResolved(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.errorLog[id]
	if !ok {
		return fmt.Errorf("error log %s: %w", id, ErrNotFound)
	}

	entry.Resolved = true
	m.errorLog[id] = entry

	return nil
}

// ErrorLogByProject implements ErrorLogStore, most recent first.
func (m *Memory) ErrorLogByProject(
	_ context.Context, projectID string, limit int,
) ([]model.ErrorLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ErrorLogEntry

	for _, entry := range m.errorLog {
		if entry.ProjectID == projectID {
			out = append(out, entry)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// Search implements Searcher with case-insensitive substring matching,
// ranked by match count. It stands in for the hosted store's vector
// search in tests and local runs.
func (m *Memory) Search(_ context.Context, sourceID, query string, limit int) ([]model.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(query)

	type scored struct {
		chunk model.Chunk
		hits  int
	}

	var matches []scored

	for _, chunk := range m.chunks {
		if chunk.SourceID != sourceID {
			continue
		}

		hits := strings.Count(strings.ToLower(chunk.Content), needle)
		if hits > 0 {
			matches = append(matches, scored{chunk: chunk, hits: hits})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].hits != matches[j].hits {
			return matches[i].hits > matches[j].hits
		}

		return matches[i].chunk.ID < matches[j].chunk.ID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]model.Chunk, 0, len(matches))
	for _, match := range matches {
		out = append(out, match.chunk)
	}

	return out, nil
}

var _ Searcher = (*Memory)(nil)
