// Package store defines the knowledge-store contract the sync pipeline
// reconciles against, with an in-memory implementation for tests and
// local runs and a REST client for a hosted store. Persistence and
// similarity search live behind this boundary.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/codesync-dev/codesync/internal/model"
)

// ErrNotFound marks a missing project, source, or chunk.
var ErrNotFound = errors.New("store: not found")

// DuplicateChunk reports one chunk_hash occurring more than once within
// a source.
type DuplicateChunk struct {
	ChunkHash string   `json:"chunk_hash"`
	ChunkIDs  []string `json:"chunk_ids"`
	FilePath  string   `json:"file_path"`
}

// ProjectStore is project metadata access.
type ProjectStore interface {
	Project(ctx context.Context, id string) (model.Project, error)
	Projects(ctx context.Context) ([]model.Project, error)
	UpdateProject(ctx context.Context, project model.Project) error

	// UpdateProjectSyncState stamps the sync bookkeeping fields without
	// touching the rest of the record.
	UpdateProjectSyncState(ctx context.Context, id string, status model.SyncStatus, lastSyncAt *time.Time, lastError string) error
}

// SourceStore is CodebaseSource access.
type SourceStore interface {
	SourceByProject(ctx context.Context, projectID string) (model.CodebaseSource, error)
	UpsertSource(ctx context.Context, source model.CodebaseSource) (model.CodebaseSource, error)
	DeleteSource(ctx context.Context, id string) error
	UpdateSourceStats(ctx context.Context, id string, stats model.SourceStats) error
}

// ChunkStore is chunk-level access.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []model.Chunk) error
	DeleteChunksByIDs(ctx context.Context, ids []string) error

	// DeleteChunksByFile removes all chunks of one file within a source
	// and returns how many were removed.
	DeleteChunksByFile(ctx context.Context, sourceID, filePath string) (int, error)

	ChunksByFile(ctx context.Context, sourceID, filePath string) ([]model.Chunk, error)

	// ChunkRefsBySource projects every chunk of a source to id+metadata.
	ChunkRefsBySource(ctx context.Context, sourceID string) ([]model.ChunkRef, error)

	CountUniqueFiles(ctx context.Context, sourceID string) (int, error)
	FindDuplicateChunks(ctx context.Context, sourceID string) ([]DuplicateChunk, error)
	ChunksMissingEmbedding(ctx context.Context, sourceID string) ([]model.ChunkRef, error)
}

// CheckpointStore is checkpoint-table access.
type CheckpointStore interface {
	InsertCheckpoint(ctx context.Context, cp model.Checkpoint) (model.Checkpoint, error)
	UpdateCheckpointStatus(ctx context.Context, id string, status model.CheckpointStatus) error
	CheckpointsByProject(ctx context.Context, projectID string, status model.CheckpointStatus) ([]model.Checkpoint, error)
}

// AnalyticsStore is append-only sync-operation access.
type AnalyticsStore interface {
	InsertSyncOperation(ctx context.Context, op model.SyncOperation) (model.SyncOperation, error)
	UpdateSyncOperation(ctx context.Context, op model.SyncOperation) error
	SyncOperationsByProject(ctx context.Context, projectID string, limit int) ([]model.SyncOperation, error)
}

// ErrorLogStore persists classified sync errors.
type ErrorLogStore interface {
	InsertErrorLog(ctx context.Context, entry model.ErrorLogEntry) (string, error)
	UpdateErrorLogResolved(ctx context.Context, id string) error
	ErrorLogByProject(ctx context.Context, projectID string, limit int) ([]model.ErrorLogEntry, error)
}

// Store is the full knowledge-store contract.
type Store interface {
	ProjectStore
	SourceStore
	ChunkStore
	CheckpointStore
	AnalyticsStore
	ErrorLogStore
}

// Searcher is the optional similarity-search hook a store may offer.
// Search execution itself is outside the sync core.
type Searcher interface {
	Search(ctx context.Context, sourceID, query string, limit int) ([]model.Chunk, error)
}
