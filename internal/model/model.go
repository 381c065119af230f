// Package model defines the records shared across the sync pipeline:
// projects, sources, chunks, file events, jobs, and checkpoints.
package model

import "time"

// SyncMode selects how a project's syncs are triggered.
type SyncMode string

const (
	// ModeManual syncs only on explicit request.
	ModeManual SyncMode = "manual"
	// ModeRealtime syncs from debounced file-watcher events.
	ModeRealtime SyncMode = "realtime"
	// ModePeriodic syncs on a fixed interval.
	ModePeriodic SyncMode = "periodic"
	// ModeVCSHook syncs when a version-control hook fires.
	ModeVCSHook SyncMode = "vcs-hook"
)

// SyncStatus is the lifecycle state of a project's sync.
type SyncStatus string

const (
	// StatusNeverSynced marks a project that has not completed any sync.
	StatusNeverSynced SyncStatus = "never_synced"
	// StatusSyncing marks a sync in progress.
	StatusSyncing SyncStatus = "syncing"
	// StatusSynced marks the last sync as successful.
	StatusSynced SyncStatus = "synced"
	// StatusError marks the last sync as failed.
	StatusError SyncStatus = "error"
)

// Project is a user-configured on-disk directory tracked by the system.
type Project struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	LocalPath       string     `json:"local_path"`
	SyncMode        SyncMode   `json:"sync_mode"`
	AutoSyncEnabled bool       `json:"auto_sync_enabled"`
	SyncStatus      SyncStatus `json:"sync_status"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	LastAutoSync    *time.Time `json:"last_auto_sync,omitempty"`
	LastSyncError   string     `json:"last_sync_error,omitempty"`

	// SourceID references the project's CodebaseSource in the store.
	// Empty until the first sync creates the source.
	SourceID string `json:"source_id,omitempty"`
}

// SourceStats are the store-side statistics of a CodebaseSource.
type SourceStats struct {
	TotalFiles  int        `json:"total_files"`
	TotalChunks int        `json:"total_chunks"`
	LastUpdate  *time.Time `json:"last_update,omitempty"`
}

// CodebaseSource is the store-side container of chunks for exactly one
// project. The back-reference is the project id only; the Project record
// is resolved through the store.
type CodebaseSource struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"project_id"`
	Name      string      `json:"name"`
	Stats     SourceStats `json:"stats"`
}

// ChunkMetadata is the structured metadata carried by every chunk.
type ChunkMetadata struct {
	FilePath     string `json:"file_path"`
	RelativePath string `json:"relative_path"`
	FileHash     string `json:"file_hash"`
	ChunkHash    string `json:"chunk_hash"`
	Language     string `json:"language"`
	ChunkIndex   int    `json:"chunk_index"`
	StartLine    int    `json:"start_line"`
	EndLine      int    `json:"end_line"`
	SectionType  string `json:"section_type,omitempty"`
	SectionName  string `json:"section_name,omitempty"`
}

// Chunk is a bounded span of file text plus an embedding and metadata.
// Embedding is nil when the provider failed for this chunk.
type Chunk struct {
	ID        string        `json:"id"`
	SourceID  string        `json:"source_id"`
	Content   string        `json:"content"`
	Embedding []float32     `json:"embedding,omitempty"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// ChunkRef is the projection of a chunk to identity plus metadata, used
// for change detection without loading content or embeddings.
type ChunkRef struct {
	ID       string        `json:"id"`
	Metadata ChunkMetadata `json:"metadata"`
}

// EventKind is the kind of a file event.
type EventKind string

const (
	// EventCreated marks a file creation.
	EventCreated EventKind = "created"
	// EventModified marks a file modification.
	EventModified EventKind = "modified"
	// EventDeleted marks a file deletion.
	EventDeleted EventKind = "deleted"
)

// FileEvent is a single file change observed by the watcher.
type FileEvent struct {
	Kind      EventKind `json:"kind"`
	ProjectID string    `json:"project_id"`
	FilePath  string    `json:"file_path"`
	Timestamp time.Time `json:"timestamp"`
}

// Priority orders sync jobs; lower values run first.
type Priority int

const (
	// PriorityManual is the priority of user-triggered syncs.
	PriorityManual Priority = 0
	// PriorityAuto is the priority of watcher- and schedule-triggered syncs.
	PriorityAuto Priority = 1
)

// SyncJob is one queued sync request for a project.
type SyncJob struct {
	OperationID string    `json:"operation_id"`
	ProjectID   string    `json:"project_id"`
	Files       []string  `json:"files,omitempty"`
	Priority    Priority  `json:"priority"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// SyncStats are the per-job counters returned by the engine.
type SyncStats struct {
	FilesProcessed int      `json:"files_processed"`
	ChunksAdded    int      `json:"chunks_added"`
	ChunksModified int      `json:"chunks_modified"`
	ChunksDeleted  int      `json:"chunks_deleted"`
	DurationSecs   float64  `json:"duration_seconds"`
	Errors         []string `json:"errors,omitempty"`
}

// CheckpointStatus is the lifecycle state of a checkpoint.
type CheckpointStatus string

const (
	// CheckpointActive marks work in progress.
	CheckpointActive CheckpointStatus = "active"
	// CheckpointCompleted marks finished work.
	CheckpointCompleted CheckpointStatus = "completed"
	// CheckpointFailed marks abandoned work.
	CheckpointFailed CheckpointStatus = "failed"
	// CheckpointRolledBack marks work whose chunks were removed again.
	CheckpointRolledBack CheckpointStatus = "rolled_back"
)

// Checkpoint is a durable record of sync work in progress, used to
// resume after a worker crash. At most one active checkpoint exists per
// project at a time.
type Checkpoint struct {
	ID             string           `json:"id"`
	ProjectID      string           `json:"project_id"`
	SyncJobID      string           `json:"sync_job_id"`
	FilesProcessed []string         `json:"files_processed"`
	FilesRemaining []string         `json:"files_remaining"`
	ChunksCreated  []string         `json:"chunks_created"`
	Status         CheckpointStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
}

// SyncOperation is one append-only analytics row per sync attempt.
type SyncOperation struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	Trigger      string     `json:"trigger"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FilesCount   int        `json:"files_count"`
	ChunksAdded  int        `json:"chunks_added"`
	ChunksDel    int        `json:"chunks_deleted"`
	DurationSecs float64    `json:"duration_seconds,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// ErrorLogEntry is one persisted sync error.
type ErrorLogEntry struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id,omitempty"`
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message"`
	ErrorDetails string    `json:"error_details,omitempty"`
	FilePath     string    `json:"file_path,omitempty"`
	RetryCount   int       `json:"retry_count"`
	Resolved     bool      `json:"resolved"`
	OccurredAt   time.Time `json:"occurred_at"`
}
