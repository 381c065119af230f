// Package analytics records one row per sync attempt and summarizes
// recent sync history per project.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codesync-dev/codesync/internal/model"
	"github.com/codesync-dev/codesync/internal/store"
)

// Operation statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DefaultSummaryLimit bounds how many operations feed a summary.
const DefaultSummaryLimit = 50

// Summary aggregates a project's recent sync operations.
type Summary struct {
	TotalOperations int     `json:"total_operations"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	ChunksAdded     int     `json:"chunks_added"`
	ChunksDeleted   int     `json:"chunks_deleted"`
	AvgDurationSecs float64 `json:"avg_duration_seconds"`
	LastError       string  `json:"last_error,omitempty"`
}

// Recorder writes sync-operation rows.
type Recorder struct {
	store  store.AnalyticsStore
	logger *slog.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(st store.AnalyticsStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Recorder{store: st, logger: logger}
}

// Begin opens one operation row. A storage failure logs and returns a
// zero operation; recording never blocks a sync.
func (r *Recorder) Begin(ctx context.Context, projectID, trigger string) model.SyncOperation {
	op := model.SyncOperation{
		ProjectID: projectID,
		Trigger:   trigger,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}

	op, err := r.store.InsertSyncOperation(ctx, op)
	if err != nil {
		r.logger.WarnContext(ctx, "recording sync start",
			"project_id", projectID, "error", err)

		return model.SyncOperation{}
	}

	return op
}

// Complete closes an operation row with the sync's counters.
func (r *Recorder) Complete(ctx context.Context, op model.SyncOperation, stats model.SyncStats) {
	if op.ID == "" {
		return
	}

	now := time.Now()

	op.Status = StatusCompleted
	op.CompletedAt = &now
	op.FilesCount = stats.FilesProcessed
	op.ChunksAdded = stats.ChunksAdded
	op.ChunksDel = stats.ChunksDeleted
	op.DurationSecs = stats.DurationSecs

	err := r.store.UpdateSyncOperation(ctx, op)
	if err != nil {
		r.logger.WarnContext(ctx, "recording sync completion",
			"operation_id", op.ID, "error", err)
	}
}

// Fail closes an operation row with an error message.
func (r *Recorder) Fail(ctx context.Context, op model.SyncOperation, cause error) {
	if op.ID == "" {
		return
	}

	now := time.Now()

	op.Status = StatusFailed
	op.CompletedAt = &now
	op.DurationSecs = now.Sub(op.StartedAt).Seconds()
	op.ErrorMessage = cause.Error()

	err := r.store.UpdateSyncOperation(ctx, op)
	if err != nil {
		r.logger.WarnContext(ctx, "recording sync failure",
			"operation_id", op.ID, "error", err)
	}
}

// Summarize aggregates the project's most recent operations.
func (r *Recorder) Summarize(ctx context.Context, projectID string, limit int) (Summary, error) {
	if limit <= 0 {
		limit = DefaultSummaryLimit
	}

	ops, err := r.store.SyncOperationsByProject(ctx, projectID, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("load sync operations: %w", err)
	}

	var (
		summary       Summary
		totalDuration float64
		finished      int
	)

	summary.TotalOperations = len(ops)

	for _, op := range ops {
		switch op.Status {
		case StatusCompleted:
			summary.Completed++
		case StatusFailed:
			summary.Failed++

			if summary.LastError == "" {
				summary.LastError = op.ErrorMessage
			}
		}

		summary.ChunksAdded += op.ChunksAdded
		summary.ChunksDeleted += op.ChunksDel

		if op.CompletedAt != nil {
			totalDuration += op.DurationSecs
			finished++
		}
	}

	if finished > 0 {
		summary.AvgDurationSecs = totalDuration / float64(finished)
	}

	return summary, nil
}
