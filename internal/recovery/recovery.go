// Package recovery provides checkpoint-based crash recovery, integrity
// auditing, and rollback for the sync pipeline.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/codesync-dev/codesync/internal/model"
	"github.com/codesync-dev/codesync/internal/store"
)

// DeleteBatchSize is the chunk count per cleanup or rollback delete.
const DeleteBatchSize = 100

// SyncFunc re-runs a sync for the remaining files of a checkpoint.
type SyncFunc func(ctx context.Context, projectID string, files []string) error

// AuditResult is the read-only product of an integrity audit.
type AuditResult struct {
	OrphanedChunks    []model.ChunkRef       `json:"orphaned_chunks"`
	DuplicateChunks   []store.DuplicateChunk `json:"duplicate_chunks"`
	MissingEmbeddings []model.ChunkRef       `json:"missing_embeddings"`
}

// Clean reports whether the audit found nothing to repair.
func (r AuditResult) Clean() bool {
	return len(r.OrphanedChunks) == 0 &&
		len(r.DuplicateChunks) == 0 &&
		len(r.MissingEmbeddings) == 0
}

// Service owns checkpoint lifecycle and store repair.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a recovery service.
func New(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Service{store: st, logger: logger}
}

// CreateCheckpoint writes one active checkpoint for a running job.
func (s *Service) CreateCheckpoint(ctx context.Context, projectID, jobID string, processed, remaining, chunksCreated []string) (model.Checkpoint, error) {
	cp := model.Checkpoint{
		ID:             uuid.NewString(),
		ProjectID:      projectID,
		SyncJobID:      jobID,
		FilesProcessed: processed,
		FilesRemaining: remaining,
		ChunksCreated:  chunksCreated,
		Status:         model.CheckpointActive,
		CreatedAt:      time.Now(),
	}

	cp, err := s.store.InsertCheckpoint(ctx, cp)
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("insert checkpoint: %w", err)
	}

	s.logger.DebugContext(ctx, "checkpoint created",
		"checkpoint_id", cp.ID, "project_id", projectID,
		"remaining", len(remaining))

	return cp, nil
}

// CompleteCheckpoint marks a checkpoint finished.
func (s *Service) CompleteCheckpoint(ctx context.Context, id string) error {
	err := s.store.UpdateCheckpointStatus(ctx, id, model.CheckpointCompleted)
	if err != nil {
		return fmt.Errorf("complete checkpoint: %w", err)
	}

	return nil
}

// ResumeInterrupted finds every project with an active checkpoint and
// re-syncs its remaining files. Successful resumes mark the checkpoint
// completed; failures leave it active for the next attempt.
func (s *Service) ResumeInterrupted(ctx context.Context, syncFn SyncFunc) (int, error) {
	projects, err := s.store.Projects(ctx)
	if err != nil {
		return 0, fmt.Errorf("list projects: %w", err)
	}

	resumed := 0

	for _, project := range projects {
		checkpoints, cpErr := s.store.CheckpointsByProject(ctx, project.ID, model.CheckpointActive)
		if cpErr != nil {
			s.logger.WarnContext(ctx, "loading checkpoints",
				"project_id", project.ID, "error", cpErr)

			continue
		}

		for _, cp := range checkpoints {
			s.logger.InfoContext(ctx, "resuming interrupted sync",
				"project_id", project.ID, "checkpoint_id", cp.ID,
				"remaining", len(cp.FilesRemaining))

			syncErr := syncFn(ctx, project.ID, cp.FilesRemaining)
			if syncErr != nil {
				s.logger.WarnContext(ctx, "resume failed",
					"project_id", project.ID, "checkpoint_id", cp.ID, "error", syncErr)

				continue
			}

			markErr := s.CompleteCheckpoint(ctx, cp.ID)
			if markErr != nil {
				s.logger.WarnContext(ctx, "marking checkpoint completed",
					"checkpoint_id", cp.ID, "error", markErr)

				continue
			}

			resumed++
		}
	}

	return resumed, nil
}

// IntegrityAudit inspects one project's chunk set for orphans,
// duplicate hashes, and missing embeddings. The three checks run in
// parallel; the audit writes nothing.
func (s *Service) IntegrityAudit(ctx context.Context, projectID string) (AuditResult, error) {
	source, err := s.store.SourceByProject(ctx, projectID)
	if err != nil {
		return AuditResult{}, fmt.Errorf("load source: %w", err)
	}

	var result AuditResult

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		refs, refErr := s.store.ChunkRefsBySource(gctx, source.ID)
		if refErr != nil {
			return fmt.Errorf("load chunk refs: %w", refErr)
		}

		seen := make(map[string]bool)

		for _, ref := range refs {
			path := ref.Metadata.FilePath

			exists, checked := seen[path]
			if !checked {
				_, statErr := os.Stat(path)
				exists = statErr == nil
				seen[path] = exists
			}

			if !exists {
				result.OrphanedChunks = append(result.OrphanedChunks, ref)
			}
		}

		return nil
	})

	g.Go(func() error {
		duplicates, dupErr := s.store.FindDuplicateChunks(gctx, source.ID)
		if dupErr != nil {
			return fmt.Errorf("find duplicate chunks: %w", dupErr)
		}

		result.DuplicateChunks = duplicates

		return nil
	})

	g.Go(func() error {
		missing, missErr := s.store.ChunksMissingEmbedding(gctx, source.ID)
		if missErr != nil {
			return fmt.Errorf("find chunks missing embeddings: %w", missErr)
		}

		result.MissingEmbeddings = missing

		return nil
	})

	err = g.Wait()
	if err != nil {
		return AuditResult{}, err
	}

	s.logger.InfoContext(ctx, "integrity audit",
		"project_id", projectID,
		"orphaned", len(result.OrphanedChunks),
		"duplicates", len(result.DuplicateChunks),
		"missing_embeddings", len(result.MissingEmbeddings))

	return result, nil
}

// CleanupOrphans deletes chunks whose files no longer exist, in
// batches. Returns the number of chunks removed.
func (s *Service) CleanupOrphans(ctx context.Context, projectID string) (int, error) {
	audit, err := s.IntegrityAudit(ctx, projectID)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(audit.OrphanedChunks))
	for _, ref := range audit.OrphanedChunks {
		ids = append(ids, ref.ID)
	}

	err = s.deleteBatched(ctx, ids)
	if err != nil {
		return 0, err
	}

	if len(ids) > 0 {
		s.logger.InfoContext(ctx, "orphaned chunks removed",
			"project_id", projectID, "count", len(ids))
	}

	return len(ids), nil
}

// Rollback removes the chunks a checkpoint created and marks it
// rolled back.
func (s *Service) Rollback(ctx context.Context, cp model.Checkpoint) error {
	err := s.deleteBatched(ctx, cp.ChunksCreated)
	if err != nil {
		return fmt.Errorf("rollback checkpoint %s: %w", cp.ID, err)
	}

	err = s.store.UpdateCheckpointStatus(ctx, cp.ID, model.CheckpointRolledBack)
	if err != nil {
		return fmt.Errorf("mark checkpoint rolled back: %w", err)
	}

	s.logger.InfoContext(ctx, "checkpoint rolled back",
		"checkpoint_id", cp.ID, "chunks_removed", len(cp.ChunksCreated))

	return nil
}

func (s *Service) deleteBatched(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += DeleteBatchSize {
		end := start + DeleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		err := s.store.DeleteChunksByIDs(ctx, ids[start:end])
		if err != nil {
			return fmt.Errorf("delete chunk batch: %w", err)
		}
	}

	return nil
}
