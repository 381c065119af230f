// Package engine orchestrates one project sync: change detection by
// hashing, language-aware chunking, batched embedding, and chunk
// reconciliation against the knowledge store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/codesync-dev/codesync/internal/breaker"
	"github.com/codesync-dev/codesync/internal/chunker"
	"github.com/codesync-dev/codesync/internal/embedder"
	"github.com/codesync-dev/codesync/internal/hashutil"
	"github.com/codesync-dev/codesync/internal/model"
	"github.com/codesync-dev/codesync/internal/parallel"
	"github.com/codesync-dev/codesync/internal/store"
	"github.com/codesync-dev/codesync/internal/syncerr"
)

const (
	// DefaultInsertBatchSize is the chunk count per store insert.
	DefaultInsertBatchSize = 50

	// maxStoredErrors bounds the error strings written back onto the
	// project record.
	maxStoredErrors = 3
)

// excludedDirs are directory names skipped by the project scan.
var excludedDirs = map[string]struct{}{
	".git":          {},
	"node_modules":  {},
	"__pycache__":   {},
	".venv":         {},
	"venv":          {},
	"dist":          {},
	"build":         {},
	".next":         {},
	"target":        {},
	".pytest_cache": {},
	"coverage":      {},
	".nyc_output":   {},
	"vendor":        {},
}

// Config tunes an Engine. Zero values use the defaults.
type Config struct {
	InsertBatchSize int
	MaxWorkers      int
	ChunkOptions    chunker.Options
	Logger          *slog.Logger
}

// Engine is the sync orchestrator. All collaborators are injected;
// the engine itself is stateless between jobs.
type Engine struct {
	store    store.Store
	embedder *embedder.BatchEmbedder
	breakers *breaker.Registry
	errlog   *syncerr.Logger

	insertBatch int
	maxWorkers  int
	chunkOpts   chunker.Options
	logger      *slog.Logger
}

// New creates a sync engine.
func New(st store.Store, be *embedder.BatchEmbedder, breakers *breaker.Registry, cfg Config) *Engine {
	if cfg.InsertBatchSize <= 0 {
		cfg.InsertBatchSize = DefaultInsertBatchSize
	}

	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = parallel.DefaultMaxWorkers
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Engine{
		store:       st,
		embedder:    be,
		breakers:    breakers,
		errlog:      syncerr.NewLogger(st, logger),
		insertBatch: cfg.InsertBatchSize,
		maxWorkers:  cfg.MaxWorkers,
		chunkOpts:   cfg.ChunkOptions,
		logger:      logger,
	}
}

// SyncProject reconciles the store against the project directory.
// changedFiles narrows the candidate set; nil means a full scan. The
// call is guarded by the project's circuit breaker.
func (e *Engine) SyncProject(ctx context.Context, projectID string, changedFiles []string) (model.SyncStats, error) {
	var stats model.SyncStats

	err := e.breakers.For(projectID).Call(ctx, func(ctx context.Context) error {
		var syncErr error

		stats, syncErr = e.syncProject(ctx, projectID, changedFiles)

		return syncErr
	})
	if err != nil {
		if errors.Is(err, syncerr.ErrCircuitOpen) {
			return stats, err
		}

		return stats, fmt.Errorf("sync project %s: %w", projectID, err)
	}

	return stats, nil
}

func (e *Engine) syncProject(ctx context.Context, projectID string, changedFiles []string) (model.SyncStats, error) {
	start := time.Now()

	var stats model.SyncStats

	project, err := e.store.Project(ctx, projectID)
	if err != nil {
		return stats, fmt.Errorf("load project: %w", err)
	}

	err = e.store.UpdateProjectSyncState(ctx, projectID, model.StatusSyncing, project.LastSyncAt, "")
	if err != nil {
		return stats, fmt.Errorf("enter syncing state: %w", err)
	}

	source, err := e.ensureSource(ctx, project)
	if err != nil {
		e.concludeError(ctx, projectID, err)

		return stats, err
	}

	candidates := changedFiles
	fullScan := candidates == nil

	if fullScan {
		candidates, err = ScanDirectory(project.LocalPath)
		if err != nil {
			e.concludeError(ctx, projectID, err)

			return stats, fmt.Errorf("scan project directory: %w", err)
		}
	}

	added, modified, deleted, err := e.categorize(ctx, source.ID, candidates, fullScan)
	if err != nil {
		e.concludeError(ctx, projectID, err)

		return stats, fmt.Errorf("categorize changes: %w", err)
	}

	e.logger.InfoContext(ctx, "sync plan",
		"project_id", projectID, "added", len(added),
		"modified", len(modified), "deleted", len(deleted))

	for _, path := range deleted {
		removed, delErr := e.store.DeleteChunksByFile(ctx, source.ID, path)
		if delErr != nil {
			stats.Errors = append(stats.Errors, e.recordFileError(ctx, projectID, path, delErr))

			continue
		}

		stats.ChunksDeleted += removed
		stats.FilesProcessed++
	}

	e.processAdditions(ctx, projectID, project, source.ID, added, &stats)
	e.processModifications(ctx, projectID, project, source.ID, modified, &stats)

	stats.DurationSecs = time.Since(start).Seconds()

	e.conclude(ctx, projectID, source.ID, stats)

	return stats, nil
}

// ensureSource resolves the project's CodebaseSource, creating it and
// writing the reference back on first sync.
func (e *Engine) ensureSource(ctx context.Context, project model.Project) (model.CodebaseSource, error) {
	source, err := e.store.SourceByProject(ctx, project.ID)
	if err == nil {
		return source, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return model.CodebaseSource{}, fmt.Errorf("load source: %w", err)
	}

	source, err = e.store.UpsertSource(ctx, model.CodebaseSource{
		ProjectID: project.ID,
		Name:      project.Name,
	})
	if err != nil {
		return model.CodebaseSource{}, fmt.Errorf("create source: %w", err)
	}

	project.SourceID = source.ID

	err = e.store.UpdateProject(ctx, project)
	if err != nil {
		return model.CodebaseSource{}, fmt.Errorf("store source reference: %w", err)
	}

	return source, nil
}

// categorize splits candidates into added, modified, and deleted sets
// by comparing disk state against the store's chunk metadata. On a full
// scan, stored files absent from the candidate list are deletion
// candidates too.
func (e *Engine) categorize(ctx context.Context, sourceID string, candidates []string, fullScan bool) (added, modified, deleted []string, err error) {
	refs, err := e.store.ChunkRefsBySource(ctx, sourceID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load chunk refs: %w", err)
	}

	// First chunk's file_hash stands for the whole file.
	storedHashes := make(map[string]string)
	for _, ref := range refs {
		_, seen := storedHashes[ref.Metadata.FilePath]
		if !seen {
			storedHashes[ref.Metadata.FilePath] = ref.Metadata.FileHash
		}
	}

	if fullScan {
		seen := make(map[string]struct{}, len(candidates))
		for _, path := range candidates {
			seen[path] = struct{}{}
		}

		stored := make([]string, 0, len(storedHashes))
		for path := range storedHashes {
			_, ok := seen[path]
			if !ok {
				stored = append(stored, path)
			}
		}

		sort.Strings(stored)
		candidates = append(candidates, stored...)
	}

	for _, path := range candidates {
		storedHash, inStore := storedHashes[path]

		_, statErr := os.Stat(path)
		onDisk := statErr == nil

		switch {
		case !onDisk && inStore:
			deleted = append(deleted, path)
		case onDisk && !inStore:
			added = append(added, path)
		case onDisk && inStore:
			diskHash, hashErr := hashutil.HashFile(path)
			if hashErr != nil {
				return nil, nil, nil, fmt.Errorf("hash %s: %w", path, hashErr)
			}

			if diskHash != storedHash {
				modified = append(modified, path)
			}
		}
	}

	return added, modified, deleted, nil
}

// fileChunks is the chunk_and_embed product for one file.
type fileChunks struct {
	chunks []model.Chunk

	// failedEmbeds holds the chunk hashes of pieces whose embedding
	// failed after retries; those pieces are never inserted.
	failedEmbeds []string
}

// processAdditions chunks, embeds, and inserts new files in parallel.
func (e *Engine) processAdditions(ctx context.Context, projectID string, project model.Project, sourceID string, files []string, stats *model.SyncStats) {
	if len(files) == 0 {
		return
	}

	results := parallel.Map(ctx, parallel.Config{MaxWorkers: e.maxWorkers, Logger: e.logger}, files,
		func(ctx context.Context, path string) (fileChunks, error) {
			return e.chunkAndEmbed(ctx, project, sourceID, path)
		})

	for _, result := range results {
		if !result.Success {
			stats.Errors = append(stats.Errors, e.recordFileError(ctx, projectID, result.FilePath, result.Err))

			continue
		}

		insertErr := e.insertBatched(ctx, result.Value.chunks)
		if insertErr != nil {
			stats.Errors = append(stats.Errors, e.recordFileError(ctx, projectID, result.FilePath, insertErr))

			continue
		}

		stats.ChunksAdded += len(result.Value.chunks)

		if n := len(result.Value.failedEmbeds); n > 0 {
			stats.Errors = append(stats.Errors, e.recordFileError(ctx, projectID, result.FilePath,
				fmt.Errorf("embedding failed for %d chunks", n)))

			continue
		}

		stats.FilesProcessed++
	}
}

// processModifications diffs each changed file's chunks by chunk_hash
// and applies additions before deletions so readers never observe an
// empty window for the file.
func (e *Engine) processModifications(ctx context.Context, projectID string, project model.Project, sourceID string, files []string, stats *model.SyncStats) {
	if len(files) == 0 {
		return
	}

	type modification struct {
		toAdd        []model.Chunk
		toDelete     []string
		failedEmbeds int
	}

	results := parallel.Map(ctx, parallel.Config{MaxWorkers: e.maxWorkers, Logger: e.logger}, files,
		func(ctx context.Context, path string) (modification, error) {
			existing, err := e.store.ChunksByFile(ctx, sourceID, path)
			if err != nil {
				return modification{}, fmt.Errorf("load existing chunks: %w", err)
			}

			fresh, err := e.chunkAndEmbed(ctx, project, sourceID, path)
			if err != nil {
				return modification{}, err
			}

			oldHashes := make(map[string]struct{}, len(existing))
			for _, chunk := range existing {
				oldHashes[chunk.Metadata.ChunkHash] = struct{}{}
			}

			newHashes := make(map[string]struct{}, len(fresh.chunks)+len(fresh.failedEmbeds))
			for _, chunk := range fresh.chunks {
				newHashes[chunk.Metadata.ChunkHash] = struct{}{}
			}

			// A piece whose embedding failed keeps its stored version
			// rather than leaving a gap.
			for _, hash := range fresh.failedEmbeds {
				newHashes[hash] = struct{}{}
			}

			var mod modification

			mod.failedEmbeds = len(fresh.failedEmbeds)

			for _, chunk := range fresh.chunks {
				_, unchanged := oldHashes[chunk.Metadata.ChunkHash]
				if !unchanged {
					mod.toAdd = append(mod.toAdd, chunk)
				}
			}

			for _, chunk := range existing {
				_, kept := newHashes[chunk.Metadata.ChunkHash]
				if !kept {
					mod.toDelete = append(mod.toDelete, chunk.ID)
				}
			}

			return mod, nil
		})

	for _, result := range results {
		if !result.Success {
			stats.Errors = append(stats.Errors, e.recordFileError(ctx, projectID, result.FilePath, result.Err))

			continue
		}

		mod := result.Value

		insertErr := e.insertBatched(ctx, mod.toAdd)
		if insertErr != nil {
			stats.Errors = append(stats.Errors, e.recordFileError(ctx, projectID, result.FilePath, insertErr))

			continue
		}

		if len(mod.toDelete) > 0 {
			delErr := e.store.DeleteChunksByIDs(ctx, mod.toDelete)
			if delErr != nil {
				stats.Errors = append(stats.Errors, e.recordFileError(ctx, projectID, result.FilePath, delErr))

				continue
			}
		}

		stats.ChunksAdded += len(mod.toAdd)
		stats.ChunksModified += len(mod.toAdd)
		stats.ChunksDeleted += len(mod.toDelete)

		if mod.failedEmbeds > 0 {
			stats.Errors = append(stats.Errors, e.recordFileError(ctx, projectID, result.FilePath,
				fmt.Errorf("embedding failed for %d chunks", mod.failedEmbeds)))

			continue
		}

		stats.FilesProcessed++
	}
}

// chunkAndEmbed reads one file, chunks it by detected language, embeds
// the chunk texts, and assembles store-ready chunks. Non-UTF-8 files
// are skipped as binary and yield no chunks.
func (e *Engine) chunkAndEmbed(ctx context.Context, project model.Project, sourceID, path string) (fileChunks, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileChunks{}, fmt.Errorf("read %s: %w", path, err)
	}

	if !utf8.Valid(raw) {
		e.logger.DebugContext(ctx, "skipping binary file", "path", path)

		return fileChunks{}, nil
	}

	content := string(raw)
	fileHash := hashutil.HashString(content)
	language := chunker.DetectLanguage(path, raw)

	pieces := chunker.File(content, language, e.chunkOpts)
	if len(pieces) == 0 {
		return fileChunks{}, nil
	}

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Content
	}

	vectors, err := e.embedder.EmbedAll(ctx, texts)
	if err != nil {
		return fileChunks{}, fmt.Errorf("embed %s: %w", path, err)
	}

	relative := relativePath(project.LocalPath, path)

	chunks := make([]model.Chunk, 0, len(pieces))

	var failedEmbeds []string

	for i, piece := range pieces {
		if vectors[i] == nil {
			e.logger.WarnContext(ctx, "skipping chunk without embedding",
				"path", path, "chunk_index", i)

			failedEmbeds = append(failedEmbeds, hashutil.HashString(piece.Content))

			continue
		}

		chunks = append(chunks, model.Chunk{
			ID:        uuid.NewString(),
			SourceID:  sourceID,
			Content:   piece.Content,
			Embedding: vectors[i],
			Metadata: model.ChunkMetadata{
				FilePath:     path,
				RelativePath: relative,
				FileHash:     fileHash,
				ChunkHash:    hashutil.HashString(piece.Content),
				Language:     language,
				ChunkIndex:   i,
				StartLine:    piece.StartLine,
				EndLine:      piece.EndLine,
				SectionType:  piece.SectionType,
				SectionName:  piece.SectionName,
			},
		})
	}

	return fileChunks{chunks: chunks, failedEmbeds: failedEmbeds}, nil
}

// insertBatched inserts chunks in fixed-size batches.
func (e *Engine) insertBatched(ctx context.Context, chunks []model.Chunk) error {
	for start := 0; start < len(chunks); start += e.insertBatch {
		end := start + e.insertBatch
		if end > len(chunks) {
			end = len(chunks)
		}

		err := e.store.InsertChunks(ctx, chunks[start:end])
		if err != nil {
			return fmt.Errorf("insert chunk batch: %w", err)
		}
	}

	return nil
}

// conclude stamps the final status and refreshes source statistics.
func (e *Engine) conclude(ctx context.Context, projectID, sourceID string, stats model.SyncStats) {
	now := time.Now()

	status := model.StatusSynced
	lastError := ""

	if len(stats.Errors) > 0 {
		status = model.StatusError
		lastError = strings.Join(firstN(stats.Errors, maxStoredErrors), "; ")
	} else {
		e.resolveRecentErrors(ctx, projectID)
	}

	err := e.store.UpdateProjectSyncState(ctx, projectID, status, &now, lastError)
	if err != nil {
		e.logger.WarnContext(ctx, "storing final sync state", "project_id", projectID, "error", err)
	}

	totalFiles, err := e.store.CountUniqueFiles(ctx, sourceID)
	if err != nil {
		e.logger.WarnContext(ctx, "counting synced files", "source_id", sourceID, "error", err)

		return
	}

	refs, err := e.store.ChunkRefsBySource(ctx, sourceID)
	if err != nil {
		e.logger.WarnContext(ctx, "counting chunks", "source_id", sourceID, "error", err)

		return
	}

	err = e.store.UpdateSourceStats(ctx, sourceID, model.SourceStats{
		TotalFiles:  totalFiles,
		TotalChunks: len(refs),
		LastUpdate:  &now,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "storing source stats", "source_id", sourceID, "error", err)
	}
}

// concludeError stamps an error state for failures before per-file
// processing begins.
func (e *Engine) concludeError(ctx context.Context, projectID string, cause error) {
	now := time.Now()

	handled := syncerr.Handle(ctx, e.logger, cause, map[string]any{"project_id": projectID})

	err := e.store.UpdateProjectSyncState(ctx, projectID, model.StatusError, &now, handled.UserMessage)
	if err != nil {
		e.logger.WarnContext(ctx, "storing error sync state", "project_id", projectID, "error", err)
	}
}

// resolveRecentErrors flags outstanding error rows once a clean sync
// proves the failures are gone.
func (e *Engine) resolveRecentErrors(ctx context.Context, projectID string) {
	entries, err := e.errlog.Recent(ctx, projectID, 0)
	if err != nil {
		e.logger.WarnContext(ctx, "loading recent errors", "project_id", projectID, "error", err)

		return
	}

	for _, entry := range entries {
		if entry.Resolved {
			continue
		}

		e.errlog.MarkResolved(ctx, entry.ID)
	}
}

// recordFileError classifies and persists one per-file failure,
// returning the string recorded in SyncStats.
func (e *Engine) recordFileError(ctx context.Context, projectID, path string, cause error) string {
	cat := syncerr.Classify(cause)
	e.errlog.Log(ctx, projectID, cat, cause, path, 0)

	return fmt.Sprintf("%s: %s", path, cause.Error())
}

// ScanDirectory walks root collecting syncable files, skipping
// excluded directories. Results are sorted for determinism.
func ScanDirectory(root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			_, excluded := excludedDirs[d.Name()]
			if excluded && path != root {
				return filepath.SkipDir
			}

			return nil
		}

		if chunker.SyncableExtension(path) {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(files)

	return files, nil
}

func relativePath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}

	return rel
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}

	return items[:n]
}
