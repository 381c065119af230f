package mcptools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codesync-dev/codesync/internal/model"
	"github.com/codesync-dev/codesync/internal/store"
)

// mcpTrigger marks analytics rows created by tool-driven syncs.
const mcpTrigger = "manual"

// handleSync processes sync_project_codebase tool calls.
func (s *Server) handleSync(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input SyncInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateAgainstSchema(syncInputSchema, input); err != nil {
		return errorResult(err)
	}

	stats, err := s.syncer.SyncNow(ctx, input.ProjectID, input.ChangedFiles, mcpTrigger)
	if err != nil {
		return errorResult(fmt.Errorf("sync project: %w", err))
	}

	return jsonResult(stats)
}

// searchMatch is one search hit returned to the caller.
type searchMatch struct {
	FilePath     string `json:"file_path"`
	RelativePath string `json:"relative_path"`
	Language     string `json:"language"`
	ChunkIndex   int    `json:"chunk_index"`
	Content      string `json:"content"`
}

// handleSearch processes search_project_code tool calls.
func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input SearchInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateAgainstSchema(searchInputSchema, input); err != nil {
		return errorResult(err)
	}

	if s.searcher == nil {
		return errorResult(ErrSearchUnavailable)
	}

	source, err := s.sourceOf(ctx, input.ProjectID)
	if err != nil {
		return errorResult(err)
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	chunks, err := s.searcher.Search(ctx, source.ID, input.Query, limit)
	if err != nil {
		return errorResult(fmt.Errorf("search code: %w", err))
	}

	matches := make([]searchMatch, 0, len(chunks))
	for _, chunk := range chunks {
		matches = append(matches, searchMatch{
			FilePath:     chunk.Metadata.FilePath,
			RelativePath: chunk.Metadata.RelativePath,
			Language:     chunk.Metadata.Language,
			ChunkIndex:   chunk.Metadata.ChunkIndex,
			Content:      chunk.Content,
		})
	}

	return jsonResult(map[string]any{"query": input.Query, "matches": matches})
}

// syncStatus is the status payload returned by get_project_sync_status.
type syncStatus struct {
	ProjectID       string           `json:"project_id"`
	SyncStatus      model.SyncStatus `json:"sync_status"`
	SyncMode        model.SyncMode   `json:"sync_mode"`
	AutoSyncEnabled bool             `json:"auto_sync_enabled"`
	LocalPath       string           `json:"local_path"`
	LastSyncAt      *time.Time       `json:"last_sync_at"`
	LastSyncError   string           `json:"last_sync_error,omitempty"`
	TotalFiles      int              `json:"total_files"`
	TotalChunks     int              `json:"total_chunks"`
}

// handleStatus processes get_project_sync_status tool calls.
func (s *Server) handleStatus(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input StatusInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateAgainstSchema(statusInputSchema, input); err != nil {
		return errorResult(err)
	}

	project, err := s.store.Project(ctx, input.ProjectID)
	if err != nil {
		return errorResult(fmt.Errorf("load project: %w", err))
	}

	status := syncStatus{
		ProjectID:       project.ID,
		SyncStatus:      project.SyncStatus,
		SyncMode:        project.SyncMode,
		AutoSyncEnabled: project.AutoSyncEnabled,
		LocalPath:       project.LocalPath,
		LastSyncAt:      project.LastSyncAt,
		LastSyncError:   project.LastSyncError,
	}

	source, err := s.store.SourceByProject(ctx, project.ID)
	if err == nil {
		status.TotalFiles = source.Stats.TotalFiles
		status.TotalChunks = source.Stats.TotalChunks
	} else if !errors.Is(err, store.ErrNotFound) {
		return errorResult(fmt.Errorf("load source: %w", err))
	}

	return jsonResult(status)
}

// handleListFiles processes list_project_files tool calls.
func (s *Server) handleListFiles(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input ListFilesInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateAgainstSchema(listFilesInputSchema, input); err != nil {
		return errorResult(err)
	}

	source, err := s.sourceOf(ctx, input.ProjectID)
	if err != nil {
		return errorResult(err)
	}

	refs, err := s.store.ChunkRefsBySource(ctx, source.ID)
	if err != nil {
		return errorResult(fmt.Errorf("list chunks: %w", err))
	}

	seen := make(map[string]struct{}, len(refs))

	for _, ref := range refs {
		path := ref.Metadata.RelativePath
		if path == "" {
			path = ref.Metadata.FilePath
		}

		seen[path] = struct{}{}
	}

	files := make([]string, 0, len(seen))
	for path := range seen {
		files = append(files, path)
	}

	sort.Strings(files)

	total := len(files)

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	if len(files) > limit {
		files = files[:limit]
	}

	return jsonResult(map[string]any{"total_files": total, "files": files})
}

// handleFileContent processes get_file_content tool calls.
func (s *Server) handleFileContent(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input FileContentInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateAgainstSchema(fileContentInputSchema, input); err != nil {
		return errorResult(err)
	}

	project, err := s.store.Project(ctx, input.ProjectID)
	if err != nil {
		return errorResult(fmt.Errorf("load project: %w", err))
	}

	resolved, err := resolveWithinRoot(project.LocalPath, input.FilePath)
	if err != nil {
		return errorResult(err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return errorResult(fmt.Errorf("stat file: %w", err))
	}

	if info.Size() > MaxFileContentBytes {
		return errorResult(fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size()))
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return errorResult(fmt.Errorf("read file: %w", err))
	}

	relative, err := filepath.Rel(project.LocalPath, resolved)
	if err != nil {
		relative = input.FilePath
	}

	return jsonResult(map[string]any{
		"file_path": relative,
		"size":      info.Size(),
		"content":   string(content),
	})
}

// sourceOf loads the project's source record, translating the error
// for callers that only need its identity.
func (s *Server) sourceOf(ctx context.Context, projectID string) (model.CodebaseSource, error) {
	source, err := s.store.SourceByProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.CodebaseSource{}, fmt.Errorf("project %s has no synced code yet", projectID)
		}

		return model.CodebaseSource{}, fmt.Errorf("load source: %w", err)
	}

	return source, nil
}

// resolveWithinRoot joins path onto root and rejects any result that
// escapes the root directory.
func resolveWithinRoot(root, path string) (string, error) {
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}

	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideProject, path)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideProject, path)
	}

	return candidate, nil
}
