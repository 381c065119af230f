package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codesync-dev/codesync/internal/model"
)

// restMaxErrorBody bounds how much of an error response body is kept
// for classification.
const restMaxErrorBody = 2048

// RESTConfig configures the hosted-store client.
type RESTConfig struct {
	// BaseURL is the store's REST root, e.g. "https://host/rest/v1".
	BaseURL string

	// APIKey is sent as the "apikey" and bearer headers. Optional.
	APIKey string

	// HTTPClient overrides the default client. Nil uses a 30s-timeout client.
	HTTPClient *http.Client
}

// REST talks to a PostgREST-style knowledge store over JSON.
type REST struct {
	base   string
	apiKey string
	client *http.Client
}

// NewREST creates a hosted-store client.
func NewREST(cfg RESTConfig) *REST {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &REST{
		base:   cfg.BaseURL,
		apiKey: cfg.APIKey,
		client: client,
	}
}

var _ Store = (*REST)(nil)

// do executes one JSON request. A non-2xx response becomes an error
// carrying the body text so the classifier can see provider messages.
func (r *REST) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := r.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("store: encode request: %w", err)
		}

		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("store: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if r.apiKey != "" {
		req.Header.Set("apikey", r.apiKey)
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("store: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("store: %s %s: %w", method, path, ErrNotFound)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, restMaxErrorBody))

		return fmt.Errorf("store: %s %s: status %d: %s", method, path, resp.StatusCode, detail)
	}

	if out == nil {
		return nil
	}

	decodeErr := json.NewDecoder(resp.Body).Decode(out)
	if decodeErr != nil {
		return fmt.Errorf("store: decode response: %w", decodeErr)
	}

	return nil
}

// one unwraps PostgREST's row-array responses to a single record.
func one[T any](rows []T, what string) (T, error) {
	var zero T

	if len(rows) == 0 {
		return zero, fmt.Errorf("%s: %w", what, ErrNotFound)
	}

	return rows[0], nil
}

func eq(field, value string) url.Values {
	q := url.Values{}
	q.Set(field, "eq."+value)

	return q
}

// Project implements ProjectStore.
func (r *REST) Project(ctx context.Context, id string) (model.Project, error) {
	var rows []model.Project

	err := r.do(ctx, http.MethodGet, "/projects", eq("id", id), nil, &rows)
	if err != nil {
		return model.Project{}, err
	}

	return one(rows, "project "+id)
}

// Projects implements ProjectStore.
func (r *REST) Projects(ctx context.Context) ([]model.Project, error) {
	var rows []model.Project

	err := r.do(ctx, http.MethodGet, "/projects", nil, nil, &rows)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// UpdateProject implements ProjectStore.
func (r *REST) UpdateProject(ctx context.Context, project model.Project) error {
	return r.do(ctx, http.MethodPatch, "/projects", eq("id", project.ID), project, nil)
}

// UpdateProjectSyncState implements ProjectStore.
func (r *REST) UpdateProjectSyncState(
	ctx context.Context, id string, status model.SyncStatus, lastSyncAt *time.Time, lastError string,
) error {
	patch := map[string]any{
		"sync_status":     status,
		"last_sync_error": lastError,
	}

	if lastSyncAt != nil {
		patch["last_sync_at"] = lastSyncAt.UTC().Format(time.RFC3339)
	}

	return r.do(ctx, http.MethodPatch, "/projects", eq("id", id), patch, nil)
}

// SourceByProject implements SourceStore.
func (r *REST) SourceByProject(ctx context.Context, projectID string) (model.CodebaseSource, error) {
	var rows []model.CodebaseSource

	err := r.do(ctx, http.MethodGet, "/codebase_sources", eq("project_id", projectID), nil, &rows)
	if err != nil {
		return model.CodebaseSource{}, err
	}

	return one(rows, "source for project "+projectID)
}

// UpsertSource implements SourceStore.
func (r *REST) UpsertSource(ctx context.Context, source model.CodebaseSource) (model.CodebaseSource, error) {
	var rows []model.CodebaseSource

	err := r.do(ctx, http.MethodPost, "/codebase_sources", nil, source, &rows)
	if err != nil {
		return model.CodebaseSource{}, err
	}

	return one(rows, "upsert source")
}

// DeleteSource implements SourceStore.
func (r *REST) DeleteSource(ctx context.Context, id string) error {
	return r.do(ctx, http.MethodDelete, "/codebase_sources", eq("id", id), nil, nil)
}

// UpdateSourceStats implements SourceStore.
func (r *REST) UpdateSourceStats(ctx context.Context, id string, stats model.SourceStats) error {
	return r.do(ctx, http.MethodPatch, "/codebase_sources", eq("id", id), map[string]any{"stats": stats}, nil)
}

// InsertChunks implements ChunkStore.
func (r *REST) InsertChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	return r.do(ctx, http.MethodPost, "/chunks", nil, chunks, nil)
}

// DeleteChunksByIDs implements ChunkStore.
func (r *REST) DeleteChunksByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	q := url.Values{}
	q.Set("id", "in.("+strings.Join(ids, ",")+")")

	return r.do(ctx, http.MethodDelete, "/chunks", q, nil, nil)
}

// DeleteChunksByFile implements ChunkStore.
func (r *REST) DeleteChunksByFile(ctx context.Context, sourceID, filePath string) (int, error) {
	// Select ids first so the removal count is known.
	refs, err := r.chunkRefsByFile(ctx, sourceID, filePath)
	if err != nil {
		return 0, err
	}

	if len(refs) == 0 {
		return 0, nil
	}

	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}

	deleteErr := r.DeleteChunksByIDs(ctx, ids)
	if deleteErr != nil {
		return 0, deleteErr
	}

	return len(ids), nil
}

func (r *REST) chunkRefsByFile(ctx context.Context, sourceID, filePath string) ([]model.ChunkRef, error) {
	q := eq("source_id", sourceID)
	q.Set("metadata->>file_path", "eq."+filePath)
	q.Set("select", "id,metadata")

	var rows []model.ChunkRef

	err := r.do(ctx, http.MethodGet, "/chunks", q, nil, &rows)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// ChunksByFile implements ChunkStore.
func (r *REST) ChunksByFile(ctx context.Context, sourceID, filePath string) ([]model.Chunk, error) {
	q := eq("source_id", sourceID)
	q.Set("metadata->>file_path", "eq."+filePath)

	var rows []model.Chunk

	err := r.do(ctx, http.MethodGet, "/chunks", q, nil, &rows)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// ChunkRefsBySource implements ChunkStore.
func (r *REST) ChunkRefsBySource(ctx context.Context, sourceID string) ([]model.ChunkRef, error) {
	q := eq("source_id", sourceID)
	q.Set("select", "id,metadata")

	var rows []model.ChunkRef

	err := r.do(ctx, http.MethodGet, "/chunks", q, nil, &rows)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// CountUniqueFiles implements ChunkStore via a server-side function.
func (r *REST) CountUniqueFiles(ctx context.Context, sourceID string) (int, error) {
	var count int

	err := r.do(ctx, http.MethodPost, "/rpc/count_unique_files",
		nil, map[string]string{"source_id": sourceID}, &count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// FindDuplicateChunks implements ChunkStore via a server-side function.
func (r *REST) FindDuplicateChunks(ctx context.Context, sourceID string) ([]DuplicateChunk, error) {
	var rows []DuplicateChunk

	err := r.do(ctx, http.MethodPost, "/rpc/find_duplicate_chunks",
		nil, map[string]string{"source_id": sourceID}, &rows)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// ChunksMissingEmbedding implements ChunkStore.
func (r *REST) ChunksMissingEmbedding(ctx context.Context, sourceID string) ([]model.ChunkRef, error) {
	q := eq("source_id", sourceID)
	q.Set("embedding", "is.null")
	q.Set("select", "id,metadata")

	var rows []model.ChunkRef

	err := r.do(ctx, http.MethodGet, "/chunks", q, nil, &rows)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// InsertCheckpoint implements CheckpointStore.
func (r *REST) InsertCheckpoint(ctx context.Context, cp model.Checkpoint) (model.Checkpoint, error) {
	var rows []model.Checkpoint

	err := r.do(ctx, http.MethodPost, "/sync_checkpoints", nil, cp, &rows)
	if err != nil {
		return model.Checkpoint{}, err
	}

	return one(rows, "insert checkpoint")
}

// UpdateCheckpointStatus implements CheckpointStore.
func (r *REST) UpdateCheckpointStatus(ctx context.Context, id string, status model.CheckpointStatus) error {
	return r.do(ctx, http.MethodPatch, "/sync_checkpoints", eq("id", id),
		map[string]any{"status": status}, nil)
}

// CheckpointsByProject implements CheckpointStore.
func (r *REST) CheckpointsByProject(
	ctx context.Context, projectID string, status model.CheckpointStatus,
) ([]model.Checkpoint, error) {
	q := eq("project_id", projectID)
	if status != "" {
		q.Set("status", "eq."+string(status))
	}

	var rows []model.Checkpoint

	err := r.do(ctx, http.MethodGet, "/sync_checkpoints", q, nil, &rows)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// InsertSyncOperation implements AnalyticsStore.
func (r *REST) InsertSyncOperation(ctx context.Context, op model.SyncOperation) (model.SyncOperation, error) {
	var rows []model.SyncOperation

	err := r.do(ctx, http.MethodPost, "/sync_operations", nil, op, &rows)
	if err != nil {
		return model.SyncOperation{}, err
	}

	return one(rows, "insert sync operation")
}

// UpdateSyncOperation implements AnalyticsStore.
func (r *REST) UpdateSyncOperation(ctx context.Context, op model.SyncOperation) error {
	return r.do(ctx, http.MethodPatch, "/sync_operations", eq("id", op.ID), op, nil)
}

// SyncOperationsByProject implements AnalyticsStore.
func (r *REST) SyncOperationsByProject(
	ctx context.Context, projectID string, limit int,
) ([]model.SyncOperation, error) {
	q := eq("project_id", projectID)
	q.Set("order", "started_at.desc")

	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var rows []model.SyncOperation

	err := r.do(ctx, http.MethodGet, "/sync_operations", q, nil, &rows)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// InsertErrorLog implements ErrorLogStore.
func (r *REST) InsertErrorLog(ctx context.Context, entry model.ErrorLogEntry) (string, error) {
	var rows []model.ErrorLogEntry

	err := r.do(ctx, http.MethodPost, "/sync_error_log", nil, entry, &rows)
	if err != nil {
		return "", err
	}

	row, err := one(rows, "insert error log")
	if err != nil {
		return "", err
	}

	return row.ID, nil
}

// UpdateErrorLogResolved implements ErrorLogStore.
func (r *REST) UpdateErrorLogResolved(ctx context.Context, id string) error {
	return r.do(ctx, http.MethodPatch, "/sync_error_log", eq("id", id),
		map[string]any{"resolved": true}, nil)
}

// ErrorLogByProject implements ErrorLogStore.
func (r *REST) ErrorLogByProject(
	ctx context.Context, projectID string, limit int,
) ([]model.ErrorLogEntry, error) {
	q := eq("project_id", projectID)
	q.Set("order", "occurred_at.desc")

	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var rows []model.ErrorLogEntry

	err := r.do(ctx, http.MethodGet, "/sync_error_log", q, nil, &rows)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

