// Package api exposes the sync trigger surface over REST-style JSON
// HTTP: project sync configuration, on-demand syncs, and watcher
// control, plus liveness, readiness, and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/codesync-dev/codesync/internal/analytics"
	"github.com/codesync-dev/codesync/internal/health"
	"github.com/codesync-dev/codesync/internal/model"
	"github.com/codesync-dev/codesync/internal/observability"
	"github.com/codesync-dev/codesync/internal/queue"
	"github.com/codesync-dev/codesync/internal/store"
	"github.com/codesync-dev/codesync/internal/syncerr"
)

// Server timeout constants for the trigger API.
const (
	serverReadTimeout = 30 * time.Second
	// serverWriteTimeout allows a manual sync of a large project to
	// finish before the response is cut off.
	serverWriteTimeout = 10 * time.Minute
	serverIdleTimeout  = 120 * time.Second

	shutdownTimeout = 10 * time.Second
)

// maxRequestBody bounds trigger request bodies.
const maxRequestBody = 1 << 20

// SyncRunner runs one sync to completion and returns its stats.
type SyncRunner interface {
	SyncNow(ctx context.Context, projectID string, files []string, trigger string) (model.SyncStats, error)
}

// WatchController starts and stops filesystem observation per project.
type WatchController interface {
	StartWatching(projectID, localPath string) error
	StopWatching(projectID string) error
	IsWatching(projectID string) bool
}

// Summarizer aggregates a project's recent sync history.
type Summarizer interface {
	Summarize(ctx context.Context, projectID string, limit int) (analytics.Summary, error)
}

// Deps are the collaborators the trigger API exposes.
type Deps struct {
	Store  store.Store
	Syncer SyncRunner
	Watch  WatchController

	// Analytics serves the sync summary endpoint. Nil disables the route.
	Analytics Summarizer

	// Health supplies the worker health snapshot for /api/watcher/health.
	// Nil disables the endpoint body and returns an empty snapshot.
	Health func() health.Metrics

	// Queue supplies the sync queue snapshot for the watcher endpoints.
	Queue func() queue.Status

	// Metrics serves GET /metrics. Nil disables the route.
	Metrics http.Handler

	// Ready checks gate the /readyz endpoint.
	Ready []observability.ReadyCheck

	Logger *slog.Logger
}

// Server is the HTTP trigger API.
type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer builds the trigger API router around the given collaborators.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{deps: deps, logger: logger, mux: http.NewServeMux()}
	s.routes()

	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("PUT /projects/{id}/sync/config", s.handleSyncConfig)
	s.mux.HandleFunc("GET /projects/{id}/sync/status", s.handleSyncStatus)
	s.mux.HandleFunc("POST /projects/{id}/sync", s.handleSync)

	s.mux.HandleFunc("POST /api/watcher/projects/{id}/start", s.handleWatchStart)
	s.mux.HandleFunc("POST /api/watcher/projects/{id}/stop", s.handleWatchStop)
	s.mux.HandleFunc("GET /api/watcher/projects/{id}/status", s.handleWatchStatus)
	s.mux.HandleFunc("GET /api/watcher/health", s.handleWatchHealth)

	if s.deps.Analytics != nil {
		s.mux.HandleFunc("GET /api/sync/analytics/{id}/summary", s.handleSyncSummary)
	}

	s.mux.Handle("GET /healthz", observability.HealthHandler())
	s.mux.Handle("GET /readyz", observability.ReadyHandler(s.deps.Ready...))

	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics)
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves the API on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- server.ListenAndServe()
	}()

	s.logger.Info("trigger api listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

type syncConfigRequest struct {
	LocalPath       *string `json:"local_path"`
	SyncMode        *string `json:"sync_mode"`
	AutoSyncEnabled *bool   `json:"auto_sync_enabled"`
}

type syncRequest struct {
	Trigger      string   `json:"trigger"`
	ChangedFiles []string `json:"changed_files"`
}

type watchStartRequest struct {
	LocalPath string `json:"local_path"`
}

type statusStats struct {
	TotalFiles              int     `json:"total_files"`
	TotalChunks             int     `json:"total_chunks"`
	LastSyncDurationSeconds float64 `json:"last_sync_duration_seconds"`
}

type statusResponse struct {
	SyncStatus      model.SyncStatus `json:"sync_status"`
	LastSyncAt      *time.Time       `json:"last_sync_at"`
	LastSyncError   string           `json:"last_sync_error,omitempty"`
	AutoSyncEnabled bool             `json:"auto_sync_enabled"`
	SyncMode        model.SyncMode   `json:"sync_mode"`
	LocalPath       string           `json:"local_path"`
	Stats           statusStats      `json:"stats"`
}

func (s *Server) handleSyncConfig(rw http.ResponseWriter, hr *http.Request) {
	projectID := hr.PathValue("id")

	var req syncConfigRequest
	if !s.decodeBody(rw, hr, &req) {
		return
	}

	project, err := s.deps.Store.Project(hr.Context(), projectID)
	if err != nil {
		s.writeStoreError(rw, err)

		return
	}

	if req.LocalPath != nil {
		resolved, pathErr := ValidateLocalPath(*req.LocalPath)
		if pathErr != nil {
			writeError(rw, http.StatusBadRequest, pathErr.Error())

			return
		}

		project.LocalPath = resolved
	}

	if req.SyncMode != nil {
		mode := model.SyncMode(*req.SyncMode)
		if !validSyncMode(mode) {
			writeError(rw, http.StatusBadRequest, fmt.Sprintf("unknown sync_mode %q", *req.SyncMode))

			return
		}

		project.SyncMode = mode
	}

	if req.AutoSyncEnabled != nil {
		project.AutoSyncEnabled = *req.AutoSyncEnabled
	}

	if err := s.deps.Store.UpdateProject(hr.Context(), project); err != nil {
		s.writeStoreError(rw, err)

		return
	}

	writeJSON(rw, http.StatusOK, s.statusOf(hr.Context(), project))
}

func (s *Server) handleSyncStatus(rw http.ResponseWriter, hr *http.Request) {
	project, err := s.deps.Store.Project(hr.Context(), hr.PathValue("id"))
	if err != nil {
		s.writeStoreError(rw, err)

		return
	}

	writeJSON(rw, http.StatusOK, s.statusOf(hr.Context(), project))
}

// statusOf assembles the status payload. Missing source or analytics
// rows leave the stats zeroed rather than failing the request.
func (s *Server) statusOf(ctx context.Context, project model.Project) statusResponse {
	resp := statusResponse{
		SyncStatus:      project.SyncStatus,
		LastSyncAt:      project.LastSyncAt,
		LastSyncError:   project.LastSyncError,
		AutoSyncEnabled: project.AutoSyncEnabled,
		SyncMode:        project.SyncMode,
		LocalPath:       project.LocalPath,
	}

	source, err := s.deps.Store.SourceByProject(ctx, project.ID)
	if err == nil {
		resp.Stats.TotalFiles = source.Stats.TotalFiles
		resp.Stats.TotalChunks = source.Stats.TotalChunks
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("load source stats failed", "project_id", project.ID, "error", err)
	}

	ops, err := s.deps.Store.SyncOperationsByProject(ctx, project.ID, 1)
	if err == nil && len(ops) > 0 {
		resp.Stats.LastSyncDurationSeconds = ops[0].DurationSecs
	}

	return resp
}

// syncTriggers are the trigger values the HTTP surface accepts.
var syncTriggers = map[string]struct{}{
	"manual":    {},
	"git-hook":  {},
	"scheduled": {},
}

func (s *Server) handleSync(rw http.ResponseWriter, hr *http.Request) {
	projectID := hr.PathValue("id")

	var req syncRequest
	if !s.decodeBody(rw, hr, &req) {
		return
	}

	if req.Trigger == "" {
		req.Trigger = "manual"
	}

	if _, ok := syncTriggers[req.Trigger]; !ok {
		writeError(rw, http.StatusBadRequest, fmt.Sprintf("unknown trigger %q", req.Trigger))

		return
	}

	stats, err := s.deps.Syncer.SyncNow(hr.Context(), projectID, req.ChangedFiles, req.Trigger)
	if err != nil {
		s.writeSyncError(hr.Context(), rw, projectID, err)

		return
	}

	writeJSON(rw, http.StatusOK, stats)
}

// handleSyncSummary aggregates the project's recent sync operations
// into success/failure counts and an average duration. A limit query
// parameter bounds how much history feeds the summary.
func (s *Server) handleSyncSummary(rw http.ResponseWriter, hr *http.Request) {
	projectID := hr.PathValue("id")

	if _, err := s.deps.Store.Project(hr.Context(), projectID); err != nil {
		s.writeStoreError(rw, err)

		return
	}

	limit := 0

	if raw := hr.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(rw, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))

			return
		}

		limit = parsed
	}

	summary, err := s.deps.Analytics.Summarize(hr.Context(), projectID, limit)
	if err != nil {
		s.writeStoreError(rw, err)

		return
	}

	writeJSON(rw, http.StatusOK, summary)
}

func (s *Server) handleWatchStart(rw http.ResponseWriter, hr *http.Request) {
	projectID := hr.PathValue("id")

	var req watchStartRequest
	if !s.decodeBody(rw, hr, &req) {
		return
	}

	if req.LocalPath == "" {
		writeError(rw, http.StatusBadRequest, "local_path is required")

		return
	}

	resolved, err := ValidateLocalPath(req.LocalPath)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())

		return
	}

	if err := s.deps.Watch.StartWatching(projectID, resolved); err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())

		return
	}

	writeJSON(rw, http.StatusOK, map[string]any{"success": true, "is_watching": true})
}

func (s *Server) handleWatchStop(rw http.ResponseWriter, hr *http.Request) {
	projectID := hr.PathValue("id")

	if err := s.deps.Watch.StopWatching(projectID); err != nil {
		writeError(rw, http.StatusNotFound, err.Error())

		return
	}

	writeJSON(rw, http.StatusOK, map[string]any{"success": true, "is_watching": false})
}

func (s *Server) handleWatchStatus(rw http.ResponseWriter, hr *http.Request) {
	projectID := hr.PathValue("id")

	active := false
	if s.deps.Health != nil {
		active = s.deps.Health().Running
	}

	resp := map[string]any{
		"is_active":   active,
		"is_watching": s.deps.Watch.IsWatching(projectID),
	}

	if s.deps.Queue != nil {
		resp["queued_jobs"] = s.deps.Queue().QueuedByProject[projectID]
	}

	writeJSON(rw, http.StatusOK, resp)
}

// watchHealthResponse flattens the health snapshot and attaches the
// queue snapshot when one is available.
type watchHealthResponse struct {
	health.Metrics
	Queue *queue.Status `json:"queue,omitempty"`
}

func (s *Server) handleWatchHealth(rw http.ResponseWriter, _ *http.Request) {
	var resp watchHealthResponse

	if s.deps.Health != nil {
		resp.Metrics = s.deps.Health()
	}

	if s.deps.Queue != nil {
		status := s.deps.Queue()
		resp.Queue = &status
	}

	writeJSON(rw, http.StatusOK, resp)
}

// decodeBody decodes a JSON request body into dst, reporting 400 on
// malformed input or unknown fields. An empty body decodes to the
// zero value.
func (s *Server) decodeBody(rw http.ResponseWriter, hr *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(rw, hr.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(rw, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))

		return false
	}

	return true
}

// writeSyncError maps a failed sync to an HTTP status with the
// classifier's user-facing message as the detail.
func (s *Server) writeSyncError(ctx context.Context, rw http.ResponseWriter, projectID string, err error) {
	handled := syncerr.Handle(ctx, s.logger, err, map[string]any{"project_id": projectID})

	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, syncerr.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
	}

	writeError(rw, status, handled.UserMessage)
}

func (s *Server) writeStoreError(rw http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(rw, http.StatusNotFound, "project not found")

		return
	}

	cat := syncerr.Classify(err)
	writeError(rw, http.StatusInternalServerError, syncerr.UserMessage(cat, err))
}

func validSyncMode(mode model.SyncMode) bool {
	switch mode {
	case model.ModeManual, model.ModeRealtime, model.ModePeriodic, model.ModeVCSHook:
		return true
	}

	return false
}

func writeError(rw http.ResponseWriter, status int, detail string) {
	writeJSON(rw, status, map[string]string{"detail": detail})
}

func writeJSON(rw http.ResponseWriter, status int, payload any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	if err := json.NewEncoder(rw).Encode(payload); err != nil {
		return
	}
}
