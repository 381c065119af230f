package mcptools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/codesync-dev/codesync/internal/model"
	"github.com/codesync-dev/codesync/internal/store"
)

const (
	// serverName is the MCP server implementation name.
	serverName = "codesync"
	// serverVersion is the MCP server implementation version.
	serverVersion = "1.0.0"

	// toolCount is the expected number of registered tools.
	toolCount = 5
)

// SyncRunner runs one sync to completion and returns its stats.
type SyncRunner interface {
	SyncNow(ctx context.Context, projectID string, files []string, trigger string) (model.SyncStats, error)
}

// ServerDeps holds injectable dependencies for the MCP server.
// Zero-value fields use production defaults.
type ServerDeps struct {
	// Store is the knowledge store backing status and file tools.
	Store store.Store

	// Syncer runs on-demand syncs for sync_project_codebase.
	Syncer SyncRunner

	// Searcher is the store's optional search capability. Nil makes
	// search_project_code report that search is unavailable.
	Searcher store.Searcher

	// Logger is an optional structured logger. Nil discards logs.
	Logger *slog.Logger

	// Tracer is an optional OTel tracer for per-tool-call spans. Nil disables tracing.
	Tracer trace.Tracer
}

// Server wraps the MCP SDK server with the sync tool registrations.
type Server struct {
	inner    *mcpsdk.Server
	store    store.Store
	syncer   SyncRunner
	searcher store.Searcher
	logger   *slog.Logger
	tracer   trace.Tracer

	mu    sync.RWMutex
	tools []string
}

// NewServer creates a new MCP server with all sync tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	inner := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		&mcpsdk.ServerOptions{},
	)

	srv := &Server{
		inner:    inner,
		store:    deps.Store,
		syncer:   deps.Syncer,
		searcher: deps.Searcher,
		logger:   logger,
		tracer:   deps.Tracer,
		tools:    make([]string, 0, toolCount),
	}

	srv.registerTools()

	return srv
}

// ListToolNames returns the sorted names of all registered tools.
func (s *Server) ListToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.tools))
	copy(names, s.tools)
	sort.Strings(names)

	return names
}

// Run starts the MCP server on stdio transport. It blocks until the
// context is canceled or the connection closes.
func (s *Server) Run(ctx context.Context) error {
	err := s.inner.Run(ctx, &mcpsdk.StdioTransport{})
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// RunWithTransport starts the MCP server on the given transport. It
// blocks until the context is canceled or the connection closes.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	err := s.inner.Run(ctx, transport)
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// registerTools adds all sync MCP tools to the server.
func (s *Server) registerTools() {
	register(s, ToolNameSync, syncToolDescription, s.handleSync)
	register(s, ToolNameSearch, searchToolDescription, s.handleSearch)
	register(s, ToolNameStatus, statusToolDescription, s.handleStatus)
	register(s, ToolNameListFiles, listFilesToolDescription, s.handleListFiles)
	register(s, ToolNameFileContent, fileContentToolDescription, s.handleFileContent)
}

func register[Input any](
	s *Server,
	name, description string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        name,
		Description: description,
	}, withLogging(s.logger, name, withTracing(s.tracer, name, handler)))

	s.trackTool(name)
}

// mcpSpanPrefix is the prefix for MCP tool span names.
const mcpSpanPrefix = "mcp."

// withTracing wraps an MCP tool handler to create an OTel span per invocation.
func withTracing[Input any](
	tracer trace.Tracer,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if tracer == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		ctx, span := tracer.Start(ctx, mcpSpanPrefix+toolName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("mcp.tool", toolName)),
		)
		defer span.End()

		return handler(ctx, req, input)
	}
}

// withLogging wraps an MCP tool handler to log each invocation with
// its outcome and duration.
func withLogging[Input any](
	logger *slog.Logger,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		start := time.Now()

		result, output, err := handler(ctx, req, input)

		status := "ok"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
		}

		logger.Info("mcp tool call",
			"tool", toolName,
			"status", status,
			"duration", time.Since(start))

		return result, output, err
	}
}

func (s *Server) trackTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = append(s.tools, name)
}

// Tool description constants.
const (
	syncToolDescription = "Synchronize a project's codebase into the knowledge store. " +
		"Scans the project directory (or only the given changed files), chunks and " +
		"embeds the code, and returns the sync statistics."

	searchToolDescription = "Search a project's synced code for matching chunks. " +
		"Returns the matching chunks with their file paths and languages."

	statusToolDescription = "Get a project's sync status: current state, last sync " +
		"time and error, sync mode, and stored file/chunk counts."

	listFilesToolDescription = "List the files of a project that are present in the " +
		"knowledge store, as paths relative to the project root."

	fileContentToolDescription = "Read the content of one file inside a project's " +
		"directory. The path must stay within the project root."
)
