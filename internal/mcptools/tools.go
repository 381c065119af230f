// Package mcptools implements a Model Context Protocol server exposing
// the sync pipeline as MCP tools over stdio transport: triggering
// syncs, querying sync status, and inspecting synced code.
package mcptools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/xeipuuv/gojsonschema"
)

// Tool name constants.
const (
	ToolNameSync        = "sync_project_codebase"
	ToolNameSearch      = "search_project_code"
	ToolNameStatus      = "get_project_sync_status"
	ToolNameListFiles   = "list_project_files"
	ToolNameFileContent = "get_file_content"
)

// Result and input size limits.
const (
	// MaxFileContentBytes bounds the file content returned by a tool call.
	MaxFileContentBytes = 1 << 20

	// DefaultSearchLimit is the result count when the caller omits one.
	DefaultSearchLimit = 10

	// DefaultListLimit is the file count when the caller omits one.
	DefaultListLimit = 500
)

// Sentinel errors for tool input validation.
var (
	// ErrEmptyProjectID indicates the project_id parameter is empty.
	ErrEmptyProjectID = errors.New("project_id parameter is required and must not be empty")
	// ErrEmptyQuery indicates the query parameter is empty.
	ErrEmptyQuery = errors.New("query parameter is required and must not be empty")
	// ErrEmptyFilePath indicates the file_path parameter is empty.
	ErrEmptyFilePath = errors.New("file_path parameter is required and must not be empty")
	// ErrPathOutsideProject indicates the file path escapes the project root.
	ErrPathOutsideProject = errors.New("file_path must stay inside the project directory")
	// ErrSearchUnavailable indicates the configured store has no search capability.
	ErrSearchUnavailable = errors.New("the configured store does not support code search")
	// ErrFileTooLarge indicates the requested file exceeds the content limit.
	ErrFileTooLarge = errors.New("file exceeds maximum returned size")
)

// Input types (auto-generate JSON schemas via struct tags).

// SyncInput is the input schema for the sync_project_codebase tool.
type SyncInput struct {
	ProjectID    string   `json:"project_id"              jsonschema:"identifier of the project to sync"`
	ChangedFiles []string `json:"changed_files,omitempty" jsonschema:"optional list of changed file paths (omit for a full scan)"`
}

// SearchInput is the input schema for the search_project_code tool.
type SearchInput struct {
	ProjectID string `json:"project_id"      jsonschema:"identifier of the project to search"`
	Query     string `json:"query"           jsonschema:"text to search the synced code for"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of matching chunks (default: 10)"`
}

// StatusInput is the input schema for the get_project_sync_status tool.
type StatusInput struct {
	ProjectID string `json:"project_id" jsonschema:"identifier of the project"`
}

// ListFilesInput is the input schema for the list_project_files tool.
type ListFilesInput struct {
	ProjectID string `json:"project_id"      jsonschema:"identifier of the project"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of files (default: 500)"`
}

// FileContentInput is the input schema for the get_file_content tool.
type FileContentInput struct {
	ProjectID string `json:"project_id" jsonschema:"identifier of the project"`
	FilePath  string `json:"file_path"  jsonschema:"path of the file, relative to the project root"`
}

// Explicit JSON Schemas validated before each handler runs. The SDK
// already shapes arguments into the input structs; these catch
// wrong-typed and missing fields with a precise message instead of a
// decode error.
const (
	syncInputSchema = `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"changed_files": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["project_id"]
	}`

	searchInputSchema = `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"query": {"type": "string", "minLength": 1},
			"limit": {"type": "integer", "minimum": 1}
		},
		"required": ["project_id", "query"]
	}`

	statusInputSchema = `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1}
		},
		"required": ["project_id"]
	}`

	listFilesInputSchema = `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"limit": {"type": "integer", "minimum": 1}
		},
		"required": ["project_id"]
	}`

	fileContentInputSchema = `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"file_path": {"type": "string", "minLength": 1}
		},
		"required": ["project_id", "file_path"]
	}`
)

// validateAgainstSchema checks input against its JSON Schema and
// returns the collected violations as one error.
func validateAgainstSchema(schema string, input any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewGoLoader(input),
	)
	if err != nil {
		return fmt.Errorf("validate input: %w", err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, violation := range result.Errors() {
		messages = append(messages, violation.String())
	}

	return errors.New(strings.Join(messages, "; "))
}

// Output type (used as structured output for generic AddTool).

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// Result helpers.

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	payload, marshalErr := json.Marshal(map[string]any{"success": false, "error": err.Error()})
	if marshalErr != nil {
		payload = []byte(err.Error())
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(payload)},
		},
		IsError: true,
	}, ToolOutput{Success: false}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(map[string]any{"success": true, "data": value}, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Success: true, Data: value}, nil
}
