package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/memberdir/internal/directory"
	"github.com/dshills/memberdir/internal/importer"
	"github.com/dshills/memberdir/internal/storage"
	"github.com/dshills/memberdir/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeSessionNotFound   = -32001 // Unknown or closed session id
	ErrorCodeImportInProgress  = -32002 // Another import is already running
	ErrorCodeColumnNotSortable = -32003 // Sort requested on a column that cannot sort
	ErrorCodeTooManySessions   = -32004 // Session limit reached
)

// DefaultProfile is used when open_directory names no profile
const DefaultProfile = "default"

// maxReportedErrors caps the import errors returned to the client
const maxReportedErrors = 5

// handleOpenDirectory handles the open_directory tool invocation
func (s *Server) handleOpenDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	cfg := s.cfg.Directory
	cfg.Profile = getStringDefault(args, "profile", DefaultProfile)
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if _, present := args["page_size"]; present {
		size := getIntDefault(args, "page_size", 0)
		if size < 1 || size > 200 {
			return nil, newMCPError(ErrorCodeInvalidParams, "page_size must be between 1 and 200", map[string]interface{}{
				"param": "page_size",
				"value": size,
			})
		}
		cfg.PageSize = size
	}

	d, err := directory.New(ctx, cfg,
		directory.Sources{Suggestions: s.storage, Results: s.storage, Columns: s.storage},
		directory.WithLogger(s.logger.Named("directory")),
		directory.WithErrorSink(s.errs),
		directory.WithAnalytics(s.analytics),
	)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to open directory", map[string]interface{}{
			"error": err.Error(),
		})
	}

	id, err := s.sessions.add(d)
	if err != nil {
		d.Close()
		return nil, toolError(err)
	}
	s.logger.Info("directory session opened", zap.String("session", id), zap.String("profile", cfg.Profile))

	d.Refresh()
	return s.stateResult(ctx, id, d, nil)
}

// handleCloseDirectory handles the close_directory tool invocation
func (s *Server) handleCloseDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	id, err := requireString(args, "session_id")
	if err != nil {
		return nil, err
	}
	if err := s.sessions.remove(id); err != nil {
		return nil, toolError(err)
	}
	s.logger.Info("directory session closed", zap.String("session", id))

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"session_id": id,
		"closed":     true,
	})), nil
}

// handleGetDirectoryState handles the get_directory_state tool invocation
func (s *Server) handleGetDirectoryState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, d, _, err := s.session(request)
	if err != nil {
		return nil, err
	}
	return s.stateResult(ctx, id, d, nil)
}

// handleSetQuery handles the set_query tool invocation
func (s *Server) handleSetQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, d, args, err := s.session(request)
	if err != nil {
		return nil, err
	}
	query, ok := args["query"].(string)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "query parameter is required", map[string]interface{}{
			"param":  "query",
			"reason": "missing",
		})
	}
	d.SetQuery(query)
	return s.stateResult(ctx, id, d, nil)
}

// handleSearchFacet handles the search_facet tool invocation
func (s *Server) handleSearchFacet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, d, args, err := s.session(request)
	if err != nil {
		return nil, err
	}
	facetID, err := requireString(args, "facet")
	if err != nil {
		return nil, err
	}
	query := getStringDefault(args, "query", "")

	if err := d.SearchFacet(facetID, query); err != nil {
		return nil, toolError(err)
	}
	s.settle(ctx, d)

	c, _ := d.Facet(facetID)
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"session_id": id,
		"facet":      c.State(),
	})), nil
}

// handleToggleFacetOption handles the toggle_facet_option tool invocation
func (s *Server) handleToggleFacetOption(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, d, args, err := s.session(request)
	if err != nil {
		return nil, err
	}
	facetID, err := requireString(args, "facet")
	if err != nil {
		return nil, err
	}
	value, err := requireString(args, "value")
	if err != nil {
		return nil, err
	}

	toggled, err := d.ToggleFacetOption(facetID, value)
	if err != nil {
		return nil, toolError(err)
	}
	return s.stateResult(ctx, id, d, map[string]interface{}{"toggled": toggled})
}

// handleClearFacet handles the clear_facet tool invocation
func (s *Server) handleClearFacet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, d, args, err := s.session(request)
	if err != nil {
		return nil, err
	}
	facetID := getStringDefault(args, "facet", "")
	if facetID == "" {
		d.ClearAll()
	} else if err := d.ClearFacet(facetID); err != nil {
		return nil, toolError(err)
	}
	return s.stateResult(ctx, id, d, nil)
}

// handleSetSort handles the set_sort tool invocation
func (s *Server) handleSetSort(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, d, args, err := s.session(request)
	if err != nil {
		return nil, err
	}
	field := getStringDefault(args, "field", "")
	if field == "" {
		d.ClearSort()
		return s.stateResult(ctx, id, d, nil)
	}

	dir, err := types.ParseDirection(getStringDefault(args, "direction", string(types.Asc)))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid direction", map[string]interface{}{
			"param":   "direction",
			"allowed": []string{string(types.Asc), string(types.Desc)},
		})
	}
	if err := d.SetSort(field, dir); err != nil {
		return nil, toolError(err)
	}
	return s.stateResult(ctx, id, d, nil)
}

// handleToggleColumn handles the toggle_column tool invocation
func (s *Server) handleToggleColumn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, d, args, err := s.session(request)
	if err != nil {
		return nil, err
	}
	column, err := requireString(args, "column")
	if err != nil {
		return nil, err
	}
	if err := d.ToggleColumn(ctx, column); err != nil {
		return nil, toolError(err)
	}
	return s.stateResult(ctx, id, d, nil)
}

// handleResetColumns handles the reset_columns tool invocation
func (s *Server) handleResetColumns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, d, _, err := s.session(request)
	if err != nil {
		return nil, err
	}
	if err := d.ResetColumns(ctx); err != nil {
		return nil, toolError(err)
	}
	return s.stateResult(ctx, id, d, nil)
}

// handleLoadMore handles the load_more tool invocation
func (s *Server) handleLoadMore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, d, _, err := s.session(request)
	if err != nil {
		return nil, err
	}
	started := d.LoadMore()
	return s.stateResult(ctx, id, d, map[string]interface{}{"load_started": started})
}

// handleImportMembers handles the import_members tool invocation
func (s *Server) handleImportMembers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	stats, err := s.importer.Import(ctx, path, &importer.Config{
		IncludeHidden: getBoolDefault(args, "include_hidden", false),
	})
	if err != nil {
		return nil, toolError(err)
	}

	response := map[string]interface{}{
		"imported":        true,
		"run_id":          stats.RunID,
		"files_found":     stats.FilesFound,
		"files_failed":    stats.FilesFailed,
		"members_stored":  stats.MembersStored,
		"members_invalid": stats.MembersInvalid,
		"duration_ms":     stats.Duration.Milliseconds(),
	}
	if errs := stats.SortedErrors(); len(errs) > 0 {
		// Include first few errors
		if len(errs) > maxReportedErrors {
			response["errors"] = errs[:maxReportedErrors]
			response["error_count"] = len(errs)
		} else {
			response["errors"] = errs
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.storage.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"statistics": map[string]interface{}{
			"members_count":       status.MembersCount,
			"organizations_count": status.OrganizationsCount,
			"profiles_count":      status.ProfilesCount,
			"database_size_mb":    fmt.Sprintf("%.2f", status.DatabaseSizeMB),
			"open_sessions":       s.sessions.len(),
		},
		"health": map[string]interface{}{
			"database_accessible": status.Health.DatabaseAccessible,
			"fts_index_built":     status.Health.FTSIndexBuilt,
			"import_running":      s.importer.Running(),
		},
		"build_mode": status.BuildMode,
	}
	if run := status.LastImport; run != nil {
		last := map[string]interface{}{
			"source":         run.Source,
			"files_total":    run.FilesTotal,
			"files_failed":   run.FilesFailed,
			"members_stored": run.MembersStored,
			"started_at":     run.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if !run.FinishedAt.IsZero() {
			last["finished_at"] = run.FinishedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		response["last_import"] = last
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// session resolves the session_id argument
func (s *Server) session(request mcp.CallToolRequest) (string, *directory.Directory, map[string]interface{}, error) {
	args, ok := arguments(request)
	if !ok {
		return "", nil, nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	id, err := requireString(args, "session_id")
	if err != nil {
		return "", nil, nil, err
	}
	d, err := s.sessions.get(id)
	if err != nil {
		return "", nil, nil, toolError(err)
	}
	return id, d, args, nil
}

// settle waits for facet lookups and results fetches started by a tool.
// On timeout the state is returned as is, still loading.
func (s *Server) settle(ctx context.Context, d *directory.Directory) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SettleTimeout)
	defer cancel()

	if err := d.WaitFacets(ctx); err != nil {
		s.logger.Debug("facet lookups still pending", zap.Error(err))
		return
	}
	if err := d.Wait(ctx); err != nil {
		s.logger.Debug("results still loading", zap.Error(err))
	}
}

// stateResult settles the session and returns its state merged with extra
func (s *Server) stateResult(ctx context.Context, id string, d *directory.Directory, extra map[string]interface{}) (*mcp.CallToolResult, error) {
	s.settle(ctx, d)
	response := map[string]interface{}{
		"session_id": id,
		"state":      d.State(),
	}
	for k, v := range extra {
		response[k] = v
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// toolError maps domain errors to MCP errors
func toolError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return newMCPError(ErrorCodeSessionNotFound, "session not found", nil)
	case errors.Is(err, ErrTooManySessions):
		return newMCPError(ErrorCodeTooManySessions, "too many open sessions", nil)
	case errors.Is(err, importer.ErrImportInProgress):
		return newMCPError(ErrorCodeImportInProgress, "import already in progress", nil)
	case errors.Is(err, directory.ErrColumnNotSortable):
		return newMCPError(ErrorCodeColumnNotSortable, err.Error(), nil)
	case errors.Is(err, directory.ErrUnknownFacet),
		errors.Is(err, directory.ErrUnknownColumn),
		errors.Is(err, directory.ErrInvalidColumn),
		errors.Is(err, types.ErrInvalidDirection),
		errors.Is(err, storage.ErrUnknownFacet):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	default:
		return newMCPError(ErrorCodeInternalError, "operation failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that an import path exists and is readable
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	if !info.IsDir() && !isProfileExt(path) {
		return ErrNotProfileFile
	}
	return nil
}

func isProfileExt(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json", ".YAML", ".YML", ".JSON":
		return true
	}
	return false
}

// arguments returns the tool call arguments as a map
func arguments(request mcp.CallToolRequest) (map[string]interface{}, bool) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, true
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	return args, ok
}

// requireString extracts a non-empty string parameter
func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotProfileFile  = errors.New("file is not a .yaml, .yml or .json profile file")
)
