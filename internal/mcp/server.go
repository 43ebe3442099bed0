package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/memberdir/internal/directory"
	"github.com/dshills/memberdir/internal/importer"
	"github.com/dshills/memberdir/internal/storage"
	"github.com/dshills/memberdir/internal/telemetry"
)

const (
	// ServerName is the MCP server name
	ServerName = "memberdir"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// DefaultDBPath is the default location for the database
	DefaultDBPath = "~/.memberdir/directory.db"
	// DefaultSettleTimeout bounds how long a tool waits for lookups it started
	DefaultSettleTimeout = 15 * time.Second
)

// Config configures the server
type Config struct {
	DBPath          string
	Directory       directory.Config // template for every session
	MaxSessions     int
	SettleTimeout   time.Duration
	AnalyticsBuffer int
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	storage   storage.Storage
	importer  *importer.Importer
	sessions  *sessionRegistry
	cfg       Config
	logger    *zap.Logger
	errs      telemetry.ErrorSink
	analytics *telemetry.AsyncAnalytics
}

// expandPath resolves a leading ~ to the user's home directory
func expandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// NewServer opens the database at cfg.DBPath and creates a server on it
func NewServer(cfg Config, logger *zap.Logger) (*Server, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}
	dbFile, err := expandPath(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	// Create directory if it doesn't exist
	if dbFile != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(dbFile, storage.WithSuggestionLimit(cfg.Directory.SuggestionLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	return newServer(store, cfg, logger), nil
}

// newServer creates a server on an open store. The server owns the store.
func newServer(store storage.Storage, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}
	if cfg.AnalyticsBuffer <= 0 {
		cfg.AnalyticsBuffer = telemetry.DefaultAnalyticsBuffer
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:       mcpServer,
		storage:   store,
		importer:  importer.New(store, importer.WithLogger(logger.Named("importer"))),
		sessions:  newSessionRegistry(cfg.MaxSessions),
		cfg:       cfg,
		logger:    logger,
		errs:      telemetry.NewLogErrorSink(logger.Named("errors")),
		analytics: telemetry.NewLogAnalytics(cfg.AnalyticsBuffer, logger),
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until ctx is done or
// stdin closes
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.Close() }()

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger.Named("stdio")))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// Close closes every session, flushes analytics and closes the database
func (s *Server) Close() error {
	s.sessions.closeAll()
	if err := s.analytics.Close(); err != nil {
		s.logger.Warn("failed to flush analytics", zap.Error(err))
	}
	return s.storage.Close()
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	// Session lifecycle
	s.mcp.AddTool(openDirectoryTool(), s.handleOpenDirectory)
	s.mcp.AddTool(closeDirectoryTool(), s.handleCloseDirectory)
	s.mcp.AddTool(getDirectoryStateTool(), s.handleGetDirectoryState)

	// Query and facets
	s.mcp.AddTool(setQueryTool(), s.handleSetQuery)
	s.mcp.AddTool(searchFacetTool(), s.handleSearchFacet)
	s.mcp.AddTool(toggleFacetOptionTool(), s.handleToggleFacetOption)
	s.mcp.AddTool(clearFacetTool(), s.handleClearFacet)

	// Sort, columns and paging
	s.mcp.AddTool(setSortTool(), s.handleSetSort)
	s.mcp.AddTool(toggleColumnTool(), s.handleToggleColumn)
	s.mcp.AddTool(resetColumnsTool(), s.handleResetColumns)
	s.mcp.AddTool(loadMoreTool(), s.handleLoadMore)

	// Data
	s.mcp.AddTool(importMembersTool(), s.handleImportMembers)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
