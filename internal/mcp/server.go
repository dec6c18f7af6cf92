// Package mcp exposes the catalog over the Model Context Protocol so that an
// external client can query menus, inspect the cache and trigger cleanup.
package mcp

import (
	"context"
	"time"

	"github.com/ResistanceIsUseless/disneyland-menu/internal/catalog"
	"github.com/btcsuite/btclog/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Catalog is the query surface the tools are backed by. *catalog.Fetcher
// implements it.
type Catalog interface {
	GetCatalog(
		ctx context.Context, date string, forceRefresh bool,
	) (*catalog.Result, error)

	CacheStatus(date string) (catalog.Status, error)

	CachedDates() ([]string, error)

	RunCleanup(retention time.Duration) (int, error)
}

// Config holds configuration for the MCP server.
type Config struct {
	// Catalog answers every tool call.
	Catalog Catalog

	// DefaultDate returns the date used when a call omits one.
	DefaultDate func() string

	// DefaultRetention is used by run_cleanup when no retention is given.
	DefaultRetention time.Duration

	// Version is reported to clients during initialization.
	Version string

	// Log receives tool call diagnostics.
	Log btclog.Logger
}

// Server wraps the MCP server with the catalog it serves.
type Server struct {
	server *mcp.Server
	cfg    Config
	log    btclog.Logger
}

// NewServer creates an MCP server with all catalog tools registered.
func NewServer(cfg Config) *Server {
	if cfg.DefaultDate == nil {
		cfg.DefaultDate = func() string {
			return time.Now().Format("2006-01-02")
		}
	}
	if cfg.DefaultRetention <= 0 {
		cfg.DefaultRetention = catalog.DefaultCacheRetention
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Log == nil {
		cfg.Log = btclog.Disabled
	}

	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "dlmenu",
			Version: cfg.Version,
		}, nil),
		cfg: cfg,
		log: cfg.Log,
	}
	s.registerTools()

	return s
}

// Run serves the tools on the given transport until ctx is done or the
// client disconnects.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

// RunStdio serves the tools over stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// registerTools registers the catalog tools.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "get_catalog",
		Description: "Get every menu item served at Disneyland dining " +
			"locations on a date, with prices",
	}, s.handleGetCatalog)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "cache_status",
		Description: "Report whether the catalog for a date is cached and fresh",
	}, s.handleCacheStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "run_cleanup",
		Description: "Delete cached catalog data older than a retention period",
	}, s.handleRunCleanup)
}
