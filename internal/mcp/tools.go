package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/ResistanceIsUseless/disneyland-menu/internal/catalog"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/remote"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// GetCatalogArgs are the arguments for the get_catalog tool.
type GetCatalogArgs struct {
	// Date is the query date.
	Date string `json:"date,omitempty" jsonschema:"Query date as YYYY-MM-DD, default today"`

	// Refresh bypasses fresh cache entries.
	Refresh bool `json:"refresh,omitempty" jsonschema:"Ignore cached data and refetch from the upstream"`
}

// GetCatalogResult is the result of the get_catalog tool.
type GetCatalogResult struct {
	Date          string             `json:"date"`
	Freshness     string             `json:"freshness"`
	Rows          []catalog.FlatRow  `json:"rows"`
	Failures      []FailureResult    `json:"failures,omitempty"`
	StaleEntities []string           `json:"stale_entities,omitempty"`
	Entities      []remote.EntityRef `json:"entities,omitempty"`
	Stats         catalog.Stats      `json:"stats"`
}

// FailureResult describes an entity that contributed no rows.
type FailureResult struct {
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Error      string `json:"error"`
}

func (s *Server) handleGetCatalog(ctx context.Context,
	req *mcp.CallToolRequest,
	args GetCatalogArgs) (*mcp.CallToolResult, GetCatalogResult, error) {

	date := args.Date
	if date == "" {
		date = s.cfg.DefaultDate()
	}

	res, err := s.cfg.Catalog.GetCatalog(ctx, date, args.Refresh)
	if err != nil {
		s.log.WarnS(ctx, "get_catalog failed", err, "date", date)
		return nil, GetCatalogResult{}, err
	}

	out := GetCatalogResult{
		Date:      res.Date,
		Freshness: string(res.Freshness),
		Rows:      res.Rows,
		Entities:  res.Entities,
		Stats:     res.Stats,
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, FailureResult{
			EntityID:   f.Entity.ID,
			EntityName: f.Entity.Name,
			Error:      f.Err.Error(),
		})
	}
	for _, e := range res.StaleEntities {
		out.StaleEntities = append(out.StaleEntities, e.Name)
	}

	return nil, out, nil
}

// CacheStatusArgs are the arguments for the cache_status tool.
type CacheStatusArgs struct {
	Date string `json:"date,omitempty" jsonschema:"Query date as YYYY-MM-DD, default today"`
}

// CacheStatusResult is the result of the cache_status tool.
type CacheStatusResult struct {
	Date          string `json:"date"`
	Present       bool   `json:"present"`
	Fresh         bool   `json:"fresh"`
	AgeSeconds    int64  `json:"age_seconds"`
	CreatedAt     string `json:"created_at,omitempty"`
	DetailEntries int    `json:"detail_entries"`

	// CachedDates lists every date with cached data.
	CachedDates []string `json:"cached_dates"`
}

func (s *Server) handleCacheStatus(ctx context.Context,
	req *mcp.CallToolRequest,
	args CacheStatusArgs) (*mcp.CallToolResult, CacheStatusResult, error) {

	date := args.Date
	if date == "" {
		date = s.cfg.DefaultDate()
	}

	status, err := s.cfg.Catalog.CacheStatus(date)
	if err != nil {
		return nil, CacheStatusResult{}, err
	}

	dates, err := s.cfg.Catalog.CachedDates()
	if err != nil {
		return nil, CacheStatusResult{}, err
	}

	out := CacheStatusResult{
		Date:          status.Date,
		Present:       status.Present,
		Fresh:         status.Fresh,
		AgeSeconds:    status.AgeSeconds,
		DetailEntries: status.DetailEntries,
		CachedDates:   append([]string{}, dates...),
	}
	if status.Present {
		out.CreatedAt = status.CreatedAt.Format(time.RFC3339)
	}

	return nil, out, nil
}

// RunCleanupArgs are the arguments for the run_cleanup tool.
type RunCleanupArgs struct {
	Retention string `json:"retention,omitempty" jsonschema:"Maximum age to keep as a Go duration such as 168h, default the configured retention"`
}

// RunCleanupResult is the result of the run_cleanup tool.
type RunCleanupResult struct {
	Removed   int    `json:"removed"`
	Retention string `json:"retention"`
}

func (s *Server) handleRunCleanup(ctx context.Context,
	req *mcp.CallToolRequest,
	args RunCleanupArgs) (*mcp.CallToolResult, RunCleanupResult, error) {

	retention := s.cfg.DefaultRetention
	if args.Retention != "" {
		d, err := time.ParseDuration(args.Retention)
		if err != nil {
			return nil, RunCleanupResult{}, fmt.Errorf(
				"invalid retention %q: %w", args.Retention, err,
			)
		}
		retention = d
	}

	removed, err := s.cfg.Catalog.RunCleanup(retention)
	if err != nil {
		return nil, RunCleanupResult{}, err
	}

	s.log.InfoS(ctx, "Cache cleanup via MCP", "removed", removed,
		"retention", retention)

	return nil, RunCleanupResult{
		Removed:   removed,
		Retention: retention.String(),
	}, nil
}
