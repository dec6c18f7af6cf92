package commands

import (
	"github.com/ResistanceIsUseless/disneyland-menu/internal/build"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the catalog tools over MCP on stdio",
	Long: `Run a Model Context Protocol server on stdin and stdout exposing the
get_catalog, cache_status and run_cleanup tools. Logs go to stderr.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, "")
	if err != nil {
		return err
	}
	defer a.close(ctx)

	server := mcp.NewServer(mcp.Config{
		Catalog:          a.fetcher,
		DefaultDate:      a.queryDate,
		DefaultRetention: a.cfg.CacheRetention,
		Version:          build.Version(),
		Log:              a.logs.Logger(build.SubsystemMCP),
	})

	a.log.InfoS(ctx, "Serving MCP on stdio")

	return server.RunStdio(ctx)
}
