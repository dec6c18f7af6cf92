package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupRetention time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired cache entries",
	Long: `Delete every cached response older than the retention period, along
with interrupted writes and empty date directories.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(
		&cleanupRetention, "retention", 0,
		"Maximum age to keep (default: $CACHE_RETENTION or 168h)",
	)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, "")
	if err != nil {
		return err
	}
	defer a.close(ctx)

	retention := a.cfg.CacheRetention
	if cmd.Flags().Changed("retention") {
		retention = cleanupRetention
	}

	removed, err := a.fetcher.RunCleanup(retention)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch outputFormat {
	case "json":
		return outputJSON(out, map[string]any{
			"removed":   removed,
			"retention": retention.String(),
		})
	default:
		fmt.Fprintf(out, "Removed %d cache entries older than %s\n",
			removed, retention)
	}

	return nil
}
