package commands

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	// cacheDir overrides CACHE_DIR.
	cacheDir string

	// logLevel overrides LOG_LEVEL.
	logLevel string

	// debug forces the debug log level.
	debug bool

	// outputFormat controls output format (text, json).
	outputFormat string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "dlmenu",
	Short: "Disneyland dining menu catalog",
	Long: `dlmenu fetches every menu item served at Disneyland Resort dining
locations on a given date, caching upstream responses on disk so repeated
queries do not hit the network.

Configuration is read from the environment (DISNEY_API_DATE, CACHE_TTL,
CACHE_DIR, LOG_LEVEL, ...) and may be overridden by flags.`,
	SilenceUsage:      true,
	PersistentPreRunE: checkFormat,
}

// Execute runs the CLI. An interrupt cancels the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags.
	rootCmd.PersistentFlags().StringVar(
		&cacheDir, "cache-dir", "",
		"Cache directory (default: $CACHE_DIR or disney_responses)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "",
		"Log level: trace, debug, info, warn, error, critical, off",
	)
	rootCmd.PersistentFlags().BoolVar(
		&debug, "debug", false,
		"Shorthand for --log-level=debug",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "text",
		"Output format: text, json",
	)

	// Add subcommands.
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}
