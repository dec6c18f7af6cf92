package commands

import (
	"fmt"

	"github.com/ResistanceIsUseless/disneyland-menu/internal/build"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display the version, commit hash, and build metadata for dlmenu.`,
	Run:   runVersion,
}

// runVersion prints the version and build information.
func runVersion(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "dlmenu version %s", build.Version())

	if build.Commit != "" {
		fmt.Fprintf(out, " commit=%s", build.Commit)
	} else if build.CommitHash != "" {
		fmt.Fprintf(out, " commit=%s", build.CommitHash)
	}

	if build.GoVersion != "" {
		fmt.Fprintf(out, " go=%s", build.GoVersion)
	}

	if tags := build.Tags(); len(tags) > 0 {
		fmt.Fprintf(out, " tags=%s", build.RawTags)
	}

	fmt.Fprintln(out)
}
