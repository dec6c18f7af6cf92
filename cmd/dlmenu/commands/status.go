package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ResistanceIsUseless/disneyland-menu/internal/catalog"
	"github.com/spf13/cobra"
)

var statusDate string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache status for a date",
	Long: `Report whether the catalog for a date is cached, how old it is and
whether it is still within the cache TTL.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(
		&statusDate, "date", "",
		"Query date as YYYY-MM-DD (default: $DISNEY_API_DATE or today)",
	)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, statusDate)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	status, err := a.fetcher.CacheStatus(a.queryDate())
	if err != nil {
		return err
	}

	dates, err := a.fetcher.CachedDates()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch outputFormat {
	case "json":
		return outputJSON(out, statusJSON{
			Status:      status,
			CachedDates: append([]string{}, dates...),
		})
	default:
		formatStatus(out, status, dates)
	}

	return nil
}

// statusJSON is the JSON form of the status command.
type statusJSON struct {
	catalog.Status

	CachedDates []string `json:"cached_dates"`
}

func formatStatus(w io.Writer, status catalog.Status, dates []string) {
	formatEntry(w, status)

	if len(dates) == 0 {
		fmt.Fprintln(w, "Cached dates: none")
		return
	}
	fmt.Fprintf(w, "Cached dates: %s\n", strings.Join(dates, ", "))
}

func formatEntry(w io.Writer, status catalog.Status) {
	if !status.Present {
		fmt.Fprintf(w, "%s: not cached\n", status.Date)
		return
	}

	state := "fresh"
	if !status.Fresh {
		state = "expired"
	}

	age := time.Duration(status.AgeSeconds) * time.Second
	fmt.Fprintf(w, "%s: %s, cached %s ago at %s\n", status.Date, state,
		age, status.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Menu entries: %d\n", status.DetailEntries)
}
