package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ResistanceIsUseless/disneyland-menu/internal/catalog"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/remote"
	"github.com/spf13/cobra"
)

var (
	catalogDate    string
	catalogRefresh bool
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Fetch the menu catalog for a date",
	Long: `Fetch every menu item served on a date. Fresh cached responses are
reused; everything else is fetched from the upstream. Entities that cannot be
fetched are listed after the rows and do not fail the command.`,
	RunE: runCatalog,
}

func init() {
	catalogCmd.Flags().StringVar(
		&catalogDate, "date", "",
		"Query date as YYYY-MM-DD (default: $DISNEY_API_DATE or today)",
	)
	catalogCmd.Flags().BoolVar(
		&catalogRefresh, "refresh", false,
		"Ignore fresh cache entries and refetch",
	)
}

// catalogJSON is the JSON form of a catalog result.
type catalogJSON struct {
	Date          string             `json:"date"`
	Freshness     catalog.Freshness  `json:"freshness"`
	Rows          []catalog.FlatRow  `json:"rows"`
	Failures      []failureJSON      `json:"failures"`
	StaleEntities []string           `json:"stale_entities"`
	Entities      []remote.EntityRef `json:"entities"`
	Stats         catalog.Stats      `json:"stats"`
}

type failureJSON struct {
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Error      string `json:"error"`
}

func runCatalog(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, catalogDate)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	res, err := a.fetcher.GetCatalog(ctx, a.queryDate(), catalogRefresh)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch outputFormat {
	case "json":
		return outputJSON(out, toCatalogJSON(res))
	default:
		return formatCatalog(out, res)
	}
}

func toCatalogJSON(res *catalog.Result) catalogJSON {
	out := catalogJSON{
		Date:          res.Date,
		Freshness:     res.Freshness,
		Rows:          res.Rows,
		Failures:      []failureJSON{},
		StaleEntities: []string{},
		Entities:      append([]remote.EntityRef{}, res.Entities...),
		Stats:         res.Stats,
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, failureJSON{
			EntityID:   f.Entity.ID,
			EntityName: f.Entity.Name,
			Error:      f.Err.Error(),
		})
	}
	for _, e := range res.StaleEntities {
		out.StaleEntities = append(out.StaleEntities, e.Name)
	}

	return out
}

// formatCatalog prints the rows as an aligned table followed by a summary.
func formatCatalog(w io.Writer, res *catalog.Result) error {
	if len(res.Rows) == 0 {
		fmt.Fprintf(w, "No menu items found for %s.\n", res.Date)
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "LOCATION\tMEAL\tCATEGORY\tITEM\tCOST")
		for _, row := range res.Rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", row.EntityName,
				row.MealPeriod, row.Category, row.Item, row.Cost)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\n%d items from %d locations for %s (%s)\n",
		len(res.Rows), res.Stats.Entities, res.Date, res.Freshness)
	fmt.Fprintf(w, "Network calls: %d, cache hits: %d\n",
		res.Stats.NetworkCalls, res.Stats.CacheHits)

	if len(res.StaleEntities) > 0 {
		fmt.Fprintf(w, "\nServed from expired cache (%d):\n",
			len(res.StaleEntities))
		for _, e := range res.StaleEntities {
			fmt.Fprintf(w, "  %s\n", e.Name)
		}
	}

	if len(res.Failures) > 0 {
		fmt.Fprintf(w, "\nFailed to fetch (%d):\n", len(res.Failures))
		for _, f := range res.Failures {
			fmt.Fprintf(w, "  %s (%s): %v\n", f.Entity.Name,
				f.Entity.ID, f.Err)
		}
	}

	return nil
}
