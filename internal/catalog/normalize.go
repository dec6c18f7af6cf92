package catalog

import "github.com/ResistanceIsUseless/disneyland-menu/internal/remote"

// noPrice is the display cost of an item without a price.
const noPrice = "N/A"

// Flatten turns one entity's menu into rows, one per item, stamped with the
// entity and the query date. Rows follow the menu's own order: meal period,
// then group, then item.
func Flatten(
	ref remote.EntityRef, date string, rec remote.DetailRecord,
) []FlatRow {

	var rows []FlatRow
	for _, period := range rec.MealPeriods {
		for _, group := range period.Groups {
			for _, item := range group.Items {
				price := item.Price()

				cost := noPrice
				if price != nil {
					cost = "$" + *price
				}

				rows = append(rows, FlatRow{
					Item:        item.Title,
					Price:       price,
					Cost:        cost,
					Category:    group.Name,
					MealPeriod:  period.Name,
					Description: item.Description,
					EntityID:    ref.ID,
					EntityName:  ref.Name,
					Location:    ref.Location,
					Date:        date,
				})
			}
		}
	}

	return rows
}
