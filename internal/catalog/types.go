package catalog

import (
	"context"
	"time"

	"github.com/ResistanceIsUseless/disneyland-menu/internal/cache"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/remote"
)

// Remote is the upstream the fetcher pulls from. *remote.Client implements
// it.
type Remote interface {
	Authenticate(ctx context.Context) (remote.AuthToken, error)

	ListEntities(
		ctx context.Context, token remote.AuthToken, date string,
	) (remote.EntityList, error)

	FetchDetail(
		ctx context.Context, token remote.AuthToken, ref remote.EntityRef,
		date string,
	) (remote.DetailRecord, error)
}

// Cache is the payload store the fetcher reads through. *cache.Store
// implements it.
type Cache interface {
	Entry(scope, date, kind string) (cache.Entry, error)
	Load(scope, date, kind string) (cache.Entry, error)
	Write(scope, date, kind string, blob []byte) error
	Count(date, kind string) (int, error)
	Dates() ([]string, error)
	Cleanup(retention time.Duration) (int, error)
}

// FlatRow is one menu item of one entity, flattened for display.
type FlatRow struct {
	// Item is the item title.
	Item string `json:"item"`

	// Price is the pre-tax amount, or nil when the upstream gave none.
	Price *string `json:"price"`

	// Cost is Price formatted for display, "N/A" when there is no price.
	Cost string `json:"cost"`

	// Category is the menu group the item belongs to.
	Category string `json:"category"`

	// MealPeriod is the serving period, for example "Lunch".
	MealPeriod string `json:"meal_period"`

	Description string `json:"description,omitempty"`

	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Location   string `json:"location"`

	// Date is the query date the row was fetched for.
	Date string `json:"date"`
}

// EntityFailure records an entity whose menu could not be obtained, either
// from the upstream or from the cache.
type EntityFailure struct {
	Entity remote.EntityRef
	Err    error
}

// Freshness summarizes where a result's data came from.
type Freshness string

const (
	// FreshnessFresh means every entity was served from the upstream or a
	// fresh cache entry.
	FreshnessFresh Freshness = "fresh"

	// FreshnessStale means every entity has data, but some were served
	// from expired cache entries because the upstream failed.
	FreshnessStale Freshness = "stale"

	// FreshnessPartial means some entities have no data at all.
	FreshnessPartial Freshness = "partial"

	// FreshnessEmpty means discovery returned no entities with menus.
	FreshnessEmpty Freshness = "empty"
)

// Stats counts the work a single run did.
type Stats struct {
	// Entities is the number of entities discovery returned.
	Entities int `json:"entities"`

	// NetworkCalls counts upstream requests, retries included.
	NetworkCalls int `json:"network_calls"`

	// CacheHits counts payloads served from fresh cache entries.
	CacheHits int `json:"cache_hits"`

	// Authentications counts tokens acquired.
	Authentications int `json:"authentications"`
}

// Result is the outcome of one GetCatalog run.
type Result struct {
	Date string

	// Rows holds every item of every entity, in discovery order and, within
	// an entity, in menu order.
	Rows []FlatRow

	// Failures lists the entities that contributed no rows because their
	// menu could not be fetched and no cached copy existed.
	Failures []EntityFailure

	// StaleEntities lists the entities served from an expired cache entry
	// because the upstream failed.
	StaleEntities []remote.EntityRef

	// Entities is every entity discovery returned, in discovery order,
	// with its descriptive metadata.
	Entities []remote.EntityRef

	Stats Stats

	Freshness Freshness
}

// Status describes the cached state of a date.
type Status struct {
	Date string `json:"date"`

	// Present reports whether a discovery entry exists at all. A date that
	// was never fetched is not present; an expired one is present but not
	// fresh.
	Present bool `json:"present"`

	// Fresh reports whether the discovery entry is within the TTL.
	Fresh bool `json:"fresh"`

	// AgeSeconds is the age of the discovery entry.
	AgeSeconds int64 `json:"age_seconds"`

	// CreatedAt is when the discovery entry was written.
	CreatedAt time.Time `json:"created_at,omitzero"`

	// DetailEntries is the number of cached menus for the date.
	DetailEntries int `json:"detail_entries"`
}
