package catalog

import (
	"time"

	"github.com/ResistanceIsUseless/disneyland-menu/internal/retry"
	"github.com/btcsuite/btclog/v2"
)

const (
	// DefaultCacheTTL is how long a cached payload is reused without
	// contacting the upstream.
	DefaultCacheTTL = 6 * time.Hour

	// DefaultCacheRetention is the age at which cleanup deletes entries.
	DefaultCacheRetention = 7 * 24 * time.Hour

	// DefaultConcurrency is the number of detail fetches run in parallel.
	DefaultConcurrency = 4

	// DefaultMaxDaysAhead is how far ahead a query date may be.
	DefaultMaxDaysAhead = 7
)

// Cache scope keys and kinds. Discovery has a single scope per date; detail
// entries are scoped by the entity's URL-friendly id.
const (
	ScopeAllEntities = "all-entities"
	KindDiscovery    = "discovery"
	KindDetail       = "detail"
)

// Config holds configuration for the fetcher.
type Config struct {
	// CacheEnabled controls whether fresh cache entries are reused. When
	// false every entry is treated as stale, though fetched payloads are
	// still written and stale entries still back up failed fetches.
	CacheEnabled bool

	// CacheTTL is how long an entry is considered fresh.
	CacheTTL time.Duration

	// CacheRetention is the default age used by RunCleanup callers.
	CacheRetention time.Duration

	// Concurrency bounds parallel detail fetches.
	Concurrency int

	// MaxDaysAhead bounds query dates.
	MaxDaysAhead int

	// Retry is applied to every upstream call.
	Retry retry.Policy

	// Now is the clock used for freshness and date checks.
	Now func() time.Time

	// Log receives orchestration diagnostics.
	Log btclog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CacheEnabled:   true,
		CacheTTL:       DefaultCacheTTL,
		CacheRetention: DefaultCacheRetention,
		Concurrency:    DefaultConcurrency,
		MaxDaysAhead:   DefaultMaxDaysAhead,
		Retry:          retry.DefaultPolicy(),
		Now:            time.Now,
		Log:            btclog.Disabled,
	}
}
