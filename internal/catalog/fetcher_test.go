package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ResistanceIsUseless/disneyland-menu/internal/cache"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/config"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/remote"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/retry"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

const testDate = "2026-10-18"

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// stubRemote is an in-memory upstream that counts calls.
type stubRemote struct {
	mu sync.Mutex

	entities []remote.EntityRef
	menus    map[string]string
	failures map[string]error

	authErr      error
	discoveryErr error

	// tokenTTL, when set, gives issued tokens an expiry relative to clock.
	tokenTTL time.Duration
	clock    *testClock

	authCalls   int
	listCalls   int
	detailCalls int
}

func (s *stubRemote) Authenticate(
	ctx context.Context,
) (remote.AuthToken, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.authCalls++
	if s.authErr != nil {
		return remote.AuthToken{}, s.authErr
	}

	tok := remote.AuthToken{
		Value:      "token",
		AcquiredAt: s.clock.Now(),
		ExpiresAt:  fn.None[time.Time](),
	}
	if s.tokenTTL != 0 {
		tok.ExpiresAt = fn.Some(s.clock.Now().Add(s.tokenTTL))
	}

	return tok, nil
}

func (s *stubRemote) ListEntities(
	ctx context.Context, token remote.AuthToken, date string,
) (remote.EntityList, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.listCalls++
	if token.Value == "" {
		return remote.EntityList{}, errors.New("missing token")
	}
	if s.discoveryErr != nil {
		return remote.EntityList{}, s.discoveryErr
	}

	type facets struct {
		Cuisine []string `json:"cuisine,omitempty"`
	}
	type result struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		URLFriendlyID string `json:"urlFriendlyId,omitempty"`
		LocationName  string `json:"locationName"`
		FacilityID    string `json:"facilityId,omitempty"`
		Facets        facets `json:"facets"`
	}
	results := make([]result, 0, len(s.entities))
	for _, e := range s.entities {
		results = append(results, result{
			ID: e.ID, Name: e.Name, URLFriendlyID: e.URLFriendlyID,
			LocationName: e.Location,
			FacilityID:   e.Info.FacilityID,
			Facets:       facets{Cuisine: e.Info.Cuisines},
		})
	}

	raw, err := json.Marshal(map[string]any{"results": results})
	if err != nil {
		return remote.EntityList{}, err
	}

	return remote.ParseEntities(raw)
}

func (s *stubRemote) FetchDetail(
	ctx context.Context, token remote.AuthToken, ref remote.EntityRef,
	date string,
) (remote.DetailRecord, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.detailCalls++
	if err, ok := s.failures[ref.URLFriendlyID]; ok {
		return remote.DetailRecord{}, err
	}

	raw, ok := s.menus[ref.URLFriendlyID]
	if !ok {
		return remote.DetailRecord{}, &remote.Error{
			Kind: remote.KindNotFound, Op: "fetch_detail",
			Status: http.StatusNotFound,
		}
	}

	return remote.ParseDetail([]byte(raw))
}

func (s *stubRemote) calls() (auth, list, detail int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.authCalls, s.listCalls, s.detailCalls
}

func (s *stubRemote) setFailure(slug string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures == nil {
		s.failures = make(map[string]error)
	}
	if err == nil {
		delete(s.failures, slug)
		return
	}
	s.failures[slug] = err
}

// twoByTwoMenu has two meal periods with two items each. The second item of
// each period has no price.
const twoByTwoMenu = `{"mealPeriods": [
	{"name": "Breakfast", "groups": [{"name": "Entrees", "items": [
		{"title": "Pancakes", "description": "Mickey shaped",
		 "prices": [{"withoutTax": 12.99}]},
		{"title": "Coffee", "prices": []}
	]}]},
	{"name": "Lunch", "groups": [{"name": "Sandwiches", "items": [
		{"title": "Monte Cristo", "prices": [{"withoutTax": "29.49"}]},
		{"title": "Soup", "prices": [{"withoutTax": null}]}
	]}]}
]}`

const oneItemMenu = `{"mealPeriods": [{"name": "Snacks", "groups": [
	{"name": "Treats", "items": [
		{"title": "Churro", "prices": [{"withoutTax": 6.5}]}
	]}
]}]}`

type harness struct {
	clock   *testClock
	remote  *stubRemote
	store   *cache.Store
	fetcher *Fetcher
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	clock := &testClock{
		now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}

	store, err := cache.NewStore(cache.Config{
		Dir: t.TempDir(), Now: clock.Now,
	})
	require.NoError(t, err)

	stub := &stubRemote{
		clock: clock,
		entities: []remote.EntityRef{
			{
				ID: "1", Name: "Cafe Orleans",
				Location:      "New Orleans Square",
				URLFriendlyID: "cafe-orleans",
			},
			{
				ID: "2", Name: "Churro Cart", Location: "Frontierland",
				URLFriendlyID: "churro-cart",
			},
		},
		menus: map[string]string{
			"cafe-orleans": twoByTwoMenu,
			"churro-cart":  oneItemMenu,
		},
	}

	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.Retry = retry.Policy{MaxAttempts: 2}
	if mutate != nil {
		mutate(&cfg)
	}

	return &harness{
		clock:   clock,
		remote:  stub,
		store:   store,
		fetcher: NewFetcher(cfg, stub, store),
	}
}

// TestGetCatalog_FlattensEveryItem verifies the row shape and order.
func TestGetCatalog_FlattensEveryItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	res, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)
	require.Equal(t, FreshnessFresh, res.Freshness)
	require.Empty(t, res.Failures)
	require.Len(t, res.Rows, 5)

	items := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		items = append(items, row.Item)
		require.Equal(t, testDate, row.Date)
	}
	require.Equal(t, []string{
		"Pancakes", "Coffee", "Monte Cristo", "Soup", "Churro",
	}, items)

	first := res.Rows[0]
	require.Equal(t, "12.99", *first.Price)
	require.Equal(t, "$12.99", first.Cost)
	require.Equal(t, "Entrees", first.Category)
	require.Equal(t, "Breakfast", first.MealPeriod)
	require.Equal(t, "Mickey shaped", first.Description)
	require.Equal(t, "1", first.EntityID)
	require.Equal(t, "Cafe Orleans", first.EntityName)
	require.Equal(t, "New Orleans Square", first.Location)

	require.Nil(t, res.Rows[1].Price)
	require.Equal(t, "N/A", res.Rows[1].Cost)
	require.Nil(t, res.Rows[3].Price)
}

// TestGetCatalog_PartialFailure verifies that one entity failing does not
// affect the others.
func TestGetCatalog_PartialFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.remote.setFailure("churro-cart", &remote.Error{
		Kind: remote.KindNetwork, Status: http.StatusServiceUnavailable,
	})

	res, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)
	require.Equal(t, FreshnessPartial, res.Freshness)
	require.Len(t, res.Rows, 4)
	require.Len(t, res.Failures, 1)
	require.Equal(t, "2", res.Failures[0].Entity.ID)
	require.True(t, remote.IsKind(res.Failures[0].Err, remote.KindNetwork))

	// The failing entity was retried up to the budget.
	_, _, detail := h.remote.calls()
	require.Equal(t, 1+2, detail)
}

// TestGetCatalog_FreshCacheMakesNoCalls verifies that a second run within
// the TTL is served entirely from cache.
func TestGetCatalog_FreshCacheMakesNoCalls(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	first, err := h.fetcher.GetCatalog(
		context.Background(), testDate, false,
	)
	require.NoError(t, err)
	require.Equal(t, 1+1+2, first.Stats.NetworkCalls)

	h.clock.Advance(DefaultCacheTTL - time.Minute)

	second, err := h.fetcher.GetCatalog(
		context.Background(), testDate, false,
	)
	require.NoError(t, err)
	require.Zero(t, second.Stats.NetworkCalls)
	require.Zero(t, second.Stats.Authentications)
	require.Equal(t, 3, second.Stats.CacheHits)
	require.Equal(t, first.Rows, second.Rows)

	auth, list, detail := h.remote.calls()
	require.Equal(t, []int{1, 1, 2}, []int{auth, list, detail})
}

// TestGetCatalog_ForceRefresh verifies that a forced refresh ignores fresh
// entries and rewrites them.
func TestGetCatalog_ForceRefresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	_, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)
	before, err := h.store.Entry(ScopeAllEntities, testDate, KindDiscovery)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)

	res, err := h.fetcher.GetCatalog(context.Background(), testDate, true)
	require.NoError(t, err)
	require.Equal(t, 4, res.Stats.NetworkCalls)
	require.Zero(t, res.Stats.CacheHits)

	after, err := h.store.Entry(ScopeAllEntities, testDate, KindDiscovery)
	require.NoError(t, err)
	require.Equal(t, time.Minute, after.CreatedAt.Sub(before.CreatedAt))
}

// TestGetCatalog_CacheDisabled verifies that disabling the cache forces
// fetches but still writes entries.
func TestGetCatalog_CacheDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *Config) {
		cfg.CacheEnabled = false
	})

	for i := 0; i < 2; i++ {
		res, err := h.fetcher.GetCatalog(
			context.Background(), testDate, false,
		)
		require.NoError(t, err)
		require.Equal(t, 4, res.Stats.NetworkCalls)
	}

	n, err := h.store.Count(testDate, KindDetail)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

// TestGetCatalog_AuthenticatesOncePerRun verifies that concurrent detail
// fetches share a single token.
func TestGetCatalog_AuthenticatesOncePerRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *Config) {
		cfg.Concurrency = 8
	})
	for i := 0; i < 20; i++ {
		slug := "stand-" + string(rune('a'+i))
		h.remote.entities = append(h.remote.entities, remote.EntityRef{
			ID: slug, Name: slug, URLFriendlyID: slug,
		})
		h.remote.menus[slug] = oneItemMenu
	}

	res, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)
	require.Equal(t, 1, res.Stats.Authentications)
	require.Len(t, res.Rows, 5+20)

	auth, _, _ := h.remote.calls()
	require.Equal(t, 1, auth)
}

// TestGetCatalog_ReauthenticatesExpiredToken verifies that a token whose
// declared expiry has passed is replaced before the next call.
func TestGetCatalog_ReauthenticatesExpiredToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *Config) {
		cfg.Concurrency = 1
	})

	// Every token expires the instant it is issued.
	h.remote.tokenTTL = -time.Second

	res, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)
	require.Equal(t, 3, res.Stats.Authentications)
}

// TestGetCatalog_AuthErrorIsFatal verifies that an authentication failure
// aborts the run and is reported as such.
func TestGetCatalog_AuthErrorIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.remote.authErr = &remote.Error{
		Kind: remote.KindAuth, Op: "authenticate",
		Status: http.StatusForbidden,
	}

	_, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.Error(t, err)
	require.True(t, remote.IsKind(err, remote.KindAuth))

	// Auth failures are terminal and never retried.
	auth, list, _ := h.remote.calls()
	require.Equal(t, 1, auth)
	require.Zero(t, list)
}

// TestGetCatalog_AuthErrorDuringDetailsIsFatal verifies that an entity
// rejected with an auth failure aborts the run rather than being recorded
// as a partial failure.
func TestGetCatalog_AuthErrorDuringDetailsIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.remote.setFailure("churro-cart", &remote.Error{
		Kind: remote.KindAuth, Status: http.StatusUnauthorized,
	})

	_, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.True(t, remote.IsKind(err, remote.KindAuth))
}

// TestGetCatalog_DiscoveryFailureIsFatal verifies that discovery failures
// end the run even when an expired discovery entry exists.
func TestGetCatalog_DiscoveryFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	_, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)

	h.clock.Advance(DefaultCacheTTL)
	h.remote.discoveryErr = &remote.Error{
		Kind: remote.KindParse, Op: "list_entities",
	}

	_, err = h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.True(t, remote.IsKind(err, remote.KindParse))
}

// TestGetCatalog_ServesStaleOnUpstreamFailure verifies the stale fallback
// for a single entity once its entry has expired.
func TestGetCatalog_ServesStaleOnUpstreamFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	_, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)

	h.clock.Advance(DefaultCacheTTL + time.Minute)
	h.remote.setFailure("churro-cart", &remote.Error{
		Kind: remote.KindNetwork, Status: http.StatusBadGateway,
	})

	res, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)
	require.Equal(t, FreshnessStale, res.Freshness)
	require.Empty(t, res.Failures)
	require.Len(t, res.StaleEntities, 1)
	require.Equal(t, "2", res.StaleEntities[0].ID)
	require.Len(t, res.Rows, 5)
	require.Equal(t, "Churro", res.Rows[4].Item)
}

// TestGetCatalog_EmptyDiscovery verifies that no entities is a valid, empty
// result.
func TestGetCatalog_EmptyDiscovery(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.remote.entities = nil

	res, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)
	require.Equal(t, FreshnessEmpty, res.Freshness)
	require.Empty(t, res.Rows)
	require.Empty(t, res.Failures)

	_, _, detail := h.remote.calls()
	require.Zero(t, detail)
}

// TestGetCatalog_EntityWithoutSlug verifies that entities without a menu
// slug contribute nothing and are not failures.
func TestGetCatalog_EntityWithoutSlug(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.remote.entities = append(h.remote.entities, remote.EntityRef{
		ID: "3", Name: "Kiosk",
	})

	res, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)
	require.Equal(t, FreshnessFresh, res.Freshness)
	require.Equal(t, 3, res.Stats.Entities)
	require.Len(t, res.Rows, 5)
}

// TestGetCatalog_CarriesEntityMetadata verifies that discovery metadata
// reaches the result, including when discovery is replayed from the cache.
func TestGetCatalog_CarriesEntityMetadata(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.remote.entities[0].Info = remote.EntityInfo{
		FacilityID: "354099",
		Cuisines:   []string{"American", "Cajun/Creole"},
	}
	h.remote.entities = append(h.remote.entities, remote.EntityRef{
		ID: "3", Name: "Fruit Cart", Location: "Main Street",
	})

	check := func(res *Result) {
		t.Helper()

		require.Len(t, res.Entities, 3)
		require.Equal(t, []string{"1", "2", "3"}, []string{
			res.Entities[0].ID, res.Entities[1].ID, res.Entities[2].ID,
		})
		require.Equal(t, "354099", res.Entities[0].Info.FacilityID)
		require.Equal(t, []string{"American", "Cajun/Creole"},
			res.Entities[0].Info.Cuisines)
		require.Empty(t, res.Entities[1].Info.Cuisines)
	}

	res, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)
	check(res)

	res, err = h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)
	_, list, _ := h.remote.calls()
	require.Equal(t, 1, list)
	check(res)
}

// TestGetCatalog_RejectsOutOfRangeDate verifies date validation.
func TestGetCatalog_RejectsOutOfRangeDate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	for _, date := range []string{"2026-10-17", "2026-10-26", "tomorrow"} {
		_, err := h.fetcher.GetCatalog(context.Background(), date, false)

		var cerr *config.Error
		require.ErrorAs(t, err, &cerr, date)
	}

	auth, _, _ := h.remote.calls()
	require.Zero(t, auth)
}

// TestGetCatalog_Cancelled verifies that a cancelled context ends the run.
func TestGetCatalog_Cancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.fetcher.GetCatalog(ctx, testDate, false)
	require.ErrorIs(t, err, context.Canceled)
}

// TestCacheStatus distinguishes never fetched, fresh and expired dates.
func TestCacheStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	status, err := h.fetcher.CacheStatus(testDate)
	require.NoError(t, err)
	require.False(t, status.Present)
	require.False(t, status.Fresh)
	require.Zero(t, status.DetailEntries)

	_, err = h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	status, err = h.fetcher.CacheStatus(testDate)
	require.NoError(t, err)
	require.True(t, status.Present)
	require.True(t, status.Fresh)
	require.Equal(t, int64(3600), status.AgeSeconds)
	require.Equal(t, 2, status.DetailEntries)

	h.clock.Advance(DefaultCacheTTL)
	status, err = h.fetcher.CacheStatus(testDate)
	require.NoError(t, err)
	require.True(t, status.Present)
	require.False(t, status.Fresh)

	_, err = h.fetcher.CacheStatus("18/10/2026")
	require.Error(t, err)
}

// TestCachedDates verifies that every fetched date is listed in order.
func TestCachedDates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	dates, err := h.fetcher.CachedDates()
	require.NoError(t, err)
	require.Empty(t, dates)

	for _, date := range []string{"2026-10-20", testDate} {
		_, err := h.fetcher.GetCatalog(context.Background(), date, false)
		require.NoError(t, err)
	}

	dates, err = h.fetcher.CachedDates()
	require.NoError(t, err)
	require.Equal(t, []string{testDate, "2026-10-20"}, dates)

	// A date that has left the fetch window can still be inspected.
	h.clock.Advance(3 * 24 * time.Hour)
	status, err := h.fetcher.CacheStatus(testDate)
	require.NoError(t, err)
	require.True(t, status.Present)
	require.False(t, status.Fresh)
}

// TestGetCatalog_SharedSlugFetchedOnce verifies that entities sharing a
// menu slug cost one upstream call and each get the menu's rows.
func TestGetCatalog_SharedSlugFetchedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.remote.entities = append(h.remote.entities, remote.EntityRef{
		ID: "3", Name: "Cafe Orleans Patio", Location: "New Orleans Square",
		URLFriendlyID: "cafe-orleans",
	})

	res, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)
	require.Equal(t, FreshnessFresh, res.Freshness)
	require.Empty(t, res.Failures)
	require.Len(t, res.Rows, 4+1+4)

	_, _, detail := h.remote.calls()
	require.Equal(t, 2, detail)

	patio := res.Rows[5:]
	for _, row := range patio {
		require.Equal(t, "3", row.EntityID)
		require.Equal(t, "Cafe Orleans Patio", row.EntityName)
	}
	require.Equal(t, "Pancakes", patio[0].Item)

	// A failing shared slug falls back to the cached menu for every entity
	// carrying it.
	h.remote.setFailure("cafe-orleans", &remote.Error{
		Kind: remote.KindNotFound, Status: http.StatusNotFound,
	})
	res, err = h.fetcher.GetCatalog(context.Background(), testDate, true)
	require.NoError(t, err)
	require.Equal(t, FreshnessStale, res.Freshness)
	require.Len(t, res.StaleEntities, 2)
	require.Equal(t, "1", res.StaleEntities[0].ID)
	require.Equal(t, "3", res.StaleEntities[1].ID)

	_, _, detail = h.remote.calls()
	require.Equal(t, 2+2, detail)
}

// TestRunCleanup verifies that cleanup goes through to the store.
func TestRunCleanup(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	_, err := h.fetcher.GetCatalog(context.Background(), testDate, false)
	require.NoError(t, err)

	removed, err := h.fetcher.RunCleanup(DefaultCacheRetention)
	require.NoError(t, err)
	require.Zero(t, removed)

	h.clock.Advance(DefaultCacheRetention)
	removed, err = h.fetcher.RunCleanup(DefaultCacheRetention)
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	_, err = h.fetcher.RunCleanup(-time.Second)
	require.Error(t, err)
}
