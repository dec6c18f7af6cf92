// Package catalog assembles the dining catalog for a date. It reads through
// the disk cache, falls back to the upstream when entries are missing or
// expired, and serves expired entries when the upstream is unavailable.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ResistanceIsUseless/disneyland-menu/internal/cache"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/config"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/remote"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/retry"
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnd/fn/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Fetcher produces catalog results. It holds no per-run state, so a single
// Fetcher may serve concurrent GetCatalog calls.
type Fetcher struct {
	cfg    Config
	remote Remote
	cache  Cache
	log    btclog.Logger
	tracer trace.Tracer
}

// NewFetcher creates a fetcher over the given upstream and cache.
func NewFetcher(cfg Config, client Remote, store Cache) *Fetcher {
	defaults := DefaultConfig()
	if cfg.Concurrency < 1 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.Now == nil {
		cfg.Now = defaults.Now
	}
	if cfg.Log == nil {
		cfg.Log = defaults.Log
	}
	if cfg.Retry.Log == nil {
		cfg.Retry.Log = cfg.Log
	}

	return &Fetcher{
		cfg:    cfg,
		remote: client,
		cache:  store,
		log:    cfg.Log,
		tracer: otel.Tracer(
			"github.com/ResistanceIsUseless/disneyland-menu/" +
				"internal/catalog",
		),
	}
}

// run is the state of a single GetCatalog call. The auth token lives here
// and nowhere else, so it is never shared between runs or persisted.
type run struct {
	f       *Fetcher
	date    string
	refresh bool

	authMu sync.Mutex
	token  fn.Option[remote.AuthToken]

	networkCalls atomic.Int64
	cacheHits    atomic.Int64
	auths        atomic.Int64
}

// outcome is what a detail worker produced for one entity.
type outcome struct {
	rec   fn.Result[remote.DetailRecord]
	stale bool
	skip  bool
}

// GetCatalog returns the flattened catalog for date. With forceRefresh set,
// every cache entry is treated as expired; fetched payloads are written
// back either way.
//
// A discovery failure, an authentication failure or cancellation of ctx
// fails the whole run. Any other failure is confined to its entity and
// reported in Result.Failures.
func (f *Fetcher) GetCatalog(
	ctx context.Context, date string, forceRefresh bool,
) (*Result, error) {

	err := config.ValidateDate(date, f.cfg.Now(), f.cfg.MaxDaysAhead)
	if err != nil {
		return nil, err
	}

	ctx, span := f.tracer.Start(ctx, "catalog.GetCatalog",
		trace.WithAttributes(
			attribute.String("catalog.date", date),
			attribute.Bool("catalog.refresh", forceRefresh),
		),
	)
	defer span.End()

	r := &run{
		f:       f,
		date:    date,
		refresh: forceRefresh,
		token:   fn.None[remote.AuthToken](),
	}

	result, err := r.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	span.SetAttributes(
		attribute.Int("catalog.rows", len(result.Rows)),
		attribute.Int("catalog.failures", len(result.Failures)),
		attribute.String("catalog.freshness", string(result.Freshness)),
	)

	f.log.InfoS(ctx, "Catalog assembled",
		"date", date,
		"entities", result.Stats.Entities,
		"rows", len(result.Rows),
		"failures", len(result.Failures),
		"stale", len(result.StaleEntities),
		"network_calls", result.Stats.NetworkCalls,
		"cache_hits", result.Stats.CacheHits,
		"freshness", result.Freshness,
	)

	return result, nil
}

// execute runs discovery followed by the bounded detail fan-out.
func (r *run) execute(ctx context.Context) (*Result, error) {
	list, err := r.discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover entities for %s: %w", r.date, err)
	}

	// Entities sharing a menu slug (a result and its marker, say) share
	// one cache key, so each slug is fetched once and its outcome is
	// handed to every entity that carries it.
	var (
		slots  = make([]int, len(list.Entities))
		bySlug = make(map[string]int)
		refs   []remote.EntityRef
	)
	for i, ref := range list.Entities {
		if !ref.HasDetail() {
			slots[i] = -1
			continue
		}

		slot, ok := bySlug[ref.URLFriendlyID]
		if !ok {
			slot = len(refs)
			bySlug[ref.URLFriendlyID] = slot
			refs = append(refs, ref)
		}
		slots[i] = slot
	}

	fetched := make([]outcome, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.f.cfg.Concurrency)

	for slot, ref := range refs {
		// Stop scheduling once a fatal error has cancelled the group.
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			out, err := r.entity(gctx, ref)
			if err != nil {
				return err
			}
			fetched[slot] = out

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcomes := make([]outcome, len(list.Entities))
	for i, slot := range slots {
		if slot < 0 {
			outcomes[i] = outcome{skip: true}
			continue
		}
		outcomes[i] = fetched[slot]
	}

	return r.assemble(list.Entities, outcomes), nil
}

// discover returns the entity list, from a fresh cache entry when possible.
// Discovery never falls back to an expired entry.
func (r *run) discover(ctx context.Context) (remote.EntityList, error) {
	if blob, ok := r.fresh(ctx, ScopeAllEntities, KindDiscovery); ok {
		list, err := remote.ParseEntities(blob)
		if err == nil {
			r.cacheHits.Add(1)
			return list, nil
		}

		r.f.log.WarnS(ctx, "Cached discovery unparseable, refetching",
			err, "date", r.date)
	}

	list, err := withToken(ctx, r, "list_entities",
		func(ctx context.Context, tok remote.AuthToken) (
			remote.EntityList, error) {

			return r.f.remote.ListEntities(ctx, tok, r.date)
		},
	)
	if err != nil {
		return remote.EntityList{}, err
	}

	r.store(ctx, ScopeAllEntities, KindDiscovery, list.Raw)

	return list, nil
}

// entity obtains the menu of one entity. Failures confined to the entity
// are folded into the outcome; only run-fatal failures are returned.
func (r *run) entity(
	ctx context.Context, ref remote.EntityRef,
) (outcome, error) {

	ctx, span := r.f.tracer.Start(ctx, "catalog.entity",
		trace.WithAttributes(
			attribute.String("entity.id", ref.ID),
			attribute.String("entity.slug", ref.URLFriendlyID),
		),
	)
	defer span.End()

	scope := ref.URLFriendlyID

	if blob, ok := r.fresh(ctx, scope, KindDetail); ok {
		rec, err := remote.ParseDetail(blob)
		if err == nil {
			r.cacheHits.Add(1)
			return outcome{rec: fn.Ok(rec)}, nil
		}

		r.f.log.WarnS(ctx, "Cached menu unparseable, refetching", err,
			"entity", ref.ID)
	}

	rec, err := withToken(ctx, r, "fetch_detail",
		func(ctx context.Context, tok remote.AuthToken) (
			remote.DetailRecord, error) {

			return r.f.remote.FetchDetail(ctx, tok, ref, r.date)
		},
	)
	if err == nil {
		r.store(ctx, scope, KindDetail, rec.Raw)
		return outcome{rec: fn.Ok(rec)}, nil
	}

	span.RecordError(err)

	if fatal(ctx, err) {
		span.SetStatus(codes.Error, err.Error())
		return outcome{}, err
	}

	// The upstream failed for this entity alone. Serve whatever we last
	// cached for it, however old.
	if stale, ok := r.staleDetail(ctx, scope); ok {
		r.f.log.WarnS(ctx, "Serving expired menu after upstream failure",
			err, "entity", ref.ID, "name", ref.Name)

		return outcome{rec: fn.Ok(stale), stale: true}, nil
	}

	r.f.log.WarnS(ctx, "Entity menu unavailable", err,
		"entity", ref.ID, "name", ref.Name)

	return outcome{rec: fn.Err[remote.DetailRecord](err)}, nil
}

// fatal reports whether err must abort the whole run: authentication
// failures and cancellation of the run's context.
func fatal(ctx context.Context, err error) bool {
	if errors.Is(err, errAuth) || remote.IsKind(err, remote.KindAuth) {
		return true
	}

	return ctx.Err() != nil && (errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded))
}

// fresh returns the cached payload for a key if it may be used without
// contacting the upstream.
func (r *run) fresh(ctx context.Context, scope, kind string) ([]byte, bool) {
	if r.refresh || !r.f.cfg.CacheEnabled {
		return nil, false
	}

	e, err := r.f.cache.Load(scope, r.date, kind)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return nil, false

	case err != nil:
		r.f.log.WarnS(ctx, "Cache read failed, treating as miss", err,
			"scope", scope, "kind", kind)
		return nil, false
	}

	if !e.IsFresh(r.f.cfg.Now(), r.f.cfg.CacheTTL) {
		return nil, false
	}

	return e.Blob, true
}

// staleDetail returns the cached menu for scope regardless of its age.
func (r *run) staleDetail(
	ctx context.Context, scope string,
) (remote.DetailRecord, bool) {

	e, err := r.f.cache.Load(scope, r.date, KindDetail)
	if err != nil {
		return remote.DetailRecord{}, false
	}

	rec, err := remote.ParseDetail(e.Blob)
	if err != nil {
		r.f.log.WarnS(ctx, "Expired menu unparseable", err,
			"scope", scope)
		return remote.DetailRecord{}, false
	}

	return rec, true
}

// store writes a payload back to the cache. Write failures only cost us
// the entry; the run carries on with the fetched data.
func (r *run) store(ctx context.Context, scope, kind string, blob []byte) {
	if err := r.f.cache.Write(scope, r.date, kind, blob); err != nil {
		r.f.log.WarnS(ctx, "Cache write failed", err,
			"scope", scope, "kind", kind)
	}
}

// authToken returns the run's token, authenticating on first use and again
// only if the upstream-declared expiry has passed. Concurrent callers wait
// for a single authentication.
func (r *run) authToken(ctx context.Context) (remote.AuthToken, error) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	now := r.f.cfg.Now()
	if tok, err := r.token.UnwrapOrErr(errNoToken); err == nil &&
		!tok.Expired(now) {

		return tok, nil
	}

	tok, err := retry.Do(ctx, r.f.cfg.Retry, "authenticate",
		func(ctx context.Context) (remote.AuthToken, error) {
			r.networkCalls.Add(1)
			return r.f.remote.Authenticate(ctx)
		},
	)
	if err != nil {
		return remote.AuthToken{}, fmt.Errorf("%w: %w", errAuth, err)
	}

	r.auths.Add(1)
	r.token = fn.Some(tok)

	r.f.log.DebugS(ctx, "Authenticated with upstream",
		"expires", tok.ExpiresAt.IsSome())

	return tok, nil
}

var (
	// errNoToken marks a run that has not authenticated yet.
	errNoToken = errors.New("no token")

	// errAuth wraps every failure to obtain a token. Without a token no
	// entity can be fetched, so it always ends the run.
	errAuth = errors.New("authenticate")
)

// withToken runs a token-bearing upstream call through the retry policy,
// authenticating lazily first.
func withToken[T any](
	ctx context.Context, r *run, name string,
	call func(context.Context, remote.AuthToken) (T, error),
) (T, error) {

	var zero T

	tok, err := r.authToken(ctx)
	if err != nil {
		return zero, err
	}

	return retry.Do(ctx, r.f.cfg.Retry, name,
		func(ctx context.Context) (T, error) {
			r.networkCalls.Add(1)
			return call(ctx, tok)
		},
	)
}

// assemble flattens the outcomes in discovery order and classifies the run.
func (r *run) assemble(
	entities []remote.EntityRef, outcomes []outcome,
) *Result {

	res := &Result{
		Date:     r.date,
		Rows:     []FlatRow{},
		Entities: entities,
		Stats: Stats{
			Entities:        len(entities),
			NetworkCalls:    int(r.networkCalls.Load()),
			CacheHits:       int(r.cacheHits.Load()),
			Authentications: int(r.auths.Load()),
		},
	}

	withMenu := 0
	for i, ref := range entities {
		out := outcomes[i]
		if out.skip {
			continue
		}
		withMenu++

		rec, err := out.rec.Unpack()
		if err != nil {
			res.Failures = append(res.Failures, EntityFailure{
				Entity: ref, Err: err,
			})
			continue
		}

		if out.stale {
			res.StaleEntities = append(res.StaleEntities, ref)
		}
		res.Rows = append(res.Rows, Flatten(ref, r.date, rec)...)
	}

	switch {
	case withMenu == 0:
		res.Freshness = FreshnessEmpty
	case len(res.Failures) > 0:
		res.Freshness = FreshnessPartial
	case len(res.StaleEntities) > 0:
		res.Freshness = FreshnessStale
	default:
		res.Freshness = FreshnessFresh
	}

	return res
}

// CacheStatus reports the cached state of a date.
func (f *Fetcher) CacheStatus(date string) (Status, error) {
	if err := config.ValidateDateFormat(date); err != nil {
		return Status{}, err
	}

	status := Status{Date: date}

	e, err := f.cache.Entry(ScopeAllEntities, date, KindDiscovery)
	switch {
	case errors.Is(err, cache.ErrNotFound):

	case err != nil:
		f.log.Warnf("Cache status for %s unreadable: %v", date, err)

	default:
		now := f.cfg.Now()

		status.Present = true
		status.CreatedAt = e.CreatedAt
		status.AgeSeconds = int64(e.Age(now) / time.Second)
		status.Fresh = f.cfg.CacheEnabled &&
			e.IsFresh(now, f.cfg.CacheTTL)
	}

	n, err := f.cache.Count(date, KindDetail)
	if err != nil {
		return Status{}, fmt.Errorf("count cached menus: %w", err)
	}
	status.DetailEntries = n

	return status, nil
}

// CachedDates lists the dates that have anything cached, oldest first.
func (f *Fetcher) CachedDates() ([]string, error) {
	dates, err := f.cache.Dates()
	if err != nil {
		return nil, fmt.Errorf("list cached dates: %w", err)
	}

	return dates, nil
}

// RunCleanup deletes cache entries at least retention old and returns how
// many were removed.
func (f *Fetcher) RunCleanup(retention time.Duration) (int, error) {
	if retention < 0 {
		return 0, &config.Error{Problems: []string{
			fmt.Sprintf("retention must not be negative, got %v",
				retention),
		}}
	}

	return f.cache.Cleanup(retention)
}
