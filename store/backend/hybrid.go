package backend

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hrygo/dualstore/internal/profile"
	"github.com/hrygo/dualstore/store"
	"github.com/hrygo/dualstore/store/cache"
)

const (
	generationStripes = 256

	// invalidateTimeout bounds the cache delete that follows a successful write. The delete
	// runs even when the caller's context ended during the store call.
	invalidateTimeout = 2 * time.Second
)

// HybridBackend serves reads from a short-lived cache in front of the durable store.
//
// Read path:
//
//	HIT        fresh cache entry, no store call
//	MISS-FILL  store call, then write-through with a fresh TTL
//	FALLBACK   store unreachable, an expired entry is served as a degraded read
//
// Writes go to the store first and invalidate the cache entry before returning.
type HybridBackend struct {
	client  storeClient
	cache   cache.Store
	ttl     time.Duration
	now     func() time.Time
	metrics *Metrics

	group singleflight.Group

	// generations are bumped by every write. A fill only keeps its cache entry when the
	// generation of its key did not move while it ran. Keys share stripes, so a collision
	// at worst skips a write-through.
	generations [generationStripes]atomic.Uint64
	// locks serialize a fill's check-and-set with a writer's bump-and-delete on the same
	// stripe, so a write never returns while an older value is still being stored.
	locks [generationStripes]sync.Mutex

	// fillTimeout bounds the shared store call of a fill, which outlives the caller that
	// started it.
	fillTimeout time.Duration

	// dirty holds keys whose invalidation failed, with the generation at which it did.
	// Their cache entries are ignored until a delete or a newer fill succeeds.
	mu    sync.Mutex
	dirty map[string]uint64
}

// HybridConfig configures a HybridBackend.
type HybridConfig struct {
	// TTL is how long a filled entry is served as a hit. Defaults to 10 minutes.
	TTL time.Duration
	// Now must be the same clock the cache store uses. Defaults to time.Now.
	Now func() time.Time
	// FillTimeout bounds a store read shared by concurrent misses. Defaults to the
	// default request timeout.
	FillTimeout time.Duration
	Metrics     *Metrics
}

// NewHybridBackend creates a hybrid-cached backend over s and c.
func NewHybridBackend(s *store.Store, c cache.Store, config HybridConfig) *HybridBackend {
	if config.TTL <= 0 {
		config.TTL = profile.DefaultCacheTTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.FillTimeout <= 0 {
		config.FillTimeout = profile.DefaultRequestTimeout
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics("")
	}

	return &HybridBackend{
		client:      storeClient{store: s, metrics: config.Metrics},
		cache:       c,
		ttl:         config.TTL,
		now:         config.Now,
		metrics:     config.Metrics,
		fillTimeout: config.FillTimeout,
		dirty:       make(map[string]uint64),
	}
}

func (b *HybridBackend) Mode() profile.BackendMode {
	return profile.ModeHybridCached
}

func (b *HybridBackend) Get(ctx context.Context, kind store.Kind, id string) (*Fetched, error) {
	if err := validateKey(kind, id); err != nil {
		return nil, err
	}
	key := cache.RecordKey(string(kind), id)

	cached := b.lookup(ctx, key)
	if cached != nil && cached.fresh {
		return &Fetched{Record: cached.record, Source: SourceCache}, nil
	}

	record, err := b.fill(ctx, kind, id, key)
	if err == nil {
		return &Fetched{Record: record, Source: SourceStore}, nil
	}
	if !isStoreUnavailable(err) {
		return nil, notFound(kind, id)
	}

	unavailable := b.client.unavailable(ctx, "get", err)
	if cached == nil {
		return nil, unavailable
	}

	b.metrics.recordDegraded(string(kind))
	slog.Warn("serving degraded read from expired cache entry",
		slog.String("kind", string(kind)),
		slog.String("id", id),
		slog.Duration("age", cached.age),
		slog.String("error", unavailable.Error()),
	)
	return &Fetched{Record: cached.record, Source: SourceStale}, nil
}

// Find is not cached: match filters make the result set depend on every record of the
// kind, which single-key invalidation cannot track.
func (b *HybridBackend) Find(ctx context.Context, find *store.FindRecord) ([]*store.Record, error) {
	if err := find.Validate(); err != nil {
		return nil, invalidArgument(err)
	}
	return b.client.find(ctx, find)
}

func (b *HybridBackend) Upsert(ctx context.Context, upsert *store.UpsertRecord) (*store.Record, error) {
	if err := upsert.Validate(); err != nil {
		return nil, invalidArgument(err)
	}

	record, err := b.client.upsert(ctx, upsert)
	if err != nil {
		return nil, err
	}
	b.invalidate(ctx, cache.RecordKey(string(upsert.Kind), upsert.ID))
	return record, nil
}

func (b *HybridBackend) Delete(ctx context.Context, delete *store.DeleteRecord) error {
	if err := delete.Validate(); err != nil {
		return invalidArgument(err)
	}

	err := b.client.delete(ctx, delete)
	if isStoreUnavailable(err) {
		return b.client.unavailable(ctx, "delete", err)
	}
	// The store answered either way, so any cached copy is wrong.
	b.invalidate(ctx, cache.RecordKey(string(delete.Kind), delete.ID))
	if err != nil {
		return notFound(delete.Kind, delete.ID)
	}
	return nil
}

func (b *HybridBackend) Ping(ctx context.Context) Health {
	health := Health{Mode: profile.ModeHybridCached, Store: StateReachable, Cache: StateReachable}
	if err := b.client.ping(ctx); err != nil {
		health.Store = StateUnreachable
		health.StoreError = err.Error()
	}
	if err := b.cache.Ping(ctx); err != nil {
		health.Cache = StateUnreachable
		health.CacheError = err.Error()
	}
	return health
}

func (b *HybridBackend) Close() error {
	return stderrors.Join(b.cache.Close(), b.client.close())
}

// cachedRecord is a decoded cache entry.
type cachedRecord struct {
	record *store.Record
	fresh  bool
	age    time.Duration
}

// lookup returns the cached record for key, or nil. Cache failures and undecodable
// entries are misses.
func (b *HybridBackend) lookup(ctx context.Context, key string) *cachedRecord {
	entry, ok, err := b.cache.Get(ctx, key)
	if err != nil {
		b.metrics.recordLookup(lookupError)
		b.metrics.recordCacheError("get")
		slog.Warn("cache lookup failed, treating as miss", slog.String("key", key), slog.String("error", err.Error()))
		return nil
	}
	if !ok || b.isDirty(key) {
		b.metrics.recordLookup(lookupMiss)
		return nil
	}

	var record store.Record
	if err := json.Unmarshal(entry.Value, &record); err != nil {
		b.metrics.recordLookup(lookupMiss)
		slog.Warn("ignoring undecodable cache entry", slog.String("key", key), slog.String("error", err.Error()))
		return nil
	}

	now := b.now()
	cached := &cachedRecord{record: &record, fresh: entry.Fresh(now), age: entry.Age(now)}
	if cached.fresh {
		b.metrics.recordLookup(lookupHit)
	} else {
		b.metrics.recordLookup(lookupExpired)
	}
	return cached
}

// fill reads the record from the store and writes it through to the cache. Concurrent
// fills of the same key and generation share one store call. That call is detached from
// the caller that started it and bounded by fillTimeout, so one caller's deadline never
// fails the others; each caller still returns as soon as its own context ends.
func (b *HybridBackend) fill(ctx context.Context, kind store.Kind, id, key string) (*store.Record, error) {
	gen := b.generation(key)
	flight := key + "@" + strconv.FormatUint(gen, 10)

	ch := b.group.DoChan(flight, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.fillTimeout)
		defer cancel()

		record, err := b.client.get(ctx, kind, id)
		if err != nil {
			if !isStoreUnavailable(err) {
				b.drop(ctx, key)
			}
			return nil, err
		}
		b.writeThrough(ctx, key, gen, record)
		return record, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		record := *res.Val.(*store.Record)
		return &record, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *HybridBackend) writeThrough(ctx context.Context, key string, gen uint64, record *store.Record) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Warn("failed to encode record for cache", slog.String("key", key), slog.String("error", err.Error()))
		return
	}

	// Writers bump the generation under the same lock, so it cannot move until Set returns.
	lock := b.lock(key)
	lock.Lock()
	defer lock.Unlock()

	if b.generation(key) != gen {
		return
	}
	if err := b.cache.Set(ctx, key, data, b.ttl); err != nil {
		b.metrics.recordCacheError("set")
		slog.Warn("cache write-through failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	b.clearDirty(key, gen)
}

// invalidate removes key from the cache after a successful write. It waits for any
// write-through of the key that is already storing an older value.
func (b *HybridBackend) invalidate(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()

	lock := b.lock(key)
	lock.Lock()
	defer lock.Unlock()

	b.bump(key)
	b.drop(ctx, key)
}

// drop deletes key from the cache. A failed delete marks the key dirty so that reads stop
// trusting whatever the cache still holds for it.
func (b *HybridBackend) drop(ctx context.Context, key string) {
	if err := b.cache.Delete(ctx, key); err != nil {
		b.metrics.recordCacheError("delete")
		b.markDirty(key)
		slog.Warn("cache invalidation failed, ignoring cached entry until the next successful delete",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}

	b.mu.Lock()
	delete(b.dirty, key)
	b.mu.Unlock()
}

func stripeIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % generationStripes
}

func (b *HybridBackend) stripe(key string) *atomic.Uint64 {
	return &b.generations[stripeIndex(key)]
}

func (b *HybridBackend) lock(key string) *sync.Mutex {
	return &b.locks[stripeIndex(key)]
}

func (b *HybridBackend) generation(key string) uint64 {
	return b.stripe(key).Load()
}

func (b *HybridBackend) bump(key string) uint64 {
	return b.stripe(key).Add(1)
}

func (b *HybridBackend) isDirty(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.dirty[key]
	return ok
}

func (b *HybridBackend) markDirty(key string) {
	gen := b.generation(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirty[key] = gen
}

// clearDirty forgets a dirty mark once a fill that started at or after the failed
// invalidation has stored a fresh entry.
func (b *HybridBackend) clearDirty(key string, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if marked, ok := b.dirty[key]; ok && marked <= gen {
		delete(b.dirty, key)
	}
}

var _ Backend = (*HybridBackend)(nil)
