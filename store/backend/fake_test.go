package backend

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dualstore/internal/profile"
	"github.com/hrygo/dualstore/store"
	"github.com/hrygo/dualstore/store/cache"
)

var errConnRefused = errors.New("dial tcp 10.0.0.1:5432: connect: connection refused")

// fakeDriver is an in-memory store.Driver that can be taken down and slowed down.
type fakeDriver struct {
	mu      sync.Mutex
	records map[string]*store.Record
	clock   func() time.Time

	down      atomic.Bool
	listCalls atomic.Int32

	// gate, when set, blocks the next ListRecords after it has read its result.
	gateMu  sync.Mutex
	gate    chan struct{}
	entered chan struct{}

	latency time.Duration
}

func newFakeDriver(clock func() time.Time) *fakeDriver {
	return &fakeDriver{records: make(map[string]*store.Record), clock: clock}
}

func (d *fakeDriver) GetDB() *sql.DB { return nil }

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) Ping(ctx context.Context) error {
	if d.down.Load() {
		return errConnRefused
	}
	return ctx.Err()
}

func (d *fakeDriver) IsInitialized(context.Context) (bool, error) { return true, nil }

func (d *fakeDriver) UpsertRecord(ctx context.Context, upsert *store.UpsertRecord) (*store.Record, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock().Unix()
	key := string(upsert.Kind) + "/" + upsert.ID
	record, ok := d.records[key]
	if !ok {
		record = &store.Record{Kind: upsert.Kind, ID: upsert.ID, CreatedTs: now}
	}
	updated := *record
	updated.Payload = append([]byte(nil), upsert.Payload...)
	updated.UpdatedTs = now
	d.records[key] = &updated
	result := updated
	return &result, nil
}

func (d *fakeDriver) ListRecords(ctx context.Context, find *store.FindRecord) ([]*store.Record, error) {
	d.listCalls.Add(1)
	if err := d.wait(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	list := []*store.Record{}
	for _, record := range d.records {
		if record.Kind != find.Kind || (find.ID != nil && record.ID != *find.ID) {
			continue
		}
		copied := *record
		list = append(list, &copied)
	}
	d.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	d.gateMu.Lock()
	gate, entered := d.gate, d.entered
	d.gate, d.entered = nil, nil
	d.gateMu.Unlock()
	if gate != nil {
		close(entered)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return list, nil
}

func (d *fakeDriver) DeleteRecord(ctx context.Context, del *store.DeleteRecord) error {
	if err := d.wait(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	key := string(del.Kind) + "/" + del.ID
	if _, ok := d.records[key]; !ok {
		return store.ErrNotFound
	}
	delete(d.records, key)
	return nil
}

// holdNextList makes the next ListRecords block until the returned release is called.
// entered is closed once that call has read its result.
func (d *fakeDriver) holdNextList() (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	ch := make(chan struct{})
	d.gateMu.Lock()
	d.gate, d.entered = gate, ch
	d.gateMu.Unlock()
	var once sync.Once
	return ch, func() { once.Do(func() { close(gate) }) }
}

func (d *fakeDriver) wait(ctx context.Context) error {
	if d.latency > 0 {
		select {
		case <-time.After(d.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d.down.Load() {
		return errors.Wrap(errConnRefused, "failed to query records")
	}
	return ctx.Err()
}

var _ store.Driver = (*fakeDriver)(nil)

// flakyCache wraps a cache store and fails or holds selected operations on demand.
type flakyCache struct {
	cache.Store
	failGet    atomic.Bool
	failDelete atomic.Bool

	setMu      sync.Mutex
	setGate    chan struct{}
	setEntered chan struct{}
}

func (c *flakyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.setMu.Lock()
	gate, entered := c.setGate, c.setEntered
	c.setGate, c.setEntered = nil, nil
	c.setMu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	return c.Store.Set(ctx, key, value, ttl)
}

// holdNextSet makes the next Set block before storing anything until release is called.
// entered is closed once that call has started.
func (c *flakyCache) holdNextSet() (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	ch := make(chan struct{})
	c.setMu.Lock()
	c.setGate, c.setEntered = gate, ch
	c.setMu.Unlock()
	var once sync.Once
	return ch, func() { once.Do(func() { close(gate) }) }
}

func (c *flakyCache) Get(ctx context.Context, key string) (*cache.Entry, bool, error) {
	if c.failGet.Load() {
		return nil, false, errors.New("cache: connection reset")
	}
	return c.Store.Get(ctx, key)
}

func (c *flakyCache) Delete(ctx context.Context, key string) error {
	if c.failDelete.Load() {
		return errors.New("cache: connection reset")
	}
	return c.Store.Delete(ctx, key)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// hybridFixture is a hybrid backend over a fake driver and an in-process cache sharing a
// fake clock.
type hybridFixture struct {
	backend *HybridBackend
	driver  *fakeDriver
	cache   *flakyCache
	clock   *fakeClock
	metrics *Metrics
}

func newHybridFixture(t *testing.T) *hybridFixture {
	t.Helper()
	clock := newFakeClock()
	driver := newFakeDriver(clock.Now)
	c := &flakyCache{Store: cache.NewMemoryCache(100, cache.Config{
		DefaultTTL:     profile.DefaultCacheTTL,
		StaleRetention: profile.DefaultStaleRetention,
		Now:            clock.Now,
	}, 0)}
	metrics := NewMetrics("test")

	p := &profile.Profile{Driver: "sqlite", DSN: "file:unused.db", CacheDriver: profile.CacheDriverMemory}
	b, err := New(context.Background(), p, WithDriver(driver), WithCache(c), WithClock(clock.Now), WithMetrics(metrics))
	require.NoError(t, err)
	hybrid, ok := b.(*HybridBackend)
	require.True(t, ok)
	t.Cleanup(func() { hybrid.Close() })

	return &hybridFixture{backend: hybrid, driver: driver, cache: c, clock: clock, metrics: metrics}
}

func newDirectFixture(t *testing.T) (*DirectBackend, *fakeDriver) {
	t.Helper()
	clock := newFakeClock()
	driver := newFakeDriver(clock.Now)

	p := &profile.Profile{Driver: "sqlite", DSN: "file:unused.db", UseDirectOnly: true}
	b, err := New(context.Background(), p, WithDriver(driver))
	require.NoError(t, err)
	direct, ok := b.(*DirectBackend)
	require.True(t, ok)
	t.Cleanup(func() { direct.Close() })

	return direct, driver
}
