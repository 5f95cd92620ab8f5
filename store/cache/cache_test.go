package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock shared by the store tests.
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

// storeHarness abstracts the differences between store implementations for the shared
// contract test. advance moves every clock the store depends on.
type storeHarness struct {
	store   Store
	now     func() time.Time
	advance func(d time.Duration)
}

func testStoreContract(t *testing.T, newHarness func(t *testing.T, ttl, stale time.Duration) storeHarness) {
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		h := newHarness(t, 10*time.Minute, time.Hour)
		require.NoError(t, h.store.Set(ctx, "k1", []byte("v1"), 0))

		entry, ok, err := h.store.Get(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v1"), entry.Value)
		assert.Equal(t, 10*time.Minute, entry.ExpiresAt.Sub(entry.StoredAt))
	})

	t.Run("GetNonExistent", func(t *testing.T) {
		h := newHarness(t, 10*time.Minute, time.Hour)
		entry, ok, err := h.store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, entry)
	})

	t.Run("Overwrite", func(t *testing.T) {
		h := newHarness(t, 10*time.Minute, time.Hour)
		require.NoError(t, h.store.Set(ctx, "k", []byte("old"), 0))
		require.NoError(t, h.store.Set(ctx, "k", []byte("new"), 0))

		entry, ok, err := h.store.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("new"), entry.Value)
	})

	t.Run("ExpiredEntryIsReturnedStale", func(t *testing.T) {
		h := newHarness(t, 10*time.Minute, time.Hour)
		require.NoError(t, h.store.Set(ctx, "k", []byte("v"), 0))

		h.advance(11 * time.Minute)

		entry, ok, err := h.store.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v"), entry.Value)
		assert.False(t, entry.Fresh(h.now()))
		assert.Equal(t, 11*time.Minute, entry.Age(h.now()))
	})

	t.Run("DroppedAfterStaleRetention", func(t *testing.T) {
		h := newHarness(t, 10*time.Minute, time.Hour)
		require.NoError(t, h.store.Set(ctx, "k", []byte("v"), 0))

		h.advance(71 * time.Minute)

		_, ok, err := h.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Delete", func(t *testing.T) {
		h := newHarness(t, 10*time.Minute, time.Hour)
		require.NoError(t, h.store.Set(ctx, "k", []byte("v"), 0))
		require.NoError(t, h.store.Delete(ctx, "k"))

		_, ok, err := h.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		// Deleting a missing key is fine.
		require.NoError(t, h.store.Delete(ctx, "k"))
	})

	t.Run("Ping", func(t *testing.T) {
		h := newHarness(t, 10*time.Minute, time.Hour)
		require.NoError(t, h.store.Ping(ctx))
	})
}

func TestEntryFresh(t *testing.T) {
	stored := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &Entry{StoredAt: stored, ExpiresAt: stored.Add(10 * time.Minute)}

	assert.True(t, e.Fresh(stored))
	assert.True(t, e.Fresh(stored.Add(10*time.Minute-time.Nanosecond)))
	assert.False(t, e.Fresh(stored.Add(10*time.Minute)))
	assert.False(t, e.Fresh(stored.Add(10*time.Minute+time.Second)))
	assert.Equal(t, 3*time.Minute, e.Age(stored.Add(3*time.Minute)))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	stored := time.Date(2026, 1, 1, 0, 0, 0, 123, time.UTC)
	data, err := encodeEntry(&Entry{Value: []byte(`{"name":"A"}`), StoredAt: stored, ExpiresAt: stored.Add(time.Minute)})
	require.NoError(t, err)

	entry, err := decodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"name":"A"}`), entry.Value)
	assert.True(t, entry.StoredAt.Equal(stored))
	assert.True(t, entry.ExpiresAt.Equal(stored.Add(time.Minute)))

	_, err = decodeEntry([]byte("not json"))
	assert.Error(t, err)
}

func TestRecordKey(t *testing.T) {
	assert.Equal(t, "record:client:1", RecordKey("client", "1"))
	assert.NotEqual(t, RecordKey("client", "1"), RecordKey("agent", "1"))
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("ab"), prefixUpperBound([]byte("aa")))
	assert.Equal(t, []byte("b"), prefixUpperBound([]byte{'a', 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
	assert.Nil(t, prefixUpperBound(nil))
}
