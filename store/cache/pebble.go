package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// PebbleCache is an on-disk cache for single-instance deployments that want cached
// entries, and therefore degraded reads, to survive a restart.
type PebbleCache struct {
	db     *pebble.DB
	config Config

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewPebbleCache opens (or creates) a pebble database at path.
func NewPebbleCache(path string, config Config, cleanupInterval time.Duration) (*PebbleCache, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open pebble cache at %s", path)
	}

	c := &PebbleCache{
		db:     db,
		config: config.withDefaults(),
		stop:   make(chan struct{}),
	}
	if cleanupInterval > 0 {
		c.wg.Add(1)
		go c.cleanupLoop(cleanupInterval)
	}
	return c, nil
}

func (c *PebbleCache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	value, closer, err := c.db.Get(c.fullKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to get cache value")
	}
	// value is only valid until closer.Close.
	entry, decodeErr := decodeEntry(value)
	closer.Close()
	if decodeErr != nil {
		slog.Warn("dropping undecodable cache value", "key", key, "error", decodeErr)
		_ = c.db.Delete(c.fullKey(key), pebble.NoSync)
		return nil, false, nil
	}

	if !c.config.Now().Before(c.dropAt(entry)) {
		_ = c.db.Delete(c.fullKey(key), pebble.NoSync)
		return nil, false, nil
	}
	return entry, true, nil
}

func (c *PebbleCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	now := c.config.Now()
	data, err := encodeEntry(&Entry{Value: value, StoredAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return err
	}
	if err := c.db.Set(c.fullKey(key), data, pebble.NoSync); err != nil {
		return errors.Wrap(err, "failed to set cache value")
	}
	return nil
}

func (c *PebbleCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Deletes are synced: a lost delete would resurrect a value the store no longer has.
	if err := c.db.Delete(c.fullKey(key), pebble.Sync); err != nil {
		return errors.Wrap(err, "failed to delete cache value")
	}
	return nil
}

func (c *PebbleCache) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, closer, err := c.db.Get([]byte(c.config.KeyPrefix + "__ping__"))
	if err == nil {
		closer.Close()
		return nil
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return err
}

// CleanupExpired deletes entries past their stale retention and returns how many.
func (c *PebbleCache) CleanupExpired() (int, error) {
	prefix := []byte(c.config.KeyPrefix)
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to open cache iterator")
	}

	now := c.config.Now()
	batch := c.db.NewBatch()
	defer batch.Close()

	removed := 0
	for iter.First(); iter.Valid(); iter.Next() {
		entry, err := decodeEntry(iter.Value())
		if err != nil || !now.Before(c.dropAt(entry)) {
			if err := batch.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
				iter.Close()
				return 0, errors.Wrap(err, "failed to stage cache delete")
			}
			removed++
		}
	}
	if err := iter.Close(); err != nil {
		return 0, errors.Wrap(err, "failed to iterate cache")
	}
	if removed == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return 0, errors.Wrap(err, "failed to commit cache cleanup")
	}
	return removed, nil
}

func (c *PebbleCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
	return c.db.Close()
}

func (c *PebbleCache) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n, err := c.CleanupExpired(); err != nil {
				slog.Warn("pebble cache cleanup failed", "error", err)
			} else if n > 0 {
				slog.Debug("pebble cache cleanup", "removed", n)
			}
		}
	}
}

func (c *PebbleCache) dropAt(e *Entry) time.Time {
	return e.ExpiresAt.Add(c.config.StaleRetention)
}

func (c *PebbleCache) fullKey(key string) []byte {
	return []byte(c.config.KeyPrefix + key)
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

var _ Store = (*PebbleCache)(nil)
