package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process LRU cache. Expired entries are kept until they fall out of
// the stale retention window or are evicted by capacity.
type MemoryCache struct {
	capacity int
	config   Config
	mu       sync.Mutex

	cache map[string]*memoryEntry
	order *list.List // Doubly linked list for LRU ordering

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

type memoryEntry struct {
	key     string
	entry   Entry
	dropAt  time.Time
	element *list.Element
}

// NewMemoryCache creates a new in-process cache. A positive cleanupInterval starts a
// background loop that drops entries past their stale retention.
func NewMemoryCache(capacity int, config Config, cleanupInterval time.Duration) *MemoryCache {
	if capacity <= 0 {
		capacity = 1000
	}

	c := &MemoryCache{
		capacity: capacity,
		config:   config.withDefaults(),
		cache:    make(map[string]*memoryEntry),
		order:    list.New(),
		stop:     make(chan struct{}),
	}

	if cleanupInterval > 0 {
		c.wg.Add(1)
		go c.cleanupLoop(cleanupInterval)
	}

	return c
}

// Get retrieves an entry from the cache.
func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[key]
	if !ok {
		return nil, false, nil
	}

	if !c.config.Now().Before(e.dropAt) {
		c.removeEntry(e)
		return nil, false, nil
	}

	// Move to front (most recently used)
	c.order.MoveToFront(e.element)
	entry := e.entry
	return &entry, true, nil
}

// Set stores a value in the cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	now := c.config.Now()
	entry := Entry{
		Value:     append([]byte(nil), value...),
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	dropAt := entry.ExpiresAt.Add(c.config.StaleRetention)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Update existing entry
	if e, ok := c.cache[key]; ok {
		e.entry = entry
		e.dropAt = dropAt
		c.order.MoveToFront(e.element)
		return nil
	}

	// Evict if at capacity
	for len(c.cache) >= c.capacity {
		c.evictOldest()
	}

	e := &memoryEntry{
		key:    key,
		entry:  entry,
		dropAt: dropAt,
	}
	e.element = c.order.PushFront(e)
	c.cache[key] = e
	return nil
}

// Delete removes key from the cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.cache[key]; ok {
		c.removeEntry(e)
	}
	return nil
}

func (c *MemoryCache) Ping(_ context.Context) error {
	return nil
}

// Close stops the cleanup loop.
func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
	return nil
}

// Size returns the number of entries in the cache.
func (c *MemoryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// evictOldest removes the least recently used entry.
// Must be called with lock held.
func (c *MemoryCache) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	c.removeEntry(oldest.Value.(*memoryEntry))
}

// removeEntry removes an entry from the cache.
// Must be called with lock held.
func (c *MemoryCache) removeEntry(e *memoryEntry) {
	c.order.Remove(e.element)
	delete(c.cache, e.key)
}

// CleanupExpired removes entries past their stale retention.
// Returns the number of entries removed.
func (c *MemoryCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Collect first to avoid modifying map during iteration
	var toDelete []*memoryEntry
	now := c.config.Now()
	for _, e := range c.cache {
		if !now.Before(e.dropAt) {
			toDelete = append(toDelete, e)
		}
	}
	for _, e := range toDelete {
		c.removeEntry(e)
	}

	return len(toDelete)
}

func (c *MemoryCache) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.CleanupExpired()
		}
	}
}

var _ Store = (*MemoryCache)(nil)
