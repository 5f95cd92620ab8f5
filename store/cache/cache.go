// Package cache provides the read-cache stores used by the hybrid backend.
//
// A cache entry is never authoritative. Stores keep an entry past its expiry for a stale
// retention window so that the backend can serve it as a degraded read when the durable
// store is unreachable; deciding whether an entry is fresh is the caller's job.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Entry is a cached value together with its validity window.
type Entry struct {
	Value     []byte
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Fresh reports whether the entry may be served as a hit at now.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Age returns how long ago the entry was written.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Store is a byte cache with TTLs. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the entry for key, including entries past ExpiresAt that are still
	// within the stale retention window. (nil, false, nil) is a miss; an IO error is
	// (nil, false, err).
	Get(ctx context.Context, key string) (*Entry, bool, error)

	// Set stores value; the entry expires ttl from now.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping checks the cache is reachable without side effects.
	Ping(ctx context.Context) error

	Close() error
}

// Config holds the options shared by every cache store.
type Config struct {
	KeyPrefix      string
	DefaultTTL     time.Duration
	StaleRetention time.Duration

	// Now is the clock used for entry timestamps. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:      "dualstore:",
		DefaultTTL:     10 * time.Minute,
		StaleRetention: 24 * time.Hour,
		Now:            time.Now,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = def.DefaultTTL
	}
	if c.StaleRetention < 0 {
		c.StaleRetention = 0
	}
	if c.Now == nil {
		c.Now = def.Now
	}
	return c
}

// RecordKey derives the cache key of a record from its kind and identifier.
func RecordKey(kind, id string) string {
	return "record:" + kind + ":" + id
}

// envelope is the serialized form used by stores that keep bytes outside the process.
type envelope struct {
	Value     []byte `json:"v"`
	StoredAt  int64  `json:"s"`
	ExpiresAt int64  `json:"e"`
}

func encodeEntry(e *Entry) ([]byte, error) {
	data, err := json.Marshal(envelope{
		Value:     e.Value,
		StoredAt:  e.StoredAt.UnixNano(),
		ExpiresAt: e.ExpiresAt.UnixNano(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode cache entry")
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "failed to decode cache entry")
	}
	return &Entry{
		Value:     env.Value,
		StoredAt:  time.Unix(0, env.StoredAt),
		ExpiresAt: time.Unix(0, env.ExpiresAt),
	}, nil
}
