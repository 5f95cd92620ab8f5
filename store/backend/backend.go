// Package backend selects and implements the persistence backend the application talks to.
//
// Two variants implement Backend: HybridBackend fronts the durable store with a short-lived
// read cache and can serve expired entries when the store is unreachable, DirectBackend
// forwards every call to the durable store. New picks one from the profile, once per
// process.
package backend

import (
	"context"

	"github.com/hrygo/dualstore/internal/profile"
	"github.com/hrygo/dualstore/store"
)

// Backend is the capability set shared by every persistence backend.
//
// Errors are *errors.Error values from internal/errors: NOT_FOUND for a missing record,
// INVALID_ARGUMENT for a malformed request and BACKEND_UNAVAILABLE when the durable store
// could not answer. Implementations never retry a store call.
type Backend interface {
	// Mode reports which variant this is.
	Mode() profile.BackendMode

	// Get fetches one record by kind and id.
	Get(ctx context.Context, kind store.Kind, id string) (*Fetched, error)

	// Find lists records matching find. Results are never cached.
	Find(ctx context.Context, find *store.FindRecord) ([]*store.Record, error)

	// Upsert creates or replaces a record and returns the stored version.
	Upsert(ctx context.Context, upsert *store.UpsertRecord) (*store.Record, error)

	// Delete removes a record.
	Delete(ctx context.Context, delete *store.DeleteRecord) error

	// Ping probes the dependencies without side effects.
	Ping(ctx context.Context) Health

	Close() error
}

// Source tells where a fetched record came from.
type Source string

const (
	// SourceStore means the durable store answered the read.
	SourceStore Source = "store"
	// SourceCache means a fresh cache entry answered the read.
	SourceCache Source = "cache"
	// SourceStale means the store was unreachable and an expired cache entry was served.
	SourceStale Source = "stale"
)

// Fetched is the result of Get.
type Fetched struct {
	Record *store.Record
	Source Source
}

// Degraded reports whether the record may be out of date because it was served from an
// expired cache entry.
func (f *Fetched) Degraded() bool {
	return f != nil && f.Source == SourceStale
}

// State is the reachability of a dependency.
type State string

const (
	StateReachable   State = "reachable"
	StateUnreachable State = "unreachable"
	StateDisabled    State = "disabled"
)

// Health is the result of Ping.
type Health struct {
	Mode  profile.BackendMode `json:"mode"`
	Store State               `json:"store"`
	Cache State               `json:"cache"`

	StoreError string `json:"store_error,omitempty"`
	CacheError string `json:"cache_error,omitempty"`
}

// OK reports whether the backend can serve requests. An unreachable cache only costs
// latency, so it does not make the backend unhealthy.
func (h Health) OK() bool {
	return h.Store == StateReachable
}
