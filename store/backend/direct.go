package backend

import (
	"context"

	"github.com/hrygo/dualstore/internal/profile"
	"github.com/hrygo/dualstore/store"
)

// DirectBackend sends every operation straight to the durable store. It keeps no state of
// its own and never serves a degraded read.
type DirectBackend struct {
	client storeClient
}

// NewDirectBackend creates a direct-only backend over s.
func NewDirectBackend(s *store.Store, metrics *Metrics) *DirectBackend {
	if metrics == nil {
		metrics = NewMetrics("")
	}
	return &DirectBackend{client: storeClient{store: s, metrics: metrics}}
}

func (b *DirectBackend) Mode() profile.BackendMode {
	return profile.ModeDirectOnly
}

func (b *DirectBackend) Get(ctx context.Context, kind store.Kind, id string) (*Fetched, error) {
	if err := validateKey(kind, id); err != nil {
		return nil, err
	}

	record, err := b.client.get(ctx, kind, id)
	if err != nil {
		if isStoreUnavailable(err) {
			return nil, b.client.unavailable(ctx, "get", err)
		}
		return nil, notFound(kind, id)
	}
	return &Fetched{Record: record, Source: SourceStore}, nil
}

func (b *DirectBackend) Find(ctx context.Context, find *store.FindRecord) ([]*store.Record, error) {
	if err := find.Validate(); err != nil {
		return nil, invalidArgument(err)
	}
	return b.client.find(ctx, find)
}

func (b *DirectBackend) Upsert(ctx context.Context, upsert *store.UpsertRecord) (*store.Record, error) {
	if err := upsert.Validate(); err != nil {
		return nil, invalidArgument(err)
	}
	return b.client.upsert(ctx, upsert)
}

func (b *DirectBackend) Delete(ctx context.Context, delete *store.DeleteRecord) error {
	if err := delete.Validate(); err != nil {
		return invalidArgument(err)
	}

	if err := b.client.delete(ctx, delete); err != nil {
		if isStoreUnavailable(err) {
			return b.client.unavailable(ctx, "delete", err)
		}
		return notFound(delete.Kind, delete.ID)
	}
	return nil
}

func (b *DirectBackend) Ping(ctx context.Context) Health {
	health := Health{Mode: profile.ModeDirectOnly, Store: StateReachable, Cache: StateDisabled}
	if err := b.client.ping(ctx); err != nil {
		health.Store = StateUnreachable
		health.StoreError = err.Error()
	}
	return health
}

func (b *DirectBackend) Close() error {
	return b.client.close()
}

var _ Backend = (*DirectBackend)(nil)
