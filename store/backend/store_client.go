package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	derrors "github.com/hrygo/dualstore/internal/errors"
	"github.com/hrygo/dualstore/store"
)

// storeClient is the durable store as both backends see it: every call is timed and every
// failure other than not-found is classified as BACKEND_UNAVAILABLE.
type storeClient struct {
	store   *store.Store
	metrics *Metrics
}

func (c *storeClient) get(ctx context.Context, kind store.Kind, id string) (*store.Record, error) {
	var record *store.Record
	err := c.call(ctx, "get", func(ctx context.Context) error {
		var err error
		record, err = c.store.GetRecord(ctx, kind, id)
		return err
	})
	return record, err
}

func (c *storeClient) find(ctx context.Context, find *store.FindRecord) ([]*store.Record, error) {
	var list []*store.Record
	err := c.call(ctx, "find", func(ctx context.Context) error {
		var err error
		list, err = c.store.ListRecords(ctx, find)
		return err
	})
	if err != nil {
		return nil, c.unavailable(ctx, "find", err)
	}
	return list, nil
}

func (c *storeClient) upsert(ctx context.Context, upsert *store.UpsertRecord) (*store.Record, error) {
	var record *store.Record
	err := c.call(ctx, "upsert", func(ctx context.Context) error {
		var err error
		record, err = c.store.UpsertRecord(ctx, upsert)
		return err
	})
	if err != nil {
		return nil, c.unavailable(ctx, "upsert", err)
	}
	return record, nil
}

func (c *storeClient) delete(ctx context.Context, delete *store.DeleteRecord) error {
	return c.call(ctx, "delete", func(ctx context.Context) error {
		return c.store.DeleteRecord(ctx, delete)
	})
}

func (c *storeClient) ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func (c *storeClient) close() error {
	return c.store.Close()
}

func (c *storeClient) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := fn(ctx)
	c.metrics.recordStoreCall(op, time.Since(start))
	return err
}

// unavailable converts a failed store call into a BACKEND_UNAVAILABLE error and counts it.
func (c *storeClient) unavailable(ctx context.Context, op string, err error) error {
	reason := derrors.ReasonFor(ctx, err)
	c.metrics.recordStoreError(op, string(reason))
	return derrors.BackendUnavailable(reason, fmt.Sprintf("durable store %s failed", op), err)
}

// isStoreUnavailable reports whether err means the store could not answer, as opposed to
// answering that the record does not exist.
func isStoreUnavailable(err error) bool {
	return err != nil && !errors.Is(err, store.ErrNotFound)
}

func notFound(kind store.Kind, id string) error {
	return derrors.NotFound(fmt.Sprintf("%s %q not found", kind, id)).
		WithContext("kind", string(kind)).
		WithContext("id", id)
}

func invalidArgument(err error) error {
	return derrors.InvalidArgument(err.Error())
}

func validateKey(kind store.Kind, id string) error {
	if !kind.Valid() {
		return derrors.InvalidArgument(fmt.Sprintf("unknown record kind %q", kind))
	}
	if !store.ValidID(id) {
		return derrors.InvalidArgument(fmt.Sprintf("invalid record id %q", id))
	}
	return nil
}
