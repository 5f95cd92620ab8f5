package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Ping verifies the database is reachable without touching any table.
	Ping(ctx context.Context) error
	IsInitialized(ctx context.Context) (bool, error)

	// Record model related methods.
	UpsertRecord(ctx context.Context, upsert *UpsertRecord) (*Record, error)
	ListRecords(ctx context.Context, find *FindRecord) ([]*Record, error)
	// DeleteRecord returns ErrNotFound when no row matched.
	DeleteRecord(ctx context.Context, delete *DeleteRecord) error
}
