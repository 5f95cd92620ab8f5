package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/dualstore/internal/profile"
)

// ErrNotFound is returned when a record does not exist in the durable store.
var ErrNotFound = errors.New("record not found")

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.driver.Ping(ctx)
}

// GetRecord returns the record identified by kind and id, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, kind Kind, id string) (*Record, error) {
	list, err := s.driver.ListRecords(ctx, &FindRecord{Kind: kind, ID: &id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (s *Store) ListRecords(ctx context.Context, find *FindRecord) ([]*Record, error) {
	return s.driver.ListRecords(ctx, find)
}

func (s *Store) UpsertRecord(ctx context.Context, upsert *UpsertRecord) (*Record, error) {
	return s.driver.UpsertRecord(ctx, upsert)
}

func (s *Store) DeleteRecord(ctx context.Context, delete *DeleteRecord) error {
	return s.driver.DeleteRecord(ctx, delete)
}
