package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

// Migration System Overview:
//
// Schema files live in store/migration/{driver}/NNNNN_description.sql in goose format
// ("-- +goose Up" / "-- +goose Down" sections). goose records applied versions in its own
// goose_db_version table, so Migrate is idempotent and safe to run on every start.

//go:embed migration
var migrationFS embed.FS

// Migrate migrates the database schema to the latest version.
func (s *Store) Migrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	if !initialized {
		slog.Info("initializing new database", slog.String("driver", s.profile.Driver))
	}

	provider, err := s.newMigrationProvider()
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}
	for _, result := range results {
		slog.Info("applied migration",
			slog.String("file", result.Source.Path),
			slog.Int64("version", result.Source.Version),
			slog.Duration("duration", result.Duration))
	}
	slog.Info("migration completed", slog.Int("migrationsApplied", len(results)))
	return nil
}

func (s *Store) newMigrationProvider() (*goose.Provider, error) {
	var dialect goose.Dialect
	switch s.profile.Driver {
	case "postgres":
		dialect = goose.DialectPostgres
	case "sqlite":
		dialect = goose.DialectSQLite3
	default:
		return nil, errors.Errorf("no migrations for driver %q", s.profile.Driver)
	}

	fsys, err := fs.Sub(migrationFS, s.getMigrationBasePath())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open migration directory")
	}
	provider, err := goose.NewProvider(dialect, s.driver.GetDB(), fsys)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create migration provider")
	}
	return provider, nil
}

func (s *Store) getMigrationBasePath() string {
	return fmt.Sprintf("migration/%s", s.profile.Driver)
}
