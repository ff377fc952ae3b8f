// Package backend builds the storage backend named by the configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"hazine/internal/config"
	"hazine/internal/storage"
	"hazine/internal/storage/postgres"
	"hazine/internal/storage/sqlite"
)

// Open connects to the configured backend and applies pending migrations.
func Open(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app config is nil")
	}

	switch cfg.DataBackend {
	case config.BackendSQLite:
		store, err := sqlite.New(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		return store, nil
	case config.BackendPostgres:
		store, err := postgres.New(ctx, cfg.DatabaseURL, cfg.DatabaseAuthToken)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.DataBackend)
	}
}

// Migrator drives schema migrations without opening a store, so a broken
// schema can still be rolled back.
type Migrator interface {
	Up(ctx context.Context) error
	// Down rolls back steps migrations, or every migration when steps <= 0.
	Down(ctx context.Context, steps int) error
	Version(ctx context.Context) (version uint, dirty bool, err error)
	Close() error
}

func NewMigrator(ctx context.Context, cfg *config.Config) (Migrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app config is nil")
	}

	switch cfg.DataBackend {
	case config.BackendSQLite:
		return sqliteMigrator{path: cfg.SQLiteDBPath}, nil
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseAuthToken)
		if err != nil {
			return nil, err
		}
		return postgresMigrator{pool: pool}, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.DataBackend)
	}
}

type sqliteMigrator struct {
	path string
}

func (m sqliteMigrator) Up(context.Context) error { return sqlite.RunMigrations(m.path) }

func (m sqliteMigrator) Down(_ context.Context, steps int) error {
	return sqlite.MigrateDown(m.path, steps)
}

func (m sqliteMigrator) Version(context.Context) (uint, bool, error) {
	return sqlite.MigrationVersion(m.path)
}

func (sqliteMigrator) Close() error { return nil }

type postgresMigrator struct {
	pool *pgxpool.Pool
}

func (m postgresMigrator) Up(context.Context) error { return postgres.RunMigrations(m.pool) }

func (m postgresMigrator) Down(_ context.Context, steps int) error {
	return postgres.MigrateDown(m.pool, steps)
}

func (m postgresMigrator) Version(context.Context) (uint, bool, error) {
	return postgres.MigrationVersion(m.pool)
}

func (m postgresMigrator) Close() error {
	m.pool.Close()
	return nil
}
