// Package storage opens the snapshot store selected by configuration.
package storage

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"growth-tracker/backend/internal/config"
	"growth-tracker/backend/internal/db"
	"growth-tracker/backend/internal/db/migrate"
	"growth-tracker/backend/internal/health"
	"growth-tracker/backend/internal/snapshot/repository"
)

// Store is an opened snapshot store.
type Store struct {
	Driver     string
	Repository repository.Repository
	// DB is nil for the memory store.
	DB *sql.DB
}

// Open builds the repository for cfg.StorageDriver. SQLite files are migrated on open;
// Postgres schemas are applied by cmd/migrate.
func Open(cfg *config.Config) (*Store, error) {
	ids, err := repository.NewIDNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("storage: snowflake node: %w", err)
	}
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("storage: open postgres: %w", err)
		}
		return &Store{Driver: cfg.StorageDriver, DB: conn, Repository: repository.NewSQLRepository(conn, repository.Postgres, ids)}, nil
	case config.StorageSQLite:
		if err := migrate.Run(migrate.SQLiteURL(cfg.SQLitePath), "up"); err != nil {
			return nil, fmt.Errorf("storage: migrate sqlite: %w", err)
		}
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("storage: open sqlite: %w", err)
		}
		return &Store{Driver: cfg.StorageDriver, DB: conn, Repository: repository.NewSQLRepository(conn, repository.SQLite, ids)}, nil
	default:
		zap.L().Warn("storage: using in-memory snapshot store; snapshots are lost on restart")
		return &Store{Driver: config.StorageMemory, Repository: repository.NewMemoryRepository(ids)}, nil
	}
}

// Pinger returns the readiness pinger, or nil for the memory store.
func (s *Store) Pinger() health.Pinger {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB
}

// MigrationURL returns the golang-migrate database URL for cfg's SQL driver.
func MigrationURL(cfg *config.Config) (string, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		return cfg.DatabaseURL, nil
	case config.StorageSQLite:
		return migrate.SQLiteURL(cfg.SQLitePath), nil
	}
	return "", fmt.Errorf("storage: STORAGE_DRIVER=%s has no migrations", cfg.StorageDriver)
}

// Close releases the database connection, if any.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
