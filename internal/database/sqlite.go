package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/logger"
)

const sqliteMemory = ":memory:"

// SQLiteStore is an embedded Store for single-node deployments and tests.
type SQLiteStore struct {
	*sqlStore
}

// NewSQLite opens (or creates) the SQLite database at path. Use ":memory:"
// for a throwaway database.
func NewSQLite(ctx context.Context, path string, log *logger.Logger) (*SQLiteStore, error) {
	if path == "" {
		path = sqliteMemory
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// Single connection to avoid database locking issues, and so an
	// in-memory database survives between queries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring sqlite: %w", err)
		}
	}
	if path != sqliteMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring sqlite: %w", err)
		}
	}

	return &SQLiteStore{sqlStore: &sqlStore{db: db, dbType: DBTypeSQLite, log: logger.OrNop(log)}}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if err := applySchema(ctx, s.db, DBTypeSQLite); err != nil {
		return err
	}
	s.log.Debug("database migrated", "dialect", string(DBTypeSQLite))
	return nil
}
