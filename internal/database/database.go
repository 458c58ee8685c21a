// Package database manages the Postgres and SQLite connections and provides
// the data access layer.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/logger"
)

// PostgresStore is the production Store backed by a pgx connection pool.
type PostgresStore struct {
	*sqlStore
	Pool *pgxpool.Pool
}

// NewPostgres creates a connection pool for dsn and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string, log *logger.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{
		sqlStore: &sqlStore{db: stdlib.OpenDBFromPool(pool), dbType: DBTypePostgres, log: logger.OrNop(log)},
		Pool:     pool,
	}, nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	s.Pool.Close()
	return err
}

// Migrate runs database schema migrations.
// An advisory lock prevents concurrent replicas from racing on DDL statements.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for migration: %w", err)
	}
	defer conn.Close()

	// Application-specific lock ID to avoid collisions with other apps on the
	// same PostgreSQL instance.
	const migrationLockID int64 = 0x4F43_4F02 // "OCO" prefix + 02
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)

	if err := applySchema(ctx, conn, DBTypePostgres); err != nil {
		return err
	}
	s.log.Info("database migrated", "dialect", string(DBTypePostgres))
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func applySchema(ctx context.Context, db execer, dbType DBType) error {
	for i, stmt := range schema(dbType) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}
	return nil
}

// schema returns the DDL statements for the dialect. Money is NUMERIC in
// Postgres and canonical decimal text in SQLite.
func schema(dbType DBType) []string {
	money, price, ts, boolean, jsonb := "NUMERIC(28,10)", "NUMERIC(28,12)", "TIMESTAMPTZ", "BOOLEAN", "JSONB"
	if dbType == DBTypeSQLite {
		money, price, ts, boolean, jsonb = "TEXT", "TEXT", "TEXT", "INTEGER", "TEXT"
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS customers (
			customer_id       TEXT PRIMARY KEY,
			organization_name TEXT NOT NULL,
			contact_email     TEXT NOT NULL DEFAULT '',
			contact_phone     TEXT NOT NULL DEFAULT '',
			address           TEXT NOT NULL DEFAULT '',
			markup_percentage %[1]s NOT NULL,
			active            %[2]s NOT NULL,
			created_at        %[3]s NOT NULL,
			updated_at        %[3]s NOT NULL
		)`, money, boolean, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			user_id     TEXT PRIMARY KEY,
			first_name  TEXT NOT NULL DEFAULT '',
			last_name   TEXT NOT NULL DEFAULT '',
			email       TEXT NOT NULL UNIQUE,
			department  TEXT NOT NULL DEFAULT '',
			role        TEXT NOT NULL,
			active      %[1]s NOT NULL,
			customer_id TEXT REFERENCES customers(customer_id),
			created_at  %[2]s NOT NULL,
			updated_at  %[2]s NOT NULL
		)`, boolean, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pricing (
			id             TEXT PRIMARY KEY,
			vendor         TEXT NOT NULL,
			model          TEXT NOT NULL,
			api_type       TEXT NOT NULL,
			metric_type    TEXT NOT NULL,
			price_per_unit %[1]s NOT NULL,
			active         %[2]s NOT NULL,
			updated_at     %[3]s NOT NULL
		)`, price, boolean, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS usage_events (
			event_id      TEXT PRIMARY KEY,
			customer_id   TEXT NOT NULL REFERENCES customers(customer_id),
			user_id       TEXT NOT NULL REFERENCES users(user_id),
			vendor        TEXT NOT NULL,
			model         TEXT NOT NULL,
			api_type      TEXT NOT NULL,
			region        TEXT NOT NULL DEFAULT '',
			endpoint      TEXT NOT NULL DEFAULT '',
			input_tokens  BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			total_tokens  BIGINT NOT NULL DEFAULT 0,
			cached_tokens BIGINT NOT NULL DEFAULT 0,
			image_count   BIGINT NOT NULL DEFAULT 0,
			video_count   BIGINT NOT NULL DEFAULT 0,
			audio_minutes %[1]s NOT NULL,
			request_count BIGINT NOT NULL DEFAULT 1,
			request_id    TEXT NOT NULL DEFAULT '',
			session_id    TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'success',
			error_message TEXT NOT NULL DEFAULT '',
			metadata      %[3]s,
			input_cost    %[1]s NOT NULL,
			output_cost   %[1]s NOT NULL,
			total_cost    %[1]s NOT NULL,
			revenue       %[1]s NOT NULL,
			profit        %[1]s NOT NULL,
			currency      TEXT NOT NULL DEFAULT 'USD',
			timestamp     %[2]s NOT NULL,
			created_at    %[2]s NOT NULL
		)`, money, ts, jsonb),

		`CREATE UNIQUE INDEX IF NOT EXISTS uq_pricing_active ON pricing(vendor, model, api_type, metric_type) WHERE active`,
		`CREATE INDEX IF NOT EXISTS idx_users_customer_id ON users(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_customer_ts ON usage_events(customer_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_user_id ON usage_events(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_timestamp ON usage_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_vendor_model ON usage_events(vendor, model)`,
	}
}
