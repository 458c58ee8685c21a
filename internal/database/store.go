package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/logger"
	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

var (
	// ErrNotFound is returned when a lookup by id matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert collides with an existing key.
	ErrConflict = errors.New("already exists")
)

// Store is the persistence surface of the meter: the priced event ledger,
// the customer and user directory, and the pricing table.
type Store interface {
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	FindActivePricing(ctx context.Context, vendor, model, apiType string, metric models.MetricType) (*models.PricingEntry, error)
	ListPricing(ctx context.Context) ([]models.PricingEntry, error)
	UpsertPricing(ctx context.Context, entry models.PricingEntry) (*models.PricingEntry, error)
	SeedPricing(ctx context.Context, entries []models.PricingEntry, overwrite bool) (int, error)

	SaveEvent(ctx context.Context, event *models.UsageEvent) error
	GetEvent(ctx context.Context, eventID string) (*models.UsageEvent, error)
	ListEvents(ctx context.Context, filter models.EventFilter, page, size int) (*models.EventPage, error)
	FindEventsInRange(ctx context.Context, filter models.EventFilter) ([]models.UsageEvent, error)

	FindCustomerMarkup(ctx context.Context, customerID string) (decimal.Decimal, error)
	GetCustomer(ctx context.Context, customerID string) (*models.Customer, error)
	ListCustomers(ctx context.Context) ([]models.Customer, error)
	SearchCustomers(ctx context.Context, term string) ([]models.Customer, error)
	CreateCustomer(ctx context.Context, c *models.Customer) error
	UpdateCustomer(ctx context.Context, c *models.Customer) error
	UpdateCustomerMarkup(ctx context.Context, customerID string, markup decimal.Decimal) error
	DeactivateCustomer(ctx context.Context, customerID string) error
	FindCustomersByIDs(ctx context.Context, ids []string) (map[string]models.Customer, error)

	GetUser(ctx context.Context, userID string) (*models.User, error)
	ListUsers(ctx context.Context, customerID string) ([]models.User, error)
	SearchUsers(ctx context.Context, term, customerID string) ([]models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	UpdateUser(ctx context.Context, u *models.User) error
	DeactivateUser(ctx context.Context, userID string) error
	FindUsersByIDs(ctx context.Context, ids []string) (map[string]models.User, error)
}

// DBType selects the SQL dialect.
type DBType string

const (
	DBTypePostgres DBType = "postgres"
	DBTypeSQLite   DBType = "sqlite"
)

// sqlStore implements Store over database/sql. Queries are written with '?'
// placeholders and rebound for the dialect.
type sqlStore struct {
	db     *sql.DB
	dbType DBType
	log    *logger.Logger
}

// placeholder returns the SQL placeholder for the database type.
// SQLite uses ?, PostgreSQL uses $1, $2, etc.
func placeholder(dbType DBType, index int) string {
	if dbType == DBTypeSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", index)
}

func (s *sqlStore) rebind(query string) string {
	if s.dbType == DBTypeSQLite {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(placeholder(s.dbType, n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// Ping verifies the database is reachable.
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// timeArg converts t to the dialect's stored form. SQLite keeps timestamps
// as fixed-width UTC text so that range comparisons stay lexical.
func (s *sqlStore) timeArg(t time.Time) any {
	if s.dbType == DBTypeSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

// dbTime scans either a native timestamp or SQLite text into a UTC time.
type dbTime struct{ t *time.Time }

func (d dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d.t = time.Time{}
	case time.Time:
		*d.t = v.UTC()
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}

func (d dbTime) parse(v string) error {
	for _, layout := range []string{sqliteTimeLayout, "2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			*d.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure in either dialect.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case 1555, 2067: // SQLITE_CONSTRAINT_PRIMARYKEY, SQLITE_CONSTRAINT_UNIQUE
			return true
		case 19: // SQLITE_CONSTRAINT without extended codes
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}

// inClause returns "(?, ?, ...)" and the matching args.
func inClause(ids []string) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}

func likeTerm(term string) string {
	return "%" + strings.ToLower(strings.TrimSpace(term)) + "%"
}

func checkAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
