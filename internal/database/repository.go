package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// ---------------------------------------------------------------------------
// Usage events
// ---------------------------------------------------------------------------

const eventColumns = `event_id, customer_id, user_id, vendor, model, api_type, region, endpoint,
	input_tokens, output_tokens, total_tokens, cached_tokens, image_count, video_count,
	audio_minutes, request_count, request_id, session_id, status, error_message, metadata,
	input_cost, output_cost, total_cost, revenue, profit, currency, timestamp, created_at`

// SaveEvent stores a priced usage event.
func (s *sqlStore) SaveEvent(ctx context.Context, e *models.UsageEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `
		INSERT INTO usage_events (`+eventColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, e.EventID, e.CustomerID, e.UserID, e.Vendor, e.Model, e.APIType, e.Region, e.Endpoint,
		e.InputTokens, e.OutputTokens, e.TotalTokens, e.CachedTokens, e.ImageCount, e.VideoCount,
		e.AudioMinutes, e.RequestCount, e.RequestID, e.SessionID, e.Status, e.ErrorMessage, nullString(e.Metadata),
		e.InputCost, e.OutputCost, e.TotalCost, e.Revenue, e.Profit, e.Currency,
		s.timeArg(e.Timestamp), s.timeArg(e.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("inserting event %s: %w", e.EventID, ErrConflict)
		}
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func scanEvent(r rowScanner) (models.UsageEvent, error) {
	var e models.UsageEvent
	var metadata sql.NullString
	err := r.Scan(
		&e.EventID, &e.CustomerID, &e.UserID, &e.Vendor, &e.Model, &e.APIType, &e.Region, &e.Endpoint,
		&e.InputTokens, &e.OutputTokens, &e.TotalTokens, &e.CachedTokens, &e.ImageCount, &e.VideoCount,
		&e.AudioMinutes, &e.RequestCount, &e.RequestID, &e.SessionID, &e.Status, &e.ErrorMessage, &metadata,
		&e.InputCost, &e.OutputCost, &e.TotalCost, &e.Revenue, &e.Profit, &e.Currency,
		dbTime{&e.Timestamp}, dbTime{&e.CreatedAt},
	)
	e.Metadata = metadata.String
	return e, err
}

// GetEvent returns one event by id.
func (s *sqlStore) GetEvent(ctx context.Context, eventID string) (*models.UsageEvent, error) {
	e, err := scanEvent(s.queryRow(ctx, `SELECT `+eventColumns+` FROM usage_events WHERE event_id = ?`, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return &e, nil
}

// eventWhere renders the filter as a WHERE clause. Bounds are inclusive.
func (s *sqlStore) eventWhere(f models.EventFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}
	if f.CustomerID != "" {
		add("customer_id = ?", f.CustomerID)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.Vendor != "" {
		add("vendor = ?", f.Vendor)
	}
	if f.Model != "" {
		add("model = ?", f.Model)
	}
	if f.APIType != "" {
		add("api_type = ?", f.APIType)
	}
	if !f.Start.IsZero() {
		add("timestamp >= ?", s.timeArg(f.Start))
	}
	if !f.End.IsZero() {
		add("timestamp <= ?", s.timeArg(f.End))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// FindEventsInRange returns every event matching the filter, oldest first.
func (s *sqlStore) FindEventsInRange(ctx context.Context, f models.EventFilter) ([]models.UsageEvent, error) {
	where, args := s.eventWhere(f)
	rows, err := s.query(ctx, `SELECT `+eventColumns+` FROM usage_events`+where+` ORDER BY timestamp, event_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []models.UsageEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListEvents returns one page of matching events, newest first. page is
// zero-based.
func (s *sqlStore) ListEvents(ctx context.Context, f models.EventFilter, page, size int) (*models.EventPage, error) {
	where, args := s.eventWhere(f)

	var total int64
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM usage_events`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}

	pageArgs := append(append([]any{}, args...), size, page*size)
	rows, err := s.query(ctx, `SELECT `+eventColumns+` FROM usage_events`+where+
		` ORDER BY timestamp DESC, event_id DESC LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	out := &models.EventPage{Items: []models.UsageEvent{}, Page: page, Size: size, Total: total}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		out.Items = append(out.Items, e)
	}
	if size > 0 {
		out.TotalPages = int((total + int64(size) - 1) / int64(size))
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

const customerColumns = `customer_id, organization_name, contact_email, contact_phone, address,
	markup_percentage, active, created_at, updated_at`

func scanCustomer(r rowScanner) (models.Customer, error) {
	var c models.Customer
	err := r.Scan(&c.CustomerID, &c.OrganizationName, &c.ContactEmail, &c.ContactPhone, &c.Address,
		&c.MarkupPercentage, &c.Active, dbTime{&c.CreatedAt}, dbTime{&c.UpdatedAt})
	return c, err
}

func (s *sqlStore) customers(ctx context.Context, query string, args ...any) ([]models.Customer, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying customers: %w", err)
	}
	defer rows.Close()

	out := []models.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning customer: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCustomer returns a customer by id, active or not.
func (s *sqlStore) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	c, err := scanCustomer(s.queryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE customer_id = ?`, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", customerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying customer: %w", err)
	}
	return &c, nil
}

// FindCustomerMarkup returns the current markup percentage of a customer.
func (s *sqlStore) FindCustomerMarkup(ctx context.Context, customerID string) (decimal.Decimal, error) {
	var markup decimal.Decimal
	err := s.queryRow(ctx, `SELECT markup_percentage FROM customers WHERE customer_id = ?`, customerID).Scan(&markup)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("customer %s: %w", customerID, ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("querying customer markup: %w", err)
	}
	return markup, nil
}

// ListCustomers returns active customers ordered by name.
func (s *sqlStore) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	return s.customers(ctx, `SELECT `+customerColumns+` FROM customers WHERE active ORDER BY organization_name, customer_id`)
}

// SearchCustomers matches organization name or contact email, case-insensitively.
func (s *sqlStore) SearchCustomers(ctx context.Context, term string) ([]models.Customer, error) {
	like := likeTerm(term)
	return s.customers(ctx, `SELECT `+customerColumns+` FROM customers
		WHERE active AND (LOWER(organization_name) LIKE ? OR LOWER(contact_email) LIKE ?)
		ORDER BY organization_name, customer_id`, like, like)
}

// FindCustomersByIDs loads the given customers keyed by id. Unknown ids are
// absent from the result.
func (s *sqlStore) FindCustomersByIDs(ctx context.Context, ids []string) (map[string]models.Customer, error) {
	out := make(map[string]models.Customer, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	in, args := inClause(ids)
	list, err := s.customers(ctx, `SELECT `+customerColumns+` FROM customers WHERE customer_id IN `+in, args...)
	if err != nil {
		return nil, err
	}
	for _, c := range list {
		out[c.CustomerID] = c
	}
	return out, nil
}

// CreateCustomer inserts c. Timestamps are set when zero.
func (s *sqlStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := s.exec(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, c.CustomerID, c.OrganizationName, c.ContactEmail, c.ContactPhone, c.Address,
		c.MarkupPercentage, c.Active, s.timeArg(c.CreatedAt), s.timeArg(c.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("customer %s: %w", c.CustomerID, ErrConflict)
		}
		return fmt.Errorf("inserting customer: %w", err)
	}
	return nil
}

// UpdateCustomer overwrites the mutable fields of c.
func (s *sqlStore) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := s.exec(ctx, `
		UPDATE customers
		SET organization_name = ?, contact_email = ?, contact_phone = ?, address = ?,
		    markup_percentage = ?, active = ?, updated_at = ?
		WHERE customer_id = ?
	`, c.OrganizationName, c.ContactEmail, c.ContactPhone, c.Address,
		c.MarkupPercentage, c.Active, s.timeArg(c.UpdatedAt), c.CustomerID)
	if err != nil {
		return fmt.Errorf("updating customer: %w", err)
	}
	return checkAffected(res, "updating customer "+c.CustomerID)
}

// UpdateCustomerMarkup changes only the markup percentage.
func (s *sqlStore) UpdateCustomerMarkup(ctx context.Context, customerID string, markup decimal.Decimal) error {
	res, err := s.exec(ctx, `UPDATE customers SET markup_percentage = ?, updated_at = ? WHERE customer_id = ?`,
		markup, s.timeArg(time.Now()), customerID)
	if err != nil {
		return fmt.Errorf("updating customer markup: %w", err)
	}
	return checkAffected(res, "updating customer markup "+customerID)
}

// DeactivateCustomer soft-deletes a customer. Its ledger is kept.
func (s *sqlStore) DeactivateCustomer(ctx context.Context, customerID string) error {
	res, err := s.exec(ctx, `UPDATE customers SET active = ?, updated_at = ? WHERE customer_id = ?`,
		false, s.timeArg(time.Now()), customerID)
	if err != nil {
		return fmt.Errorf("deactivating customer: %w", err)
	}
	return checkAffected(res, "deactivating customer "+customerID)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

const userColumns = `user_id, first_name, last_name, email, department, role, active, customer_id,
	created_at, updated_at`

func scanUser(r rowScanner) (models.User, error) {
	var u models.User
	var role string
	var customerID sql.NullString
	err := r.Scan(&u.UserID, &u.FirstName, &u.LastName, &u.Email, &u.Department, &role, &u.Active,
		&customerID, dbTime{&u.CreatedAt}, dbTime{&u.UpdatedAt})
	u.Role = models.ParseRole(role)
	u.CustomerID = customerID.String
	return u, err
}

func (s *sqlStore) users(ctx context.Context, query string, args ...any) ([]models.User, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	out := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetUser returns a user by id, active or not.
func (s *sqlStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// ListUsers returns active users, limited to customerID when it is set.
func (s *sqlStore) ListUsers(ctx context.Context, customerID string) ([]models.User, error) {
	if customerID == "" {
		return s.users(ctx, `SELECT `+userColumns+` FROM users WHERE active ORDER BY last_name, first_name, user_id`)
	}
	return s.users(ctx, `SELECT `+userColumns+` FROM users WHERE active AND customer_id = ?
		ORDER BY last_name, first_name, user_id`, customerID)
}

// SearchUsers matches name or email case-insensitively, limited to
// customerID when it is set.
func (s *sqlStore) SearchUsers(ctx context.Context, term, customerID string) ([]models.User, error) {
	like := likeTerm(term)
	query := `SELECT ` + userColumns + ` FROM users
		WHERE active AND (LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ?)`
	args := []any{like, like, like}
	if customerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, customerID)
	}
	return s.users(ctx, query+` ORDER BY last_name, first_name, user_id`, args...)
}

// FindUsersByIDs loads the given users keyed by id. Unknown ids are absent
// from the result.
func (s *sqlStore) FindUsersByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	in, args := inClause(ids)
	list, err := s.users(ctx, `SELECT `+userColumns+` FROM users WHERE user_id IN `+in, args...)
	if err != nil {
		return nil, err
	}
	for _, u := range list {
		out[u.UserID] = u
	}
	return out, nil
}

// CreateUser inserts u. A duplicate id or email is ErrConflict.
func (s *sqlStore) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := s.exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`, u.UserID, u.FirstName, u.LastName, u.Email, u.Department, string(u.Role), u.Active,
		nullString(u.CustomerID), s.timeArg(u.CreatedAt), s.timeArg(u.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.UserID, ErrConflict)
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// UpdateUser overwrites the mutable fields of u.
func (s *sqlStore) UpdateUser(ctx context.Context, u *models.User) error {
	u.UpdatedAt = time.Now().UTC()
	res, err := s.exec(ctx, `
		UPDATE users
		SET first_name = ?, last_name = ?, email = ?, department = ?, role = ?, active = ?,
		    customer_id = ?, updated_at = ?
		WHERE user_id = ?
	`, u.FirstName, u.LastName, u.Email, u.Department, string(u.Role), u.Active,
		nullString(u.CustomerID), s.timeArg(u.UpdatedAt), u.UserID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user email %s: %w", u.Email, ErrConflict)
		}
		return fmt.Errorf("updating user: %w", err)
	}
	return checkAffected(res, "updating user "+u.UserID)
}

// DeactivateUser soft-deletes a user.
func (s *sqlStore) DeactivateUser(ctx context.Context, userID string) error {
	res, err := s.exec(ctx, `UPDATE users SET active = ?, updated_at = ? WHERE user_id = ?`,
		false, s.timeArg(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("deactivating user: %w", err)
	}
	return checkAffected(res, "deactivating user "+userID)
}

// ---------------------------------------------------------------------------
// Pricing
// ---------------------------------------------------------------------------

const pricingColumns = `vendor, model, api_type, metric_type, price_per_unit, active, updated_at`

func scanPricing(r rowScanner) (models.PricingEntry, error) {
	var p models.PricingEntry
	var metric string
	err := r.Scan(&p.Vendor, &p.Model, &p.APIType, &metric, &p.PricePerUnit, &p.Active, dbTime{&p.UpdatedAt})
	p.MetricType = models.MetricType(metric)
	return p, err
}

// FindActivePricing returns the active price for the tuple, or (nil, nil)
// when none is configured.
func (s *sqlStore) FindActivePricing(ctx context.Context, vendor, model, apiType string, metric models.MetricType) (*models.PricingEntry, error) {
	p, err := scanPricing(s.queryRow(ctx, `
		SELECT `+pricingColumns+` FROM pricing
		WHERE active AND vendor = ? AND model = ? AND api_type = ? AND metric_type = ?
	`, vendor, model, apiType, string(metric)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying pricing: %w", err)
	}
	return &p, nil
}

// ListPricing returns every active price.
func (s *sqlStore) ListPricing(ctx context.Context) ([]models.PricingEntry, error) {
	rows, err := s.query(ctx, `SELECT `+pricingColumns+` FROM pricing WHERE active
		ORDER BY vendor, model, api_type, metric_type`)
	if err != nil {
		return nil, fmt.Errorf("querying pricing: %w", err)
	}
	defer rows.Close()

	out := []models.PricingEntry{}
	for rows.Next() {
		p, err := scanPricing(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pricing: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPricing makes entry the active price for its tuple, retiring any
// previously active row so history is kept.
func (s *sqlStore) UpsertPricing(ctx context.Context, entry models.PricingEntry) (*models.PricingEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning pricing transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE pricing SET active = ?, updated_at = ?
		WHERE active AND vendor = ? AND model = ? AND api_type = ? AND metric_type = ?
	`), false, s.timeArg(now), entry.Vendor, entry.Model, entry.APIType, string(entry.MetricType)); err != nil {
		return nil, fmt.Errorf("retiring pricing: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO pricing (id, `+pricingColumns+`)
		VALUES (?,?,?,?,?,?,?,?)
	`), uuid.NewString(), entry.Vendor, entry.Model, entry.APIType, string(entry.MetricType),
		entry.PricePerUnit, true, s.timeArg(now)); err != nil {
		return nil, fmt.Errorf("inserting pricing for %s/%s: %w", entry.Vendor, entry.Model, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing pricing: %w", err)
	}
	entry.Active = true
	entry.UpdatedAt = now
	return &entry, nil
}

// SeedPricing writes entries into the pricing table. Tuples that already
// have an active price are left alone unless overwrite is set. It returns
// the number of rows written.
func (s *sqlStore) SeedPricing(ctx context.Context, entries []models.PricingEntry, overwrite bool) (int, error) {
	written := 0
	for _, e := range entries {
		if !overwrite {
			existing, err := s.FindActivePricing(ctx, e.Vendor, e.Model, e.APIType, e.MetricType)
			if err != nil {
				return written, err
			}
			if existing != nil {
				continue
			}
		}
		if _, err := s.UpsertPricing(ctx, e); err != nil {
			return written, fmt.Errorf("seeding pricing for %s/%s: %w", e.Vendor, e.Model, err)
		}
		written++
	}
	return written, nil
}
