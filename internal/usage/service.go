// Package usage ingests usage events and administers the customer, user and
// pricing directory that events reference.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/access"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/logger"
	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

const tracerName = "github.com/bigdegenenergy/open-cloud-ops/meter/internal/usage"

// Paging limits for event listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

var (
	ErrInvalidEvent     = errors.New("invalid usage event")
	ErrCustomerNotFound = errors.New("customer not found and no customer details provided")
	ErrUserNotFound     = errors.New("user not found and no user details provided")
)

// Store is the persistence surface used by the service.
type Store interface {
	SaveEvent(ctx context.Context, event *models.UsageEvent) error
	GetEvent(ctx context.Context, eventID string) (*models.UsageEvent, error)
	ListEvents(ctx context.Context, filter models.EventFilter, page, size int) (*models.EventPage, error)

	GetCustomer(ctx context.Context, customerID string) (*models.Customer, error)
	ListCustomers(ctx context.Context) ([]models.Customer, error)
	SearchCustomers(ctx context.Context, term string) ([]models.Customer, error)
	CreateCustomer(ctx context.Context, c *models.Customer) error
	UpdateCustomer(ctx context.Context, c *models.Customer) error
	UpdateCustomerMarkup(ctx context.Context, customerID string, markup decimal.Decimal) error
	DeactivateCustomer(ctx context.Context, customerID string) error

	GetUser(ctx context.Context, userID string) (*models.User, error)
	ListUsers(ctx context.Context, customerID string) ([]models.User, error)
	SearchUsers(ctx context.Context, term, customerID string) ([]models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	UpdateUser(ctx context.Context, u *models.User) error
	DeactivateUser(ctx context.Context, userID string) error

	ListPricing(ctx context.Context) ([]models.PricingEntry, error)
	UpsertPricing(ctx context.Context, entry models.PricingEntry) (*models.PricingEntry, error)
}

// Pricer fills in the cost fields of an event.
type Pricer interface {
	Calculate(ctx context.Context, event models.UsageEvent, customer models.Customer) (models.UsageEvent, error)
}

// CustomerDetails provisions a customer on first sight.
type CustomerDetails struct {
	OrganizationName string           `json:"organization_name"`
	ContactEmail     string           `json:"contact_email"`
	ContactPhone     string           `json:"contact_phone,omitempty"`
	Address          string           `json:"address,omitempty"`
	MarkupPercentage *decimal.Decimal `json:"markup_percentage,omitempty"`
}

// UserDetails provisions a user on first sight.
type UserDetails struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Department string `json:"department,omitempty"`
	Role       string `json:"role,omitempty"`
}

// IngestRequest is one raw usage event as submitted by a caller.
type IngestRequest struct {
	CustomerID   string          `json:"customer_id"`
	UserID       string          `json:"user_id"`
	Vendor       string          `json:"vendor"`
	Model        string          `json:"model"`
	APIType      string          `json:"api_type"`
	Region       string          `json:"region,omitempty"`
	Endpoint     string          `json:"endpoint,omitempty"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	TotalTokens  int64           `json:"total_tokens"`
	CachedTokens int64           `json:"cached_tokens"`
	ImageCount   int64           `json:"image_count"`
	VideoCount   int64           `json:"video_count"`
	AudioMinutes decimal.Decimal `json:"audio_minutes"`
	RequestCount int64           `json:"request_count"`
	RequestID    string          `json:"request_id,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	Status       string          `json:"status,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Currency     string          `json:"currency,omitempty"`
	Timestamp    *time.Time      `json:"timestamp,omitempty"`

	CustomerDetails *CustomerDetails `json:"customer_details,omitempty"`
	UserDetails     *UserDetails     `json:"user_details,omitempty"`
}

// Service records priced usage events and administers the directory.
type Service struct {
	store  Store
	pricer Pricer
	tracer trace.Tracer
	log    *logger.Logger
	now    func() time.Time
}

// NewService creates a Service. A nil tracer uses the global provider.
func NewService(store Store, pricer Pricer, tracer trace.Tracer, log *logger.Logger) *Service {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Service{
		store:  store,
		pricer: pricer,
		tracer: tracer,
		log:    logger.OrNop(log),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ingest validates, prices and stores one usage event on behalf of p.
// Non-superadmins may only record events for their own customer. Unknown
// customers and users are created from the request's details when present,
// under the same role and markup rules as the directory operations.
func (s *Service) Ingest(ctx context.Context, p access.Principal, req IngestRequest) (*models.UsageEvent, error) {
	ctx, span := s.tracer.Start(ctx, "usage.Ingest", trace.WithAttributes(
		attribute.String("meter.customer_id", req.CustomerID),
		attribute.String("meter.vendor", req.Vendor),
		attribute.String("meter.model", req.Model),
	))
	defer span.End()

	scope, err := access.ResolveScope(p, req.CustomerID)
	if err != nil {
		return nil, fail(span, err)
	}
	req.CustomerID = scope

	metadata, err := validate(req)
	if err != nil {
		return nil, fail(span, err)
	}

	customer, err := s.ensureCustomer(ctx, p, req.CustomerID, req.CustomerDetails)
	if err != nil {
		return nil, fail(span, err)
	}
	if _, err := s.ensureUser(ctx, p, req.UserID, req.CustomerID, req.UserDetails); err != nil {
		return nil, fail(span, err)
	}

	event := s.newEvent(req, metadata)
	priced, err := s.pricer.Calculate(ctx, event, *customer)
	if err != nil {
		return nil, fail(span, fmt.Errorf("pricing event: %w", err))
	}
	if err := s.store.SaveEvent(ctx, &priced); err != nil {
		return nil, fail(span, fmt.Errorf("saving event: %w", err))
	}

	span.SetAttributes(
		attribute.String("meter.event_id", priced.EventID),
		attribute.String("meter.total_cost", priced.TotalCost.String()),
	)
	s.log.Info("usage event recorded",
		"event_id", priced.EventID,
		"customer_id", priced.CustomerID,
		"user_id", priced.UserID,
		"vendor", priced.Vendor,
		"model", priced.Model,
		"total_cost", priced.TotalCost.String(),
		"revenue", priced.Revenue.String(),
	)
	return &priced, nil
}

// NewEventID returns "evt_<unix millis>_<8 hex chars>".
func NewEventID(now time.Time) string {
	return fmt.Sprintf("evt_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

func (s *Service) newEvent(req IngestRequest, metadata string) models.UsageEvent {
	now := s.now()
	e := models.UsageEvent{
		EventID:      NewEventID(now),
		CustomerID:   req.CustomerID,
		UserID:       req.UserID,
		Vendor:       req.Vendor,
		Model:        req.Model,
		APIType:      req.APIType,
		Region:       req.Region,
		Endpoint:     req.Endpoint,
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
		TotalTokens:  req.TotalTokens,
		CachedTokens: req.CachedTokens,
		ImageCount:   req.ImageCount,
		VideoCount:   req.VideoCount,
		AudioMinutes: req.AudioMinutes,
		RequestCount: req.RequestCount,
		RequestID:    req.RequestID,
		SessionID:    req.SessionID,
		Status:       req.Status,
		ErrorMessage: req.ErrorMessage,
		Metadata:     metadata,
		Currency:     req.Currency,
		Timestamp:    now,
		CreatedAt:    now,
	}
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		e.Timestamp = req.Timestamp.UTC()
	}
	if e.TotalTokens == 0 {
		e.TotalTokens = e.InputTokens + e.OutputTokens
	}
	if e.RequestCount == 0 {
		e.RequestCount = models.DefaultRequestCount
	}
	if e.Status == "" {
		e.Status = models.DefaultStatus
	}
	if e.Currency == "" {
		e.Currency = models.DefaultCurrency
	}
	return e
}

// validate checks required fields and returns the compacted metadata.
func validate(req IngestRequest) (string, error) {
	required := []struct{ name, value string }{
		{"customer_id", req.CustomerID},
		{"user_id", req.UserID},
		{"vendor", req.Vendor},
		{"model", req.Model},
		{"api_type", req.APIType},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return "", fmt.Errorf("%w: %s is required", ErrInvalidEvent, f.name)
		}
	}

	counts := []struct {
		name  string
		value int64
	}{
		{"input_tokens", req.InputTokens},
		{"output_tokens", req.OutputTokens},
		{"total_tokens", req.TotalTokens},
		{"cached_tokens", req.CachedTokens},
		{"image_count", req.ImageCount},
		{"video_count", req.VideoCount},
		{"request_count", req.RequestCount},
	}
	for _, c := range counts {
		if c.value < 0 {
			return "", fmt.Errorf("%w: %s must not be negative", ErrInvalidEvent, c.name)
		}
	}
	if req.AudioMinutes.IsNegative() {
		return "", fmt.Errorf("%w: audio_minutes must not be negative", ErrInvalidEvent)
	}

	raw := strings.TrimSpace(string(req.Metadata))
	if raw == "" || raw == "null" {
		return "", nil
	}
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return "", fmt.Errorf("%w: metadata must be a JSON object", ErrInvalidEvent)
	}
	return gjson.Get(raw, "@ugly").Raw, nil
}

func (s *Service) ensureCustomer(ctx context.Context, p access.Principal, id string, details *CustomerDetails) (*models.Customer, error) {
	c, err := s.store.GetCustomer(ctx, id)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("loading customer: %w", err)
	}
	if details == nil {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, id)
	}

	c = &models.Customer{
		CustomerID:       id,
		OrganizationName: details.OrganizationName,
		ContactEmail:     details.ContactEmail,
		ContactPhone:     details.ContactPhone,
		Address:          details.Address,
		MarkupPercentage: models.DefaultMarkupPercentage,
		Active:           true,
	}
	if details.MarkupPercentage != nil {
		if !p.IsSuperAdmin() {
			return nil, fmt.Errorf("%w: only SUPERADMIN sets markup_percentage", access.ErrForbidden)
		}
		if err := validMarkup(*details.MarkupPercentage); err != nil {
			return nil, err
		}
		c.MarkupPercentage = *details.MarkupPercentage
	}
	if err := s.store.CreateCustomer(ctx, c); err != nil {
		// Lost a race with a concurrent ingest for the same customer.
		if errors.Is(err, database.ErrConflict) {
			return s.store.GetCustomer(ctx, id)
		}
		return nil, fmt.Errorf("creating customer: %w", err)
	}
	s.log.Info("customer provisioned", "customer_id", id, "markup_percentage", c.MarkupPercentage.String())
	return c, nil
}

// ensureUser loads or provisions the event's user. An existing user must
// belong to the event's customer.
func (s *Service) ensureUser(ctx context.Context, p access.Principal, id, customerID string, details *UserDetails) (*models.User, error) {
	u, err := s.store.GetUser(ctx, id)
	switch {
	case err == nil:
		return userOf(u, customerID)
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("loading user: %w", err)
	case details == nil:
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}

	u = &models.User{
		UserID:     id,
		FirstName:  details.FirstName,
		LastName:   details.LastName,
		Email:      details.Email,
		Department: details.Department,
		Role:       models.ParseRole(details.Role),
		Active:     true,
		CustomerID: customerID,
	}
	if !access.CanGrantRole(p, u.Role) {
		return nil, fmt.Errorf("%w: cannot provision a %s user", access.ErrForbidden, u.Role)
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		// Lost a race with a concurrent ingest for the same user.
		if errors.Is(err, database.ErrConflict) {
			if u, err = s.store.GetUser(ctx, id); err != nil {
				return nil, fmt.Errorf("loading user: %w", err)
			}
			return userOf(u, customerID)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	s.log.Info("user provisioned", "user_id", id, "customer_id", customerID, "role", string(u.Role))
	return u, nil
}

func userOf(u *models.User, customerID string) (*models.User, error) {
	if u.CustomerID != customerID {
		return nil, fmt.Errorf("%w: user %s does not belong to customer %s", access.ErrForbidden, u.UserID, customerID)
	}
	return u, nil
}

// EventQuery selects a page of events.
type EventQuery struct {
	models.EventFilter
	Page int
	Size int
}

// ListEvents returns a page of events within the principal's tenant scope.
func (s *Service) ListEvents(ctx context.Context, p access.Principal, q EventQuery) (*models.EventPage, error) {
	scope, err := access.ResolveScope(p, q.CustomerID)
	if err != nil {
		return nil, err
	}
	q.CustomerID = scope
	if q.Page < 0 {
		q.Page = 0
	}
	switch {
	case q.Size <= 0:
		q.Size = DefaultPageSize
	case q.Size > MaxPageSize:
		q.Size = MaxPageSize
	}
	return s.store.ListEvents(ctx, q.EventFilter, q.Page, q.Size)
}

// GetEvent returns one event. Events outside the principal's tenant are
// reported as not found.
func (s *Service) GetEvent(ctx context.Context, p access.Principal, eventID string) (*models.UsageEvent, error) {
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !access.CanViewCustomer(p, e.CustomerID) {
		return nil, fmt.Errorf("event %s: %w", eventID, database.ErrNotFound)
	}
	return e, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
