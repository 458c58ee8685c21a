package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/access"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/pricing"
	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

// ErrInvalidInput is returned for malformed directory or pricing changes.
var ErrInvalidInput = errors.New("invalid input")

// CustomerInput carries customer fields for create and update. Nil pointers
// leave the stored value unchanged on update.
type CustomerInput struct {
	CustomerID       string           `json:"customer_id"`
	OrganizationName string           `json:"organization_name"`
	ContactEmail     string           `json:"contact_email"`
	ContactPhone     string           `json:"contact_phone"`
	Address          string           `json:"address"`
	MarkupPercentage *decimal.Decimal `json:"markup_percentage"`
	Active           *bool            `json:"active"`
}

// UserInput carries user fields for create and update.
type UserInput struct {
	UserID     string `json:"user_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Department string `json:"department"`
	Role       string `json:"role"`
	CustomerID string `json:"customer_id"`
	Active     *bool  `json:"active"`
}

func requireSuperAdmin(p access.Principal) error {
	if !p.IsSuperAdmin() {
		return access.ErrForbidden
	}
	return nil
}

func validMarkup(m decimal.Decimal) error {
	if m.IsNegative() {
		return fmt.Errorf("%w: markup_percentage must not be negative", ErrInvalidInput)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

// ListCustomers returns every active customer. SUPERADMIN only.
func (s *Service) ListCustomers(ctx context.Context, p access.Principal) ([]models.Customer, error) {
	if err := requireSuperAdmin(p); err != nil {
		return nil, err
	}
	return s.store.ListCustomers(ctx)
}

// SearchCustomers matches name or contact email. SUPERADMIN only.
func (s *Service) SearchCustomers(ctx context.Context, p access.Principal, term string) ([]models.Customer, error) {
	if err := requireSuperAdmin(p); err != nil {
		return nil, err
	}
	return s.store.SearchCustomers(ctx, term)
}

// GetCustomer returns a customer visible to p.
func (s *Service) GetCustomer(ctx context.Context, p access.Principal, id string) (*models.Customer, error) {
	if !access.CanViewCustomer(p, id) {
		return nil, access.ErrForbidden
	}
	return s.store.GetCustomer(ctx, id)
}

// CreateCustomer registers a customer. SUPERADMIN only.
func (s *Service) CreateCustomer(ctx context.Context, p access.Principal, in CustomerInput) (*models.Customer, error) {
	if err := requireSuperAdmin(p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.CustomerID) == "" || strings.TrimSpace(in.OrganizationName) == "" {
		return nil, fmt.Errorf("%w: customer_id and organization_name are required", ErrInvalidInput)
	}
	c := &models.Customer{
		CustomerID:       strings.TrimSpace(in.CustomerID),
		OrganizationName: in.OrganizationName,
		ContactEmail:     in.ContactEmail,
		ContactPhone:     in.ContactPhone,
		Address:          in.Address,
		MarkupPercentage: models.DefaultMarkupPercentage,
		Active:           true,
	}
	if in.MarkupPercentage != nil {
		if err := validMarkup(*in.MarkupPercentage); err != nil {
			return nil, err
		}
		c.MarkupPercentage = *in.MarkupPercentage
	}
	if in.Active != nil {
		c.Active = *in.Active
	}
	if err := s.store.CreateCustomer(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info("customer created", "customer_id", c.CustomerID, "by", p.UserID)
	return c, nil
}

// UpdateCustomer applies the non-empty fields of in. SUPERADMIN only.
func (s *Service) UpdateCustomer(ctx context.Context, p access.Principal, id string, in CustomerInput) (*models.Customer, error) {
	if err := requireSuperAdmin(p); err != nil {
		return nil, err
	}
	c, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.OrganizationName != "" {
		c.OrganizationName = in.OrganizationName
	}
	if in.ContactEmail != "" {
		c.ContactEmail = in.ContactEmail
	}
	if in.ContactPhone != "" {
		c.ContactPhone = in.ContactPhone
	}
	if in.Address != "" {
		c.Address = in.Address
	}
	if in.MarkupPercentage != nil {
		if err := validMarkup(*in.MarkupPercentage); err != nil {
			return nil, err
		}
		c.MarkupPercentage = *in.MarkupPercentage
	}
	if in.Active != nil {
		c.Active = *in.Active
	}
	if err := s.store.UpdateCustomer(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateCustomerMarkup changes a customer's markup. Events already recorded
// keep the revenue they were priced with. SUPERADMIN only.
func (s *Service) UpdateCustomerMarkup(ctx context.Context, p access.Principal, id string, markup decimal.Decimal) (*models.Customer, error) {
	if err := requireSuperAdmin(p); err != nil {
		return nil, err
	}
	if err := validMarkup(markup); err != nil {
		return nil, err
	}
	if err := s.store.UpdateCustomerMarkup(ctx, id, markup); err != nil {
		return nil, err
	}
	s.log.Info("customer markup changed", "customer_id", id, "markup_percentage", markup.String(), "by", p.UserID)
	return s.store.GetCustomer(ctx, id)
}

// DeleteCustomer deactivates a customer. SUPERADMIN only.
func (s *Service) DeleteCustomer(ctx context.Context, p access.Principal, id string) error {
	if err := requireSuperAdmin(p); err != nil {
		return err
	}
	return s.store.DeactivateCustomer(ctx, id)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// userScope is the customer filter for user listings: every tenant for
// SUPERADMIN, the own tenant for ADMIN.
func userScope(p access.Principal) (string, error) {
	if !p.CanManageUsers() {
		return "", access.ErrForbidden
	}
	if p.IsSuperAdmin() {
		return "", nil
	}
	if p.CustomerID == "" {
		return "", access.ErrForbidden
	}
	return p.CustomerID, nil
}

// ListUsers returns the active users p may manage.
func (s *Service) ListUsers(ctx context.Context, p access.Principal) ([]models.User, error) {
	scope, err := userScope(p)
	if err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx, scope)
}

// SearchUsers matches name or email among the users p may manage.
func (s *Service) SearchUsers(ctx context.Context, p access.Principal, term string) ([]models.User, error) {
	scope, err := userScope(p)
	if err != nil {
		return nil, err
	}
	return s.store.SearchUsers(ctx, term, scope)
}

// GetUser returns a user p may manage, or p itself.
func (s *Service) GetUser(ctx context.Context, p access.Principal, id string) (*models.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != id && !access.CanManageUser(p, u.CustomerID) {
		return nil, access.ErrForbidden
	}
	return u, nil
}

// CreateUser registers a user. ADMIN creates users in its own tenant only
// and cannot grant SUPERADMIN.
func (s *Service) CreateUser(ctx context.Context, p access.Principal, in UserInput) (*models.User, error) {
	if !p.CanManageUsers() {
		return nil, access.ErrForbidden
	}
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.Email) == "" {
		return nil, fmt.Errorf("%w: user_id and email are required", ErrInvalidInput)
	}
	u := &models.User{
		UserID:     strings.TrimSpace(in.UserID),
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		Email:      in.Email,
		Department: in.Department,
		Role:       models.ParseRole(in.Role),
		Active:     true,
		CustomerID: in.CustomerID,
	}
	if in.Active != nil {
		u.Active = *in.Active
	}
	if !access.CanGrantRole(p, u.Role) {
		return nil, access.ErrForbidden
	}
	if !p.IsSuperAdmin() {
		u.CustomerID = p.CustomerID
	}
	if u.Role != models.RoleSuperAdmin && u.CustomerID == "" {
		return nil, fmt.Errorf("%w: customer_id is required for %s users", ErrInvalidInput, u.Role)
	}
	if err := s.requireCustomer(ctx, u.CustomerID); err != nil {
		return nil, err
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("user created", "user_id", u.UserID, "customer_id", u.CustomerID, "role", string(u.Role), "by", p.UserID)
	return u, nil
}

// UpdateUser applies the non-empty fields of in to a user p may manage.
func (s *Service) UpdateUser(ctx context.Context, p access.Principal, id string, in UserInput) (*models.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanManageUser(p, u.CustomerID) {
		return nil, access.ErrForbidden
	}
	if in.FirstName != "" {
		u.FirstName = in.FirstName
	}
	if in.LastName != "" {
		u.LastName = in.LastName
	}
	if in.Email != "" {
		u.Email = in.Email
	}
	if in.Department != "" {
		u.Department = in.Department
	}
	if in.Role != "" {
		role := models.ParseRole(in.Role)
		if !access.CanGrantRole(p, role) {
			return nil, access.ErrForbidden
		}
		u.Role = role
	}
	if in.CustomerID != "" && in.CustomerID != u.CustomerID {
		if !p.IsSuperAdmin() {
			return nil, access.ErrForbidden
		}
		if err := s.requireCustomer(ctx, in.CustomerID); err != nil {
			return nil, err
		}
		u.CustomerID = in.CustomerID
	}
	if in.Active != nil {
		u.Active = *in.Active
	}
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// requireCustomer rejects references to unknown customers. An empty id
// refers to no customer.
func (s *Service) requireCustomer(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	_, err := s.store.GetCustomer(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: unknown customer_id %q", ErrInvalidInput, id)
	}
	return err
}

// DeleteUser deactivates a user p may manage.
func (s *Service) DeleteUser(ctx context.Context, p access.Principal, id string) error {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if !access.CanManageUser(p, u.CustomerID) {
		return access.ErrForbidden
	}
	return s.store.DeactivateUser(ctx, id)
}

// ---------------------------------------------------------------------------
// Pricing
// ---------------------------------------------------------------------------

// ListPricing returns the active price table.
func (s *Service) ListPricing(ctx context.Context) ([]models.PricingEntry, error) {
	return s.store.ListPricing(ctx)
}

// UpsertPricing sets the active price of one tuple. SUPERADMIN only. An empty
// api type is derived from the metric.
func (s *Service) UpsertPricing(ctx context.Context, p access.Principal, entry models.PricingEntry) (*models.PricingEntry, error) {
	if err := requireSuperAdmin(p); err != nil {
		return nil, err
	}
	if entry.Vendor == "" || entry.Model == "" {
		return nil, fmt.Errorf("%w: vendor and model are required", ErrInvalidInput)
	}
	if !entry.MetricType.Valid() {
		return nil, fmt.Errorf("%w: unknown metric_type %q", ErrInvalidInput, entry.MetricType)
	}
	if entry.PricePerUnit.IsNegative() {
		return nil, fmt.Errorf("%w: price_per_unit must not be negative", ErrInvalidInput)
	}
	if entry.APIType == "" {
		entry.APIType = pricing.APITypeFor(entry.MetricType)
	}
	saved, err := s.store.UpsertPricing(ctx, entry)
	if err != nil {
		return nil, err
	}
	s.log.Info("pricing updated",
		"vendor", saved.Vendor,
		"model", saved.Model,
		"api_type", saved.APIType,
		"metric", string(saved.MetricType),
		"price_per_unit", saved.PricePerUnit.String(),
		"by", p.UserID,
	)
	return saved, nil
}
