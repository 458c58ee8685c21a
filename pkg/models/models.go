// Package models defines the core data structures used across Meter.
package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Role is the access level of a User.
type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPERADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// ParseRole normalizes s into a Role. Unknown values map to RoleUser.
func ParseRole(s string) Role {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return RoleUser
	}
	return r
}

// MetricType is the billable unit a price applies to.
type MetricType string

const (
	MetricInputTokens  MetricType = "input_tokens"
	MetricOutputTokens MetricType = "output_tokens"
	MetricImageCount   MetricType = "image_count"
	MetricVideoCount   MetricType = "video_count"
	MetricAudioMinutes MetricType = "audio_minutes"
)

// Valid reports whether m is one of the known metric types.
func (m MetricType) Valid() bool {
	switch m {
	case MetricInputTokens, MetricOutputTokens, MetricImageCount, MetricVideoCount, MetricAudioMinutes:
		return true
	}
	return false
}

// Known API types. Events may carry other values; these are the ones the
// default pricing and dashboards know about.
const (
	APITypeText  = "text"
	APITypeImage = "image"
	APITypeAudio = "audio"
	APITypeVideo = "video"
)

const (
	DefaultCurrency     = "USD"
	DefaultStatus       = "success"
	DefaultRequestCount = 1
)

// DefaultMarkupPercentage is applied to customers created without an explicit markup.
var DefaultMarkupPercentage = decimal.NewFromInt(30)

// UsageEvent is one billable interaction. It is priced once at ingestion
// and never mutated afterwards.
type UsageEvent struct {
	EventID      string          `json:"event_id" db:"event_id"`
	CustomerID   string          `json:"customer_id" db:"customer_id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Vendor       string          `json:"vendor" db:"vendor"`
	Model        string          `json:"model" db:"model"`
	APIType      string          `json:"api_type" db:"api_type"`
	Region       string          `json:"region,omitempty" db:"region"`
	Endpoint     string          `json:"endpoint,omitempty" db:"endpoint"`
	InputTokens  int64           `json:"input_tokens" db:"input_tokens"`
	OutputTokens int64           `json:"output_tokens" db:"output_tokens"`
	TotalTokens  int64           `json:"total_tokens" db:"total_tokens"`
	CachedTokens int64           `json:"cached_tokens" db:"cached_tokens"`
	ImageCount   int64           `json:"image_count" db:"image_count"`
	VideoCount   int64           `json:"video_count" db:"video_count"`
	AudioMinutes decimal.Decimal `json:"audio_minutes" db:"audio_minutes"`
	RequestCount int64           `json:"request_count" db:"request_count"`
	RequestID    string          `json:"request_id,omitempty" db:"request_id"`
	SessionID    string          `json:"session_id,omitempty" db:"session_id"`
	Status       string          `json:"status" db:"status"`
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`
	Metadata     string          `json:"metadata,omitempty" db:"metadata"` // compact JSON text

	InputCost  decimal.Decimal `json:"input_cost" db:"input_cost"`
	OutputCost decimal.Decimal `json:"output_cost" db:"output_cost"`
	TotalCost  decimal.Decimal `json:"total_cost" db:"total_cost"`
	Revenue    decimal.Decimal `json:"revenue" db:"revenue"`
	Profit     decimal.Decimal `json:"profit" db:"profit"`
	Currency   string          `json:"currency" db:"currency"`

	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Customer is a tenant. It owns users and usage events.
type Customer struct {
	CustomerID       string          `json:"customer_id" db:"customer_id"`
	OrganizationName string          `json:"organization_name" db:"organization_name"`
	ContactEmail     string          `json:"contact_email" db:"contact_email"`
	ContactPhone     string          `json:"contact_phone,omitempty" db:"contact_phone"`
	Address          string          `json:"address,omitempty" db:"address"`
	MarkupPercentage decimal.Decimal `json:"markup_percentage" db:"markup_percentage"`
	Active           bool            `json:"active" db:"active"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// User belongs to a customer, except SUPERADMIN operators who may have none.
type User struct {
	UserID     string    `json:"user_id" db:"user_id"`
	FirstName  string    `json:"first_name" db:"first_name"`
	LastName   string    `json:"last_name" db:"last_name"`
	Email      string    `json:"email" db:"email"`
	Department string    `json:"department,omitempty" db:"department"`
	Role       Role      `json:"role" db:"role"`
	Active     bool      `json:"active" db:"active"`
	CustomerID string    `json:"customer_id,omitempty" db:"customer_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// PricingEntry is the price of one unit of a metric for a vendor/model/api type.
type PricingEntry struct {
	Vendor       string          `json:"vendor" db:"vendor"`
	Model        string          `json:"model" db:"model"`
	APIType      string          `json:"api_type" db:"api_type"`
	MetricType   MetricType      `json:"metric_type" db:"metric_type"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" db:"price_per_unit"`
	Active       bool            `json:"active" db:"active"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// EventFilter scopes a ledger read. Empty strings and zero times mean "any".
// Start and End are inclusive.
type EventFilter struct {
	CustomerID string
	UserID     string
	Vendor     string
	Model      string
	APIType    string
	Start      time.Time
	End        time.Time
}

// EventPage is one page of a filtered event listing.
type EventPage struct {
	Items      []UsageEvent `json:"items"`
	Page       int          `json:"page"`
	Size       int          `json:"size"`
	Total      int64        `json:"total"`
	TotalPages int          `json:"total_pages"`
}
