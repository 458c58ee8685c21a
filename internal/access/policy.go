// Package access decides which tenant data a principal may see or change.
package access

import (
	"errors"
	"strings"

	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

// ErrForbidden is returned when a principal asks for data outside its tenant.
var ErrForbidden = errors.New("forbidden")

// Principal is the authenticated caller.
type Principal struct {
	UserID     string
	CustomerID string
	Role       models.Role
}

// IsSuperAdmin reports whether p has cross-tenant access.
func (p Principal) IsSuperAdmin() bool {
	return p.Role == models.RoleSuperAdmin
}

// CanManageUsers reports whether p may create or modify users.
func (p Principal) CanManageUsers() bool {
	return p.Role == models.RoleSuperAdmin || p.Role == models.RoleAdmin
}

// ResolveScope returns the customer id a query must be restricted to.
// SUPERADMIN gets exactly what it asked for, where "" means every tenant.
// Everyone else is pinned to their own customer and may not name another.
func ResolveScope(p Principal, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if p.IsSuperAdmin() {
		return requested, nil
	}
	if p.CustomerID == "" {
		return "", ErrForbidden
	}
	if requested != "" && requested != p.CustomerID {
		return "", ErrForbidden
	}
	return p.CustomerID, nil
}

// CanViewCustomer reports whether p may read the customer record id.
func CanViewCustomer(p Principal, id string) bool {
	return p.IsSuperAdmin() || (p.CustomerID != "" && p.CustomerID == id)
}

// CanManageUser reports whether p may read or modify a user belonging to
// customerID. ADMIN is limited to its own tenant.
func CanManageUser(p Principal, customerID string) bool {
	switch p.Role {
	case models.RoleSuperAdmin:
		return true
	case models.RoleAdmin:
		return p.CustomerID != "" && p.CustomerID == customerID
	}
	return false
}

// CanGrantRole reports whether p may give a user the role r. Nobody grants
// a role above their own.
func CanGrantRole(p Principal, r models.Role) bool {
	return rank(r) <= rank(p.Role)
}

func rank(r models.Role) int {
	switch r {
	case models.RoleSuperAdmin:
		return 2
	case models.RoleAdmin:
		return 1
	}
	return 0
}
