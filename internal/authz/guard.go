package authz

import (
	"errors"
	"fmt"

	"github.com/tanvir/tenantbook/internal/model"
)

// ErrAccessDenied marks an authenticated caller that is not authorized for
// the tenant or record it addressed.
var ErrAccessDenied = errors.New("access denied")

// Role is the caller's authorization level, parsed once from the verified
// credential and dispatched on exhaustively.
type Role int

const (
	RoleUser Role = iota
	RoleTenantAdmin
	RoleSuperAdmin
)

func ParseRole(s string) (Role, error) {
	switch s {
	case "user":
		return RoleUser, nil
	case "tenant-admin":
		return RoleTenantAdmin, nil
	case "super-admin":
		return RoleSuperAdmin, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleTenantAdmin:
		return "tenant-admin"
	case RoleSuperAdmin:
		return "super-admin"
	}
	return "unknown"
}

// Identity is a verified caller: who they are, which tenant bound them, and
// what they may do. It carries no credential material.
type Identity struct {
	UserID   string
	TenantID string
	Role     Role
}

// CanAccessTenant is the hard gate in front of every storage operation.
// Failure must surface as an authorization error, never as "not found".
func CanAccessTenant(id Identity, tenantID string) bool {
	switch id.Role {
	case RoleSuperAdmin:
		return true
	case RoleTenantAdmin, RoleUser:
		return id.TenantID == tenantID
	}
	return false
}

// CanActOnRecord authorizes read/update/delete of a specific record after it
// has been fetched. Tenant admins act on any record inside their own tenant;
// plain users only on records they own.
func CanActOnRecord(id Identity, rec model.Appointment) bool {
	switch id.Role {
	case RoleSuperAdmin:
		return true
	case RoleTenantAdmin:
		return id.TenantID == rec.TenantID
	case RoleUser:
		return id.UserID == rec.OwnerUserID
	}
	return false
}
