package workflow

import "fmt"

// Role identifies who is acting on an expense
type Role string

const (
	RoleSystem   Role = "SYSTEM"
	RoleEmployee Role = "EMPLOYEE"
	RoleManager  Role = "MANAGER"
	RoleFinance  Role = "FINANCE"
	RoleHR       Role = "HR"
	RoleAdmin    Role = "ADMIN"
)

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid returns true for any known role
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleEmployee, RoleManager, RoleFinance, RoleHR, RoleAdmin:
		return true
	default:
		return false
	}
}

// Label returns the human-readable name used in remarks and notifications
func (r Role) Label() string {
	switch r {
	case RoleManager:
		return "Manager"
	case RoleFinance:
		return "Finance"
	case RoleHR:
		return "HR"
	case RoleAdmin:
		return "Admin"
	case RoleSystem:
		return "System"
	default:
		return "Employee"
	}
}

// ActorHasRole is the single authorization predicate for decisions.
// ADMIN satisfies every human role; nobody but the system acts as SYSTEM.
func ActorHasRole(actor, required Role) bool {
	if actor == required {
		return true
	}
	return actor == RoleAdmin && required != RoleSystem
}

// ParseRole converts a stored role into a Role
func ParseRole(s string) (Role, error) {
	role := Role(s)
	if !role.IsValid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return role, nil
}
