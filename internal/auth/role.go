package auth

import (
	"fmt"
	"strings"
)

// Role is an authorisation tier. The zero value is not a valid role.
type Role uint8

const (
	// RoleOperator reports incidents and closes the ones it reported.
	RoleOperator Role = iota + 1

	// RoleSupervisor oversees the operator population.
	RoleSupervisor

	// RoleAdmin manages every identity and sees every incident.
	RoleAdmin
)

// Roles lists every valid role, lowest tier first.
var Roles = []Role{RoleOperator, RoleSupervisor, RoleAdmin}

// String returns the stored and wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleOperator:
		return "operator"
	case RoleSupervisor:
		return "supervisor"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Valid reports whether r is one of the three defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOperator, RoleSupervisor, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole converts a role name into a Role. Matching ignores case and
// surrounding whitespace.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "operator":
		return RoleOperator, nil
	case "supervisor":
		return RoleSupervisor, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrValidation, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: cannot encode %s", ErrValidation, r)
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
