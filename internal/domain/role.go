package domain

import (
	"fmt"
	"strings"
)

// Role is a privilege level. Roles form a total order: Root > Admin > User.
type Role string

const (
	RoleRoot  Role = "Root"
	RoleAdmin Role = "Admin"
	RoleUser  Role = "User"
)

// rank returns 0 for roles outside the hierarchy.
func (r Role) rank() int {
	switch r {
	case RoleRoot:
		return 3
	case RoleAdmin:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r belongs to the hierarchy.
func (r Role) Valid() bool {
	return r.rank() > 0
}

func (r Role) String() string {
	return string(r)
}

// ParseRole accepts a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	for _, role := range []Role{RoleRoot, RoleAdmin, RoleUser} {
		if strings.EqualFold(strings.TrimSpace(s), string(role)) {
			return role, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Outranks reports whether a is strictly higher than b.
func Outranks(a, b Role) bool {
	if !a.Valid() || !b.Valid() {
		return false
	}
	return a.rank() > b.rank()
}

// Satisfies reports whether any held role equals or outranks required.
// Unknown roles never satisfy and are never satisfied.
func Satisfies(held []Role, required Role) bool {
	if !required.Valid() {
		return false
	}
	for _, role := range held {
		if role == required || Outranks(role, required) {
			return true
		}
	}
	return false
}
