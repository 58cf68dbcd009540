package auth

import (
	"fmt"

	"github.com/spec-kit/channel-service/internal/domain"
	"github.com/spec-kit/channel-service/pkg/util/errorutil"
)

// ErrUnauthenticated is returned when an operation requires a caller and none is present.
var ErrUnauthenticated = errorutil.NewUnauthorized("authentication required")

type predicateKind int

const (
	predicateAuthenticated predicateKind = iota + 1
	predicateHasRole
)

// Predicate is a requirement checked by Require. The zero value is invalid
// and always rejects.
type Predicate struct {
	kind predicateKind
	role domain.Role
}

// Authenticated is satisfied by any resolved identity.
func Authenticated() Predicate {
	return Predicate{kind: predicateAuthenticated}
}

// HasRole is satisfied by an identity holding required or a higher role.
func HasRole(required domain.Role) Predicate {
	return Predicate{kind: predicateHasRole, role: required}
}

func (p Predicate) String() string {
	switch p.kind {
	case predicateAuthenticated:
		return "Authenticated"
	case predicateHasRole:
		return fmt.Sprintf("HasRole(%s)", p.role)
	default:
		return "Invalid"
	}
}

// Require evaluates the predicate against identity. It returns nil,
// ErrUnauthenticated, or a FORBIDDEN error carrying the required and held roles.
func Require(identity *domain.Identity, p Predicate) error {
	if identity == nil {
		return ErrUnauthenticated
	}

	held := identity.EffectiveRoles()
	switch p.kind {
	case predicateAuthenticated:
		return nil
	case predicateHasRole:
		if domain.Satisfies(held, p.role) {
			return nil
		}
		return forbidden(p.role.String(), held)
	default:
		return forbidden(p.String(), held)
	}
}

func forbidden(required string, held []domain.Role) error {
	names := make([]string, 0, len(held))
	for _, role := range held {
		names = append(names, role.String())
	}
	return errorutil.NewForbidden(
		fmt.Sprintf("role %s required", required),
		map[string]any{"required": required, "held": names},
	)
}
