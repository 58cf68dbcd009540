package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/channel-service/internal/domain"
	apperrors "github.com/spec-kit/channel-service/pkg/util/errorutil"
)

const (
	identityKey = "auth_identity"
	digestKey   = "auth_session_digest"
)

// Resolver resolves credentials to identities.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*domain.Identity, error)
	ResolveDigest(ctx context.Context, digest string) (*domain.Identity, error)
}

// AuthMiddleware attaches the caller's identity when a credential is presented.
type AuthMiddleware struct {
	sessions Resolver
	tickets  *TicketManager
}

// NewAuthMiddleware constructs middleware. tickets may be nil.
func NewAuthMiddleware(sessions Resolver, tickets *TicketManager) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions, tickets: tickets}
}

// Handle resolves a bearer token from the Authorization header or the
// authorization query parameter, or a stream ticket from the ticket query
// parameter. Requests without a credential pass through anonymously; an
// invalid credential is rejected.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	if ticket := c.Query("ticket"); ticket != "" && m.tickets != nil {
		claims, err := m.tickets.Parse(ticket)
		if err != nil {
			return apperrors.NewUnauthorized("invalid ticket")
		}
		identity, err := m.sessions.ResolveDigest(c.Context(), claims.Session)
		if err != nil {
			return err
		}
		c.Locals(identityKey, identity)
		c.Locals(digestKey, claims.Session)
		return c.Next()
	}

	token, err := BearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return err
	}
	if token == "" {
		token = c.Query("authorization")
	}
	if token == "" {
		return c.Next()
	}

	identity, err := m.sessions.Resolve(c.Context(), token)
	if err != nil {
		return err
	}
	c.Locals(identityKey, identity)
	c.Locals(digestKey, TokenDigest(token))
	return c.Next()
}

// BearerToken extracts the token from an Authorization header value. A bare
// token without scheme is accepted.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 1 {
		if strings.EqualFold(parts[0], "Bearer") {
			return "", apperrors.NewUnauthorized("invalid authorization header")
		}
		return parts[0], nil
	}
	if !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperrors.NewUnauthorized("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// IdentityFromContext retrieves the authenticated identity, or nil.
func IdentityFromContext(c *fiber.Ctx) *domain.Identity {
	identity, _ := c.Locals(identityKey).(*domain.Identity)
	return identity
}

// SessionDigestFromContext returns the digest of the credential used on this request.
func SessionDigestFromContext(c *fiber.Ctx) string {
	digest, _ := c.Locals(digestKey).(string)
	return digest
}

// RequireAuthenticated rejects anonymous callers.
func RequireAuthenticated() fiber.Handler {
	return Guard(Authenticated())
}

// RequireRole ensures the caller holds the role or a higher one.
func RequireRole(role domain.Role) fiber.Handler {
	return Guard(HasRole(role))
}

// Guard evaluates p against the request identity.
func Guard(p Predicate) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := Require(IdentityFromContext(c), p); err != nil {
			return err
		}
		return c.Next()
	}
}
