package dto

import (
	"github.com/spec-kit/channel-service/internal/domain"
)

// RegisterRequest payload for new identities.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email_address"`
	Password string `json:"password"`
}

// TokenRequest payload for issuing an access token. Lifetime is in minutes;
// nil selects the configured default and 0 never expires.
type TokenRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Lifetime *int   `json:"lifetime,omitempty"`
}

// TokenResponse carries an issued token. Expire is epoch milliseconds.
type TokenResponse struct {
	Token  string `json:"token"`
	Expire int64  `json:"expire"`
}

// GrantRoleRequest payload for POST /admin/roles.
type GrantRoleRequest struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

// IdentityResponse is the public view of an identity.
type IdentityResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	EmailAddress  string   `json:"email_address"`
	EmailVerified bool     `json:"email_verified"`
	Roles         []string `json:"roles"`
	WhenCreated   int64    `json:"when_created"`
	LastLogin     int64    `json:"last_login"`
	LastAccess    int64    `json:"last_access"`
}

// NewIdentityResponse maps an identity, omitting the password hash.
func NewIdentityResponse(identity *domain.Identity) IdentityResponse {
	roles := make([]string, 0, len(identity.Roles))
	for _, role := range identity.Roles {
		roles = append(roles, role.String())
	}
	return IdentityResponse{
		ID:            identity.ID,
		Name:          identity.Name,
		EmailAddress:  identity.EmailAddress,
		EmailVerified: identity.EmailVerified,
		Roles:         roles,
		WhenCreated:   millis(identity.CreatedAt),
		LastLogin:     millis(identity.LastLogin),
		LastAccess:    millis(identity.LastAccess),
	}
}

// NewTokenResponse maps an access token.
func NewTokenResponse(token domain.AccessToken) TokenResponse {
	return TokenResponse{Token: token.Token, Expire: token.ExpireMillis()}
}
