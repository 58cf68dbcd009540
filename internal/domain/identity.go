package domain

import "time"

// NeverExpires is the expiry sentinel for tokens issued with a zero lifetime.
var NeverExpires = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Identity is the caller resolved from a credential. Read-only outside the session layer.
type Identity struct {
	ID            string
	Name          string
	EmailAddress  string
	EmailVerified bool
	PasswordHash  string
	Roles         []Role
	CreatedAt     time.Time
	LastLogin     time.Time
	LastAccess    time.Time
}

// EffectiveRoles returns the granted roles plus the implicit lowest role.
func (i *Identity) EffectiveRoles() []Role {
	if i == nil {
		return nil
	}
	roles := make([]Role, 0, len(i.Roles)+1)
	implicit := true
	for _, role := range i.Roles {
		if role == RoleUser {
			implicit = false
		}
		roles = append(roles, role)
	}
	if implicit {
		roles = append(roles, RoleUser)
	}
	return roles
}

// HasRole reports whether the exact role was granted.
func (i *Identity) HasRole(role Role) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AccessToken is an issued bearer credential.
type AccessToken struct {
	Token  string
	Expire time.Time
}

// ValidAt reports whether the token is usable at now (now <= expire).
func (t AccessToken) ValidAt(now time.Time) bool {
	return !now.After(t.Expire)
}

// NeverExpires reports whether the token carries the never-expire sentinel.
func (t AccessToken) NeverExpires() bool {
	return !t.Expire.Before(NeverExpires)
}

// ExpireMillis returns the expiry as epoch milliseconds.
func (t AccessToken) ExpireMillis() int64 {
	return t.Expire.UnixMilli()
}
