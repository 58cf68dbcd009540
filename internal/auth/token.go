package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// TicketManager issues short-lived signed stream tickets. A ticket lets a
// browser open a websocket without putting the bearer token in the URL.
type TicketManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTicketManager builds a new manager.
func NewTicketManager(secret string, ttl time.Duration) *TicketManager {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TicketManager{secret: []byte(secret), ttl: ttl}
}

// TicketClaims describes the ticket payload. Session is the digest of the
// bearer token the ticket was exchanged for.
type TicketClaims struct {
	Session string `json:"sid"`
	jwt.RegisteredClaims
}

// Issue signs a ticket bound to the session digest.
func (tm *TicketManager) Issue(identityID, sessionDigest string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tm.ttl)
	claims := &TicketClaims{
		Session: sessionDigest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse validates a ticket and returns its claims.
func (tm *TicketManager) Parse(ticket string) (*TicketClaims, error) {
	parsed, err := jwt.ParseWithClaims(ticket, &TicketClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*TicketClaims)
	if !ok || !parsed.Valid || claims.Session == "" {
		return nil, errors.New("invalid ticket claims")
	}
	return claims, nil
}
