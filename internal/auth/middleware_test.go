package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/channel-service/internal/domain"
	apperrors "github.com/spec-kit/channel-service/pkg/util/errorutil"
)

func newTestApp(t *testing.T) (*fiber.App, string, *TicketManager) {
	t.Helper()
	store := newFakeStore()
	store.add(t, "u1", "ada", "pw12")
	resolver := NewSessionResolver(store, nil, nil, time.Second)
	t.Cleanup(resolver.Wait)

	token, _, err := resolver.Issue(context.Background(), "ada", "pw12", 60)
	require.NoError(t, err)

	tickets := NewTicketManager("test-secret", time.Minute)
	mw := NewAuthMiddleware(resolver, tickets)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).SendString(de.Code)
		},
	})
	app.Use(mw.Handle)
	app.Get("/open", func(c *fiber.Ctx) error {
		if identity := IdentityFromContext(c); identity != nil {
			return c.SendString(identity.ID)
		}
		return c.SendString("anonymous")
	})
	app.Get("/private", RequireAuthenticated(), func(c *fiber.Ctx) error {
		return c.SendString(IdentityFromContext(c).Name)
	})
	app.Get("/admin", RequireRole(domain.RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusNoContent)
	})
	return app, token.Token, tickets
}

func TestAuthMiddleware(t *testing.T) {
	app, token, tickets := newTestApp(t)
	ticket, _, err := tickets.Issue("u1", TokenDigest(token))
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"anonymous open", "/open", "", http.StatusOK},
		{"anonymous private", "/private", "", http.StatusUnauthorized},
		{"bearer private", "/private", "Bearer " + token, http.StatusOK},
		{"bare token", "/private", token, http.StatusOK},
		{"query token", "/private?authorization=" + token, "", http.StatusOK},
		{"ticket", "/private?ticket=" + ticket, "", http.StatusOK},
		{"bad ticket", "/private?ticket=garbage", "", http.StatusUnauthorized},
		{"bad scheme", "/private", "Basic abc def", http.StatusUnauthorized},
		{"unknown token", "/open", "Bearer nope", http.StatusUnauthorized},
		{"user on admin route", "/admin", "Bearer " + token, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestTicketManager(t *testing.T) {
	tickets := NewTicketManager("secret", time.Minute)
	ticket, expires, err := tickets.Issue("u1", "digest")
	require.NoError(t, err)
	assert.True(t, expires.After(time.Now()))

	claims, err := tickets.Parse(ticket)
	require.NoError(t, err)
	assert.Equal(t, "digest", claims.Session)
	assert.Equal(t, "u1", claims.Subject)

	_, err = NewTicketManager("other", time.Minute).Parse(ticket)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	token, err := BearerToken("bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	token, err = BearerToken("")
	require.NoError(t, err)
	assert.Empty(t, token)

	_, err = BearerToken("Bearer ")
	assert.Error(t, err)
}
