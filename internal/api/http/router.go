package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/channel-service/internal/api/http/handlers"
	"github.com/spec-kit/channel-service/internal/auth"
	"github.com/spec-kit/channel-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Accounts       *handlers.AccountsHandler
	Channels       *handlers.ChannelsHandler
	Sync           *handlers.SyncHandler
	Streams        *handlers.StreamsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authed := cfg.AuthMiddleware.Handle

	authGroup := app.Group("/auth")
	authGroup.Post("/users", cfg.Accounts.Register)
	authGroup.Post("/tokens", cfg.Accounts.IssueToken)
	authGroup.Get("/me", authed, auth.RequireAuthenticated(), cfg.Accounts.Me)

	channels := app.Group("/channels", authed, auth.RequireAuthenticated())
	channels.Get("", cfg.Channels.List)
	channels.Post("", cfg.Channels.Create)
	channels.Delete("/:id", auth.RequireRole(domain.RoleAdmin), cfg.Channels.Remove)
	channels.Post("/:id/messages", cfg.Channels.SendMessage)

	app.Post("/broadcast", authed, auth.RequireRole(domain.RoleAdmin), cfg.Channels.Broadcast)

	vaults := app.Group("/vaults/:id/sync", authed, auth.RequireAuthenticated())
	vaults.Post("/create", cfg.Sync.Create)
	vaults.Post("/rename", cfg.Sync.Rename)

	app.Post("/admin/roles", authed, auth.RequireRole(domain.RoleAdmin), cfg.Accounts.GrantRole)

	// Stream routes authenticate on upgrade when they can; otherwise the
	// client sends an authorization frame first.
	streams := app.Group("/streams", authed)
	streams.Post("/ticket", auth.RequireAuthenticated(), cfg.Streams.Ticket)
	streams.Get("/channels/:id", cfg.Streams.Upgrade, cfg.Streams.Channel())
	streams.Get("/vaults/:id", cfg.Streams.Upgrade, cfg.Streams.Vault())
	streams.Get("/broadcast", cfg.Streams.Upgrade, cfg.Streams.Broadcast())
}
