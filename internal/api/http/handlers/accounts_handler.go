package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/channel-service/internal/api/dto"
	"github.com/spec-kit/channel-service/internal/auth"
	"github.com/spec-kit/channel-service/internal/domain"
	"github.com/spec-kit/channel-service/internal/service"
)

// AccountsHandler exposes registration, token issuance and role grants.
type AccountsHandler struct {
	accounts        *service.AccountService
	defaultLifetime int
}

// NewAccountsHandler constructs handler. defaultLifetime applies when a token
// request omits its lifetime.
func NewAccountsHandler(accounts *service.AccountService, defaultLifetime int) *AccountsHandler {
	return &AccountsHandler{accounts: accounts, defaultLifetime: defaultLifetime}
}

// Register handles POST /auth/users.
func (h *AccountsHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	identity, err := h.accounts.Register(c.UserContext(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewIdentityResponse(identity)})
}

// IssueToken handles POST /auth/tokens.
func (h *AccountsHandler) IssueToken(c *fiber.Ctx) error {
	var req dto.TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	lifetime := h.defaultLifetime
	if req.Lifetime != nil {
		lifetime = *req.Lifetime
	}

	token, _, err := h.accounts.IssueToken(c.UserContext(), req.Login, req.Password, lifetime)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTokenResponse(token)})
}

// Me handles GET /auth/me.
func (h *AccountsHandler) Me(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": dto.NewIdentityResponse(auth.IdentityFromContext(c))})
}

// GrantRole handles POST /admin/roles.
func (h *AccountsHandler) GrantRole(c *fiber.Ctx) error {
	var req dto.GrantRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	identity, err := h.accounts.GrantRole(c.UserContext(), auth.IdentityFromContext(c), req.Identity, domain.Role(req.Role))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewIdentityResponse(identity)})
}
