package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/channel-service/internal/api/dto"
	"github.com/spec-kit/channel-service/internal/auth"
	"github.com/spec-kit/channel-service/internal/service"
)

// SyncHandler relays filesystem changes for a vault.
type SyncHandler struct {
	sync *service.SyncService
}

// NewSyncHandler constructs handler.
func NewSyncHandler(sync *service.SyncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// Create handles POST /vaults/:id/sync/create.
func (h *SyncHandler) Create(c *fiber.Ctx) error {
	var req dto.SyncCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	env, err := h.sync.CreateFileOrFolder(c.UserContext(), auth.IdentityFromContext(c), c.Params("id"), req.ObjectArgs())
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": env})
}

// Rename handles POST /vaults/:id/sync/rename.
func (h *SyncHandler) Rename(c *fiber.Ctx) error {
	var req dto.SyncRenameRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	env, err := h.sync.RenameFileOrFolder(c.UserContext(), auth.IdentityFromContext(c), c.Params("id"), req.RenameArgs())
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": env})
}
