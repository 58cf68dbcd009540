package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/channel-service/internal/api/dto"
	"github.com/spec-kit/channel-service/internal/auth"
	"github.com/spec-kit/channel-service/internal/service"
)

// ChannelsHandler exposes channel management and chat publishing.
type ChannelsHandler struct {
	channels *service.ChannelService
}

// NewChannelsHandler constructs handler.
func NewChannelsHandler(channels *service.ChannelService) *ChannelsHandler {
	return &ChannelsHandler{channels: channels}
}

// List handles GET /channels.
func (h *ChannelsHandler) List(c *fiber.Ctx) error {
	channels, err := h.channels.ListPublic(c.UserContext(), auth.IdentityFromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewChannelList(channels)})
}

// Create handles POST /channels.
func (h *ChannelsHandler) Create(c *fiber.Ctx) error {
	var req dto.ChannelCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	channel, err := h.channels.Create(c.UserContext(), auth.IdentityFromContext(c), service.ChannelInput{
		Name:        req.Name,
		Description: req.Description,
		Public:      req.Public,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewChannelResponse(*channel)})
}

// Remove handles DELETE /channels/:id.
func (h *ChannelsHandler) Remove(c *fiber.Ctx) error {
	if err := h.channels.Remove(c.UserContext(), auth.IdentityFromContext(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// SendMessage handles POST /channels/:id/messages.
func (h *ChannelsHandler) SendMessage(c *fiber.Ctx) error {
	var req dto.MessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	msg, err := h.channels.SendMessage(c.UserContext(), auth.IdentityFromContext(c), c.Params("id"), req.Message)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": msg})
}

// Broadcast handles POST /broadcast.
func (h *ChannelsHandler) Broadcast(c *fiber.Ctx) error {
	var req dto.MessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	msg, err := h.channels.Broadcast(c.UserContext(), auth.IdentityFromContext(c), req.Message)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": msg})
}
