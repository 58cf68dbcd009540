package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/channel-service/internal/auth"
	"github.com/spec-kit/channel-service/internal/config"
	"github.com/spec-kit/channel-service/internal/domain"
	"github.com/spec-kit/channel-service/internal/events"
	"github.com/spec-kit/channel-service/internal/observability"
	"github.com/spec-kit/channel-service/internal/pubsub"
	"github.com/spec-kit/channel-service/internal/service"
	apperrors "github.com/spec-kit/channel-service/pkg/util/errorutil"
)

const streamIdentityKey = "stream_identity"

type openFunc func(ctx context.Context, identity *domain.Identity) (*pubsub.Subscription, error)

type initFrame struct {
	Authorization string `json:"authorization"`
}

// StreamsHandler serves live websocket streams of channel, broadcast and
// vault events.
type StreamsHandler struct {
	channels *service.ChannelService
	sync     *service.SyncService
	sessions auth.Resolver
	tickets  *auth.TicketManager
	cfg      config.StreamConfig
	logger   *zap.Logger
}

// NewStreamsHandler constructs handler.
func NewStreamsHandler(channels *service.ChannelService, sync *service.SyncService, sessions auth.Resolver, tickets *auth.TicketManager, cfg config.StreamConfig, logger *zap.Logger) *StreamsHandler {
	return &StreamsHandler{
		channels: channels,
		sync:     sync,
		sessions: sessions,
		tickets:  tickets,
		cfg:      cfg,
		logger:   observability.Component(logger, "streams"),
	}
}

// Ticket handles POST /streams/ticket. The ticket stands in for the bearer
// token on the upgrade request and is bound to the same session.
func (h *StreamsHandler) Ticket(c *fiber.Ctx) error {
	identity := auth.IdentityFromContext(c)
	ticket, expire, err := h.tickets.Issue(identity.ID, auth.SessionDigestFromContext(c))
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": fiber.Map{
		"ticket": ticket,
		"expire": expire.UnixMilli(),
	}})
}

// Upgrade rejects plain HTTP requests and carries the identity resolved by
// the auth middleware into the websocket connection.
func (h *StreamsHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if identity := auth.IdentityFromContext(c); identity != nil {
		c.Locals(streamIdentityKey, identity)
	}
	return c.Next()
}

// Channel handles GET /streams/channels/:id.
func (h *StreamsHandler) Channel() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		channelID := conn.Params("id")
		h.serve(conn, func(ctx context.Context, identity *domain.Identity) (*pubsub.Subscription, error) {
			return h.channels.Listen(ctx, identity, channelID)
		})
	})
}

// Broadcast handles GET /streams/broadcast.
func (h *StreamsHandler) Broadcast() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		h.serve(conn, h.channels.ListenBroadcast)
	})
}

// Vault handles GET /streams/vaults/:id.
func (h *StreamsHandler) Vault() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		vaultID := conn.Params("id")
		h.serve(conn, func(ctx context.Context, identity *domain.Identity) (*pubsub.Subscription, error) {
			return h.sync.Listen(ctx, identity, vaultID)
		})
	})
}

func (h *StreamsHandler) serve(conn *websocket.Conn, open openFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	identity, _ := conn.Locals(streamIdentityKey).(*domain.Identity)
	if identity == nil {
		var err error
		identity, err = h.handshake(ctx, conn)
		if err != nil {
			h.reject(conn, err)
			return
		}
	}

	sub, err := open(ctx, identity)
	if err != nil {
		h.reject(conn, err)
		return
	}
	defer sub.Close()

	logger := h.logger.With(zap.String("key", sub.Key()), zap.String("identity", identity.ID))
	logger.Debug("stream opened")

	go h.drain(conn, cancel)
	h.pump(ctx, conn, sub, logger)
	logger.Debug("stream closed")
}

// handshake reads the initial {"authorization": token} frame sent by clients
// that could not authenticate the upgrade request.
func (h *StreamsHandler) handshake(ctx context.Context, conn *websocket.Conn) (*domain.Identity, error) {
	if h.cfg.AuthTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout))
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, auth.ErrUnauthenticated
	}
	var frame initFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, apperrors.NewUnauthorized("expected authorization frame")
	}
	token, err := auth.BearerToken(frame.Authorization)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, auth.ErrUnauthenticated
	}
	return h.sessions.Resolve(ctx, token)
}

// drain consumes client frames so control messages are processed, and
// cancels the stream once the client goes away.
func (h *StreamsHandler) drain(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamsHandler) pump(ctx context.Context, conn *websocket.Conn, sub *pubsub.Subscription, logger *zap.Logger) {
	interval := h.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	for {
		waitCtx, cancel := context.WithTimeout(ctx, interval)
		env, err := sub.Next(waitCtx)
		cancel()

		switch {
		case err == nil:
			data, err := events.Encode(env)
			if err != nil {
				logger.Warn("skipping unencodable envelope", zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(h.writeDeadline())
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if err := conn.WriteControl(websocket.PingMessage, nil, h.writeDeadline()); err != nil {
				return
			}
		case errors.Is(err, pubsub.ErrSubscriptionClosed):
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"), h.writeDeadline())
			return
		default:
			return
		}
	}
}

// reject reports err as an error frame and closes the connection.
func (h *StreamsHandler) reject(conn *websocket.Conn, err error) {
	domainErr := apperrors.ToDomainError(err)
	if domainErr.HTTPStatus >= 500 && !domainErr.Retryable() {
		h.logger.Error("stream failed", zap.Error(domainErr))
	}

	payload, _ := json.Marshal(fiber.Map{"error": fiber.Map{
		"code":    domainErr.Code,
		"message": domainErr.Message,
	}})
	_ = conn.SetWriteDeadline(h.writeDeadline())
	_ = conn.WriteMessage(websocket.TextMessage, payload)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCode(domainErr), domainErr.Message), h.writeDeadline())
}

func (h *StreamsHandler) writeDeadline() time.Time {
	timeout := h.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return time.Now().Add(timeout)
}

func closeCode(err *apperrors.DomainError) int {
	switch {
	case err.Retryable():
		return websocket.CloseTryAgainLater
	case err.HTTPStatus >= 500:
		return websocket.CloseInternalServerErr
	default:
		return websocket.ClosePolicyViolation
	}
}
