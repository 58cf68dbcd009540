package service

import (
	"context"

	"github.com/spec-kit/channel-service/internal/domain"
	"github.com/spec-kit/channel-service/internal/events"
	"github.com/spec-kit/channel-service/internal/pubsub"
)

// EnvelopePublisher is the outbound pub/sub port.
type EnvelopePublisher interface {
	Publish(ctx context.Context, key string, env events.Envelope) error
}

// EnvelopeListener attaches listeners to channel keys.
type EnvelopeListener interface {
	Listen(ctx context.Context, key string) (*pubsub.Subscription, error)
}

// SessionManager issues tokens and evicts cached sessions.
type SessionManager interface {
	Issue(ctx context.Context, nameOrEmail, password string, lifetimeMinutes int) (domain.AccessToken, *domain.Identity, error)
	Invalidate(ctx context.Context, identityID string) error
}
