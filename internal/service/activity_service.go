package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/channel-service/internal/activity"
	"github.com/spec-kit/channel-service/internal/domain"
	"github.com/spec-kit/channel-service/internal/repository"
)

// ActivityService records channel activity emitted by the other services.
type ActivityService struct {
	dispatcher *activity.Dispatcher
	channels   repository.ChannelRepository
	logger     *zap.Logger
}

// NewActivityService creates the service.
func NewActivityService(dispatcher *activity.Dispatcher, channels repository.ChannelRepository, logger *zap.Logger) *ActivityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityService{
		dispatcher: dispatcher,
		channels:   channels,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to activity events.
func (a *ActivityService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(activity.TypeChannelPublished, a.handleChannelPublished)
	a.dispatcher.Subscribe(activity.TypeChannelSubscribed, a.handleChannelSubscribed)
	a.dispatcher.Subscribe(activity.TypeVaultSynced, a.handleVaultSynced)
}

func (a *ActivityService) handleChannelPublished(ctx context.Context, event activity.Event) error {
	a.logger.Debug("ChannelPublished", zap.String("channel", event.ChannelKey), zap.String("actor_id", event.ActorID))
	if event.ChannelKey == domain.BroadcastChannelKey {
		return nil
	}
	return a.channels.TouchLastPublish(ctx, event.ChannelKey, event.Timestamp)
}

func (a *ActivityService) handleChannelSubscribed(ctx context.Context, event activity.Event) error {
	a.logger.Debug("ChannelSubscribed", zap.String("channel", event.ChannelKey), zap.String("actor_id", event.ActorID))
	if event.ChannelKey == domain.BroadcastChannelKey {
		return nil
	}
	return a.channels.TouchLastSubscribe(ctx, event.ChannelKey, event.Timestamp)
}

func (a *ActivityService) handleVaultSynced(_ context.Context, event activity.Event) error {
	a.logger.Debug("VaultSynced", zap.String("vault_id", event.ChannelKey), zap.String("actor_id", event.ActorID))
	return nil
}
