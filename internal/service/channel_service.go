package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/channel-service/internal/activity"
	"github.com/spec-kit/channel-service/internal/auth"
	"github.com/spec-kit/channel-service/internal/domain"
	"github.com/spec-kit/channel-service/internal/events"
	"github.com/spec-kit/channel-service/internal/pubsub"
	"github.com/spec-kit/channel-service/internal/repository"
	"github.com/spec-kit/channel-service/pkg/util/errorutil"
)

const maxMessageLength = 4096

// ChannelService manages chat channels and their live traffic.
type ChannelService struct {
	channels  repository.ChannelRepository
	publisher EnvelopePublisher
	listener  EnvelopeListener
	activity  activity.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// ChannelDependencies bundles collaborators for the channel service.
type ChannelDependencies struct {
	ChannelRepo repository.ChannelRepository
	Publisher   EnvelopePublisher
	Listener    EnvelopeListener
	Activity    activity.Publisher
}

// ChannelInput describes channel creation payload.
type ChannelInput struct {
	Name        string
	Description string
	Public      bool
}

// NewChannelService builds the service.
func NewChannelService(deps ChannelDependencies, logger *zap.Logger) *ChannelService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelService{
		channels:  deps.ChannelRepo,
		publisher: deps.Publisher,
		listener:  deps.Listener,
		activity:  deps.Activity,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new channel.
func (s *ChannelService) Create(ctx context.Context, caller *domain.Identity, input ChannelInput) (*domain.Channel, error) {
	if err := auth.Require(caller, auth.Authenticated()); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	details := map[string]any{}
	if n := utf8.RuneCountInString(name); n < 4 || n > 64 {
		details["name"] = "must be between 4 and 64 characters"
	}
	if utf8.RuneCountInString(input.Description) > 1024 {
		details["description"] = "must be at most 1024 characters"
	}
	if len(details) > 0 {
		return nil, errorutil.NewValidationError("invalid channel", details)
	}

	channel := &domain.Channel{
		ID:          uuid.NewString(),
		Name:        name,
		Description: input.Description,
		Public:      input.Public,
		CreatedAt:   s.now(),
	}
	if err := s.channels.Create(ctx, channel); err != nil {
		return nil, errorutil.NewPersistenceError("create channel", err)
	}
	s.logger.Info("channel created", zap.String("channel_id", channel.ID), zap.String("created_by", caller.ID))
	return channel, nil
}

// ListPublic returns public channels.
func (s *ChannelService) ListPublic(ctx context.Context, caller *domain.Identity) ([]domain.Channel, error) {
	if err := auth.Require(caller, auth.Authenticated()); err != nil {
		return nil, err
	}
	channels, err := s.channels.ListPublic(ctx)
	if err != nil {
		return nil, errorutil.NewPersistenceError("list channels", err)
	}
	if channels == nil {
		channels = []domain.Channel{}
	}
	return channels, nil
}

// Remove deletes a channel. Administrators only.
func (s *ChannelService) Remove(ctx context.Context, caller *domain.Identity, channelID string) error {
	if err := auth.Require(caller, auth.HasRole(domain.RoleAdmin)); err != nil {
		return err
	}
	if err := s.channels.Delete(ctx, channelID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errorutil.NewNotFound("channel", map[string]any{"channel_id": channelID})
		}
		return errorutil.NewPersistenceError("remove channel", err)
	}
	s.logger.Info("channel removed", zap.String("channel_id", channelID), zap.String("removed_by", caller.ID))
	return nil
}

// SendMessage publishes a chat message to an existing channel.
func (s *ChannelService) SendMessage(ctx context.Context, caller *domain.Identity, channelID, text string) (events.ChannelMessage, error) {
	if err := auth.Require(caller, auth.Authenticated()); err != nil {
		return events.ChannelMessage{}, err
	}
	if err := validateMessage(text); err != nil {
		return events.ChannelMessage{}, err
	}
	channel, err := s.channel(ctx, channelID)
	if err != nil {
		return events.ChannelMessage{}, err
	}
	return s.publish(ctx, caller, *channel, domain.ChannelKey(channel.ID), text)
}

// Broadcast publishes an announcement on the well-known broadcast key.
// Administrators only.
func (s *ChannelService) Broadcast(ctx context.Context, caller *domain.Identity, text string) (events.ChannelMessage, error) {
	if err := auth.Require(caller, auth.HasRole(domain.RoleAdmin)); err != nil {
		return events.ChannelMessage{}, err
	}
	if err := validateMessage(text); err != nil {
		return events.ChannelMessage{}, err
	}
	return s.publish(ctx, caller, domain.BroadcastChannel(), domain.BroadcastChannelKey, text)
}

// Listen subscribes the caller to an existing channel.
func (s *ChannelService) Listen(ctx context.Context, caller *domain.Identity, channelID string) (*pubsub.Subscription, error) {
	if err := auth.Require(caller, auth.Authenticated()); err != nil {
		return nil, err
	}
	if _, err := s.channel(ctx, channelID); err != nil {
		return nil, err
	}
	return s.listen(ctx, caller, domain.ChannelKey(channelID), channelID)
}

// ListenBroadcast subscribes the caller to announcements.
func (s *ChannelService) ListenBroadcast(ctx context.Context, caller *domain.Identity) (*pubsub.Subscription, error) {
	if err := auth.Require(caller, auth.Authenticated()); err != nil {
		return nil, err
	}
	return s.listen(ctx, caller, domain.BroadcastChannelKey, domain.BroadcastChannelKey)
}

func (s *ChannelService) channel(ctx context.Context, channelID string) (*domain.Channel, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, errorutil.NewValidationError("channel id is required", nil)
	}
	channel, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorutil.NewNotFound("channel", map[string]any{"channel_id": channelID})
		}
		return nil, errorutil.NewPersistenceError("load channel", err)
	}
	return channel, nil
}

func (s *ChannelService) publish(ctx context.Context, caller *domain.Identity, channel domain.Channel, key, text string) (events.ChannelMessage, error) {
	now := s.now()
	msg := events.ChannelMessage{
		ID:       uuid.NewString(),
		Message:  text,
		SendTo:   events.SnapshotChannel(channel),
		SendFrom: events.SnapshotIdentity(caller),
		SendWhen: now.UnixMilli(),
	}
	if err := s.publisher.Publish(ctx, key, events.NewChannelMessage(msg)); err != nil {
		return events.ChannelMessage{}, err
	}
	s.record(ctx, activity.TypeChannelPublished, channel.ID, caller.ID, now)
	return msg, nil
}

// listen attaches to key. Activity is recorded against channelID, which the
// activity handlers use to find the stored channel.
func (s *ChannelService) listen(ctx context.Context, caller *domain.Identity, key, channelID string) (*pubsub.Subscription, error) {
	sub, err := s.listener.Listen(ctx, key)
	if err != nil {
		return nil, err
	}
	s.record(ctx, activity.TypeChannelSubscribed, channelID, caller.ID, s.now())
	return sub, nil
}

func (s *ChannelService) record(ctx context.Context, eventType activity.Type, channelID, actorID string, at time.Time) {
	if s.activity == nil {
		return
	}
	_ = s.activity.Publish(ctx, activity.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		ChannelKey: channelID,
		ActorID:    actorID,
		Timestamp:  at,
	})
}

func validateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return errorutil.NewValidationError("message is required", nil)
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return errorutil.NewValidationError("message too long", map[string]any{"max": maxMessageLength})
	}
	return nil
}
