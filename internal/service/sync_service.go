package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/channel-service/internal/activity"
	"github.com/spec-kit/channel-service/internal/auth"
	"github.com/spec-kit/channel-service/internal/domain"
	"github.com/spec-kit/channel-service/internal/events"
	"github.com/spec-kit/channel-service/internal/pubsub"
	"github.com/spec-kit/channel-service/pkg/util/errorutil"
)

// SyncService relays filesystem changes between clients of a vault. Vault
// traffic travels on domain.VaultKey, apart from chat and broadcast keys.
type SyncService struct {
	publisher EnvelopePublisher
	listener  EnvelopeListener
	activity  activity.Publisher
	logger    *zap.Logger
}

// SyncDependencies bundles collaborators for the sync service.
type SyncDependencies struct {
	Publisher EnvelopePublisher
	Listener  EnvelopeListener
	Activity  activity.Publisher
}

// ObjectArgs describes a file or folder as reported by a client.
type ObjectArgs struct {
	Path       string
	Name       string
	Extension  string
	ObjectType events.ObjectType
	Stat       *events.Stat
}

// RenameArgs describes a rename: the object as it is now plus where it was.
type RenameArgs struct {
	ObjectArgs
	PreviousPath string
	PreviousName string
}

// NewSyncService builds the service.
func NewSyncService(deps SyncDependencies, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		publisher: deps.Publisher,
		listener:  deps.Listener,
		activity:  deps.Activity,
		logger:    logger,
	}
}

// CreateFileOrFolder publishes a Create event on the vault.
func (s *SyncService) CreateFileOrFolder(ctx context.Context, caller *domain.Identity, vaultID string, args ObjectArgs) (events.Envelope, error) {
	if err := auth.Require(caller, auth.Authenticated()); err != nil {
		return events.Envelope{}, err
	}
	op, err := buildOperation(vaultID, args)
	if err != nil {
		return events.Envelope{}, err
	}
	env := events.NewCreate(events.SyncMessage{OperationType: args.ObjectType, Operation: op})
	if err := s.publish(ctx, caller, vaultID, env); err != nil {
		return events.Envelope{}, err
	}
	return env, nil
}

// RenameFileOrFolder publishes a Rename event on the vault.
func (s *SyncService) RenameFileOrFolder(ctx context.Context, caller *domain.Identity, vaultID string, args RenameArgs) (events.Envelope, error) {
	if err := auth.Require(caller, auth.Authenticated()); err != nil {
		return events.Envelope{}, err
	}
	op, err := buildOperation(vaultID, args.ObjectArgs)
	if err != nil {
		return events.Envelope{}, err
	}
	if strings.TrimSpace(args.PreviousName) == "" {
		return events.Envelope{}, errorutil.NewValidationError("previous name is required", nil)
	}
	env := events.NewRename(events.SyncMessage{
		OperationType: args.ObjectType,
		Operation:     op,
		Previous:      &events.Location{Name: args.PreviousName, Path: args.PreviousPath},
	})
	if err := s.publish(ctx, caller, vaultID, env); err != nil {
		return events.Envelope{}, err
	}
	return env, nil
}

// Listen subscribes the caller to a vault's sync events.
func (s *SyncService) Listen(ctx context.Context, caller *domain.Identity, vaultID string) (*pubsub.Subscription, error) {
	if err := auth.Require(caller, auth.Authenticated()); err != nil {
		return nil, err
	}
	if strings.TrimSpace(vaultID) == "" {
		return nil, errorutil.NewValidationError("vault id is required", nil)
	}
	return s.listener.Listen(ctx, domain.VaultKey(vaultID))
}

func (s *SyncService) publish(ctx context.Context, caller *domain.Identity, vaultID string, env events.Envelope) error {
	if err := s.publisher.Publish(ctx, domain.VaultKey(vaultID), env); err != nil {
		return err
	}
	s.logger.Debug("sync event published",
		zap.String("vault_id", vaultID),
		zap.String("kind", string(env.Kind)),
		zap.String("actor_id", caller.ID),
	)
	if s.activity != nil {
		_ = s.activity.Publish(ctx, activity.Event{
			ID:         uuid.NewString(),
			Type:       activity.TypeVaultSynced,
			ChannelKey: vaultID,
			ActorID:    caller.ID,
			Timestamp:  time.Now().UTC(),
		})
	}
	return nil
}

func buildOperation(vaultID string, args ObjectArgs) (events.Operation, error) {
	if strings.TrimSpace(vaultID) == "" {
		return events.Operation{}, errorutil.NewValidationError("vault id is required", nil)
	}
	if strings.TrimSpace(args.Name) == "" {
		return events.Operation{}, errorutil.NewValidationError("name is required", nil)
	}
	switch args.ObjectType {
	case events.ObjectFile:
		if strings.TrimSpace(args.Extension) == "" {
			return events.Operation{}, errorutil.NewValidationError("files require an extension", nil)
		}
		return events.FileOp(args.Name, args.Extension, args.Path, args.Stat), nil
	case events.ObjectFolder:
		return events.FolderOp(args.Name, args.Path, args.Stat), nil
	default:
		return events.Operation{}, errorutil.NewValidationError("object type must be File or Folder",
			map[string]any{"object_type": string(args.ObjectType)})
	}
}
