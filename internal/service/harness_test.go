package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/channel-service/internal/auth"
	"github.com/spec-kit/channel-service/internal/config"
	"github.com/spec-kit/channel-service/internal/events"
	"github.com/spec-kit/channel-service/internal/pubsub"
	"github.com/spec-kit/channel-service/internal/pubsub/pubsubtest"
	"github.com/spec-kit/channel-service/internal/repository/repositorytest"
)

type env struct {
	broker     *pubsubtest.Broker
	bridge     *pubsub.Bridge
	publisher  *pubsub.Publisher
	identities *repositorytest.Identities
	channels   *repositorytest.Channels
	sessions   *auth.SessionResolver
	activity   *recordingActivity
	accounts   *AccountService
	channelSvc *ChannelService
	syncSvc    *SyncService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	broker := pubsubtest.NewBroker()
	cfg := config.PubSubConfig{
		ListenerBuffer: 16,
		PublishTimeout: time.Second,
		SubscribeWait:  time.Second,
		BackoffBase:    time.Millisecond,
		BackoffMax:     10 * time.Millisecond,
		BackoffFactor:  2,
	}
	bridge := pubsub.NewBridge(broker, cfg, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bridge.Run(ctx)
	}()

	identities := repositorytest.NewIdentities()
	sessions := auth.NewSessionResolver(identities, nil, nil, time.Second)
	t.Cleanup(func() {
		cancel()
		<-done
		sessions.Wait()
	})

	publisher := pubsub.NewPublisher(broker, time.Second, nil, nil)
	channels := repositorytest.NewChannels()
	recorder := &recordingActivity{}

	appCfg := config.Config{Auth: config.AuthConfig{BcryptCost: bcrypt.MinCost}}
	return &env{
		broker:     broker,
		bridge:     bridge,
		publisher:  publisher,
		identities: identities,
		channels:   channels,
		sessions:   sessions,
		activity:   recorder,
		accounts: NewAccountService(appCfg, AccountDependencies{
			IdentityRepo: identities,
			Sessions:     sessions,
		}, nil),
		channelSvc: NewChannelService(ChannelDependencies{
			ChannelRepo: channels,
			Publisher:   publisher,
			Listener:    bridge,
			Activity:    recorder,
		}, nil),
		syncSvc: NewSyncService(SyncDependencies{
			Publisher: publisher,
			Listener:  bridge,
			Activity:  recorder,
		}, nil),
	}
}

// login registers name and returns a freshly issued bearer token.
func (e *env) login(t *testing.T, name string) string {
	t.Helper()
	ctx := context.Background()
	_, err := e.accounts.Register(ctx, RegisterInput{Name: name, Email: name + "@example.com", Password: "secret"})
	require.NoError(t, err)
	token, _, err := e.accounts.IssueToken(ctx, name, "secret", 60)
	require.NoError(t, err)
	return token.Token
}

func nextEnvelope(t *testing.T, sub *pubsub.Subscription) events.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sub.Next(ctx)
	require.NoError(t, err)
	return got
}
