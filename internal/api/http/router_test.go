package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/channel-service/internal/activity"
	"github.com/spec-kit/channel-service/internal/api/http/handlers"
	"github.com/spec-kit/channel-service/internal/auth"
	"github.com/spec-kit/channel-service/internal/config"
	"github.com/spec-kit/channel-service/internal/domain"
	"github.com/spec-kit/channel-service/internal/events"
	"github.com/spec-kit/channel-service/internal/observability"
	"github.com/spec-kit/channel-service/internal/pubsub"
	"github.com/spec-kit/channel-service/internal/pubsub/pubsubtest"
	"github.com/spec-kit/channel-service/internal/repository/repositorytest"
	"github.com/spec-kit/channel-service/internal/service"
	"github.com/spec-kit/channel-service/internal/worker"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type testServer struct {
	app        *fiber.App
	broker     *pubsubtest.Broker
	bridge     *pubsub.Bridge
	identities *repositorytest.Identities
	channels   *repositorytest.Channels
	accounts   *service.AccountService
	redis      *pinger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	broker := pubsubtest.NewBroker()
	bridge := pubsub.NewBridge(broker, config.PubSubConfig{
		ListenerBuffer: 16,
		PublishTimeout: time.Second,
		SubscribeWait:  time.Second,
		BackoffBase:    time.Millisecond,
		BackoffMax:     10 * time.Millisecond,
		BackoffFactor:  2,
	}, logger, metrics)
	publisher := pubsub.NewPublisher(broker, time.Second, logger, metrics)

	identities := repositorytest.NewIdentities()
	channels := repositorytest.NewChannels()
	sessions := auth.NewSessionResolver(identities, nil, logger, time.Second)
	tickets := auth.NewTicketManager("test-secret", time.Minute)
	dispatcher := activity.NewDispatcher(64, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bridge.Run(ctx)
	}()

	appCfg := config.Config{Auth: config.AuthConfig{BcryptCost: bcrypt.MinCost, DefaultTokenMinutes: 60}}
	accounts := service.NewAccountService(appCfg, service.AccountDependencies{
		IdentityRepo: identities,
		Sessions:     sessions,
	}, logger)
	channelSvc := service.NewChannelService(service.ChannelDependencies{
		ChannelRepo: channels,
		Publisher:   publisher,
		Listener:    bridge,
		Activity:    dispatcher,
	}, logger)
	syncSvc := service.NewSyncService(service.SyncDependencies{
		Publisher: publisher,
		Listener:  bridge,
		Activity:  dispatcher,
	}, logger)
	worker.StartActivityWorker(ctx, dispatcher, service.NewActivityService(dispatcher, channels, logger))

	redis := &pinger{}
	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("channel-service", "test", pinger{}, redis, bridge, metrics),
		Accounts:       handlers.NewAccountsHandler(accounts, appCfg.Auth.DefaultTokenMinutes),
		Channels:       handlers.NewChannelsHandler(channelSvc),
		Sync:           handlers.NewSyncHandler(syncSvc),
		Streams:        handlers.NewStreamsHandler(channelSvc, syncSvc, sessions, tickets, config.StreamConfig{AuthTimeout: time.Second, PingInterval: time.Second, WriteTimeout: time.Second}, logger),
		AuthMiddleware: auth.NewAuthMiddleware(sessions, tickets),
	})

	t.Cleanup(func() {
		_ = app.Shutdown()
		cancel()
		<-done
		sessions.Wait()
	})

	return &testServer{
		app:        app,
		broker:     broker,
		bridge:     bridge,
		identities: identities,
		channels:   channels,
		accounts:   accounts,
		redis:      redis,
	}
}

type response struct {
	status int
	body   map[string]any
}

func (s *testServer) do(t *testing.T, method, path, token string, payload any) response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := response{status: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.body), string(raw))
	}
	return out
}

func (r response) data() map[string]any {
	data, _ := r.body["data"].(map[string]any)
	return data
}

func (r response) errorCode() string {
	e, _ := r.body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

// login registers name and returns a bearer token.
func (s *testServer) login(t *testing.T, name string) string {
	t.Helper()
	resp := s.do(t, fiber.MethodPost, "/auth/users", "", map[string]any{
		"name":          name,
		"email_address": name + "@example.com",
		"password":      "secret",
	})
	require.Equal(t, fiber.StatusCreated, resp.status, resp.body)

	resp = s.do(t, fiber.MethodPost, "/auth/tokens", "", map[string]any{"login": name, "password": "secret"})
	require.Equal(t, fiber.StatusCreated, resp.status, resp.body)
	token, _ := resp.data()["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, fiber.MethodGet, "/health/live", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, "alive", resp.body["status"])

	resp = s.do(t, fiber.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.status)
	assert.Contains(t, resp.body, "pubsub")

	s.redis.err = errors.New("connection refused")
	resp = s.do(t, fiber.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.status)
	assert.Equal(t, "DEPENDENCY_UNAVAILABLE", resp.errorCode())
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "ada1")

	resp := s.do(t, fiber.MethodGet, "/auth/me", token, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, "ada1", resp.data()["name"])
	assert.NotContains(t, resp.data(), "password_hash")

	resp = s.do(t, fiber.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.status)
	assert.Equal(t, "UNAUTHORIZED", resp.errorCode())

	resp = s.do(t, fiber.MethodPost, "/auth/tokens", "", map[string]any{"login": "ada1", "password": "wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, resp.status)
	assert.Equal(t, "INVALID_CREDENTIAL", resp.errorCode())

	resp = s.do(t, fiber.MethodPost, "/auth/users", "", map[string]any{
		"name": "ada1", "email_address": "other@example.com", "password": "secret",
	})
	assert.Equal(t, fiber.StatusConflict, resp.status)

	resp = s.do(t, fiber.MethodPost, "/auth/tokens", "", map[string]any{"login": "ada1", "password": "secret", "lifetime": 0})
	require.Equal(t, fiber.StatusCreated, resp.status)
	assert.Equal(t, float64(domain.NeverExpires.UnixMilli()), resp.data()["expire"])
}

func TestChannelsFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "ada1")

	resp := s.do(t, fiber.MethodPost, "/channels", token, map[string]any{"name": "general", "public": true})
	require.Equal(t, fiber.StatusCreated, resp.status, resp.body)
	channelID, _ := resp.data()["id"].(string)
	require.NotEmpty(t, channelID)

	resp = s.do(t, fiber.MethodGet, "/channels", token, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Len(t, resp.body["data"], 1)

	resp = s.do(t, fiber.MethodPost, "/channels/"+channelID+"/messages", token, map[string]any{"message": "hello"})
	require.Equal(t, fiber.StatusCreated, resp.status, resp.body)
	assert.Equal(t, "hello", resp.data()["message"])
	assert.Eventually(t, func() bool { return s.channels.Published(channelID) }, time.Second, 5*time.Millisecond)

	resp = s.do(t, fiber.MethodPost, "/channels/missing/messages", token, map[string]any{"message": "hello"})
	assert.Equal(t, fiber.StatusNotFound, resp.status)

	resp = s.do(t, fiber.MethodDelete, "/channels/"+channelID, token, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.status)
	assert.Equal(t, "FORBIDDEN", resp.errorCode())

	resp = s.do(t, fiber.MethodGet, "/channels", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.status)

	resp = s.do(t, fiber.MethodGet, "/channels", "not-a-token", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.status)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.login(t, "admin")
	userToken := s.login(t, "user1")

	resp := s.do(t, fiber.MethodPost, "/broadcast", adminToken, map[string]any{"message": "hi"})
	assert.Equal(t, fiber.StatusForbidden, resp.status)

	_, err := s.accounts.BootstrapRole(context.Background(), "admin", domain.RoleAdmin)
	require.NoError(t, err)

	resp = s.do(t, fiber.MethodPost, "/broadcast", adminToken, map[string]any{"message": "hi"})
	require.Equal(t, fiber.StatusCreated, resp.status, resp.body)
	sendTo, _ := resp.data()["send_to"].(map[string]any)
	assert.Equal(t, domain.BroadcastChannelKey, sendTo["id"])

	resp = s.do(t, fiber.MethodPost, "/admin/roles", userToken, map[string]any{"identity": "user1", "role": "Admin"})
	assert.Equal(t, fiber.StatusForbidden, resp.status)

	resp = s.do(t, fiber.MethodPost, "/admin/roles", adminToken, map[string]any{"identity": "user1", "role": "Root"})
	assert.Equal(t, fiber.StatusForbidden, resp.status)

	resp = s.do(t, fiber.MethodPost, "/admin/roles", adminToken, map[string]any{"identity": "user1", "role": "Admin"})
	require.Equal(t, fiber.StatusOK, resp.status, resp.body)
	assert.Equal(t, []any{"Admin"}, resp.data()["roles"])
}

func TestSyncRoutes(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "ada1")

	resp := s.do(t, fiber.MethodPost, "/vaults/v1/sync/create", token, map[string]any{
		"path": "/docs", "name": "notes", "extension": "md", "object_type": "File",
	})
	require.Equal(t, fiber.StatusAccepted, resp.status, resp.body)
	assert.Equal(t, "Create", resp.data()["type"])

	resp = s.do(t, fiber.MethodPost, "/vaults/v1/sync/create", token, map[string]any{
		"path": "/docs", "name": "notes", "object_type": "File",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Equal(t, "VALIDATION_FAILED", resp.errorCode())

	resp = s.do(t, fiber.MethodPost, "/vaults/v1/sync/rename", token, map[string]any{
		"path": "/", "name": "archive", "object_type": "Folder",
		"previous_path": "/", "previous_name": "tmp",
	})
	require.Equal(t, fiber.StatusAccepted, resp.status, resp.body)
	assert.Equal(t, "Rename", resp.data()["type"])
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, fiber.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)
	assert.Equal(t, "NOT_FOUND", resp.errorCode())
}

func TestStreamsRequireUpgrade(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "ada1")

	resp := s.do(t, fiber.MethodGet, "/streams/broadcast", token, nil)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.status)

	resp = s.do(t, fiber.MethodPost, "/streams/ticket", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.status)

	resp = s.do(t, fiber.MethodPost, "/streams/ticket", token, nil)
	require.Equal(t, fiber.StatusCreated, resp.status)
	assert.NotEmpty(t, resp.data()["ticket"])
}

// listen serves the app on a loopback port for websocket tests.
func (s *testServer) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.app.Listener(ln) }()
	return ln.Addr().String()
}

func dial(t *testing.T, addr, path string, query url.Values, header nethttp.Header) *fastws.Conn {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: addr, Path: path, RawQuery: query.Encode()}
	conn, resp, err := fastws.DefaultDialer.Dial(u.String(), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *fastws.Conn) events.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if kind != fastws.TextMessage {
			continue
		}
		env, err := events.Decode(data)
		require.NoError(t, err, string(data))
		return env
	}
}

func TestStreamChannel_HeaderAuth(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "ada1")
	resp := s.do(t, fiber.MethodPost, "/channels", token, map[string]any{"name": "general", "public": true})
	require.Equal(t, fiber.StatusCreated, resp.status)
	channelID := resp.data()["id"].(string)

	addr := s.listen(t)
	header := nethttp.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn := dial(t, addr, "/streams/channels/"+channelID, nil, header)

	require.Eventually(t, func() bool { return s.bridge.Listeners(domain.ChannelKey(channelID)) == 1 }, 2*time.Second, 5*time.Millisecond)
	resp = s.do(t, fiber.MethodPost, "/channels/"+channelID+"/messages", token, map[string]any{"message": "hello"})
	require.Equal(t, fiber.StatusCreated, resp.status)

	env := readEnvelope(t, conn)
	require.Equal(t, events.KindChannelMessage, env.Kind)
	assert.Equal(t, "hello", env.Message.Message)
	assert.Equal(t, "ada1", env.Message.SendFrom.Name)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return s.bridge.Listeners(domain.ChannelKey(channelID)) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStreamBroadcast_InitFrameAuth(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin")
	_, err := s.accounts.BootstrapRole(context.Background(), "admin", domain.RoleAdmin)
	require.NoError(t, err)

	addr := s.listen(t)
	conn := dial(t, addr, "/streams/broadcast", nil, nil)
	require.NoError(t, conn.WriteJSON(map[string]string{"authorization": token}))

	require.Eventually(t, func() bool {
		return s.bridge.Listeners(domain.BroadcastChannelKey) == 1
	}, 2*time.Second, 5*time.Millisecond)
	resp := s.do(t, fiber.MethodPost, "/broadcast", token, map[string]any{"message": "maintenance"})
	require.Equal(t, fiber.StatusCreated, resp.status)

	env := readEnvelope(t, conn)
	assert.Equal(t, "maintenance", env.Message.Message)
}

func TestStreamVault_Ticket(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "ada1")
	resp := s.do(t, fiber.MethodPost, "/streams/ticket", token, nil)
	require.Equal(t, fiber.StatusCreated, resp.status)
	ticket := resp.data()["ticket"].(string)

	addr := s.listen(t)
	conn := dial(t, addr, "/streams/vaults/v1", url.Values{"ticket": {ticket}}, nil)

	require.Eventually(t, func() bool { return s.bridge.Listeners(domain.VaultKey("v1")) == 1 }, 2*time.Second, 5*time.Millisecond)
	resp = s.do(t, fiber.MethodPost, "/vaults/v1/sync/create", token, map[string]any{
		"path": "/", "name": "docs", "object_type": "Folder",
	})
	require.Equal(t, fiber.StatusAccepted, resp.status)

	env := readEnvelope(t, conn)
	require.Equal(t, events.KindCreate, env.Kind)
	assert.Equal(t, events.ObjectFolder, env.Create.OperationType)
}

func TestStream_RejectsBadInitFrame(t *testing.T) {
	s := newTestServer(t)
	addr := s.listen(t)
	conn := dial(t, addr, "/streams/broadcast", nil, nil)
	require.NoError(t, conn.WriteJSON(map[string]string{"authorization": "bogus"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "UNAUTHORIZED", frame["error"]["code"])

	_, _, err = conn.ReadMessage()
	assert.True(t, fastws.IsCloseError(err, fastws.ClosePolicyViolation), "got %v", err)
}
