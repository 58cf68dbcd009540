package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/channel-service/internal/api/http"
	"github.com/spec-kit/channel-service/internal/api/http/handlers"
	"github.com/spec-kit/channel-service/internal/activity"
	"github.com/spec-kit/channel-service/internal/auth"
	"github.com/spec-kit/channel-service/internal/cache"
	"github.com/spec-kit/channel-service/internal/config"
	"github.com/spec-kit/channel-service/internal/observability"
	"github.com/spec-kit/channel-service/internal/persistence"
	"github.com/spec-kit/channel-service/internal/pubsub"
	"github.com/spec-kit/channel-service/internal/repository"
	"github.com/spec-kit/channel-service/internal/service"
	"github.com/spec-kit/channel-service/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	clients := persistence.NewPubSubClients(cfg.Redis, logger)
	defer clients.Close()

	metrics := observability.NewMetrics()

	bridge := pubsub.NewBridge(clients.Subscribe.Subscribe(ctx), cfg.PubSub, logger, metrics)
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		if err := bridge.Run(ctx); err != nil {
			logger.Warn("bridge stopped", zap.Error(err))
		}
	}()
	publisher := pubsub.NewPublisher(clients.Publish, cfg.PubSub.PublishTimeout, logger, metrics)

	pool := pg.PoolHandle()
	identityRepo := repository.NewIdentityRepository(pool)
	channelRepo := repository.NewChannelRepository(pool)

	sessions := auth.NewSessionResolver(
		identityRepo,
		cache.NewSessionCache(redis.Client, cfg.Auth.SessionCacheTTL),
		logger,
		cfg.Auth.LastAccessWriteTimeout,
	)
	tickets := auth.NewTicketManager(cfg.Auth.TicketSecret, cfg.Auth.TicketTTL)
	dispatcher := activity.NewDispatcher(256, logger)

	accountService := service.NewAccountService(*cfg, service.AccountDependencies{
		IdentityRepo: identityRepo,
		Sessions:     sessions,
	}, logger)
	channelService := service.NewChannelService(service.ChannelDependencies{
		ChannelRepo: channelRepo,
		Publisher:   publisher,
		Listener:    bridge,
		Activity:    dispatcher,
	}, logger)
	syncService := service.NewSyncService(service.SyncDependencies{
		Publisher: publisher,
		Listener:  bridge,
		Activity:  dispatcher,
	}, logger)
	worker.StartActivityWorker(ctx, dispatcher, service.NewActivityService(dispatcher, channelRepo, logger))

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, bridge, metrics),
		Accounts:       handlers.NewAccountsHandler(accountService, cfg.Auth.DefaultTokenMinutes),
		Channels:       handlers.NewChannelsHandler(channelService),
		Sync:           handlers.NewSyncHandler(syncService),
		Streams:        handlers.NewStreamsHandler(channelService, syncService, sessions, tickets, cfg.Stream, logger),
		AuthMiddleware: auth.NewAuthMiddleware(sessions, tickets),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	<-bridgeDone
	sessions.Wait()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
