package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/channel-service/internal/config"
)

// Redis wraps the general-purpose go-redis client used for caching and probes.
type Redis struct {
	Client *redis.Client
}

// PubSubClients is the broker connection pair. Publish carries outbound
// traffic only; Subscribe is owned by the subscription bridge.
type PubSubClients struct {
	Publish   *redis.Client
	Subscribe *redis.Client
}

// NewRedis connects to Redis using the provided configuration.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(redisOptions(cfg))

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr))
	}

	return &Redis{Client: client}
}

// NewPubSubClients builds the dedicated publish and subscribe clients.
// The publish client holds a single connection so writes are serialized and
// does not retry, so a broker outage surfaces to the caller immediately.
// Per-call context deadlines bound each publish.
func NewPubSubClients(cfg config.RedisConfig, logger *zap.Logger) *PubSubClients {
	pubOpts := redisOptions(cfg)
	pubOpts.PoolSize = 1
	pubOpts.MinIdleConns = 1
	pubOpts.MaxRetries = -1
	pubOpts.PoolTimeout = cfg.WriteTimeout
	pubOpts.ContextTimeoutEnabled = true

	subOpts := redisOptions(cfg)

	clients := &PubSubClients{
		Publish:   redis.NewClient(pubOpts),
		Subscribe: redis.NewClient(subOpts),
	}
	if err := clients.Publish.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach pub/sub broker", zap.Error(err))
	}
	return clients
}

// Close closes both clients.
func (p *PubSubClients) Close() {
	if p == nil {
		return
	}
	if p.Publish != nil {
		_ = p.Publish.Close()
	}
	if p.Subscribe != nil {
		_ = p.Subscribe.Close()
	}
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

func redisOptions(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
