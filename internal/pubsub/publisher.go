package pubsub

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/channel-service/internal/events"
	"github.com/spec-kit/channel-service/internal/observability"
	"github.com/spec-kit/channel-service/pkg/util/errorutil"
)

// PublishClient is the outbound half of the broker connection pair.
type PublishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher writes encoded envelopes to the outbound broker connection.
// Callers authorize before publishing.
type Publisher struct {
	client  PublishClient
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics

	// slot serializes writes. Waiting for it counts against the write timeout.
	slot chan struct{}
}

// NewPublisher builds a publisher. Each write is bounded by timeout.
func NewPublisher(client PublishClient, timeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Publisher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Publisher{
		client:  client,
		timeout: timeout,
		logger:  observability.Component(logger, "publisher"),
		metrics: metrics,
		slot:    make(chan struct{}, 1),
	}
}

// Publish encodes env and sends it on key. Subscribers that are not
// listening at that moment never see it. A broker failure is returned as
// PUBLISH_UNAVAILABLE; the caller decides whether to retry.
func (p *Publisher) Publish(ctx context.Context, key string, env events.Envelope) error {
	if key == "" {
		return errorutil.NewValidationError("channel key is required", nil)
	}
	payload, err := events.Encode(env)
	if err != nil {
		return errorutil.NewValidationError("invalid envelope", map[string]any{"reason": err.Error()})
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return p.failed(key, env, ctx.Err())
	}
	receivers, err := p.client.Publish(ctx, key, payload).Result()
	<-p.slot
	if err != nil {
		return p.failed(key, env, err)
	}

	p.metrics.RecordPublish(true)
	p.logger.Debug("envelope published",
		zap.String("channel", key),
		zap.String("kind", string(env.Kind)),
		zap.Int64("receivers", receivers),
	)
	return nil
}

func (p *Publisher) failed(key string, env events.Envelope, err error) error {
	p.metrics.RecordPublish(false)
	p.logger.Warn("publish failed",
		zap.String("channel", key),
		zap.String("kind", string(env.Kind)),
		zap.Error(err),
	)
	return errorutil.NewPublishUnavailable(err)
}
