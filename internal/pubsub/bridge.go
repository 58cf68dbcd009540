package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/channel-service/internal/config"
	"github.com/spec-kit/channel-service/internal/events"
	"github.com/spec-kit/channel-service/internal/observability"
	"github.com/spec-kit/channel-service/pkg/util/errorutil"
)

// Conn is the inbound half of the broker connection pair. *redis.PubSub
// satisfies it. Receive yields *redis.Message, *redis.Subscription and
// *redis.Pong values.
type Conn interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Receive(ctx context.Context) (interface{}, error)
	Ping(ctx context.Context, payload ...string) error
	Close() error
}

// State is the broker-level subscription state of one channel key.
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateActive
	StateUnsubscribing
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateUnsubscribing:
		return "unsubscribing"
	default:
		return "unsubscribed"
	}
}

// topic tracks listeners of one key. Its mutex is the only lock held while
// subscribe and unsubscribe commands for the key are written.
type topic struct {
	key string

	mu        sync.Mutex
	state     State
	listeners map[uint64]*Subscription
	ready     chan struct{}
	removed   bool
	// pending counts commands written on the current connection and not yet
	// acknowledged. The broker answers in order, so the state only settles
	// once the latest command is acknowledged.
	pending int
}

// Bridge demultiplexes the shared inbound connection into per-listener
// subscriptions. Run must be running for subscriptions to become active.
type Bridge struct {
	conn    Conn
	cfg     config.PubSubConfig
	backoff Backoff
	logger  *zap.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	topics map[string]*topic

	nextID    atomic.Uint64
	connected atomic.Bool
	closed    atomic.Bool
}

// NewBridge builds a bridge over conn.
func NewBridge(conn Conn, cfg config.PubSubConfig, logger *zap.Logger, metrics *observability.Metrics) *Bridge {
	if cfg.ListenerBuffer <= 0 {
		cfg.ListenerBuffer = 128
	}
	if cfg.SubscribeWait <= 0 {
		cfg.SubscribeWait = 5 * time.Second
	}
	b := &Bridge{
		conn:    conn,
		cfg:     cfg,
		backoff: Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax, Factor: cfg.BackoffFactor},
		logger:  observability.Component(logger, "bridge"),
		metrics: metrics,
		topics:  make(map[string]*topic),
	}
	b.connected.Store(true)
	return b
}

// Listen attaches a new listener to key, subscribing on the broker if this is
// the first listener. It returns once the broker has acknowledged the
// subscription, so envelopes published afterwards are delivered.
func (b *Bridge) Listen(ctx context.Context, key string) (*Subscription, error) {
	if key == "" {
		return nil, errorutil.NewValidationError("channel key is required", nil)
	}
	if b.closed.Load() {
		return nil, errorutil.NewBrokerDisconnected("subscription bridge closed")
	}

	sub, ready := b.attach(ctx, key)

	if ready == nil {
		return sub, nil
	}

	timer := time.NewTimer(b.cfg.SubscribeWait)
	defer timer.Stop()
	select {
	case <-ready:
		return sub, nil
	case <-ctx.Done():
		sub.Close()
		if !b.connected.Load() {
			return nil, errorutil.NewBrokerDisconnected("broker disconnected")
		}
		return nil, ctx.Err()
	case <-timer.C:
		sub.Close()
		return nil, errorutil.NewBrokerDisconnected("subscription not acknowledged by broker")
	}
}

// attach registers a listener and returns the channel to wait on, or nil if
// the key is already active.
func (b *Bridge) attach(ctx context.Context, key string) (*Subscription, <-chan struct{}) {
	for {
		t := b.topicFor(key)

		t.mu.Lock()
		if t.removed {
			t.mu.Unlock()
			b.forget(t)
			continue
		}

		sub := newSubscription(key, b.nextID.Add(1), b.cfg.ListenerBuffer, b.release)
		t.listeners[sub.id] = sub
		b.metrics.AddListeners(1)

		switch t.state {
		case StateUnsubscribed, StateUnsubscribing:
			t.state = StateSubscribing
			t.ready = make(chan struct{})
			// A failed write is retried by the reconnect path.
			if err := b.conn.Subscribe(ctx, key); err != nil {
				b.logger.Warn("subscribe command failed", zap.String("channel", key), zap.Error(err))
			} else {
				t.pending++
			}
		}

		var ready <-chan struct{}
		if t.state != StateActive {
			ready = t.ready
		}
		t.mu.Unlock()
		return sub, ready
	}
}

func (b *Bridge) topicFor(key string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[key]
	if !ok {
		t = &topic{key: key, listeners: make(map[uint64]*Subscription)}
		b.topics[key] = t
	}
	return t
}

func (b *Bridge) lookup(key string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topics[key]
}

// forget drops a removed topic from the index if it is still the current one.
func (b *Bridge) forget(t *topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics[t.key] == t {
		delete(b.topics, t.key)
	}
}

// release detaches sub and unsubscribes the key when no listeners remain.
func (b *Bridge) release(sub *Subscription) {
	t := b.lookup(sub.key)
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[sub.id]; !ok {
		return
	}
	delete(t.listeners, sub.id)
	b.metrics.AddListeners(-1)

	if len(t.listeners) > 0 {
		return
	}
	if t.state != StateSubscribing && t.state != StateActive {
		return
	}
	t.state = StateUnsubscribing

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SubscribeWait)
	defer cancel()
	if err := b.conn.Unsubscribe(ctx, t.key); err != nil {
		b.logger.Warn("unsubscribe command failed", zap.String("channel", t.key), zap.Error(err))
	} else {
		t.pending++
	}
}

// Run owns the inbound connection: it reads broker traffic, dispatches it to
// listeners, and reconnects with backoff. It returns when ctx is done or the
// bridge is closed.
func (b *Bridge) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = b.Close()
	}()
	go b.healthCheck(ctx)

	attempt := 0
	for {
		msg, err := b.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || b.closed.Load() || errors.Is(err, redis.ErrClosed) {
				return nil
			}
			b.connected.Store(false)
			delay := b.backoff.Delay(attempt)
			attempt++
			b.logger.Warn("broker receive failed, reconnecting",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
			)
			if !sleepContext(ctx, delay) {
				return nil
			}
			b.metrics.RecordReconnect()
			b.resubscribe(ctx)
			continue
		}

		if !b.connected.Swap(true) {
			b.logger.Info("broker connection restored", zap.Int("attempts", attempt))
		}
		attempt = 0
		b.dispatch(msg)
	}
}

func (b *Bridge) dispatch(msg interface{}) {
	switch m := msg.(type) {
	case *redis.Message:
		b.deliver(m.Channel, m.Payload)
	case *redis.Subscription:
		b.acknowledge(m.Kind, m.Channel)
	case *redis.Pong:
	default:
		b.logger.Debug("ignoring broker reply", zap.Any("reply", msg))
	}
}

func (b *Bridge) deliver(key, payload string) {
	env, err := events.Decode([]byte(payload))
	if err != nil {
		b.metrics.RecordDecodeFailure()
		b.logger.Warn("dropping undecodable payload", zap.String("channel", key), zap.Error(err))
		return
	}

	t := b.lookup(key)
	if t == nil {
		return
	}
	t.mu.Lock()
	listeners := make([]*Subscription, 0, len(t.listeners))
	for _, sub := range t.listeners {
		listeners = append(listeners, sub)
	}
	t.mu.Unlock()

	delivered := 0
	for _, sub := range listeners {
		if sub.offer(env) {
			delivered++
			continue
		}
		b.metrics.RecordDropped()
		b.logger.Warn("dropping envelope for slow listener",
			zap.String("channel", key),
			zap.Uint64("listener", sub.id),
			zap.String("kind", string(env.Kind)),
		)
	}
	b.metrics.RecordDelivered(delivered)
}

// acknowledge advances the key's state machine on a broker ack. While later
// commands are still outstanding the ack belongs to a superseded command and
// only settles the count.
func (b *Bridge) acknowledge(kind, key string) {
	t := b.lookup(key)
	if t == nil {
		return
	}

	t.mu.Lock()
	if t.pending > 0 {
		t.pending--
	}
	if t.pending > 0 {
		t.mu.Unlock()
		return
	}
	removed := false
	switch kind {
	case "subscribe":
		if t.state == StateSubscribing {
			t.state = StateActive
			close(t.ready)
		}
	case "unsubscribe":
		if t.state == StateUnsubscribing && len(t.listeners) == 0 {
			t.state = StateUnsubscribed
			t.removed = true
			removed = true
		}
	}
	t.mu.Unlock()

	if removed {
		b.forget(t)
	}
}

// resubscribe reissues subscribe for every key that still has listeners and
// retires keys whose unsubscribe was lost with the connection.
func (b *Bridge) resubscribe(ctx context.Context) {
	b.mu.Lock()
	topics := make([]*topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		// Acks for commands written on the old connection never arrive.
		t.pending = 0
		retired := false
		switch {
		case len(t.listeners) > 0:
			if err := b.conn.Subscribe(ctx, t.key); err != nil {
				b.logger.Warn("resubscribe failed", zap.String("channel", t.key), zap.Error(err))
			} else {
				t.pending++
			}
		case t.state == StateUnsubscribing || t.state == StateUnsubscribed:
			t.state = StateUnsubscribed
			t.removed = true
			retired = true
		}
		t.mu.Unlock()
		if retired {
			b.forget(t)
		}
	}
}

func (b *Bridge) healthCheck(ctx context.Context) {
	if b.cfg.HealthCheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(b.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, b.cfg.SubscribeWait)
			err := b.conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				b.connected.Store(false)
				b.logger.Warn("broker health check failed", zap.Error(err))
			}
		}
	}
}

// Connected reports whether the last broker read succeeded.
func (b *Bridge) Connected() bool {
	return b.connected.Load() && !b.closed.Load()
}

// State returns the subscription state of key.
func (b *Bridge) State(key string) State {
	t := b.lookup(key)
	if t == nil {
		return StateUnsubscribed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Listeners returns the number of listeners attached to key.
func (b *Bridge) Listeners(key string) int {
	t := b.lookup(key)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners)
}

// Close shuts down the inbound connection. Run returns afterwards.
func (b *Bridge) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.conn.Close()
}
