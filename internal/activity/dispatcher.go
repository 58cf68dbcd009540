package activity

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type enumerates local activity events.
type Type string

const (
	TypeChannelPublished  Type = "channel_published"
	TypeChannelSubscribed Type = "channel_subscribed"
	TypeVaultSynced       Type = "vault_synced"
)

// Event records something a caller did on a channel key.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	ChannelKey string    `json:"channel_key"`
	ActorID    string    `json:"actor_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrQueueFull is returned by Publish when the dispatcher is saturated.
var ErrQueueFull = errors.New("activity: queue full")

// Handler handles a dispatched event.
type Handler func(context.Context, Event) error

// Publisher accepts activity events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Dispatcher queues events and hands them to subscribed handlers from Run.
// Publish never blocks; events beyond the queue capacity are dropped.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[Type][]Handler
	queue     chan Event
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher with the given queue capacity.
func NewDispatcher(buffer int, logger *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 128
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		listeners: make(map[Type][]Handler),
		queue:     make(chan Event, buffer),
		logger:    logger,
	}
}

// Subscribe registers a handler for the given event type.
func (d *Dispatcher) Subscribe(eventType Type, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], handler)
}

// Publish enqueues the event.
func (d *Dispatcher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case d.queue <- event:
		return nil
	default:
		d.logger.Warn("dropping activity event",
			zap.String("type", string(event.Type)),
			zap.String("channel", event.ChannelKey),
		)
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.queue:
			d.Dispatch(ctx, event)
		}
	}
}

// Dispatch synchronously invokes handlers for the event. Handler errors are
// logged and do not stop the remaining handlers.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	d.mu.RLock()
	handlers := append([]Handler{}, d.listeners[event.Type]...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			d.logger.Warn("activity handler failed",
				zap.String("type", string(event.Type)),
				zap.String("channel", event.ChannelKey),
				zap.Error(err),
			)
		}
	}
}
