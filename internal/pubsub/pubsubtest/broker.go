// Package pubsubtest provides an in-memory broker for exercising the
// publisher and the subscription bridge without Redis.
package pubsubtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrBrokerDown is returned by commands while the broker is marked down.
var ErrBrokerDown = errors.New("pubsubtest: broker down")

// Broker is a single-connection fake of the Redis pub/sub surface. It
// satisfies both the inbound connection and the publish client contracts.
type Broker struct {
	mu          sync.Mutex
	subscribed  map[string]bool
	subscribes  map[string]int
	unsubscribe map[string]int
	manualAck   bool
	down        bool
	held        []command

	inbox     chan interface{}
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

// command is a subscribe or unsubscribe waiting for ReleaseNext or
// ReleaseAcks. Held commands are applied in the order they were issued.
type command struct {
	kind string
	key  string
}

// NewBroker returns a broker that acknowledges commands immediately.
func NewBroker() *Broker {
	return &Broker{
		subscribed:  make(map[string]bool),
		subscribes:  make(map[string]int),
		unsubscribe: make(map[string]int),
		inbox:       make(chan interface{}, 1024),
		errs:        make(chan error, 16),
		closed:      make(chan struct{}),
	}
}

// HoldAcks makes subscribe and unsubscribe commands wait, unapplied and
// unacknowledged, for ReleaseNext or ReleaseAcks.
func (b *Broker) HoldAcks() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.manualAck = true
}

// ReleaseNext applies and acknowledges the oldest held command. It reports
// false when nothing is held.
func (b *Broker) ReleaseNext() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.held) == 0 {
		return false
	}
	b.apply(b.held[0])
	b.held = b.held[1:]
	return true
}

// ReleaseAcks applies every held command and resumes immediate
// acknowledgement.
func (b *Broker) ReleaseAcks() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.manualAck = false
	for _, cmd := range b.held {
		b.apply(cmd)
	}
	b.held = nil
}

// Held returns how many commands are waiting.
func (b *Broker) Held() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.held)
}

func (b *Broker) apply(cmd command) {
	if cmd.kind == "subscribe" {
		b.subscribed[cmd.key] = true
	} else {
		delete(b.subscribed, cmd.key)
	}
	b.inbox <- &redis.Subscription{Kind: cmd.kind, Channel: cmd.key, Count: len(b.subscribed)}
}

// Subscribe implements the inbound connection.
func (b *Broker) Subscribe(_ context.Context, channels ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return ErrBrokerDown
	}
	for _, key := range channels {
		b.subscribes[key]++
		b.issue(command{kind: "subscribe", key: key})
	}
	return nil
}

// Unsubscribe implements the inbound connection.
func (b *Broker) Unsubscribe(_ context.Context, channels ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return ErrBrokerDown
	}
	for _, key := range channels {
		b.unsubscribe[key]++
		b.issue(command{kind: "unsubscribe", key: key})
	}
	return nil
}

func (b *Broker) issue(cmd command) {
	if b.manualAck {
		b.held = append(b.held, cmd)
		return
	}
	b.apply(cmd)
}

// Receive implements the inbound connection.
func (b *Broker) Receive(ctx context.Context) (interface{}, error) {
	select {
	case <-b.closed:
		return nil, redis.ErrClosed
	case err := <-b.errs:
		return nil, err
	case msg := <-b.inbox:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping implements the inbound connection.
func (b *Broker) Ping(_ context.Context, _ ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return ErrBrokerDown
	}
	return nil
}

// Close implements the inbound connection.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

// Publish implements the publish client. Only subscribed keys receive the message.
func (b *Broker) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return redis.NewIntResult(0, ErrBrokerDown)
	}
	if !b.subscribed[channel] {
		return redis.NewIntResult(0, nil)
	}
	b.inbox <- &redis.Message{Channel: channel, Payload: payloadString(message)}
	return redis.NewIntResult(1, nil)
}

// Inject delivers a raw payload on key as if it had been published,
// bypassing encoding.
func (b *Broker) Inject(key, payload string) {
	b.inbox <- &redis.Message{Channel: key, Payload: payload}
}

// Disconnect fails the pending read and forgets every broker-side
// subscription, as a dropped connection does.
func (b *Broker) Disconnect(err error) {
	b.mu.Lock()
	b.subscribed = make(map[string]bool)
	b.held = nil
	b.mu.Unlock()
	b.errs <- err
}

// SetDown makes commands fail until cleared.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// Subscribed reports whether key is subscribed on the broker.
func (b *Broker) Subscribed(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribed[key]
}

// SubscribeCalls returns how many subscribe commands were issued for key.
func (b *Broker) SubscribeCalls(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes[key]
}

// UnsubscribeCalls returns how many unsubscribe commands were issued for key.
func (b *Broker) UnsubscribeCalls(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubscribe[key]
}

func payloadString(message interface{}) string {
	switch v := message.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
