package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/spec-kit/channel-service/internal/events"
)

// ErrSubscriptionClosed is returned by Next after Close.
var ErrSubscriptionClosed = errors.New("pubsub: subscription closed")

// Subscription is one listener's sequence of envelopes on a channel key. It
// never ends on its own; Close releases it.
type Subscription struct {
	key     string
	id      uint64
	ch      chan events.Envelope
	done    chan struct{}
	once    sync.Once
	release func(*Subscription)
}

func newSubscription(key string, id uint64, buffer int, release func(*Subscription)) *Subscription {
	return &Subscription{
		key:     key,
		id:      id,
		ch:      make(chan events.Envelope, buffer),
		done:    make(chan struct{}),
		release: release,
	}
}

// Key returns the channel key the subscription listens on.
func (s *Subscription) Key() string {
	return s.key
}

// Next blocks until an envelope arrives, ctx is done, or the subscription is closed.
func (s *Subscription) Next(ctx context.Context) (events.Envelope, error) {
	select {
	case <-s.done:
		return events.Envelope{}, ErrSubscriptionClosed
	default:
	}

	select {
	case <-s.done:
		return events.Envelope{}, ErrSubscriptionClosed
	case <-ctx.Done():
		return events.Envelope{}, ctx.Err()
	case env := <-s.ch:
		return env, nil
	}
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops delivery. The last Close on a key releases the broker subscription.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release(s)
		}
	})
}

// offer hands env to the listener without blocking. It reports false when
// the buffer is full.
func (s *Subscription) offer(env events.Envelope) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.ch <- env:
		return true
	default:
		return false
	}
}
