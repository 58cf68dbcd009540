package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/channel-service/internal/config"
	"github.com/spec-kit/channel-service/internal/events"
	"github.com/spec-kit/channel-service/internal/observability"
	"github.com/spec-kit/channel-service/internal/pubsub/pubsubtest"
	"github.com/spec-kit/channel-service/pkg/util/errorutil"
)

func testConfig() config.PubSubConfig {
	return config.PubSubConfig{
		ListenerBuffer: 16,
		PublishTimeout: time.Second,
		SubscribeWait:  time.Second,
		BackoffBase:    time.Millisecond,
		BackoffMax:     10 * time.Millisecond,
		BackoffFactor:  2,
	}
}

type harness struct {
	broker    *pubsubtest.Broker
	bridge    *Bridge
	publisher *Publisher
	metrics   *observability.Metrics
}

func newHarness(t *testing.T, cfg config.PubSubConfig) *harness {
	t.Helper()
	broker := pubsubtest.NewBroker()
	metrics := observability.NewMetrics()
	bridge := NewBridge(broker, cfg, nil, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bridge.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{
		broker:    broker,
		bridge:    bridge,
		publisher: NewPublisher(broker, cfg.PublishTimeout, nil, metrics),
		metrics:   metrics,
	}
}

func chatEnvelope(id, channel string) events.Envelope {
	return events.NewChannelMessage(events.ChannelMessage{
		ID:       id,
		Message:  "message " + id,
		SendTo:   events.ChannelSnapshot{ID: channel, Name: channel},
		SendFrom: events.UserSnapshot{ID: "u1", Name: "ada", Roles: []string{}},
		SendWhen: 1700000000000,
	})
}

func next(t *testing.T, sub *Subscription) events.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := sub.Next(ctx)
	require.NoError(t, err)
	return env
}

func assertNothing(t *testing.T, sub *Subscription) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridge_FanOut(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	subs := make([]*Subscription, 3)
	for i := range subs {
		sub, err := h.bridge.Listen(ctx, "chan-1")
		require.NoError(t, err)
		defer sub.Close()
		subs[i] = sub
	}
	assert.Equal(t, 1, h.broker.SubscribeCalls("chan-1"))
	assert.Equal(t, StateActive, h.bridge.State("chan-1"))

	env := chatEnvelope("m1", "chan-1")
	require.NoError(t, h.publisher.Publish(ctx, "chan-1", env))

	for _, sub := range subs {
		assert.Equal(t, env, next(t, sub))
		assertNothing(t, sub)
	}
	assert.Equal(t, int64(3), h.metrics.PubSub().Delivered)
}

func TestBridge_KeysAreIsolated(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	a, err := h.bridge.Listen(ctx, "a")
	require.NoError(t, err)
	defer a.Close()
	b, err := h.bridge.Listen(ctx, "b")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, h.publisher.Publish(ctx, "a", chatEnvelope("m1", "a")))
	assert.Equal(t, "m1", next(t, a).Message.ID)
	assertNothing(t, b)
}

func TestBridge_OrderPreserved(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	sub, err := h.bridge.Listen(ctx, "k")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, h.publisher.Publish(ctx, "k", chatEnvelope(fmt.Sprint(i), "k")))
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprint(i), next(t, sub).Message.ID)
	}
}

func TestBridge_ReferenceCounting(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	first, err := h.bridge.Listen(ctx, "k")
	require.NoError(t, err)
	second, err := h.bridge.Listen(ctx, "k")
	require.NoError(t, err)

	first.Close()
	assert.Equal(t, StateActive, h.bridge.State("k"))
	assert.Equal(t, 0, h.broker.UnsubscribeCalls("k"))
	assert.Equal(t, 1, h.bridge.Listeners("k"))

	second.Close()
	assert.Eventually(t, func() bool {
		return h.bridge.State("k") == StateUnsubscribed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.broker.UnsubscribeCalls("k"))
	assert.False(t, h.broker.Subscribed("k"))
	assert.Equal(t, int64(0), h.metrics.PubSub().ActiveListeners)

	again, err := h.bridge.Listen(ctx, "k")
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, 2, h.broker.SubscribeCalls("k"))

	require.NoError(t, h.publisher.Publish(ctx, "k", chatEnvelope("fresh", "k")))
	assert.Equal(t, "fresh", next(t, again).Message.ID)
}

func TestBridge_AttachDuringSubscribing(t *testing.T) {
	h := newHarness(t, testConfig())
	h.broker.HoldAcks()

	var wg sync.WaitGroup
	subs := make(chan *Subscription, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := h.bridge.Listen(context.Background(), "k")
			if assert.NoError(t, err) {
				subs <- sub
			}
		}()
	}

	assert.Eventually(t, func() bool { return h.bridge.Listeners("k") == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateSubscribing, h.bridge.State("k"))
	assert.Equal(t, 1, h.broker.SubscribeCalls("k"))

	h.broker.ReleaseAcks()
	wg.Wait()
	close(subs)
	assert.Equal(t, StateActive, h.bridge.State("k"))

	require.NoError(t, h.publisher.Publish(context.Background(), "k", chatEnvelope("m", "k")))
	for sub := range subs {
		assert.Equal(t, "m", next(t, sub).Message.ID)
		sub.Close()
	}
}

func TestBridge_ResubscribeWaitsForLatestAck(t *testing.T) {
	h := newHarness(t, testConfig())
	h.broker.HoldAcks()

	// First listener gives up before the subscribe is acknowledged, leaving
	// subscribe then unsubscribe outstanding.
	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() {
		_, err := h.bridge.Listen(ctx, "k")
		abandoned <- err
	}()
	require.Eventually(t, func() bool { return h.bridge.Listeners("k") == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-abandoned, context.Canceled)
	assert.Equal(t, StateUnsubscribing, h.bridge.State("k"))

	listened := make(chan *Subscription, 1)
	go func() {
		sub, err := h.bridge.Listen(context.Background(), "k")
		if assert.NoError(t, err) {
			listened <- sub
		}
	}()
	require.Eventually(t, func() bool { return h.broker.Held() == 3 }, time.Second, 5*time.Millisecond)

	// The stale subscribe ack must not release the new listener.
	require.True(t, h.broker.ReleaseNext())
	assert.Never(t, func() bool { return len(listened) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, StateSubscribing, h.bridge.State("k"))

	h.broker.ReleaseAcks()
	var sub *Subscription
	select {
	case sub = <-listened:
	case <-time.After(time.Second):
		t.Fatal("listen not released after the latest ack")
	}
	defer sub.Close()
	assert.Equal(t, StateActive, h.bridge.State("k"))
	assert.True(t, h.broker.Subscribed("k"))

	require.NoError(t, h.publisher.Publish(context.Background(), "k", chatEnvelope("m", "k")))
	assert.Equal(t, "m", next(t, sub).Message.ID)
}

func TestBridge_MalformedPayloadDropped(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	sub, err := h.bridge.Listen(ctx, "k")
	require.NoError(t, err)
	defer sub.Close()

	h.broker.Inject("k", `{"type":"ChannelMessage","create":{}}`)
	h.broker.Inject("k", "not json")
	require.NoError(t, h.publisher.Publish(ctx, "k", chatEnvelope("good", "k")))

	assert.Equal(t, "good", next(t, sub).Message.ID)
	assert.Equal(t, int64(2), h.metrics.PubSub().DecodeFailures)
}

func TestBridge_SlowListenerLosesOnlyOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.ListenerBuffer = 2
	h := newHarness(t, cfg)
	ctx := context.Background()

	fast, err := h.bridge.Listen(ctx, "k")
	require.NoError(t, err)
	defer fast.Close()
	slow, err := h.bridge.Listen(ctx, "k")
	require.NoError(t, err)
	defer slow.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.publisher.Publish(ctx, "k", chatEnvelope(fmt.Sprint(i), "k")))
		assert.Equal(t, fmt.Sprint(i), next(t, fast).Message.ID)
	}
	assert.Eventually(t, func() bool {
		return h.metrics.PubSub().Dropped == 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "0", next(t, slow).Message.ID)
	assert.Equal(t, "1", next(t, slow).Message.ID)
	assertNothing(t, slow)
}

func TestBridge_CloseStopsDelivery(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	sub, err := h.bridge.Listen(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, h.publisher.Publish(ctx, "k", chatEnvelope("m", "k")))
	assert.Eventually(t, func() bool { return len(sub.ch) == 1 }, time.Second, 5*time.Millisecond)

	sub.Close()
	sub.Close()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
	select {
	case <-sub.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestBridge_ReconnectResubscribes(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	sub, err := h.bridge.Listen(ctx, "k")
	require.NoError(t, err)
	defer sub.Close()
	idle, err := h.bridge.Listen(ctx, "idle")
	require.NoError(t, err)
	idle.Close()

	h.broker.Disconnect(errors.New("connection reset by peer"))

	assert.Eventually(t, func() bool {
		return h.broker.SubscribeCalls("k") == 2 && h.broker.Subscribed("k")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), h.metrics.PubSub().Reconnects)
	assert.Equal(t, 1, h.broker.SubscribeCalls("idle"))

	require.NoError(t, h.publisher.Publish(ctx, "k", chatEnvelope("after", "k")))
	assert.Equal(t, "after", next(t, sub).Message.ID)
	assert.True(t, h.bridge.Connected())
}

func TestBridge_ListenTimesOutWithoutAck(t *testing.T) {
	cfg := testConfig()
	cfg.SubscribeWait = 50 * time.Millisecond
	h := newHarness(t, cfg)
	h.broker.HoldAcks()

	_, err := h.bridge.Listen(context.Background(), "k")
	assert.True(t, errorutil.HasCode(err, errorutil.CodeBrokerDisconnected))
	assert.Equal(t, 0, h.bridge.Listeners("k"))
	assert.Equal(t, 1, h.broker.UnsubscribeCalls("k"))
}

func TestBridge_ListenRejectsEmptyKey(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.bridge.Listen(context.Background(), "")
	assert.True(t, errorutil.HasCode(err, errorutil.CodeValidation))
}

func TestBridge_ClosedBridge(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.bridge.Close())
	assert.False(t, h.bridge.Connected())

	_, err := h.bridge.Listen(context.Background(), "k")
	assert.True(t, errorutil.HasCode(err, errorutil.CodeBrokerDisconnected))
}
