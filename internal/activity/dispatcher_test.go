package activity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RunDeliversToHandlers(t *testing.T) {
	d := NewDispatcher(4, nil)
	var published, subscribed atomic.Int32
	d.Subscribe(TypeChannelPublished, func(context.Context, Event) error {
		published.Add(1)
		return errors.New("handler failure is logged only")
	})
	d.Subscribe(TypeChannelPublished, func(context.Context, Event) error {
		published.Add(1)
		return nil
	})
	d.Subscribe(TypeChannelSubscribed, func(context.Context, Event) error {
		subscribed.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Publish(ctx, Event{Type: TypeChannelPublished, ChannelKey: "c"}))
	require.NoError(t, d.Publish(ctx, Event{Type: TypeChannelSubscribed, ChannelKey: "c"}))
	require.NoError(t, d.Publish(ctx, Event{Type: TypeVaultSynced, ChannelKey: "v"}))

	assert.Eventually(t, func() bool {
		return published.Load() == 2 && subscribed.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_PublishNeverBlocks(t *testing.T) {
	d := NewDispatcher(1, nil)
	require.NoError(t, d.Publish(context.Background(), Event{Type: TypeChannelPublished}))
	assert.ErrorIs(t, d.Publish(context.Background(), Event{Type: TypeChannelPublished}), ErrQueueFull)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Publish(ctx, Event{}), context.Canceled)
}
