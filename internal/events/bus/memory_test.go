package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augmentos/cloud/internal/common/logger"
)

func newTestBus(t *testing.T) *MemoryEventBus {
	t.Helper()
	b := NewMemoryEventBus(logger.Default())
	t.Cleanup(b.Close)
	return b
}

func waitEvent(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := newTestBus(t)

	received := make(chan *Event, 1)
	_, err := b.Subscribe("session.connected", func(_ context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	sent := NewEvent("session.connected", "cloud", map[string]any{"userId": "u1"})
	require.NoError(t, b.Publish(context.Background(), "session.connected", sent))

	got := waitEvent(t, received)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "u1", got.Data["userId"])
}

func TestMemoryBusWildcards(t *testing.T) {
	b := newTestBus(t)

	single := make(chan *Event, 2)
	multi := make(chan *Event, 2)
	_, err := b.Subscribe("app.*", func(_ context.Context, e *Event) error {
		single <- e
		return nil
	})
	require.NoError(t, err)
	_, err = b.Subscribe("app.>", func(_ context.Context, e *Event) error {
		multi <- e
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "app.started", NewEvent("app.started", "cloud", nil)))
	waitEvent(t, single)
	waitEvent(t, multi)

	// Two tokens past the prefix only match the > pattern.
	require.NoError(t, b.Publish(context.Background(), "app.started.late", NewEvent("app.started.late", "cloud", nil)))
	waitEvent(t, multi)
	select {
	case <-single:
		t.Fatal("single-token wildcard matched a two-token tail")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)

	received := make(chan *Event, 1)
	sub, err := b.Subscribe("session.ended", func(_ context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)
	assert.True(t, sub.IsValid())

	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, b.Publish(context.Background(), "session.ended", NewEvent("session.ended", "cloud", nil)))
	select {
	case <-received:
		t.Fatal("unsubscribed handler still invoked")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusRejectsUseAfterClose(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	b.Close()

	assert.False(t, b.IsConnected())
	assert.Error(t, b.Publish(context.Background(), "x", NewEvent("x", "cloud", nil)))
	_, err := b.Subscribe("x", func(context.Context, *Event) error { return nil })
	assert.Error(t, err)
}
