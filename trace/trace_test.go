package trace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/message"
)

func TestBusPublishSubscribeRoundTrips(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(Event{
		ID:     "test-1",
		Kind:   KindDelivery,
		MboxID: id.Mbox(7),
	}))

	select {
	case ev := <-events:
		require.Equal(t, "test-1", ev.ID)
		require.Equal(t, KindDelivery, ev.Kind)
		require.Equal(t, id.Mbox(7), ev.MboxID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestSinkOnDeliverPublishesDeliveryEvent(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	sink := NewSink(bus, nil)
	sink.OnDeliver(id.Mbox(42), message.TypeOf[struct{ Greeting string }]())

	select {
	case ev := <-events:
		require.Equal(t, KindDelivery, ev.Kind)
		require.Equal(t, id.Mbox(42), ev.MboxID)
		require.NotEmpty(t, ev.MsgType)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery event")
	}
}

func TestSinkPublishStatsSnapshotPublishesHeartbeat(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	sink := NewSink(bus, nil)
	sink.PublishStatsSnapshot()

	select {
	case ev := <-events:
		require.Equal(t, KindStatsSnapshot, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stats snapshot event")
	}
}

func TestSubscribeChannelClosesWhenContextCancelled(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-events:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber channel to close")
	}
}

func TestBusSatisfiesEnvTracerShape(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var _ interface {
		OnDeliver(mboxID id.Mbox, msgType message.Type)
	} = NewSink(bus, nil)
}
