package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/riskcore/internal/store"
)

func TestPublishFillsEnvelope(t *testing.T) {
	bus := NewBus(store.NewMemoryStore(), "")
	ctx := context.Background()

	var got *Event
	bus.Subscribe(TrustSlashed, func(_ context.Context, e *Event) { got = e })

	err := bus.Publish(ctx, &Event{Type: TrustSlashed, Subject: "agent-1"})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, "agent-1", got.Subject)
}

func TestSubscribeIsTypeScoped(t *testing.T) {
	bus := NewBus(store.NewMemoryStore(), "")
	ctx := context.Background()

	var slashes, kills int
	bus.Subscribe(TrustSlashed, func(context.Context, *Event) { slashes++ })
	bus.Subscribe(StrategyKilled, func(context.Context, *Event) { kills++ })

	bus.Emit(ctx, TrustSlashed, "a", nil)
	bus.Emit(ctx, TrustSlashed, "b", nil)
	bus.Emit(ctx, StrategyKilled, "s", nil)

	assert.Equal(t, 2, slashes)
	assert.Equal(t, 1, kills)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(store.NewMemoryStore(), "")
	ctx := context.Background()

	var count int
	unsub := bus.Subscribe(TrustSlashed, func(context.Context, *Event) { count++ })

	bus.Emit(ctx, TrustSlashed, "a", nil)
	unsub()
	bus.Emit(ctx, TrustSlashed, "a", nil)

	assert.Equal(t, 1, count)
}

func TestSubscribeAllSeesEveryType(t *testing.T) {
	bus := NewBus(store.NewMemoryStore(), "")
	ctx := context.Background()

	var seen []Type
	bus.SubscribeAll(func(_ context.Context, e *Event) { seen = append(seen, e.Type) })

	bus.Emit(ctx, TrustSlashed, "a", nil)
	bus.Emit(ctx, DrawdownBreach, "acct", nil)
	bus.Emit(ctx, FallbackActivated, "fb", nil)

	assert.Equal(t, []Type{TrustSlashed, DrawdownBreach, FallbackActivated}, seen)
}

func TestRemoteEventsReachLocalSubscribers(t *testing.T) {
	st := store.NewMemoryStore()
	producer := NewBus(st, "test:")
	consumer := NewBus(st, "test:")
	ctx := context.Background()

	consumer.ListenRemote(ctx)

	var got []*Event
	consumer.Subscribe(AnomalyDetected, func(_ context.Context, e *Event) { got = append(got, e) })

	producer.Emit(ctx, AnomalyDetected, "agent-1", map[string]interface{}{"z_score": 7.0})

	require.Len(t, got, 1)
	assert.Equal(t, "agent-1", got[0].Subject)
	assert.Equal(t, 7.0, got[0].Data["z_score"])
}

func TestClosedBusRejectsPublish(t *testing.T) {
	bus := NewBus(store.NewMemoryStore(), "")
	require.NoError(t, bus.Close())
	err := bus.Publish(context.Background(), &Event{Type: TrustSlashed})
	assert.Error(t, err)
}
