// Package events publishes governance and risk events on named channels for
// downstream telemetry and dashboards. Channel names and payload shapes are a
// compatibility surface: the channel for an event type is always
// "riskcore:events:" + type, and the envelope fields below must stay stable.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfabric/riskcore/internal/store"
)

// Type identifies an event stream.
type Type string

const (
	TrustSlashed        Type = "trust.slashed"
	TrustModeChanged    Type = "trust.mode_changed"
	TrustRecovered      Type = "trust.recovered"
	TrustThreshold      Type = "trust.threshold_crossed"
	GovernanceViolation Type = "governance.violation"
	DrawdownBreach      Type = "risk.drawdown_breach"
	AnomalyDetected     Type = "risk.anomaly"
	StrategyKilled      Type = "risk.strategy_killed"
	QuarantineUpdated   Type = "risk.quarantine"
	FallbackActivated   Type = "risk.fallback_activated"
)

// DefaultChannelPrefix namespaces the pub/sub channels.
const DefaultChannelPrefix = "riskcore:events:"

// Event is the JSON envelope published on every channel.
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	Subject   string                 `json:"subject,omitempty"` // agent or strategy ID
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Handler receives events delivered to a subscriber.
type Handler func(ctx context.Context, event *Event)

type subscriberEntry struct {
	id      int
	handler Handler
}

// Bus distributes events through the shared store's pub/sub so other pods
// receive them, and also fans out to in-process subscribers for zero-latency
// delivery to co-located components (the telemetry streamer, tests).
type Bus struct {
	mu         sync.RWMutex
	store      store.Store
	prefix     string
	nextSubID  int
	localSubs  map[Type][]subscriberEntry
	unsubFuncs []func()
	closed     bool
}

// NewBus creates an event bus backed by the given store.
func NewBus(st store.Store, channelPrefix string) *Bus {
	if channelPrefix == "" {
		channelPrefix = DefaultChannelPrefix
	}
	return &Bus{
		store:     st,
		prefix:    channelPrefix,
		localSubs: make(map[Type][]subscriberEntry),
	}
}

// Publish sends an event on its named channel. Publish failure degrades to
// local-only delivery so co-located subscribers still see the event.
func (b *Bus) Publish(ctx context.Context, event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	channel := b.prefix + string(event.Type)
	if err := b.store.Publish(ctx, channel, data); err != nil {
		slog.Warn("Event publish failed, delivering locally only",
			"type", event.Type, "error", err)
	}
	b.deliverLocal(ctx, event)
	return nil
}

// Emit builds and publishes an event in one call.
func (b *Bus) Emit(ctx context.Context, eventType Type, subject string, data map[string]interface{}) {
	if err := b.Publish(ctx, &Event{Type: eventType, Subject: subject, Data: data}); err != nil {
		slog.Warn("Event emit failed", "type", eventType, "error", err)
	}
}

// Subscribe registers a handler for one event type and returns an
// unsubscribe function. Pass SubscribeAll to observe every type.
func (b *Bus) Subscribe(eventType Type, handler Handler) func() {
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.localSubs[eventType] = append(b.localSubs[eventType], subscriberEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.localSubs[eventType]
		for i, entry := range subs {
			if entry.id == id {
				b.localSubs[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// SubscribeAll registers a handler for every known event type.
func (b *Bus) SubscribeAll(handler Handler) func() {
	types := []Type{
		TrustSlashed, TrustModeChanged, TrustRecovered, TrustThreshold,
		GovernanceViolation, DrawdownBreach, AnomalyDetected,
		StrategyKilled, QuarantineUpdated, FallbackActivated,
	}
	unsubs := make([]func(), 0, len(types))
	for _, t := range types {
		unsubs = append(unsubs, b.Subscribe(t, handler))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// ListenRemote attaches the bus to the store's pub/sub channels so events
// published by other pods reach local subscribers. Safe to skip in tests.
func (b *Bus) ListenRemote(ctx context.Context) {
	types := []Type{
		TrustSlashed, TrustModeChanged, TrustRecovered, TrustThreshold,
		GovernanceViolation, DrawdownBreach, AnomalyDetected,
		StrategyKilled, QuarantineUpdated, FallbackActivated,
	}
	for _, t := range types {
		channel := b.prefix + string(t)
		unsub, err := b.store.Subscribe(ctx, channel, func(data []byte) {
			var event Event
			if err := json.Unmarshal(data, &event); err != nil {
				slog.Warn("Failed to unmarshal remote event", "channel", channel, "error", err)
				return
			}
			b.deliverLocal(context.Background(), &event)
		})
		if err != nil {
			slog.Warn("Remote subscribe failed, local-only mode", "type", t, "error", err)
			continue
		}
		b.mu.Lock()
		b.unsubFuncs = append(b.unsubFuncs, unsub)
		b.mu.Unlock()
	}
}

// Close shuts down the bus and all remote subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, unsub := range b.unsubFuncs {
		unsub()
	}
	b.unsubFuncs = nil
	b.localSubs = make(map[Type][]subscriberEntry)
	return nil
}

func (b *Bus) deliverLocal(ctx context.Context, event *Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.localSubs[event.Type]))
	for _, entry := range b.localSubs[event.Type] {
		handlers = append(handlers, entry.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, event)
	}
}
