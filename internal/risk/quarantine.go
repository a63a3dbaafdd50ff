// Package risk holds the runtime sentinels that watch trading activity: the
// drawdown circuit breaker, the PnL anomaly scanner, and the strategy
// kill-switch, plus the quarantine list they feed.
package risk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quantfabric/riskcore/internal/events"
	"github.com/quantfabric/riskcore/internal/metrics"
	"github.com/quantfabric/riskcore/internal/store"
)

const (
	keyQuarantineAgents     = "risk:quarantine:agents"
	keyQuarantineStrategies = "risk:quarantine:strategies"
)

// Quarantine tracks agents and strategies pulled out of live trading. The
// membership sets live in the shared store so the trading plane can check
// them on every order.
type Quarantine struct {
	store   store.Store
	bus     *events.Bus
	metrics *metrics.Metrics
}

// NewQuarantine creates a quarantine list over the shared store.
func NewQuarantine(st store.Store, bus *events.Bus, m *metrics.Metrics) *Quarantine {
	return &Quarantine{store: st, bus: bus, metrics: m}
}

// QuarantineAgent pulls an agent out of live trading.
func (q *Quarantine) QuarantineAgent(ctx context.Context, agentID, reason string) error {
	return q.add(ctx, keyQuarantineAgents, "agent", agentID, reason)
}

// ReleaseAgent returns an agent to live trading.
func (q *Quarantine) ReleaseAgent(ctx context.Context, agentID string) error {
	return q.remove(ctx, keyQuarantineAgents, "agent", agentID)
}

// IsAgentQuarantined reports whether an agent is quarantined.
func (q *Quarantine) IsAgentQuarantined(ctx context.Context, agentID string) (bool, error) {
	return q.store.SIsMember(ctx, keyQuarantineAgents, agentID)
}

// QuarantinedAgents lists all quarantined agents.
func (q *Quarantine) QuarantinedAgents(ctx context.Context) ([]string, error) {
	return q.store.SMembers(ctx, keyQuarantineAgents)
}

// QuarantineStrategy pulls a strategy out of live trading.
func (q *Quarantine) QuarantineStrategy(ctx context.Context, strategyID, reason string) error {
	return q.add(ctx, keyQuarantineStrategies, "strategy", strategyID, reason)
}

// ReleaseStrategy returns a strategy to live trading.
func (q *Quarantine) ReleaseStrategy(ctx context.Context, strategyID string) error {
	return q.remove(ctx, keyQuarantineStrategies, "strategy", strategyID)
}

// IsStrategyQuarantined reports whether a strategy is quarantined.
func (q *Quarantine) IsStrategyQuarantined(ctx context.Context, strategyID string) (bool, error) {
	return q.store.SIsMember(ctx, keyQuarantineStrategies, strategyID)
}

// QuarantinedStrategies lists all quarantined strategies.
func (q *Quarantine) QuarantinedStrategies(ctx context.Context) ([]string, error) {
	return q.store.SMembers(ctx, keyQuarantineStrategies)
}

func (q *Quarantine) add(ctx context.Context, key, kind, id, reason string) error {
	if err := q.store.SAdd(ctx, key, id); err != nil {
		return fmt.Errorf("quarantine %s %s: %w", kind, id, err)
	}
	slog.Warn("Quarantined", "kind", kind, "id", id, "reason", reason)
	q.bus.Emit(ctx, events.QuarantineUpdated, id, map[string]interface{}{
		"kind":   kind,
		"state":  "quarantined",
		"reason": reason,
	})
	q.refreshGauge(ctx, key, kind)
	return nil
}

func (q *Quarantine) remove(ctx context.Context, key, kind, id string) error {
	if err := q.store.SRem(ctx, key, id); err != nil {
		return fmt.Errorf("release %s %s: %w", kind, id, err)
	}
	slog.Info("Released from quarantine", "kind", kind, "id", id)
	q.bus.Emit(ctx, events.QuarantineUpdated, id, map[string]interface{}{
		"kind":  kind,
		"state": "released",
	})
	q.refreshGauge(ctx, key, kind)
	return nil
}

func (q *Quarantine) refreshGauge(ctx context.Context, key, kind string) {
	members, err := q.store.SMembers(ctx, key)
	if err != nil {
		return
	}
	q.metrics.QuarantineSize.WithLabelValues(kind + "s").Set(float64(len(members)))
}
