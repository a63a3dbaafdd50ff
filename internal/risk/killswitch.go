package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfabric/riskcore/internal/config"
	"github.com/quantfabric/riskcore/internal/events"
	"github.com/quantfabric/riskcore/internal/metrics"
	"github.com/quantfabric/riskcore/internal/store"
)

const keyKillLog = "risk:kills"

// Kill conditions.
const (
	ConditionHardFailure     = "hard_failure"
	ConditionRelativeFailure = "relative_failure"
	ConditionEntropyCollapse = "entropy_collapse"
)

// StrategyStats is the performance snapshot the kill-switch judges.
type StrategyStats struct {
	StrategyID  string  `json:"strategy_id"`
	AgentID     string  `json:"agent_id,omitempty"`
	Trades      int     `json:"trades"`
	ROI         float64 `json:"roi"`
	MaxDrawdown float64 `json:"max_drawdown"`

	// Diversity measures action entropy in [0, 1]; a collapsing value
	// means the strategy has degenerated into repeating one action.
	Diversity float64 `json:"diversity"`
}

// KillEvent records one kill-switch activation.
type KillEvent struct {
	ID         string        `json:"id"`
	StrategyID string        `json:"strategy_id"`
	Condition  string        `json:"condition"`
	Reason     string        `json:"reason"`
	Stats      StrategyStats `json:"stats"`
	Timestamp  time.Time     `json:"timestamp"`
}

// FallbackFunc activates the conservative fallback strategy when kills
// cluster.
type FallbackFunc func(ctx context.Context, fallbackStrategyID string)

// KillSwitch disables strategies that fail hard, trail the pool badly, or
// collapse into degenerate behavior. Each condition can be disabled
// independently; any enabled condition firing kills the strategy.
type KillSwitch struct {
	store      store.Store
	bus        *events.Bus
	metrics    *metrics.Metrics
	cfg        config.KillSwitchConfig
	quarantine *Quarantine
	fallback   FallbackFunc

	mu           sync.Mutex
	recentKills  []time.Time
	lastFallback time.Time
}

// NewKillSwitch creates a kill-switch wired to the quarantine list.
func NewKillSwitch(st store.Store, bus *events.Bus, m *metrics.Metrics, cfg config.KillSwitchConfig, quarantine *Quarantine, fallback FallbackFunc) *KillSwitch {
	return &KillSwitch{
		store:      st,
		bus:        bus,
		metrics:    m,
		cfg:        cfg,
		quarantine: quarantine,
		fallback:   fallback,
	}
}

// Evaluate judges one strategy against the pool and kills it if any enabled
// condition fires. Returns the kill event, or nil when the strategy
// survives.
func (k *KillSwitch) Evaluate(ctx context.Context, stats StrategyStats, poolROIs []float64) (*KillEvent, error) {
	if condition, reason := k.check(stats, poolROIs); condition != "" {
		return k.kill(ctx, stats, condition, reason)
	}
	return nil, nil
}

// check returns the first firing condition and its reason, or "". The trade
// minimum gates only the per-strategy performance conditions; diversity
// collapse is a pool-level signal and fires regardless of trade count.
func (k *KillSwitch) check(stats StrategyStats, poolROIs []float64) (string, string) {
	seasoned := stats.Trades >= k.cfg.MinTrades

	if k.cfg.HardFailureEnabled && seasoned {
		if stats.ROI < k.cfg.MinROI {
			return ConditionHardFailure,
				fmt.Sprintf("roi %.4f below hard floor %.4f", stats.ROI, k.cfg.MinROI)
		}
		if stats.MaxDrawdown > k.cfg.MaxDrawdown {
			return ConditionHardFailure,
				fmt.Sprintf("drawdown %.4f above hard ceiling %.4f", stats.MaxDrawdown, k.cfg.MaxDrawdown)
		}
	}

	if k.cfg.RelativeFailureEnabled && seasoned {
		// A zero pool median gives no meaningful baseline, so the
		// relative check is skipped rather than dividing against it.
		if median, ok := medianOf(poolROIs); ok && median != 0 {
			if (stats.ROI-median)/math.Abs(median) < -k.cfg.UnderperformanceThreshold {
				return ConditionRelativeFailure,
					fmt.Sprintf("roi %.4f trails pool median %.4f by over %.0f%%",
						stats.ROI, median, k.cfg.UnderperformanceThreshold*100)
			}
		}
	}

	if k.cfg.EntropyDecayEnabled && stats.Diversity < k.cfg.MinDiversity {
		return ConditionEntropyCollapse,
			fmt.Sprintf("action diversity %.4f below %.4f", stats.Diversity, k.cfg.MinDiversity)
	}

	return "", ""
}

func (k *KillSwitch) kill(ctx context.Context, stats StrategyStats, condition, reason string) (*KillEvent, error) {
	event := &KillEvent{
		ID:         uuid.New().String(),
		StrategyID: stats.StrategyID,
		Condition:  condition,
		Reason:     reason,
		Stats:      stats,
		Timestamp:  time.Now().UTC(),
	}

	if err := k.quarantine.QuarantineStrategy(ctx, stats.StrategyID, reason); err != nil {
		return nil, fmt.Errorf("kill %s: %w", stats.StrategyID, err)
	}
	k.recordKill(ctx, event)

	k.metrics.KillTotal.WithLabelValues(condition).Inc()
	slog.Error("Strategy killed",
		"strategy_id", stats.StrategyID, "condition", condition, "reason", reason)
	k.bus.Emit(ctx, events.StrategyKilled, stats.StrategyID, map[string]interface{}{
		"condition": condition,
		"reason":    reason,
		"roi":       stats.ROI,
		"trades":    stats.Trades,
	})

	k.noteKillAndMaybeFallback(ctx, event.Timestamp)
	return event, nil
}

// noteKillAndMaybeFallback tracks kill clustering. Once the ceiling of kills
// lands inside the trailing window the fallback strategy is activated, at
// most once per window.
func (k *KillSwitch) noteKillAndMaybeFallback(ctx context.Context, at time.Time) {
	window := k.cfg.RecentKillWindow()

	k.mu.Lock()
	k.recentKills = append(k.recentKills, at)
	cutoff := at.Add(-window)
	kept := k.recentKills[:0]
	for _, ts := range k.recentKills {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	k.recentKills = kept
	shouldActivate := len(k.recentKills) >= k.cfg.RecentKillCeiling &&
		time.Since(k.lastFallback) >= window
	if shouldActivate {
		k.lastFallback = at
	}
	k.mu.Unlock()

	if !shouldActivate {
		return
	}

	k.metrics.FallbackTotal.Inc()
	slog.Error("Kill ceiling reached, activating fallback strategy",
		"kills_in_window", k.cfg.RecentKillCeiling, "window", window,
		"fallback", k.cfg.FallbackStrategyID)
	k.bus.Emit(ctx, events.FallbackActivated, k.cfg.FallbackStrategyID, map[string]interface{}{
		"kills_in_window": k.cfg.RecentKillCeiling,
		"window":          window.String(),
	})
	if k.fallback != nil {
		k.fallback(ctx, k.cfg.FallbackStrategyID)
	}
}

func (k *KillSwitch) recordKill(ctx context.Context, event *KillEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal kill event", "error", err)
		return
	}
	if err := k.store.LPush(ctx, keyKillLog, string(data)); err != nil {
		slog.Warn("Failed to record kill event", "strategy_id", event.StrategyID, "error", err)
	} else if err := k.store.LTrim(ctx, keyKillLog, 0, k.cfg.KillEventRingSize-1); err != nil {
		slog.Warn("Failed to trim kill log", "error", err)
	}
}

// KillHistory returns the most recent kill events, newest first.
func (k *KillSwitch) KillHistory(ctx context.Context, limit int64) ([]*KillEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := k.store.LRange(ctx, keyKillLog, 0, limit-1)
	if err != nil {
		return nil, fmt.Errorf("read kill history: %w", err)
	}
	out := make([]*KillEvent, 0, len(raws))
	for _, raw := range raws {
		var event KillEvent
		if jerr := json.Unmarshal([]byte(raw), &event); jerr != nil {
			slog.Warn("Skipping corrupt kill record", "error", jerr)
			continue
		}
		out = append(out, &event)
	}
	return out, nil
}

// medianOf returns the median of values, or false for an empty slice.
func medianOf(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2, true
	}
	return sorted[mid], true
}
