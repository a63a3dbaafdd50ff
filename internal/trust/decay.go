package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfabric/riskcore/internal/config"
	"github.com/quantfabric/riskcore/internal/events"
	"github.com/quantfabric/riskcore/internal/metrics"
	"github.com/quantfabric/riskcore/internal/store"
)

const (
	keySlashPrefix = "trust:slashing:"
	keySlashGlobal = "trust:slashing:log"
)

// DecayEngine erodes idle trust over time and applies slashing penalties.
// Every score mutation goes through the ledger's delta path.
type DecayEngine struct {
	ledger  *Ledger
	store   store.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	cfg     config.TrustConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewDecayEngine creates a decay engine over the given ledger.
func NewDecayEngine(ledger *Ledger, st store.Store, bus *events.Bus, m *metrics.Metrics, cfg config.TrustConfig) *DecayEngine {
	return &DecayEngine{
		ledger:  ledger,
		store:   st,
		bus:     bus,
		metrics: m,
		cfg:     cfg,
	}
}

// Start launches the periodic decay sweep. No-op when decay is disabled or
// the engine is already running.
func (e *DecayEngine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running || !e.cfg.Decay.Enabled {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})

	go func(stopCh chan struct{}) {
		ticker := time.NewTicker(e.cfg.Decay.SweepInterval())
		defer ticker.Stop()
		slog.Info("Trust decay engine started", "interval", e.cfg.Decay.SweepInterval())
		for {
			select {
			case <-ticker.C:
				e.Sweep(context.Background())
			case <-stopCh:
				return
			}
		}
	}(e.stopCh)
}

// Stop halts the sweep loop. Safe to call multiple times.
func (e *DecayEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopCh)
	slog.Info("Trust decay engine stopped")
}

// SweepResult summarizes one decay pass.
type SweepResult struct {
	Scanned  int           `json:"scanned"`
	Decayed  int           `json:"decayed"`
	Skipped  int           `json:"skipped"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// Sweep decays every registered agent once. A failure on one agent is
// counted and the sweep moves on; the whole fleet is never blocked by one
// bad record.
func (e *DecayEngine) Sweep(ctx context.Context) SweepResult {
	start := time.Now()
	result := SweepResult{}

	agents, err := e.ledger.Agents(ctx)
	if err != nil {
		slog.Error("Decay sweep could not list agents", "error", err)
		result.Errors++
		e.metrics.DecayErrors.Inc()
		return result
	}

	for _, agentID := range agents {
		result.Scanned++
		decayed, derr := e.decayAgent(ctx, agentID)
		if derr != nil {
			result.Errors++
			e.metrics.DecayErrors.Inc()
			slog.Warn("Decay failed for agent", "agent_id", agentID, "error", derr)
			continue
		}
		if decayed {
			result.Decayed++
			e.metrics.DecayedAgents.Inc()
		} else {
			result.Skipped++
		}
	}

	result.Duration = time.Since(start)
	e.metrics.DecaySweeps.Inc()
	slog.Info("Decay sweep complete",
		"scanned", result.Scanned, "decayed", result.Decayed,
		"skipped", result.Skipped, "errors", result.Errors,
		"duration", result.Duration)
	return result
}

// decayAgent applies one sweep's decay to a single agent. Agents at or below
// the floor are skipped.
func (e *DecayEngine) decayAgent(ctx context.Context, agentID string) (bool, error) {
	score, err := e.ledger.GetScore(ctx, agentID)
	if err != nil {
		return false, err
	}
	if score <= e.cfg.Decay.Floor {
		return false, nil
	}

	amount := e.cfg.Decay.BaseDailyRate * e.multiplierFor(score)
	if headroom := score - e.cfg.Decay.Floor; amount > headroom {
		amount = headroom
	}
	if amount <= 0 {
		return false, nil
	}

	before, after, err := e.ledger.Adjust(ctx, agentID, -amount)
	if err != nil {
		return false, err
	}
	e.emitThresholdCrossings(ctx, agentID, before, after)
	return true, nil
}

// multiplierFor returns the tiered decay multiplier. High-trust agents decay
// faster, low-trust agents slower.
func (e *DecayEngine) multiplierFor(score float64) float64 {
	switch {
	case score >= e.cfg.Decay.HighTrustThreshold:
		return e.cfg.Decay.HighTrustMultiplier
	case score <= e.cfg.Decay.LowTrustThreshold:
		return e.cfg.Decay.LowTrustMultiplier
	default:
		return 1.0
	}
}

func (e *DecayEngine) emitThresholdCrossings(ctx context.Context, agentID string, before, after float64) {
	for _, threshold := range []float64{e.cfg.Health.SelfHealingBelow, e.cfg.Health.CriticalBelow} {
		if before >= threshold && after < threshold {
			e.bus.Emit(ctx, events.TrustThreshold, agentID, map[string]interface{}{
				"threshold": threshold,
				"before":    before,
				"after":     after,
			})
		}
	}
}

// PenaltyFor returns the configured penalty for a slash severity.
func (e *DecayEngine) PenaltyFor(severity SlashSeverity) (float64, error) {
	switch severity {
	case SlashMinor:
		return e.cfg.Slashing.MinorPenalty, nil
	case SlashModerate:
		return e.cfg.Slashing.ModeratePenalty, nil
	case SlashSevere:
		return e.cfg.Slashing.SeverePenalty, nil
	default:
		return 0, fmt.Errorf("unknown slash severity %q", severity)
	}
}

// Slash applies a graded penalty to an agent, records the event in the
// per-agent and global audit rings, and publishes it.
func (e *DecayEngine) Slash(ctx context.Context, agentID string, severity SlashSeverity, reason string) (*SlashingEvent, error) {
	penalty, err := e.PenaltyFor(severity)
	if err != nil {
		return nil, err
	}

	before, after, err := e.ledger.Adjust(ctx, agentID, -penalty)
	if err != nil {
		return nil, fmt.Errorf("slash %s: %w", agentID, err)
	}

	event := &SlashingEvent{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		Severity:    severity,
		Penalty:     penalty,
		Reason:      reason,
		ScoreBefore: before,
		ScoreAfter:  after,
		Timestamp:   time.Now().UTC(),
	}
	e.recordSlash(ctx, event)

	e.metrics.SlashTotal.WithLabelValues(agentID, string(severity)).Inc()
	slog.Warn("Agent slashed",
		"agent_id", agentID, "severity", severity, "penalty", penalty,
		"reason", reason, "score_before", before, "score_after", after)
	e.bus.Emit(ctx, events.TrustSlashed, agentID, map[string]interface{}{
		"severity":     string(severity),
		"penalty":      penalty,
		"reason":       reason,
		"score_before": before,
		"score_after":  after,
	})
	e.emitThresholdCrossings(ctx, agentID, before, after)
	return event, nil
}

// AdjustTrust applies an arbitrary audited delta, used by sentinels that
// impose penalties outside the graded slashing scale.
func (e *DecayEngine) AdjustTrust(ctx context.Context, agentID string, delta float64, reason string) (float64, error) {
	before, after, err := e.ledger.Adjust(ctx, agentID, delta)
	if err != nil {
		return 0, err
	}
	slog.Info("Trust adjusted",
		"agent_id", agentID, "delta", delta, "reason", reason,
		"score_before", before, "score_after", after)
	e.emitThresholdCrossings(ctx, agentID, before, after)
	return after, nil
}

// recordSlash appends the event to both audit rings, trimming each to its
// configured capacity.
func (e *DecayEngine) recordSlash(ctx context.Context, event *SlashingEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal slashing event", "error", err)
		return
	}

	agentKey := keySlashPrefix + event.AgentID
	if err := e.store.LPush(ctx, agentKey, string(data)); err != nil {
		slog.Warn("Failed to record agent slash history", "agent_id", event.AgentID, "error", err)
	} else if err := e.store.LTrim(ctx, agentKey, 0, e.cfg.Slashing.AgentRingSize-1); err != nil {
		slog.Warn("Failed to trim agent slash history", "agent_id", event.AgentID, "error", err)
	}

	if err := e.store.LPush(ctx, keySlashGlobal, string(data)); err != nil {
		slog.Warn("Failed to record global slash history", "error", err)
	} else if err := e.store.LTrim(ctx, keySlashGlobal, 0, e.cfg.Slashing.GlobalRingSize-1); err != nil {
		slog.Warn("Failed to trim global slash history", "error", err)
	}
}

// SlashHistory returns the most recent slashing events for one agent,
// newest first.
func (e *DecayEngine) SlashHistory(ctx context.Context, agentID string, limit int64) ([]*SlashingEvent, error) {
	return e.readSlashRing(ctx, keySlashPrefix+agentID, limit)
}

// GlobalSlashHistory returns the most recent slashing events platform-wide,
// newest first.
func (e *DecayEngine) GlobalSlashHistory(ctx context.Context, limit int64) ([]*SlashingEvent, error) {
	return e.readSlashRing(ctx, keySlashGlobal, limit)
}

func (e *DecayEngine) readSlashRing(ctx context.Context, key string, limit int64) ([]*SlashingEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := e.store.LRange(ctx, key, 0, limit-1)
	if err != nil {
		return nil, fmt.Errorf("read slash history %s: %w", key, err)
	}
	out := make([]*SlashingEvent, 0, len(raws))
	for _, raw := range raws {
		var event SlashingEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			slog.Warn("Skipping corrupt slashing record", "key", key, "error", err)
			continue
		}
		out = append(out, &event)
	}
	return out, nil
}
