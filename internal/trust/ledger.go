package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/quantfabric/riskcore/internal/config"
	"github.com/quantfabric/riskcore/internal/events"
	"github.com/quantfabric/riskcore/internal/metrics"
	"github.com/quantfabric/riskcore/internal/store"
)

// Storage keys. All trust state lives in the shared store so every pod sees
// the same scores.
const (
	keyAgentSet    = "trust:agents"
	keyScorePrefix = "trust:score:"
	keyMetaPrefix  = "trust:meta:"
)

const (
	writeRetries      = 3
	writeRetryBackoff = 50 * time.Millisecond
)

// healingMeta is the JSON sidecar tracking a self-healing episode. It exists
// only while an episode is open.
type healingMeta struct {
	EnteredAt time.Time `json:"entered_at"`
	Successes int       `json:"successes"`
}

// Ledger owns every read and write of trust scores. All mutations are
// delta-based through the store's atomic increment, so concurrent writers
// never overwrite each other's changes.
type Ledger struct {
	store   store.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	cfg     config.TrustConfig

	// Last-known scores, served when the store is unreachable. Reads only.
	cacheMu sync.RWMutex
	cache   map[string]float64
}

// NewLedger creates a trust ledger over the shared store.
func NewLedger(st store.Store, bus *events.Bus, m *metrics.Metrics, cfg config.TrustConfig) *Ledger {
	return &Ledger{
		store:   st,
		bus:     bus,
		metrics: m,
		cfg:     cfg,
		cache:   make(map[string]float64),
	}
}

// DeriveMode maps a score to its health mode. Pure function of the score.
func (l *Ledger) DeriveMode(score float64) HealthMode {
	switch {
	case score < l.cfg.Health.CriticalBelow:
		return ModeCritical
	case score < l.cfg.Health.SelfHealingBelow:
		return ModeSelfHealing
	default:
		return ModeNormal
	}
}

// GetScore returns the agent's current score. Unknown agents get the default
// score without a write. If the store is unreachable the last-known cached
// value is served, falling back to the default.
func (l *Ledger) GetScore(ctx context.Context, agentID string) (float64, error) {
	raw, err := l.store.Get(ctx, keyScorePrefix+agentID)
	if err == store.ErrNotFound {
		return l.cfg.DefaultScore, nil
	}
	if err != nil {
		l.cacheMu.RLock()
		cached, ok := l.cache[agentID]
		l.cacheMu.RUnlock()
		if ok {
			slog.Warn("Trust read degraded to cached score", "agent_id", agentID, "error", err)
			return cached, nil
		}
		slog.Warn("Trust read degraded to default score", "agent_id", agentID, "error", err)
		return l.cfg.DefaultScore, nil
	}

	score, perr := strconv.ParseFloat(raw, 64)
	if perr != nil {
		return 0, fmt.Errorf("corrupt trust score for %s: %w", agentID, perr)
	}
	l.updateCache(agentID, score)
	return score, nil
}

// GetState returns score, derived mode, and any open healing episode.
func (l *Ledger) GetState(ctx context.Context, agentID string) (*TrustState, error) {
	score, err := l.GetScore(ctx, agentID)
	if err != nil {
		return nil, err
	}
	state := &TrustState{
		AgentID: agentID,
		Score:   score,
		Mode:    l.DeriveMode(score),
	}
	if meta, ok, _ := l.getMeta(ctx, agentID); ok {
		state.EnteredSelfHealingAt = meta.EnteredAt
		state.HealingSuccesses = meta.Successes
	}
	return state, nil
}

// Agents returns every agent the ledger has scored.
func (l *Ledger) Agents(ctx context.Context) ([]string, error) {
	return l.store.SMembers(ctx, keyAgentSet)
}

// Adjust applies a delta to the agent's score through the store's atomic
// increment and returns the before and after values. Results landing outside
// [0, 100] are corrected with a compensating increment. Write failures are
// retried and then surfaced; score mutations are never dropped silently.
func (l *Ledger) Adjust(ctx context.Context, agentID string, delta float64) (before, after float64, err error) {
	if err := l.ensureAgent(ctx, agentID); err != nil {
		return 0, 0, err
	}

	key := keyScorePrefix + agentID
	var raw float64
	err = l.retry(func() error {
		var ierr error
		raw, ierr = l.store.IncrByFloat(ctx, key, delta)
		return ierr
	})
	if err != nil {
		return 0, 0, fmt.Errorf("adjust trust for %s: %w", agentID, err)
	}

	before = Clamp(raw - delta)
	after = Clamp(raw)
	if after != raw {
		// Correct clamp overshoot with a second delta rather than a
		// blind SET, keeping the mutation path purely incremental.
		correction := after - raw
		if cerr := l.retry(func() error {
			_, ierr := l.store.IncrByFloat(ctx, key, correction)
			return ierr
		}); cerr != nil {
			return 0, 0, fmt.Errorf("clamp trust for %s: %w", agentID, cerr)
		}
	}

	l.updateCache(agentID, after)
	l.metrics.TrustScore.WithLabelValues(agentID).Set(after)
	l.onScoreChanged(ctx, agentID, before, after)
	return before, after, nil
}

// SetScore overwrites an agent's score. Manual override path only; automated
// components always go through Adjust.
func (l *Ledger) SetScore(ctx context.Context, agentID string, score float64) error {
	if err := l.ensureAgent(ctx, agentID); err != nil {
		return err
	}
	before, err := l.GetScore(ctx, agentID)
	if err != nil {
		return err
	}
	score = Clamp(score)
	value := strconv.FormatFloat(score, 'f', -1, 64)
	if err := l.retry(func() error {
		return l.store.Set(ctx, keyScorePrefix+agentID, value, 0)
	}); err != nil {
		return fmt.Errorf("set trust for %s: %w", agentID, err)
	}

	l.updateCache(agentID, score)
	l.metrics.TrustScore.WithLabelValues(agentID).Set(score)
	l.onScoreChanged(ctx, agentID, before, score)
	if score >= l.cfg.Health.SelfHealingBelow {
		l.clearMeta(ctx, agentID)
	}
	return nil
}

// onScoreChanged opens healing episodes and emits mode change events when a
// write moves the agent across a mode boundary.
func (l *Ledger) onScoreChanged(ctx context.Context, agentID string, before, after float64) {
	modeBefore := l.DeriveMode(before)
	modeAfter := l.DeriveMode(after)

	if modeAfter == ModeSelfHealing {
		if _, ok, _ := l.getMeta(ctx, agentID); !ok {
			l.putMeta(ctx, agentID, healingMeta{EnteredAt: time.Now().UTC()})
		}
	}

	if modeBefore != modeAfter {
		slog.Info("Agent health mode changed",
			"agent_id", agentID, "from", modeBefore, "to", modeAfter, "score", after)
		l.bus.Emit(ctx, events.TrustModeChanged, agentID, map[string]interface{}{
			"from":  string(modeBefore),
			"to":    string(modeAfter),
			"score": after,
		})
	}
}

func (l *Ledger) ensureAgent(ctx context.Context, agentID string) error {
	if agentID == "" {
		return fmt.Errorf("agent ID must not be empty")
	}
	// Seed the score key so the first increment starts from the default,
	// not zero. SETNX keeps the seed atomic: a writer that loses the race
	// leaves the value a concurrent adjustment already produced untouched.
	value := strconv.FormatFloat(l.cfg.DefaultScore, 'f', -1, 64)
	if _, err := l.store.SetNX(ctx, keyScorePrefix+agentID, value, 0); err != nil {
		return fmt.Errorf("seed trust for %s: %w", agentID, err)
	}
	return l.store.SAdd(ctx, keyAgentSet, agentID)
}

func (l *Ledger) getMeta(ctx context.Context, agentID string) (healingMeta, bool, error) {
	raw, err := l.store.Get(ctx, keyMetaPrefix+agentID)
	if err == store.ErrNotFound {
		return healingMeta{}, false, nil
	}
	if err != nil {
		return healingMeta{}, false, err
	}
	var meta healingMeta
	if jerr := json.Unmarshal([]byte(raw), &meta); jerr != nil {
		return healingMeta{}, false, fmt.Errorf("corrupt healing meta for %s: %w", agentID, jerr)
	}
	return meta, true, nil
}

func (l *Ledger) putMeta(ctx context.Context, agentID string, meta healingMeta) {
	data, _ := json.Marshal(meta)
	if err := l.store.Set(ctx, keyMetaPrefix+agentID, string(data), 0); err != nil {
		slog.Warn("Failed to persist healing meta", "agent_id", agentID, "error", err)
	}
}

func (l *Ledger) clearMeta(ctx context.Context, agentID string) {
	if err := l.store.Del(ctx, keyMetaPrefix+agentID); err != nil {
		slog.Warn("Failed to clear healing meta", "agent_id", agentID, "error", err)
	}
}

func (l *Ledger) updateCache(agentID string, score float64) {
	l.cacheMu.Lock()
	l.cache[agentID] = score
	l.cacheMu.Unlock()
}

func (l *Ledger) retry(op func() error) error {
	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		time.Sleep(writeRetryBackoff * time.Duration(attempt+1))
	}
	return err
}
