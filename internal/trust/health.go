package trust

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantfabric/riskcore/internal/config"
	"github.com/quantfabric/riskcore/internal/events"
)

// HealthController derives operating restrictions from trust scores and runs
// the self-healing recovery loop. Mode is always a pure function of the
// current score; the stored healing episode only gates the recovery bonus
// and amplified failure penalties.
type HealthController struct {
	ledger *Ledger
	bus    *events.Bus
	cfg    config.HealthConfig
}

// NewHealthController creates a health controller over the ledger.
func NewHealthController(ledger *Ledger, bus *events.Bus, cfg config.HealthConfig) *HealthController {
	return &HealthController{ledger: ledger, bus: bus, cfg: cfg}
}

// Mode returns the agent's current health mode.
func (h *HealthController) Mode(ctx context.Context, agentID string) (HealthMode, error) {
	score, err := h.ledger.GetScore(ctx, agentID)
	if err != nil {
		return "", err
	}
	return h.ledger.DeriveMode(score), nil
}

// AdjustmentsFor returns the operating restrictions for a health mode.
func (h *HealthController) AdjustmentsFor(mode HealthMode) ModeAdjustments {
	switch mode {
	case ModeCritical:
		return ModeAdjustments{
			ActionThrottle:    0.1,
			MinConfidence:     0.95,
			SuppressedTrading: true,
			RecoveryBoost:     3.0,
		}
	case ModeSelfHealing:
		return ModeAdjustments{
			ActionThrottle:    0.5,
			MinConfidence:     0.85,
			SuppressedTrading: false,
			RecoveryBoost:     2.0,
		}
	default:
		return ModeAdjustments{
			ActionThrottle:    1.0,
			MinConfidence:     0.5,
			SuppressedTrading: false,
			RecoveryBoost:     1.0,
		}
	}
}

// Adjustments returns the current restrictions for an agent.
func (h *HealthController) Adjustments(ctx context.Context, agentID string) (ModeAdjustments, error) {
	mode, err := h.Mode(ctx, agentID)
	if err != nil {
		return ModeAdjustments{}, err
	}
	return h.AdjustmentsFor(mode), nil
}

// RecordSuccess credits a successful action during self-healing. Outside
// SELF_HEALING it is a no-op: healthy agents earn trust through governance,
// and critical agents must be reinstated manually. The boost is the base
// reward scaled by the mode's recovery multiplier; each success advances the
// recovery gate, and once the agent has held a healthy score with enough
// successes for long enough the episode closes with a recovery bonus.
func (h *HealthController) RecordSuccess(ctx context.Context, agentID string) error {
	mode, err := h.Mode(ctx, agentID)
	if err != nil {
		return err
	}
	if mode != ModeSelfHealing {
		return nil
	}
	boost := h.cfg.SuccessBaseReward * h.AdjustmentsFor(mode).RecoveryBoost

	if _, after, aerr := h.ledger.Adjust(ctx, agentID, boost); aerr != nil {
		return aerr
	} else if meta, open, _ := h.ledger.getMeta(ctx, agentID); open {
		meta.Successes++
		h.ledger.putMeta(ctx, agentID, meta)
		h.maybeRecover(ctx, agentID, after, meta)
	}
	return nil
}

// RecordFailure debits a failed action. Failures while self-healing are
// amplified, so a recovering agent that keeps failing falls faster.
func (h *HealthController) RecordFailure(ctx context.Context, agentID string, severityPenalty float64) error {
	mode, err := h.Mode(ctx, agentID)
	if err != nil {
		return err
	}
	penalty := severityPenalty
	if mode == ModeSelfHealing {
		penalty *= h.cfg.HealingFailureFactor
	}
	_, _, err = h.ledger.Adjust(ctx, agentID, -penalty)
	return err
}

// maybeRecover closes the healing episode when all three gate conditions
// hold: healthy score, minimum episode duration, minimum success count.
// Agents in critical mode never auto-recover because the score condition
// cannot hold there.
func (h *HealthController) maybeRecover(ctx context.Context, agentID string, score float64, meta healingMeta) {
	if score < h.cfg.SelfHealingBelow {
		return
	}
	if time.Since(meta.EnteredAt) < h.cfg.RecoveryMinDuration() {
		return
	}
	if meta.Successes < h.cfg.RecoveryMinSuccesses {
		return
	}

	h.ledger.clearMeta(ctx, agentID)
	if _, after, err := h.ledger.Adjust(ctx, agentID, h.cfg.RecoveryBonus); err != nil {
		slog.Warn("Recovery bonus failed", "agent_id", agentID, "error", err)
	} else {
		slog.Info("Agent recovered from self-healing",
			"agent_id", agentID, "successes", meta.Successes, "score", after)
		h.bus.Emit(ctx, events.TrustRecovered, agentID, map[string]interface{}{
			"successes": meta.Successes,
			"score":     after,
			"entered":   meta.EnteredAt,
		})
	}
}
