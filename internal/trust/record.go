// Package trust implements the decaying trust ledger that scores every agent
// on the platform, the decay engine that erodes scores over time, the
// slashing path for governance violations, and the health mode controller
// that derives operating restrictions from the score.
package trust

import "time"

// Score bounds. Scores are clamped into [MinScore, MaxScore] on every write.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// HealthMode is the operating mode derived from an agent's trust score.
type HealthMode string

const (
	ModeNormal      HealthMode = "NORMAL"
	ModeSelfHealing HealthMode = "SELF_HEALING"
	ModeCritical    HealthMode = "CRITICAL"
)

// SlashSeverity grades a slashing event.
type SlashSeverity string

const (
	SlashMinor    SlashSeverity = "MINOR"
	SlashModerate SlashSeverity = "MODERATE"
	SlashSevere   SlashSeverity = "SEVERE"
)

// SlashingEvent is one audit record of a trust penalty. Stored in the
// per-agent and global slashing rings.
type SlashingEvent struct {
	ID          string        `json:"id"`
	AgentID     string        `json:"agent_id"`
	Severity    SlashSeverity `json:"severity"`
	Penalty     float64       `json:"penalty"`
	Reason      string        `json:"reason"`
	ScoreBefore float64       `json:"score_before"`
	ScoreAfter  float64       `json:"score_after"`
	Timestamp   time.Time     `json:"timestamp"`
}

// TrustState is the full trust picture for one agent.
type TrustState struct {
	AgentID string     `json:"agent_id"`
	Score   float64    `json:"score"`
	Mode    HealthMode `json:"mode"`

	// Healing episode bookkeeping, zero-valued outside an episode.
	EnteredSelfHealingAt time.Time `json:"entered_self_healing_at,omitempty"`
	HealingSuccesses     int       `json:"healing_successes,omitempty"`
}

// ModeAdjustments are the operating restrictions a health mode imposes on an
// agent's trading activity.
type ModeAdjustments struct {
	ActionThrottle     float64 `json:"action_throttle"`
	MinConfidence      float64 `json:"min_confidence"`
	SuppressedTrading  bool    `json:"suppressed_trading"`
	RecoveryBoost      float64 `json:"recovery_boost"`
}

// Clamp bounds a score into the valid range.
func Clamp(score float64) float64 {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
