// Package config loads and validates the risk core configuration. Every
// threshold, multiplier, and interval that governs trust, enforcement, or a
// sentinel lives here so deployments can tune them without code changes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	Trust      TrustConfig      `yaml:"trust"`
	Governance GovernanceConfig `yaml:"governance"`
	Risk       RiskConfig       `yaml:"risk"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type TrustConfig struct {
	DefaultScore float64        `yaml:"default_score"`
	Decay        DecayConfig    `yaml:"decay"`
	Slashing     SlashingConfig `yaml:"slashing"`
	Health       HealthConfig   `yaml:"health"`
}

type DecayConfig struct {
	Enabled bool `yaml:"enabled"`

	// SweepIntervalHours is the time between decay sweeps.
	SweepIntervalHours int `yaml:"sweep_interval_hours"`

	// BaseDailyRate is subtracted from each agent's score per sweep before
	// the tier multiplier is applied.
	BaseDailyRate float64 `yaml:"base_daily_rate"`

	// Floor is the score decay never pushes below. Slashing can.
	Floor float64 `yaml:"floor"`

	HighTrustThreshold  float64 `yaml:"high_trust_threshold"`
	HighTrustMultiplier float64 `yaml:"high_trust_multiplier"`
	LowTrustThreshold   float64 `yaml:"low_trust_threshold"`
	LowTrustMultiplier  float64 `yaml:"low_trust_multiplier"`
}

func (c DecayConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalHours) * time.Hour
}

type SlashingConfig struct {
	MinorPenalty    float64 `yaml:"minor_penalty"`
	ModeratePenalty float64 `yaml:"moderate_penalty"`
	SeverePenalty   float64 `yaml:"severe_penalty"`
	AgentRingSize   int64   `yaml:"agent_ring_size"`
	GlobalRingSize  int64   `yaml:"global_ring_size"`
}

type HealthConfig struct {
	CriticalBelow    float64 `yaml:"critical_below"`
	SelfHealingBelow float64 `yaml:"self_healing_below"`

	RecoveryMinMinutes   int     `yaml:"recovery_min_minutes"`
	RecoveryMinSuccesses int     `yaml:"recovery_min_successes"`
	RecoveryBonus        float64 `yaml:"recovery_bonus"`

	// SuccessBaseReward is scaled by the mode's recovery boost on each
	// recorded success while an agent is self-healing.
	SuccessBaseReward float64 `yaml:"success_base_reward"`

	// HealingFailureFactor amplifies failure penalties while an agent is
	// in a self-healing episode.
	HealingFailureFactor float64 `yaml:"healing_failure_factor"`
}

func (c HealthConfig) RecoveryMinDuration() time.Duration {
	return time.Duration(c.RecoveryMinMinutes) * time.Minute
}

type GovernanceConfig struct {
	// RuleCacheSeconds bounds how stale the in-process rule cache may be.
	RuleCacheSeconds int `yaml:"rule_cache_seconds"`

	MinProposeScore     float64 `yaml:"min_propose_score"`
	ProposalCooldownHrs int     `yaml:"proposal_cooldown_hours"`
	ViolationRingSize   int64   `yaml:"violation_ring_size"`
	AgentViolationRing  int64   `yaml:"agent_violation_ring_size"`
}

func (c GovernanceConfig) RuleCacheTTL() time.Duration {
	return time.Duration(c.RuleCacheSeconds) * time.Second
}

func (c GovernanceConfig) ProposalCooldown() time.Duration {
	return time.Duration(c.ProposalCooldownHrs) * time.Hour
}

type RiskConfig struct {
	Drawdown   DrawdownConfig   `yaml:"drawdown"`
	Anomaly    AnomalyConfig    `yaml:"anomaly"`
	KillSwitch KillSwitchConfig `yaml:"killswitch"`
}

type DrawdownConfig struct {
	ThresholdPct         float64 `yaml:"threshold_pct"`
	CheckIntervalSeconds int     `yaml:"check_interval_seconds"`
	HistorySize          int     `yaml:"history_size"`

	// Action on breach: "shutdown" halts all trading, "pause" suspends new
	// positions until manual resume.
	Action string `yaml:"action"`

	// AlertURL, if set, receives a best-effort POST on breach.
	AlertURL string `yaml:"alert_url"`
}

func (c DrawdownConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

type AnomalyConfig struct {
	WindowSize      int     `yaml:"window_size"`
	MinSamples      int     `yaml:"min_samples"`
	SigmaThreshold  float64 `yaml:"sigma_threshold"`
	CooldownMinutes int     `yaml:"cooldown_minutes"`

	// TrustPenalty is applied through the trust ledger on each anomaly, in
	// score points.
	TrustPenalty float64 `yaml:"trust_penalty"`
}

func (c AnomalyConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

type KillSwitchConfig struct {
	HardFailureEnabled     bool `yaml:"hard_failure_enabled"`
	RelativeFailureEnabled bool `yaml:"relative_failure_enabled"`
	EntropyDecayEnabled    bool `yaml:"entropy_decay_enabled"`

	MinTrades                 int     `yaml:"min_trades"`
	MinROI                    float64 `yaml:"min_roi"`
	MaxDrawdown               float64 `yaml:"max_drawdown"`
	UnderperformanceThreshold float64 `yaml:"underperformance_threshold"`
	MinDiversity              float64 `yaml:"min_diversity"`

	// Mass-kill brake: once RecentKillCeiling kills land inside the
	// trailing window, the fallback strategy is activated.
	RecentKillCeiling    int    `yaml:"recent_kill_ceiling"`
	RecentKillWindowMins int    `yaml:"recent_kill_window_minutes"`
	FallbackStrategyID   string `yaml:"fallback_strategy_id"`
	KillEventRingSize    int64  `yaml:"kill_event_ring_size"`
}

func (c KillSwitchConfig) RecentKillWindow() time.Duration {
	return time.Duration(c.RecentKillWindowMins) * time.Minute
}

// Default returns the recommended production parameters. Load layers a YAML
// file over these, so a partial file only overrides what it names.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Trust: TrustConfig{
			DefaultScore: 50,
			Decay: DecayConfig{
				Enabled:             true,
				SweepIntervalHours:  24,
				BaseDailyRate:       1.0,
				Floor:               30,
				HighTrustThreshold:  80,
				HighTrustMultiplier: 1.5,
				LowTrustThreshold:   30,
				LowTrustMultiplier:  0.5,
			},
			Slashing: SlashingConfig{
				MinorPenalty:    5,
				ModeratePenalty: 15,
				SeverePenalty:   30,
				AgentRingSize:   100,
				GlobalRingSize:  5000,
			},
			Health: HealthConfig{
				CriticalBelow:        15,
				SelfHealingBelow:     35,
				RecoveryMinMinutes:   15,
				RecoveryMinSuccesses: 5,
				RecoveryBonus:        2,
				SuccessBaseReward:    0.5,
				HealingFailureFactor: 1.5,
			},
		},
		Governance: GovernanceConfig{
			RuleCacheSeconds:    60,
			MinProposeScore:     75,
			ProposalCooldownHrs: 24,
			ViolationRingSize:   5000,
			AgentViolationRing:  100,
		},
		Risk: RiskConfig{
			Drawdown: DrawdownConfig{
				ThresholdPct:         10,
				CheckIntervalSeconds: 10,
				HistorySize:          1000,
				Action:               "pause",
			},
			Anomaly: AnomalyConfig{
				WindowSize:      100,
				MinSamples:      10,
				SigmaThreshold:  5,
				CooldownMinutes: 60,
				TrustPenalty:    10,
			},
			KillSwitch: KillSwitchConfig{
				HardFailureEnabled:        true,
				RelativeFailureEnabled:    true,
				EntropyDecayEnabled:       true,
				MinTrades:                 10,
				MinROI:                    -0.05,
				MaxDrawdown:               0.25,
				UnderperformanceThreshold: 0.5,
				MinDiversity:              0.3,
				RecentKillCeiling:         5,
				RecentKillWindowMins:      10,
				FallbackStrategyID:        "fallback-conservative",
				KillEventRingSize:         500,
			},
		},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all parameters are within acceptable bounds.
func (c *Config) Validate() error {
	scores := map[string]float64{
		"trust.default_score":              c.Trust.DefaultScore,
		"trust.decay.floor":                c.Trust.Decay.Floor,
		"trust.decay.high_trust_threshold": c.Trust.Decay.HighTrustThreshold,
		"trust.decay.low_trust_threshold":  c.Trust.Decay.LowTrustThreshold,
		"trust.health.critical_below":      c.Trust.Health.CriticalBelow,
		"trust.health.self_healing_below":  c.Trust.Health.SelfHealingBelow,
		"governance.min_propose_score":     c.Governance.MinProposeScore,
	}
	for name, val := range scores {
		if val < 0 || val > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %.2f", name, val)
		}
	}

	if c.Trust.Health.CriticalBelow >= c.Trust.Health.SelfHealingBelow {
		return fmt.Errorf("trust.health.critical_below (%.1f) must be below self_healing_below (%.1f)",
			c.Trust.Health.CriticalBelow, c.Trust.Health.SelfHealingBelow)
	}

	if c.Trust.Decay.BaseDailyRate < 0 {
		return fmt.Errorf("trust.decay.base_daily_rate must be non-negative, got %.2f", c.Trust.Decay.BaseDailyRate)
	}
	if c.Trust.Decay.Enabled && c.Trust.Decay.SweepIntervalHours <= 0 {
		return fmt.Errorf("trust.decay.sweep_interval_hours must be positive when decay is enabled, got %d", c.Trust.Decay.SweepIntervalHours)
	}

	penalties := map[string]float64{
		"trust.slashing.minor_penalty":    c.Trust.Slashing.MinorPenalty,
		"trust.slashing.moderate_penalty": c.Trust.Slashing.ModeratePenalty,
		"trust.slashing.severe_penalty":   c.Trust.Slashing.SeverePenalty,
	}
	for name, val := range penalties {
		if val <= 0 {
			return fmt.Errorf("%s must be positive, got %.2f", name, val)
		}
	}

	if a := c.Risk.Drawdown.Action; a != "pause" && a != "shutdown" {
		return fmt.Errorf("risk.drawdown.action must be \"pause\" or \"shutdown\", got %q", a)
	}
	if t := c.Risk.Drawdown.ThresholdPct; t <= 0 || t >= 100 {
		return fmt.Errorf("risk.drawdown.threshold_pct must be in (0, 100), got %.2f", t)
	}

	if c.Risk.Anomaly.SigmaThreshold <= 0 {
		return fmt.Errorf("risk.anomaly.sigma_threshold must be positive, got %.2f", c.Risk.Anomaly.SigmaThreshold)
	}
	if c.Risk.Anomaly.MinSamples < 2 {
		return fmt.Errorf("risk.anomaly.min_samples must be at least 2, got %d", c.Risk.Anomaly.MinSamples)
	}

	if c.Risk.KillSwitch.RecentKillCeiling <= 0 {
		return fmt.Errorf("risk.killswitch.recent_kill_ceiling must be positive, got %d", c.Risk.KillSwitch.RecentKillCeiling)
	}

	return nil
}
