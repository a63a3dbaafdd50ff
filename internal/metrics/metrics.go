// Package metrics holds the Prometheus instrumentation for the governance
// and risk core. One Metrics value is created by the composition root and
// shared by every component that records.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the risk core.
type Metrics struct {
	// Trust metrics
	TrustScore    *prometheus.GaugeVec
	SlashTotal    *prometheus.CounterVec
	DecaySweeps   prometheus.Counter
	DecayedAgents prometheus.Counter
	DecayErrors   prometheus.Counter

	// Governance metrics
	EnforceTotal   *prometheus.CounterVec
	ViolationTotal *prometheus.CounterVec
	RuleWarnings   *prometheus.CounterVec
	EnforceLatency prometheus.Histogram

	// Sentinel metrics
	DrawdownPct      *prometheus.GaugeVec
	BreakerTriggered *prometheus.GaugeVec
	AnomalyTotal     *prometheus.CounterVec
	KillTotal        *prometheus.CounterVec
	QuarantineSize   *prometheus.GaugeVec
	FallbackTotal    prometheus.Counter
}

// New creates and registers all collectors with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all collectors with the given registerer. Tests pass a
// fresh registry to avoid duplicate registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TrustScore: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskcore_trust_score",
				Help: "Current trust score (0-100) per agent",
			},
			[]string{"agent_id"},
		),

		SlashTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskcore_slash_total",
				Help: "Total slashing events applied",
			},
			[]string{"agent_id", "severity"},
		),

		DecaySweeps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "riskcore_decay_sweeps_total",
				Help: "Total decay sweeps completed",
			},
		),

		DecayedAgents: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "riskcore_decayed_agents_total",
				Help: "Total per-agent decay applications",
			},
		),

		DecayErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "riskcore_decay_errors_total",
				Help: "Per-agent decay failures (sweep continues past them)",
			},
		),

		EnforceTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskcore_enforce_total",
				Help: "Governance enforcement checks by action type and outcome",
			},
			[]string{"action", "result"}, // result: allowed, blocked
		),

		ViolationTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskcore_rule_violations_total",
				Help: "Blocking rule violations by rule and severity",
			},
			[]string{"rule_id", "severity"},
		),

		RuleWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskcore_rule_warnings_total",
				Help: "Non-blocking rule evaluation errors by rule",
			},
			[]string{"rule_id"},
		),

		EnforceLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "riskcore_enforce_duration_seconds",
				Help:    "Duration of governance enforcement checks",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),

		DrawdownPct: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskcore_drawdown_pct",
				Help: "Current drawdown from peak equity, percent",
			},
			[]string{"account"},
		),

		BreakerTriggered: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskcore_breaker_triggered",
				Help: "Whether the drawdown breaker is latched (1) or armed (0)",
			},
			[]string{"account"},
		),

		AnomalyTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskcore_pnl_anomalies_total",
				Help: "PnL anomalies detected per agent",
			},
			[]string{"agent_id"},
		),

		KillTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskcore_strategy_kills_total",
				Help: "Strategy kill-switch activations by condition",
			},
			[]string{"condition"},
		),

		QuarantineSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskcore_quarantine_size",
				Help: "Number of quarantined entities by kind",
			},
			[]string{"kind"}, // kind: agents, strategies
		),

		FallbackTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "riskcore_fallback_activations_total",
				Help: "Times the safe-mode fallback strategy was activated",
			},
		),
	}
}
