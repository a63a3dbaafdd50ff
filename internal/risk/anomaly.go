package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/quantfabric/riskcore/internal/config"
	"github.com/quantfabric/riskcore/internal/events"
	"github.com/quantfabric/riskcore/internal/metrics"
)

// TrustPenalizer applies an audited trust delta. Satisfied by the trust
// decay engine.
type TrustPenalizer interface {
	AdjustTrust(ctx context.Context, agentID string, delta float64, reason string) (float64, error)
}

// AgentKillFunc disables an agent's trading when the scanner flags it.
type AgentKillFunc func(ctx context.Context, agentID, reason string)

type agentWindow struct {
	samples     []float64
	lastAnomaly time.Time
}

// AnomalyScanner flags statistically impossible PnL prints. Each agent's
// recent samples form a rolling window; a new sample further than the sigma
// threshold from the window mean is an anomaly. A per-agent cooldown keeps
// one wild streak from firing repeatedly.
type AnomalyScanner struct {
	bus     *events.Bus
	metrics *metrics.Metrics
	cfg     config.AnomalyConfig
	trust   TrustPenalizer
	kill    AgentKillFunc

	mu      sync.Mutex
	windows map[string]*agentWindow
}

// NewAnomalyScanner creates a scanner.
func NewAnomalyScanner(bus *events.Bus, m *metrics.Metrics, cfg config.AnomalyConfig, trust TrustPenalizer, kill AgentKillFunc) *AnomalyScanner {
	return &AnomalyScanner{
		bus:     bus,
		metrics: m,
		cfg:     cfg,
		trust:   trust,
		kill:    kill,
		windows: make(map[string]*agentWindow),
	}
}

// Record ingests one PnL sample and reports whether it was anomalous. The
// sample is judged against the window as it stood before the sample, then
// added to it either way. Samples arriving during an active cooldown are
// dropped without touching the window.
func (s *AnomalyScanner) Record(ctx context.Context, agentID string, pnl float64) (bool, error) {
	if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		return false, fmt.Errorf("invalid pnl sample for %s", agentID)
	}

	s.mu.Lock()
	window, ok := s.windows[agentID]
	if !ok {
		window = &agentWindow{}
		s.windows[agentID] = window
	}

	if !window.lastAnomaly.IsZero() {
		if time.Since(window.lastAnomaly) < s.cfg.Cooldown() {
			s.mu.Unlock()
			slog.Debug("Sample ignored during anomaly cooldown", "agent_id", agentID, "pnl", pnl)
			return false, nil
		}
		window.lastAnomaly = time.Time{}
	}

	anomalous := false
	var zScore, mean, stddev float64
	if len(window.samples) >= s.cfg.MinSamples {
		mean, stddev = meanStddev(window.samples)
		// Constant windows have zero spread; any deviation would be
		// infinite sigma, so the check is skipped entirely.
		if stddev > 0 {
			zScore = math.Abs(pnl-mean) / stddev
			anomalous = zScore >= s.cfg.SigmaThreshold
		}
	}
	if anomalous {
		window.lastAnomaly = time.Now()
	}

	window.samples = append(window.samples, pnl)
	if len(window.samples) > s.cfg.WindowSize {
		window.samples = window.samples[len(window.samples)-s.cfg.WindowSize:]
	}
	s.mu.Unlock()

	if !anomalous {
		return false, nil
	}

	s.metrics.AnomalyTotal.WithLabelValues(agentID).Inc()
	reason := fmt.Sprintf("pnl %.4f deviates %.1f sigma from mean %.4f", pnl, zScore, mean)
	slog.Error("PnL anomaly detected", "agent_id", agentID, "pnl", pnl,
		"z_score", zScore, "mean", mean, "stddev", stddev)

	if _, err := s.trust.AdjustTrust(ctx, agentID, -s.cfg.TrustPenalty, reason); err != nil {
		slog.Warn("Anomaly trust penalty failed", "agent_id", agentID, "error", err)
	}
	if s.kill != nil {
		s.kill(ctx, agentID, reason)
	}
	s.bus.Emit(ctx, events.AnomalyDetected, agentID, map[string]interface{}{
		"pnl":     pnl,
		"z_score": zScore,
		"mean":    mean,
		"stddev":  stddev,
	})
	return true, nil
}

func meanStddev(samples []float64) (mean, stddev float64) {
	n := float64(len(samples))
	for _, v := range samples {
		mean += v
	}
	mean /= n

	var variance float64
	for _, v := range samples {
		d := v - mean
		variance += d * d
	}
	variance /= n
	return mean, math.Sqrt(variance)
}
