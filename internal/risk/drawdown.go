package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfabric/riskcore/internal/config"
	"github.com/quantfabric/riskcore/internal/events"
	"github.com/quantfabric/riskcore/internal/metrics"
)

// BreakerState is the drawdown breaker's latch state.
type BreakerState string

const (
	StateArmed     BreakerState = "ARMED"
	StateTriggered BreakerState = "TRIGGERED"
)

// Alerter delivers best-effort operator alerts. Failures are logged and
// swallowed; alerting never blocks the breaker.
type Alerter interface {
	Notify(ctx context.Context, subject string, payload map[string]interface{})
}

// BreakerAction executes the configured halt ("shutdown" or "pause") in the
// trading plane when the breaker trips.
type BreakerAction func(ctx context.Context, account, action string)

type accountTrack struct {
	state    BreakerState
	peak     float64
	equities []float64
}

// DrawdownBreaker watches per-account equity and trips once when drawdown
// from the running peak crosses the threshold. The latch is one-shot: once
// TRIGGERED it stays triggered until an operator resets it, so a recovering
// equity curve cannot silently resume trading.
type DrawdownBreaker struct {
	bus     *events.Bus
	metrics *metrics.Metrics
	cfg     config.DrawdownConfig
	action  BreakerAction
	alerter Alerter

	mu       sync.Mutex
	accounts map[string]*accountTrack
	running  bool
	stopCh   chan struct{}
}

// NewDrawdownBreaker creates an armed breaker.
func NewDrawdownBreaker(bus *events.Bus, m *metrics.Metrics, cfg config.DrawdownConfig, action BreakerAction, alerter Alerter) *DrawdownBreaker {
	return &DrawdownBreaker{
		bus:      bus,
		metrics:  m,
		cfg:      cfg,
		action:   action,
		alerter:  alerter,
		accounts: make(map[string]*accountTrack),
	}
}

// RecordEquity appends an equity sample for an account and advances the
// running peak. Samples beyond the window size evict the oldest; the peak
// only moves down on an operator reset.
func (b *DrawdownBreaker) RecordEquity(account string, equity float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	track, ok := b.accounts[account]
	if !ok {
		track = &accountTrack{state: StateArmed}
		b.accounts[account] = track
	}
	if equity > track.peak {
		track.peak = equity
	}
	track.equities = append(track.equities, equity)
	if len(track.equities) > b.cfg.HistorySize {
		track.equities = track.equities[len(track.equities)-b.cfg.HistorySize:]
	}
}

// State returns the breaker state for an account. Unknown accounts are
// armed.
func (b *DrawdownBreaker) State(account string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if track, ok := b.accounts[account]; ok {
		return track.state
	}
	return StateArmed
}

// Reset re-arms a triggered account and re-baselines its peak. Operator
// action only.
func (b *DrawdownBreaker) Reset(account string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if track, ok := b.accounts[account]; ok {
		track.state = StateArmed
		track.peak = 0
		track.equities = nil
	}
	b.metrics.BreakerTriggered.WithLabelValues(account).Set(0)
	slog.Info("Drawdown breaker reset", "account", account)
}

// Start launches the periodic check loop.
func (b *DrawdownBreaker) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})

	go func(stopCh chan struct{}) {
		ticker := time.NewTicker(b.cfg.CheckInterval())
		defer ticker.Stop()
		slog.Info("Drawdown breaker started",
			"threshold_pct", b.cfg.ThresholdPct, "interval", b.cfg.CheckInterval())
		for {
			select {
			case <-ticker.C:
				b.CheckNow(context.Background())
			case <-stopCh:
				return
			}
		}
	}(b.stopCh)
}

// Stop halts the check loop. Safe to call multiple times.
func (b *DrawdownBreaker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
}

// CheckNow evaluates every account immediately.
func (b *DrawdownBreaker) CheckNow(ctx context.Context) {
	type breach struct {
		account  string
		drawdown float64
		peak     float64
		current  float64
	}

	b.mu.Lock()
	var breaches []breach
	for account, track := range b.accounts {
		if len(track.equities) == 0 || track.peak <= 0 {
			continue
		}
		current := track.equities[len(track.equities)-1]
		drawdown := (track.peak - current) / track.peak * 100
		b.metrics.DrawdownPct.WithLabelValues(account).Set(drawdown)

		if track.state == StateArmed && drawdown > b.cfg.ThresholdPct {
			track.state = StateTriggered
			breaches = append(breaches, breach{account, drawdown, track.peak, current})
		}
	}
	b.mu.Unlock()

	for _, br := range breaches {
		b.metrics.BreakerTriggered.WithLabelValues(br.account).Set(1)
		slog.Error("Drawdown breaker TRIGGERED",
			"account", br.account, "drawdown_pct", br.drawdown,
			"peak", br.peak, "current", br.current, "action", b.cfg.Action)

		if b.action != nil {
			b.action(ctx, br.account, b.cfg.Action)
		}
		b.bus.Emit(ctx, events.DrawdownBreach, br.account, map[string]interface{}{
			"drawdown_pct": br.drawdown,
			"peak":         br.peak,
			"current":      br.current,
			"action":       b.cfg.Action,
		})
		if b.alerter != nil {
			b.alerter.Notify(ctx, br.account, map[string]interface{}{
				"alert":        "drawdown_breach",
				"account":      br.account,
				"drawdown_pct": br.drawdown,
				"action":       b.cfg.Action,
			})
		}
	}
}
