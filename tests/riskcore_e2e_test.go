// Package tests exercises the trust, governance, and risk components wired
// together the way cmd/server wires them, against the in-memory store.
package tests

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantfabric/riskcore/internal/config"
	"github.com/quantfabric/riskcore/internal/events"
	"github.com/quantfabric/riskcore/internal/governance"
	"github.com/quantfabric/riskcore/internal/metrics"
	"github.com/quantfabric/riskcore/internal/risk"
	"github.com/quantfabric/riskcore/internal/store"
	"github.com/quantfabric/riskcore/internal/trust"
)

type world struct {
	store      *store.MemoryStore
	bus        *events.Bus
	ledger     *trust.Ledger
	decay      *trust.DecayEngine
	health     *trust.HealthController
	engine     *governance.Engine
	directory  *governance.StoreDirectory
	quarantine *risk.Quarantine
	scanner    *risk.AnomalyScanner
	killSwitch *risk.KillSwitch
	breaker    *risk.DrawdownBreaker
	fallbacks  []string
}

func newWorld(t *testing.T) *world {
	t.Helper()
	cfg := config.Default()
	st := store.NewMemoryStore()
	bus := events.NewBus(st, "")
	m := metrics.NewWith(prometheus.NewRegistry())

	w := &world{store: st, bus: bus}
	w.ledger = trust.NewLedger(st, bus, m, cfg.Trust)
	w.decay = trust.NewDecayEngine(w.ledger, st, bus, m, cfg.Trust)
	w.health = trust.NewHealthController(w.ledger, bus, cfg.Trust.Health)

	w.directory = governance.NewStoreDirectory(st)
	w.engine = governance.NewEngine(st, bus, m, cfg.Governance, governance.NewRegistry(), &governance.Env{
		Trust:  w.ledger,
		Roles:  w.directory,
		Quorum: w.directory,
		Store:  st,
	})
	if err := w.engine.InstallSeedRules(context.Background()); err != nil {
		t.Fatalf("seed rules: %v", err)
	}

	// Governance violations feed the slashing path, as in cmd/server.
	bus.Subscribe(events.GovernanceViolation, func(ctx context.Context, e *events.Event) {
		severity, _ := e.Data["severity"].(string)
		reason, _ := e.Data["reason"].(string)
		w.decay.Slash(ctx, e.Subject, trust.SlashSeverity(severity), reason)
	})

	w.quarantine = risk.NewQuarantine(st, bus, m)
	w.scanner = risk.NewAnomalyScanner(bus, m, cfg.Risk.Anomaly, w.decay,
		func(ctx context.Context, agentID, reason string) {
			w.quarantine.QuarantineAgent(ctx, agentID, reason)
		})
	w.killSwitch = risk.NewKillSwitch(st, bus, m, cfg.Risk.KillSwitch, w.quarantine,
		func(_ context.Context, fallbackID string) {
			w.fallbacks = append(w.fallbacks, fallbackID)
		})
	w.breaker = risk.NewDrawdownBreaker(bus, m, cfg.Risk.Drawdown, nil, nil)
	return w
}

func TestViolationSlashesTrustAndDegradesMode(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	// A non-validator voting violates a MODERATE rule. Two violations
	// drop the default 50 score into the self-healing band.
	for i := 0; i < 2; i++ {
		result, err := w.engine.Enforce(ctx, &governance.ActionContext{
			AgentID: "rogue", Action: governance.ActionVote,
		})
		if err != nil {
			t.Fatalf("enforce: %v", err)
		}
		if result.Allowed {
			t.Fatal("vote without validator role should be blocked")
		}
	}

	state, err := w.ledger.GetState(ctx, "rogue")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Score != 20 {
		t.Errorf("expected score 20 after two moderate slashes, got %.1f", state.Score)
	}
	if state.Mode != trust.ModeSelfHealing {
		t.Errorf("expected SELF_HEALING, got %s", state.Mode)
	}
	if state.EnteredSelfHealingAt.IsZero() {
		t.Error("healing episode should have opened")
	}

	history, err := w.decay.SlashHistory(ctx, "rogue", 10)
	if err != nil {
		t.Fatalf("slash history: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("expected 2 slashing records, got %d", len(history))
	}
}

func TestDegradedAgentCannotPropose(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	if err := w.ledger.SetScore(ctx, "weak", 40); err != nil {
		t.Fatalf("set score: %v", err)
	}

	result, err := w.engine.Enforce(ctx, &governance.ActionContext{
		AgentID: "weak", Action: governance.ActionPropose,
	})
	if err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if result.Allowed {
		t.Fatal("score 40 should not clear the propose threshold of 75")
	}

	// The min-trust violation is MINOR, slashing 5 more points.
	score, _ := w.ledger.GetScore(ctx, "weak")
	if score != 35 {
		t.Errorf("expected 35 after minor slash, got %.1f", score)
	}
}

func TestAnomalyQuarantinesAndPenalizes(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		pnl := 1.0
		if i%2 == 1 {
			pnl = -1.0
		}
		if _, err := w.scanner.Record(ctx, "wild", pnl); err != nil {
			t.Fatalf("record pnl: %v", err)
		}
	}

	anomalous, err := w.scanner.Record(ctx, "wild", 50_000)
	if err != nil {
		t.Fatalf("record pnl: %v", err)
	}
	if !anomalous {
		t.Fatal("a 50k print against a +/-1 window should be anomalous")
	}

	quarantined, _ := w.quarantine.IsAgentQuarantined(ctx, "wild")
	if !quarantined {
		t.Error("anomalous agent should be quarantined")
	}
	score, _ := w.ledger.GetScore(ctx, "wild")
	if score != 40 {
		t.Errorf("expected 40 after the 10-point anomaly penalty, got %.1f", score)
	}
}

func TestKillCascadeActivatesFallback(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		stats := risk.StrategyStats{
			StrategyID:  string(rune('a' + i)),
			Trades:      20,
			ROI:         -0.50,
			MaxDrawdown: 0.05,
			Diversity:   0.9,
		}
		event, err := w.killSwitch.Evaluate(ctx, stats, nil)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if event == nil {
			t.Fatalf("strategy %d should have been killed", i)
		}
	}

	strategies, _ := w.quarantine.QuarantinedStrategies(ctx)
	if len(strategies) != 5 {
		t.Errorf("expected 5 quarantined strategies, got %d", len(strategies))
	}
	if len(w.fallbacks) != 1 {
		t.Fatalf("expected exactly one fallback activation, got %d", len(w.fallbacks))
	}
	if w.fallbacks[0] != "fallback-conservative" {
		t.Errorf("unexpected fallback strategy %q", w.fallbacks[0])
	}
}

func TestBreachEventReachesSubscribers(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	var breach *events.Event
	w.bus.Subscribe(events.DrawdownBreach, func(_ context.Context, e *events.Event) {
		breach = e
	})

	w.breaker.RecordEquity("main", 1_000_000)
	w.breaker.RecordEquity("main", 850_000)
	w.breaker.CheckNow(ctx)

	if w.breaker.State("main") != risk.StateTriggered {
		t.Fatal("15 percent drawdown should trigger the breaker")
	}
	if breach == nil {
		t.Fatal("breach event should have been published")
	}
	if breach.Subject != "main" {
		t.Errorf("unexpected breach subject %q", breach.Subject)
	}
	if breach.Timestamp.After(time.Now().Add(time.Second)) {
		t.Error("breach timestamp should be set at publish time")
	}
}

func TestDecaySweepAcrossFleet(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	w.ledger.SetScore(ctx, "star", 95)
	w.ledger.SetScore(ctx, "steady", 55)
	w.ledger.SetScore(ctx, "floor", 30)

	result := w.decay.Sweep(ctx)
	if result.Decayed != 2 || result.Skipped != 1 {
		t.Errorf("expected 2 decayed and 1 skipped, got %+v", result)
	}

	star, _ := w.ledger.GetScore(ctx, "star")
	if star != 93.5 {
		t.Errorf("high-trust agent should decay 1.5, got %.2f", star)
	}
}
