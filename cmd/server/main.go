package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantfabric/riskcore/internal/alerts"
	"github.com/quantfabric/riskcore/internal/config"
	"github.com/quantfabric/riskcore/internal/events"
	"github.com/quantfabric/riskcore/internal/governance"
	"github.com/quantfabric/riskcore/internal/handlers"
	"github.com/quantfabric/riskcore/internal/metrics"
	"github.com/quantfabric/riskcore/internal/middleware"
	"github.com/quantfabric/riskcore/internal/risk"
	"github.com/quantfabric/riskcore/internal/store"
	"github.com/quantfabric/riskcore/internal/telemetry"
	"github.com/quantfabric/riskcore/internal/trust"
)

func main() {
	configPath := flag.String("config", os.Getenv("RISKCORE_CONFIG"), "path to YAML config")
	flag.Parse()

	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Configuration invalid", "error", err)
		os.Exit(1)
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	// Shared store: Redis when reachable, in-memory otherwise. The memory
	// fallback keeps a single pod functional through a Redis outage.
	var st store.Store
	redisStore, err := store.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		slog.Warn("Redis unavailable, using in-memory store", "error", err)
		st = store.NewMemoryStore()
	} else {
		st = redisStore
		defer redisStore.Close()
	}

	m := metrics.New()
	bus := events.NewBus(st, events.DefaultChannelPrefix)
	bus.ListenRemote(context.Background())
	defer bus.Close()

	// Trust core.
	ledger := trust.NewLedger(st, bus, m, cfg.Trust)
	decayEngine := trust.NewDecayEngine(ledger, st, bus, m, cfg.Trust)
	healthCtrl := trust.NewHealthController(ledger, bus, cfg.Trust.Health)
	decayEngine.Start()
	defer decayEngine.Stop()

	// Governance.
	registry := governance.NewRegistry()
	directory := governance.NewStoreDirectory(st)
	engine := governance.NewEngine(st, bus, m, cfg.Governance, registry, &governance.Env{
		Trust:  ledger,
		Roles:  directory,
		Quorum: directory,
		Store:  st,
	})
	if err := engine.InstallSeedRules(context.Background()); err != nil {
		slog.Error("Failed to install seed rules", "error", err)
		os.Exit(1)
	}

	// Governance violations feed the slashing path.
	bus.Subscribe(events.GovernanceViolation, func(ctx context.Context, e *events.Event) {
		severity, _ := e.Data["severity"].(string)
		reason, _ := e.Data["reason"].(string)
		if _, err := decayEngine.Slash(ctx, e.Subject, trust.SlashSeverity(severity), reason); err != nil {
			slog.Warn("Violation slash failed", "agent_id", e.Subject, "error", err)
		}
	})

	// Risk sentinels.
	quarantine := risk.NewQuarantine(st, bus, m)
	notifier := alerts.NewWebhookNotifier(cfg.Risk.Drawdown.AlertURL)
	defer notifier.Shutdown()

	breaker := risk.NewDrawdownBreaker(bus, m, cfg.Risk.Drawdown,
		func(ctx context.Context, account, action string) {
			slog.Error("Halting trading", "account", account, "action", action)
		}, notifier)
	breaker.Start()
	defer breaker.Stop()

	scanner := risk.NewAnomalyScanner(bus, m, cfg.Risk.Anomaly, decayEngine,
		func(ctx context.Context, agentID, reason string) {
			if err := quarantine.QuarantineAgent(ctx, agentID, reason); err != nil {
				slog.Warn("Anomaly quarantine failed", "agent_id", agentID, "error", err)
			}
		})

	killSwitch := risk.NewKillSwitch(st, bus, m, cfg.Risk.KillSwitch, quarantine,
		func(ctx context.Context, fallbackID string) {
			slog.Error("Fallback strategy activated", "strategy_id", fallbackID)
		})

	// Telemetry.
	streamer := telemetry.NewStreamer(bus)
	go streamer.Run()
	defer streamer.Stop()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/ws/telemetry", streamer.HandleWebSocket)

	router.Use(middleware.RequestLogger)

	limiter := middleware.NewRateLimiter(240)
	defer limiter.Stop()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(limiter.Middleware)

	// Trust.
	api.HandleFunc("/trust/agents", handlers.ListTrustStates(ledger)).Methods(http.MethodGet)
	api.HandleFunc("/trust/agents/{id}", handlers.GetTrustState(ledger)).Methods(http.MethodGet)
	api.HandleFunc("/trust/agents/{id}/score", handlers.SetTrustScore(ledger)).Methods(http.MethodPut)
	api.HandleFunc("/trust/agents/{id}/adjust", handlers.AdjustTrust(decayEngine)).Methods(http.MethodPost)
	api.HandleFunc("/trust/agents/{id}/slash", handlers.SlashAgent(decayEngine)).Methods(http.MethodPost)
	api.HandleFunc("/trust/agents/{id}/slashes", handlers.AgentSlashHistory(decayEngine)).Methods(http.MethodGet)
	api.HandleFunc("/trust/agents/{id}/health", handlers.GetHealthAdjustments(healthCtrl)).Methods(http.MethodGet)
	api.HandleFunc("/trust/agents/{id}/success", handlers.RecordSuccess(healthCtrl)).Methods(http.MethodPost)
	api.HandleFunc("/trust/agents/{id}/failure", handlers.RecordFailure(healthCtrl)).Methods(http.MethodPost)
	api.HandleFunc("/trust/slashes", handlers.GlobalSlashHistory(decayEngine)).Methods(http.MethodGet)
	api.HandleFunc("/trust/decay/sweep", handlers.TriggerDecaySweep(decayEngine)).Methods(http.MethodPost)

	// Governance.
	api.HandleFunc("/governance/enforce", handlers.EnforceAction(engine)).Methods(http.MethodPost)
	api.HandleFunc("/governance/rules", handlers.ListRules(engine)).Methods(http.MethodGet)
	api.HandleFunc("/governance/rules", handlers.AddRule(engine)).Methods(http.MethodPost)
	api.HandleFunc("/governance/rules/{id}", handlers.GetRule(engine)).Methods(http.MethodGet)
	api.HandleFunc("/governance/rules/{id}", handlers.UpdateRule(engine)).Methods(http.MethodPut)
	api.HandleFunc("/governance/rules/{id}/enable", handlers.SetRuleEnabled(engine, true)).Methods(http.MethodPost)
	api.HandleFunc("/governance/rules/{id}/disable", handlers.SetRuleEnabled(engine, false)).Methods(http.MethodPost)
	api.HandleFunc("/governance/violations", handlers.ListViolations(engine)).Methods(http.MethodGet)
	api.HandleFunc("/governance/violations/{id}", handlers.ListAgentViolations(engine)).Methods(http.MethodGet)
	api.HandleFunc("/governance/agents/{id}/role", handlers.SetAgentRole(directory)).Methods(http.MethodPut)
	api.HandleFunc("/governance/members/{id}", handlers.AddMember(directory)).Methods(http.MethodPost)
	api.HandleFunc("/governance/members/{id}", handlers.RemoveMember(directory)).Methods(http.MethodDelete)

	// Risk.
	api.HandleFunc("/risk/equity", handlers.RecordEquity(breaker)).Methods(http.MethodPost)
	api.HandleFunc("/risk/breaker/{account}", handlers.GetBreakerState(breaker)).Methods(http.MethodGet)
	api.HandleFunc("/risk/breaker/{account}/reset", handlers.ResetBreaker(breaker)).Methods(http.MethodPost)
	api.HandleFunc("/risk/pnl", handlers.RecordPnL(scanner)).Methods(http.MethodPost)
	api.HandleFunc("/risk/strategies/evaluate", handlers.EvaluateStrategy(killSwitch)).Methods(http.MethodPost)
	api.HandleFunc("/risk/kills", handlers.ListKills(killSwitch)).Methods(http.MethodGet)
	api.HandleFunc("/risk/quarantine", handlers.GetQuarantine(quarantine)).Methods(http.MethodGet)
	api.HandleFunc("/risk/quarantine/{kind}/{id}/release", handlers.ReleaseFromQuarantine(quarantine)).Methods(http.MethodPost)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Risk core listening", "port", cfg.Server.Port, "env", cfg.Server.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}
