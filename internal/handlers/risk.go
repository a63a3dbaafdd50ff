package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quantfabric/riskcore/internal/risk"
)

// RecordEquity ingests an equity sample for the drawdown breaker.
func RecordEquity(breaker *risk.DrawdownBreaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Account string  `json:"account"`
			Equity  float64 `json:"equity"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Account == "" {
			respondError(w, http.StatusBadRequest, "account is required")
			return
		}
		breaker.RecordEquity(req.Account, req.Equity)
		respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}

// GetBreakerState returns the breaker latch state for an account.
func GetBreakerState(breaker *risk.DrawdownBreaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := mux.Vars(r)["account"]
		respondJSON(w, http.StatusOK, map[string]string{
			"account": account,
			"state":   string(breaker.State(account)),
		})
	}
}

// ResetBreaker re-arms a triggered breaker. Operator action.
func ResetBreaker(breaker *risk.DrawdownBreaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := mux.Vars(r)["account"]
		breaker.Reset(account)
		respondJSON(w, http.StatusOK, map[string]string{
			"account": account,
			"state":   string(breaker.State(account)),
		})
	}
}

// RecordPnL ingests a PnL sample for the anomaly scanner.
func RecordPnL(scanner *risk.AnomalyScanner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AgentID string  `json:"agent_id"`
			PnL     float64 `json:"pnl"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.AgentID == "" {
			respondError(w, http.StatusBadRequest, "agent_id is required")
			return
		}
		anomalous, err := scanner.Record(r.Context(), req.AgentID, req.PnL)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{"anomalous": anomalous})
	}
}

// EvaluateStrategy judges a strategy against the kill-switch conditions.
func EvaluateStrategy(killSwitch *risk.KillSwitch) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stats    risk.StrategyStats `json:"stats"`
			PoolROIs []float64          `json:"pool_rois"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Stats.StrategyID == "" {
			respondError(w, http.StatusBadRequest, "stats.strategy_id is required")
			return
		}
		event, err := killSwitch.Evaluate(r.Context(), req.Stats, req.PoolROIs)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if event == nil {
			respondJSON(w, http.StatusOK, map[string]bool{"killed": false})
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"killed": true,
			"event":  event,
		})
	}
}

// ListKills returns recent kill-switch activations.
func ListKills(killSwitch *risk.KillSwitch) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := killSwitch.KillHistory(r.Context(), limitParam(r))
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, history)
	}
}

// GetQuarantine lists quarantined agents and strategies.
func GetQuarantine(quarantine *risk.Quarantine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agents, err := quarantine.QuarantinedAgents(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		strategies, err := quarantine.QuarantinedStrategies(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string][]string{
			"agents":     agents,
			"strategies": strategies,
		})
	}
}

// ReleaseFromQuarantine returns an agent or strategy to live trading.
func ReleaseFromQuarantine(quarantine *risk.Quarantine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		kind, id := vars["kind"], vars["id"]

		var err error
		switch kind {
		case "agents":
			err = quarantine.ReleaseAgent(r.Context(), id)
		case "strategies":
			err = quarantine.ReleaseStrategy(r.Context(), id)
		default:
			respondError(w, http.StatusBadRequest, "kind must be agents or strategies")
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"kind": kind, "id": id, "status": "released"})
	}
}
