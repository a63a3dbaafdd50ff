package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quantfabric/riskcore/internal/trust"
)

// GetTrustState returns an agent's score, mode, and healing episode.
func GetTrustState(ledger *trust.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := ledger.GetState(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, state)
	}
}

// ListTrustStates returns the trust state of every scored agent.
func ListTrustStates(ledger *trust.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agents, err := ledger.Agents(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		states := make([]*trust.TrustState, 0, len(agents))
		for _, agentID := range agents {
			state, serr := ledger.GetState(r.Context(), agentID)
			if serr != nil {
				continue
			}
			states = append(states, state)
		}
		respondJSON(w, http.StatusOK, states)
	}
}

// AdjustTrust applies a delta to an agent's score.
func AdjustTrust(decay *trust.DecayEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Delta  float64 `json:"delta"`
			Reason string  `json:"reason"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Reason == "" {
			respondError(w, http.StatusBadRequest, "reason is required")
			return
		}
		after, err := decay.AdjustTrust(r.Context(), mux.Vars(r)["id"], req.Delta, req.Reason)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]float64{"score": after})
	}
}

// SetTrustScore overwrites an agent's score. Operator override.
func SetTrustScore(ledger *trust.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Score float64 `json:"score"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		agentID := mux.Vars(r)["id"]
		if err := ledger.SetScore(r.Context(), agentID, req.Score); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		state, err := ledger.GetState(r.Context(), agentID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, state)
	}
}

// SlashAgent applies a graded trust penalty.
func SlashAgent(decay *trust.DecayEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Severity trust.SlashSeverity `json:"severity"`
			Reason   string              `json:"reason"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Reason == "" {
			respondError(w, http.StatusBadRequest, "reason is required")
			return
		}
		event, err := decay.Slash(r.Context(), mux.Vars(r)["id"], req.Severity, req.Reason)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, event)
	}
}

// AgentSlashHistory returns an agent's recent slashing events.
func AgentSlashHistory(decay *trust.DecayEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := decay.SlashHistory(r.Context(), mux.Vars(r)["id"], limitParam(r))
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, history)
	}
}

// GlobalSlashHistory returns recent slashing events platform-wide.
func GlobalSlashHistory(decay *trust.DecayEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := decay.GlobalSlashHistory(r.Context(), limitParam(r))
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, history)
	}
}

// TriggerDecaySweep runs one decay sweep immediately.
func TriggerDecaySweep(decay *trust.DecayEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, decay.Sweep(r.Context()))
	}
}

// GetHealthAdjustments returns an agent's mode and operating restrictions.
func GetHealthAdjustments(health *trust.HealthController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["id"]
		mode, err := health.Mode(r.Context(), agentID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"agent_id":    agentID,
			"mode":        mode,
			"adjustments": health.AdjustmentsFor(mode),
		})
	}
}

// RecordSuccess credits a successful agent action toward recovery.
func RecordSuccess(health *trust.HealthController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := health.RecordSuccess(r.Context(), mux.Vars(r)["id"]); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}

// RecordFailure debits a failed agent action.
func RecordFailure(health *trust.HealthController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Severity float64 `json:"severity"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Severity <= 0 {
			respondError(w, http.StatusBadRequest, "severity must be positive")
			return
		}
		if err := health.RecordFailure(r.Context(), mux.Vars(r)["id"], req.Severity); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}
