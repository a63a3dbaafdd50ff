package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quantfabric/riskcore/internal/governance"
)

// EnforceAction checks a governed action against the active rule set.
func EnforceAction(engine *governance.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var action governance.ActionContext
		if !decodeBody(w, r, &action) {
			return
		}
		if action.AgentID == "" || action.Action == "" {
			respondError(w, http.StatusBadRequest, "agent_id and action are required")
			return
		}
		result, err := engine.Enforce(r.Context(), &action)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

// ListRules returns every stored rule.
func ListRules(engine *governance.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules, err := engine.Rules(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, rules)
	}
}

// GetRule returns one rule by ID.
func GetRule(engine *governance.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rule, err := engine.GetRule(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, rule)
	}
}

// AddRule creates a rule bound to a registered predicate.
func AddRule(engine *governance.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rule governance.Rule
		if !decodeBody(w, r, &rule) {
			return
		}
		if err := engine.AddRule(r.Context(), &rule); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusCreated, rule)
	}
}

// UpdateRule replaces a rule's metadata.
func UpdateRule(engine *governance.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rule governance.Rule
		if !decodeBody(w, r, &rule) {
			return
		}
		rule.ID = mux.Vars(r)["id"]
		if err := engine.UpdateRule(r.Context(), &rule); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, rule)
	}
}

// SetRuleEnabled enables or disables a rule.
func SetRuleEnabled(engine *governance.Engine, enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ruleID := mux.Vars(r)["id"]
		if err := engine.SetRuleEnabled(r.Context(), ruleID, enabled); err != nil {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"rule_id": ruleID,
			"enabled": enabled,
		})
	}
}

// ListViolations returns recent violations platform-wide.
func ListViolations(engine *governance.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		violations, err := engine.Violations(r.Context(), limitParam(r))
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, violations)
	}
}

// ListAgentViolations returns recent violations for one agent.
func ListAgentViolations(engine *governance.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		violations, err := engine.AgentViolations(r.Context(), mux.Vars(r)["id"], limitParam(r))
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, violations)
	}
}

// SetAgentRole assigns a governance role.
func SetAgentRole(directory *governance.StoreDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Role string `json:"role"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		agentID := mux.Vars(r)["id"]
		if err := directory.SetRole(r.Context(), agentID, req.Role); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"agent_id": agentID, "role": req.Role})
	}
}

// AddMember registers a voting member.
func AddMember(directory *governance.StoreDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["id"]
		if err := directory.AddMember(r.Context(), agentID); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"agent_id": agentID, "status": "member"})
	}
}

// RemoveMember removes a voting member.
func RemoveMember(directory *governance.StoreDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["id"]
		if err := directory.RemoveMember(r.Context(), agentID); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"agent_id": agentID, "status": "removed"})
	}
}
