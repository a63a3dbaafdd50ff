// Package governance enforces platform rules over agent actions. Rule
// metadata lives in the shared store so every pod agrees on which rules are
// active; rule behavior is a named, statically compiled predicate looked up
// in the registry. Executable logic is never deserialized from storage.
package governance

import "time"

// ActionType classifies a governed agent action.
type ActionType string

const (
	ActionVote     ActionType = "vote"
	ActionPropose  ActionType = "propose"
	ActionExecute  ActionType = "execute"
	ActionOverride ActionType = "override"
	ActionTreasury ActionType = "treasury"
	ActionAdmin    ActionType = "admin"
)

// ViolationSeverity grades a rule violation.
type ViolationSeverity string

const (
	SeverityMinor    ViolationSeverity = "MINOR"
	SeverityModerate ViolationSeverity = "MODERATE"
	SeveritySevere   ViolationSeverity = "SEVERE"
)

// ActionContext describes the action being checked.
type ActionContext struct {
	AgentID    string                 `json:"agent_id"`
	Action     ActionType             `json:"action"`
	ProposalID string                 `json:"proposal_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Rule is the stored metadata for one governance rule. PredicateID names a
// compiled predicate in the registry; Params tune it.
type Rule struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	PredicateID string             `json:"predicate_id"`
	Params      map[string]float64 `json:"params,omitempty"`
	AppliesTo   []ActionType       `json:"applies_to"`
	Severity    ViolationSeverity  `json:"severity"`
	Enabled     bool               `json:"enabled"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Applies reports whether the rule governs the given action type. An empty
// AppliesTo list means the rule governs every action.
func (r *Rule) Applies(action ActionType) bool {
	if len(r.AppliesTo) == 0 {
		return true
	}
	for _, a := range r.AppliesTo {
		if a == action {
			return true
		}
	}
	return false
}

// Violation is one blocking rule violation.
type Violation struct {
	ID        string                 `json:"id"`
	RuleID    string                 `json:"rule_id"`
	AgentID   string                 `json:"agent_id"`
	Action    ActionType             `json:"action"`
	Reason    string                 `json:"reason"`
	Severity  ViolationSeverity      `json:"severity"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Result is the outcome of one enforcement check. Warnings carry
// non-blocking evaluation problems; the action proceeds despite them.
type Result struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations"`
	Warnings   []string    `json:"warnings,omitempty"`
}
