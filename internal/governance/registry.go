package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfabric/riskcore/internal/config"
	"github.com/quantfabric/riskcore/internal/store"
)

const keyLastProposalPrefix = "governance:last_proposal:"

// Env carries the dependencies predicates may consult. Predicates are pure
// checks over this environment; they never mutate state.
type Env struct {
	Trust  TrustReader
	Roles  RoleLookup
	Quorum QuorumLookup
	Store  store.Store
}

// Predicate is a compiled rule check. It returns whether the action passes
// and, when it does not, a human-readable reason. Evaluation errors make the
// rule a non-blocking warning.
type Predicate func(ctx context.Context, env *Env, action *ActionContext, rule *Rule) (ok bool, reason string, err error)

// Registry maps predicate IDs to compiled predicates. Rules stored in the
// shared state reference predicates by ID only.
type Registry struct {
	predicates map[string]Predicate
}

// NewRegistry creates a registry preloaded with the built-in predicates.
func NewRegistry() *Registry {
	r := &Registry{predicates: make(map[string]Predicate)}
	r.Register("validator-role", predicateValidatorRole)
	r.Register("min-trust-score", predicateMinTrustScore)
	r.Register("proposal-cooldown", predicateProposalCooldown)
	r.Register("quorum-majority", predicateQuorumMajority)
	r.Register("duty-separation", predicateDutySeparation)
	return r
}

// Register adds or replaces a predicate.
func (r *Registry) Register(id string, p Predicate) {
	r.predicates[id] = p
}

// Get returns the predicate for an ID.
func (r *Registry) Get(id string) (Predicate, bool) {
	p, ok := r.predicates[id]
	return p, ok
}

// predicateValidatorRole requires the acting agent to hold the validator
// role.
func predicateValidatorRole(ctx context.Context, env *Env, action *ActionContext, _ *Rule) (bool, string, error) {
	role, err := env.Roles.Role(ctx, action.AgentID)
	if err != nil {
		return false, "", err
	}
	if role != "validator" {
		return false, fmt.Sprintf("agent %s has role %q, validator required", action.AgentID, role), nil
	}
	return true, "", nil
}

// predicateMinTrustScore requires the agent's trust score to meet the rule's
// min_score parameter.
func predicateMinTrustScore(ctx context.Context, env *Env, action *ActionContext, rule *Rule) (bool, string, error) {
	minScore, ok := rule.Params["min_score"]
	if !ok {
		return false, "", fmt.Errorf("rule %s missing min_score param", rule.ID)
	}
	score, err := env.Trust.GetScore(ctx, action.AgentID)
	if err != nil {
		return false, "", err
	}
	if score < minScore {
		return false, fmt.Sprintf("trust score %.1f below required %.1f", score, minScore), nil
	}
	return true, "", nil
}

// predicateProposalCooldown blocks a new proposal until the agent's cooldown
// window has elapsed. The engine stamps the window when a proposal is
// allowed.
func predicateProposalCooldown(ctx context.Context, env *Env, action *ActionContext, rule *Rule) (bool, string, error) {
	hours, ok := rule.Params["cooldown_hours"]
	if !ok {
		return false, "", fmt.Errorf("rule %s missing cooldown_hours param", rule.ID)
	}
	raw, err := env.Store.Get(ctx, keyLastProposalPrefix+action.AgentID)
	if err == store.ErrNotFound {
		return true, "", nil
	}
	if err != nil {
		return false, "", err
	}
	last, perr := time.Parse(time.RFC3339Nano, raw)
	if perr != nil {
		return false, "", fmt.Errorf("corrupt last-proposal timestamp for %s: %w", action.AgentID, perr)
	}
	cooldown := time.Duration(hours * float64(time.Hour))
	if remaining := cooldown - time.Since(last); remaining > 0 {
		return false, fmt.Sprintf("proposal cooldown active for another %s", remaining.Round(time.Second)), nil
	}
	return true, "", nil
}

// predicateQuorumMajority requires strictly more than half of the voting
// members to have voted for the proposal being executed.
func predicateQuorumMajority(ctx context.Context, env *Env, action *ActionContext, _ *Rule) (bool, string, error) {
	votes, ok := numberFromPayload(action.Payload, "votes")
	if !ok {
		return false, "", fmt.Errorf("execute action missing votes in payload")
	}
	members, err := env.Quorum.MemberCount(ctx)
	if err != nil {
		return false, "", err
	}
	if members == 0 {
		return false, "", fmt.Errorf("no registered voting members")
	}
	if int(votes)*2 <= members {
		return false, fmt.Sprintf("%d votes of %d members does not reach a majority", int(votes), members), nil
	}
	return true, "", nil
}

// predicateDutySeparation forbids an agent from executing its own proposal.
func predicateDutySeparation(_ context.Context, _ *Env, action *ActionContext, _ *Rule) (bool, string, error) {
	proposer, ok := action.Payload["proposer_id"].(string)
	if !ok {
		return false, "", fmt.Errorf("execute action missing proposer_id in payload")
	}
	if proposer == action.AgentID {
		return false, "proposer may not execute their own proposal", nil
	}
	return true, "", nil
}

func numberFromPayload(payload map[string]interface{}, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// SeedRules returns the rule set installed on first boot.
func SeedRules(cfg config.GovernanceConfig) []Rule {
	now := time.Now().UTC()
	newRule := func(id, name, desc, predicate string, params map[string]float64, applies []ActionType, sev ViolationSeverity) Rule {
		return Rule{
			ID:          id,
			Name:        name,
			Description: desc,
			PredicateID: predicate,
			Params:      params,
			AppliesTo:   applies,
			Severity:    sev,
			Enabled:     true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	return []Rule{
		newRule("role-validator-vote", "Validator role required to vote",
			"Only agents holding the validator role may cast governance votes.",
			"validator-role", nil, []ActionType{ActionVote}, SeverityModerate),
		newRule("min-trust-propose", "Minimum trust to propose",
			"Agents below the trust threshold may not submit proposals.",
			"min-trust-score", map[string]float64{"min_score": cfg.MinProposeScore},
			[]ActionType{ActionPropose}, SeverityMinor),
		newRule("proposal-cooldown", "Proposal cooldown",
			"Agents must wait out the cooldown between proposals.",
			"proposal-cooldown", map[string]float64{"cooldown_hours": cfg.ProposalCooldown().Hours()},
			[]ActionType{ActionPropose}, SeverityMinor),
		newRule("quorum-execute", "Quorum required to execute",
			"Execution requires a strict majority of voting members.",
			"quorum-majority", nil, []ActionType{ActionExecute}, SeveritySevere),
		newRule("duty-separation", "Separation of duties",
			"An agent may not execute a proposal it authored.",
			"duty-separation", nil, []ActionType{ActionExecute}, SeveritySevere),
	}
}
