package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfabric/riskcore/internal/config"
	"github.com/quantfabric/riskcore/internal/events"
	"github.com/quantfabric/riskcore/internal/metrics"
	"github.com/quantfabric/riskcore/internal/store"
)

const (
	keyActiveRules = "governance:rules:active"
	keyRulePrefix  = "governance:rule:"
)

// Engine evaluates every governed action against the active rule set.
// Individual rule failures block the action; rule evaluation errors degrade
// to warnings so one broken rule cannot freeze the platform.
type Engine struct {
	store    store.Store
	bus      *events.Bus
	metrics  *metrics.Metrics
	cfg      config.GovernanceConfig
	registry *Registry
	env      *Env

	cacheMu   sync.RWMutex
	cached    []Rule
	cacheTime time.Time
}

// NewEngine creates a rule engine over the shared store.
func NewEngine(st store.Store, bus *events.Bus, m *metrics.Metrics, cfg config.GovernanceConfig, registry *Registry, env *Env) *Engine {
	return &Engine{
		store:    st,
		bus:      bus,
		metrics:  m,
		cfg:      cfg,
		registry: registry,
		env:      env,
	}
}

// InstallSeedRules writes the built-in rule set for any rule not already
// present. Existing rules are left untouched so operator edits survive
// restarts.
func (e *Engine) InstallSeedRules(ctx context.Context) error {
	for _, rule := range SeedRules(e.cfg) {
		_, err := e.store.Get(ctx, keyRulePrefix+rule.ID)
		if err == nil {
			continue
		}
		if err != store.ErrNotFound {
			return fmt.Errorf("check seed rule %s: %w", rule.ID, err)
		}
		if err := e.saveRule(ctx, &rule); err != nil {
			return err
		}
		slog.Info("Installed seed rule", "rule_id", rule.ID)
	}
	return nil
}

// AddRule persists a new rule. The predicate must exist in the registry.
func (e *Engine) AddRule(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule ID must not be empty")
	}
	if _, ok := e.registry.Get(rule.PredicateID); !ok {
		return fmt.Errorf("unknown predicate %q", rule.PredicateID)
	}
	if _, err := e.GetRule(ctx, rule.ID); err == nil {
		return fmt.Errorf("rule %s already exists", rule.ID)
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return e.saveRule(ctx, rule)
}

// UpdateRule replaces an existing rule's metadata.
func (e *Engine) UpdateRule(ctx context.Context, rule *Rule) error {
	existing, err := e.GetRule(ctx, rule.ID)
	if err != nil {
		return err
	}
	if _, ok := e.registry.Get(rule.PredicateID); !ok {
		return fmt.Errorf("unknown predicate %q", rule.PredicateID)
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	return e.saveRule(ctx, rule)
}

// SetRuleEnabled toggles a rule without touching the rest of its metadata.
func (e *Engine) SetRuleEnabled(ctx context.Context, ruleID string, enabled bool) error {
	rule, err := e.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	rule.Enabled = enabled
	rule.UpdatedAt = time.Now().UTC()
	return e.saveRule(ctx, rule)
}

// GetRule loads one rule by ID.
func (e *Engine) GetRule(ctx context.Context, ruleID string) (*Rule, error) {
	raw, err := e.store.Get(ctx, keyRulePrefix+ruleID)
	if err == store.ErrNotFound {
		return nil, fmt.Errorf("rule %s not found", ruleID)
	}
	if err != nil {
		return nil, fmt.Errorf("load rule %s: %w", ruleID, err)
	}
	var rule Rule
	if jerr := json.Unmarshal([]byte(raw), &rule); jerr != nil {
		return nil, fmt.Errorf("corrupt rule %s: %w", ruleID, jerr)
	}
	return &rule, nil
}

// Rules returns every stored rule, enabled or not.
func (e *Engine) Rules(ctx context.Context) ([]Rule, error) {
	ids, err := e.store.SMembers(ctx, keyActiveRules)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	out := make([]Rule, 0, len(ids))
	for _, id := range ids {
		rule, gerr := e.GetRule(ctx, id)
		if gerr != nil {
			slog.Warn("Skipping unreadable rule", "rule_id", id, "error", gerr)
			continue
		}
		out = append(out, *rule)
	}
	return out, nil
}

// ActiveRules returns the enabled rules, served from a short-lived cache to
// keep enforcement off the store's hot path.
func (e *Engine) ActiveRules(ctx context.Context) ([]Rule, error) {
	e.cacheMu.RLock()
	if e.cached != nil && time.Since(e.cacheTime) < e.cfg.RuleCacheTTL() {
		rules := e.cached
		e.cacheMu.RUnlock()
		return rules, nil
	}
	e.cacheMu.RUnlock()

	all, err := e.Rules(ctx)
	if err != nil {
		// Serve the stale cache rather than failing open with no rules.
		e.cacheMu.RLock()
		stale := e.cached
		e.cacheMu.RUnlock()
		if stale != nil {
			slog.Warn("Rule refresh failed, serving stale cache", "error", err)
			return stale, nil
		}
		return nil, err
	}

	active := make([]Rule, 0, len(all))
	for _, rule := range all {
		if rule.Enabled {
			active = append(active, rule)
		}
	}
	e.cacheMu.Lock()
	e.cached = active
	e.cacheTime = time.Now()
	e.cacheMu.Unlock()
	return active, nil
}

// Enforce checks an action against every applicable active rule. The action
// is blocked if any rule's predicate rejects it; predicate errors and panics
// become warnings and the rule is skipped.
func (e *Engine) Enforce(ctx context.Context, action *ActionContext) (*Result, error) {
	start := time.Now()
	defer func() {
		e.metrics.EnforceLatency.Observe(time.Since(start).Seconds())
	}()

	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}

	rules, err := e.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("enforce: %w", err)
	}

	result := &Result{Allowed: true, Violations: []Violation{}}
	for i := range rules {
		rule := &rules[i]
		if !rule.Applies(action.Action) {
			continue
		}
		ok, reason, evalErr := e.evalRule(ctx, rule, action)
		if evalErr != nil {
			warning := fmt.Sprintf("rule %s: %v", rule.ID, evalErr)
			result.Warnings = append(result.Warnings, warning)
			e.metrics.RuleWarnings.WithLabelValues(rule.ID).Inc()
			slog.Warn("Rule evaluation failed, skipping rule",
				"rule_id", rule.ID, "agent_id", action.AgentID, "error", evalErr)
			continue
		}
		if !ok {
			result.Allowed = false
			result.Violations = append(result.Violations, Violation{
				ID:        uuid.New().String(),
				RuleID:    rule.ID,
				AgentID:   action.AgentID,
				Action:    action.Action,
				Reason:    reason,
				Severity:  rule.Severity,
				Context:   action.Payload,
				Timestamp: time.Now().UTC(),
			})
		}
	}

	// Violations are logged and persisted before the caller sees the
	// result, so a crashing caller cannot lose the audit trail.
	for i := range result.Violations {
		v := &result.Violations[i]
		slog.Warn("Governance violation",
			"rule_id", v.RuleID, "agent_id", v.AgentID,
			"action", v.Action, "severity", v.Severity, "reason", v.Reason)
		e.recordViolation(ctx, v)
		e.metrics.ViolationTotal.WithLabelValues(v.RuleID, string(v.Severity)).Inc()
		e.bus.Emit(ctx, events.GovernanceViolation, v.AgentID, map[string]interface{}{
			"rule_id":  v.RuleID,
			"action":   string(v.Action),
			"severity": string(v.Severity),
			"reason":   v.Reason,
		})
	}

	outcome := "allowed"
	if !result.Allowed {
		outcome = "blocked"
	}
	e.metrics.EnforceTotal.WithLabelValues(string(action.Action), outcome).Inc()

	if result.Allowed && action.Action == ActionPropose {
		e.stampProposal(ctx, action.AgentID)
	}
	return result, nil
}

// evalRule runs one predicate with panic containment.
func (e *Engine) evalRule(ctx context.Context, rule *Rule, action *ActionContext) (ok bool, reason string, err error) {
	predicate, found := e.registry.Get(rule.PredicateID)
	if !found {
		return false, "", fmt.Errorf("predicate %q not registered", rule.PredicateID)
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("predicate %q panicked: %v", rule.PredicateID, r)
		}
	}()
	return predicate(ctx, e.env, action, rule)
}

// stampProposal records when an agent last proposed, for the cooldown rule.
func (e *Engine) stampProposal(ctx context.Context, agentID string) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := e.store.Set(ctx, keyLastProposalPrefix+agentID, now, 0); err != nil {
		slog.Warn("Failed to stamp proposal time", "agent_id", agentID, "error", err)
	}
}

func (e *Engine) saveRule(ctx context.Context, rule *Rule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal rule %s: %w", rule.ID, err)
	}
	if err := e.store.Set(ctx, keyRulePrefix+rule.ID, string(data), 0); err != nil {
		return fmt.Errorf("save rule %s: %w", rule.ID, err)
	}
	if err := e.store.SAdd(ctx, keyActiveRules, rule.ID); err != nil {
		return fmt.Errorf("index rule %s: %w", rule.ID, err)
	}
	e.invalidateCache()
	return nil
}

func (e *Engine) invalidateCache() {
	e.cacheMu.Lock()
	e.cached = nil
	e.cacheMu.Unlock()
}
