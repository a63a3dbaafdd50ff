package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

const (
	keyViolations       = "governance:violations"
	keyViolationsPrefix = "governance:violations:"
)

// recordViolation appends the violation to the global and per-agent audit
// rings. Persistence failures are logged, never propagated; losing an audit
// record must not block enforcement.
func (e *Engine) recordViolation(ctx context.Context, v *Violation) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal violation", "error", err)
		return
	}

	if err := e.store.LPush(ctx, keyViolations, string(data)); err != nil {
		slog.Warn("Failed to record violation", "rule_id", v.RuleID, "error", err)
	} else if err := e.store.LTrim(ctx, keyViolations, 0, e.cfg.ViolationRingSize-1); err != nil {
		slog.Warn("Failed to trim violation log", "error", err)
	}

	agentKey := keyViolationsPrefix + v.AgentID
	if err := e.store.LPush(ctx, agentKey, string(data)); err != nil {
		slog.Warn("Failed to record agent violation", "agent_id", v.AgentID, "error", err)
	} else if err := e.store.LTrim(ctx, agentKey, 0, e.cfg.AgentViolationRing-1); err != nil {
		slog.Warn("Failed to trim agent violation log", "agent_id", v.AgentID, "error", err)
	}
}

// Violations returns the most recent violations platform-wide, newest first.
func (e *Engine) Violations(ctx context.Context, limit int64) ([]Violation, error) {
	return e.readViolationRing(ctx, keyViolations, limit)
}

// AgentViolations returns the most recent violations for one agent, newest
// first.
func (e *Engine) AgentViolations(ctx context.Context, agentID string, limit int64) ([]Violation, error) {
	return e.readViolationRing(ctx, keyViolationsPrefix+agentID, limit)
}

func (e *Engine) readViolationRing(ctx context.Context, key string, limit int64) ([]Violation, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := e.store.LRange(ctx, key, 0, limit-1)
	if err != nil {
		return nil, fmt.Errorf("read violations %s: %w", key, err)
	}
	out := make([]Violation, 0, len(raws))
	for _, raw := range raws {
		var v Violation
		if jerr := json.Unmarshal([]byte(raw), &v); jerr != nil {
			slog.Warn("Skipping corrupt violation record", "key", key, "error", jerr)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
