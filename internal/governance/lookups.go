package governance

import (
	"context"
	"fmt"

	"github.com/quantfabric/riskcore/internal/store"
)

const (
	keyRolePrefix = "governance:role:"
	keyMembers    = "governance:members"
)

// TrustReader reads an agent's current trust score. Satisfied by the trust
// ledger.
type TrustReader interface {
	GetScore(ctx context.Context, agentID string) (float64, error)
}

// RoleLookup resolves an agent's governance role.
type RoleLookup interface {
	Role(ctx context.Context, agentID string) (string, error)
}

// QuorumLookup reports how many voting members the governance body has.
type QuorumLookup interface {
	MemberCount(ctx context.Context) (int, error)
}

// StoreDirectory is the store-backed role and membership directory.
type StoreDirectory struct {
	store store.Store
}

// NewStoreDirectory creates a directory over the shared store.
func NewStoreDirectory(st store.Store) *StoreDirectory {
	return &StoreDirectory{store: st}
}

// Role returns the agent's role, or "" when none is assigned.
func (d *StoreDirectory) Role(ctx context.Context, agentID string) (string, error) {
	role, err := d.store.Get(ctx, keyRolePrefix+agentID)
	if err == store.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup role for %s: %w", agentID, err)
	}
	return role, nil
}

// SetRole assigns a governance role to an agent.
func (d *StoreDirectory) SetRole(ctx context.Context, agentID, role string) error {
	return d.store.Set(ctx, keyRolePrefix+agentID, role, 0)
}

// MemberCount returns the number of registered voting members.
func (d *StoreDirectory) MemberCount(ctx context.Context) (int, error) {
	members, err := d.store.SMembers(ctx, keyMembers)
	if err != nil {
		return 0, fmt.Errorf("list members: %w", err)
	}
	return len(members), nil
}

// AddMember registers a voting member.
func (d *StoreDirectory) AddMember(ctx context.Context, agentID string) error {
	return d.store.SAdd(ctx, keyMembers, agentID)
}

// RemoveMember removes a voting member.
func (d *StoreDirectory) RemoveMember(ctx context.Context, agentID string) error {
	return d.store.SRem(ctx, keyMembers, agentID)
}
