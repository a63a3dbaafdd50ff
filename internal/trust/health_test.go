package trust

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/riskcore/internal/events"
)

func TestAdjustmentsTable(t *testing.T) {
	env := newTestEnv(t)

	normal := env.health.AdjustmentsFor(ModeNormal)
	assert.Equal(t, 1.0, normal.ActionThrottle)
	assert.Equal(t, 0.5, normal.MinConfidence)
	assert.False(t, normal.SuppressedTrading)
	assert.Equal(t, 1.0, normal.RecoveryBoost)

	healing := env.health.AdjustmentsFor(ModeSelfHealing)
	assert.Equal(t, 0.5, healing.ActionThrottle)
	assert.Equal(t, 0.85, healing.MinConfidence)
	assert.False(t, healing.SuppressedTrading)
	assert.Equal(t, 2.0, healing.RecoveryBoost)

	critical := env.health.AdjustmentsFor(ModeCritical)
	assert.Equal(t, 0.1, critical.ActionThrottle)
	assert.Equal(t, 0.95, critical.MinConfidence)
	assert.True(t, critical.SuppressedTrading)
	assert.Equal(t, 3.0, critical.RecoveryBoost)
}

func TestRecordSuccessBoostedInHealingMode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.ledger.Adjust(ctx, "agent-1", -30) // 20, opens episode
	require.NoError(t, err)

	require.NoError(t, env.health.RecordSuccess(ctx, "agent-1"))

	score, err := env.ledger.GetScore(ctx, "agent-1")
	require.NoError(t, err)
	assert.InDelta(t, 21.0, score, 1e-9, "0.5 base reward doubled by the healing boost")

	state, err := env.ledger.GetState(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.HealingSuccesses)

	// Healthy agents earn nothing from the recovery loop.
	setScore(t, env, "healthy", 50)
	require.NoError(t, env.health.RecordSuccess(ctx, "healthy"))
	score, err = env.ledger.GetScore(ctx, "healthy")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, score, 1e-9)
}

func TestRecordFailureAmplifiedDuringHealing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Healthy agent: penalty lands as-is.
	setScore(t, env, "healthy", 50)
	require.NoError(t, env.health.RecordFailure(ctx, "healthy", 4))
	score, _ := env.ledger.GetScore(ctx, "healthy")
	assert.InDelta(t, 46.0, score, 1e-9)

	// Healing agent: penalty amplified by 1.5.
	_, _, err := env.ledger.Adjust(ctx, "healing", -30) // 20, opens episode
	require.NoError(t, err)
	require.NoError(t, env.health.RecordFailure(ctx, "healing", 4))
	score, _ = env.ledger.GetScore(ctx, "healing")
	assert.InDelta(t, 14.0, score, 1e-9)
}

func TestRecoveryGateClosesEpisode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var recovered []*events.Event
	env.bus.Subscribe(events.TrustRecovered, func(_ context.Context, e *events.Event) {
		recovered = append(recovered, e)
	})

	_, _, err := env.ledger.Adjust(ctx, "agent-1", -20) // 30, opens episode
	require.NoError(t, err)

	// Backdate the episode past the minimum duration.
	meta, open, err := env.ledger.getMeta(ctx, "agent-1")
	require.NoError(t, err)
	require.True(t, open)
	meta.EnteredAt = time.Now().UTC().Add(-20 * time.Minute)
	env.ledger.putMeta(ctx, "agent-1", meta)

	// Five boosted successes climb the score back to the healthy line.
	for i := 0; i < 5; i++ {
		require.NoError(t, env.health.RecordSuccess(ctx, "agent-1"))
	}

	state, err := env.ledger.GetState(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, ModeNormal, state.Mode)
	assert.True(t, state.EnteredSelfHealingAt.IsZero(), "episode should be closed")
	assert.InDelta(t, 37.0, state.Score, 1e-9, "includes the recovery bonus")

	require.Len(t, recovered, 1)
	assert.Equal(t, "agent-1", recovered[0].Subject)
	assert.Equal(t, 5, recovered[0].Data["successes"])
}

func TestNoRecoveryBeforeMinimumDuration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.ledger.Adjust(ctx, "agent-1", -20) // 30, episode just opened
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		require.NoError(t, env.health.RecordSuccess(ctx, "agent-1"))
	}

	state, err := env.ledger.GetState(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, state.EnteredSelfHealingAt.IsZero(),
		"episode must stay open until the minimum duration has passed")
}

func TestNoRecoveryBelowHealthyScore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.ledger.Adjust(ctx, "agent-1", -30) // 20
	require.NoError(t, err)

	meta, _, err := env.ledger.getMeta(ctx, "agent-1")
	require.NoError(t, err)
	meta.EnteredAt = time.Now().UTC().Add(-20 * time.Minute)
	env.ledger.putMeta(ctx, "agent-1", meta)

	// Plenty of successes, but the score never climbs out of the band.
	for i := 0; i < 6; i++ {
		require.NoError(t, env.health.RecordSuccess(ctx, "agent-1"))
	}

	state, err := env.ledger.GetState(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, ModeSelfHealing, state.Mode)
	assert.False(t, state.EnteredSelfHealingAt.IsZero())
}

func TestCriticalModeHasNoAutoExit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	setScore(t, env, "agent-1", 10)
	mode, err := env.health.Mode(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, ModeCritical, mode)

	// Successes are a no-op below the self-healing band; only slashing
	// config or a manual override lifts a critical agent.
	for i := 0; i < 10; i++ {
		require.NoError(t, env.health.RecordSuccess(ctx, "agent-1"))
	}
	score, err := env.ledger.GetScore(ctx, "agent-1")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, score, 1e-9)
	mode, err = env.health.Mode(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, ModeCritical, mode)
}
