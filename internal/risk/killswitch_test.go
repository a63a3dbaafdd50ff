package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/riskcore/internal/events"
)

func healthyStats(strategyID string) StrategyStats {
	return StrategyStats{
		StrategyID:  strategyID,
		Trades:      50,
		ROI:         0.10,
		MaxDrawdown: 0.05,
		Diversity:   0.8,
	}
}

func newKillSwitchUnderTest(env *riskEnv) (*KillSwitch, *[]string) {
	var fallbacks []string
	ks := NewKillSwitch(env.store, env.bus, env.metrics, env.cfg.KillSwitch, env.quarantine,
		func(_ context.Context, fallbackID string) {
			fallbacks = append(fallbacks, fallbackID)
		})
	return ks, &fallbacks
}

func TestHealthyStrategySurvives(t *testing.T) {
	env := newRiskEnv(t)
	ks, _ := newKillSwitchUnderTest(env)

	event, err := ks.Evaluate(context.Background(), healthyStats("s1"), []float64{0.05, 0.10, 0.15})
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestTooFewTradesSkipsPerformanceConditions(t *testing.T) {
	env := newRiskEnv(t)
	ks, _ := newKillSwitchUnderTest(env)
	ctx := context.Background()

	// Terrible numbers, but too few trades to judge performance on.
	stats := StrategyStats{StrategyID: "s1", Trades: 5, ROI: -0.9, MaxDrawdown: 0.9, Diversity: 0.8}
	event, err := ks.Evaluate(ctx, stats, []float64{0.10, 0.20})
	require.NoError(t, err)
	assert.Nil(t, event)

	// Diversity collapse is pool-level and ignores the trade minimum.
	stats.Diversity = 0.1
	event, err = ks.Evaluate(ctx, stats, nil)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, ConditionEntropyCollapse, event.Condition)
}

func TestHardFailureOnROI(t *testing.T) {
	env := newRiskEnv(t)
	ks, _ := newKillSwitchUnderTest(env)
	ctx := context.Background()

	stats := healthyStats("s1")
	stats.ROI = -0.10
	event, err := ks.Evaluate(ctx, stats, nil)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, ConditionHardFailure, event.Condition)

	quarantined, err := env.quarantine.IsStrategyQuarantined(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, quarantined)
}

func TestHardFailureOnDrawdown(t *testing.T) {
	env := newRiskEnv(t)
	ks, _ := newKillSwitchUnderTest(env)

	stats := healthyStats("s1")
	stats.MaxDrawdown = 0.30
	event, err := ks.Evaluate(context.Background(), stats, nil)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, ConditionHardFailure, event.Condition)
}

func TestRelativeFailureAgainstPoolMedian(t *testing.T) {
	env := newRiskEnv(t)
	ks, _ := newKillSwitchUnderTest(env)

	stats := healthyStats("s1")
	stats.ROI = 0.02 // under half of the 0.10 pool median
	event, err := ks.Evaluate(context.Background(), stats, []float64{0.08, 0.10, 0.12})
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, ConditionRelativeFailure, event.Condition)
}

func TestRelativeFailureSkippedOnZeroMedian(t *testing.T) {
	env := newRiskEnv(t)
	ks, _ := newKillSwitchUnderTest(env)

	stats := healthyStats("s1")
	stats.ROI = 0.0
	event, err := ks.Evaluate(context.Background(), stats, []float64{-0.10, 0.0, 0.10})
	require.NoError(t, err)
	assert.Nil(t, event, "zero pool median gives no baseline")
}

func TestEntropyCollapse(t *testing.T) {
	env := newRiskEnv(t)
	ks, _ := newKillSwitchUnderTest(env)

	stats := healthyStats("s1")
	stats.Diversity = 0.1
	event, err := ks.Evaluate(context.Background(), stats, nil)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, ConditionEntropyCollapse, event.Condition)
}

func TestDisabledConditionsDoNotFire(t *testing.T) {
	env := newRiskEnv(t)
	env.cfg.KillSwitch.HardFailureEnabled = false
	env.cfg.KillSwitch.EntropyDecayEnabled = false
	ks, _ := newKillSwitchUnderTest(env)

	stats := healthyStats("s1")
	stats.ROI = -0.9
	stats.Diversity = 0
	event, err := ks.Evaluate(context.Background(), stats, nil)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestKillEmitsEventAndRecordsHistory(t *testing.T) {
	env := newRiskEnv(t)
	ks, _ := newKillSwitchUnderTest(env)
	ctx := context.Background()

	var killedEvents []*events.Event
	env.bus.Subscribe(events.StrategyKilled, func(_ context.Context, e *events.Event) {
		killedEvents = append(killedEvents, e)
	})

	stats := healthyStats("s1")
	stats.ROI = -0.10
	_, err := ks.Evaluate(ctx, stats, nil)
	require.NoError(t, err)

	require.Len(t, killedEvents, 1)
	assert.Equal(t, "s1", killedEvents[0].Subject)

	history, err := ks.KillHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "s1", history[0].StrategyID)
	assert.Equal(t, ConditionHardFailure, history[0].Condition)
}

func TestKillCeilingActivatesFallbackOnce(t *testing.T) {
	env := newRiskEnv(t)
	ks, fallbacks := newKillSwitchUnderTest(env)
	ctx := context.Background()

	var activated []*events.Event
	env.bus.Subscribe(events.FallbackActivated, func(_ context.Context, e *events.Event) {
		activated = append(activated, e)
	})

	for i := 0; i < 7; i++ {
		stats := healthyStats(string(rune('a' + i)))
		stats.ROI = -0.9
		_, err := ks.Evaluate(ctx, stats, nil)
		require.NoError(t, err)
	}

	// The fifth kill crosses the ceiling; the sixth and seventh land in
	// the same window and must not re-activate.
	require.Len(t, *fallbacks, 1)
	assert.Equal(t, "fallback-conservative", (*fallbacks)[0])
	assert.Len(t, activated, 1)
}
