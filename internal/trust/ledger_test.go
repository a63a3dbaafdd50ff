package trust

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/riskcore/internal/config"
	"github.com/quantfabric/riskcore/internal/events"
	"github.com/quantfabric/riskcore/internal/metrics"
	"github.com/quantfabric/riskcore/internal/store"
)

type testEnv struct {
	store  *store.MemoryStore
	bus    *events.Bus
	ledger *Ledger
	decay  *DecayEngine
	health *HealthController
	cfg    config.TrustConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default().Trust
	st := store.NewMemoryStore()
	bus := events.NewBus(st, "")
	m := metrics.NewWith(prometheus.NewRegistry())
	ledger := NewLedger(st, bus, m, cfg)
	return &testEnv{
		store:  st,
		bus:    bus,
		ledger: ledger,
		decay:  NewDecayEngine(ledger, st, bus, m, cfg),
		health: NewHealthController(ledger, bus, cfg.Health),
		cfg:    cfg,
	}
}

func TestGetScoreDefaultsForUnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	score, err := env.ledger.GetScore(ctx, "agent-new")
	require.NoError(t, err)
	assert.Equal(t, 50.0, score)

	// A read must not register the agent.
	agents, err := env.ledger.Agents(ctx)
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestAdjustClampsAtBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	before, after, err := env.ledger.Adjust(ctx, "agent-1", 75)
	require.NoError(t, err)
	assert.Equal(t, 50.0, before)
	assert.Equal(t, 100.0, after)

	_, after, err = env.ledger.Adjust(ctx, "agent-1", -250)
	require.NoError(t, err)
	assert.Equal(t, 0.0, after)

	// The stored value must match the clamped value, not the raw sum.
	score, err := env.ledger.GetScore(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestConcurrentAdjustsAreDeltaBased(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := env.ledger.Adjust(ctx, "agent-1", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	score, err := env.ledger.GetScore(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 70.0, score, "every writer's delta must land")
}

func TestDeriveModeBoundaries(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, ModeCritical, env.ledger.DeriveMode(0))
	assert.Equal(t, ModeCritical, env.ledger.DeriveMode(14.9))
	assert.Equal(t, ModeSelfHealing, env.ledger.DeriveMode(15))
	assert.Equal(t, ModeSelfHealing, env.ledger.DeriveMode(34.9))
	assert.Equal(t, ModeNormal, env.ledger.DeriveMode(35))
	assert.Equal(t, ModeNormal, env.ledger.DeriveMode(100))
}

func TestAdjustOpensHealingEpisode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, after, err := env.ledger.Adjust(ctx, "agent-1", -30)
	require.NoError(t, err)
	assert.Equal(t, 20.0, after)

	state, err := env.ledger.GetState(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, ModeSelfHealing, state.Mode)
	assert.False(t, state.EnteredSelfHealingAt.IsZero(), "healing episode should open")
	assert.Equal(t, 0, state.HealingSuccesses)
}

func TestModeChangeEmitsEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var got []*events.Event
	env.bus.Subscribe(events.TrustModeChanged, func(_ context.Context, e *events.Event) {
		got = append(got, e)
	})

	_, _, err := env.ledger.Adjust(ctx, "agent-1", -30) // 50 -> 20
	require.NoError(t, err)
	_, _, err = env.ledger.Adjust(ctx, "agent-1", -2) // 20 -> 18, same mode
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "agent-1", got[0].Subject)
	assert.Equal(t, "NORMAL", got[0].Data["from"])
	assert.Equal(t, "SELF_HEALING", got[0].Data["to"])
}

func TestSetScoreClearsHealingMetaOnHealthyScore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.ledger.Adjust(ctx, "agent-1", -30) // opens episode at 20
	require.NoError(t, err)

	require.NoError(t, env.ledger.SetScore(ctx, "agent-1", 60))

	state, err := env.ledger.GetState(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, ModeNormal, state.Mode)
	assert.True(t, state.EnteredSelfHealingAt.IsZero(), "manual healthy override should close the episode")
}

func TestGetScoreServesCacheWhenStoreFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.ledger.Adjust(ctx, "agent-1", 10) // caches 60
	require.NoError(t, err)

	failing := &failingStore{Store: env.store}
	ledger := env.ledger
	ledger.store = failing

	score, err := ledger.GetScore(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 60.0, score)

	// Unknown agents degrade to the default score.
	score, err = ledger.GetScore(ctx, "agent-unknown")
	require.NoError(t, err)
	assert.Equal(t, 50.0, score)
}

func TestFirstTouchSeedDoesNotOverwriteConcurrentDelta(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A rival writer lands a slash in the window between this ledger
	// deciding the agent is new and it writing the seed value.
	racing := &seedRacingStore{Store: env.store}
	racing.during = func() {
		rival := NewLedger(env.store, env.bus, metrics.NewWith(prometheus.NewRegistry()), env.cfg)
		_, _, err := rival.Adjust(ctx, "agent-1", -30) // 50 -> 20
		require.NoError(t, err)
	}

	ledger := NewLedger(racing, env.bus, metrics.NewWith(prometheus.NewRegistry()), env.cfg)
	_, after, err := ledger.Adjust(ctx, "agent-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 25.0, after, "the rival's slash must survive the seed")

	score, err := ledger.GetScore(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 25.0, score)
}

// failingStore fails every read while delegating everything else.
type failingStore struct {
	store.Store
}

func (f *failingStore) Get(ctx context.Context, key string) (string, error) {
	return "", store.ErrUnavailable
}

// seedRacingStore runs a hook once, in the middle of the first seed attempt,
// before delegating to the wrapped store.
type seedRacingStore struct {
	store.Store
	once   sync.Once
	during func()
}

func (s *seedRacingStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.once.Do(s.during)
	return s.Store.SetNX(ctx, key, value, ttl)
}
