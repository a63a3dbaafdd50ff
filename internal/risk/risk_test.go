package risk

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantfabric/riskcore/internal/config"
	"github.com/quantfabric/riskcore/internal/events"
	"github.com/quantfabric/riskcore/internal/metrics"
	"github.com/quantfabric/riskcore/internal/store"
)

type riskEnv struct {
	store      *store.MemoryStore
	bus        *events.Bus
	metrics    *metrics.Metrics
	cfg        config.RiskConfig
	quarantine *Quarantine
}

func newRiskEnv(t *testing.T) *riskEnv {
	t.Helper()
	st := store.NewMemoryStore()
	bus := events.NewBus(st, "")
	m := metrics.NewWith(prometheus.NewRegistry())
	return &riskEnv{
		store:      st,
		bus:        bus,
		metrics:    m,
		cfg:        config.Default().Risk,
		quarantine: NewQuarantine(st, bus, m),
	}
}
