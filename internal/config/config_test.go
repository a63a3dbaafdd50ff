package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 50.0, cfg.Trust.DefaultScore)
	assert.Equal(t, 30.0, cfg.Trust.Decay.Floor)
	assert.Equal(t, 60, cfg.Governance.RuleCacheSeconds)
}

func TestPartialFileOverridesOnlyNamedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riskcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
trust:
  decay:
    base_daily_rate: 2.5
risk:
  drawdown:
    threshold_pct: 20
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.Trust.Decay.BaseDailyRate)
	assert.Equal(t, 20.0, cfg.Risk.Drawdown.ThresholdPct)
	// Untouched defaults survive.
	assert.Equal(t, 30.0, cfg.Trust.Decay.Floor)
	assert.Equal(t, "pause", cfg.Risk.Drawdown.Action)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"score out of range", func(c *Config) { c.Trust.DefaultScore = 150 }},
		{"inverted health bands", func(c *Config) { c.Trust.Health.CriticalBelow = 40 }},
		{"negative decay rate", func(c *Config) { c.Trust.Decay.BaseDailyRate = -1 }},
		{"zero slash penalty", func(c *Config) { c.Trust.Slashing.MinorPenalty = 0 }},
		{"unknown breaker action", func(c *Config) { c.Risk.Drawdown.Action = "explode" }},
		{"zero sigma", func(c *Config) { c.Risk.Anomaly.SigmaThreshold = 0 }},
		{"one-sample anomaly window", func(c *Config) { c.Risk.Anomaly.MinSamples = 1 }},
		{"zero kill ceiling", func(c *Config) { c.Risk.KillSwitch.RecentKillCeiling = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/riskcore.yaml")
	assert.Error(t, err)
}
