package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:test.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "file:test.db", cfg.DatabaseURL)
	assert.Equal(t, "./oems", cfg.OEMConfigDir)
	assert.Equal(t, 60*time.Second, cfg.SchedulerTick)
	assert.Equal(t, 8, cfg.GlobalConcurrency)
	assert.Equal(t, 2, cfg.PerHostConcurrency)
	assert.Equal(t, 4, cfg.RendererMaxSessions)
	assert.Empty(t, cfg.LLMSpendCapsUSD)
}

func TestLoad_OverridesFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:test.db")
	t.Setenv("SCHEDULER_TICK", "30s")
	t.Setenv("GLOBAL_CONCURRENCY", "16")
	t.Setenv("LLM_SPEND_CAPS", "openrouter/gpt-4o-mini=50,anthropic/claude-3-haiku=25.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.SchedulerTick)
	assert.Equal(t, 16, cfg.GlobalConcurrency)
	assert.Equal(t, 50.0, cfg.LLMSpendCapsUSD["openrouter/gpt-4o-mini"])
	assert.Equal(t, 25.5, cfg.LLMSpendCapsUSD["anthropic/claude-3-haiku"])
}

func TestGetEnvSpendCaps_IgnoresMalformedEntries(t *testing.T) {
	t.Setenv("TEST_SPEND_CAPS", "good/model=10,no-equals-sign,bad/model=notanumber")
	caps := getEnvSpendCaps("TEST_SPEND_CAPS")
	assert.Equal(t, map[string]float64{"good/model": 10}, caps)
}
