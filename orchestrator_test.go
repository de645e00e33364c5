package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantloop/config"
	"quantloop/engine"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Symbols = map[string]*config.SymbolConfig{
		"BTCUSDT": {
			Strategy:            "ma_crossover",
			RegimeDefault:       "trend",
			TickIntervalSeconds: 1,
			LookbackBars:        50,
			MaxNotionalUSD:      10000,
			MinIncrement:        0.0001,
		},
		"ETHUSDT": {
			Strategy:            "legacy_momo",
			RegimeDefault:       "trend",
			TickIntervalSeconds: 1,
			LookbackBars:        50,
			MaxNotionalUSD:      5000,
			MinIncrement:        0.001,
		},
	}
	cfg.StrategyAliases = map[string]string{"legacy_momo": "momentum_14"}
	cfg.Risk.PortfolioCapUSD = 20000
	cfg.Risk.TargetVol = 0.02
	cfg.Normal = &config.NormalConfig{
		LogDirectory:          t.TempDir(),
		StateDirectory:        t.TempDir(),
		JournalDirectory:      t.TempDir(),
		ExchangeTimeoutSecond: 2,
		StartingEquityUSD:     100000,
	}
	return cfg
}

func TestOrchestrator_LifecycleStateMachine(t *testing.T) {
	orch, err := NewOrchestrator(testConfig(t), &config.EnvConfig{})
	require.NoError(t, err)

	// Before start: everything stopped, pause is rejected.
	st := orch.Status()
	require.Len(t, st.Cycles, 2)
	for _, h := range st.Cycles {
		assert.Equal(t, engine.StateStopped, h.State)
	}
	assert.False(t, orch.Pause("BTCUSDT"))

	orch.StartAll()
	st = orch.Status()
	for _, h := range st.Cycles {
		assert.Equal(t, engine.StateRunning, h.State)
	}

	// running -> paused -> running, with invalid transitions rejected.
	assert.True(t, orch.Pause("BTCUSDT"))
	assert.False(t, orch.Pause("BTCUSDT"))
	assert.Equal(t, engine.StatePaused, orch.Status().Cycles["BTCUSDT"].State)
	assert.Equal(t, engine.StateRunning, orch.Status().Cycles["ETHUSDT"].State)

	assert.False(t, orch.Resume("ETHUSDT"), "resume of a running cycle is rejected")
	assert.True(t, orch.Resume("BTCUSDT"))
	assert.Equal(t, engine.StateRunning, orch.Status().Cycles["BTCUSDT"].State)

	assert.False(t, orch.Pause("DOGEUSDT"))
	assert.False(t, orch.Resume("DOGEUSDT"))

	orch.StopAll()
	st = orch.Status()
	for _, h := range st.Cycles {
		assert.Equal(t, engine.StateStopped, h.State)
	}
	orch.StopAll() // idempotent
}

func TestOrchestrator_TicksProduceDecisions(t *testing.T) {
	orch, err := NewOrchestrator(testConfig(t), &config.EnvConfig{})
	require.NoError(t, err)

	orch.StartAll()
	time.Sleep(2500 * time.Millisecond)
	orch.StopAll()

	st := orch.Status()
	for sym, h := range st.Cycles {
		assert.False(t, h.LastTick.IsZero(), "%s never ticked", sym)
		assert.Equal(t, 0, h.ConsecutiveErrors, "%s accumulated errors", sym)
	}
	assert.False(t, st.KillSwitch)
}
