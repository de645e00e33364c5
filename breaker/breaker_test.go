package breaker

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKillSwitch_EngageResetCycle(t *testing.T) {
	k, err := NewKillSwitch(t.TempDir())
	require.NoError(t, err)
	require.False(t, k.Engaged())

	k.Engage("watchdog escalation")
	assert.True(t, k.Engaged())
	assert.Equal(t, "watchdog escalation", k.Reason())

	// Re-engaging keeps the original reason.
	k.Engage("second reason")
	assert.Equal(t, "watchdog escalation", k.Reason())

	k.Reset()
	assert.False(t, k.Engaged())
	assert.Empty(t, k.Reason())
}

func TestKillSwitch_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	k1, err := NewKillSwitch(dir)
	require.NoError(t, err)
	k1.Engage("exchange down")

	k2, err := NewKillSwitch(dir)
	require.NoError(t, err)
	assert.True(t, k2.Engaged())
	assert.Equal(t, "exchange down", k2.Reason())

	k2.Reset()
	k3, err := NewKillSwitch(dir)
	require.NoError(t, err)
	assert.False(t, k3.Engaged())
}

func TestDailyBreaker_TripsOnDrawdown(t *testing.T) {
	d := NewDailyBreaker(5.0)
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// First observation of the day sets the baseline.
	require.False(t, d.Observe(day, decimal.NewFromInt(10000)))
	require.False(t, d.Observe(day.Add(time.Hour), decimal.NewFromInt(9700)))

	assert.True(t, d.Observe(day.Add(2*time.Hour), decimal.NewFromInt(9400)))
	assert.True(t, d.Tripped())

	// Sticky within the day, even if equity recovers.
	assert.True(t, d.Observe(day.Add(3*time.Hour), decimal.NewFromInt(9900)))

	// UTC rollover starts a fresh baseline.
	assert.False(t, d.Observe(day.Add(24*time.Hour), decimal.NewFromInt(9900)))
	assert.False(t, d.Tripped())
}

func TestDailyBreaker_ZeroLimitDisables(t *testing.T) {
	d := NewDailyBreaker(0)
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	require.False(t, d.Observe(day, decimal.NewFromInt(10000)))
	assert.False(t, d.Observe(day.Add(time.Hour), decimal.NewFromInt(1)))
}

func TestDailyBreaker_OperatorReset(t *testing.T) {
	d := NewDailyBreaker(5.0)
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	d.Observe(day, decimal.NewFromInt(10000))
	require.True(t, d.Observe(day.Add(time.Hour), decimal.NewFromInt(9000)))

	d.Reset()
	assert.False(t, d.Tripped())
}
