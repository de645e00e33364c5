package watchdog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantloop/breaker"
	"quantloop/config"
	"quantloop/engine"
	"quantloop/exchange"
	"quantloop/notify"
	"quantloop/risk"
	"quantloop/signal"
	"quantloop/telemetry"
)

// fakeVenue counts close calls and lets tests script close failures.
type fakeVenue struct {
	mu         sync.Mutex
	healthy    bool
	closeCalls map[string]int
	failClose  map[string]int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		healthy:    true,
		closeCalls: make(map[string]int),
		failClose:  make(map[string]int),
	}
}

func (f *fakeVenue) PlaceOrder(context.Context, string, signal.Side, decimal.Decimal) (exchange.Fill, error) {
	return exchange.Fill{}, nil
}

func (f *fakeVenue) Account(context.Context) (exchange.Account, error) {
	return exchange.Account{}, nil
}

func (f *fakeVenue) Positions(context.Context) ([]exchange.Position, error) {
	return nil, nil
}

func (f *fakeVenue) ClosePosition(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls[symbol]++
	if f.failClose[symbol] > 0 {
		f.failClose[symbol]--
		return fmt.Errorf("%w: venue rejected close", exchange.ErrExecutionFailed)
	}
	return nil
}

func (f *fakeVenue) Health(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeVenue) setHealthy(ok bool) {
	f.mu.Lock()
	f.healthy = ok
	f.mu.Unlock()
}

func (f *fakeVenue) closes(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls[symbol]
}

// fakeProbe reports a scripted health snapshot.
type fakeProbe struct {
	mu sync.Mutex
	h  engine.Health
}

func (p *fakeProbe) Symbol() string { return p.h.Symbol }

func (p *fakeProbe) Health() engine.Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h
}

func (p *fakeProbe) set(h engine.Health) {
	p.mu.Lock()
	p.h = h
	p.mu.Unlock()
}

type wdFixture struct {
	wd    *Watchdog
	venue *fakeVenue
	kill  *breaker.KillSwitch
	risk  *risk.Engine
	btc   *fakeProbe
	eth   *fakeProbe
}

func newWdFixture(t *testing.T) *wdFixture {
	t.Helper()
	kill, err := breaker.NewKillSwitch(t.TempDir())
	require.NoError(t, err)

	symbols := map[string]*config.SymbolConfig{
		"BTCUSDT": {MaxNotionalUSD: 10000, MinIncrement: 0.0001, TickIntervalSeconds: 1},
		"ETHUSDT": {MaxNotionalUSD: 10000, MinIncrement: 0.0001, TickIntervalSeconds: 1},
	}
	riskEngine, err := risk.NewEngine(&config.RiskConfig{
		PortfolioCapUSD: 50000,
		TargetVol:       0.02,
		MinScale:        0.5,
		MaxScale:        2,
		ShockMultiplier: 4,
		VolWindowBars:   20,
		BaseFraction:    1,
	}, symbols)
	require.NoError(t, err)

	now := time.Now()
	btc := &fakeProbe{h: engine.Health{Symbol: "BTCUSDT", State: engine.StateRunning, LastTick: now}}
	eth := &fakeProbe{h: engine.Health{Symbol: "ETHUSDT", State: engine.StateRunning, LastTick: now}}
	venue := newFakeVenue()
	bus := telemetry.NewBus(100, 16)
	t.Cleanup(bus.Close)

	cfg := &config.WatchdogConfig{IntervalSeconds: 1, StallAfterSeconds: 30, FailurePasses: 2}
	wd := New(cfg, []CycleProbe{btc, eth}, map[string]int{"BTCUSDT": 1, "ETHUSDT": 1},
		venue, kill, riskEngine, notify.LogNotifier{}, bus)
	return &wdFixture{wd: wd, venue: venue, kill: kill, risk: riskEngine, btc: btc, eth: eth}
}

func TestWatchdog_EscalatesAfterSustainedFailures(t *testing.T) {
	f := newWdFixture(t)
	ctx := context.Background()
	f.venue.setHealthy(false)

	// One bad pass is below the threshold.
	f.wd.Pass(ctx, time.Now())
	assert.False(t, f.kill.Engaged())
	assert.Zero(t, f.venue.closes("BTCUSDT"))

	// The second bad pass escalates: kill switch, panic, flatten-all.
	f.wd.Pass(ctx, time.Now())
	assert.True(t, f.kill.Engaged())
	assert.True(t, f.risk.InPanic())
	assert.Equal(t, 1, f.venue.closes("BTCUSDT"))
	assert.Equal(t, 1, f.venue.closes("ETHUSDT"))
	assert.Zero(t, f.wd.PendingFlattens())
}

func TestWatchdog_FlattensOncePerEpisode(t *testing.T) {
	f := newWdFixture(t)
	ctx := context.Background()
	f.venue.setHealthy(false)

	for i := 0; i < 6; i++ {
		f.wd.Pass(ctx, time.Now())
	}

	// Many bad passes, exactly one flatten per symbol.
	assert.Equal(t, 1, f.venue.closes("BTCUSDT"))
	assert.Equal(t, 1, f.venue.closes("ETHUSDT"))
}

func TestWatchdog_RetriesOnlyFailedSymbols(t *testing.T) {
	f := newWdFixture(t)
	ctx := context.Background()
	f.venue.setHealthy(false)
	f.venue.failClose["ETHUSDT"] = 1

	f.wd.Pass(ctx, time.Now())
	f.wd.Pass(ctx, time.Now()) // escalates; ETH close fails once
	assert.Equal(t, 1, f.wd.PendingFlattens())

	f.wd.Pass(ctx, time.Now()) // retry pass
	assert.Zero(t, f.wd.PendingFlattens())
	assert.Equal(t, 1, f.venue.closes("BTCUSDT"), "healthy close must not be retried")
	assert.Equal(t, 2, f.venue.closes("ETHUSDT"))
}

func TestWatchdog_ReArmsAfterOperatorReset(t *testing.T) {
	f := newWdFixture(t)
	ctx := context.Background()
	f.venue.setHealthy(false)
	f.wd.Pass(ctx, time.Now())
	f.wd.Pass(ctx, time.Now())
	require.True(t, f.kill.Engaged())

	// Recovery alone does not re-arm while the kill switch is still up.
	f.venue.setHealthy(true)
	f.wd.Pass(ctx, time.Now())
	f.kill.Reset()
	f.wd.Pass(ctx, time.Now())

	// A new episode escalates again.
	f.venue.setHealthy(false)
	f.wd.Pass(ctx, time.Now())
	f.wd.Pass(ctx, time.Now())
	assert.True(t, f.kill.Engaged())
	assert.Equal(t, 2, f.venue.closes("BTCUSDT"))
}

func TestWatchdog_DetectsStalledCycle(t *testing.T) {
	f := newWdFixture(t)
	ctx := context.Background()
	now := time.Now()

	f.btc.set(engine.Health{
		Symbol:   "BTCUSDT",
		State:    engine.StateRunning,
		LastTick: now.Add(-2 * time.Minute),
	})

	f.wd.Pass(ctx, now)
	require.False(t, f.kill.Engaged())
	f.wd.Pass(ctx, now)
	assert.True(t, f.kill.Engaged())
}

func TestWatchdog_IgnoresPausedCycles(t *testing.T) {
	f := newWdFixture(t)
	ctx := context.Background()
	now := time.Now()

	// A paused cycle legitimately stops ticking; that is not a stall.
	f.btc.set(engine.Health{
		Symbol:   "BTCUSDT",
		State:    engine.StatePaused,
		LastTick: now.Add(-10 * time.Minute),
	})

	for i := 0; i < 4; i++ {
		f.wd.Pass(ctx, now)
	}
	assert.False(t, f.kill.Engaged())
}

func TestWatchdog_ErrorStreakCounts(t *testing.T) {
	f := newWdFixture(t)
	ctx := context.Background()
	now := time.Now()

	f.eth.set(engine.Health{
		Symbol:            "ETHUSDT",
		State:             engine.StateRunning,
		LastTick:          now,
		ConsecutiveErrors: 5,
	})

	f.wd.Pass(ctx, now)
	f.wd.Pass(ctx, now)
	assert.True(t, f.kill.Engaged())
	assert.True(t, f.risk.InPanic())
}
