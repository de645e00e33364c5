// engine/cycle.go
//
// Cycle is the per-symbol decision loop body: one Tick turns the latest
// market window into at most one order, passing through the TTL memory, the
// model veto gate, the circuit breakers and the risk engine, then journals
// and publishes what happened. Each Cycle is owned by exactly one goroutine;
// only the health snapshot is read from outside.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quantloop/breaker"
	"quantloop/config"
	"quantloop/exchange"
	"quantloop/journal"
	"quantloop/logs"
	"quantloop/market"
	"quantloop/risk"
	"quantloop/signal"
	"quantloop/strategy"
	"quantloop/telemetry"
	"quantloop/veto"
)

// Cycle lifecycle states.
const (
	StateStopped = "stopped"
	StateRunning = "running"
	StatePaused  = "paused"
	StateErrored = "errored"
)

// Health is the externally visible state of one cycle. The watchdog reads it
// to detect stalls; the orchestrator reads it for status reports.
type Health struct {
	Symbol            string    `json:"symbol"`
	State             string    `json:"state"`
	LastTick          time.Time `json:"last_tick"`
	LastDurationMS    int64     `json:"last_duration_ms"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
}

// priceMarker is implemented by venues that need the latest reference price
// pushed to them (the paper venue does; a live venue has its own feed).
type priceMarker interface {
	MarkPrice(symbol string, price decimal.Decimal)
}

// Deps bundles everything a cycle needs. All fields are required except
// Journal, Bus and RegimeStrategies, which default to no-ops.
type Deps struct {
	Symbol string
	Config *config.SymbolConfig
	// Strategy is the canonical default strategy name, aliases already
	// resolved; RegimeStrategies maps regime labels to canonical names and
	// wins when the current regime has an entry.
	Strategy         string
	RegimeStrategies map[string]string
	Source           market.Source
	Registry         *strategy.Registry
	Gate     veto.Gate
	Risk     *risk.Engine
	Kill     *breaker.KillSwitch
	Daily    *breaker.DailyBreaker
	Adapter  exchange.Adapter
	Journal  journal.Journal
	Bus      *telemetry.Bus
	Timeout  time.Duration
}

type Cycle struct {
	symbol    string
	cfg       *config.SymbolConfig
	registry  *strategy.Registry
	defName   string
	regimeMap map[string]string
	source    market.Source
	gate    veto.Gate
	risk    *risk.Engine
	kill    *breaker.KillSwitch
	daily   *breaker.DailyBreaker
	adapter exchange.Adapter
	jnl     journal.Journal
	bus     *telemetry.Bus
	mem     *signal.Memory
	timeout time.Duration

	mu     sync.Mutex
	health Health
}

func NewCycle(d Deps) *Cycle {
	jnl := d.Journal
	if jnl == nil {
		jnl = journal.NullJournal{}
	}
	return &Cycle{
		symbol:    d.Symbol,
		cfg:       d.Config,
		registry:  d.Registry,
		defName:   d.Strategy,
		regimeMap: d.RegimeStrategies,
		source:    d.Source,
		gate:    d.Gate,
		risk:    d.Risk,
		kill:    d.Kill,
		daily:   d.Daily,
		adapter: d.Adapter,
		jnl:     jnl,
		bus:     d.Bus,
		mem:     signal.NewMemory(),
		timeout: d.Timeout,
		health:  Health{Symbol: d.Symbol, State: StateStopped},
	}
}

// Health returns a copy of the current health snapshot.
func (c *Cycle) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// SetState transitions the lifecycle state. The orchestrator is the only
// caller besides the cycle's own fault path.
func (c *Cycle) SetState(state string) {
	c.mu.Lock()
	c.health.State = state
	c.mu.Unlock()
}

func (c *Cycle) Symbol() string { return c.symbol }

// Tick runs one full decision pass. It returns an error only for faults that
// must stop this symbol's loop (risk engine faults); everything transient is
// absorbed into consecutive_errors.
func (c *Cycle) Tick(ctx context.Context, now time.Time) error {
	started := time.Now()
	cid := uuid.New().String()

	regime := c.cfg.RegimeDefault
	strat := c.strategyFor(regime)

	dec := journal.Decision{
		Timestamp: now.UTC(),
		CID:       cid,
		Symbol:    c.symbol,
		Regime:    regime,
		Strategy:  strat.Name(),
		FinalSide: string(signal.Hold),
		FinalSize: "0",
	}
	snap := telemetry.CycleSnapshot{
		Symbol:   c.symbol,
		CID:      cid,
		TickTime: now.UTC(),
		Side:     string(signal.Hold),
	}

	// 1. Market data. An unavailable window is a no-op tick: no decision is
	// journaled, consecutive_errors grows, and the loop carries on. Only the
	// watchdog decides when a run of these becomes an incident.
	window, err := c.source.FetchWindow(c.symbol, c.cfg.LookbackBars, now)
	if err != nil {
		if errors.Is(err, market.ErrDataUnavailable) {
			logs.Debugf("[Cycle:%s] cid=%s no market data, skipping tick", c.symbol, cid)
		} else {
			logs.Warnf("[Cycle:%s] cid=%s market fetch failed: %v", c.symbol, cid, err)
		}
		c.finishTick(started, true, &snap)
		return nil
	}
	last, ok := window.Last()
	if !ok {
		logs.Warnf("[Cycle:%s] cid=%s source returned an empty window", c.symbol, cid)
		c.finishTick(started, true, &snap)
		return nil
	}
	refPrice := decimal.NewFromFloat(last.Close)
	dec.RefPrice = refPrice.String()
	if pm, ok := c.adapter.(priceMarker); ok {
		pm.MarkPrice(c.symbol, refPrice)
	}

	// 2. Feed the realized-vol estimator before sizing so this tick's scale
	// reflects this tick's window.
	c.risk.ObserveWindow(c.symbol, window.Closes())

	// 3. Fresh signal, already normalized by the strategy boundary.
	fresh := strat.Generate(c.symbol, window, regime)
	dec.RawSide = string(fresh.Side)
	dec.RawStrength = fresh.Strength

	// 4. TTL memory: a fresh HOLD may be substituted by a decaying stored
	// signal; a fresh actionable signal resets the memory.
	effective, substituted := c.mem.Resolve(fresh)
	dec.Substituted = substituted
	dec.TTLLeft = c.mem.TTLRemaining()
	snap.Substituted = substituted
	snap.TTLLeft = dec.TTLLeft
	snap.Side = string(effective.Side)
	snap.Strength = effective.Strength

	// 5. Model veto gate.
	if effective.Actionable() {
		verdict := c.gate.Evaluate(effective, c.features(window))
		if !verdict.Allow {
			dec.VetoML = true
			dec.VetoReason = verdict.Reason
			snap.VetoML = true
			snap.VetoReason = verdict.Reason
			effective = signal.HoldSignal()
		} else if verdict.Scale < 1.0 {
			effective.Strength *= verdict.Scale
		}
	}

	// 6. Circuit breakers block new entries outright.
	account, accErr := c.adapter.Account(ctx)
	if accErr != nil {
		logs.Warnf("[Cycle:%s] cid=%s account fetch failed: %v", c.symbol, cid, accErr)
		c.finishTick(started, true, &snap)
		return nil
	}
	if effective.Actionable() {
		if c.kill.Engaged() {
			dec.VetoRisk = true
			dec.VetoReason = risk.ReasonKillSwitch
			snap.VetoRisk = true
			snap.VetoReason = dec.VetoReason
			effective = signal.HoldSignal()
		} else if c.daily.Observe(now, account.EquityUSD) {
			dec.VetoRisk = true
			dec.VetoReason = risk.ReasonDailyLoss
			snap.VetoRisk = true
			snap.VetoReason = dec.VetoReason
			effective = signal.HoldSignal()
		}
	}

	// 7. Risk sizing. A fault here is fatal for this symbol only.
	sized, err := c.risk.ComputeSize(c.symbol, effective, account.EquityUSD, refPrice)
	if err != nil {
		c.mu.Lock()
		c.health.State = StateErrored
		c.mu.Unlock()
		logs.Errorf("[Cycle:%s] cid=%s risk engine fault, stopping symbol: %v", c.symbol, cid, err)
		return fmt.Errorf("cycle %s: %w", c.symbol, err)
	}
	dec.VolScale = sized.VolScale
	if sized.Vetoed {
		dec.VetoRisk = true
		dec.VetoReason = sized.Reason
		snap.VetoRisk = true
		snap.VetoReason = sized.Reason
	}
	snap.SizeUSD = sized.Size.InexactFloat64()
	dec.FinalSize = sized.Size.String()

	// 8. Execution. A risk-clipped decision still trades its reduced size;
	// only a zero size means no order.
	execFailed := false
	if !sized.Quantity.IsZero() {
		dec.FinalSide = string(effective.Side)
		snap.Side = string(effective.Side)
		octx, cancel := context.WithTimeout(ctx, c.timeout)
		fill, err := c.adapter.PlaceOrder(octx, c.symbol, effective.Side, sized.Quantity.Abs())
		cancel()
		if err != nil {
			// Exposure is untouched on failure; the book only moves on fills.
			execFailed = true
			dec.OrderError = err.Error()
			logs.Warnf("[Cycle:%s] cid=%s order failed: %v", c.symbol, cid, err)
		} else {
			signedNotional := fill.Notional
			if effective.Side == signal.Sell {
				signedNotional = signedNotional.Neg()
			}
			c.risk.Commit(c.symbol, signedNotional)
			dec.FillPrice = fill.Price.String()
			dec.FillQty = fill.Quantity.String()
			dec.OrderID = fill.OrderID
			snap.Filled = true
			logs.Infof("[Cycle:%s] cid=%s %s %s %s @ %s (notional %s)",
				c.symbol, cid, effective.Side, fill.Quantity, c.symbol,
				fill.Price.StringFixed(4), fill.Notional.StringFixed(2))
		}
	}

	// 9. Journal and publish. Journal failures are logged, never escalated.
	dec.DurationMS = time.Since(started).Milliseconds()
	if err := c.jnl.Append(dec); err != nil {
		logs.Warnf("[Cycle:%s] cid=%s journal append failed: %v", c.symbol, cid, err)
	}
	c.finishTick(started, execFailed, &snap)
	return nil
}

// strategyFor picks the strategy for a regime. Regimes without a mapping fall
// back to the symbol's default; unknown names degrade to the null strategy
// inside the registry, so a bad label can never fail a tick.
func (c *Cycle) strategyFor(regime string) strategy.Source {
	if name, ok := c.regimeMap[regime]; ok {
		return c.registry.Lookup(name)
	}
	return c.registry.Lookup(c.defName)
}

// features builds the gate's feature vector from the window. Deployments with
// richer feature pipelines replace this at the Scorer boundary.
func (c *Cycle) features(window market.Window) veto.Features {
	closes := window.Closes()
	f := veto.Features{"bars": float64(len(closes))}
	if len(closes) >= 2 && closes[len(closes)-2] != 0 {
		f["last_return"] = closes[len(closes)-1]/closes[len(closes)-2] - 1
	}
	return f
}

// finishTick updates the health snapshot and publishes the cycle event.
func (c *Cycle) finishTick(started time.Time, failed bool, snap *telemetry.CycleSnapshot) {
	dur := time.Since(started)

	c.mu.Lock()
	c.health.LastTick = time.Now().UTC()
	c.health.LastDurationMS = dur.Milliseconds()
	if failed {
		c.health.ConsecutiveErrors++
	} else {
		c.health.ConsecutiveErrors = 0
	}
	snap.ConsecutiveErrors = c.health.ConsecutiveErrors
	snap.State = c.health.State
	c.mu.Unlock()

	snap.DurationMS = dur.Milliseconds()
	if c.bus != nil {
		c.bus.Publish(telemetry.TopicCycle, *snap)
	}
}
