// orchestrator.go
package main

import (
	"context"
	"sync"
	"time"

	"quantloop/breaker"
	"quantloop/config"
	"quantloop/engine"
	"quantloop/exchange"
	"quantloop/journal"
	"quantloop/logs"
	"quantloop/market"
	"quantloop/notify"
	"quantloop/risk"
	"quantloop/strategy"
	"quantloop/telemetry"
	"quantloop/veto"
	"quantloop/watchdog"
)

// Orchestrator owns the lifecycle of every per-symbol decision loop plus the
// watchdog and the portfolio aggregation loop. Each symbol runs on its own
// goroutine with its own ticker; the orchestrator only ever touches cycle
// state through the cycle's own synchronized accessors.
type Orchestrator struct {
	cfg        *config.Config
	bus        *telemetry.Bus
	riskEngine *risk.Engine
	kill       *breaker.KillSwitch
	daily      *breaker.DailyBreaker
	adapter    exchange.Adapter
	jnl        journal.Journal
	notifier   notify.Notifier
	source     market.Source
	wd         *watchdog.Watchdog

	cycles map[string]*engine.Cycle

	mu        sync.Mutex
	cancel    context.CancelFunc
	running   bool
	lastAgg   telemetry.PortfolioSnapshot
	wg        sync.WaitGroup
}

// NewOrchestrator wires the full engine from configuration. A nil scorer
// means the veto gate runs neutral; plugging a model in is a one-line change
// here.
func NewOrchestrator(cfg *config.Config, env *config.EnvConfig) (*Orchestrator, error) {
	riskEngine, err := risk.NewEngine(cfg.Risk, cfg.Symbols)
	if err != nil {
		return nil, err
	}
	kill, err := breaker.NewKillSwitch(cfg.Normal.StateDirectory)
	if err != nil {
		return nil, err
	}

	if !cfg.UsePaperTrading {
		logs.Warn("[Orchestrator] live trading is not wired in this build, forcing paper venue")
	}
	paper := exchange.NewPaperAdapter(cfg.Normal.StartingEquityUSD)

	sim := market.NewSimSource(time.Second)
	for sym := range cfg.Symbols {
		sim.Seed(sym, 100)
	}

	o := &Orchestrator{
		cfg:        cfg,
		bus:        telemetry.NewBus(cfg.Telemetry.RingSize, cfg.Telemetry.SubscriberBuffer),
		riskEngine: riskEngine,
		kill:       kill,
		daily:      breaker.NewDailyBreaker(cfg.Risk.DailyLossPct),
		adapter:    paper,
		jnl:        journal.Open(cfg.Normal.JournalDirectory),
		notifier:   notify.FromWebhookURL(env.OpsWebhookURL),
		source:     sim,
		cycles:     make(map[string]*engine.Cycle, len(cfg.Symbols)),
	}

	registry := strategy.NewRegistry()
	gate := veto.Select(nil, 0)
	timeout := time.Duration(cfg.Normal.ExchangeTimeoutSecond) * time.Second

	probes := make([]watchdog.CycleProbe, 0, len(cfg.Symbols))
	tickSecs := make(map[string]int, len(cfg.Symbols))
	for sym, sc := range cfg.Symbols {
		regimes := make(map[string]string, len(sc.RegimeStrategies))
		for regime, name := range sc.RegimeStrategies {
			regimes[regime] = cfg.ResolveStrategy(name)
		}
		c := engine.NewCycle(engine.Deps{
			Symbol:           sym,
			Config:           sc,
			Strategy:         cfg.ResolveStrategy(sc.Strategy),
			RegimeStrategies: regimes,
			Source:           o.source,
			Registry:         registry,
			Gate:             gate,
			Risk:             riskEngine,
			Kill:             kill,
			Daily:            o.daily,
			Adapter:          o.adapter,
			Journal:          o.jnl,
			Bus:              o.bus,
			Timeout:          timeout,
		})
		o.cycles[sym] = c
		probes = append(probes, c)
		tickSecs[sym] = sc.TickIntervalSeconds
	}

	o.wd = watchdog.New(cfg.Watchdog, probes, tickSecs, o.adapter, kill, riskEngine, o.notifier, o.bus)
	return o, nil
}

// StartAll launches every symbol loop, the watchdog and the aggregation loop.
func (o *Orchestrator) StartAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.running = true

	for sym, c := range o.cycles {
		c.SetState(engine.StateRunning)
		o.wg.Add(1)
		go o.runSymbol(ctx, sym, c)
	}
	o.wg.Add(2)
	go func() {
		defer o.wg.Done()
		o.wd.Run(ctx)
	}()
	go o.runAggregation(ctx)

	logs.Infof("[Orchestrator] started %d symbol loops", len(o.cycles))
}

// StopAll cancels every loop and waits for them to drain.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	logs.Info("[Orchestrator] stopping all loops...")
	cancel()
	o.wg.Wait()
	for _, c := range o.cycles {
		c.SetState(engine.StateStopped)
	}
	if err := o.jnl.Close(); err != nil {
		logs.Warnf("[Orchestrator] journal close failed: %v", err)
	}
	o.bus.Close()
	logs.Info("[Orchestrator] all loops stopped")
}

// Pause suspends one symbol's ticks without tearing its loop down. The loop
// keeps ticking its clock but skips decision passes, so TTL memory and health
// stay exactly where they were.
func (o *Orchestrator) Pause(symbol string) bool {
	c, ok := o.cycles[symbol]
	if !ok || c.Health().State != engine.StateRunning {
		return false
	}
	c.SetState(engine.StatePaused)
	logs.Infof("[Orchestrator] %s paused", symbol)
	return true
}

// Resume re-enables a paused symbol.
func (o *Orchestrator) Resume(symbol string) bool {
	c, ok := o.cycles[symbol]
	if !ok || c.Health().State != engine.StatePaused {
		return false
	}
	c.SetState(engine.StateRunning)
	logs.Infof("[Orchestrator] %s resumed", symbol)
	return true
}

// Status reports cached health for every symbol plus the last portfolio
// aggregate. It never blocks on a live venue call.
type Status struct {
	Cycles          map[string]engine.Health    `json:"cycles"`
	Portfolio       telemetry.PortfolioSnapshot `json:"portfolio"`
	KillSwitch      bool                        `json:"kill_switch"`
	KillReason      string                      `json:"kill_reason,omitempty"`
	PendingFlattens int                         `json:"pending_flattens"`
}

func (o *Orchestrator) Status() Status {
	s := Status{
		Cycles:          make(map[string]engine.Health, len(o.cycles)),
		KillSwitch:      o.kill.Engaged(),
		KillReason:      o.kill.Reason(),
		PendingFlattens: o.wd.PendingFlattens(),
	}
	for sym, c := range o.cycles {
		s.Cycles[sym] = c.Health()
	}
	o.mu.Lock()
	s.Portfolio = o.lastAgg
	o.mu.Unlock()
	return s
}

// runSymbol is one symbol's loop: tick on the configured interval while
// running, skip while paused, exit on cancellation or a cycle fault.
func (o *Orchestrator) runSymbol(ctx context.Context, symbol string, c *engine.Cycle) {
	defer o.wg.Done()
	interval := time.Duration(o.cfg.Symbols[symbol].TickIntervalSeconds) * time.Second
	logs.Infof("[Orchestrator] %s loop started, interval %s, strategy %s",
		symbol, interval, o.cfg.ResolveStrategy(o.cfg.Symbols[symbol].Strategy))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if c.Health().State != engine.StateRunning {
				continue
			}
			if err := c.Tick(ctx, now); err != nil {
				// The cycle already marked itself errored; leave the
				// goroutine so a poisoned symbol cannot keep trading.
				logs.Errorf("[Orchestrator] %s loop terminated: %v", symbol, err)
				return
			}
		}
	}
}

// runAggregation publishes a portfolio snapshot on a fixed cadence and caches
// it for Status.
func (o *Orchestrator) runAggregation(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(time.Duration(o.cfg.Watchdog.IntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := o.aggregate(ctx)
			o.mu.Lock()
			o.lastAgg = snap
			o.mu.Unlock()
			o.bus.Publish(telemetry.TopicPortfolio, snap)
		}
	}
}

func (o *Orchestrator) aggregate(ctx context.Context) telemetry.PortfolioSnapshot {
	rs := o.riskEngine.Snapshot()
	snap := telemetry.PortfolioSnapshot{
		Time:              time.Now().UTC(),
		PortfolioNotional: rs.PortfolioNotional,
		PerSymbolNotional: rs.PerSymbolNotional,
		Panic:             rs.Panic,
		KillSwitch:        o.kill.Engaged(),
	}
	account, err := o.adapter.Account(ctx)
	if err != nil {
		logs.Warnf("[Orchestrator] aggregation account fetch failed: %v", err)
		return snap
	}
	snap.EquityUSD = account.EquityUSD.InexactFloat64()
	snap.CashUSD = account.CashUSD.InexactFloat64()
	snap.RealizedPnL = account.RealizedPnL.InexactFloat64()
	return snap
}
