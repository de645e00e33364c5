// watchdog/watchdog.go
//
// The watchdog is the independent safety net. It runs on its own ticker,
// never shares a goroutine with any decision cycle, and owns exactly two
// powers: engaging the kill switch and flattening all positions. Escalation
// fires once per failure episode; flatten retries touch only the symbols that
// have not been confirmed flat yet.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quantloop/breaker"
	"quantloop/config"
	"quantloop/engine"
	"quantloop/exchange"
	"quantloop/logs"
	"quantloop/notify"
	"quantloop/risk"
	"quantloop/telemetry"
)

// slowFactor flags a cycle as slow when one tick takes longer than this many
// tick intervals.
const slowFactor = 3

// CycleProbe is the read-only view of a decision cycle the watchdog needs.
type CycleProbe interface {
	Symbol() string
	Health() engine.Health
}

type Watchdog struct {
	cfg      *config.WatchdogConfig
	probes   []CycleProbe
	tickSecs map[string]int
	adapter  exchange.Adapter
	kill     *breaker.KillSwitch
	risk     *risk.Engine
	notifier notify.Notifier
	bus      *telemetry.Bus

	mu        sync.Mutex
	badPasses int
	escalated bool
	pending   map[string]bool
}

func New(cfg *config.WatchdogConfig, probes []CycleProbe, tickSecs map[string]int,
	adapter exchange.Adapter, kill *breaker.KillSwitch, riskEngine *risk.Engine,
	notifier notify.Notifier, bus *telemetry.Bus) *Watchdog {
	return &Watchdog{
		cfg:      cfg,
		probes:   probes,
		tickSecs: tickSecs,
		adapter:  adapter,
		kill:     kill,
		risk:     riskEngine,
		notifier: notifier,
		bus:      bus,
		pending:  make(map[string]bool),
	}
}

// Run executes watchdog passes until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	interval := time.Duration(w.cfg.IntervalSeconds) * time.Second
	logs.Infof("[Watchdog] started, pass interval %s, stall threshold %ds, escalation after %d bad passes",
		interval, w.cfg.StallAfterSeconds, w.cfg.FailurePasses)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logs.Info("[Watchdog] stopped")
			return
		case now := <-ticker.C:
			w.Pass(ctx, now)
		}
	}
}

// Pass runs one health evaluation. Exported so tests can drive the watchdog
// without real time.
func (w *Watchdog) Pass(ctx context.Context, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	problems := w.collectProblems(ctx, now)

	if len(problems) == 0 {
		w.badPasses = 0
		// An ended episode re-arms only after the operator has reset the
		// kill switch; until then further escalations are pointless.
		if w.escalated && !w.kill.Engaged() {
			w.escalated = false
			logs.Info("[Watchdog] failure episode cleared, escalation re-armed")
		}
		return
	}

	w.badPasses++
	for _, p := range problems {
		logs.Warnf("[Watchdog] unhealthy (pass %d/%d): %s", w.badPasses, w.cfg.FailurePasses, p)
	}
	if w.badPasses < w.cfg.FailurePasses {
		return
	}

	if !w.escalated {
		w.escalate(ctx, problems)
	}
	// Keep retrying the symbols that are not confirmed flat yet.
	if len(w.pending) > 0 {
		w.flattenPending(ctx)
	}
}

// collectProblems inspects the venue and every cycle. Slow ticks are warned
// about but do not count toward escalation.
func (w *Watchdog) collectProblems(ctx context.Context, now time.Time) []string {
	var problems []string

	if !w.adapter.Health(ctx) {
		problems = append(problems, "exchange adapter reports unhealthy")
	}

	stallAfter := time.Duration(w.cfg.StallAfterSeconds) * time.Second
	for _, probe := range w.probes {
		h := probe.Health()
		if h.State != engine.StateRunning {
			continue
		}
		if !h.LastTick.IsZero() && now.Sub(h.LastTick) > stallAfter {
			problems = append(problems, fmt.Sprintf("cycle %s stalled, last tick %s ago",
				h.Symbol, now.Sub(h.LastTick).Round(time.Second)))
		}
		if h.ConsecutiveErrors >= w.cfg.FailurePasses {
			problems = append(problems, fmt.Sprintf("cycle %s has %d consecutive errors",
				h.Symbol, h.ConsecutiveErrors))
		}
		if ts := w.tickSecs[h.Symbol]; ts > 0 && h.LastDurationMS > int64(ts)*1000*slowFactor {
			logs.Warnf("[Watchdog] cycle %s is slow: last tick took %dms against a %ds interval",
				h.Symbol, h.LastDurationMS, ts)
		}
	}
	return problems
}

// escalate starts the failure episode: kill switch, risk panic, one
// flatten-all. It runs at most once per episode.
func (w *Watchdog) escalate(ctx context.Context, problems []string) {
	w.escalated = true
	reason := fmt.Sprintf("watchdog escalation: %s", problems[0])
	logs.Errorf("[Watchdog] ESCALATING: %d problem(s), engaging kill switch and flattening all positions", len(problems))

	w.kill.Engage(reason)
	w.risk.TripPanic(risk.ReasonKillSwitch)
	for _, probe := range w.probes {
		w.pending[probe.Symbol()] = true
	}

	w.publishOps("escalation", "", reason)
	w.notifier.Notify(ctx, "watchdog escalation", reason)

	w.flattenPending(ctx)
}

// flattenPending closes every symbol still pending. Successes are marked flat
// in the risk book and removed; failures stay pending for the next pass.
// ClosePosition is a no-op on flat symbols, so retries are idempotent.
func (w *Watchdog) flattenPending(ctx context.Context) {
	for sym := range w.pending {
		if err := w.adapter.ClosePosition(ctx, sym); err != nil {
			logs.Errorf("[Watchdog] flatten %s failed, will retry: %v", sym, err)
			w.publishOps("flatten_retry", sym, err.Error())
			continue
		}
		w.risk.MarkFlat(sym)
		delete(w.pending, sym)
		logs.Warnf("[Watchdog] %s confirmed flat", sym)
	}
	if len(w.pending) == 0 {
		logs.Warn("[Watchdog] flatten-all complete, all symbols flat")
		w.publishOps("flatten_done", "", "all symbols flat")
		w.notifier.Notify(ctx, "flatten complete", "all positions closed")
	}
}

// PendingFlattens exposes the retry set size for status reporting.
func (w *Watchdog) PendingFlattens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Watchdog) publishOps(kind, symbol, message string) {
	if w.bus != nil {
		w.bus.Publish(telemetry.TopicOps, telemetry.OpsEvent{Kind: kind, Symbol: symbol, Message: message})
	}
}
