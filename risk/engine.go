// risk/engine.go
package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"quantloop/config"
	"quantloop/logs"
	"quantloop/signal"
)

// ErrEngineFault marks a programming or configuration error inside the risk
// engine (a missing or negative cap). It is fatal for the calling symbol's
// cycle, never for the whole process.
var ErrEngineFault = errors.New("risk engine fault")

// Decision is the engine's answer for one sizing request.
//
// Size and Quantity are signed: positive for BUY, negative for SELL. Vetoed
// means the risk engine intervened; a vetoed decision can still carry a
// non-zero Size when the engine clipped the request to the remaining headroom
// instead of rejecting it outright.
type Decision struct {
	Size     decimal.Decimal // notional USD after all caps and rounding
	Quantity decimal.Decimal // instrument quantity, rounded down to the increment
	Vetoed   bool
	Reason   string
	VolScale float64
}

type symbolLimits struct {
	cap decimal.Decimal // max absolute notional USD
	inc decimal.Decimal // minimum tradable quantity increment
}

// volEstimator keeps a short realized-volatility history for one symbol so the
// engine can both scale sizes and detect volatility shocks.
type volEstimator struct {
	current float64
	history []float64
	window  int
}

func (v *volEstimator) observe(vol float64) {
	v.current = vol
	v.history = append(v.history, vol)
	if len(v.history) > v.window {
		v.history = v.history[len(v.history)-v.window:]
	}
}

func (v *volEstimator) baseline() float64 {
	if len(v.history) < 3 {
		return 0
	}
	// Baseline excludes the newest observation so a shock cannot hide inside
	// its own average.
	sum := 0.0
	for _, h := range v.history[:len(v.history)-1] {
		sum += h
	}
	return sum / float64(len(v.history)-1)
}

// Engine owns all shared exposure state. Every public method takes the single
// engine mutex, so per-symbol cycles running on their own goroutines observe a
// consistent portfolio at all times.
type Engine struct {
	mu sync.Mutex

	limits       map[string]symbolLimits
	portfolioCap decimal.Decimal
	baseFraction decimal.Decimal

	targetVol  float64
	minScale   float64
	maxScale   float64
	shockMult  float64
	volWindow  int

	exposure  map[string]decimal.Decimal // signed notional USD per symbol
	portfolio decimal.Decimal            // sum of absolute per-symbol notionals
	vols      map[string]*volEstimator

	panicMode   bool
	panicReason string
}

// NewEngine builds the engine from the risk block and the per-symbol limits.
// Caps are validated here so that ComputeSize can treat a missing entry as a
// hard fault rather than silently trading uncapped.
func NewEngine(rc *config.RiskConfig, symbols map[string]*config.SymbolConfig) (*Engine, error) {
	if rc == nil {
		return nil, fmt.Errorf("%w: risk configuration is nil", ErrEngineFault)
	}
	e := &Engine{
		limits:       make(map[string]symbolLimits, len(symbols)),
		portfolioCap: decimal.NewFromFloat(rc.PortfolioCapUSD),
		baseFraction: decimal.NewFromFloat(rc.BaseFraction),
		targetVol:    rc.TargetVol,
		minScale:     rc.MinScale,
		maxScale:     rc.MaxScale,
		shockMult:    rc.ShockMultiplier,
		volWindow:    rc.VolWindowBars,
		exposure:     make(map[string]decimal.Decimal, len(symbols)),
		vols:         make(map[string]*volEstimator, len(symbols)),
	}
	if !e.portfolioCap.IsPositive() {
		return nil, fmt.Errorf("%w: portfolio cap must be positive, got %s", ErrEngineFault, e.portfolioCap)
	}
	for sym, sc := range symbols {
		cap := decimal.NewFromFloat(sc.MaxNotionalUSD)
		inc := decimal.NewFromFloat(sc.MinIncrement)
		if !cap.IsPositive() || !inc.IsPositive() {
			return nil, fmt.Errorf("%w: symbol %s has non-positive cap or increment", ErrEngineFault, sym)
		}
		e.limits[sym] = symbolLimits{cap: cap, inc: inc}
		e.exposure[sym] = decimal.Zero
		e.vols[sym] = &volEstimator{window: rc.VolWindowBars}
	}
	return e, nil
}

// ComputeSize turns an effective signal into a sized, capped order intent.
// refPrice is the reference price used to translate notional into quantity;
// equity is the current account equity.
//
// All reads and writes of shared exposure state happen inside this one
// critical section. The exposure itself is NOT mutated here: a decision is a
// quote, and only Commit (called after a confirmed fill) moves exposure.
func (e *Engine) ComputeSize(symbol string, sig signal.Signal, equity, refPrice decimal.Decimal) (Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.panicMode {
		reason := e.panicReason
		if reason == "" {
			reason = ReasonPanic
		}
		return Decision{Size: decimal.Zero, Quantity: decimal.Zero, Vetoed: true, Reason: reason}, nil
	}
	if !sig.Actionable() {
		return Decision{Size: decimal.Zero, Quantity: decimal.Zero, Reason: ReasonHold}, nil
	}

	lim, ok := e.limits[symbol]
	if !ok {
		return Decision{}, fmt.Errorf("%w: no cap configured for symbol %s", ErrEngineFault, symbol)
	}
	if !refPrice.IsPositive() {
		return Decision{}, fmt.Errorf("%w: non-positive reference price %s for %s", ErrEngineFault, refPrice, symbol)
	}

	volScale := e.volScaleLocked(symbol)

	// Budget is the smaller of the symbol cap and the equity-derived risk
	// budget; the desired notional scales it by conviction and vol regime.
	budget := decimal.Min(lim.cap, equity.Mul(e.baseFraction))
	desiredAbs := budget.
		Mul(decimal.NewFromFloat(sig.Strength)).
		Mul(decimal.NewFromFloat(volScale))
	if !desiredAbs.IsPositive() {
		return Decision{Size: decimal.Zero, Quantity: decimal.Zero, Reason: ReasonDust, VolScale: volScale}, nil
	}

	dir := decimal.NewFromInt(1)
	if sig.Side == signal.Sell {
		dir = decimal.NewFromInt(-1)
	}

	current := e.exposure[symbol]
	others := e.portfolio.Sub(current.Abs())
	maxAbs := decimal.Min(lim.cap, e.portfolioCap.Sub(others))
	if maxAbs.IsNegative() {
		maxAbs = decimal.Zero
	}

	// Clamp the post-trade notional into [-maxAbs, +maxAbs] and trade the
	// difference. A trade that cannot move in its own direction is saturated.
	rawTarget := current.Add(desiredAbs.Mul(dir))
	target := decimal.Min(rawTarget, maxAbs)
	target = decimal.Max(target, maxAbs.Neg())
	size := target.Sub(current)
	if size.IsZero() || !size.Mul(dir).IsPositive() {
		return Decision{Size: decimal.Zero, Quantity: decimal.Zero, Vetoed: true, Reason: ReasonExposureCap, VolScale: volScale}, nil
	}
	clipped := !target.Equal(rawTarget)

	// Round the quantity DOWN to the instrument increment. Rounding never
	// increases exposure.
	qty := size.Abs().DivRound(refPrice, 12)
	qty = qty.Div(lim.inc).Truncate(0).Mul(lim.inc)
	if qty.IsZero() {
		return Decision{Size: decimal.Zero, Quantity: decimal.Zero, Reason: ReasonDust, VolScale: volScale}, nil
	}
	notional := qty.Mul(refPrice).Mul(dir)

	d := Decision{
		Size:     notional,
		Quantity: qty.Mul(dir),
		Reason:   ReasonOK,
		VolScale: volScale,
	}
	if clipped {
		d.Vetoed = true
		d.Reason = ReasonExposureCap
	}
	return d, nil
}

// volScaleLocked computes target_vol / realized_vol clamped to the configured
// band. With no estimate yet the scale is neutral.
func (e *Engine) volScaleLocked(symbol string) float64 {
	v := e.vols[symbol]
	if v == nil || v.current <= 0 {
		return 1.0
	}
	scale := e.targetVol / v.current
	if scale < e.minScale {
		scale = e.minScale
	}
	if scale > e.maxScale {
		scale = e.maxScale
	}
	return scale
}

// Commit applies a confirmed fill to the exposure book. It is the only path
// that grows or shrinks exposure; failed or skipped orders never reach it.
func (e *Engine) Commit(symbol string, fillNotional decimal.Decimal) {
	if fillNotional.IsZero() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exposure[symbol] = e.exposure[symbol].Add(fillNotional)
	e.recomputePortfolioLocked()
}

// MarkFlat zeroes a symbol's exposure after its position has been closed.
func (e *Engine) MarkFlat(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exposure[symbol] = decimal.Zero
	e.recomputePortfolioLocked()
}

func (e *Engine) recomputePortfolioLocked() {
	total := decimal.Zero
	for _, n := range e.exposure {
		total = total.Add(n.Abs())
	}
	e.portfolio = total
}

// ObserveWindow feeds one symbol's latest closes into the realized-vol
// estimator and trips the panic latch when the fresh estimate exceeds the
// shock multiple of its recent baseline.
func (e *Engine) ObserveWindow(symbol string, closes []float64) {
	vol := realizedVol(closes, e.volWindow)
	if vol <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.vols[symbol]
	if !ok {
		return
	}
	base := v.baseline()
	v.observe(vol)
	if base > 0 && vol > e.shockMult*base && !e.panicMode {
		e.panicMode = true
		e.panicReason = ReasonVolShock
		logs.Errorf("[RiskEngine] volatility shock on %s: realized %.6f > %.1fx baseline %.6f, entering panic mode",
			symbol, vol, e.shockMult, base)
	}
}

// TripPanic forces panic mode with an explicit reason (operator action,
// watchdog escalation). Panic is sticky until ClearPanic.
func (e *Engine) TripPanic(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.panicMode {
		return
	}
	e.panicMode = true
	e.panicReason = reason
	logs.Errorf("[RiskEngine] panic mode tripped: %s", reason)
}

// ClearPanic is the explicit operator reset. Nothing clears panic implicitly.
func (e *Engine) ClearPanic() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.panicMode {
		return
	}
	e.panicMode = false
	e.panicReason = ""
	logs.Warn("[RiskEngine] panic mode cleared by operator")
}

// InPanic reports whether the sticky panic latch is set.
func (e *Engine) InPanic() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.panicMode
}

// Snapshot is a point-in-time copy of the exposure book for telemetry.
type Snapshot struct {
	PerSymbolNotional map[string]float64 `json:"per_symbol_notional"`
	PortfolioNotional float64            `json:"portfolio_notional"`
	RealizedVol       map[string]float64 `json:"realized_vol"`
	Panic             bool               `json:"panic"`
	PanicReason       string             `json:"panic_reason,omitempty"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		PerSymbolNotional: make(map[string]float64, len(e.exposure)),
		RealizedVol:       make(map[string]float64, len(e.vols)),
		PortfolioNotional: e.portfolio.InexactFloat64(),
		Panic:             e.panicMode,
		PanicReason:       e.panicReason,
	}
	for sym, n := range e.exposure {
		s.PerSymbolNotional[sym] = n.InexactFloat64()
	}
	for sym, v := range e.vols {
		s.RealizedVol[sym] = v.current
	}
	return s
}

// Exposure returns the signed notional currently booked for one symbol.
func (e *Engine) Exposure(symbol string) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exposure[symbol]
}

// PortfolioNotional returns the sum of absolute per-symbol notionals.
func (e *Engine) PortfolioNotional() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portfolio
}

// realizedVol is the standard deviation of per-bar log returns over at most
// the last window bars.
func realizedVol(closes []float64, window int) float64 {
	if window > 0 && len(closes) > window+1 {
		closes = closes[len(closes)-window-1:]
	}
	if len(closes) < 3 {
		return 0
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			return 0
		}
		rets = append(rets, math.Log(closes[i]/closes[i-1]))
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	varSum := 0.0
	for _, r := range rets {
		d := r - mean
		varSum += d * d
	}
	return math.Sqrt(varSum / float64(len(rets)-1))
}
