// signal/signal.go
package signal

import "strings"

// Side is the direction a strategy wants to trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
	Hold Side = "HOLD"
)

// Signal is the immutable output of a strategy evaluation.
// Strength is in [0,1]; TTL is the number of subsequent ticks the signal stays
// usable when the strategy itself returns HOLD.
type Signal struct {
	Side     Side
	Strength float64
	StopHint float64 // 0 means no stop hint
	TTL      int
}

// HoldSignal is the neutral signal.
func HoldSignal() Signal {
	return Signal{Side: Hold, Strength: 0, TTL: 0}
}

// Actionable reports whether the signal asks for a trade.
func (s Signal) Actionable() bool {
	return s.Side == Buy || s.Side == Sell
}

// Normalize coerces a legacy untyped signal (a bare "buy"/"sell"/"hold"
// string, any case) into the typed shape. Anything malformed becomes a
// zero-strength HOLD rather than an error: a garbled strategy must never
// crash the cycle.
func Normalize(side string, strength float64, stopHint float64, ttl int) Signal {
	var s Side
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case string(Buy):
		s = Buy
	case string(Sell):
		s = Sell
	case string(Hold):
		s = Hold
	default:
		return HoldSignal()
	}
	if strength < 0 {
		strength = 0
	}
	if strength > 1 {
		strength = 1
	}
	if ttl < 0 {
		ttl = 0
	}
	if stopHint < 0 {
		stopHint = 0
	}
	return Signal{Side: s, Strength: strength, StopHint: stopHint, TTL: ttl}
}

// Memory is the per-symbol TTL decay buffer. It is owned exclusively by one
// decision cycle and is never shared across goroutines.
//
// Transition table, applied once per tick via Resolve:
//
//	fresh actionable            -> store fresh, ttl_remaining = fresh.TTL, effective = fresh
//	fresh HOLD, ttl > 0, stored -> ttl_remaining--, effective = stored
//	fresh HOLD otherwise        -> ttl_remaining-- (floor 0), effective = fresh
type Memory struct {
	last         Signal
	hasLast      bool
	ttlRemaining int
}

// NewMemory returns an empty memory (no stored signal, zero TTL).
func NewMemory() *Memory {
	return &Memory{}
}

// TTLRemaining exposes the current decay counter, mainly for telemetry.
func (m *Memory) TTLRemaining() int {
	return m.ttlRemaining
}

// Resolve applies one tick's worth of TTL bookkeeping and returns the
// effective signal for the tick plus whether the stored signal was substituted
// for a fresh HOLD.
func (m *Memory) Resolve(fresh Signal) (effective Signal, substituted bool) {
	// Decay happens exactly once per tick, before the fresh signal can reset it.
	if m.ttlRemaining > 0 {
		m.ttlRemaining--
	}

	if fresh.Actionable() {
		m.last = fresh
		m.hasLast = true
		m.ttlRemaining = fresh.TTL
		return fresh, false
	}

	if m.ttlRemaining > 0 && m.hasLast {
		return m.last, true
	}
	return fresh, false
}
