// strategy/builtin.go
//
// Built-in reference strategies. Real deployments are expected to plug in
// their own Source implementations; these two exist so a paper run produces
// signals out of the box and so tests have deterministic material to work
// with.
package strategy

import (
	"fmt"
	"math"

	"quantloop/market"
	"quantloop/signal"
)

func sma(closes []float64, n int) float64 {
	if n <= 0 || len(closes) < n {
		return 0
	}
	sum := 0.0
	for _, c := range closes[len(closes)-n:] {
		sum += c
	}
	return sum / float64(n)
}

// MACrossover emits BUY when the fast moving average is above the slow one,
// SELL when below, HOLD when either average is unavailable or they are equal.
type MACrossover struct {
	fast int
	slow int
	ttl  int
}

func NewMACrossover(fast, slow, ttl int) *MACrossover {
	if fast >= slow {
		fast, slow = slow, fast
	}
	return &MACrossover{fast: fast, slow: slow, ttl: ttl}
}

func (m *MACrossover) Name() string { return "ma_crossover" }

func (m *MACrossover) Generate(_ string, window market.Window, _ string) signal.Signal {
	closes := window.Closes()
	fast := sma(closes, m.fast)
	slow := sma(closes, m.slow)
	if fast == 0 || slow == 0 || fast == slow {
		return signal.HoldSignal()
	}

	// Strength grows with the relative gap between the averages, saturating
	// at a 2% spread.
	gap := math.Abs(fast-slow) / slow
	strength := math.Min(1.0, gap/0.02)

	side := "buy"
	if fast < slow {
		side = "sell"
	}
	return signal.Normalize(side, strength, 0, m.ttl)
}

// Momentum compares the last close against the close n bars ago. It is the
// simplest trend proxy and deliberately produces legacy-shaped output that
// goes through signal.Normalize, exercising the untyped-signal boundary.
type Momentum struct {
	lookback int
	ttl      int
}

func NewMomentum(lookback, ttl int) *Momentum {
	return &Momentum{lookback: lookback, ttl: ttl}
}

func (m *Momentum) Name() string { return fmt.Sprintf("momentum_%d", m.lookback) }

func (m *Momentum) Generate(_ string, window market.Window, _ string) signal.Signal {
	closes := window.Closes()
	if len(closes) <= m.lookback {
		return signal.HoldSignal()
	}
	last := closes[len(closes)-1]
	ref := closes[len(closes)-1-m.lookback]
	if ref == 0 {
		return signal.HoldSignal()
	}
	change := (last - ref) / ref
	side := "hold"
	if change > 0.001 {
		side = "buy"
	} else if change < -0.001 {
		side = "sell"
	}
	strength := math.Min(1.0, math.Abs(change)*50)
	return signal.Normalize(side, strength, 0, m.ttl)
}

// Donchian emits BUY on a close above the previous n-bar high and SELL below
// the previous n-bar low, with the opposite channel edge as the stop hint.
type Donchian struct {
	window int
	ttl    int
}

func NewDonchian(window, ttl int) *Donchian {
	return &Donchian{window: window, ttl: ttl}
}

func (d *Donchian) Name() string { return "donchian" }

func (d *Donchian) Generate(_ string, window market.Window, _ string) signal.Signal {
	closes := window.Closes()
	if len(closes) < d.window+1 {
		return signal.HoldSignal()
	}
	last := closes[len(closes)-1]
	prior := closes[len(closes)-1-d.window : len(closes)-1]
	hi, lo := prior[0], prior[0]
	for _, c := range prior {
		hi = math.Max(hi, c)
		lo = math.Min(lo, c)
	}
	if hi == lo {
		return signal.HoldSignal()
	}
	switch {
	case last > hi:
		strength := math.Min(1.0, (last-hi)/(hi-lo))
		return signal.Normalize("buy", strength, lo, d.ttl)
	case last < lo:
		strength := math.Min(1.0, (lo-last)/(hi-lo))
		return signal.Normalize("sell", strength, hi, d.ttl)
	default:
		return signal.HoldSignal()
	}
}

// RSI fades extremes: BUY when oversold, SELL when overbought. Meant for
// chop/range regimes where trend followers bleed.
type RSI struct {
	period int
	ttl    int
}

func NewRSI(period, ttl int) *RSI {
	return &RSI{period: period, ttl: ttl}
}

func (r *RSI) Name() string { return "rsi" }

func (r *RSI) Generate(_ string, window market.Window, _ string) signal.Signal {
	closes := window.Closes()
	if len(closes) < r.period+1 {
		return signal.HoldSignal()
	}
	closes = closes[len(closes)-r.period-1:]
	var gains, losses float64
	for i := 1; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	if gains+losses == 0 {
		return signal.HoldSignal()
	}
	rsi := 100 * gains / (gains + losses)
	switch {
	case rsi <= 30:
		return signal.Normalize("buy", math.Min(1.0, (30-rsi)/30+0.2), 0, r.ttl)
	case rsi >= 70:
		return signal.Normalize("sell", math.Min(1.0, (rsi-70)/30+0.2), 0, r.ttl)
	default:
		return signal.HoldSignal()
	}
}
