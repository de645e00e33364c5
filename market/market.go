// market/market.go
package market

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrDataUnavailable signals that the data source could not serve a window
// ending at or before the requested time. The decision cycle treats this as
// a no-op tick, never as a fatal error.
var ErrDataUnavailable = errors.New("market data unavailable")

// Candle is a single OHLCV bar.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Window is an OHLCV slice ordered oldest to newest.
type Window struct {
	Symbol  string
	Candles []Candle
}

// Last returns the most recent candle of the window.
func (w Window) Last() (Candle, bool) {
	if len(w.Candles) == 0 {
		return Candle{}, false
	}
	return w.Candles[len(w.Candles)-1], true
}

// Closes returns the close series, oldest to newest.
func (w Window) Closes() []float64 {
	out := make([]float64, len(w.Candles))
	for i, c := range w.Candles {
		out[i] = c.Close
	}
	return out
}

// Source serves OHLCV windows for symbols. fetch failures surface as
// ErrDataUnavailable (possibly wrapped).
type Source interface {
	FetchWindow(symbol string, lookback int, now time.Time) (Window, error)
}

// SimSource is a deterministic sine-wave price generator used for paper runs
// and tests. Each symbol walks its own phase so multi-symbol runs do not move
// in lockstep.
type SimSource struct {
	mu      sync.Mutex
	base    map[string]float64
	phase   map[string]float64
	amp     float64
	barStep time.Duration
}

func NewSimSource(barStep time.Duration) *SimSource {
	return &SimSource{
		base:    make(map[string]float64),
		phase:   make(map[string]float64),
		amp:     0.01,
		barStep: barStep,
	}
}

// Seed sets the base price for a symbol. Unknown symbols fail FetchWindow.
func (s *SimSource) Seed(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base[symbol] = price
}

func (s *SimSource) FetchWindow(symbol string, lookback int, now time.Time) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.base[symbol]
	if !ok {
		return Window{}, fmt.Errorf("%w: no seed price for %s", ErrDataUnavailable, symbol)
	}
	if lookback <= 0 {
		lookback = 1
	}

	phase := s.phase[symbol]
	candles := make([]Candle, 0, lookback)
	start := now.Add(-time.Duration(lookback) * s.barStep)
	for i := 0; i < lookback; i++ {
		p := phase + 0.1*float64(i)
		mid := base * (1 + s.amp*math.Sin(p))
		spread := base * s.amp * 0.2
		candles = append(candles, Candle{
			Timestamp: start.Add(time.Duration(i+1) * s.barStep),
			Open:      mid - spread/2,
			High:      mid + spread,
			Low:       mid - spread,
			Close:     mid + spread/2,
			Volume:    1000,
		})
	}
	s.phase[symbol] = phase + 0.1

	return Window{Symbol: symbol, Candles: candles}, nil
}
