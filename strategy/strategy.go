// strategy/strategy.go
package strategy

import (
	"quantloop/market"
	"quantloop/signal"
)

// Source produces a trading signal for one symbol from one market window.
// Implementations must be side-effect-free and fast; the decision cycle calls
// them on every tick.
type Source interface {
	Name() string
	Generate(symbol string, window market.Window, regime string) signal.Signal
}

// Registry maps canonical strategy names to Source implementations and picks
// a per-regime strategy with a configured default fallback. Alias resolution
// happens in config before names reach the registry.
type Registry struct {
	byName   map[string]Source
	fallback Source
}

func NewRegistry() *Registry {
	r := &Registry{
		byName:   make(map[string]Source),
		fallback: NullSource{},
	}
	r.Register(NullSource{})
	r.Register(NewMACrossover(10, 30, 3))
	r.Register(NewMomentum(14, 3))
	r.Register(NewDonchian(20, 3))
	r.Register(NewRSI(14, 2))
	return r
}

// Register adds a source under its canonical name, replacing any previous one.
func (r *Registry) Register(s Source) {
	r.byName[s.Name()] = s
}

// Lookup returns the source for a canonical name. Unknown names fall back to
// the null strategy rather than failing: a misconfigured symbol must degrade
// to HOLD, not crash.
func (r *Registry) Lookup(name string) Source {
	if s, ok := r.byName[name]; ok {
		return s
	}
	return r.fallback
}

// NullSource always holds. It backs unknown strategy names and regimes.
type NullSource struct{}

func (NullSource) Name() string { return "null" }

func (NullSource) Generate(string, market.Window, string) signal.Signal {
	return signal.HoldSignal()
}
