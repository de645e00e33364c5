// veto/veto.go
package veto

import (
	"quantloop/logs"
	"quantloop/signal"
)

// Features is the feature vector handed to the gate alongside the signal.
// Values are whatever the deployment's model was trained on; the core only
// carries them through.
type Features map[string]float64

// Verdict is the gate's answer for one signal.
type Verdict struct {
	Allow  bool
	Scale  float64 // multiplies strength when Allow is true
	Reason string
}

// Gate approves, scales, or rejects an effective signal before sizing.
// Implementations must be fast and side-effect-free.
type Gate interface {
	Evaluate(sig signal.Signal, features Features) Verdict
}

// Scorer is the contract of the backing model: probability in [0,1] that the
// signal should proceed.
type Scorer interface {
	Score(sig signal.Signal, features Features) (float64, error)
}

// NeutralGate always allows at full scale. It is selected at construction
// time whenever no model is available, so the hot path never branches on a
// feature flag.
type NeutralGate struct{}

func (NeutralGate) Evaluate(signal.Signal, Features) Verdict {
	return Verdict{Allow: true, Scale: 1.0, Reason: "no_model"}
}

// ModelGate vetoes signals whose model score falls below the threshold and
// scales allowed ones by the score.
type ModelGate struct {
	scorer    Scorer
	threshold float64
}

func NewModelGate(scorer Scorer, threshold float64) *ModelGate {
	return &ModelGate{scorer: scorer, threshold: threshold}
}

func (g *ModelGate) Evaluate(sig signal.Signal, features Features) Verdict {
	score, err := g.scorer.Score(sig, features)
	if err != nil {
		// A broken scorer degrades to neutral: a model outage must not turn
		// into a trading halt on its own.
		logs.Warnf("[VetoGate] scorer failed, allowing signal: %v", err)
		return Verdict{Allow: true, Scale: 1.0, Reason: "scorer_error"}
	}
	if score < g.threshold {
		return Verdict{Allow: false, Scale: 0, Reason: "ml_veto"}
	}
	return Verdict{Allow: true, Scale: score, Reason: "ml_pass"}
}

// Select picks the gate implementation once, at construction: a ModelGate
// when a scorer exists, NeutralGate otherwise.
func Select(scorer Scorer, threshold float64) Gate {
	if scorer == nil {
		logs.Info("[VetoGate] no scorer configured, running with neutral gate")
		return NeutralGate{}
	}
	return NewModelGate(scorer, threshold)
}
