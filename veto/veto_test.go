package veto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"quantloop/signal"
)

type fixedScorer struct {
	score float64
	err   error
}

func (s fixedScorer) Score(signal.Signal, Features) (float64, error) {
	return s.score, s.err
}

func TestSelect_PicksGateByCapability(t *testing.T) {
	assert.IsType(t, NeutralGate{}, Select(nil, 0.5))
	assert.IsType(t, &ModelGate{}, Select(fixedScorer{}, 0.5))
}

func TestNeutralGate_AlwaysAllows(t *testing.T) {
	v := NeutralGate{}.Evaluate(signal.Signal{Side: signal.Buy, Strength: 1}, nil)
	assert.True(t, v.Allow)
	assert.Equal(t, 1.0, v.Scale)
}

func TestModelGate_Verdicts(t *testing.T) {
	sig := signal.Signal{Side: signal.Buy, Strength: 0.8}

	t.Run("below threshold vetoes", func(t *testing.T) {
		v := NewModelGate(fixedScorer{score: 0.3}, 0.5).Evaluate(sig, nil)
		assert.False(t, v.Allow)
		assert.Equal(t, "ml_veto", v.Reason)
	})

	t.Run("above threshold scales by score", func(t *testing.T) {
		v := NewModelGate(fixedScorer{score: 0.9}, 0.5).Evaluate(sig, nil)
		assert.True(t, v.Allow)
		assert.Equal(t, 0.9, v.Scale)
	})

	t.Run("scorer failure degrades to neutral", func(t *testing.T) {
		v := NewModelGate(fixedScorer{err: errors.New("model offline")}, 0.5).Evaluate(sig, nil)
		assert.True(t, v.Allow)
		assert.Equal(t, 1.0, v.Scale)
		assert.Equal(t, "scorer_error", v.Reason)
	})
}
