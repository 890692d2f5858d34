package trainingset

import "math"

// DefaultMinConditionalRate is the floor applied to conditional rates before
// scoring, so absent combinations score finitely instead of -Inf.
const DefaultMinConditionalRate = 0.0001

// Scorer converts a (conditional rate, inclusion rate) pair into a training
// label. Callers must only score cards inside the vocabulary; inclusion rates
// are undefined outside it.
type Scorer interface {
	Score(conditionalRate, inclusionRate float64) float64
}

// PMIScorer scores pointwise mutual information:
// log2(max(conditional, floor) / inclusion). The floor is applied to the
// conditional rate only, never the inclusion rate.
type PMIScorer struct {
	// MinConditionalRate floors the conditional rate. Zero means
	// DefaultMinConditionalRate.
	MinConditionalRate float64
}

// Score returns the PMI of the target card given condition and commander.
func (s PMIScorer) Score(conditionalRate, inclusionRate float64) float64 {
	floor := s.MinConditionalRate
	if floor <= 0 {
		floor = DefaultMinConditionalRate
	}
	if conditionalRate < floor {
		conditionalRate = floor
	}
	return math.Log2(conditionalRate / inclusionRate)
}

// LiftScorer scores the plain ratio of conditional to inclusion rate, with
// the same conditional-rate floor as PMIScorer.
type LiftScorer struct {
	MinConditionalRate float64
}

// Score returns the lift of the target card given condition and commander.
func (s LiftScorer) Score(conditionalRate, inclusionRate float64) float64 {
	floor := s.MinConditionalRate
	if floor <= 0 {
		floor = DefaultMinConditionalRate
	}
	if conditionalRate < floor {
		conditionalRate = floor
	}
	return conditionalRate / inclusionRate
}
