package metrics

import (
	"math"

	"github.com/san-kum/relicsim/internal/sim"
)

// Metric accumulates a quality measure over trajectory points.
type Metric interface {
	Name() string
	Observe(x, T, S float64)
	Value() float64
	Reset()
}

// EntropyDrift is the largest relative change of the comoving entropy
// from its first value. It is zero unless decays heat the bath.
type EntropyDrift struct {
	initial  float64
	maxDrift float64
	samples  int
}

func NewEntropyDrift() *EntropyDrift { return &EntropyDrift{} }

func (e *EntropyDrift) Name() string { return "entropy_drift" }

func (e *EntropyDrift) Observe(x, T, S float64) {
	if math.IsNaN(S) {
		return
	}
	if e.samples == 0 {
		e.initial = S
	}
	e.samples++
	if e.initial == 0 {
		return
	}
	if d := math.Abs(S/e.initial - 1); d > e.maxDrift {
		e.maxDrift = d
	}
}

func (e *EntropyDrift) Value() float64 { return e.maxDrift }

func (e *EntropyDrift) Reset() {
	e.initial = 0
	e.maxDrift = 0
	e.samples = 0
}

// Expansion is the number of e-folds covered.
type Expansion struct {
	first, last float64
	samples     int
}

func NewExpansion() *Expansion { return &Expansion{} }

func (e *Expansion) Name() string { return "efolds" }

func (e *Expansion) Observe(x, T, S float64) {
	if e.samples == 0 {
		e.first = x
	}
	e.last = x
	e.samples++
}

func (e *Expansion) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return e.last - e.first
}

func (e *Expansion) Reset() { *e = Expansion{} }

// Evaluate runs metrics over a trajectory and returns their values by name.
func Evaluate(tr *sim.Trajectory, ms ...Metric) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		m.Reset()
		for i := 0; i < tr.Len(); i++ {
			m.Observe(tr.X[i], tr.T[i], tr.S[i])
		}
		out[m.Name()] = m.Value()
	}
	return out
}
