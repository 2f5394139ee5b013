package dynamo

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// WeightedRMS is sqrt(mean((s_i/w_i)²)), the error norm of the adaptive
// integrators. Zero for an empty state.
func (s State) WeightedRMS(w []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	sum := 0.0
	for i, v := range s {
		q := v / w[i]
		sum += q * q
	}
	return math.Sqrt(sum / float64(len(s)))
}

// Sanitize replaces NaN and ±Inf entries by zero in place and reports how
// many entries were replaced.
func (s State) Sanitize() int {
	replaced := 0
	for i, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			s[i] = 0
			replaced++
		}
	}
	return replaced
}

// System is the right-hand side of dy/dx = f(x, y). Derive writes f into dy,
// which has length Dim().
type System interface {
	Dim() int
	Derive(x float64, y State, dy State)
}

// JacobianSystem is a System able to fill ∂f/∂y. jac is Dim()×Dim().
type JacobianSystem interface {
	System
	Jacobian(x float64, y State, jac *mat.Dense)
}

// Event is a scalar function whose sign change terminates integration.
type Event struct {
	Name string
	// Index identifies the subject of the event (a species index) for the
	// caller; integrators do not interpret it.
	Index int
	Func  func(x float64, y State) float64
}

// EventHit records where an event function crossed zero.
type EventHit struct {
	Event Event
	X     float64
	Y     State
}
