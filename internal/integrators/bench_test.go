package integrators

import (
	"context"
	"math"
	"testing"

	"github.com/san-kum/relicsim/internal/dynamo"
)

func BenchmarkRK45(b *testing.B) {
	integrator := NewRK45()
	sys := &harmonicOscillator{}
	y0 := dynamo.State{1.0, 0.0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := integrator.Integrate(context.Background(), sys, 0, y0, 2*math.Pi, 1e-8); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRosenbrockStiff(b *testing.B) {
	r, err := NewRosenbrock(Options{RTol: 1e-6, ATol: 1e-10})
	if err != nil {
		b.Fatal(err)
	}
	sys := stiffCosine{lambda: 1e6}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Integrate(context.Background(), sys, 0, dynamo.State{1}, 1, nil, nil); err != nil {
			b.Fatal(err)
		}
	}
}
