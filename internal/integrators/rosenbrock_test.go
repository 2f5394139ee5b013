package integrators

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/relicsim/internal/dynamo"
)

// decay is y' = -k y.
type decay struct{ k float64 }

func (d decay) Dim() int { return 1 }
func (d decay) Derive(x float64, y dynamo.State, dy dynamo.State) {
	dy[0] = -d.k * y[0]
}
func (d decay) Jacobian(x float64, y dynamo.State, jac *mat.Dense) {
	jac.Set(0, 0, -d.k)
}

// stiffCosine is y' = -λ(y - cos x) - sin x with solution cos x.
type stiffCosine struct{ lambda float64 }

func (s stiffCosine) Dim() int { return 1 }
func (s stiffCosine) Derive(x float64, y dynamo.State, dy dynamo.State) {
	dy[0] = -s.lambda*(y[0]-math.Cos(x)) - math.Sin(x)
}
func (s stiffCosine) Jacobian(x float64, y dynamo.State, jac *mat.Dense) {
	jac.Set(0, 0, -s.lambda)
}

// blowUp is y' = y², singular at x = 1/y0.
type blowUp struct{}

func (blowUp) Dim() int { return 1 }
func (blowUp) Derive(x float64, y dynamo.State, dy dynamo.State) {
	dy[0] = y[0] * y[0]
}
func (blowUp) Jacobian(x float64, y dynamo.State, jac *mat.Dense) {
	jac.Set(0, 0, 2*y[0])
}

// dilution is N' = -3 with two frozen entries, one of them tiny, like a
// coherent oscillation right after onset.
type dilution struct{ frozen float64 }

func (dilution) Dim() int { return 3 }
func (dilution) Derive(x float64, y dynamo.State, dy dynamo.State) {
	dy[0], dy[1], dy[2] = -3, 0, 0
}
func (dilution) Jacobian(x float64, y dynamo.State, jac *mat.Dense) {
	jac.Zero()
}

func newRosenbrock(t *testing.T, rtol, atol float64) *Rosenbrock {
	t.Helper()
	opts := DefaultOptions()
	opts.RTol, opts.ATol = rtol, atol
	r, err := NewRosenbrock(opts)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRosenbrockExponentialDecay(t *testing.T) {
	r := newRosenbrock(t, 1e-8, 1e-12)
	res, err := r.Integrate(context.Background(), decay{k: 1}, 0, dynamo.State{1}, 5, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	last := res.Y[len(res.Y)-1][0]
	if rel := math.Abs(last-math.Exp(-5)) / math.Exp(-5); rel > 1e-4 {
		t.Errorf("y(5) = %g, want %g (rel err %g)", last, math.Exp(-5), rel)
	}
	if res.X[0] != 0 || res.X[len(res.X)-1] != 5 {
		t.Errorf("result should span [0, 5], got [%g, %g]", res.X[0], res.X[len(res.X)-1])
	}
	if res.Hit != nil {
		t.Error("unexpected event")
	}
}

func TestRosenbrockStiff(t *testing.T) {
	r := newRosenbrock(t, 1e-4, 1e-8)
	res, err := r.Integrate(context.Background(), stiffCosine{lambda: 1e4}, 0, dynamo.State{1}, 10, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	last := res.Y[len(res.Y)-1][0]
	if math.Abs(last-math.Cos(10)) > 1e-3 {
		t.Errorf("y(10) = %g, want %g", last, math.Cos(10))
	}
	// an explicit method needs more than 10λ/3 steps here
	if res.Stats.Steps > 2000 {
		t.Errorf("too many steps for a stiff problem: %d", res.Stats.Steps)
	}
	if res.Stats.Jacobians < res.Stats.Steps {
		t.Errorf("expected a Jacobian per step, got %d for %d steps", res.Stats.Jacobians, res.Stats.Steps)
	}
}

func TestRosenbrockTinyStateScale(t *testing.T) {
	r := newRosenbrock(t, 1e-6, 1e-10)
	for _, m := range []float64{1e-15, 1e-14, 1e-12, 1e-9, 1} {
		res, err := r.Integrate(context.Background(), dilution{}, 5.3, dynamo.State{0, m, 0}, 20, nil, nil)
		if err != nil {
			t.Fatalf("m=%g: %v", m, err)
		}
		y := res.Y[len(res.Y)-1]
		if math.Abs(y[0]+3*14.7) > 1e-8 {
			t.Errorf("m=%g: N(20) = %g, want %g", m, y[0], -3*14.7)
		}
		if y[1] != m {
			t.Errorf("m=%g: frozen entry changed to %g", m, y[1])
		}
		if res.Stats.Steps > 100 {
			t.Errorf("m=%g: %d steps for a linear solution", m, res.Stats.Steps)
		}
	}
}

func TestRosenbrockGridSampling(t *testing.T) {
	r := newRosenbrock(t, 1e-8, 1e-12)
	grid := []float64{-1, 0, 0.5, 1, 1.5, 2, 2.5, 3, 7}
	res, err := r.Integrate(context.Background(), decay{k: 1}, 0, dynamo.State{1}, 3, grid, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0, 0.5, 1, 1.5, 2, 2.5, 3}
	if len(res.X) != len(want) {
		t.Fatalf("got samples at %v, want %v", res.X, want)
	}
	for i, x := range want {
		if res.X[i] != x {
			t.Errorf("sample %d at %g, want %g", i, res.X[i], x)
		}
		if math.Abs(res.Y[i][0]-math.Exp(-x)) > 1e-4 {
			t.Errorf("y(%g) = %g, want %g", x, res.Y[i][0], math.Exp(-x))
		}
	}
}

func TestRosenbrockEventLocation(t *testing.T) {
	r := newRosenbrock(t, 1e-8, 1e-12)
	half := dynamo.Event{Name: "half", Index: 3, Func: func(x float64, y dynamo.State) float64 { return y[0] - 0.5 }}
	late := dynamo.Event{Name: "late", Func: func(x float64, y dynamo.State) float64 { return x - 2 }}

	res, err := r.Integrate(context.Background(), decay{k: 1}, 0, dynamo.State{1}, 10, []float64{0.25, 0.5, 1, 2}, []dynamo.Event{late, half})
	if err != nil {
		t.Fatal(err)
	}
	if res.Hit == nil {
		t.Fatal("event not found")
	}
	if res.Hit.Event.Name != "half" || res.Hit.Event.Index != 3 {
		t.Errorf("earliest event should win, got %s", res.Hit.Event.Name)
	}
	if math.Abs(res.Hit.X-math.Ln2) > 1e-4 {
		t.Errorf("event at %.10f, want %.10f", res.Hit.X, math.Ln2)
	}
	if math.Abs(res.Hit.Y[0]-0.5) > 1e-6 {
		t.Errorf("state at event %g, want 0.5", res.Hit.Y[0])
	}
	if got := res.X[len(res.X)-1]; got != res.Hit.X {
		t.Errorf("last sample %g should be the event point", got)
	}
	for _, x := range res.X {
		if x > res.Hit.X {
			t.Errorf("sample at %g beyond event", x)
		}
	}
}

func TestRosenbrockEventAtStartIgnored(t *testing.T) {
	r := newRosenbrock(t, 1e-6, 1e-10)
	zero := dynamo.Event{Name: "start", Func: func(x float64, y dynamo.State) float64 { return x }}
	res, err := r.Integrate(context.Background(), decay{k: 1}, 0, dynamo.State{1}, 1, nil, []dynamo.Event{zero})
	if err != nil {
		t.Fatal(err)
	}
	if res.Hit != nil {
		t.Error("an event already at zero should not fire")
	}
}

func TestRosenbrockHarmonic(t *testing.T) {
	r := newRosenbrock(t, 1e-9, 1e-12)
	sys := &harmonicOscillator{}
	res, err := r.Integrate(context.Background(), sys, 0, dynamo.State{1, 0}, 2*math.Pi, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	y := res.Y[len(res.Y)-1]
	if drift := math.Abs(sys.Energy(y) - 0.5); drift > 1e-5 {
		t.Errorf("energy drift %e", drift)
	}
}

func TestRosenbrockFailure(t *testing.T) {
	r := newRosenbrock(t, 1e-6, 1e-10)
	_, err := r.Integrate(context.Background(), blowUp{}, 0, dynamo.State{1}, 2, nil, nil)
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if f.X > 1 || f.X < 0.9 {
		t.Errorf("failure at x=%g, expected just below the singularity at 1", f.X)
	}
}

func TestRosenbrockErrors(t *testing.T) {
	if _, err := NewRosenbrock(Options{RTol: 0, ATol: 1}); err == nil {
		t.Error("expected error for zero rtol")
	}
	r := newRosenbrock(t, 1e-6, 1e-10)
	if _, err := r.Integrate(context.Background(), decay{k: 1}, 0, dynamo.State{1, 2}, 1, nil, nil); !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Integrate(ctx, decay{k: 1}, 0, dynamo.State{1}, 1, nil, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
