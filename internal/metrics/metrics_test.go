package metrics

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/relicsim/internal/sim"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()

	r.RHSEvaluated()
	r.RHSEvaluated()
	r.JacobianEvaluated()
	r.StepsTaken(10, 3)
	r.StepsTaken(5, 0)
	r.SegmentCompleted()
	r.EventFired(sim.EventDecay)
	r.EventFired(sim.EventTarget)
	r.EventFired(sim.EventDecay)
	r.NonFiniteReplaced(4)

	if got := testutil.ToFloat64(r.RHSEvaluations); got != 2 {
		t.Errorf("rhs evaluations = %g, want 2", got)
	}
	if got := testutil.ToFloat64(r.Steps.WithLabelValues("accepted")); got != 15 {
		t.Errorf("accepted steps = %g, want 15", got)
	}
	if got := testutil.ToFloat64(r.Events.WithLabelValues(sim.EventDecay)); got != 2 {
		t.Errorf("decay events = %g, want 2", got)
	}

	snap, err := r.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	want := map[string]float64{
		"rhs_evaluations":        2,
		"jacobian_evaluations":   1,
		"steps_accepted":         15,
		"steps_rejected":         3,
		"segments":               1,
		"events_decay":           2,
		"events_target":          1,
		"nonfinite_replacements": 4,
	}
	for k, v := range want {
		if snap[k] != v {
			t.Errorf("snapshot[%s] = %g, want %g", k, snap[k], v)
		}
	}
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.SegmentCompleted()
	if got := testutil.ToFloat64(b.Segments); got != 0 {
		t.Errorf("second recorder saw %g segments", got)
	}
}

func TestEntropyDrift(t *testing.T) {
	m := NewEntropyDrift()
	for _, S := range []float64{100, 100, 103, 101, math.NaN()} {
		m.Observe(0, 1, S)
	}
	if got := m.Value(); math.Abs(got-0.03) > 1e-12 {
		t.Errorf("drift = %g, want 0.03", got)
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("reset did not clear drift")
	}
}

func TestEvaluate(t *testing.T) {
	tr := &sim.Trajectory{
		X: []float64{0, 1, 2.5},
		T: []float64{10, 3.7, 0.8},
		S: []float64{1, 1, 1.5},
	}
	got := Evaluate(tr, NewEntropyDrift(), NewExpansion())
	if got["efolds"] != 2.5 {
		t.Errorf("efolds = %g, want 2.5", got["efolds"])
	}
	if math.Abs(got["entropy_drift"]-0.5) > 1e-12 {
		t.Errorf("entropy_drift = %g, want 0.5", got["entropy_drift"])
	}
}
