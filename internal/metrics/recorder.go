// Package metrics collects solver telemetry with Prometheus counters and
// computes quality measures over a finished trajectory.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/san-kum/relicsim/internal/sim"
)

const (
	namespace = "relicsim"
	subsystem = "solver"
)

// Recorder implements sim.Recorder on a private registry, so each solve
// can carry its own counts.
type Recorder struct {
	reg *prometheus.Registry

	RHSEvaluations      prometheus.Counter
	JacobianEvaluations prometheus.Counter
	// Labels: outcome (accepted, rejected)
	Steps    *prometheus.CounterVec
	Segments prometheus.Counter
	// Labels: kind (decay, depletion, departure, oscillation, target)
	Events    *prometheus.CounterVec
	NonFinite prometheus.Counter
}

var _ sim.Recorder = (*Recorder)(nil)

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func NewRecorder() *Recorder {
	r := &Recorder{
		reg:                 prometheus.NewRegistry(),
		RHSEvaluations:      counter("rhs_evaluations_total", "Right-hand side evaluations of the reaction network"),
		JacobianEvaluations: counter("jacobian_evaluations_total", "Jacobian evaluations of the reaction network"),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "steps_total",
			Help:      "Integrator steps by outcome",
		}, []string{"outcome"}),
		Segments: counter("segments_total", "Completed integration segments"),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Fired events by kind",
		}, []string{"kind"}),
		NonFinite: counter("nonfinite_replacements_total", "Non-finite values replaced by zero"),
	}
	r.reg.MustRegister(r.RHSEvaluations, r.JacobianEvaluations, r.Steps, r.Segments, r.Events, r.NonFinite)
	return r
}

// Registry exposes the private registry, e.g. for an HTTP handler.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

func (r *Recorder) RHSEvaluated()      { r.RHSEvaluations.Inc() }
func (r *Recorder) JacobianEvaluated() { r.JacobianEvaluations.Inc() }

func (r *Recorder) NonFiniteReplaced(n int) { r.NonFinite.Add(float64(n)) }

func (r *Recorder) StepsTaken(accepted, rejected int) {
	r.Steps.WithLabelValues("accepted").Add(float64(accepted))
	r.Steps.WithLabelValues("rejected").Add(float64(rejected))
}

func (r *Recorder) SegmentCompleted()      { r.Segments.Inc() }
func (r *Recorder) EventFired(kind string) { r.Events.WithLabelValues(kind).Inc() }

// Snapshot flattens every counter into name → value, with label values
// appended to the name: "steps_accepted", "events_decay".
func (r *Recorder) Snapshot() (map[string]float64, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, err
	}
	prefix := namespace + "_" + subsystem + "_"
	out := make(map[string]float64)
	for _, mf := range families {
		base := strings.TrimSuffix(strings.TrimPrefix(mf.GetName(), prefix), "_total")
		for _, m := range mf.GetMetric() {
			name := base
			for _, lp := range m.GetLabel() {
				name += "_" + lp.GetValue()
			}
			out[name] = m.GetCounter().GetValue()
		}
	}
	return out, nil
}
