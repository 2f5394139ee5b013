// Package experiment wires a model definition through the solver and the
// post-processing, and runs many such solves concurrently.
package experiment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/san-kum/relicsim/internal/config"
	"github.com/san-kum/relicsim/internal/metrics"
	"github.com/san-kum/relicsim/internal/relic"
	"github.com/san-kum/relicsim/internal/sim"
	"github.com/san-kum/relicsim/internal/storage"
)

// Thermodynamics is what a full solve needs from the thermo provider.
type Thermodynamics interface {
	sim.Thermodynamics
	TemperatureFromEntropy(s float64) float64
}

type Experiment struct {
	model     *config.Model
	thermo    Thermodynamics
	logger    *slog.Logger
	observers []sim.Observer
}

func New(model *config.Model, th Thermodynamics, logger *slog.Logger) *Experiment {
	if logger == nil {
		logger = slog.Default()
	}
	return &Experiment{model: model, thermo: th, logger: logger}
}

func (e *Experiment) AddObserver(o sim.Observer) { e.observers = append(e.observers, o) }

// Outcome is a finished solve with its observables.
type Outcome struct {
	Model   *config.Model
	Result  *sim.Result
	Summary relic.Summary
	Metrics map[string]float64
}

// Run builds fresh species, evolves them and summarises the result. On a
// solver failure the partial result is returned with the error.
func (e *Experiment) Run(ctx context.Context) (*Outcome, error) {
	list, err := e.model.Build()
	if err != nil {
		return nil, err
	}
	rec := metrics.NewRecorder()
	cfg := e.model.SimConfig()
	cfg.Logger = e.logger.With("model", e.model.Name)
	cfg.Metrics = rec

	s, err := sim.New(list, e.thermo, cfg)
	if err != nil {
		return nil, err
	}
	for _, o := range e.observers {
		s.AddObserver(o)
	}

	out := &Outcome{Model: e.model}
	out.Result, err = s.Run(ctx, e.model.ReheatTemperature, e.model.FinalTemperature)
	if err != nil {
		return out, fmt.Errorf("model %s: %w", e.model.Name, err)
	}

	out.Summary, err = relic.Summarize(list, out.Result.Trajectory.T, e.model.FinalTemperature, e.thermo)
	if err != nil {
		return out, err
	}
	out.Metrics, err = rec.Snapshot()
	if err != nil {
		return out, err
	}
	for k, v := range metrics.Evaluate(out.Result.Trajectory, metrics.NewEntropyDrift(), metrics.NewExpansion()) {
		out.Metrics[k] = v
	}
	out.Metrics["elapsed_seconds"] = out.Result.Elapsed.Seconds()
	return out, nil
}

// Run converts an outcome into its storable form.
func (o *Outcome) Run() storage.Run {
	return storage.Run{Model: o.Model, Result: o.Result, Summary: o.Summary, Metrics: o.Metrics}
}
