package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/san-kum/relicsim/internal/dynamo"
	"github.com/san-kum/relicsim/internal/integrators"
	"github.com/san-kum/relicsim/internal/network"
	"github.com/san-kum/relicsim/internal/species"
)

// Simulator evolves a species list from a reheat temperature down to a
// final temperature as a sequence of integration segments separated by
// events.
type Simulator struct {
	list      species.List
	thermo    Thermodynamics
	cfg       Config
	logger    *slog.Logger
	metrics   Recorder
	observers []Observer
}

func New(list species.List, th Thermodynamics, cfg Config) (*Simulator, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if err := list.Validate(); err != nil {
		return nil, err
	}
	if th == nil {
		return nil, &dynamo.ConfigError{Subject: "simulator", Reason: "nil thermodynamics"}
	}
	s := &Simulator{
		list:    list,
		thermo:  th,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	return s, nil
}

func (s *Simulator) AddObserver(o Observer) { s.observers = append(s.observers, o) }

func validateConfig(cfg Config) error {
	if !(cfg.RTol > 0) || !(cfg.ATol > 0) {
		return &dynamo.ConfigError{Subject: "solver", Reason: fmt.Sprintf("tolerances must be positive (rtol=%g, atol=%g)", cfg.RTol, cfg.ATol)}
	}
	if cfg.Points < 2 {
		return &dynamo.ConfigError{Subject: "solver", Reason: fmt.Sprintf("need at least 2 output points, got %d", cfg.Points)}
	}
	if cfg.MaxSegments <= 0 {
		return &dynamo.ConfigError{Subject: "solver", Reason: "max segments must be positive"}
	}
	switch cfg.DepartureTest {
	case DepartureRatio:
		if !(cfg.DepartureThreshold > 0) {
			return &dynamo.ConfigError{Subject: "solver", Reason: "departure threshold must be positive"}
		}
	case DepartureOff:
	default:
		return &dynamo.ConfigError{Subject: "solver", Reason: fmt.Sprintf("unknown departure test %q", cfg.DepartureTest)}
	}
	if cfg.XMargin < 0 {
		return &dynamo.ConfigError{Subject: "solver", Reason: "x margin must not be negative"}
	}
	return nil
}

// xRange is the e-folds of expansion from T0 to TF under entropy
// conservation plus the configured margin.
func (s *Simulator) xRange(T0, TF float64) float64 {
	return math.Log(T0/TF) + math.Log(s.thermo.GStarS(T0)/s.thermo.GStarS(TF))/3 + s.cfg.XMargin
}

func linspace(a, b float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = a + (b-a)*float64(i)/float64(n-1)
	}
	return out
}

// Run evolves the species from T0 to TF (GeV). Species lifecycle fields and
// density series are filled in place.
func (s *Simulator) Run(ctx context.Context, T0, TF float64) (*Result, error) {
	if !(T0 > TF) || !(TF > 0) {
		return nil, &dynamo.ConfigError{Subject: "temperatures", Reason: fmt.Sprintf("need T0 > TF > 0, got T0=%g TF=%g", T0, TF)}
	}
	start := time.Now()
	if s.cfg.MaxWallClock > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.MaxWallClock)
		defer cancel()
	}

	rosOpts := integrators.DefaultOptions()
	rosOpts.RTol, rosOpts.ATol = s.cfg.RTol, s.cfg.ATol
	ros, err := integrators.NewRosenbrock(rosOpts)
	if err != nil {
		return nil, err
	}

	n, R, err := s.initialConditions(T0)
	if err != nil {
		return nil, err
	}
	xEnd := s.xRange(T0, TF)
	grid := linspace(0, xEnd, s.cfg.Points)

	res := &Result{Species: s.list, Trajectory: &Trajectory{}, T0: T0, TF: TF}
	x, T := 0.0, T0
	S := s.thermo.EntropyDensity(T0)
	s.record(res.Trajectory, x, T, S, n, R)
	s.logger.Info("starting evolution", "T0", T0, "TF", TF, "x_end", xEnd, "species", len(s.list))

	for seg := 0; ; seg++ {
		if seg >= s.cfg.MaxSegments {
			return res, fmt.Errorf("after %d segments at T=%.4g GeV: %w", seg, T, dynamo.ErrTooManySegments)
		}
		if err := s.checkContext(ctx); err != nil {
			return res, err
		}

		nw, y, err := s.buildSegment(seg, n, R, S)
		if err != nil {
			return res, err
		}
		if s.immediateEvents(nw, x, y, T, TF, n, R) {
			res.Reached = true
			break
		}
		if !s.anyEvolving() {
			s.logger.Info("no active species left", "T", T)
			break
		}
		// flags or densities may have changed
		nw, y, err = s.buildSegment(seg, n, R, S)
		if err != nil {
			return res, err
		}

		events := s.segmentEvents(nw, T, TF)
		out, err := ros.Integrate(ctx, nw, x, y, xEnd, grid, events)
		if out != nil {
			res.Stats.Add(out.Stats)
			s.metrics.StepsTaken(out.Stats.Steps, out.Stats.Rejected)
		}
		if err != nil {
			if cerr := s.checkContext(ctx); cerr != nil {
				return res, cerr
			}
			return res, s.integrationError(seg, nw, err)
		}

		for i := 1; i < len(out.X); i++ {
			nn, rho, Ti, Si := nw.Densities(out.X[i], out.Y[i])
			res.Trajectory.append(out.X[i], Ti, Si, math.Exp(out.X[i]))
			for j, sp := range s.list {
				sp.Append(nn[j], rho[j])
			}
		}

		report := SegmentReport{
			Index:  seg,
			XStart: x,
			TStart: T,
			Points: len(out.X) - 1,
			Stats:  out.Stats,
		}
		last := len(out.X) - 1
		x = out.X[last]
		var rho []float64
		n, rho, T, S = nw.Densities(x, out.Y[last])
		for j, sp := range s.list {
			R[j] = math.NaN()
			if sp.IsActive() {
				R[j] = rho[j] / n[j]
			}
			if sp.Kind() == species.CoherentOscillation {
				R[j] = sp.Mass(T)
			}
		}
		report.XEnd, report.TEnd = x, T

		stop := false
		if hit := out.Hit; hit != nil {
			report.Event = hit.Event.Name
			if hit.Event.Index >= 0 {
				report.Species = s.list[hit.Event.Index].Label()
			}
			stop = s.applyEvent(hit.Event.Name, hit.Event.Index, T, n, R)
			if stop {
				s.metrics.EventFired(EventTarget)
				res.Reached = true
			}
		}
		res.Segments = append(res.Segments, report)
		s.metrics.SegmentCompleted()
		for _, o := range s.observers {
			o.OnSegment(report)
		}
		s.logger.Debug("segment finished", "segment", seg, "event", report.Event, "species", report.Species,
			"T", T, "x", x, "steps", out.Stats.Steps, "rejected", out.Stats.Rejected)

		if stop {
			break
		}
		if out.Hit == nil {
			s.logger.Warn("reached end of integration range before target temperature", "T", T, "TF", TF)
			break
		}
	}

	res.Elapsed = time.Since(start)
	s.logger.Info("evolution finished", "T", T, "segments", len(res.Segments),
		"steps", res.Stats.Steps, "elapsed", res.Elapsed)
	return res, nil
}

// buildSegment normalises the current densities into a fresh network.
func (s *Simulator) buildSegment(seg int, n, R []float64, S float64) (*network.Network, dynamo.State, error) {
	norms := make([]float64, len(n))
	for i, v := range n {
		norms[i] = positiveOrOne(v)
	}
	nw, err := network.New(s.list, s.thermo, network.Segment{
		Index:           seg,
		Norms:           norms,
		SNorm:           S,
		NumericJacobian: s.cfg.NumericJacobian,
		Logger:          s.logger,
		Instruments:     s.metrics,
	})
	if err != nil {
		return nil, nil, err
	}
	return nw, nw.Encode(n, R, S), nil
}

// anyEvolving reports whether a species is active or waiting to oscillate.
func (s *Simulator) anyEvolving() bool {
	for _, sp := range s.list {
		if sp.IsActive() || pendingOscillation(sp) {
			return true
		}
	}
	return false
}

func (s *Simulator) record(tr *Trajectory, x, T, S float64, n, R []float64) {
	tr.append(x, T, S, math.Exp(x))
	for i, sp := range s.list {
		if !sp.IsActive() {
			sp.Append(math.NaN(), math.NaN())
			continue
		}
		sp.Append(n[i], n[i]*R[i])
	}
}

func (s *Simulator) checkContext(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && s.cfg.MaxWallClock > 0 {
		return fmt.Errorf("after %s: %w", s.cfg.MaxWallClock, dynamo.ErrWallClock)
	}
	return err
}

func (s *Simulator) integrationError(seg int, nw *network.Network, err error) error {
	var f *integrators.Failure
	if !errors.As(err, &f) {
		return err
	}
	return &dynamo.IntegrationError{
		Segment:     seg,
		X:           f.X,
		Temperature: nw.Temperature(f.X, f.Y),
		Diagnostic:  f.Error(),
		Wrapped:     f.Err,
	}
}
