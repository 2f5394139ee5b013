// Package optim searches a model parameter for a target relic abundance.
package optim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/san-kum/relicsim/internal/config"
	"github.com/san-kum/relicsim/internal/experiment"
)

// Objective evaluates Ωh² at each parameter value. Failed points are NaN.
type Objective func(ctx context.Context, values []float64) ([]float64, error)

// GridSearch brackets the target on a log grid and refines it by bisection
// in log space.
type GridSearch struct {
	Lo, Hi float64
	// Grid is the number of initial points, at least 2.
	Grid int
	// Tolerance is the accepted relative deviation of Ωh² from the target.
	Tolerance float64
	MaxIter   int
	Logger    *slog.Logger
}

func NewGridSearch(lo, hi float64) *GridSearch {
	return &GridSearch{Lo: lo, Hi: hi, Grid: 5, Tolerance: 1e-2, MaxIter: 40}
}

type Result struct {
	Value       float64
	Omega       float64
	Evaluations int
}

var ErrNotBracketed = errors.New("optim: target not bracketed by the grid")

// Search finds a value whose Ωh² lies within Tolerance of target. When the
// grid does not bracket the target the closest grid point is returned with
// ErrNotBracketed.
func (g *GridSearch) Search(ctx context.Context, f Objective, target float64) (Result, error) {
	if !(target > 0) {
		return Result{}, fmt.Errorf("target must be positive, got %g", target)
	}
	if g.Grid < 2 {
		return Result{}, fmt.Errorf("grid needs at least 2 points, got %d", g.Grid)
	}
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}

	values, err := experiment.Spaced(g.Lo, g.Hi, g.Grid, true)
	if err != nil {
		return Result{}, err
	}
	omegas, err := f(ctx, values)
	if err != nil {
		return Result{}, err
	}
	res := Result{Evaluations: len(values)}

	// residual in log space; zero on target
	resid := func(omega float64) float64 { return math.Log(omega / target) }
	tol := math.Log1p(g.Tolerance)

	best := -1
	lo, hi := -1, -1
	for i, o := range omegas {
		if !(o > 0) || math.IsInf(o, 0) {
			continue
		}
		if best < 0 || math.Abs(resid(o)) < math.Abs(resid(omegas[best])) {
			best = i
		}
		if lo >= 0 && hi < 0 && math.Signbit(resid(o)) != math.Signbit(resid(omegas[lo])) {
			hi = i
		}
		if hi < 0 {
			lo = i
		}
	}
	if best < 0 {
		return res, fmt.Errorf("optim: no grid point gave a finite abundance")
	}
	res.Value, res.Omega = values[best], omegas[best]
	if math.Abs(resid(res.Omega)) <= tol {
		return res, nil
	}
	if hi < 0 {
		return res, ErrNotBracketed
	}

	a, b := math.Log(values[lo]), math.Log(values[hi])
	ra := resid(omegas[lo])
	for it := 0; it < g.MaxIter; it++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		mid := 0.5 * (a + b)
		out, err := f(ctx, []float64{math.Exp(mid)})
		res.Evaluations++
		if err != nil {
			return res, err
		}
		o := out[0]
		if !(o > 0) || math.IsInf(o, 0) {
			return res, fmt.Errorf("optim: no abundance at %g", math.Exp(mid))
		}
		rm := resid(o)
		logger.Debug("bisection", "iteration", it, "value", math.Exp(mid), "omega_h2", o)
		if math.Abs(rm) < math.Abs(resid(res.Omega)) {
			res.Value, res.Omega = math.Exp(mid), o
		}
		if math.Abs(rm) <= tol {
			return res, nil
		}
		if math.Signbit(rm) == math.Signbit(ra) {
			a, ra = mid, rm
		} else {
			b = mid
		}
	}
	return res, fmt.Errorf("optim: no convergence after %d iterations", g.MaxIter)
}

// SolverObjective solves the model for every value of the labelled species
// parameter and reports the total Ωh² at the final temperature.
func SolverObjective(base *config.Model, label, param string, th experiment.Thermodynamics, opts experiment.ScanOptions) Objective {
	reg := experiment.NewRegistry()
	return func(ctx context.Context, values []float64) ([]float64, error) {
		models, err := reg.Sweep(base.Clone, label, param, values)
		if err != nil {
			return nil, err
		}
		results, err := experiment.Scan(ctx, models, th, opts)
		if err != nil {
			return nil, err
		}
		omegas := make([]float64, len(results))
		for i, r := range results {
			if r.Err != nil {
				omegas[i] = math.NaN()
				continue
			}
			omegas[i] = r.Outcome.Summary.TotalOmega()
		}
		return omegas, nil
	}
}
