package integrators

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/relicsim/internal/dynamo"
)

const epsilon = 2.220446049250313e-16

// Modified Rosenbrock triple of Shampine & Reichelt (ode23s).
var (
	rosD   = 1 / (2 + math.Sqrt2)
	rosE32 = 6 + math.Sqrt2
)

type Options struct {
	RTol float64
	ATol float64
	// InitialStep is the first trial step; zero selects one from the
	// derivative at x0.
	InitialStep float64
	// MaxStep bounds the step size; zero means the full span.
	MaxStep  float64
	MaxSteps int
}

func DefaultOptions() Options {
	return Options{
		RTol:     1e-6,
		ATol:     1e-8,
		MaxSteps: 200000,
	}
}

type Stats struct {
	Steps          int
	Rejected       int
	Evaluations    int
	Jacobians      int
	Factorizations int
	// Singular counts steps retried because W = I - hdJ was singular.
	Singular int
}

func (s *Stats) Add(o Stats) {
	s.Steps += o.Steps
	s.Rejected += o.Rejected
	s.Evaluations += o.Evaluations
	s.Jacobians += o.Jacobians
	s.Factorizations += o.Factorizations
	s.Singular += o.Singular
}

// Result holds the samples of one integration. X[0], Y[0] is the initial
// point and the last entry is where integration stopped.
type Result struct {
	X     []float64
	Y     []dynamo.State
	Hit   *dynamo.EventHit
	Stats Stats
}

// Rosenbrock is a linearly implicit, L-stable second-order method with an
// embedded third-order error estimate, suited to the stiff reaction
// networks. It evaluates the Jacobian once per step.
type Rosenbrock struct {
	opts Options
}

func NewRosenbrock(opts Options) (*Rosenbrock, error) {
	if !(opts.RTol > 0) || !(opts.ATol > 0) {
		return nil, &dynamo.ConfigError{Subject: "rosenbrock", Reason: fmt.Sprintf("tolerances must be positive (rtol=%g, atol=%g)", opts.RTol, opts.ATol)}
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultOptions().MaxSteps
	}
	return &Rosenbrock{opts: opts}, nil
}

type rosStep struct {
	x, h   float64
	y      dynamo.State
	k1, k2 dynamo.State
}

// dense evaluates the continuous extension at x in [s.x, s.x+s.h].
func (s *rosStep) dense(x float64) dynamo.State {
	t := (x - s.x) / s.h
	w1 := t * (1 - t) / (1 - 2*rosD)
	w2 := t * (t - 2*rosD) / (1 - 2*rosD)
	out := make(dynamo.State, len(s.y))
	for i := range out {
		out[i] = s.y[i] + s.h*(w1*s.k1[i]+w2*s.k2[i])
	}
	return out
}

func (r *Rosenbrock) errorScale(y, yNew dynamo.State) []float64 {
	sc := make([]float64, len(y))
	for i := range y {
		sc[i] = r.opts.ATol + r.opts.RTol*math.Max(math.Abs(y[i]), math.Abs(yNew[i]))
	}
	return sc
}

// initialStep follows Hairer, Nørsett and Wanner (II.4): a first guess from
// |y|/|f|, refined by an explicit Euler trial that estimates the second
// derivative. The result is never below 1e-8 of the span.
func (r *Rosenbrock) initialStep(x float64, y, f0 dynamo.State, span float64, eval func(float64, dynamo.State) dynamo.State) float64 {
	if r.opts.InitialStep > 0 {
		return math.Min(r.opts.InitialStep, span)
	}
	sc := r.errorScale(y, y)
	d0 := y.WeightedRMS(sc)
	d1 := f0.WeightedRMS(sc)
	h0 := 1e-6
	if d0 >= 1e-5 && d1 >= 1e-5 {
		h0 = 0.01 * d0 / d1
	}
	h0 = math.Min(h0, span)

	y1 := make(dynamo.State, len(y))
	for i := range y1 {
		y1[i] = y[i] + h0*f0[i]
	}
	f1 := eval(x+h0, y1)
	diff := make(dynamo.State, len(y))
	for i := range diff {
		diff[i] = f1[i] - f0[i]
	}
	d2 := diff.WeightedRMS(sc) / h0

	var h1 float64
	if dm := math.Max(d1, d2); dm > 1e-15 && !math.IsNaN(dm) {
		// order 2 method
		h1 = math.Pow(0.01/dm, 1.0/3)
	} else {
		h1 = math.Max(1e-6, 1e-3*h0)
	}
	h := math.Max(math.Min(100*h0, h1), 1e-8*span)
	return math.Min(h, span)
}

// Integrate advances y0 from x0 towards xEnd. The state is sampled at every
// grid point in (x0, stop) through the dense output. Integration stops at
// the first sign change of any event function, located by bisection on the
// dense output, and the hit is reported in the result.
func (r *Rosenbrock) Integrate(ctx context.Context, sys dynamo.JacobianSystem, x0 float64, y0 dynamo.State, xEnd float64, grid []float64, events []dynamo.Event) (*Result, error) {
	n := sys.Dim()
	if len(y0) != n {
		return nil, fmt.Errorf("integrators: state has %d entries, system %d: %w", len(y0), n, dynamo.ErrDimensionMismatch)
	}
	if !(xEnd > x0) {
		return nil, fmt.Errorf("integrators: empty interval [%g, %g]", x0, xEnd)
	}

	res := &Result{X: []float64{x0}, Y: []dynamo.State{y0.Clone()}}
	st := &res.Stats
	eval := func(x float64, y dynamo.State) dynamo.State {
		st.Evaluations++
		dy := make(dynamo.State, n)
		sys.Derive(x, y, dy)
		return dy
	}

	x := x0
	y := y0.Clone()
	f0 := eval(x, y)
	span := xEnd - x0
	maxStep := span
	if r.opts.MaxStep > 0 {
		maxStep = math.Min(maxStep, r.opts.MaxStep)
	}
	h := math.Min(r.initialStep(x, y, f0, span, eval), maxStep)

	gPrev := make([]float64, len(events))
	for i, ev := range events {
		gPrev[i] = ev.Func(x, y)
	}
	gi := 0
	for gi < len(grid) && grid[gi] <= x0 {
		gi++
	}

	jac := mat.NewDense(n, n, nil)
	w := mat.NewDense(n, n, nil)
	var lu mat.LU
	fx := make(dynamo.State, n)
	rejectedLast := false

	for {
		if st.Steps+st.Rejected >= r.opts.MaxSteps {
			return res, &Failure{X: x, Y: y, H: h, Err: dynamo.ErrMaxSteps}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		minStep := 16 * epsilon * math.Max(1, math.Abs(x))
		if h < minStep {
			return res, &Failure{X: x, Y: y, H: h, Err: dynamo.ErrStepTooSmall}
		}
		last := false
		if x+h >= xEnd {
			h = xEnd - x
			last = true
		}

		sys.Jacobian(x, y, jac)
		st.Jacobians++

		// ∂f/∂x by forward difference
		dx := math.Sqrt(epsilon) * math.Max(math.Abs(x), math.Abs(h))
		fdx := eval(x+dx, y)
		for i := range fx {
			fx[i] = (fdx[i] - f0[i]) / dx
		}

		var step rosStep
		var yNew, f2 dynamo.State
		var errNorm float64
		cause := dynamo.ErrStepTooSmall
		for {
			if h < minStep {
				return res, &Failure{X: x, Y: y, H: h, Err: cause}
			}
			hd := h * rosD
			w.Scale(-hd, jac)
			for i := 0; i < n; i++ {
				w.Set(i, i, w.At(i, i)+1)
			}
			lu.Factorize(w)
			st.Factorizations++

			solve := func(rhs dynamo.State) (dynamo.State, error) {
				var out mat.VecDense
				if err := lu.SolveVecTo(&out, false, mat.NewVecDense(n, rhs)); err != nil {
					return nil, err
				}
				return dynamo.State(out.RawVector().Data), nil
			}

			rhs := make(dynamo.State, n)
			for i := range rhs {
				rhs[i] = f0[i] + hd*fx[i]
			}
			k1, err := solve(rhs)
			if err != nil {
				st.Singular++
				h /= 2
				last = false
				cause = dynamo.ErrSingularMatrix
				continue
			}

			ymid := make(dynamo.State, n)
			for i := range ymid {
				ymid[i] = y[i] + 0.5*h*k1[i]
			}
			f1 := eval(x+0.5*h, ymid)
			for i := range rhs {
				rhs[i] = f1[i] - k1[i]
			}
			k2, err := solve(rhs)
			if err != nil {
				st.Singular++
				h /= 2
				last = false
				cause = dynamo.ErrSingularMatrix
				continue
			}
			for i := range k2 {
				k2[i] += k1[i]
			}

			yNew = make(dynamo.State, n)
			for i := range yNew {
				yNew[i] = y[i] + h*k2[i]
			}
			xNew := x + h
			if last {
				xNew = xEnd
			}
			f2 = eval(xNew, yNew)
			for i := range rhs {
				rhs[i] = f2[i] - rosE32*(k2[i]-f1[i]) - 2*(k1[i]-f0[i]) + hd*fx[i]
			}
			k3, err := solve(rhs)
			if err != nil {
				st.Singular++
				h /= 2
				last = false
				cause = dynamo.ErrSingularMatrix
				continue
			}

			errVec := make(dynamo.State, n)
			for i := range errVec {
				errVec[i] = h / 6 * (k1[i] - 2*k2[i] + k3[i])
			}
			errNorm = errVec.WeightedRMS(r.errorScale(y, yNew))
			if math.IsNaN(errNorm) || !yNew.IsValid() {
				st.Rejected++
				h /= 4
				last = false
				rejectedLast = true
				cause = dynamo.ErrNonFinite
				continue
			}
			if errNorm > 1 {
				st.Rejected++
				h *= math.Max(0.2, 0.8*math.Pow(errNorm, -1.0/3))
				last = false
				rejectedLast = true
				cause = dynamo.ErrStepTooSmall
				continue
			}
			step = rosStep{x: x, h: h, y: y, k1: k1, k2: k2}
			break
		}

		st.Steps++
		xNew := x + h
		if last {
			xNew = xEnd
		}

		// events
		var hit *dynamo.EventHit
		gNew := make([]float64, len(events))
		for i, ev := range events {
			gNew[i] = ev.Func(xNew, yNew)
			if !crossed(gPrev[i], gNew[i]) {
				continue
			}
			xr := locate(ev, &step, x, xNew, gPrev[i])
			if hit == nil || xr < hit.X {
				hit = &dynamo.EventHit{Event: ev, X: xr}
			}
		}
		stop := xNew
		if hit != nil {
			stop = hit.X
			hit.Y = step.dense(hit.X)
		}

		for gi < len(grid) && grid[gi] < stop {
			res.X = append(res.X, grid[gi])
			res.Y = append(res.Y, step.dense(grid[gi]))
			gi++
		}

		if hit != nil {
			res.X = append(res.X, hit.X)
			res.Y = append(res.Y, hit.Y)
			res.Hit = hit
			return res, nil
		}
		if last {
			res.X = append(res.X, xEnd)
			res.Y = append(res.Y, yNew)
			return res, nil
		}

		x, y, f0, gPrev = xNew, yNew, f2, gNew
		factor := 5.0
		if errNorm > 0 {
			factor = math.Min(5, 0.8*math.Pow(errNorm, -1.0/3))
		}
		if rejectedLast {
			factor = math.Min(1, factor)
			rejectedLast = false
		}
		h = math.Min(h*math.Max(0.2, factor), maxStep)
	}
}

func crossed(a, b float64) bool {
	if a == 0 || math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	return b == 0 || (a < 0) != (b < 0)
}

// locate bisects the event function on the dense output of step.
func locate(ev dynamo.Event, step *rosStep, lo, hi, glo float64) float64 {
	tol := 1e-12 * math.Max(1, math.Abs(hi))
	for i := 0; i < 100 && hi-lo > tol; i++ {
		mid := 0.5 * (lo + hi)
		g := ev.Func(mid, step.dense(mid))
		if g == 0 {
			return mid
		}
		if (g < 0) == (glo < 0) {
			lo, glo = mid, g
		} else {
			hi = mid
		}
	}
	return hi
}
