package integrators

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/relicsim/internal/dynamo"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

// RK45 is an explicit Dormand-Prince pair for the non-stiff auxiliary
// problems of post-processing.
type RK45 struct {
	safety   float64
	minScale float64
	maxScale float64
	maxSteps int
}

func NewRK45() *RK45 {
	return &RK45{
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
		maxSteps: 100000,
	}
}

func derive(sys dynamo.System, x float64, y dynamo.State) dynamo.State {
	dy := make(dynamo.State, len(y))
	sys.Derive(x, y, dy)
	return dy
}

// StepAdaptive attempts one step of size h. It returns the new state, the
// suggested next step and whether the local error met tol. A rejected step
// must be retried with the suggested size.
func (r *RK45) StepAdaptive(sys dynamo.System, y dynamo.State, x, h, tol float64) (dynamo.State, float64, bool) {
	n := len(y)

	k1 := derive(sys, x, y)

	y2 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		y2[i] = y[i] + h*b21*k1[i]
	}
	k2 := derive(sys, x+a2*h, y2)

	y3 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		y3[i] = y[i] + h*(b31*k1[i]+b32*k2[i])
	}
	k3 := derive(sys, x+a3*h, y3)

	y4 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		y4[i] = y[i] + h*(b41*k1[i]+b42*k2[i]+b43*k3[i])
	}
	k4 := derive(sys, x+a4*h, y4)

	y5 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		y5[i] = y[i] + h*(b51*k1[i]+b52*k2[i]+b53*k3[i]+b54*k4[i])
	}
	k5 := derive(sys, x+a5*h, y5)

	y6 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		y6[i] = y[i] + h*(b61*k1[i]+b62*k2[i]+b63*k3[i]+b64*k4[i]+b65*k5[i])
	}
	k6 := derive(sys, x+h, y6)

	yNew := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		yNew[i] = y[i] + h*(c1*k1[i]+c3*k3[i]+c4*k4[i]+c5*k5[i]+c6*k6[i])
	}

	k7 := derive(sys, x+h, yNew)

	errMax := 0.0
	for i := 0; i < n; i++ {
		errEst := h * (dc1*k1[i] + dc3*k3[i] + dc4*k4[i] + dc5*k5[i] + dc6*k6[i] + dc7*k7[i])
		scale := math.Abs(y[i]) + math.Abs(h*k1[i]) + 1e-10
		errMax = math.Max(errMax, math.Abs(errEst)/scale)
	}

	errRatio := errMax / tol
	if math.IsNaN(errRatio) {
		return yNew, h * r.minScale, false
	}

	var hNew float64
	if errRatio > 1 {
		scale := math.Max(r.minScale, r.safety*math.Pow(errRatio, -0.25))
		hNew = h * scale
	} else {
		if errRatio > 0 {
			scale := math.Min(r.maxScale, r.safety*math.Pow(errRatio, -0.2))
			hNew = h * scale
		} else {
			hNew = h * r.maxScale
		}
	}

	return yNew, hNew, errRatio <= 1
}

// Integrate advances y0 from x0 to x1 with relative tolerance tol.
func (r *RK45) Integrate(ctx context.Context, sys dynamo.System, x0 float64, y0 dynamo.State, x1, tol float64) (dynamo.State, Stats, error) {
	var stats Stats
	if len(y0) != sys.Dim() {
		return nil, stats, dynamo.ErrDimensionMismatch
	}
	y := y0.Clone()
	x := x0
	span := x1 - x0
	if span == 0 {
		return y, stats, nil
	}
	if span < 0 {
		return nil, stats, fmt.Errorf("integrators: cannot integrate backwards from %g to %g", x0, x1)
	}
	h := span / 100

	for steps := 0; x < x1; steps++ {
		if steps >= r.maxSteps {
			return y, stats, &Failure{X: x, Y: y, H: h, Err: dynamo.ErrMaxSteps}
		}
		if err := ctx.Err(); err != nil {
			return y, stats, err
		}
		last := x+h >= x1
		if last {
			h = x1 - x
		}
		if h <= 16*epsilon*math.Max(1, math.Abs(x)) {
			return y, stats, &Failure{X: x, Y: y, H: h, Err: dynamo.ErrStepTooSmall}
		}

		yNew, hNew, ok := r.StepAdaptive(sys, y, x, h, tol)
		stats.Evaluations += 7
		if !ok || !yNew.IsValid() {
			stats.Rejected++
			h = hNew
			continue
		}
		stats.Steps++
		x += h
		if last {
			x = x1
		}
		y = yNew
		h = hNew
	}
	return y, stats, nil
}

// Failure describes where an integration gave up.
type Failure struct {
	X   float64
	Y   dynamo.State
	H   float64
	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%v at x=%.6g (step %.3g)", f.Err, f.X, f.H)
}

func (f *Failure) Unwrap() error { return f.Err }
