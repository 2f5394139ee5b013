package network

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/relicsim/internal/dynamo"
	"github.com/san-kum/relicsim/internal/species"
)

// flatThermo has constant g* = g*s.
type flatThermo struct{ g float64 }

func (f flatThermo) pre() float64 { return 2 * math.Pi * math.Pi / 45 * f.g }

func (f flatThermo) Temperature(x, NS, Snorm float64) float64 {
	return math.Cbrt(Snorm * math.Exp(NS-3*x) / f.pre())
}
func (f flatThermo) RadiationDensity(T float64) float64 {
	return math.Pi * math.Pi / 30 * f.g * T * T * T * T
}
func (f flatThermo) EntropyDensity(T float64) float64 { return f.pre() * T * T * T }
func (f flatThermo) LogSlopeGStarS(float64) float64   { return 0 }

type countingInstruments struct{ rhs, jac, nonFinite int }

func (c *countingInstruments) RHSEvaluated()           { c.rhs++ }
func (c *countingInstruments) JacobianEvaluated()      { c.jac++ }
func (c *countingInstruments) NonFiniteReplaced(n int) { c.nonFinite += n }

func constant(v float64) species.Func { return func(float64) float64 { return v } }

func pair(v float64) species.PairFunc {
	return func(float64, *species.Species) float64 { return v }
}

// testList builds X → YY / Y γ, a stable Y with every two-body process,
// an equilibrium-clamped W and an oscillating CO field a.
func testList(t *testing.T) species.List {
	t.Helper()
	x, err := species.New("X", species.Thermal, 2, 100.0,
		species.WithAnnihilation(constant(1e-18)),
		species.WithDecays(species.DecayTable{
			Width: 3e-15,
			Channels: []species.Decay{
				{Products: []string{"Y", "Y"}, Fraction: 0.7},
				{Products: []string{"Y", "photon"}, Fraction: 0.3, BathFraction: 0.5},
			},
		}),
		species.WithCoAnnihilation(pair(2e-19)),
		species.WithConversion(pair(1e-15)),
	)
	require.NoError(t, err)
	y, err := species.New("Y", species.Thermal, -2, 10.0,
		species.WithAnnihilation(constant(1e-19)),
		species.WithScattering(pair(3e-19)),
		species.WithSource(constant(1e-12)),
	)
	require.NoError(t, err)
	w, err := species.New("W", species.WeaklyCoupledThermal, 1, 50.0,
		species.WithAnnihilation(constant(1e-15)))
	require.NoError(t, err)
	a, err := species.New("a", species.CoherentOscillation, 0, 1e-3,
		species.WithDecays(species.DecayTable{
			Width:    1e-16,
			Channels: []species.Decay{{Products: []string{"photon", "photon"}, Fraction: 1, BathFraction: 1}},
		}),
		species.WithAmplitude(constant(1)))
	require.NoError(t, err)

	x.RecordDecouple(40)
	y.RecordDecouple(40)
	a.RecordOscillation(40)
	return species.List{x, y, w, a}
}

func testState(t *testing.T, list species.List, th flatThermo, T float64) (*Network, dynamo.State) {
	t.Helper()
	scale := []float64{2, 0.5, 1, 0}
	n := make([]float64, len(list))
	R := make([]float64, len(list))
	for i, s := range list {
		n[i] = s.EquilibriumDensity(T) * scale[i]
		R[i] = s.EquilibriumEnergyRatio(T) * 1.1
	}
	n[3] = 1e3
	R[3] = list[3].Mass(T)
	norms := make([]float64, len(list))
	for i := range norms {
		norms[i] = math.Max(n[i], 1) * 0.9
	}
	S := th.EntropyDensity(T)
	nw, err := New(list, th, Segment{Norms: norms, SNorm: S / 2})
	require.NoError(t, err)
	return nw, nw.Encode(n, R, S)
}

func TestNewValidates(t *testing.T) {
	list := testList(t)
	th := flatThermo{g: 100}

	_, err := New(list, th, Segment{Norms: []float64{1}, SNorm: 1})
	assert.True(t, errors.Is(err, dynamo.ErrDimensionMismatch))

	_, err = New(list, th, Segment{Norms: []float64{1, 1, 1, 1}, SNorm: 0})
	var cfgErr *dynamo.ConfigError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = New(list, nil, Segment{Norms: []float64{1, 1, 1, 1}, SNorm: 1})
	assert.True(t, errors.As(err, &cfgErr))
}

func TestEncodeDecode(t *testing.T) {
	list := testList(t)
	th := flatThermo{g: 100}
	nw, y := testState(t, list, th, 30)

	n, rho, T, S := nw.Densities(0, y)
	assert.InEpsilon(t, 30.0, T, 1e-12)
	assert.InEpsilon(t, th.EntropyDensity(30), S, 1e-12)
	assert.InEpsilon(t, 2*list[0].EquilibriumDensity(30), n[0], 1e-12)
	assert.InEpsilon(t, list[3].Mass(30)*n[3], rho[3], 1e-12)

	list[1].Deactivate()
	n, rho, _, _ = nw.Densities(0, y)
	assert.True(t, math.IsNaN(n[1]))
	assert.True(t, math.IsNaN(rho[1]))
}

func TestJacobianMatchesFiniteDifference(t *testing.T) {
	list := testList(t)
	nw, y := testState(t, list, flatThermo{g: 100}, 30)
	dim := nw.Dim()

	analytic := mat.NewDense(dim, dim, nil)
	nw.Jacobian(0.1, y, analytic)

	numeric := mat.NewDense(dim, dim, nil)
	fd.Jacobian(numeric, func(dst, yy []float64) {
		nw.Derive(0.1, yy, dst)
	}, y, &fd.JacobianSettings{Formula: fd.Central, Step: 1e-6})

	for r := 0; r < dim; r++ {
		rowScale := 0.0
		for c := 0; c < dim; c++ {
			rowScale = math.Max(rowScale, math.Abs(numeric.At(r, c)))
		}
		for c := 0; c < dim; c++ {
			got, want := analytic.At(r, c), numeric.At(r, c)
			assert.InDeltaf(t, want, got, 1e-4*rowScale+1e-12, "J[%d][%d]", r, c)
		}
	}
}

func TestNumericJacobianSwitch(t *testing.T) {
	list := testList(t)
	th := flatThermo{g: 100}
	nw, y := testState(t, list, th, 30)
	seg := nw.seg
	seg.NumericJacobian = true
	num, err := New(list, th, seg)
	require.NoError(t, err)

	dim := nw.Dim()
	a := mat.NewDense(dim, dim, nil)
	b := mat.NewDense(dim, dim, nil)
	nw.Jacobian(0, y, a)
	num.Jacobian(0, y, b)
	// the N_i diagonal of a free species is dominated by dilution terms
	assert.InEpsilon(t, a.At(1, 1), b.At(1, 1), 1e-3)
}

func TestEntropyConservedWithoutDecays(t *testing.T) {
	s, err := species.New("DM", species.Thermal, -2, 500.0, species.WithAnnihilation(constant(1e-9)))
	require.NoError(t, err)
	list := species.List{s}
	th := flatThermo{g: 100}
	nw, err := New(list, th, Segment{Norms: []float64{1}, SNorm: th.EntropyDensity(100)})
	require.NoError(t, err)

	y := nw.Encode([]float64{s.EquilibriumDensity(100)}, []float64{s.EquilibriumEnergyRatio(100)}, th.EntropyDensity(100))
	dy := make(dynamo.State, nw.Dim())
	nw.Derive(0, y, dy)
	assert.Zero(t, dy[2])
}

func TestClampedSpeciesFollowsEquilibrium(t *testing.T) {
	s, err := species.New("DM", species.Thermal, -2, 500.0, species.WithAnnihilation(constant(1e-9)))
	require.NoError(t, err)
	list := species.List{s}
	th := flatThermo{g: 100}
	nw, err := New(list, th, Segment{Norms: []float64{1}, SNorm: th.EntropyDensity(100)})
	require.NoError(t, err)

	T := 100.0
	y := nw.Encode([]float64{s.EquilibriumDensity(T)}, []float64{s.EquilibriumEnergyRatio(T)}, th.EntropyDensity(T))
	dy := make(dynamo.State, nw.Dim())
	nw.Derive(0, y, dy)

	// without entropy injection d ln T/dx = -1
	assert.InEpsilon(t, -s.EquilibriumDensitySlope(T), dy[0], 1e-9)
	assert.InEpsilon(t, -s.EquilibriumEnergyRatioSlope(T), dy[1], 1e-9)
}

func TestFreeStreamingDilution(t *testing.T) {
	s, err := species.New("nu", species.Thermal, -2, 1e-9)
	require.NoError(t, err)
	s.RecordDecouple(1)
	th := flatThermo{g: 10}
	nw, err := New(species.List{s}, th, Segment{Norms: []float64{1}, SNorm: 1})
	require.NoError(t, err)

	R := 1.0
	y := dynamo.State{0, R, 0}
	dy := make(dynamo.State, 3)
	nw.Derive(0, y, dy)
	assert.InDelta(t, -3.0, dy[0], 1e-12)
	// relativistic: P/n = R/3
	assert.InEpsilon(t, -R, dy[1], 1e-12)
}

func TestInactiveSpeciesIsFrozen(t *testing.T) {
	list := testList(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	th := flatThermo{g: 100}
	nw, y := testState(t, list, th, 30)
	seg := nw.seg
	seg.Logger = logger
	nw, err := New(list, th, seg)
	require.NoError(t, err)

	list[1].Deactivate()
	dy := make(dynamo.State, nw.Dim())
	nw.Derive(0, y, dy)
	nw.Derive(0.01, y, dy)

	k := len(list)
	assert.Zero(t, dy[1])
	assert.Zero(t, dy[k+1])
	assert.NotZero(t, dy[0])
	assert.Equal(t, 1, strings.Count(buf.String(), "inactive species"))
}

func TestNonFiniteInputsAreReplaced(t *testing.T) {
	list := testList(t)
	th := flatThermo{g: 100}
	nw, y := testState(t, list, th, 30)
	inst := &countingInstruments{}
	seg := nw.seg
	seg.Instruments = inst
	nw, err := New(list, th, seg)
	require.NoError(t, err)

	y[1] = math.NaN()
	dy := make(dynamo.State, nw.Dim())
	nw.Derive(0, y, dy)

	assert.True(t, dy.IsValid())
	assert.GreaterOrEqual(t, inst.nonFinite, 1)
	assert.Equal(t, 1, inst.rhs)
	assert.True(t, math.IsNaN(y[1]), "caller state must not be modified")
}

func TestDiagnose(t *testing.T) {
	coupled, err := species.New("DM", species.Thermal, -2, 500.0, species.WithAnnihilation(constant(1e-9)))
	require.NoError(t, err)
	free, err := species.New("F", species.Thermal, 1, 500.0)
	require.NoError(t, err)
	list := species.List{coupled, free}
	th := flatThermo{g: 100}
	T := 1000.0
	nw, err := New(list, th, Segment{Norms: []float64{1, 1}, SNorm: th.EntropyDensity(T)})
	require.NoError(t, err)

	n := []float64{coupled.EquilibriumDensity(T), free.EquilibriumDensity(T)}
	R := []float64{coupled.EquilibriumEnergyRatio(T), free.EquilibriumEnergyRatio(T)}
	d := nw.Diagnose(0, nw.Encode(n, R, th.EntropyDensity(T)))

	assert.InEpsilon(t, T, d.T, 1e-9)
	assert.InEpsilon(t, -1.0, d.DlnTdx, 1e-9)
	assert.Less(t, d.DepartureRatio(0), 1e-6)
	assert.True(t, math.IsInf(d.DepartureRatio(1), 1))
	assert.Greater(t, d.RhoTotal, th.RadiationDensity(T))
}
