package experiment

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/relicsim/internal/config"
	"github.com/san-kum/relicsim/internal/sim"
	"github.com/san-kum/relicsim/internal/thermo"
)

var (
	providerOnce sync.Once
	provider     *thermo.Provider
	providerErr  error
)

func testProvider(t *testing.T) *thermo.Provider {
	t.Helper()
	providerOnce.Do(func() {
		opts := thermo.DefaultOptions()
		opts.TMin, opts.TMax, opts.PointsPerDecade = 1e-4, 1e4, 10
		provider, providerErr = thermo.Build(opts)
	})
	require.NoError(t, providerErr)
	return provider
}

var (
	fullOnce sync.Once
	full     *thermo.Provider
	fullErr  error
)

// fullProvider spans the default temperature range on a coarser grid.
func fullProvider(t *testing.T) *thermo.Provider {
	t.Helper()
	fullOnce.Do(func() {
		opts := thermo.DefaultOptions()
		opts.PointsPerDecade = 20
		full, fullErr = thermo.Build(opts)
	})
	require.NoError(t, fullErr)
	return full
}

func quickWimp() *config.Model {
	m := config.GetPreset("wimp")
	m.ReheatTemperature, m.FinalTemperature = 1e3, 1
	m.Points = 100
	return m
}

func TestExperimentRun(t *testing.T) {
	th := testProvider(t)
	exp := New(quickWimp(), th, nil)
	var segments int
	exp.AddObserver(sim.ObserverFunc(func(sim.SegmentReport) { segments++ }))

	out, err := exp.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Summary.Species, 1)

	assert.True(t, out.Result.Reached)
	assert.Equal(t, len(out.Result.Segments), segments)
	assert.Greater(t, out.Summary.Species[0].Omega, 0.0)
	assert.NotNil(t, out.Summary.Species[0].TDecouple)
	assert.Equal(t, float64(segments), out.Metrics["segments"])
	assert.Greater(t, out.Metrics["rhs_evaluations"], 0.0)
	assert.Equal(t, 1.0, out.Metrics["events_departure"])
	assert.Less(t, out.Metrics["entropy_drift"], 1e-9)

	run := out.Run()
	assert.Same(t, out.Result, run.Result)
}

func TestScanKeepsOrder(t *testing.T) {
	th := testProvider(t)
	reg := NewRegistry()
	models, err := reg.Sweep(quickWimp, "DM", "annihilation", []float64{1e-9, 4e-9})
	require.NoError(t, err)
	require.Len(t, models, 2)

	var done atomic.Int32
	results, err := Scan(context.Background(), models, th, ScanOptions{
		Concurrency: 2,
		OnDone:      func(int, ScanResult) { done.Add(1) },
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int32(2), done.Load())

	for _, r := range results {
		require.NoError(t, r.Err)
	}
	weak := results[0].Outcome.Summary.Species[0].Omega
	strong := results[1].Outcome.Summary.Species[0].Omega
	// stronger annihilation leaves fewer relics
	assert.Greater(t, weak, strong)
	assert.Contains(t, results[1].Outcome.Model.Name, "annihilation=4e-09")
}

func TestScanErrors(t *testing.T) {
	th := testProvider(t)
	bad := quickWimp()
	bad.FinalTemperature = 2 * bad.ReheatTemperature

	results, err := Scan(context.Background(), []*config.Model{bad, quickWimp()}, th, ScanOptions{Concurrency: 1})
	require.NoError(t, err)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)

	_, err = Scan(context.Background(), []*config.Model{bad}, th, ScanOptions{FailFast: true})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Scan(ctx, []*config.Model{quickWimp()}, th, ScanOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, []string{"amplitude", "annihilation", "mass", "source", "width"}, reg.List())

	_, err := reg.Get("temperature")
	assert.Error(t, err)

	models, err := reg.Sweep(func() *config.Model { return config.GetPreset("mediator") }, "Mediator", "width", []float64{1e-15, 1e-17})
	require.NoError(t, err)
	assert.Equal(t, 1e-15, models[0].Species[0].Decays.Width)
	assert.Equal(t, 1e-17, models[1].Species[0].Decays.Width)

	_, err = reg.Sweep(func() *config.Model { return config.GetPreset("wimp") }, "DM", "width", []float64{1})
	assert.Error(t, err)
	_, err = reg.Sweep(func() *config.Model { return config.GetPreset("wimp") }, "nobody", "mass", []float64{1})
	assert.Error(t, err)
}

func TestSpaced(t *testing.T) {
	v, err := Spaced(1e-10, 1e-8, 3, true)
	require.NoError(t, err)
	assert.InDelta(t, 1e-9, v[1], 1e-21)
	assert.Equal(t, 1e-8, v[2])

	v, err = Spaced(0, 1, 5, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, v)

	v, err = Spaced(3, 7, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, v)

	_, err = Spaced(0, 1, 3, true)
	assert.Error(t, err)
	_, err = Spaced(1, 2, 0, false)
	assert.Error(t, err)
}

func TestPresetsSolve(t *testing.T) {
	if testing.Short() {
		t.Skip("full solves")
	}
	th := fullProvider(t)
	for _, name := range config.ListPresets() {
		t.Run(name, func(t *testing.T) {
			m := config.GetPreset(name)
			m.Points = 200
			out, err := New(m, th, nil).Run(context.Background())
			require.NoError(t, err)
			assert.True(t, out.Result.Reached)
			require.Len(t, out.Summary.Species, len(m.Species))
			total := out.Summary.TotalOmega()
			assert.False(t, math.IsNaN(total) || math.IsInf(total, 0), "total omega %v", total)
			assert.GreaterOrEqual(t, total, 0.0)
		})
	}
}

func TestAxionMassRange(t *testing.T) {
	if testing.Short() {
		t.Skip("full solves")
	}
	th := fullProvider(t)
	for _, mass := range []float64{1e-15, 1e-14, 1e-13, 1e-12, 1e-10} {
		m := config.GetPreset("axion")
		m.Species[0].Mass = mass
		m.Points = 100
		out, err := New(m, th, nil).Run(context.Background())
		require.NoError(t, err, "mass %g", mass)
		sp := out.Summary.Species[0]
		assert.NotNil(t, sp.TOsc, "mass %g", mass)
		assert.Greater(t, sp.Omega, 0.0, "mass %g", mass)
	}
}

// majorana is a 500 GeV Majorana fermion whose s- plus p-wave σv is read
// from a table file.
func majorana(t *testing.T) *config.Model {
	t.Helper()
	const a, b = 1.8e-9, 3e-9
	var sb strings.Builder
	sb.WriteString("# x sigmav [GeV^-2]\n")
	for _, x := range []float64{1e-3, 1, 5, 10, 15, 20, 25, 30, 40, 60, 100, 1e3, 1e5, 1e7} {
		fmt.Fprintf(&sb, "%g %.6e\n", x, a+b/x)
	}
	file := filepath.Join(t.TempDir(), "sigmav.dat")
	require.NoError(t, os.WriteFile(file, []byte(sb.String()), 0644))

	m := config.DefaultModel()
	m.Name = "majorana"
	m.Points = 300
	m.Species = []config.SpeciesConfig{{
		Label:        "DM",
		Kind:         "thermal",
		DoF:          -2,
		Mass:         500,
		Annihilation: &config.RateSpec{Table: &config.RateTable{File: file, MassScale: 500}},
	}}
	return m
}

func TestMajoranaRelicIsReproducible(t *testing.T) {
	if testing.Short() {
		t.Skip("full solves")
	}
	th := fullProvider(t)
	m := majorana(t)
	require.Equal(t, 1e4, m.ReheatTemperature)
	require.Equal(t, 1e-3, m.FinalTemperature)

	var omegas, decouple []float64
	for run := 0; run < 2; run++ {
		out, err := New(m.Clone(), th, nil).Run(context.Background())
		require.NoError(t, err)
		assert.True(t, out.Result.Reached)
		sp := out.Summary.Species[0]
		require.NotNil(t, sp.TDecouple)
		assert.Nil(t, sp.TDecay)
		omegas = append(omegas, sp.Omega)
		decouple = append(decouple, *sp.TDecouple)
	}

	ratio := 500 / decouple[0]
	assert.GreaterOrEqual(t, ratio, 20.0)
	assert.LessOrEqual(t, ratio, 30.0)
	assert.Greater(t, omegas[0], 0.02)
	assert.Less(t, omegas[0], 0.5)
	assert.Equal(t, omegas[0], omegas[1])
	assert.Equal(t, decouple[0], decouple[1])
}
