package thermo

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

var (
	sharedOnce sync.Once
	shared     *Provider
	sharedErr  error
)

func testProvider(t *testing.T) *Provider {
	t.Helper()
	sharedOnce.Do(func() {
		opts := DefaultOptions()
		opts.PointsPerDecade = 10
		shared, sharedErr = Build(opts)
	})
	if sharedErr != nil {
		t.Fatalf("build: %v", sharedErr)
	}
	return shared
}

func TestEnergyIntegralLimits(t *testing.T) {
	if g := energyIntegral(0, 1); math.Abs(g-1) > 1e-4 {
		t.Errorf("massless boson: got %v, want 1", g)
	}
	if g := energyIntegral(0, -1); math.Abs(g-0.875) > 1e-4 {
		t.Errorf("massless fermion: got %v, want 0.875", g)
	}
	// quadrature joins the massless constant
	if g := energyIntegral(0.0101, 2); math.Abs(g-2) > 1e-3 {
		t.Errorf("light boson: got %v, want ~2", g)
	}
	if g := energyIntegral(25, 2); g != 0 {
		t.Errorf("heavy: got %v, want 0", g)
	}
	if energyIntegral(3, 2) >= energyIntegral(1, 2) {
		t.Error("contribution should drop with mass")
	}
}

func TestGStarLimits(t *testing.T) {
	p := testProvider(t)

	tests := []struct {
		name string
		T    float64
		g    float64
		gs   float64
		tol  float64
	}{
		{"electroweak", 1e4, 105.75, 105.75, 0.05},
		{"today", 1e-13, 3.363, 3.909, 0.005},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if g := p.GStar(tt.T); math.Abs(g-tt.g) > tt.tol*tt.g {
				t.Errorf("g* = %v, want %v", g, tt.g)
			}
			if gs := p.GStarS(tt.T); math.Abs(gs-tt.gs) > tt.tol*tt.gs {
				t.Errorf("g*s = %v, want %v", gs, tt.gs)
			}
		})
	}
}

func TestGStarMonotone(t *testing.T) {
	p := testProvider(t)
	prev := 0.0
	for lt := -14.0; lt < 4.5; lt += 0.05 {
		gs := p.GStarS(math.Pow(10, lt))
		if gs < prev-1e-6 {
			t.Fatalf("g*s decreases at T=1e%.2f: %v < %v", lt, gs, prev)
		}
		prev = gs
	}
}

func TestTemperatureInverse(t *testing.T) {
	p := testProvider(t)
	for _, T := range []float64{1e-12, 1e-4, 3e-4, 0.2, 10, 5e3, 1e6} {
		got := p.TemperatureFromEntropy(p.EntropyDensity(T))
		if math.Abs(got-T)/T > 1e-3 {
			t.Errorf("T=%g: inverse gives %g", T, got)
		}
	}

	T0 := 100.0
	S := p.EntropyDensity(T0)
	// a grows by e and s drops by e³ at fixed comoving entropy; g*s
	// falls over that range, so T ends above T0/e
	got := p.Temperature(1, 0, S)
	want := S * math.Exp(-3)
	if s := p.EntropyDensity(got); math.Abs(s-want)/want > 1e-6 {
		t.Errorf("Temperature(1, 0) = %g has s = %g, want %g", got, s, want)
	}
	if !(got > T0/math.E) {
		t.Errorf("Temperature(1, 0) = %g, want above %g", got, T0/math.E)
	}
}

func TestLogSlope(t *testing.T) {
	p := testProvider(t)
	if s := p.LogSlopeGStarS(1e4); math.Abs(s) > 1e-4 {
		t.Errorf("flat region slope = %v", s)
	}
	if s := p.LogSlopeGStarS(0.2); s <= 0 {
		t.Errorf("QCD window slope should be positive, got %v", s)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	p := testProvider(t)
	path := filepath.Join(t.TempDir(), "cache", "thermo.json")
	if err := p.Save(path); err != nil {
		t.Fatal(err)
	}
	q, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, T := range []float64{1e-9, 0.01, 1, 100} {
		if p.GStar(T) != q.GStar(T) || p.GStarS(T) != q.GStarS(T) {
			t.Errorf("T=%g: cached table differs", T)
		}
	}
}

func TestLoadOrBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thermo.json")
	opts := Options{TMin: 1e-3, TMax: 1e3, PointsPerDecade: 4}

	p, err := LoadOrBuild(path, opts)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cache not written: %v", err)
	}

	os.WriteFile(path, []byte("{not json"), 0644)
	q, err := LoadOrBuild(path, opts)
	if err != nil {
		t.Fatal(err)
	}
	if p.GStar(1) != q.GStar(1) {
		t.Error("rebuilt table differs")
	}
}

func TestBuildRejectsBadOptions(t *testing.T) {
	if _, err := Build(Options{TMin: 1, TMax: 0.1, PointsPerDecade: 10}); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, err := Build(Options{TMin: 1, TMax: 10, PointsPerDecade: 1}); err == nil {
		t.Error("expected error for sparse grid")
	}
	if _, err := FromTable(Table{LogT: []float64{1}}); err == nil {
		t.Error("expected error for short table")
	}
}
