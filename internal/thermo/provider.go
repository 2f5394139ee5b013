// Package thermo provides the Standard Model thermodynamic tables used by
// the Boltzmann solver: the effective degrees of freedom g*(T) and g*s(T),
// their log-derivative and the inverse map from entropy density to
// temperature. Tables are built once by phase-space quadrature and may be
// cached on disk.
package thermo

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/interp"
)

type Options struct {
	TMin            float64
	TMax            float64
	PointsPerDecade int
	Logger          *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		TMin:            1e-15,
		TMax:            1e5,
		PointsPerDecade: 50,
	}
}

// Table is the serialised form of a provider.
type Table struct {
	LogT   []float64 `json:"log_t"`
	GStar  []float64 `json:"g_star"`
	GStarS []float64 `json:"g_star_s"`
}

// Provider is immutable after construction and safe for concurrent use.
type Provider struct {
	table Table

	gStar  interp.PiecewiseLinear
	gStarS interp.PiecewiseLinear
	// ln s(T) → ln T, fitted on a strictly increasing ln s grid
	inverse interp.PiecewiseLinear

	logSMin, logSMax float64
}

func entropyPrefactor() float64 { return 2 * math.Pi * math.Pi / 45 }

// Build tabulates g* and g*s on a log-spaced grid.
func Build(opts Options) (*Provider, error) {
	if opts.TMin <= 0 || opts.TMax <= opts.TMin {
		return nil, fmt.Errorf("thermo: invalid temperature range [%g, %g]", opts.TMin, opts.TMax)
	}
	if opts.PointsPerDecade < 2 {
		return nil, fmt.Errorf("thermo: need at least 2 points per decade, got %d", opts.PointsPerDecade)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	decades := math.Log10(opts.TMax / opts.TMin)
	n := int(math.Ceil(decades*float64(opts.PointsPerDecade))) + 1
	logger.Info("building thermodynamic tables", "points", n, "t_min", opts.TMin, "t_max", opts.TMax)

	t := Table{
		LogT:   make([]float64, n),
		GStar:  make([]float64, n),
		GStarS: make([]float64, n),
	}
	lo, hi := math.Log(opts.TMin), math.Log(opts.TMax)
	for i := 0; i < n; i++ {
		lt := lo + (hi-lo)*float64(i)/float64(n-1)
		T := math.Exp(lt)
		t.LogT[i] = lt
		t.GStar[i] = gStar(T)
		t.GStarS[i] = gStarS(T)
	}
	return FromTable(t)
}

// FromTable builds a provider from tabulated values.
func FromTable(t Table) (*Provider, error) {
	n := len(t.LogT)
	if n < 2 || len(t.GStar) != n || len(t.GStarS) != n {
		return nil, errors.New("thermo: malformed table")
	}
	for i := 1; i < n; i++ {
		if t.LogT[i] <= t.LogT[i-1] {
			return nil, errors.New("thermo: temperature grid not increasing")
		}
	}

	p := &Provider{table: t}
	if err := p.gStar.Fit(t.LogT, t.GStar); err != nil {
		return nil, err
	}
	if err := p.gStarS.Fit(t.LogT, t.GStarS); err != nil {
		return nil, err
	}

	logS := make([]float64, n)
	pre := math.Log(entropyPrefactor())
	for i := range logS {
		logS[i] = pre + math.Log(t.GStarS[i]) + 3*t.LogT[i]
		if i > 0 && logS[i] <= logS[i-1] {
			logS[i] = math.Nextafter(logS[i-1], math.Inf(1))
		}
	}
	if err := p.inverse.Fit(logS, t.LogT); err != nil {
		return nil, err
	}
	p.logSMin, p.logSMax = logS[0], logS[n-1]
	return p, nil
}

func (p *Provider) Table() Table { return p.table }

// GStar is the effective number of relativistic degrees of freedom for the
// energy density. Outside the tabulated range the end values are used.
func (p *Provider) GStar(T float64) float64 {
	return p.gStar.Predict(math.Log(T))
}

// GStarS is the effective number of degrees of freedom for the entropy
// density.
func (p *Provider) GStarS(T float64) float64 {
	return p.gStarS.Predict(math.Log(T))
}

// EntropyDensity is s(T) = 2π²/45 g*s T³.
func (p *Provider) EntropyDensity(T float64) float64 {
	return entropyPrefactor() * p.GStarS(T) * T * T * T
}

// RadiationDensity is ρ(T) = π²/30 g* T⁴.
func (p *Provider) RadiationDensity(T float64) float64 {
	return math.Pi * math.Pi / 30 * p.GStar(T) * T * T * T * T
}

// TemperatureFromEntropy inverts s(T).
func (p *Provider) TemperatureFromEntropy(s float64) float64 {
	ls := math.Log(s)
	if ls < p.logSMin || ls > p.logSMax {
		g := p.table.GStarS[0]
		if ls > p.logSMax {
			g = p.table.GStarS[len(p.table.GStarS)-1]
		}
		return math.Cbrt(s / (entropyPrefactor() * g))
	}
	lt := p.inverse.Predict(ls)
	// refine against the forward table
	for i := 0; i < 2; i++ {
		T := math.Exp(lt)
		lt -= (math.Log(p.EntropyDensity(T)) - ls) / (3 + p.LogSlopeGStarS(T))
	}
	return math.Exp(lt)
}

// Temperature returns the bath temperature for x = ln a and
// NS = ln(S/Snorm), where S = s a³ is the comoving entropy.
func (p *Provider) Temperature(x, NS, Snorm float64) float64 {
	return p.TemperatureFromEntropy(Snorm * math.Exp(NS-3*x))
}

// LogSlopeGStarS is d ln g*s / d ln T by central difference.
func (p *Provider) LogSlopeGStarS(T float64) float64 {
	const h = 1e-3
	lt := math.Log(T)
	up := p.gStarS.Predict(lt + h)
	down := p.gStarS.Predict(lt - h)
	return (math.Log(up) - math.Log(down)) / (2 * h)
}

// Save writes the table as JSON.
func (p *Provider) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(p.table)
}

// Load reads a table written by Save.
func Load(path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("thermo: decode %s: %w", path, err)
	}
	return FromTable(t)
}

// LoadOrBuild loads the cache at path, or builds the tables and writes the
// cache when it is missing or unreadable.
func LoadOrBuild(path string, opts Options) (*Provider, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if path != "" {
		p, err := Load(path)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("discarding thermodynamic cache", "path", path, "error", err)
		}
	}

	p, err := Build(opts)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := p.Save(path); err != nil {
			logger.Warn("could not write thermodynamic cache", "path", path, "error", err)
		}
	}
	return p, nil
}
