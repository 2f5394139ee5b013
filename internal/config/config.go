package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/relicsim/internal/dynamo"
	"github.com/san-kum/relicsim/internal/sim"
	"github.com/san-kum/relicsim/internal/species"
)

const (
	DefaultReheatTemperature = 1e4
	DefaultFinalTemperature  = 1e-3
	DefaultPoints            = 1000
)

// Model is a complete solve definition as stored in YAML.
type Model struct {
	Name              string          `yaml:"name"`
	ReheatTemperature float64         `yaml:"reheat_temperature"`
	FinalTemperature  float64         `yaml:"final_temperature"`
	Points            int             `yaml:"points"`
	Solver            SolverConfig    `yaml:"solver"`
	Species           []SpeciesConfig `yaml:"species"`

	// dir resolves relative table paths
	dir string
}

type SolverConfig struct {
	RTol               float64       `yaml:"rtol"`
	ATol               float64       `yaml:"atol"`
	MaxSegments        int           `yaml:"max_segments"`
	MaxWallClock       time.Duration `yaml:"max_wall_clock,omitempty"`
	NumericJacobian    bool          `yaml:"numeric_jacobian,omitempty"`
	DepartureTest      string        `yaml:"departure_test"`
	DepartureThreshold float64       `yaml:"departure_threshold"`
	XMargin            float64       `yaml:"x_margin"`
}

type SpeciesConfig struct {
	Label          string              `yaml:"label"`
	Kind           string              `yaml:"kind"`
	DoF            int                 `yaml:"dof"`
	Mass           float64             `yaml:"mass"`
	Decays         *DecayConfig        `yaml:"decays,omitempty"`
	Annihilation   *RateSpec           `yaml:"annihilation,omitempty"`
	CoAnnihilation map[string]RateSpec `yaml:"co_annihilation,omitempty"`
	Scattering     map[string]RateSpec `yaml:"scattering,omitempty"`
	Conversion     map[string]RateSpec `yaml:"conversion,omitempty"`
	Source         *RateSpec           `yaml:"source,omitempty"`
	Amplitude      *RateSpec           `yaml:"amplitude,omitempty"`
}

type DecayConfig struct {
	Width    float64         `yaml:"width"`
	Channels []ChannelConfig `yaml:"channels"`
}

type ChannelConfig struct {
	Products     []string `yaml:"products"`
	Fraction     float64  `yaml:"fraction"`
	BathFraction float64  `yaml:"bath_fraction,omitempty"`
}

func DefaultSolver() SolverConfig {
	d := sim.DefaultConfig()
	return SolverConfig{
		RTol:               d.RTol,
		ATol:               d.ATol,
		MaxSegments:        d.MaxSegments,
		DepartureTest:      d.DepartureTest,
		DepartureThreshold: d.DepartureThreshold,
		XMargin:            d.XMargin,
	}
}

func DefaultModel() *Model {
	return &Model{
		Name:              "model",
		ReheatTemperature: DefaultReheatTemperature,
		FinalTemperature:  DefaultFinalTemperature,
		Points:            DefaultPoints,
		Solver:            DefaultSolver(),
	}
}

func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := DefaultModel()
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

func Save(path string, m *Model) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy that can be modified independently.
func (m *Model) Clone() *Model {
	c := *m
	c.Species = make([]SpeciesConfig, len(m.Species))
	for i, sc := range m.Species {
		c.Species[i] = sc.clone()
	}
	return &c
}

func (sc SpeciesConfig) clone() SpeciesConfig {
	c := sc
	if sc.Decays != nil {
		d := *sc.Decays
		d.Channels = make([]ChannelConfig, len(sc.Decays.Channels))
		for i, ch := range sc.Decays.Channels {
			ch.Products = append([]string(nil), ch.Products...)
			d.Channels[i] = ch
		}
		c.Decays = &d
	}
	c.Annihilation = sc.Annihilation.clone()
	c.Source = sc.Source.clone()
	c.Amplitude = sc.Amplitude.clone()
	c.CoAnnihilation = clonePairs(sc.CoAnnihilation)
	c.Scattering = clonePairs(sc.Scattering)
	c.Conversion = clonePairs(sc.Conversion)
	return c
}

func clonePairs(in map[string]RateSpec) map[string]RateSpec {
	if in == nil {
		return nil
	}
	out := make(map[string]RateSpec, len(in))
	for k, v := range in {
		out[k] = *v.clone()
	}
	return out
}

// SimConfig maps the solver section onto the driver configuration.
func (m *Model) SimConfig() sim.Config {
	cfg := sim.DefaultConfig()
	s := m.Solver
	cfg.RTol, cfg.ATol = s.RTol, s.ATol
	cfg.Points = m.Points
	cfg.MaxSegments = s.MaxSegments
	cfg.MaxWallClock = s.MaxWallClock
	cfg.NumericJacobian = s.NumericJacobian
	cfg.DepartureTest = s.DepartureTest
	cfg.DepartureThreshold = s.DepartureThreshold
	cfg.XMargin = s.XMargin
	return cfg
}

// Validate checks the parts of a model that do not need the species to be
// built.
func (m *Model) Validate() error {
	if !(m.ReheatTemperature > m.FinalTemperature) || !(m.FinalTemperature > 0) {
		return &dynamo.ConfigError{Subject: "model " + m.Name,
			Reason: fmt.Sprintf("need reheat_temperature > final_temperature > 0, got %g and %g", m.ReheatTemperature, m.FinalTemperature)}
	}
	if len(m.Species) == 0 {
		return &dynamo.ConfigError{Subject: "model " + m.Name, Reason: "no species"}
	}
	return nil
}

// Build constructs fresh species from the model. Every call returns an
// independent list, so one model can back several solves.
func (m *Model) Build() (species.List, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	labels := make(map[string]bool, len(m.Species))
	for _, sc := range m.Species {
		labels[sc.Label] = true
	}

	list := make(species.List, 0, len(m.Species))
	for _, sc := range m.Species {
		sp, err := m.buildSpecies(sc, labels)
		if err != nil {
			return nil, err
		}
		list = append(list, sp)
	}
	if err := list.Validate(); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Model) buildSpecies(sc SpeciesConfig, labels map[string]bool) (*species.Species, error) {
	subject := "species " + sc.Label
	kind, err := species.ParseKind(sc.Kind)
	if err != nil {
		return nil, err
	}

	var opts []species.Option
	if d := sc.Decays; d != nil {
		if d.Width < 0 {
			return nil, &dynamo.ConfigError{Subject: subject, Reason: "negative width"}
		}
		table := species.DecayTable{Width: d.Width}
		total := 0.0
		for _, c := range d.Channels {
			if c.Fraction < 0 || c.BathFraction < 0 || c.BathFraction > 1 {
				return nil, &dynamo.ConfigError{Subject: subject, Reason: fmt.Sprintf("invalid channel %v", c.Products)}
			}
			total += c.Fraction
			table.Channels = append(table.Channels, species.Decay{
				Products:     c.Products,
				Fraction:     c.Fraction,
				BathFraction: c.BathFraction,
			})
		}
		if len(d.Channels) > 0 && (total < 0.999 || total > 1.001) {
			return nil, &dynamo.ConfigError{Subject: subject, Reason: fmt.Sprintf("branching fractions sum to %g", total)}
		}
		opts = append(opts, species.WithDecays(table))
	}

	single := []struct {
		spec *RateSpec
		opt  func(species.Func) species.Option
		name string
	}{
		{sc.Annihilation, species.WithAnnihilation, "annihilation"},
		{sc.Source, species.WithSource, "source"},
		{sc.Amplitude, species.WithAmplitude, "amplitude"},
	}
	for _, s := range single {
		if s.spec == nil {
			continue
		}
		f, err := s.spec.Func(m.dir)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", subject, s.name, err)
		}
		opts = append(opts, s.opt(f))
	}

	pairs := []struct {
		specs map[string]RateSpec
		opt   func(species.PairFunc) species.Option
		name  string
	}{
		{sc.CoAnnihilation, species.WithCoAnnihilation, "co_annihilation"},
		{sc.Scattering, species.WithScattering, "scattering"},
		{sc.Conversion, species.WithConversion, "conversion"},
	}
	for _, p := range pairs {
		if len(p.specs) == 0 {
			continue
		}
		f, err := m.pairFunc(p.specs, labels)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", subject, p.name, err)
		}
		opts = append(opts, p.opt(f))
	}

	return species.New(sc.Label, kind, sc.DoF, sc.Mass, opts...)
}

func (m *Model) pairFunc(specs map[string]RateSpec, labels map[string]bool) (species.PairFunc, error) {
	funcs := make(map[string]species.Func, len(specs))
	for label, spec := range specs {
		if !labels[label] {
			return nil, &dynamo.ConfigError{Subject: "rate", Reason: fmt.Sprintf("unknown partner species %q", label)}
		}
		f, err := spec.Func(m.dir)
		if err != nil {
			return nil, err
		}
		funcs[label] = f
	}
	return func(T float64, other *species.Species) float64 {
		if f, ok := funcs[other.Label()]; ok {
			return f(T)
		}
		return 0
	}, nil
}
