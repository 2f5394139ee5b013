package species

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/relicsim/internal/dynamo"
)

const (
	// PlanckMass in GeV.
	PlanckMass = 1.22e19
	// Zeta3 is the Riemann zeta function at 3.
	Zeta3 = 1.2020569031595942
)

type Kind int

const (
	Thermal Kind = iota
	WeaklyCoupledThermal
	CoherentOscillation
)

func (k Kind) String() string {
	switch k {
	case Thermal:
		return "thermal"
	case WeaklyCoupledThermal:
		return "weakthermal"
	case CoherentOscillation:
		return "CO"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) valid() bool {
	return k == Thermal || k == WeaklyCoupledThermal || k == CoherentOscillation
}

// IsThermal reports whether species of this kind have an equilibrium
// distribution with the bath.
func (k Kind) IsThermal() bool {
	return k == Thermal || k == WeaklyCoupledThermal
}

// ParseKind accepts the names used in model files.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "thermal":
		return Thermal, nil
	case "weakthermal", "weakly-coupled-thermal", "weak":
		return WeaklyCoupledThermal, nil
	case "co", "coherent-oscillation", "coherent":
		return CoherentOscillation, nil
	}
	return 0, &dynamo.ConfigError{Subject: "kind " + s, Reason: "must be thermal, weakthermal or CO"}
}

// Func is a quantity depending on the bath temperature (GeV).
type Func func(T float64) float64

// PairFunc is a quantity depending on temperature and a partner species.
type PairFunc func(T float64, other *Species) float64

// Decay is one decay channel.
type Decay struct {
	// Products lists the labels of the decay products. Labels that are not
	// species of the model are Standard Model states.
	Products []string
	// Fraction is the branching fraction of the channel.
	Fraction float64
	// BathFraction is the fraction of the parent's energy that this channel
	// deposits directly into the thermal bath.
	BathFraction float64
}

// DecayTable holds the total width and channels at one temperature.
type DecayTable struct {
	Width    float64
	Channels []Decay
}

// BathFraction is the branching-weighted energy fraction injected into the
// bath over all channels.
func (d DecayTable) BathFraction() float64 {
	f := 0.0
	for _, c := range d.Channels {
		f += c.Fraction * c.BathFraction
	}
	return f
}

type transition struct {
	T   float64
	set bool
}

// record stores T unless a value was already recorded.
func (tr *transition) record(T float64) bool {
	if tr.set {
		return false
	}
	tr.T, tr.set = T, true
	return true
}

type Species struct {
	label string
	kind  Kind
	dof   int

	mass           Func
	decays         func(T float64) DecayTable
	annihilation   Func
	coAnnihilation PairFunc
	scattering     PairFunc
	conversion     PairFunc
	source         Func
	amplitude      Func

	active    bool
	decouple  transition
	decay     transition
	osc       transition
	numberSer []float64
	energySer []float64
}

type Option func(*Species)

// WithDecays sets a temperature independent decay table.
func WithDecays(table DecayTable) Option {
	return func(s *Species) { s.decays = func(float64) DecayTable { return table } }
}

// WithDecaysFunc sets a temperature dependent decay table.
func WithDecaysFunc(f func(T float64) DecayTable) Option {
	return func(s *Species) { s.decays = f }
}

// WithAnnihilation sets the thermally averaged self-annihilation σv into SM.
func WithAnnihilation(f Func) Option { return func(s *Species) { s.annihilation = f } }

// WithCoAnnihilation sets σv for self+other → SM+SM.
func WithCoAnnihilation(f PairFunc) Option { return func(s *Species) { s.coAnnihilation = f } }

// WithScattering sets σv for self+self → other+other.
func WithScattering(f PairFunc) Option { return func(s *Species) { s.scattering = f } }

// WithConversion sets the rate for self+SM → other+SM.
func WithConversion(f PairFunc) Option { return func(s *Species) { s.conversion = f } }

// WithSource adds an external production rate density.
func WithSource(f Func) Option { return func(s *Species) { s.source = f } }

// WithAmplitude sets the coherent oscillation energy density at onset.
func WithAmplitude(f Func) Option { return func(s *Species) { s.amplitude = f } }

func zero(float64) float64               { return 0 }
func zeroPair(float64, *Species) float64 { return 0 }

// New builds a species. mass may be a number (float64 or int) or a
// function of temperature (Func or func(float64) float64).
func New(label string, kind Kind, dof int, mass any, opts ...Option) (*Species, error) {
	if label == "" {
		return nil, &dynamo.ConfigError{Subject: "species", Reason: "empty label"}
	}
	subject := "species " + label
	if !kind.valid() {
		return nil, &dynamo.ConfigError{Subject: subject, Reason: fmt.Sprintf("unknown kind %s", kind)}
	}
	if kind.IsThermal() && dof == 0 {
		return nil, &dynamo.ConfigError{Subject: subject, Reason: "thermal species need non-zero degrees of freedom"}
	}

	s := &Species{
		label:          label,
		kind:           kind,
		dof:            dof,
		decays:         func(float64) DecayTable { return DecayTable{} },
		annihilation:   zero,
		coAnnihilation: zeroPair,
		scattering:     zeroPair,
		conversion:     zeroPair,
		source:         zero,
		amplitude:      zero,
		active:         true,
	}

	switch m := mass.(type) {
	case float64:
		if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
			return nil, &dynamo.ConfigError{Subject: subject, Reason: fmt.Sprintf("invalid mass %v", m)}
		}
		s.mass = func(float64) float64 { return m }
	case int:
		if m < 0 {
			return nil, &dynamo.ConfigError{Subject: subject, Reason: fmt.Sprintf("invalid mass %d", m)}
		}
		v := float64(m)
		s.mass = func(float64) float64 { return v }
	case Func:
		if m == nil {
			return nil, &dynamo.ConfigError{Subject: subject, Reason: "nil mass function"}
		}
		s.mass = m
	case func(float64) float64:
		if m == nil {
			return nil, &dynamo.ConfigError{Subject: subject, Reason: "nil mass function"}
		}
		s.mass = m
	default:
		return nil, &dynamo.ConfigError{Subject: subject, Reason: fmt.Sprintf("mass must be a number or a function of T, got %T", mass)}
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Species) String() string { return s.label }
func (s *Species) Label() string  { return s.label }
func (s *Species) Kind() Kind     { return s.kind }
func (s *Species) DoF() int       { return s.dof }

func (s *Species) Mass(T float64) float64         { return s.mass(T) }
func (s *Species) Decays(T float64) DecayTable    { return s.decays(T) }
func (s *Species) Width(T float64) float64        { return s.decays(T).Width }
func (s *Species) BathFraction(T float64) float64 { return s.decays(T).BathFraction() }
func (s *Species) Annihilation(T float64) float64 { return s.annihilation(T) }
func (s *Species) Source(T float64) float64       { return s.source(T) }

// Amplitude returns the oscillation energy density at onset. Zero for
// thermal kinds.
func (s *Species) Amplitude(T float64) float64 {
	if s.kind != CoherentOscillation {
		return 0
	}
	return s.amplitude(T)
}

func (s *Species) CoAnnihilation(T float64, other *Species) float64 {
	if other == s {
		return 0
	}
	return s.coAnnihilation(T, other)
}

func (s *Species) Scattering(T float64, other *Species) float64 {
	if other == s {
		return 0
	}
	return s.scattering(T, other)
}

func (s *Species) Conversion(T float64, other *Species) float64 {
	if other == s {
		return 0
	}
	return s.conversion(T, other)
}

// IsActive reports whether the species still evolves and contributes to the
// other species' equations.
func (s *Species) IsActive() bool { return s.active }

// Deactivate removes the species from all subsequent evaluations.
func (s *Species) Deactivate() { s.active = false }

// Activate marks the species as evolving (used at oscillation onset).
func (s *Species) Activate() { s.active = true }

// RecordDecouple stores the decoupling temperature once. It reports whether
// the value was stored.
func (s *Species) RecordDecouple(T float64) bool { return s.decouple.record(T) }

// RecordDecay stores the decay temperature once.
func (s *Species) RecordDecay(T float64) bool { return s.decay.record(T) }

// RecordOscillation stores the oscillation onset temperature once.
func (s *Species) RecordOscillation(T float64) bool { return s.osc.record(T) }

func (s *Species) DecoupleTemperature() (float64, bool)    { return s.decouple.T, s.decouple.set }
func (s *Species) DecayTemperature() (float64, bool)       { return s.decay.T, s.decay.set }
func (s *Species) OscillationTemperature() (float64, bool) { return s.osc.T, s.osc.set }

// Decoupled reports whether the species is integrated freely rather than
// held on its equilibrium curve. CO species are always decoupled.
func (s *Species) Decoupled() bool {
	return s.kind == CoherentOscillation || s.decouple.set
}

// Oscillating reports whether a CO species has started to oscillate.
func (s *Species) Oscillating() bool {
	return s.kind == CoherentOscillation && s.osc.set
}

// Append adds one point to the density series.
func (s *Species) Append(n, rho float64) {
	s.numberSer = append(s.numberSer, n)
	s.energySer = append(s.energySer, rho)
}

// NumberDensities returns the number density series. Callers must not
// modify it.
func (s *Species) NumberDensities() []float64 { return s.numberSer }

// EnergyDensities returns the energy density series. Callers must not
// modify it.
func (s *Species) EnergyDensities() []float64 { return s.energySer }

// Last returns the most recent densities.
func (s *Species) Last() (n, rho float64, ok bool) {
	if len(s.numberSer) == 0 {
		return 0, 0, false
	}
	i := len(s.numberSer) - 1
	return s.numberSer[i], s.energySer[i], true
}
