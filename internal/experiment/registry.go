package experiment

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/relicsim/internal/config"
)

// Setter changes one parameter of a species in a model.
type Setter func(sc *config.SpeciesConfig, v float64) error

// Registry maps scan parameter names to setters.
type Registry struct {
	params map[string]Setter
}

func NewRegistry() *Registry {
	r := &Registry{params: make(map[string]Setter)}

	r.params["mass"] = func(sc *config.SpeciesConfig, v float64) error {
		if v < 0 {
			return fmt.Errorf("negative mass %g", v)
		}
		sc.Mass = v
		return nil
	}
	r.params["width"] = func(sc *config.SpeciesConfig, v float64) error {
		if sc.Decays == nil {
			return fmt.Errorf("species %s has no decays", sc.Label)
		}
		sc.Decays.Width = v
		return nil
	}
	r.params["annihilation"] = func(sc *config.SpeciesConfig, v float64) error {
		sc.Annihilation = config.Constant(v)
		return nil
	}
	r.params["source"] = func(sc *config.SpeciesConfig, v float64) error {
		sc.Source = config.Constant(v)
		return nil
	}
	r.params["amplitude"] = func(sc *config.SpeciesConfig, v float64) error {
		sc.Amplitude = config.Constant(v)
		return nil
	}
	return r
}

func (r *Registry) Get(name string) (Setter, error) {
	fn, ok := r.params[name]
	if !ok {
		return nil, fmt.Errorf("unknown parameter: %s", name)
	}
	return fn, nil
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.params))
	for name := range r.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sweep calls base once per value, which must return a fresh model, and
// sets the parameter of the labelled species to that value.
func (r *Registry) Sweep(base func() *config.Model, label, param string, values []float64) ([]*config.Model, error) {
	set, err := r.Get(param)
	if err != nil {
		return nil, err
	}
	models := make([]*config.Model, 0, len(values))
	for _, v := range values {
		m := base()
		sc := findSpecies(m, label)
		if sc == nil {
			return nil, fmt.Errorf("model %s has no species %q", m.Name, label)
		}
		if err := set(sc, v); err != nil {
			return nil, fmt.Errorf("%s=%g: %w", param, v, err)
		}
		m.Name = fmt.Sprintf("%s[%s.%s=%g]", m.Name, label, param, v)
		models = append(models, m)
	}
	return models, nil
}

func findSpecies(m *config.Model, label string) *config.SpeciesConfig {
	for i := range m.Species {
		if m.Species[i].Label == label {
			return &m.Species[i]
		}
	}
	return nil
}

// Spaced returns n values from a to b, evenly spaced in log when logScale.
func Spaced(a, b float64, n int, logScale bool) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("need at least one value, got %d", n)
	}
	if logScale && (a <= 0 || b <= 0) {
		return nil, fmt.Errorf("logarithmic spacing needs positive bounds, got %g and %g", a, b)
	}
	if n == 1 {
		return []float64{a}, nil
	}
	out := make([]float64, n)
	for i := range out {
		f := float64(i) / float64(n-1)
		if logScale {
			out[i] = a * math.Pow(b/a, f)
		} else {
			out[i] = a + f*(b-a)
		}
	}
	out[n-1] = b
	return out, nil
}
