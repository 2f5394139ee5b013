package species

import (
	"fmt"

	"github.com/san-kum/relicsim/internal/dynamo"
)

// Physics is the read-only surface of a species used by the network and
// post-processing.
type Physics interface {
	Label() string
	Kind() Kind
	DoF() int
	Mass(T float64) float64
	Width(T float64) float64
	Decays(T float64) DecayTable
	BathFraction(T float64) float64
	Annihilation(T float64) float64
	CoAnnihilation(T float64, other *Species) float64
	Scattering(T float64, other *Species) float64
	Conversion(T float64, other *Species) float64
	Source(T float64) float64
	Amplitude(T float64) float64
	EquilibriumDensity(T float64) float64
	EquilibriumEnergyRatio(T float64) float64
	EquilibriumRatioTo(T float64, other *Species) (float64, bool)
}

var _ Physics = (*Species)(nil)

// List is an ordered set of species. The order fixes the layout of state
// vectors and output columns.
type List []*Species

// Collect maps f over the list.
func Collect[V any](l List, f func(*Species) V) []V {
	out := make([]V, len(l))
	for i, s := range l {
		out[i] = f(s)
	}
	return out
}

func (l List) Index() Index {
	idx := make(Index, len(l))
	for i, s := range l {
		idx[s.label] = i
	}
	return idx
}

func (l List) Labels() []string {
	return Collect(l, (*Species).Label)
}

func (l List) Lookup(label string) (*Species, bool) {
	for _, s := range l {
		if s.label == label {
			return s, true
		}
	}
	return nil, false
}

// Active returns the activity flags in list order.
func (l List) Active() []bool {
	return Collect(l, (*Species).IsActive)
}

// AnyActive reports whether at least one species still evolves.
func (l List) AnyActive() bool {
	for _, s := range l {
		if s.active {
			return true
		}
	}
	return false
}

// Validate checks that labels are unique and non-empty.
func (l List) Validate() error {
	if len(l) == 0 {
		return &dynamo.ConfigError{Subject: "species list", Reason: "empty"}
	}
	seen := make(map[string]bool, len(l))
	for _, s := range l {
		if s == nil {
			return &dynamo.ConfigError{Subject: "species list", Reason: "nil species"}
		}
		if seen[s.label] {
			return &dynamo.ConfigError{Subject: "species list", Reason: fmt.Sprintf("duplicate label %q", s.label)}
		}
		seen[s.label] = true
	}
	return nil
}
