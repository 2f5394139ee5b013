package species

import "math"

// Index maps species labels to their position in the per-species vectors
// passed to the effective-density functions.
type Index map[string]int

// Ratios holds neq_i/neq_j for every ordered pair. NaN marks an undefined
// ratio.
type Ratios [][]float64

// NewRatios computes the ratio matrix for list at temperature T. Pairs
// involving an inactive species are left undefined.
func NewRatios(T float64, list List) Ratios {
	r := make(Ratios, len(list))
	for i, a := range list {
		r[i] = make([]float64, len(list))
		for j, b := range list {
			r[i][j] = math.NaN()
			if i == j {
				r[i][j] = 1
				continue
			}
			if !a.active || !b.active {
				continue
			}
			if v, ok := a.EquilibriumRatioTo(T, b); ok {
				r[i][j] = v
			}
		}
	}
	return r
}

// Densities carries what the effective-density functions need from the
// current state: number densities and activity flags, both indexed by
// Index, and the ratio matrix.
type Densities struct {
	Index  Index
	N      []float64
	Active []bool
	Ratios Ratios
}

func count(products []string, label string) int {
	c := 0
	for _, p := range products {
		if p == label {
			c++
		}
	}
	return c
}

// TotalBranchingTo is the multiplicity-weighted branching fraction of s
// into other.
func (s *Species) TotalBranchingTo(T float64, other *Species) float64 {
	if other == s {
		return 0
	}
	b := 0.0
	for _, ch := range s.decays(T).Channels {
		b += float64(count(ch.Products, other.label)) * ch.Fraction
	}
	return b
}

// channelTerm returns br·neq_i·Π_j(n_j/neq_j) over the BSM products of ch.
// SM products contribute a factor 1. ok is false when any BSM product is
// inactive or its ratio to self is undefined.
func (s *Species) channelTerm(ch Decay, i int, neq float64, d Densities) (float64, bool) {
	term := ch.Fraction
	first := true
	for _, p := range ch.Products {
		j, ok := d.Index[p]
		if !ok {
			continue
		}
		if !d.Active[j] {
			return 0, false
		}
		r := d.Ratios[i][j]
		if math.IsNaN(r) {
			return 0, false
		}
		if first {
			term *= r * d.N[j]
			first = false
		} else {
			term *= r * d.N[j] / neq
		}
	}
	if first {
		term *= neq
	}
	return term, true
}

// EffectiveThermalDensity is the density of s that would be in equilibrium
// with the current densities of its decay products (N^th). If grad is not
// nil, ∂N^th/∂ln n_k is added to grad[k].
func (s *Species) EffectiveThermalDensity(T float64, d Densities, grad []float64) float64 {
	i, ok := d.Index[s.label]
	if !ok {
		return 0
	}
	neq := s.EquilibriumDensity(T)
	if neq == 0 {
		return 0
	}
	total := 0.0
	for _, ch := range s.decays(T).Channels {
		if ch.Fraction == 0 {
			continue
		}
		term, ok := s.channelTerm(ch, i, neq, d)
		if !ok {
			continue
		}
		total += term
		if grad != nil {
			for _, p := range ch.Products {
				if k, ok := d.Index[p]; ok {
					grad[k] += term
				}
			}
		}
	}
	return total
}

// EffectiveThermalDensityPair is N^th restricted to the channels of s that
// produce daughter, weighted by multiplicity and normalised by
// TotalBranchingTo. It sets the inverse-decay term of the injection from s
// into daughter. grad follows EffectiveThermalDensity.
func (s *Species) EffectiveThermalDensityPair(T float64, daughter *Species, d Densities, grad []float64) float64 {
	i, ok := d.Index[s.label]
	if !ok {
		return 0
	}
	norm := s.TotalBranchingTo(T, daughter)
	if norm == 0 {
		return 0
	}
	neq := s.EquilibriumDensity(T)
	if neq == 0 {
		return 0
	}
	total := 0.0
	var local []float64
	if grad != nil {
		local = make([]float64, len(grad))
	}
	for _, ch := range s.decays(T).Channels {
		mult := count(ch.Products, daughter.label)
		if mult == 0 || ch.Fraction == 0 {
			continue
		}
		term, ok := s.channelTerm(ch, i, neq, d)
		if !ok {
			continue
		}
		term *= float64(mult)
		total += term
		if local != nil {
			for _, p := range ch.Products {
				if k, ok := d.Index[p]; ok {
					local[k] += term
				}
			}
		}
	}
	for k := range local {
		grad[k] += local[k] / norm
	}
	return total / norm
}
