package relic

import (
	"math"

	"github.com/san-kum/relicsim/internal/species"
)

// SpeciesSummary holds the observables of one species. Transition
// temperatures are nil when the transition never happened.
type SpeciesSummary struct {
	Label     string   `json:"label"`
	Kind      string   `json:"kind"`
	TOsc      *float64 `json:"t_osc,omitempty"`
	TDecouple *float64 `json:"t_decouple,omitempty"`
	TDecay    *float64 `json:"t_decay,omitempty"`
	// AtDecay is true when Omega was evaluated at the decay temperature
	// rather than the final temperature.
	AtDecay bool `json:"at_decay"`
	// T is the temperature Omega was evaluated at, zero when the species
	// has no finite entry.
	T         float64 `json:"t_eval"`
	Omega     float64 `json:"omega_h2"`
	DeltaNeff float64 `json:"delta_neff"`
}

type Summary struct {
	TF        float64          `json:"tf"`
	Species   []SpeciesSummary `json:"species"`
	DeltaNeff float64          `json:"delta_neff"`
}

// Summarize evaluates every species of an evolved list against the bath
// temperature series T. It reads the species series without modifying
// them, so repeated calls give identical results.
func Summarize(list species.List, T []float64, TF float64, th Thermodynamics) (Summary, error) {
	sum := Summary{TF: TF, Species: make([]SpeciesSummary, 0, len(list))}
	for _, sp := range list {
		ss := SpeciesSummary{
			Label:     sp.Label(),
			Kind:      sp.Kind().String(),
			TOsc:      optional(sp.OscillationTemperature()),
			TDecouple: optional(sp.DecoupleTemperature()),
			TDecay:    optional(sp.DecayTemperature()),
		}
		n, rho := sp.NumberDensities(), sp.EnergyDensities()

		target := TF
		if ss.TDecay != nil {
			target = math.Max(*ss.TDecay, TF)
			ss.AtDecay = true
		}
		if i, ok := closest(T, n, rho, target); ok {
			ss.T = T[i]
			omega, err := Omega(sp, n[i], rho[i], T[i], th)
			if err != nil {
				return sum, err
			}
			ss.Omega = omega
		}

		if ss.TDecay == nil || *ss.TDecay <= TF {
			if i, ok := closest(T, n, rho, TF); ok {
				ss.DeltaNeff = DeltaNeff(sp, n[i], rho[i], T[i])
			}
		}
		sum.DeltaNeff += ss.DeltaNeff
		sum.Species = append(sum.Species, ss)
	}
	return sum, nil
}

// closest returns the index of the finite entry whose temperature is
// nearest to target.
func closest(T, n, rho []float64, target float64) (int, bool) {
	best, delta := -1, math.Inf(1)
	for i := range T {
		if i >= len(n) || i >= len(rho) {
			break
		}
		if !finite(T[i]) || !finite(n[i]) || !finite(rho[i]) {
			continue
		}
		if d := math.Abs(T[i] - target); d < delta {
			best, delta = i, d
		}
	}
	return best, best >= 0
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func optional(T float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &T
}

// TotalOmega sums Ωh² of the species still present at the final
// temperature. Species evaluated at their decay are left out.
func (s Summary) TotalOmega() float64 {
	total := 0.0
	for _, sp := range s.Species {
		if sp.AtDecay || !finite(sp.Omega) {
			continue
		}
		total += sp.Omega
	}
	return total
}
