package sim

import (
	"math"

	"github.com/san-kum/relicsim/internal/network"
	"github.com/san-kum/relicsim/internal/species"
)

const (
	// thermal species start coupled when their restoring rate exceeds this
	// multiple of H
	couplingThreshold = 2
	decoupledFraction = 1e-10
)

// radiationHubble is H in a radiation dominated universe.
func radiationHubble(T, gStar float64) float64 {
	return math.Sqrt(8*math.Pow(math.Pi, 3)*gStar/90) * T * T / species.PlanckMass
}

// initialConditions sets the lifecycle flags of every species at T0 and
// returns their densities.
func (s *Simulator) initialConditions(T0 float64) (n, R []float64, err error) {
	k := len(s.list)
	n = make([]float64, k)
	R = make([]float64, k)
	H0 := radiationHubble(T0, s.thermo.GStar(T0))

	for i, sp := range s.list {
		if sp.Kind() == species.CoherentOscillation {
			m := sp.Mass(T0)
			R[i] = m
			if 3*H0 < m {
				sp.RecordOscillation(T0)
				n[i] = sp.Amplitude(T0) / m
				continue
			}
			sp.Deactivate()
			n[i] = math.NaN()
			continue
		}
		n[i] = sp.EquilibriumDensity(T0)
		R[i] = sp.EquilibriumEnergyRatio(T0)
	}

	// restoring rates with every thermal species at equilibrium
	norms := make([]float64, k)
	for i := range norms {
		norms[i] = positiveOrOne(n[i])
	}
	S0 := s.thermo.EntropyDensity(T0)
	nw, err := network.New(s.list, s.thermo, network.Segment{Norms: norms, SNorm: S0, Logger: s.logger})
	if err != nil {
		return nil, nil, err
	}
	diag := nw.Diagnose(0, nw.Encode(n, R, S0))

	for i, sp := range s.list {
		if !sp.Kind().IsThermal() {
			continue
		}
		rate := diag.Restoring[i] / H0
		if rate >= couplingThreshold {
			s.logger.Debug("species starts coupled", "species", sp.Label(), "rate_over_h", rate)
			continue
		}
		sp.RecordDecouple(T0)
		n[i] *= decoupledFraction
		s.logger.Debug("species starts decoupled", "species", sp.Label(), "rate_over_h", rate)
	}
	return n, R, nil
}

func positiveOrOne(v float64) float64 {
	if v > 0 && !math.IsInf(v, 0) {
		return v
	}
	return 1
}
