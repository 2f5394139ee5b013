// Package relic turns an evolved species list into present-day observables:
// the relic density Ωh² and the contribution to ΔN_eff.
package relic

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/relicsim/internal/dynamo"
	"github.com/san-kum/relicsim/internal/integrators"
	"github.com/san-kum/relicsim/internal/species"
)

const (
	// TToday is the CMB temperature today in GeV.
	TToday = 2.3697e-13 * 2.725 / 2.75
	// CriticalDensityH2 is ρ_c/h² in GeV⁴.
	CriticalDensityH2 = 8.0992e-47
	// NeutrinoDecoupling is the temperature below which ΔN_eff is defined.
	NeutrinoDecoupling = 1e-3

	relativisticTolerance = 0.01
	nonRelativisticRatio  = 2
	ratioTolerance        = 1e-8
)

// Thermodynamics is what post-processing needs from the thermo provider.
type Thermodynamics interface {
	GStarS(T float64) float64
	EntropyDensity(T float64) float64
	Temperature(x, NS, Snorm float64) float64
}

// ExpansionToToday is ln(a_today/a(T)) assuming entropy conservation.
func ExpansionToToday(th Thermodynamics, T float64) float64 {
	return math.Log(th.GStarS(T)/th.GStarS(TToday))/3 + math.Log(T/TToday)
}

// Omega returns Ωh² today for a species with densities n and rho at
// temperature T. A species that decayed above T contributes nothing.
func Omega(sp *species.Species, n, rho, T float64, th Thermodynamics) (float64, error) {
	if Td, ok := sp.DecayTemperature(); ok && Td > T {
		return 0, nil
	}
	if !(n > 0) || math.IsInf(n, 0) {
		return 0, nil
	}
	dx := ExpansionToToday(th, T)
	nToday := n * math.Exp(-3*dx)
	mToday := sp.Mass(TToday)
	if sp.Kind() == species.CoherentOscillation {
		return nToday * mToday / CriticalDensityH2, nil
	}

	R0 := rho / n
	Rmin := R0 * math.Exp(-dx)
	rel := Rmin * nToday / 3
	if P := species.Pressure(mToday, Rmin*nToday, nToday); math.Abs(P-rel)/rel < relativisticTolerance {
		return Rmin * nToday / CriticalDensityH2, nil
	}

	R, err := energyRatioToday(sp, R0, T, dx, th)
	if err != nil {
		return 0, fmt.Errorf("relic: %s: %w", sp.Label(), err)
	}
	return R * nToday / CriticalDensityH2, nil
}

// ratioFlow is dR/dx = −3P/n for a free-streaming species in a bath with
// conserved entropy.
type ratioFlow struct {
	sp    *species.Species
	th    Thermodynamics
	snorm float64
}

func (f *ratioFlow) Dim() int { return 1 }

func (f *ratioFlow) Derive(x float64, y, dy dynamo.State) {
	T := f.th.Temperature(x, 0, f.snorm)
	dy[0] = -3 * species.PressurePerParticle(f.sp.Mass(T), y[0])
}

func energyRatioToday(sp *species.Species, R0, T, dx float64, th Thermodynamics) (float64, error) {
	flow := &ratioFlow{sp: sp, th: th, snorm: th.EntropyDensity(T)}
	y, _, err := integrators.NewRK45().Integrate(context.Background(), flow, 0, dynamo.State{R0}, dx, ratioTolerance)
	if err != nil {
		return 0, err
	}
	return y[0], nil
}

// DeltaNeff returns the contribution of a species with densities n and rho
// at temperature T to the effective number of neutrinos. Only relativistic
// species below neutrino decoupling count.
func DeltaNeff(sp *species.Species, n, rho, T float64) float64 {
	if T > NeutrinoDecoupling {
		return 0
	}
	m := sp.Mass(T)
	if math.IsNaN(rho) || math.IsNaN(n) {
		return 0
	}
	if m != 0 && !(n > 0 && rho > 0 && rho/(n*m) > nonRelativisticRatio) {
		return 0
	}
	norm := math.Pi * math.Pi / 15 * 7.0 / 8 * math.Pow(4.0/11, 4.0/3) * T * T * T * T
	return rho / norm
}
