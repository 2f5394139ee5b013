package thermo

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

type particle struct {
	name string
	mass float64
	dof  int
}

var (
	gauge = []particle{
		{"W", 80, 6}, {"Z", 91, 3}, {"photon", 0, 2},
	}
	leptons = []particle{
		{"electron", 0.51e-3, -4}, {"muon", 0.1056, -4}, {"tau", 1.77, -4}, {"neutrino", 0, -6},
	}
	hadrons = []particle{
		{"pion", 0.14, 4}, {"eta", 0.55, 2}, {"rho", 0.77, 6}, {"omega", 0.78, 6}, {"kaon", 0.5, 4},
	}
	partons = []particle{
		{"u", 3e-3, -12}, {"d", 5e-3, -12}, {"s", 0.1, -12}, {"c", 1.3, -12},
		{"b", 4.2, -12}, {"t", 173.3, -12}, {"gluon", 0, 16},
	}
)

const (
	qcdTransition = 0.25
	// smoothing windows for the two discontinuities of the particle content
	qcdLow, qcdHigh           = 0.15, 0.3
	neutrinoLow, neutrinoHigh = 2e-4, 6e-4
	neutrinoDecoupling        = 5e-4

	quadPoints = 200
)

var neutrinoTemperatureRatio = 4.0 / 11

// content returns the Standard Model species in equilibrium at T.
func content(T float64) []particle {
	out := make([]particle, 0, len(gauge)+len(leptons)+len(partons))
	out = append(out, gauge...)
	out = append(out, leptons...)
	if T < qcdTransition {
		return append(out, hadrons...)
	}
	return append(out, partons...)
}

// energyIntegral is ∫_x^∞ u² sqrt(u²-x²)/(e^u ± 1) du for x = m/T,
// normalised so a massless boson contributes 1 per degree of freedom.
func energyIntegral(x float64, dof int) float64 {
	fermion := dof < 0
	var res float64
	switch {
	case x > 20:
		return 0
	case x < 0.01:
		res = 6.49394
		if fermion {
			res = 5.6822
		}
	default:
		sign := -1.0
		if fermion {
			sign = 1
		}
		f := func(u float64) float64 {
			return u * u * math.Sqrt((u-x)*(u+x)) / (math.Exp(u) + sign)
		}
		res = quad.Fixed(f, x, x+60, quadPoints, quad.Legendre{}, 0)
	}
	return res * math.Abs(float64(dof)) * 30 / (2 * math.Pow(math.Pi, 4))
}

// exactGStar sums the SM contributions without smoothing.
func exactGStar(T float64) float64 {
	g := 0.0
	for _, p := range content(T) {
		g += energyIntegral(p.mass/T, p.dof)
	}
	if T <= neutrinoDecoupling {
		g += (-1 + math.Pow(neutrinoTemperatureRatio, 4.0/3)) * energyIntegral(0, -6)
	}
	return g
}

func lerp(T, t0, t1, g0, g1 float64) float64 {
	return g0 + (g1-g0)*(T-t0)/(t1-t0)
}

// gStar is the energy degrees of freedom, linearly interpolated across the
// QCD and neutrino decoupling windows.
func gStar(T float64) float64 {
	switch {
	case T > qcdLow && T < qcdHigh:
		return lerp(T, qcdLow, qcdHigh, exactGStar(qcdLow), exactGStar(qcdHigh))
	case T > neutrinoLow && T < neutrinoHigh:
		return lerp(T, neutrinoLow, neutrinoHigh, exactGStar(neutrinoLow), exactGStar(neutrinoHigh))
	}
	return exactGStar(T)
}

// gStarS is the entropy degrees of freedom. Once decoupled, neutrinos carry
// entropy at their own temperature; the shift follows the same window as
// the neutrino correction of gStar so g*s stays monotone.
func gStarS(T float64) float64 {
	g := gStar(T)
	shift := 7.0 / 8 * 6 * (neutrinoTemperatureRatio - math.Pow(neutrinoTemperatureRatio, 4.0/3))
	switch {
	case T >= neutrinoHigh:
		return g
	case T <= neutrinoLow:
		return g + shift
	}
	return g + shift*(neutrinoHigh-T)/(neutrinoHigh-neutrinoLow)
}
