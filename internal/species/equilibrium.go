package species

import "math"

const (
	nonRelativisticX = 0.1
	relativisticX    = 1.5
	// The energy ratio switches to its massless form slightly later than
	// the density.
	relativisticRatioX = 1.675
)

var (
	bosonBlend   = statisticsBlend(false)
	fermionBlend = statisticsBlend(true)
)

func absDoF(dof int) float64 {
	if dof < 0 {
		return float64(-dof)
	}
	return float64(dof)
}

// nonRelativisticDensity is the per-dof density for x = T/m < 0.1.
func nonRelativisticDensity(m, x float64) float64 {
	return m * m * m * math.Pow(x/(2*math.Pi), 1.5) * math.Exp(-1/x) * nonRelativisticSeries(x)
}

func nonRelativisticSeries(x float64) float64 {
	return 1 + 15*x/8 + 105*x*x/128
}

// besselDensity is the Maxwell-Boltzmann per-dof density m³ x K2(1/x)/(2π²).
func besselDensity(m, x float64) float64 {
	z := 1 / x
	return m * m * m * x * besselK2e(z) * math.Exp(-z) / (2 * math.Pi * math.Pi)
}

func relativisticDensity(T float64, fermion bool) float64 {
	n := Zeta3 * T * T * T / (math.Pi * math.Pi)
	if fermion {
		n *= 0.75
	}
	return n
}

// statisticsBlend returns the ratio between the quantum and the
// Maxwell-Boltzmann densities at x = 1.5.
func statisticsBlend(fermion bool) float64 {
	return relativisticDensity(relativisticX, fermion) / besselDensity(1, relativisticX)
}

// statisticsCorrection moves the Bessel regime from Maxwell-Boltzmann at
// x = 0.1 to the quantum limit at x = 1.5 so both boundaries join.
func statisticsCorrection(x float64, fermion bool) (s, slope float64) {
	c := bosonBlend
	if fermion {
		c = fermionBlend
	}
	const span = relativisticX - nonRelativisticX
	w := (x - nonRelativisticX) / span
	s = 1 + (c-1)*w*w
	// x ds/dx / s
	slope = x * (c - 1) * 2 * w / span / s
	return s, slope
}

func equilibriumDensity(T, m float64, fermion bool) float64 {
	if m <= 0 {
		return relativisticDensity(T, fermion)
	}
	x := T / m
	switch {
	case x < nonRelativisticX:
		return nonRelativisticDensity(m, x)
	case x < relativisticX:
		s, _ := statisticsCorrection(x, fermion)
		return besselDensity(m, x) * s
	default:
		return relativisticDensity(T, fermion)
	}
}

// EquilibriumDensity is the number density in chemical equilibrium with the
// bath at temperature T. CO species have none.
func (s *Species) EquilibriumDensity(T float64) float64 {
	if !s.kind.IsThermal() {
		return 0
	}
	return absDoF(s.dof) * equilibriumDensity(T, s.mass(T), s.dof < 0)
}

// EquilibriumDensitySlope is d ln neq / d ln T at fixed mass.
func (s *Species) EquilibriumDensitySlope(T float64) float64 {
	if !s.kind.IsThermal() {
		return 0
	}
	m := s.mass(T)
	if m <= 0 {
		return 3
	}
	x := T / m
	switch {
	case x < nonRelativisticX:
		return 1.5 + 1/x + x*(15.0/8+2*105*x/128)/nonRelativisticSeries(x)
	case x < relativisticX:
		z := 1 / x
		_, slope := statisticsCorrection(x, s.dof < 0)
		return 3 + z*besselK1e(z)/besselK2e(z) + slope
	default:
		return 3
	}
}

func relativisticEnergyRatio(T float64, fermion bool) float64 {
	pi4 := math.Pow(math.Pi, 4)
	if fermion {
		return 7 * pi4 * T / (180 * Zeta3)
	}
	return pi4 * T / (30 * Zeta3)
}

// EquilibriumEnergyRatio is ρ/n in equilibrium at temperature T.
func (s *Species) EquilibriumEnergyRatio(T float64) float64 {
	m := s.mass(T)
	if m <= 0 || T/m > relativisticRatioX {
		return relativisticEnergyRatio(T, s.dof < 0)
	}
	r, _ := besselRatio12(m / T)
	return m*r + 3*T
}

// EquilibriumEnergyRatioSlope is d(ρ/n)_eq / d ln T at fixed mass.
func (s *Species) EquilibriumEnergyRatioSlope(T float64) float64 {
	m := s.mass(T)
	if m <= 0 || T/m > relativisticRatioX {
		return relativisticEnergyRatio(T, s.dof < 0)
	}
	z := m / T
	_, dRatio := besselRatio12(z)
	return -m*z*dRatio + 3*T
}

// EquilibriumRatioTo returns neq_self/neq_other. When both species are
// non-relativistic the exponentials are combined analytically. ok is false
// when the ratio is undefined.
func (s *Species) EquilibriumRatioTo(T float64, other *Species) (float64, bool) {
	if other == s {
		return 1, true
	}
	if !s.kind.IsThermal() {
		return 0, true
	}
	if !other.kind.IsThermal() {
		return 0, false
	}
	m1, m2 := s.mass(T), other.mass(T)
	if m1 > 0 && m2 > 0 {
		x, y := T/m1, T/m2
		if x < nonRelativisticX && y < nonRelativisticX {
			r := absDoF(s.dof) / absDoF(other.dof) *
				math.Pow(m1/m2, 3) * math.Pow(x/y, 1.5) *
				math.Exp(1/y-1/x) *
				nonRelativisticSeries(x) / nonRelativisticSeries(y)
			if math.IsNaN(r) || math.IsInf(r, 0) {
				return 0, false
			}
			return r, true
		}
	}
	num, den := s.EquilibriumDensity(T), other.EquilibriumDensity(T)
	if den == 0 {
		return 0, false
	}
	r := num / den
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return r, true
}
