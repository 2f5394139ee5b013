package species

var pressureCoeffs = [...]float64{
	-0.345998, 0.234319, -0.0953434, 0.023657,
	-0.00360707, 0.000329645, -0.0000165549, 3.51085e-7,
}

const relativisticPressureR = 11.5

// Pressure returns the pressure of a gas with number density n, energy
// density rho and particle mass m, interpolating between P = ρ/3 and the
// non-relativistic limit.
func Pressure(m, rho, n float64) float64 {
	if n == 0 {
		return 0
	}
	return n * PressurePerParticle(m, rho/n)
}

// PressurePerParticle is P/n as a function of the energy ratio R = ρ/n.
func PressurePerParticle(m, R float64) float64 {
	p, _ := pressurePerParticle(m, R)
	return p
}

// PressurePerParticleSlope is d(P/n)/dR.
func PressurePerParticleSlope(m, R float64) float64 {
	_, d := pressurePerParticle(m, R)
	return d
}

func pressurePerParticle(m, R float64) (p, dp float64) {
	if R > relativisticPressureR*m {
		return R / 3, 1.0 / 3
	}
	if R <= m {
		return 0, 0
	}
	u := R/m - 1
	p = 2 * m / 3 * u
	dp = 2.0 / 3
	uk := u * u
	for k, a := range pressureCoeffs {
		p += m * a * uk
		dp += a * float64(k+2) * uk / u
		uk *= u
	}
	if R/3 < p {
		return R / 3, 1.0 / 3
	}
	return p, dp
}
