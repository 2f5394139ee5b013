package species

import "math"

// Exponentially scaled modified Bessel functions of the second kind,
// e^z K_n(z), from the Abramowitz & Stegun polynomial fits (9.8.1-9.8.8).
// Absolute accuracy is better than 1e-7 relative over z > 0, which is far
// below the tolerance of the evolution.

func besselI0(x float64) float64 {
	t := x / 3.75
	t2 := t * t
	return 1 + t2*(3.5156229+t2*(3.0899424+t2*(1.2067492+t2*(0.2659732+t2*(0.0360768+t2*0.0045813)))))
}

func besselI1(x float64) float64 {
	t := x / 3.75
	t2 := t * t
	return x * (0.5 + t2*(0.87890594+t2*(0.51498869+t2*(0.15084934+t2*(0.02658733+t2*(0.00301532+t2*0.00032411))))))
}

// besselK0e returns e^z K0(z).
func besselK0e(z float64) float64 {
	if z <= 2 {
		t := z / 2
		t2 := t * t
		k := -math.Log(t)*besselI0(z) +
			(-0.57721566 + t2*(0.42278420+t2*(0.23069756+t2*(0.03488590+t2*(0.00262698+t2*(0.00010750+t2*0.00000740))))))
		return k * math.Exp(z)
	}
	u := 2 / z
	p := 1.25331414 + u*(-0.07832358+u*(0.02189568+u*(-0.01062446+u*(0.00587872+u*(-0.00251540+u*0.00053208)))))
	return p / math.Sqrt(z)
}

// besselK1e returns e^z K1(z).
func besselK1e(z float64) float64 {
	if z <= 2 {
		t := z / 2
		t2 := t * t
		k := math.Log(t)*besselI1(z) +
			(1+t2*(0.15443144+t2*(-0.67278579+t2*(-0.18156897+t2*(-0.01919402+t2*(-0.00110404+t2*-0.00004686))))))/z
		return k * math.Exp(z)
	}
	u := 2 / z
	p := 1.25331414 + u*(0.23498619+u*(-0.03655620+u*(0.01504268+u*(-0.00780353+u*(0.00325614+u*-0.00068245)))))
	return p / math.Sqrt(z)
}

// besselK2e returns e^z K2(z) from the recurrence K2 = K0 + 2K1/z.
func besselK2e(z float64) float64 {
	return besselK0e(z) + 2/z*besselK1e(z)
}

// Above besselAsymptoticZ the ratio K1/K2 comes from the large argument
// expansions, which stay accurate where the polynomial fits cancel.
const (
	besselAsymptoticZ = 12
	asymptoticTerms   = 14
)

// asymptoticSeries is Σ a_k(ν) z^-k of K_ν(z) ~ sqrt(π/2z) e^-z Σ a_k z^-k,
// and its derivative in z.
func asymptoticSeries(nu, z float64) (s, ds float64) {
	mu := 4 * nu * nu
	a, zk := 1.0, 1.0
	s = 1
	for k := 1; k <= asymptoticTerms; k++ {
		odd := float64(2*k - 1)
		a *= (mu - odd*odd) / float64(8*k)
		zk /= z
		s += a * zk
		ds -= float64(k) * a * zk / z
	}
	return s, ds
}

// besselRatio12 returns K1(z)/K2(z) and its derivative in z.
func besselRatio12(z float64) (r, dr float64) {
	if z >= besselAsymptoticZ {
		s1, d1 := asymptoticSeries(1, z)
		s2, d2 := asymptoticSeries(2, z)
		return s1 / s2, (d1*s2 - s1*d2) / (s2 * s2)
	}
	k0, k1, k2 := besselK0e(z), besselK1e(z), besselK2e(z)
	return k1 / k2, (-k0*k2 + k1*k1 + k1*k2/z) / (k2 * k2)
}
