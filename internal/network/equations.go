package network

import (
	"math"

	"github.com/san-kum/relicsim/internal/dynamo"
	"github.com/san-kum/relicsim/internal/species"
)

// point holds everything the equations need at one (x, y).
type point struct {
	x, T, ns float64

	n, R, rho, m, neq []float64
	width, bath       []float64
	active, clamped   []bool
	dens              species.Densities

	rhoTot, H      float64
	dlnHdN, dlnHdR []float64

	nth     []float64
	nthGrad [][]float64
	// branch[a][i] is the multiplicity-weighted branching of a into i.
	branch      [][]float64
	nthPair     [][]float64
	nthPairGrad [][][]float64

	ann, src         []float64
	co, scat, conv   [][]float64
	entropyExp       float64 // e^{3x-N_S}/S_norm
	dlnTdNS, gsSlope float64
}

func square(k int) [][]float64 {
	m := make([][]float64, k)
	for i := range m {
		m[i] = make([]float64, k)
	}
	return m
}

func (nw *Network) eval(x float64, y dynamo.State, withGrad bool) *point {
	k := len(nw.list)
	p := &point{
		x:       x,
		ns:      y[2*k],
		n:       make([]float64, k),
		R:       make([]float64, k),
		rho:     make([]float64, k),
		m:       make([]float64, k),
		neq:     make([]float64, k),
		width:   make([]float64, k),
		bath:    make([]float64, k),
		active:  make([]bool, k),
		clamped: make([]bool, k),
		dlnHdN:  make([]float64, k),
		dlnHdR:  make([]float64, k),
		nth:     make([]float64, k),
		ann:     make([]float64, k),
		src:     make([]float64, k),
		branch:  square(k),
		nthPair: square(k),
		co:      square(k),
		scat:    square(k),
		conv:    square(k),
	}
	p.T = nw.thermo.Temperature(x, p.ns, nw.seg.SNorm)
	T := p.T

	p.rhoTot = nw.thermo.RadiationDensity(T)
	for i, s := range nw.list {
		if !s.IsActive() {
			continue
		}
		p.active[i] = true
		p.m[i] = s.Mass(T)
		p.n[i] = nw.seg.Norms[i] * math.Exp(y[i])
		if s.Kind() == species.CoherentOscillation {
			p.R[i] = p.m[i]
		} else {
			p.R[i] = y[k+i]
			p.clamped[i] = !s.Decoupled()
		}
		p.rho[i] = p.R[i] * p.n[i]
		p.rhoTot += p.rho[i]
		p.neq[i] = s.EquilibriumDensity(T)
		table := s.Decays(T)
		p.width[i] = table.Width
		p.bath[i] = table.BathFraction()
		p.ann[i] = s.Annihilation(T)
		p.src[i] = s.Source(T)
	}
	p.H = math.Sqrt(8*math.Pi*p.rhoTot/3) / species.PlanckMass
	for i, s := range nw.list {
		if !p.active[i] {
			continue
		}
		p.dlnHdN[i] = p.rho[i] / (2 * p.rhoTot)
		if s.Kind() != species.CoherentOscillation {
			p.dlnHdR[i] = p.n[i] / (2 * p.rhoTot)
		}
	}

	p.dens = species.Densities{
		Index:  nw.idx,
		N:      p.n,
		Active: p.active,
		Ratios: species.NewRatios(T, nw.list),
	}
	if withGrad {
		p.nthGrad = square(k)
		p.nthPairGrad = make([][][]float64, k)
	}
	for a, sa := range nw.list {
		if !p.active[a] {
			continue
		}
		var g []float64
		if withGrad {
			g = p.nthGrad[a]
			p.nthPairGrad[a] = square(k)
		}
		p.nth[a] = sa.EffectiveThermalDensity(T, p.dens, g)
		for i, si := range nw.list {
			if i == a {
				continue
			}
			p.co[a][i] = sa.CoAnnihilation(T, si)
			p.scat[a][i] = sa.Scattering(T, si)
			p.conv[a][i] = sa.Conversion(T, si)
			if p.width[a] == 0 {
				continue
			}
			b := sa.TotalBranchingTo(T, si)
			if b == 0 {
				continue
			}
			p.branch[a][i] = b
			var gp []float64
			if withGrad {
				gp = p.nthPairGrad[a][i]
			}
			p.nthPair[a][i] = sa.EffectiveThermalDensityPair(T, si, p.dens, gp)
		}
	}

	p.entropyExp = math.Exp(3*x-p.ns) / nw.seg.SNorm
	p.gsSlope = nw.thermo.LogSlopeGStarS(T)
	// d ln T/dx = (dN_S/dx - 3) dlnTdNS
	p.dlnTdNS = 1 / (3 + p.gsSlope)
	return p
}

// numberRate returns A_i, the collision and source terms of dn_i/dt. If gN
// and gR are not nil, ∂A_i/∂N_k and ∂A_i/∂R_k are added to them.
func (nw *Network) numberRate(p *point, i int, gN, gR []float64) float64 {
	s := nw.list[i]
	n, neq := p.n[i], p.neq[i]
	grad := gN != nil

	A := p.src[i]

	// decay and inverse decay
	if w := p.width[i]; w > 0 {
		c := w * p.m[i] / p.R[i]
		A -= c * (n - p.nth[i])
		if grad {
			gN[i] -= c * n
			for k, v := range p.nthGrad[i] {
				gN[k] += c * v
			}
			if s.Kind() != species.CoherentOscillation {
				gR[i] += c * (n - p.nth[i]) / p.R[i]
			}
		}
	}

	if sv := p.ann[i]; sv != 0 {
		if s.Kind() == species.WeaklyCoupledThermal {
			nrel := species.Zeta3 * p.T * p.T * p.T / (math.Pi * math.Pi)
			A += sv * nrel * (neq - n)
			if grad {
				gN[i] -= sv * nrel * n
			}
		} else {
			A += sv * (neq*neq - n*n)
			if grad {
				gN[i] -= 2 * sv * n * n
			}
		}
	}

	for j := range nw.list {
		if j == i || !p.active[j] {
			continue
		}
		nj := p.n[j]
		if sv := p.co[i][j]; sv != 0 {
			A += sv * (neq*p.neq[j] - n*nj)
			if grad {
				gN[i] -= sv * n * nj
				gN[j] -= sv * n * nj
			}
		}
		r := p.dens.Ratios[i][j]
		defined := !math.IsNaN(r)
		if sv := p.scat[i][j]; sv != 0 {
			A -= sv * n * n
			if grad {
				gN[i] -= 2 * sv * n * n
			}
			if defined {
				A += sv * r * r * nj * nj
				if grad {
					gN[j] += 2 * sv * r * r * nj * nj
				}
			}
		}
		if c := p.conv[i][j]; c != 0 {
			A -= c * n
			if grad {
				gN[i] -= c * n
			}
			if defined {
				A += c * r * nj
				if grad {
					gN[j] += c * r * nj
				}
			}
		}
	}

	// injection from decaying parents
	for a, sa := range nw.list {
		b := p.branch[a][i]
		if a == i || !p.active[a] || b == 0 {
			continue
		}
		c := p.width[a] * b * p.m[a] / p.R[a]
		diff := p.n[a] - p.nthPair[a][i]
		A += c * diff
		if grad {
			gN[a] += c * p.n[a]
			for k, v := range p.nthPairGrad[a][i] {
				gN[k] -= c * v
			}
			if sa.Kind() != species.CoherentOscillation {
				gR[a] -= c * diff / p.R[a]
			}
		}
	}
	return A
}

// energyInjection returns E_i = Σ_a Γ_a B_ai m_a (½ - R_i/R_a)(n_a - N^th_{a→i}),
// accumulating its gradients like numberRate.
func (nw *Network) energyInjection(p *point, i int, gN, gR []float64) float64 {
	E := 0.0
	for a, sa := range nw.list {
		b := p.branch[a][i]
		if a == i || !p.active[a] || b == 0 {
			continue
		}
		c := p.width[a] * b * p.m[a]
		frac := 0.5 - p.R[i]/p.R[a]
		diff := p.n[a] - p.nthPair[a][i]
		E += c * frac * diff
		if gN != nil {
			gN[a] += c * frac * p.n[a]
			for k, v := range p.nthPairGrad[a][i] {
				gN[k] -= c * frac * v
			}
			gR[i] -= c * diff / p.R[a]
			if sa.Kind() != species.CoherentOscillation {
				gR[a] += c * diff * p.R[i] / (p.R[a] * p.R[a])
			}
		}
	}
	return E
}

// entropyRate returns Q = Σ_i f_i Γ_i m_i (n_i - N^th_i), the energy
// injected into the bath per unit time and volume.
func (nw *Network) entropyRate(p *point, gN []float64) float64 {
	Q := 0.0
	for i := range nw.list {
		if !p.active[i] || p.width[i] == 0 || p.bath[i] == 0 {
			continue
		}
		c := p.bath[i] * p.width[i] * p.m[i]
		Q += c * (p.n[i] - p.nth[i])
		if gN != nil {
			gN[i] += c * p.n[i]
			for k, v := range p.nthGrad[i] {
				gN[k] -= c * v
			}
		}
	}
	return Q
}

func (nw *Network) entropyDerivative(p *point) float64 {
	return nw.entropyRate(p, nil) * p.entropyExp / (p.H * p.T)
}

// Derive evaluates dy/dx.
func (nw *Network) Derive(x float64, y dynamo.State, dy dynamo.State) {
	nw.inst.RHSEvaluated()
	y = nw.sanitizeInput(y)
	p := nw.eval(x, y, false)
	nw.derive(p, dy)
	nw.nonFinite("derivative", dy.Sanitize())
}

func (nw *Network) derive(p *point, dy dynamo.State) {
	k := len(nw.list)
	for i := range dy {
		dy[i] = 0
	}

	dNS := nw.entropyDerivative(p)
	dy[2*k] = dNS
	dlnT := (dNS - 3) * p.dlnTdNS

	for i, s := range nw.list {
		if !p.active[i] {
			nw.checkInjection(p, i)
			continue
		}
		if p.clamped[i] {
			dy[i] = s.EquilibriumDensitySlope(p.T) * dlnT
			dy[k+i] = s.EquilibriumEnergyRatioSlope(p.T) * dlnT
			continue
		}
		nH := p.n[i] * p.H
		dy[i] = -3 + nw.numberRate(p, i, nil, nil)/nH
		if s.Kind() == species.CoherentOscillation {
			continue
		}
		pr := species.PressurePerParticle(p.m[i], p.R[i])
		dy[k+i] = -3*pr + nw.energyInjection(p, i, nil, nil)/nH
	}
}

// checkInjection warns when an active parent still feeds inactive species i.
func (nw *Network) checkInjection(p *point, i int) {
	for a, sa := range nw.list {
		if a == i || !p.active[a] || p.width[a] == 0 {
			continue
		}
		if sa.TotalBranchingTo(p.T, nw.list[i]) > 0 && p.n[a] > 0 {
			nw.inconsistent(a, i)
		}
	}
}
