package network

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/relicsim/internal/dynamo"
	"github.com/san-kum/relicsim/internal/species"
)

// Jacobian fills ∂f/∂y. The N and R columns are analytic; T depends on y
// only through N_S and table lookups, so the N_S column is a one-sided
// finite difference.
func (nw *Network) Jacobian(x float64, y dynamo.State, jac *mat.Dense) {
	nw.inst.JacobianEvaluated()
	y = nw.sanitizeInput(y)
	if nw.seg.NumericJacobian {
		nw.numericJacobian(x, y, jac)
		return
	}

	k := len(nw.list)
	dim := nw.Dim()
	jac.Zero()

	p := nw.eval(x, y, true)
	f0 := make(dynamo.State, dim)
	nw.derive(p, f0)

	// entropy row
	gQ := make([]float64, k)
	Q := nw.entropyRate(p, gQ)
	scale := p.entropyExp / (p.H * p.T)
	dNS := Q * scale
	rowNS := make([]float64, 2*k)
	for j := 0; j < k; j++ {
		rowNS[j] = gQ[j]*scale - dNS*p.dlnHdN[j]
		rowNS[k+j] = -dNS * p.dlnHdR[j]
	}
	for j, v := range rowNS {
		jac.Set(2*k, j, v)
	}

	gN := make([]float64, k)
	gR := make([]float64, k)
	for i, s := range nw.list {
		if !p.active[i] {
			continue
		}
		if p.clamped[i] {
			cN := s.EquilibriumDensitySlope(p.T) * p.dlnTdNS
			cR := s.EquilibriumEnergyRatioSlope(p.T) * p.dlnTdNS
			for j, v := range rowNS {
				jac.Set(i, j, cN*v)
				jac.Set(k+i, j, cR*v)
			}
			continue
		}

		clear(gN)
		clear(gR)
		nH := p.n[i] * p.H
		A := nw.numberRate(p, i, gN, gR)
		F := A / nH
		for j := 0; j < k; j++ {
			d := gN[j]/nH - F*p.dlnHdN[j]
			if j == i {
				d -= F
			}
			jac.Set(i, j, d)
			jac.Set(i, k+j, gR[j]/nH-F*p.dlnHdR[j])
		}

		if s.Kind() == species.CoherentOscillation {
			continue
		}
		clear(gN)
		clear(gR)
		E := nw.energyInjection(p, i, gN, gR)
		G := E / nH
		for j := 0; j < k; j++ {
			d := gN[j]/nH - G*p.dlnHdN[j]
			if j == i {
				d -= G
			}
			jac.Set(k+i, j, d)
			dr := gR[j]/nH - G*p.dlnHdR[j]
			if j == i {
				dr -= 3 * species.PressurePerParticleSlope(p.m[i], p.R[i])
			}
			jac.Set(k+i, k+j, dr)
		}
	}

	// N_S column
	h := 1e-7 * math.Max(1, math.Abs(y[2*k]))
	yh := y.Clone()
	yh[2*k] += h
	f1 := make(dynamo.State, dim)
	nw.derive(nw.eval(x, yh, false), f1)
	for r := 0; r < dim; r++ {
		jac.Set(r, 2*k, (f1[r]-f0[r])/h)
	}

	nw.nonFinite("jacobian", sanitizeDense(jac))
}

func (nw *Network) numericJacobian(x float64, y dynamo.State, jac *mat.Dense) {
	f := func(dst, yy []float64) {
		nw.derive(nw.eval(x, yy, false), dst)
	}
	origin := make([]float64, nw.Dim())
	f(origin, y)
	fd.Jacobian(jac, f, y, &fd.JacobianSettings{
		Formula:     fd.Forward,
		OriginValue: origin,
	})
	nw.nonFinite("jacobian", sanitizeDense(jac))
}

func sanitizeDense(m *mat.Dense) int {
	r, c := m.Dims()
	count := 0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				m.Set(i, j, 0)
				count++
			}
		}
	}
	return count
}
