package network

import (
	"math"

	"github.com/san-kum/relicsim/internal/dynamo"
	"github.com/san-kum/relicsim/internal/species"
)

// Diagnostics describes the bath and how strongly each species is held in
// equilibrium at one point of the evolution.
type Diagnostics struct {
	T        float64
	H        float64
	RhoTotal float64
	// DlnTdx is d ln T/dx of the bath.
	DlnTdx float64
	// Restoring[i] is the linearised rate (GeV) driving n_i back to
	// equilibrium.
	Restoring []float64
	// Drive[i] is |d ln neq_i/dx + 3|, the rate at which expansion pulls n_i
	// away from equilibrium per e-fold.
	Drive []float64
}

// DepartureRatio is Drive/(Restoring/H). Infinite when nothing restores
// equilibrium.
func (d Diagnostics) DepartureRatio(i int) float64 {
	if d.Restoring[i] <= 0 {
		return math.Inf(1)
	}
	return d.Drive[i] * d.H / d.Restoring[i]
}

func (nw *Network) Diagnose(x float64, y dynamo.State) Diagnostics {
	y = nw.sanitizeInput(y)
	p := nw.eval(x, y, false)
	dNS := nw.entropyDerivative(p)
	d := Diagnostics{
		T:         p.T,
		H:         p.H,
		RhoTotal:  p.rhoTot,
		DlnTdx:    (dNS - 3) * p.dlnTdNS,
		Restoring: make([]float64, len(nw.list)),
		Drive:     make([]float64, len(nw.list)),
	}
	for i, s := range nw.list {
		if !p.active[i] {
			continue
		}
		d.Restoring[i] = nw.restoringRate(p, i)
		if s.Kind().IsThermal() {
			d.Drive[i] = math.Abs(s.EquilibriumDensitySlope(p.T)*d.DlnTdx + 3)
		}
	}
	return d
}

// restoringRate linearises the collision terms of species i around
// equilibrium.
func (nw *Network) restoringRate(p *point, i int) float64 {
	s := nw.list[i]
	neq := p.neq[i]
	rate := 0.0
	if sv := p.ann[i]; sv > 0 {
		if s.Kind() == species.WeaklyCoupledThermal {
			rate += sv * species.Zeta3 * p.T * p.T * p.T / (math.Pi * math.Pi)
		} else {
			rate += 2 * sv * neq
		}
	}
	if p.width[i] > 0 && p.R[i] > 0 {
		rate += p.width[i] * p.m[i] / p.R[i]
	}
	for j := range nw.list {
		if j == i || !p.active[j] {
			continue
		}
		rate += p.co[i][j] * p.neq[j]
		rate += 2 * p.scat[i][j] * neq
		rate += p.conv[i][j]
	}
	return rate
}
