// Package network assembles the Boltzmann equations of a species list into
// a dynamo.JacobianSystem.
//
// The state vector is y = [N_i] ++ [R_i] ++ [N_S] with N_i = ln(n_i/norm_i),
// R_i = ρ_i/n_i and N_S = ln(S/S_norm), integrated in x = ln a. A network is
// built per integration segment: the activity and coupling flags of the
// species are read at evaluation time, but only change between segments.
package network

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/san-kum/relicsim/internal/dynamo"
	"github.com/san-kum/relicsim/internal/species"
)

// Thermodynamics is the part of the thermo provider the equations need.
type Thermodynamics interface {
	Temperature(x, NS, Snorm float64) float64
	RadiationDensity(T float64) float64
	EntropyDensity(T float64) float64
	LogSlopeGStarS(T float64) float64
}

// Instruments receives evaluation counts.
type Instruments interface {
	RHSEvaluated()
	JacobianEvaluated()
	NonFiniteReplaced(n int)
}

type nopInstruments struct{}

func (nopInstruments) RHSEvaluated()         {}
func (nopInstruments) JacobianEvaluated()    {}
func (nopInstruments) NonFiniteReplaced(int) {}

// Segment carries the normalisations fixed at the start of an integration
// segment.
type Segment struct {
	Index int
	// Norms[i] is n_i at the segment start (1 when that is not positive).
	Norms []float64
	// SNorm is the comoving entropy at the segment start.
	SNorm float64

	NumericJacobian bool
	Logger          *slog.Logger
	Instruments     Instruments
}

type Network struct {
	list   species.List
	idx    species.Index
	thermo Thermodynamics
	seg    Segment
	logger *slog.Logger
	inst   Instruments

	warnedNonFinite bool
	warnedInjection map[[2]int]bool
}

var _ dynamo.JacobianSystem = (*Network)(nil)

func New(list species.List, th Thermodynamics, seg Segment) (*Network, error) {
	if err := list.Validate(); err != nil {
		return nil, err
	}
	if th == nil {
		return nil, &dynamo.ConfigError{Subject: "network", Reason: "nil thermodynamics"}
	}
	if len(seg.Norms) != len(list) {
		return nil, fmt.Errorf("network: %d norms for %d species: %w", len(seg.Norms), len(list), dynamo.ErrDimensionMismatch)
	}
	for i, v := range seg.Norms {
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, &dynamo.ConfigError{Subject: "network", Reason: fmt.Sprintf("norm of %s must be positive, got %g", list[i].Label(), v)}
		}
	}
	if !(seg.SNorm > 0) {
		return nil, &dynamo.ConfigError{Subject: "network", Reason: fmt.Sprintf("entropy norm must be positive, got %g", seg.SNorm)}
	}

	nw := &Network{
		list:            list,
		idx:             list.Index(),
		thermo:          th,
		seg:             seg,
		logger:          seg.Logger,
		inst:            seg.Instruments,
		warnedInjection: make(map[[2]int]bool),
	}
	if nw.logger == nil {
		nw.logger = slog.Default()
	}
	if nw.inst == nil {
		nw.inst = nopInstruments{}
	}
	nw.logger = nw.logger.With("segment", seg.Index)
	return nw, nil
}

func (nw *Network) Dim() int { return 2*len(nw.list) + 1 }

// Species returns the list the network was built over.
func (nw *Network) Species() species.List { return nw.list }

// Encode maps physical densities and comoving entropy to a state vector
// under the segment normalisation.
func (nw *Network) Encode(n, R []float64, S float64) dynamo.State {
	k := len(nw.list)
	y := make(dynamo.State, nw.Dim())
	for i := range nw.list {
		if n[i] > 0 && !math.IsInf(n[i], 0) {
			y[i] = math.Log(n[i] / nw.seg.Norms[i])
		}
		if !math.IsNaN(R[i]) && !math.IsInf(R[i], 0) {
			y[k+i] = R[i]
		}
	}
	y[2*k] = math.Log(S / nw.seg.SNorm)
	return y
}

// Densities decodes a state vector into n_i, ρ_i, the bath temperature
// and the comoving entropy. Inactive species decode to NaN.
func (nw *Network) Densities(x float64, y dynamo.State) (n, rho []float64, T, S float64) {
	k := len(nw.list)
	n = make([]float64, k)
	rho = make([]float64, k)
	T = nw.thermo.Temperature(x, y[2*k], nw.seg.SNorm)
	for i, s := range nw.list {
		if !s.IsActive() {
			n[i], rho[i] = math.NaN(), math.NaN()
			continue
		}
		n[i] = nw.seg.Norms[i] * math.Exp(y[i])
		if s.Kind() == species.CoherentOscillation {
			rho[i] = s.Mass(T) * n[i]
		} else {
			rho[i] = y[k+i] * n[i]
		}
	}
	return n, rho, T, nw.seg.SNorm * math.Exp(y[2*k])
}

// Temperature returns the bath temperature at (x, y).
func (nw *Network) Temperature(x float64, y dynamo.State) float64 {
	return nw.thermo.Temperature(x, y[2*len(nw.list)], nw.seg.SNorm)
}

// sanitizeInput returns y with non-finite entries replaced by zero.
func (nw *Network) sanitizeInput(y dynamo.State) dynamo.State {
	if y.IsValid() {
		return y
	}
	c := y.Clone()
	nw.nonFinite("input", c.Sanitize())
	return c
}

func (nw *Network) nonFinite(where string, count int) {
	if count == 0 {
		return
	}
	nw.inst.NonFiniteReplaced(count)
	if !nw.warnedNonFinite {
		nw.warnedNonFinite = true
		nw.logger.Warn("replaced non-finite values", "where", where, "count", count, "error", dynamo.ErrNonFinite)
	}
}

func (nw *Network) inconsistent(parent, daughter int) {
	key := [2]int{parent, daughter}
	if nw.warnedInjection[key] {
		return
	}
	nw.warnedInjection[key] = true
	nw.logger.Warn("active species injects into inactive species",
		"parent", nw.list[parent].Label(), "daughter", nw.list[daughter].Label(),
		"error", dynamo.ErrInconsistentState)
}
