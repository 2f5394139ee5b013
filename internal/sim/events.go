package sim

import (
	"math"

	"github.com/san-kum/relicsim/internal/dynamo"
	"github.com/san-kum/relicsim/internal/network"
	"github.com/san-kum/relicsim/internal/species"
)

// Event names.
const (
	EventDecay       = "decay"
	EventDepletion   = "depletion"
	EventDeparture   = "departure"
	EventOscillation = "oscillation"
	EventTarget      = "target"
)

// depletionLog is how far ln(n/norm) may fall within a segment before the
// species counts as gone.
const depletionLog = 100

// segmentEvents builds the event functions of one segment.
func (s *Simulator) segmentEvents(nw *network.Network, T float64, TF float64) []dynamo.Event {
	var events []dynamo.Event
	for i, sp := range s.list {
		sp := sp
		idx := i
		switch {
		case sp.IsActive():
			name := EventDepletion
			if sp.Width(T) > 0 {
				name = EventDecay
			}
			events = append(events, dynamo.Event{Name: name, Index: idx, Func: func(x float64, y dynamo.State) float64 {
				return y[idx] + depletionLog
			}})
			if sp.Kind().IsThermal() && !sp.Decoupled() && s.cfg.DepartureTest == DepartureRatio {
				th := s.cfg.DepartureThreshold
				events = append(events, dynamo.Event{Name: EventDeparture, Index: idx, Func: func(x float64, y dynamo.State) float64 {
					d := nw.Diagnose(x, y)
					return departureMargin(d, idx, th)
				}})
			}
		case pendingOscillation(sp):
			events = append(events, dynamo.Event{Name: EventOscillation, Index: idx, Func: func(x float64, y dynamo.State) float64 {
				d := nw.Diagnose(x, y)
				return 3*d.H - sp.Mass(d.T)
			}})
		}
	}
	events = append(events, dynamo.Event{Name: EventTarget, Index: -1, Func: func(x float64, y dynamo.State) float64 {
		return math.Log(nw.Temperature(x, y) / TF)
	}})
	return events
}

// departureMargin is positive while species idx is held in equilibrium.
func departureMargin(d network.Diagnostics, idx int, threshold float64) float64 {
	return threshold*d.Restoring[idx] - d.Drive[idx]*d.H
}

func pendingOscillation(sp *species.Species) bool {
	if sp.Kind() != species.CoherentOscillation || sp.IsActive() {
		return false
	}
	_, osc := sp.OscillationTemperature()
	_, decayed := sp.DecayTemperature()
	return !osc && !decayed
}

// applyEvent updates species flags for an event at temperature T and
// adjusts the densities the next segment starts from. It reports whether
// the run should stop.
func (s *Simulator) applyEvent(name string, idx int, T float64, n, R []float64) bool {
	if name == EventTarget {
		return true
	}
	sp := s.list[idx]
	log := s.logger.With("event", name, "species", sp.Label(), "T", T)
	switch name {
	case EventDecay:
		sp.RecordDecay(T)
		sp.Deactivate()
		n[idx], R[idx] = math.NaN(), math.NaN()
		log.Info("species decayed")
	case EventDepletion:
		sp.Deactivate()
		n[idx], R[idx] = math.NaN(), math.NaN()
		log.Info("species depleted")
	case EventDeparture:
		sp.RecordDecouple(T)
		log.Info("species left equilibrium")
	case EventOscillation:
		sp.RecordOscillation(T)
		sp.Activate()
		m := sp.Mass(T)
		n[idx] = sp.Amplitude(T) / m
		R[idx] = m
		log.Info("coherent oscillation started")
	}
	s.metrics.EventFired(name)
	return false
}

// immediateEvents handles events already satisfied at the start of a
// segment. It reports whether the run should stop.
func (s *Simulator) immediateEvents(nw *network.Network, x float64, y dynamo.State, T, TF float64, n, R []float64) (stop bool) {
	if T <= TF {
		s.metrics.EventFired(EventTarget)
		return true
	}
	d := nw.Diagnose(x, y)
	for i, sp := range s.list {
		switch {
		case sp.IsActive() && sp.Kind().IsThermal() && !sp.Decoupled() && s.cfg.DepartureTest == DepartureRatio:
			if departureMargin(d, i, s.cfg.DepartureThreshold) <= 0 {
				s.applyEvent(EventDeparture, i, T, n, R)
			}
		case pendingOscillation(sp):
			if 3*d.H-sp.Mass(T) <= 0 {
				s.applyEvent(EventOscillation, i, T, n, R)
			}
		}
	}
	return false
}
