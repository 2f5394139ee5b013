package sim_test

import (
	"context"
	"errors"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/relicsim/internal/dynamo"
	"github.com/san-kum/relicsim/internal/sim"
	"github.com/san-kum/relicsim/internal/species"
)

func constant(v float64) species.Func { return func(float64) float64 { return v } }

func wimp() *species.Species {
	s, err := species.New("chi", species.Thermal, -2, 500.0,
		species.WithAnnihilation(constant(1.9e-9)))
	Expect(err).NotTo(HaveOccurred())
	return s
}

func run(list species.List, T0, TF float64, mutate func(*sim.Config)) (*sim.Result, error) {
	cfg := sim.DefaultConfig()
	cfg.Points = 300
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := sim.New(list, provider, cfg)
	if err != nil {
		return nil, err
	}
	return s.Run(context.Background(), T0, TF)
}

func finiteIndices(v []float64) []int {
	var out []int
	for i, x := range v {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, i)
		}
	}
	return out
}

var _ = Describe("Simulator", func() {
	Describe("configuration", func() {
		It("rejects non-positive tolerances", func() {
			_, err := run(species.List{wimp()}, 1e3, 1, func(c *sim.Config) { c.RTol = 0 })
			var cfgErr *dynamo.ConfigError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
		})

		It("rejects an unknown departure test", func() {
			_, err := run(species.List{wimp()}, 1e3, 1, func(c *sim.Config) { c.DepartureTest = "sometimes" })
			Expect(err).To(HaveOccurred())
		})

		It("rejects inverted temperatures", func() {
			_, err := run(species.List{wimp()}, 1, 1e3, nil)
			var cfgErr *dynamo.ConfigError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
		})

		It("rejects an empty species list", func() {
			_, err := sim.New(species.List{}, provider, sim.DefaultConfig())
			Expect(err).To(HaveOccurred())
		})

		It("stops on the wall-clock budget", func() {
			_, err := run(species.List{wimp()}, 1e3, 1, func(c *sim.Config) { c.MaxWallClock = time.Nanosecond })
			Expect(errors.Is(err, dynamo.ErrWallClock)).To(BeTrue())
		})
	})

	Describe("a stable thermal relic", func() {
		var (
			chi *species.Species
			res *sim.Result
		)

		BeforeEach(func() {
			chi = wimp()
			var err error
			res, err = run(species.List{chi}, 1e4, 1e-3, nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("reaches the target temperature", func() {
			Expect(res.Reached).To(BeTrue())
			tr := res.Trajectory
			Expect(tr.T[tr.Len()-1]).To(BeNumerically("~", 1e-3, 1e-6))
		})

		It("freezes out at a fraction of its mass", func() {
			Td, ok := chi.DecoupleTemperature()
			Expect(ok).To(BeTrue())
			Expect(Td).To(BeNumerically(">", 500.0/35))
			Expect(Td).To(BeNumerically("<", 500.0/12))
		})

		It("never decays", func() {
			_, ok := chi.DecayTemperature()
			Expect(ok).To(BeFalse())
			Expect(chi.IsActive()).To(BeTrue())
		})

		It("keeps one density per trajectory point", func() {
			Expect(chi.NumberDensities()).To(HaveLen(res.Trajectory.Len()))
			Expect(chi.EnergyDensities()).To(HaveLen(res.Trajectory.Len()))
		})

		It("expands monotonically while cooling", func() {
			tr := res.Trajectory
			for i := 1; i < tr.Len(); i++ {
				Expect(tr.ScaleFactor[i]).To(BeNumerically(">", tr.ScaleFactor[i-1]))
				Expect(tr.T[i]).To(BeNumerically("<", tr.T[i-1]))
			}
		})

		It("conserves comoving entropy", func() {
			tr := res.Trajectory
			for _, S := range tr.S {
				Expect(S).To(BeNumerically("~", tr.S[0], 1e-6*tr.S[0]))
			}
		})

		It("leaves a relic yield of the thermal-freeze-out size", func() {
			tr := res.Trajectory
			last := tr.Len() - 1
			a := tr.ScaleFactor[last]
			Y := chi.NumberDensities()[last] * a * a * a / tr.S[last]
			Expect(Y).To(BeNumerically(">", 7e-14))
			Expect(Y).To(BeNumerically("<", 7e-12))
		})

		It("reports every segment", func() {
			Expect(res.Segments).NotTo(BeEmpty())
			Expect(res.Segments[0].Event).To(Equal(sim.EventDeparture))
			Expect(res.Segments[len(res.Segments)-1].Event).To(Equal(sim.EventTarget))
			Expect(res.Stats.Steps).To(BeNumerically(">", 0))
		})
	})

	Describe("a decaying species", func() {
		var x *species.Species

		BeforeEach(func() {
			var err error
			x, err = species.New("X", species.Thermal, 1, 100.0,
				species.WithDecays(species.DecayTable{
					Width:    1e-14,
					Channels: []species.Decay{{Products: []string{"photon", "photon"}, Fraction: 1, BathFraction: 1}},
				}))
			Expect(err).NotTo(HaveOccurred())
		})

		It("starts decoupled and records its decay", func() {
			res, err := run(species.List{x}, 1e3, 1e-2, nil)
			Expect(err).NotTo(HaveOccurred())
			Td, ok := x.DecoupleTemperature()
			Expect(ok).To(BeTrue())
			Expect(Td).To(Equal(1e3))

			T, ok := x.DecayTemperature()
			Expect(ok).To(BeTrue())
			Expect(T).To(BeNumerically(">", 1e-2))
			Expect(T).To(BeNumerically("<", 100))
			Expect(x.IsActive()).To(BeFalse())

			// nothing is left to evolve, so the run ends at the decay
			Expect(res.Reached).To(BeFalse())
			tr := res.Trajectory
			Expect(tr.T[tr.Len()-1]).To(BeNumerically("~", T, 1e-9*T))
			n := x.NumberDensities()
			Expect(n).To(HaveLen(tr.Len()))
			Expect(math.IsNaN(n[len(n)-1])).To(BeFalse())
			Expect(res.Segments).To(HaveLen(1))
			Expect(res.Segments[0].Event).To(Equal(sim.EventDecay))
			Expect(res.Segments[0].Species).To(Equal("X"))
		})

		It("fails past the segment budget", func() {
			_, err := run(species.List{x}, 1e3, 1e-2, func(c *sim.Config) { c.MaxSegments = 1 })
			Expect(errors.Is(err, dynamo.ErrTooManySegments)).To(BeTrue())
		})
	})

	Describe("a coherent oscillation", func() {
		It("starts oscillating when 3H drops below the mass", func() {
			a, err := species.New("a", species.CoherentOscillation, 0, 1e-15,
				species.WithAmplitude(constant(1e-10)))
			Expect(err).NotTo(HaveOccurred())

			var events []string
			cfg := sim.DefaultConfig()
			cfg.Points = 300
			s, err := sim.New(species.List{a}, provider, cfg)
			Expect(err).NotTo(HaveOccurred())
			s.AddObserver(sim.ObserverFunc(func(r sim.SegmentReport) { events = append(events, r.Event) }))
			res, err := s.Run(context.Background(), 1e3, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(Equal([]string{sim.EventOscillation, sim.EventTarget}))

			Tosc, ok := a.OscillationTemperature()
			Expect(ok).To(BeTrue())
			Expect(Tosc).To(BeNumerically(">", 5))
			Expect(Tosc).To(BeNumerically("<", 50))

			n := a.NumberDensities()
			rho := a.EnergyDensities()
			idx := finiteIndices(n)
			Expect(idx).NotTo(BeEmpty())
			Expect(math.IsNaN(n[0])).To(BeTrue())

			tr := res.Trajectory
			first, last := idx[0], idx[len(idx)-1]
			comoving := func(i int) float64 { return n[i] * math.Pow(tr.ScaleFactor[i], 3) }
			Expect(comoving(last)).To(BeNumerically("~", comoving(first), 1e-4*comoving(first)))
			Expect(rho[last] / n[last]).To(BeNumerically("~", 1e-15, 1e-20))
		})
	})
})
