package sim

import (
	"log/slog"
	"time"

	"github.com/san-kum/relicsim/internal/integrators"
	"github.com/san-kum/relicsim/internal/network"
	"github.com/san-kum/relicsim/internal/species"
)

// Thermodynamics is what the driver needs from the thermo provider.
type Thermodynamics interface {
	network.Thermodynamics
	GStar(T float64) float64
	GStarS(T float64) float64
}

// Recorder receives solver telemetry.
type Recorder interface {
	network.Instruments
	StepsTaken(accepted, rejected int)
	SegmentCompleted()
	EventFired(kind string)
}

type nopRecorder struct{}

func (nopRecorder) RHSEvaluated()         {}
func (nopRecorder) JacobianEvaluated()    {}
func (nopRecorder) NonFiniteReplaced(int) {}
func (nopRecorder) StepsTaken(int, int)   {}
func (nopRecorder) SegmentCompleted()     {}
func (nopRecorder) EventFired(string)     {}

// Departure tests.
const (
	DepartureRatio = "ratio"
	DepartureOff   = "off"
)

type Config struct {
	RTol float64
	ATol float64
	// Points is the number of output samples over the full x range.
	Points      int
	MaxSegments int
	// MaxWallClock bounds a solve; zero disables the limit.
	MaxWallClock    time.Duration
	NumericJacobian bool
	// DepartureTest selects how coupled species detect freeze-out.
	DepartureTest      string
	DepartureThreshold float64
	// XMargin extends the integration range beyond the target temperature.
	XMargin float64

	Logger  *slog.Logger
	Metrics Recorder
}

func DefaultConfig() Config {
	return Config{
		RTol:               1e-6,
		ATol:               1e-10,
		Points:             1000,
		MaxSegments:        100,
		DepartureTest:      DepartureRatio,
		DepartureThreshold: 0.1,
		XMargin:            5,
	}
}

// Trajectory is the append-only evolution of the bath. Species densities
// are stored on the species themselves, one entry per trajectory point.
type Trajectory struct {
	X           []float64
	T           []float64
	S           []float64
	ScaleFactor []float64
}

func (t *Trajectory) Len() int { return len(t.X) }

func (t *Trajectory) append(x, T, S, a float64) {
	t.X = append(t.X, x)
	t.T = append(t.T, T)
	t.S = append(t.S, S)
	t.ScaleFactor = append(t.ScaleFactor, a)
}

// SegmentReport summarises one integration segment.
type SegmentReport struct {
	Index  int
	XStart float64
	XEnd   float64
	TStart float64
	TEnd   float64
	// Event is the name of the event that closed the segment, empty when
	// the segment ran to the end of the range.
	Event   string
	Species string
	Points  int
	Stats   integrators.Stats
}

type Observer interface {
	OnSegment(r SegmentReport)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(SegmentReport)

func (f ObserverFunc) OnSegment(r SegmentReport) { f(r) }

type Result struct {
	Species    species.List
	Trajectory *Trajectory
	Segments   []SegmentReport
	Stats      integrators.Stats
	T0, TF     float64
	// Reached is false when the run ended before the target temperature.
	Reached bool
	Elapsed time.Duration
}
