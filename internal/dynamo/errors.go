package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for solver operations.
var (
	// ErrNonFinite marks a NaN or Inf found in a state or derivative. It is
	// recovered locally by substitution with zero and never returned alone.
	ErrNonFinite = errors.New("dynamo: non-finite value (NaN or Inf detected)")

	// ErrInconsistentState marks a physically inconsistent configuration,
	// such as a decayed species still receiving injection. Logged only.
	ErrInconsistentState = errors.New("dynamo: inconsistent species state")

	// ErrStepTooSmall indicates adaptive step size fell below the minimum.
	ErrStepTooSmall = errors.New("dynamo: adaptive step below minimum")

	// ErrSingularMatrix indicates the iteration matrix could not be factorized.
	ErrSingularMatrix = errors.New("dynamo: singular iteration matrix")

	// ErrMaxSteps indicates the step budget of a segment was exhausted.
	ErrMaxSteps = errors.New("dynamo: maximum number of steps exceeded")

	// ErrTooManySegments indicates runaway event-driven restarts.
	ErrTooManySegments = errors.New("dynamo: maximum number of integration segments exceeded")

	// ErrWallClock indicates the solve exceeded its wall-clock budget.
	ErrWallClock = errors.New("dynamo: wall-clock budget exceeded")

	// ErrDimensionMismatch indicates mismatched state/system dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and system")
)

// ConfigError reports an invalid model definition. It is fatal at
// construction time.
type ConfigError struct {
	Subject string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Subject, e.Reason)
}

// IntegrationError wraps an unrecoverable integrator failure with the
// temperature at which it happened.
type IntegrationError struct {
	Segment     int
	X           float64
	Temperature float64
	Diagnostic  string
	Wrapped     error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("integration failed in segment %d at T=%.4g GeV (x=%.4f): %s",
		e.Segment, e.Temperature, e.X, e.Diagnostic)
}

func (e *IntegrationError) Unwrap() error {
	return e.Wrapped
}
