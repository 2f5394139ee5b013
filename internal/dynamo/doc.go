// Package dynamo provides the numerical primitives shared by the relic
// solver.
//
// The package defines the fundamental interfaces and types used to pose the
// Boltzmann system as an initial-value problem dy/dx = f(x, y), where x is
// the logarithm of the scale factor:
//
//   - [State]: vector representing the system state
//   - [System]: first-order ODE right-hand side
//   - [JacobianSystem]: a System that also supplies ∂f/∂y
//   - [Event]: scalar zero-crossing function terminating a segment
//
// It also holds the error taxonomy of the solver: configuration errors,
// integration failures and the recoverable numeric conditions that are
// logged rather than returned.
//
// # Example
//
//	net := network.New(list, provider, seg)
//	rb := integrators.NewRosenbrock(integrators.DefaultOptions())
//	res, err := rb.Integrate(ctx, net, x0, y0, xEnd, grid, events)
//
// # Thread Safety
//
// Systems built by the solver are pure with respect to their inputs and may
// be evaluated concurrently, but integrator instances carry scratch space
// and are NOT thread-safe.
package dynamo
