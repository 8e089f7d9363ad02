// Package dynamo holds the primitives shared by the models and integrators
// behind the dynamics backend.
//
//   - [State]: flat state vector, coordinates first and velocities after
//   - [System]: an ODE dX/dt = f(X, t)
//   - [Integrator]: advances a [System] by one time step
//   - [Hamiltonian], [ParticleSystem], [Configurable]: optional model traits
//
// # Example
//
//	sys := physics.NewPendulum()
//	x := sys.InitialState(0.5, 0)
//	integ := integrators.NewRK4()
//	for i := range 1000 {
//		x = integ.Step(sys, x, float64(i)*dt, dt)
//	}
//
// Integrators keep scratch buffers and are not safe for concurrent use.
package dynamo
