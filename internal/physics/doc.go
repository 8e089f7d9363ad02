// Package physics provides the dynamical systems stepsim can advance.
//
// Every model implements [dynamo.ParticleSystem] with states laid out as all
// coordinates followed by all velocities, so velocity Verlet and leapfrog
// apply directly. All of them also implement [dynamo.Hamiltonian] and
// [dynamo.Configurable]:
//
//   - [Pendulum]: damped simple pendulum, one angular coordinate
//   - [SpringMass]: chain of masses joined by springs to two walls
//   - [NBody]: softened 2D gravity between point masses
package physics
