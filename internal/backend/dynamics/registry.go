package dynamics

import (
	"fmt"
	"sort"

	"github.com/san-kum/stepsim/internal/dynamo"
	"github.com/san-kum/stepsim/internal/integrators"
	"github.com/san-kum/stepsim/internal/physics"
)

// InitState seeds a model's initial state. Each model reads the fields that
// apply to it.
type InitState struct {
	Theta     float64
	Omega     float64
	Pos       float64
	Vel       float64
	NumBodies int
}

type modelFactory func(InitState) (dynamo.ParticleSystem, dynamo.State)

// Registry maps model and integrator names to constructors.
type Registry struct {
	models      map[string]modelFactory
	integrators map[string]func() dynamo.Integrator
}

func NewRegistry() *Registry {
	r := &Registry{
		models:      make(map[string]modelFactory),
		integrators: make(map[string]func() dynamo.Integrator),
	}

	r.models["pendulum"] = func(in InitState) (dynamo.ParticleSystem, dynamo.State) {
		p := physics.NewPendulum()
		return p, p.InitialState(in.Theta, in.Omega)
	}
	r.models["spring_mass"] = func(in InitState) (dynamo.ParticleSystem, dynamo.State) {
		s := physics.NewSpringMassChain(max(in.NumBodies, 1))
		return s, s.InitialState(in.Pos, in.Vel)
	}
	r.models["nbody"] = func(in InitState) (dynamo.ParticleSystem, dynamo.State) {
		n := in.NumBodies
		if n < 2 {
			n = 3
		}
		nb := physics.NewNBody(n)
		return nb, nb.DefaultState()
	}

	r.integrators["euler"] = func() dynamo.Integrator { return integrators.NewEuler() }
	r.integrators["rk4"] = func() dynamo.Integrator { return integrators.NewRK4() }
	r.integrators["verlet"] = func() dynamo.Integrator { return integrators.NewVerlet() }
	r.integrators["leapfrog"] = func() dynamo.Integrator { return integrators.NewLeapfrog() }

	return r
}

// Model builds the named system and its initial state.
func (r *Registry) Model(name string, in InitState) (dynamo.ParticleSystem, dynamo.State, error) {
	fn, ok := r.models[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown model: %s", name)
	}
	sys, x0 := fn(in)
	return sys, x0, nil
}

func (r *Registry) Integrator(name string) (dynamo.Integrator, error) {
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s", name)
	}
	return fn(), nil
}

func (r *Registry) ListModels() []string {
	return sortedKeys(r.models)
}

func (r *Registry) ListIntegrators() []string {
	return sortedKeys(r.integrators)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
