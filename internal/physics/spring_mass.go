package physics

import (
	"fmt"

	"github.com/san-kum/stepsim/internal/dynamo"
)

const (
	DefaultMass      = 1.0
	DefaultStiffness = 10.0
	DefaultDamping   = 0.2
)

// SpringMass is a chain of n masses. Spring i joins mass i-1 to mass i, with
// springs 0 and n anchored to walls.
type SpringMass struct {
	NumMasses int
	Masses    []float64
	Stiffness []float64
	Damping   []float64
}

func NewSpringMass() *SpringMass {
	return NewSpringMassChain(1)
}

func NewSpringMassChain(n int) *SpringMass {
	n = max(n, 1)
	masses := make([]float64, n)
	stiffness := make([]float64, n+1)
	damping := make([]float64, n)
	for i := 0; i < n; i++ {
		masses[i] = DefaultMass
		stiffness[i] = DefaultStiffness
		damping[i] = DefaultDamping
	}
	stiffness[n] = DefaultStiffness

	return &SpringMass{
		NumMasses: n,
		Masses:    masses,
		Stiffness: stiffness,
		Damping:   damping,
	}
}

func (s *SpringMass) StateDim() int  { return s.NumMasses * 2 }
func (s *SpringMass) Particles() int { return s.NumMasses }
func (s *SpringMass) Dim() int       { return 1 }

// InitialState displaces the first mass by pos with velocity vel.
func (s *SpringMass) InitialState(pos, vel float64) dynamo.State {
	x := make(dynamo.State, s.StateDim())
	x[0] = pos
	x[s.NumMasses] = vel
	return x
}

func (s *SpringMass) Derive(x dynamo.State, _ float64) dynamo.State {
	n := s.NumMasses
	dx := make(dynamo.State, n*2)

	for i := 0; i < n; i++ {
		pos, vel := x[i], x[n+i]

		left := 0.0
		if i > 0 {
			left = x[i-1]
		}
		right := 0.0
		if i < n-1 {
			right = x[i+1]
		}

		force := -s.Stiffness[i]*(pos-left) - s.Stiffness[i+1]*(pos-right) - s.Damping[i]*vel
		dx[i] = vel
		dx[n+i] = force / s.Masses[i]
	}
	return dx
}

func (s *SpringMass) Energy(x dynamo.State) float64 {
	n := s.NumMasses
	energy := 0.0
	for i := 0; i < n; i++ {
		v := x[n+i]
		energy += 0.5 * s.Masses[i] * v * v

		left := 0.0
		if i > 0 {
			left = x[i-1]
		}
		stretch := x[i] - left
		energy += 0.5 * s.Stiffness[i] * stretch * stretch
	}
	energy += 0.5 * s.Stiffness[n] * x[n-1] * x[n-1]
	return energy
}

func (s *SpringMass) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":      s.Masses[0],
		"stiffness": s.Stiffness[0],
		"damping":   s.Damping[0],
	}
}

// SetParam applies a value to every mass or spring in the chain.
func (s *SpringMass) SetParam(name string, value float64) error {
	var target []float64
	switch name {
	case "mass":
		target = s.Masses
	case "stiffness":
		target = s.Stiffness
	case "damping":
		target = s.Damping
	default:
		return fmt.Errorf("spring_mass %q: %w", name, dynamo.ErrUnknownParam)
	}
	for i := range target {
		target[i] = value
	}
	return nil
}
