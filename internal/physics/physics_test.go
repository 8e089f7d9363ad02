package physics

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/stepsim/internal/dynamo"
	"github.com/san-kum/stepsim/internal/integrators"
)

func evolve(sys dynamo.System, x dynamo.State, steps int, dt float64) dynamo.State {
	integ := integrators.NewVerlet()
	for i := 0; i < steps; i++ {
		x = integ.Step(sys, x, float64(i)*dt, dt)
	}
	return x
}

func TestEnergyConservation(t *testing.T) {
	undamped := NewPendulum()
	undamped.Damping = 0
	chain := NewSpringMassChain(3)
	for i := range chain.Damping {
		chain.Damping[i] = 0
	}
	nb := NewNBody(4)

	tests := []struct {
		name string
		sys  interface {
			dynamo.System
			dynamo.Hamiltonian
		}
		x0  dynamo.State
		tol float64
	}{
		{"pendulum", undamped, undamped.InitialState(0.5, 0), 1e-3},
		{"spring chain", chain, chain.InitialState(0.3, 0), 1e-3},
		{"nbody", nb, nb.DefaultState(), 1e-2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e0 := tt.sys.Energy(tt.x0)
			x := evolve(tt.sys, tt.x0, 2000, 0.001)
			if !x.IsValid() {
				t.Fatal("state became invalid")
			}
			if drift := math.Abs(tt.sys.Energy(x)-e0) / math.Abs(e0); drift > tt.tol {
				t.Errorf("relative energy drift %.2e exceeds %.0e", drift, tt.tol)
			}
		})
	}
}

func TestDampedPendulumLosesEnergy(t *testing.T) {
	p := NewPendulum()
	x0 := p.InitialState(1.0, 0)
	x := evolve(p, x0, 5000, 0.001)
	if p.Energy(x) >= p.Energy(x0) {
		t.Errorf("energy did not decrease: %.4f -> %.4f", p.Energy(x0), p.Energy(x))
	}
}

func TestNBodyMomentumConserved(t *testing.T) {
	nb := NewNBody(parallelBodies + 6)
	x := evolve(nb, nb.DefaultState(), 50, 0.001)
	px, py := nb.Momentum(x)
	if math.Abs(px) > 1e-9 || math.Abs(py) > 1e-9 {
		t.Errorf("momentum drifted to (%.2e, %.2e)", px, py)
	}
}

func TestNBodyParallelMatchesSerial(t *testing.T) {
	nb := NewNBody(parallelBodies)
	x := nb.DefaultState()
	got := nb.Derive(x, 0)

	want := make(dynamo.State, len(x))
	nb.accelerations(x, want[nb.NumBodies*2:], 0, nb.NumBodies)
	for i := nb.NumBodies * 2; i < len(x); i++ {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("acceleration %d: got %g, want %g", i, got[i], want[i])
		}
	}
}

func TestSetParam(t *testing.T) {
	p := NewPendulum()
	if err := p.SetParam("length", 2); err != nil {
		t.Fatal(err)
	}
	if p.GetParams()["length"] != 2 {
		t.Errorf("length not applied")
	}
	if err := p.SetParam("colour", 1); !errors.Is(err, dynamo.ErrUnknownParam) {
		t.Errorf("expected ErrUnknownParam, got %v", err)
	}

	chain := NewSpringMassChain(3)
	if err := chain.SetParam("stiffness", 4); err != nil {
		t.Fatal(err)
	}
	for i, k := range chain.Stiffness {
		if k != 4 {
			t.Errorf("spring %d: stiffness %g", i, k)
		}
	}
}
