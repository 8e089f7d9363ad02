// Package metrics accumulates run diagnostics. Each metric is an observer
// that samples the backend when notified and starts over at every run.
package metrics

import (
	"context"
	"math"

	"github.com/san-kum/stepsim/internal/backend"
	"github.com/san-kum/stepsim/internal/sim"
)

type Metric interface {
	sim.Observer
	sim.Resetter
	Name() string
	Value() float64
}

// Values collects the current value of each metric by name.
func Values(ms ...Metric) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}

// EnergyDrift is the largest relative deviation of the backend's energy
// from its value at the first sample of the run.
type EnergyDrift struct {
	initialEnergy float64
	maxDrift      float64
	samples       int
}

func NewEnergyDrift() *EnergyDrift {
	return &EnergyDrift{}
}

func (e *EnergyDrift) Name() string { return "energy_drift" }

func (e *EnergyDrift) Observe(_ context.Context, s *sim.Simulation, _ ...any) error {
	en, ok := s.Backend().(backend.Energizer)
	if !ok {
		return nil
	}
	energy := en.Energy()
	if math.IsNaN(energy) {
		return nil
	}

	if e.samples == 0 {
		e.initialEnergy = energy
	}
	e.samples++

	if e.initialEnergy != 0 {
		drift := math.Abs(energy-e.initialEnergy) / math.Abs(e.initialEnergy)
		e.maxDrift = math.Max(e.maxDrift, drift)
	}
	return nil
}

func (e *EnergyDrift) Value() float64 { return e.maxDrift }

func (e *EnergyDrift) Reset(*sim.Simulation) {
	e.initialEnergy = 0
	e.maxDrift = 0
	e.samples = 0
}

// Stability is the fraction of samples whose state stays within threshold
// in every component. It is 1 before the first sample.
type Stability struct {
	threshold  float64
	violations int
	samples    int
}

func NewStability(threshold float64) *Stability {
	return &Stability{threshold: threshold}
}

func (st *Stability) Name() string { return "stability" }

func (st *Stability) Observe(_ context.Context, s *sim.Simulation, _ ...any) error {
	sn, ok := s.Backend().(backend.Snapshotter)
	if !ok {
		return nil
	}
	st.samples++
	for _, v := range sn.Snapshot() {
		if math.Abs(v) > st.threshold {
			st.violations++
			break
		}
	}
	return nil
}

func (st *Stability) Value() float64 {
	if st.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(st.violations)/float64(st.samples)
}

func (st *Stability) Reset(*sim.Simulation) {
	st.violations = 0
	st.samples = 0
}
