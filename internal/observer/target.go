// Package observer provides the stock observers a run registers: thresholds
// that end the run and CSV writers that record it.
//
// Termination observers are registered with kind sim.Target so they fire
// after the writers due at the same step:
//
//	s.AddEvery("rmsd", sim.Target, observer.TargetRMSD(2.5), 100)
//	s.AddEvery("thermo", sim.Writer, observer.NewThermo(), 50)
package observer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/san-kum/stepsim/internal/sim"
)

// StopFile is the sentinel file name UserStop looks for in the output directory.
const StopFile = "STOP"

// Metric reads a quantity from a running simulation.
type Metric func(s *sim.Simulation) float64

// Threshold ends the run once its metric reaches Limit.
type Threshold struct {
	Name   string
	Metric Metric
	Limit  float64
}

func (t *Threshold) Observe(_ context.Context, s *sim.Simulation, _ ...any) error {
	v := t.Metric(s)
	if v >= t.Limit {
		return sim.Halt(sim.TargetReached, "target %s achieved", t.Name)
	}
	s.Logger().Debugf("targeting %s to %g [%.0f%%]", t.Name, t.Limit, 100*v/t.Limit)
	return nil
}

// TargetRMSD ends the run once the backend's displacement reaches limit.
func TargetRMSD(limit float64) *Threshold {
	return &Threshold{Name: "rmsd", Metric: (*sim.Simulation).RMSD, Limit: limit}
}

// WallTime ends the run once the simulation has existed for longer than its
// limit. It is only as precise as its own schedule.
type WallTime struct {
	Limit time.Duration
}

func (w *WallTime) Observe(_ context.Context, s *sim.Simulation, _ ...any) error {
	if up := s.Uptime(); up > w.Limit {
		return sim.Halt(sim.WallTimeExceeded, "wall time %s exceeded after %s", w.Limit, up.Round(time.Second))
	}
	return nil
}

// UserStop ends the run when a STOP file appears in the output directory.
// The file is left in place so every run sharing the directory stops.
type UserStop struct{}

func (UserStop) Observe(_ context.Context, s *sim.Simulation, _ ...any) error {
	dir := s.OutputDir()
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(filepath.Join(dir, StopFile)); err == nil {
		return sim.Halt(sim.UserRequestedStop, "user has stopped the simulation")
	}
	return nil
}
