package observer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/san-kum/stepsim/internal/backend"
	"github.com/san-kum/stepsim/internal/logger/tag"
	"github.com/san-kum/stepsim/internal/sim"
)

const (
	ThermoSuffix     = ".thermo.csv"
	TrajectorySuffix = ".traj.csv"
)

// ThermoColumns is the header of the thermo file.
var ThermoColumns = []string{"step", "energy", "rmsd"}

// csvWriter appends one row per call to <base><suffix>, writing a header
// when the file is new. Without an output path it does nothing.
type csvWriter struct {
	suffix string
	header func(s *sim.Simulation) []string
	row    func(s *sim.Simulation) []string
}

func (w *csvWriter) Path(s *sim.Simulation) string {
	if s.OutputPath() == "" {
		return ""
	}
	return s.BasePath() + w.suffix
}

func (w *csvWriter) Observe(_ context.Context, s *sim.Simulation, _ ...any) error {
	path := w.Path(s)
	if path == "" {
		return nil
	}

	fresh := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fresh = true
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if fresh {
		if err := cw.Write(w.header(s)); err != nil {
			return err
		}
	}
	if err := cw.Write(w.row(s)); err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return f.Close()
}

// Clear removes the file left by a previous run.
func (w *csvWriter) Clear(s *sim.Simulation) error {
	path := w.Path(s)
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	s.Logger().Debug("cleared previous output", tag.File(path))
	return nil
}

// NewThermo writes step, energy and rmsd. Energy is NaN for backends that
// do not report it.
func NewThermo() sim.Observer {
	return &csvWriter{
		suffix: ThermoSuffix,
		header: func(*sim.Simulation) []string { return ThermoColumns },
		row: func(s *sim.Simulation) []string {
			energy := math.NaN()
			if e, ok := s.Backend().(backend.Energizer); ok {
				energy = e.Energy()
			}
			return []string{strconv.Itoa(s.CurrentStep()), formatFloat(energy), formatFloat(s.RMSD())}
		},
	}
}

// NewTrajectory writes the step followed by the backend's flat state vector.
// Backends without a snapshot get a step-only row.
func NewTrajectory() sim.Observer {
	snapshot := func(s *sim.Simulation) []float64 {
		if sn, ok := s.Backend().(backend.Snapshotter); ok {
			return sn.Snapshot()
		}
		return nil
	}
	return &csvWriter{
		suffix: TrajectorySuffix,
		header: func(s *sim.Simulation) []string {
			n := len(snapshot(s))
			cols := make([]string, 0, n+1)
			cols = append(cols, "step")
			for i := 0; i < n; i++ {
				cols = append(cols, fmt.Sprintf("x%d", i))
			}
			return cols
		},
		row: func(s *sim.Simulation) []string {
			values := snapshot(s)
			row := make([]string, 0, len(values)+1)
			row = append(row, strconv.Itoa(s.CurrentStep()))
			for _, v := range values {
				row = append(row, formatFloat(v))
			}
			return row
		},
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
