// Package dynamics is a backend that advances a [dynamo.ParticleSystem] with
// a fixed-step integrator. Its checkpoint is a JSON document written next to
// the output as <output>.chk.
package dynamics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/san-kum/stepsim/internal/checkpoint"
	"github.com/san-kum/stepsim/internal/dynamo"
)

const (
	stateSuffix = ".chk"

	// ctxCheckEvery is how many integrator steps run between cancellation checks.
	ctxCheckEvery = 256
)

// ErrNoOutputPath is returned by ReadCheckpoint when no output path has been set.
var ErrNoOutputPath = errors.New("dynamics: no output path for checkpoint")

type Backend struct {
	model      string
	integName  string
	sys        dynamo.ParticleSystem
	integ      dynamo.Integrator
	dt         float64
	x          dynamo.State
	x0         dynamo.State
	t          float64
	steps      int
	outputPath string
}

// Config selects the model, integrator and time step. Params are applied
// to models that implement dynamo.Configurable.
type Config struct {
	Model      string
	Integrator string
	Dt         float64
	Init       InitState
	Params     map[string]float64
}

// New builds a backend from the registry entries named in cfg.
func New(r *Registry, cfg Config) (*Backend, error) {
	if cfg.Dt <= 0 {
		return nil, fmt.Errorf("dynamics: dt must be positive, got %g", cfg.Dt)
	}
	sys, x0, err := r.Model(cfg.Model, cfg.Init)
	if err != nil {
		return nil, err
	}
	integ, err := r.Integrator(cfg.Integrator)
	if err != nil {
		return nil, err
	}
	if len(cfg.Params) > 0 {
		c, ok := sys.(dynamo.Configurable)
		if !ok {
			return nil, fmt.Errorf("dynamics: model %s has no parameters", cfg.Model)
		}
		for name, v := range cfg.Params {
			if err := c.SetParam(name, v); err != nil {
				return nil, err
			}
		}
	}
	return &Backend{
		model:     cfg.Model,
		integName: cfg.Integrator,
		sys:       sys,
		integ:     integ,
		dt:        cfg.Dt,
		x:         x0.Clone(),
		x0:        x0.Clone(),
	}, nil
}

func (b *Backend) Advance(ctx context.Context, steps int) error {
	for i := 0; i < steps; i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		next := b.integ.Step(b.sys, b.x, b.t, b.dt)
		if !next.IsValid() {
			return &dynamo.SimulationError{
				Step:    b.steps + 1,
				Time:    b.t + b.dt,
				State:   next,
				Wrapped: dynamo.ErrInvalidState,
			}
		}
		b.x = next
		b.t += b.dt
		b.steps++
	}
	return nil
}

// State returns the live dynamo.State.
func (b *Backend) State() any { return b.x }

func (b *Backend) Time() float64 { return b.t }

func (b *Backend) Version() string {
	return fmt.Sprintf("dynamics %s/%s dt=%g", b.model, b.integName, b.dt)
}

func (b *Backend) SetOutputPath(path string) { b.outputPath = path }

func (b *Backend) Particles() int { return b.sys.Particles() }

func (b *Backend) Snapshot() []float64 { return b.x.Clone() }

// Energy is NaN when the model has no Hamiltonian.
func (b *Backend) Energy() float64 {
	h, ok := b.sys.(dynamo.Hamiltonian)
	if !ok {
		return math.NaN()
	}
	return h.Energy(b.x)
}

// RMSD is the root mean square displacement of the particles' coordinates
// from the initial state.
func (b *Backend) RMSD() float64 {
	coords := b.sys.Particles() * b.sys.Dim()
	sum := 0.0
	for i := 0; i < coords && i < len(b.x); i++ {
		d := b.x[i] - b.x0[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(b.sys.Particles()))
}

// StatePath returns the checkpoint location for an output path.
func StatePath(outputPath string) string {
	return outputPath + stateSuffix
}

type snapshot struct {
	Model      string       `json:"model"`
	Integrator string       `json:"integrator"`
	Dt         float64      `json:"dt"`
	Time       float64      `json:"time"`
	Steps      int          `json:"steps"`
	State      dynamo.State `json:"state"`
	Initial    dynamo.State `json:"initial"`
}

// WriteCheckpoint is a no-op without an output path.
func (b *Backend) WriteCheckpoint(context.Context) error {
	if b.outputPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(snapshot{
		Model:      b.model,
		Integrator: b.integName,
		Dt:         b.dt,
		Time:       b.t,
		Steps:      b.steps,
		State:      b.x,
		Initial:    b.x0,
	}, "", "  ")
	if err != nil {
		return err
	}
	return checkpoint.WriteFileAtomic(StatePath(b.outputPath), data)
}

func (b *Backend) ReadCheckpoint(context.Context) error {
	if b.outputPath == "" {
		return ErrNoOutputPath
	}
	data, err := os.ReadFile(StatePath(b.outputPath))
	if err != nil {
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("dynamics: decode checkpoint: %w", err)
	}
	if snap.Model != b.model {
		return fmt.Errorf("dynamics: checkpoint is for model %q, backend runs %q", snap.Model, b.model)
	}
	dim := b.sys.StateDim()
	if len(snap.State) != dim || len(snap.Initial) != dim {
		return fmt.Errorf("dynamics: checkpoint state has %d entries, want %d: %w",
			len(snap.State), dim, dynamo.ErrDimensionMismatch)
	}

	b.x = snap.State
	b.x0 = snap.Initial
	b.t = snap.Time
	b.steps = snap.Steps
	return nil
}
