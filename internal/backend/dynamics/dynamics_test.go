package dynamics

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/stepsim/internal/backend"
	"github.com/san-kum/stepsim/internal/dynamo"
	"github.com/san-kum/stepsim/internal/sim"
)

var pendulumCfg = Config{
	Model:      "pendulum",
	Integrator: "rk4",
	Dt:         0.01,
	Init:       InitState{Theta: 0.5},
}

func newPendulum(t *testing.T) *Backend {
	t.Helper()
	b, err := New(NewRegistry(), pendulumCfg)
	require.NoError(t, err)
	return b
}

func TestCapabilities(t *testing.T) {
	var b backend.Backend = newPendulum(t)
	for name, ok := range map[string]bool{
		"checkpointer": implements[backend.Checkpointer](b),
		"identifier":   implements[backend.Identifier](b),
		"outputSetter": implements[backend.OutputSetter](b),
		"displacer":    implements[backend.Displacer](b),
		"energizer":    implements[backend.Energizer](b),
		"sizer":        implements[backend.Sizer](b),
		"snapshotter":  implements[backend.Snapshotter](b),
	} {
		assert.True(t, ok, name)
	}
}

func implements[T any](b backend.Backend) bool {
	_, ok := b.(T)
	return ok
}

func TestNewRejectsBadConfig(t *testing.T) {
	r := NewRegistry()
	_, err := New(r, Config{Model: "pendulum", Integrator: "rk4"})
	assert.ErrorContains(t, err, "dt must be positive")

	_, err = New(r, Config{Model: "teapot", Integrator: "rk4", Dt: 0.1})
	assert.ErrorContains(t, err, "unknown model: teapot")

	_, err = New(r, Config{Model: "pendulum", Integrator: "magic", Dt: 0.1})
	assert.ErrorContains(t, err, "unknown integrator: magic")
}

func TestNewAppliesParams(t *testing.T) {
	cfg := pendulumCfg
	cfg.Params = map[string]float64{"damping": 0}
	b, err := New(NewRegistry(), cfg)
	require.NoError(t, err)
	e0 := b.Energy()
	require.NoError(t, b.Advance(context.Background(), 100))
	assert.InDelta(t, e0, b.Energy(), 1e-6, "undamped pendulum keeps its energy")

	cfg.Params = map[string]float64{"colour": 1}
	_, err = New(NewRegistry(), cfg)
	assert.ErrorIs(t, err, dynamo.ErrUnknownParam)
}

func TestRegistryLists(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"nbody", "pendulum", "spring_mass"}, r.ListModels())
	assert.Equal(t, []string{"euler", "leapfrog", "rk4", "verlet"}, r.ListIntegrators())
}

func TestAdvance(t *testing.T) {
	b := newPendulum(t)
	assert.Zero(t, b.RMSD())
	e0 := b.Energy()

	require.NoError(t, b.Advance(context.Background(), 100))
	assert.InDelta(t, 1.0, b.Time(), 1e-9)
	assert.Greater(t, b.RMSD(), 0.0)
	assert.Less(t, b.Energy(), e0, "damped pendulum loses energy")
	assert.Equal(t, 1, b.Particles())
	assert.Len(t, b.Snapshot(), 2)
	assert.Contains(t, b.Version(), "pendulum/rk4")
}

func TestAdvanceHonoursCancel(t *testing.T) {
	b := newPendulum(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Advance(ctx, 10), context.Canceled)
	assert.Zero(t, b.Time())
}

type runaway struct{}

func (runaway) Derive(x dynamo.State, _ float64) dynamo.State { return dynamo.State{math.Inf(1), 0} }
func (runaway) StateDim() int                                  { return 2 }
func (runaway) Particles() int                                 { return 1 }
func (runaway) Dim() int                                       { return 1 }

func TestAdvanceRejectsInvalidState(t *testing.T) {
	r := NewRegistry()
	r.models["runaway"] = func(InitState) (dynamo.ParticleSystem, dynamo.State) {
		return runaway{}, dynamo.State{0, 0}
	}
	b, err := New(r, Config{Model: "runaway", Integrator: "euler", Dt: 0.1})
	require.NoError(t, err)

	require.NoError(t, b.Advance(context.Background(), 0))
	err = b.Advance(context.Background(), 5)
	assert.ErrorIs(t, err, dynamo.ErrInvalidState)

	var simErr *dynamo.SimulationError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, 1, simErr.Step)
	assert.True(t, math.IsNaN(b.Energy()), "runaway has no Hamiltonian")
}

func TestCheckpointRoundTrip(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run.out")
	ctx := context.Background()

	a := newPendulum(t)
	a.SetOutputPath(out)
	require.NoError(t, a.Advance(ctx, 37))
	require.NoError(t, a.WriteCheckpoint(ctx))
	assert.FileExists(t, StatePath(out))

	b := newPendulum(t)
	b.SetOutputPath(out)
	require.NoError(t, b.ReadCheckpoint(ctx))
	assert.Equal(t, a.State(), b.State())
	assert.Equal(t, a.Time(), b.Time())
	assert.Equal(t, a.RMSD(), b.RMSD())
}

func TestCheckpointWithoutOutputPath(t *testing.T) {
	b := newPendulum(t)
	assert.NoError(t, b.WriteCheckpoint(context.Background()))
	assert.ErrorIs(t, b.ReadCheckpoint(context.Background()), ErrNoOutputPath)
}

func TestCheckpointModelMismatch(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run.out")
	ctx := context.Background()

	a := newPendulum(t)
	a.SetOutputPath(out)
	require.NoError(t, a.WriteCheckpoint(ctx))

	b, err := New(NewRegistry(), Config{Model: "nbody", Integrator: "verlet", Dt: 0.01, Init: InitState{NumBodies: 3}})
	require.NoError(t, err)
	b.SetOutputPath(out)
	assert.ErrorContains(t, b.ReadCheckpoint(ctx), `checkpoint is for model "pendulum"`)

	require.NoError(t, os.WriteFile(StatePath(out), []byte("{"), 0o644))
	assert.ErrorContains(t, a.ReadCheckpoint(ctx), "decode checkpoint")
}

func TestCheckpointDimensionMismatch(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run.out")
	ctx := context.Background()
	cfg := Config{Model: "spring_mass", Integrator: "verlet", Dt: 0.01, Init: InitState{NumBodies: 2, Pos: 0.1}}

	a, err := New(NewRegistry(), cfg)
	require.NoError(t, err)
	a.SetOutputPath(out)
	require.NoError(t, a.WriteCheckpoint(ctx))

	cfg.Init.NumBodies = 3
	b, err := New(NewRegistry(), cfg)
	require.NoError(t, err)
	b.SetOutputPath(out)
	assert.True(t, errors.Is(b.ReadCheckpoint(ctx), dynamo.ErrDimensionMismatch))
}

// A run split by a restart ends in the same state as one run of the full length.
func TestResumeMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()
	run := func(out string, restart bool, steps int) *Backend {
		b := newPendulum(t)
		s, err := sim.New(b, sim.WithOutputPath(out), sim.WithRestart(restart), sim.WithCheckpointInterval(40))
		require.NoError(t, err)
		report, err := s.Run(ctx, steps)
		require.NoError(t, err)
		require.Equal(t, sim.TargetReached, report.Reason)
		require.Equal(t, steps, report.FinalStep)
		return b
	}

	split := filepath.Join(t.TempDir(), "split", "run.out")
	run(split, false, 100)
	resumed := run(split, true, 250)

	whole := run(filepath.Join(t.TempDir(), "whole", "run.out"), false, 250)
	assert.Equal(t, whole.State(), resumed.State())
	assert.Equal(t, whole.RMSD(), resumed.RMSD())
}
