// Package backend defines what the run loop needs from the component that
// owns and advances simulation state.
//
// Only Backend is mandatory. Everything else is an optional capability,
// discovered with a type assertion:
//
//	if cp, ok := b.(backend.Checkpointer); ok {
//	    err = cp.WriteCheckpoint(ctx)
//	}
package backend

import "context"

// Backend advances simulation state. It is the sole owner of that state.
type Backend interface {
	// Advance evolves the state by steps steps. It may block for a long time
	// and may be internally parallel; the run loop never overlaps two calls.
	Advance(ctx context.Context, steps int) error

	// State returns the live state handle. Its shape is backend-defined.
	State() any
}

// Checkpointer persists and restores backend-internal state.
type Checkpointer interface {
	WriteCheckpoint(ctx context.Context) error
	ReadCheckpoint(ctx context.Context) error
}

// Identifier names the backend and its version in run reports.
type Identifier interface {
	Version() string
}

// OutputSetter receives the simulation output path before a run starts.
type OutputSetter interface {
	SetOutputPath(path string)
}

// Displacer reports the root mean square displacement since the initial state.
type Displacer interface {
	RMSD() float64
}

// Energizer reports the total energy of the current state.
type Energizer interface {
	Energy() float64
}

// Sizer reports the number of particles, used to normalise timings.
type Sizer interface {
	Particles() int
}

// Snapshotter exposes the current state as a flat vector for writers.
type Snapshotter interface {
	Snapshot() []float64
}
