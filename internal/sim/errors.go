package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrNoObservers indicates a run with nothing to schedule.
	ErrNoObservers = errors.New("sim: no observers registered")

	// ErrNoSteps indicates a run without a positive step target.
	ErrNoSteps = errors.New("sim: run length must be positive")

	// ErrRunning indicates an operation that is illegal while a run is in progress.
	ErrRunning = errors.New("sim: simulation is running")

	// ErrNilObserver indicates a registration without an observer.
	ErrNilObserver = errors.New("sim: nil observer")

	// ErrNilScheduler indicates a registration without a scheduler.
	ErrNilScheduler = errors.New("sim: nil scheduler")

	// ErrNilBackend indicates a simulation created without a backend.
	ErrNilBackend = errors.New("sim: nil backend")
)

// ConfigError is a setup failure. It is always fatal and surfaces before
// the backend is advanced.
type ConfigError struct {
	Observer string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Observer == "" {
		return fmt.Sprintf("sim: configuration: %v", e.Err)
	}
	return fmt.Sprintf("sim: configuration of %s: %v", e.Observer, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// BackendError wraps a failure of the backend or of a checkpoint hook.
type BackendError struct {
	Op   string
	Step int
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("sim: backend %s at step %d: %v", e.Op, e.Step, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
