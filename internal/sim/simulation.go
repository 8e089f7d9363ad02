// Package sim drives a step-based simulation: it advances an opaque backend
// in jumps to the nearest step some observer needs, notifies the observers
// due there in a fixed order and ends the run on a termination signal, an
// interrupt or a failure. The step counter is checkpointed next to the
// output so that a later process can resume.
package sim

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/stepsim/internal/backend"
	"github.com/san-kum/stepsim/internal/checkpoint"
	"github.com/san-kum/stepsim/internal/logger"
	"github.com/san-kum/stepsim/internal/schedule"
)

// Version is reported in the start-of-run report.
var Version = "0.1.0"

type Phase int

const (
	Idle Phase = iota
	Preparing
	Running
	EndingNormally
	EndingOnSignal
	EndingOnError
	Done
)

var phaseNames = map[Phase]string{
	Idle:           "idle",
	Preparing:      "preparing",
	Running:        "running",
	EndingNormally: "ending-normally",
	EndingOnSignal: "ending-on-signal",
	EndingOnError:  "ending-on-error",
	Done:           "done",
}

func (p Phase) String() string { return phaseNames[p] }

type Simulation struct {
	backend    backend.Backend
	outputPath string
	restart    bool

	steps       int
	target      int
	currentStep int
	initialStep int
	resumed     bool

	registry    *Registry
	chkSchedule *schedule.Scheduler
	checkpoints *checkpoint.Manager
	written     int

	clock   Clock
	created time.Time
	started time.Time
	phase   Phase
	runID   string
	speedo  bool
	log     logger.Logger
}

type Option func(*Simulation)

// WithOutputPath sets the output file or directory all other paths derive from.
func WithOutputPath(path string) Option {
	return func(s *Simulation) { s.outputPath = path }
}

// WithSteps sets the run length used when Run is called without one.
func WithSteps(steps int) Option {
	return func(s *Simulation) { s.steps = steps }
}

// WithCheckpointInterval checkpoints every n steps. Zero disables periodic
// checkpoints; the final one at normal termination is always written.
func WithCheckpointInterval(n int) Option {
	return func(s *Simulation) {
		if n > 0 {
			s.chkSchedule = schedule.Every(n)
		} else {
			s.chkSchedule = nil
		}
	}
}

// WithRestart resumes from the checkpoint found next to the output path.
func WithRestart(restart bool) Option {
	return func(s *Simulation) { s.restart = restart }
}

// WithSpeedometer logs throughput and ETA twenty times per run.
func WithSpeedometer() Option {
	return func(s *Simulation) { s.speedo = true }
}

func WithClock(c Clock) Option {
	return func(s *Simulation) { s.clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Simulation) { s.log = l }
}

func WithRunID(id string) Option {
	return func(s *Simulation) { s.runID = id }
}

// New creates a simulation over b. The parent directory of the output path
// is created if needed.
func New(b backend.Backend, opts ...Option) (*Simulation, error) {
	if b == nil {
		return nil, ErrNilBackend
	}
	s := &Simulation{
		backend: b,
		clock:   SystemClock(),
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	s.registry = NewRegistry(s.log)
	s.checkpoints = checkpoint.New(s.outputPath, s.log)
	s.created = s.clock.Now()
	s.started = s.created

	if s.outputPath != "" {
		if err := os.MkdirAll(filepath.Dir(s.outputPath), 0o755); err != nil {
			return nil, fmt.Errorf("sim: create output directory: %w", err)
		}
	}
	if s.speedo {
		if err := s.registry.Register(speedometerKey, Generic, newSpeedometer(), schedule.Calls(speedometerCalls)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Simulation) String() string {
	return fmt.Sprintf("stepsim simulation via %s backend", s.backendName())
}

func (s *Simulation) backendName() string {
	if id, ok := s.backend.(backend.Identifier); ok {
		return id.Version()
	}
	return fmt.Sprintf("%T", s.backend)
}

// Add registers obs under key. While a run is in progress an unset target
// is patched from the run length and the scheduler is resolved at once, so
// a misconfigured scheduler is rejected here rather than mid-loop.
func (s *Simulation) Add(key string, kind Kind, obs Observer, sch *schedule.Scheduler, args ...any) error {
	if s.phase == Running && sch != nil {
		s.patchTarget(sch)
		if _, err := sch.Interval(); err != nil {
			return &ConfigError{Observer: key, Err: err}
		}
	}
	return s.registry.Register(key, kind, obs, sch, args...)
}

// AddEvery registers obs with a fixed interval.
func (s *Simulation) AddEvery(key string, kind Kind, obs Observer, interval int, args ...any) error {
	return s.Add(key, kind, obs, schedule.Every(interval), args...)
}

// Remove unregisters key; removing an absent key is a no-op.
func (s *Simulation) Remove(key string) {
	s.registry.Unregister(key)
}

func (s *Simulation) Registry() *Registry { return s.registry }

// Backend returns the backend. Observers read state through it and must
// not keep the handle across runs.
func (s *Simulation) Backend() backend.Backend { return s.backend }

// SetBackend swaps the backend between runs.
func (s *Simulation) SetBackend(b backend.Backend) error {
	if b == nil {
		return ErrNilBackend
	}
	if s.phase == Running || s.phase == Preparing {
		return ErrRunning
	}
	s.backend = b
	return nil
}

// State returns the backend's live state handle.
func (s *Simulation) State() any { return s.backend.State() }

func (s *Simulation) OutputPath() string { return s.outputPath }

// BasePath is the output path without its extension.
func (s *Simulation) BasePath() string {
	return strings.TrimSuffix(s.outputPath, filepath.Ext(s.outputPath))
}

// OutputDir is the output path itself when it is a directory, else its parent.
func (s *Simulation) OutputDir() string {
	if s.outputPath == "" {
		return ""
	}
	if info, err := os.Stat(s.outputPath); err == nil && info.IsDir() {
		return s.outputPath
	}
	return filepath.Dir(s.outputPath)
}

func (s *Simulation) CurrentStep() int { return s.currentStep }
func (s *Simulation) InitialStep() int { return s.initialStep }
func (s *Simulation) Steps() int       { return s.steps }
func (s *Simulation) Restart() bool    { return s.restart }
func (s *Simulation) RunID() string    { return s.runID }
func (s *Simulation) Phase() Phase     { return s.phase }
func (s *Simulation) Clock() Clock     { return s.clock }

// StepTarget is the absolute step at which the current run ends.
func (s *Simulation) StepTarget() int { return s.target }

// Checkpoints counts checkpoints written by this simulation.
func (s *Simulation) Checkpoints() int { return s.written }

func (s *Simulation) Logger() logger.Logger { return s.log }

// RMSD returns the backend's displacement, or zero if it has none.
func (s *Simulation) RMSD() float64 {
	if d, ok := s.backend.(backend.Displacer); ok {
		return d.RMSD()
	}
	return 0
}

// Elapsed is the wall time since the current run started.
func (s *Simulation) Elapsed() time.Duration { return s.clock.Now().Sub(s.started) }

// Uptime is the wall time since the simulation was created.
func (s *Simulation) Uptime() time.Duration { return s.clock.Now().Sub(s.created) }

// WallTime returns the elapsed run time in seconds, optionally normalised
// per step and per particle. It is NaN when a normaliser is zero.
func (s *Simulation) WallTime(perStep, perParticle bool) float64 {
	norm := 1.0
	if perParticle {
		n := 1
		if sz, ok := s.backend.(backend.Sizer); ok {
			n = sz.Particles()
		}
		if n <= 0 {
			return math.NaN()
		}
		norm *= float64(n)
	}
	if perStep {
		done := s.currentStep - s.initialStep
		if done <= 0 {
			return math.NaN()
		}
		norm *= float64(done)
	}
	return s.Elapsed().Seconds() / norm
}
