package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/san-kum/stepsim/internal/backend"
	"github.com/san-kum/stepsim/internal/logger/tag"
	"github.com/san-kum/stepsim/internal/schedule"
)

const targetStepsKey = "target_steps"

// Run advances the simulation by steps steps from the current step, or by
// the configured run length when steps is zero. On a resumed run that has
// already made progress the configured length is kept.
//
// Termination signals and interrupts end the run without error. A returned
// error is either a *ConfigError, raised before the backend moves, or a
// failure of the backend or an observer. The report is non-nil in every case
// past preparation.
func (s *Simulation) Run(ctx context.Context, steps int) (*Report, error) {
	if s.phase == Preparing || s.phase == Running {
		return nil, ErrRunning
	}
	defer func() {
		s.phase = Done
		s.log.Info("goodbye")
	}()

	if steps > 0 && (!s.restart || s.currentStep == 0) {
		s.steps = steps
	}

	s.phase = Preparing
	if err := s.prepare(ctx); err != nil {
		s.log.Error("simulation failed", tag.Error(err))
		return nil, err
	}

	s.phase = Running
	stop, err := s.loop(ctx)
	switch {
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Cancelled inside Advance: backend state may be partial, so the
		// last periodic checkpoint stays authoritative.
		s.phase = EndingNormally
		s.log.Warn("interrupted while advancing", tag.Step(s.currentStep))
		return s.end(&Stop{Reason: Interrupted, Message: "interrupted while advancing"}), nil

	case err != nil:
		s.phase = EndingOnError
		s.log.Error("simulation failed", tag.Step(s.currentStep), tag.Error(err))
		return s.end(&Stop{Reason: Failed, Message: err.Error()}), err
	}

	s.phase = EndingOnSignal
	if stop.Reason == Interrupted {
		s.phase = EndingNormally
	}
	if err := s.writeCheckpoint(ctx); err != nil {
		s.phase = EndingOnError
		s.log.Error("simulation failed", tag.Step(s.currentStep), tag.Error(err))
		return s.end(&Stop{Reason: Failed, Message: err.Error()}), err
	}
	s.log.Info("simulation ended: "+stop.Message, tag.Reason(stop.Reason.String()))
	return s.end(stop), nil
}

// prepare registers the step target, resolves every scheduler and sets up
// output or restores the checkpoint.
func (s *Simulation) prepare(ctx context.Context) error {
	if s.steps <= 0 {
		return &ConfigError{Observer: targetStepsKey, Err: ErrNoSteps}
	}
	s.target = s.currentStep + s.steps
	if err := s.registry.Register(targetStepsKey, Target, ObserverFunc(targetSteps), schedule.Every(s.target), s.target); err != nil {
		return &ConfigError{Observer: targetStepsKey, Err: err}
	}

	for _, e := range s.registry.Entries() {
		s.patchTarget(e.Scheduler)
		if _, err := e.Scheduler.Interval(); err != nil {
			return &ConfigError{Observer: e.Key, Err: err}
		}
	}
	if s.chkSchedule != nil {
		if _, err := s.chkSchedule.Interval(); err != nil {
			return &ConfigError{Observer: "checkpoint", Err: err}
		}
	}

	if s.outputPath != "" {
		if setter, ok := s.backend.(backend.OutputSetter); ok {
			setter.SetOutputPath(s.outputPath)
		}
		if !s.restart {
			for _, e := range s.registry.Entries() {
				c, ok := e.Observer.(Clearer)
				if !ok {
					continue
				}
				if err := c.Clear(s); err != nil {
					return fmt.Errorf("sim: clear output of %s: %w", e.Key, err)
				}
			}
		}
	}

	s.resumed = false
	if s.restart {
		step, found, err := s.checkpoints.Read(ctx, s.backend)
		if err != nil {
			return &BackendError{Op: "read checkpoint", Step: s.currentStep, Err: err}
		}
		if found {
			s.currentStep = step
			s.resumed = true
		} else {
			s.log.Warn("restart requested but no checkpoint found, starting fresh", tag.File(s.checkpoints.Path()))
		}
	}

	s.initialStep = s.currentStep
	s.started = s.clock.Now()
	s.reportStart()

	for _, e := range s.registry.Entries() {
		if r, ok := e.Observer.(Resetter); ok {
			r.Reset(s)
		}
	}
	return nil
}

// patchTarget gives a scheduler built from a call count the run's target
// step. A scheduler with neither interval nor calls stays unresolved.
func (s *Simulation) patchTarget(sch *schedule.Scheduler) {
	if !sch.Resolved() && sch.Calls() > 0 && sch.Target() == 0 {
		sch.SetTarget(s.target)
	}
}

func (s *Simulation) loop(ctx context.Context) (*Stop, error) {
	isTarget := func(e *Entry) bool { return e.Kind == Target }

	// A resumed run may already satisfy its targets.
	if stop, err := s.registry.Notify(ctx, s, s.registry.Filter(isTarget)); stop != nil || err != nil {
		return stop, err
	}
	// Writers already ran for the resume step in the previous process,
	// including a checkpoint taken at step 0.
	if s.currentStep == 0 && !s.resumed {
		rest := s.registry.Filter(func(e *Entry) bool { return !isTarget(e) })
		if stop, err := s.registry.Notify(ctx, s, rest); stop != nil || err != nil {
			return stop, err
		}
	}
	s.log.Info("starting", tag.Step(s.currentStep), tag.Target(s.target))

	var extra []*schedule.Scheduler
	if s.chkSchedule != nil {
		extra = append(extra, s.chkSchedule)
	}
	for {
		if ctx.Err() != nil {
			return &Stop{Reason: Interrupted, Message: fmt.Sprintf("interrupted at step %d", s.currentStep)}, nil
		}

		wake, err := s.registry.Next(s.currentStep, extra...)
		if err != nil {
			return nil, err
		}
		chkDue := false
		if s.chkSchedule != nil {
			next, _ := s.chkSchedule.Next(s.currentStep)
			chkDue = next == wake.Step
		}

		if err := s.backend.Advance(ctx, wake.Step-s.currentStep); err != nil {
			return nil, &BackendError{Op: "advance", Step: s.currentStep, Err: err}
		}
		s.currentStep = wake.Step

		// Due is in firing order: targets come after everything else so
		// writers flush this step before the run can end.
		if stop, err := s.registry.Notify(ctx, s, wake.Due); stop != nil || err != nil {
			return stop, err
		}
		if chkDue {
			if err := s.writeCheckpoint(ctx); err != nil {
				return nil, err
			}
		}
	}
}

func (s *Simulation) writeCheckpoint(ctx context.Context) error {
	if err := s.checkpoints.Write(ctx, s.backend, s.currentStep); err != nil {
		return &BackendError{Op: "write checkpoint", Step: s.currentStep, Err: err}
	}
	s.written++
	s.log.Debug("checkpoint written", tag.Step(s.currentStep))
	return nil
}

// targetSteps ends the run once the step counter reaches its argument.
func targetSteps(_ context.Context, s *Simulation, args ...any) error {
	target, _ := args[0].(int)
	if s.CurrentStep() >= target {
		return Halt(TargetReached, "target steps achieved")
	}
	s.log.Debugf("targeting steps to %d [%d%%]", target, s.CurrentStep()*100/max(target, 1))
	return nil
}
