package sim

import (
	"fmt"
	"time"

	"github.com/san-kum/stepsim/internal/logger/tag"
)

const reportDateFormat = "2006-01-02 at 15:04"

// Report summarises a finished run.
type Report struct {
	RunID       string
	Backend     string
	OutputPath  string
	Reason      Reason
	Message     string
	InitialStep int
	FinalStep   int
	TargetStep  int
	RMSD        float64
	Checkpoints int
	Started     time.Time
	Ended       time.Time
	WallTime    time.Duration
	// TimePerStep is seconds per step; TSP is seconds per step per particle.
	// Both are NaN when no step was taken.
	TimePerStep float64
	TSP         float64
}

// Success reports whether the run ended on a termination signal or an interrupt.
func (r *Report) Success() bool { return r.Reason != Failed }

func (s *Simulation) reportStart() {
	s.log.Info(s.String())
	s.log.Info("stepsim version: "+Version, tag.RunID(s.runID))
	s.log.Info("simulation starts on: " + s.started.Format(reportDateFormat))
	if s.outputPath != "" {
		s.log.Info("output path: " + s.outputPath)
	}
	s.log.Info("backend: " + s.backendName())

	for _, e := range s.registry.Entries() {
		if e.Kind == Target {
			arg := "-"
			if len(e.Args) > 0 {
				arg = fmt.Sprint(e.Args[0])
			}
			s.log.Infof("target %s: %s", e.Key, arg)
			continue
		}
		s.log.Infof("%s %s: %s", e.Kind, e.Key, e.Scheduler)
	}
	if s.chkSchedule != nil {
		s.log.Info("checkpoint: " + s.chkSchedule.String())
	}
}

func (s *Simulation) end(stop *Stop) *Report {
	now := s.clock.Now()
	r := &Report{
		RunID:       s.runID,
		Backend:     s.backendName(),
		OutputPath:  s.outputPath,
		Reason:      stop.Reason,
		Message:     stop.Message,
		InitialStep: s.initialStep,
		FinalStep:   s.currentStep,
		TargetStep:  s.target,
		RMSD:        s.RMSD(),
		Checkpoints: s.written,
		Started:     s.started,
		Ended:       now,
		WallTime:    now.Sub(s.started),
		TimePerStep: s.WallTime(true, false),
		TSP:         s.WallTime(true, true),
	}
	if stop.Reason == Failed {
		return r
	}

	s.log.Info("simulation ended on: " + now.Format(reportDateFormat))
	s.log.Infof("final steps: %d", r.FinalStep)
	s.log.Infof("final rmsd: %.2f", r.RMSD)
	s.log.With(tag.Elapsed(r.WallTime)).Infof("wall time [s]: %.1f", r.WallTime.Seconds())
	s.log.Infof("average time per step [s/step]: %.2e", r.TimePerStep)
	s.log.Infof("average TSP [s/step/particle]: %.2e", r.TSP)
	return r
}
