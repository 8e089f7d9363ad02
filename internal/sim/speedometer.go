package sim

import (
	"context"
	"time"

	"github.com/san-kum/stepsim/internal/logger/tag"
)

const (
	speedometerKey   = "speedometer"
	speedometerCalls = 20
)

// speedometer logs progress towards the step target with throughput and ETA.
type speedometer struct {
	armed     bool
	startStep int
	startTime time.Time
}

func newSpeedometer() *speedometer { return &speedometer{} }

// Reset re-arms the meter so a resumed run measures only its own steps.
func (m *speedometer) Reset(s *Simulation) {
	m.armed = true
	m.startStep = s.CurrentStep()
	m.startTime = s.Clock().Now()
}

func (m *speedometer) Observe(_ context.Context, s *Simulation, _ ...any) error {
	if !m.armed {
		m.Reset(s)
		return nil
	}
	done := s.CurrentStep() - m.startStep
	elapsed := s.Clock().Now().Sub(m.startTime).Seconds()
	if done <= 0 || elapsed <= 0 {
		return nil
	}

	rate := float64(done) / elapsed
	target := s.StepTarget()
	percent := 100.0
	if target > 0 {
		percent = 100 * float64(s.CurrentStep()) / float64(target)
	}
	eta := time.Duration(float64(max(target-s.CurrentStep(), 0)) / rate * float64(time.Second))
	s.log.With(tag.Step(s.CurrentStep())).Infof("%.0f%% done, %.3g steps/s, eta %s", percent, rate, eta.Round(time.Second))
	return nil
}
