// Package tui renders run progress in the terminal: a bubbletea view fed by
// an observer registered on the simulation, and lipgloss panels for
// reports.
package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/stepsim/internal/backend"
	"github.com/san-kum/stepsim/internal/schedule"
	"github.com/san-kum/stepsim/internal/sim"
)

const (
	progressKey   = "progress"
	progressCalls = 200
	barWidth      = 40
	historyLen    = 60
)

// ProgressMsg is a snapshot of a running simulation.
type ProgressMsg struct {
	Step    int
	Target  int
	RMSD    float64
	Energy  float64
	Elapsed time.Duration
}

// DoneMsg carries the outcome of the run.
type DoneMsg struct {
	Report *sim.Report
	Err    error
}

// Sender is the part of *tea.Program the progress observer needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Reporter posts a ProgressMsg every time it is notified.
type Reporter struct {
	To Sender
}

func (r *Reporter) Observe(_ context.Context, s *sim.Simulation, _ ...any) error {
	energy := math.NaN()
	if e, ok := s.Backend().(backend.Energizer); ok {
		energy = e.Energy()
	}
	r.To.Send(ProgressMsg{
		Step:    s.CurrentStep(),
		Target:  s.StepTarget(),
		RMSD:    s.RMSD(),
		Energy:  energy,
		Elapsed: s.Elapsed(),
	})
	return nil
}

// Progress is the bubbletea model of the live view. Quitting before the run
// ends calls cancel, which the run loop treats as an interrupt.
type Progress struct {
	title  string
	cancel context.CancelFunc
	last   ProgressMsg
	energy []float64
	rmsd   []float64
	done   *DoneMsg
}

func NewProgress(title string, cancel context.CancelFunc) Progress {
	return Progress{title: title, cancel: cancel}
}

func (m Progress) Init() tea.Cmd { return nil }

func (m Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.done == nil && m.cancel != nil {
				m.cancel()
			}
			if m.done != nil {
				return m, tea.Quit
			}
		}
		return m, nil
	case ProgressMsg:
		m.last = msg
		m.energy = appendBounded(m.energy, msg.Energy)
		m.rmsd = appendBounded(m.rmsd, msg.RMSD)
		return m, nil
	case DoneMsg:
		m.done = &msg
		return m, tea.Quit
	}
	return m, nil
}

func appendBounded(xs []float64, v float64) []float64 {
	xs = append(xs, v)
	if len(xs) > historyLen {
		xs = xs[len(xs)-historyLen:]
	}
	return xs
}

func (m Progress) View() string {
	var b strings.Builder
	b.WriteString("\n  " + Title.Render(m.title) + "\n\n")

	frac := 0.0
	if m.last.Target > 0 {
		frac = float64(m.last.Step) / float64(m.last.Target)
	}
	b.WriteString(fmt.Sprintf("  %s %s\n\n", bar(frac, barWidth), white.Render(fmt.Sprintf("%3.0f%%", 100*frac))))
	b.WriteString(fmt.Sprintf("  %s %s\n", MetricLabel.Render("step"), MetricValue.Render(fmt.Sprintf("%d / %d", m.last.Step, m.last.Target))))
	b.WriteString(fmt.Sprintf("  %s %s\n", MetricLabel.Render("elapsed"), MetricValue.Render(m.last.Elapsed.Round(time.Second).String())))
	b.WriteString(fmt.Sprintf("  %s %s  %s\n", MetricLabel.Render("rmsd"), MetricValue.Render(fmt.Sprintf("%.4g", m.last.RMSD)), cyan.Render(sparkline(m.rmsd, historyLen))))
	if !math.IsNaN(m.last.Energy) {
		b.WriteString(fmt.Sprintf("  %s %s  %s\n", MetricLabel.Render("energy"), MetricValue.Render(fmt.Sprintf("%.6g", m.last.Energy)), cyan.Render(sparkline(m.energy, historyLen))))
	}

	switch {
	case m.done == nil:
		b.WriteString("\n" + dim.Render("  q stop (writes a checkpoint)") + "\n")
	case m.done.Err != nil:
		b.WriteString("\n  " + red.Render("failed: "+m.done.Err.Error()) + "\n")
	}
	return b.String()
}

// Done returns the outcome once the run has ended.
func (m Progress) Done() *DoneMsg { return m.done }

// Live runs s for steps steps behind a progress view and returns once both
// the run and the view have finished.
func Live(ctx context.Context, s *sim.Simulation, steps int) (*sim.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewProgress(s.String(), cancel), tea.WithAltScreen())
	if err := s.Add(progressKey, sim.Generic, &Reporter{To: p}, schedule.Calls(progressCalls)); err != nil {
		return nil, err
	}
	defer s.Remove(progressKey)

	result := make(chan DoneMsg, 1)
	go func() {
		report, err := s.Run(ctx, steps)
		done := DoneMsg{Report: report, Err: err}
		result <- done
		p.Send(done)
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-result
		return nil, err
	}
	done := <-result
	return done.Report, done.Err
}
