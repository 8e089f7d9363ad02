package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/stepsim/internal/sim"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444466")).
		Padding(0, 2)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00ffff"))

	MetricLabel = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888899")).
			Width(16)

	MetricValue = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ccff")).
			Bold(true)
)

func reasonStyle(r sim.Reason) lipgloss.Style {
	switch r {
	case sim.Failed:
		return red
	case sim.Interrupted, sim.WallTimeExceeded, sim.UserRequestedStop:
		return yellow
	default:
		return green
	}
}

// RenderReport formats an end-of-run report as a bordered panel.
func RenderReport(r *sim.Report) string {
	var b strings.Builder
	b.WriteString(Title.Render("stepsim run "+shortID(r.RunID)) + "\n\n")

	row := func(label, value string) {
		b.WriteString(MetricLabel.Render(label) + MetricValue.Render(value) + "\n")
	}
	row("backend", r.Backend)
	row("ended", reasonStyle(r.Reason).Render(r.Reason.String())+dim.Render("  "+r.Message))
	row("steps", fmt.Sprintf("%d → %d (target %d)", r.InitialStep, r.FinalStep, r.TargetStep))
	row("rmsd", fmt.Sprintf("%.4g", r.RMSD))
	row("checkpoints", fmt.Sprintf("%d", r.Checkpoints))
	row("wall time", r.WallTime.Round(time.Millisecond).String())
	if !math.IsNaN(r.TimePerStep) {
		row("time/step", fmt.Sprintf("%.2e s/step", r.TimePerStep))
	}
	if !math.IsNaN(r.TSP) {
		row("tsp", fmt.Sprintf("%.2e s/step/particle", r.TSP))
	}
	if r.OutputPath != "" {
		row("output", r.OutputPath)
	}
	return Panel.Render(strings.TrimRight(b.String(), "\n"))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// bar renders a fixed-width progress bar for a fraction in [0, 1].
func bar(frac float64, width int) string {
	frac = math.Max(0, math.Min(1, frac))
	filled := int(frac * float64(width))
	return cyan.Render(strings.Repeat("█", filled)) + dim.Render(strings.Repeat("░", width-filled))
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > width {
		data = data[len(data)-width:]
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	minVal, maxVal := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if math.IsNaN(v) {
			continue
		}
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	rang := maxVal - minVal
	if rang == 0 || math.IsInf(rang, 0) || math.IsNaN(rang) {
		rang = 1
	}
	var sb strings.Builder
	for _, v := range data {
		if math.IsNaN(v) {
			sb.WriteRune(' ')
			continue
		}
		idx := int((v - minVal) / rang * 7)
		sb.WriteRune(chars[max(0, min(7, idx))])
	}
	return sb.String()
}
