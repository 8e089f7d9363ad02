// Package automation runs a scripted batch of simulations, optionally
// sweeping one model parameter across a range.
package automation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/stepsim/internal/config"
	"github.com/san-kum/stepsim/internal/sim"
)

var (
	ErrNoRuns       = errors.New("automation: scenario has no runs")
	ErrInvalidSweep = errors.New("automation: sweep needs a parameter and at least two points")
)

// Scenario is a named list of runs. Each run starts from the default run
// configuration, so a scenario only spells out what differs.
type Scenario struct {
	Name        string
	Description string
	Runs        []*config.RunConfig
	Sweep       *Sweep
}

// Sweep repeats every run for Count evenly spaced values of Param in
// [Min, Max].
type Sweep struct {
	Param string  `yaml:"param"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Count int     `yaml:"count"`
}

func (sc *Scenario) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name        string      `yaml:"name"`
		Description string      `yaml:"description"`
		Runs        []yaml.Node `yaml:"runs"`
		Sweep       *Sweep      `yaml:"sweep"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	sc.Name = raw.Name
	sc.Description = raw.Description
	sc.Sweep = raw.Sweep
	sc.Runs = make([]*config.RunConfig, 0, len(raw.Runs))
	for i := range raw.Runs {
		cfg := config.DefaultRunConfig()
		if err := raw.Runs[i].Decode(cfg); err != nil {
			return fmt.Errorf("run %d: %w", i+1, err)
		}
		sc.Runs = append(sc.Runs, cfg)
	}
	return nil
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Expand returns the validated configurations to run, one per run and
// sweep point. Swept runs write under <dir>/<param>-<i>/ so their outputs
// and checkpoints never collide.
func (sc *Scenario) Expand() ([]*config.RunConfig, error) {
	if len(sc.Runs) == 0 {
		return nil, ErrNoRuns
	}
	if sc.Sweep != nil && (sc.Sweep.Param == "" || sc.Sweep.Count < 2) {
		return nil, ErrInvalidSweep
	}

	var out []*config.RunConfig
	for i, base := range sc.Runs {
		if sc.Sweep == nil {
			if err := base.Validate(); err != nil {
				return nil, fmt.Errorf("run %d: %w", i+1, err)
			}
			out = append(out, base)
			continue
		}
		span := (sc.Sweep.Max - sc.Sweep.Min) / float64(sc.Sweep.Count-1)
		for j := range sc.Sweep.Count {
			cfg := *base
			cfg.Params = maps.Clone(base.Params)
			if cfg.Params == nil {
				cfg.Params = make(map[string]float64, 1)
			}
			cfg.Params[sc.Sweep.Param] = sc.Sweep.Min + float64(j)*span
			cfg.Output = filepath.Join(filepath.Dir(base.Output),
				fmt.Sprintf("%s-%d", sc.Sweep.Param, j), filepath.Base(base.Output))
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("run %d point %d: %w", i+1, j, err)
			}
			out = append(out, &cfg)
		}
	}
	return out, nil
}

// RunFunc runs one configuration to completion.
type RunFunc func(ctx context.Context, cfg *config.RunConfig) (*sim.Report, error)

// Run executes cfgs in order. A failed run aborts the batch. So does an
// interrupt or a STOP file, since both mean the user wants everything to
// stop.
func Run(ctx context.Context, cfgs []*config.RunConfig, fn RunFunc) ([]*sim.Report, error) {
	reports := make([]*sim.Report, 0, len(cfgs))
	for i, cfg := range cfgs {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := fn(ctx, cfg)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, fmt.Errorf("run %d/%d (%s): %w", i+1, len(cfgs), cfg.Model, err)
		}
		if report != nil && (report.Reason == sim.Interrupted || report.Reason == sim.UserRequestedStop) {
			break
		}
	}
	return reports, nil
}
