package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDt                 = 0.01
	DefaultSteps              = 10000
	DefaultTheta              = 0.5
	DefaultBodies             = 3
	DefaultCheckpointInterval = 1000
	DefaultThermoCalls        = 100
	DefaultStopCheckInterval  = 100
	DefaultOutput             = "runs/pendulum/run.out"
)

var (
	ErrInvalidDt        = errors.New("config: dt must be positive")
	ErrNegativeInterval = errors.New("config: intervals and counts must not be negative")
	ErrInvalidLogFormat = errors.New("config: log format must be text or json")
)

// RunConfig is everything a run needs, as read from a YAML file.
type RunConfig struct {
	Model              string        `yaml:"model"`
	Integrator         string        `yaml:"integrator"`
	Dt                 float64       `yaml:"dt"`
	Steps              int           `yaml:"steps"`
	Output             string        `yaml:"output"`
	Restart            bool          `yaml:"restart"`
	CheckpointInterval int           `yaml:"checkpoint_interval"`
	WallTime           time.Duration `yaml:"wall_time"`
	TargetRMSD         float64       `yaml:"target_rmsd"`
	StabilityThreshold float64       `yaml:"stability_threshold"`
	Thermo             WriterConfig  `yaml:"thermo"`
	Trajectory         WriterConfig  `yaml:"trajectory"`
	StopCheckInterval  int           `yaml:"stop_check_interval"`
	Speedometer        bool          `yaml:"speedometer"`
	Log                LogConfig     `yaml:"log"`
	InitState          InitState     `yaml:"init_state"`

	// Params override model parameters by name, e.g. damping or stiffness.
	Params map[string]float64 `yaml:"params,omitempty"`
}

// WriterConfig schedules a writer by a fixed interval or by a number of
// calls spread over the run. Both zero disables the writer.
type WriterConfig struct {
	Interval int `yaml:"interval"`
	Calls    int `yaml:"calls"`
}

func (w WriterConfig) Enabled() bool { return w.Interval > 0 || w.Calls > 0 }

type LogConfig struct {
	Debug  bool   `yaml:"debug"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type InitState struct {
	Theta     float64 `yaml:"theta"`
	Omega     float64 `yaml:"omega"`
	Pos       float64 `yaml:"pos"`
	Vel       float64 `yaml:"vel"`
	NumBodies int     `yaml:"num_bodies"`
}

func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Model:              "pendulum",
		Integrator:         "rk4",
		Dt:                 DefaultDt,
		Steps:              DefaultSteps,
		Output:             DefaultOutput,
		CheckpointInterval: DefaultCheckpointInterval,
		Thermo:             WriterConfig{Calls: DefaultThermoCalls},
		StopCheckInterval:  DefaultStopCheckInterval,
		Log:                LogConfig{Format: "text"},
		InitState: InitState{
			Theta:     DefaultTheta,
			NumBodies: DefaultBodies,
		},
	}
}

// Load reads path over the defaults, so a file only names what it changes.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultRunConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *RunConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *RunConfig) Validate() error {
	if c.Dt <= 0 {
		return fmt.Errorf("%w: %g", ErrInvalidDt, c.Dt)
	}
	for name, v := range map[string]int{
		"steps":                 c.Steps,
		"checkpoint_interval":   c.CheckpointInterval,
		"thermo.interval":       c.Thermo.Interval,
		"thermo.calls":          c.Thermo.Calls,
		"trajectory.interval":   c.Trajectory.Interval,
		"trajectory.calls":      c.Trajectory.Calls,
		"stop_check_interval":   c.StopCheckInterval,
		"init_state.num_bodies": c.InitState.NumBodies,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s=%d", ErrNegativeInterval, name, v)
		}
	}
	if c.WallTime < 0 || c.TargetRMSD < 0 || c.StabilityThreshold < 0 {
		return fmt.Errorf("%w: wall_time=%s target_rmsd=%g stability_threshold=%g",
			ErrNegativeInterval, c.WallTime, c.TargetRMSD, c.StabilityThreshold)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format)
	}
	return nil
}
