package config

import "sort"

// Presets are named starting points per model. GetPreset returns a copy
// with the defaults filled in.
var Presets = map[string]map[string]*RunConfig{
	"pendulum": {
		"small": {
			Model: "pendulum", Integrator: "rk4", Dt: 0.01, Steps: 2000,
			InitState: InitState{Theta: 0.2},
		},
		"large": {
			Model: "pendulum", Integrator: "rk4", Dt: 0.01, Steps: 2000,
			InitState: InitState{Theta: 2.5},
		},
		"spinning": {
			Model: "pendulum", Integrator: "rk4", Dt: 0.01, Steps: 3000,
			InitState: InitState{Theta: 0.1, Omega: 8.0},
		},
	},
	"spring_mass": {
		"bounce": {
			Model: "spring_mass", Integrator: "verlet", Dt: 0.01, Steps: 2000,
			InitState: InitState{Pos: 2.0, NumBodies: 1},
		},
		"chain": {
			Model: "spring_mass", Integrator: "verlet", Dt: 0.005, Steps: 4000,
			InitState: InitState{Pos: 1.0, Vel: 5.0, NumBodies: 8},
		},
	},
	"nbody": {
		"orbit": {
			Model: "nbody", Integrator: "leapfrog", Dt: 0.001, Steps: 50000,
			TargetRMSD: 5, InitState: InitState{NumBodies: 3},
		},
		"cluster": {
			Model: "nbody", Integrator: "leapfrog", Dt: 0.0005, Steps: 20000,
			InitState: InitState{NumBodies: 128},
		},
	},
}

func GetPreset(model, preset string) *RunConfig {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	p, ok := modelPresets[preset]
	if !ok {
		return nil
	}

	cfg := DefaultRunConfig()
	cfg.Model = p.Model
	cfg.Integrator = p.Integrator
	cfg.Dt = p.Dt
	cfg.Steps = p.Steps
	cfg.TargetRMSD = p.TargetRMSD
	cfg.InitState = p.InitState
	cfg.Output = "runs/" + model + "-" + preset + "/run.out"
	return cfg
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
