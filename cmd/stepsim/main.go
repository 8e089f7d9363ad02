package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/stepsim/internal/analysis"
	"github.com/san-kum/stepsim/internal/automation"
	"github.com/san-kum/stepsim/internal/backend/dynamics"
	"github.com/san-kum/stepsim/internal/config"
	"github.com/san-kum/stepsim/internal/logger"
	"github.com/san-kum/stepsim/internal/logger/tag"
	"github.com/san-kum/stepsim/internal/metrics"
	"github.com/san-kum/stepsim/internal/observer"
	"github.com/san-kum/stepsim/internal/schedule"
	"github.com/san-kum/stepsim/internal/sim"
	"github.com/san-kum/stepsim/internal/storage"
	"github.com/san-kum/stepsim/internal/tui"
)

var (
	dataDir            string
	configFile         string
	preset             string
	integrator         string
	dt                 float64
	steps              int
	output             string
	restart            bool
	checkpointInterval int
	wallTime           time.Duration
	targetRMSD         float64
	stabilityThreshold float64
	thermoInterval     int
	thermoCalls        int
	trajInterval       int
	trajCalls          int
	stopCheckInterval  int
	speedometer        bool
	debug              bool
	logFormat          string
	logFile            string
	theta              float64
	omega              float64
	pos                float64
	vel                float64
	numBodies          int
	plotColumns        []string
	analyzeSeries      string
	analyzeColumn      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "stepsim",
		Short:        "step-based simulation runner with checkpoint and restart",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".stepsim", "run history directory")

	runCmd := &cobra.Command{
		Use:   "run [model]",
		Short: "run a simulation",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulation,
	}
	addRunFlags(runCmd)

	liveCmd := &cobra.Command{
		Use:   "live [model]",
		Short: "run a simulation behind a live progress view",
		Args:  cobra.ExactArgs(1),
		RunE:  runLive,
	}
	addRunFlags(liveCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot the thermo series of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringSliceVar(&plotColumns, "column", []string{"energy", "rmsd"}, "thermo columns to plot")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "find the dominant period of a written series",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}
	analyzeCmd.Flags().StringVar(&analyzeSeries, "series", "traj", "series to read (thermo or traj)")
	analyzeCmd.Flags().StringVar(&analyzeColumn, "column", "x0", "column to analyze")

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list presets for a model",
		Args:  cobra.ExactArgs(1),
		RunE:  listPresets,
	}

	batchCmd := &cobra.Command{
		Use:   "batch [scenario.yaml]",
		Short: "run every simulation in a scenario file",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list models and integrators",
		RunE:  listModels,
	}

	rootCmd.AddCommand(runCmd, liveCmd, batchCmd, listCmd, plotCmd, analyzeCmd, presetsCmd, modelsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "config file path (yaml)")
	f.StringVar(&preset, "preset", "", "use preset configuration")
	f.StringVar(&integrator, "integrator", "rk4", "integrator")
	f.Float64Var(&dt, "dt", config.DefaultDt, "timestep")
	f.IntVar(&steps, "steps", config.DefaultSteps, "steps to run (absolute target on restart)")
	f.StringVarP(&output, "output", "o", "", "output path; checkpoints and writer files sit next to it")
	f.BoolVar(&restart, "restart", false, "resume from the checkpoint next to the output")
	f.IntVar(&checkpointInterval, "checkpoint-interval", config.DefaultCheckpointInterval, "steps between checkpoints (0 disables)")
	f.DurationVar(&wallTime, "wall-time", 0, "stop after this much wall time (0 disables)")
	f.Float64Var(&targetRMSD, "target-rmsd", 0, "stop once rmsd reaches this value (0 disables)")
	f.Float64Var(&stabilityThreshold, "stability-threshold", 0, "track the fraction of samples with every state component within this bound (0 disables)")
	f.IntVar(&thermoInterval, "thermo-interval", 0, "steps between thermo rows")
	f.IntVar(&thermoCalls, "thermo-calls", config.DefaultThermoCalls, "thermo rows over the run when no interval is set")
	f.IntVar(&trajInterval, "traj-interval", 0, "steps between trajectory rows")
	f.IntVar(&trajCalls, "traj-calls", 0, "trajectory rows over the run when no interval is set")
	f.IntVar(&stopCheckInterval, "stop-check-interval", config.DefaultStopCheckInterval, "steps between STOP file checks (0 disables)")
	f.BoolVar(&speedometer, "speedometer", false, "log throughput and ETA")
	f.BoolVar(&debug, "debug", false, "debug logging")
	f.StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	f.StringVar(&logFile, "log-file", "", "also write the log to this file")
	f.Float64Var(&theta, "theta", config.DefaultTheta, "initial angle (pendulum)")
	f.Float64Var(&omega, "omega", 0.0, "initial angular velocity (pendulum)")
	f.Float64Var(&pos, "pos", 0.0, "initial displacement of the first mass (spring_mass)")
	f.Float64Var(&vel, "vel", 0.0, "initial velocity of the first mass (spring_mass)")
	f.IntVar(&numBodies, "bodies", config.DefaultBodies, "number of bodies (nbody) or masses (spring_mass)")
}

// buildConfig layers defaults, preset, config file and changed flags, in
// that order.
func buildConfig(cmd *cobra.Command, model string) (*config.RunConfig, error) {
	cfg := config.DefaultRunConfig()
	cfg.Model = model
	cfg.Output = filepath.Join("runs", model, "run.out")

	if preset != "" {
		p := config.GetPreset(model, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(model))
		}
		cfg = p
	}

	if configFile != "" {
		fileCfg, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if fileCfg.Model != model {
			return nil, fmt.Errorf("config %s is for model %s, not %s", configFile, fileCfg.Model, model)
		}
		cfg = fileCfg
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("integrator", func() { cfg.Integrator = integrator })
	set("dt", func() { cfg.Dt = dt })
	set("steps", func() { cfg.Steps = steps })
	set("output", func() { cfg.Output = output })
	set("restart", func() { cfg.Restart = restart })
	set("checkpoint-interval", func() { cfg.CheckpointInterval = checkpointInterval })
	set("wall-time", func() { cfg.WallTime = wallTime })
	set("target-rmsd", func() { cfg.TargetRMSD = targetRMSD })
	set("stability-threshold", func() { cfg.StabilityThreshold = stabilityThreshold })
	set("thermo-interval", func() { cfg.Thermo.Interval = thermoInterval })
	set("thermo-calls", func() { cfg.Thermo.Calls = thermoCalls })
	set("traj-interval", func() { cfg.Trajectory.Interval = trajInterval })
	set("traj-calls", func() { cfg.Trajectory.Calls = trajCalls })
	set("stop-check-interval", func() { cfg.StopCheckInterval = stopCheckInterval })
	set("speedometer", func() { cfg.Speedometer = speedometer })
	set("debug", func() { cfg.Log.Debug = debug })
	set("log-format", func() { cfg.Log.Format = logFormat })
	set("log-file", func() { cfg.Log.File = logFile })
	set("theta", func() { cfg.InitState.Theta = theta })
	set("omega", func() { cfg.InitState.Omega = omega })
	set("pos", func() { cfg.InitState.Pos = pos })
	set("vel", func() { cfg.InitState.Vel = vel })
	set("bodies", func() { cfg.InitState.NumBodies = numBodies })

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.RunConfig, quiet bool) (logger.Logger, io.Closer, error) {
	opts := []logger.Option{logger.WithFormat(cfg.Log.Format)}
	if cfg.Log.Debug {
		opts = append(opts, logger.WithDebug())
	}
	if quiet {
		opts = append(opts, logger.WithQuiet())
	}

	var closer io.Closer = io.NopCloser(nil)
	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.Log.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, logger.WithWriter(f))
		closer = f
	}
	return logger.NewLogger(opts...), closer, nil
}

// writerSchedule is nil when the writer is disabled.
func writerSchedule(w config.WriterConfig) *schedule.Scheduler {
	if !w.Enabled() {
		return nil
	}
	return schedule.New(w.Interval, w.Calls, 0)
}

// wallTimeSchedule polls on the stop-check grid, or on the checkpoint grid
// when STOP checks are off, or else a fixed number of times per run.
func wallTimeSchedule(cfg *config.RunConfig) *schedule.Scheduler {
	switch {
	case cfg.StopCheckInterval > 0:
		return schedule.Every(cfg.StopCheckInterval)
	case cfg.CheckpointInterval > 0:
		return schedule.Every(cfg.CheckpointInterval)
	default:
		return schedule.Calls(config.DefaultThermoCalls)
	}
}

func buildSimulation(cfg *config.RunConfig, log logger.Logger) (*sim.Simulation, []metrics.Metric, error) {
	b, err := dynamics.New(dynamics.NewRegistry(), dynamics.Config{
		Model:      cfg.Model,
		Integrator: cfg.Integrator,
		Dt:         cfg.Dt,
		Init: dynamics.InitState{
			Theta:     cfg.InitState.Theta,
			Omega:     cfg.InitState.Omega,
			Pos:       cfg.InitState.Pos,
			Vel:       cfg.InitState.Vel,
			NumBodies: cfg.InitState.NumBodies,
		},
		Params: cfg.Params,
	})
	if err != nil {
		return nil, nil, err
	}

	opts := []sim.Option{
		sim.WithOutputPath(cfg.Output),
		sim.WithSteps(cfg.Steps),
		sim.WithRestart(cfg.Restart),
		sim.WithCheckpointInterval(cfg.CheckpointInterval),
		sim.WithLogger(log),
	}
	if cfg.Speedometer {
		opts = append(opts, sim.WithSpeedometer())
	}
	s, err := sim.New(b, opts...)
	if err != nil {
		return nil, nil, err
	}

	if sch := writerSchedule(cfg.Thermo); sch != nil {
		if err := s.Add("thermo", sim.Writer, observer.NewThermo(), sch); err != nil {
			return nil, nil, err
		}
	}
	if sch := writerSchedule(cfg.Trajectory); sch != nil {
		if err := s.Add("trajectory", sim.Writer, observer.NewTrajectory(), sch); err != nil {
			return nil, nil, err
		}
	}
	if cfg.TargetRMSD > 0 {
		if err := s.Add("target_rmsd", sim.Target, observer.TargetRMSD(cfg.TargetRMSD), schedule.Calls(config.DefaultThermoCalls)); err != nil {
			return nil, nil, err
		}
	}
	if cfg.WallTime > 0 {
		if err := s.Add("wall_time", sim.Target, &observer.WallTime{Limit: cfg.WallTime}, wallTimeSchedule(cfg)); err != nil {
			return nil, nil, err
		}
	}
	if cfg.StopCheckInterval > 0 {
		if err := s.AddEvery("user_stop", sim.Target, observer.UserStop{}, cfg.StopCheckInterval); err != nil {
			return nil, nil, err
		}
	}

	ms := []metrics.Metric{metrics.NewEnergyDrift()}
	if cfg.StabilityThreshold > 0 {
		ms = append(ms, metrics.NewStability(cfg.StabilityThreshold))
	}
	for _, m := range ms {
		if err := s.Add(m.Name(), sim.Generic, m, schedule.Calls(config.DefaultThermoCalls)); err != nil {
			return nil, nil, err
		}
	}
	return s, ms, nil
}

func record(cfg *config.RunConfig, report *sim.Report, ms []metrics.Metric) error {
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	rec := storage.FromReport(report)
	rec.Model = cfg.Model
	rec.Integrator = cfg.Integrator
	rec.Dt = cfg.Dt
	rec.Restart = cfg.Restart
	rec.Metrics = metrics.Values(ms...)
	return st.Save(rec)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	return execute(cmd, args[0], false)
}

func runLive(cmd *cobra.Command, args []string) error {
	return execute(cmd, args[0], true)
}

func execute(cmd *cobra.Command, model string, live bool) error {
	cfg, err := buildConfig(cmd, model)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = runOne(ctx, cfg, live)
	return err
}

func runOne(ctx context.Context, cfg *config.RunConfig, live bool) (*sim.Report, error) {
	log, closer, err := newLogger(cfg, live)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	s, ms, err := buildSimulation(cfg, log)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithLogger(ctx, log)

	var report *sim.Report
	if live {
		report, err = tui.Live(ctx, s, cfg.Steps)
	} else {
		report, err = s.Run(ctx, cfg.Steps)
	}
	if report == nil {
		return nil, err
	}

	for name, v := range metrics.Values(ms...) {
		log.Infof("%s: %.3g", name, v)
	}
	if saveErr := record(cfg, report, ms); saveErr != nil {
		log.Warn("could not save run record", tag.Error(saveErr))
	}
	fmt.Println(tui.RenderReport(report))
	return report, err
}

func runBatch(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	cfgs, err := sc.Expand()
	if err != nil {
		return err
	}
	if sc.Name != "" {
		fmt.Printf("scenario %s: %d runs\n", sc.Name, len(cfgs))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reports, err := automation.Run(ctx, cfgs, func(ctx context.Context, cfg *config.RunConfig) (*sim.Report, error) {
		return runOne(ctx, cfg, false)
	})
	fmt.Printf("%d/%d runs finished\n", len(reports), len(cfgs))
	return err
}

func listRuns(cmd *cobra.Command, args []string) error {
	runs, err := storage.New(dataDir).List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tSTARTED\tSTEPS\tREASON\tWALL\tINTEG\tOUTPUT")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d→%d\t%s\t%.1fs\t%s\t%s\n",
			run.ID,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.InitialStep,
			run.FinalStep,
			run.Reason,
			run.WallTime,
			run.Integrator,
			run.Output,
		)
	}
	return w.Flush()
}

// loadRunSeries reads the writer file with suffix next to a recorded run's output.
func loadRunSeries(runID, suffix string) (*storage.RunRecord, *storage.Series, error) {
	rec, err := storage.New(dataDir).Load(runID)
	if err != nil {
		return nil, nil, err
	}
	if rec.Output == "" {
		return nil, nil, errors.New("run has no output path")
	}
	path := strings.TrimSuffix(rec.Output, filepath.Ext(rec.Output)) + suffix
	series, err := storage.LoadSeries(path)
	if err != nil {
		return nil, nil, err
	}
	return rec, series, nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	rec, series, err := loadRunSeries(args[0], observer.ThermoSuffix)
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", rec.ID)
	fmt.Printf("model: %s\n", rec.Model)
	fmt.Printf("samples: %d\n\n", len(series.Column("step")))

	for _, name := range plotColumns {
		data := series.Column(name)
		if len(data) == 0 {
			fmt.Printf("no %s data\n\n", name)
			continue
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(name+" vs step"),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	suffix := observer.TrajectorySuffix
	if analyzeSeries == "thermo" {
		suffix = observer.ThermoSuffix
	}
	rec, series, err := loadRunSeries(args[0], suffix)
	if err != nil {
		return err
	}

	data := series.Column(analyzeColumn)
	stepsCol := series.Column("step")
	if len(data) == 0 || len(stepsCol) < 2 {
		return fmt.Errorf("no %s data in %s series", analyzeColumn, analyzeSeries)
	}
	spacing := stepsCol[1] - stepsCol[0]

	peak, err := analysis.DominantPeriod(data, spacing)
	if err != nil {
		return err
	}

	fmt.Printf("frequency analysis: %s\n", rec.ID)
	fmt.Printf("model: %s\n\n", rec.Model)

	ps := analysis.PowerSpectrum(data)
	graph := asciigraph.Plot(ps[:max(len(ps)/4, 1)],
		asciigraph.Height(15),
		asciigraph.Width(80),
		asciigraph.Caption("power spectrum ("+analyzeColumn+")"),
	)
	fmt.Println(graph)
	fmt.Println()

	if peak.Period == 0 {
		fmt.Println("no periodic component found")
		return nil
	}
	fmt.Printf("dominant period: %.1f steps\n", peak.Period)
	if rec.Dt > 0 {
		fmt.Printf("period: %.3f time units\n", peak.Period*rec.Dt)
	}
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	names := config.ListPresets(args[0])
	if len(names) == 0 {
		return fmt.Errorf("no presets for model %s", args[0])
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tINTEG\tDT\tSTEPS")
	for _, name := range names {
		p := config.GetPreset(args[0], name)
		fmt.Fprintf(w, "%s\t%s\t%g\t%d\n", name, p.Integrator, p.Dt, p.Steps)
	}
	return w.Flush()
}

func listModels(cmd *cobra.Command, args []string) error {
	r := dynamics.NewRegistry()
	fmt.Println("models:      " + strings.Join(r.ListModels(), ", "))
	fmt.Println("integrators: " + strings.Join(r.ListIntegrators(), ", "))
	return nil
}
