package sim_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/stepsim/internal/checkpoint"
	"github.com/san-kum/stepsim/internal/schedule"
	"github.com/san-kum/stepsim/internal/sim"
)

var _ = Describe("Simulation", func() {
	var (
		ctx    context.Context
		out    string
		fake   *fakeBackend
		b      checkpointingBackend
		clock  *fakeClock
		newSim func(opts ...sim.Option) *sim.Simulation
	)

	BeforeEach(func() {
		ctx = context.Background()
		out = filepath.Join(GinkgoT().TempDir(), "data", "trajectory.csv")
		fake = &fakeBackend{particles: 10}
		b = checkpointingBackend{fakeBackend: fake}
		clock = &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
		newSim = func(opts ...sim.Option) *sim.Simulation {
			base := []sim.Option{sim.WithOutputPath(out), sim.WithClock(clock)}
			s, err := sim.New(b, append(base, opts...)...)
			Expect(err).NotTo(HaveOccurred())
			return s
		}
	})

	readMarker := func() string {
		data, err := os.ReadFile(checkpoint.StepPath(out))
		Expect(err).NotTo(HaveOccurred())
		return string(data)
	}

	Describe("construction", func() {
		It("creates the output directory", func() {
			newSim()
			Expect(filepath.Dir(out)).To(BeADirectory())
		})

		It("registers the speedometer on request", func() {
			s := newSim(sim.WithSpeedometer())
			e, ok := s.Registry().Get("speedometer")
			Expect(ok).To(BeTrue())
			Expect(e.Kind).To(Equal(sim.Generic))

			_, err := s.Run(ctx, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.advances).To(HaveLen(20))
		})

		It("rejects a nil backend", func() {
			_, err := sim.New(nil)
			Expect(err).To(MatchError(sim.ErrNilBackend))
		})
	})

	Describe("a run with only the step target", func() {
		It("ends exactly at the target with a single checkpoint", func() {
			s := newSim()
			rep, err := s.Run(ctx, 100)
			Expect(err).NotTo(HaveOccurred())

			Expect(s.CurrentStep()).To(Equal(100))
			Expect(fake.step).To(Equal(100))
			Expect(fake.advances).To(Equal([]int{100}))
			Expect(fake.saved).To(Equal([]int{100}))
			Expect(s.Checkpoints()).To(Equal(1))
			Expect(readMarker()).To(Equal("100"))

			Expect(rep.Reason).To(Equal(sim.TargetReached))
			Expect(rep.FinalStep).To(Equal(100))
			Expect(rep.Success()).To(BeTrue())
			Expect(s.Phase()).To(Equal(sim.Done))
			Expect(fake.outputPath).To(Equal(out))
		})
	})

	Describe("periodic checkpoints", func() {
		It("writes on the grid and once more at termination", func() {
			s := newSim(sim.WithCheckpointInterval(20))
			_, err := s.Run(ctx, 50)
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.saved).To(Equal([]int{20, 40, 50}))
			Expect(fake.advances).To(Equal([]int{20, 20, 10}))
		})

		It("does not duplicate the final checkpoint when it falls on the grid", func() {
			s := newSim(sim.WithCheckpointInterval(20))
			_, err := s.Run(ctx, 40)
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.saved).To(Equal([]int{20, 40}))
		})

		It("tolerates a backend without checkpoint hooks", func() {
			s, err := sim.New(fake, sim.WithOutputPath(out), sim.WithCheckpointInterval(10))
			Expect(err).NotTo(HaveOccurred())
			_, err = s.Run(ctx, 30)
			Expect(err).NotTo(HaveOccurred())
			Expect(readMarker()).To(Equal("30"))
			Expect(s.Checkpoints()).To(Equal(3))
		})
	})

	Describe("firing order", func() {
		It("notifies writers before targets at a shared step", func() {
			var order []string
			s := newSim()
			probe := &recorder{name: "probe", log: &order}
			thermo := &recorder{name: "thermo", log: &order}
			Expect(s.AddEvery("probe", sim.Target, probe, 30)).To(Succeed())
			Expect(s.AddEvery("thermo", sim.Writer, thermo, 10)).To(Succeed())

			_, err := s.Run(ctx, 30)
			Expect(err).NotTo(HaveOccurred())

			// probe runs in the initial target pass, thermo in the initial writer pass.
			Expect(order).To(Equal([]string{"probe", "thermo", "thermo", "thermo", "thermo", "probe"}))
			Expect(thermo.steps).To(Equal([]int{0, 10, 20, 30}))
		})

		It("stops on a target signal after writers flush", func() {
			thermo := &recorder{name: "thermo"}
			rmsd := &recorder{name: "rmsd", onStep: func(step int) error {
				if step >= 25 {
					return sim.Halt(sim.TargetReached, "target rmsd achieved")
				}
				return nil
			}}
			s := newSim()
			Expect(s.AddEvery("rmsd", sim.Target, rmsd, 5)).To(Succeed())
			Expect(s.AddEvery("thermo", sim.Writer, thermo, 5)).To(Succeed())

			rep, err := s.Run(ctx, 1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Message).To(Equal("target rmsd achieved"))
			Expect(s.CurrentStep()).To(Equal(25))
			Expect(thermo.steps).To(ContainElement(25))
			Expect(fake.saved).To(Equal([]int{25}))
		})
	})

	Describe("schedulers derived from the run length", func() {
		It("patches call-count schedulers with the target", func() {
			w := &recorder{name: "w"}
			s := newSim()
			Expect(s.Add("w", sim.Writer, w, schedule.Calls(4))).To(Succeed())
			_, err := s.Run(ctx, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(w.steps).To(Equal([]int{0, 25, 50, 75, 100}))
		})

		It("fails during preparation on an unresolvable scheduler", func() {
			s := newSim()
			Expect(s.Add("bad", sim.Writer, &recorder{}, schedule.New(0, 0, 0))).To(Succeed())
			rep, err := s.Run(ctx, 100)

			var cfgErr *sim.ConfigError
			Expect(err).To(BeAssignableToTypeOf(cfgErr))
			Expect(err).To(MatchError(schedule.ErrUnresolved))
			Expect(rep).To(BeNil())
			Expect(fake.advances).To(BeEmpty())
		})

		It("rejects an unresolvable scheduler added mid-run", func() {
			var addErr error
			s := newSim()
			w := &recorder{name: "w", onStep: func(step int) error {
				if step == 50 {
					addErr = s.Add("bad", sim.Writer, &recorder{}, schedule.New(0, 0, 0))
				}
				return nil
			}}
			Expect(s.AddEvery("w", sim.Writer, w, 50)).To(Succeed())

			rep, err := s.Run(ctx, 100)
			Expect(err).NotTo(HaveOccurred())
			var cfgErr *sim.ConfigError
			Expect(addErr).To(BeAssignableToTypeOf(cfgErr))
			Expect(addErr).To(MatchError(schedule.ErrUnresolved))
			Expect(rep.Reason).To(Equal(sim.TargetReached))
			Expect(s.CurrentStep()).To(Equal(100))
			_, registered := s.Registry().Get("bad")
			Expect(registered).To(BeFalse())
		})

		It("patches a call-count scheduler added mid-run", func() {
			late := &recorder{name: "late"}
			s := newSim()
			w := &recorder{name: "w", onStep: func(step int) error {
				if step == 50 {
					return s.Add("late", sim.Writer, late, schedule.Calls(4))
				}
				return nil
			}}
			Expect(s.AddEvery("w", sim.Writer, w, 50)).To(Succeed())
			_, err := s.Run(ctx, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(late.steps).To(Equal([]int{75, 100}))
		})

		It("fails fast without a run length", func() {
			s := newSim()
			_, err := s.Run(ctx, 0)
			Expect(err).To(MatchError(sim.ErrNoSteps))
			Expect(fake.advances).To(BeEmpty())
		})
	})

	Describe("restart", func() {
		It("resumes at the checkpoint without re-firing writers for that step", func() {
			first := &recorder{name: "w"}
			fake.failAfter = 60
			s := newSim(sim.WithCheckpointInterval(20))
			Expect(s.AddEvery("w", sim.Writer, first, 10)).To(Succeed())
			_, err := s.Run(ctx, 100)
			Expect(err).To(HaveOccurred())
			var be *sim.BackendError
			Expect(err).To(BeAssignableToTypeOf(be))
			Expect(readMarker()).To(Equal("60"))

			fake = &fakeBackend{}
			b = checkpointingBackend{fakeBackend: fake}
			second := &recorder{name: "w"}
			s2 := newSim(sim.WithCheckpointInterval(20), sim.WithRestart(true))
			Expect(s2.AddEvery("w", sim.Writer, second, 10)).To(Succeed())
			rep, err := s2.Run(ctx, 100)
			Expect(err).NotTo(HaveOccurred())

			Expect(fake.restored).To(Equal(1))
			Expect(rep.InitialStep).To(Equal(60))
			Expect(s2.CurrentStep()).To(Equal(100))
			Expect(second.steps).To(Equal([]int{70, 80, 90, 100}))
			Expect(second.clears).To(BeZero())
			Expect(second.resets).To(Equal(1))
		})

		It("ends at once when the checkpoint already meets the target", func() {
			Expect(os.MkdirAll(filepath.Dir(out), 0o755)).To(Succeed())
			Expect(os.WriteFile(checkpoint.StepPath(out), []byte("100"), 0o644)).To(Succeed())
			w := &recorder{name: "w"}
			s := newSim(sim.WithRestart(true))
			Expect(s.AddEvery("w", sim.Writer, w, 10)).To(Succeed())

			rep, err := s.Run(ctx, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Reason).To(Equal(sim.TargetReached))
			Expect(fake.advances).To(BeEmpty())
			Expect(w.steps).To(BeEmpty())
		})

		It("does not refire writers at step 0 after an interrupt there", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			first := &recorder{name: "w"}
			s := newSim()
			Expect(s.AddEvery("w", sim.Writer, first, 10)).To(Succeed())
			rep, err := s.Run(cctx, 30)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Reason).To(Equal(sim.Interrupted))
			Expect(first.steps).To(Equal([]int{0}))
			Expect(readMarker()).To(Equal("0"))

			fake = &fakeBackend{}
			b = checkpointingBackend{fakeBackend: fake}
			second := &recorder{name: "w"}
			s2 := newSim(sim.WithRestart(true))
			Expect(s2.AddEvery("w", sim.Writer, second, 10)).To(Succeed())
			_, err = s2.Run(ctx, 30)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.steps).To(Equal([]int{10, 20, 30}))
		})

		It("starts fresh when no checkpoint exists", func() {
			w := &recorder{name: "w"}
			s := newSim(sim.WithRestart(true))
			Expect(s.AddEvery("w", sim.Writer, w, 50)).To(Succeed())
			_, err := s.Run(ctx, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(w.steps).To(Equal([]int{0, 50, 100}))
		})

		It("clears observer output on a fresh run only", func() {
			w := &recorder{name: "w"}
			s := newSim()
			Expect(s.AddEvery("w", sim.Writer, w, 50)).To(Succeed())
			_, err := s.Run(ctx, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(w.clears).To(Equal(1))
		})
	})

	Describe("interrupts", func() {
		It("checkpoints the consistent step and exits without error", func() {
			cctx, cancel := context.WithCancel(ctx)
			defer cancel()
			w := &recorder{name: "w", onStep: func(step int) error {
				if step == 30 {
					cancel()
				}
				return nil
			}}
			s := newSim()
			Expect(s.AddEvery("w", sim.Writer, w, 10)).To(Succeed())

			rep, err := s.Run(cctx, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Reason).To(Equal(sim.Interrupted))
			Expect(s.CurrentStep()).To(Equal(30))
			Expect(fake.saved).To(Equal([]int{30}))
		})

		It("skips the final checkpoint when cancelled inside the backend", func() {
			cctx, cancel := context.WithCancel(ctx)
			defer cancel()
			fake.onAdvance = cancel
			fake.honourCtx = true
			s := newSim()

			rep, err := s.Run(cctx, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Reason).To(Equal(sim.Interrupted))
			Expect(fake.saved).To(BeEmpty())
		})
	})

	Describe("failures", func() {
		It("propagates observer errors with a failed report", func() {
			w := &recorder{name: "w", onStep: func(step int) error {
				if step == 20 {
					return os.ErrPermission
				}
				return nil
			}}
			s := newSim()
			Expect(s.AddEvery("w", sim.Writer, w, 10)).To(Succeed())

			rep, err := s.Run(ctx, 100)
			Expect(err).To(MatchError(os.ErrPermission))
			Expect(rep.Reason).To(Equal(sim.Failed))
			Expect(rep.Success()).To(BeFalse())
			Expect(fake.saved).To(BeEmpty())
			Expect(s.Phase()).To(Equal(sim.Done))
		})

		It("refuses a backend swap while running", func() {
			var swapErr error
			s := newSim()
			w := &recorder{name: "w", onStep: func(int) error {
				swapErr = s.SetBackend(&fakeBackend{})
				return nil
			}}
			Expect(s.AddEvery("w", sim.Writer, w, 50)).To(Succeed())
			_, err := s.Run(ctx, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(swapErr).To(MatchError(sim.ErrRunning))
			Expect(s.SetBackend(&fakeBackend{})).To(Succeed())
		})
	})

	Describe("successive runs", func() {
		It("continues from the current step", func() {
			s := newSim()
			_, err := s.Run(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			_, err = s.Run(ctx, 15)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.CurrentStep()).To(Equal(25))
			Expect(s.StepTarget()).To(Equal(25))
			Expect(fake.saved).To(Equal([]int{10, 25}))
		})
	})

	Describe("timings", func() {
		It("normalises wall time per step and particle", func() {
			w := &recorder{name: "w", onStep: func(int) error {
				clock.Advance(time.Second)
				return nil
			}}
			s := newSim()
			Expect(math.IsNaN(s.WallTime(true, false))).To(BeTrue())
			Expect(s.AddEvery("w", sim.Writer, w, 25)).To(Succeed())

			rep, err := s.Run(ctx, 100)
			Expect(err).NotTo(HaveOccurred())
			// one tick at step 0 plus four on the grid
			Expect(rep.WallTime).To(Equal(5 * time.Second))
			Expect(rep.TimePerStep).To(BeNumerically("~", 0.05, 1e-12))
			Expect(rep.TSP).To(BeNumerically("~", 0.005, 1e-12))
		})
	})
})
