package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gridsync/gridsync/sim"
	"github.com/gridsync/gridsync/sim/metrics"
	_ "github.com/gridsync/gridsync/sim/pool" // registers the worker pool
	"github.com/gridsync/gridsync/sim/recorder"
	"github.com/gridsync/gridsync/sim/trace"
)

var (
	// CLI flags for the kernel tunables; explicitly set flags override --config
	configPath    string // YAML or TOML kernel config
	threads       int    // Worker pool size (0 = GOMAXPROCS)
	maxIterations int    // Sync passes allowed per instant
	stopTime      int64  // Last instant visited (0 = run until idle)
	traceLevel    string // Kernel trace detail
	seed          int64  // Master seed for per-object random streams
	stopOnFailure bool   // Abort on invalid phase results and non-convergence

	// CLI flags for the run itself
	scenarioPath string // Population description
	logLevel     string // Log verbosity level
	dbPath       string // SQLite file for recorder samples
	metricsAddr  string // Address of the Prometheus endpoint
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "gridsync",
	Short: "Discrete-event synchronization kernel for power-system co-simulation",
}

// runCmd loads a scenario and runs it until the population goes idle
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		cfg, err := kernelConfig(cmd)
		if err != nil {
			logrus.Fatalf("Invalid kernel configuration: %v", err)
		}
		sc, err := LoadScenario(scenarioPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		k, collector, err := newKernel(cfg, sc, dbPath)
		if err != nil {
			logrus.Fatalf("Building scenario: %v", err)
		}
		defer k.Close()

		logrus.Infof("Starting simulation: threads=%d, max_iterations=%d, stop_time=%d, seed=%d",
			cfg.Threads, cfg.MaxIterations, cfg.StopTime, cfg.Seed)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		runErr := simulate(ctx, k, collector, metricsAddr)

		k.Stats().Print()
		if st := k.Trace(); st != nil {
			printTraceSummary(trace.Summarize(st))
		}
		if runErr != nil {
			k.Close()
			logrus.Fatalf("Simulation failed: %v", runErr)
		}
		logrus.Info("Simulation complete.")
	},
}

// checkCmd loads a scenario and initializes it without running any instant
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a scenario and initialize its objects",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		cfg, err := kernelConfig(cmd)
		if err != nil {
			logrus.Fatalf("Invalid kernel configuration: %v", err)
		}
		sc, err := LoadScenario(scenarioPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		stats, err := checkScenario(cfg, sc, dbPath)
		if err != nil {
			logrus.Fatalf("Scenario check failed: %v", err)
		}
		fmt.Printf("OK: %d objects initialized in %d passes\n", stats.Objects, stats.InitPasses)
	},
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// kernelConfig layers the explicitly set flags over --config (or the defaults).
func kernelConfig(cmd *cobra.Command) (sim.KernelConfig, error) {
	cfg := sim.DefaultKernelConfig()
	if configPath != "" {
		var err error
		if cfg, err = sim.LoadKernelConfig(configPath); err != nil {
			return sim.KernelConfig{}, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("threads") {
		cfg.Threads = threads
	}
	if flags.Changed("max-iterations") {
		cfg.MaxIterations = maxIterations
	}
	if flags.Changed("stop-time") {
		cfg.StopTime = stopTime
	}
	if flags.Changed("trace-level") {
		cfg.TraceLevel = traceLevel
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("stop-on-failure") {
		cfg.StopOnFailure = stopOnFailure
	}
	if err := cfg.Validate(); err != nil {
		return sim.KernelConfig{}, err
	}
	return cfg, nil
}

// newKernel builds a kernel instrumented by a fresh collector and populates it
// from sc. The recorder store is only opened when the scenario records.
func newKernel(cfg sim.KernelConfig, sc Scenario, db string) (*sim.Kernel, *metrics.KernelCollector, error) {
	collector := metrics.NewKernelCollector()
	k, err := sim.NewKernel(sim.NewRegistry(), cfg, sim.WithMetrics(collector))
	if err != nil {
		return nil, nil, err
	}

	var store *recorder.Store
	switch {
	case len(sc.Recorders) > 0 && db != "":
		if store, err = recorder.Open(db); err != nil {
			return nil, nil, err
		}
	case len(sc.Recorders) == 0 && db != "":
		logrus.Warnf("scenario has no recorders; ignoring --db %s", db)
	}

	mods, err := sc.Build(k, store)
	if err != nil {
		// Close kills loaded modules, which closes the store they own
		k.Close()
		if store != nil && mods.Recorder == nil {
			_ = store.Close()
		}
		return nil, nil, err
	}
	return k, collector, nil
}

// simulate runs k next to the metrics endpoint. The endpoint is shut down once
// the run returns; a failing endpoint cancels the run.
func simulate(ctx context.Context, k *sim.Kernel, collector *metrics.KernelCollector, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if addr != "" {
		srv := metrics.NewServer(addr, collector.Registry())
		g.Go(func() error { return srv.Serve(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return k.Run(gctx)
	})
	return g.Wait()
}

// checkScenario builds and loads the scenario, then tears it down.
func checkScenario(cfg sim.KernelConfig, sc Scenario, db string) (sim.RunStats, error) {
	k, _, err := newKernel(cfg, sc, db)
	if err != nil {
		return sim.RunStats{}, err
	}
	defer k.Close()
	if err := k.Load(); err != nil {
		return sim.RunStats{}, err
	}
	return k.Stats(), nil
}

func printTraceSummary(s *trace.TraceSummary) {
	fmt.Println("=== Trace Summary ===")
	fmt.Printf("Passes               : %d\n", s.TotalPasses)
	fmt.Printf("Calls                : %d (%d parallel)\n", s.TotalCalls, s.ParallelCalls)
	fmt.Printf("Convergence Loops    : %d (max %d, mean %.2f iterations)\n", s.ConvergenceLoops, s.MaxIterations, s.MeanIterations)
	fmt.Printf("Non-converged        : %d\n", s.NonConverged)
	fmt.Printf("Init Deferrals       : %d\n", s.Deferrals)
	fmt.Printf("Failures             : %d\n", s.Failures)
	for _, phase := range sim.StepPhases {
		if n := s.PhaseDistribution[string(phase)]; n > 0 {
			fmt.Printf("  %-18s : %d passes\n", phase, n)
		}
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// addKernelFlags binds the kernel tunables to c.
func addKernelFlags(c *cobra.Command) {
	c.Flags().StringVar(&configPath, "config", "", "Kernel config file (.yaml, .yml or .toml)")
	c.Flags().IntVar(&threads, "threads", 0, "Worker pool size (0 = GOMAXPROCS)")
	c.Flags().IntVar(&maxIterations, "max-iterations", sim.DefaultMaxIterations, "Sync passes allowed per instant")
	c.Flags().Int64Var(&stopTime, "stop-time", 0, "Last instant visited (0 = run until idle)")
	c.Flags().StringVar(&traceLevel, "trace-level", "none", "Trace detail (none, passes, objects)")
	c.Flags().Int64Var(&seed, "seed", 42, "Master seed for per-object random streams")
	c.Flags().BoolVar(&stopOnFailure, "stop-on-failure", true, "Abort on invalid phase results and non-convergence")
}

func addScenarioFlags(c *cobra.Command) {
	c.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario file (YAML)")
	c.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	c.Flags().StringVar(&dbPath, "db", "", "SQLite file receiving recorder samples")
	_ = c.MarkFlagRequired("scenario")
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, checkCmd} {
		addKernelFlags(c)
		addScenarioFlags(c)
	}
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
}
