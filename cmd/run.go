package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/papapumpkin/sirocco/internal/config"
	"github.com/papapumpkin/sirocco/internal/harness"
	"github.com/papapumpkin/sirocco/internal/history"
	"github.com/papapumpkin/sirocco/internal/machine"
	"github.com/papapumpkin/sirocco/internal/shell"
	"github.com/papapumpkin/sirocco/internal/telemetry"
	"github.com/papapumpkin/sirocco/internal/teststatus"
	"github.com/papapumpkin/sirocco/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run [tests...]",
	Short: "Run a batch of test cases through their phases",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

// addRunFlags registers the run flags. Split out so tests can build a
// command with the same flag set.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-build", false, "stop after the namelist phase, skip build and run")
	cmd.Flags().Bool("no-run", false, "build but do not submit the run")
	cmd.Flags().Bool("namelists-only", false, "only create cases and check namelists (implies --no-build)")
	cmd.Flags().Bool("compare", false, "compare namelists against a baseline")
	cmd.Flags().Bool("generate", false, "generate the baseline from this run")
	cmd.Flags().String("baseline-name", "", "baseline name to compare or generate")
	cmd.Flags().String("baseline-root", "", "baseline store root directory")
	cmd.Flags().String("test-root", "", "directory case directories are created in")
	cmd.Flags().String("test-id", "", "unique batch id (default: UTC timestamp)")
	cmd.Flags().String("machine", "", "machine registry entry (default: hostname detection)")
	cmd.Flags().String("compiler", "", "compiler (default: machine registry)")
	cmd.Flags().String("project", "", "project or account for the batch system")
	cmd.Flags().Int("parallel-jobs", 0, "max concurrent phase workers (default: min of test count and max_tasks_per_node)")
	cmd.Flags().Int("proc-pool", 0, "processor slot pool capacity (default: pes_per_node plus a quarter)")
	cmd.Flags().Bool("no-batch", false, "run cases locally instead of submitting to the batch system")
	cmd.Flags().String("wallclock", "", "JOB_WALLCLOCK_TIME for submitted runs")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlagOverrides(cmd, &cfg)

	printer := ui.New()
	logger := newLogger(cfg.Verbose)

	mach, err := loadMachine(&cfg)
	if err != nil {
		return err
	}

	opts, err := buildOptions(cmd, &cfg, mach, args)
	if err != nil {
		return err
	}

	b, err := harness.NewBatch(opts)
	if err != nil {
		return err
	}

	ctx, cancel := setupSignalContext(printer)
	defer cancel()

	events := openEvents(&cfg, b, logger)
	defer events.Close()
	store := openHistory(ctx, &cfg, logger)
	defer store.Close()

	exec := harness.NewExecutor(b, shell.ExecRunner{}, logger)
	sched := harness.NewScheduler(b, exec,
		harness.WithPrinter(printer),
		harness.WithLogger(logger),
		harness.WithEvents(events),
	)

	printer.RunHeader(opts.Tests)
	events.Emit(telemetry.Event{
		Kind: telemetry.KindRunStart,
		Data: map[string]any{
			"tests":    opts.Tests,
			"test_id":  b.Opts.TestID,
			"machine":  mach.Name,
			"compiler": b.Opts.Compiler,
		},
	})

	start := time.Now()
	schedErr := sched.Run(ctx)

	rep := harness.Summarize(b, time.Since(start))
	rep.Print(printer)

	doneStatus := teststatus.StatusPass
	if !rep.Passed() {
		doneStatus = teststatus.StatusFail
	}
	events.Emit(telemetry.Event{
		Kind:    telemetry.KindRunDone,
		Status:  string(doneStatus),
		Seconds: rep.Elapsed.Seconds(),
	})
	recordHistory(ctx, store, logger, b, mach, rep, start)

	if schedErr != nil {
		return schedErr
	}
	if rep.Failures.ErrorOrNil() != nil {
		failed := 0
		for _, res := range rep.Results {
			if res.Failed {
				failed++
			}
		}
		return fmt.Errorf("%d of %d tests did not pass", failed, len(rep.Results))
	}
	return nil
}

// applyFlagOverrides applies shared CLI flag values to the loaded config.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("machine"); v != "" {
		cfg.Machine = v
	}
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		cfg.Verbose = true
	}
}

// loadMachine resolves the machine entry: the configured name when given,
// otherwise hostname detection against the registry.
func loadMachine(cfg *config.Config) (machine.Machine, error) {
	reg, err := machine.Load(cfg.MachinesFile)
	if err != nil {
		return machine.Machine{}, err
	}
	if cfg.Machine != "" {
		return reg.Lookup(cfg.Machine)
	}
	mach, err := reg.DetectLocal()
	if err != nil {
		return machine.Machine{}, fmt.Errorf("%w (set --machine or the machine config key)", err)
	}
	return mach, nil
}

// buildOptions layers the machine registry entry, the configuration, and the
// CLI flags, in increasing precedence, into batch options.
func buildOptions(cmd *cobra.Command, cfg *config.Config, mach machine.Machine, tests []string) (harness.Options, error) {
	opts := harness.Options{
		Tests:           tests,
		ScriptsRoot:     cfg.ScriptsRoot,
		Compiler:        mach.Compiler,
		TestRoot:        mach.TestRoot,
		BaselineRoot:    mach.BaselineRoot,
		Project:         mach.Project,
		Wallclock:       mach.Wallclock,
		PESPerNode:      mach.PESPerNode,
		MaxTasksPerNode: mach.MaxTasksPerNode,
		NoBatch:         !mach.Batch,
		BaselineName:    cfg.BaselineName,
		NamelistGlobs:   cfg.NamelistGlobs,
		Commands: harness.Commands{
			CreateNewcase: cfg.Commands.CreateNewcase,
			Envgen:        cfg.Commands.Envgen,
			Setup:         cfg.Commands.Setup,
			Build:         cfg.Commands.Build,
			Submit:        cfg.Commands.Submit,
			XMLChange:     cfg.Commands.XMLChange,
			XMLQuery:      cfg.Commands.XMLQuery,
			Compare:       cfg.Commands.Compare,
		},
	}

	if cfg.TestRoot != "" {
		opts.TestRoot = cfg.TestRoot
	}
	if cfg.BaselineRoot != "" {
		opts.BaselineRoot = cfg.BaselineRoot
	}
	if cfg.Project != "" {
		opts.Project = cfg.Project
	}
	if cfg.Wallclock != "" {
		opts.Wallclock = cfg.Wallclock
	}

	flagString(cmd, "test-root", &opts.TestRoot)
	flagString(cmd, "test-id", &opts.TestID)
	flagString(cmd, "compiler", &opts.Compiler)
	flagString(cmd, "project", &opts.Project)
	flagString(cmd, "wallclock", &opts.Wallclock)
	flagString(cmd, "baseline-name", &opts.BaselineName)
	flagString(cmd, "baseline-root", &opts.BaselineRoot)

	opts.Compare, _ = cmd.Flags().GetBool("compare")
	opts.Generate, _ = cmd.Flags().GetBool("generate")
	opts.NoBuild, _ = cmd.Flags().GetBool("no-build")
	opts.NoRun, _ = cmd.Flags().GetBool("no-run")
	opts.NamelistsOnly, _ = cmd.Flags().GetBool("namelists-only")
	if v, _ := cmd.Flags().GetBool("no-batch"); v {
		opts.NoBatch = true
	}
	opts.ParallelJobs, _ = cmd.Flags().GetInt("parallel-jobs")
	opts.ProcPool, _ = cmd.Flags().GetInt("proc-pool")

	if opts.TestRoot == "" {
		return opts, errors.New("test root is required (--test-root, config, or machine registry)")
	}
	if opts.Compiler == "" {
		return opts, errors.New("compiler is required (--compiler or machine registry)")
	}
	return opts, nil
}

// flagString copies a flag value over dst when the flag was set to a
// non-empty value.
func flagString(cmd *cobra.Command, name string, dst *string) {
	if v, _ := cmd.Flags().GetString(name); v != "" {
		*dst = v
	}
}

// setupSignalContext returns a context that is canceled on SIGINT or
// SIGTERM. For run this stops admitting new phase workers; in-flight
// commands finish and are reported.
func setupSignalContext(printer *ui.Printer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		printer.Info("\nshutting down...")
		cancel()
	}()
	return ctx, cancel
}

// openEvents opens the JSONL event stream, defaulting to a per-batch file
// under the test root. Telemetry never fails the run.
func openEvents(cfg *config.Config, b *harness.Batch, logger *logrus.Entry) *telemetry.Emitter {
	path := cfg.EventsFile
	if path == "" {
		path = filepath.Join(b.Opts.TestRoot, fmt.Sprintf("sirocco_events.%s.jsonl", b.Opts.TestID))
	}
	events, err := telemetry.NewEmitter(path)
	if err != nil {
		logger.WithError(err).Warn("telemetry disabled")
		return nil
	}
	return events
}

// openHistory opens the run-history store. Recording is best effort: an
// unopenable database downgrades to a warning.
func openHistory(ctx context.Context, cfg *config.Config, logger *logrus.Entry) *history.Store {
	if cfg.HistoryFile == "" {
		return nil
	}
	store, err := history.Open(ctx, cfg.HistoryFile)
	if err != nil {
		logger.WithError(err).Warn("run history disabled")
		return nil
	}
	return store
}

// recordHistory appends the batch verdict to the history store. The durable
// record carries NLFAIL for soft namelist failures, matching the status
// file vocabulary.
func recordHistory(ctx context.Context, store *history.Store, logger *logrus.Entry, b *harness.Batch, mach machine.Machine, rep *harness.Report, started time.Time) {
	results := make([]history.Result, 0, len(rep.Results))
	for _, res := range rep.Results {
		status := res.Status
		if res.NamelistProblem && status == teststatus.StatusPass {
			status = teststatus.StatusNamelistFail
		}
		results = append(results, history.Result{
			Test:    res.Name,
			Status:  status,
			Phase:   res.Phase,
			CaseDir: res.CaseDir,
		})
	}
	_, err := store.RecordRun(ctx, history.Run{
		TestID:    b.Opts.TestID,
		Machine:   mach.Name,
		Compiler:  b.Opts.Compiler,
		StartedAt: started,
		Seconds:   rep.Elapsed.Seconds(),
	}, results)
	if err != nil {
		logger.WithError(err).Warn("could not record run history")
	}
}
