package harness

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"

	"github.com/papapumpkin/sirocco/internal/shell"
	"github.com/papapumpkin/sirocco/internal/teststatus"
)

// Per-test log entry formats. External tooling greps these lines; keep them
// stable.
const (
	logPassed = "%s PASSED for test '%s'.\nCommand: %s\nOutput: %s\n\nErrput: %s\n"
	logFailed = "%s FAILED for test '%s'.\nCommand: %s\nOutput: %s\n\nErrput: %s\n"
)

// badInterpreter is the stderr signature of a transient script-launch
// failure: the filesystem has not yet exposed a freshly written script to
// this node. Attempts failing this way are retried.
const badInterpreter = "bad interpreter"

// DefaultRetryDelay is the pause between attempts after a transient launch
// failure.
const DefaultRetryDelay = 1 * time.Second

// Executor runs the external collaborator command for each phase of a test
// and appends every attempt to the per-test log. Commands execute in the
// test's case directory, except case creation which runs from the test root
// because the case directory does not exist yet.
type Executor struct {
	batch  *Batch
	runner shell.Runner
	logger *logrus.Entry

	// RetryDelay is the pause between transient-failure retries.
	// Overridable for tests.
	RetryDelay time.Duration

	dispatch map[teststatus.Phase]func(context.Context, string) error
}

// NewExecutor wires an executor to a batch. The phase dispatch table is
// fixed here; a phase outside it at run time is a programming error.
func NewExecutor(b *Batch, r shell.Runner, logger *logrus.Entry) *Executor {
	e := &Executor{
		batch:      b,
		runner:     r,
		logger:     logger,
		RetryDelay: DefaultRetryDelay,
	}
	e.dispatch = map[teststatus.Phase]func(context.Context, string) error{
		teststatus.PhaseCreateNewcase: e.createNewcase,
		teststatus.PhaseXML:           e.writeEnv,
		teststatus.PhaseSetup:         e.setup,
		teststatus.PhaseNamelist:      e.namelist,
		teststatus.PhaseBuild:         e.build,
		teststatus.PhaseRun:           e.run,
	}
	return e
}

// RunPhase executes one phase of one test. A nil return means the phase
// passed; any error is a phase failure.
func (e *Executor) RunPhase(ctx context.Context, test string, phase teststatus.Phase) error {
	fn, ok := e.dispatch[phase]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPhase, phase)
	}
	return fn(ctx, test)
}

// SlotsNeeded reports how many processor slots a phase consumes. Only a
// local (non-batch) RUN needs more than one; the case's own configuration
// knows its processor count.
func (e *Executor) SlotsNeeded(ctx context.Context, test string, phase teststatus.Phase) (int, error) {
	if phase != teststatus.PhaseRun || !e.batch.Opts.NoBatch {
		return 1, nil
	}

	argv, err := shlex.Split(e.batch.Opts.Commands.XMLQuery)
	if err != nil {
		return 0, fmt.Errorf("xmlquery command: %w", err)
	}
	argv = append(argv, "TOTALPES", "-value")

	res, err := e.runner.Run(ctx, e.batch.CaseDir(test), argv)
	if err != nil {
		return 0, fmt.Errorf("querying TOTALPES for %s: %w", test, err)
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("querying TOTALPES for %s: %s exited %d: %s",
			test, argv[0], res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	n, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return 0, fmt.Errorf("querying TOTALPES for %s: %w", test, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("querying TOTALPES for %s: got %d", test, n)
	}
	return n, nil
}

func (e *Executor) createNewcase(ctx context.Context, test string) error {
	tn, err := ParseTestName(test)
	if err != nil {
		return err
	}
	if tn.Compiler != e.batch.Opts.Compiler {
		return fmt.Errorf("test %q names compiler %q, batch is configured for %q",
			test, tn.Compiler, e.batch.Opts.Compiler)
	}

	argv, err := shlex.Split(e.batch.Opts.Commands.CreateNewcase)
	if err != nil {
		return fmt.Errorf("create_newcase command: %w", err)
	}
	argv = append(argv,
		"--case", e.batch.CaseDir(test),
		"--testname", tn.Testcase,
		"--res", tn.Grid,
		"--compset", tn.Compset,
		"--mach", tn.Machine,
		"--compiler", tn.Compiler,
		"--test-id", e.batch.Opts.TestID,
		"--sharedlib-root", e.batch.SharedLibRoot(test),
	)
	if len(tn.Opts) > 0 {
		argv = append(argv, "--confopts", "_"+strings.Join(tn.Opts, "_"))
	}
	if tn.Modifier != "" {
		argv = append(argv, "--user-mods", tn.Modifier)
	}
	if e.batch.Opts.Project != "" {
		argv = append(argv, "--project", e.batch.Opts.Project)
	}

	e.logger.WithField("test", test).Debugf("calling create_newcase: %s", strings.Join(argv, " "))
	return e.runPhaseCommand(ctx, test, teststatus.PhaseCreateNewcase, e.batch.Opts.TestRoot, argv)
}

func (e *Executor) writeEnv(ctx context.Context, test string) error {
	argv, err := shlex.Split(e.batch.Opts.Commands.Envgen)
	if err != nil {
		return fmt.Errorf("envgen command: %w", err)
	}
	opts := &e.batch.Opts
	if opts.Compare || opts.Generate {
		argv = append(argv, "--baseline-root", opts.BaselineRoot)
		if opts.Compare {
			argv = append(argv, "--compare", e.batch.BaselineName())
		} else {
			argv = append(argv, "--generate", e.batch.BaselineName())
		}
	}
	return e.runPhaseCommand(ctx, test, teststatus.PhaseXML, e.batch.CaseDir(test), argv)
}

func (e *Executor) setup(ctx context.Context, test string) error {
	argv, err := shlex.Split(e.batch.Opts.Commands.Setup)
	if err != nil {
		return fmt.Errorf("setup command: %w", err)
	}
	return e.runPhaseCommand(ctx, test, teststatus.PhaseSetup, e.batch.CaseDir(test), argv)
}

func (e *Executor) namelist(ctx context.Context, test string) error {
	switch {
	case e.batch.Opts.Compare:
		return e.compareNamelists(ctx, test)
	case e.batch.Opts.Generate:
		return e.generateNamelists(test)
	default:
		return nil
	}
}

func (e *Executor) build(ctx context.Context, test string) error {
	argv, err := shlex.Split(e.batch.Opts.Commands.Build)
	if err != nil {
		return fmt.Errorf("build command: %w", err)
	}
	return e.runPhaseCommand(ctx, test, teststatus.PhaseBuild, e.batch.CaseDir(test), argv)
}

func (e *Executor) run(ctx context.Context, test string) error {
	opts := &e.batch.Opts
	dir := e.batch.CaseDir(test)

	if opts.Wallclock != "" {
		argv, err := shlex.Split(opts.Commands.XMLChange)
		if err != nil {
			return fmt.Errorf("xmlchange command: %w", err)
		}
		argv = append(argv, "JOB_WALLCLOCK_TIME="+opts.Wallclock)
		res, err := e.runner.Run(ctx, dir, argv)
		if err != nil {
			return fmt.Errorf("setting wallclock for %s: %w", test, err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("setting wallclock for %s: %s exited %d: %s",
				test, argv[0], res.ExitCode, strings.TrimSpace(res.Stderr))
		}
	}

	argv, err := shlex.Split(opts.Commands.Submit)
	if err != nil {
		return fmt.Errorf("submit command: %w", err)
	}
	return e.runPhaseCommand(ctx, test, teststatus.PhaseRun, dir, argv)
}

// runPhaseCommand executes one collaborator command and logs the attempt.
// Transient launch failures retry after RetryDelay until the context is
// cancelled; everything else resolves on the first attempt.
func (e *Executor) runPhaseCommand(ctx context.Context, test string, phase teststatus.Phase, dir string, argv []string) error {
	cmdline := strings.Join(argv, " ")
	for {
		res, runErr := e.runner.Run(ctx, dir, argv)
		errput := res.Stderr
		if runErr != nil && strings.TrimSpace(errput) == "" {
			errput = runErr.Error()
		}

		if runErr == nil && res.ExitCode == 0 {
			e.appendLog(test, fmt.Sprintf(logPassed, phase, test, cmdline, res.Stdout, errput))
			return nil
		}

		e.appendLog(test, fmt.Sprintf(logFailed, phase, test, cmdline, res.Stdout, errput))
		if !strings.Contains(errput, badInterpreter) {
			if runErr != nil {
				return fmt.Errorf("%s: %w", phase, runErr)
			}
			return fmt.Errorf("%s: %s exited %d", phase, argv[0], res.ExitCode)
		}

		e.logger.WithField("test", test).Warnf("transient launch failure in %s, retrying", phase)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.RetryDelay):
		}
	}
}

// appendLog writes one entry to the per-test log, creating the case
// directory first when needed. Log failures are reported but never fail
// the phase.
func (e *Executor) appendLog(test, entry string) {
	dir := e.batch.CaseDir(test)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.logger.WithError(err).WithField("test", test).Error("cannot create case directory for test log")
		return
	}
	f, err := os.OpenFile(e.batch.LogFile(test), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		e.logger.WithError(err).WithField("test", test).Error("cannot open test log")
		return
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		e.logger.WithError(err).WithField("test", test).Error("cannot append to test log")
	}
}
