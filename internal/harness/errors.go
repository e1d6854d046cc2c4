package harness

import (
	"errors"
	"fmt"

	"github.com/papapumpkin/sirocco/internal/teststatus"
)

// Sentinel errors for batch construction and scheduling invariants.
var (
	// ErrNoTests indicates the batch was constructed with an empty test list.
	ErrNoTests = errors.New("no tests to run")
	// ErrDuplicateTest indicates two entries in the test list share a name.
	ErrDuplicateTest = errors.New("duplicate test name")
	// ErrCaseDirExists indicates a case directory already exists for this test id.
	ErrCaseDirExists = errors.New("case directory already exists")
	// ErrBadTestName indicates a test name does not follow TESTCASE.grid.compset.machine_compiler.
	ErrBadTestName = errors.New("malformed test name")
	// ErrCompareAndGenerate indicates both baseline modes were requested at once.
	ErrCompareAndGenerate = errors.New("compare and generate are mutually exclusive")
	// ErrNoBaselineName indicates compare/generate was requested without a resolvable baseline name.
	ErrNoBaselineName = errors.New("baseline name not set")
	// ErrNoBaselineRoot indicates compare/generate was requested without a baseline root.
	ErrNoBaselineRoot = errors.New("baseline root not set")
	// ErrMissingBaseline indicates the baseline comparison directory does not exist.
	ErrMissingBaseline = errors.New("missing baseline comparison directory")
	// ErrUnknownPhase indicates a phase identifier outside the configured table.
	ErrUnknownPhase = errors.New("phase not in table")
	// ErrNoWorkRemaining indicates NextPhase was called on a record already at the last phase.
	ErrNoWorkRemaining = errors.New("no phases remain after current phase")
	// ErrPriorPhaseNotPassed indicates a new phase was begun while the prior phase had not passed.
	ErrPriorPhaseNotPassed = errors.New("prior phase did not pass")
	// ErrSkippedPhase indicates a new phase is not the table successor of the current one.
	ErrSkippedPhase = errors.New("skipped phase")
	// ErrPhaseNotPending indicates CompletePhase was called while the phase was not pending.
	ErrPhaseNotPending = errors.New("phase is not pending")
	// ErrPhaseStillPending indicates an attempt to transition from pending to pending.
	ErrPhaseStillPending = errors.New("cannot transition pending to pending")
	// ErrPoolUnderflow indicates the resource pool went negative; a scheduler bug.
	ErrPoolUnderflow = errors.New("resource pool underflow")
	// ErrPoolOverflow indicates the pool exceeded its capacity on reclaim; a scheduler bug.
	ErrPoolOverflow = errors.New("resource pool overflow")
)

// TransitionError records an invalid phase transition with full context.
// Transition errors signal a scheduler bug, not a test failure, and abort
// the run.
type TransitionError struct {
	Test       string
	FromPhase  teststatus.Phase
	FromStatus teststatus.Status
	ToPhase    teststatus.Phase
	ToStatus   teststatus.Status
	Err        error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("test %s: invalid transition %s/%s -> %s/%s: %v",
		e.Test, e.FromPhase, e.FromStatus, e.ToPhase, e.ToStatus, e.Err)
}

// Unwrap returns the underlying sentinel for use with errors.Is.
func (e *TransitionError) Unwrap() error {
	return e.Err
}
