package harness

import "github.com/papapumpkin/sirocco/internal/teststatus"

// Record is the in-memory state of one test case. It starts at the INIT
// phase with a vacuous PASS (no phase has failed yet) and is mutated only
// through the transition methods below. Each record is touched by at most
// one goroutine at a time: the pending invariant guarantees a single
// in-flight worker per test, and only the control goroutine transitions
// records.
type Record struct {
	Name   string
	Phase  teststatus.Phase
	Status teststatus.Status

	// NamelistProblem marks a soft comparison failure. It never halts
	// phase progression but dooms the final verdict. Set once, never
	// cleared.
	NamelistProblem bool
}

// NewRecord returns a record at the initial phase.
func NewRecord(name string) *Record {
	return &Record{
		Name:   name,
		Phase:  teststatus.PhaseInit,
		Status: teststatus.StatusPass,
	}
}

// continuable reports whether a status permits moving on to the next phase.
func continuable(st teststatus.Status) bool {
	return st == teststatus.StatusPass || st == teststatus.StatusNamelistFail
}

// WorkRemains reports whether the record has phases left to run: the status
// must permit continuation (or be pending, with a worker in flight) and the
// current phase must not be the last table entry.
func (r *Record) WorkRemains(table PhaseTable) bool {
	return (continuable(r.Status) || r.Status == teststatus.StatusPending) && r.Phase != table.Last()
}

// broken reports whether the record has failed terminally: the status
// neither permits continuation nor has a worker in flight.
func (r *Record) broken() bool {
	return !continuable(r.Status) && r.Status != teststatus.StatusPending
}

// NextPhase returns the table entry after the record's current phase.
// Callers must check WorkRemains first.
func (r *Record) NextPhase(table PhaseTable) (teststatus.Phase, error) {
	return table.Next(r.Phase)
}

// BeginPhase transitions the record into a brand-new phase. The prior phase
// must have passed and the new phase must be the exact table successor;
// anything else is an ordering violation that aborts the run.
func (r *Record) BeginPhase(table PhaseTable, phase teststatus.Phase) error {
	i, ok := table.Index(phase)
	if !ok {
		return r.transitionErr(phase, teststatus.StatusPending, ErrUnknownPhase)
	}
	if !continuable(r.Status) {
		return r.transitionErr(phase, teststatus.StatusPending, ErrPriorPhaseNotPassed)
	}
	cur, ok := table.Index(r.Phase)
	if !ok || cur != i-1 {
		return r.transitionErr(phase, teststatus.StatusPending, ErrSkippedPhase)
	}
	r.Phase = phase
	r.Status = teststatus.StatusPending
	return nil
}

// CompletePhase resolves the pending phase to a final status. Transitioning
// back to pending is forbidden.
func (r *Record) CompletePhase(status teststatus.Status) error {
	if r.Status != teststatus.StatusPending {
		return r.transitionErr(r.Phase, status, ErrPhaseNotPending)
	}
	if status == teststatus.StatusPending {
		return r.transitionErr(r.Phase, status, ErrPhaseStillPending)
	}
	r.Status = status
	return nil
}

// MarkUnrecoverable forces the record to FAIL outside the normal transition
// contract. It is used only when the durable status file can no longer be
// trusted (a persistence failure): the test must not progress further, but
// the batch keeps running.
func (r *Record) MarkUnrecoverable() {
	r.Status = teststatus.StatusFail
}

func (r *Record) transitionErr(toPhase teststatus.Phase, toStatus teststatus.Status, sentinel error) error {
	return &TransitionError{
		Test:       r.Name,
		FromPhase:  r.Phase,
		FromStatus: r.Status,
		ToPhase:    toPhase,
		ToStatus:   toStatus,
		Err:        sentinel,
	}
}
