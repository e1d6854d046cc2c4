package harness

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/papapumpkin/sirocco/internal/teststatus"
	"github.com/papapumpkin/sirocco/internal/ui"
)

// TestResult is one test's final verdict.
type TestResult struct {
	Name            string
	Status          teststatus.Status
	Phase           teststatus.Phase
	CaseDir         string
	NamelistProblem bool
	Failed          bool
}

// Report is the batch verdict: per-test results in input order plus the
// collected failures.
type Report struct {
	Results  []TestResult
	Elapsed  time.Duration
	Failures *multierror.Error
}

// Passed reports whether every test is PASS or still legitimately pending.
func (r *Report) Passed() bool {
	return r.Failures.ErrorOrNil() == nil
}

// Summarize derives the authoritative batch verdict after scheduling is
// done. A record that looks like a RUN-phase PASS is re-derived from its
// durable status file: the external run script finishes the RUN line, so
// in-memory state can be both stale and too optimistic. A PEND verdict is
// not a failure, it means the run is still in the batch system's hands.
func Summarize(b *Batch, elapsed time.Duration) *Report {
	rep := &Report{Elapsed: elapsed}
	var errs *multierror.Error

	for _, rec := range b.Records {
		res := TestResult{
			Name:            rec.Name,
			Status:          rec.Status,
			Phase:           rec.Phase,
			CaseDir:         b.CaseDir(rec.Name),
			NamelistProblem: rec.NamelistProblem,
		}

		var readErr error
		if res.Status == teststatus.StatusPass && res.Phase == teststatus.PhaseRun {
			entries, err := teststatus.ParseFile(b.StatusFile(rec.Name))
			if err != nil {
				readErr = err
				res.Status = teststatus.StatusFail
			} else {
				res.Status = teststatus.Overall(entries)
			}
		}

		switch {
		case readErr != nil:
			res.Failed = true
			errs = multierror.Append(errs, fmt.Errorf("%s: cannot read status file: %w", res.Name, readErr))
		case res.Status != teststatus.StatusPass && res.Status != teststatus.StatusPending:
			res.Failed = true
			errs = multierror.Append(errs, fmt.Errorf("%s failed in phase %s with status %s", res.Name, res.Phase, res.Status))
		case res.NamelistProblem:
			res.Failed = true
			errs = multierror.Append(errs, fmt.Errorf("%s has namelist problems", res.Name))
		}

		rep.Results = append(rep.Results, res)
	}

	rep.Failures = errs
	return rep
}

// Print renders one verdict line per test, each with its case directory,
// then the total duration.
func (r *Report) Print(p *ui.Printer) {
	for _, res := range r.Results {
		switch {
		case res.Status != teststatus.StatusPass && res.Status != teststatus.StatusPending:
			p.ResultFail(res.Status, res.Name, res.Phase)
		case res.NamelistProblem:
			p.ResultNamelistProblem(res.Name)
		default:
			p.ResultOK(res.Status, res.Name, res.Phase)
		}
		p.CaseDir(res.CaseDir)
	}
	p.TotalDuration(r.Elapsed.Seconds())
}
