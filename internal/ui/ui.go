package ui

import (
	"fmt"
	"os"

	"github.com/papapumpkin/sirocco/internal/teststatus"
)

// ANSI color codes.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	yellow = "\033[33m"
	green  = "\033[32m"
	red    = "\033[31m"
	cyan   = "\033[36m"
)

type Printer struct{}

func New() *Printer {
	return &Printer{}
}

// RunHeader lists the tests a batch is about to run.
func (p *Printer) RunHeader(tests []string) {
	fmt.Fprintln(os.Stderr, bold+"RUNNING TESTS:"+reset)
	for _, t := range tests {
		fmt.Fprintf(os.Stderr, "  %s\n", t)
	}
}

// PhaseStarted announces a worker launch.
func (p *Printer) PhaseStarted(phase teststatus.Phase, test string, procs int) {
	fmt.Fprintf(os.Stderr, cyan+"▶"+reset+" Starting %s for test %s with %d procs\n", phase, test, procs)
}

// FinishedLine formats a phase completion line. Exported for testing.
func FinishedLine(phase teststatus.Phase, test string, seconds float64, status teststatus.Status) string {
	return fmt.Sprintf("Finished %s for test %s in %.2f seconds (%s)", phase, test, seconds, status)
}

// PhaseFinished announces a worker completion.
func (p *Printer) PhaseFinished(phase teststatus.Phase, test string, seconds float64, status teststatus.Status) {
	mark := green + "✓" + reset
	switch status {
	case teststatus.StatusFail:
		mark = red + "✗" + reset
	case teststatus.StatusPending:
		mark = yellow + "…" + reset
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", mark, FinishedLine(phase, test, seconds, status))
}

// ResultLine formats a final per-test verdict line. Exported for testing.
func ResultLine(status teststatus.Status, name string, phase teststatus.Phase) string {
	if status != teststatus.StatusPass && status != teststatus.StatusPending {
		return fmt.Sprintf("%s %s (phase %s)", status, name, phase)
	}
	return fmt.Sprintf("%s %s %s", status, name, phase)
}

// ResultFail prints a failed test's verdict.
func (p *Printer) ResultFail(status teststatus.Status, name string, phase teststatus.Phase) {
	fmt.Fprintf(os.Stderr, red+bold+"%s"+reset+" %s (phase %s)\n", status, name, phase)
}

// ResultNamelistProblem prints the soft-failure verdict: the test ran fine
// but its namelists drifted from the baseline.
func (p *Printer) ResultNamelistProblem(name string) {
	fmt.Fprintf(os.Stderr, yellow+bold+"%s"+reset+" %s (but otherwise OK)\n", teststatus.StatusNamelistFail, name)
}

// ResultOK prints a passing or still-pending verdict.
func (p *Printer) ResultOK(status teststatus.Status, name string, phase teststatus.Phase) {
	color := green
	if status == teststatus.StatusPending {
		color = yellow
	}
	fmt.Fprintf(os.Stderr, color+bold+"%s"+reset+" %s %s\n", status, name, phase)
}

// CaseDir prints the case directory under a verdict or failure line.
func (p *Printer) CaseDir(dir string) {
	fmt.Fprintf(os.Stderr, dim+"    Case dir: %s"+reset+"\n", dir)
}

// TotalDuration prints the batch wall-clock time.
func (p *Printer) TotalDuration(seconds float64) {
	fmt.Fprintf(os.Stderr, "Total duration: %.2f seconds\n", seconds)
}

func (p *Printer) Error(msg string) {
	fmt.Fprintf(os.Stderr, red+bold+"error: "+reset+"%s\n", msg)
}

func (p *Printer) Info(msg string) {
	fmt.Fprintf(os.Stderr, dim+"%s"+reset+"\n", msg)
}
