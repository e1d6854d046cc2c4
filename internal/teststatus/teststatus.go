// Package teststatus defines the durable TestStatus file format shared
// between the scheduler and external run tooling: one line per phase,
// "<STATUS> <TEST_NAME> <PHASE>". The scheduler overwrites the file at
// checkpoints; run scripts append their own view of the RUN phase.
package teststatus

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Filename is the status file name inside each case directory.
const Filename = "TestStatus"

// Status is the wire status recorded for a phase.
type Status string

const (
	StatusPass         Status = "PASS"
	StatusFail         Status = "FAIL"
	StatusPending      Status = "PEND"
	StatusNamelistFail Status = "NLFAIL"
)

// Phase identifies one ordered stage of a test's lifecycle.
type Phase string

const (
	PhaseInit          Phase = "INIT"
	PhaseCreateNewcase Phase = "CREATE_NEWCASE"
	PhaseXML           Phase = "XML"
	PhaseSetup         Phase = "SETUP"
	PhaseNamelist      Phase = "NAMELIST"
	PhaseBuild         Phase = "BUILD"
	PhaseRun           Phase = "RUN"
)

// AllPhases is the complete phase order. Run options may remove entries
// but never reorder them.
var AllPhases = []Phase{
	PhaseInit,
	PhaseCreateNewcase,
	PhaseXML,
	PhaseSetup,
	PhaseNamelist,
	PhaseBuild,
	PhaseRun,
}

// Entry is one parsed status line.
type Entry struct {
	Status Status
	Test   string
	Phase  Phase
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s %s", e.Status, e.Test, e.Phase)
}

// Compose renders entries as status file content, one line per entry.
func Compose(entries []Entry) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Parse reads status lines from r. Blank lines are skipped; a line that is
// not exactly three fields is a format error.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed status line %q", line)
		}
		entries = append(entries, Entry{
			Status: Status(fields[0]),
			Test:   fields[1],
			Phase:  Phase(fields[2]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ParseFile parses the status file at path.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// Lookup returns the status recorded for phase. When a phase appears more
// than once the last entry wins, matching how run scripts append updates.
func Lookup(entries []Entry, phase Phase) (Status, bool) {
	var st Status
	found := false
	for _, e := range entries {
		if e.Phase == phase {
			st = e.Status
			found = true
		}
	}
	return st, found
}

// TestName returns the test name the entries describe, or "" for no entries.
func TestName(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	return entries[0].Test
}

// Overall collapses entries into a single verdict: any FAIL wins, then any
// PEND, then any NLFAIL, then PASS. An empty entry set reads as PEND since
// no phase has recorded a result yet.
func Overall(entries []Entry) Status {
	if len(entries) == 0 {
		return StatusPending
	}
	overall := StatusPass
	for _, e := range entries {
		switch e.Status {
		case StatusFail:
			return StatusFail
		case StatusPending:
			overall = StatusPending
		case StatusNamelistFail:
			if overall == StatusPass {
				overall = StatusNamelistFail
			}
		}
	}
	return overall
}
