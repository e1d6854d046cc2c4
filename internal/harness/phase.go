package harness

import "github.com/papapumpkin/sirocco/internal/teststatus"

// PhaseTable is the ordered list of phases for one run. It is computed once
// from run options before scheduling begins and never changes afterwards.
type PhaseTable []teststatus.Phase

// NewPhaseTable derives the table from run options: BUILD is removed by
// no-build, RUN by no-run, and NAMELIST is present only when a baseline
// compare or generate was requested.
func NewPhaseTable(noBuild, noRun, compare, generate bool) PhaseTable {
	table := make(PhaseTable, 0, len(teststatus.AllPhases))
	for _, p := range teststatus.AllPhases {
		switch {
		case p == teststatus.PhaseBuild && noBuild:
		case p == teststatus.PhaseRun && noRun:
		case p == teststatus.PhaseNamelist && !compare && !generate:
		default:
			table = append(table, p)
		}
	}
	return table
}

// Index returns the position of p in the table.
func (t PhaseTable) Index(p teststatus.Phase) (int, bool) {
	for i, entry := range t {
		if entry == p {
			return i, true
		}
	}
	return 0, false
}

// Contains reports whether p is part of this run.
func (t PhaseTable) Contains(p teststatus.Phase) bool {
	_, ok := t.Index(p)
	return ok
}

// Last returns the final configured phase.
func (t PhaseTable) Last() teststatus.Phase {
	return t[len(t)-1]
}

// Next returns the phase immediately after p, or ErrNoWorkRemaining when p
// is the last entry.
func (t PhaseTable) Next(p teststatus.Phase) (teststatus.Phase, error) {
	i, ok := t.Index(p)
	if !ok {
		return "", ErrUnknownPhase
	}
	if i == len(t)-1 {
		return "", ErrNoWorkRemaining
	}
	return t[i+1], nil
}
