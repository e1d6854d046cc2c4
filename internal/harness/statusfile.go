package harness

import (
	"errors"
	"fmt"
	"os"

	"github.com/papapumpkin/sirocco/internal/teststatus"
)

// statusEntries reconstructs the durable status lines for a record: one line
// per table phase up to and including the current one. Phases already
// completed read PASS, except NAMELIST which reads NLFAIL when the record
// carries a namelist problem. When the run is headed for the RUN phase and
// the record has just finished BUILD in a runnable state, a PEND RUN line is
// appended so the external run scripts know a run is expected.
func (b *Batch) statusEntries(rec *Record) ([]teststatus.Entry, error) {
	idx, ok := b.Phases.Index(rec.Phase)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPhase, rec.Phase)
	}

	entries := make([]teststatus.Entry, 0, idx+2)
	for _, p := range b.Phases[:idx+1] {
		st := teststatus.StatusPass
		switch {
		case p == teststatus.PhaseNamelist && rec.NamelistProblem:
			st = teststatus.StatusNamelistFail
		case p == rec.Phase:
			st = rec.Status
		}
		entries = append(entries, teststatus.Entry{Status: st, Test: rec.Name, Phase: p})
	}

	if b.Phases.Contains(teststatus.PhaseRun) && !rec.broken() && rec.Phase == teststatus.PhaseBuild {
		entries = append(entries, teststatus.Entry{
			Status: teststatus.StatusPending,
			Test:   rec.Name,
			Phase:  teststatus.PhaseRun,
		})
	}
	return entries, nil
}

// WriteStatusFile replaces the test's durable status file with the record's
// current view. The write goes through a temp file and rename so readers
// never observe a half-written file.
func (b *Batch) WriteStatusFile(rec *Record) error {
	entries, err := b.statusEntries(rec)
	if err != nil {
		return err
	}

	dir := b.CaseDir(rec.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating case directory: %w", err)
	}

	path := b.StatusFile(rec.Name)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, []byte(teststatus.Compose(entries)), 0o644); err != nil {
		return fmt.Errorf("writing temp status file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming status file: %w", err)
	}
	return nil
}

// CheckpointStatus decides whether a phase completion must be persisted and
// reports whether a write happened. The status file is shared with the
// external run scripts, which constrains when this side may write it:
//
//   - a non-RUN phase checkpoints on failure, on BUILD completion, and on
//     completion of the last configured phase;
//   - RUN success never writes, the run scripts own the RUN line from the
//     moment of submission;
//   - RUN failure patches the file only when the RUN entry is absent or
//     still PASS/PEND, so a terminal status the run scripts already
//     recorded is never clobbered.
func (b *Batch) CheckpointStatus(rec *Record, phase teststatus.Phase, success bool) (bool, error) {
	if phase != teststatus.PhaseRun {
		if !success || phase == teststatus.PhaseBuild || phase == b.Phases.Last() {
			return true, b.WriteStatusFile(rec)
		}
		return false, nil
	}

	if success {
		return false, nil
	}

	// A very early RUN failure can die before the run scripts record
	// anything at all.
	entries, err := teststatus.ParseFile(b.StatusFile(rec.Name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	st, ok := teststatus.Lookup(entries, teststatus.PhaseRun)
	if !ok || st == teststatus.StatusPass || st == teststatus.StatusPending {
		return true, b.WriteStatusFile(rec)
	}
	return false, nil
}
