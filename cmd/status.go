package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/papapumpkin/sirocco/internal/teststatus"
	"github.com/papapumpkin/sirocco/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status <case-dir> [case-dir...]",
	Short: "Report the current verdict of each case directory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusRow struct {
	dir    string
	name   string
	status teststatus.Status
	phase  teststatus.Phase
	err    error
}

func runStatus(_ *cobra.Command, args []string) error {
	printer := ui.New()

	rows := make([]statusRow, len(args))
	var g errgroup.Group
	g.SetLimit(8)
	for i, dir := range args {
		g.Go(func() error {
			rows[i] = readStatusRow(dir)
			return nil
		})
	}
	// The group only bounds read concurrency; per-directory failures are
	// reported row by row.
	_ = g.Wait()

	var errs *multierror.Error
	for _, row := range rows {
		switch {
		case row.err != nil:
			printer.Error(fmt.Sprintf("%s: %v", row.name, row.err))
			errs = multierror.Append(errs, row.err)
		case row.status == teststatus.StatusPass:
			printer.ResultOK(row.status, row.name, row.phase)
		default:
			printer.ResultFail(row.status, row.name, row.phase)
		}
		printer.CaseDir(row.dir)
	}
	return errs.ErrorOrNil()
}

// readStatusRow parses one case directory's status file. A directory that
// exists but has no status file yet reads as pending.
func readStatusRow(dir string) statusRow {
	row := statusRow{
		dir:    dir,
		name:   filepath.Base(filepath.Clean(dir)),
		status: teststatus.StatusPending,
		phase:  teststatus.PhaseInit,
	}
	if _, err := os.Stat(dir); err != nil {
		row.err = err
		return row
	}
	entries, err := teststatus.ParseFile(filepath.Join(dir, teststatus.Filename))
	if err != nil {
		if os.IsNotExist(err) {
			return row
		}
		row.err = err
		return row
	}
	if len(entries) == 0 {
		return row
	}
	if name := teststatus.TestName(entries); name != "" {
		row.name = name
	}
	row.status = teststatus.Overall(entries)
	row.phase = entries[len(entries)-1].Phase
	return row
}
