package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/papapumpkin/sirocco/internal/board"
	"github.com/papapumpkin/sirocco/internal/teststatus"
	"github.com/papapumpkin/sirocco/internal/ui"
	"github.com/papapumpkin/sirocco/internal/watcher"
)

var waitCmd = &cobra.Command{
	Use:   "wait <case-dir> [case-dir...]",
	Short: "Block until every case directory reaches a final verdict",
	Long: `Wait blocks until no case directory reports PEND, then prints one
verdict line per test. The exit code is zero only when every test
passed, so wait is the form to use from scripts and CI. Progress is
observed through filesystem events with a periodic re-read fallback
for filesystems that do not deliver them.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWait,
}

func init() {
	waitCmd.Flags().Duration("interval", 10*time.Second, "fallback polling interval")
	rootCmd.AddCommand(waitCmd)
}

func runWait(cmd *cobra.Command, args []string) error {
	printer := ui.New()

	for _, dir := range args {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("case directory %s: %w", dir, err)
		}
	}

	interval, _ := cmd.Flags().GetDuration("interval")
	ctx, cancel := setupSignalContext(printer)
	defer cancel()

	w, err := watcher.New(filepath.Dir(filepath.Clean(args[0])), args)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for !settled(args) {
		select {
		case <-ctx.Done():
			printer.Info("interrupted, reporting current state")
			return reportFinal(printer, args)
		case <-w.Changes:
		case <-ticker.C:
		}
	}
	return reportFinal(printer, args)
}

// settled reports whether every case directory has reached a final
// verdict. NLFAIL is final: the comparison phase never re-runs.
func settled(dirs []string) bool {
	for _, dir := range dirs {
		if board.ReadRow(dir).Status == teststatus.StatusPending {
			return false
		}
	}
	return true
}

// reportFinal prints one verdict line per case directory and returns an
// error when any test did not pass.
func reportFinal(printer *ui.Printer, dirs []string) error {
	var errs *multierror.Error
	for _, dir := range dirs {
		row := board.ReadRow(dir)
		if row.Status == teststatus.StatusPass {
			printer.ResultOK(row.Status, row.Test, row.Phase)
		} else {
			printer.ResultFail(row.Status, row.Test, row.Phase)
			errs = multierror.Append(errs, fmt.Errorf("%s finished %s in phase %s", row.Test, row.Status, row.Phase))
		}
		printer.CaseDir(row.CaseDir)
	}
	return errs.ErrorOrNil()
}
