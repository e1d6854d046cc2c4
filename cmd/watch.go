package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/sirocco/internal/board"
	"github.com/papapumpkin/sirocco/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch <case-dir> [case-dir...]",
	Short: "Watch case directories on a live status board",
	Long: `Watch renders a full-screen table of test verdicts that updates as
run scripts rewrite their status files. It also re-reads every case
directory once a second, so progress shows up even when the filesystem
does not deliver change events. Quit with q.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, args []string) error {
	w, err := watcher.New(filepath.Dir(filepath.Clean(args[0])), args)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	return board.Run(args, w.Changes)
}
