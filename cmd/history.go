package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/sirocco/internal/config"
	"github.com/papapumpkin/sirocco/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history [test]",
	Short: "Show recorded batch runs and per-test outcomes",
	Long: `History queries the local run-history database. With no arguments it
lists recent batches, with a test name it lists that test's outcomes
across batches, and with --run it lists every result of one batch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "max rows to show (0 for all)")
	historyCmd.Flags().Int64("run", 0, "show every result of this run id")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.HistoryFile == "" {
		return errors.New("run history is disabled (history_file config key is empty)")
	}

	ctx := cmd.Context()
	store, err := history.Open(ctx, cfg.HistoryFile)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	runID, _ := cmd.Flags().GetInt64("run")

	switch {
	case runID != 0:
		return printRunResults(ctx, store, runID)
	case len(args) == 1:
		return printTestHistory(ctx, store, args[0], limit)
	default:
		return printRuns(ctx, store, limit)
	}
}

func printRuns(ctx context.Context, store *history.Store, limit int) error {
	runs, err := store.Runs(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}
	for _, run := range runs {
		fmt.Printf("#%-5d %-17s %-12s %-8s pass %-4d fail %-4d pend %-4d %7.1fs  %s\n",
			run.ID, run.TestID, run.Machine, run.Compiler,
			run.Passed, run.Failed, run.Pending,
			run.Seconds, run.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func printRunResults(ctx context.Context, store *history.Store, runID int64) error {
	results, err := store.Results(ctx, runID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Printf("no results for run #%d\n", runID)
		return nil
	}
	for _, res := range results {
		fmt.Printf("%-6s %s %s\n", res.Status, res.Test, res.Phase)
		if res.CaseDir != "" {
			fmt.Printf("    %s\n", res.CaseDir)
		}
	}
	return nil
}

func printTestHistory(ctx context.Context, store *history.Store, test string, limit int) error {
	outcomes, err := store.TestHistory(ctx, test, limit)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		fmt.Printf("no recorded outcomes for %s\n", test)
		return nil
	}
	for _, o := range outcomes {
		fmt.Printf("%-6s #%-5d %-17s %-8s %s\n",
			o.Result.Status, o.Run.ID, o.Run.TestID, o.Result.Phase,
			o.Run.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}
