package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/crucible-runner/internal/runstore"
)

var (
	historyLimit    int
	historySaveList string
)

func init() {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show (0 for all)")

	showCmd := &cobra.Command{
		Use:   "show RUN",
		Short: "Show the per-test outcomes of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}
	showCmd.Flags().StringVar(&historySaveList, "save-failing", "", "write failed and lost tests as a test list")
	historyCmd.AddCommand(showCmd)

	rootCmd.AddCommand(historyCmd)
}

func openHistory() (*runstore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.Store.DatabasePath); err != nil {
		return nil, fmt.Errorf("no run history at %s", cfg.Store.DatabasePath)
	}
	return runstore.New(cfg.Store.DatabasePath)
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tTOTAL\tPASS\tFAIL\tSKIP\tLOST\tSTATUS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, humanize.Time(r.StartedAt), r.Totals.Total,
			r.Totals.Passed, r.Totals.Failed, r.Totals.Skipped, r.Totals.Lost,
			runStatus(r))
	}
	return w.Flush()
}

func runStatus(r *runstore.Run) string {
	switch {
	case r.FinishedAt == nil:
		return "unfinished"
	case r.Interrupt == "abort":
		return "aborted"
	case r.Totals.OK():
		return "ok"
	default:
		return "failed"
	}
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(args[0])
	if err != nil {
		return err
	}
	results, err := store.GetResults(run.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s started %s (%s)\n", run.ID, humanize.Time(run.StartedAt), runStatus(run))
	if run.Flags != "" && run.Flags != "{}" {
		fmt.Printf("Flags: %s\n", run.Flags)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tOUTCOME\tELAPSED")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.TestID, r.Name, r.Outcome, r.Elapsed)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if historySaveList == "" {
		return nil
	}
	return saveFailing(store, run.ID, historySaveList)
}
