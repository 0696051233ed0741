package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/bookload/internal/history"
	"github.com/wesleyorama2/bookload/internal/performance/output"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect saved load test runs",
		Long: `Inspect runs saved with 'bookload run --save'.

Runs are stored in a local database, ~/.bookload/history.db by default.`,
	}
	cmd.PersistentFlags().String("history-db", "", "History database (default ~/.bookload/history.db)")

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd.Flags())
			if err != nil {
				return harnessError(err)
			}

			store, err := openHistory(v)
			if err != nil {
				return harnessError(err)
			}
			defer store.Close()

			records, err := store.List(v.GetInt("limit"))
			if err != nil {
				return harnessError(err)
			}

			if v.GetBool("json") {
				return writeJSONOrFail(cmd.OutOrStdout(), records)
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to list (0 for all)")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the summary of a saved run",
		Long:  "Show the summary of a saved run. A unique prefix of the run id is enough.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd.Flags())
			if err != nil {
				return harnessError(err)
			}

			store, err := openHistory(v)
			if err != nil {
				return harnessError(err)
			}
			defer store.Close()

			rec, err := store.Get(args[0])
			if err != nil {
				return harnessError(fmt.Errorf("%s: %w", args[0], err))
			}

			if rec.Result == nil {
				return harnessError(fmt.Errorf("%s: record has no result", rec.ID))
			}
			if v.GetBool("json") {
				return writeJSONOrFail(cmd.OutOrStdout(), rec.Result)
			}

			console := output.NewConsoleOutput(output.ConsoleOutputConfig{
				TestName: rec.Name,
				BaseURL:  rec.BaseURL,
				Writer:   cmd.OutOrStdout(),
				NoColor:  v.GetBool("no-color"),
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s  %s  %s\n", rec.ID, rec.StartTime.Local().Format(time.RFC3339), rec.BaseURL)
			console.PrintSummary(rec.Result)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Output the full result as JSON")
	cmd.Flags().Bool("no-color", false, "Disable coloured output")
	return cmd
}

func printRecords(w io.Writer, records []history.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No saved runs.")
		return
	}

	fmt.Fprintf(w, "%-8s  %-19s  %-8s  %-10s  %8s  %8s  %s\n",
		"ID", "STARTED", "STATUS", "DURATION", "CHECKS", "FAILED", "NAME")
	for _, rec := range records {
		id := rec.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "%-8s  %-19s  %-8s  %-10s  %8d  %8d  %s\n",
			id,
			rec.StartTime.Local().Format("2006-01-02 15:04:05"),
			recordStatus(rec),
			rec.Duration.Round(time.Second),
			rec.TotalChecks,
			rec.FailedChecks,
			rec.Name)
	}
}

func recordStatus(rec history.Record) string {
	switch {
	case rec.ExitCode > 1:
		return "ERROR"
	case rec.Aborted:
		return "ABORTED"
	case rec.Passed:
		return "PASSED"
	default:
		return "FAILED"
	}
}

func writeJSONOrFail(w io.Writer, v interface{}) error {
	if err := output.WriteValue(w, v); err != nil {
		return harnessError(err)
	}
	return nil
}
