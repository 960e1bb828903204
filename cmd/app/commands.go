package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, the daily scheduler and the trigger consumer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, cleanup, err := buildApp()
		if err != nil {
			return err
		}
		defer cleanup()
		return app.Run(cmd.Context())
	},
}

var triggeredBy string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run in the foreground",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, cleanup, err := buildApp()
		if err != nil {
			return err
		}
		defer cleanup()

		by := triggeredBy
		if by == "" {
			by = "cli"
		}
		res := app.RunOnce(cmd.Context(), by)
		if !res.Success {
			return fmt.Errorf("run %s failed: %s", res.RunID, res.Error)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s completed\n", res.RunID)
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Mark runs interrupted by a crash as failed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, cleanup, err := buildApp()
		if err != nil {
			return err
		}
		defer cleanup()

		n, err := app.Recover(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "recovered %d run(s)\n", n)
		return err
	},
}

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the most recent pipeline runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if statusLimit <= 0 {
			return errors.New("--limit must be positive")
		}
		app, cleanup, err := buildApp()
		if err != nil {
			return err
		}
		defer cleanup()

		runs, err := app.RecentRuns(cmd.Context(), statusLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTRIGGER\tSTATUS\tSTEPS\tSTARTED\tDURATION\tERROR")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
				r.ID, r.TriggerType, r.Status, r.CompletedSteps, r.TotalSteps,
				r.StartedAt.Format(time.RFC3339),
				time.Duration(r.DurationMs)*time.Millisecond,
				r.ErrorMessage)
		}
		return w.Flush()
	},
}

func init() {
	runCmd.Flags().StringVar(&triggeredBy, "by", os.Getenv("USER"), "operator recorded as the trigger source")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of runs to show")
}
