package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/forge/internal/config"
	"github.com/aristath/forge/internal/persistence"
)

func (a *app) newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs recorded in the sqlite store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Backend != config.BackendSQLite {
				return fmt.Errorf("run history needs the %s store (set --store=%s)", config.BackendSQLite, config.BackendSQLite)
			}

			path := cfg.Store.Path
			if !filepath.IsAbs(path) {
				manifestAbs, err := filepath.Abs(cfg.Engine.Manifest)
				if err != nil {
					return err
				}
				path = filepath.Join(filepath.Dir(manifestAbs), path)
			}

			store, err := persistence.NewSQLiteStore(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tACTION\tSTARTED\tDURATION\tRESULT\tEXECUTED\tUP-TO-DATE\tFAILED")
			for _, r := range runs {
				result := "ok"
				if !r.Success {
					result = "FAILED"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\t%d\t%d\t%d\n",
					r.RunID[:min(8, len(r.RunID))], r.Action, r.StartedAt.Format(time.DateTime),
					r.Duration().Round(time.Millisecond), result,
					r.ExecutedCount, r.UpToDateCount, r.FailedCount)
				for _, f := range r.Failures {
					fmt.Fprintf(tw, "\t  %s\t%s\t\t\t\t\t\n", f.Task, f.Reason)
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show (0 for all)")
	return cmd
}
