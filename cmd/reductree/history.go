package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nao1215/reductree/internal/database"
	"github.com/nao1215/reductree/internal/report"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run id]",
		Short: "Show stored runs",
		Long: `History lists the stored runs, newest first. Given a run id it prints the
report of that run, including every failed scan point.

Examples:
  reductree history
  reductree history --limit 5 --json
  reductree history 7f9c0a52-3f0e-4a8b-9d7e-1c2b3a4d5e6f --markdown`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "l", 20, "Maximum number of runs to list (0 lists all)")
	cmd.Flags().String("db-dir", "", "Directory of the history database (default: XDG data directory)")
	reportFlags(cmd)

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cfg := a.cfg
	if err := readReportFlags(cmd, cfg); err != nil {
		return err
	}
	if cmd.Flags().Changed("db-dir") {
		if cfg.DBDir, err = cmd.Flags().GetString("db-dir"); err != nil {
			return err
		}
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	if _, err := os.Stat(filepath.Join(cfg.DBDir, database.FileName)); os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet")
		return nil
	}
	db, err := database.Open(cfg.DBDir, database.Options{EnableWAL: true})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	if len(args) == 1 {
		run, err := db.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		points, err := db.GetPointResults(ctx, run.ID)
		if err != nil {
			return err
		}
		rep := report.FromStoredRun(run, points)
		return withReportWriter(cmd, cfg, func(w report.Writer) error {
			_, err := w.WriteRun(rep)
			return err
		})
	}

	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	reports := make([]*report.RunReport, 0, len(runs))
	for _, run := range runs {
		reports = append(reports, report.FromStoredRun(run, nil))
	}

	if cfg.MarkdownReport {
		return withReportWriter(cmd, cfg, func(w report.Writer) error {
			for _, rep := range reports {
				if _, err := w.WriteRun(rep); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return withOutput(cmd, cfg, func(out io.Writer) error {
		if cfg.JSONReport {
			data, err := json.MarshalIndent(reports, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal runs: %w", err)
			}
			_, err = fmt.Fprintln(out, string(data))
			return err
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN ID\tSTARTED\tSTATUS\tPOINTS\tFAILED\tTREE")
		for _, rep := range reports {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
				rep.RunID,
				rep.StartedAt.Local().Format("2006-01-02 15:04:05"),
				rep.Status,
				rep.Completed, rep.Total,
				rep.Failed,
				rep.TreeFile,
			)
		}
		return tw.Flush()
	})
}
