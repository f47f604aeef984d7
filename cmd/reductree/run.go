package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nao1215/reductree/internal/config"
	"github.com/nao1215/reductree/internal/database"
	"github.com/nao1215/reductree/internal/report"
	"github.com/nao1215/reductree/internal/runner"
	"github.com/nao1215/reductree/internal/tree"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <tree file>",
		Short: "Run a processing tree over scan points",
		Long: `Run executes the processing tree once per scan point on parallel workers.

Scan points whose stages reject their input or parameters are recorded as
failures and the run continues, unless --abort-on-first-error is given.
Press Ctrl+C to stop: in-flight scan points get the grace period to finish.

Every run is stored in the history database unless --save=false is given.

Examples:
  # Run scan points 0..99 on 8 workers
  reductree run tree.yaml --points 100 --workers 8

  # Run scan points 50..59 and write a Markdown report
  reductree run tree.yaml --first 50 --points 10 --markdown -o report.md`,
		Args: cobra.ExactArgs(1),
		RunE: runRunCmd,
	}

	cmd.Flags().IntP("points", "n", config.DefaultScanPoints, "Number of scan points")
	cmd.Flags().Int("first", 0, "Index of the first scan point")
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers, "Scan points processed in parallel")
	cmd.Flags().Duration("grace", config.DefaultGracePeriod, "Time in-flight scan points may finish after Ctrl+C")
	cmd.Flags().Bool("abort-on-first-error", false, "Stop at the first failed scan point")
	cmd.Flags().Bool("save", true, "Store the run in the history database")
	cmd.Flags().String("db-dir", "", "Directory of the history database (default: XDG data directory)")
	cmd.Flags().Bool("progress", false, "Print progress to stderr")
	reportFlags(cmd)

	return cmd
}

// buildRunConfig adds the run flags to the configuration.
// Flags only override the settings file and the environment when given.
func buildRunConfig(cmd *cobra.Command, cfg *config.Config, treeFile string) error {
	cfg.TreeFile = treeFile
	cfg.SaveToDB = true

	var err error
	if cfg.ScanPoints, err = cmd.Flags().GetInt("points"); err != nil {
		return err
	}
	if cfg.FirstPoint, err = cmd.Flags().GetInt("first"); err != nil {
		return err
	}
	if cmd.Flags().Changed("workers") {
		if cfg.Workers, err = cmd.Flags().GetInt("workers"); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("grace") {
		if cfg.GracePeriod, err = cmd.Flags().GetDuration("grace"); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("abort-on-first-error") {
		if cfg.AbortOnFirstError, err = cmd.Flags().GetBool("abort-on-first-error"); err != nil {
			return err
		}
	}
	if cfg.SaveToDB, err = cmd.Flags().GetBool("save"); err != nil {
		return err
	}
	if cmd.Flags().Changed("db-dir") {
		if cfg.DBDir, err = cmd.Flags().GetString("db-dir"); err != nil {
			return err
		}
	}
	if err := readReportFlags(cmd, cfg); err != nil {
		return err
	}

	return cfg.Validate()
}

// runRunCmd executes the run command.
func runRunCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cfg := a.cfg
	if err := buildRunConfig(cmd, cfg, args[0]); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	showProgress, err := cmd.Flags().GetBool("progress")
	if err != nil {
		return err
	}

	t, err := a.loadTree(a.newRegistry(), cfg.TreeFile)
	if err != nil {
		return err
	}
	records := t.ExportToListOfNodes()
	digest, err := tree.Digest(records)
	if err != nil {
		return err
	}

	ctx, cancel := a.signalContext()
	defer cancel()

	opts := []runner.Option{
		runner.WithWorkers(cfg.Workers),
		runner.WithGracePeriod(cfg.GracePeriod),
		runner.WithAbortOnFirstError(cfg.AbortOnFirstError),
		runner.WithLogger(a.logger),
	}
	if showProgress {
		var mu sync.Mutex
		stderr := cmd.ErrOrStderr()
		opts = append(opts, runner.WithProgress(func(completed, total int) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(stderr, "\r%d/%d scan points", completed, total)
			if completed == total {
				fmt.Fprintln(stderr)
			}
		}))
	}
	r := runner.New(t, opts...)

	var db *database.RunDB
	if cfg.SaveToDB {
		db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		err = db.CreateRun(ctx, &database.Run{
			ID:         r.RunID(),
			TreeFile:   cfg.TreeFile,
			TreeDigest: digest,
			Tree:       records,
			Total:      cfg.ScanPoints,
		})
		if err != nil {
			return err
		}
		a.logger.Debug("Storing run.", "run_id", r.RunID(), "db", db.Path())
	}

	// Results are stored even while the run winds down after Ctrl+C.
	storeCtx := context.WithoutCancel(ctx)
	points := newPointStore(db, r.RunID(), a.logger)

	summary, runErr := r.Run(ctx, cfg.Points(), func(res runner.PointResult) {
		points.save(storeCtx, res)
	})
	// Workers left behind by a forced stop may still report; their results
	// are not part of the summary and the database is about to close.
	points.close()
	if summary == nil {
		// The run never started; record it as failed.
		if db != nil {
			failed := &runner.Summary{RunID: r.RunID(), Total: cfg.ScanPoints}
			if err := db.FinishRun(storeCtx, failed, runErr); err != nil {
				a.logger.Error("failed to store run", "error", err)
			}
		}
		return runErr
	}

	if db != nil {
		if err := db.FinishRun(storeCtx, summary, runErr); err != nil {
			a.logger.Error("failed to store run", "error", err)
		}
	}

	rep := report.NewRunReport(summary, cfg.TreeFile, digest, runErr)
	err = withReportWriter(cmd, cfg, func(w report.Writer) error {
		// A report written to a file is summarized on the terminal as well.
		if cfg.ReportFile != "" {
			w = report.NewMultiWriter(w, report.NewSimpleWriter(cmd.OutOrStdout()))
		}
		_, err := w.WriteRun(rep)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if errors.Is(runErr, runner.ErrCancelled) {
		return nil
	}
	return runErr
}

// pointStore saves scan point results until it is closed. Results reported
// after close are dropped.
type pointStore struct {
	mu     sync.Mutex
	db     *database.RunDB
	runID  string
	logger *slog.Logger
	closed bool
}

func newPointStore(db *database.RunDB, runID string, logger *slog.Logger) *pointStore {
	return &pointStore{db: db, runID: runID, logger: logger}
}

func (s *pointStore) save(ctx context.Context, res runner.PointResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.db == nil {
		return
	}
	if err := s.db.SavePointResult(ctx, s.runID, res); err != nil {
		s.logger.Error("failed to store scan point", "index", res.Index, "error", err)
	}
}

func (s *pointStore) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
