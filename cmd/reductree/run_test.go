package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nao1215/reductree/internal/config"
	"github.com/nao1215/reductree/internal/database"
	"github.com/nao1215/reductree/internal/report"
	"github.com/nao1215/reductree/internal/runner"
	"github.com/nao1215/reductree/internal/stage"
)

// TestNewRunCmd tests the run command flags.
func TestNewRunCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRunCmd()
	tests := []struct {
		name     string
		defValue string
	}{
		{name: "points", defValue: "1"},
		{name: "first", defValue: "0"},
		{name: "workers", defValue: fmt.Sprint(config.DefaultWorkers)},
		{name: "grace", defValue: config.DefaultGracePeriod.String()},
		{name: "abort-on-first-error", defValue: "false"},
		{name: "save", defValue: "true"},
		{name: "json", defValue: "false"},
		{name: "markdown", defValue: "false"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			flag := cmd.Flags().Lookup(tt.name)
			if flag == nil {
				t.Fatalf("expected %s flag", tt.name)
			}
			if flag.DefValue != tt.defValue {
				t.Errorf("expected default %q, got %q", tt.defValue, flag.DefValue)
			}
		})
	}
}

func decodeRunReport(t *testing.T, out string) report.RunReport {
	t.Helper()
	var rep report.RunReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("invalid JSON report: %v\n%s", err, out)
	}
	return rep
}

// TestRunAndHistory runs a tree that writes one file per scan point and
// reads the run back from the history database.
func TestRunAndHistory(t *testing.T) {
	e := newTestEnv(t)
	treeFile := e.path("tree.yaml")
	outDir := e.path("out")

	e.mustRun(t, "tree", "new", treeFile, "Synthetic Ramp", "Scale Values", "Sum",
		"--set", "0.length=4", "--set", "1.factor=2")
	e.mustRun(t, "tree", "add", treeFile, "Text Writer", "--parent", "1", "--set", "directory="+outDir)

	out := e.mustRun(t, "run", treeFile, "--points", "3", "--first", "5", "--workers", "2",
		"--db-dir", e.dbDir, "--json")
	rep := decodeRunReport(t, out)
	if rep.Status != report.StatusCompleted {
		t.Errorf("expected completed run, got %q (%s)", rep.Status, rep.Error)
	}
	if rep.Total != 3 || rep.Succeeded != 3 || rep.Failed != 0 {
		t.Errorf("unexpected counts %+v", rep)
	}
	for _, index := range []int{5, 6, 7} {
		name := filepath.Join(outDir, fmt.Sprintf("point_%06d.txt", index))
		if _, err := os.Stat(name); err != nil {
			t.Errorf("expected output file for scan point %d: %v", index, err)
		}
	}

	t.Run("history list", func(t *testing.T) {
		out := e.mustRun(t, "history", "--db-dir", e.dbDir)
		if !strings.Contains(out, "RUN ID") || !strings.Contains(out, rep.RunID) {
			t.Errorf("expected run in listing, got:\n%s", out)
		}

		out = e.mustRun(t, "history", "--db-dir", e.dbDir, "--json")
		var reports []report.RunReport
		if err := json.Unmarshal([]byte(out), &reports); err != nil {
			t.Fatalf("invalid JSON listing: %v", err)
		}
		if len(reports) != 1 || reports[0].RunID != rep.RunID {
			t.Errorf("unexpected listing %+v", reports)
		}
	})

	t.Run("history run", func(t *testing.T) {
		stored := decodeRunReport(t, e.mustRun(t, "history", rep.RunID, "--db-dir", e.dbDir, "--json"))
		if stored.Status != report.StatusCompleted || stored.Succeeded != 3 {
			t.Errorf("unexpected stored run %+v", stored)
		}
		if stored.TreeDigest != rep.TreeDigest {
			t.Errorf("digest %q, want %q", stored.TreeDigest, rep.TreeDigest)
		}

		if _, err := e.run("history", "no-such-run", "--db-dir", e.dbDir); err == nil {
			t.Error("expected error for unknown run")
		}
	})

	t.Run("output file refuses existing results", func(t *testing.T) {
		// Text Writer does not overwrite by default, so every point fails.
		out := e.mustRun(t, "run", treeFile, "--points", "3", "--first", "5", "--save=false", "--json")
		rep := decodeRunReport(t, out)
		if rep.Failed != 3 || len(rep.Failures) != 3 {
			t.Errorf("expected 3 failures, got %+v", rep)
		}
		if rep.Failures[0].NodeID != 3 {
			t.Errorf("expected failure at the text writer, got node %d", rep.Failures[0].NodeID)
		}
	})
}

// TestRunFailures tests recorded failures and abort-on-first-error.
func TestRunFailures(t *testing.T) {
	e := newTestEnv(t)
	treeFile := e.path("crop.yaml")
	e.mustRun(t, "tree", "new", treeFile, "Synthetic Ramp", "Crop Range",
		"--set", "0.length=4", "--set", "1.stop=10")

	t.Run("recorded", func(t *testing.T) {
		out := e.mustRun(t, "run", treeFile, "--points", "2", "--save=false", "--markdown")
		if !strings.Contains(out, "exceeds input length") {
			t.Errorf("expected failure message in report, got:\n%s", out)
		}
	})

	t.Run("report file", func(t *testing.T) {
		path := e.path(filepath.Join("reports", "run.md"))
		out := e.mustRun(t, "run", treeFile, "--points", "2", "--save=false", "--markdown", "-o", path)
		if !strings.Contains(out, "RUN REPORT") {
			t.Errorf("expected terminal summary, got:\n%s", out)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("expected report file: %v", err)
		}
		if !strings.Contains(string(data), "# Run Report") {
			t.Errorf("expected Markdown report, got:\n%s", data)
		}
	})

	t.Run("abort", func(t *testing.T) {
		out, err := e.run("run", treeFile, "--points", "4", "--workers", "1",
			"--abort-on-first-error", "--db-dir", e.dbDir, "--json")
		if !errors.Is(err, stage.ErrUserConfig) {
			t.Fatalf("expected user config error, got %v", err)
		}
		rep := decodeRunReport(t, out)
		if rep.Status != report.StatusFailed {
			t.Errorf("expected failed run, got %q", rep.Status)
		}

		listing := e.mustRun(t, "history", "--db-dir", e.dbDir)
		if !strings.Contains(listing, report.StatusFailed) {
			t.Errorf("expected failed run in history, got:\n%s", listing)
		}
	})
}

// TestPointStoreDropsAfterClose checks that results reported after the run
// returned are not written to the database.
func TestPointStoreDropsAfterClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	const runID = "run-late-results"
	if err := db.CreateRun(ctx, &database.Run{ID: runID, Total: 2}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	var logs bytes.Buffer
	store := newPointStore(db, runID, slog.New(slog.NewTextHandler(&logs, nil)))
	store.save(ctx, runner.PointResult{Index: 0, Sideband: stage.Sideband{}})
	store.close()
	store.save(ctx, runner.PointResult{Index: 1, Sideband: stage.Sideband{}})

	stored, err := db.GetPointResults(ctx, runID)
	if err != nil {
		t.Fatalf("GetPointResults failed: %v", err)
	}
	if len(stored) != 1 || stored[0].Index != 0 {
		t.Errorf("expected only scan point 0 to be stored, got %+v", stored)
	}
	if logs.Len() != 0 {
		t.Errorf("expected no errors to be logged, got %q", logs.String())
	}

	// A run without a database never writes.
	newPointStore(nil, runID, slog.New(slog.NewTextHandler(&logs, nil))).save(ctx, runner.PointResult{Index: 2})
}

// TestRunInvalidConfig tests flag validation.
func TestRunInvalidConfig(t *testing.T) {
	e := newTestEnv(t)
	treeFile := e.path("tree.yaml")
	e.mustRun(t, "tree", "new", treeFile, "Synthetic Ramp")

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{name: "no points", args: []string{"--points", "0"}, wantErr: config.ErrInvalidScanPoints},
		{name: "negative first", args: []string{"--first", "-1"}, wantErr: config.ErrInvalidFirstPoint},
		{name: "no workers", args: []string{"--workers", "0"}, wantErr: config.ErrInvalidWorkers},
		{name: "negative grace", args: []string{"--grace", "-1s"}, wantErr: config.ErrInvalidGracePeriod},
		{name: "both formats", args: []string{"--json", "--markdown"}, wantErr: config.ErrConflictingReportFormats},
		{name: "bad log format", args: []string{"--log-format", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run", treeFile, "--save=false"}, tt.args...)
			_, err := e.run(args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := e.run("run", e.path("missing.yaml"), "--save=false"); err == nil {
		t.Error("expected error for missing tree file")
	}
}

// TestHistoryWithoutDatabase tests the listing before the first run.
func TestHistoryWithoutDatabase(t *testing.T) {
	e := newTestEnv(t)
	out := e.mustRun(t, "history", "--db-dir", e.dbDir)
	if !strings.Contains(out, "No runs recorded yet") {
		t.Errorf("unexpected output %q", out)
	}
}
