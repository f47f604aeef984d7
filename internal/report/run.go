package report

import (
	"errors"
	"time"

	"github.com/nao1215/reductree/internal/database"
	"github.com/nao1215/reductree/internal/runner"
)

// Run outcome values.
const (
	StatusCompleted = database.StatusCompleted
	StatusCancelled = database.StatusCancelled
	StatusFailed    = database.StatusFailed
	StatusRunning   = database.StatusRunning
)

// RunReport is the data every writer renders for a run.
type RunReport struct {
	RunID      string           `json:"run_id"`
	TreeFile   string           `json:"tree_file,omitempty"`
	TreeDigest string           `json:"tree_digest,omitempty"`
	Status     string           `json:"status"`
	Error      string           `json:"error,omitempty"`
	Total      int              `json:"total"`
	Completed  int              `json:"completed"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    time.Time        `json:"ended_at,omitzero"`
	Failures   []runner.Failure `json:"failures,omitempty"`
}

// NewRunReport builds the report of a run that just ended. runErr is the
// error returned by the runner.
func NewRunReport(summary *runner.Summary, treeFile, digest string, runErr error) *RunReport {
	r := &RunReport{
		RunID:      summary.RunID,
		TreeFile:   treeFile,
		TreeDigest: digest,
		Status:     StatusCompleted,
		Total:      summary.Total,
		Completed:  summary.Completed,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed(),
		StartedAt:  summary.StartedAt,
		EndedAt:    summary.EndedAt,
		Failures:   summary.Failures,
	}
	switch {
	case summary.Cancelled:
		r.Status = StatusCancelled
	case runErr != nil:
		r.Status = StatusFailed
	}
	if runErr != nil && !errors.Is(runErr, runner.ErrCancelled) {
		r.Error = runErr.Error()
	}
	return r
}

// FromStoredRun builds the report of a run read from the history database.
// points may be nil when only the run record was loaded.
func FromStoredRun(run *database.Run, points []database.Point) *RunReport {
	r := &RunReport{
		RunID:      run.ID,
		TreeFile:   run.TreeFile,
		TreeDigest: run.TreeDigest,
		Status:     run.Status,
		Error:      run.Error,
		Total:      run.Total,
		Completed:  run.Completed,
		Succeeded:  run.Succeeded,
		Failed:     run.Failed,
		StartedAt:  run.StartedAt,
		EndedAt:    run.EndedAt,
	}
	for _, p := range points {
		if p.Failure != nil {
			r.Failures = append(r.Failures, *p.Failure)
		}
	}
	return r
}

// Elapsed returns the wall time of the run, or zero while it is running.
func (r *RunReport) Elapsed() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Skipped returns the number of scan points that never ran.
func (r *RunReport) Skipped() int {
	return max(r.Total-r.Completed, 0)
}
