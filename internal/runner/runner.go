package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	rlog "github.com/nao1215/reductree/internal/log"
	"github.com/nao1215/reductree/internal/stage"
	"github.com/nao1215/reductree/internal/tree"
)

// Default settings of a Runner.
const (
	DefaultWorkers     = 4
	DefaultGracePeriod = 10 * time.Second
)

// PointResult is the outcome of one scan point.
type PointResult struct {
	// Index is the scan-point index.
	Index int

	// Results maps node ids to the payloads the point produced. It is nil
	// when the point failed.
	Results map[int]stage.Payload

	// Sideband is the sideband after the whole chain ran.
	Sideband stage.Sideband

	// Err is the *stage.UserConfigError that failed the point, if any.
	Err error

	// Duration is the wall time spent on the point.
	Duration time.Duration
}

// Failed reports whether the point failed.
func (p PointResult) Failed() bool {
	return p.Err != nil
}

// Failure describes a failed scan point.
type Failure struct {
	Index       int    `json:"index"`
	NodeID      int    `json:"node_id"`
	DisplayName string `json:"display_name,omitempty"`
	Message     string `json:"message"`
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Total     int
	Completed int
	Succeeded int
	Failures  []Failure
	Cancelled bool
	StartedAt time.Time
	EndedAt   time.Time
}

// Failed returns the number of failed scan points.
func (s *Summary) Failed() int {
	return len(s.Failures)
}

// Runner executes a tree over many scan points.
type Runner struct {
	tree         *tree.Tree
	workers      int
	grace        time.Duration
	abortOnFirst bool
	logger       *slog.Logger
	progress     func(completed, total int)
	runID        string
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers sets the maximum number of scan points processed in parallel.
// Default is 4 if not specified.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithGracePeriod sets how long in-flight scan points may run after the
// run was cancelled. Zero stops them immediately.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.grace = d
		}
	}
}

// WithAbortOnFirstError stops the run at the first failed scan point.
func WithAbortOnFirstError(abort bool) Option {
	return func(r *Runner) {
		r.abortOnFirst = abort
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithProgress registers a function called after every completed scan
// point. completed increases monotonically. The function is called from
// worker goroutines and must be safe for concurrent use.
func WithProgress(fn func(completed, total int)) Option {
	return func(r *Runner) {
		r.progress = fn
	}
}

// WithRunID sets the run id instead of generating one.
func WithRunID(id string) Option {
	return func(r *Runner) {
		r.runID = id
	}
}

// New creates a Runner for t. The tree itself is never executed; workers
// run copies of it.
func New(t *tree.Tree, opts ...Option) *Runner {
	r := &Runner{
		tree:    t,
		workers: DefaultWorkers,
		grace:   DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	return r
}

// RunID returns the id of the run.
func (r *Runner) RunID() string {
	return r.runID
}

// Run executes every scan point in points and calls callback with each
// result. callback is called from worker goroutines and must be safe for
// concurrent use; it may be nil.
//
// A scan point failing with a *stage.UserConfigError is recorded and the
// run continues, unless abort-on-first-error is set. Any other error aborts
// the run and is returned.
//
// Cancellation of ctx is observed between scan points. In-flight points get
// the grace period to finish; Run then returns ErrCancelled, or
// ErrForcedStop when the grace period ran out. The summary is returned in
// every case once the run started.
func (r *Runner) Run(ctx context.Context, points []int, callback func(PointResult)) (*Summary, error) {
	if len(points) == 0 {
		return nil, ErrNoPoints
	}
	if _, inconsistent := r.tree.ConsistencyCheck(); len(inconsistent) > 0 {
		return nil, &InconsistentTreeError{Nodes: inconsistent}
	}

	ctx = rlog.WithRunID(ctx, r.runID)
	workers := min(r.workers, len(points))
	pool, err := r.preparePool(ctx, workers)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:     r.runID,
		Total:     len(points),
		StartedAt: time.Now(),
	}

	r.logger.InfoContext(ctx, "starting run",
		"scan_points", len(points),
		"workers", workers,
	)

	// Workers must not see the caller's cancellation directly: in-flight
	// points keep running until the grace period ends.
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	var (
		mu        sync.Mutex
		completed atomic.Int64
	)
	record := func(res PointResult) {
		mu.Lock()
		summary.Completed++
		if res.Failed() {
			summary.Failures = append(summary.Failures, res.Failure())
		} else {
			summary.Succeeded++
		}
		mu.Unlock()

		if callback != nil {
			callback(res)
		}
		n := completed.Add(1)
		if r.progress != nil {
			r.progress(int(n), len(points))
		}
	}

	g, gctx := errgroup.WithContext(workCtx)
	g.SetLimit(workers)

	done := make(chan error, 1)
	go func() {
		for _, index := range points {
			if ctx.Err() != nil || gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				// Check for cancellation before starting
				if ctx.Err() != nil || gctx.Err() != nil {
					return nil
				}
				t := <-pool
				defer func() { pool <- t }()

				res, err := r.runPoint(rlog.WithScanPoint(gctx, index), t, index)
				if err != nil {
					return err
				}
				record(res)
				if res.Failed() && r.abortOnFirst {
					return res.Err
				}
				return nil
			})
		}
		done <- g.Wait()
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		r.logger.WarnContext(ctx, "run cancelled, waiting for in-flight scan points",
			"grace_period", r.grace,
		)
		timer := time.NewTimer(r.grace)
		select {
		case runErr = <-done:
			timer.Stop()
		case <-timer.C:
			stopWork()
			runErr = ErrForcedStop
		}
	}

	mu.Lock()
	defer mu.Unlock()
	summary.EndedAt = time.Now()
	if ctx.Err() != nil {
		summary.Cancelled = true
		if runErr == nil {
			runErr = ErrCancelled
		}
	}

	r.logger.InfoContext(ctx, "run complete",
		"completed", summary.Completed,
		"failed", len(summary.Failures),
		"elapsed", summary.EndedAt.Sub(summary.StartedAt),
	)

	// Return a copy: after a forced stop workers may still record results.
	out := *summary
	out.Failures = append([]Failure(nil), summary.Failures...)
	return &out, runErr
}

// preparePool copies and prepares one tree per worker. A stage failing to
// prepare fails the run, as every scan point would fail the same way.
func (r *Runner) preparePool(ctx context.Context, workers int) (chan *tree.Tree, error) {
	pool := make(chan *tree.Tree, workers)
	for i := range workers {
		t, err := r.tree.Copy()
		if err != nil {
			return nil, fmt.Errorf("copy tree for worker %d: %w", i, err)
		}
		if err := t.PrepareExecution(ctx, true, false); err != nil {
			return nil, fmt.Errorf("prepare worker %d: %w", i, err)
		}
		pool <- t
	}
	return pool, nil
}

// runPoint executes one scan point. A *stage.UserConfigError is returned in
// the result, any other error is returned as error.
func (r *Runner) runPoint(ctx context.Context, t *tree.Tree, index int) (PointResult, error) {
	start := time.Now()
	sb, err := t.ExecuteProcess(ctx, index, nil, nil)
	res := PointResult{
		Index:    index,
		Sideband: sb,
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
		res.Results = t.GetCurrentResults()
		r.logger.DebugContext(ctx, "scan point completed", "elapsed", res.Duration)
		return res, nil
	case errors.Is(err, stage.ErrUserConfig):
		res.Err = err
		r.logger.WarnContext(ctx, "scan point failed", "error", err)
		return res, nil
	default:
		r.logger.ErrorContext(ctx, "scan point aborted the run", "error", err)
		return res, fmt.Errorf("scan point %d: %w", index, err)
	}
}

// Failure describes the failure of the point. It must only be called when
// Failed reports true.
func (p PointResult) Failure() Failure {
	f := Failure{Index: p.Index, NodeID: stage.NoNode, Message: p.Err.Error()}
	var uce *stage.UserConfigError
	if errors.As(p.Err, &uce) {
		f.NodeID = uce.NodeID
		f.DisplayName = uce.DisplayName
		f.Message = uce.Err.Error()
	}
	return f
}
