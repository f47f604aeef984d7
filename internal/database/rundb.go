package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/reductree/internal/runner"
	"github.com/nao1215/reductree/internal/stage"
	"github.com/nao1215/reductree/internal/tree"
)

// FileName is the name of the database file inside the database directory.
const FileName = "reductree.db"

// ErrRunNotFound is returned when a run id is not in the database.
var ErrRunNotFound = errors.New("run not found")

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// RunDB provides SQLite-based storage for runs and their scan points.
//
// Design decision: Payloads and sidebands are stored as JSON text. Stages
// define their own payload types, and JSON keeps them readable from the
// sqlite3 shell without a schema per stage.
type RunDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures RunDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a RunDB in the specified directory.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*RunDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw prevents creating new files, mode=rwc allows creation.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Workers save scan points concurrently; SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	rdb := &RunDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := rdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return rdb, nil
}

// Path returns the database file path.
func (rdb *RunDB) Path() string {
	return rdb.dbPath
}

// Close closes the database connection.
func (rdb *RunDB) Close() error {
	return rdb.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (rdb *RunDB) createTables() error {
	schema := `
	-- Runs store one execution of a tree over its scan points
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		tree_file TEXT,
		tree_digest TEXT NOT NULL,
		tree_json TEXT NOT NULL,
		total INTEGER NOT NULL,
		completed INTEGER DEFAULT 0,
		succeeded INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		ended_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_digest ON runs(tree_digest);

	-- Point results store the payloads of every completed scan point
	CREATE TABLE IF NOT EXISTS point_results (
		run_id TEXT NOT NULL REFERENCES runs(id),
		point_index INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		results_json TEXT,
		sideband_json TEXT,
		PRIMARY KEY (run_id, point_index)
	);

	-- Point errors store the failure of a scan point
	CREATE TABLE IF NOT EXISTS point_errors (
		run_id TEXT NOT NULL REFERENCES runs(id),
		point_index INTEGER NOT NULL,
		node_id INTEGER,
		display_name TEXT,
		message TEXT NOT NULL,
		PRIMARY KEY (run_id, point_index)
	);
	`

	_, err := rdb.db.ExecContext(context.Background(), schema)
	return err
}

// Run is a stored run.
type Run struct {
	ID         string
	TreeFile   string
	TreeDigest string
	Tree       []tree.NodeRecord
	Total      int
	Completed  int
	Succeeded  int
	Failed     int
	Status     string
	Error      string
	StartedAt  time.Time
	EndedAt    time.Time
}

// Point is a stored scan point.
type Point struct {
	Index    int
	Duration time.Duration

	// Results maps node ids to the JSON form of their payloads.
	Results map[int]json.RawMessage

	Sideband map[string]any

	// Failure is set when the scan point failed.
	Failure *runner.Failure
}

// CreateRun stores a new run in the running state.
func (rdb *RunDB) CreateRun(ctx context.Context, run *Run) error {
	treeJSON, err := json.Marshal(run.Tree)
	if err != nil {
		return fmt.Errorf("failed to serialize tree: %w", err)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = StatusRunning

	query := `
	INSERT INTO runs (id, tree_file, tree_digest, tree_json, total, status, started_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = rdb.db.ExecContext(ctx, query,
		run.ID,
		run.TreeFile,
		run.TreeDigest,
		string(treeJSON),
		run.Total,
		run.Status,
		formatTimestamp(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun stores the outcome of a run. runErr is the error Run returned.
func (rdb *RunDB) FinishRun(ctx context.Context, summary *runner.Summary, runErr error) error {
	status := StatusCompleted
	var message string
	switch {
	case summary.Cancelled:
		status = StatusCancelled
	case runErr != nil:
		status = StatusFailed
	}
	if runErr != nil {
		message = runErr.Error()
	}
	endedAt := summary.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now()
	}

	query := `
	UPDATE runs
	SET completed = ?, succeeded = ?, failed = ?, status = ?, error = ?, ended_at = ?
	WHERE id = ?
	`
	res, err := rdb.db.ExecContext(ctx, query,
		summary.Completed,
		summary.Succeeded,
		summary.Failed(),
		status,
		message,
		formatTimestamp(endedAt),
		summary.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, summary.RunID)
	}
	return nil
}

// SavePointResult stores one scan point of a run. It is safe to call from
// the run callback.
func (rdb *RunDB) SavePointResult(ctx context.Context, runID string, res runner.PointResult) error {
	var resultsJSON []byte
	if res.Results != nil {
		encoded := make(map[string]stage.Payload, len(res.Results))
		for id, p := range res.Results {
			encoded[strconv.Itoa(id)] = p
		}
		var err error
		if resultsJSON, err = json.Marshal(encoded); err != nil {
			return fmt.Errorf("failed to serialize results of point %d: %w", res.Index, err)
		}
	}
	sidebandJSON, err := json.Marshal(encodableSideband(res.Sideband))
	if err != nil {
		return fmt.Errorf("failed to serialize sideband of point %d: %w", res.Index, err)
	}

	tx, err := rdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // Rollback after Commit is a no-op

	_, err = tx.ExecContext(ctx, `
	INSERT OR REPLACE INTO point_results (run_id, point_index, duration_ns, results_json, sideband_json)
	VALUES (?, ?, ?, ?, ?)
	`, runID, res.Index, int64(res.Duration), nullableText(resultsJSON), string(sidebandJSON))
	if err != nil {
		return fmt.Errorf("failed to save point %d: %w", res.Index, err)
	}

	if res.Err != nil {
		f := res.Failure()
		_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO point_errors (run_id, point_index, node_id, display_name, message)
		VALUES (?, ?, ?, ?, ?)
		`, runID, res.Index, f.NodeID, f.DisplayName, f.Message)
		if err != nil {
			return fmt.Errorf("failed to save error of point %d: %w", res.Index, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run by id.
func (rdb *RunDB) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
	SELECT id, tree_file, tree_digest, tree_json, total, completed, succeeded, failed,
	       status, error, started_at, ended_at
	FROM runs WHERE id = ?
	`
	run, err := scanRun(rdb.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A limit of 0 or less
// returns every run.
func (rdb *RunDB) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `
	SELECT id, tree_file, tree_digest, tree_json, total, completed, succeeded, failed,
	       status, error, started_at, ended_at
	FROM runs
	ORDER BY started_at DESC, id
	LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := rdb.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetPointResults returns the stored scan points of a run ordered by
// index.
func (rdb *RunDB) GetPointResults(ctx context.Context, runID string) ([]Point, error) {
	query := `
	SELECT p.point_index, p.duration_ns, p.results_json, p.sideband_json,
	       e.node_id, e.display_name, e.message
	FROM point_results p
	LEFT JOIN point_errors e ON e.run_id = p.run_id AND e.point_index = p.point_index
	WHERE p.run_id = ?
	ORDER BY p.point_index
	`

	rows, err := rdb.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get point results: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var (
			p            Point
			durationNS   int64
			resultsJSON  sql.NullString
			sidebandJSON sql.NullString
			nodeID       sql.NullInt64
			displayName  sql.NullString
			message      sql.NullString
		)
		if err := rows.Scan(&p.Index, &durationNS, &resultsJSON, &sidebandJSON, &nodeID, &displayName, &message); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		p.Duration = time.Duration(durationNS)

		if resultsJSON.Valid {
			var raw map[string]json.RawMessage
			if err := json.Unmarshal([]byte(resultsJSON.String), &raw); err != nil {
				return nil, fmt.Errorf("failed to parse results of point %d: %w", p.Index, err)
			}
			p.Results = make(map[int]json.RawMessage, len(raw))
			for key, v := range raw {
				id, err := strconv.Atoi(key)
				if err != nil {
					return nil, fmt.Errorf("invalid node id %q in point %d", key, p.Index)
				}
				p.Results[id] = v
			}
		}
		if sidebandJSON.Valid {
			if err := json.Unmarshal([]byte(sidebandJSON.String), &p.Sideband); err != nil {
				return nil, fmt.Errorf("failed to parse sideband of point %d: %w", p.Index, err)
			}
		}
		if message.Valid {
			p.Failure = &runner.Failure{
				Index:       p.Index,
				NodeID:      int(nodeID.Int64),
				DisplayName: displayName.String,
				Message:     message.String,
			}
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run       Run
		treeFile  sql.NullString
		treeJSON  string
		errText   sql.NullString
		startedAt string
		endedAt   sql.NullString
	)
	err := row.Scan(
		&run.ID,
		&treeFile,
		&run.TreeDigest,
		&treeJSON,
		&run.Total,
		&run.Completed,
		&run.Succeeded,
		&run.Failed,
		&run.Status,
		&errText,
		&startedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}
	run.TreeFile = treeFile.String
	run.Error = errText.String
	run.StartedAt = parseTimestamp(startedAt)
	if endedAt.Valid {
		run.EndedAt = parseTimestamp(endedAt.String)
	}
	if err := json.Unmarshal([]byte(treeJSON), &run.Tree); err != nil {
		return nil, fmt.Errorf("failed to parse tree of run %s: %w", run.ID, err)
	}
	return &run, nil
}

// encodableSideband replaces values JSON cannot encode with their string
// form.
func encodableSideband(sb stage.Sideband) map[string]any {
	out := make(map[string]any, len(sb))
	for k, v := range sb {
		if _, err := json.Marshal(v); err != nil {
			out[k] = fmt.Sprint(v)
			continue
		}
		out[k] = v
	}
	return out
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

// timestampFormat has a fixed width so stored timestamps sort as text.
const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}

// parseTimestamp parses timestamps written by this package and the
// default SQLite format.
func parseTimestamp(s string) time.Time {
	for _, format := range []string{timestampFormat, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
