package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and provide specific
// information about what is wrong with the configuration.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages.
var (
	// ErrNoTreeFile is returned when no tree file is given to run.
	ErrNoTreeFile = errors.New("no tree file specified")

	// ErrInvalidScanPoints is returned when the run has no scan points.
	ErrInvalidScanPoints = errors.New("invalid number of scan points: must be at least 1")

	// ErrInvalidFirstPoint is returned when the first scan point is negative.
	ErrInvalidFirstPoint = errors.New("invalid first scan point: must be non-negative")

	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid worker count: must be positive")

	// ErrInvalidGracePeriod is returned when the grace period is negative.
	// Use 0 to stop in-flight scan points immediately.
	ErrInvalidGracePeriod = errors.New("invalid grace period: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidLogFormat is returned for log formats other than text and json.
	ErrInvalidLogFormat = errors.New("invalid log format: must be text or json")
)
