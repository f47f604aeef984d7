package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "reductree"

	// DefaultWorkers is the number of scan points processed in parallel.
	// Each worker holds its own copy of the tree, so memory grows linearly
	// with this value.
	DefaultWorkers = 4

	// DefaultGracePeriod is how long in-flight scan points may finish after
	// a run was cancelled before the run is stopped forcibly.
	DefaultGracePeriod = 10 * time.Second

	// DefaultScanPoints is the number of scan points of a run when none is
	// given.
	DefaultScanPoints = 1

	// DefaultLogFormat is the log output format.
	DefaultLogFormat = "text"

	// SettingsFileName is the name of the settings file in the XDG config
	// directory.
	SettingsFileName = "config.yaml"
)

// Config holds all configuration options of one reductree invocation.
// This struct is populated from the settings file, the environment and CLI
// flags, in that order, and passed through the application via dependency
// injection rather than global state.
//
// Design decision: We use a single flat struct instead of nested structs
// for simplicity. The number of options is manageable.
type Config struct {
	// TreeFile is the serialized processing tree to run.
	TreeFile string

	// ScanPoints is the number of scan points of the run.
	ScanPoints int

	// FirstPoint is the index of the first scan point.
	FirstPoint int

	// Workers is the number of scan points processed in parallel.
	Workers int

	// GracePeriod bounds how long in-flight scan points may run after
	// cancellation.
	GracePeriod time.Duration

	// AbortOnFirstError stops the run at the first failed scan point
	// instead of recording the failure and continuing.
	AbortOnFirstError bool

	// Verbose enables detailed log output using slog.LevelDebug.
	// When false, only warnings and errors are logged.
	Verbose bool

	// LogFormat is "text" or "json".
	LogFormat string

	// ConfigFilePath is the path to the settings file. If empty,
	// FindConfigFile decides.
	ConfigFilePath string

	// PluginPaths are search paths scanned in addition to the persisted
	// ones. They are not persisted.
	PluginPaths []string

	// JSONReport enables JSON report output instead of the human-readable
	// format. Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport enables Markdown report output. Mutually exclusive
	// with JSONReport.
	MarkdownReport bool

	// ReportFile is the output file path for the report.
	// When set, the report is written to this file instead of stdout.
	ReportFile string

	// DBDir is the directory of the run history database.
	// Defaults to the XDG data directory.
	DBDir string

	// SaveToDB stores the run in the history database.
	SaveToDB bool
}

// NewConfig creates a new Config with default values.
//
// Design decision: We use a constructor function instead of relying on
// zero values because many defaults are non-zero. This also serves as
// documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		ScanPoints:  DefaultScanPoints,
		Workers:     DefaultWorkers,
		GracePeriod: DefaultGracePeriod,
		LogFormat:   DefaultLogFormat,
		DBDir:       XDGDataDir(),
	}
}

// XDGDataDir returns the XDG data directory for reductree.
// On Linux: ~/.local/share/reductree
// On macOS: ~/Library/Application Support/reductree
// On Windows: %LOCALAPPDATA%\reductree
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for reductree.
// On Linux: ~/.config/reductree
// On macOS: ~/Library/Application Support/reductree
// On Windows: %APPDATA%\reductree
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DefaultPluginDir returns the directory "reductree init" writes the
// built-in stage manifests to. It is always scanned.
func DefaultPluginDir() string {
	return filepath.Join(XDGDataDir(), "plugins")
}

// DefaultSettingsFile returns the settings file in the XDG config directory.
func DefaultSettingsFile() string {
	return filepath.Join(XDGConfigDir(), SettingsFileName)
}

// Validate checks if the configuration is valid.
// It returns a specific error describing what is invalid.
//
// We chose to return the first error found rather than collecting all errors
// because fixing one error often makes others irrelevant.
func (c *Config) Validate() error {
	if c.TreeFile == "" {
		return ErrNoTreeFile
	}

	if c.ScanPoints < 1 {
		return ErrInvalidScanPoints
	}

	if c.FirstPoint < 0 {
		return ErrInvalidFirstPoint
	}

	if c.Workers < 1 {
		return ErrInvalidWorkers
	}

	if c.GracePeriod < 0 {
		return ErrInvalidGracePeriod
	}

	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}

	switch c.LogFormat {
	case "", "text", "json":
	default:
		return ErrInvalidLogFormat
	}

	return nil
}

// Points returns the scan point indexes of the run.
func (c *Config) Points() []int {
	points := make([]int, c.ScanPoints)
	for i := range points {
		points[i] = c.FirstPoint + i
	}
	return points
}
