package config

import "time"

// File represents the structure of the YAML settings file.
//
// Unset fields leave the corresponding Config value unchanged, so a file
// only needs to name what it overrides.
type File struct {
	// PluginPaths holds the persisted plugin search paths joined by
	// PathSeparator.
	PluginPaths string `yaml:"plugin_paths,omitempty"`

	Workers           int           `yaml:"workers,omitempty"`
	GracePeriod       time.Duration `yaml:"grace_period,omitempty"`
	AbortOnFirstError *bool         `yaml:"abort_on_first_error,omitempty"`
	DBDir             string        `yaml:"db_dir,omitempty"`
	LogFormat         string        `yaml:"log_format,omitempty"`
}

// Apply copies the values set in the file into cfg.
func (f *File) Apply(cfg *Config) {
	if f.Workers != 0 {
		cfg.Workers = f.Workers
	}
	if f.GracePeriod != 0 {
		cfg.GracePeriod = f.GracePeriod
	}
	if f.AbortOnFirstError != nil {
		cfg.AbortOnFirstError = *f.AbortOnFirstError
	}
	if f.DBDir != "" {
		cfg.DBDir = f.DBDir
	}
	if f.LogFormat != "" {
		cfg.LogFormat = f.LogFormat
	}
}
