package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of all environment overrides.
const EnvPrefix = "REDUCTREE"

// Env holds the REDUCTREE_* environment overrides. They take precedence
// over the settings file and are overridden by CLI flags.
type Env struct {
	Workers           int           `envconfig:"WORKERS"`
	GracePeriod       time.Duration `envconfig:"GRACE_PERIOD"`
	AbortOnFirstError *bool         `envconfig:"ABORT_ON_FIRST_ERROR"`
	PluginPaths       string        `envconfig:"PLUGIN_PATHS"`
	DBDir             string        `envconfig:"DB_DIR"`
	LogFormat         string        `envconfig:"LOG_FORMAT"`
}

// LoadEnv reads the environment overrides.
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Apply copies the values set in the environment into cfg.
// REDUCTREE_PLUGIN_PATHS is split on PathSeparator and appended to the
// search paths of this invocation.
func (e *Env) Apply(cfg *Config) {
	if e.Workers != 0 {
		cfg.Workers = e.Workers
	}
	if e.GracePeriod != 0 {
		cfg.GracePeriod = e.GracePeriod
	}
	if e.AbortOnFirstError != nil {
		cfg.AbortOnFirstError = *e.AbortOnFirstError
	}
	if e.DBDir != "" {
		cfg.DBDir = e.DBDir
	}
	if e.LogFormat != "" {
		cfg.LogFormat = e.LogFormat
	}
	cfg.PluginPaths = append(cfg.PluginPaths, SplitPaths(e.PluginPaths)...)
}
