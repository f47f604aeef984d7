// Package config provides configuration structures and utilities for
// reductree. It defines the run settings, the YAML settings file, the
// REDUCTREE_* environment overrides and the persisted plugin search paths.
package config
