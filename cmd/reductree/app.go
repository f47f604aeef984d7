package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/reductree/internal/config"
	rlog "github.com/nao1215/reductree/internal/log"
	"github.com/nao1215/reductree/internal/registry"
	"github.com/nao1215/reductree/internal/report"
	"github.com/nao1215/reductree/internal/stages"
	"github.com/nao1215/reductree/internal/tree"
)

// app holds what every command needs: the merged configuration, the
// settings file the plugin paths are persisted in, and the logger.
type app struct {
	cfg          *config.Config
	settingsPath string
	pluginDir    string
	logger       *slog.Logger
}

// newApp builds the configuration from the settings file, the REDUCTREE_*
// environment and the global flags, in that order.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg := config.NewConfig()

	var err error
	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// If user explicitly specified a settings file, error if not found.
	// If no path specified, silently use defaults if no file found.
	settingsPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case settingsPath != "":
		cf, err := config.LoadConfigFile(settingsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings file %s: %w", settingsPath, err)
		}
		cf.Apply(cfg)
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("settings file not found: %s (run \"reductree init -c %s\")", cfg.ConfigFilePath, cfg.ConfigFilePath)
	default:
		settingsPath = config.DefaultSettingsFile()
	}

	env, err := config.LoadEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	env.Apply(cfg)

	cfg.Verbose = getVerboseFlag(cmd)
	if cmd.Flags().Changed("log-format") {
		if cfg.LogFormat, err = cmd.Flags().GetString("log-format"); err != nil {
			return nil, err
		}
	}
	extra, err := cmd.Flags().GetStringArray("plugin-path")
	if err != nil {
		return nil, err
	}
	cfg.PluginPaths = append(cfg.PluginPaths, extra...)

	pluginDir, err := cmd.Flags().GetString("plugin-dir")
	if err != nil {
		return nil, err
	}

	format, err := rlog.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	logger, err := rlog.NewLogger(cmd.ErrOrStderr(), cfg.Verbose, format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	return &app{
		cfg:          cfg,
		settingsPath: settingsPath,
		pluginDir:    pluginDir,
		logger:       logger,
	}, nil
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// newRegistry creates the stage registry. The built-in plugin directory and
// the invocation's extra search paths are scanned on first use next to the
// persisted ones.
func (a *app) newRegistry() *registry.Registry {
	var defaults []string
	if _, err := os.Stat(a.pluginDir); err == nil {
		defaults = append(defaults, a.pluginDir)
	} else {
		a.logger.Debug("Built-in plugin directory is missing, run \"reductree init\".", "dir", a.pluginDir)
	}
	defaults = append(defaults, a.cfg.PluginPaths...)

	return registry.New(
		registry.NewCatalog(stages.Module{}),
		registry.WithLogger(a.logger),
		registry.WithPathStore(config.NewPathStore(a.settingsPath)),
		registry.WithDefaultPaths(defaults...),
	)
}

// loadTree reads a tree file, resolving stages through reg.
func (a *app) loadTree(reg *registry.Registry, path string) (*tree.Tree, error) {
	t := tree.New(reg, tree.WithLogger(a.logger))
	if err := t.Load(path); err != nil {
		return nil, fmt.Errorf("failed to load tree %s: %w", path, err)
	}
	return t, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func (a *app) signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			a.logger.Warn("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// reportFlags adds the output format flags to cmd.
func reportFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
}

// readReportFlags stores the output format flags in cfg.
func readReportFlags(cmd *cobra.Command, cfg *config.Config) error {
	var err error
	if cfg.JSONReport, err = cmd.Flags().GetBool("json"); err != nil {
		return err
	}
	if cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown"); err != nil {
		return err
	}
	if cfg.ReportFile, err = cmd.Flags().GetString("output"); err != nil {
		return err
	}
	if cfg.JSONReport && cfg.MarkdownReport {
		return config.ErrConflictingReportFormats
	}
	return nil
}

// withOutput calls fn with stdout or, when --output was given, the report
// file.
func withOutput(cmd *cobra.Command, cfg *config.Config, fn func(io.Writer) error) error {
	if cfg.ReportFile == "" {
		return fn(cmd.OutOrStdout())
	}

	// Create directories if they don't exist
	dir := filepath.Dir(cfg.ReportFile)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// withReportWriter calls fn with the writer for the requested format and
// destination.
func withReportWriter(cmd *cobra.Command, cfg *config.Config, fn func(report.Writer) error) error {
	return withOutput(cmd, cfg, func(output io.Writer) error {
		var w report.Writer
		switch {
		case cfg.JSONReport:
			w = report.NewJSONWriter(output, report.WithPrettyPrint())
		case cfg.MarkdownReport:
			w = report.NewMarkdownWriter(output)
		default:
			w = report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
		}
		return fn(w)
	})
}
