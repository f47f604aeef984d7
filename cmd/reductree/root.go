package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/reductree/internal/config"
)

// NewRootCmd creates the root command for reductree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reductree",
		Short: "Tree-structured data reduction pipelines",
		Long: `reductree runs data reduction pipelines built as trees of stages.

Stages are discovered from manifest files on plugin search paths. A tree
file lists the stages, their parameters and how they are chained. Runs
execute the tree once per scan point on parallel workers and are stored in
a local history database.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Settings file path (default: .reductree.yaml in current directory or the XDG config directory)")
	cmd.PersistentFlags().String("log-format", config.DefaultLogFormat, "Log format: text or json")
	cmd.PersistentFlags().String("plugin-dir", config.DefaultPluginDir(),
		"Directory with the built-in stage manifests")
	cmd.PersistentFlags().StringArrayP("plugin-path", "P", nil,
		"Additional plugin search path for this invocation (repeatable, not persisted)")

	// Add subcommands
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewPluginsCmd())
	cmd.AddCommand(NewTreeCmd())
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
