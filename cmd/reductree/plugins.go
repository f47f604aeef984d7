package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/reductree/internal/registry"
	"github.com/nao1215/reductree/internal/report"
	"github.com/nao1215/reductree/internal/stage"
)

// NewPluginsCmd creates the plugins command group.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage stage plugin search paths",
		Long: `Plugins are stage classes described by manifest files (*.stage.yaml or
*.stage.hcl). Every directory registered with "plugins add" is remembered in
the settings file and scanned recursively by each command.`,
	}

	cmd.AddCommand(newPluginsListCmd())
	cmd.AddCommand(newPluginsShowCmd())
	cmd.AddCommand(newPluginsAddCmd())
	cmd.AddCommand(newPluginsClearCmd())
	cmd.AddCommand(newPluginsWatchCmd())

	return cmd
}

func newPluginsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered stages",
		Long: `List all registered stage classes with their kind and dimensions.

Examples:
  reductree plugins list
  reductree plugins list --kind processing
  reductree plugins list --markdown -o stages.md`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := readReportFlags(cmd, a.cfg); err != nil {
				return err
			}
			kindName, err := cmd.Flags().GetString("kind")
			if err != nil {
				return err
			}

			reg := a.newRegistry()
			descs := reg.ListAll()
			if kindName != "" {
				kind, err := stage.ParseKind(kindName)
				if err != nil {
					return err
				}
				descs = reg.ListByKind(kind)
			}

			return withReportWriter(cmd, a.cfg, func(w report.Writer) error {
				_, err := w.WriteStages(descs)
				return err
			})
		},
	}
	cmd.Flags().StringP("kind", "k", "", "Only list stages of this kind (base, input, processing, output)")
	reportFlags(cmd)
	return cmd
}

func newPluginsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <display name>",
		Short: "Show one stage with its parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := readReportFlags(cmd, a.cfg); err != nil {
				return err
			}
			// Parameters are part of the verbose listing.
			a.cfg.Verbose = true

			desc, err := a.newRegistry().GetByDisplayName(args[0])
			if err != nil {
				return err
			}
			return withReportWriter(cmd, a.cfg, func(w report.Writer) error {
				_, err := w.WriteStages([]*stage.Descriptor{desc})
				return err
			})
		},
	}
	reportFlags(cmd)
	return cmd
}

func newPluginsAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>...",
		Short: "Register and remember plugin search paths",
		Long: `Add scans each path for stage manifests, registers the stages found and
stores the path in the settings file.

A path whose stages clash with already registered ones is still remembered;
the clash is reported. A path that cannot be scanned is not remembered.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}

			reg := a.newRegistry()
			before := len(reg.ListAll())
			if err := reg.RegisterPath(args...); err != nil {
				if !onlyConflicts(err) {
					return err
				}
				a.logger.Warn("Some stages were not registered.", "error", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Registered %d new stages, settings stored in %s\n",
				len(reg.ListAll())-before, a.settingsPath)
			return nil
		},
	}
}

func newPluginsClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget all remembered plugin search paths",
		Long: `Clear removes every remembered search path from the settings file.
The built-in plugin directory is still scanned afterwards.

This cannot be undone, so --yes is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			yes, err := cmd.Flags().GetBool("yes")
			if err != nil {
				return err
			}
			if !yes {
				return errors.New("refusing to clear plugin paths without --yes")
			}
			if err := a.newRegistry().Clear(true); err != nil {
				return fmt.Errorf("failed to clear plugin paths: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared plugin paths in %s\n", a.settingsPath)
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Confirm clearing")
	return cmd
}

func newPluginsWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload stages when their manifests change",
		Long: `Watch keeps running and rescans a search path whenever manifests below it
are created, changed or removed. Press Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			debounce, err := cmd.Flags().GetDuration("debounce")
			if err != nil {
				return err
			}

			reg := a.newRegistry()
			w, err := registry.NewWatcher(reg, debounce)
			if err != nil {
				return err
			}
			reloaded, err := w.Start()
			if err != nil {
				return err
			}
			defer func() {
				_ = w.Stop() //nolint:errcheck // Best effort cleanup
			}()

			ctx, cancel := a.signalContext()
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %d search paths\n", len(reg.Paths()))
			for {
				select {
				case <-ctx.Done():
					return nil
				case roots, ok := <-reloaded:
					if !ok {
						return nil
					}
					for _, root := range roots {
						fmt.Fprintf(out, "Reloaded %s\n", root)
					}
					fmt.Fprintf(out, "%d stages registered\n", len(reg.ListAll()))
				}
			}
		},
	}
	cmd.Flags().Duration("debounce", registry.DefaultDebounce, "Quiet period before reloading")
	return cmd
}

// onlyConflicts reports whether err consists of display-name conflicts
// only. Paths with conflicts are still registered and remembered.
func onlyConflicts(err error) bool {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return errors.Is(err, registry.ErrConflict)
	}
	for _, e := range joined.Unwrap() {
		if !errors.Is(e, registry.ErrConflict) {
			return false
		}
	}
	return true
}
