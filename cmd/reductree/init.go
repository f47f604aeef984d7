package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/reductree/internal/config"
	"github.com/nao1215/reductree/internal/stages"
)

//go:embed templates/reductree.yaml
var settingsTemplate embed.FS

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a settings file and install the built-in stages",
		Long: `Initialize writes a commented settings file and the manifests of the
built-in stages.

The settings file is written to the path given with --config, or to
.reductree.yaml in the current directory. The manifests are written to the
built-in plugin directory (see --plugin-dir), which every command scans.
Existing manifests are kept unless -f is given.

Examples:
  # Create .reductree.yaml and install the built-in stages
  reductree init

  # Create the settings file at a specific path
  reductree init -c ~/.config/reductree/config.yaml

  # Force overwrite existing files
  reductree init -f`,
		RunE: runInitCmd,
	}

	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing settings file and manifests")
	cmd.Flags().Bool("skip-manifests", false,
		"Only write the settings file")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	if outputPath == "" {
		outputPath = config.DefaultConfigFile
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}
	skipManifests, err := cmd.Flags().GetBool("skip-manifests")
	if err != nil {
		return err
	}
	pluginDir, err := cmd.Flags().GetString("plugin-dir")
	if err != nil {
		return err
	}

	// Check if file already exists
	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("settings file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	// Read template from embedded filesystem
	content, err := settingsTemplate.ReadFile("templates/reductree.yaml")
	if err != nil {
		return fmt.Errorf("failed to read settings template: %w", err)
	}

	// Create parent directories if needed
	dir := filepath.Dir(outputPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(outputPath, content, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created settings file: %s\n", outputPath)

	if skipManifests {
		return nil
	}

	written, err := stages.WriteManifests(pluginDir, force)
	if err != nil {
		return fmt.Errorf("failed to install built-in stages: %w", err)
	}
	fmt.Fprintf(out, "Installed %d stage manifests in %s\n", len(written), pluginDir)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  - reductree plugins list")
	fmt.Fprintln(out, "  - reductree tree new tree.yaml \"Synthetic Ramp\" \"Sum\"")
	fmt.Fprintln(out, "  - reductree run tree.yaml --points 10")

	return nil
}
