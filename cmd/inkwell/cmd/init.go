package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/output"
	"github.com/inkwell-ai/inkwell/pkg/version"
)

// newInitCmd creates the init command.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long: `Write a .inkwell.yaml configuration file with the current defaults
into the working directory. An existing file is preserved unless
--force is given, in which case it is backed up first.`,
		Example: `  # Create .inkwell.yaml in the current directory
  inkwell init

  # Replace an existing config (a timestamped backup is kept)
  inkwell init --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration (keeps a backup)")

	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	out.Statusf("🚀", "inkwell %s - writing configuration...", version.Version)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, config.ConfigFileName)

	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warning("Configuration already exists: " + path)
			out.Status("💡", "Use --force to replace it (a backup is kept)")
			return nil
		}
		backup, err := config.BackupConfigFile(path)
		if err != nil {
			return fmt.Errorf("failed to back up existing config: %w", err)
		}
		out.Statusf("📦", "Backed up existing config to %s", backup)
	}

	cfg := config.NewConfig()
	if err := cfg.WriteYAML(path); err != nil {
		return err
	}

	out.Statusf("📝", "Created %s", path)
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Adjust storage paths and providers in "+config.ConfigFileName)
	out.Status("", "  2. Run 'inkwell serve' to start the API")
	return nil
}
